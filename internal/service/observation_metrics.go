package service

import (
	"encoding/json"
	"math"
	"time"

	"github.com/noah-isme/sma-observation-api/internal/models"
	"github.com/noah-isme/sma-observation-api/pkg/bucket"
)

// MetricsEnv carries the school constants metric functions are evaluated against.
type MetricsEnv struct {
	TotalStudents         int
	AbsenceThreshold      float64
	BehavioralWeeklyLimit int
	Now                   time.Time
}

// ComputeCompletionRate returns the share of history matching predicate as a
// percentage. An empty history yields 0.
func ComputeCompletionRate(history []models.Record, predicate func(models.Record) bool) float64 {
	matched := 0
	for _, record := range history {
		if predicate(record) {
			matched++
		}
	}
	denominator := len(history)
	if denominator < 1 {
		denominator = 1
	}
	return float64(matched) / float64(denominator) * 100
}

// ComputeThresholdAlert reports whether value exceeds fraction of total.
func ComputeThresholdAlert(value, total, fraction float64) bool {
	return value > total*fraction
}

// ProgressPercent is the relative improvement from pre to post. A zero
// baseline counts as full progress when anything was gained.
func ProgressPercent(pre, post float64) float64 {
	if pre == 0 {
		if post > 0 {
			return 100
		}
		return 0
	}
	return (post - pre) / pre * 100
}

// ReadinessOverall averages task progress into a percentage.
func ReadinessOverall(tasks []models.ReadinessTask) float64 {
	if len(tasks) == 0 {
		return 0
	}
	var sum float64
	for _, task := range tasks {
		sum += task.Progress
	}
	return sum / (float64(len(tasks)) * 100) * 100
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// decodeInto reads a record payload into a typed schema, ignoring unknown fields.
func decodeInto(payload map[string]interface{}, dest interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

func latest(history []models.Record) (models.Record, bool) {
	if len(history) == 0 {
		return models.Record{}, false
	}
	return history[0], true
}

func absenceMetrics(history []models.Record, env MetricsEnv) models.ObservationMetrics {
	m := models.ObservationMetrics{
		Type:           models.ObservationAbsence,
		Total:          len(history),
		CompletionRate: ComputeCompletionRate(history, absenceComplete),
		Target:         float64(env.TotalStudents) * env.AbsenceThreshold,
	}
	var confirmedThisMonth int
	month := bucket.MonthKey(env.Now)
	for _, record := range history {
		var p models.AbsencePayload
		if decodeInto(record.Payload, &p) == nil && p.Confirmed && len(record.BucketKey) >= 7 && record.BucketKey[:7] == month {
			confirmedThisMonth++
		}
	}
	workingDays := bucket.WorkingDaysSoFar(env.Now)
	var absenceRate float64
	if rec, ok := latest(history); ok {
		var p models.AbsencePayload
		if decodeInto(rec.Payload, &p) == nil {
			m.Value = float64(p.AbsentStudents)
		}
	}
	if env.TotalStudents > 0 {
		absenceRate = m.Value / float64(env.TotalStudents) * 100
	}
	m.Alert = ComputeThresholdAlert(m.Value, float64(env.TotalStudents), env.AbsenceThreshold)
	m.High = m.CompletionRate >= 90
	m.Details = map[string]interface{}{
		"absenceRate":        round1(absenceRate),
		"confirmedThisMonth": confirmedThisMonth,
		"workingDaysSoFar":   workingDays,
		"thresholdStudents":  m.Target,
	}
	return m
}

func absenceComplete(record models.Record) bool {
	var p models.AbsencePayload
	if err := decodeInto(record.Payload, &p); err != nil {
		return false
	}
	return p.Confirmed || p.TechnicalIssue
}

func attendanceMetrics(history []models.Record, _ MetricsEnv) models.ObservationMetrics {
	counts := map[models.ApprovalStatus]int{}
	for _, record := range history {
		counts[record.Status()]++
	}
	approved := counts[models.ApprovalApproved]
	return models.ObservationMetrics{
		Type:           models.ObservationAttendance100,
		Total:          len(history),
		CompletionRate: ComputeCompletionRate(history, attendanceComplete),
		Value:          float64(approved),
		High:           approved > 0,
		Details: map[string]interface{}{
			"pending":  counts[models.ApprovalPending],
			"approved": approved,
			"rejected": counts[models.ApprovalRejected],
		},
	}
}

func attendanceComplete(record models.Record) bool {
	return record.Status() == models.ApprovalApproved
}

func behavioralMetrics(history []models.Record, env MetricsEnv) models.ObservationMetrics {
	week := bucket.Recent(bucket.Day, env.Now, 7)
	from, to := week[len(week)-1], week[0]
	var lastSeven, total int
	for _, record := range history {
		var p models.BehavioralPayload
		if decodeInto(record.Payload, &p) != nil {
			continue
		}
		total += p.DailyIssueCount
		if bucket.Within(record.BucketKey, from, to) {
			lastSeven += p.DailyIssueCount
		}
	}
	limit := float64(env.BehavioralWeeklyLimit)
	return models.ObservationMetrics{
		Type:           models.ObservationBehavioral,
		Total:          len(history),
		CompletionRate: ComputeCompletionRate(history, behavioralComplete),
		Value:          float64(lastSeven),
		Target:         limit,
		Alert:          float64(lastSeven) >= limit,
		High:           float64(lastSeven) < limit,
		Details: map[string]interface{}{
			"totalIssues": total,
			"from":        from,
			"to":          to,
		},
	}
}

func behavioralComplete(record models.Record) bool {
	var p models.BehavioralPayload
	if err := decodeInto(record.Payload, &p); err != nil {
		return false
	}
	for _, incident := range p.Incidents {
		if incident.ActionTaken == "" {
			return false
		}
	}
	return true
}

func gapMetrics(history []models.Record, _ MetricsEnv) models.ObservationMetrics {
	m := models.ObservationMetrics{
		Type:           models.ObservationGap,
		Total:          len(history),
		CompletionRate: ComputeCompletionRate(history, gapComplete),
	}
	if rec, ok := latest(history); ok {
		var p models.GapPayload
		if decodeInto(rec.Payload, &p) == nil && p.IsPositive {
			m.Value = 1
			m.High = true
		}
	}
	return m
}

func gapComplete(record models.Record) bool {
	var p models.GapPayload
	if err := decodeInto(record.Payload, &p); err != nil {
		return false
	}
	return p.PlanReady && p.IsDocumented
}

func resultsMetrics(history []models.Record, _ MetricsEnv) models.ObservationMetrics {
	m := models.ObservationMetrics{
		Type:           models.ObservationResults,
		Total:          len(history),
		CompletionRate: ComputeCompletionRate(history, resultsComplete),
		Target:         10,
	}
	if rec, ok := latest(history); ok {
		var p models.ResultsPayload
		if decodeInto(rec.Payload, &p) == nil && len(p.Materials) > 0 {
			perMaterial := make(map[string]interface{}, len(p.Materials))
			var sum float64
			for _, material := range p.Materials {
				progress := ProgressPercent(material.PreTest, material.PostTest)
				perMaterial[material.Name] = round1(progress)
				sum += progress
			}
			m.Value = round1(sum / float64(len(p.Materials)))
			m.Details = map[string]interface{}{"materials": perMaterial}
		}
	}
	m.High = m.Value >= m.Target
	return m
}

func resultsComplete(record models.Record) bool {
	var p models.ResultsPayload
	if err := decodeInto(record.Payload, &p); err != nil || len(p.Materials) == 0 {
		return false
	}
	for _, material := range p.Materials {
		if material.PostTest <= 0 {
			return false
		}
	}
	return true
}

func readinessMetrics(history []models.Record, _ MetricsEnv) models.ObservationMetrics {
	m := models.ObservationMetrics{
		Type:           models.ObservationReadiness,
		Total:          len(history),
		CompletionRate: ComputeCompletionRate(history, readinessComplete),
		Target:         70,
	}
	if rec, ok := latest(history); ok {
		var p models.ReadinessPayload
		if decodeInto(rec.Payload, &p) == nil {
			m.Value = round1(ReadinessOverall(p.Tasks))
		}
	}
	m.High = m.Value >= m.Target
	return m
}

func readinessComplete(record models.Record) bool {
	var p models.ReadinessPayload
	if err := decodeInto(record.Payload, &p); err != nil {
		return false
	}
	return ReadinessOverall(p.Tasks) >= 70
}

func proficiencyMetrics(history []models.Record, _ MetricsEnv) models.ObservationMetrics {
	m := models.ObservationMetrics{
		Type:           models.ObservationProficiency,
		Total:          len(history),
		CompletionRate: ComputeCompletionRate(history, proficiencyComplete),
		Target:         2,
	}
	if rec, ok := latest(history); ok {
		var p models.ProficiencyPayload
		if decodeInto(rec.Payload, &p) == nil {
			met := 0
			for _, material := range p.Materials {
				if material.Rate >= material.Target {
					met++
				}
			}
			m.Value = float64(met)
			m.Details = map[string]interface{}{"materials": len(p.Materials)}
		}
	}
	m.High = m.Value >= m.Target
	return m
}

func proficiencyComplete(record models.Record) bool {
	var p models.ProficiencyPayload
	if err := decodeInto(record.Payload, &p); err != nil || len(p.Materials) == 0 {
		return false
	}
	for _, material := range p.Materials {
		if material.Rate < material.Target {
			return false
		}
	}
	return true
}

func complaintsMetrics(history []models.Record, _ MetricsEnv) models.ObservationMetrics {
	var raised, closed, open int
	for _, record := range history {
		var p models.ComplaintsPayload
		if decodeInto(record.Payload, &p) != nil {
			continue
		}
		raised += p.Raised
		closed += p.Closed
		open += p.Open
	}
	var closure float64
	if raised > 0 {
		closure = float64(closed) / float64(raised) * 100
	}
	return models.ObservationMetrics{
		Type:           models.ObservationComplaints,
		Total:          len(history),
		CompletionRate: ComputeCompletionRate(history, complaintsComplete),
		Value:          round1(closure),
		Target:         80,
		High:           closure >= 80,
		Details: map[string]interface{}{
			"raised": raised,
			"open":   open,
			"closed": closed,
		},
	}
}

func complaintsComplete(record models.Record) bool {
	var p models.ComplaintsPayload
	if err := decodeInto(record.Payload, &p); err != nil {
		return false
	}
	return p.Open == 0
}
