package service

import (
	"github.com/noah-isme/sma-observation-api/internal/models"
	"github.com/noah-isme/sma-observation-api/pkg/bucket"
)

// ApprovalPolicy turns a definition into a dual-party request workflow.
type ApprovalPolicy struct {
	Requesters []models.Role
	Approver   models.Role
	// AllowRetryAfterReject lets a requester open a new request for a bucket
	// whose previous request was rejected.
	AllowRetryAfterReject bool
}

// EntryPolicy describes an append-only list kept inside a bucket record.
type EntryPolicy struct {
	ListField  string
	CountField string
	Schema     func() interface{}
	// Weight returns how much one stored entry contributes to CountField.
	Weight func(entry map[string]interface{}) int
}

// Definition configures one observation type on the generic record manager.
type Definition struct {
	Type        models.ObservationType
	Title       string
	Collection  string
	Screen      models.Screen
	Granularity bucket.Granularity
	// Schema returns a pointer to a fresh payload struct used for validation.
	Schema   func() interface{}
	Writers  []models.Role
	Approval *ApprovalPolicy
	Entries  *EntryPolicy
	Complete func(models.Record) bool
	Metrics  func(history []models.Record, env MetricsEnv) models.ObservationMetrics
	Defaults func() map[string]interface{}
}

// CanWrite reports whether role may upsert records of this type.
func (d Definition) CanWrite(role models.Role) bool {
	return hasRole(d.Writers, role)
}

// CanRequest reports whether role may open approval requests.
func (d Definition) CanRequest(role models.Role) bool {
	return d.Approval != nil && hasRole(d.Approval.Requesters, role)
}

// InitialFields returns the normalized defaults a new record starts from, or
// nil when the type has none.
func (d Definition) InitialFields() map[string]interface{} {
	if d.Defaults == nil {
		return nil
	}
	fields, err := normalizeFields(d.Defaults())
	if err != nil {
		return nil
	}
	return fields
}

func hasRole(roles []models.Role, role models.Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// Catalog returns the eight observation definitions in dashboard order.
func Catalog() []Definition {
	return []Definition{
		{
			Type:        models.ObservationAbsence,
			Title:       "تثبيت الغياب",
			Collection:  "absence_fixing",
			Screen:      models.ScreenAbsence,
			Granularity: bucket.Day,
			Schema:      func() interface{} { return &models.AbsencePayload{} },
			Writers:     []models.Role{models.RoleDeputy, models.RoleManager},
			Complete:    absenceComplete,
			Metrics:     absenceMetrics,
		},
		{
			Type:        models.ObservationAttendance100,
			Title:       "الحضور 100%",
			Collection:  "attendance_100",
			Screen:      models.ScreenAttendance100,
			Granularity: bucket.Day,
			Schema:      func() interface{} { return &models.Attendance100Payload{} },
			Approval: &ApprovalPolicy{
				Requesters: []models.Role{models.RoleDeputy},
				Approver:   models.RoleManager,
			},
			Complete: attendanceComplete,
			Metrics:  attendanceMetrics,
		},
		{
			Type:        models.ObservationBehavioral,
			Title:       "المشكلات السلوكية",
			Collection:  "behavioral_issues",
			Screen:      models.ScreenBehavioral,
			Granularity: bucket.Day,
			Schema:      func() interface{} { return &models.BehavioralPayload{} },
			Writers:     []models.Role{models.RoleStudentGuide, models.RoleManager},
			Entries: &EntryPolicy{
				ListField:  "incidents",
				CountField: "dailyIssueCount",
				Schema:     func() interface{} { return &models.BehavioralIncident{} },
				Weight:     incidentWeight,
			},
			Complete: behavioralComplete,
			Metrics:  behavioralMetrics,
		},
		{
			Type:        models.ObservationGap,
			Title:       "الفاقد التعليمي",
			Collection:  "the_gap",
			Screen:      models.ScreenGap,
			Granularity: bucket.Month,
			Schema:      func() interface{} { return &models.GapPayload{} },
			Writers:     []models.Role{models.RoleManager},
			Complete:    gapComplete,
			Metrics:     gapMetrics,
		},
		{
			Type:        models.ObservationResults,
			Title:       "نتائج المدرسة",
			Collection:  "school_results",
			Screen:      models.ScreenResults,
			Granularity: bucket.Month,
			Schema:      func() interface{} { return &models.ResultsPayload{} },
			Writers:     []models.Role{models.RoleManager},
			Complete:    resultsComplete,
			Metrics:     resultsMetrics,
			Defaults: func() map[string]interface{} {
				return map[string]interface{}{"materials": models.DefaultResultsMaterials()}
			},
		},
		{
			Type:        models.ObservationReadiness,
			Title:       "مستوى الجاهزية",
			Collection:  "readiness_level",
			Screen:      models.ScreenReadiness,
			Granularity: bucket.Month,
			Schema:      func() interface{} { return &models.ReadinessPayload{} },
			Writers:     []models.Role{models.RoleManager},
			Complete:    readinessComplete,
			Metrics:     readinessMetrics,
			Defaults: func() map[string]interface{} {
				return map[string]interface{}{"tasks": models.DefaultReadinessTasks()}
			},
		},
		{
			Type:        models.ObservationProficiency,
			Title:       "نسبة الإتقان",
			Collection:  "mastery_ratio",
			Screen:      models.ScreenProficiency,
			Granularity: bucket.Month,
			Schema:      func() interface{} { return &models.ProficiencyPayload{} },
			Writers:     []models.Role{models.RoleManager},
			Complete:    proficiencyComplete,
			Metrics:     proficiencyMetrics,
			Defaults: func() map[string]interface{} {
				return map[string]interface{}{"materials": models.DefaultProficiencyMaterials()}
			},
		},
		{
			Type:        models.ObservationComplaints,
			Title:       "الشكاوى",
			Collection:  "complaints",
			Screen:      models.ScreenComplaints,
			Granularity: bucket.Week,
			Schema:      func() interface{} { return &models.ComplaintsPayload{} },
			Writers:     []models.Role{models.RoleManager},
			Complete:    complaintsComplete,
			Metrics:     complaintsMetrics,
		},
	}
}

// LookupDefinition finds the definition for t in defs.
func LookupDefinition(defs []Definition, t models.ObservationType) (Definition, bool) {
	for _, def := range defs {
		if def.Type == t {
			return def, true
		}
	}
	return Definition{}, false
}

func incidentWeight(entry map[string]interface{}) int {
	switch v := entry["issueCount"].(type) {
	case float64:
		if v > 0 {
			return int(v)
		}
	case int:
		if v > 0 {
			return v
		}
	}
	return 1
}
