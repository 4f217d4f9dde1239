package models

import (
	"errors"
	"strings"
)

// Classes lists the grades a behavioral incident may be filed against.
var Classes = []string{"الصف الأول", "الصف الثاني", "الصف الثالث", "الصف الرابع", "الصف الخامس", "الصف السادس"}

// BehavioralActions lists the actions a student guide may record.
var BehavioralActions = []string{
	"توجيه وإرشاد فردي",
	"استدعاء ولي الأمر",
	"تحويل إلى المدير",
	"عقوبة انضباطية بسيطة",
	"إشراك في برنامج سلوكي",
	"إجراء آخر",
}

// AbsencePayload is the daily absence fixing record.
type AbsencePayload struct {
	Confirmed      bool   `json:"confirmed"`
	TechnicalIssue bool   `json:"technicalIssue"`
	AbsentStudents int    `json:"absentStudents" validate:"gte=0"`
	IssueDetails   string `json:"issueDetails" validate:"max=1000"`
}

// Validate enforces that a day is either confirmed or flagged, never both.
func (p AbsencePayload) Validate() error {
	if p.Confirmed && p.TechnicalIssue {
		return errors.New("confirmed and technicalIssue are mutually exclusive")
	}
	return nil
}

// Attendance100Payload accompanies a full-attendance approval request.
type Attendance100Payload struct {
	Note string `json:"note" validate:"max=500"`
}

// BehavioralIncident is one logged incident inside a day record.
type BehavioralIncident struct {
	Class       string `json:"class" validate:"required"`
	StudentName string `json:"studentName" validate:"required,max=200"`
	ActionTaken string `json:"actionTaken"`
	IssueCount  int    `json:"issueCount,omitempty" validate:"gte=0"`
}

// BehavioralPayload is the daily behavioral log.
type BehavioralPayload struct {
	Incidents       []BehavioralIncident `json:"incidents" validate:"dive"`
	DailyIssueCount int                  `json:"dailyIssueCount" validate:"gte=0"`
}

// Validate checks incidents against the fixed class and action lists.
func (p BehavioralPayload) Validate() error {
	for _, incident := range p.Incidents {
		if !contains(Classes, incident.Class) {
			return errors.New("unknown class " + incident.Class)
		}
		if incident.ActionTaken != "" && !contains(BehavioralActions, incident.ActionTaken) {
			return errors.New("unknown action " + incident.ActionTaken)
		}
	}
	return nil
}

// GapPayload is the monthly gap analysis record.
type GapPayload struct {
	IsPositive    bool   `json:"isPositive"`
	PlanReady     bool   `json:"planReady"`
	IsDocumented  bool   `json:"isDocumented"`
	PlanDetails   string `json:"planDetails" validate:"max=4000"`
	Documentation string `json:"documentation" validate:"max=4000"`
}

// MaterialScore is the pre/post test pair of one subject.
type MaterialScore struct {
	Name     string  `json:"name" validate:"required"`
	PreTest  float64 `json:"preTest" validate:"gte=0,lte=100"`
	PostTest float64 `json:"postTest" validate:"gte=0,lte=100"`
}

// ResultsPayload is the monthly school results record.
type ResultsPayload struct {
	Materials    []MaterialScore `json:"materials" validate:"dive"`
	MonthlyNotes string          `json:"monthlyNotes" validate:"max=4000"`
}

// ReadinessTask is one improvement plan task.
type ReadinessTask struct {
	ID       int     `json:"id" validate:"gte=1"`
	Name     string  `json:"name" validate:"required"`
	Target   float64 `json:"target" validate:"gte=0,lte=100"`
	Progress float64 `json:"progress" validate:"gte=0,lte=100"`
}

// ReadinessPayload is the monthly readiness level record.
type ReadinessPayload struct {
	Tasks []ReadinessTask `json:"tasks" validate:"dive"`
}

// MaterialMastery is the mastery rate of one subject against its target.
type MaterialMastery struct {
	Name   string  `json:"name" validate:"required"`
	Rate   float64 `json:"rate" validate:"gte=0,lte=100"`
	Target float64 `json:"target" validate:"gte=0,lte=100"`
	Notes  string  `json:"notes" validate:"max=1000"`
}

// ProficiencyPayload is the monthly mastery ratio record.
type ProficiencyPayload struct {
	Materials    []MaterialMastery `json:"materials" validate:"dive"`
	RemedialPlan string            `json:"remedialPlan" validate:"max=4000"`
}

// ComplaintsPayload is the weekly complaints tally.
type ComplaintsPayload struct {
	Raised int `json:"raised" validate:"gte=0"`
	Open   int `json:"open" validate:"gte=0"`
	Closed int `json:"closed" validate:"gte=0"`
}

// Validate keeps open and closed complaints within the raised total.
func (p ComplaintsPayload) Validate() error {
	if p.Open+p.Closed > p.Raised {
		return errors.New("open and closed complaints exceed raised")
	}
	return nil
}

// DefaultResultsMaterials pre-fills a new results record.
func DefaultResultsMaterials() []MaterialScore {
	return []MaterialScore{
		{Name: "اللغة العربية"},
		{Name: "الرياضيات"},
		{Name: "العلوم"},
	}
}

// DefaultReadinessTasks pre-fills a new readiness record.
func DefaultReadinessTasks() []ReadinessTask {
	return []ReadinessTask{
		{ID: 1, Name: "تجهيز قاعات الصف الأول وتحسين البيئة التعليمية", Target: 100},
		{ID: 2, Name: "عقد ورش تدريبية للمعلمين على استراتيجيات التهيئة", Target: 100},
		{ID: 3, Name: "توزيع خطط التحسين على المعلمين وتحديد المسؤوليات", Target: 100},
		{ID: 4, Name: "إطلاق مسابقة \"فصول الانطلاق المميزة\"", Target: 100},
	}
}

// DefaultProficiencyMaterials pre-fills a new proficiency record.
func DefaultProficiencyMaterials() []MaterialMastery {
	return []MaterialMastery{
		{Name: "اللغة العربية", Rate: 41.6, Target: 43},
		{Name: "الرياضيات", Rate: 54.1, Target: 49},
		{Name: "العلوم", Rate: 41.3, Target: 46},
	}
}

func contains(values []string, want string) bool {
	want = strings.TrimSpace(want)
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
