package models

import (
	"time"
)

// ObservationType identifies one of the observation screens.
type ObservationType string

const (
	ObservationAbsence       ObservationType = "absence"
	ObservationAttendance100 ObservationType = "attendance-100"
	ObservationBehavioral    ObservationType = "behavioral"
	ObservationGap           ObservationType = "gap"
	ObservationResults       ObservationType = "results"
	ObservationReadiness     ObservationType = "readiness"
	ObservationProficiency   ObservationType = "proficiency"
	ObservationComplaints    ObservationType = "complaints"
)

// ApprovalStatus enumerates approval request lifecycle.
type ApprovalStatus string

const (
	// ApprovalPending indicates the request awaits a decision.
	ApprovalPending ApprovalStatus = "pending"
	// ApprovalApproved indicates the approver accepted the request.
	ApprovalApproved ApprovalStatus = "approved"
	// ApprovalRejected indicates the approver refused the request.
	ApprovalRejected ApprovalStatus = "rejected"
)

// Terminal reports whether no further transition is allowed.
func (s ApprovalStatus) Terminal() bool {
	return s == ApprovalApproved || s == ApprovalRejected
}

// Decision is the approver's verdict on a pending request.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Status maps the decision to its terminal status.
func (d Decision) Status() (ApprovalStatus, bool) {
	switch d {
	case DecisionApprove, Decision(ApprovalApproved):
		return ApprovalApproved, true
	case DecisionReject, Decision(ApprovalRejected):
		return ApprovalRejected, true
	}
	return "", false
}

// Stored field names that are managed by the record manager and never part of a payload.
const (
	FieldBucketKey     = "bucketKey"
	FieldAuthorID      = "authorId"
	FieldWrittenAt     = "writtenAt"
	FieldRequestedBy   = "requestedBy"
	FieldRequestedAt   = "requestedAt"
	FieldRequestStatus = "requestStatus"
	FieldApproverID    = "approverId"
	FieldApprovedAt    = "approvedAt"
)

var reservedFields = map[string]struct{}{
	FieldBucketKey:     {},
	FieldAuthorID:      {},
	FieldWrittenAt:     {},
	FieldRequestedBy:   {},
	FieldRequestedAt:   {},
	FieldRequestStatus: {},
	FieldApproverID:    {},
	FieldApprovedAt:    {},
}

// IsReservedField reports whether name is managed by the record manager.
func IsReservedField(name string) bool {
	_, ok := reservedFields[name]
	return ok
}

// Approval is the dual-party sub-record of an approval request.
type Approval struct {
	RequestedBy string         `json:"requestedBy"`
	RequestedAt time.Time      `json:"requestedAt"`
	Status      ApprovalStatus `json:"requestStatus"`
	ApproverID  string         `json:"approverId,omitempty"`
	ApprovedAt  *time.Time     `json:"approvedAt,omitempty"`
}

// Record is one observation for one bucket.
type Record struct {
	ID        string                 `json:"id"`
	BucketKey string                 `json:"bucketKey"`
	Payload   map[string]interface{} `json:"payload"`
	AuthorID  string                 `json:"authorId"`
	WrittenAt time.Time              `json:"writtenAt"`
	Approval  *Approval              `json:"approval,omitempty"`
	// Display is a human readable rendering of the bucket, e.g. the Hijri date of a day record.
	Display string `json:"display,omitempty"`
}

// Status returns the approval status, or an empty string for plain records.
func (r Record) Status() ApprovalStatus {
	if r.Approval == nil {
		return ""
	}
	return r.Approval.Status
}

// Fields flattens the record into its stored document shape.
func (r Record) Fields() map[string]interface{} {
	fields := make(map[string]interface{}, len(r.Payload)+8)
	for k, v := range r.Payload {
		fields[k] = v
	}
	fields[FieldBucketKey] = r.BucketKey
	fields[FieldAuthorID] = r.AuthorID
	fields[FieldWrittenAt] = r.WrittenAt.UTC().Format(time.RFC3339Nano)
	if r.Approval != nil {
		fields[FieldRequestedBy] = r.Approval.RequestedBy
		fields[FieldRequestedAt] = r.Approval.RequestedAt.UTC().Format(time.RFC3339Nano)
		fields[FieldRequestStatus] = string(r.Approval.Status)
		if r.Approval.ApproverID != "" {
			fields[FieldApproverID] = r.Approval.ApproverID
		}
		if r.Approval.ApprovedAt != nil {
			fields[FieldApprovedAt] = r.Approval.ApprovedAt.UTC().Format(time.RFC3339Nano)
		}
	}
	return fields
}

// RecordFromFields rebuilds a record from its stored document shape.
func RecordFromFields(id string, fields map[string]interface{}) Record {
	r := Record{ID: id, Payload: map[string]interface{}{}}
	for k, v := range fields {
		if !IsReservedField(k) {
			r.Payload[k] = v
		}
	}
	r.BucketKey = stringField(fields, FieldBucketKey)
	r.AuthorID = stringField(fields, FieldAuthorID)
	r.WrittenAt = timeField(fields, FieldWrittenAt)

	if status := stringField(fields, FieldRequestStatus); status != "" {
		approval := &Approval{
			RequestedBy: stringField(fields, FieldRequestedBy),
			RequestedAt: timeField(fields, FieldRequestedAt),
			Status:      ApprovalStatus(status),
			ApproverID:  stringField(fields, FieldApproverID),
		}
		if at := timeField(fields, FieldApprovedAt); !at.IsZero() {
			approval.ApprovedAt = &at
		}
		r.Approval = approval
	}
	return r
}

func stringField(fields map[string]interface{}, key string) string {
	if v, ok := fields[key].(string); ok {
		return v
	}
	return ""
}

func timeField(fields map[string]interface{}, key string) time.Time {
	raw, ok := fields[key].(string)
	if !ok || raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Actor is the caller of a record write.
type Actor struct {
	PrincipalID string `json:"principalId"`
	Role        Role   `json:"role"`
	Verified    bool   `json:"verified"`
}

// ObservationMetrics summarises a history for dashboards and reports.
type ObservationMetrics struct {
	Type           ObservationType        `json:"type"`
	Total          int                    `json:"total"`
	CompletionRate float64                `json:"completionRate"`
	Value          float64                `json:"value"`
	Target         float64                `json:"target,omitempty"`
	Alert          bool                   `json:"alert"`
	High           bool                   `json:"high"`
	Details        map[string]interface{} `json:"details,omitempty"`
}

// UpsertRecordRequest is the body of a bucket upsert.
type UpsertRecordRequest struct {
	Fields map[string]interface{} `json:"fields" validate:"required"`
}

// ApprovalRequest opens an approval request for a bucket.
type ApprovalRequest struct {
	BucketKey string                 `json:"bucketKey" validate:"required"`
	Fields    map[string]interface{} `json:"fields"`
}

// DecisionRequest carries an approver's verdict.
type DecisionRequest struct {
	Decision Decision `json:"decision" validate:"required,oneof=approve reject approved rejected"`
}
