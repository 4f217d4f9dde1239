package models

import "time"

// AuditAction constants represent actions to be logged.
const (
	AuditActionRoleAssign      = "ROLE_ASSIGN"
	AuditActionRecordUpsert    = "RECORD_UPSERT"
	AuditActionApprovalRequest = "APPROVAL_REQUEST"
	AuditActionApprovalDecide  = "APPROVAL_DECIDE"
	AuditActionEmailVerified   = "EMAIL_VERIFIED"
	AuditActionReportExported  = "REPORT_EXPORTED"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string                 `json:"id"`
	UserID     string                 `json:"userId"`
	Action     string                 `json:"action"`
	Resource   string                 `json:"resource"`
	ResourceID string                 `json:"resourceId,omitempty"`
	Values     map[string]interface{} `json:"values,omitempty"`
	CreatedAt  time.Time              `json:"createdAt"`
}
