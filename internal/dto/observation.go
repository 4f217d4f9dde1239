package dto

import "github.com/noah-isme/sma-observation-api/internal/models"

// ApprovalView describes the request workflow of an observation type.
type ApprovalView struct {
	Requesters []models.Role `json:"requesters"`
	Approver   models.Role   `json:"approver"`
}

// DefinitionView is one catalog entry.
type DefinitionView struct {
	Type        models.ObservationType `json:"type"`
	Title       string                 `json:"title"`
	Screen      models.Screen          `json:"screen"`
	Granularity string                 `json:"granularity"`
	CurrentKey  string                 `json:"currentBucket"`
	Writers     []models.Role          `json:"writers,omitempty"`
	Approval    *ApprovalView          `json:"approval,omitempty"`
	EntryField  string                 `json:"entryField,omitempty"`
	Defaults    map[string]interface{} `json:"defaults,omitempty"`
}

// HistoryResponse carries the live history of one observation type.
type HistoryResponse struct {
	Type    models.ObservationType    `json:"type"`
	Loaded  bool                      `json:"loaded"`
	Records []models.Record           `json:"records"`
	Metrics models.ObservationMetrics `json:"metrics"`
}

// AppendEntryRequest captures POST .../entries payload.
type AppendEntryRequest struct {
	Entry map[string]interface{} `json:"entry" validate:"required"`
}
