package models

import "time"

// ReportFormat enumerates supported export formats.
type ReportFormat string

const (
	ReportFormatCSV ReportFormat = "csv"
	ReportFormatPDF ReportFormat = "pdf"
)

// ReportStatus classifies one summary line.
type ReportStatus string

const (
	ReportStatusGood      ReportStatus = "good"
	ReportStatusAttention ReportStatus = "attention"
)

// ReportItem is the summary line of one observation type.
type ReportItem struct {
	Type        ObservationType    `json:"type"`
	Title       string             `json:"title"`
	Granularity string             `json:"granularity"`
	Metrics     ObservationMetrics `json:"metrics"`
	Status      ReportStatus       `json:"status"`
	Display     string             `json:"display"`
}

// ReportSummary aggregates every observation type of a tenant.
type ReportSummary struct {
	Tenant      string       `json:"tenant"`
	GeneratedAt time.Time    `json:"generatedAt"`
	Items       []ReportItem `json:"items"`
	Attention   int          `json:"attention"`
}
