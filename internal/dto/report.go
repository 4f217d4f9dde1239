package dto

import "github.com/noah-isme/sma-observation-api/internal/models"

// ExportQuery captures GET /reports/export query parameters.
type ExportQuery struct {
	Format models.ReportFormat `form:"format"`
}
