package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-observation-api/internal/dto"
	"github.com/noah-isme/sma-observation-api/internal/middleware"
	"github.com/noah-isme/sma-observation-api/internal/models"
	"github.com/noah-isme/sma-observation-api/internal/service"
	appErrors "github.com/noah-isme/sma-observation-api/pkg/errors"
	"github.com/noah-isme/sma-observation-api/pkg/response"
)

type reportProvider interface {
	LoadSummary(ctx context.Context) (*models.ReportSummary, bool, error)
	Export(ctx context.Context, principalID string, format models.ReportFormat) (*service.ExportResult, error)
}

// ReportHandler serves the cross-observation summary and its exports.
type ReportHandler struct {
	reports reportProvider
}

// NewReportHandler constructs a report handler.
func NewReportHandler(reports reportProvider) *ReportHandler {
	return &ReportHandler{reports: reports}
}

// Summary godoc
// @Summary Observation summary
// @Description Metrics and status of every observation type. meta.cache_hit tells whether the cache answered.
// @Tags Reports
// @Produce json
// @Param X-Client-Session header string true "Client session id"
// @Success 200 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /reports/summary [get]
func (h *ReportHandler) Summary(c *gin.Context) {
	summary, hit, err := h.reports.LoadSummary(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, hit)
	response.OK(c, summary, middleware.ResponseMeta(c))
}

// Export godoc
// @Summary Export summary
// @Description Download the summary as CSV or PDF
// @Tags Reports
// @Produce text/csv
// @Produce application/pdf
// @Param X-Client-Session header string true "Client session id"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /reports/export [get]
func (h *ReportHandler) Export(c *gin.Context) {
	session := sessionFromContext(c)
	if session == nil {
		return
	}
	var query dto.ExportQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid export query"))
		return
	}
	if query.Format == "" {
		query.Format = models.ReportFormatCSV
	}

	result, err := h.reports.Export(c.Request.Context(), session.Actor().PrincipalID, query.Format)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, result.ContentType, result.Content)
}
