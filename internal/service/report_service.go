package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/sma-observation-api/internal/models"
	"github.com/noah-isme/sma-observation-api/pkg/bucket"
	"github.com/noah-isme/sma-observation-api/pkg/docstore"
	appErrors "github.com/noah-isme/sma-observation-api/pkg/errors"
	"github.com/noah-isme/sma-observation-api/pkg/export"
)

type collectionLister interface {
	List(ctx context.Context, collection string) ([]docstore.Document, error)
}

// ReportConfig tunes the report service.
type ReportConfig struct {
	Tenant   string
	Env      MetricsEnv
	CacheTTL time.Duration
}

// ReportService builds the cross-observation summary and its exports.
type ReportService struct {
	defs   []Definition
	store  collectionLister
	cache  *CacheService
	audit  AuditRecorder
	cfg    ReportConfig
	logger *zap.Logger
	now    func() time.Time
	group  singleflight.Group
}

// NewReportService constructs the report service. cache and audit may be nil.
func NewReportService(defs []Definition, store collectionLister, cache *CacheService, audit AuditRecorder, cfg ReportConfig, logger *zap.Logger) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportService{defs: defs, store: store, cache: cache, audit: audit, cfg: cfg, logger: logger, now: time.Now}
}

func (s *ReportService) cacheKey() string {
	return "reports:summary:" + s.cfg.Tenant
}

// Summary returns the cached summary or computes it. Concurrent misses share
// one computation.
func (s *ReportService) Summary(ctx context.Context) (*models.ReportSummary, error) {
	summary, _, err := s.LoadSummary(ctx)
	return summary, err
}

// LoadSummary is Summary that also reports whether the cache answered.
func (s *ReportService) LoadSummary(ctx context.Context) (*models.ReportSummary, bool, error) {
	var cached models.ReportSummary
	if hit, err := s.cache.Get(ctx, s.cacheKey(), &cached); err == nil && hit {
		return &cached, true, nil
	}

	result, err, _ := s.group.Do(s.cacheKey(), func() (interface{}, error) {
		summary, err := s.build(ctx)
		if err != nil {
			return nil, err
		}
		_ = s.cache.Set(ctx, s.cacheKey(), summary, s.cfg.CacheTTL)
		return summary, nil
	})
	if err != nil {
		return nil, false, err
	}
	summary := *result.(*models.ReportSummary)
	summary.Items = append([]models.ReportItem(nil), summary.Items...)
	return &summary, false, nil
}

func (s *ReportService) build(ctx context.Context) (*models.ReportSummary, error) {
	now := s.now().UTC()
	env := s.cfg.Env
	env.Now = now

	items := make([]models.ReportItem, len(s.defs))
	g, gctx := errgroup.WithContext(ctx)
	for i, def := range s.defs {
		i, def := i, def
		g.Go(func() error {
			docs, err := s.store.List(gctx, docstore.PublicCollection(s.cfg.Tenant, def.Collection))
			if err != nil {
				return appErrors.WrapAs(appErrors.ErrStoreUnavailable, err, fmt.Sprintf("failed to load %s records", def.Type))
			}
			records := make([]models.Record, 0, len(docs))
			for _, doc := range docs {
				records = append(records, models.RecordFromFields(doc.ID, doc.Data))
			}
			sortRecords(records)
			metrics := def.Metrics(records, env)
			status := models.ReportStatusAttention
			if metrics.High {
				status = models.ReportStatusGood
			}
			items[i] = models.ReportItem{
				Type:        def.Type,
				Title:       def.Title,
				Granularity: string(def.Granularity),
				Metrics:     metrics,
				Status:      status,
				Display:     reportDisplay(metrics),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary := &models.ReportSummary{Tenant: s.cfg.Tenant, GeneratedAt: now, Items: items}
	for _, item := range items {
		if item.Status == models.ReportStatusAttention {
			summary.Attention++
		}
	}
	return summary, nil
}

// InvalidationHook drops the cached summary after every observation write.
func (s *ReportService) InvalidationHook() WriteHook {
	return func(ctx context.Context, event WriteEvent) {
		if err := s.cache.Invalidate(context.WithoutCancel(ctx), s.cacheKey()); err != nil {
			s.logger.Warn("report cache invalidation failed", zap.String("observation", string(event.Definition.Type)), zap.Error(err))
		}
	}
}

// ExportResult is a rendered summary document.
type ExportResult struct {
	Content     []byte
	ContentType string
	Filename    string
}

// Export renders the summary as CSV or PDF on behalf of principalID.
func (s *ReportService) Export(ctx context.Context, principalID string, format models.ReportFormat) (*ExportResult, error) {
	exporter, err := export.ForFormat(string(format))
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	summary, err := s.Summary(ctx)
	if err != nil {
		return nil, err
	}

	dataset := export.Dataset{
		Title:       fmt.Sprintf("Observation summary %s", summary.Tenant),
		Headers:     []string{"Observation", "Period", "Records", "Completion", "Value", "Alert", "Status"},
		GeneratedAt: summary.GeneratedAt,
	}
	for _, item := range summary.Items {
		dataset.Rows = append(dataset.Rows, []string{
			string(item.Type),
			item.Granularity,
			strconv.Itoa(item.Metrics.Total),
			bucket.FormatPercent(item.Metrics.CompletionRate),
			item.Display,
			strconv.FormatBool(item.Metrics.Alert),
			string(item.Status),
		})
	}

	content, err := exporter.Render(dataset)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	result := &ExportResult{
		Content:     content,
		ContentType: exporter.ContentType(),
		Filename:    fmt.Sprintf("observation-summary-%s.%s", bucket.DayKey(summary.GeneratedAt), exporter.Extension()),
	}

	if s.audit != nil {
		entry := &models.AuditLog{
			UserID:     principalID,
			Action:     models.AuditActionReportExported,
			Resource:   "report",
			ResourceID: result.Filename,
			Values:     map[string]interface{}{"format": exporter.Extension(), "items": len(summary.Items)},
		}
		if err := s.audit.Record(ctx, entry); err != nil {
			s.logger.Warn("failed to record export audit", zap.Error(err))
		}
	}
	return result, nil
}

func reportDisplay(m models.ObservationMetrics) string {
	switch m.Type {
	case models.ObservationAbsence:
		return bucket.FormatPercent(m.CompletionRate)
	case models.ObservationResults, models.ObservationReadiness, models.ObservationComplaints:
		return bucket.FormatPercent(m.Value)
	case models.ObservationGap:
		if m.High {
			return "positive"
		}
		return "negative"
	default:
		return strconv.FormatFloat(m.Value, 'f', -1, 64)
	}
}
