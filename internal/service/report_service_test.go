package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-observation-api/internal/models"
	"github.com/noah-isme/sma-observation-api/internal/repository"
	"github.com/noah-isme/sma-observation-api/pkg/docstore"
	appErrors "github.com/noah-isme/sma-observation-api/pkg/errors"
)

func newRedisCache(t *testing.T, metrics *MetricsService) *CacheService {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCacheService(repository.NewCacheRepository(client), metrics, time.Minute, nil)
}

func seedRecord(t *testing.T, store *docstore.Store, collection string, record models.Record) {
	t.Helper()
	path := docstore.Join(docstore.PublicCollection(testTenant, collection), record.ID)
	require.NoError(t, store.Create(context.Background(), path, record.Fields()))
}

func newTestReports(t *testing.T, store *docstore.Store, cache *CacheService, audit AuditRecorder) *ReportService {
	t.Helper()
	svc := NewReportService(Catalog(), store, cache, audit, ReportConfig{
		Tenant: testTenant,
		Env:    MetricsEnv{TotalStudents: 555, AbsenceThreshold: 0.05, BehavioralWeeklyLimit: 10},
	}, nil)
	svc.now = fixedClock(testNow)
	return svc
}

func TestReportSummaryCoversEveryObservation(t *testing.T) {
	store := newTestStore(t)
	seedRecord(t, store, "complaints", models.Record{
		ID: "2024-03-10", BucketKey: "2024-03-10", WrittenAt: testNow,
		Payload: map[string]interface{}{"raised": 10, "open": 1, "closed": 9},
	})
	seedRecord(t, store, "the_gap", models.Record{
		ID: "2024-03", BucketKey: "2024-03", WrittenAt: testNow,
		Payload: map[string]interface{}{"isPositive": false},
	})

	summary, err := newTestReports(t, store, nil, nil).Summary(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Items, len(Catalog()))
	assert.Equal(t, testTenant, summary.Tenant)

	byType := map[models.ObservationType]models.ReportItem{}
	for _, item := range summary.Items {
		byType[item.Type] = item
	}
	complaints := byType[models.ObservationComplaints]
	assert.Equal(t, 1, complaints.Metrics.Total)
	assert.Equal(t, models.ReportStatusGood, complaints.Status)
	assert.Equal(t, "90.0%", complaints.Display)

	gap := byType[models.ObservationGap]
	assert.Equal(t, models.ReportStatusAttention, gap.Status)
	assert.Equal(t, "negative", gap.Display)

	attention := 0
	for _, item := range summary.Items {
		if item.Status == models.ReportStatusAttention {
			attention++
		}
	}
	assert.Equal(t, attention, summary.Attention)
}

func TestReportSummaryIsCachedUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	metrics := NewMetricsService()
	cache := newRedisCache(t, metrics)
	reports := newTestReports(t, store, cache, nil)

	first, err := reports.Summary(ctx)
	require.NoError(t, err)
	seedRecord(t, store, "complaints", models.Record{
		ID: "2024-03-10", BucketKey: "2024-03-10", WrittenAt: testNow,
		Payload: map[string]interface{}{"raised": 2},
	})

	cached, err := reports.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(first.Items), len(cached.Items))
	for _, item := range cached.Items {
		assert.Zero(t, item.Metrics.Total, "cached summary predates the write")
	}
	snapshot := metrics.Snapshot()
	assert.Equal(t, uint64(1), snapshot.CacheHits)
	assert.Equal(t, uint64(1), snapshot.CacheMisses)

	reports.InvalidationHook()(ctx, WriteEvent{Definition: mustDefinition(t, models.ObservationComplaints), Operation: OperationUpsert})

	fresh, err := reports.Summary(ctx)
	require.NoError(t, err)
	total := 0
	for _, item := range fresh.Items {
		total += item.Metrics.Total
	}
	assert.Equal(t, 1, total)
}

func TestReportSummaryStoreFailure(t *testing.T) {
	reports := NewReportService(Catalog(), &failingStore{err: errors.New("boom")}, nil, nil, ReportConfig{Tenant: testTenant}, nil)
	_, err := reports.Summary(context.Background())
	assert.ErrorIs(t, err, appErrors.ErrStoreUnavailable)
}

func TestReportExport(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	audit := &stubAudit{}
	reports := newTestReports(t, store, nil, audit)

	csv, err := reports.Export(ctx, "u-manager", models.ReportFormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "observation-summary-2024-03-10.csv", csv.Filename)
	assert.Equal(t, "text/csv; charset=utf-8", csv.ContentType)
	body := string(csv.Content)
	assert.Contains(t, body, "Observation,Period,Records,Completion,Value,Alert,Status")
	assert.Contains(t, body, "complaints")
	assert.Equal(t, len(Catalog()), strings.Count(body, ",attention")+strings.Count(body, ",good"))

	pdf, err := reports.Export(ctx, "u-manager", models.ReportFormatPDF)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", pdf.ContentType)
	assert.True(t, strings.HasPrefix(string(pdf.Content), "%PDF"))

	_, err = reports.Export(ctx, "u-manager", models.ReportFormat("xlsx"))
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	assert.Equal(t, []string{models.AuditActionReportExported, models.AuditActionReportExported}, audit.actions())
}
