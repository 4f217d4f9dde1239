package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-observation-api/internal/dto"
	"github.com/noah-isme/sma-observation-api/internal/models"
	"github.com/noah-isme/sma-observation-api/internal/repository"
	"github.com/noah-isme/sma-observation-api/internal/service"
	"github.com/noah-isme/sma-observation-api/pkg/docstore"
	appErrors "github.com/noah-isme/sma-observation-api/pkg/errors"
	"github.com/noah-isme/sma-observation-api/pkg/logger"
)

type linkSender struct {
	mu    sync.Mutex
	links []string
}

func (s *linkSender) SendVerification(_ context.Context, _ string, link string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links = append(s.links, link)
	return nil
}

func (s *linkSender) lastToken(t *testing.T) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.links)
	parsed, err := url.Parse(s.links[len(s.links)-1])
	require.NoError(t, err)
	return parsed.Query().Get("token")
}

type testEnvelope struct {
	Data  json.RawMessage        `json:"data"`
	Error *appErrors.Error       `json:"error"`
	Meta  map[string]interface{} `json:"meta"`
}

type testServer struct {
	router   *gin.Engine
	hub      *service.SessionHub
	identity *service.IdentityService
	sender   *linkSender
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := docstore.New(docstore.NewMemoryBackend(), nil)
	require.NoError(t, store.Start(context.Background()))
	t.Cleanup(func() { _ = store.Close() })

	sender := &linkSender{}
	identity := service.NewIdentityService(repository.NewMemoryUserRepository(), repository.NewMemoryTokenRepository(), sender, nil, nil, service.IdentityConfig{
		JWTSecret:     "test-secret",
		Issuer:        "sma-observation-api",
		VerifyBaseURL: "http://localhost:8080/api/v1",
	})
	defs := service.Catalog()
	reports := service.NewReportService(defs, store, service.NewCacheService(nil, nil, 0, nil), nil, service.ReportConfig{
		Tenant: "jaber-school",
		Env:    service.MetricsEnv{TotalStudents: 555, AbsenceThreshold: 0.05, BehavioralWeeklyLimit: 10},
	}, nil)
	hub := service.NewSessionHub(identity, store, defs, nil, service.HubConfig{Tenant: "jaber-school"}, nil,
		service.WithManagerOptions(service.WithWriteHooks(reports.InvalidationHook())))
	t.Cleanup(hub.CloseAll)

	router := gin.New()
	Routes{
		Sessions:     NewSessionHandler(hub, identity, nil),
		Observations: NewObservationHandler(defs),
		Reports:      NewReportHandler(reports),
		Hub:          hub,
	}.Register(router.Group("/api/v1"))

	return &testServer{router: router, hub: hub, identity: identity, sender: sender}
}

func (s *testServer) do(t *testing.T, method, path, session, body string) (*httptest.ResponseRecorder, testEnvelope) {
	t.Helper()
	req := httptest.NewRequest(method, "/api/v1"+path, bytes.NewReader([]byte(body)))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if session != "" {
		req.Header.Set(logger.SessionHeader, session)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var envelope testEnvelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") && rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	}
	return rec, envelope
}

func (s *testServer) screen(t *testing.T, session string, requested models.Screen) models.Screen {
	t.Helper()
	rec, env := s.do(t, http.MethodGet, "/session?screen="+string(requested), session, "")
	var view dto.SessionResponse
	if rec.Code != http.StatusOK || json.Unmarshal(env.Data, &view) != nil {
		return ""
	}
	return view.Screen.Screen
}

// openSession signs a verified user in through a custom token and assigns role.
func (s *testServer) openSession(t *testing.T, id string, role models.Role) string {
	t.Helper()
	token, err := s.identity.IssueCustomToken(&models.User{ID: id, Email: id + "@school.sa", EmailVerified: true})
	require.NoError(t, err)

	rec, env := s.do(t, http.MethodPost, "/sessions", "", `{"customToken":"`+token+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var view dto.SessionResponse
	require.NoError(t, json.Unmarshal(env.Data, &view))
	require.Equal(t, view.ID, rec.Header().Get(logger.SessionHeader))

	require.Eventually(t, func() bool {
		return s.screen(t, view.ID, models.ScreenDashboard) == models.ScreenRoleSelection
	}, time.Second, 5*time.Millisecond)
	rec, _ = s.do(t, http.MethodPost, "/session/role", view.ID, `{"role":"`+string(role)+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Eventually(t, func() bool {
		return s.screen(t, view.ID, models.ScreenDashboard) == models.ScreenDashboard
	}, time.Second, 5*time.Millisecond)
	return view.ID
}

func TestSessionRoutesOnboarding(t *testing.T) {
	srv := newTestServer(t)

	rec, env := srv.do(t, http.MethodPost, "/sessions", "", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var created dto.SessionResponse
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, models.AuthUnauthenticated, created.Auth.State)
	assert.Equal(t, models.ScreenLogin, created.Screen.Screen)
	id := created.ID

	rec, env = srv.do(t, http.MethodPost, "/session/sign-up", id, `{"email":"Manager@School.sa","password":"secret123"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var signedUp dto.SessionResponse
	require.NoError(t, json.Unmarshal(env.Data, &signedUp))
	require.NotNil(t, signedUp.Auth.Principal)
	assert.Equal(t, "manager@school.sa", signedUp.Auth.Principal.Email)
	assert.Equal(t, models.ScreenVerifyEmail, srv.screen(t, id, models.ScreenDashboard))

	rec, _ = srv.do(t, http.MethodGet, "/observations", id, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, env = srv.do(t, http.MethodGet, "/auth/verify?token="+srv.sender.lastToken(t), "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var verified dto.VerifyEmailResponse
	require.NoError(t, json.Unmarshal(env.Data, &verified))
	assert.NotNil(t, verified.VerifiedAt)

	rec, _ = srv.do(t, http.MethodPost, "/session/verification/refresh", id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Eventually(t, func() bool {
		return srv.screen(t, id, models.ScreenDashboard) == models.ScreenRoleSelection
	}, time.Second, 5*time.Millisecond)

	rec, env = srv.do(t, http.MethodPost, "/session/role", id, `{"role":"مدير"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var profile models.RoleProfile
	require.NoError(t, json.Unmarshal(env.Data, &profile))
	assert.Equal(t, models.RoleManager, profile.Role)
	require.Eventually(t, func() bool {
		return srv.screen(t, id, models.ScreenDashboard) == models.ScreenDashboard
	}, time.Second, 5*time.Millisecond)

	rec, env = srv.do(t, http.MethodPost, "/session/role", id, `{"role":"deputy"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, appErrors.ErrRoleAlreadyAssigned.Code, env.Error.Code)

	rec, env = srv.do(t, http.MethodGet, "/screens/role-selection", id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var screen dto.ScreenView
	require.NoError(t, json.Unmarshal(env.Data, &screen))
	assert.Equal(t, models.ScreenDashboard, screen.Screen)

	rec, _ = srv.do(t, http.MethodDelete, "/session", id, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec, _ = srv.do(t, http.MethodGet, "/session", id, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSessionRoutesRequireClientSession(t *testing.T) {
	srv := newTestServer(t)

	rec, env := srv.do(t, http.MethodGet, "/session", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, appErrors.ErrUnauthenticated.Code, env.Error.Code)

	rec, _ = srv.do(t, http.MethodGet, "/session", "no-such-session", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = srv.do(t, http.MethodGet, "/auth/verify", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionRoutesSignInErrors(t *testing.T) {
	srv := newTestServer(t)
	rec, env := srv.do(t, http.MethodPost, "/sessions", "", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var created dto.SessionResponse
	require.NoError(t, json.Unmarshal(env.Data, &created))

	rec, env = srv.do(t, http.MethodPost, "/session/sign-in", created.ID, `{"email":"ghost@school.sa","password":"secret123"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, env.Error.Code)

	rec, _ = srv.do(t, http.MethodPost, "/session/sign-in", created.ID, `{"email":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = srv.do(t, http.MethodPost, "/session/verification", created.ID, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, env.Error)
}

func TestObservationRoutesUpsertAndReport(t *testing.T) {
	srv := newTestServer(t)
	id := srv.openSession(t, "manager-1", models.RoleManager)

	rec, env := srv.do(t, http.MethodGet, "/observations", id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var catalog []dto.DefinitionView
	require.NoError(t, json.Unmarshal(env.Data, &catalog))
	assert.Len(t, catalog, 8)
	for _, view := range catalog {
		switch view.Type {
		case models.ObservationReadiness:
			assert.Len(t, view.Defaults["tasks"], len(models.DefaultReadinessTasks()))
		case models.ObservationComplaints:
			assert.Nil(t, view.Defaults)
		}
	}

	rec, env = srv.do(t, http.MethodPut, "/observations/complaints/records/2024-03-10", id, `{"fields":{"raised":10,"open":1,"closed":9}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var record models.Record
	require.NoError(t, json.Unmarshal(env.Data, &record))
	assert.Equal(t, "2024-03-10", record.BucketKey)
	assert.Equal(t, "manager-1", record.AuthorID)

	rec, env = srv.do(t, http.MethodPut, "/observations/complaints/records/2024-03-11", id, `{"fields":{"raised":1}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)

	require.Eventually(t, func() bool {
		rec, env := srv.do(t, http.MethodGet, "/observations/complaints/records", id, "")
		if rec.Code != http.StatusOK {
			return false
		}
		var history dto.HistoryResponse
		if json.Unmarshal(env.Data, &history) != nil {
			return false
		}
		return len(history.Records) == 1 && history.Metrics.Value == 90
	}, time.Second, 10*time.Millisecond)

	rec, env = srv.do(t, http.MethodGet, "/reports/summary", id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var summary models.ReportSummary
	require.NoError(t, json.Unmarshal(env.Data, &summary))
	assert.Len(t, summary.Items, 8)
	assert.Equal(t, false, env.Meta["cache_hit"])

	rec, _ = srv.do(t, http.MethodGet, "/reports/export?format=csv", id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "observation-summary-")
	assert.Contains(t, rec.Body.String(), "complaints")

	rec, _ = srv.do(t, http.MethodGet, "/reports/export?format=xlsx", id, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = srv.do(t, http.MethodGet, "/observations/payroll/records", id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestObservationRoutesApprovalFlow(t *testing.T) {
	srv := newTestServer(t)
	deputy := srv.openSession(t, "deputy-1", models.RoleDeputy)
	manager := srv.openSession(t, "manager-1", models.RoleManager)

	rec, env := srv.do(t, http.MethodPost, "/observations/attendance-100/requests", deputy, `{"bucketKey":"2024-03-10","fields":{"note":"all present"}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var request models.Record
	require.NoError(t, json.Unmarshal(env.Data, &request))
	require.NotNil(t, request.Approval)
	assert.Equal(t, models.ApprovalPending, request.Approval.Status)

	rec, env = srv.do(t, http.MethodPost, "/observations/attendance-100/requests", deputy, `{"bucketKey":"2024-03-10","fields":{"note":"all present"}}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, appErrors.ErrDuplicateRequest.Code, env.Error.Code)

	rec, _ = srv.do(t, http.MethodPost, "/observations/attendance-100/requests/"+request.ID+"/decision", deputy, `{"decision":"approve"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, env = srv.do(t, http.MethodPost, "/observations/attendance-100/requests/"+request.ID+"/decision", manager, `{"decision":"approve"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var decided models.Record
	require.NoError(t, json.Unmarshal(env.Data, &decided))
	assert.Equal(t, models.ApprovalApproved, decided.Approval.Status)
	assert.Equal(t, "manager-1", decided.Approval.ApproverID)

	rec, _ = srv.do(t, http.MethodPost, "/observations/attendance-100/requests/"+request.ID+"/decision", manager, `{"decision":"reject"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = srv.do(t, http.MethodGet, "/observations/gap/records", deputy, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec, _ = srv.do(t, http.MethodGet, "/reports/export", deputy, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMetricsHandlerReady(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := service.NewMetricsService()

	healthy := NewMetricsHandler(metrics, map[string]ReadinessCheck{
		"docstore": func(context.Context) error { return nil },
	})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/ready", nil)
	healthy.Ready(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ready"`)

	degraded := NewMetricsHandler(nil, map[string]ReadinessCheck{
		"docstore": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})
	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/ready", nil)
	degraded.Ready(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	healthy.Prometheus(c)
	assert.Equal(t, http.StatusOK, w.Code)
}
