package service

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-observation-api/internal/models"
	"github.com/noah-isme/sma-observation-api/internal/repository"
	"github.com/noah-isme/sma-observation-api/pkg/docstore"
)

const testTenant = "jaber-school"

type stubAudit struct {
	mu      sync.Mutex
	entries []*models.AuditLog
	err     error
}

func (s *stubAudit) Record(_ context.Context, entry *models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	copy := *entry
	s.entries = append(s.entries, &copy)
	return nil
}

func (s *stubAudit) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	actions := make([]string, 0, len(s.entries))
	for _, entry := range s.entries {
		actions = append(actions, entry.Action)
	}
	return actions
}

type captureSender struct {
	mu    sync.Mutex
	links []string
	err   error
}

func (c *captureSender) SendVerification(_ context.Context, _ string, link string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.links = append(c.links, link)
	return nil
}

func (c *captureSender) lastToken(t *testing.T) string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.links, "no verification link was sent")
	parsed, err := url.Parse(c.links[len(c.links)-1])
	require.NoError(t, err)
	return parsed.Query().Get("token")
}

func newTestStore(t *testing.T) *docstore.Store {
	t.Helper()
	store := docstore.New(docstore.NewMemoryBackend(), nil)
	require.NoError(t, store.Start(context.Background()))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestIdentity(sender VerificationSender, audit AuditRecorder) *IdentityService {
	return NewIdentityService(repository.NewMemoryUserRepository(), repository.NewMemoryTokenRepository(), sender, audit, nil, IdentityConfig{
		JWTSecret:     "test-secret",
		Issuer:        "sma-observation-api",
		VerifyBaseURL: "http://localhost:8080/api/v1",
	})
}

func actorAs(role models.Role, id string) models.Actor {
	return models.Actor{PrincipalID: id, Role: role, Verified: true}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func mustDefinition(t *testing.T, typ models.ObservationType) Definition {
	t.Helper()
	def, ok := LookupDefinition(Catalog(), typ)
	require.True(t, ok, "definition %s", typ)
	return def
}

func containsAll(haystack []string, needles ...string) bool {
	joined := strings.Join(haystack, ",")
	for _, needle := range needles {
		if !strings.Contains(joined, needle) {
			return false
		}
	}
	return true
}
