package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-observation-api/internal/models"
	appErrors "github.com/noah-isme/sma-observation-api/pkg/errors"
)

type gaugeStub struct {
	mu   sync.Mutex
	open int
}

func (g *gaugeStub) SessionOpened() { g.mu.Lock(); g.open++; g.mu.Unlock() }
func (g *gaugeStub) SessionClosed() { g.mu.Lock(); g.open--; g.mu.Unlock() }

func (g *gaugeStub) value() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open
}

type movableClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *movableClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *movableClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestSessionHubLifecycle(t *testing.T) {
	ctx := context.Background()
	gauge := &gaugeStub{}
	clock := &movableClock{now: testNow}
	hub := NewSessionHub(newTestIdentity(nil, nil), newTestStore(t), Catalog(), nil,
		HubConfig{Tenant: testTenant, TTL: 10 * time.Minute, AnonymousSignIn: true}, nil,
		WithHubMetrics(gauge), WithHubClock(clock.Now))

	idle := hub.Create(ctx, "")
	active := hub.Create(ctx, "")
	assert.Equal(t, 2, hub.Count())
	assert.Equal(t, 2, gauge.value())
	assert.NotEqual(t, idle.ID(), active.ID())

	state := idle.Controller().State()
	assert.Equal(t, models.AuthAuthenticated, state.State)
	require.NotNil(t, state.Principal)
	assert.True(t, state.Principal.Anonymous)

	clock.Advance(6 * time.Minute)
	_, ok := hub.Get(active.ID())
	require.True(t, ok)
	clock.Advance(6 * time.Minute)

	assert.Equal(t, 1, hub.Sweep())
	_, ok = hub.Get(idle.ID())
	assert.False(t, ok)
	_, ok = hub.Get(active.ID())
	assert.True(t, ok)

	_, err := idle.Manager(models.ObservationGap)
	assert.ErrorIs(t, err, appErrors.ErrUnauthenticated)

	assert.True(t, hub.Remove(active.ID()))
	assert.False(t, hub.Remove(active.ID()))
	assert.Zero(t, hub.Count())
	assert.Zero(t, gauge.value())
}

func TestSessionHubBootstrapToken(t *testing.T) {
	ctx := context.Background()
	identity := newTestIdentity(nil, nil)
	token, err := identity.IssueCustomToken(&models.User{ID: "kiosk", Email: "kiosk@school.sa", EmailVerified: true})
	require.NoError(t, err)

	hub := NewSessionHub(identity, newTestStore(t), Catalog(), nil, HubConfig{Tenant: testTenant, BootstrapToken: token}, nil)
	t.Cleanup(hub.CloseAll)

	session := hub.Create(ctx, "")
	principal := session.Controller().Principal()
	require.NotNil(t, principal)
	assert.Equal(t, "kiosk", principal.ID)

	require.Eventually(t, func() bool {
		return session.Route(models.ScreenDashboard).Screen == models.ScreenRoleSelection
	}, time.Second, 5*time.Millisecond)

	_, err = session.Manager(models.ObservationType("payroll"))
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestClientSessionSubscribe(t *testing.T) {
	ctx := context.Background()
	hub := NewSessionHub(newTestIdentity(nil, nil), newTestStore(t), Catalog(), nil, HubConfig{Tenant: testTenant}, nil)
	session := hub.Create(ctx, "")

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	updates := session.Subscribe(subCtx)

	first := <-updates
	assert.Equal(t, session.ID(), first.ID)
	assert.Equal(t, models.ScreenLogin, first.Screen.Screen)

	require.NoError(t, session.Controller().SignUp(ctx, "deputy@school.sa", "secret123"))
	require.Eventually(t, func() bool {
		select {
		case snapshot := <-updates:
			return snapshot.Screen.Screen == models.ScreenVerifyEmail
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	hub.Remove(session.ID())
	require.Eventually(t, func() bool {
		for {
			select {
			case _, open := <-updates:
				if !open {
					return true
				}
			default:
				return false
			}
		}
	}, time.Second, 5*time.Millisecond)
}

func TestSessionHubRunClosesOnShutdown(t *testing.T) {
	hub := NewSessionHub(newTestIdentity(nil, nil), newTestStore(t), Catalog(), nil,
		HubConfig{Tenant: testTenant, SweepInterval: 10 * time.Millisecond}, nil)
	hub.Create(context.Background(), "")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}
	assert.Zero(t, hub.Count())
}
