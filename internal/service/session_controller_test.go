package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-observation-api/internal/models"
	appErrors "github.com/noah-isme/sma-observation-api/pkg/errors"
)

type stubGateway struct {
	mu        sync.Mutex
	principal *models.Principal
	listener  func(*models.Principal)

	signInErr  error
	sendErr    error
	signOutErr error
	reloaded   *models.Principal
	tokensSeen []string
}

func (g *stubGateway) emit(p *models.Principal) {
	g.mu.Lock()
	g.principal = p
	cb := g.listener
	g.mu.Unlock()
	if cb != nil {
		cb(p.Clone())
	}
}

func (g *stubGateway) SignInAnonymously(context.Context) (*models.Principal, error) {
	if g.signInErr != nil {
		return nil, g.signInErr
	}
	p := &models.Principal{ID: "anon", Anonymous: true}
	g.emit(p)
	return p, nil
}

func (g *stubGateway) SignInWithToken(_ context.Context, token string) (*models.Principal, error) {
	g.mu.Lock()
	g.tokensSeen = append(g.tokensSeen, token)
	g.mu.Unlock()
	if g.signInErr != nil {
		return nil, g.signInErr
	}
	p := &models.Principal{ID: "token-user", EmailVerified: true}
	g.emit(p)
	return p, nil
}

func (g *stubGateway) SignInWithPassword(_ context.Context, email, _ string) (*models.Principal, error) {
	if g.signInErr != nil {
		return nil, g.signInErr
	}
	p := &models.Principal{ID: "pw-user", Email: email}
	g.emit(p)
	return p, nil
}

func (g *stubGateway) SignUp(_ context.Context, email, _ string) (*models.Principal, error) {
	if g.signInErr != nil {
		return nil, g.signInErr
	}
	p := &models.Principal{ID: "new-user", Email: email}
	g.emit(p)
	return p, nil
}

func (g *stubGateway) SendVerification(context.Context, *models.Principal) error {
	return g.sendErr
}

func (g *stubGateway) ReloadPrincipal(_ context.Context, p *models.Principal) (*models.Principal, error) {
	if g.reloaded != nil {
		return g.reloaded.Clone(), nil
	}
	return p.Clone(), nil
}

func (g *stubGateway) SignOut(context.Context) error {
	if g.signOutErr != nil {
		return g.signOutErr
	}
	g.emit(nil)
	return nil
}

func (g *stubGateway) OnAuthChange(cb func(*models.Principal)) func() {
	g.mu.Lock()
	g.listener = cb
	current := g.principal.Clone()
	g.mu.Unlock()
	cb(current)
	return func() {
		g.mu.Lock()
		g.listener = nil
		g.mu.Unlock()
	}
}

func syncRunner(fn func()) { fn() }

func TestSessionControllerBootstrapWithToken(t *testing.T) {
	gateway := &stubGateway{}
	controller := NewSessionController(gateway, SessionOptions{CustomToken: "tok"}, WithAsyncRunner(syncRunner))
	assert.Equal(t, models.AuthPending, controller.State().State)

	controller.Bootstrap(context.Background())
	controller.Bootstrap(context.Background())

	state := controller.State()
	assert.Equal(t, models.AuthAuthenticated, state.State)
	assert.Equal(t, "token-user", state.Principal.ID)
	assert.Equal(t, []string{"tok"}, gateway.tokensSeen)
}

func TestSessionControllerBootstrapFailureIsSilent(t *testing.T) {
	gateway := &stubGateway{signInErr: errors.New("identity offline")}
	controller := NewSessionController(gateway, SessionOptions{AnonymousSignIn: true})

	controller.Bootstrap(context.Background())

	state := controller.State()
	assert.Equal(t, models.AuthUnauthenticated, state.State)
	assert.Nil(t, state.Principal)
	assert.NoError(t, state.LastError)
}

func TestSessionControllerSignInErrors(t *testing.T) {
	gateway := &stubGateway{}
	controller := NewSessionController(gateway, SessionOptions{})
	controller.Bootstrap(context.Background())

	gateway.signInErr = appErrors.Clone(appErrors.ErrInvalidCredentials, "")
	err := controller.SignIn(context.Background(), "a@school.sa", "bad")
	assert.ErrorIs(t, err, appErrors.ErrInvalidCredentials)
	assert.ErrorIs(t, controller.State().LastError, appErrors.ErrInvalidCredentials)

	gateway.signInErr = errors.New("socket closed")
	err = controller.SignIn(context.Background(), "a@school.sa", "bad")
	assert.ErrorIs(t, err, appErrors.ErrIdentityUnavailable)

	gateway.signInErr = nil
	require.NoError(t, controller.SignIn(context.Background(), "a@school.sa", "good"))
	assert.NoError(t, controller.State().LastError)
	assert.Equal(t, models.AuthAuthenticated, controller.State().State)
}

func TestSessionControllerSignUpKeepsAccountWhenMailFails(t *testing.T) {
	gateway := &stubGateway{sendErr: errors.New("smtp down")}
	controller := NewSessionController(gateway, SessionOptions{})
	controller.Bootstrap(context.Background())

	require.NoError(t, controller.SignUp(context.Background(), "new@school.sa", "secret123"))
	state := controller.State()
	assert.Equal(t, models.AuthAuthenticated, state.State)
	assert.NotEmpty(t, state.Notice)
}

func TestSessionControllerSignOutResetsAndReportsFailure(t *testing.T) {
	gateway := &stubGateway{principal: &models.Principal{ID: "u1", EmailVerified: true}}
	controller := NewSessionController(gateway, SessionOptions{}, WithAsyncRunner(syncRunner))
	resets := 0
	controller.OnReset(func() { resets++ })
	controller.Bootstrap(context.Background())
	require.Equal(t, models.AuthAuthenticated, controller.State().State)

	gateway.signOutErr = errors.New("network")
	controller.SignOut(context.Background())
	assert.Equal(t, models.AuthAuthenticated, controller.State().State)
	assert.ErrorIs(t, controller.State().LastError, appErrors.ErrIdentityUnavailable)

	gateway.signOutErr = nil
	controller.SignOut(context.Background())
	assert.Equal(t, models.AuthUnauthenticated, controller.State().State)
	assert.Equal(t, 1, resets)
}

func TestSessionControllerObserve(t *testing.T) {
	gateway := &stubGateway{}
	controller := NewSessionController(gateway, SessionOptions{})
	controller.Bootstrap(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	updates := controller.Observe(ctx)
	assert.Nil(t, <-updates)

	require.NoError(t, controller.SignIn(context.Background(), "a@school.sa", "pw"))
	select {
	case p := <-updates:
		require.NotNil(t, p)
		assert.Equal(t, "pw-user", p.ID)
	case <-time.After(time.Second):
		t.Fatal("no principal update")
	}

	cancel()
	require.Eventually(t, func() bool {
		_, open := <-updates
		return !open
	}, time.Second, 5*time.Millisecond)
}

func TestSessionControllerRefreshVerification(t *testing.T) {
	gateway := &stubGateway{principal: &models.Principal{ID: "u1", Email: "a@school.sa"}}
	controller := NewSessionController(gateway, SessionOptions{})
	var hooked []*models.Principal
	controller.OnPrincipalChange(func(p *models.Principal) { hooked = append(hooked, p) })
	controller.Bootstrap(context.Background())

	gateway.reloaded = &models.Principal{ID: "u1", Email: "a@school.sa", EmailVerified: true}
	principal, err := controller.RefreshVerification(context.Background())
	require.NoError(t, err)
	assert.True(t, principal.EmailVerified)
	assert.True(t, controller.Principal().EmailVerified)
	require.Len(t, hooked, 2)
	assert.True(t, hooked[1].EmailVerified)

	gateway.reloaded = &models.Principal{ID: "someone-else"}
	_, err = controller.RefreshVerification(context.Background())
	assert.ErrorIs(t, err, appErrors.ErrUnauthenticated)
}

func TestClientSessionOnboardingScenario(t *testing.T) {
	ctx := context.Background()
	sender := &captureSender{}
	audit := &stubAudit{}
	identity := newTestIdentity(sender, audit)
	store := newTestStore(t)
	hub := NewSessionHub(identity, store, Catalog(), audit, HubConfig{Tenant: testTenant}, nil,
		WithManagerOptions(WithAuditRecorder(audit)))
	t.Cleanup(hub.CloseAll)

	session := hub.Create(ctx, "")
	assert.Equal(t, models.AuthUnauthenticated, session.Controller().State().State)
	assert.Equal(t, models.ScreenLogin, session.Route(models.ScreenDashboard).Screen)

	require.NoError(t, session.Controller().SignUp(ctx, "manager@school.sa", "secret123"))
	assert.Equal(t, models.ScreenVerifyEmail, session.Route(models.ScreenDashboard).Screen)

	_, err := session.AssignRole(ctx, models.RoleManager)
	assert.ErrorIs(t, err, appErrors.ErrNotVerified)

	_, err = identity.VerifyEmail(ctx, sender.lastToken(t))
	require.NoError(t, err)
	principal, err := session.Controller().RefreshVerification(ctx)
	require.NoError(t, err)
	assert.True(t, principal.EmailVerified)

	require.Eventually(t, func() bool {
		return session.Route("").Screen == models.ScreenRoleSelection
	}, time.Second, 5*time.Millisecond)

	_, err = session.AssignRole(ctx, models.RoleManager)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return session.Route(models.ScreenDashboard).Screen == models.ScreenDashboard
	}, time.Second, 5*time.Millisecond)

	_, err = session.AssignRole(ctx, models.RoleDeputy)
	assert.ErrorIs(t, err, appErrors.ErrRoleAlreadyAssigned)
	assert.Equal(t, models.RoleManager, session.Roles().State().Role)

	actor := session.Actor()
	assert.Equal(t, models.RoleManager, actor.Role)
	assert.True(t, actor.Verified)

	complaints, err := session.Manager(models.ObservationComplaints)
	require.NoError(t, err)
	_, err = complaints.UpsertForBucket(ctx, actor, "2024-03-10", map[string]interface{}{"raised": 1})
	require.NoError(t, err)

	session.Controller().SignOut(ctx)
	require.Eventually(t, func() bool {
		return session.Route(models.ScreenComplaints).Screen == models.ScreenLogin
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, models.Actor{}, session.Actor())
	assert.True(t, containsAll(audit.actions(), models.AuditActionEmailVerified, models.AuditActionRoleAssign, models.AuditActionRecordUpsert))
}
