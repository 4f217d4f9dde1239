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
	"github.com/noah-isme/sma-observation-api/pkg/docstore"
	appErrors "github.com/noah-isme/sma-observation-api/pkg/errors"
)

func TestRoleResolverAssignIsWriteOnce(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	audit := &stubAudit{}
	resolver := NewRoleResolver(store, testTenant, audit, nil)
	principal := &models.Principal{ID: "u1", Email: "manager@school.sa", EmailVerified: true}

	resolver.Track(ctx, principal)
	require.Eventually(t, func() bool { return resolver.State().Status == models.RoleUnassigned }, time.Second, 5*time.Millisecond)

	profile, err := resolver.AssignRole(ctx, principal, models.RoleManager)
	require.NoError(t, err)
	assert.Equal(t, models.RoleManager, profile.Role)

	_, err = resolver.AssignRole(ctx, principal, models.RoleDeputy)
	assert.ErrorIs(t, err, appErrors.ErrRoleAlreadyAssigned)

	require.Eventually(t, func() bool {
		state := resolver.State()
		return state.Status == models.RoleAssigned && state.Role == models.RoleManager
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "مدير", resolver.State().Label)

	doc, err := store.Get(ctx, docstore.RoleProfilePath(testTenant, "u1"))
	require.NoError(t, err)
	assert.Equal(t, "manager", doc.Data["role"])
	assert.Equal(t, []string{models.AuditActionRoleAssign}, audit.actions())
}

func TestRoleResolverRejectsUnverifiedAndUnknown(t *testing.T) {
	ctx := context.Background()
	resolver := NewRoleResolver(newTestStore(t), testTenant, nil, nil)

	_, err := resolver.AssignRole(ctx, nil, models.RoleManager)
	assert.ErrorIs(t, err, appErrors.ErrUnauthenticated)

	_, err = resolver.AssignRole(ctx, &models.Principal{ID: "u1"}, models.RoleManager)
	assert.ErrorIs(t, err, appErrors.ErrNotVerified)

	_, err = resolver.AssignRole(ctx, &models.Principal{ID: "u1", EmailVerified: true}, models.Role("janitor"))
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestRoleResolverIgnoresUnverifiedPrincipal(t *testing.T) {
	resolver := NewRoleResolver(newTestStore(t), testTenant, nil, nil)
	resolver.Track(context.Background(), &models.Principal{ID: "u1"})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, models.RoleLoading, resolver.State().Status)
}

func TestRoleResolverFollowsExternalWrites(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	resolver := NewRoleResolver(store, testTenant, nil, nil)
	changes := make(chan RoleState, 16)
	release := resolver.OnChange(func(state RoleState) {
		select {
		case changes <- state:
		default:
		}
	})
	defer release()

	resolver.Track(ctx, &models.Principal{ID: "u2", EmailVerified: true})
	require.NoError(t, store.Create(ctx, docstore.RoleProfilePath(testTenant, "u2"), map[string]interface{}{"role": "وكيل"}))

	require.Eventually(t, func() bool {
		state := resolver.State()
		return state.Status == models.RoleAssigned && state.Role == models.RoleDeputy
	}, time.Second, 5*time.Millisecond)
	assert.NotEmpty(t, changes)

	assert.Equal(t, models.RoleDeputy, resolver.Resolve(ctx, "u2").Role)
	assert.Equal(t, models.RoleUnassigned, resolver.Resolve(ctx, "nobody").Status)

	resolver.Reset()
	assert.Equal(t, models.RoleLoading, resolver.State().Status)
}

func TestRoleResolverSwitchingPrincipalDropsStaleState(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.Create(ctx, docstore.RoleProfilePath(testTenant, "first"), map[string]interface{}{"role": "manager"}))
	resolver := NewRoleResolver(store, testTenant, nil, nil)

	resolver.Track(ctx, &models.Principal{ID: "first", EmailVerified: true})
	require.Eventually(t, func() bool { return resolver.State().Status == models.RoleAssigned }, time.Second, 5*time.Millisecond)

	resolver.Track(ctx, &models.Principal{ID: "second", EmailVerified: true})
	require.Eventually(t, func() bool { return resolver.State().Status == models.RoleUnassigned }, time.Second, 5*time.Millisecond)
	assert.Empty(t, resolver.State().Role)
}

func TestRoleResolverSubscriptionErrorReturnsToLoading(t *testing.T) {
	ctx := context.Background()
	store := &scriptedProfileStore{Store: newTestStore(t)}
	resolver := NewRoleResolver(store, testTenant, nil, nil)
	resolver.Track(ctx, &models.Principal{ID: "u3", EmailVerified: true})
	onNext, onError := store.callbacks()
	require.NotNil(t, onNext)
	profile := &docstore.Document{ID: "u3", Data: map[string]interface{}{"role": "manager"}}

	onNext(profile)
	assert.Equal(t, models.RoleAssigned, resolver.State().Status)

	onError(errors.New("connection reset"))
	state := resolver.State()
	assert.Equal(t, models.RoleLoading, state.Status)
	assert.Empty(t, state.Role)
	assert.ErrorIs(t, state.Error, appErrors.ErrStoreUnavailable)

	onNext(profile)
	state = resolver.State()
	assert.Equal(t, models.RoleAssigned, state.Status)
	assert.Equal(t, models.RoleManager, state.Role)
	assert.NoError(t, state.Error)
}

// scriptedProfileStore hands the watch callbacks to the test instead of subscribing.
type scriptedProfileStore struct {
	*docstore.Store

	mu      sync.Mutex
	onNext  func(*docstore.Document)
	onError func(error)
}

func (s *scriptedProfileStore) WatchDocument(_ context.Context, _ string, onNext func(*docstore.Document), onError func(error)) docstore.Unsubscribe {
	s.mu.Lock()
	s.onNext, s.onError = onNext, onError
	s.mu.Unlock()
	return func() {}
}

func (s *scriptedProfileStore) callbacks() (func(*docstore.Document), func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onNext, s.onError
}
