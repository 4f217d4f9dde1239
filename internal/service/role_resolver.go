package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-observation-api/internal/models"
	"github.com/noah-isme/sma-observation-api/pkg/docstore"
	appErrors "github.com/noah-isme/sma-observation-api/pkg/errors"
)

type profileStore interface {
	Get(ctx context.Context, path string) (docstore.Document, error)
	Create(ctx context.Context, path string, data map[string]interface{}) error
	WatchDocument(ctx context.Context, path string, onNext func(*docstore.Document), onError func(error)) docstore.Unsubscribe
}

// RoleState is a snapshot of the role resolver.
type RoleState struct {
	Status models.RoleStatus `json:"status"`
	Role   models.Role       `json:"role,omitempty"`
	Label  string            `json:"label,omitempty"`
	Error  error             `json:"-"`
}

// RoleResolver maps the verified principal of a session to its write-once role.
type RoleResolver struct {
	store  profileStore
	tenant string
	audit  AuditRecorder
	logger *zap.Logger
	now    func() time.Time

	mu          sync.Mutex
	state       RoleState
	principalID string
	generation  uint64
	unsubscribe docstore.Unsubscribe
	listeners   map[int]func(RoleState)
	nextID      int
}

// NewRoleResolver builds a resolver in the Loading state.
func NewRoleResolver(store profileStore, tenant string, audit AuditRecorder, logger *zap.Logger) *RoleResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoleResolver{
		store:     store,
		tenant:    tenant,
		audit:     audit,
		logger:    logger,
		now:       time.Now,
		state:     RoleState{Status: models.RoleLoading},
		listeners: make(map[int]func(RoleState)),
	}
}

// Track re-evaluates the role for principal, releasing any previous subscription.
func (r *RoleResolver) Track(ctx context.Context, principal *models.Principal) {
	r.mu.Lock()
	r.releaseLocked()
	r.generation++
	generation := r.generation
	r.state = RoleState{Status: models.RoleLoading}
	if principal == nil || !principal.EmailVerified {
		r.principalID = ""
		r.mu.Unlock()
		r.notify()
		return
	}
	r.principalID = principal.ID
	r.mu.Unlock()
	r.notify()

	path := docstore.RoleProfilePath(r.tenant, principal.ID)
	unsubscribe := r.store.WatchDocument(ctx, path, func(doc *docstore.Document) {
		r.apply(generation, stateFromProfile(doc), nil)
	}, func(err error) {
		r.logger.Warn("role profile subscription error", zap.String("user_id", principal.ID), zap.Error(err))
		r.apply(generation, RoleState{}, appErrors.WrapAs(appErrors.ErrStoreUnavailable, err, "failed to load role"))
	})

	r.mu.Lock()
	if r.generation != generation {
		r.mu.Unlock()
		unsubscribe()
		return
	}
	r.unsubscribe = unsubscribe
	r.mu.Unlock()
}

// Resolve performs a point read of the role profile.
func (r *RoleResolver) Resolve(ctx context.Context, principalID string) RoleState {
	doc, err := r.store.Get(ctx, docstore.RoleProfilePath(r.tenant, principalID))
	if errors.Is(err, docstore.ErrNotFound) {
		return RoleState{Status: models.RoleUnassigned}
	}
	if err != nil {
		return RoleState{Status: models.RoleLoading, Error: appErrors.WrapAs(appErrors.ErrStoreUnavailable, err, "failed to load role")}
	}
	return stateFromProfile(&doc)
}

// AssignRole writes the role profile once. An existing profile is never overwritten.
func (r *RoleResolver) AssignRole(ctx context.Context, principal *models.Principal, role models.Role) (*models.RoleProfile, error) {
	if principal == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthenticated, "")
	}
	if !principal.EmailVerified {
		return nil, appErrors.Clone(appErrors.ErrNotVerified, "")
	}
	if !role.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown role "+string(role))
	}

	profile := &models.RoleProfile{
		UserID: principal.ID,
		Role:   role,
		Email:  principal.Email,
		SetAt:  r.now().UTC(),
	}
	err := r.store.Create(ctx, docstore.RoleProfilePath(r.tenant, principal.ID), map[string]interface{}{
		"userId": profile.UserID,
		"role":   string(profile.Role),
		"email":  profile.Email,
		"setAt":  profile.SetAt.Format(time.RFC3339Nano),
	})
	if errors.Is(err, docstore.ErrAlreadyExists) {
		return nil, appErrors.Clone(appErrors.ErrRoleAlreadyAssigned, "")
	}
	if err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrStoreUnavailable, err, "failed to assign role")
	}

	r.mu.Lock()
	if r.principalID == principal.ID {
		r.state = RoleState{Status: models.RoleAssigned, Role: role, Label: role.Label()}
	}
	r.mu.Unlock()
	r.notify()

	if r.audit != nil {
		if err := r.audit.Record(ctx, &models.AuditLog{
			UserID:     principal.ID,
			Action:     models.AuditActionRoleAssign,
			Resource:   "role_profile",
			ResourceID: principal.ID,
			Values:     map[string]interface{}{"role": string(role)},
		}); err != nil {
			r.logger.Warn("failed to record role audit log", zap.Error(err))
		}
	}
	return profile, nil
}

// State returns the current role state.
func (r *RoleResolver) State() RoleState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// OnChange registers fn for every state change and returns its release func.
func (r *RoleResolver) OnChange(fn func(RoleState)) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = fn
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.listeners, id)
			r.mu.Unlock()
		})
	}
}

// Reset drops the subscription and returns to Loading.
func (r *RoleResolver) Reset() {
	r.mu.Lock()
	r.releaseLocked()
	r.generation++
	r.principalID = ""
	r.state = RoleState{Status: models.RoleLoading}
	r.mu.Unlock()
	r.notify()
}

// apply installs the outcome of one subscription emission. An error drops the
// session back to Loading until the next successful emission.
func (r *RoleResolver) apply(generation uint64, next RoleState, err error) {
	r.mu.Lock()
	if generation != r.generation {
		r.mu.Unlock()
		return
	}
	if err != nil {
		r.state = RoleState{Status: models.RoleLoading, Error: err}
	} else {
		r.state = next
	}
	r.mu.Unlock()
	r.notify()
}

func (r *RoleResolver) releaseLocked() {
	if r.unsubscribe != nil {
		r.unsubscribe()
		r.unsubscribe = nil
	}
}

func (r *RoleResolver) notify() {
	r.mu.Lock()
	state := r.state
	listeners := make([]func(RoleState), 0, len(r.listeners))
	for _, fn := range r.listeners {
		listeners = append(listeners, fn)
	}
	r.mu.Unlock()
	for _, fn := range listeners {
		fn(state)
	}
}

func stateFromProfile(doc *docstore.Document) RoleState {
	if doc == nil {
		return RoleState{Status: models.RoleUnassigned}
	}
	raw, _ := doc.Data["role"].(string)
	role, ok := models.ParseRole(raw)
	if !ok {
		return RoleState{Status: models.RoleLoading, Error: appErrors.Clone(appErrors.ErrValidation, "role profile holds an unknown role")}
	}
	return RoleState{Status: models.RoleAssigned, Role: role, Label: role.Label()}
}
