package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-observation-api/internal/models"
	"github.com/noah-isme/sma-observation-api/pkg/docstore"
	appErrors "github.com/noah-isme/sma-observation-api/pkg/errors"
)

type sessionStore interface {
	recordStore
	WatchDocument(ctx context.Context, path string, onNext func(*docstore.Document), onError func(error)) docstore.Unsubscribe
}

type sessionGauge interface {
	SessionOpened()
	SessionClosed()
}

// SessionSnapshot is the observable state of one client session.
type SessionSnapshot struct {
	ID     string
	Auth   SessionState
	Role   RoleState
	Screen RouteResult
	At     time.Time
}

// ClientSession composes identity, role and observation state for one client.
type ClientSession struct {
	id         string
	hub        *SessionHub
	controller *SessionController
	roles      *RoleResolver
	logger     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	lastSeen atomic.Int64

	mu          sync.Mutex
	requested   models.Screen
	managers    map[models.ObservationType]*ObservationManager
	subscribers map[int]chan SessionSnapshot
	nextID      int
	closed      bool
}

func newClientSession(h *SessionHub, opts SessionOptions) *ClientSession {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	logger := h.logger.With(zap.String("client_session", id))
	identity := NewIdentityClient(h.authority)

	s := &ClientSession{
		id:          id,
		hub:         h,
		controller:  NewSessionController(identity, opts, WithSessionLogger(logger)),
		roles:       NewRoleResolver(h.store, h.cfg.Tenant, h.audit, logger),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		managers:    make(map[models.ObservationType]*ObservationManager),
		subscribers: make(map[int]chan SessionSnapshot),
	}
	s.touch(h.now())

	s.controller.OnReset(func() {
		s.mu.Lock()
		s.requested = models.ScreenLogin
		s.mu.Unlock()
	})
	s.controller.OnPrincipalChange(func(principal *models.Principal) {
		s.closeManagers()
		s.roles.Track(s.ctx, principal)
		s.publish()
	})
	s.roles.OnChange(func(RoleState) { s.publish() })
	return s
}

// ID returns the session identifier sent in the X-Client-Session header.
func (s *ClientSession) ID() string { return s.id }

// Controller exposes the authentication state machine.
func (s *ClientSession) Controller() *SessionController { return s.controller }

// Roles exposes the role resolver.
func (s *ClientSession) Roles() *RoleResolver { return s.roles }

// Route resolves requested against the current state. An empty request reuses
// the last requested screen.
func (s *ClientSession) Route(requested models.Screen) RouteResult {
	s.mu.Lock()
	if requested == "" {
		requested = s.requested
	} else {
		s.requested = requested
	}
	s.mu.Unlock()
	return ResolveScreen(s.routeInput(requested), s.hub.access)
}

// Allows reports whether screen can be shown now without changing the
// remembered request.
func (s *ClientSession) Allows(screen models.Screen) bool {
	result := ResolveScreen(s.routeInput(screen), s.hub.access)
	return result.Allowed && result.Screen == screen
}

func (s *ClientSession) routeInput(requested models.Screen) RouteInput {
	auth := s.controller.State()
	role := s.roles.State()
	in := RouteInput{Auth: auth.State, RoleStatus: role.Status, Role: role.Role, Requested: requested}
	if auth.Principal != nil {
		in.Verified = auth.Principal.EmailVerified
	}
	return in
}

// Snapshot captures the session state with requested resolved.
func (s *ClientSession) Snapshot(requested models.Screen) SessionSnapshot {
	return SessionSnapshot{
		ID:     s.id,
		Auth:   s.controller.State(),
		Role:   s.roles.State(),
		Screen: s.Route(requested),
		At:     s.hub.now().UTC(),
	}
}

// Actor describes the session as a record writer.
func (s *ClientSession) Actor() models.Actor {
	principal := s.controller.Principal()
	if principal == nil {
		return models.Actor{}
	}
	actor := models.Actor{PrincipalID: principal.ID, Verified: principal.EmailVerified}
	if role := s.roles.State(); role.Status == models.RoleAssigned {
		actor.Role = role.Role
	}
	return actor
}

// AssignRole writes the role of the signed-in principal.
func (s *ClientSession) AssignRole(ctx context.Context, role models.Role) (*models.RoleProfile, error) {
	return s.roles.AssignRole(ctx, s.controller.Principal(), role)
}

// Manager returns the open manager for t, creating it on first use.
func (s *ClientSession) Manager(t models.ObservationType) (*ObservationManager, error) {
	def, ok := LookupDefinition(s.hub.defs, t)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "unknown observation type")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, appErrors.Clone(appErrors.ErrUnauthenticated, "client session closed")
	}
	manager, ok := s.managers[t]
	if !ok {
		opts := append([]ManagerOption{WithManagerLogger(s.logger)}, s.hub.managerOpts...)
		manager = NewObservationManager(def, s.hub.store, s.hub.cfg.Tenant, opts...)
		s.managers[t] = manager
	}
	s.mu.Unlock()

	manager.Open(s.ctx)
	return manager, nil
}

// Subscribe streams a snapshot now and after every auth or role transition
// until ctx is done or the session closes.
func (s *ClientSession) Subscribe(ctx context.Context) <-chan SessionSnapshot {
	ch := make(chan SessionSnapshot, 8)
	snapshot := s.Snapshot("")

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch
	}
	id := s.nextID
	s.nextID++
	s.subscribers[id] = ch
	sendLatest(ch, snapshot)
	s.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-s.ctx.Done():
		}
		s.mu.Lock()
		if _, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(ch)
		}
		s.mu.Unlock()
	}()
	return ch
}

func (s *ClientSession) publish() {
	snapshot := s.Snapshot("")
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subscribers {
		sendLatest(ch, snapshot)
	}
}

func (s *ClientSession) closeManagers() {
	s.mu.Lock()
	managers := s.managers
	s.managers = make(map[models.ObservationType]*ObservationManager)
	s.mu.Unlock()
	for _, manager := range managers {
		manager.Close()
	}
}

// Close releases every subscription owned by the session.
func (s *ClientSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for id, ch := range s.subscribers {
		delete(s.subscribers, id)
		close(ch)
	}
	s.mu.Unlock()

	s.controller.Close()
	s.closeManagers()
	s.roles.Reset()
	s.cancel()
}

func (s *ClientSession) touch(now time.Time) {
	s.lastSeen.Store(now.UnixNano())
}

func (s *ClientSession) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, s.lastSeen.Load()))
}

// HubConfig tunes the session hub.
type HubConfig struct {
	Tenant          string
	TTL             time.Duration
	SweepInterval   time.Duration
	AnonymousSignIn bool
	// BootstrapToken is used as the custom token when a client supplies none.
	BootstrapToken string
}

// HubOption customises a SessionHub.
type HubOption func(*SessionHub)

// WithHubMetrics reports the live session count.
func WithHubMetrics(gauge sessionGauge) HubOption {
	return func(h *SessionHub) {
		h.gauge = gauge
	}
}

// WithManagerOptions applies opts to every observation manager the hub creates.
func WithManagerOptions(opts ...ManagerOption) HubOption {
	return func(h *SessionHub) {
		h.managerOpts = append(h.managerOpts, opts...)
	}
}

// WithAccessTable overrides the screen access matrix.
func WithAccessTable(table AccessTable) HubOption {
	return func(h *SessionHub) {
		if table != nil {
			h.access = table
		}
	}
}

// WithHubClock overrides the clock, mainly for tests.
func WithHubClock(now func() time.Time) HubOption {
	return func(h *SessionHub) {
		if now != nil {
			h.now = now
		}
	}
}

// SessionHub owns every live client session.
type SessionHub struct {
	authority   identityAuthority
	store       sessionStore
	defs        []Definition
	audit       AuditRecorder
	cfg         HubConfig
	logger      *zap.Logger
	gauge       sessionGauge
	managerOpts []ManagerOption
	access      AccessTable
	now         func() time.Time

	mu       sync.RWMutex
	sessions map[string]*ClientSession
}

// NewSessionHub constructs an empty hub.
func NewSessionHub(authority identityAuthority, store sessionStore, defs []Definition, audit AuditRecorder, cfg HubConfig, logger *zap.Logger, opts ...HubOption) *SessionHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	h := &SessionHub{
		authority: authority,
		store:     store,
		defs:      defs,
		audit:     audit,
		cfg:       cfg,
		logger:    logger,
		access:    DefaultAccessTable(),
		now:       time.Now,
		sessions:  make(map[string]*ClientSession),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Create opens a client session and bootstraps its identity.
func (h *SessionHub) Create(ctx context.Context, customToken string) *ClientSession {
	if customToken == "" {
		customToken = h.cfg.BootstrapToken
	}
	session := newClientSession(h, SessionOptions{CustomToken: customToken, AnonymousSignIn: h.cfg.AnonymousSignIn})

	h.mu.Lock()
	h.sessions[session.id] = session
	h.mu.Unlock()
	if h.gauge != nil {
		h.gauge.SessionOpened()
	}

	session.controller.Bootstrap(ctx)
	h.logger.Debug("client session created", zap.String("client_session", session.id))
	return session
}

// Get returns the session for id and marks it as used.
func (h *SessionHub) Get(id string) (*ClientSession, bool) {
	h.mu.RLock()
	session, ok := h.sessions[id]
	h.mu.RUnlock()
	if ok {
		session.touch(h.now())
	}
	return session, ok
}

// Remove closes and forgets the session.
func (h *SessionHub) Remove(id string) bool {
	h.mu.Lock()
	session, ok := h.sessions[id]
	delete(h.sessions, id)
	h.mu.Unlock()
	if !ok {
		return false
	}
	session.Close()
	if h.gauge != nil {
		h.gauge.SessionClosed()
	}
	return true
}

// Count returns the number of live sessions.
func (h *SessionHub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Sweep closes sessions idle for longer than the TTL and returns how many were evicted.
func (h *SessionHub) Sweep() int {
	now := h.now()
	h.mu.RLock()
	var expired []string
	for id, session := range h.sessions {
		if session.idleSince(now) > h.cfg.TTL {
			expired = append(expired, id)
		}
	}
	h.mu.RUnlock()

	evicted := 0
	for _, id := range expired {
		if h.Remove(id) {
			evicted++
		}
	}
	if evicted > 0 {
		h.logger.Info("client sessions evicted", zap.Int("count", evicted))
	}
	return evicted
}

// Run sweeps idle sessions until ctx is done, then closes every session.
func (h *SessionHub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.CloseAll()
			return
		case <-ticker.C:
			h.Sweep()
		}
	}
}

// CloseAll closes every session.
func (h *SessionHub) CloseAll() {
	h.mu.RLock()
	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	for _, id := range ids {
		h.Remove(id)
	}
}
