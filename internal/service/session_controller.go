package service

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-observation-api/internal/models"
	appErrors "github.com/noah-isme/sma-observation-api/pkg/errors"
)

// SessionOptions configures how a session bootstraps.
type SessionOptions struct {
	CustomToken     string
	AnonymousSignIn bool
}

// SessionState is a snapshot of the authentication state machine.
type SessionState struct {
	State     models.AuthState  `json:"state"`
	Principal *models.Principal `json:"principal,omitempty"`
	LastError error             `json:"-"`
	Notice    string            `json:"notice,omitempty"`
}

// SessionControllerOption customises a SessionController.
type SessionControllerOption func(*SessionController)

// WithSessionLogger sets the controller logger.
func WithSessionLogger(logger *zap.Logger) SessionControllerOption {
	return func(c *SessionController) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithAsyncRunner replaces the goroutine launcher used for fire-and-forget work.
func WithAsyncRunner(run func(func())) SessionControllerOption {
	return func(c *SessionController) {
		if run != nil {
			c.run = run
		}
	}
}

// SessionController owns the authentication state of one client session.
type SessionController struct {
	gateway IdentityGateway
	opts    SessionOptions
	logger  *zap.Logger
	run     func(func())

	once sync.Once

	mu          sync.RWMutex
	state       models.AuthState
	principal   *models.Principal
	lastErr     error
	notice      string
	resetHooks  []func()
	changeHooks []func(*models.Principal)
	observers   map[int]chan *models.Principal
	nextID      int
	unsubscribe func()
	closed      bool
}

// NewSessionController builds a controller in the AuthPending state.
func NewSessionController(gateway IdentityGateway, opts SessionOptions, options ...SessionControllerOption) *SessionController {
	c := &SessionController{
		gateway:   gateway,
		opts:      opts,
		logger:    zap.NewNop(),
		run:       func(fn func()) { go fn() },
		state:     models.AuthPending,
		observers: make(map[int]chan *models.Principal),
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// Bootstrap attempts the silent sign-in once and then starts following the
// gateway. Sign-in failures are logged and leave the session unauthenticated.
func (c *SessionController) Bootstrap(ctx context.Context) {
	c.once.Do(func() {
		var err error
		switch {
		case c.opts.CustomToken != "":
			_, err = c.gateway.SignInWithToken(ctx, c.opts.CustomToken)
		case c.opts.AnonymousSignIn:
			_, err = c.gateway.SignInAnonymously(ctx)
		}
		if err != nil {
			c.logger.Warn("silent sign in failed", zap.Error(err))
		}

		unsubscribe := c.gateway.OnAuthChange(c.handleAuthChange)
		c.mu.Lock()
		c.unsubscribe = unsubscribe
		c.mu.Unlock()
	})
}

// OnReset registers fn to run whenever authentication is lost.
func (c *SessionController) OnReset(fn func()) {
	c.mu.Lock()
	c.resetHooks = append(c.resetHooks, fn)
	c.mu.Unlock()
}

// OnPrincipalChange registers fn for every principal emission, including refreshes.
func (c *SessionController) OnPrincipalChange(fn func(*models.Principal)) {
	c.mu.Lock()
	c.changeHooks = append(c.changeHooks, fn)
	c.mu.Unlock()
}

// Observe returns a channel that yields the current principal and every later
// transition until ctx is done. Slow readers only miss intermediate values.
func (c *SessionController) Observe(ctx context.Context) <-chan *models.Principal {
	ch := make(chan *models.Principal, 8)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch
	}
	id := c.nextID
	c.nextID++
	c.observers[id] = ch
	if c.state != models.AuthPending {
		ch <- c.principal.Clone()
	}
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.mu.Lock()
		if _, ok := c.observers[id]; ok {
			delete(c.observers, id)
			close(ch)
		}
		c.mu.Unlock()
	}()
	return ch
}

// State returns a snapshot of the controller.
func (c *SessionController) State() SessionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return SessionState{State: c.state, Principal: c.principal.Clone(), LastError: c.lastErr, Notice: c.notice}
}

// Principal returns the current principal or nil.
func (c *SessionController) Principal() *models.Principal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.principal.Clone()
}

// SignIn authenticates with email and password.
func (c *SessionController) SignIn(ctx context.Context, email, password string) error {
	if _, err := c.gateway.SignInWithPassword(ctx, email, password); err != nil {
		return c.fail(asAuthError(err))
	}
	c.clear()
	return nil
}

// SignUp registers the user and sends the verification email. A failed send is
// recorded as a notice and does not fail the sign-up.
func (c *SessionController) SignUp(ctx context.Context, email, password string) error {
	principal, err := c.gateway.SignUp(ctx, email, password)
	if err != nil {
		return c.fail(asAuthError(err))
	}
	c.clear()
	if err := c.gateway.SendVerification(ctx, principal); err != nil {
		c.logger.Warn("verification email not sent", zap.String("user_id", principal.ID), zap.Error(err))
		c.mu.Lock()
		c.notice = "account created but the verification email could not be sent"
		c.mu.Unlock()
	}
	return nil
}

// SendVerification resends the verification email for the current principal.
func (c *SessionController) SendVerification(ctx context.Context) error {
	principal := c.Principal()
	if principal == nil {
		return appErrors.Clone(appErrors.ErrUnauthenticated, "")
	}
	return c.gateway.SendVerification(ctx, principal)
}

// SignOut signs out in the background. Failures are logged and kept as LastError.
func (c *SessionController) SignOut(ctx context.Context) {
	signOutCtx := context.WithoutCancel(ctx)
	c.run(func() {
		if err := c.gateway.SignOut(signOutCtx); err != nil {
			c.logger.Warn("sign out failed", zap.Error(err))
			c.fail(appErrors.WrapAs(appErrors.ErrIdentityUnavailable, err, "sign out failed"))
		}
	})
}

// RefreshVerification reloads the principal so a freshly verified email is
// trusted, then re-runs principal change hooks.
func (c *SessionController) RefreshVerification(ctx context.Context) (*models.Principal, error) {
	current := c.Principal()
	if current == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthenticated, "")
	}
	reloaded, err := c.gateway.ReloadPrincipal(ctx, current)
	if err != nil {
		return nil, c.fail(asAuthError(err))
	}

	c.mu.Lock()
	if c.principal == nil || c.principal.ID != reloaded.ID {
		c.mu.Unlock()
		return nil, appErrors.Clone(appErrors.ErrUnauthenticated, "session changed during refresh")
	}
	c.principal = reloaded.Clone()
	c.lastErr = nil
	hooks := append([]func(*models.Principal){}, c.changeHooks...)
	c.broadcastLocked(reloaded)
	c.mu.Unlock()

	for _, hook := range hooks {
		hook(reloaded.Clone())
	}
	return reloaded.Clone(), nil
}

// Close stops following the gateway and closes every observer channel.
func (c *SessionController) Close() {
	c.mu.Lock()
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.closed = true
	for id, ch := range c.observers {
		delete(c.observers, id)
		close(ch)
	}
	c.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

func (c *SessionController) handleAuthChange(principal *models.Principal) {
	c.mu.Lock()
	c.principal = principal.Clone()
	if principal == nil {
		c.state = models.AuthUnauthenticated
		c.notice = ""
	} else {
		c.state = models.AuthAuthenticated
	}
	resets := append([]func(){}, c.resetHooks...)
	hooks := append([]func(*models.Principal){}, c.changeHooks...)
	c.broadcastLocked(principal)
	c.mu.Unlock()

	if principal == nil {
		for _, reset := range resets {
			reset()
		}
	}
	for _, hook := range hooks {
		hook(principal.Clone())
	}
}

func (c *SessionController) broadcastLocked(principal *models.Principal) {
	for _, ch := range c.observers {
		sendLatest(ch, principal.Clone())
	}
}

func (c *SessionController) fail(err error) error {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	return err
}

func (c *SessionController) clear() {
	c.mu.Lock()
	c.lastErr = nil
	c.mu.Unlock()
}

// sendLatest drops the oldest pending value when the observer lags behind.
func sendLatest[T any](ch chan T, value T) {
	for {
		select {
		case ch <- value:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func asAuthError(err error) error {
	if !appErrors.IsKind(err, appErrors.KindInternal) {
		return err
	}
	return appErrors.WrapAs(appErrors.ErrIdentityUnavailable, err, "identity service failed")
}
