package service

import (
	"context"
	"sync"

	"github.com/noah-isme/sma-observation-api/internal/models"
	appErrors "github.com/noah-isme/sma-observation-api/pkg/errors"
)

// IdentityGateway is the identity capability one client session consumes.
type IdentityGateway interface {
	SignInAnonymously(ctx context.Context) (*models.Principal, error)
	SignInWithToken(ctx context.Context, token string) (*models.Principal, error)
	SignInWithPassword(ctx context.Context, email, password string) (*models.Principal, error)
	SignUp(ctx context.Context, email, password string) (*models.Principal, error)
	SendVerification(ctx context.Context, principal *models.Principal) error
	ReloadPrincipal(ctx context.Context, principal *models.Principal) (*models.Principal, error)
	SignOut(ctx context.Context) error
	// OnAuthChange delivers the current principal immediately and then every
	// change; nil means signed out.
	OnAuthChange(cb func(*models.Principal)) func()
}

type identityAuthority interface {
	SignUp(ctx context.Context, email, password string) (*models.User, error)
	SignInWithPassword(ctx context.Context, email, password string) (*models.User, error)
	SignInAnonymously(ctx context.Context) (*models.User, error)
	SignInWithToken(ctx context.Context, token string) (*models.User, error)
	SendVerification(ctx context.Context, userID string) error
	Reload(ctx context.Context, userID string) (*models.User, error)
}

// IdentityClient keeps the signed-in principal of one client session on top of
// the shared identity authority.
type IdentityClient struct {
	authority identityAuthority

	mu        sync.Mutex
	current   *models.Principal
	listeners map[int]func(*models.Principal)
	nextID    int
}

// NewIdentityClient builds a signed-out client.
func NewIdentityClient(authority identityAuthority) *IdentityClient {
	return &IdentityClient{authority: authority, listeners: make(map[int]func(*models.Principal))}
}

func (c *IdentityClient) SignInAnonymously(ctx context.Context) (*models.Principal, error) {
	return c.signIn(c.authority.SignInAnonymously(ctx))
}

func (c *IdentityClient) SignInWithToken(ctx context.Context, token string) (*models.Principal, error) {
	return c.signIn(c.authority.SignInWithToken(ctx, token))
}

func (c *IdentityClient) SignInWithPassword(ctx context.Context, email, password string) (*models.Principal, error) {
	return c.signIn(c.authority.SignInWithPassword(ctx, email, password))
}

// SignUp registers and signs in the new user.
func (c *IdentityClient) SignUp(ctx context.Context, email, password string) (*models.Principal, error) {
	return c.signIn(c.authority.SignUp(ctx, email, password))
}

func (c *IdentityClient) SendVerification(ctx context.Context, principal *models.Principal) error {
	if principal == nil {
		return appErrors.Clone(appErrors.ErrUnauthenticated, "")
	}
	return c.authority.SendVerification(ctx, principal.ID)
}

// ReloadPrincipal fetches the authoritative principal. It refreshes the cached
// principal without firing auth change listeners.
func (c *IdentityClient) ReloadPrincipal(ctx context.Context, principal *models.Principal) (*models.Principal, error) {
	if principal == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthenticated, "")
	}
	user, err := c.authority.Reload(ctx, principal.ID)
	if err != nil {
		return nil, err
	}
	reloaded := user.Principal()
	c.mu.Lock()
	if c.current != nil && c.current.ID == reloaded.ID {
		c.current = reloaded.Clone()
	}
	c.mu.Unlock()
	return reloaded, nil
}

func (c *IdentityClient) SignOut(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.set(nil)
	return nil
}

func (c *IdentityClient) OnAuthChange(cb func(*models.Principal)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = cb
	current := c.current.Clone()
	c.mu.Unlock()

	cb(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

// Current returns the signed-in principal or nil.
func (c *IdentityClient) Current() *models.Principal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current.Clone()
}

func (c *IdentityClient) signIn(user *models.User, err error) (*models.Principal, error) {
	if err != nil {
		return nil, err
	}
	principal := user.Principal()
	c.set(principal)
	return principal.Clone(), nil
}

func (c *IdentityClient) set(principal *models.Principal) {
	c.mu.Lock()
	c.current = principal.Clone()
	listeners := make([]func(*models.Principal), 0, len(c.listeners))
	for _, cb := range c.listeners {
		listeners = append(listeners, cb)
	}
	c.mu.Unlock()
	for _, cb := range listeners {
		cb(principal.Clone())
	}
}
