package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	appErrors "github.com/noah-isme/sma-observation-api/pkg/errors"
)

// TokenRepository stores single-use verification tokens in redis with a TTL.
type TokenRepository struct {
	client redis.UniversalClient
	prefix string
}

// NewTokenRepository constructs a token repository namespaced by prefix.
func NewTokenRepository(client redis.UniversalClient, prefix string) *TokenRepository {
	return &TokenRepository{client: client, prefix: prefix}
}

func (r *TokenRepository) key(token string) string {
	return r.prefix + "verify:" + token
}

// Save stores token for userID until ttl elapses.
func (r *TokenRepository) Save(ctx context.Context, token, userID string, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.key(token), userID, ttl).Err(); err != nil {
		return fmt.Errorf("redis set verification token: %w", err)
	}
	return nil
}

// Consume returns the user of token and deletes it. Unknown or expired tokens
// yield ErrInvalidToken.
func (r *TokenRepository) Consume(ctx context.Context, token string) (string, error) {
	userID, err := r.client.GetDel(ctx, r.key(token)).Result()
	if errors.Is(err, redis.Nil) {
		return "", appErrors.ErrInvalidToken
	}
	if err != nil {
		return "", fmt.Errorf("redis consume verification token: %w", err)
	}
	return userID, nil
}

// MemoryTokenRepository is the in-process token store.
type MemoryTokenRepository struct {
	mu     sync.Mutex
	tokens map[string]memoryToken
	now    func() time.Time
}

type memoryToken struct {
	userID    string
	expiresAt time.Time
}

// NewMemoryTokenRepository builds an empty token store.
func NewMemoryTokenRepository() *MemoryTokenRepository {
	return &MemoryTokenRepository{tokens: make(map[string]memoryToken), now: time.Now}
}

func (r *MemoryTokenRepository) Save(_ context.Context, token, userID string, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[token] = memoryToken{userID: userID, expiresAt: r.now().Add(ttl)}
	return nil
}

func (r *MemoryTokenRepository) Consume(_ context.Context, token string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.tokens[token]
	delete(r.tokens, token)
	if !ok || r.now().After(stored.expiresAt) {
		return "", appErrors.ErrInvalidToken
	}
	return stored.userID, nil
}
