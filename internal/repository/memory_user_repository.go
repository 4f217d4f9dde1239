package repository

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/noah-isme/sma-observation-api/internal/models"
	appErrors "github.com/noah-isme/sma-observation-api/pkg/errors"
)

// MemoryUserRepository keeps identity users in process. It mirrors the
// postgres repository's error contract.
type MemoryUserRepository struct {
	mu      sync.RWMutex
	byID    map[string]models.User
	byEmail map[string]string
}

// NewMemoryUserRepository builds an empty repository.
func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{byID: make(map[string]models.User), byEmail: make(map[string]string)}
}

func (r *MemoryUserRepository) Create(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[user.ID]; ok {
		return appErrors.Clone(appErrors.ErrConflict, "user already exists")
	}
	if user.Email != "" {
		if _, ok := r.byEmail[user.Email]; ok {
			return appErrors.Clone(appErrors.ErrEmailInUse, "")
		}
		r.byEmail[user.Email] = user.ID
	}
	r.byID[user.ID] = *user
	return nil
}

func (r *MemoryUserRepository) FindByEmail(_ context.Context, email string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[email]
	if !ok {
		return nil, sql.ErrNoRows
	}
	user := r.byID[id]
	return &user, nil
}

func (r *MemoryUserRepository) FindByID(_ context.Context, id string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &user, nil
}

func (r *MemoryUserRepository) MarkVerified(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.byID[id]
	if !ok {
		return sql.ErrNoRows
	}
	user.EmailVerified = true
	user.VerifiedAt = &at
	user.UpdatedAt = at
	r.byID[id] = user
	return nil
}

func (r *MemoryUserRepository) UpdateLastSignIn(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.byID[id]
	if !ok {
		return sql.ErrNoRows
	}
	user.LastSignIn = &at
	user.UpdatedAt = at
	r.byID[id] = user
	return nil
}
