package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-observation-api/internal/models"
	appErrors "github.com/noah-isme/sma-observation-api/pkg/errors"
)

const usersSchema = `
CREATE TABLE IF NOT EXISTS identity_users (
	id TEXT PRIMARY KEY,
	email TEXT UNIQUE,
	password_hash TEXT NOT NULL DEFAULT '',
	email_verified BOOLEAN NOT NULL DEFAULT FALSE,
	anonymous BOOLEAN NOT NULL DEFAULT FALSE,
	verified_at TIMESTAMPTZ,
	last_sign_in TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

const userColumns = `id, COALESCE(email, '') AS email, password_hash, email_verified, anonymous, verified_at, last_sign_in, created_at, updated_at`

const uniqueViolation = "23505"

// UserRepository stores identity users in postgres.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// EnsureSchema creates the users table when missing.
func (r *UserRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, usersSchema); err != nil {
		return fmt.Errorf("ensure users schema: %w", err)
	}
	return nil
}

// Create inserts a user. A taken email address yields ErrEmailInUse.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	const query = `INSERT INTO identity_users (id, email, password_hash, email_verified, anonymous, verified_at, last_sign_in, created_at, updated_at)
VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.db.ExecContext(ctx, query,
		user.ID, user.Email, user.PasswordHash, user.EmailVerified, user.Anonymous,
		user.VerifiedAt, user.LastSignIn, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return appErrors.Clone(appErrors.ErrEmailInUse, "")
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// FindByEmail returns a user by email address.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM identity_users WHERE email = $1 LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, email); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	return &user, nil
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM identity_users WHERE id = $1 LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &user, nil
}

// MarkVerified flags the email address of a user as verified.
func (r *UserRepository) MarkVerified(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE identity_users SET email_verified = TRUE, verified_at = $2, updated_at = $2 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("mark user verified: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateLastSignIn updates the last_sign_in timestamp for a user.
func (r *UserRepository) UpdateLastSignIn(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE identity_users SET last_sign_in = $2, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("update last sign in: %w", err)
	}
	return nil
}
