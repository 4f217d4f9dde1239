package dto

import (
	"time"

	"github.com/noah-isme/sma-observation-api/internal/models"
	appErrors "github.com/noah-isme/sma-observation-api/pkg/errors"
)

// CreateSessionRequest captures POST /sessions payload.
type CreateSessionRequest struct {
	CustomToken string `json:"customToken"`
}

// AuthView exposes the session controller state.
type AuthView struct {
	State     models.AuthState  `json:"state"`
	Principal *models.Principal `json:"principal,omitempty"`
	Notice    string            `json:"notice,omitempty"`
	LastError *appErrors.Error  `json:"lastError,omitempty"`
}

// RoleView exposes the role resolver state.
type RoleView struct {
	Status models.RoleStatus `json:"status"`
	Role   models.Role       `json:"role,omitempty"`
	Label  string            `json:"label,omitempty"`
	Error  *appErrors.Error  `json:"error,omitempty"`
}

// ScreenView is the screen router decision.
type ScreenView struct {
	Screen    models.Screen `json:"screen"`
	Requested models.Screen `json:"requested,omitempty"`
	Allowed   bool          `json:"allowed"`
}

// SessionResponse is returned by every session endpoint.
type SessionResponse struct {
	ID     string     `json:"id"`
	Auth   AuthView   `json:"auth"`
	Role   RoleView   `json:"role"`
	Screen ScreenView `json:"screen"`
	At     time.Time  `json:"at"`
}

// VerifyEmailResponse reports a consumed verification token.
type VerifyEmailResponse struct {
	UserID     string     `json:"userId"`
	Email      string     `json:"email"`
	VerifiedAt *time.Time `json:"verifiedAt,omitempty"`
}
