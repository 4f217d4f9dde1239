package models

// AuthState is the Session Controller state.
type AuthState string

const (
	AuthUnauthenticated AuthState = "unauthenticated"
	AuthPending         AuthState = "pending"
	AuthAuthenticated   AuthState = "authenticated"
)

// Principal is the authenticated identity of one client session.
type Principal struct {
	ID            string `json:"id"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"emailVerified"`
	Anonymous     bool   `json:"anonymous"`
}

// Clone returns a copy so callers cannot mutate shared session state.
func (p *Principal) Clone() *Principal {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}

// SignUpRequest carries email/password credentials.
type SignUpRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// SignInRequest carries email/password credentials.
type SignInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}
