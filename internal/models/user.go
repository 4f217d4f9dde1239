package models

import "time"

// User is an identity record owned by the identity authority.
type User struct {
	ID            string     `db:"id" json:"id"`
	Email         string     `db:"email" json:"email,omitempty"`
	PasswordHash  string     `db:"password_hash" json:"-"`
	EmailVerified bool       `db:"email_verified" json:"emailVerified"`
	Anonymous     bool       `db:"anonymous" json:"anonymous"`
	VerifiedAt    *time.Time `db:"verified_at" json:"verifiedAt,omitempty"`
	LastSignIn    *time.Time `db:"last_sign_in" json:"lastSignIn,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updatedAt"`
}

// Principal returns the session view of the user.
func (u *User) Principal() *Principal {
	if u == nil {
		return nil
	}
	return &Principal{ID: u.ID, Email: u.Email, EmailVerified: u.EmailVerified, Anonymous: u.Anonymous}
}
