package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind groups error codes by how callers are expected to react to them.
type Kind string

const (
	// KindAuth covers user-correctable credential problems. Never retried.
	KindAuth Kind = "auth"
	// KindPermission is raised locally before any write is attempted.
	KindPermission Kind = "permission"
	// KindNotVerified blocks role assignment and record writes.
	KindNotVerified Kind = "not_verified"
	// KindStore covers transient backend failures.
	KindStore      Kind = "store"
	KindConflict   Kind = "conflict"
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindInternal   Kind = "internal"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Kind    Kind   `json:"kind"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors sharing the same code so sentinel comparisons survive Clone and Wrap.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Kind: kindForStatus(status)}
}

// NewKind creates an error with an explicit kind.
func NewKind(kind Kind, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Kind: kind}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Kind: kindForStatus(status), Err: err}
}

// WrapAs attaches err as the cause of a copy of base.
func WrapAs(base *Error, err error, message string) *Error {
	clone := Clone(base, message)
	if clone != nil {
		clone.Err = err
	}
	return clone
}

// Predefined errors for common scenarios.
var (
	ErrInvalidCredentials = NewKind(KindAuth, "INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid email or password")
	ErrEmailInUse         = NewKind(KindAuth, "EMAIL_IN_USE", http.StatusConflict, "email address is already registered")
	ErrWeakPassword       = NewKind(KindAuth, "WEAK_PASSWORD", http.StatusUnprocessableEntity, "password is too weak")
	ErrInvalidToken       = NewKind(KindAuth, "INVALID_TOKEN", http.StatusUnauthorized, "token is invalid or expired")
	ErrUnauthenticated    = NewKind(KindAuth, "UNAUTHENTICATED", http.StatusUnauthorized, "sign in required")

	ErrPermissionDenied    = NewKind(KindPermission, "PERMISSION_DENIED", http.StatusForbidden, "role is not allowed to perform this action")
	ErrRoleAlreadyAssigned = NewKind(KindPermission, "ROLE_ALREADY_ASSIGNED", http.StatusForbidden, "role has already been assigned")

	ErrNotVerified = NewKind(KindNotVerified, "EMAIL_NOT_VERIFIED", http.StatusForbidden, "email address is not verified")

	ErrStoreUnavailable    = NewKind(KindStore, "STORE_UNAVAILABLE", http.StatusServiceUnavailable, "document store is unavailable")
	ErrIdentityUnavailable = NewKind(KindStore, "IDENTITY_UNAVAILABLE", http.StatusServiceUnavailable, "identity service is unavailable")

	ErrConflict         = New("CONFLICT", http.StatusConflict, "conflict")
	ErrDuplicateRequest = New("DUPLICATE_REQUEST", http.StatusConflict, "an open request already exists for this period")
	ErrAlreadyDecided   = New("ALREADY_DECIDED", http.StatusConflict, "request has already been decided")

	ErrValidation    = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInvalidBucket = New("INVALID_BUCKET", http.StatusBadRequest, "invalid bucket key")

	ErrNotFound     = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrUnauthorized = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrForbidden    = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrInternal     = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrRateLimited  = New("RATE_LIMITED", http.StatusTooManyRequests, "too many requests")
	ErrCacheMiss    = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// KindOf returns the kind of err, or KindInternal for untyped errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return FromError(err).Kind
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func kindForStatus(status int) Kind {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return KindValidation
	case http.StatusUnauthorized:
		return KindAuth
	case http.StatusForbidden:
		return KindPermission
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusConflict, http.StatusPreconditionFailed:
		return KindConflict
	case http.StatusServiceUnavailable:
		return KindStore
	default:
		return KindInternal
	}
}
