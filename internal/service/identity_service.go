package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/sma-observation-api/internal/models"
	appErrors "github.com/noah-isme/sma-observation-api/pkg/errors"
)

type identityUserStore interface {
	Create(ctx context.Context, user *models.User) error
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	MarkVerified(ctx context.Context, id string, at time.Time) error
	UpdateLastSignIn(ctx context.Context, id string, at time.Time) error
}

type verificationTokenStore interface {
	Save(ctx context.Context, token, userID string, ttl time.Duration) error
	Consume(ctx context.Context, token string) (string, error)
}

// VerificationSender delivers verification links.
type VerificationSender interface {
	SendVerification(ctx context.Context, email, link string) error
}

// IdentityConfig tunes the identity authority.
type IdentityConfig struct {
	JWTSecret         string
	Issuer            string
	CustomTokenTTL    time.Duration
	PasswordMinLength int
	VerificationTTL   time.Duration
	VerifyBaseURL     string
}

// CustomClaims are carried by custom sign-in tokens.
type CustomClaims struct {
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	jwt.RegisteredClaims
}

// AuthEventObserver counts identity outcomes.
type AuthEventObserver interface {
	ObserveAuthEvent(event string, err error)
}

// IdentityOption customises an IdentityService.
type IdentityOption func(*IdentityService)

// WithAuthEvents reports sign-in, sign-up and verification outcomes to observer.
func WithAuthEvents(observer AuthEventObserver) IdentityOption {
	return func(s *IdentityService) {
		s.events = observer
	}
}

// IdentityService is the authority behind every client session's identity gateway.
type IdentityService struct {
	users     identityUserStore
	tokens    verificationTokenStore
	sender    VerificationSender
	audit     AuditRecorder
	validator *validator.Validate
	logger    *zap.Logger
	config    IdentityConfig
	events    AuthEventObserver
	now       func() time.Time
}

// NewIdentityService constructs the identity authority.
func NewIdentityService(users identityUserStore, tokens verificationTokenStore, sender VerificationSender, audit AuditRecorder, logger *zap.Logger, cfg IdentityConfig, opts ...IdentityOption) *IdentityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PasswordMinLength <= 0 {
		cfg.PasswordMinLength = 6
	}
	if cfg.CustomTokenTTL <= 0 {
		cfg.CustomTokenTTL = time.Hour
	}
	if cfg.VerificationTTL <= 0 {
		cfg.VerificationTTL = 24 * time.Hour
	}
	s := &IdentityService{
		users:     users,
		tokens:    tokens,
		sender:    sender,
		audit:     audit,
		validator: validator.New(),
		logger:    logger,
		config:    cfg,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *IdentityService) observeEvent(event string, err error) {
	if s.events != nil {
		s.events.ObserveAuthEvent(event, err)
	}
}

// SignUp registers an email/password user.
func (s *IdentityService) SignUp(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.signUp(ctx, email, password)
	s.observeEvent("sign_up", err)
	return user, err
}

func (s *IdentityService) signUp(ctx context.Context, email, password string) (*models.User, error) {
	email = normalizeEmail(email)
	if err := s.validator.Var(email, "required,email"); err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrInvalidCredentials, err, "a valid email address is required")
	}
	if len(password) < s.config.PasswordMinLength {
		return nil, appErrors.Clone(appErrors.ErrWeakPassword, fmt.Sprintf("password must be at least %d characters", s.config.PasswordMinLength))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}
	now := s.now().UTC()
	user := &models.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		LastSignIn:   &now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, identityStoreError(err, "failed to create user")
	}
	s.logger.Info("user signed up", zap.String("user_id", user.ID))
	return user, nil
}

// SignInWithPassword authenticates email/password credentials.
func (s *IdentityService) SignInWithPassword(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.signInWithPassword(ctx, email, password)
	s.observeEvent("sign_in", err)
	return user, err
}

func (s *IdentityService) signInWithPassword(ctx context.Context, email, password string) (*models.User, error) {
	email = normalizeEmail(email)
	if err := s.validator.Struct(models.SignInRequest{Email: email, Password: password}); err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrInvalidCredentials, err, "a valid email and password are required")
	}
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
		}
		return nil, identityStoreError(err, "failed to fetch user")
	}
	if user.Anonymous || user.PasswordHash == "" {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
	}
	s.touch(ctx, user)
	return user, nil
}

// SignInAnonymously mints a fresh anonymous user.
func (s *IdentityService) SignInAnonymously(ctx context.Context) (*models.User, error) {
	user, err := s.signInAnonymously(ctx)
	s.observeEvent("sign_in_anonymous", err)
	return user, err
}

func (s *IdentityService) signInAnonymously(ctx context.Context) (*models.User, error) {
	now := s.now().UTC()
	user := &models.User{
		ID:         uuid.NewString(),
		Anonymous:  true,
		LastSignIn: &now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, identityStoreError(err, "failed to create anonymous user")
	}
	return user, nil
}

// IssueCustomToken signs a token that SignInWithToken accepts for user.
func (s *IdentityService) IssueCustomToken(user *models.User) (string, error) {
	if user == nil || user.ID == "" {
		return "", appErrors.Clone(appErrors.ErrValidation, "user id is required")
	}
	issuedAt := s.now().UTC()
	claims := &CustomClaims{
		Email:         user.Email,
		EmailVerified: user.EmailVerified,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(s.config.CustomTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.config.JWTSecret))
}

// SignInWithToken exchanges a custom token for its user, creating the user on
// first use.
func (s *IdentityService) SignInWithToken(ctx context.Context, tokenString string) (*models.User, error) {
	user, err := s.signInWithToken(ctx, tokenString)
	s.observeEvent("sign_in_token", err)
	return user, err
}

func (s *IdentityService) signInWithToken(ctx context.Context, tokenString string) (*models.User, error) {
	claims := &CustomClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.JWTSecret), nil
	}, jwt.WithIssuer(s.config.Issuer))
	if err != nil || !token.Valid || claims.Subject == "" {
		return nil, appErrors.WrapAs(appErrors.ErrInvalidToken, err, "")
	}

	user, err := s.users.FindByID(ctx, claims.Subject)
	if err == nil {
		s.touch(ctx, user)
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, identityStoreError(err, "failed to fetch user")
	}

	now := s.now().UTC()
	user = &models.User{
		ID:            claims.Subject,
		Email:         normalizeEmail(claims.Email),
		EmailVerified: claims.EmailVerified,
		LastSignIn:    &now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if user.EmailVerified {
		user.VerifiedAt = &now
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, identityStoreError(err, "failed to create user")
	}
	return user, nil
}

// SendVerification mails a single-use verification link to the user.
func (s *IdentityService) SendVerification(ctx context.Context, userID string) error {
	user, err := s.Reload(ctx, userID)
	if err != nil {
		return err
	}
	if user.Anonymous || user.Email == "" {
		return appErrors.Clone(appErrors.ErrValidation, "anonymous users cannot verify an email address")
	}
	if user.EmailVerified {
		return nil
	}
	if s.tokens == nil || s.sender == nil {
		return appErrors.Clone(appErrors.ErrIdentityUnavailable, "email verification is not configured")
	}

	token, err := randomToken()
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create verification token")
	}
	if err := s.tokens.Save(ctx, token, user.ID, s.config.VerificationTTL); err != nil {
		return identityStoreError(err, "failed to store verification token")
	}
	link := s.config.VerifyBaseURL + "/auth/verify?token=" + url.QueryEscape(token)
	if err := s.sender.SendVerification(ctx, user.Email, link); err != nil {
		return appErrors.WrapAs(appErrors.ErrIdentityUnavailable, err, "failed to send verification email")
	}
	return nil
}

// VerifyEmail consumes a verification token and marks its user verified.
func (s *IdentityService) VerifyEmail(ctx context.Context, token string) (*models.User, error) {
	user, err := s.verifyEmail(ctx, token)
	s.observeEvent("verify_email", err)
	return user, err
}

func (s *IdentityService) verifyEmail(ctx context.Context, token string) (*models.User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, appErrors.Clone(appErrors.ErrInvalidToken, "verification token is required")
	}
	if s.tokens == nil {
		return nil, appErrors.Clone(appErrors.ErrIdentityUnavailable, "email verification is not configured")
	}
	userID, err := s.tokens.Consume(ctx, token)
	if err != nil {
		if errors.Is(err, appErrors.ErrInvalidToken) {
			return nil, appErrors.Clone(appErrors.ErrInvalidToken, "verification link is invalid or expired")
		}
		return nil, identityStoreError(err, "failed to read verification token")
	}
	now := s.now().UTC()
	if err := s.users.MarkVerified(ctx, userID, now); err != nil {
		return nil, identityStoreError(err, "failed to mark email verified")
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, &models.AuditLog{
			UserID:     userID,
			Action:     models.AuditActionEmailVerified,
			Resource:   "identity",
			ResourceID: userID,
		}); err != nil {
			s.logger.Warn("failed to record verification audit log", zap.Error(err))
		}
	}
	return s.Reload(ctx, userID)
}

// Reload returns the current authoritative view of a user.
func (s *IdentityService) Reload(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthenticated, "user no longer exists")
		}
		return nil, identityStoreError(err, "failed to load user")
	}
	return user, nil
}

func (s *IdentityService) touch(ctx context.Context, user *models.User) {
	now := s.now().UTC()
	if err := s.users.UpdateLastSignIn(ctx, user.ID, now); err != nil {
		s.logger.Warn("failed to update last sign in", zap.Error(err))
		return
	}
	user.LastSignIn = &now
}

func identityStoreError(err error, message string) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return appErrors.WrapAs(appErrors.ErrIdentityUnavailable, err, message)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
