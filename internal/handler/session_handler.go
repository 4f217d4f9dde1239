package handler

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-observation-api/internal/dto"
	"github.com/noah-isme/sma-observation-api/internal/models"
	"github.com/noah-isme/sma-observation-api/internal/service"
	appErrors "github.com/noah-isme/sma-observation-api/pkg/errors"
	"github.com/noah-isme/sma-observation-api/pkg/logger"
	"github.com/noah-isme/sma-observation-api/pkg/response"
)

type sessionHub interface {
	Create(ctx context.Context, customToken string) *service.ClientSession
	Remove(id string) bool
}

type emailVerifier interface {
	VerifyEmail(ctx context.Context, token string) (*models.User, error)
}

// SessionHandler exposes client session lifecycle, authentication and role selection.
type SessionHandler struct {
	hub       sessionHub
	verifier  emailVerifier
	logger    *zap.Logger
	heartbeat time.Duration
}

// NewSessionHandler constructs a session handler.
func NewSessionHandler(hub sessionHub, verifier emailVerifier, logger *zap.Logger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{hub: hub, verifier: verifier, logger: logger, heartbeat: 25 * time.Second}
}

// Create godoc
// @Summary Open client session
// @Description Create a client session and run its silent sign-in
// @Tags Sessions
// @Accept json
// @Produce json
// @Param payload body dto.CreateSessionRequest false "Optional custom token"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /sessions [post]
func (h *SessionHandler) Create(c *gin.Context) {
	var req dto.CreateSessionRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req, "session") {
		return
	}

	session := h.hub.Create(c.Request.Context(), req.CustomToken)
	c.Header(logger.SessionHeader, session.ID())
	response.Created(c, sessionResponse(session.Snapshot("")))
}

// Get godoc
// @Summary Current session state
// @Description Return auth state, role state and the screen resolved for the optional screen query
// @Tags Sessions
// @Produce json
// @Param X-Client-Session header string true "Client session id"
// @Param screen query string false "Requested screen"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /session [get]
func (h *SessionHandler) Get(c *gin.Context) {
	session := sessionFromContext(c)
	if session == nil {
		return
	}
	response.OK(c, sessionResponse(session.Snapshot(models.Screen(c.Query("screen")))))
}

// Delete godoc
// @Summary Close client session
// @Tags Sessions
// @Param X-Client-Session header string true "Client session id"
// @Success 204
// @Router /session [delete]
func (h *SessionHandler) Delete(c *gin.Context) {
	session := sessionFromContext(c)
	if session == nil {
		return
	}
	h.hub.Remove(session.ID())
	response.NoContent(c)
}

// Events godoc
// @Summary Stream session transitions
// @Description Server-sent events carrying the session state after each auth or role transition
// @Tags Sessions
// @Produce text/event-stream
// @Param session query string true "Client session id"
// @Router /session/events [get]
func (h *SessionHandler) Events(c *gin.Context) {
	session := sessionFromContext(c)
	if session == nil {
		return
	}
	ctx := c.Request.Context()
	updates := session.Subscribe(ctx)
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(io.Writer) bool {
		select {
		case snapshot, open := <-updates:
			if !open {
				return false
			}
			c.SSEvent("session", sessionResponse(snapshot))
			return true
		case <-ticker.C:
			c.SSEvent("ping", time.Now().UTC())
			return true
		case <-ctx.Done():
			return false
		}
	})
}

// SignIn godoc
// @Summary Sign in
// @Description Authenticate the client session with email and password
// @Tags Sessions
// @Accept json
// @Produce json
// @Param X-Client-Session header string true "Client session id"
// @Param payload body models.SignInRequest true "Credentials"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 429 {object} response.Envelope
// @Router /session/sign-in [post]
func (h *SessionHandler) SignIn(c *gin.Context) {
	session := sessionFromContext(c)
	if session == nil {
		return
	}
	var req models.SignInRequest
	if !bindJSON(c, &req, "sign in") {
		return
	}
	if err := session.Controller().SignIn(c.Request.Context(), req.Email, req.Password); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, sessionResponse(session.Snapshot("")))
}

// SignUp godoc
// @Summary Sign up
// @Description Register an account on the client session and send the verification email
// @Tags Sessions
// @Accept json
// @Produce json
// @Param X-Client-Session header string true "Client session id"
// @Param payload body models.SignUpRequest true "Credentials"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /session/sign-up [post]
func (h *SessionHandler) SignUp(c *gin.Context) {
	session := sessionFromContext(c)
	if session == nil {
		return
	}
	var req models.SignUpRequest
	if !bindJSON(c, &req, "sign up") {
		return
	}
	if err := session.Controller().SignUp(c.Request.Context(), req.Email, req.Password); err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, sessionResponse(session.Snapshot("")))
}

// SignOut godoc
// @Summary Sign out
// @Description Sign out in the background; failures surface as auth.lastError
// @Tags Sessions
// @Produce json
// @Param X-Client-Session header string true "Client session id"
// @Success 202 {object} response.Envelope
// @Router /session/sign-out [post]
func (h *SessionHandler) SignOut(c *gin.Context) {
	session := sessionFromContext(c)
	if session == nil {
		return
	}
	session.Controller().SignOut(c.Request.Context())
	response.JSON(c, http.StatusAccepted, sessionResponse(session.Snapshot("")))
}

// SendVerification godoc
// @Summary Resend verification email
// @Tags Sessions
// @Produce json
// @Param X-Client-Session header string true "Client session id"
// @Success 202 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /session/verification [post]
func (h *SessionHandler) SendVerification(c *gin.Context) {
	session := sessionFromContext(c)
	if session == nil {
		return
	}
	if err := session.Controller().SendVerification(c.Request.Context()); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, sessionResponse(session.Snapshot("")))
}

// RefreshVerification godoc
// @Summary Refresh verification state
// @Description Reload the principal so a freshly verified email is trusted
// @Tags Sessions
// @Produce json
// @Param X-Client-Session header string true "Client session id"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /session/verification/refresh [post]
func (h *SessionHandler) RefreshVerification(c *gin.Context) {
	session := sessionFromContext(c)
	if session == nil {
		return
	}
	if _, err := session.Controller().RefreshVerification(c.Request.Context()); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, sessionResponse(session.Snapshot("")))
}

// AssignRole godoc
// @Summary Select role
// @Description Write the role of the signed-in principal once. Accepts a role code or its Arabic label.
// @Tags Sessions
// @Accept json
// @Produce json
// @Param X-Client-Session header string true "Client session id"
// @Param payload body models.AssignRoleRequest true "Role"
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /session/role [post]
func (h *SessionHandler) AssignRole(c *gin.Context) {
	session := sessionFromContext(c)
	if session == nil {
		return
	}
	var req models.AssignRoleRequest
	if !bindJSON(c, &req, "role") {
		return
	}
	role := req.Role
	if parsed, ok := models.ParseRole(string(req.Role)); ok {
		role = parsed
	}

	profile, err := session.AssignRole(c.Request.Context(), role)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, profile)
}

// Screen godoc
// @Summary Resolve screen
// @Description Run the screen router for the requested screen
// @Tags Sessions
// @Produce json
// @Param X-Client-Session header string true "Client session id"
// @Param screen path string true "Requested screen"
// @Success 200 {object} response.Envelope
// @Router /screens/{screen} [get]
func (h *SessionHandler) Screen(c *gin.Context) {
	session := sessionFromContext(c)
	if session == nil {
		return
	}
	response.OK(c, screenView(session.Route(models.Screen(c.Param("screen")))))
}

// VerifyEmail godoc
// @Summary Verify email
// @Description Consume the token sent in the verification email
// @Tags Sessions
// @Produce json
// @Param token query string true "Verification token"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/verify [get]
func (h *SessionHandler) VerifyEmail(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	user, err := h.verifier.VerifyEmail(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.logger.Info("email verified", zap.String("user_id", user.ID))
	response.OK(c, dto.VerifyEmailResponse{UserID: user.ID, Email: user.Email, VerifiedAt: user.VerifiedAt})
}
