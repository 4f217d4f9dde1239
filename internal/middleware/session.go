package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-observation-api/internal/service"
	appErrors "github.com/noah-isme/sma-observation-api/pkg/errors"
	"github.com/noah-isme/sma-observation-api/pkg/logger"
	"github.com/noah-isme/sma-observation-api/pkg/response"
)

// ContextSessionKey is the gin context key storing the resolved client session.
const ContextSessionKey = "clientSession"

// SessionQueryKey carries the session id for clients that cannot set headers, such as EventSource.
const SessionQueryKey = "session"

// SessionLookup finds live client sessions by id.
type SessionLookup interface {
	Get(id string) (*service.ClientSession, bool)
}

// ClientSession requires a live client session named by the X-Client-Session
// header or the session query parameter.
func ClientSession(hub SessionLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(logger.SessionHeader)
		if id == "" {
			id = c.Query(SessionQueryKey)
		}
		if id == "" {
			response.Abort(c, appErrors.Clone(appErrors.ErrUnauthenticated, "missing client session"))
			return
		}

		session, ok := hub.Get(id)
		if !ok {
			response.Abort(c, appErrors.Clone(appErrors.ErrUnauthenticated, "unknown or expired client session"))
			return
		}

		c.Set(ContextSessionKey, session)
		c.Writer.Header().Set(logger.SessionHeader, id)
		c.Next()
	}
}

// SessionFromContext returns the session stored by ClientSession.
func SessionFromContext(c *gin.Context) *service.ClientSession {
	value, exists := c.Get(ContextSessionKey)
	if !exists {
		return nil
	}
	session, ok := value.(*service.ClientSession)
	if !ok {
		return nil
	}
	return session
}
