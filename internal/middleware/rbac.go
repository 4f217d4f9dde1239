package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-observation-api/internal/models"
	appErrors "github.com/noah-isme/sma-observation-api/pkg/errors"
	"github.com/noah-isme/sma-observation-api/pkg/response"
)

// RequireRoles lets through sessions whose verified principal holds one of
// roles. With no roles any assigned role passes.
func RequireRoles(roles ...models.Role) gin.HandlerFunc {
	allowed := make(map[models.Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return func(c *gin.Context) {
		session := SessionFromContext(c)
		if session == nil {
			response.Abort(c, appErrors.ErrUnauthenticated)
			return
		}
		actor := session.Actor()
		switch {
		case actor.PrincipalID == "":
			response.Abort(c, appErrors.ErrUnauthenticated)
			return
		case !actor.Verified:
			response.Abort(c, appErrors.ErrNotVerified)
			return
		case actor.Role == "":
			response.Abort(c, appErrors.Clone(appErrors.ErrPermissionDenied, "role has not been assigned"))
			return
		}

		if len(allowed) > 0 {
			if _, ok := allowed[actor.Role]; !ok {
				response.Abort(c, appErrors.ErrPermissionDenied)
				return
			}
		}
		c.Next()
	}
}
