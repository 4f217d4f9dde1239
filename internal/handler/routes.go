package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-observation-api/internal/middleware"
	"github.com/noah-isme/sma-observation-api/internal/models"
	"github.com/noah-isme/sma-observation-api/pkg/middleware/ratelimit"
)

// Routes bundles the handlers mounted under the API prefix.
type Routes struct {
	Sessions      *SessionHandler
	Observations  *ObservationHandler
	Reports       *ReportHandler
	Hub           middleware.SessionLookup
	AuthRateLimit int
}

// Register mounts every API route on group.
func (r Routes) Register(group *gin.RouterGroup) {
	authLimit := ratelimit.ByIP(r.AuthRateLimit, time.Minute)

	group.POST("/sessions", r.Sessions.Create)
	group.GET("/auth/verify", authLimit, r.Sessions.VerifyEmail)

	session := group.Group("", middleware.ClientSession(r.Hub))
	session.GET("/session", r.Sessions.Get)
	session.DELETE("/session", r.Sessions.Delete)
	session.GET("/session/events", r.Sessions.Events)
	session.POST("/session/sign-in", authLimit, r.Sessions.SignIn)
	session.POST("/session/sign-up", authLimit, r.Sessions.SignUp)
	session.POST("/session/sign-out", r.Sessions.SignOut)
	session.POST("/session/verification", authLimit, r.Sessions.SendVerification)
	session.POST("/session/verification/refresh", r.Sessions.RefreshVerification)
	session.POST("/session/role", r.Sessions.AssignRole)
	session.GET("/screens/:screen", r.Sessions.Screen)

	observations := session.Group("/observations", middleware.RequireRoles())
	observations.GET("", r.Observations.Catalog)
	observations.GET("/:type/records", r.Observations.Records)
	observations.GET("/:type/stream", r.Observations.Stream)
	observations.PUT("/:type/records/:bucket", r.Observations.Upsert)
	observations.POST("/:type/records/:bucket/entries", r.Observations.AppendEntry)
	observations.POST("/:type/requests", r.Observations.RequestApproval)
	observations.POST("/:type/requests/:id/decision", r.Observations.Decide)

	reports := session.Group("/reports", middleware.WithResponseMeta())
	reports.GET("/summary", middleware.RequireRoles(), r.Reports.Summary)
	reports.GET("/export", middleware.RequireRoles(models.RoleManager, models.RoleSupervisor), r.Reports.Export)
}
