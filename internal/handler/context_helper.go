package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-observation-api/internal/dto"
	"github.com/noah-isme/sma-observation-api/internal/middleware"
	"github.com/noah-isme/sma-observation-api/internal/service"
	appErrors "github.com/noah-isme/sma-observation-api/pkg/errors"
	"github.com/noah-isme/sma-observation-api/pkg/response"
)

func sessionFromContext(c *gin.Context) *service.ClientSession {
	session := middleware.SessionFromContext(c)
	if session == nil {
		response.Error(c, appErrors.ErrUnauthenticated)
	}
	return session
}

func bindJSON(c *gin.Context, dest interface{}, payload string) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid "+payload+" payload"))
		return false
	}
	return true
}

func errorView(err error) *appErrors.Error {
	if err == nil {
		return nil
	}
	return appErrors.FromError(err)
}

func screenView(route service.RouteResult) dto.ScreenView {
	return dto.ScreenView{Screen: route.Screen, Requested: route.Requested, Allowed: route.Allowed}
}

func sessionResponse(snapshot service.SessionSnapshot) dto.SessionResponse {
	return dto.SessionResponse{
		ID: snapshot.ID,
		Auth: dto.AuthView{
			State:     snapshot.Auth.State,
			Principal: snapshot.Auth.Principal,
			Notice:    snapshot.Auth.Notice,
			LastError: errorView(snapshot.Auth.LastError),
		},
		Role: dto.RoleView{
			Status: snapshot.Role.Status,
			Role:   snapshot.Role.Role,
			Label:  snapshot.Role.Label,
			Error:  errorView(snapshot.Role.Error),
		},
		Screen: screenView(snapshot.Screen),
		At:     snapshot.At,
	}
}
