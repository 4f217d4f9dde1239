package service

import "github.com/noah-isme/sma-observation-api/internal/models"

// RouteInput is everything the screen router looks at.
type RouteInput struct {
	Auth       models.AuthState
	Verified   bool
	RoleStatus models.RoleStatus
	Role       models.Role
	Requested  models.Screen
}

// RouteResult is the screen to render. Allowed is false when the requested
// screen could not be shown.
type RouteResult struct {
	Screen    models.Screen `json:"screen"`
	Requested models.Screen `json:"requested"`
	Allowed   bool          `json:"allowed"`
}

// AccessTable maps each functional screen to the roles allowed to open it.
type AccessTable map[models.Screen][]models.Role

// Allows reports whether role may open screen.
func (t AccessTable) Allows(screen models.Screen, role models.Role) bool {
	return hasRole(t[screen], role)
}

// DefaultAccessTable is the dashboard's role matrix.
func DefaultAccessTable() AccessTable {
	all := models.AllRoles()
	seniors := []models.Role{models.RoleManager, models.RoleSupervisor}
	return AccessTable{
		models.ScreenDashboard:     all,
		models.ScreenReports:       all,
		models.ScreenAbsence:       {models.RoleDeputy, models.RoleManager, models.RoleSupervisor},
		models.ScreenAttendance100: {models.RoleDeputy, models.RoleManager, models.RoleSupervisor},
		models.ScreenBehavioral:    {models.RoleStudentGuide, models.RoleManager, models.RoleSupervisor},
		models.ScreenGap:           seniors,
		models.ScreenResults:       seniors,
		models.ScreenReadiness:     seniors,
		models.ScreenProficiency:   seniors,
		models.ScreenComplaints:    seniors,
	}
}

// ResolveScreen decides which screen a session sees. It has no side effects.
// A session whose auth state is still pending resolves to loading, not login;
// every other unauthenticated state resolves to login.
func ResolveScreen(in RouteInput, table AccessTable) RouteResult {
	requested := in.Requested
	if requested == "" {
		requested = models.ScreenDashboard
	}
	result := func(screen models.Screen) RouteResult {
		return RouteResult{Screen: screen, Requested: requested, Allowed: screen == requested}
	}

	switch {
	case in.Auth == models.AuthPending:
		return result(models.ScreenLoading)
	case in.Auth != models.AuthAuthenticated:
		return result(models.ScreenLogin)
	case !in.Verified:
		return result(models.ScreenVerifyEmail)
	case in.RoleStatus == models.RoleUnassigned:
		return result(models.ScreenRoleSelection)
	case in.RoleStatus != models.RoleAssigned:
		return result(models.ScreenLoading)
	}

	if requested.Onboarding() {
		return RouteResult{Screen: models.ScreenDashboard, Requested: requested, Allowed: true}
	}
	if !table.Allows(requested, in.Role) {
		return RouteResult{Screen: models.ScreenAccessDenied, Requested: requested, Allowed: false}
	}
	return result(requested)
}
