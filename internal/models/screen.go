package models

// Screen identifies a routable screen.
type Screen string

const (
	ScreenLoading       Screen = "loading"
	ScreenLogin         Screen = "login"
	ScreenVerifyEmail   Screen = "verify-email"
	ScreenRoleSelection Screen = "role-selection"
	ScreenDashboard     Screen = "dashboard"
	ScreenAccessDenied  Screen = "access-denied"
	ScreenReports       Screen = "reports"

	ScreenAbsence       Screen = "absence"
	ScreenAttendance100 Screen = "attendance-100"
	ScreenBehavioral    Screen = "behavioral"
	ScreenGap           Screen = "gap"
	ScreenResults       Screen = "results"
	ScreenReadiness     Screen = "readiness"
	ScreenProficiency   Screen = "proficiency"
	ScreenComplaints    Screen = "complaints"
)

// Onboarding reports whether s belongs to the sign-in flow rather than the app.
func (s Screen) Onboarding() bool {
	switch s {
	case ScreenLogin, ScreenVerifyEmail, ScreenRoleSelection, ScreenLoading:
		return true
	}
	return false
}
