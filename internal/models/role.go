package models

import "time"

// Role is one of the fixed staff functions.
type Role string

const (
	RoleManager      Role = "manager"
	RoleDeputy       Role = "deputy"
	RoleStudentGuide Role = "student_guide"
	RoleSupervisor   Role = "supervisor"
)

var roleLabels = map[Role]string{
	RoleManager:      "مدير",
	RoleDeputy:       "وكيل",
	RoleStudentGuide: "موجه طلابي",
	RoleSupervisor:   "مشرف",
}

// AllRoles lists every role in display order.
func AllRoles() []Role {
	return []Role{RoleManager, RoleDeputy, RoleStudentGuide, RoleSupervisor}
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := roleLabels[r]
	return ok
}

// Label returns the Arabic display name.
func (r Role) Label() string {
	return roleLabels[r]
}

// ParseRole accepts either the role code or its Arabic label.
func ParseRole(raw string) (Role, bool) {
	if r := Role(raw); r.Valid() {
		return r, true
	}
	for role, label := range roleLabels {
		if label == raw {
			return role, true
		}
	}
	return "", false
}

// RoleStatus is the Role Resolver state.
type RoleStatus string

const (
	RoleLoading    RoleStatus = "loading"
	RoleUnassigned RoleStatus = "unassigned"
	RoleAssigned   RoleStatus = "assigned"
)

// RoleProfile is the write-once role document of a principal.
type RoleProfile struct {
	UserID string    `json:"userId"`
	Role   Role      `json:"role"`
	Email  string    `json:"email,omitempty"`
	SetAt  time.Time `json:"setAt"`
}

// AssignRoleRequest is the role-selection payload.
type AssignRoleRequest struct {
	Role Role `json:"role" validate:"required"`
}
