package models

// Role classifies what an actor may do and see.
type Role string

const (
	RoleSuperAdmin Role = "SUPERADMIN"
	RoleAdmin      Role = "ADMIN"
	RoleAccountant Role = "ACCOUNTANT"
	RoleDirector   Role = "DIRECTOR"
	RoleTeacher    Role = "TEACHER"
	RoleViewer     Role = "VIEWER"
)

// Actor is the identity and school scope carried through every service call.
// Only SUPERADMIN is cross-school; everyone else is pinned to SchoolID.
type Actor struct {
	UserID   string `json:"user_id"`
	Role     Role   `json:"role"`
	SchoolID string `json:"school_id,omitempty"`
}

// CrossSchool reports whether the actor may touch any school's data.
func (a Actor) CrossSchool() bool {
	return a.Role == RoleSuperAdmin
}

// CanAccess reports whether the actor may see rows owned by schoolID.
func (a Actor) CanAccess(schoolID string) bool {
	if a.CrossSchool() {
		return true
	}
	return a.SchoolID != "" && a.SchoolID == schoolID
}

// CanValidatePayments limits the financial event to authorised roles.
func (a Actor) CanValidatePayments() bool {
	switch a.Role {
	case RoleSuperAdmin, RoleAdmin, RoleAccountant, RoleDirector:
		return true
	default:
		return false
	}
}
