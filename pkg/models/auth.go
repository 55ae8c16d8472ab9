package models

// Role is a platform role. Roles form a strict hierarchy; Level makes the
// comparison explicit.
type Role string

const (
	RoleViewer     Role = "viewer"
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

var roleLevels = map[Role]int{
	RoleViewer:     0,
	RoleUser:       1,
	RoleAdmin:      2,
	RoleSuperAdmin: 3,
}

// Level returns the role's rank in the hierarchy; unknown roles rank below
// viewer.
func (r Role) Level() int {
	if lvl, ok := roleLevels[r]; ok {
		return lvl
	}
	return -1
}

// AtLeast reports whether r grants at least the privileges of min.
func (r Role) AtLeast(min Role) bool {
	return r.Level() >= min.Level()
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := roleLevels[r]
	return ok
}

// AuthContext is the identity derived from a verified bearer token. The
// gateway propagates it to upstreams via explicit x-user-* headers.
type AuthContext struct {
	UserID      string   `json:"user_id"`
	Email       string   `json:"email"`
	Role        Role     `json:"role"`
	TeamID      *string  `json:"team_id,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// CanAccess reports whether the auth context may read a resource owned by
// ownerID with the given team. Admins see everything; team members see
// team-scoped resources.
func (a *AuthContext) CanAccess(ownerID string, teamID *string) bool {
	if a.UserID == ownerID {
		return true
	}
	if a.Role.AtLeast(RoleAdmin) {
		return true
	}
	if teamID != nil && a.TeamID != nil && *teamID == *a.TeamID {
		return true
	}
	return false
}
