package auth

// Role represents who holds a token
type Role string

const (
	// RoleParent can open the dashboard, robot controls and server controls
	RoleParent Role = "parent"

	// RoleChild can only chat and play
	RoleChild Role = "child"
)

// String returns the string representation of the role
func (r Role) String() string {
	return string(r)
}

// IsValid checks if the role is a valid role
func (r Role) IsValid() bool {
	switch r {
	case RoleParent, RoleChild:
		return true
	default:
		return false
	}
}

// HasPermission checks if a role has permission for a required role.
// Parent has all permissions.
func (r Role) HasPermission(required Role) bool {
	if r == RoleParent {
		return true
	}
	return r == required
}
