// Package auth carries caller identity: who is invoking a lifecycle
// operation, with what role and permissions. Tokens are minted by the
// companion auth service; this package only validates them.
package auth

// Role is the caller's role in the coaching platform.
type Role string

const (
	RoleUser  Role = "user"
	RoleCoach Role = "coach"
	RoleAdmin Role = "admin"
)

// IsValid reports whether r is one of the known roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleCoach, RoleAdmin:
		return true
	}
	return false
}

// Identity is an authenticated caller.
type Identity struct {
	UserID      string
	Role        Role
	Permissions []string
}

// HasPermission reports whether the identity carries the named permission.
func (id *Identity) HasPermission(permission string) bool {
	for _, p := range id.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}
