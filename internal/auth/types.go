package auth

import "errors"

// Role represents an authorisation tier of the status API.
type Role string

const (
	// RoleViewer may read link state and the journal.
	RoleViewer Role = "viewer"

	// RoleOperator may also control the link.
	RoleOperator Role = "operator"
)

// ValidRoles lists every role a token may carry.
var ValidRoles = []Role{RoleViewer, RoleOperator}

// IsValidRole returns true if r is a known role.
func IsValidRole(r Role) bool {
	for _, valid := range ValidRoles {
		if r == valid {
			return true
		}
	}
	return false
}

// Permission represents a named capability.
type Permission string

// Permission constants.
const (
	PermLinkRead    Permission = "link:read"
	PermLinkControl Permission = "link:control"
	PermJournalRead Permission = "journal:read"
)

// rolePermissions maps each role to its granted permissions.
var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermLinkRead,
		PermJournalRead,
	},
	RoleOperator: {
		PermLinkRead,
		PermJournalRead,
		PermLinkControl,
	},
}

// HasPermission reports whether role grants perm.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// Domain errors.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrInvalidRole  = errors.New("invalid role")
)
