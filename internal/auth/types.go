package auth

import "errors"

// Role represents an authorisation tier.
type Role string

const (
	// RoleViewer can read channel state, history and the command journal.
	RoleViewer Role = "viewer"

	// RoleOperator can also switch relays and force a refresh.
	RoleOperator Role = "operator"

	// RoleAdmin has every permission.
	RoleAdmin Role = "admin"
)

// ValidRoles lists the roles a token may carry.
var ValidRoles = []Role{RoleViewer, RoleOperator, RoleAdmin}

// IsValidRole reports whether r is one of ValidRoles.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Auth errors.
var (
	ErrTokenInvalid   = errors.New("invalid token")
	ErrTokenExpired   = errors.New("token has expired")
	ErrInvalidRole    = errors.New("invalid role")
	ErrSecretRequired = errors.New("signing secret is required")
	ErrForbidden      = errors.New("insufficient permissions")
)
