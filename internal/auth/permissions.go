package auth

// Permission represents a named capability.
type Permission string

// Permission constants.
const (
	PermChannelRead    Permission = "channel:read"
	PermChannelOperate Permission = "channel:operate"
	PermDeviceRefresh  Permission = "device:refresh"
	PermHistoryRead    Permission = "history:read"
)

// rolePermissions is the single source of truth for the authorisation model.
var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermChannelRead,
		PermHistoryRead,
	},
	RoleOperator: {
		PermChannelRead,
		PermChannelOperate,
		PermDeviceRefresh,
		PermHistoryRead,
	},
	RoleAdmin: {
		PermChannelRead,
		PermChannelOperate,
		PermDeviceRefresh,
		PermHistoryRead,
	},
}

// HasPermission returns true if the given role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// PermissionsForRole returns a copy of the permissions granted to role.
func PermissionsForRole(role Role) []Permission {
	perms := rolePermissions[role]
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}
