package auth

import "strings"

// Permission is a dotted action string, e.g. "robot.move" or the admin
// wildcard "*". Permissions ending in ".*" match any sub-action sharing
// that prefix.
type Permission string

// Built-in permissions referenced by the default roles.
const (
	PermAll           Permission = "*"
	PermRobotMove     Permission = "robot.move"
	PermRobotStop     Permission = "robot.stop"
	PermRobotStatus   Permission = "robot.status"
	PermRobotView     Permission = "robot.view"
	PermRobotManage   Permission = "robot.manage"
	PermRobotHeartbeat Permission = "robot.heartbeat"
	PermCommandView   Permission = "command.view"
	PermCommandCreate Permission = "command.create"
	PermCommandCancel Permission = "command.cancel"
	PermAuditView     Permission = "audit.view"
)

// AllPermissions returns every concrete (non-wildcard) permission known to
// the system.
func AllPermissions() []Permission {
	return []Permission{
		PermRobotMove, PermRobotStop, PermRobotStatus, PermRobotView, PermRobotManage, PermRobotHeartbeat,
		PermCommandView, PermCommandCreate, PermCommandCancel, PermAuditView,
	}
}

// Role is a named bundle of permissions assigned to a user.
type Role struct {
	ID          string
	Name        string
	Permissions []Permission
	BuiltIn     bool
}

// Built-in role IDs, matching the user role enum.
const (
	RoleAdminID    = "admin"
	RoleOperatorID = "operator"
	RoleViewerID   = "viewer"
)

// BuiltinRoles returns the three default roles defined by the RBAC mapping:
// admin gets the wildcard, operator can drive robots and issue commands,
// viewer is read-only.
func BuiltinRoles() []Role {
	return []Role{
		{
			ID:          RoleAdminID,
			Name:        "Admin",
			Permissions: []Permission{PermAll},
			BuiltIn:     true,
		},
		{
			ID:   RoleOperatorID,
			Name: "Operator",
			Permissions: []Permission{
				PermRobotMove, PermRobotStop, PermRobotStatus, PermRobotView, PermRobotManage, PermRobotHeartbeat,
				PermCommandView, PermCommandCreate, PermCommandCancel, PermAuditView,
			},
			BuiltIn: true,
		},
		{
			ID:   RoleViewerID,
			Name: "Viewer",
			Permissions: []Permission{
				PermRobotStatus, PermRobotView, PermCommandView, PermAuditView,
			},
			BuiltIn: true,
		},
	}
}

// ResolvePermissions returns the effective permissions for a user given
// their role. If the role has permissions, those are used. Token scope
// permissions (if non-nil) restrict further via intersection, accounting
// for wildcard matches in the role's grant.
func ResolvePermissions(role *Role, tokenPerms []Permission) []Permission {
	if role == nil {
		return nil
	}
	rolePerms := role.Permissions
	if tokenPerms == nil {
		return rolePerms
	}
	var result []Permission
	for _, p := range tokenPerms {
		if permissionSetAllows(rolePerms, string(p)) {
			result = append(result, p)
		}
	}
	return result
}

// HasPermission reports whether action is granted by perms, honoring the
// "*" wildcard and "prefix.*" sub-action matches.
func HasPermission(perms []Permission, action string) bool {
	return permissionSetAllows(perms, action)
}

func permissionSetAllows(perms []Permission, action string) bool {
	for _, p := range perms {
		if matchPermission(string(p), action) {
			return true
		}
	}
	return false
}

// matchPermission reports whether granted covers action: exact match,
// the bare "*" wildcard, or a "X.*" prefix wildcard.
func matchPermission(granted, action string) bool {
	if granted == "*" || granted == action {
		return true
	}
	if strings.HasSuffix(granted, ".*") {
		prefix := strings.TrimSuffix(granted, "*")
		return strings.HasPrefix(action, prefix)
	}
	return false
}
