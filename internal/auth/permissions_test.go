package auth

import "testing"

func TestBuiltinRoles(t *testing.T) {
	roles := BuiltinRoles()

	t.Run("returns three roles", func(t *testing.T) {
		if len(roles) != 3 {
			t.Fatalf("expected 3 built-in roles, got %d", len(roles))
		}
	})

	findRole := func(id string) *Role {
		t.Helper()
		for i := range roles {
			if roles[i].ID == id {
				return &roles[i]
			}
		}
		t.Fatalf("role %q not found", id)
		return nil
	}

	t.Run("admin has the wildcard permission", func(t *testing.T) {
		admin := findRole(RoleAdminID)
		if len(admin.Permissions) != 1 || admin.Permissions[0] != PermAll {
			t.Errorf("expected admin to have only %q, got %v", PermAll, admin.Permissions)
		}
		if !admin.BuiltIn {
			t.Error("admin role should be built-in")
		}
	})

	t.Run("operator has 10 permissions", func(t *testing.T) {
		op := findRole(RoleOperatorID)
		if len(op.Permissions) != 10 {
			t.Errorf("expected operator to have 10 permissions, got %d", len(op.Permissions))
		}
		if !op.BuiltIn {
			t.Error("operator role should be built-in")
		}
	})

	t.Run("viewer has 4 permissions", func(t *testing.T) {
		viewer := findRole(RoleViewerID)
		if len(viewer.Permissions) != 4 {
			t.Errorf("expected viewer to have 4 permissions, got %d", len(viewer.Permissions))
		}
		if !viewer.BuiltIn {
			t.Error("viewer role should be built-in")
		}
	})
}

func TestHasPermission(t *testing.T) {
	t.Run("wildcard grants everything", func(t *testing.T) {
		if !HasPermission([]Permission{PermAll}, "robot.move") {
			t.Error("expected wildcard to grant robot.move")
		}
		if !HasPermission([]Permission{PermAll}, "anything.at.all") {
			t.Error("expected wildcard to grant arbitrary action")
		}
	})

	t.Run("exact match", func(t *testing.T) {
		if !HasPermission([]Permission{PermRobotStatus}, "robot.status") {
			t.Error("expected exact match to succeed")
		}
		if HasPermission([]Permission{PermRobotStatus}, "robot.move") {
			t.Error("did not expect robot.move to be granted")
		}
	})

	t.Run("prefix wildcard matches sub-actions", func(t *testing.T) {
		if !HasPermission([]Permission{"robot.*"}, "robot.move") {
			t.Error("expected robot.* to grant robot.move")
		}
		if !HasPermission([]Permission{"robot.*"}, "robot.status") {
			t.Error("expected robot.* to grant robot.status")
		}
		if HasPermission([]Permission{"robot.*"}, "command.view") {
			t.Error("did not expect robot.* to grant command.view")
		}
	})

	t.Run("viewer role cannot create commands", func(t *testing.T) {
		roles := BuiltinRoles()
		var viewer *Role
		for i := range roles {
			if roles[i].ID == RoleViewerID {
				viewer = &roles[i]
			}
		}
		if HasPermission(viewer.Permissions, "command.create") {
			t.Error("viewer should not be able to create commands")
		}
		if !HasPermission(viewer.Permissions, "command.view") {
			t.Error("viewer should be able to view commands")
		}
	})
}

func TestResolvePermissions(t *testing.T) {
	t.Run("nil role returns nil", func(t *testing.T) {
		result := ResolvePermissions(nil, nil)
		if result != nil {
			t.Errorf("expected nil, got %v", result)
		}
	})

	t.Run("nil role with token perms returns nil", func(t *testing.T) {
		result := ResolvePermissions(nil, []Permission{PermRobotStatus})
		if result != nil {
			t.Errorf("expected nil, got %v", result)
		}
	})

	t.Run("role with nil token perms returns role perms", func(t *testing.T) {
		role := &Role{
			ID:          "test",
			Permissions: []Permission{PermRobotStatus, PermCommandView},
		}
		result := ResolvePermissions(role, nil)
		if len(result) != 2 {
			t.Fatalf("expected 2 permissions, got %d", len(result))
		}
	})

	t.Run("intersects role and token perms", func(t *testing.T) {
		role := &Role{
			ID:          "test",
			Permissions: []Permission{PermRobotStatus, PermRobotMove, PermCommandView},
		}
		tokenPerms := []Permission{PermRobotStatus, PermCommandView, PermCommandCreate}

		result := ResolvePermissions(role, tokenPerms)
		if len(result) != 2 {
			t.Fatalf("expected 2 permissions (intersection), got %d: %v", len(result), result)
		}
		resultMap := make(map[Permission]bool)
		for _, p := range result {
			resultMap[p] = true
		}
		if !resultMap[PermRobotStatus] || !resultMap[PermCommandView] {
			t.Error("expected robot.status and command.view in intersection")
		}
		if resultMap[PermCommandCreate] {
			t.Error("command.create should NOT be in intersection (not in role)")
		}
	})

	t.Run("wildcard role grants any token permission", func(t *testing.T) {
		role := &Role{ID: "admin", Permissions: []Permission{PermAll}}
		tokenPerms := []Permission{PermRobotMove, PermCommandCreate}
		result := ResolvePermissions(role, tokenPerms)
		if len(result) != 2 {
			t.Fatalf("expected both token perms through wildcard role, got %v", result)
		}
	})

	t.Run("empty token perms returns empty result", func(t *testing.T) {
		role := &Role{
			ID:          "test",
			Permissions: []Permission{PermRobotStatus},
		}
		result := ResolvePermissions(role, []Permission{})
		if len(result) != 0 {
			t.Errorf("expected empty result for empty token perms, got %v", result)
		}
	})

	t.Run("no overlap returns empty result", func(t *testing.T) {
		role := &Role{
			ID:          "test",
			Permissions: []Permission{PermRobotStatus},
		}
		tokenPerms := []Permission{PermCommandCreate}
		result := ResolvePermissions(role, tokenPerms)
		if len(result) != 0 {
			t.Errorf("expected empty result for no overlap, got %v", result)
		}
	})
}
