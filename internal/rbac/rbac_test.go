package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "member read", role: RoleMember, action: ActionRead, allow: true},
		{name: "member configure", role: RoleMember, action: ActionConfigure, allow: false},
		{name: "member impersonate", role: RoleMember, action: ActionImpersonate, allow: false},
		{name: "member execute", role: RoleMember, action: ActionExecute, allow: true},
		{name: "admin configure", role: RoleAdmin, action: ActionConfigure, allow: true},
		{name: "admin manage users", role: RoleAdmin, action: ActionManageUsers, allow: true},
		{name: "admin impersonate", role: RoleAdmin, action: ActionImpersonate, allow: false},
		{name: "owner impersonate", role: RoleOwner, action: ActionImpersonate, allow: true},
		{name: "owner billing", role: RoleOwner, action: ActionBilling, allow: true},
		{name: "unknown role", role: Role("guest"), action: ActionRead, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	if Normalize("owner") != RoleOwner {
		t.Fatal("owner should normalize to itself")
	}
	if Normalize("superuser") != RoleMember {
		t.Fatal("unknown roles should normalize to member")
	}
}

func TestValidStatus(t *testing.T) {
	for _, status := range []string{StatusActive, StatusPending, StatusDisabled} {
		if !ValidStatus(status) {
			t.Fatalf("%q should be valid", status)
		}
	}
	if ValidStatus("banned") {
		t.Fatal("banned should be invalid")
	}
}
