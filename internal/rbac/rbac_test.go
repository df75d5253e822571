package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		role   Role
		action Action
		want   bool
	}{
		{RoleAdmin, ActionManageWorkflows, true},
		{RoleAdmin, ActionDeleteProposal, true},
		{RoleMember, ActionView, true},
		{RoleMember, ActionCreateProposal, true},
		{RoleMember, ActionVote, true},
		{RoleAdmin, ActionManageMembers, true},
		{RoleMember, ActionManageWorkflows, false},
		{RoleMember, ActionManageMembers, false},
		{RoleMember, ActionDeleteProposal, false},
		{RoleNone, ActionView, false},
	}
	for _, c := range cases {
		if got := Can(c.role, c.action); got != c.want {
			t.Errorf("Can(%s, %s) = %v, want %v", c.role, c.action, got, c.want)
		}
	}
}

func TestForMembership(t *testing.T) {
	if ForMembership(true, true) != RoleAdmin {
		t.Error("admin membership should map to RoleAdmin")
	}
	if ForMembership(true, false) != RoleMember {
		t.Error("plain membership should map to RoleMember")
	}
	if ForMembership(false, false) != RoleNone {
		t.Error("non-member should map to RoleNone")
	}
}
