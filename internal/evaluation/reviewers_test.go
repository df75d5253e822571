package evaluation

import (
	"errors"
	"testing"
)

func testContext() ResolverContext {
	return ResolverContext{
		AuthorIDs:      []string{"author-1", "author-2"},
		SpaceMemberIDs: []string{"author-1", "author-2", "member-1", "member-2"},
		RoleMembers: map[string][]string{
			"role-legal": {"member-1"},
		},
	}
}

func TestResolveUserSpec(t *testing.T) {
	users, err := ResolveReviewers([]ReviewerSpec{{Group: GroupUser, ID: "member-2"}}, testContext())
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
	if _, ok := users["member-2"]; !ok {
		t.Error("expected member-2 in resolved set")
	}
}

func TestResolveRoleSpec(t *testing.T) {
	users, err := ResolveReviewers([]ReviewerSpec{{Group: GroupRole, ID: "role-legal"}}, testContext())
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if _, ok := users["member-1"]; !ok {
		t.Error("expected role member in resolved set")
	}
}

func TestResolveUnknownRoleResolvesToNobody(t *testing.T) {
	users, err := ResolveReviewers([]ReviewerSpec{{Group: GroupRole, ID: "role-gone"}}, testContext())
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if len(users) != 0 {
		t.Errorf("expected empty set, got %d users", len(users))
	}
}

func TestResolveSystemRoles(t *testing.T) {
	users, err := ResolveReviewers([]ReviewerSpec{
		{Group: GroupSystemRole, SystemRole: SystemRoleAuthor},
	}, testContext())
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if len(users) != 2 {
		t.Errorf("expected both authors, got %d", len(users))
	}

	users, err = ResolveReviewers([]ReviewerSpec{
		{Group: GroupSystemRole, SystemRole: SystemRoleSpaceMember},
	}, testContext())
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if len(users) != 4 {
		t.Errorf("expected all space members, got %d", len(users))
	}
}

func TestResolveCurrentReviewerRejected(t *testing.T) {
	_, err := ResolveReviewers([]ReviewerSpec{
		{Group: GroupSystemRole, SystemRole: SystemRoleCurrentReviewer},
	}, testContext())
	if !errors.Is(err, ErrCurrentReviewer) {
		t.Errorf("expected ErrCurrentReviewer, got %v", err)
	}
}

func TestResolveUnknownGroupRejected(t *testing.T) {
	_, err := ResolveReviewers([]ReviewerSpec{{Group: "committee"}}, testContext())
	if err == nil {
		t.Error("expected error for unknown group")
	}
}

func TestIsReviewerSkipsCurrentReviewerMarker(t *testing.T) {
	specs := []ReviewerSpec{
		{Group: GroupSystemRole, SystemRole: SystemRoleCurrentReviewer},
		{Group: GroupUser, ID: "member-2"},
	}
	if !IsReviewer("member-2", specs, testContext()) {
		t.Error("expected member-2 to be a reviewer")
	}
	if IsReviewer("member-1", specs, testContext()) {
		t.Error("did not expect member-1 to be a reviewer")
	}
}

func TestDedupeAcrossSpecs(t *testing.T) {
	specs := []ReviewerSpec{
		{Group: GroupUser, ID: "member-1"},
		{Group: GroupRole, ID: "role-legal"},
	}
	users, err := ResolveReviewers(specs, testContext())
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if len(users) != 1 {
		t.Errorf("expected deduped set of 1, got %d", len(users))
	}
}
