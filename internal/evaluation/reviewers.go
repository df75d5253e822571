package evaluation

import (
	"errors"
	"fmt"
)

// ErrCurrentReviewer is returned when a caller asks to expand the
// current_reviewer marker, which names a permission route, not people.
var ErrCurrentReviewer = errors.New("current_reviewer is not an expandable reviewer group")

// ResolverContext is a read-only snapshot of the memberships reviewer specs
// resolve against. Callers build it from the store once per request; the
// resolver itself never queries anything.
type ResolverContext struct {
	AuthorIDs      []string
	SpaceMemberIDs []string
	// RoleMembers maps a role id to the user ids currently assigned to it.
	RoleMembers map[string][]string
}

// ResolveReviewers expands reviewer specs into the set of concrete user ids
// allowed to act. Unknown role ids resolve to nobody; an unknown group or
// the current_reviewer marker is an error.
func ResolveReviewers(specs []ReviewerSpec, rc ResolverContext) (map[string]struct{}, error) {
	users := make(map[string]struct{})
	for _, spec := range specs {
		switch spec.Group {
		case GroupUser:
			if spec.ID != "" {
				users[spec.ID] = struct{}{}
			}
		case GroupRole:
			for _, id := range rc.RoleMembers[spec.ID] {
				users[id] = struct{}{}
			}
		case GroupSystemRole:
			switch spec.SystemRole {
			case SystemRoleAuthor:
				for _, id := range rc.AuthorIDs {
					users[id] = struct{}{}
				}
			case SystemRoleSpaceMember:
				for _, id := range rc.SpaceMemberIDs {
					users[id] = struct{}{}
				}
			case SystemRoleCurrentReviewer:
				return nil, ErrCurrentReviewer
			default:
				return nil, fmt.Errorf("unknown system role %q", spec.SystemRole)
			}
		default:
			return nil, fmt.Errorf("unknown reviewer group %q", spec.Group)
		}
	}
	return users, nil
}

// IsReviewer reports whether userID is in the resolved set for specs,
// skipping the current_reviewer marker instead of failing on it.
func IsReviewer(userID string, specs []ReviewerSpec, rc ResolverContext) bool {
	expandable := make([]ReviewerSpec, 0, len(specs))
	for _, spec := range specs {
		if spec.Group == GroupSystemRole && spec.SystemRole == SystemRoleCurrentReviewer {
			continue
		}
		expandable = append(expandable, spec)
	}
	users, err := ResolveReviewers(expandable, rc)
	if err != nil {
		return false
	}
	_, ok := users[userID]
	return ok
}
