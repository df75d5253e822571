// Package rbac maps space membership to permitted actions.
package rbac

type Role string
type Action string

const (
	RoleNone   Role = ""
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

const (
	ActionView            Action = "view"
	ActionCreateProposal  Action = "create_proposal"
	ActionComment         Action = "comment"
	ActionVote            Action = "vote"
	ActionManageWorkflows Action = "manage_workflows"
	ActionManageMembers   Action = "manage_members"
	ActionDeleteProposal  Action = "delete_proposal"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleMember:
		return action == ActionView || action == ActionCreateProposal || action == ActionComment || action == ActionVote
	default:
		return false
	}
}

func ForMembership(isMember, isAdmin bool) Role {
	switch {
	case isAdmin:
		return RoleAdmin
	case isMember:
		return RoleMember
	default:
		return RoleNone
	}
}
