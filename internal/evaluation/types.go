// Package evaluation holds the pure decision logic for proposal review
// pipelines: step sequencing, reviewer resolution, the pass/fail decision
// rule and rubric aggregation. Nothing in this package touches storage.
package evaluation

import "time"

type StepType string

const (
	StepFeedback StepType = "feedback"
	StepPassFail StepType = "pass_fail"
	StepRubric   StepType = "rubric"
	StepVote     StepType = "vote"
)

// Result is a step or review outcome. The zero value means pending.
type Result string

const (
	ResultPending Result = ""
	ResultPass    Result = "pass"
	ResultFail    Result = "fail"
)

func ValidStepType(t StepType) bool {
	switch t {
	case StepFeedback, StepPassFail, StepRubric, StepVote:
		return true
	default:
		return false
	}
}

type ReviewerGroup string

const (
	GroupUser       ReviewerGroup = "user"
	GroupRole       ReviewerGroup = "role"
	GroupSystemRole ReviewerGroup = "system_role"
)

type SystemRole string

const (
	SystemRoleAuthor      SystemRole = "author"
	SystemRoleSpaceMember SystemRole = "space_member"
	// SystemRoleCurrentReviewer gates UI operations such as "move"; it is
	// never expanded into concrete users.
	SystemRoleCurrentReviewer SystemRole = "current_reviewer"
)

// ReviewerSpec names who may act on a step. Exactly one of ID (for user and
// role groups) or SystemRole (for the system_role group) is meaningful.
type ReviewerSpec struct {
	Group      ReviewerGroup `json:"group"`
	ID         string        `json:"id,omitempty"`
	SystemRole SystemRole    `json:"systemRole,omitempty"`
}

// Step is one gate in a proposal's pipeline, ordered by Index.
type Step struct {
	ID         string
	ProposalID string
	Index      int
	Type       StepType
	Title      string

	Result      Result
	CompletedAt *time.Time
	DecidedBy   string

	RequiredReviews int
	FinalStep       bool

	Appealable            bool
	AppealRequiredReviews int
	AppealedAt            *time.Time
	AppealedBy            string

	Reviewers       []ReviewerSpec
	AppealReviewers []ReviewerSpec
}

// Review is one reviewer's action on a step. Appeal marks the appeal
// channel; appeal reviews never count toward the original decision and
// vice versa.
type Review struct {
	EvaluationID   string
	ReviewerID     string
	Result         Result
	Appeal         bool
	CompletedAt    time.Time
	DeclineReasons []string
	DeclineMessage string
}

// RubricCriterion is a scored dimension within a rubric step.
type RubricCriterion struct {
	ID           string
	EvaluationID string
	Title        string
	Description  string
	MinScore     float64
	MaxScore     float64
}

// RubricAnswer is one user's score for one criterion.
type RubricAnswer struct {
	CriterionID string
	UserID      string
	Score       float64
	Comment     string
}
