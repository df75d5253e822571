// Package workflows manages reusable evaluation workflow definitions and
// keeps the proposals and templates built from them in sync when a
// definition is edited.
package workflows

import (
	"fmt"

	"tribune/api/internal/evaluation"
)

// ActionLabels overrides the default approve/reject button wording.
type ActionLabels struct {
	Approve string `json:"approve,omitempty"`
	Reject  string `json:"reject,omitempty"`
}

// NotificationLabels overrides the wording used in reviewer notifications.
type NotificationLabels struct {
	Approve string `json:"approve,omitempty"`
	Reject  string `json:"reject,omitempty"`
}

// PermissionRule grants one operation to one assignee on a step.
type PermissionRule struct {
	Operation string                  `json:"operation"`
	Assignee  evaluation.ReviewerSpec `json:"assignee"`
}

// EvaluationConfig is one entry of a workflow definition. Its ID is private
// to the definition; live proposal and template evaluations carry their own
// ids, which is why reconciliation joins on titles (see Sync).
type EvaluationConfig struct {
	ID                            string                    `json:"id"`
	Title                         string                    `json:"title"`
	Type                          evaluation.StepType       `json:"type"`
	Reviewers                     []evaluation.ReviewerSpec `json:"reviewers,omitempty"`
	Permissions                   []PermissionRule          `json:"permissions,omitempty"`
	Appealable                    bool                      `json:"appealable,omitempty"`
	AppealRequiredReviews         int                       `json:"appealRequiredReviews,omitempty"`
	AppealReviewers               []evaluation.ReviewerSpec `json:"appealReviewers,omitempty"`
	FinalStep                     bool                      `json:"finalStep,omitempty"`
	RequiredReviews               int                       `json:"requiredReviews,omitempty"`
	ActionLabels                  *ActionLabels             `json:"actionLabels,omitempty"`
	NotificationLabels            *NotificationLabels       `json:"notificationLabels,omitempty"`
	ShowAuthorResultsOnRubricFail bool                      `json:"showAuthorResultsOnRubricFail,omitempty"`
}

// Definition is the full ordered workflow definition for a space.
type Definition struct {
	ID          string
	SpaceID     string
	Title       string
	Archived    bool
	Evaluations []EvaluationConfig
}

// Validate checks a definition before any write happens. Duplicate
// evaluation titles are rejected because titles are the join key during
// reconciliation.
func (d Definition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("workflow id is required")
	}
	if d.SpaceID == "" {
		return fmt.Errorf("workflow spaceId is required")
	}
	if d.Title == "" {
		return fmt.Errorf("workflow title is required")
	}
	seen := make(map[string]struct{}, len(d.Evaluations))
	for _, cfg := range d.Evaluations {
		if cfg.ID == "" {
			return fmt.Errorf("evaluation id is required")
		}
		if cfg.Title == "" {
			return fmt.Errorf("evaluation title is required")
		}
		if !evaluation.ValidStepType(cfg.Type) {
			return fmt.Errorf("unknown evaluation type %q", cfg.Type)
		}
		if _, dup := seen[cfg.Title]; dup {
			return &DuplicateTitleError{Title: cfg.Title}
		}
		seen[cfg.Title] = struct{}{}
	}
	return nil
}
