package workflows

import (
	"context"
	"errors"
	"fmt"
	"log"
)

var (
	// ErrArchived is returned when editing an archived workflow without
	// un-archiving it.
	ErrArchived = errors.New("workflow is archived")
)

// QuotaError rejects creation of a workflow beyond the space's tier limit.
type QuotaError struct {
	Limit int
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("space already has the maximum of %d active workflows", e.Limit)
}

// DuplicateTitleError rejects definitions whose evaluation titles collide.
type DuplicateTitleError struct {
	Title string
}

func (e *DuplicateTitleError) Error() string {
	return fmt.Sprintf("duplicate evaluation title %q in workflow definition", e.Title)
}

// EvaluationRef is the slice of a live evaluation the synchronizer needs.
type EvaluationRef struct {
	ID    string
	Title string
	Type  string
	Index int
}

// ProposalRef is a proposal or template instantiated from a workflow.
type ProposalRef struct {
	ID          string
	IsTemplate  bool
	Evaluations []EvaluationRef
}

// EvaluationUpdate rewrites a surviving template evaluation in place,
// preserving its id and attached review history.
type EvaluationUpdate struct {
	EvaluationID string
	Index        int
	Config       EvaluationConfig
}

// EvaluationCreate inserts a brand-new template evaluation.
type EvaluationCreate struct {
	Index  int
	Config EvaluationConfig
}

// TemplatePlan is the full set of changes for one template, applied by the
// store in a single transaction.
type TemplatePlan struct {
	ProposalID string
	Updates    []EvaluationUpdate
	Creates    []EvaluationCreate
	Deletes    []string
}

// LabelChange retargets one live evaluation's action labels. Nil Labels
// clear the evaluation's labels back to the defaults.
type LabelChange struct {
	EvaluationID string
	Labels       *ActionLabels
}

// TemplateSyncResult records the outcome of reconciling one template.
type TemplateSyncResult struct {
	ProposalID string
	Err        error
}

// Store is the persistence surface the synchronizer needs.
type Store interface {
	GetSpaceTier(ctx context.Context, spaceID string) (string, error)
	CountActiveWorkflows(ctx context.Context, spaceID string) (int, error)
	// GetWorkflow returns the previously stored definition; found is false
	// for a brand-new workflow.
	GetWorkflow(ctx context.Context, workflowID string) (Definition, bool, error)
	// SaveWorkflow persists the definition atomically.
	SaveWorkflow(ctx context.Context, def Definition) error
	// ListWorkflowProposals returns every proposal and template built from
	// the workflow, with their live evaluations ordered by index.
	ListWorkflowProposals(ctx context.Context, workflowID string) ([]ProposalRef, error)
	UpdateEvaluationActionLabels(ctx context.Context, evaluationID string, labels *ActionLabels) error
	// ApplyTemplatePlan runs all of a plan's writes in one transaction.
	ApplyTemplatePlan(ctx context.Context, plan TemplatePlan) error
}

type Service struct {
	store Store
}

func New(store Store) *Service {
	return &Service{store: store}
}

func tierWorkflowLimit(tier string) int {
	switch tier {
	case "free", "":
		return 3
	default:
		return -1 // unlimited
	}
}

// Upsert writes a workflow definition and reconciles every instance built
// from it: changed action labels propagate to proposals and templates,
// structural edits (renames, reorders, additions, removals) apply to
// templates only. Per-template failures are collected and logged, never
// aborting the remaining templates.
func (s *Service) Upsert(ctx context.Context, def Definition) ([]TemplateSyncResult, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	prev, found, err := s.store.GetWorkflow(ctx, def.ID)
	if err != nil {
		return nil, err
	}
	if found && prev.Archived && def.Archived {
		return nil, ErrArchived
	}
	if !found {
		tier, err := s.store.GetSpaceTier(ctx, def.SpaceID)
		if err != nil {
			return nil, err
		}
		if limit := tierWorkflowLimit(tier); limit >= 0 {
			count, err := s.store.CountActiveWorkflows(ctx, def.SpaceID)
			if err != nil {
				return nil, err
			}
			if count >= limit {
				return nil, &QuotaError{Limit: limit}
			}
		}
	}

	if err := s.store.SaveWorkflow(ctx, def); err != nil {
		return nil, err
	}

	refs, err := s.store.ListWorkflowProposals(ctx, def.ID)
	if err != nil {
		return nil, err
	}

	for _, change := range labelChanges(prev, def, refs) {
		if err := s.store.UpdateEvaluationActionLabels(ctx, change.EvaluationID, change.Labels); err != nil {
			log.Printf("workflows: propagate labels to evaluation %s: %v", change.EvaluationID, err)
		}
	}

	results := make([]TemplateSyncResult, 0)
	for _, ref := range refs {
		if !ref.IsTemplate {
			continue
		}
		plan := planTemplate(prev, def, ref)
		err := s.store.ApplyTemplatePlan(ctx, plan)
		if err != nil {
			log.Printf("workflows: reconcile template %s: %v", ref.ID, err)
		}
		results = append(results, TemplateSyncResult{ProposalID: ref.ID, Err: err})
	}
	return results, nil
}

// labelChanges diffs approve/reject labels between definitions (matched by
// evaluation id) and targets every live evaluation, on proposals and
// templates alike, whose title and type match the previous definition's
// entry. Titles are the cross-reference key because instances keep their own
// evaluation ids. Dropping the labels from an entry counts as a change and
// clears them on the instances.
func labelChanges(prev, next Definition, refs []ProposalRef) []LabelChange {
	prevByID := make(map[string]EvaluationConfig, len(prev.Evaluations))
	for _, cfg := range prev.Evaluations {
		prevByID[cfg.ID] = cfg
	}

	var changes []LabelChange
	for _, cfg := range next.Evaluations {
		prevCfg, ok := prevByID[cfg.ID]
		if !ok {
			continue // new entry, no live instances named after it yet
		}
		if labelsEqual(prevCfg.ActionLabels, cfg.ActionLabels) {
			continue
		}
		for _, ref := range refs {
			for _, ev := range ref.Evaluations {
				if ev.Title == prevCfg.Title && ev.Type == string(cfg.Type) {
					changes = append(changes, LabelChange{EvaluationID: ev.ID, Labels: cfg.ActionLabels})
				}
			}
		}
	}
	return changes
}

func labelsEqual(a, b *ActionLabels) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// planTemplate computes the reconciliation plan for one template. Each new
// definition entry claims the template evaluation whose title equals the
// entry's previous title (resolved by definition id); claimed evaluations
// are updated in place at their target index, unclaimed entries become
// creates, and template evaluations nothing claimed are deleted. Running
// the same definition twice therefore updates everything to identical
// values and creates nothing.
func planTemplate(prev, next Definition, ref ProposalRef) TemplatePlan {
	prevTitleByID := make(map[string]string, len(prev.Evaluations))
	for _, cfg := range prev.Evaluations {
		prevTitleByID[cfg.ID] = cfg.Title
	}

	// previousTitle -> template evaluation, built once per pass.
	byTitle := make(map[string]EvaluationRef, len(ref.Evaluations))
	for _, ev := range ref.Evaluations {
		byTitle[ev.Title] = ev
	}

	plan := TemplatePlan{ProposalID: ref.ID}
	processed := make(map[string]struct{}, len(ref.Evaluations))
	for index, cfg := range next.Evaluations {
		prevTitle, existed := prevTitleByID[cfg.ID]
		if existed {
			if ev, ok := byTitle[prevTitle]; ok {
				plan.Updates = append(plan.Updates, EvaluationUpdate{
					EvaluationID: ev.ID,
					Index:        index,
					Config:       cfg,
				})
				processed[ev.ID] = struct{}{}
				continue
			}
		}
		plan.Creates = append(plan.Creates, EvaluationCreate{Index: index, Config: cfg})
	}
	for _, ev := range ref.Evaluations {
		if _, ok := processed[ev.ID]; !ok {
			plan.Deletes = append(plan.Deletes, ev.ID)
		}
	}
	return plan
}
