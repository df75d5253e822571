package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"tribune/api/internal/workflows"
)

func (s *PostgresStore) CountActiveWorkflows(ctx context.Context, spaceID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM workflows WHERE space_id=$1 AND NOT archived
	`, spaceID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count workflows: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) GetWorkflow(ctx context.Context, workflowID string) (workflows.Definition, bool, error) {
	var def workflows.Definition
	var evaluationsJSON []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, space_id, title, archived, evaluations_json
		FROM workflows WHERE id=$1
	`, workflowID).Scan(&def.ID, &def.SpaceID, &def.Title, &def.Archived, &evaluationsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return workflows.Definition{}, false, nil
	}
	if err != nil {
		return workflows.Definition{}, false, fmt.Errorf("get workflow: %w", err)
	}
	if err := json.Unmarshal(evaluationsJSON, &def.Evaluations); err != nil {
		return workflows.Definition{}, false, fmt.Errorf("decode workflow evaluations: %w", err)
	}
	return def, true, nil
}

func (s *PostgresStore) ListWorkflows(ctx context.Context, spaceID string) ([]workflows.Definition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, space_id, title, archived, evaluations_json
		FROM workflows
		WHERE space_id=$1
		ORDER BY title
	`, spaceID)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	defs := make([]workflows.Definition, 0)
	for rows.Next() {
		var def workflows.Definition
		var evaluationsJSON []byte
		if err := rows.Scan(&def.ID, &def.SpaceID, &def.Title, &def.Archived, &evaluationsJSON); err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		if err := json.Unmarshal(evaluationsJSON, &def.Evaluations); err != nil {
			return nil, fmt.Errorf("decode workflow evaluations: %w", err)
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workflows: %w", err)
	}
	return defs, nil
}

func (s *PostgresStore) SaveWorkflow(ctx context.Context, def workflows.Definition) error {
	evaluationsJSON, err := json.Marshal(def.Evaluations)
	if err != nil {
		return fmt.Errorf("encode workflow evaluations: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, space_id, title, archived, evaluations_json)
		VALUES ($1, $2, $3, $4, $5::jsonb)
		ON CONFLICT (id) DO UPDATE
		SET title=EXCLUDED.title, archived=EXCLUDED.archived, evaluations_json=EXCLUDED.evaluations_json, updated_at=NOW()
	`, def.ID, def.SpaceID, def.Title, def.Archived, string(evaluationsJSON))
	if err != nil {
		return fmt.Errorf("save workflow: %w", err)
	}
	return nil
}

// ListWorkflowProposals returns every live proposal and template built from
// the workflow with its evaluations, skipping soft-deleted pages.
func (s *PostgresStore) ListWorkflowProposals(ctx context.Context, workflowID string) ([]workflows.ProposalRef, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.is_template, e.id, e.title, e.type, e.idx
		FROM proposals p
		JOIN evaluations e ON e.proposal_id = p.id
		WHERE p.workflow_id=$1 AND NOT p.page_deleted
		ORDER BY p.id, e.idx
	`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list workflow proposals: %w", err)
	}
	defer rows.Close()

	refs := make([]workflows.ProposalRef, 0)
	index := make(map[string]int)
	for rows.Next() {
		var proposalID string
		var isTemplate bool
		var ev workflows.EvaluationRef
		if err := rows.Scan(&proposalID, &isTemplate, &ev.ID, &ev.Title, &ev.Type, &ev.Index); err != nil {
			return nil, fmt.Errorf("scan workflow proposal: %w", err)
		}
		i, ok := index[proposalID]
		if !ok {
			refs = append(refs, workflows.ProposalRef{ID: proposalID, IsTemplate: isTemplate})
			i = len(refs) - 1
			index[proposalID] = i
		}
		refs[i].Evaluations = append(refs[i].Evaluations, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workflow proposals: %w", err)
	}
	return refs, nil
}

func (s *PostgresStore) UpdateEvaluationActionLabels(ctx context.Context, evaluationID string, labels *workflows.ActionLabels) error {
	labelsJSON, err := marshalNullable(labels)
	if err != nil {
		return fmt.Errorf("encode action labels: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE evaluations SET action_labels_json=$2::jsonb WHERE id=$1
	`, evaluationID, labelsJSON)
	if err != nil {
		return fmt.Errorf("update action labels: %w", err)
	}
	return nil
}

// ApplyTemplatePlan runs a template reconciliation in one transaction so a
// template is never left half-synchronized.
func (s *PostgresStore) ApplyTemplatePlan(ctx context.Context, plan workflows.TemplatePlan) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin template sync: %w", err)
	}
	defer tx.Rollback()

	for _, update := range plan.Updates {
		if err := applyEvaluationUpdate(ctx, tx, update); err != nil {
			return err
		}
	}
	for _, create := range plan.Creates {
		if _, err := insertEvaluation(ctx, tx, plan.ProposalID, create.Index, create.Config); err != nil {
			return err
		}
	}
	for _, evaluationID := range plan.Deletes {
		if _, err := tx.ExecContext(ctx, `DELETE FROM evaluations WHERE id=$1`, evaluationID); err != nil {
			return fmt.Errorf("delete evaluation %s: %w", evaluationID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit template sync: %w", err)
	}
	return nil
}

func applyEvaluationUpdate(ctx context.Context, tx *sql.Tx, update workflows.EvaluationUpdate) error {
	cfg := update.Config
	reviewersJSON, err := json.Marshal(specsOrEmpty(cfg.Reviewers))
	if err != nil {
		return fmt.Errorf("encode reviewers: %w", err)
	}
	appealJSON, err := json.Marshal(specsOrEmpty(cfg.AppealReviewers))
	if err != nil {
		return fmt.Errorf("encode appeal reviewers: %w", err)
	}
	actionJSON, err := marshalNullable(cfg.ActionLabels)
	if err != nil {
		return fmt.Errorf("encode action labels: %w", err)
	}
	notifyJSON, err := marshalNullable(cfg.NotificationLabels)
	if err != nil {
		return fmt.Errorf("encode notification labels: %w", err)
	}

	required := cfg.RequiredReviews
	if required < 1 {
		required = 1
	}
	appealRequired := cfg.AppealRequiredReviews
	if appealRequired < 1 {
		appealRequired = 1
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE evaluations
		SET idx=$2, type=$3, title=$4,
			required_reviews=$5, final_step=$6,
			appealable=$7, appeal_required_reviews=$8,
			reviewers_json=$9::jsonb, appeal_reviewers_json=$10::jsonb,
			action_labels_json=$11::jsonb, notification_labels_json=$12::jsonb,
			show_author_results_on_rubric_fail=$13
		WHERE id=$1
	`, update.EvaluationID, update.Index, string(cfg.Type), cfg.Title,
		required, cfg.FinalStep,
		cfg.Appealable, appealRequired,
		string(reviewersJSON), string(appealJSON),
		actionJSON, notifyJSON,
		cfg.ShowAuthorResultsOnRubricFail)
	if err != nil {
		return fmt.Errorf("update evaluation %s: %w", update.EvaluationID, err)
	}
	return nil
}
