package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"tribune/api/internal/evaluation"
	"tribune/api/internal/util"
	"tribune/api/internal/workflows"
)

var (
	ErrAlreadyDecided  = errors.New("evaluation already has a result")
	ErrDuplicateReview = errors.New("reviewer already submitted a review on this channel")
	ErrNotAppealable   = errors.New("evaluation does not allow appeals")
	ErrAlreadyAppealed = errors.New("evaluation was already appealed")
	ErrAppealNotOpen   = errors.New("evaluation has no open appeal")
)

const stepColumns = `
	id, proposal_id, idx, type, title,
	COALESCE(result, ''), completed_at, decided_by,
	required_reviews, final_step,
	appealable, appeal_required_reviews, appealed_at, appealed_by,
	reviewers_json, appeal_reviewers_json
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStep(row rowScanner) (evaluation.Step, error) {
	var step evaluation.Step
	var result string
	var reviewersJSON, appealReviewersJSON []byte
	err := row.Scan(
		&step.ID,
		&step.ProposalID,
		&step.Index,
		&step.Type,
		&step.Title,
		&result,
		&step.CompletedAt,
		&step.DecidedBy,
		&step.RequiredReviews,
		&step.FinalStep,
		&step.Appealable,
		&step.AppealRequiredReviews,
		&step.AppealedAt,
		&step.AppealedBy,
		&reviewersJSON,
		&appealReviewersJSON,
	)
	if err != nil {
		return evaluation.Step{}, err
	}
	step.Result = evaluation.Result(result)
	if err := json.Unmarshal(reviewersJSON, &step.Reviewers); err != nil {
		return evaluation.Step{}, fmt.Errorf("decode reviewers: %w", err)
	}
	if err := json.Unmarshal(appealReviewersJSON, &step.AppealReviewers); err != nil {
		return evaluation.Step{}, fmt.Errorf("decode appeal reviewers: %w", err)
	}
	return step, nil
}

func (s *PostgresStore) GetEvaluation(ctx context.Context, evaluationID string) (evaluation.Step, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+stepColumns+` FROM evaluations WHERE id=$1`, evaluationID)
	return scanStep(row)
}

func (s *PostgresStore) ListEvaluations(ctx context.Context, proposalID string) ([]evaluation.Step, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+stepColumns+` FROM evaluations WHERE proposal_id=$1 ORDER BY idx
	`, proposalID)
	if err != nil {
		return nil, fmt.Errorf("list evaluations: %w", err)
	}
	defer rows.Close()

	steps := make([]evaluation.Step, 0)
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("scan evaluation: %w", err)
		}
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate evaluations: %w", err)
	}
	return steps, nil
}

// CreateEvaluation instantiates one workflow entry as a live evaluation on a
// proposal and returns its id.
func (s *PostgresStore) CreateEvaluation(ctx context.Context, proposalID string, index int, cfg workflows.EvaluationConfig) (string, error) {
	id, err := insertEvaluation(ctx, s.db, proposalID, index, cfg)
	if err != nil {
		return "", err
	}
	return id, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertEvaluation(ctx context.Context, db execer, proposalID string, index int, cfg workflows.EvaluationConfig) (string, error) {
	id := util.NewID("ev")
	reviewersJSON, err := json.Marshal(specsOrEmpty(cfg.Reviewers))
	if err != nil {
		return "", fmt.Errorf("encode reviewers: %w", err)
	}
	appealJSON, err := json.Marshal(specsOrEmpty(cfg.AppealReviewers))
	if err != nil {
		return "", fmt.Errorf("encode appeal reviewers: %w", err)
	}
	actionJSON, err := marshalNullable(cfg.ActionLabels)
	if err != nil {
		return "", fmt.Errorf("encode action labels: %w", err)
	}
	notifyJSON, err := marshalNullable(cfg.NotificationLabels)
	if err != nil {
		return "", fmt.Errorf("encode notification labels: %w", err)
	}

	required := cfg.RequiredReviews
	if required < 1 {
		required = 1
	}
	appealRequired := cfg.AppealRequiredReviews
	if appealRequired < 1 {
		appealRequired = 1
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO evaluations (
			id, proposal_id, idx, type, title,
			required_reviews, final_step,
			appealable, appeal_required_reviews,
			reviewers_json, appeal_reviewers_json,
			action_labels_json, notification_labels_json,
			show_author_results_on_rubric_fail
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, $11::jsonb, $12::jsonb, $13::jsonb, $14)
	`, id, proposalID, index, string(cfg.Type), cfg.Title,
		required, cfg.FinalStep,
		cfg.Appealable, appealRequired,
		string(reviewersJSON), string(appealJSON),
		actionJSON, notifyJSON,
		cfg.ShowAuthorResultsOnRubricFail)
	if err != nil {
		return "", fmt.Errorf("insert evaluation: %w", err)
	}
	return id, nil
}

func specsOrEmpty(specs []evaluation.ReviewerSpec) []evaluation.ReviewerSpec {
	if specs == nil {
		return []evaluation.ReviewerSpec{}
	}
	return specs
}

func marshalNullable(v any) (any, error) {
	switch labels := v.(type) {
	case *workflows.ActionLabels:
		if labels == nil {
			return nil, nil
		}
	case *workflows.NotificationLabels:
		if labels == nil {
			return nil, nil
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

type SubmitReviewParams struct {
	EvaluationID   string
	ReviewerID     string
	Result         evaluation.Result
	Appeal         bool
	DeclineReasons []string
	DeclineMessage string
}

// SubmitReview records one reviewer's result and, when the channel reaches a
// decision, stamps the evaluation in the same transaction. A row lock on the
// evaluation serializes concurrent reviews so the required-reviews threshold
// is applied exactly once.
func (s *PostgresStore) SubmitReview(ctx context.Context, params SubmitReviewParams) (evaluation.Step, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return evaluation.Step{}, false, fmt.Errorf("begin submit review: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+stepColumns+` FROM evaluations WHERE id=$1 FOR UPDATE`, params.EvaluationID)
	step, err := scanStep(row)
	if err != nil {
		return evaluation.Step{}, false, err
	}

	if step.Result != evaluation.ResultPending {
		return evaluation.Step{}, false, ErrAlreadyDecided
	}
	if params.Appeal && step.AppealedAt == nil {
		return evaluation.Step{}, false, ErrAppealNotOpen
	}
	if !params.Appeal && step.AppealedAt != nil {
		// Once appealed, only the appeal channel can act.
		return evaluation.Step{}, false, ErrAppealNotOpen
	}

	reasonsJSON, err := json.Marshal(params.DeclineReasons)
	if err != nil {
		return evaluation.Step{}, false, fmt.Errorf("encode decline reasons: %w", err)
	}
	result, err := tx.ExecContext(ctx, `
		INSERT INTO evaluation_reviews (id, evaluation_id, reviewer_id, result, appeal, decline_reasons_json, decline_message)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
		ON CONFLICT (evaluation_id, reviewer_id, appeal) DO NOTHING
	`, util.NewID("rv"), params.EvaluationID, params.ReviewerID, string(params.Result), params.Appeal, string(reasonsJSON), params.DeclineMessage)
	if err != nil {
		return evaluation.Step{}, false, fmt.Errorf("insert review: %w", err)
	}
	if affected, err := result.RowsAffected(); err != nil {
		return evaluation.Step{}, false, fmt.Errorf("insert review rows: %w", err)
	} else if affected == 0 {
		return evaluation.Step{}, false, ErrDuplicateReview
	}

	reviews, err := listChannelReviews(ctx, tx, params.EvaluationID, params.Appeal)
	if err != nil {
		return evaluation.Step{}, false, err
	}

	required := step.RequiredReviews
	if params.Appeal {
		required = step.AppealRequiredReviews
	}
	outcome, decided := evaluation.Outcome(reviews, required)
	if decided {
		err := tx.QueryRowContext(ctx, `
			UPDATE evaluations
			SET result=$2, completed_at=NOW(), decided_by=$3
			WHERE id=$1
			RETURNING completed_at
		`, params.EvaluationID, string(outcome), params.ReviewerID).Scan(&step.CompletedAt)
		if err != nil {
			return evaluation.Step{}, false, fmt.Errorf("stamp evaluation result: %w", err)
		}
		step.Result = outcome
		step.DecidedBy = params.ReviewerID
	}

	if err := tx.Commit(); err != nil {
		return evaluation.Step{}, false, fmt.Errorf("commit submit review: %w", err)
	}
	return step, decided, nil
}

// OpenAppeal reopens a decided, appealable evaluation: the original result
// is cleared and further reviews flow through the appeal channel.
func (s *PostgresStore) OpenAppeal(ctx context.Context, evaluationID, userID string) (evaluation.Step, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return evaluation.Step{}, fmt.Errorf("begin appeal: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+stepColumns+` FROM evaluations WHERE id=$1 FOR UPDATE`, evaluationID)
	step, err := scanStep(row)
	if err != nil {
		return evaluation.Step{}, err
	}

	if !step.Appealable {
		return evaluation.Step{}, ErrNotAppealable
	}
	if step.AppealedAt != nil {
		return evaluation.Step{}, ErrAlreadyAppealed
	}
	if step.Result == evaluation.ResultPending {
		return evaluation.Step{}, ErrNotAppealable
	}

	err = tx.QueryRowContext(ctx, `
		UPDATE evaluations
		SET result=NULL, completed_at=NULL, decided_by='', appealed_at=NOW(), appealed_by=$2
		WHERE id=$1
		RETURNING appealed_at
	`, evaluationID, userID).Scan(&step.AppealedAt)
	if err != nil {
		return evaluation.Step{}, fmt.Errorf("open appeal: %w", err)
	}
	step.Result = evaluation.ResultPending
	step.CompletedAt = nil
	step.DecidedBy = ""
	step.AppealedBy = userID

	if err := tx.Commit(); err != nil {
		return evaluation.Step{}, fmt.Errorf("commit appeal: %w", err)
	}
	return step, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func listChannelReviews(ctx context.Context, db querier, evaluationID string, appeal bool) ([]evaluation.Review, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT evaluation_id, reviewer_id, result, appeal, completed_at, COALESCE(decline_reasons_json, 'null'), decline_message
		FROM evaluation_reviews
		WHERE evaluation_id=$1 AND appeal=$2
		ORDER BY completed_at
	`, evaluationID, appeal)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	reviews := make([]evaluation.Review, 0)
	for rows.Next() {
		var review evaluation.Review
		var result string
		var reasonsJSON []byte
		if err := rows.Scan(&review.EvaluationID, &review.ReviewerID, &result, &review.Appeal, &review.CompletedAt, &reasonsJSON, &review.DeclineMessage); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		review.Result = evaluation.Result(result)
		if err := json.Unmarshal(reasonsJSON, &review.DeclineReasons); err != nil {
			return nil, fmt.Errorf("decode decline reasons: %w", err)
		}
		reviews = append(reviews, review)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reviews: %w", err)
	}
	return reviews, nil
}

func (s *PostgresStore) ListReviews(ctx context.Context, evaluationID string, appeal bool) ([]evaluation.Review, error) {
	return listChannelReviews(ctx, s.db, evaluationID, appeal)
}

func (s *PostgresStore) CreateRubricCriterion(ctx context.Context, criterion evaluation.RubricCriterion, index int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rubric_criteria (id, evaluation_id, idx, title, description, min_score, max_score)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, criterion.ID, criterion.EvaluationID, index, criterion.Title, criterion.Description, criterion.MinScore, criterion.MaxScore)
	if err != nil {
		return fmt.Errorf("create rubric criterion: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRubricCriteria(ctx context.Context, evaluationID string) ([]evaluation.RubricCriterion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, evaluation_id, title, description, min_score, max_score
		FROM rubric_criteria
		WHERE evaluation_id=$1
		ORDER BY idx
	`, evaluationID)
	if err != nil {
		return nil, fmt.Errorf("list rubric criteria: %w", err)
	}
	defer rows.Close()

	criteria := make([]evaluation.RubricCriterion, 0)
	for rows.Next() {
		var c evaluation.RubricCriterion
		if err := rows.Scan(&c.ID, &c.EvaluationID, &c.Title, &c.Description, &c.MinScore, &c.MaxScore); err != nil {
			return nil, fmt.Errorf("scan rubric criterion: %w", err)
		}
		criteria = append(criteria, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rubric criteria: %w", err)
	}
	return criteria, nil
}

func (s *PostgresStore) UpsertRubricAnswer(ctx context.Context, evaluationID string, answer evaluation.RubricAnswer) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rubric_answers (criterion_id, evaluation_id, user_id, score, comment)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (criterion_id, user_id)
		DO UPDATE SET score=EXCLUDED.score, comment=EXCLUDED.comment, updated_at=NOW()
	`, answer.CriterionID, evaluationID, answer.UserID, answer.Score, answer.Comment)
	if err != nil {
		return fmt.Errorf("upsert rubric answer: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRubricAnswers(ctx context.Context, evaluationID string) ([]evaluation.RubricAnswer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT criterion_id, user_id, score, comment
		FROM rubric_answers
		WHERE evaluation_id=$1
		ORDER BY criterion_id, user_id
	`, evaluationID)
	if err != nil {
		return nil, fmt.Errorf("list rubric answers: %w", err)
	}
	defer rows.Close()

	answers := make([]evaluation.RubricAnswer, 0)
	for rows.Next() {
		var a evaluation.RubricAnswer
		if err := rows.Scan(&a.CriterionID, &a.UserID, &a.Score, &a.Comment); err != nil {
			return nil, fmt.Errorf("scan rubric answer: %w", err)
		}
		answers = append(answers, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rubric answers: %w", err)
	}
	return answers, nil
}

func (s *PostgresStore) CastVote(ctx context.Context, vote Vote) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO evaluation_votes (evaluation_id, user_id, choice)
		VALUES ($1, $2, $3)
		ON CONFLICT (evaluation_id, user_id)
		DO UPDATE SET choice=EXCLUDED.choice, created_at=NOW()
	`, vote.EvaluationID, vote.UserID, vote.Choice)
	if err != nil {
		return fmt.Errorf("cast vote: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListVoters(ctx context.Context, evaluationID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM evaluation_votes WHERE evaluation_id=$1 ORDER BY user_id
	`, evaluationID)
	if err != nil {
		return nil, fmt.Errorf("list voters: %w", err)
	}
	defer rows.Close()

	voters := make([]string, 0)
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan voter: %w", err)
		}
		voters = append(voters, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate voters: %w", err)
	}
	return voters, nil
}

func (s *PostgresStore) VoteTallies(ctx context.Context, evaluationID string) ([]VoteTally, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT choice, COUNT(*)
		FROM evaluation_votes
		WHERE evaluation_id=$1
		GROUP BY choice
		ORDER BY choice
	`, evaluationID)
	if err != nil {
		return nil, fmt.Errorf("vote tallies: %w", err)
	}
	defer rows.Close()

	tallies := make([]VoteTally, 0)
	for rows.Next() {
		var t VoteTally
		if err := rows.Scan(&t.Choice, &t.Count); err != nil {
			return nil, fmt.Errorf("scan vote tally: %w", err)
		}
		tallies = append(tallies, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vote tallies: %w", err)
	}
	return tallies, nil
}
