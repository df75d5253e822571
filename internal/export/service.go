package export

import (
	"context"
	"fmt"
	"html/template"
	"time"

	"tribune/api/internal/evaluation"
	"tribune/api/internal/store"
)

// DataStore is the slice of storage an export needs.
type DataStore interface {
	GetProposal(ctx context.Context, proposalID string) (store.Proposal, error)
	GetSpace(ctx context.Context, spaceID string) (store.Space, error)
	ListEvaluations(ctx context.Context, proposalID string) ([]evaluation.Step, error)
	ListReviews(ctx context.Context, evaluationID string, appeal bool) ([]evaluation.Review, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)
}

type Service struct {
	store DataStore
}

func NewService(store DataStore) *Service {
	return &Service{store: store}
}

// Export renders the proposal's decision record in the requested format.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	proposal, err := s.store.GetProposal(ctx, req.ProposalID)
	if err != nil {
		return nil, fmt.Errorf("get proposal: %w", err)
	}
	space, err := s.store.GetSpace(ctx, proposal.SpaceID)
	if err != nil {
		return nil, fmt.Errorf("get space: %w", err)
	}
	steps, err := s.store.ListEvaluations(ctx, req.ProposalID)
	if err != nil {
		return nil, fmt.Errorf("list evaluations: %w", err)
	}

	data := TemplateData{
		Title:       proposal.Title,
		SpaceName:   space.Name,
		Status:      evaluation.Status(proposal.Status, steps),
		ContentHTML: template.HTML(BodyToHTML(proposal.Content)),
		GeneratedAt: time.Now(),
	}

	names := make(map[string]string)
	displayName := func(userID string) string {
		if userID == "" {
			return ""
		}
		if name, ok := names[userID]; ok {
			return name
		}
		name := userID
		if user, err := s.store.GetUserByID(ctx, userID); err == nil {
			name = user.DisplayName
		}
		names[userID] = name
		return name
	}

	for _, step := range steps {
		item := TemplateStep{
			Title:       step.Title,
			Type:        string(step.Type),
			Result:      string(step.Result),
			DecidedBy:   displayName(step.DecidedBy),
			CompletedAt: step.CompletedAt,
			Appealed:    step.AppealedAt != nil,
		}
		if req.IncludeReviews {
			for _, appeal := range []bool{false, true} {
				reviews, err := s.store.ListReviews(ctx, step.ID, appeal)
				if err != nil {
					return nil, fmt.Errorf("list reviews: %w", err)
				}
				for _, review := range reviews {
					item.Reviews = append(item.Reviews, TemplateReview{
						Reviewer: displayName(review.ReviewerID),
						Result:   string(review.Result),
						Appeal:   review.Appeal,
						Reasons:  review.DeclineReasons,
						Message:  review.DeclineMessage,
					})
				}
			}
		}
		data.Steps = append(data.Steps, item)
	}

	html, err := RenderRecordHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatPDF:
		return exportPDF(html, proposal.Title)
	case FormatDOCX:
		return exportDOCX(html, proposal.Title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}
