// Package app wires the evaluation engine, workflow synchronizer and
// storage into the operations exposed over HTTP.
package app

import (
	"context"
	"log"
	"sort"
	"strings"
	"time"

	"tribune/api/internal/auth"
	"tribune/api/internal/config"
	"tribune/api/internal/email"
	"tribune/api/internal/evaluation"
	"tribune/api/internal/export"
	"tribune/api/internal/rbac"
	"tribune/api/internal/revisions"
	"tribune/api/internal/search"
	"tribune/api/internal/session"
	"tribune/api/internal/store"
	"tribune/api/internal/util"
	"tribune/api/internal/workflows"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	ListUserEmails(ctx context.Context, userIDs []string) (map[string]string, error)

	CreateSpace(ctx context.Context, space store.Space) error
	GetSpace(ctx context.Context, spaceID string) (store.Space, error)
	AddSpaceMember(ctx context.Context, spaceID, userID string, isAdmin bool) error
	GetMembership(ctx context.Context, spaceID, userID string) (store.SpaceMembership, error)
	IsSpaceMember(ctx context.Context, spaceID, userID string) (bool, error)
	ListSpaceMemberIDs(ctx context.Context, spaceID string) ([]string, error)
	CreateRole(ctx context.Context, role store.Role) error
	AddRoleMember(ctx context.Context, roleID, userID string) error
	ListRoleMembers(ctx context.Context, spaceID string) (map[string][]string, error)

	CreateProposal(ctx context.Context, proposal store.Proposal, authorIDs []string) error
	GetProposal(ctx context.Context, proposalID string) (store.Proposal, error)
	ListProposals(ctx context.Context, spaceID string, includeTemplates bool) ([]store.Proposal, error)
	UpdateProposalStatus(ctx context.Context, proposalID, status string) error
	UpdateProposalContent(ctx context.Context, proposalID, title, content string) error
	SetProposalArchived(ctx context.Context, proposalID string, archived bool) error
	MarkProposalDeleted(ctx context.Context, proposalID string) error
	ListProposalAuthors(ctx context.Context, proposalID string) ([]string, error)

	GetEvaluation(ctx context.Context, evaluationID string) (evaluation.Step, error)
	ListEvaluations(ctx context.Context, proposalID string) ([]evaluation.Step, error)
	CreateEvaluation(ctx context.Context, proposalID string, index int, cfg workflows.EvaluationConfig) (string, error)
	SubmitReview(ctx context.Context, params store.SubmitReviewParams) (evaluation.Step, bool, error)
	OpenAppeal(ctx context.Context, evaluationID, userID string) (evaluation.Step, error)
	ListReviews(ctx context.Context, evaluationID string, appeal bool) ([]evaluation.Review, error)

	CreateRubricCriterion(ctx context.Context, criterion evaluation.RubricCriterion, index int) error
	ListRubricCriteria(ctx context.Context, evaluationID string) ([]evaluation.RubricCriterion, error)
	UpsertRubricAnswer(ctx context.Context, evaluationID string, answer evaluation.RubricAnswer) error
	ListRubricAnswers(ctx context.Context, evaluationID string) ([]evaluation.RubricAnswer, error)

	CastVote(ctx context.Context, vote store.Vote) error
	VoteTallies(ctx context.Context, evaluationID string) ([]store.VoteTally, error)
	ListVoters(ctx context.Context, evaluationID string) ([]string, error)

	GetWorkflow(ctx context.Context, workflowID string) (workflows.Definition, bool, error)
	ListWorkflows(ctx context.Context, spaceID string) ([]workflows.Definition, error)
}

type sessionStore interface {
	Save(ctx context.Context, tokenHash string, data session.Data, expiresAt time.Time) error
	Lookup(ctx context.Context, tokenHash string) (session.Data, error)
	Revoke(ctx context.Context, tokenHash string) error
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  sessionStore
	flows     *workflows.Service
	search    *search.Service
	email     *email.Service
	revisions *revisions.Service
	export    *export.Service
}

func New(cfg config.Config, dataStore dataStore, sessions sessionStore, flows *workflows.Service, searchSvc *search.Service, emailSvc *email.Service, revisionsSvc *revisions.Service, exportSvc *export.Service) *Service {
	return &Service{
		cfg:       cfg,
		store:     dataStore,
		sessions:  sessions,
		flows:     flows,
		search:    searchSvc,
		email:     emailSvc,
		revisions: revisionsSvc,
		export:    exportSvc,
	}
}

func (s *Service) IssueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	if err := s.sessions.Save(ctx, auth.HashToken(refresh), session.Data{
		UserID:      user.ID,
		DisplayName: user.DisplayName,
	}, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	data, err := s.sessions.Lookup(ctx, tokenHash)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	if err := s.sessions.Revoke(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, data.UserID)
	if err != nil {
		return Session{}, err
	}
	return s.IssueSession(ctx, user)
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken != "" {
		_ = s.sessions.Revoke(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) spaceRole(ctx context.Context, spaceID, userID string) (rbac.Role, error) {
	membership, err := s.store.GetMembership(ctx, spaceID, userID)
	if store.IsNotFound(err) {
		return rbac.RoleNone, nil
	}
	if err != nil {
		return rbac.RoleNone, err
	}
	return rbac.ForMembership(true, membership.IsAdmin), nil
}

func (s *Service) requireSpaceAction(ctx context.Context, spaceID, userID string, action rbac.Action) error {
	role, err := s.spaceRole(ctx, spaceID, userID)
	if err != nil {
		return err
	}
	if !rbac.Can(role, action) {
		return domainError(403, "FORBIDDEN", "Forbidden", nil)
	}
	return nil
}

// resolverContext loads the inputs reviewer resolution needs for one
// proposal.
func (s *Service) resolverContext(ctx context.Context, proposal store.Proposal) (evaluation.ResolverContext, error) {
	authors, err := s.store.ListProposalAuthors(ctx, proposal.ID)
	if err != nil {
		return evaluation.ResolverContext{}, err
	}
	members, err := s.store.ListSpaceMemberIDs(ctx, proposal.SpaceID)
	if err != nil {
		return evaluation.ResolverContext{}, err
	}
	roles, err := s.store.ListRoleMembers(ctx, proposal.SpaceID)
	if err != nil {
		return evaluation.ResolverContext{}, err
	}
	return evaluation.ResolverContext{
		AuthorIDs:      authors,
		SpaceMemberIDs: members,
		RoleMembers:    roles,
	}, nil
}

type CreateSpaceInput struct {
	Name string `json:"name"`
	Tier string `json:"tier"`
}

// CreateSpace creates a space with the caller as its first admin.
func (s *Service) CreateSpace(ctx context.Context, userSession Session, input CreateSpaceInput) (map[string]any, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, domainError(422, "VALIDATION_ERROR", "name is required", nil)
	}
	tier := input.Tier
	if tier == "" {
		tier = "free"
	}
	space := store.Space{ID: util.NewID("spc"), Name: input.Name, Tier: tier}
	if err := s.store.CreateSpace(ctx, space); err != nil {
		return nil, err
	}
	if err := s.store.AddSpaceMember(ctx, space.ID, userSession.UserID, true); err != nil {
		return nil, err
	}
	return map[string]any{"id": space.ID, "name": space.Name, "tier": space.Tier}, nil
}

// AddSpaceMember adds or updates a membership. Space admins only.
func (s *Service) AddSpaceMember(ctx context.Context, userSession Session, spaceID, userID string, isAdmin bool) error {
	if err := s.requireSpaceAction(ctx, spaceID, userSession.UserID, rbac.ActionManageMembers); err != nil {
		return err
	}
	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		return err
	}
	return s.store.AddSpaceMember(ctx, spaceID, userID, isAdmin)
}

// CreateRole creates a named reviewer role in a space. Space admins only.
func (s *Service) CreateRole(ctx context.Context, userSession Session, spaceID, name string) (map[string]any, error) {
	if err := s.requireSpaceAction(ctx, spaceID, userSession.UserID, rbac.ActionManageMembers); err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" {
		return nil, domainError(422, "VALIDATION_ERROR", "name is required", nil)
	}
	role := store.Role{ID: util.NewID("rol"), SpaceID: spaceID, Name: name}
	if err := s.store.CreateRole(ctx, role); err != nil {
		return nil, err
	}
	return map[string]any{"id": role.ID, "name": role.Name}, nil
}

// AddRoleMember assigns a user to one of the space's roles. Space admins
// only.
func (s *Service) AddRoleMember(ctx context.Context, userSession Session, spaceID, roleID, userID string) error {
	if err := s.requireSpaceAction(ctx, spaceID, userSession.UserID, rbac.ActionManageMembers); err != nil {
		return err
	}
	roles, err := s.store.ListRoleMembers(ctx, spaceID)
	if err != nil {
		return err
	}
	if _, ok := roles[roleID]; !ok {
		return domainError(404, "ROLE_NOT_FOUND", "Role not found in this space", nil)
	}
	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		return err
	}
	return s.store.AddRoleMember(ctx, roleID, userID)
}

// SetProposalArchived archives or unarchives a proposal. Archived proposals
// keep their pipeline but drop out of the search index and workload report.
func (s *Service) SetProposalArchived(ctx context.Context, userSession Session, proposalID string, archived bool) (map[string]any, error) {
	proposal, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if err := s.requireAuthorOrAdmin(ctx, proposal, userSession.UserID); err != nil {
		return nil, err
	}
	if err := s.store.SetProposalArchived(ctx, proposalID, archived); err != nil {
		return nil, err
	}
	if s.search != nil && !proposal.IsTemplate {
		if archived {
			s.search.RemoveProposal(proposalID)
		} else {
			s.search.IndexProposal(search.ProposalRecord{
				ID:      proposalID,
				Title:   proposal.Title,
				Content: proposal.Content,
				SpaceID: proposal.SpaceID,
				Status:  proposal.Status,
			})
		}
	}
	return map[string]any{"id": proposalID, "archived": archived}, nil
}

type CreateProposalInput struct {
	SpaceID    string   `json:"spaceId"`
	WorkflowID string   `json:"workflowId"`
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	IsTemplate bool     `json:"isTemplate"`
	AuthorIDs  []string `json:"authorIds"`
}

// CreateProposal creates a draft proposal and instantiates the workflow's
// evaluation entries as its pipeline.
func (s *Service) CreateProposal(ctx context.Context, userSession Session, input CreateProposalInput) (map[string]any, error) {
	if strings.TrimSpace(input.Title) == "" {
		return nil, domainError(422, "VALIDATION_ERROR", "title is required", nil)
	}
	if err := s.requireSpaceAction(ctx, input.SpaceID, userSession.UserID, rbac.ActionCreateProposal); err != nil {
		return nil, err
	}

	def, found, err := s.store.GetWorkflow(ctx, input.WorkflowID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domainError(404, "WORKFLOW_NOT_FOUND", "Workflow not found", nil)
	}
	if def.Archived {
		return nil, domainError(422, "WORKFLOW_ARCHIVED", "Cannot create proposals from an archived workflow", nil)
	}
	if def.SpaceID != input.SpaceID {
		return nil, domainError(422, "VALIDATION_ERROR", "workflow belongs to a different space", nil)
	}

	proposal := store.Proposal{
		ID:         util.NewID("prp"),
		SpaceID:    input.SpaceID,
		WorkflowID: def.ID,
		Title:      input.Title,
		Content:    input.Content,
		Status:     evaluation.StatusDraft,
		IsTemplate: input.IsTemplate,
		CreatedBy:  userSession.UserID,
	}
	if err := s.store.CreateProposal(ctx, proposal, input.AuthorIDs); err != nil {
		return nil, err
	}
	for index, cfg := range def.Evaluations {
		if _, err := s.store.CreateEvaluation(ctx, proposal.ID, index, cfg); err != nil {
			return nil, err
		}
	}

	if s.revisions != nil && !proposal.IsTemplate {
		if err := s.revisions.Ensure(proposal.ID, revisions.Content{Title: proposal.Title, Body: proposal.Content}, userSession.UserName); err != nil {
			log.Printf("app: init revision history for %s: %v", proposal.ID, err)
		}
	}

	if s.search != nil && !proposal.IsTemplate {
		s.search.IndexProposal(search.ProposalRecord{
			ID:      proposal.ID,
			Title:   proposal.Title,
			Content: proposal.Content,
			SpaceID: proposal.SpaceID,
			Status:  proposal.Status,
		})
	}

	return map[string]any{"id": proposal.ID, "status": proposal.Status}, nil
}

type UpdateProposalInput struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// UpdateProposal edits a draft's title and content. Edits are recorded as a
// new revision in the proposal's history.
func (s *Service) UpdateProposal(ctx context.Context, userSession Session, proposalID string, input UpdateProposalInput) (map[string]any, error) {
	if strings.TrimSpace(input.Title) == "" {
		return nil, domainError(422, "VALIDATION_ERROR", "title is required", nil)
	}
	proposal, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if err := s.requireAuthorOrAdmin(ctx, proposal, userSession.UserID); err != nil {
		return nil, err
	}
	if proposal.Status != evaluation.StatusDraft {
		return nil, domainError(409, "NOT_DRAFT", "Only draft proposals can be edited", nil)
	}

	if err := s.store.UpdateProposalContent(ctx, proposalID, input.Title, input.Content); err != nil {
		return nil, err
	}

	var revision *revisions.RevisionInfo
	if s.revisions != nil && !proposal.IsTemplate {
		prev := revisions.Content{Title: proposal.Title, Body: proposal.Content}
		next := revisions.Content{Title: input.Title, Body: input.Content}
		if revisions.HasChanges(prev, next) {
			if info, err := s.revisions.Commit(proposalID, next, userSession.UserName, "Edit proposal"); err != nil {
				log.Printf("app: record revision for %s: %v", proposalID, err)
			} else {
				revision = &info
			}
		}
	}

	if s.search != nil && !proposal.IsTemplate {
		s.search.IndexProposal(search.ProposalRecord{
			ID:      proposalID,
			Title:   input.Title,
			Content: input.Content,
			SpaceID: proposal.SpaceID,
			Status:  proposal.Status,
		})
	}

	response := map[string]any{"id": proposalID, "title": input.Title}
	if revision != nil {
		response["revision"] = revision
	}
	return response, nil
}

// ProposalRevisions lists the proposal's edit history, newest first.
func (s *Service) ProposalRevisions(ctx context.Context, userSession Session, proposalID string, limit int) ([]revisions.RevisionInfo, error) {
	proposal, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if err := s.requireSpaceAction(ctx, proposal.SpaceID, userSession.UserID, rbac.ActionView); err != nil {
		return nil, err
	}
	if s.revisions == nil {
		return []revisions.RevisionInfo{}, nil
	}
	history, err := s.revisions.History(proposalID, limit)
	if err != nil {
		return nil, domainError(404, "NO_HISTORY", "No revision history for this proposal", nil)
	}
	return history, nil
}

// ProposalRevisionContent returns the proposal text as of one revision.
func (s *Service) ProposalRevisionContent(ctx context.Context, userSession Session, proposalID, hash string) (map[string]any, error) {
	proposal, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if err := s.requireSpaceAction(ctx, proposal.SpaceID, userSession.UserID, rbac.ActionView); err != nil {
		return nil, err
	}
	if s.revisions == nil {
		return nil, domainError(404, "NO_HISTORY", "No revision history for this proposal", nil)
	}
	content, err := s.revisions.GetByHash(proposalID, hash)
	if err != nil {
		return nil, domainError(404, "REVISION_NOT_FOUND", "Revision not found", nil)
	}
	return map[string]any{"hash": hash, "title": content.Title, "content": content.Body}, nil
}

// ExportProposal renders the proposal's decision record as PDF or DOCX.
// Reviewer-level detail is included for space members.
func (s *Service) ExportProposal(ctx context.Context, userSession Session, proposalID string, format export.Format) (*export.Result, error) {
	proposal, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if err := s.requireSpaceAction(ctx, proposal.SpaceID, userSession.UserID, rbac.ActionView); err != nil {
		return nil, err
	}
	if s.export == nil {
		return nil, domainError(503, "EXPORT_UNAVAILABLE", "Export is not available", nil)
	}
	return s.export.Export(ctx, export.Request{
		ProposalID:     proposalID,
		Format:         format,
		IncludeReviews: true,
	})
}

// PublishProposal moves a draft into review and notifies the reviewers of
// the first step.
func (s *Service) PublishProposal(ctx context.Context, userSession Session, proposalID string) (map[string]any, error) {
	proposal, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if err := s.requireAuthorOrAdmin(ctx, proposal, userSession.UserID); err != nil {
		return nil, err
	}
	if proposal.Status != evaluation.StatusDraft {
		return nil, domainError(409, "NOT_DRAFT", "Only draft proposals can be published", nil)
	}
	if err := s.store.UpdateProposalStatus(ctx, proposalID, "published"); err != nil {
		return nil, err
	}

	steps, err := s.store.ListEvaluations(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if current := evaluation.CurrentStep(steps); current != nil {
		s.notifyStepReviewers(ctx, proposal, *current)
	}
	return map[string]any{"id": proposalID, "status": "published"}, nil
}

func (s *Service) requireAuthorOrAdmin(ctx context.Context, proposal store.Proposal, userID string) error {
	authors, err := s.store.ListProposalAuthors(ctx, proposal.ID)
	if err != nil {
		return err
	}
	for _, author := range authors {
		if author == userID {
			return nil
		}
	}
	role, err := s.spaceRole(ctx, proposal.SpaceID, userID)
	if err != nil {
		return err
	}
	if role == rbac.RoleAdmin {
		return nil
	}
	return domainError(403, "FORBIDDEN", "Forbidden", nil)
}

// notifyStepReviewers emails the concrete reviewers of a step; failures are
// logged, never surfaced.
func (s *Service) notifyStepReviewers(ctx context.Context, proposal store.Proposal, step evaluation.Step) {
	if s.email == nil || !s.email.IsConfigured() {
		return
	}
	rc, err := s.resolverContext(ctx, proposal)
	if err != nil {
		log.Printf("app: resolve reviewers for notification: %v", err)
		return
	}
	users, err := evaluation.ResolveReviewers(step.Reviewers, rc)
	if err != nil {
		log.Printf("app: resolve reviewers for notification: %v", err)
		return
	}
	ids := make([]string, 0, len(users))
	for id := range users {
		ids = append(ids, id)
	}
	emails, err := s.store.ListUserEmails(ctx, ids)
	if err != nil {
		log.Printf("app: load reviewer emails: %v", err)
		return
	}
	to := make([]string, 0, len(emails))
	for _, addr := range emails {
		to = append(to, addr)
	}
	if err := s.email.NotifyReviewRequested(to, proposal.Title, step.Title, "", ""); err != nil {
		log.Printf("app: notify reviewers: %v", err)
	}
}

// ProposalFlow returns the proposal with its full pipeline: per-step
// results, the derived current step and overall status.
func (s *Service) ProposalFlow(ctx context.Context, userSession Session, proposalID string) (map[string]any, error) {
	proposal, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if err := s.requireSpaceAction(ctx, proposal.SpaceID, userSession.UserID, rbac.ActionView); err != nil {
		return nil, err
	}

	steps, err := s.store.ListEvaluations(ctx, proposalID)
	if err != nil {
		return nil, err
	}

	current := evaluation.CurrentStep(steps)
	items := make([]map[string]any, 0, len(steps))
	for _, step := range steps {
		item := map[string]any{
			"id":         step.ID,
			"index":      step.Index,
			"type":       string(step.Type),
			"title":      step.Title,
			"result":     nullableResult(step.Result),
			"finalStep":  step.FinalStep,
			"appealable": step.Appealable,
			"isCurrent":  current != nil && current.ID == step.ID,
		}
		if step.CompletedAt != nil {
			item["completedAt"] = step.CompletedAt
			item["decidedBy"] = step.DecidedBy
		}
		if step.AppealedAt != nil {
			item["appealedAt"] = step.AppealedAt
			item["appealedBy"] = step.AppealedBy
		}
		if step.Type == evaluation.StepVote {
			tallies, err := s.store.VoteTallies(ctx, step.ID)
			if err != nil {
				return nil, err
			}
			item["voteTallies"] = tallies
		}
		items = append(items, item)
	}

	flow := map[string]any{
		"id":     proposal.ID,
		"title":  proposal.Title,
		"status": evaluation.Status(proposal.Status, steps),
		"steps":  items,
	}
	if current != nil {
		flow["currentStepId"] = current.ID
	}
	return flow, nil
}

func nullableResult(result evaluation.Result) any {
	if result == evaluation.ResultPending {
		return nil
	}
	return string(result)
}

type SubmitResultInput struct {
	Result         string   `json:"result"`
	DeclineReasons []string `json:"declineReasons"`
	DeclineMessage string   `json:"declineMessage"`
}

// SubmitEvaluationResult records a pass/fail review on the proposal's
// current step.
func (s *Service) SubmitEvaluationResult(ctx context.Context, userSession Session, proposalID, evaluationID string, input SubmitResultInput) (map[string]any, error) {
	return s.submitResult(ctx, userSession, proposalID, evaluationID, input, false)
}

// SubmitAppealResult records a review on the appeal channel of an appealed
// step.
func (s *Service) SubmitAppealResult(ctx context.Context, userSession Session, proposalID, evaluationID string, input SubmitResultInput) (map[string]any, error) {
	return s.submitResult(ctx, userSession, proposalID, evaluationID, input, true)
}

func (s *Service) submitResult(ctx context.Context, userSession Session, proposalID, evaluationID string, input SubmitResultInput, appeal bool) (map[string]any, error) {
	result := evaluation.Result(input.Result)
	if result != evaluation.ResultPass && result != evaluation.ResultFail {
		return nil, domainError(422, "VALIDATION_ERROR", "result must be pass or fail", nil)
	}

	proposal, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if proposal.Status == evaluation.StatusDraft {
		return nil, domainError(409, "NOT_PUBLISHED", "Proposal has not been published", nil)
	}

	steps, err := s.store.ListEvaluations(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	current := evaluation.CurrentStep(steps)
	if current == nil || current.ID != evaluationID || current.Result != evaluation.ResultPending {
		return nil, domainError(409, "NOT_CURRENT_STEP", "Evaluation is not the current step", nil)
	}

	rc, err := s.resolverContext(ctx, proposal)
	if err != nil {
		return nil, err
	}
	specs := current.Reviewers
	if appeal {
		specs = current.AppealReviewers
	}
	if !evaluation.IsReviewer(userSession.UserID, specs, rc) {
		return nil, domainError(403, "NOT_A_REVIEWER", "You are not a reviewer on this step", nil)
	}

	step, decided, err := s.store.SubmitReview(ctx, store.SubmitReviewParams{
		EvaluationID:   evaluationID,
		ReviewerID:     userSession.UserID,
		Result:         result,
		Appeal:         appeal,
		DeclineReasons: input.DeclineReasons,
		DeclineMessage: input.DeclineMessage,
	})
	if err != nil {
		return nil, err
	}

	if decided {
		s.afterDecision(ctx, proposal, step, steps)
	}

	response := map[string]any{
		"evaluationId": step.ID,
		"decided":      decided,
		"result":       nullableResult(step.Result),
	}
	return response, nil
}

// afterDecision handles the side effects of a step reaching a result:
// author notifications and, on a pass, moving attention to the next step.
func (s *Service) afterDecision(ctx context.Context, proposal store.Proposal, decided evaluation.Step, previousSteps []evaluation.Step) {
	if s.email != nil && s.email.IsConfigured() {
		authors, err := s.store.ListProposalAuthors(ctx, proposal.ID)
		if err == nil {
			emails, err := s.store.ListUserEmails(ctx, authors)
			if err == nil {
				to := make([]string, 0, len(emails))
				for _, addr := range emails {
					to = append(to, addr)
				}
				if err := s.email.NotifyProposalDecided(to, proposal.Title, decided.Title, string(decided.Result)); err != nil {
					log.Printf("app: notify authors: %v", err)
				}
			}
		}
	}

	if decided.Result != evaluation.ResultPass || decided.FinalStep {
		return
	}
	for _, step := range previousSteps {
		if step.Index == decided.Index+1 {
			s.notifyStepReviewers(ctx, proposal, step)
			return
		}
	}
}

// AppealEvaluation reopens a decided, appealable step on behalf of an
// author.
func (s *Service) AppealEvaluation(ctx context.Context, userSession Session, proposalID, evaluationID string) (map[string]any, error) {
	proposal, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	// Authorship is checked against the caller's proposal, so a step that
	// belongs to a different proposal must be rejected before any write.
	step, err := s.store.GetEvaluation(ctx, evaluationID)
	if err != nil {
		return nil, err
	}
	if step.ProposalID != proposalID {
		return nil, domainError(404, "NOT_FOUND", "Not found", nil)
	}
	authors, err := s.store.ListProposalAuthors(ctx, proposal.ID)
	if err != nil {
		return nil, err
	}
	isAuthor := false
	for _, author := range authors {
		if author == userSession.UserID {
			isAuthor = true
			break
		}
	}
	if !isAuthor {
		return nil, domainError(403, "FORBIDDEN", "Only authors may appeal", nil)
	}

	step, err = s.store.OpenAppeal(ctx, evaluationID, userSession.UserID)
	if err != nil {
		return nil, err
	}

	if s.email != nil && s.email.IsConfigured() {
		rc, rcErr := s.resolverContext(ctx, proposal)
		if rcErr == nil {
			if users, resolveErr := evaluation.ResolveReviewers(step.AppealReviewers, rc); resolveErr == nil {
				ids := make([]string, 0, len(users))
				for id := range users {
					ids = append(ids, id)
				}
				if emails, emailErr := s.store.ListUserEmails(ctx, ids); emailErr == nil {
					to := make([]string, 0, len(emails))
					for _, addr := range emails {
						to = append(to, addr)
					}
					if err := s.email.NotifyAppealOpened(to, proposal.Title, step.Title); err != nil {
						log.Printf("app: notify appeal reviewers: %v", err)
					}
				}
			}
		}
	}

	return map[string]any{
		"evaluationId": step.ID,
		"appealedAt":   step.AppealedAt,
		"appealedBy":   step.AppealedBy,
	}, nil
}

type RubricAnswerInput struct {
	CriterionID string  `json:"criterionId"`
	Score       float64 `json:"score"`
	Comment     string  `json:"comment"`
}

// UpsertRubricAnswers saves one reviewer's scores, replacing any earlier
// answers for the same criteria.
func (s *Service) UpsertRubricAnswers(ctx context.Context, userSession Session, proposalID, evaluationID string, answers []RubricAnswerInput) (map[string]any, error) {
	proposal, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	step, err := s.store.GetEvaluation(ctx, evaluationID)
	if err != nil {
		return nil, err
	}
	if step.ProposalID != proposalID || step.Type != evaluation.StepRubric {
		return nil, domainError(404, "NOT_FOUND", "Not found", nil)
	}

	rc, err := s.resolverContext(ctx, proposal)
	if err != nil {
		return nil, err
	}
	if !evaluation.IsReviewer(userSession.UserID, step.Reviewers, rc) {
		return nil, domainError(403, "NOT_A_REVIEWER", "You are not a reviewer on this step", nil)
	}

	criteria, err := s.store.ListRubricCriteria(ctx, evaluationID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]evaluation.RubricCriterion, len(criteria))
	for _, c := range criteria {
		byID[c.ID] = c
	}

	for _, answer := range answers {
		criterion, ok := byID[answer.CriterionID]
		if !ok {
			return nil, domainError(422, "VALIDATION_ERROR", "unknown rubric criterion", map[string]any{"criterionId": answer.CriterionID})
		}
		if answer.Score < criterion.MinScore || answer.Score > criterion.MaxScore {
			return nil, domainError(422, "SCORE_OUT_OF_RANGE", "score outside the criterion's range", map[string]any{
				"criterionId": answer.CriterionID,
				"min":         criterion.MinScore,
				"max":         criterion.MaxScore,
			})
		}
		if err := s.store.UpsertRubricAnswer(ctx, evaluationID, evaluation.RubricAnswer{
			CriterionID: answer.CriterionID,
			UserID:      userSession.UserID,
			Score:       answer.Score,
			Comment:     answer.Comment,
		}); err != nil {
			return nil, err
		}
	}
	return map[string]any{"saved": len(answers)}, nil
}

// RubricResults aggregates all answers for a rubric step. Authors only see
// results once the step is decided; reviewers and admins always do.
func (s *Service) RubricResults(ctx context.Context, userSession Session, proposalID, evaluationID string) (map[string]any, error) {
	proposal, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	step, err := s.store.GetEvaluation(ctx, evaluationID)
	if err != nil {
		return nil, err
	}
	if step.ProposalID != proposalID || step.Type != evaluation.StepRubric {
		return nil, domainError(404, "NOT_FOUND", "Not found", nil)
	}

	rc, err := s.resolverContext(ctx, proposal)
	if err != nil {
		return nil, err
	}
	isReviewer := evaluation.IsReviewer(userSession.UserID, step.Reviewers, rc)
	if !isReviewer {
		role, err := s.spaceRole(ctx, proposal.SpaceID, userSession.UserID)
		if err != nil {
			return nil, err
		}
		if role != rbac.RoleAdmin && step.Result == evaluation.ResultPending {
			return nil, domainError(403, "RESULTS_HIDDEN", "Results are hidden until the step is decided", nil)
		}
		if role == rbac.RoleNone {
			return nil, domainError(403, "FORBIDDEN", "Forbidden", nil)
		}
	}

	criteria, err := s.store.ListRubricCriteria(ctx, evaluationID)
	if err != nil {
		return nil, err
	}
	answers, err := s.store.ListRubricAnswers(ctx, evaluationID)
	if err != nil {
		return nil, err
	}
	summary := evaluation.AggregateRubric(criteria, answers)

	return map[string]any{
		"evaluationId": evaluationID,
		"criteria":     summary.Criteria,
		"allScores":    summary.AllScores,
	}, nil
}

// CastVote records one member's choice on a vote step. Re-voting replaces
// the earlier choice.
func (s *Service) CastVote(ctx context.Context, userSession Session, proposalID, evaluationID, choice string) (map[string]any, error) {
	if strings.TrimSpace(choice) == "" {
		return nil, domainError(422, "VALIDATION_ERROR", "choice is required", nil)
	}
	proposal, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if err := s.requireSpaceAction(ctx, proposal.SpaceID, userSession.UserID, rbac.ActionVote); err != nil {
		return nil, err
	}

	steps, err := s.store.ListEvaluations(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	current := evaluation.CurrentStep(steps)
	if current == nil || current.ID != evaluationID || current.Type != evaluation.StepVote {
		return nil, domainError(409, "NOT_CURRENT_STEP", "Voting is not open on this step", nil)
	}

	if err := s.store.CastVote(ctx, store.Vote{
		EvaluationID: evaluationID,
		UserID:       userSession.UserID,
		Choice:       choice,
	}); err != nil {
		return nil, err
	}
	tallies, err := s.store.VoteTallies(ctx, evaluationID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"evaluationId": evaluationID, "tallies": tallies}, nil
}

// WorkloadEntry is one reviewer's remaining review count across a space.
type WorkloadEntry struct {
	UserID      string `json:"userId"`
	ReviewsLeft int    `json:"reviewsLeft"`
}

// ReviewerWorkload counts, per reviewer, the current steps across the
// space's open proposals that still await that reviewer's input. Sorted by
// remaining reviews descending, then user id for a stable order.
func (s *Service) ReviewerWorkload(ctx context.Context, userSession Session, spaceID string) ([]WorkloadEntry, error) {
	if err := s.requireSpaceAction(ctx, spaceID, userSession.UserID, rbac.ActionView); err != nil {
		return nil, err
	}

	proposals, err := s.store.ListProposals(ctx, spaceID, false)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, proposal := range proposals {
		if proposal.Status == evaluation.StatusDraft || proposal.Archived {
			continue
		}
		steps, err := s.store.ListEvaluations(ctx, proposal.ID)
		if err != nil {
			return nil, err
		}
		current := evaluation.CurrentStep(steps)
		if current == nil || current.Result != evaluation.ResultPending {
			continue
		}

		appeal := current.AppealedAt != nil
		specs := current.Reviewers
		if appeal {
			specs = current.AppealReviewers
		}
		rc, err := s.resolverContext(ctx, proposal)
		if err != nil {
			return nil, err
		}
		reviewers, err := evaluation.ResolveReviewers(specs, rc)
		if err != nil {
			// A step gated on current_reviewer cannot be expanded into
			// concrete users; it contributes nothing to the workload.
			continue
		}
		reviews, err := s.store.ListReviews(ctx, current.ID, appeal)
		if err != nil {
			return nil, err
		}
		reviewed := make(map[string]struct{}, len(reviews))
		for _, review := range reviews {
			reviewed[review.ReviewerID] = struct{}{}
		}
		// Rubric answers and votes are that user's input on the step just
		// as much as a pass/fail review is.
		switch current.Type {
		case evaluation.StepRubric:
			answers, err := s.store.ListRubricAnswers(ctx, current.ID)
			if err != nil {
				return nil, err
			}
			for _, answer := range answers {
				reviewed[answer.UserID] = struct{}{}
			}
		case evaluation.StepVote:
			voters, err := s.store.ListVoters(ctx, current.ID)
			if err != nil {
				return nil, err
			}
			for _, voter := range voters {
				reviewed[voter] = struct{}{}
			}
		}
		for userID := range reviewers {
			if _, done := reviewed[userID]; !done {
				counts[userID]++
			}
		}
	}

	entries := make([]WorkloadEntry, 0, len(counts))
	for userID, count := range counts {
		entries = append(entries, WorkloadEntry{UserID: userID, ReviewsLeft: count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ReviewsLeft != entries[j].ReviewsLeft {
			return entries[i].ReviewsLeft > entries[j].ReviewsLeft
		}
		return entries[i].UserID < entries[j].UserID
	})
	return entries, nil
}

// UpsertWorkflow saves a workflow definition and synchronizes proposals and
// templates built from it. Space admins only.
func (s *Service) UpsertWorkflow(ctx context.Context, userSession Session, def workflows.Definition) (map[string]any, error) {
	if err := s.requireSpaceAction(ctx, def.SpaceID, userSession.UserID, rbac.ActionManageWorkflows); err != nil {
		return nil, err
	}

	results, err := s.flows.Upsert(ctx, def)
	if err != nil {
		return nil, err
	}

	if s.search != nil {
		s.search.IndexWorkflow(search.WorkflowRecord{ID: def.ID, Title: def.Title, SpaceID: def.SpaceID})
	}

	templates := make([]map[string]any, 0, len(results))
	for _, result := range results {
		item := map[string]any{"proposalId": result.ProposalID, "ok": result.Err == nil}
		if result.Err != nil {
			item["error"] = result.Err.Error()
		}
		templates = append(templates, item)
	}
	return map[string]any{"id": def.ID, "templates": templates}, nil
}

func (s *Service) ListWorkflows(ctx context.Context, userSession Session, spaceID string) ([]workflows.Definition, error) {
	if err := s.requireSpaceAction(ctx, spaceID, userSession.UserID, rbac.ActionView); err != nil {
		return nil, err
	}
	return s.store.ListWorkflows(ctx, spaceID)
}

func (s *Service) ListProposals(ctx context.Context, userSession Session, spaceID string, includeTemplates bool) ([]store.Proposal, error) {
	if err := s.requireSpaceAction(ctx, spaceID, userSession.UserID, rbac.ActionView); err != nil {
		return nil, err
	}
	return s.store.ListProposals(ctx, spaceID, includeTemplates)
}

// DeleteProposal soft-deletes a proposal; it drops out of listings, sync
// and workload but keeps its rows.
func (s *Service) DeleteProposal(ctx context.Context, userSession Session, proposalID string) error {
	proposal, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return err
	}
	if err := s.requireSpaceAction(ctx, proposal.SpaceID, userSession.UserID, rbac.ActionDeleteProposal); err != nil {
		return err
	}
	if err := s.store.MarkProposalDeleted(ctx, proposalID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.RemoveProposal(proposalID)
	}
	return nil
}

func (s *Service) Search(userSession Session, q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}
