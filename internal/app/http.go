package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tribune/api/internal/auth"
	"tribune/api/internal/authpw"
	"tribune/api/internal/export"
	"tribune/api/internal/search"
	"tribune/api/internal/store"
	"tribune/api/internal/workflows"
)

type HTTPServer struct {
	service    *Service
	passwords  *authpw.Service
	corsOrigin string
	ready      func(ctx context.Context) error
}

func NewHTTPServer(service *Service, passwords *authpw.Service, corsOrigin string, ready func(ctx context.Context) error) *HTTPServer {
	return &HTTPServer{service: service, passwords: passwords, corsOrigin: corsOrigin, ready: ready}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		checks := map[string]any{"database": map[string]any{"status": "ok"}}
		statusCode := http.StatusOK
		if s.ready != nil {
			if err := s.ready(ctx); err != nil {
				statusCode = http.StatusServiceUnavailable
				checks["database"] = map[string]any{"status": "error", "error": err.Error()}
			}
		}
		writeJSON(w, statusCode, map[string]any{"ok": statusCode == http.StatusOK, "checks": checks})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		s.handleSignUp(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleSignIn(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userId":        session.UserID,
			"userName":      session.UserName,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
			return
		}
		writeJSON(w, http.StatusOK, sessionPayload(session))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.Logout(r.Context(), body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	// Everything below requires a session.
	session, err := s.service.SessionFromToken(r.Context(), bearerToken(r))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		q := r.URL.Query()
		response := s.service.Search(session, search.Query{
			Text:          q.Get("q"),
			FilterType:    search.ResultType(q.Get("type")),
			FilterSpaceID: q.Get("spaceId"),
		})
		writeJSON(w, http.StatusOK, response)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 2 && parts[0] == "api" {
		switch parts[1] {
		case "spaces":
			s.handleSpaces(w, r, session, parts[2:])
			return
		case "proposals":
			s.handleProposals(w, r, session, parts[2:])
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// handleSpaces routes /api/spaces and /api/spaces/{spaceId}/...
func (s *HTTPServer) handleSpaces(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 0 {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		var input CreateSpaceInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.CreateSpace(r.Context(), session, input)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
		return
	}
	if len(parts) < 2 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	spaceID := parts[0]

	switch {
	case r.Method == http.MethodGet && len(parts) == 2 && parts[1] == "proposals":
		includeTemplates := r.URL.Query().Get("templates") == "true"
		proposals, err := s.service.ListProposals(r.Context(), session, spaceID, includeTemplates)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"proposals": proposalItems(proposals)})

	case r.Method == http.MethodGet && len(parts) == 2 && parts[1] == "workflows":
		defs, err := s.service.ListWorkflows(r.Context(), session, spaceID)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"workflows": workflowItems(defs)})

	case r.Method == http.MethodPut && len(parts) == 3 && parts[1] == "workflows":
		var body struct {
			Title       string                       `json:"title"`
			Archived    bool                         `json:"archived"`
			Evaluations []workflows.EvaluationConfig `json:"evaluations"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.UpsertWorkflow(r.Context(), session, workflows.Definition{
			ID:          parts[2],
			SpaceID:     spaceID,
			Title:       body.Title,
			Archived:    body.Archived,
			Evaluations: body.Evaluations,
		})
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case r.Method == http.MethodPost && len(parts) == 2 && parts[1] == "members":
		var body struct {
			UserID  string `json:"userId"`
			IsAdmin bool   `json:"isAdmin"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.AddSpaceMember(r.Context(), session, spaceID, body.UserID, body.IsAdmin); err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case r.Method == http.MethodPost && len(parts) == 2 && parts[1] == "roles":
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.CreateRole(r.Context(), session, spaceID, body.Name)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, payload)

	case r.Method == http.MethodPost && len(parts) == 4 && parts[1] == "roles" && parts[3] == "members":
		var body struct {
			UserID string `json:"userId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.AddRoleMember(r.Context(), session, spaceID, parts[2], body.UserID); err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case r.Method == http.MethodGet && len(parts) == 2 && parts[1] == "reviewer-workload":
		entries, err := s.service.ReviewerWorkload(r.Context(), session, spaceID)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"workload": entries})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// handleProposals routes /api/proposals and /api/proposals/{id}/...
func (s *HTTPServer) handleProposals(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 0 {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		var input CreateProposalInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.CreateProposal(r.Context(), session, input)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
		return
	}

	proposalID := parts[0]
	rest := parts[1:]

	switch {
	case r.Method == http.MethodDelete && len(rest) == 0:
		if err := s.service.DeleteProposal(r.Context(), session, proposalID); err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case r.Method == http.MethodPut && len(rest) == 0:
		var input UpdateProposalInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.UpdateProposal(r.Context(), session, proposalID, input)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case r.Method == http.MethodGet && len(rest) == 1 && rest[0] == "revisions":
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		history, err := s.service.ProposalRevisions(r.Context(), session, proposalID, limit)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"revisions": history})

	case r.Method == http.MethodGet && len(rest) == 2 && rest[0] == "revisions":
		payload, err := s.service.ProposalRevisionContent(r.Context(), session, proposalID, rest[1])
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case r.Method == http.MethodGet && len(rest) == 1 && rest[0] == "export":
		format := export.Format(r.URL.Query().Get("format"))
		if format != export.FormatPDF && format != export.FormatDOCX {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be pdf or docx", nil)
			return
		}
		result, err := s.service.ExportProposal(r.Context(), session, proposalID, format)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		w.Header().Set("Content-Type", result.MimeType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)

	case r.Method == http.MethodGet && len(rest) == 1 && rest[0] == "flow":
		payload, err := s.service.ProposalFlow(r.Context(), session, proposalID)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case r.Method == http.MethodPost && len(rest) == 1 && rest[0] == "archive":
		body := struct {
			Archived *bool `json:"archived"`
		}{}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		archived := true
		if body.Archived != nil {
			archived = *body.Archived
		}
		payload, err := s.service.SetProposalArchived(r.Context(), session, proposalID, archived)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case r.Method == http.MethodPost && len(rest) == 1 && rest[0] == "publish":
		payload, err := s.service.PublishProposal(r.Context(), session, proposalID)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case len(rest) >= 2 && rest[0] == "evaluations":
		s.handleEvaluation(w, r, session, proposalID, rest[1], rest[2:])

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// handleEvaluation routes /api/proposals/{id}/evaluations/{evalId}/...
func (s *HTTPServer) handleEvaluation(w http.ResponseWriter, r *http.Request, session Session, proposalID, evaluationID string, rest []string) {
	switch {
	case r.Method == http.MethodPost && len(rest) == 1 && rest[0] == "submit-result":
		var input SubmitResultInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.SubmitEvaluationResult(r.Context(), session, proposalID, evaluationID, input)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case r.Method == http.MethodPost && len(rest) == 1 && rest[0] == "appeal":
		payload, err := s.service.AppealEvaluation(r.Context(), session, proposalID, evaluationID)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case r.Method == http.MethodPost && len(rest) == 2 && rest[0] == "appeal" && rest[1] == "submit-result":
		var input SubmitResultInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.SubmitAppealResult(r.Context(), session, proposalID, evaluationID, input)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case r.Method == http.MethodPut && len(rest) == 1 && rest[0] == "rubric-answers":
		var body struct {
			Answers []RubricAnswerInput `json:"answers"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.UpsertRubricAnswers(r.Context(), session, proposalID, evaluationID, body.Answers)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case r.Method == http.MethodGet && len(rest) == 1 && rest[0] == "rubric-results":
		payload, err := s.service.RubricResults(r.Context(), session, proposalID, evaluationID)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case r.Method == http.MethodPost && len(rest) == 1 && rest[0] == "vote":
		var body struct {
			Choice string `json:"choice"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.CastVote(r.Context(), session, proposalID, evaluationID, body.Choice)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	user, err := s.passwords.SignUp(r.Context(), authpw.SignUpRequest{
		Email:       body.Email,
		Password:    body.Password,
		DisplayName: body.DisplayName,
	})
	if err != nil {
		if errors.Is(err, authpw.ErrEmailTaken) {
			writeError(w, http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
			return
		}
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	session, err := s.service.IssueSession(r.Context(), user)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionPayload(session))
}

func (s *HTTPServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	user, err := s.passwords.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
		return
	}
	session, err := s.service.IssueSession(r.Context(), user)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func (s *HTTPServer) writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func sessionPayload(session Session) map[string]any {
	return map[string]any{
		"token":        session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.UserName,
	}
}

func proposalItems(proposals []store.Proposal) []map[string]any {
	items := make([]map[string]any, 0, len(proposals))
	for _, p := range proposals {
		items = append(items, map[string]any{
			"id":         p.ID,
			"title":      p.Title,
			"status":     p.Status,
			"workflowId": p.WorkflowID,
			"isTemplate": p.IsTemplate,
			"archived":   p.Archived,
			"createdBy":  p.CreatedBy,
			"createdAt":  p.CreatedAt,
		})
	}
	return items
}

func workflowItems(defs []workflows.Definition) []map[string]any {
	items := make([]map[string]any, 0, len(defs))
	for _, def := range defs {
		items = append(items, map[string]any{
			"id":          def.ID,
			"title":       def.Title,
			"archived":    def.Archived,
			"evaluations": def.Evaluations,
		})
	}
	return items
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var dup *workflows.DuplicateTitleError
	if errors.As(err, &dup) {
		return http.StatusUnprocessableEntity, "DUPLICATE_TITLE", dup.Error(), map[string]any{"title": dup.Title}
	}
	var quota *workflows.QuotaError
	if errors.As(err, &quota) {
		return http.StatusUnprocessableEntity, "WORKFLOW_LIMIT", quota.Error(), map[string]any{"limit": quota.Limit}
	}
	switch {
	case errors.Is(err, workflows.ErrArchived):
		return http.StatusConflict, "WORKFLOW_ARCHIVED", "Workflow is archived", nil
	case errors.Is(err, store.ErrAlreadyDecided):
		return http.StatusConflict, "ALREADY_DECIDED", "Evaluation already has a result", nil
	case errors.Is(err, store.ErrDuplicateReview):
		return http.StatusConflict, "DUPLICATE_REVIEW", "You already reviewed this step", nil
	case errors.Is(err, store.ErrNotAppealable):
		return http.StatusUnprocessableEntity, "NOT_APPEALABLE", "This evaluation cannot be appealed", nil
	case errors.Is(err, store.ErrAlreadyAppealed):
		return http.StatusConflict, "ALREADY_APPEALED", "This evaluation was already appealed", nil
	case errors.Is(err, store.ErrAppealNotOpen):
		return http.StatusConflict, "APPEAL_NOT_OPEN", "No open appeal on this evaluation", nil
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export dependencies are not installed", nil
	case store.IsNotFound(err):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
