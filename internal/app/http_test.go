package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tribune/api/internal/authpw"
	"tribune/api/internal/config"
	"tribune/api/internal/store"
	"tribune/api/internal/workflows"
)

func newTestHandler(t *testing.T) (http.Handler, *memStore) {
	t.Helper()
	_, ms := newTestService(t)
	cfg := config.Config{JWTSecret: "test-secret", AccessTTL: time.Hour, RefreshTTL: 24 * time.Hour}
	svc := New(cfg, ms, newMemSessions(), workflows.New(ms), nil, nil, nil, nil)
	server := NewHTTPServer(svc, authpw.NewService(ms), "*", nil)
	return server.Handler(), ms
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	payload := make(map[string]any)
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, payload
}

func TestHTTPHealthAndCORS(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec, payload := doJSON(t, handler, http.MethodGet, "/api/health", "", nil)
	if rec.Code != http.StatusOK || payload["ok"] != true {
		t.Errorf("health: %d %v", rec.Code, payload)
	}

	rec, _ = doJSON(t, handler, http.MethodOptions, "/api/proposals", "", nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d", rec.Code)
	}
	if origin := rec.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Errorf("Allow-Origin = %q", origin)
	}
}

func TestHTTPRequiresAuth(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec, payload := doJSON(t, handler, http.MethodGet, "/api/spaces/sp-1/proposals", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	if payload["code"] != "UNAUTHORIZED" {
		t.Errorf("code = %v", payload["code"])
	}
}

func TestHTTPSignUpAndProposalLifecycle(t *testing.T) {
	handler, ms := newTestHandler(t)

	rec, payload := doJSON(t, handler, http.MethodPost, "/api/auth/signup", "", map[string]any{
		"email":       "casey@example.com",
		"password":    "correct horse",
		"displayName": "Casey",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup status = %d: %v", rec.Code, payload)
	}
	token, _ := payload["token"].(string)
	userID, _ := payload["userId"].(string)
	if token == "" || userID == "" {
		t.Fatalf("signup payload missing token or userId: %v", payload)
	}

	// Duplicate email is rejected.
	rec, payload = doJSON(t, handler, http.MethodPost, "/api/auth/signup", "", map[string]any{
		"email": "casey@example.com", "password": "correct horse", "displayName": "Casey",
	})
	if rec.Code != http.StatusConflict || payload["code"] != "EMAIL_EXISTS" {
		t.Errorf("duplicate signup: %d %v", rec.Code, payload)
	}

	ms.memberships[membershipKey("sp-1", userID)] = store.SpaceMembership{SpaceID: "sp-1", UserID: userID}

	rec, payload = doJSON(t, handler, http.MethodPost, "/api/proposals", token, map[string]any{
		"spaceId":    "sp-1",
		"workflowId": "wf-1",
		"title":      "Open the archive",
		"content":    "Make the archive public.",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create proposal: %d %v", rec.Code, payload)
	}
	proposalID, _ := payload["id"].(string)
	if proposalID == "" {
		t.Fatalf("missing proposal id: %v", payload)
	}

	rec, payload = doJSON(t, handler, http.MethodPost, "/api/proposals/"+proposalID+"/publish", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("publish: %d %v", rec.Code, payload)
	}

	rec, payload = doJSON(t, handler, http.MethodGet, "/api/proposals/"+proposalID+"/flow", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("flow: %d %v", rec.Code, payload)
	}
	steps, _ := payload["steps"].([]any)
	if len(steps) != 2 {
		t.Fatalf("flow steps = %v", payload["steps"])
	}
	if payload["currentStepId"] == "" {
		t.Error("missing currentStepId")
	}

	// Signin returns a fresh session for the same account.
	rec, payload = doJSON(t, handler, http.MethodPost, "/api/auth/signin", "", map[string]any{
		"email": "casey@example.com", "password": "correct horse",
	})
	if rec.Code != http.StatusOK || payload["token"] == "" {
		t.Errorf("signin: %d %v", rec.Code, payload)
	}
	rec, payload = doJSON(t, handler, http.MethodPost, "/api/auth/signin", "", map[string]any{
		"email": "casey@example.com", "password": "wrong horse",
	})
	if rec.Code != http.StatusUnauthorized || payload["code"] != "INVALID_CREDENTIALS" {
		t.Errorf("bad signin: %d %v", rec.Code, payload)
	}
}

func TestHTTPWorkflowUpsertValidation(t *testing.T) {
	handler, ms := newTestHandler(t)

	// Issue a token for the seeded admin through the service directly.
	svc := New(config.Config{JWTSecret: "test-secret", AccessTTL: time.Hour, RefreshTTL: time.Hour}, ms, newMemSessions(), workflows.New(ms), nil, nil, nil, nil)
	adminSession, err := svc.IssueSession(t.Context(), ms.users["adm-1"])
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}

	rec, payload := doJSON(t, handler, http.MethodPut, "/api/spaces/sp-1/workflows/wf-dup", adminSession.Token, map[string]any{
		"title": "Broken",
		"evaluations": []map[string]any{
			{"id": "a", "title": "Same", "type": "pass_fail"},
			{"id": "b", "title": "Same", "type": "pass_fail"},
		},
	})
	if rec.Code != http.StatusUnprocessableEntity || payload["code"] != "DUPLICATE_TITLE" {
		t.Errorf("duplicate titles: %d %v", rec.Code, payload)
	}

	rec, payload = doJSON(t, handler, http.MethodPut, "/api/spaces/sp-1/workflows/wf-ok", adminSession.Token, map[string]any{
		"title": "Working",
		"evaluations": []map[string]any{
			{"id": "a", "title": "Check", "type": "pass_fail"},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("upsert: %d %v", rec.Code, payload)
	}
	if payload["id"] != "wf-ok" {
		t.Errorf("id = %v", payload["id"])
	}
}
