package app

import (
	"bytes"
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"mondayease/api/internal/board"
	"mondayease/api/internal/monday"
	"mondayease/api/internal/oauth"
	"mondayease/api/internal/rbac"
	"mondayease/api/internal/store"
)

type fakeOAuth struct {
	startFn    func(context.Context, string) (string, error)
	callbackFn func(context.Context, oauth.CallbackParams) oauth.Result
}

func (f *fakeOAuth) Configured() bool { return true }
func (f *fakeOAuth) Start(ctx context.Context, userID string) (string, error) {
	if f.startFn != nil {
		return f.startFn(ctx, userID)
	}
	return "https://auth.monday.com/oauth2/authorize?state=nonce", nil
}
func (f *fakeOAuth) Callback(ctx context.Context, params oauth.CallbackParams) oauth.Result {
	return f.callbackFn(ctx, params)
}

func TestTasksEndpointReportsMondayFailure(t *testing.T) {
	fs := &fakeStore{}
	svc, deps := newTestService(t, fs)
	withFixtureBoard(fs, deps)
	deps.monday.itemsFn = func(context.Context, string, string) ([]board.Row, error) {
		return nil, &monday.APIError{StatusCode: http.StatusInternalServerError, Message: "Internal server error"}
	}
	server := NewHTTPServer(svc, "*", nil)
	token := signedInAs(t, fs, rbac.RoleMember)

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeJSON(t, rr)
	if payload["code"] != "MONDAY_API_ERROR" || payload["error"] != "Internal server error" {
		t.Fatalf("unexpected error payload %v", payload)
	}
}

func TestTasksEndpointImpersonationForbiddenForMembers(t *testing.T) {
	fs := &fakeStore{}
	svc, deps := newTestService(t, fs)
	withFixtureBoard(fs, deps)
	server := NewHTTPServer(svc, "*", nil)
	token := signedInAs(t, fs, rbac.RoleMember)

	req := httptest.NewRequest(http.MethodGet, "/api/tasks?member_id=mem-2", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden || decodeJSON(t, rr)["code"] != "FORBIDDEN" {
		t.Fatalf("expected 403 FORBIDDEN, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestCreateBoardConfigEndpointValidation(t *testing.T) {
	fs := &fakeStore{}
	svc, _ := newTestService(t, fs)
	server := NewHTTPServer(svc, "*", nil)
	token := signedInAs(t, fs, rbac.RoleAdmin)

	req := httptest.NewRequest(http.MethodPost, "/api/board-configs", bytes.NewBufferString(`{"boardId":"abc"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d body=%s", rr.Code, rr.Body.String())
	}
	details, _ := decodeJSON(t, rr)["details"].([]any)
	if len(details) != 1 || details[0].(map[string]any)["field"] != "boardId" {
		t.Fatalf("expected a boardId detail, got %v", details)
	}
}

func TestViewNotFound(t *testing.T) {
	fs := &fakeStore{}
	svc, _ := newTestService(t, fs)
	server := NewHTTPServer(svc, "*", nil)
	token := signedInAs(t, fs, rbac.RoleMember)

	req := httptest.NewRequest(http.MethodGet, "/api/views/missing", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound || decodeJSON(t, rr)["code"] != "NOT_FOUND" {
		t.Fatalf("expected 404 NOT_FOUND, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestExportViewStreamsCSV(t *testing.T) {
	fs := &fakeStore{}
	svc, deps := newTestService(t, fs)
	withFixtureBoard(fs, deps)
	fs.getViewBySlugFn = func(_ context.Context, _ string, slug string) (store.CustomView, error) {
		if slug != "projects" {
			return store.CustomView{}, sql.ErrNoRows
		}
		return store.CustomView{ID: "vw-1", Name: "Projects", Slug: "projects", BoardID: "1001", Columns: []string{"status"}}, nil
	}
	server := NewHTTPServer(svc, "*", nil)
	token := signedInAs(t, fs, rbac.RoleAdmin)

	req := httptest.NewRequest(http.MethodGet, "/api/views/projects/export?format=csv&search=kick", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("expected csv content type, got %q", ct)
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, `filename="Projects.csv"`) {
		t.Fatalf("unexpected content disposition %q", cd)
	}
	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	if len(lines) != 2 || lines[0] != "Name,Status" || lines[1] != "Kickoff,Done" {
		t.Fatalf("expected header and the matching row, got %q", rr.Body.String())
	}
}

func TestExportViewRejectsUnknownFormat(t *testing.T) {
	fs := &fakeStore{}
	svc, _ := newTestService(t, fs)
	server := NewHTTPServer(svc, "*", nil)
	token := signedInAs(t, fs, rbac.RoleAdmin)

	req := httptest.NewRequest(http.MethodGet, "/api/views/projects/export?format=xlsx", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestOAuthCallbackRedirects(t *testing.T) {
	fs := &fakeStore{}
	svc, _ := newTestService(t, fs)
	var got oauth.CallbackParams
	svc.oauth = &fakeOAuth{
		callbackFn: func(_ context.Context, params oauth.CallbackParams) oauth.Result {
			got = params
			return oauth.Result{State: oauth.StateError, Code: oauth.CodeDenied, Redirect: "http://app.test/settings/integrations?error=oauth_denied"}
		},
	}
	server := NewHTTPServer(svc, "*", nil)

	req := httptest.NewRequest(http.MethodGet, "/api/oauth/monday/callback?error=access_denied&state=abc", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusFound {
		t.Fatalf("expected status 302, got %d", rr.Code)
	}
	if loc := rr.Header().Get("Location"); loc != "http://app.test/settings/integrations?error=oauth_denied" {
		t.Fatalf("unexpected redirect %q", loc)
	}
	if got.Error != "access_denied" || got.State != "abc" {
		t.Fatalf("unexpected callback params %+v", got)
	}
}

func TestConnectMondayEndpoint(t *testing.T) {
	fs := &fakeStore{}
	svc, _ := newTestService(t, fs)
	server := NewHTTPServer(svc, "*", nil)
	token := signedInAs(t, fs, rbac.RoleOwner)

	req := httptest.NewRequest(http.MethodPost, "/api/integrations/monday/connect", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusServiceUnavailable || decodeJSON(t, rr)["code"] != "OAUTH_UNAVAILABLE" {
		t.Fatalf("expected 503 OAUTH_UNAVAILABLE without oauth, got %d body=%s", rr.Code, rr.Body.String())
	}

	var startedFor string
	svc.oauth = &fakeOAuth{
		startFn: func(_ context.Context, userID string) (string, error) {
			startedFor = userID
			return "https://auth.monday.com/oauth2/authorize?state=n1", nil
		},
	}
	req = httptest.NewRequest(http.MethodPost, "/api/integrations/monday/connect", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if decodeJSON(t, rr)["url"] != "https://auth.monday.com/oauth2/authorize?state=n1" || startedFor != "usr-1" {
		t.Fatalf("unexpected connect response %s (user %q)", rr.Body.String(), startedFor)
	}
}

func TestUnknownRouteReturnsNotFound(t *testing.T) {
	fs := &fakeStore{}
	svc, _ := newTestService(t, fs)
	server := NewHTTPServer(svc, "*", nil)
	token := signedInAs(t, fs, rbac.RoleMember)

	req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}
