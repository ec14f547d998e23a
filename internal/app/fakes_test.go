package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"mondayease/api/internal/auth"
	"mondayease/api/internal/board"
	"mondayease/api/internal/config"
	"mondayease/api/internal/rbac"
	"mondayease/api/internal/search"
	"mondayease/api/internal/session"
	"mondayease/api/internal/store"
)

const testSecret = "test-secret"

type fakeStore struct {
	pingFn                     func(context.Context) error
	createUserFn               func(context.Context, store.UserProfile) error
	getUserByEmailFn           func(context.Context, string) (store.UserProfile, error)
	getUserByIDFn              func(context.Context, string) (store.UserProfile, error)
	verifyUserEmailFn          func(context.Context, string) (store.UserProfile, error)
	getOrganizationFn          func(context.Context, string) (store.Organization, error)
	getMembershipByUserFn      func(context.Context, string) (store.Member, error)
	getMemberFn                func(context.Context, string, string) (store.Member, error)
	listMembersFn              func(context.Context, string) ([]store.Member, error)
	insertMemberFn             func(context.Context, store.Member) error
	updateMemberFn             func(context.Context, string, string, string, string) error
	getClientFn                func(context.Context, string, string) (store.Client, error)
	getClientByIDFn            func(context.Context, string) (store.Client, error)
	getClientByEmailFn         func(context.Context, string) (store.Client, error)
	listIntegrationsFn         func(context.Context, string) ([]store.Integration, error)
	getIntegrationForAccountFn func(context.Context, string, string, string) (store.Integration, error)
	listBoardConfigsFn         func(context.Context, string) ([]store.BoardConfig, error)
	getBoardConfigFn           func(context.Context, string, string) (store.BoardConfig, error)
	getBoardConfigByBoardFn    func(context.Context, string, string) (store.BoardConfig, error)
	insertBoardConfigFn        func(context.Context, store.BoardConfig) error
	upsertAccessFn             func(context.Context, string, string, string, string) error
	listPrincipalAccessFn      func(context.Context, string, string) (map[string]string, error)
	listViewsFn                func(context.Context, string) ([]store.CustomView, error)
	listViewSlugsFn            func(context.Context, string) ([]string, error)
	getViewFn                  func(context.Context, string, string) (store.CustomView, error)
	getViewBySlugFn            func(context.Context, string, string) (store.CustomView, error)
	insertViewFn               func(context.Context, store.CustomView) error
	getTemplateFn              func(context.Context, string) (store.WorkflowTemplate, error)
	listExecutionsFn           func(context.Context, string, int) ([]store.WorkflowExecution, error)
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}
func (f *fakeStore) CreateUser(ctx context.Context, user store.UserProfile) error {
	if f.createUserFn != nil {
		return f.createUserFn(ctx, user)
	}
	return nil
}
func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.UserProfile, error) {
	if f.getUserByEmailFn != nil {
		return f.getUserByEmailFn(ctx, email)
	}
	return store.UserProfile{}, sql.ErrNoRows
}
func (f *fakeStore) GetUserByID(ctx context.Context, id string) (store.UserProfile, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, id)
	}
	return store.UserProfile{}, sql.ErrNoRows
}
func (f *fakeStore) VerifyUserEmail(ctx context.Context, token string) (store.UserProfile, error) {
	if f.verifyUserEmailFn != nil {
		return f.verifyUserEmailFn(ctx, token)
	}
	return store.UserProfile{}, sql.ErrNoRows
}
func (f *fakeStore) CreateOrganization(context.Context, store.Organization, store.Member) error {
	return nil
}
func (f *fakeStore) GetOrganization(ctx context.Context, id string) (store.Organization, error) {
	if f.getOrganizationFn != nil {
		return f.getOrganizationFn(ctx, id)
	}
	return store.Organization{ID: id, Name: "Org", OwnerID: "usr-owner"}, nil
}
func (f *fakeStore) SetOrganizationLogo(context.Context, string, string) error { return nil }
func (f *fakeStore) GetMembershipByUser(ctx context.Context, userID string) (store.Member, error) {
	if f.getMembershipByUserFn != nil {
		return f.getMembershipByUserFn(ctx, userID)
	}
	return store.Member{}, sql.ErrNoRows
}
func (f *fakeStore) GetMember(ctx context.Context, orgID, memberID string) (store.Member, error) {
	if f.getMemberFn != nil {
		return f.getMemberFn(ctx, orgID, memberID)
	}
	return store.Member{}, sql.ErrNoRows
}
func (f *fakeStore) ListMembers(ctx context.Context, orgID string) ([]store.Member, error) {
	if f.listMembersFn != nil {
		return f.listMembersFn(ctx, orgID)
	}
	return nil, nil
}
func (f *fakeStore) InsertMember(ctx context.Context, m store.Member) error {
	if f.insertMemberFn != nil {
		return f.insertMemberFn(ctx, m)
	}
	return nil
}
func (f *fakeStore) AcceptInvite(context.Context, string, string) (store.Member, error) {
	return store.Member{}, sql.ErrNoRows
}
func (f *fakeStore) UpdateMember(ctx context.Context, orgID, memberID, role, status string) error {
	if f.updateMemberFn != nil {
		return f.updateMemberFn(ctx, orgID, memberID, role, status)
	}
	return nil
}
func (f *fakeStore) InsertClient(context.Context, store.Client) error         { return nil }
func (f *fakeStore) ListClients(context.Context, string) ([]store.Client, error) { return nil, nil }
func (f *fakeStore) GetClient(ctx context.Context, orgID, id string) (store.Client, error) {
	if f.getClientFn != nil {
		return f.getClientFn(ctx, orgID, id)
	}
	return store.Client{}, sql.ErrNoRows
}
func (f *fakeStore) GetClientByID(ctx context.Context, id string) (store.Client, error) {
	if f.getClientByIDFn != nil {
		return f.getClientByIDFn(ctx, id)
	}
	return store.Client{}, sql.ErrNoRows
}
func (f *fakeStore) GetClientByEmail(ctx context.Context, email string) (store.Client, error) {
	if f.getClientByEmailFn != nil {
		return f.getClientByEmailFn(ctx, email)
	}
	return store.Client{}, sql.ErrNoRows
}
func (f *fakeStore) DeleteClient(context.Context, string, string) error { return nil }
func (f *fakeStore) ListIntegrations(ctx context.Context, userID string) ([]store.Integration, error) {
	if f.listIntegrationsFn != nil {
		return f.listIntegrationsFn(ctx, userID)
	}
	return nil, nil
}
func (f *fakeStore) GetIntegrationForAccount(ctx context.Context, userID, kind, accountID string) (store.Integration, error) {
	if f.getIntegrationForAccountFn != nil {
		return f.getIntegrationForAccountFn(ctx, userID, kind, accountID)
	}
	return store.Integration{UserID: userID, IntegrationType: kind, AccountID: accountID, AccessToken: "tok-" + accountID}, nil
}
func (f *fakeStore) DeleteIntegration(context.Context, string, string) error { return nil }
func (f *fakeStore) ListBoardConfigs(ctx context.Context, orgID string) ([]store.BoardConfig, error) {
	if f.listBoardConfigsFn != nil {
		return f.listBoardConfigsFn(ctx, orgID)
	}
	return nil, nil
}
func (f *fakeStore) GetBoardConfig(ctx context.Context, orgID, id string) (store.BoardConfig, error) {
	if f.getBoardConfigFn != nil {
		return f.getBoardConfigFn(ctx, orgID, id)
	}
	return store.BoardConfig{}, sql.ErrNoRows
}
func (f *fakeStore) GetBoardConfigByBoard(ctx context.Context, orgID, boardID string) (store.BoardConfig, error) {
	if f.getBoardConfigByBoardFn != nil {
		return f.getBoardConfigByBoardFn(ctx, orgID, boardID)
	}
	return store.BoardConfig{}, sql.ErrNoRows
}
func (f *fakeStore) InsertBoardConfig(ctx context.Context, bc store.BoardConfig) error {
	if f.insertBoardConfigFn != nil {
		return f.insertBoardConfigFn(ctx, bc)
	}
	return nil
}
func (f *fakeStore) UpdateBoardConfig(context.Context, store.BoardConfig) error   { return nil }
func (f *fakeStore) DeleteBoardConfig(context.Context, string, string) error      { return nil }
func (f *fakeStore) DeleteAccess(context.Context, string, string, string) error   { return nil }
func (f *fakeStore) ListBoardAccess(context.Context, string) ([]store.AccessMapping, error) {
	return nil, nil
}
func (f *fakeStore) UpsertAccess(ctx context.Context, principalType, principalID, configID, value string) error {
	if f.upsertAccessFn != nil {
		return f.upsertAccessFn(ctx, principalType, principalID, configID, value)
	}
	return nil
}
func (f *fakeStore) ListPrincipalAccess(ctx context.Context, principalType, principalID string) (map[string]string, error) {
	if f.listPrincipalAccessFn != nil {
		return f.listPrincipalAccessFn(ctx, principalType, principalID)
	}
	return map[string]string{}, nil
}
func (f *fakeStore) ListViews(ctx context.Context, orgID string) ([]store.CustomView, error) {
	if f.listViewsFn != nil {
		return f.listViewsFn(ctx, orgID)
	}
	return nil, nil
}
func (f *fakeStore) ListViewSlugs(ctx context.Context, orgID string) ([]string, error) {
	if f.listViewSlugsFn != nil {
		return f.listViewSlugsFn(ctx, orgID)
	}
	return nil, nil
}
func (f *fakeStore) GetView(ctx context.Context, orgID, id string) (store.CustomView, error) {
	if f.getViewFn != nil {
		return f.getViewFn(ctx, orgID, id)
	}
	return store.CustomView{}, sql.ErrNoRows
}
func (f *fakeStore) GetViewBySlug(ctx context.Context, orgID, slug string) (store.CustomView, error) {
	if f.getViewBySlugFn != nil {
		return f.getViewBySlugFn(ctx, orgID, slug)
	}
	return store.CustomView{}, sql.ErrNoRows
}
func (f *fakeStore) InsertView(ctx context.Context, v store.CustomView) error {
	if f.insertViewFn != nil {
		return f.insertViewFn(ctx, v)
	}
	return nil
}
func (f *fakeStore) UpdateView(context.Context, store.CustomView) error { return nil }
func (f *fakeStore) DeleteView(context.Context, string, string) error   { return nil }
func (f *fakeStore) ListTemplates(context.Context) ([]store.WorkflowTemplate, error) {
	return nil, nil
}
func (f *fakeStore) GetTemplate(ctx context.Context, id string) (store.WorkflowTemplate, error) {
	if f.getTemplateFn != nil {
		return f.getTemplateFn(ctx, id)
	}
	return store.WorkflowTemplate{}, sql.ErrNoRows
}
func (f *fakeStore) ListExecutions(ctx context.Context, orgID string, limit int) ([]store.WorkflowExecution, error) {
	if f.listExecutionsFn != nil {
		return f.listExecutionsFn(ctx, orgID, limit)
	}
	return nil, nil
}
func (f *fakeStore) GetExecution(context.Context, string, string) (store.WorkflowExecution, error) {
	return store.WorkflowExecution{}, sql.ErrNoRows
}

type fakeMonday struct {
	boardsFn func(context.Context, string) ([]board.Board, error)
	boardFn  func(context.Context, string, string) (board.Board, error)
	itemsFn  func(context.Context, string, string) ([]board.Row, error)
}

func (f *fakeMonday) Boards(ctx context.Context, token string) ([]board.Board, error) {
	if f.boardsFn != nil {
		return f.boardsFn(ctx, token)
	}
	return nil, nil
}
func (f *fakeMonday) Board(ctx context.Context, token, boardID string) (board.Board, error) {
	if f.boardFn != nil {
		return f.boardFn(ctx, token, boardID)
	}
	return board.Board{ID: boardID, Name: "Board " + boardID}, nil
}
func (f *fakeMonday) Users(context.Context, string) ([]board.User, error) { return nil, nil }
func (f *fakeMonday) Items(ctx context.Context, token, boardID string) ([]board.Row, error) {
	if f.itemsFn != nil {
		return f.itemsFn(ctx, token, boardID)
	}
	return nil, nil
}

type fakeRunner struct {
	executeFn func(context.Context, store.WorkflowTemplate, string, string, json.RawMessage) (store.WorkflowExecution, error)
}

func (f *fakeRunner) Execute(ctx context.Context, tmpl store.WorkflowTemplate, orgID, userID string, input json.RawMessage) (store.WorkflowExecution, error) {
	if f.executeFn != nil {
		return f.executeFn(ctx, tmpl, orgID, userID, input)
	}
	return store.WorkflowExecution{ID: "wfx-1", TemplateID: tmpl.ID, Status: "success"}, nil
}

type fakeSearch struct {
	indexed []search.ViewRecord
	deleted []string
}

func (f *fakeSearch) Search(_ context.Context, q search.Query) search.Response {
	return search.Response{Results: []search.Result{}, Query: q.Text, Backend: "fake"}
}
func (f *fakeSearch) IndexView(v search.ViewRecord) { f.indexed = append(f.indexed, v) }
func (f *fakeSearch) DeleteView(id string)          { f.deleted = append(f.deleted, id) }

type testDeps struct {
	monday *fakeMonday
	runner *fakeRunner
	search *fakeSearch
	redis  *miniredis.Miniredis
}

// newTestService wires a Service over fakes and a miniredis-backed session
// store.
func newTestService(t *testing.T, fs *fakeStore) (*Service, *testDeps) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	deps := &testDeps{
		monday: &fakeMonday{},
		runner: &fakeRunner{},
		search: &fakeSearch{},
		redis:  mr,
	}
	cfg := config.Config{
		JWTSecret:  testSecret,
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
		AppURL:     "http://app.test",
	}
	svc := New(cfg, Deps{
		Store:    fs,
		Sessions: session.NewRedisStoreWithClient(client),
		Monday:   deps.monday,
		Runner:   deps.runner,
		Search:   deps.search,
	})
	return svc, deps
}

func memberSession(role rbac.Role) Session {
	return Session{
		PrincipalID:  "usr-" + string(role),
		Kind:         auth.KindUser,
		Email:        string(role) + "@example.com",
		OrgID:        "org-1",
		MemberID:     "mem-" + string(role),
		Role:         string(role),
		MemberStatus: rbac.StatusActive,
	}
}

func clientSession() Session {
	return Session{
		PrincipalID: "cli-1",
		Kind:        auth.KindClient,
		Email:       "client@techcorp.test",
		OrgID:       "org-1",
	}
}

// Fixture board: three items, company discriminator in "text_company".
func fixtureBoard() board.Board {
	return board.Board{
		ID:   "1001",
		Name: "Projects",
		Columns: []board.Column{
			{ID: "status", Title: "Status", Type: "status"},
			{ID: "date4", Title: "Due", Type: "date"},
			{ID: "text_company", Title: "Company", Type: "text"},
		},
	}
}

func fixtureRows() []board.Row {
	row := func(id, name, company, status string) board.Row {
		return board.Row{
			ID:      id,
			BoardID: "1001",
			Name:    name,
			Cells: map[string]board.Cell{
				"status":       {Text: status, Type: "status"},
				"text_company": {Text: company, Type: "text"},
			},
		}
	}
	return []board.Row{
		row("1", "Kickoff", "TechCorp", "Done"),
		row("2", "Audit", "Acme", "Working on it"),
		row("3", "Launch", "TechCorp", "Stuck"),
	}
}

func fixtureConfig() store.BoardConfig {
	return store.BoardConfig{
		ID:             "bcf-1",
		OrganizationID: "org-1",
		BoardID:        "1001",
		AccountID:      "acc-1",
		BoardName:      "Projects",
		FilterColumnID: "text_company",
		Active:         true,
	}
}

// withFixtureBoard points the fakes at the fixture board and config.
func withFixtureBoard(fs *fakeStore, deps *testDeps) {
	fs.listBoardConfigsFn = func(context.Context, string) ([]store.BoardConfig, error) {
		return []store.BoardConfig{fixtureConfig()}, nil
	}
	fs.getBoardConfigFn = func(_ context.Context, _ string, id string) (store.BoardConfig, error) {
		if id == "bcf-1" {
			return fixtureConfig(), nil
		}
		return store.BoardConfig{}, sql.ErrNoRows
	}
	fs.getBoardConfigByBoardFn = func(_ context.Context, _ string, boardID string) (store.BoardConfig, error) {
		if boardID == "1001" {
			return fixtureConfig(), nil
		}
		return store.BoardConfig{}, sql.ErrNoRows
	}
	deps.monday.boardFn = func(context.Context, string, string) (board.Board, error) {
		return fixtureBoard(), nil
	}
	deps.monday.itemsFn = func(context.Context, string, string) ([]board.Row, error) {
		return fixtureRows(), nil
	}
}
