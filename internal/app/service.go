package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"mondayease/api/internal/auth"
	"mondayease/api/internal/authpw"
	"mondayease/api/internal/board"
	"mondayease/api/internal/config"
	"mondayease/api/internal/email"
	"mondayease/api/internal/export"
	"mondayease/api/internal/oauth"
	"mondayease/api/internal/rbac"
	"mondayease/api/internal/search"
	"mondayease/api/internal/session"
	"mondayease/api/internal/store"
	"mondayease/api/internal/util"
)

// Session is the authenticated caller. Users carry their organization
// membership; clients carry the organization that created them.
type Session struct {
	Token        string
	RefreshToken string
	PrincipalID  string
	Kind         string
	Email        string
	Name         string
	OrgID        string
	MemberID     string
	Role         string
	MemberStatus string
	JTI          string
	ExpiresAt    time.Time
}

func (s Session) IsClient() bool {
	return s.Kind == auth.KindClient
}

type dataStore interface {
	Ping(ctx context.Context) error

	CreateUser(context.Context, store.UserProfile) error
	GetUserByEmail(context.Context, string) (store.UserProfile, error)
	GetUserByID(context.Context, string) (store.UserProfile, error)
	VerifyUserEmail(context.Context, string) (store.UserProfile, error)

	CreateOrganization(context.Context, store.Organization, store.Member) error
	GetOrganization(context.Context, string) (store.Organization, error)
	SetOrganizationLogo(context.Context, string, string) error

	GetMembershipByUser(context.Context, string) (store.Member, error)
	GetMember(context.Context, string, string) (store.Member, error)
	ListMembers(context.Context, string) ([]store.Member, error)
	InsertMember(context.Context, store.Member) error
	AcceptInvite(context.Context, string, string) (store.Member, error)
	UpdateMember(context.Context, string, string, string, string) error

	InsertClient(context.Context, store.Client) error
	ListClients(context.Context, string) ([]store.Client, error)
	GetClient(context.Context, string, string) (store.Client, error)
	GetClientByID(context.Context, string) (store.Client, error)
	GetClientByEmail(context.Context, string) (store.Client, error)
	DeleteClient(context.Context, string, string) error

	ListIntegrations(context.Context, string) ([]store.Integration, error)
	GetIntegrationForAccount(context.Context, string, string, string) (store.Integration, error)
	DeleteIntegration(context.Context, string, string) error

	ListBoardConfigs(context.Context, string) ([]store.BoardConfig, error)
	GetBoardConfig(context.Context, string, string) (store.BoardConfig, error)
	GetBoardConfigByBoard(context.Context, string, string) (store.BoardConfig, error)
	InsertBoardConfig(context.Context, store.BoardConfig) error
	UpdateBoardConfig(context.Context, store.BoardConfig) error
	DeleteBoardConfig(context.Context, string, string) error

	UpsertAccess(context.Context, string, string, string, string) error
	DeleteAccess(context.Context, string, string, string) error
	ListBoardAccess(context.Context, string) ([]store.AccessMapping, error)
	ListPrincipalAccess(context.Context, string, string) (map[string]string, error)

	ListViews(context.Context, string) ([]store.CustomView, error)
	ListViewSlugs(context.Context, string) ([]string, error)
	GetView(context.Context, string, string) (store.CustomView, error)
	GetViewBySlug(context.Context, string, string) (store.CustomView, error)
	InsertView(context.Context, store.CustomView) error
	UpdateView(context.Context, store.CustomView) error
	DeleteView(context.Context, string, string) error

	ListTemplates(context.Context) ([]store.WorkflowTemplate, error)
	GetTemplate(context.Context, string) (store.WorkflowTemplate, error)
	ListExecutions(context.Context, string, int) ([]store.WorkflowExecution, error)
	GetExecution(context.Context, string, string) (store.WorkflowExecution, error)
}

type sessionStore interface {
	SaveRefreshSession(context.Context, string, session.Principal, time.Time) error
	LookupRefreshSession(context.Context, string) (session.Principal, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
}

type mondayAPI interface {
	Boards(ctx context.Context, token string) ([]board.Board, error)
	Board(ctx context.Context, token, boardID string) (board.Board, error)
	Users(ctx context.Context, token string) ([]board.User, error)
	Items(ctx context.Context, token, boardID string) ([]board.Row, error)
}

type oauthFlow interface {
	Configured() bool
	Start(ctx context.Context, userID string) (string, error)
	Callback(ctx context.Context, params oauth.CallbackParams) oauth.Result
}

type workflowRunner interface {
	Execute(ctx context.Context, tmpl store.WorkflowTemplate, orgID, userID string, input json.RawMessage) (store.WorkflowExecution, error)
}

type mailer interface {
	IsConfigured() bool
	SendVerificationEmail(to, userName, verificationURL string) error
	SendInviteEmail(to string, data email.InviteData) error
}

type searcher interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexView(v search.ViewRecord)
	DeleteView(id string)
}

type objectStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	PresignGet(ctx context.Context, key, filename string) (string, error)
}

// Deps are the collaborators of a Service. OAuth, Search and Files may be
// nil when the matching backend is not configured.
type Deps struct {
	Store    dataStore
	Sessions sessionStore
	Monday   mondayAPI
	OAuth    oauthFlow
	Runner   workflowRunner
	Mailer   mailer
	Search   searcher
	Exporter *export.Service
	Files    objectStore
	Logger   *zap.Logger
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	passwd   *authpw.Service
	monday   mondayAPI
	oauth    oauthFlow
	runner   workflowRunner
	mailer   mailer
	search   searcher
	exporter *export.Service
	files    objectStore
	logger   *zap.Logger
	now      func() time.Time
}

func New(cfg config.Config, deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	exporter := deps.Exporter
	if exporter == nil {
		exporter = export.NewService()
	}
	return &Service{
		cfg:      cfg,
		store:    deps.Store,
		sessions: deps.Sessions,
		passwd:   authpw.NewService(deps.Store),
		monday:   deps.Monday,
		oauth:    deps.OAuth,
		runner:   deps.Runner,
		mailer:   deps.Mailer,
		search:   deps.Search,
		exporter: exporter,
		files:    deps.Files,
		logger:   logger.Named("app"),
		now:      time.Now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) SMTPConfigured() bool {
	return s.mailer != nil && s.mailer.IsConfigured()
}

// SignUp registers a user and mails the verification link. Without SMTP the
// token is returned so local setups can verify by hand.
func (s *Service) SignUp(ctx context.Context, emailAddr, password, fullName string) (map[string]any, error) {
	resp, err := s.passwd.SignUp(ctx, authpw.SignUpRequest{Email: emailAddr, Password: password, FullName: fullName})
	if err != nil {
		if errors.Is(err, authpw.ErrEmailTaken) {
			return nil, domainError(http.StatusConflict, "EMAIL_TAKEN", "An account with this email already exists", nil)
		}
		return nil, err
	}

	payload := map[string]any{
		"userId":  resp.User.ID,
		"message": "Please check your email to verify your account",
	}
	if !s.SMTPConfigured() {
		payload["devVerificationToken"] = resp.VerificationToken
		payload["message"] = "Account created. Verify your email to continue."
		return payload, nil
	}
	verifyURL := s.cfg.AppURL + "/auth/verify?token=" + resp.VerificationToken
	if err := s.mailer.SendVerificationEmail(resp.User.Email, firstNonBlank(resp.User.FullName, resp.User.Email), verifyURL); err != nil {
		s.logger.Warn("send verification email", zap.String("user_id", resp.User.ID), zap.Error(err))
	}
	return payload, nil
}

func (s *Service) SignIn(ctx context.Context, emailAddr, password string) (Session, error) {
	resp, err := s.passwd.SignIn(ctx, emailAddr, password)
	if err != nil {
		if errors.Is(err, authpw.ErrInvalidCredentials) {
			return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
		}
		return Session{}, err
	}
	if resp.RequiresVerify {
		return Session{}, domainError(http.StatusForbidden, "EMAIL_NOT_VERIFIED", "Please verify your email before signing in", nil)
	}
	return s.issueSession(ctx, session.Principal{ID: resp.User.ID, Kind: auth.KindUser, Email: resp.User.Email})
}

func (s *Service) SignInClient(ctx context.Context, emailAddr, password string) (Session, error) {
	client, err := s.passwd.SignInClient(ctx, emailAddr, password)
	if err != nil {
		if errors.Is(err, authpw.ErrInvalidCredentials) {
			return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
		}
		return Session{}, err
	}
	return s.issueSession(ctx, session.Principal{ID: client.ID, Kind: auth.KindClient, Email: client.Email})
}

func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if _, err := s.passwd.VerifyEmail(ctx, token); err != nil {
		if errors.Is(err, authpw.ErrInvalidToken) {
			return domainError(http.StatusBadRequest, "VERIFICATION_FAILED", err.Error(), nil)
		}
		return err
	}
	return nil
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(strings.TrimSpace(refreshToken))
	principal, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, principal)
}

func (s *Service) issueSession(ctx context.Context, principal session.Principal) (Session, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), principal.ID, principal.Email, principal.Kind, jti, expiresAt)
	if err != nil {
		return Session{}, err
	}

	refresh, err := util.NewToken(32)
	if err != nil {
		return Session{}, err
	}
	principal.CreatedAt = now
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), principal, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	sess, err := s.loadPrincipal(ctx, principal.Kind, principal.ID)
	if err != nil {
		return Session{}, err
	}
	sess.Token = token
	sess.RefreshToken = refresh
	sess.JTI = jti
	sess.ExpiresAt = expiresAt
	return sess, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	sess, err := s.loadPrincipal(ctx, claims.Kind, claims.Subject)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	sess.Token = token
	sess.JTI = claims.ID
	if claims.ExpiresAt != nil {
		sess.ExpiresAt = claims.ExpiresAt.Time
	}
	return sess, nil
}

// loadPrincipal resolves the profile and organization context of a
// principal. A user without a membership gets an empty OrgID.
func (s *Service) loadPrincipal(ctx context.Context, kind, id string) (Session, error) {
	if kind == auth.KindClient {
		client, err := s.store.GetClientByID(ctx, id)
		if err != nil {
			return Session{}, err
		}
		return Session{
			PrincipalID: client.ID,
			Kind:        auth.KindClient,
			Email:       client.Email,
			Name:        firstNonBlank(client.FullName, client.Company, client.Email),
			OrgID:       client.OrganizationID,
		}, nil
	}

	user, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		return Session{}, err
	}
	sess := Session{
		PrincipalID: user.ID,
		Kind:        auth.KindUser,
		Email:       user.Email,
		Name:        firstNonBlank(user.FullName, user.Email),
	}
	member, err := s.store.GetMembershipByUser(ctx, user.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sess, nil
		}
		return Session{}, err
	}
	sess.OrgID = member.OrganizationID
	sess.MemberID = member.ID
	sess.Role = member.Role
	sess.MemberStatus = member.Status
	return sess, nil
}

func (s *Service) Logout(ctx context.Context, sess Session, refreshToken string) error {
	if sess.JTI != "" {
		if err := s.sessions.RevokeAccessToken(ctx, sess.JTI, sess.ExpiresAt); err != nil {
			s.logger.Warn("revoke access token", zap.Error(err))
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			s.logger.Warn("revoke refresh session", zap.Error(err))
		}
	}
	return nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// requireMember admits active organization members only.
func requireMember(sess Session) error {
	if sess.IsClient() || sess.OrgID == "" || sess.MemberStatus != rbac.StatusActive {
		return errNoOrganization
	}
	return nil
}

func (s *Service) requireAction(sess Session, action rbac.Action) error {
	if err := requireMember(sess); err != nil {
		return err
	}
	if !s.Can(sess.Role, action) {
		return errForbidden
	}
	return nil
}

// requireOrgPrincipal admits active members and clients.
func requireOrgPrincipal(sess Session) error {
	if sess.IsClient() && sess.OrgID != "" {
		return nil
	}
	return requireMember(sess)
}

func sessionPayload(sess Session) map[string]any {
	payload := map[string]any{
		"authenticated":  true,
		"kind":           sess.Kind,
		"userId":         sess.PrincipalID,
		"email":          sess.Email,
		"userName":       sess.Name,
		"organizationId": nilIfEmpty(sess.OrgID),
		"role":           nilIfEmpty(sess.Role),
		"memberStatus":   nilIfEmpty(sess.MemberStatus),
	}
	if sess.Token != "" && sess.RefreshToken != "" {
		payload["accessToken"] = sess.Token
		payload["refreshToken"] = sess.RefreshToken
		payload["expiresAt"] = sess.ExpiresAt.Unix()
	}
	return payload
}

func nilIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}
