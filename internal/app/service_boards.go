package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mondayease/api/internal/access"
	"mondayease/api/internal/auth"
	"mondayease/api/internal/board"
	"mondayease/api/internal/monday"
	"mondayease/api/internal/oauth"
	"mondayease/api/internal/present"
	"mondayease/api/internal/rbac"
	"mondayease/api/internal/store"
	"mondayease/api/internal/util"
)

// boardFetchLimit bounds concurrent Monday requests for one task list.
const boardFetchLimit = 4

// Integrations

func (s *Service) ListIntegrations(ctx context.Context, sess Session) ([]map[string]any, error) {
	if sess.Kind != auth.KindUser {
		return nil, errForbidden
	}
	integrations, err := s.store.ListIntegrations(ctx, sess.PrincipalID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(integrations))
	for _, in := range integrations {
		items = append(items, integrationPayload(in))
	}
	return items, nil
}

func integrationPayload(in store.Integration) map[string]any {
	return map[string]any{
		"id":              in.ID,
		"integrationType": in.IntegrationType,
		"accountId":       in.AccountID,
		"accountName":     in.AccountName,
		"accountSlug":     in.AccountSlug,
		"remoteUserId":    in.RemoteUserID,
		"scopes":          in.Scopes,
		"status":          string(oauth.StateConnected),
		"connectedAt":     formatTime(in.CreatedAt),
		"updatedAt":       formatTime(in.UpdatedAt),
	}
}

// ConnectMonday starts the OAuth flow and returns the authorize URL.
func (s *Service) ConnectMonday(ctx context.Context, sess Session) (map[string]any, error) {
	if sess.Kind != auth.KindUser {
		return nil, errForbidden
	}
	if s.oauth == nil || !s.oauth.Configured() {
		return nil, domainError(http.StatusServiceUnavailable, "OAUTH_UNAVAILABLE", "Monday.com OAuth is not configured", nil)
	}
	authorizeURL, err := s.oauth.Start(ctx, sess.PrincipalID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"url": authorizeURL, "state": string(oauth.StateConnecting)}, nil
}

// OAuthCallback completes the flow and returns the redirect target. It never
// fails: errors are carried in the redirect.
func (s *Service) OAuthCallback(ctx context.Context, params oauth.CallbackParams) string {
	if s.oauth == nil {
		return s.cfg.AppURL + "/settings/integrations?error=" + oauth.CodeUnexpected
	}
	result := s.oauth.Callback(ctx, params)
	if result.State == oauth.StateConnected {
		s.logger.Info("monday integration connected",
			zap.String("user_id", result.Integration.UserID),
			zap.String("account_id", result.Integration.AccountID),
		)
	}
	return result.Redirect
}

func (s *Service) DeleteIntegration(ctx context.Context, sess Session, id string) error {
	if sess.Kind != auth.KindUser {
		return errForbidden
	}
	return s.store.DeleteIntegration(ctx, sess.PrincipalID, id)
}

// ownerToken returns the organization owner's Monday access token for an
// account, or for the owner's first Monday account when accountID is empty.
func (s *Service) ownerToken(ctx context.Context, orgID, accountID string) (store.Integration, error) {
	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		return store.Integration{}, err
	}
	if accountID != "" {
		in, err := s.store.GetIntegrationForAccount(ctx, org.OwnerID, store.IntegrationMonday, accountID)
		if errors.Is(err, sql.ErrNoRows) {
			return store.Integration{}, errNoIntegration
		}
		return in, err
	}
	integrations, err := s.store.ListIntegrations(ctx, org.OwnerID)
	if err != nil {
		return store.Integration{}, err
	}
	for _, in := range integrations {
		if in.IntegrationType == store.IntegrationMonday {
			return in, nil
		}
	}
	return store.Integration{}, errNoIntegration
}

// Remote data

func (s *Service) MondayBoards(ctx context.Context, sess Session, accountID string) (map[string]any, error) {
	if err := s.requireAction(sess, rbac.ActionConfigure); err != nil {
		return nil, err
	}
	in, err := s.ownerToken(ctx, sess.OrgID, accountID)
	if err != nil {
		return nil, err
	}
	boards, err := s.monday.Boards(ctx, in.AccessToken)
	if err != nil {
		return nil, err
	}
	return map[string]any{"accountId": in.AccountID, "boards": boards}, nil
}

func (s *Service) MondayUsers(ctx context.Context, sess Session, accountID string) (map[string]any, error) {
	if err := s.requireAction(sess, rbac.ActionManageUsers); err != nil {
		return nil, err
	}
	in, err := s.ownerToken(ctx, sess.OrgID, accountID)
	if err != nil {
		return nil, err
	}
	users, err := s.monday.Users(ctx, in.AccessToken)
	if err != nil {
		return nil, err
	}
	return map[string]any{"accountId": in.AccountID, "users": users}, nil
}

// Board configs

type BoardConfigInput struct {
	BoardID        string   `json:"boardId" validate:"required,numeric"`
	AccountID      string   `json:"accountId"`
	FilterColumnID string   `json:"filterColumnId"`
	VisibleColumns []string `json:"visibleColumns"`
}

func boardConfigPayload(bc store.BoardConfig) map[string]any {
	columns := bc.VisibleColumns
	if columns == nil {
		columns = []string{}
	}
	return map[string]any{
		"id":                bc.ID,
		"boardId":           bc.BoardID,
		"accountId":         bc.AccountID,
		"boardName":         bc.BoardName,
		"filterColumnId":    nilIfEmpty(bc.FilterColumnID),
		"filterColumnTitle": nilIfEmpty(bc.FilterColumnTitle),
		"visibleColumns":    columns,
		"active":            bc.Active,
		"createdAt":         formatTime(bc.CreatedAt),
		"updatedAt":         formatTime(bc.UpdatedAt),
	}
}

func (s *Service) ListBoardConfigs(ctx context.Context, sess Session) ([]map[string]any, error) {
	if err := s.requireAction(sess, rbac.ActionConfigure); err != nil {
		return nil, err
	}
	configs, err := s.store.ListBoardConfigs(ctx, sess.OrgID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(configs))
	for _, bc := range configs {
		items = append(items, boardConfigPayload(bc))
	}
	return items, nil
}

// describeColumns checks the discriminator and visible columns against the
// live board and returns the discriminator's title.
func describeColumns(b board.Board, filterColumnID string, visible []string) (string, error) {
	var details []fieldError
	title := ""
	if filterColumnID != "" {
		col, ok := b.Column(filterColumnID)
		if ok {
			title = col.Title
		} else if filterColumnID == board.NameColumn {
			title = "Name"
		} else {
			details = append(details, fieldError{Field: "filterColumnId", Message: "is not a column of board " + b.ID})
		}
	}
	for _, id := range visible {
		if id == board.NameColumn {
			continue
		}
		if _, ok := b.Column(id); !ok {
			details = append(details, fieldError{Field: "visibleColumns", Message: id + " is not a column of board " + b.ID})
		}
	}
	if len(details) > 0 {
		return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Validation failed", details)
	}
	return title, nil
}

func (s *Service) CreateBoardConfig(ctx context.Context, sess Session, input BoardConfigInput) (map[string]any, error) {
	if err := s.requireAction(sess, rbac.ActionConfigure); err != nil {
		return nil, err
	}
	in, err := s.ownerToken(ctx, sess.OrgID, strings.TrimSpace(input.AccountID))
	if err != nil {
		return nil, err
	}
	remote, err := s.monday.Board(ctx, in.AccessToken, input.BoardID)
	if err != nil {
		return nil, err
	}
	visible := cleanColumns(input.VisibleColumns)
	title, err := describeColumns(remote, input.FilterColumnID, visible)
	if err != nil {
		return nil, err
	}

	bc := store.BoardConfig{
		ID:                util.NewID("bcf"),
		OrganizationID:    sess.OrgID,
		BoardID:           remote.ID,
		AccountID:         in.AccountID,
		BoardName:         remote.Name,
		FilterColumnID:    input.FilterColumnID,
		FilterColumnTitle: title,
		VisibleColumns:    visible,
		CreatedBy:         sess.PrincipalID,
		Active:            true,
	}
	if err := s.store.InsertBoardConfig(ctx, bc); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, domainError(http.StatusConflict, "BOARD_ALREADY_CONFIGURED", "This board is already configured", nil)
		}
		return nil, err
	}
	return boardConfigPayload(bc), nil
}

type BoardConfigUpdate struct {
	FilterColumnID *string  `json:"filterColumnId"`
	VisibleColumns []string `json:"visibleColumns"`
}

func (s *Service) UpdateBoardConfig(ctx context.Context, sess Session, id string, input BoardConfigUpdate) (map[string]any, error) {
	if err := s.requireAction(sess, rbac.ActionConfigure); err != nil {
		return nil, err
	}
	bc, err := s.store.GetBoardConfig(ctx, sess.OrgID, id)
	if err != nil {
		return nil, err
	}
	if input.FilterColumnID != nil {
		bc.FilterColumnID = strings.TrimSpace(*input.FilterColumnID)
	}
	if input.VisibleColumns != nil {
		bc.VisibleColumns = cleanColumns(input.VisibleColumns)
	}

	in, err := s.ownerToken(ctx, sess.OrgID, bc.AccountID)
	if err != nil {
		return nil, err
	}
	remote, err := s.monday.Board(ctx, in.AccessToken, bc.BoardID)
	if err != nil {
		return nil, err
	}
	title, err := describeColumns(remote, bc.FilterColumnID, bc.VisibleColumns)
	if err != nil {
		return nil, err
	}
	bc.BoardName = remote.Name
	bc.FilterColumnTitle = title
	if err := s.store.UpdateBoardConfig(ctx, bc); err != nil {
		return nil, err
	}
	return boardConfigPayload(bc), nil
}

func (s *Service) DeleteBoardConfig(ctx context.Context, sess Session, id string) error {
	if err := s.requireAction(sess, rbac.ActionConfigure); err != nil {
		return err
	}
	return s.store.DeleteBoardConfig(ctx, sess.OrgID, id)
}

func cleanColumns(columns []string) []string {
	out := make([]string, 0, len(columns))
	seen := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Access mappings

// BoardAccess lists every member and client of the organization with their
// mapping on a board config. With includeValues the discriminator values
// currently on the board are listed for the picker.
func (s *Service) BoardAccess(ctx context.Context, sess Session, configID string, includeValues bool) (map[string]any, error) {
	if err := s.requireAction(sess, rbac.ActionConfigure); err != nil {
		return nil, err
	}
	bc, err := s.store.GetBoardConfig(ctx, sess.OrgID, configID)
	if err != nil {
		return nil, err
	}
	mappings, err := s.store.ListBoardAccess(ctx, bc.ID)
	if err != nil {
		return nil, err
	}
	byPrincipal := make(map[string]store.AccessMapping, len(mappings))
	for _, m := range mappings {
		byPrincipal[m.PrincipalType+":"+m.PrincipalID] = m
	}

	members, err := s.store.ListMembers(ctx, sess.OrgID)
	if err != nil {
		return nil, err
	}
	memberItems := make([]map[string]any, 0, len(members))
	for _, m := range members {
		memberItems = append(memberItems, accessEntry(m.ID, firstNonBlank(m.FullName, m.Email), m.Email, byPrincipal[store.PrincipalMember+":"+m.ID]))
	}

	clients, err := s.store.ListClients(ctx, sess.OrgID)
	if err != nil {
		return nil, err
	}
	clientItems := make([]map[string]any, 0, len(clients))
	for _, c := range clients {
		clientItems = append(clientItems, accessEntry(c.ID, firstNonBlank(c.FullName, c.Company, c.Email), c.Email, byPrincipal[store.PrincipalClient+":"+c.ID]))
	}

	payload := map[string]any{
		"boardConfig": boardConfigPayload(bc),
		"members":     memberItems,
		"clients":     clientItems,
	}
	if includeValues && bc.FilterColumnID != "" {
		in, err := s.ownerToken(ctx, sess.OrgID, bc.AccountID)
		if err != nil {
			return nil, err
		}
		rows, err := s.monday.Items(ctx, in.AccessToken, bc.BoardID)
		if err != nil {
			return nil, err
		}
		payload["values"] = access.DistinctValues(rows, bc.FilterColumnID)
	}
	return payload, nil
}

func accessEntry(id, name, emailAddr string, m store.AccessMapping) map[string]any {
	var mapping *access.Mapping
	hasMapping := m.PrincipalID != ""
	if hasMapping {
		mapping = access.NewMapping(m.FilterValue)
	}
	values := []string{}
	if mapping != nil {
		values = mapping.FilterValues
	}
	return map[string]any{
		"id":           id,
		"name":         name,
		"email":        emailAddr,
		"hasMapping":   hasMapping,
		"filterValues": values,
		"label":        mapping.Label(),
	}
}

// SetAccess stores a principal's filter values on a board config. Values are
// normalized to a trimmed comma-separated list; an empty list grants every row.
func (s *Service) SetAccess(ctx context.Context, sess Session, configID, principalType, principalID string, values []string) (map[string]any, error) {
	if err := s.requireAction(sess, rbac.ActionConfigure); err != nil {
		return nil, err
	}
	bc, err := s.store.GetBoardConfig(ctx, sess.OrgID, configID)
	if err != nil {
		return nil, err
	}
	if err := s.checkPrincipal(ctx, sess.OrgID, principalType, principalID); err != nil {
		return nil, err
	}
	normalized := board.SplitList(strings.Join(values, ","))
	if len(normalized) > 0 && bc.FilterColumnID == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Board config has no filter column", nil)
	}
	if err := s.store.UpsertAccess(ctx, principalType, principalID, bc.ID, strings.Join(normalized, ",")); err != nil {
		return nil, err
	}
	mapping := &access.Mapping{FilterValues: normalized}
	return map[string]any{
		"boardConfigId": bc.ID,
		"principalType": principalType,
		"principalId":   principalID,
		"filterValues":  normalized,
		"label":         mapping.Label(),
	}, nil
}

func (s *Service) DeleteAccess(ctx context.Context, sess Session, configID, principalType, principalID string) error {
	if err := s.requireAction(sess, rbac.ActionConfigure); err != nil {
		return err
	}
	bc, err := s.store.GetBoardConfig(ctx, sess.OrgID, configID)
	if err != nil {
		return err
	}
	return s.store.DeleteAccess(ctx, principalType, principalID, bc.ID)
}

func (s *Service) checkPrincipal(ctx context.Context, orgID, principalType, principalID string) error {
	switch principalType {
	case store.PrincipalMember:
		_, err := s.store.GetMember(ctx, orgID, principalID)
		return err
	case store.PrincipalClient:
		_, err := s.store.GetClient(ctx, orgID, principalID)
		return err
	default:
		return domainError(http.StatusBadRequest, "INVALID_PRINCIPAL", "Unknown principal type", nil)
	}
}

// Tasks

type taskPrincipal struct {
	kind string
	id   string
}

type boardTasks struct {
	config store.BoardConfig
	board  board.Board
	rows   []board.Row
}

// Tasks returns the caller's visible rows across the organization's active
// board configs. Owners may pass memberID to see another member's list.
// Clients only see boards they have a mapping on.
func (s *Service) Tasks(ctx context.Context, sess Session, memberID, group string) (map[string]any, error) {
	if err := requireOrgPrincipal(sess); err != nil {
		return nil, err
	}
	group = strings.ToLower(strings.TrimSpace(group))
	if group != "" && group != "status" && group != "due" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "group must be 'status' or 'due'", nil)
	}

	principal := taskPrincipal{kind: store.PrincipalMember, id: sess.MemberID}
	if sess.IsClient() {
		principal = taskPrincipal{kind: store.PrincipalClient, id: sess.PrincipalID}
	}
	if memberID = strings.TrimSpace(memberID); memberID != "" && memberID != sess.MemberID {
		if err := s.requireAction(sess, rbac.ActionImpersonate); err != nil {
			return nil, err
		}
		target, err := s.store.GetMember(ctx, sess.OrgID, memberID)
		if err != nil {
			return nil, err
		}
		principal = taskPrincipal{kind: store.PrincipalMember, id: target.ID}
	}

	configs, err := s.store.ListBoardConfigs(ctx, sess.OrgID)
	if err != nil {
		return nil, err
	}
	mappings, err := s.store.ListPrincipalAccess(ctx, principal.kind, principal.id)
	if err != nil {
		return nil, err
	}

	var selected []store.BoardConfig
	for _, bc := range configs {
		if !bc.Active {
			continue
		}
		if _, mapped := mappings[bc.ID]; principal.kind == store.PrincipalClient && !mapped {
			continue
		}
		selected = append(selected, bc)
	}

	tokens := make(map[string]string)
	for _, bc := range selected {
		if _, ok := tokens[bc.AccountID]; ok {
			continue
		}
		in, err := s.ownerToken(ctx, sess.OrgID, bc.AccountID)
		if err != nil {
			return nil, err
		}
		tokens[bc.AccountID] = in.AccessToken
	}

	results := make([]boardTasks, len(selected))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(boardFetchLimit)
	for i, bc := range selected {
		i, bc := i, bc
		token := tokens[bc.AccountID]
		g.Go(func() error {
			remote, err := s.monday.Board(gctx, token, bc.BoardID)
			if err != nil {
				return err
			}
			rows, err := s.monday.Items(gctx, token, bc.BoardID)
			if err != nil {
				return err
			}
			var mapping *access.Mapping
			if raw, ok := mappings[bc.ID]; ok {
				mapping = access.NewMapping(raw)
			}
			results[i] = boardTasks{
				config: bc,
				board:  remote,
				rows:   access.Apply(access.Config{BoardID: bc.BoardID, FilterColumnID: bc.FilterColumnID, VisibleColumns: bc.VisibleColumns}, rows, mapping),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		var apiErr *monday.APIError
		if !errors.As(err, &apiErr) {
			s.logger.Error("fetch tasks", zap.String("org_id", sess.OrgID), zap.Error(err))
		}
		return nil, err
	}

	tasks := make([]board.Row, 0)
	boards := make([]map[string]any, 0, len(results))
	statusColumns := make(map[string]string, len(results))
	dateColumns := make(map[string]string, len(results))
	for _, r := range results {
		tasks = append(tasks, r.rows...)
		columns := access.VisibleColumns(r.board.Columns, r.config.VisibleColumns)
		boards = append(boards, map[string]any{
			"boardConfigId": r.config.ID,
			"boardId":       r.config.BoardID,
			"name":          r.board.Name,
			"columns":       columns,
			"total":         len(r.rows),
		})
		// Lanes group on columns the rows still carry after projection.
		if col, ok := present.FirstColumnOfType(columns, "status"); ok {
			statusColumns[r.config.BoardID] = col.ID
		}
		if col, ok := present.FirstColumnOfType(columns, "date"); ok {
			dateColumns[r.config.BoardID] = col.ID
		}
	}

	payload := map[string]any{
		"tasks":  tasks,
		"boards": boards,
		"total":  len(tasks),
	}
	switch group {
	case "status":
		payload["lanes"] = present.GroupByStatusFunc(tasks, func(row board.Row) string { return statusColumns[row.BoardID] })
	case "due":
		payload["lanes"] = present.GroupByDueFunc(tasks, func(row board.Row) string { return dateColumns[row.BoardID] }, s.now())
	}
	return payload, nil
}
