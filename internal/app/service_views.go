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

	"mondayease/api/internal/access"
	"mondayease/api/internal/board"
	"mondayease/api/internal/export"
	"mondayease/api/internal/files"
	"mondayease/api/internal/rbac"
	"mondayease/api/internal/search"
	"mondayease/api/internal/store"
	"mondayease/api/internal/util"
	"mondayease/api/internal/views"
)

type ViewInput struct {
	Name          string          `json:"name" validate:"required,max=120"`
	BoardID       string          `json:"boardId" validate:"required,numeric"`
	BoardConfigID string          `json:"boardConfigId"`
	Columns       []string        `json:"columns"`
	Settings      *views.Settings `json:"settings"`
	Position      int             `json:"position" validate:"gte=0"`
}

type ViewUpdate struct {
	Name     *string         `json:"name" validate:"omitempty,min=1,max=120"`
	Columns  []string        `json:"columns"`
	Settings *views.Settings `json:"settings"`
	Position *int            `json:"position" validate:"omitempty,gte=0"`
}

func decodeSettings(raw json.RawMessage) views.Settings {
	settings := views.DefaultSettings()
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &settings)
	}
	return settings.Normalize()
}

func viewPayload(v store.CustomView) map[string]any {
	columns := v.Columns
	if columns == nil {
		columns = []string{}
	}
	return map[string]any{
		"id":            v.ID,
		"name":          v.Name,
		"slug":          v.Slug,
		"boardId":       v.BoardID,
		"boardConfigId": nilIfEmpty(v.BoardConfigID),
		"columns":       columns,
		"settings":      decodeSettings(v.Settings),
		"position":      v.Position,
		"createdBy":     v.CreatedBy,
		"createdAt":     formatTime(v.CreatedAt),
		"updatedAt":     formatTime(v.UpdatedAt),
	}
}

func viewRecord(v store.CustomView) search.ViewRecord {
	return search.ViewRecord{ID: v.ID, OrganizationID: v.OrganizationID, Slug: v.Slug, Name: v.Name, BoardID: v.BoardID}
}

func (s *Service) indexView(v store.CustomView) {
	if s.search != nil {
		s.search.IndexView(viewRecord(v))
	}
}

// ListViews returns the organization's views. Clients only see views on
// boards they are mapped to.
func (s *Service) ListViews(ctx context.Context, sess Session) ([]map[string]any, error) {
	if err := requireOrgPrincipal(sess); err != nil {
		return nil, err
	}
	list, err := s.store.ListViews(ctx, sess.OrgID)
	if err != nil {
		return nil, err
	}
	var allowed map[string]bool
	if sess.IsClient() {
		allowed, err = s.clientBoards(ctx, sess)
		if err != nil {
			return nil, err
		}
	}
	items := make([]map[string]any, 0, len(list))
	for _, v := range list {
		if allowed != nil && !allowed[v.BoardID] {
			continue
		}
		items = append(items, viewPayload(v))
	}
	return items, nil
}

// clientBoards lists the remote board ids a client holds a mapping on.
func (s *Service) clientBoards(ctx context.Context, sess Session) (map[string]bool, error) {
	mappings, err := s.store.ListPrincipalAccess(ctx, store.PrincipalClient, sess.PrincipalID)
	if err != nil {
		return nil, err
	}
	configs, err := s.store.ListBoardConfigs(ctx, sess.OrgID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(mappings))
	for _, bc := range configs {
		if _, ok := mappings[bc.ID]; ok {
			out[bc.BoardID] = true
		}
	}
	return out, nil
}

func (s *Service) GetView(ctx context.Context, sess Session, slug string) (map[string]any, error) {
	if err := requireOrgPrincipal(sess); err != nil {
		return nil, err
	}
	v, err := s.store.GetViewBySlug(ctx, sess.OrgID, slug)
	if err != nil {
		return nil, err
	}
	if sess.IsClient() {
		allowed, err := s.clientBoards(ctx, sess)
		if err != nil {
			return nil, err
		}
		if !allowed[v.BoardID] {
			return nil, sql.ErrNoRows
		}
	}
	return viewPayload(v), nil
}

func (s *Service) uniqueSlug(ctx context.Context, orgID, name, current string) (string, error) {
	slugs, err := s.store.ListViewSlugs(ctx, orgID)
	if err != nil {
		return "", err
	}
	taken := make(map[string]bool, len(slugs))
	for _, slug := range slugs {
		if slug != current {
			taken[slug] = true
		}
	}
	return views.UniqueSlug(name, func(candidate string) bool { return taken[candidate] }), nil
}

func (s *Service) CreateView(ctx context.Context, sess Session, input ViewInput) (map[string]any, error) {
	if err := s.requireAction(sess, rbac.ActionConfigure); err != nil {
		return nil, err
	}
	if input.BoardConfigID != "" {
		bc, err := s.store.GetBoardConfig(ctx, sess.OrgID, input.BoardConfigID)
		if err != nil {
			return nil, err
		}
		if bc.BoardID != input.BoardID {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Board config belongs to another board", nil)
		}
	}
	slug, err := s.uniqueSlug(ctx, sess.OrgID, input.Name, "")
	if err != nil {
		return nil, err
	}
	settings := views.DefaultSettings()
	if input.Settings != nil {
		settings = input.Settings.Normalize()
	}
	rawSettings, err := json.Marshal(settings)
	if err != nil {
		return nil, err
	}

	v := store.CustomView{
		ID:             util.NewID("vw"),
		OrganizationID: sess.OrgID,
		Name:           strings.TrimSpace(input.Name),
		Slug:           slug,
		BoardID:        input.BoardID,
		BoardConfigID:  input.BoardConfigID,
		Columns:        cleanColumns(input.Columns),
		Settings:       rawSettings,
		Position:       input.Position,
		CreatedBy:      sess.PrincipalID,
	}
	err = s.store.InsertView(ctx, v)
	if errors.Is(err, store.ErrConflict) {
		// A concurrent create took the slug between listing and inserting.
		if v.Slug, err = s.uniqueSlug(ctx, sess.OrgID, input.Name, ""); err != nil {
			return nil, err
		}
		err = s.store.InsertView(ctx, v)
	}
	if err != nil {
		return nil, err
	}
	s.indexView(v)
	return viewPayload(v), nil
}

// UpdateView edits a view. Renaming re-derives the slug.
func (s *Service) UpdateView(ctx context.Context, sess Session, slug string, input ViewUpdate) (map[string]any, error) {
	if err := s.requireAction(sess, rbac.ActionConfigure); err != nil {
		return nil, err
	}
	v, err := s.store.GetViewBySlug(ctx, sess.OrgID, slug)
	if err != nil {
		return nil, err
	}
	if input.Name != nil && strings.TrimSpace(*input.Name) != v.Name {
		v.Name = strings.TrimSpace(*input.Name)
		v.Slug, err = s.uniqueSlug(ctx, sess.OrgID, v.Name, v.Slug)
		if err != nil {
			return nil, err
		}
	}
	if input.Columns != nil {
		v.Columns = cleanColumns(input.Columns)
	}
	if input.Settings != nil {
		raw, err := json.Marshal(input.Settings.Normalize())
		if err != nil {
			return nil, err
		}
		v.Settings = raw
	}
	if input.Position != nil {
		v.Position = *input.Position
	}
	if err := s.store.UpdateView(ctx, v); err != nil {
		return nil, err
	}
	s.indexView(v)
	return viewPayload(v), nil
}

func (s *Service) DeleteView(ctx context.Context, sess Session, slug string) error {
	if err := s.requireAction(sess, rbac.ActionConfigure); err != nil {
		return err
	}
	v, err := s.store.GetViewBySlug(ctx, sess.OrgID, slug)
	if err != nil {
		return err
	}
	if err := s.store.DeleteView(ctx, sess.OrgID, v.ID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteView(v.ID)
	}
	return nil
}

// viewRows is the access-filtered content behind a view.
type viewRows struct {
	view     store.CustomView
	board    board.Board
	columns  []board.Column
	rows     []board.Row
	settings views.Settings
}

// loadViewRows fetches a view's board and applies the caller's mapping.
// Owners and admins see every row; members and clients go through their
// mapping on the board config, if any.
func (s *Service) loadViewRows(ctx context.Context, sess Session, v store.CustomView) (viewRows, error) {
	bc, err := s.viewBoardConfig(ctx, sess.OrgID, v)
	hasConfig := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return viewRows{}, err
	}

	var mapping *access.Mapping
	filtered := sess.IsClient() || rbac.Normalize(sess.Role) == rbac.RoleMember
	if filtered {
		if !hasConfig {
			if sess.IsClient() {
				return viewRows{}, sql.ErrNoRows
			}
		} else {
			kind, id := store.PrincipalMember, sess.MemberID
			if sess.IsClient() {
				kind, id = store.PrincipalClient, sess.PrincipalID
			}
			mappings, err := s.store.ListPrincipalAccess(ctx, kind, id)
			if err != nil {
				return viewRows{}, err
			}
			raw, ok := mappings[bc.ID]
			if sess.IsClient() && !ok {
				return viewRows{}, sql.ErrNoRows
			}
			if ok {
				mapping = access.NewMapping(raw)
			}
		}
	}

	accountID := ""
	if hasConfig {
		accountID = bc.AccountID
	}
	in, err := s.ownerToken(ctx, sess.OrgID, accountID)
	if err != nil {
		return viewRows{}, err
	}
	remote, err := s.monday.Board(ctx, in.AccessToken, v.BoardID)
	if err != nil {
		return viewRows{}, err
	}
	rows, err := s.monday.Items(ctx, in.AccessToken, v.BoardID)
	if err != nil {
		return viewRows{}, err
	}
	if hasConfig {
		rows = access.Apply(access.Config{BoardID: bc.BoardID, FilterColumnID: bc.FilterColumnID, VisibleColumns: bc.VisibleColumns}, rows, mapping)
	}

	return viewRows{
		view:     v,
		board:    remote,
		columns:  viewColumnsOf(remote, v.Columns),
		rows:     rows,
		settings: decodeSettings(v.Settings),
	}, nil
}

func (s *Service) viewBoardConfig(ctx context.Context, orgID string, v store.CustomView) (store.BoardConfig, error) {
	if v.BoardConfigID != "" {
		return s.store.GetBoardConfig(ctx, orgID, v.BoardConfigID)
	}
	return s.store.GetBoardConfigByBoard(ctx, orgID, v.BoardID)
}

// viewColumnsOf resolves a view's column ids against the board, in view
// order. An empty selection means every board column.
func viewColumnsOf(b board.Board, selected []string) []board.Column {
	if len(selected) == 0 {
		return b.Columns
	}
	out := make([]board.Column, 0, len(selected))
	for _, id := range selected {
		if col, ok := b.Column(id); ok {
			out = append(out, col)
		}
	}
	return out
}

func columnIDs(columns []board.Column) []string {
	ids := make([]string, 0, len(columns))
	for _, c := range columns {
		ids = append(ids, c.ID)
	}
	return ids
}

// ViewData returns one page of a view. viewID may be the view's id or slug.
func (s *Service) ViewData(ctx context.Context, sess Session, viewID string, q views.Query) (map[string]any, error) {
	if err := requireOrgPrincipal(sess); err != nil {
		return nil, err
	}
	viewID = strings.TrimSpace(viewID)
	if viewID == "" {
		return nil, domainError(http.StatusBadRequest, "BAD_REQUEST", "view_id is required", nil)
	}
	v, err := s.store.GetView(ctx, sess.OrgID, viewID)
	if errors.Is(err, sql.ErrNoRows) {
		v, err = s.store.GetViewBySlug(ctx, sess.OrgID, viewID)
	}
	if err != nil {
		return nil, err
	}

	data, err := s.loadViewRows(ctx, sess, v)
	if err != nil {
		return nil, err
	}
	page := views.Run(data.rows, columnIDs(data.columns), data.settings, q)
	return map[string]any{
		"view":       viewPayload(v),
		"board":      map[string]any{"id": data.board.ID, "name": data.board.Name},
		"columns":    data.columns,
		"rows":       page.Rows,
		"total":      page.Total,
		"page":       page.Page,
		"limit":      page.Limit,
		"totalPages": page.TotalPages,
	}, nil
}

// ExportOutcome is either a presigned download link or the file itself.
type ExportOutcome struct {
	File      *export.Result
	URL       string
	ExpiresAt time.Time
}

// ExportView renders every row of a view, after search and sort, as CSV or
// PDF. With object storage configured the file is uploaded and a link is
// returned instead of the bytes.
func (s *Service) ExportView(ctx context.Context, sess Session, slug, format string, q views.Query) (ExportOutcome, error) {
	if err := requireOrgPrincipal(sess); err != nil {
		return ExportOutcome{}, err
	}
	f, err := export.ParseFormat(format)
	if err != nil {
		return ExportOutcome{}, err
	}
	v, err := s.store.GetViewBySlug(ctx, sess.OrgID, slug)
	if err != nil {
		return ExportOutcome{}, err
	}
	data, err := s.loadViewRows(ctx, sess, v)
	if err != nil {
		return ExportOutcome{}, err
	}

	q = q.Normalize()
	ids := columnIDs(data.columns)
	rows := data.rows
	if data.settings.EnableSearch && q.Search != "" {
		rows = views.Search(rows, ids, q.Search)
	}
	if data.settings.EnableSort && q.Sort != "" {
		rows = views.SortRows(rows, q.Sort, q.Order == "desc")
	}

	table := s.exporter.BuildTable(v.Name, data.board.Name, data.columns, rows)
	result, err := s.exporter.Export(ctx, table, f)
	if err != nil {
		return ExportOutcome{}, err
	}
	if s.files == nil {
		return ExportOutcome{File: result}, nil
	}

	now := s.now()
	key := files.ExportKey(sess.OrgID, result.Filename, now)
	if err := s.files.Put(ctx, key, result.MimeType, result.Data); err != nil {
		s.logger.Warn("upload export", zap.String("view_id", v.ID), zap.Error(err))
		return ExportOutcome{File: result}, nil
	}
	link, err := s.files.PresignGet(ctx, key, result.Filename)
	if err != nil {
		return ExportOutcome{}, err
	}
	return ExportOutcome{URL: link, ExpiresAt: now.Add(files.PresignTTL), File: &export.Result{Filename: result.Filename, MimeType: result.MimeType}}, nil
}

// Search looks up views and workflow templates by name.
func (s *Service) Search(ctx context.Context, sess Session, text, kind string, limit int) (search.Response, error) {
	if err := requireMember(sess); err != nil {
		return search.Response{}, err
	}
	q := search.Query{Text: text, OrgID: sess.OrgID, Limit: limit}
	switch search.ResultType(kind) {
	case "":
	case search.ResultView, search.ResultWorkflow:
		q.FilterType = search.ResultType(kind)
	default:
		return search.Response{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "type must be 'view' or 'workflow'", nil)
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: strings.TrimSpace(text)}, nil
	}
	return s.search.Search(ctx, q), nil
}
