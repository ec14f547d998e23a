package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFallback searches with ILIKE when Meilisearch is unavailable.
type PgFallback struct {
	db *sql.DB
}

func NewPgFallback(db *sql.DB) *PgFallback {
	return &PgFallback{db: db}
}

func (p *PgFallback) Search(ctx context.Context, q Query) ([]Result, int, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, 0, nil
	}
	pattern := "%" + escapeLike(text) + "%"
	limit := clampLimit(q.Limit)

	var subQueries []string
	args := []any{pattern}
	if q.FilterType == "" || q.FilterType == ResultView {
		args = append(args, q.OrgID)
		subQueries = append(subQueries, `
			SELECT 'view'::text AS type, v.id, v.slug, v.name AS title, ('board ' || v.monday_board_id) AS snippet, v.position AS rank
			FROM custom_board_views v
			WHERE v.organization_id = $2 AND (v.name ILIKE $1 OR v.slug ILIKE $1)`)
	}
	if q.FilterType == "" || q.FilterType == ResultWorkflow {
		subQueries = append(subQueries, `
			SELECT 'workflow'::text AS type, w.id, ''::text AS slug, w.name AS title, w.description AS snippet, 1000 AS rank
			FROM workflow_templates w
			WHERE w.is_active AND (w.name ILIKE $1 OR w.description ILIKE $1 OR w.category ILIKE $1)`)
	}
	if len(subQueries) == 0 {
		return nil, 0, nil
	}
	union := strings.Join(subQueries, " UNION ALL ")

	var total int
	if err := p.db.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM (%s) sub", union), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("search count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`SELECT type, id, slug, title, snippet FROM (%s) sub ORDER BY rank, title LIMIT %d`, union, limit), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("search query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Slug, &r.Title, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("search scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every searchable record for a full reindex.
func (p *PgFallback) LoadAllRecords(ctx context.Context) ([]ViewRecord, []WorkflowRecord, error) {
	viewRows, err := p.db.QueryContext(ctx, `SELECT id, organization_id, slug, name, monday_board_id FROM custom_board_views`)
	if err != nil {
		return nil, nil, fmt.Errorf("load views: %w", err)
	}
	defer viewRows.Close()

	views := make([]ViewRecord, 0)
	for viewRows.Next() {
		var v ViewRecord
		if err := viewRows.Scan(&v.ID, &v.OrganizationID, &v.Slug, &v.Name, &v.BoardID); err != nil {
			return nil, nil, fmt.Errorf("scan view: %w", err)
		}
		views = append(views, v)
	}
	if err := viewRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate views: %w", err)
	}

	workflowRows, err := p.db.QueryContext(ctx, `SELECT id, key, name, description, category FROM workflow_templates WHERE is_active`)
	if err != nil {
		return nil, nil, fmt.Errorf("load workflows: %w", err)
	}
	defer workflowRows.Close()

	workflows := make([]WorkflowRecord, 0)
	for workflowRows.Next() {
		var w WorkflowRecord
		if err := workflowRows.Scan(&w.ID, &w.Key, &w.Name, &w.Description, &w.Category); err != nil {
			return nil, nil, fmt.Errorf("scan workflow: %w", err)
		}
		workflows = append(workflows, w)
	}
	if err := workflowRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate workflows: %w", err)
	}

	return views, workflows, nil
}

func escapeLike(raw string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(raw)
}
