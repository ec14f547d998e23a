// Package views implements custom board views: slugs, display settings and
// the search, sort and pagination applied to a view's rows.
package views

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"mondayease/api/internal/board"
)

const (
	DefaultPageSize = 25
	MaxPageSize     = 100
)

// Row heights offered by the view editor.
const (
	RowHeightCompact     = "compact"
	RowHeightDefault     = "default"
	RowHeightComfortable = "comfortable"
)

type Settings struct {
	EnableSearch bool   `json:"enableSearch"`
	EnableSort   bool   `json:"enableSort"`
	RowHeight    string `json:"rowHeight"`
}

func DefaultSettings() Settings {
	return Settings{EnableSearch: true, EnableSort: true, RowHeight: RowHeightDefault}
}

// Normalize fills in a missing row height and rejects unknown ones.
func (s Settings) Normalize() Settings {
	switch s.RowHeight {
	case RowHeightCompact, RowHeightDefault, RowHeightComfortable:
	default:
		s.RowHeight = RowHeightDefault
	}
	return s
}

type Query struct {
	Page   int
	Limit  int
	Search string
	Sort   string
	Order  string
}

// Normalize clamps paging and lower-cases the order.
func (q Query) Normalize() Query {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit <= 0 {
		q.Limit = DefaultPageSize
	}
	if q.Limit > MaxPageSize {
		q.Limit = MaxPageSize
	}
	q.Search = strings.TrimSpace(q.Search)
	q.Sort = strings.TrimSpace(q.Sort)
	if strings.EqualFold(q.Order, "desc") {
		q.Order = "desc"
	} else {
		q.Order = "asc"
	}
	return q
}

type Page struct {
	Rows       []board.Row `json:"rows"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	TotalPages int         `json:"totalPages"`
}

// Run searches, sorts and paginates rows for a view with the given columns.
// Search and sort are skipped when the settings disable them.
func Run(rows []board.Row, columns []string, settings Settings, q Query) Page {
	q = q.Normalize()

	matched := rows
	if settings.EnableSearch && q.Search != "" {
		matched = Search(rows, columns, q.Search)
	}
	if settings.EnableSort && q.Sort != "" {
		matched = SortRows(matched, q.Sort, q.Order == "desc")
	}

	total := len(matched)
	start := (q.Page - 1) * q.Limit
	if start > total {
		start = total
	}
	end := start + q.Limit
	if end > total {
		end = total
	}

	pageRows := make([]board.Row, 0, end-start)
	for _, row := range matched[start:end] {
		pageRows = append(pageRows, row.Project(columns))
	}

	return Page{
		Rows:       pageRows,
		Total:      total,
		Page:       q.Page,
		Limit:      q.Limit,
		TotalPages: TotalPages(total, q.Limit),
	}
}

func TotalPages(total, limit int) int {
	if limit <= 0 || total == 0 {
		return 0
	}
	return (total + limit - 1) / limit
}

// Search keeps rows where any of the columns, or the item name, contains the
// term case-insensitively.
func Search(rows []board.Row, columns []string, term string) []board.Row {
	needle := strings.ToLower(term)
	out := make([]board.Row, 0, len(rows))
	for _, row := range rows {
		if strings.Contains(strings.ToLower(row.Name), needle) {
			out = append(out, row)
			continue
		}
		for _, id := range columns {
			if strings.Contains(strings.ToLower(row.Text(id)), needle) {
				out = append(out, row)
				break
			}
		}
	}
	return out
}

// SortRows returns a stably sorted copy. Empty values sort last in both
// directions.
func SortRows(rows []board.Row, columnID string, desc bool) []board.Row {
	out := make([]board.Row, len(rows))
	copy(out, rows)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := sortKeyOf(out[i].Text(columnID)), sortKeyOf(out[j].Text(columnID))
		if a.empty || b.empty {
			return !a.empty && b.empty
		}
		cmp := a.compare(b)
		if desc {
			return cmp > 0
		}
		return cmp < 0
	})
	return out
}

type sortKey struct {
	empty  bool
	kind   int // 0 number, 1 date, 2 text
	number float64
	date   time.Time
	text   string
}

var dateLayouts = []string{"2006-01-02", "2006-01-02 15:04:05", time.RFC3339}

func sortKeyOf(raw string) sortKey {
	value := strings.TrimSpace(raw)
	if value == "" {
		return sortKey{empty: true}
	}
	if n, err := strconv.ParseFloat(strings.ReplaceAll(value, ",", ""), 64); err == nil && !math.IsNaN(n) && !math.IsInf(n, 0) {
		return sortKey{kind: 0, number: n}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return sortKey{kind: 1, date: t}
		}
	}
	return sortKey{kind: 2, text: strings.ToLower(value)}
}

func (k sortKey) compare(other sortKey) int {
	if k.kind != other.kind {
		return k.kind - other.kind
	}
	switch k.kind {
	case 0:
		switch {
		case k.number < other.number:
			return -1
		case k.number > other.number:
			return 1
		}
		return 0
	case 1:
		return k.date.Compare(other.date)
	default:
		return strings.Compare(k.text, other.text)
	}
}
