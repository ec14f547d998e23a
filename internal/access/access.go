// Package access decides which board rows a member or client may see.
//
// A principal with no mapping on a board config sees every row. A mapping
// with an empty filter list also sees every row. Otherwise a row is visible
// when the display text of the config's discriminator column exactly equals
// one of the mapping's filter values.
package access

import (
	"strings"

	"mondayease/api/internal/board"
)

// Config is the part of a board config that governs visibility.
type Config struct {
	BoardID        string
	FilterColumnID string
	VisibleColumns []string
}

// Mapping is a principal's filter values on one board config. A nil
// *Mapping means the principal has no mapping row.
type Mapping struct {
	FilterValues []string
}

// NewMapping parses the stored comma-separated filter value column.
func NewMapping(raw string) *Mapping {
	return &Mapping{FilterValues: board.SplitList(raw)}
}

// Unrestricted reports whether the mapping lets every row through.
func (m *Mapping) Unrestricted() bool {
	return m == nil || len(m.FilterValues) == 0
}

// Label is the badge shown next to a principal on the access screen.
func (m *Mapping) Label() string {
	if m.Unrestricted() {
		return "All rows"
	}
	return strings.Join(m.FilterValues, ", ")
}

// Allows reports whether a single row is visible under the mapping.
func (m *Mapping) Allows(row board.Row, filterColumnID string) bool {
	if m.Unrestricted() {
		return true
	}
	text := row.Text(filterColumnID)
	for _, value := range m.FilterValues {
		if value == text {
			return true
		}
	}
	return false
}

// FilterRows returns the rows visible to a principal. Input order is kept.
func FilterRows(rows []board.Row, filterColumnID string, mapping *Mapping) []board.Row {
	if mapping.Unrestricted() {
		return rows
	}
	out := make([]board.Row, 0, len(rows))
	for _, row := range rows {
		if mapping.Allows(row, filterColumnID) {
			out = append(out, row)
		}
	}
	return out
}

// Apply filters rows for a principal and then keeps only the config's
// visible columns. The item name always survives projection.
func Apply(cfg Config, rows []board.Row, mapping *Mapping) []board.Row {
	visible := FilterRows(rows, cfg.FilterColumnID, mapping)
	if len(cfg.VisibleColumns) == 0 {
		return visible
	}
	out := make([]board.Row, len(visible))
	for i, row := range visible {
		out[i] = row.Project(cfg.VisibleColumns)
	}
	return out
}

// VisibleColumns keeps the board columns named in the allowlist, in board
// order. An empty allowlist keeps every column.
func VisibleColumns(columns []board.Column, allowlist []string) []board.Column {
	if len(allowlist) == 0 {
		return columns
	}
	allowed := make(map[string]struct{}, len(allowlist))
	for _, id := range allowlist {
		allowed[id] = struct{}{}
	}
	out := make([]board.Column, 0, len(allowlist))
	for _, col := range columns {
		if _, ok := allowed[col.ID]; ok {
			out = append(out, col)
		}
	}
	return out
}

// DistinctValues lists the discriminator values present on a board, in first
// seen order. It backs the value picker when editing a mapping.
func DistinctValues(rows []board.Row, filterColumnID string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, row := range rows {
		text := row.Text(filterColumnID)
		if text == "" {
			continue
		}
		if _, ok := seen[text]; ok {
			continue
		}
		seen[text] = struct{}{}
		out = append(out, text)
	}
	return out
}
