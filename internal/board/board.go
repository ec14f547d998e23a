// Package board holds the row model shared by access filtering, view
// projection and presentation. Rows are Monday.com items flattened into
// cells keyed by column id.
package board

import "strings"

// NameColumn is the pseudo column id for the item name.
const NameColumn = "name"

type Column struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Type  string `json:"type"`
}

type Cell struct {
	Text string `json:"text"`
	Type string `json:"type,omitempty"`
	// Value is the raw JSON value reported by Monday, if any.
	Value string `json:"value,omitempty"`
}

type Row struct {
	ID         string          `json:"id"`
	BoardID    string          `json:"boardId"`
	Name       string          `json:"name"`
	GroupID    string          `json:"groupId,omitempty"`
	GroupTitle string          `json:"groupTitle,omitempty"`
	Cells      map[string]Cell `json:"cells"`
}

// Text returns the display text of a column, treating NameColumn as the item name.
func (r Row) Text(columnID string) string {
	if columnID == NameColumn {
		return r.Name
	}
	return r.Cells[columnID].Text
}

// Project returns a copy of the row keeping only the listed columns. An empty
// list keeps every column.
func (r Row) Project(columns []string) Row {
	if len(columns) == 0 {
		return r
	}
	out := r
	out.Cells = make(map[string]Cell, len(columns))
	for _, id := range columns {
		if cell, ok := r.Cells[id]; ok {
			out.Cells[id] = cell
		}
	}
	return out
}

// Board is a remote board with its columns.
type Board struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	State     string   `json:"state,omitempty"`
	Workspace string   `json:"workspace,omitempty"`
	Columns   []Column `json:"columns"`
}

func (b Board) Column(id string) (Column, bool) {
	for _, c := range b.Columns {
		if c.ID == id {
			return c, true
		}
	}
	return Column{}, false
}

// User is a workspace user on the remote account.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Title string `json:"title,omitempty"`
}

// SplitList splits a comma-separated list, trimming entries and dropping blanks.
func SplitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
