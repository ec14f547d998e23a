// Package present derives the display attributes the dashboard renders for
// task rows: status colors, due-date buckets, and kanban/timeline lanes.
package present

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"
	"time"

	"mondayease/api/internal/board"
)

const defaultStatusColor = "#c4c4c4"

var hexColorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

var statusPalette = map[string]string{
	"done":          "#00c875",
	"working on it": "#fdab3d",
	"stuck":         "#e2445c",
	"not started":   defaultStatusColor,
}

// StatusColor returns the hex color for a status cell. Monday status values
// carry their label style; when absent the label picks from a fixed palette.
func StatusColor(cell board.Cell) string {
	if cell.Value != "" {
		var value struct {
			LabelStyle struct {
				Color string `json:"color"`
			} `json:"label_style"`
		}
		if err := json.Unmarshal([]byte(cell.Value), &value); err == nil {
			if color := strings.TrimSpace(value.LabelStyle.Color); hexColorPattern.MatchString(color) {
				return color
			}
		}
	}
	if color, ok := statusPalette[strings.ToLower(strings.TrimSpace(cell.Text))]; ok {
		return color
	}
	return defaultStatusColor
}

// Due-date buckets, in timeline order.
const (
	BucketOverdue  = "overdue"
	BucketToday    = "today"
	BucketTomorrow = "tomorrow"
	BucketThisWeek = "this_week"
	BucketLater    = "later"
	BucketNoDate   = "no_date"
)

var bucketOrder = []string{BucketOverdue, BucketToday, BucketTomorrow, BucketThisWeek, BucketLater, BucketNoDate}

var bucketTitles = map[string]string{
	BucketOverdue:  "Overdue",
	BucketToday:    "Today",
	BucketTomorrow: "Tomorrow",
	BucketThisWeek: "This week",
	BucketLater:    "Later",
	BucketNoDate:   "No date",
}

func dateOnlyUTC(t time.Time) time.Time {
	v := t.UTC()
	return time.Date(v.Year(), v.Month(), v.Day(), 0, 0, 0, 0, time.UTC)
}

// DueBucket classifies a date cell text relative to now.
func DueBucket(text string, now time.Time) string {
	due, ok := parseDate(text)
	if !ok {
		return BucketNoDate
	}
	deltaDays := int(dateOnlyUTC(due).Sub(dateOnlyUTC(now)).Hours() / 24)
	switch {
	case deltaDays < 0:
		return BucketOverdue
	case deltaDays == 0:
		return BucketToday
	case deltaDays == 1:
		return BucketTomorrow
	case deltaDays <= 7:
		return BucketThisWeek
	default:
		return BucketLater
	}
}

func parseDate(text string) (time.Time, bool) {
	value := strings.TrimSpace(text)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{"2006-01-02", "2006-01-02 15:04", "2006-01-02 15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

type Lane struct {
	Key   string      `json:"key"`
	Title string      `json:"title"`
	Color string      `json:"color,omitempty"`
	Rows  []board.Row `json:"rows"`
}

// ColumnFunc picks the column a row is grouped on. Rows from different
// boards carry different column ids.
type ColumnFunc func(row board.Row) string

// GroupByStatus builds kanban lanes from a status column, ordered by first
// appearance. Rows without a status land in a trailing "No status" lane.
func GroupByStatus(rows []board.Row, statusColumnID string) []Lane {
	return GroupByStatusFunc(rows, func(board.Row) string { return statusColumnID })
}

func GroupByStatusFunc(rows []board.Row, column ColumnFunc) []Lane {
	lanes := make([]Lane, 0)
	index := make(map[string]int)
	var empty *Lane
	for _, row := range rows {
		cell := row.Cells[column(row)]
		label := strings.TrimSpace(cell.Text)
		if label == "" {
			if empty == nil {
				empty = &Lane{Key: "", Title: "No status", Color: defaultStatusColor}
			}
			empty.Rows = append(empty.Rows, row)
			continue
		}
		i, ok := index[label]
		if !ok {
			i = len(lanes)
			index[label] = i
			lanes = append(lanes, Lane{Key: label, Title: label, Color: StatusColor(cell)})
		}
		lanes[i].Rows = append(lanes[i].Rows, row)
	}
	if empty != nil {
		lanes = append(lanes, *empty)
	}
	return lanes
}

// GroupByDue builds timeline lanes from a date column. Empty buckets are
// omitted; rows within a lane are ordered by date.
func GroupByDue(rows []board.Row, dateColumnID string, now time.Time) []Lane {
	return GroupByDueFunc(rows, func(board.Row) string { return dateColumnID }, now)
}

func GroupByDueFunc(rows []board.Row, column ColumnFunc, now time.Time) []Lane {
	buckets := make(map[string][]board.Row)
	for _, row := range rows {
		bucket := DueBucket(cellText(row, column(row)), now)
		buckets[bucket] = append(buckets[bucket], row)
	}
	lanes := make([]Lane, 0, len(buckets))
	for _, key := range bucketOrder {
		items, ok := buckets[key]
		if !ok {
			continue
		}
		sort.SliceStable(items, func(i, j int) bool {
			a, _ := parseDate(cellText(items[i], column(items[i])))
			b, _ := parseDate(cellText(items[j], column(items[j])))
			return a.Before(b)
		})
		lanes = append(lanes, Lane{Key: key, Title: bucketTitles[key], Rows: items})
	}
	return lanes
}

func cellText(row board.Row, columnID string) string {
	if columnID == "" {
		return ""
	}
	return row.Text(columnID)
}

// FirstColumnOfType finds a board column by Monday column type, e.g.
// "status" or "date".
func FirstColumnOfType(columns []board.Column, columnType string) (board.Column, bool) {
	for _, c := range columns {
		if c.Type == columnType {
			return c, true
		}
	}
	return board.Column{}, false
}
