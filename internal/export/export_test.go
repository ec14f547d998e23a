package export

import (
	"context"
	"encoding/csv"
	"errors"
	"strings"
	"testing"
	"time"

	"mondayease/api/internal/board"
)

func sampleRows() []board.Row {
	return []board.Row{
		{ID: "1", Name: "Launch site", Cells: map[string]board.Cell{"status": {Text: "Done"}, "client": {Text: "TechCorp"}}},
		{ID: "2", Name: "Fix \"login\", again", Cells: map[string]board.Cell{"status": {Text: "Stuck"}}},
	}
}

func newTestService() *Service {
	s := NewService()
	s.now = func() time.Time { return time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC) }
	return s
}

func TestBuildTable(t *testing.T) {
	s := newTestService()
	table := s.BuildTable("Sprint", "", []board.Column{
		{ID: "name", Title: "Item"},
		{ID: "status", Title: "Status"},
		{ID: "client"},
	}, sampleRows())

	if len(table.Columns) != 3 {
		t.Fatalf("expected 3 columns, got %d", len(table.Columns))
	}
	if table.Columns[0].ID != board.NameColumn || table.Columns[2].Title != "client" {
		t.Errorf("unexpected columns: %+v", table.Columns)
	}
	if got := table.Rows[1]; got[2] != "" || got[1] != "Stuck" {
		t.Errorf("unexpected second row: %v", got)
	}
	if !table.GeneratedAt.Equal(time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected generated at: %v", table.GeneratedAt)
	}
}

func TestExportCSV(t *testing.T) {
	s := newTestService()
	table := s.BuildTable("Sprint Board", "", []board.Column{{ID: "status", Title: "Status"}}, sampleRows())

	res, err := s.Export(context.Background(), table, FormatCSV)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if res.Filename != "Sprint-Board.csv" {
		t.Errorf("unexpected filename %q", res.Filename)
	}
	if !strings.HasPrefix(res.MimeType, "text/csv") {
		t.Errorf("unexpected mime type %q", res.MimeType)
	}

	records, err := csv.NewReader(strings.NewReader(string(res.Data))).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(records))
	}
	if records[0][0] != "Name" || records[0][1] != "Status" {
		t.Errorf("unexpected header: %v", records[0])
	}
	if records[2][0] != `Fix "login", again` {
		t.Errorf("expected quoted cell to round trip, got %q", records[2][0])
	}
}

func TestExportPDFUsesRenderedHTML(t *testing.T) {
	s := newTestService()
	var captured string
	s.pdf = func(ctx context.Context, html string) ([]byte, error) {
		captured = html
		return []byte("%PDF-1.7"), nil
	}
	table := s.BuildTable("Client <Report>", "TechCorp", []board.Column{{ID: "status", Title: "Status"}}, sampleRows())

	res, err := s.Export(context.Background(), table, FormatPDF)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if res.MimeType != "application/pdf" || res.Filename != "Client-Report.pdf" {
		t.Errorf("unexpected result: %s %s", res.MimeType, res.Filename)
	}
	if !strings.Contains(captured, "Client &lt;Report&gt;") {
		t.Error("expected title to be escaped in html")
	}
	if !strings.Contains(captured, "<td>Launch site</td>") {
		t.Error("expected rows in html")
	}
	if !strings.Contains(captured, "TechCorp | 2 rows") {
		t.Error("expected subtitle and row count in html")
	}
}

func TestExportPDFPropagatesRendererError(t *testing.T) {
	s := newTestService()
	s.pdf = func(ctx context.Context, html string) ([]byte, error) {
		return nil, ErrPDFDependencyMissing
	}
	_, err := s.Export(context.Background(), Table{Title: "x"}, FormatPDF)
	if !errors.Is(err, ErrPDFDependencyMissing) {
		t.Fatalf("expected ErrPDFDependencyMissing, got %v", err)
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{in: "", want: FormatCSV},
		{in: "CSV", want: FormatCSV},
		{in: " pdf ", want: FormatPDF},
		{in: "docx", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrUnsupportedFormat) {
				t.Errorf("ParseFormat(%q): expected ErrUnsupportedFormat, got %v", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Simple Title", "Simple-Title"},
		{"Q3 / Q4 review!", "Q3--Q4-review"},
		{"", "view"},
		{"***", "view"},
		{strings.Repeat("a", 80), strings.Repeat("a", 50)},
	}
	for _, tt := range tests {
		if got := sanitizeFilename(tt.input); got != tt.expected {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}
