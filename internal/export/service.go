package export

import (
	"context"
	"fmt"
	"time"

	"mondayease/api/internal/board"
)

// Service turns view rows into files.
type Service struct {
	pdf func(ctx context.Context, html string) ([]byte, error)
	now func() time.Time
}

func NewService() *Service {
	return &Service{pdf: renderPDF, now: time.Now}
}

// BuildTable lays rows out in column order. The item name always comes first.
func (s *Service) BuildTable(title, subtitle string, columns []board.Column, rows []board.Row) Table {
	cols := make([]Column, 0, len(columns)+1)
	cols = append(cols, Column{ID: board.NameColumn, Title: "Name"})
	for _, c := range columns {
		if c.ID == board.NameColumn {
			continue
		}
		heading := c.Title
		if heading == "" {
			heading = c.ID
		}
		cols = append(cols, Column{ID: c.ID, Title: heading})
	}

	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		line := make([]string, len(cols))
		for i, c := range cols {
			line[i] = row.Text(c.ID)
		}
		out = append(out, line)
	}

	return Table{
		Title:       title,
		Subtitle:    subtitle,
		Columns:     cols,
		Rows:        out,
		GeneratedAt: s.now().UTC(),
	}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, table Table, format Format) (*Result, error) {
	switch format {
	case FormatCSV:
		return exportCSV(table)
	case FormatPDF:
		html, err := RenderTableHTML(table)
		if err != nil {
			return nil, fmt.Errorf("render template: %w", err)
		}
		data, err := s.pdf(ctx, html)
		if err != nil {
			return nil, err
		}
		return &Result{
			Data:     data,
			Filename: sanitizeFilename(table.Title) + ".pdf",
			MimeType: "application/pdf",
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}
