// Package export renders custom view rows as downloadable CSV or PDF files.
package export

import (
	"errors"
	"time"
)

type Format string

const (
	FormatCSV Format = "csv"
	FormatPDF Format = "pdf"
)

// ParseFormat accepts a case-insensitive format name. An empty name means CSV.
func ParseFormat(raw string) (Format, error) {
	switch Format(lower(raw)) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatPDF:
		return FormatPDF, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Column is a header in the exported table.
type Column struct {
	ID    string
	Title string
}

// Table is the projected, access-filtered content of a view.
type Table struct {
	Title       string
	Subtitle    string
	Columns     []Column
	Rows        [][]string
	GeneratedAt time.Time
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrPDFDependencyMissing indicates no Chrome binary is available for PDF rendering.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
