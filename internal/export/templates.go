package export

import (
	"bytes"
	"html/template"
)

var tableTemplate = template.Must(template.New("table").Parse(tableHTML))

// RenderTableHTML renders the printable page for a table.
func RenderTableHTML(table Table) (string, error) {
	var buf bytes.Buffer
	if err := tableTemplate.Execute(&buf, table); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const tableHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; font-size: 11px; margin: 0; color: #323338; }
    h1 { font-size: 18px; margin: 0 0 4px; }
    .meta { color: #676879; margin-bottom: 12px; }
    table { width: 100%; border-collapse: collapse; }
    th { background: #f5f6f8; text-align: left; }
    th, td { border: 1px solid #d0d4e4; padding: 4px 6px; vertical-align: top; }
    tr { page-break-inside: avoid; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">{{if .Subtitle}}{{.Subtitle}} | {{end}}{{len .Rows}} rows | {{.GeneratedAt.Format "Jan 2, 2006 15:04 MST"}}</div>
  <table>
    <thead><tr>{{range .Columns}}<th>{{.Title}}</th>{{end}}</tr></thead>
    <tbody>
    {{range .Rows}}<tr>{{range .}}<td>{{.}}</td>{{end}}</tr>
    {{end}}</tbody>
  </table>
</body>
</html>`
