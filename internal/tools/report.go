package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/wagiedev/toolhost-go/internal/registry"
)

const (
	formatHTML = "html"
	formatMD   = "md"

	reportPreviewLen = 500
)

var (
	slugStrip = regexp.MustCompile(`[^a-z0-9\- ]+`)
	slugSpace = regexp.MustCompile(`\s+`)

	markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

	reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8"/>
  <title>{{.Title}}</title>
  <style>
    body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Arial, sans-serif; margin: 24px; color: #111; }
    h1 { font-size: 22px; margin: 8px 0 2px; }
    h2 { font-size: 16px; margin: 12px 0 8px; }
    .date { color: #555; font-size: 12px; }
    .section { background: #fafafa; border: 1px solid #e5e7eb; border-radius: 10px; padding: 12px; margin: 10px 0; }
    table { width: 100%; border-collapse: collapse; font-size: 13px; }
    th, td { border: 1px solid #e5e7eb; padding: 6px 8px; text-align: left; }
    th { background: #f6f7f9; }
  </style>
</head>
<body>
  <header>
    <h1>{{.Title}}</h1>
    <div class="date">{{.Generated}}</div>
  </header>
{{range .Sections}}  <section class="section">{{.}}</section>
{{end}}  <footer><small>Report generated locally.</small></footer>
</body>
</html>
`))
)

type reportInput struct {
	Title    string `json:"title"`
	Sections []any  `json:"sections"`
	Format   string `json:"format"`
	OutDir   string `json:"out_dir"`
}

type reportOutput struct {
	ArtifactPath string     `json:"artifactPath"`
	Preview      string     `json:"preview"`
	Meta         reportMeta `json:"meta"`
}

type reportMeta struct {
	Format string `json:"format"`
	Bytes  int    `json:"bytes"`
}

// reportSection is the object form of a section.
type reportSection struct {
	Type     string           `json:"type"`
	Title    string           `json:"title"`
	Content  string           `json:"content"`
	Records  []map[string]any `json:"records"`
	Forecast []forecastPoint  `json:"forecast"`
}

func (l *Local) reportTool() registry.Descriptor {
	schema := registry.Object(map[string]string{
		"title":    "string",
		"sections": "[]any",
		"format":   "string",
		"out_dir":  "string",
	}, "format", "out_dir")

	schema.Properties["format"].Enum = []any{formatHTML, formatMD}

	return registry.Descriptor{
		Name:        "report_generate",
		Description: "Render a report from text, markdown, table and forecast sections into HTML or Markdown.",
		InputSchema: schema,
		Handler:     l.handleReport,
	}
}

func (l *Local) handleReport(_ context.Context, input json.RawMessage) (any, error) {
	in, err := decode[reportInput]("report_generate", input)
	if err != nil {
		return nil, err
	}

	format := strings.ToLower(in.Format)
	if format == "" {
		format = formatHTML
	}

	outDir := in.OutDir
	if outDir == "" {
		outDir = l.reportsDir
	}

	now := time.Now()
	name := fmt.Sprintf("%s_%s.%s", slugify(in.Title), now.Format("20060102_150405"), format)

	sections := make([]reportSection, 0, len(in.Sections))
	for _, raw := range in.Sections {
		sections = append(sections, toSection(raw))
	}

	var (
		body    []byte
		preview string
	)

	switch format {
	case formatMD:
		body = []byte(renderMarkdown(in.Title, sections))
		preview = truncate(string(body), reportPreviewLen)
	default:
		body, err = renderHTML(in.Title, now, sections)
		if err != nil {
			return nil, fmt.Errorf("report_generate: %w", err)
		}

		preview = "OK"
	}

	path, err := l.sandbox.WriteFile(filepath.Join(outDir, name), body)
	if err != nil {
		return nil, fileError("report_generate", err)
	}

	l.log.Info("report written", "path", path, "format", format, "bytes", len(body))

	return reportOutput{
		ArtifactPath: path,
		Preview:      preview,
		Meta:         reportMeta{Format: format, Bytes: len(body)},
	}, nil
}

func toSection(raw any) reportSection {
	switch v := raw.(type) {
	case string:
		return reportSection{Type: "text", Content: v}
	case map[string]any:
		data, err := json.Marshal(v)
		if err != nil {
			return reportSection{Type: "text", Content: fmt.Sprint(v)}
		}

		var s reportSection
		if err := json.Unmarshal(data, &s); err != nil || s.Type == "" {
			return reportSection{Type: "json", Content: string(data)}
		}

		return s
	default:
		data, _ := json.Marshal(v)
		return reportSection{Type: "json", Content: string(data)}
	}
}

func renderHTML(title string, now time.Time, sections []reportSection) ([]byte, error) {
	rendered := make([]template.HTML, 0, len(sections))

	for _, s := range sections {
		h, err := sectionHTML(s)
		if err != nil {
			return nil, err
		}

		rendered = append(rendered, h)
	}

	var buf bytes.Buffer

	err := reportTemplate.Execute(&buf, struct {
		Title     string
		Generated string
		Sections  []template.HTML
	}{
		Title:     title,
		Generated: now.Format(isoLayout),
		Sections:  rendered,
	})
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	return buf.Bytes(), nil
}

func sectionHTML(s reportSection) (template.HTML, error) {
	switch s.Type {
	case "html":
		return template.HTML(s.Content), nil //nolint:gosec // caller-supplied HTML section
	case "table", "chart_forecast":
		md := sectionMarkdown(s)
		return markdownHTML(md)
	case "json":
		return template.HTML("<pre>" + template.HTMLEscapeString(s.Content) + "</pre>"), nil //nolint:gosec // escaped
	default:
		return markdownHTML(s.Content)
	}
}

func markdownHTML(src string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("convert markdown: %w", err)
	}

	return template.HTML(buf.String()), nil //nolint:gosec // goldmark output, raw HTML disabled
}

func renderMarkdown(title string, sections []reportSection) string {
	parts := make([]string, 0, len(sections)+1)
	parts = append(parts, "# "+title)

	for _, s := range sections {
		parts = append(parts, sectionMarkdown(s))
	}

	return strings.Join(parts, "\n\n") + "\n"
}

func sectionMarkdown(s reportSection) string {
	var b strings.Builder

	if s.Title != "" {
		b.WriteString("## " + s.Title + "\n\n")
	}

	switch s.Type {
	case "table":
		b.WriteString(markdownTable(s.Records))
	case "chart_forecast":
		records := make([]map[string]any, 0, len(s.Forecast))
		for _, p := range s.Forecast {
			records = append(records, map[string]any{"t": p.T, "yhat": p.YHat, "lo": p.Lo, "hi": p.Hi})
		}

		b.WriteString(markdownTable(records, "t", "yhat", "lo", "hi"))
	case "json":
		b.WriteString("```json\n" + s.Content + "\n```")
	default:
		b.WriteString(s.Content)
	}

	return strings.TrimRight(b.String(), "\n")
}

// markdownTable renders records as a GFM table. Columns default to the union
// of keys in order of first appearance.
func markdownTable(records []map[string]any, columns ...string) string {
	if len(records) == 0 {
		return "_Empty table_"
	}

	if len(columns) == 0 {
		columns = recordColumns(records)
	}

	var b strings.Builder

	b.WriteString("| " + strings.Join(columns, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(columns)) + "\n")

	for _, r := range records {
		cells := make([]string, len(columns))
		for i, c := range columns {
			if v, ok := r[c]; ok && v != nil {
				cells[i] = strings.ReplaceAll(fmt.Sprint(v), "|", `\|`)
			}
		}

		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}

	return b.String()
}

// recordColumns returns keys in order of first appearance. Go maps are
// unordered, so keys new to a record are appended sorted.
func recordColumns(records []map[string]any) []string {
	seen := make(map[string]bool)

	var cols []string

	for _, r := range records {
		var fresh []string

		for k := range r {
			if !seen[k] {
				seen[k] = true
				fresh = append(fresh, k)
			}
		}

		slices.Sort(fresh)
		cols = append(cols, fresh...)
	}

	return cols
}

func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = slugStrip.ReplaceAllString(s, "")
	s = slugSpace.ReplaceAllString(strings.TrimSpace(s), "-")

	if s == "" {
		return "report"
	}

	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}

	return string(r[:n])
}
