package tools

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/wagiedev/toolhost-go/internal/errors"
	"github.com/wagiedev/toolhost-go/internal/registry"
)

var errInvalidPDF = stderrors.New("invalid PDF")

type pdfInput struct {
	Path  string `json:"path"`
	Pages []int  `json:"pages"`
}

type pdfTable struct {
	Rows [][]string `json:"rows"`
}

type pdfMeta struct {
	Path      string `json:"path"`
	PageCount int    `json:"page_count"`
	Pages     []int  `json:"pages"`
}

type pdfOutput struct {
	Text   string     `json:"text"`
	Tables []pdfTable `json:"tables"`
	Meta   pdfMeta    `json:"meta"`
}

func (l *Local) pdfTool() registry.Descriptor {
	return registry.Descriptor{
		Name:        "pdf_extract",
		Description: "Extract text and tables from a local PDF. pages are 1-based; all pages when omitted.",
		InputSchema: registry.Object(map[string]string{
			"path":  "string",
			"pages": "[]integer",
		}, "pages"),
		Handler: l.handlePDF,
	}
}

func (l *Local) handlePDF(_ context.Context, input json.RawMessage) (any, error) {
	in, err := decode[pdfInput]("pdf_extract", input)
	if err != nil {
		return nil, err
	}

	data, err := l.sandbox.ReadFile(in.Path)
	if err != nil {
		return nil, fileError("pdf_extract", err)
	}

	abs, err := l.sandbox.Resolve(in.Path)
	if err != nil {
		return nil, fileError("pdf_extract", err)
	}

	out, err := extractPDF(data, in.Pages)
	if err != nil {
		if _, ok := stderrors.AsType[*errors.RPCError](err); ok {
			return nil, err
		}

		if stderrors.Is(err, errInvalidPDF) {
			return nil, errors.InvalidParams("pdf_extract: "+err.Error(), nil)
		}

		return nil, fmt.Errorf("pdf_extract: %w", err)
	}

	out.Meta.Path = abs

	return out, nil
}

// extractPDF reads the selected pages of a PDF document. The parser panics on
// some malformed input; that is reported as errInvalidPDF.
func extractPDF(data []byte, pages []int) (out *pdfOutput, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("%w: %v", errInvalidPDF, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidPDF, err)
	}

	count := reader.NumPage()

	if len(pages) == 0 {
		pages = make([]int, count)
		for i := range count {
			pages[i] = i + 1
		}
	}

	for _, n := range pages {
		if n < 1 || n > count {
			return nil, errors.InvalidParams(fmt.Sprintf("pdf_extract: page %d out of range 1..%d", n, count), nil)
		}
	}

	out = &pdfOutput{
		Tables: []pdfTable{},
		Meta:   pdfMeta{PageCount: count, Pages: pages},
	}

	texts := make([]string, 0, len(pages))

	for _, n := range pages {
		page := reader.Page(n)
		if page.V.IsNull() {
			return nil, fmt.Errorf("%w: page %d missing", errInvalidPDF, n)
		}

		lines, err := pageLines(page)
		if err != nil {
			return nil, fmt.Errorf("%w: page %d: %v", errInvalidPDF, n, err)
		}

		for _, cells := range lines {
			texts = append(texts, strings.Join(cells, " "))
		}

		out.Tables = append(out.Tables, detectTables(lines)...)
	}

	out.Text = strings.TrimSpace(strings.Join(texts, "\n"))

	return out, nil
}

// pageLines returns the page's text grouped into rows, top to bottom, each
// row holding its text runs left to right.
func pageLines(page pdf.Page) ([][]string, error) {
	rows, err := page.GetTextByRow()
	if err != nil {
		return nil, err
	}

	lines := make([][]string, 0, len(rows))

	for _, row := range rows {
		var cells []string

		for _, run := range row.Content {
			if s := strings.TrimSpace(run.S); s != "" {
				cells = append(cells, s)
			}
		}

		if len(cells) > 0 {
			lines = append(lines, cells)
		}
	}

	return lines, nil
}

// detectTables groups runs of at least two consecutive lines that share the
// same number (two or more) of cells.
func detectTables(lines [][]string) []pdfTable {
	var (
		tables []pdfTable
		run    [][]string
	)

	flush := func() {
		if len(run) >= 2 {
			tables = append(tables, pdfTable{Rows: run})
		}

		run = nil
	}

	for _, cells := range lines {
		if len(cells) < 2 {
			flush()

			continue
		}

		if len(run) > 0 && len(run[0]) != len(cells) {
			flush()
		}

		run = append(run, cells)
	}

	flush()

	return tables
}
