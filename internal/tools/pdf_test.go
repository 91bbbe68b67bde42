package tools

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wagiedev/toolhost-go/internal/errors"
)

type pdfRun struct {
	x, y int
	text string
}

// buildPDF renders one page per element of pages, each text run placed with
// its own text matrix, and computes a valid xref table.
func buildPDF(pages [][]pdfRun) []byte {
	var (
		buf     bytes.Buffer
		offsets []int
	)

	object := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")

	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}

	object("<< /Type /Catalog /Pages 2 0 R >>")
	object(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)))
	object("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")

	for i, runs := range pages {
		var content strings.Builder

		content.WriteString("BT\n/F1 12 Tf\n")

		for _, r := range runs {
			fmt.Fprintf(&content, "1 0 0 1 %d %d Tm\n(%s) Tj\n", r.x, r.y, r.text)
		}

		content.WriteString("ET")

		object(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] "+
			"/Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", 5+2*i))
		object(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", content.Len(), content.String()))
	}

	xref := buf.Len()

	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)

	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}

	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)

	return buf.Bytes()
}

func reportPDF() []byte {
	return buildPDF([][]pdfRun{
		{
			{72, 740, "Quarterly"},
			{72, 700, "Region"}, {200, 700, "Units"},
			{72, 680, "North"}, {200, 680, "120"},
			{72, 660, "South"}, {200, 660, "95"},
		},
		{
			{72, 740, "Appendix"},
			{72, 720, "Prepared by finance"},
		},
	})
}

func TestPDFExtract(t *testing.T) {
	f := newFixture(t)
	f.write(t, "docs/report.pdf", string(reportPDF()))

	res, err := f.invoke(t, "pdf_extract", map[string]any{"path": "docs/report.pdf"})
	require.NoError(t, err)

	out, ok := res.(*pdfOutput)
	require.True(t, ok)

	require.Equal(t, "Quarterly\nRegion Units\nNorth 120\nSouth 95\nAppendix\nPrepared by finance", out.Text)
	require.Equal(t, []pdfTable{{Rows: [][]string{
		{"Region", "Units"},
		{"North", "120"},
		{"South", "95"},
	}}}, out.Tables)
	require.Equal(t, 2, out.Meta.PageCount)
	require.Equal(t, []int{1, 2}, out.Meta.Pages)
	require.True(t, filepath.IsAbs(out.Meta.Path))
	require.True(t, strings.HasSuffix(out.Meta.Path, filepath.Join("docs", "report.pdf")))
}

func TestPDFExtract_SelectedPages(t *testing.T) {
	f := newFixture(t)
	f.write(t, "report.pdf", string(reportPDF()))

	res, err := f.invoke(t, "pdf_extract", map[string]any{"path": "report.pdf", "pages": []int{2}})
	require.NoError(t, err)

	out := res.(*pdfOutput)
	require.Equal(t, "Appendix\nPrepared by finance", out.Text)
	require.Empty(t, out.Tables)
	require.Equal(t, []int{2}, out.Meta.Pages)

	_, err = f.invoke(t, "pdf_extract", map[string]any{"path": "report.pdf", "pages": []int{3}})
	requireCode(t, err, errors.CodeInvalidParams)
	require.ErrorContains(t, err, "page 3 out of range 1..2")
}

func TestPDFExtract_Refusals(t *testing.T) {
	f := newFixture(t)

	outside := filepath.Join(t.TempDir(), "x.pdf")
	require.NoError(t, os.WriteFile(outside, reportPDF(), 0o600))

	_, err := f.invoke(t, "pdf_extract", map[string]any{"path": outside})
	requireCode(t, err, errors.CodeInvalidParams)

	f.write(t, "notes.pdf", strings.Repeat("not a pdf at all\n", 10))

	_, err = f.invoke(t, "pdf_extract", map[string]any{"path": "notes.pdf"})
	requireCode(t, err, errors.CodeInvalidParams)
	require.ErrorContains(t, err, "invalid PDF")

	_, err = f.invoke(t, "pdf_extract", map[string]any{"pages": []int{1}})
	requireCode(t, err, errors.CodeInvalidParams)
}

func TestDetectTables(t *testing.T) {
	lines := [][]string{
		{"Title"},
		{"a", "b"},
		{"1", "2"},
		{"x", "y", "z"},
		{"single", "row"},
		{"footer"},
	}

	require.Equal(t, []pdfTable{{Rows: [][]string{{"a", "b"}, {"1", "2"}}}}, detectTables(lines))
}
