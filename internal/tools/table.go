package tools

import (
	"bytes"
	"encoding/csv"
	stderrors "errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/wagiedev/toolhost-go/internal/sandbox"
)

const (
	defaultLimitRows = 100_000
	isoLayout        = "2006-01-02T15:04:05"
)

// Column kinds reported by data_profile.
const (
	kindNumber   = "number"
	kindDatetime = "datetime"
	kindBool     = "bool"
	kindString   = "string"
	kindEmpty    = "empty"
)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
	"02/01/2006",
}

var errUnsupportedFormat = stderrors.New("unsupported format")

// table is a CSV file loaded into memory.
type table struct {
	path   string
	header []string
	rows   [][]string
}

// readTable loads a CSV file through the sandbox. Rows with a wrong field
// count are skipped. limit caps the number of data rows.
func readTable(sb *sandbox.Sandbox, path, sep string, limit int) (*table, error) {
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".csv" && ext != ".tsv" && ext != ".txt" {
		return nil, fmt.Errorf("%w %q: only CSV is supported", errUnsupportedFormat, ext)
	}

	data, err := sb.ReadFile(path)
	if err != nil {
		return nil, err
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	if sep != "" {
		comma, size := utf8.DecodeRuneInString(sep)
		if size != len(sep) {
			return nil, fmt.Errorf("separator must be a single character, got %q", sep)
		}

		r.Comma = comma
	} else if strings.EqualFold(filepath.Ext(path), ".tsv") {
		r.Comma = '\t'
	}

	header, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("%s is empty", path)
		}

		return nil, fmt.Errorf("read header: %w", err)
	}

	if limit <= 0 {
		limit = defaultLimitRows
	}

	t := &table{path: path, header: header}

	for len(t.rows) < limit {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}

		if err != nil {
			continue
		}

		if len(rec) != len(header) {
			continue
		}

		t.rows = append(t.rows, rec)
	}

	return t, nil
}

func (t *table) index(column string) int {
	for i, h := range t.header {
		if h == column {
			return i
		}
	}

	return -1
}

// project keeps only the named columns, in the order given.
func (t *table) project(columns []string) error {
	idx := make([]int, 0, len(columns))

	var missing []string

	for _, c := range columns {
		i := t.index(c)
		if i < 0 {
			missing = append(missing, c)
			continue
		}

		idx = append(idx, i)
	}

	if len(missing) > 0 {
		return fmt.Errorf("columns not found: %s", strings.Join(missing, ", "))
	}

	rows := make([][]string, len(t.rows))
	for r, rec := range t.rows {
		out := make([]string, len(idx))
		for j, i := range idx {
			out[j] = rec[i]
		}

		rows[r] = out
	}

	t.header = append([]string(nil), columns...)
	t.rows = rows

	return nil
}

// column returns the values of column i.
func (t *table) column(i int) []string {
	out := make([]string, len(t.rows))
	for r, rec := range t.rows {
		out[r] = rec[i]
	}

	return out
}

func isNull(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "na", "n/a", "nan", "null", "none":
		return true
	}

	return false
}

func parseNumber(v string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f, err == nil
}

func parseTime(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)

	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, v); err == nil {
			return ts, true
		}
	}

	return time.Time{}, false
}

// inferKind returns the narrowest kind every non-null value satisfies.
func inferKind(values []string) string {
	number, datetime, boolean := true, true, true
	seen := false

	for _, v := range values {
		if isNull(v) {
			continue
		}

		seen = true

		if number {
			_, number = parseNumber(v)
		}

		if datetime {
			_, datetime = parseTime(v)
		}

		if boolean {
			_, err := strconv.ParseBool(strings.TrimSpace(v))
			boolean = err == nil
		}

		if !number && !datetime && !boolean {
			return kindString
		}
	}

	switch {
	case !seen:
		return kindEmpty
	case number:
		return kindNumber
	case datetime:
		return kindDatetime
	case boolean:
		return kindBool
	default:
		return kindString
	}
}
