package tools

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wagiedev/toolhost-go/internal/errors"
	"github.com/wagiedev/toolhost-go/internal/registry"
)

const previewRows = 5

type profileInput struct {
	Path      string   `json:"path"`
	Sep       string   `json:"sep"`
	LimitRows int      `json:"limit_rows"`
	Columns   []string `json:"columns"`
}

type profileMeta struct {
	Path string `json:"path"`
	Rows int    `json:"rows"`
	Cols int    `json:"cols"`
}

type numericStats struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
	Min   float64 `json:"min"`
	P50   float64 `json:"50%"`
	Max   float64 `json:"max"`
}

type datetimeStats struct {
	Count int    `json:"count"`
	Min   string `json:"min"`
	Max   string `json:"max"`
}

type categoryStats struct {
	Count  int    `json:"count"`
	Unique int    `json:"unique"`
	Top    string `json:"top"`
	Freq   int    `json:"freq"`
}

type profileOutput struct {
	Meta               profileMeta              `json:"meta"`
	Schema             map[string]string        `json:"schema"`
	Nulls              map[string]int           `json:"nulls"`
	DescribeNumeric    map[string]numericStats  `json:"describe_numeric"`
	DescribeDatetime   map[string]datetimeStats `json:"describe_datetime"`
	DescribeNonNumeric map[string]categoryStats `json:"describe_non_numeric"`
	Preview            []map[string]any         `json:"preview"`
}

func (l *Local) profileTool() registry.Descriptor {
	return registry.Descriptor{
		Name:        "data_profile",
		Description: "Profile a CSV file: column types, nulls, numeric and datetime summaries and a preview.",
		InputSchema: registry.Object(map[string]string{
			"path":       "string",
			"sep":        "string",
			"limit_rows": "integer",
			"columns":    "[]string",
		}, "sep", "limit_rows", "columns"),
		Handler: l.handleProfile,
	}
}

func (l *Local) handleProfile(_ context.Context, input json.RawMessage) (any, error) {
	in, err := decode[profileInput]("data_profile", input)
	if err != nil {
		return nil, err
	}

	t, err := readTable(l.sandbox, in.Path, in.Sep, in.LimitRows)
	if err != nil {
		return nil, fileError("data_profile", err)
	}

	if len(in.Columns) > 0 {
		if err := t.project(in.Columns); err != nil {
			return nil, errors.InvalidParams("data_profile: "+err.Error(), nil)
		}
	}

	return profile(t), nil
}

func profile(t *table) profileOutput {
	out := profileOutput{
		Meta:               profileMeta{Path: t.path, Rows: len(t.rows), Cols: len(t.header)},
		Schema:             make(map[string]string, len(t.header)),
		Nulls:              make(map[string]int, len(t.header)),
		DescribeNumeric:    map[string]numericStats{},
		DescribeDatetime:   map[string]datetimeStats{},
		DescribeNonNumeric: map[string]categoryStats{},
	}

	kinds := make([]string, len(t.header))

	for i, name := range t.header {
		values := t.column(i)
		kind := inferKind(values)
		kinds[i] = kind

		out.Schema[name] = kind

		nulls := 0

		for _, v := range values {
			if isNull(v) {
				nulls++
			}
		}

		out.Nulls[name] = nulls

		switch kind {
		case kindNumber:
			out.DescribeNumeric[name] = describeNumeric(values)
		case kindDatetime:
			out.DescribeDatetime[name] = describeDatetime(values)
		case kindString, kindBool:
			out.DescribeNonNumeric[name] = describeCategory(values)
		}
	}

	n := min(previewRows, len(t.rows))
	out.Preview = make([]map[string]any, 0, n)

	for _, rec := range t.rows[:n] {
		row := make(map[string]any, len(rec))

		for i, v := range rec {
			row[t.header[i]] = previewValue(kinds[i], v)
		}

		out.Preview = append(out.Preview, row)
	}

	return out
}

func previewValue(kind, v string) any {
	if isNull(v) {
		return nil
	}

	switch kind {
	case kindNumber:
		f, _ := parseNumber(v)
		return f
	case kindBool:
		b, _ := strconv.ParseBool(strings.TrimSpace(v))
		return b
	default:
		return v
	}
}

func describeNumeric(values []string) numericStats {
	nums := make([]float64, 0, len(values))

	for _, v := range values {
		if f, ok := parseNumber(v); ok && !isNull(v) {
			nums = append(nums, f)
		}
	}

	sort.Float64s(nums)

	st := numericStats{Count: len(nums)}
	if len(nums) == 0 {
		return st
	}

	sum := 0.0
	for _, f := range nums {
		sum += f
	}

	st.Mean = sum / float64(len(nums))
	st.Min = nums[0]
	st.Max = nums[len(nums)-1]
	st.P50 = median(nums)

	if len(nums) > 1 {
		ss := 0.0
		for _, f := range nums {
			ss += (f - st.Mean) * (f - st.Mean)
		}

		st.Std = math.Sqrt(ss / float64(len(nums)-1))
	}

	return st
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}

	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func describeDatetime(values []string) datetimeStats {
	var lo, hi time.Time

	st := datetimeStats{}

	for _, v := range values {
		ts, ok := parseTime(v)
		if !ok {
			continue
		}

		if st.Count == 0 || ts.Before(lo) {
			lo = ts
		}

		if st.Count == 0 || ts.After(hi) {
			hi = ts
		}

		st.Count++
	}

	if st.Count > 0 {
		st.Min = lo.Format(isoLayout)
		st.Max = hi.Format(isoLayout)
	}

	return st
}

func describeCategory(values []string) categoryStats {
	freq := make(map[string]int)
	st := categoryStats{}

	for _, v := range values {
		if isNull(v) {
			continue
		}

		st.Count++
		freq[v]++
	}

	st.Unique = len(freq)

	for v, n := range freq {
		if n > st.Freq || (n == st.Freq && v < st.Top) {
			st.Top = v
			st.Freq = n
		}
	}

	return st
}
