package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/wagiedev/toolhost-go/internal/errors"
	"github.com/wagiedev/toolhost-go/internal/registry"
)

const (
	// minTrendPoints is the shortest series fitted with a trend; shorter
	// series get a naive forecast.
	minTrendPoints = 8

	// z95 is the two-sided 95% normal quantile.
	z95 = 1.96

	maxHorizon = 10_000
)

type forecastInput struct {
	Path    string `json:"path"`
	Column  string `json:"column"`
	Horizon int    `json:"horizon"`
	DateCol string `json:"date_col"`
}

type forecastModel struct {
	Type      string   `json:"type"`
	Slope     *float64 `json:"slope"`
	Intercept *float64 `json:"intercept"`
	RMSE      *float64 `json:"rmse"`
}

type forecastPoint struct {
	T    any     `json:"t"`
	YHat float64 `json:"yhat"`
	Lo   float64 `json:"lo"`
	Hi   float64 `json:"hi"`
}

type forecastMeta struct {
	Path      string `json:"path"`
	Column    string `json:"column"`
	RowsUsed  int    `json:"rows_used"`
	IndexType string `json:"index_type"`
}

type forecastOutput struct {
	Model    forecastModel   `json:"model"`
	Forecast []forecastPoint `json:"forecast"`
	Meta     forecastMeta    `json:"meta"`
}

type observation struct {
	at    time.Time
	value float64
}

func (l *Local) forecastTool() registry.Descriptor {
	schema := registry.Object(map[string]string{
		"path":     "string",
		"column":   "string",
		"horizon":  "integer",
		"date_col": "string",
	}, "date_col")

	schema.Properties["horizon"].Minimum = ptr(1.0)
	schema.Properties["horizon"].Maximum = ptr(float64(maxHorizon))

	return registry.Descriptor{
		Name:        "ts_forecast",
		Description: "Forecast a numeric CSV column with a linear trend and a 95% residual band.",
		InputSchema: schema,
		Handler:     l.handleForecast,
	}
}

func (l *Local) handleForecast(_ context.Context, input json.RawMessage) (any, error) {
	in, err := decode[forecastInput]("ts_forecast", input)
	if err != nil {
		return nil, err
	}

	t, err := readTable(l.sandbox, in.Path, "", 0)
	if err != nil {
		return nil, fileError("ts_forecast", err)
	}

	col := t.index(in.Column)
	if col < 0 {
		return nil, errors.InvalidParams(fmt.Sprintf("ts_forecast: column %q not found", in.Column), nil)
	}

	dateCol := -1
	if in.DateCol != "" {
		if dateCol = t.index(in.DateCol); dateCol < 0 {
			return nil, errors.InvalidParams(fmt.Sprintf("ts_forecast: date column %q not found", in.DateCol), nil)
		}
	}

	series, err := collectSeries(t, col, dateCol)
	if err != nil {
		return nil, fmt.Errorf("ts_forecast: %w", err)
	}

	out := forecast(series, in.Horizon, dateCol >= 0)
	out.Meta.Path = in.Path
	out.Meta.Column = in.Column

	return out, nil
}

// collectSeries extracts the non-null observations of col, sorted by date
// when dateCol is set.
func collectSeries(t *table, col, dateCol int) ([]observation, error) {
	series := make([]observation, 0, len(t.rows))

	for _, rec := range t.rows {
		if isNull(rec[col]) {
			continue
		}

		v, ok := parseNumber(rec[col])
		if !ok {
			return nil, fmt.Errorf("column %q has non-numeric value %q", t.header[col], rec[col])
		}

		obs := observation{value: v}

		if dateCol >= 0 {
			ts, ok := parseTime(rec[dateCol])
			if !ok {
				return nil, fmt.Errorf("cannot parse date %q in column %q", rec[dateCol], t.header[dateCol])
			}

			obs.at = ts
		}

		series = append(series, obs)
	}

	if dateCol >= 0 {
		sort.SliceStable(series, func(i, j int) bool { return series[i].at.Before(series[j].at) })
	}

	return series, nil
}

func forecast(series []observation, horizon int, dated bool) forecastOutput {
	out := forecastOutput{
		Meta:     forecastMeta{RowsUsed: len(series), IndexType: "integer"},
		Forecast: make([]forecastPoint, 0, horizon),
	}

	if dated {
		out.Meta.IndexType = "datetime"
	}

	index := futureIndex(series, horizon, dated)

	if len(series) < minTrendPoints {
		last := 0.0
		if len(series) > 0 {
			last = series[len(series)-1].value
		}

		out.Model = forecastModel{Type: "naive"}

		for i := range horizon {
			out.Forecast = append(out.Forecast, forecastPoint{T: index[i], YHat: last, Lo: last, Hi: last})
		}

		return out
	}

	slope, intercept := linearFit(series)

	ss := 0.0
	for i, obs := range series {
		r := obs.value - (intercept + slope*float64(i))
		ss += r * r
	}

	rmse := math.Sqrt(ss / float64(len(series)-2))
	band := z95 * rmse

	out.Model = forecastModel{Type: "linear", Slope: &slope, Intercept: &intercept, RMSE: &rmse}

	n := len(series)
	for i := range horizon {
		yhat := intercept + slope*float64(n+i)
		out.Forecast = append(out.Forecast, forecastPoint{T: index[i], YHat: yhat, Lo: yhat - band, Hi: yhat + band})
	}

	return out
}

// linearFit fits value = intercept + slope*position by least squares.
func linearFit(series []observation) (slope, intercept float64) {
	n := float64(len(series))

	var sx, sy, sxx, sxy float64

	for i, obs := range series {
		x := float64(i)
		sx += x
		sy += obs.value
		sxx += x * x
		sxy += x * obs.value
	}

	den := n*sxx - sx*sx
	if den == 0 {
		return 0, sy / n
	}

	slope = (n*sxy - sx*sy) / den
	intercept = (sy - slope*sx) / n

	return slope, intercept
}

// futureIndex labels forecast steps: ISO timestamps continuing the last
// observed spacing for dated series, otherwise 1-based positions after the
// last observation.
func futureIndex(series []observation, horizon int, dated bool) []any {
	index := make([]any, horizon)

	if !dated || len(series) == 0 {
		for i := range horizon {
			index[i] = len(series) + i + 1
		}

		return index
	}

	step := 24 * time.Hour
	if n := len(series); n > 1 {
		if d := series[n-1].at.Sub(series[n-2].at); d > 0 {
			step = d
		}
	}

	last := series[len(series)-1].at
	for i := range horizon {
		index[i] = last.Add(step * time.Duration(i+1)).Format(isoLayout)
	}

	return index
}
