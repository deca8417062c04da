package dispatcher

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/jpetrucciani/loki-mcp/pkg/logql"
	"github.com/jpetrucciani/loki-mcp/pkg/response"
	"github.com/jpetrucciani/loki-mcp/pkg/timeref"
)

const (
	defaultLogLimit     = 100
	defaultTailLines    = 50
	defaultCompareLimit = 1000
	defaultDirection    = "backward"
)

func (d *Dispatcher) describeSchema() map[string]any {
	return map[string]any{
		"labels":              d.labels,
		"structured_metadata": d.structuredMetadata,
		"saved_queries":       d.savedQueries,
		"notes": map[string]any{
			"label_selector_syntax":             `{label="value"}`,
			"structured_metadata_filter_syntax": `{label="value"} | field="value"`,
		},
	}
}

func (d *Dispatcher) listLabels(ctx context.Context, args map[string]any) (map[string]any, error) {
	var in startEndParams
	if err := decodeParams(args, &in); err != nil {
		return nil, err
	}

	start, end, err := timeref.ResolveOptionalRange(in.Start, in.End, d.loc, d.now())
	if err != nil {
		return nil, err
	}

	labels, err := d.client.Labels(ctx, start, end)
	if err != nil {
		return nil, err
	}

	return map[string]any{"labels": labels}, nil
}

func (d *Dispatcher) labelValues(ctx context.Context, args map[string]any) (map[string]any, error) {
	var in labelValuesParams
	if err := decodeParams(args, &in); err != nil {
		return nil, err
	}

	start, end, err := timeref.ResolveOptionalRange(in.Start, in.End, d.loc, d.now())
	if err != nil {
		return nil, err
	}

	values, err := d.client.LabelValues(ctx, in.Label, start, end, in.Query)
	if err != nil {
		return nil, err
	}

	return map[string]any{"label": in.Label, "values": values}, nil
}

func (d *Dispatcher) series(ctx context.Context, args map[string]any) (map[string]any, error) {
	var in seriesParams
	if err := decodeParams(args, &in); err != nil {
		return nil, err
	}

	start, end, err := timeref.ResolveOptionalRange(in.Start, in.End, d.loc, d.now())
	if err != nil {
		return nil, err
	}

	series, err := d.client.Series(ctx, in.Match, start, end)
	if err != nil {
		return nil, err
	}

	return map[string]any{"series": series}, nil
}

func (d *Dispatcher) queryLogs(ctx context.Context, args map[string]any) (map[string]any, error) {
	var in queryLogsParams
	if err := decodeParams(args, &in); err != nil {
		return nil, err
	}
	if in.Query == "" {
		return nil, errors.New("query must not be empty")
	}

	requested, err := response.ParseMode(in.ResponseMode)
	if err != nil {
		return nil, err
	}

	start, end, err := timeref.ResolveRange(in.Start, in.End, d.loc, d.now())
	if err != nil {
		return nil, err
	}

	limit := in.Limit
	if limit <= 0 {
		limit = defaultLogLimit
	}
	direction := in.Direction
	if direction == "" {
		direction = defaultDirection
	}

	data, err := d.client.QueryLogs(ctx, in.Query, start, end, limit, direction)
	if err != nil {
		return nil, err
	}

	applied, shaped := response.Format(requested, data)

	return map[string]any{
		"query":                   in.Query,
		"start":                   start.Format(time.RFC3339),
		"end":                     end.Format(time.RFC3339),
		"response_mode_requested": string(requested),
		"response_mode":           string(applied),
		"data":                    shaped,
	}, nil
}

func (d *Dispatcher) queryMetrics(ctx context.Context, args map[string]any) (map[string]any, error) {
	var in queryMetricsParams
	if err := decodeParams(args, &in); err != nil {
		return nil, err
	}
	if in.Query == "" {
		return nil, errors.New("query must not be empty")
	}

	start, end, err := timeref.ResolveRange(in.Start, in.End, d.loc, d.now())
	if err != nil {
		return nil, err
	}

	data, err := d.client.QueryMetrics(ctx, in.Query, start, end, in.Step)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"query": in.Query,
		"start": start.Format(time.RFC3339),
		"end":   end.Format(time.RFC3339),
		"step":  in.Step,
		"data":  data,
	}, nil
}

func (d *Dispatcher) buildQuery(ctx context.Context, args map[string]any) (map[string]any, error) {
	var in buildQueryParams
	if err := decodeParams(args, &in); err != nil {
		return nil, err
	}

	requested, err := response.ParseMode(in.ResponseMode)
	if err != nil {
		return nil, err
	}

	start, end, err := timeref.ResolveRange(in.Start, in.End, d.loc, d.now())
	if err != nil {
		return nil, err
	}

	query := logql.Build(logql.BuildParams{
		Labels:             in.Labels,
		StructuredMetadata: in.StructuredMetadata,
		LineFilter:         in.LineFilter,
		LineFilterRegex:    in.LineFilterRegex,
		Exclude:            in.Exclude,
		JSONFields:         in.JSONFields,
	})

	if in.Aggregation != "" {
		if err := logql.ValidateAggregation(in.Aggregation); err != nil {
			return nil, err
		}
		query = logql.WrapAggregation(query, in.Aggregation, in.AggregationRange)

		data, err := d.client.QueryMetrics(ctx, query, start, end, "")
		if err != nil {
			return nil, err
		}

		return map[string]any{
			"query":                   query,
			"start":                   start.Format(time.RFC3339),
			"end":                     end.Format(time.RFC3339),
			"response_mode_requested": string(requested),
			"response_mode":           string(requested),
			"data":                    data,
		}, nil
	}

	limit := in.Limit
	if limit <= 0 {
		limit = defaultLogLimit
	}

	data, err := d.client.QueryLogs(ctx, query, start, end, limit, defaultDirection)
	if err != nil {
		return nil, err
	}

	applied, shaped := response.Format(requested, data)

	return map[string]any{
		"query":                   query,
		"start":                   start.Format(time.RFC3339),
		"end":                     end.Format(time.RFC3339),
		"response_mode_requested": string(requested),
		"response_mode":           string(applied),
		"data":                    shaped,
	}, nil
}

func (d *Dispatcher) tail(ctx context.Context, args map[string]any) (map[string]any, error) {
	var in tailParams
	if err := decodeParams(args, &in); err != nil {
		return nil, err
	}
	if len(in.Labels) == 0 {
		return nil, errors.New("tail labels must not be empty")
	}

	requested, err := response.ParseMode(in.ResponseMode)
	if err != nil {
		return nil, err
	}

	selector := logql.Selector(in.Labels)
	start, end := timeref.DefaultWindow(d.now())

	lines := in.Lines
	if lines <= 0 {
		lines = defaultTailLines
	}

	data, err := d.client.QueryLogs(ctx, selector, start, end, lines, defaultDirection)
	if err != nil {
		return nil, err
	}

	applied, shaped := response.Format(requested, data)

	return map[string]any{
		"query":                   selector,
		"start":                   start.Format(time.RFC3339),
		"end":                     end.Format(time.RFC3339),
		"response_mode_requested": string(requested),
		"response_mode":           string(applied),
		"data":                    shaped,
	}, nil
}

func (d *Dispatcher) runSavedQuery(ctx context.Context, args map[string]any) (map[string]any, error) {
	var in runSavedQueryParams
	if err := decodeParams(args, &in); err != nil {
		return nil, err
	}

	saved, err := d.findSavedQuery(in.Name)
	if err != nil {
		return nil, err
	}

	requested, err := response.ParseMode(in.ResponseMode)
	if err != nil {
		return nil, err
	}

	rangeRef := in.OverrideRange
	if rangeRef == "" {
		rangeRef = saved.Range
	}
	start, end, err := timeref.ResolveRange(rangeRef, "", d.loc, d.now())
	if err != nil {
		return nil, err
	}

	data, err := d.client.QueryLogs(ctx, saved.Query, start, end, defaultLogLimit, defaultDirection)
	if err != nil {
		return nil, err
	}

	applied, shaped := response.Format(requested, data)

	return map[string]any{
		"name":                    saved.Name,
		"query":                   saved.Query,
		"description":             saved.Description,
		"start":                   start.Format(time.RFC3339),
		"end":                     end.Format(time.RFC3339),
		"response_mode_requested": string(requested),
		"response_mode":           string(applied),
		"data":                    shaped,
	}, nil
}

func (d *Dispatcher) queryStats(ctx context.Context, args map[string]any) (map[string]any, error) {
	var in queryStatsParams
	if err := decodeParams(args, &in); err != nil {
		return nil, err
	}
	if in.Query == "" {
		return nil, errors.New("query must not be empty")
	}

	start, end, err := timeref.ResolveRange(in.Start, in.End, d.loc, d.now())
	if err != nil {
		return nil, err
	}

	stats, err := d.client.QueryStats(ctx, in.Query, start, end)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"query": in.Query,
		"start": start.Format(time.RFC3339),
		"end":   end.Format(time.RFC3339),
		"stats": stats,
	}, nil
}

func (d *Dispatcher) detectPatterns(ctx context.Context, args map[string]any) (map[string]any, error) {
	var in detectPatternsParams
	if err := decodeParams(args, &in); err != nil {
		return nil, err
	}
	if in.Query == "" {
		return nil, errors.New("query must not be empty")
	}

	start, end, err := timeref.ResolveRange(in.Start, in.End, d.loc, d.now())
	if err != nil {
		return nil, err
	}

	patterns, err := d.client.DetectPatterns(ctx, in.Query, start, end, in.Step)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"query":    in.Query,
		"start":    start.Format(time.RFC3339),
		"end":      end.Format(time.RFC3339),
		"patterns": patterns,
	}, nil
}

func (d *Dispatcher) compareRanges(ctx context.Context, args map[string]any) (map[string]any, error) {
	var in compareRangesParams
	if err := decodeParams(args, &in); err != nil {
		return nil, err
	}
	if in.Query == "" {
		return nil, errors.New("query must not be empty")
	}

	now := d.now()
	baselineStart, baselineEnd, err := d.resolveBound(in.BaselineStart, in.BaselineEnd, now)
	if err != nil {
		return nil, err
	}
	compareStart, compareEnd, err := d.resolveBound(in.CompareStart, in.CompareEnd, now)
	if err != nil {
		return nil, err
	}

	baselineData, err := d.client.QueryLogs(ctx, in.Query, baselineStart, baselineEnd, defaultCompareLimit, defaultDirection)
	if err != nil {
		return nil, err
	}
	compareData, err := d.client.QueryLogs(ctx, in.Query, compareStart, compareEnd, defaultCompareLimit, defaultDirection)
	if err != nil {
		return nil, err
	}

	baselineCount := response.CountLines(baselineData)
	compareCount := response.CountLines(compareData)

	ratio := 0.0
	if baselineCount > 0 {
		ratio = float64(compareCount) / float64(baselineCount)
	}

	return map[string]any{
		"query": in.Query,
		"baseline": map[string]any{
			"start":      baselineStart.Format(time.RFC3339),
			"end":        baselineEnd.Format(time.RFC3339),
			"line_count": baselineCount,
		},
		"compare": map[string]any{
			"start":      compareStart.Format(time.RFC3339),
			"end":        compareEnd.Format(time.RFC3339),
			"line_count": compareCount,
		},
		"delta": map[string]any{
			"line_count": int64(compareCount) - int64(baselineCount),
			"ratio":      ratio,
		},
	}, nil
}

func (d *Dispatcher) explainQuery(args map[string]any) (map[string]any, error) {
	var in explainQueryParams
	if err := decodeParams(args, &in); err != nil {
		return nil, err
	}

	return logql.Explain(in.Query)
}

func (d *Dispatcher) suggestMetricRule(args map[string]any) (map[string]any, error) {
	var in suggestMetricRuleParams
	if err := decodeParams(args, &in); err != nil {
		return nil, err
	}

	return logql.SuggestMetricRule(logql.SuggestMetricRuleParams{
		Query:          in.Query,
		MetricName:     in.MetricName,
		Description:    in.Description,
		RuleType:       in.RuleType,
		AlertThreshold: in.AlertThreshold,
		AlertFor:       in.AlertFor,
	})
}

func (d *Dispatcher) checkHealth(ctx context.Context) (map[string]any, error) {
	health, err := d.client.CheckHealth(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := jsonAPI.Marshal(health)
	if err != nil {
		return nil, errors.Wrap(err, "failed to serialize health response")
	}
	var out map[string]any
	if err := jsonAPI.Unmarshal(raw, &out); err != nil {
		return nil, errors.Wrap(err, "failed to serialize health response")
	}

	return out, nil
}

// resolveBound parses one explicit comparison window. Both bounds are
// required, and relative references in either bound resolve against now.
func (d *Dispatcher) resolveBound(start, end string, now time.Time) (time.Time, time.Time, error) {
	if start == "" || end == "" {
		return time.Time{}, time.Time{}, errors.New("comparison ranges require explicit start and end times")
	}

	startTime, err := timeref.ParseReference(start, d.loc, now)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	endTime, err := timeref.ParseReference(end, d.loc, now)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	return startTime, endTime, nil
}

func (d *Dispatcher) findSavedQuery(name string) (SavedQuery, error) {
	for _, saved := range d.savedQueries {
		if saved.Name == name {
			return saved, nil
		}
	}

	return SavedQuery{}, errors.Errorf("saved query not found: %s", name)
}

// compareWindows resolves and orders both comparison windows. Ordering is
// checked here so cost checks never run over an inverted window.
func (d *Dispatcher) compareWindows(in compareRangesParams, now time.Time) ([2]time.Time, [2]time.Time, error) {
	baselineStart, baselineEnd, err := d.resolveBound(in.BaselineStart, in.BaselineEnd, now)
	if err != nil {
		return [2]time.Time{}, [2]time.Time{}, err
	}
	compareStart, compareEnd, err := d.resolveBound(in.CompareStart, in.CompareEnd, now)
	if err != nil {
		return [2]time.Time{}, [2]time.Time{}, err
	}

	if baselineStart.After(baselineEnd) || compareStart.After(compareEnd) {
		return [2]time.Time{}, [2]time.Time{}, errors.New("start time must be less than or equal to end time")
	}

	return [2]time.Time{baselineStart, baselineEnd}, [2]time.Time{compareStart, compareEnd}, nil
}

// guardrailQueries derives, per tool, the query text and windows the cost
// pre-check must evaluate before dispatch runs.
func (d *Dispatcher) guardrailQueries(tool string, args map[string]any) ([]guardrailQuery, error) {
	now := d.now()

	switch tool {
	case ToolQueryLogs:
		var in queryLogsParams
		if err := decodeParams(args, &in); err != nil {
			return nil, err
		}
		if in.Query == "" {
			return nil, errors.New("query must not be empty")
		}
		start, end, err := timeref.ResolveRange(in.Start, in.End, d.loc, now)
		if err != nil {
			return nil, err
		}
		return []guardrailQuery{{query: in.Query, ranges: [][2]time.Time{{start, end}}}}, nil

	case ToolQueryMetrics:
		var in queryMetricsParams
		if err := decodeParams(args, &in); err != nil {
			return nil, err
		}
		if in.Query == "" {
			return nil, errors.New("query must not be empty")
		}
		start, end, err := timeref.ResolveRange(in.Start, in.End, d.loc, now)
		if err != nil {
			return nil, err
		}
		return []guardrailQuery{{query: in.Query, ranges: [][2]time.Time{{start, end}}}}, nil

	case ToolBuildQuery:
		var in buildQueryParams
		if err := decodeParams(args, &in); err != nil {
			return nil, err
		}
		start, end, err := timeref.ResolveRange(in.Start, in.End, d.loc, now)
		if err != nil {
			return nil, err
		}
		query := logql.Build(logql.BuildParams{
			Labels:             in.Labels,
			StructuredMetadata: in.StructuredMetadata,
			LineFilter:         in.LineFilter,
			LineFilterRegex:    in.LineFilterRegex,
			Exclude:            in.Exclude,
			JSONFields:         in.JSONFields,
		})
		if in.Aggregation != "" {
			if err := logql.ValidateAggregation(in.Aggregation); err != nil {
				return nil, err
			}
			query = logql.WrapAggregation(query, in.Aggregation, in.AggregationRange)
		}
		return []guardrailQuery{{query: query, ranges: [][2]time.Time{{start, end}}}}, nil

	case ToolTail:
		var in tailParams
		if err := decodeParams(args, &in); err != nil {
			return nil, err
		}
		if len(in.Labels) == 0 {
			return nil, errors.New("tail labels must not be empty")
		}
		start, end := timeref.DefaultWindow(now)
		return []guardrailQuery{{query: logql.Selector(in.Labels), ranges: [][2]time.Time{{start, end}}}}, nil

	case ToolRunSavedQuery:
		var in runSavedQueryParams
		if err := decodeParams(args, &in); err != nil {
			return nil, err
		}
		saved, err := d.findSavedQuery(in.Name)
		if err != nil {
			return nil, err
		}
		rangeRef := in.OverrideRange
		if rangeRef == "" {
			rangeRef = saved.Range
		}
		start, end, err := timeref.ResolveRange(rangeRef, "", d.loc, now)
		if err != nil {
			return nil, err
		}
		return []guardrailQuery{{query: saved.Query, ranges: [][2]time.Time{{start, end}}}}, nil

	case ToolDetectPatterns:
		var in detectPatternsParams
		if err := decodeParams(args, &in); err != nil {
			return nil, err
		}
		if in.Query == "" {
			return nil, errors.New("query must not be empty")
		}
		start, end, err := timeref.ResolveRange(in.Start, in.End, d.loc, now)
		if err != nil {
			return nil, err
		}
		return []guardrailQuery{{query: in.Query, ranges: [][2]time.Time{{start, end}}}}, nil

	case ToolCompareRanges:
		var in compareRangesParams
		if err := decodeParams(args, &in); err != nil {
			return nil, err
		}
		if in.Query == "" {
			return nil, errors.New("query must not be empty")
		}
		baseline, compare, err := d.compareWindows(in, now)
		if err != nil {
			return nil, err
		}
		return []guardrailQuery{{query: in.Query, ranges: [][2]time.Time{baseline, compare}}}, nil

	default:
		return nil, nil
	}
}
