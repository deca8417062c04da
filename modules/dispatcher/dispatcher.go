// Package dispatcher routes validated tool calls through caching and
// guardrail pre-checks into the Loki client, and shapes the results. The
// call path is ordered: cache probe, guardrails, dispatch, cache insert.
// Rate limiting and auditing happen a layer up, before arguments are parsed.
package dispatcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"

	"github.com/jpetrucciani/loki-mcp/modules/guardrails"
	"github.com/jpetrucciani/loki-mcp/modules/querycache"
	"github.com/jpetrucciani/loki-mcp/pkg/lokiclient"
	"github.com/jpetrucciani/loki-mcp/pkg/metrics"
	"github.com/jpetrucciani/loki-mcp/pkg/timeref"
)

// Tool names as exposed over MCP.
const (
	ToolDescribeSchema    = "loki_describe_schema"
	ToolListLabels        = "loki_list_labels"
	ToolLabelValues       = "loki_label_values"
	ToolSeries            = "loki_series"
	ToolQueryLogs         = "loki_query_logs"
	ToolQueryMetrics      = "loki_query_metrics"
	ToolBuildQuery        = "loki_build_query"
	ToolTail              = "loki_tail"
	ToolRunSavedQuery     = "loki_run_saved_query"
	ToolQueryStats        = "loki_query_stats"
	ToolDetectPatterns    = "loki_detect_patterns"
	ToolCompareRanges     = "loki_compare_ranges"
	ToolExplainQuery      = "loki_explain_query"
	ToolSuggestMetricRule = "loki_suggest_metric_rule"
	ToolCheckHealth       = "loki_check_health"
)

// Config carries the dispatcher's slice of the server configuration.
type Config struct {
	Timezone           string
	Labels             []SchemaField
	StructuredMetadata []SchemaField
	SavedQueries       []SavedQuery
	Guardrails         guardrails.Config
}

// Dispatcher executes tool calls against one Loki backend.
type Dispatcher struct {
	client             *lokiclient.Client
	loc                *time.Location
	metrics            *metrics.Registry
	cache              *querycache.Cache
	guardrails         guardrails.Settings
	labels             []SchemaField
	structuredMetadata []SchemaField
	savedQueries       []SavedQuery

	now func() time.Time
}

// New builds a dispatcher. cache and reg may be nil to disable caching and
// metrics.
func New(cfg Config, client *lokiclient.Client, cache *querycache.Cache, reg *metrics.Registry) (*Dispatcher, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid timezone: %s", cfg.Timezone)
	}

	settings, err := cfg.Guardrails.Settings()
	if err != nil {
		return nil, err
	}

	return &Dispatcher{
		client:             client,
		loc:                loc,
		metrics:            reg,
		cache:              cache,
		guardrails:         settings,
		labels:             cfg.Labels,
		structuredMetadata: cfg.StructuredMetadata,
		savedQueries:       cfg.SavedQueries,
		now:                time.Now,
	}, nil
}

// Call runs one tool invocation through the cache and guardrail pipeline.
func (d *Dispatcher) Call(ctx context.Context, tool string, args map[string]any) (map[string]any, error) {
	if args == nil {
		args = map[string]any{}
	}

	useCache := d.shouldUseCache(tool, args)
	var key string
	if useCache {
		var err error
		key, err = Fingerprint(tool, args)
		if err != nil {
			return nil, err
		}

		if cached, ok := d.cache.Get(key); ok {
			if result, ok := cached.(map[string]any); ok {
				d.metrics.IncToolCacheHit(tool)
				return result, nil
			}
		}
		d.metrics.IncToolCacheMiss(tool)
	}

	if err := d.enforceGuardrails(ctx, tool, args); err != nil {
		if IsGuardrailError(err) {
			d.metrics.IncToolGuardrailRejection(tool)
		}
		return nil, err
	}

	result, err := d.dispatch(ctx, tool, args)
	if err != nil {
		return nil, err
	}

	if useCache {
		d.cache.Insert(key, result)
	}

	return result, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, tool string, args map[string]any) (map[string]any, error) {
	switch tool {
	case ToolDescribeSchema:
		return d.describeSchema(), nil
	case ToolListLabels:
		return d.listLabels(ctx, args)
	case ToolLabelValues:
		return d.labelValues(ctx, args)
	case ToolSeries:
		return d.series(ctx, args)
	case ToolQueryLogs:
		return d.queryLogs(ctx, args)
	case ToolQueryMetrics:
		return d.queryMetrics(ctx, args)
	case ToolBuildQuery:
		return d.buildQuery(ctx, args)
	case ToolTail:
		return d.tail(ctx, args)
	case ToolRunSavedQuery:
		return d.runSavedQuery(ctx, args)
	case ToolQueryStats:
		return d.queryStats(ctx, args)
	case ToolDetectPatterns:
		return d.detectPatterns(ctx, args)
	case ToolCompareRanges:
		return d.compareRanges(ctx, args)
	case ToolExplainQuery:
		return d.explainQuery(args)
	case ToolSuggestMetricRule:
		return d.suggestMetricRule(args)
	case ToolCheckHealth:
		return d.checkHealth(ctx)
	default:
		return nil, errors.Errorf("unknown tool: %s", tool)
	}
}

// Fingerprint derives the cache key for a tool call. Canonical JSON
// marshaling sorts object keys at every level, so structurally equivalent
// argument objects always produce the same key.
func Fingerprint(tool string, args map[string]any) (string, error) {
	canonical, err := jsonAPI.Marshal(args)
	if err != nil {
		return "", errors.Wrap(err, "failed to serialize cache key params")
	}

	return fmt.Sprintf("%s:%016x", tool, xxhash.Sum64(canonical)), nil
}

// IsGuardrailError reports whether an error came from the guardrail
// pre-check. Classification is by message, matching the audit error classes.
func IsGuardrailError(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "guardrail")
}

func isCacheableTool(tool string) bool {
	switch tool {
	case ToolListLabels, ToolLabelValues, ToolSeries,
		ToolQueryLogs, ToolQueryMetrics, ToolBuildQuery, ToolTail, ToolRunSavedQuery,
		ToolQueryStats, ToolDetectPatterns, ToolCompareRanges:
		return true
	default:
		return false
	}
}

func isGuardrailedTool(tool string) bool {
	switch tool {
	case ToolQueryLogs, ToolQueryMetrics, ToolBuildQuery, ToolTail,
		ToolRunSavedQuery, ToolDetectPatterns, ToolCompareRanges:
		return true
	default:
		return false
	}
}

// shouldUseCache is optimistic: when the cache-relevant arguments cannot be
// parsed the cache stays on and the handler produces the real error.
func (d *Dispatcher) shouldUseCache(tool string, args map[string]any) bool {
	if d.cache == nil || !isCacheableTool(tool) {
		return false
	}

	duration, known, err := d.cacheRangeDuration(tool, args)
	if err != nil || !known {
		return true
	}

	return d.cache.Admits(duration)
}

// cacheRangeDuration resolves the query window a tool call will cover, used
// for cache admission. known is false for tools whose window is unbounded,
// such as discovery calls without explicit bounds.
func (d *Dispatcher) cacheRangeDuration(tool string, args map[string]any) (time.Duration, bool, error) {
	now := d.now()

	switch tool {
	case ToolQueryLogs:
		var in queryLogsParams
		if err := decodeParams(args, &in); err != nil {
			return 0, false, err
		}
		return d.boundedRange(in.Start, in.End, now)

	case ToolQueryMetrics:
		var in queryMetricsParams
		if err := decodeParams(args, &in); err != nil {
			return 0, false, err
		}
		return d.boundedRange(in.Start, in.End, now)

	case ToolBuildQuery:
		var in buildQueryParams
		if err := decodeParams(args, &in); err != nil {
			return 0, false, err
		}
		return d.boundedRange(in.Start, in.End, now)

	case ToolTail:
		return d.boundedRange("", "", now)

	case ToolRunSavedQuery:
		var in runSavedQueryParams
		if err := decodeParams(args, &in); err != nil {
			return 0, false, err
		}
		saved, err := d.findSavedQuery(in.Name)
		if err != nil {
			return 0, false, err
		}
		rangeRef := in.OverrideRange
		if rangeRef == "" {
			rangeRef = saved.Range
		}
		return d.boundedRange(rangeRef, "", now)

	case ToolQueryStats:
		var in queryStatsParams
		if err := decodeParams(args, &in); err != nil {
			return 0, false, err
		}
		return d.boundedRange(in.Start, in.End, now)

	case ToolDetectPatterns:
		var in detectPatternsParams
		if err := decodeParams(args, &in); err != nil {
			return 0, false, err
		}
		return d.boundedRange(in.Start, in.End, now)

	case ToolCompareRanges:
		var in compareRangesParams
		if err := decodeParams(args, &in); err != nil {
			return 0, false, err
		}
		baseline, compare, err := d.compareWindows(in, now)
		if err != nil {
			return 0, false, err
		}
		baselineDuration := baseline[1].Sub(baseline[0])
		compareDuration := compare[1].Sub(compare[0])
		if compareDuration < baselineDuration {
			return compareDuration, true, nil
		}
		return baselineDuration, true, nil

	case ToolListLabels:
		var in startEndParams
		if err := decodeParams(args, &in); err != nil {
			return 0, false, err
		}
		return d.discoveryRange(in.Start, in.End, now)

	case ToolLabelValues:
		var in labelValuesParams
		if err := decodeParams(args, &in); err != nil {
			return 0, false, err
		}
		return d.discoveryRange(in.Start, in.End, now)

	case ToolSeries:
		var in seriesParams
		if err := decodeParams(args, &in); err != nil {
			return 0, false, err
		}
		return d.discoveryRange(in.Start, in.End, now)

	default:
		return 0, false, nil
	}
}

// discoveryRange treats a discovery call without explicit bounds as an
// unbounded window.
func (d *Dispatcher) discoveryRange(start, end string, now time.Time) (time.Duration, bool, error) {
	if start == "" && end == "" {
		return 0, false, nil
	}
	return d.boundedRange(start, end, now)
}

func (d *Dispatcher) boundedRange(start, end string, now time.Time) (time.Duration, bool, error) {
	startTime, endTime, err := timeref.ResolveRange(start, end, d.loc, now)
	if err != nil {
		return 0, false, err
	}
	return endTime.Sub(startTime), true, nil
}

// guardrailQuery is one query plus the windows it will scan.
type guardrailQuery struct {
	query  string
	ranges [][2]time.Time
}

func (d *Dispatcher) enforceGuardrails(ctx context.Context, tool string, args map[string]any) error {
	if !d.guardrailsEnabled() || !isGuardrailedTool(tool) {
		return nil
	}

	queries, err := d.guardrailQueries(tool, args)
	if err != nil {
		return err
	}

	for _, gq := range queries {
		for _, window := range gq.ranges {
			start, end := window[0], window[1]
			if end.Sub(start) < d.guardrails.SkipStatsIfRangeShorterThan {
				continue
			}

			stats, err := d.client.QueryStats(ctx, gq.query, start, end)
			if err != nil {
				return errors.Wrapf(err, "guardrail pre-check failed for query. narrow the query or use a shorter range (start=%s, end=%s)",
					start.Format(time.RFC3339), end.Format(time.RFC3339))
			}

			if needsRuntimeStatsFallback(stats) {
				runtimeStats, err := d.client.QueryRuntimeStats(ctx, gq.query, start, end)
				if err != nil {
					return errors.Wrapf(err, "guardrail pre-check failed for query. narrow the query or use a shorter range (start=%s, end=%s)",
						start.Format(time.RFC3339), end.Format(time.RFC3339))
				}
				stats = stats.Merge(runtimeStats)
			}

			if stats.Streams == nil {
				return errors.New("guardrail pre-check failed: Loki stats response is missing stream estimates. narrow the query or use a shorter range")
			}
			estimatedStreams := *stats.Streams

			if estimatedStreams < d.guardrails.SkipStatsIfStreamsBelow {
				continue
			}

			if stats.BytesProcessed == nil {
				return errors.New("guardrail pre-check failed: Loki stats response is missing byte estimates. narrow the query or use a shorter range")
			}
			estimatedBytes := *stats.BytesProcessed

			switch guardrails.Evaluate(estimatedBytes, estimatedStreams, d.guardrails.MaxBytesScanned, d.guardrails.MaxStreams) {
			case guardrails.RejectBytes:
				return errors.Errorf("query rejected by guardrail: estimated bytes scanned (%d) exceeds configured limit (%d). narrow labels or shorten the time range",
					estimatedBytes, d.guardrails.MaxBytesScanned)
			case guardrails.RejectStreams:
				return errors.Errorf("query rejected by guardrail: estimated streams (%d) exceeds configured limit (%d). add narrower label selectors or shorten the time range",
					estimatedStreams, d.guardrails.MaxStreams)
			}
		}
	}

	return nil
}

func (d *Dispatcher) guardrailsEnabled() bool {
	return d.guardrails.MaxBytesScanned > 0 || d.guardrails.MaxStreams > 0
}

func needsRuntimeStatsFallback(stats lokiclient.QueryStats) bool {
	bytesProcessed := uint64(0)
	if stats.BytesProcessed != nil {
		bytesProcessed = *stats.BytesProcessed
	}
	streams := uint64(0)
	if stats.Streams != nil {
		streams = *stats.Streams
	}
	return bytesProcessed == 0 && streams == 0
}
