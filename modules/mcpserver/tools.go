package mcpserver

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jpetrucciani/loki-mcp/modules/dispatcher"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// buildTools defines the advertised tool surface. Every tool is read only
// and idempotent.
func buildTools() []mcp.Tool {
	readonly := []mcp.ToolOption{
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
	}

	tool := func(name, description string, opts ...mcp.ToolOption) mcp.Tool {
		return mcp.NewTool(name, append(append([]mcp.ToolOption{mcp.WithDescription(description)}, readonly...), opts...)...)
	}

	return []mcp.Tool{
		tool(dispatcher.ToolDescribeSchema,
			"Return configured label, structured metadata, and saved-query schema briefing."),

		tool(dispatcher.ToolListLabels,
			"List label names known to Loki, optionally scoped to a time range.",
			mcp.WithString("start", mcp.Description("Start of the window, absolute or relative (e.g. 1h, yesterday).")),
			mcp.WithString("end", mcp.Description("End of the window, defaults to now.")),
		),

		tool(dispatcher.ToolLabelValues,
			"List values for a label, optionally scoped by time and query selector.",
			mcp.WithString("label", mcp.Required(), mcp.Description("Label name to enumerate.")),
			mcp.WithString("start", mcp.Description("Start of the window.")),
			mcp.WithString("end", mcp.Description("End of the window.")),
			mcp.WithString("query", mcp.Description("Optional stream selector to scope the values.")),
		),

		tool(dispatcher.ToolSeries,
			"List matching series (unique label sets) for one or more LogQL matchers.",
			mcp.WithArray("match", mcp.Required(), mcp.Description("LogQL stream matchers, at least one.")),
			mcp.WithString("start", mcp.Description("Start of the window.")),
			mcp.WithString("end", mcp.Description("End of the window.")),
		),

		tool(dispatcher.ToolQueryLogs,
			"Run a LogQL log query with optional time range and result controls.",
			mcp.WithString("query", mcp.Required(), mcp.Description("LogQL log query.")),
			mcp.WithString("start", mcp.Description("Start of the window, absolute or relative.")),
			mcp.WithString("end", mcp.Description("End of the window, defaults to now.")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of lines, defaults to 100.")),
			mcp.WithString("direction", mcp.Description("Result order, forward or backward.")),
			mcp.WithString("response_mode", mcp.Description("raw, truncated, summary or smart (default).")),
		),

		tool(dispatcher.ToolQueryMetrics,
			"Run a LogQL metric query and return numeric series data.",
			mcp.WithString("query", mcp.Required(), mcp.Description("LogQL metric query.")),
			mcp.WithString("start", mcp.Description("Start of the window.")),
			mcp.WithString("end", mcp.Description("End of the window.")),
			mcp.WithString("step", mcp.Description("Resolution step, e.g. 30s.")),
		),

		tool(dispatcher.ToolBuildQuery,
			"Build LogQL from structured filters, then execute and return results.",
			mcp.WithObject("labels", mcp.Description("Label equality matchers.")),
			mcp.WithObject("structured_metadata", mcp.Description("Structured metadata equality filters.")),
			mcp.WithString("line_filter", mcp.Description("Substring the line must contain.")),
			mcp.WithString("line_filter_regex", mcp.Description("Regex the line must match.")),
			mcp.WithString("exclude", mcp.Description("Substring the line must not contain.")),
			mcp.WithObject("json_fields", mcp.Description("Post-json-parse field equality filters.")),
			mcp.WithString("aggregation", mcp.Description("Range aggregation to wrap the query in.")),
			mcp.WithString("aggregation_range", mcp.Description("Aggregation window, defaults to 5m.")),
			mcp.WithString("start", mcp.Description("Start of the window.")),
			mcp.WithString("end", mcp.Description("End of the window.")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of lines for log queries.")),
			mcp.WithString("response_mode", mcp.Description("raw, truncated, summary or smart (default).")),
		),

		tool(dispatcher.ToolTail,
			"Fetch the latest log lines for a required label set.",
			mcp.WithObject("labels", mcp.Required(), mcp.Description("Label equality matchers selecting the streams.")),
			mcp.WithNumber("lines", mcp.Description("Number of latest lines, defaults to 50.")),
			mcp.WithString("response_mode", mcp.Description("raw, truncated, summary or smart (default).")),
		),

		tool(dispatcher.ToolRunSavedQuery,
			"Run a configured saved query by name with optional range override.",
			mcp.WithString("name", mcp.Required(), mcp.Description("Saved query name.")),
			mcp.WithString("override_range", mcp.Description("Lookback overriding the saved range, e.g. 2h.")),
			mcp.WithString("response_mode", mcp.Description("raw, truncated, summary or smart (default).")),
		),

		tool(dispatcher.ToolQueryStats,
			"Return Loki index query statistics for cost estimation.",
			mcp.WithString("query", mcp.Required(), mcp.Description("LogQL query to estimate.")),
			mcp.WithString("start", mcp.Description("Start of the window.")),
			mcp.WithString("end", mcp.Description("End of the window.")),
		),

		tool(dispatcher.ToolDetectPatterns,
			"Detect recurring patterns from logs matching a query in a time range.",
			mcp.WithString("query", mcp.Required(), mcp.Description("LogQL query selecting the logs.")),
			mcp.WithString("start", mcp.Description("Start of the window.")),
			mcp.WithString("end", mcp.Description("End of the window.")),
			mcp.WithString("step", mcp.Description("Pattern bucketing step.")),
		),

		tool(dispatcher.ToolCompareRanges,
			"Compare line volumes for a query across two explicit ranges.",
			mcp.WithString("query", mcp.Required(), mcp.Description("LogQL log query.")),
			mcp.WithString("baseline_start", mcp.Required(), mcp.Description("Baseline window start.")),
			mcp.WithString("baseline_end", mcp.Required(), mcp.Description("Baseline window end.")),
			mcp.WithString("compare_start", mcp.Required(), mcp.Description("Comparison window start.")),
			mcp.WithString("compare_end", mcp.Required(), mcp.Description("Comparison window end.")),
		),

		tool(dispatcher.ToolExplainQuery,
			"Explain key parts of a LogQL query (selector, stages, aggregation).",
			mcp.WithString("query", mcp.Required(), mcp.Description("LogQL query to explain.")),
		),

		tool(dispatcher.ToolSuggestMetricRule,
			"Generate a recording or alerting rule from a LogQL query.",
			mcp.WithString("query", mcp.Required(), mcp.Description("LogQL query the rule evaluates.")),
			mcp.WithString("metric_name", mcp.Required(), mcp.Description("Prometheus metric or alert name.")),
			mcp.WithString("description", mcp.Description("Human description carried into annotations.")),
			mcp.WithString("rule_type", mcp.Description("recording (default) or alerting.")),
			mcp.WithNumber("alert_threshold", mcp.Description("Threshold for alerting rules.")),
			mcp.WithString("alert_for", mcp.Description("Alert for-duration, e.g. 5m.")),
		),

		tool(dispatcher.ToolCheckHealth,
			"Check Loki readiness/build/ring health status through the configured endpoint."),
	}
}
