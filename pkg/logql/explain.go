package logql

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

var (
	aggregationPrefixRe = regexp.MustCompile(`^([a-z_]+)\s*\(`)
	rangeSuffixRe       = regexp.MustCompile(`\[([0-9]+(?:ms|s|m|h|d|w))\]`)
	metricNameRe        = regexp.MustCompile(`^[a-zA-Z_:][a-zA-Z0-9_:]*$`)
)

// Explain breaks a LogQL query into its selector, pipeline stages, and
// optional range aggregation. It is purely syntactic and never contacts the
// backend.
func Explain(query string) (map[string]any, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return nil, errors.New("query must not be empty")
	}

	explanation := map[string]any{
		"query": trimmed,
	}

	if match := aggregationPrefixRe.FindStringSubmatch(trimmed); match != nil {
		if _, ok := aggregations[match[1]]; ok {
			explanation["aggregation"] = map[string]any{
				"function":    match[1],
				"description": describeAggregation(match[1]),
			}
			if rangeMatch := rangeSuffixRe.FindStringSubmatch(trimmed); rangeMatch != nil {
				agg := explanation["aggregation"].(map[string]any)
				agg["range"] = rangeMatch[1]
			}
		}
	}

	open := strings.Index(trimmed, "{")
	closing := strings.Index(trimmed, "}")
	if open < 0 || closing < open {
		return nil, errors.Errorf("query has no stream selector: %s", trimmed)
	}

	selector := trimmed[open : closing+1]
	explanation["selector"] = selector

	matchers := strings.TrimSpace(trimmed[open+1 : closing])
	if matchers == "" {
		explanation["selector_note"] = "matches every stream. add label matchers to narrow the query"
	}

	stages := parseStages(trimmed[closing+1:])
	explanation["stages"] = stages

	return explanation, nil
}

type stageExplanation struct {
	Stage       string `json:"stage"`
	Description string `json:"description"`
}

func parseStages(pipeline string) []stageExplanation {
	stages := []stageExplanation{}

	for _, raw := range splitStages(pipeline) {
		stage := strings.TrimSpace(raw)
		if stage == "" {
			continue
		}

		stages = append(stages, stageExplanation{
			Stage:       stage,
			Description: describeStage(stage),
		})
	}

	return stages
}

// splitStages cuts the pipeline at stage operators while keeping the
// operator with its stage. Quoted strings are honored so that "|" inside a
// filter literal does not start a new stage.
func splitStages(pipeline string) []string {
	var (
		stages   []string
		current  strings.Builder
		inQuotes bool
	)

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			stages = append(stages, s)
		}
		current.Reset()
	}

	runes := []rune(pipeline)
	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if r == '"' && (i == 0 || runes[i-1] != '\\') {
			inQuotes = !inQuotes
		}

		if !inQuotes && (r == '|' || (r == '!' && i+1 < len(runes) && runes[i+1] == '=')) {
			flush()
		}

		current.WriteRune(r)
	}
	flush()

	return stages
}

func describeStage(stage string) string {
	switch {
	case strings.HasPrefix(stage, "|="):
		return "keep lines containing the literal text"
	case strings.HasPrefix(stage, "!="):
		return "drop lines containing the literal text"
	case strings.HasPrefix(stage, "|~"):
		return "keep lines matching the regular expression"
	case strings.HasPrefix(stage, "!~"):
		return "drop lines matching the regular expression"
	case stage == "| json":
		return "parse each line as JSON and extract fields as labels"
	case strings.HasPrefix(stage, "| json"):
		return "parse each line as JSON with explicit field expressions"
	case strings.HasPrefix(stage, "| logfmt"):
		return "parse each line as logfmt and extract fields as labels"
	case strings.HasPrefix(stage, "| unwrap"):
		return "unwrap a label value for use in a range aggregation"
	case strings.HasPrefix(stage, "["):
		return "range window for the surrounding aggregation"
	case strings.HasPrefix(stage, "|"):
		return "filter on an extracted label value"
	default:
		return "unrecognized stage"
	}
}

func describeAggregation(function string) string {
	switch function {
	case "count_over_time":
		return "number of log lines per stream over the range window"
	case "rate":
		return "log lines per second per stream over the range window"
	case "bytes_over_time":
		return "bytes of log data per stream over the range window"
	case "bytes_rate":
		return "bytes per second per stream over the range window"
	default:
		return ""
	}
}

// SuggestMetricRuleParams describe the rule to derive from a query.
type SuggestMetricRuleParams struct {
	Query          string
	MetricName     string
	Description    string
	RuleType       string
	AlertThreshold *float64
	AlertFor       string
}

// SuggestMetricRule renders a Loki ruler rule for the given query: a
// recording rule by default, or an alerting rule when requested. Log-only
// queries are wrapped in a default rate aggregation so the expression
// produces samples.
func SuggestMetricRule(p SuggestMetricRuleParams) (map[string]any, error) {
	query := strings.TrimSpace(p.Query)
	if query == "" {
		return nil, errors.New("query must not be empty")
	}
	if !metricNameRe.MatchString(p.MetricName) {
		return nil, errors.Errorf("invalid metric name: %s", p.MetricName)
	}

	ruleType := p.RuleType
	if ruleType == "" {
		ruleType = "recording"
	}

	expr := query
	if match := aggregationPrefixRe.FindStringSubmatch(query); match == nil || !isAggregation(match[1]) {
		expr = WrapAggregation(query, "rate", DefaultAggregationRange)
	}

	switch ruleType {
	case "recording":
		rule := map[string]any{
			"record": p.MetricName,
			"expr":   expr,
		}
		if p.Description != "" {
			rule["labels"] = map[string]any{"description": p.Description}
		}

		return map[string]any{
			"rule_type": "recording",
			"rule":      rule,
			"notes":     "add this rule to a Loki ruler group to materialize the metric",
		}, nil

	case "alerting":
		if p.AlertThreshold == nil {
			return nil, errors.New("alert_threshold is required when rule_type=alerting")
		}

		alertFor := p.AlertFor
		if alertFor == "" {
			alertFor = "5m"
		}

		rule := map[string]any{
			"alert": p.MetricName,
			"expr":  fmt.Sprintf("%s > %g", expr, *p.AlertThreshold),
			"for":   alertFor,
		}
		annotations := map[string]any{}
		if p.Description != "" {
			annotations["description"] = p.Description
		}
		if len(annotations) > 0 {
			rule["annotations"] = annotations
		}

		return map[string]any{
			"rule_type": "alerting",
			"rule":      rule,
			"notes":     "add this rule to a Loki ruler group to fire the alert",
		}, nil

	default:
		return nil, errors.Errorf("unsupported rule_type: %s. expected recording or alerting", ruleType)
	}
}

func isAggregation(function string) bool {
	_, ok := aggregations[function]
	return ok
}
