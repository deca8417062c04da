package dispatcher

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var (
	jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

	// strictJSON refuses argument fields the target param struct does not
	// declare.
	strictJSON = jsoniter.Config{
		EscapeHTML:             true,
		SortMapKeys:            true,
		ValidateJsonRawMessage: true,
		DisallowUnknownFields:  true,
	}.Froze()
)

// decodeParams maps the free-form argument object onto a typed param struct.
// Unknown fields are rejected. Absent optional strings decode to "" and
// absent numbers to 0.
func decodeParams(args map[string]any, out any) error {
	raw, err := jsonAPI.Marshal(args)
	if err != nil {
		return errors.Wrap(err, "invalid tool parameters")
	}
	if err := strictJSON.Unmarshal(raw, out); err != nil {
		return errors.Wrap(err, "invalid tool parameters")
	}
	return nil
}

type startEndParams struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type labelValuesParams struct {
	Label string `json:"label"`
	Start string `json:"start"`
	End   string `json:"end"`
	Query string `json:"query"`
}

type seriesParams struct {
	Match []string `json:"match"`
	Start string   `json:"start"`
	End   string   `json:"end"`
}

type queryLogsParams struct {
	Query        string `json:"query"`
	Start        string `json:"start"`
	End          string `json:"end"`
	Limit        int    `json:"limit"`
	Direction    string `json:"direction"`
	ResponseMode string `json:"response_mode"`
}

type queryMetricsParams struct {
	Query string `json:"query"`
	Start string `json:"start"`
	End   string `json:"end"`
	Step  string `json:"step"`
}

type buildQueryParams struct {
	Labels             map[string]string `json:"labels"`
	StructuredMetadata map[string]string `json:"structured_metadata"`
	LineFilter         string            `json:"line_filter"`
	LineFilterRegex    string            `json:"line_filter_regex"`
	Exclude            string            `json:"exclude"`
	JSONFields         map[string]string `json:"json_fields"`
	Aggregation        string            `json:"aggregation"`
	AggregationRange   string            `json:"aggregation_range"`
	Start              string            `json:"start"`
	End                string            `json:"end"`
	Limit              int               `json:"limit"`
	ResponseMode       string            `json:"response_mode"`
}

type tailParams struct {
	Labels       map[string]string `json:"labels"`
	Lines        int               `json:"lines"`
	ResponseMode string            `json:"response_mode"`
}

type runSavedQueryParams struct {
	Name          string `json:"name"`
	OverrideRange string `json:"override_range"`
	ResponseMode  string `json:"response_mode"`
}

type queryStatsParams struct {
	Query string `json:"query"`
	Start string `json:"start"`
	End   string `json:"end"`
}

type detectPatternsParams struct {
	Query string `json:"query"`
	Start string `json:"start"`
	End   string `json:"end"`
	Step  string `json:"step"`
}

type compareRangesParams struct {
	Query         string `json:"query"`
	BaselineStart string `json:"baseline_start"`
	BaselineEnd   string `json:"baseline_end"`
	CompareStart  string `json:"compare_start"`
	CompareEnd    string `json:"compare_end"`
}

type explainQueryParams struct {
	Query string `json:"query"`
}

type suggestMetricRuleParams struct {
	Query          string   `json:"query"`
	MetricName     string   `json:"metric_name"`
	Description    string   `json:"description"`
	RuleType       string   `json:"rule_type"`
	AlertThreshold *float64 `json:"alert_threshold"`
	AlertFor       string   `json:"alert_for"`
}
