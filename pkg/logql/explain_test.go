package logql

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExplainSelectorAndStages(t *testing.T) {
	explanation, err := Explain(`{app="api"} |= "error" != "healthz" | json | status="500"`)
	require.NoError(t, err)

	require.Equal(t, `{app="api"}`, explanation["selector"])

	stages, ok := explanation["stages"].([]stageExplanation)
	require.True(t, ok)
	require.Len(t, stages, 4)
	require.Equal(t, `|= "error"`, stages[0].Stage)
	require.Equal(t, `!= "healthz"`, stages[1].Stage)
	require.Equal(t, "| json", stages[2].Stage)
	require.Equal(t, `| status="500"`, stages[3].Stage)
}

func TestExplainAggregation(t *testing.T) {
	explanation, err := Explain(`rate({app="api"} |= "error" [5m])`)
	require.NoError(t, err)

	agg, ok := explanation["aggregation"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "rate", agg["function"])
	require.Equal(t, "5m", agg["range"])
}

func TestExplainKeepsPipeCharactersInsideQuotes(t *testing.T) {
	explanation, err := Explain(`{app="api"} |~ "timeout|refused"`)
	require.NoError(t, err)

	stages := explanation["stages"].([]stageExplanation)
	require.Len(t, stages, 1)
	require.Equal(t, `|~ "timeout|refused"`, stages[0].Stage)
}

func TestExplainRejectsQueriesWithoutSelector(t *testing.T) {
	_, err := Explain("")
	require.Error(t, err)

	_, err = Explain(`count_over_time(foo[5m])`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no stream selector")
}

func TestSuggestRecordingRule(t *testing.T) {
	rule, err := SuggestMetricRule(SuggestMetricRuleParams{
		Query:      `{app="api"} |= "error"`,
		MetricName: "api:errors:rate5m",
	})
	require.NoError(t, err)

	require.Equal(t, "recording", rule["rule_type"])
	inner := rule["rule"].(map[string]any)
	require.Equal(t, "api:errors:rate5m", inner["record"])
	require.Equal(t, `rate({app="api"} |= "error"[5m])`, inner["expr"])
}

func TestSuggestRecordingRuleKeepsExistingAggregation(t *testing.T) {
	rule, err := SuggestMetricRule(SuggestMetricRuleParams{
		Query:      `count_over_time({app="api"}[10m])`,
		MetricName: "api_lines_total",
	})
	require.NoError(t, err)

	inner := rule["rule"].(map[string]any)
	require.Equal(t, `count_over_time({app="api"}[10m])`, inner["expr"])
}

func TestSuggestAlertingRule(t *testing.T) {
	threshold := 10.0
	rule, err := SuggestMetricRule(SuggestMetricRuleParams{
		Query:          `{app="api"} |= "error"`,
		MetricName:     "ApiErrorBurst",
		Description:    "api error volume is high",
		RuleType:       "alerting",
		AlertThreshold: &threshold,
		AlertFor:       "10m",
	})
	require.NoError(t, err)

	require.Equal(t, "alerting", rule["rule_type"])
	inner := rule["rule"].(map[string]any)
	require.Equal(t, "ApiErrorBurst", inner["alert"])
	require.Equal(t, `rate({app="api"} |= "error"[5m]) > 10`, inner["expr"])
	require.Equal(t, "10m", inner["for"])
}

func TestSuggestMetricRuleValidation(t *testing.T) {
	_, err := SuggestMetricRule(SuggestMetricRuleParams{Query: "{}", MetricName: "bad-name"})
	require.Error(t, err)

	_, err = SuggestMetricRule(SuggestMetricRuleParams{Query: "{}", MetricName: "ok", RuleType: "paging"})
	require.Error(t, err)

	_, err = SuggestMetricRule(SuggestMetricRuleParams{Query: "{}", MetricName: "ok", RuleType: "alerting"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "alert_threshold")
}
