// Package logql assembles and inspects LogQL query strings from structured
// parts. Only the small slice of the language needed by the query tools is
// understood here; queries are never parsed for execution.
package logql

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// DefaultAggregationRange is applied when an aggregation is requested
// without an explicit range.
const DefaultAggregationRange = "5m"

var aggregations = map[string]struct{}{
	"count_over_time": {},
	"rate":            {},
	"bytes_over_time": {},
	"bytes_rate":      {},
}

// BuildParams are the structured parts of a query assembled by Build.
type BuildParams struct {
	Labels             map[string]string
	StructuredMetadata map[string]string
	LineFilter         string
	LineFilterRegex    string
	Exclude            string
	JSONFields         map[string]string
}

// Build assembles a selector-and-pipeline query string. Stages appear in a
// fixed order: structured metadata filters, line filters, json extraction.
func Build(p BuildParams) string {
	parts := []string{Selector(p.Labels)}

	for _, field := range sortedKeys(p.StructuredMetadata) {
		parts = append(parts, fmt.Sprintf("| %s=\"%s\"", field, escapeValue(p.StructuredMetadata[field])))
	}

	if p.LineFilter != "" {
		parts = append(parts, fmt.Sprintf("|= \"%s\"", escapeValue(p.LineFilter)))
	}
	if p.LineFilterRegex != "" {
		parts = append(parts, fmt.Sprintf("|~ \"%s\"", escapeValue(p.LineFilterRegex)))
	}
	if p.Exclude != "" {
		parts = append(parts, fmt.Sprintf("!= \"%s\"", escapeValue(p.Exclude)))
	}

	if len(p.JSONFields) > 0 {
		parts = append(parts, "| json")
		for _, field := range sortedKeys(p.JSONFields) {
			parts = append(parts, fmt.Sprintf("| %s=\"%s\"", field, escapeValue(p.JSONFields[field])))
		}
	}

	return strings.Join(parts, " ")
}

// Selector renders a label set as a LogQL stream selector with labels
// sorted by key. An empty set yields the match-all selector.
func Selector(labels map[string]string) string {
	if len(labels) == 0 {
		return "{}"
	}

	pairs := make([]string, 0, len(labels))
	for _, key := range sortedKeys(labels) {
		pairs = append(pairs, fmt.Sprintf("%s=\"%s\"", key, escapeValue(labels[key])))
	}

	return "{" + strings.Join(pairs, ",") + "}"
}

// ValidateAggregation rejects range aggregation functions the builder does
// not support.
func ValidateAggregation(aggregation string) error {
	if _, ok := aggregations[aggregation]; !ok {
		return errors.Errorf(
			"unsupported aggregation: %s. expected one of count_over_time, rate, bytes_over_time, bytes_rate",
			aggregation)
	}

	return nil
}

// WrapAggregation wraps a log query in a range aggregation. An empty
// aggregationRange falls back to DefaultAggregationRange.
func WrapAggregation(query, aggregation, aggregationRange string) string {
	if aggregationRange == "" {
		aggregationRange = DefaultAggregationRange
	}

	return fmt.Sprintf("%s(%s[%s])", aggregation, query, aggregationRange)
}

// escapeValue escapes a string for inclusion in a double-quoted LogQL
// literal: backslashes are doubled and double quotes escaped.
func escapeValue(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	return strings.ReplaceAll(value, `"`, `\"`)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
