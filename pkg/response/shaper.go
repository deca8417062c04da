// Package response rewrites raw Loki query payloads into raw, truncated, or
// summary forms. The smart mode picks a form from the number of returned
// lines so that small results stay verbatim and large results collapse into
// patterns and level counts.
package response

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Mode selects how a log query result is shaped before returning it.
type Mode string

const (
	ModeRaw       Mode = "raw"
	ModeTruncated Mode = "truncated"
	ModeSummary   Mode = "summary"
	ModeSmart     Mode = "smart"
)

const (
	smartRawMax       = 50
	smartTruncatedMax = 500

	topPatternCount = 10

	// Smart truncation keeps a few extra edge lines because it also
	// attaches a pattern summary.
	smartEdgeLines   = 15
	defaultEdgeLines = 10
)

// ParseMode parses a requested response mode. An empty string selects smart.
func ParseMode(input string) (Mode, error) {
	switch input {
	case "":
		return ModeSmart, nil
	case string(ModeRaw), string(ModeTruncated), string(ModeSummary), string(ModeSmart):
		return Mode(input), nil
	default:
		return "", errors.Errorf("unsupported response_mode: %s. expected one of raw, truncated, summary, smart", input)
	}
}

// resolve maps smart onto a concrete mode for the given line count. Explicit
// modes are honored unchanged.
func (m Mode) resolve(lineCount int) Mode {
	if m != ModeSmart {
		return m
	}

	switch {
	case lineCount <= smartRawMax:
		return ModeRaw
	case lineCount <= smartTruncatedMax:
		return ModeTruncated
	default:
		return ModeSummary
	}
}

// Entry is a single flattened log line.
type Entry struct {
	Timestamp string            `json:"timestamp"`
	Line      string            `json:"line"`
	Stream    map[string]string `json:"stream"`
}

// Format shapes a raw query_range log payload according to the requested
// mode and reports the mode actually applied.
func Format(requested Mode, rawData any) (Mode, map[string]any) {
	entries := Flatten(rawData)
	applied := requested.resolve(len(entries))

	switch applied {
	case ModeTruncated:
		edge := defaultEdgeLines
		if requested == ModeSmart {
			edge = smartEdgeLines
		}
		lines, omitted := truncate(entries, edge)
		payload := map[string]any{
			"mode":          string(ModeTruncated),
			"total_lines":   len(entries),
			"shown_lines":   len(lines),
			"omitted_lines": omitted,
			"lines":         lines,
		}
		if requested == ModeSmart {
			payload["pattern_summary"] = summarize(entries, false)["top_patterns"]
		}

		return applied, payload

	case ModeSummary:
		return applied, summarize(entries, requested == ModeSmart)

	default:
		return ModeRaw, map[string]any{
			"mode":        string(ModeRaw),
			"total_lines": len(entries),
			"result":      rawData,
		}
	}
}

// Flatten expands the streams of a query_range payload into individual
// timestamped lines. Malformed value pairs are skipped.
func Flatten(rawData any) []Entry {
	var entries []Entry

	data, ok := rawData.(map[string]any)
	if !ok {
		return entries
	}
	streams, ok := data["result"].([]any)
	if !ok {
		return entries
	}

	for _, rawStream := range streams {
		stream, ok := rawStream.(map[string]any)
		if !ok {
			continue
		}

		labels := map[string]string{}
		if labelValues, ok := stream["stream"].(map[string]any); ok {
			for key, value := range labelValues {
				text, _ := value.(string)
				labels[key] = text
			}
		}

		values, ok := stream["values"].([]any)
		if !ok {
			continue
		}

		for _, rawValue := range values {
			pair, ok := rawValue.([]any)
			if !ok || len(pair) != 2 {
				continue
			}
			nanos, ok := pair[0].(string)
			if !ok {
				continue
			}
			line, ok := pair[1].(string)
			if !ok {
				continue
			}

			timestamp := nanos
			if formatted, ok := nanosToRFC3339(nanos); ok {
				timestamp = formatted
			}

			entries = append(entries, Entry{
				Timestamp: timestamp,
				Line:      line,
				Stream:    labels,
			})
		}
	}

	return entries
}

// CountLines counts log lines across all streams of a query_range payload.
func CountLines(rawData any) int {
	data, ok := rawData.(map[string]any)
	if !ok {
		return 0
	}
	streams, ok := data["result"].([]any)
	if !ok {
		return 0
	}

	count := 0
	for _, rawStream := range streams {
		stream, ok := rawStream.(map[string]any)
		if !ok {
			continue
		}
		if values, ok := stream["values"].([]any); ok {
			count += len(values)
		}
	}

	return count
}

func truncate(entries []Entry, edge int) ([]Entry, int) {
	if len(entries) <= edge*2 {
		return entries, 0
	}

	lines := make([]Entry, 0, edge*2)
	lines = append(lines, entries[:edge]...)
	lines = append(lines, entries[len(entries)-edge:]...)

	return lines, len(entries) - len(lines)
}

type patternCount struct {
	pattern string
	count   int
}

func summarize(entries []Entry, includeSamples bool) map[string]any {
	levelCounts := map[string]int{}
	patternCounts := map[string]int{}
	patternSamples := map[string]Entry{}
	timeBuckets := map[string]int{}

	var first, last time.Time

	for _, entry := range entries {
		if level, ok := DetectLevel(entry.Line); ok {
			levelCounts[level]++
		}

		pattern := NormalizePattern(entry.Line)
		patternCounts[pattern]++
		if _, ok := patternSamples[pattern]; !ok {
			patternSamples[pattern] = entry
		}

		timestamp, err := time.Parse(time.RFC3339, entry.Timestamp)
		if err != nil {
			continue
		}
		timestamp = timestamp.UTC()

		if first.IsZero() || timestamp.Before(first) {
			first = timestamp
		}
		if last.IsZero() || timestamp.After(last) {
			last = timestamp
		}

		timeBuckets[bucket5m(timestamp)]++
	}

	ranked := make([]patternCount, 0, len(patternCounts))
	for pattern, count := range patternCounts {
		ranked = append(ranked, patternCount{pattern, count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].pattern < ranked[j].pattern
	})
	if len(ranked) > topPatternCount {
		ranked = ranked[:topPatternCount]
	}

	topPatterns := make([]map[string]any, 0, len(ranked))
	for _, pc := range ranked {
		item := map[string]any{
			"pattern": pc.pattern,
			"count":   pc.count,
		}
		if includeSamples {
			sample := patternSamples[pc.pattern]
			item["sample"] = map[string]any{
				"timestamp": sample.Timestamp,
				"line":      sample.Line,
			}
		}
		topPatterns = append(topPatterns, item)
	}

	payload := map[string]any{
		"mode":                 string(ModeSummary),
		"total_lines":          len(entries),
		"first_timestamp":      nil,
		"last_timestamp":       nil,
		"level_breakdown":      levelCounts,
		"top_patterns":         topPatterns,
		"time_distribution_5m": timeBuckets,
	}
	if !first.IsZero() {
		payload["first_timestamp"] = first.Format(time.RFC3339Nano)
	}
	if !last.IsZero() {
		payload["last_timestamp"] = last.Format(time.RFC3339Nano)
	}

	return payload
}

// DetectLevel finds the first conventional level keyword contained in a log
// line. Matching is by substring, so "information" counts as info.
func DetectLevel(line string) (string, bool) {
	lowered := strings.ToLower(line)
	for _, level := range []string{"error", "warn", "info", "debug", "trace"} {
		if strings.Contains(lowered, level) {
			return level, true
		}
	}

	return "", false
}

// NormalizePattern collapses each run of digits to "#" and squeezes
// whitespace so that lines differing only in ids or counts group together.
func NormalizePattern(line string) string {
	var normalized strings.Builder
	normalized.Grow(len(line))

	previousWasDigit := false
	for _, r := range line {
		if r >= '0' && r <= '9' {
			if !previousWasDigit {
				normalized.WriteByte('#')
			}
			previousWasDigit = true
			continue
		}
		previousWasDigit = false
		normalized.WriteRune(r)
	}

	return strings.Join(strings.Fields(normalized.String()), " ")
}

func bucket5m(timestamp time.Time) string {
	seconds := timestamp.Unix()
	floored := seconds - mod(seconds, 300)
	return time.Unix(floored, 0).UTC().Format(time.RFC3339)
}

// mod is a non-negative modulus for pre-epoch timestamps.
func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

func nanosToRFC3339(nanosText string) (string, bool) {
	nanos, err := strconv.ParseInt(nanosText, 10, 64)
	if err != nil {
		return "", false
	}

	return time.Unix(0, nanos).UTC().Format(time.RFC3339Nano), true
}
