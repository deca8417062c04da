package response

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func streamPayload(streams ...map[string]any) map[string]any {
	result := make([]any, 0, len(streams))
	for _, s := range streams {
		result = append(result, any(s))
	}
	return map[string]any{
		"resultType": "streams",
		"result":     result,
	}
}

func makeStream(labels map[string]any, lines ...[2]string) map[string]any {
	values := make([]any, 0, len(lines))
	for _, pair := range lines {
		values = append(values, []any{any(pair[0]), any(pair[1])})
	}
	return map[string]any{
		"stream": labels,
		"values": values,
	}
}

func nanos(t time.Time) string {
	return fmt.Sprintf("%d", t.UnixNano())
}

func TestParseMode(t *testing.T) {
	mode, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeSmart, mode)

	for _, valid := range []string{"raw", "truncated", "summary", "smart"} {
		mode, err := ParseMode(valid)
		require.NoError(t, err)
		assert.Equal(t, Mode(valid), mode)
	}

	_, err = ParseMode("verbose")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported response_mode")
}

func TestFlatten(t *testing.T) {
	base := time.Date(2026, 2, 18, 12, 0, 0, 0, time.UTC)
	payload := streamPayload(
		makeStream(map[string]any{"app": "api", "env": "prod"},
			[2]string{nanos(base), "hello"},
			[2]string{nanos(base.Add(time.Second)), "world"},
		),
	)

	entries := Flatten(payload)
	require.Len(t, entries, 2)
	assert.Equal(t, "2026-02-18T12:00:00Z", entries[0].Timestamp)
	assert.Equal(t, "hello", entries[0].Line)
	assert.Equal(t, map[string]string{"app": "api", "env": "prod"}, entries[0].Stream)
	assert.Equal(t, "world", entries[1].Line)
}

func TestFlattenSkipsMalformedValues(t *testing.T) {
	payload := map[string]any{
		"result": []any{
			map[string]any{
				"stream": map[string]any{"app": "api"},
				"values": []any{
					[]any{"not-a-pair"},
					[]any{float64(1), "numeric timestamp"},
					[]any{"1700000000000000000", "good line"},
				},
			},
			"not a stream object",
		},
	}

	entries := Flatten(payload)
	require.Len(t, entries, 1)
	assert.Equal(t, "good line", entries[0].Line)
}

func TestCountLines(t *testing.T) {
	base := time.Date(2026, 2, 18, 12, 0, 0, 0, time.UTC)
	payload := streamPayload(
		makeStream(map[string]any{"app": "a"}, [2]string{nanos(base), "one"}),
		makeStream(map[string]any{"app": "b"}, [2]string{nanos(base), "two"}, [2]string{nanos(base), "three"}),
	)

	assert.Equal(t, 3, CountLines(payload))
	assert.Equal(t, 0, CountLines(nil))
	assert.Equal(t, 0, CountLines(map[string]any{"result": "bogus"}))
}

func TestSmartResolvesRaw(t *testing.T) {
	base := time.Date(2026, 2, 18, 12, 0, 0, 0, time.UTC)
	lines := make([][2]string, 0, smartRawMax)
	for i := 0; i < smartRawMax; i++ {
		lines = append(lines, [2]string{nanos(base.Add(time.Duration(i) * time.Second)), fmt.Sprintf("line %d", i)})
	}
	payload := streamPayload(makeStream(map[string]any{"app": "api"}, lines...))

	applied, shaped := Format(ModeSmart, payload)
	assert.Equal(t, ModeRaw, applied)
	assert.Equal(t, "raw", shaped["mode"])
	assert.Equal(t, smartRawMax, shaped["total_lines"])
	assert.Equal(t, payload, shaped["result"])
}

func TestSmartResolvesTruncatedWithPatternSummary(t *testing.T) {
	base := time.Date(2026, 2, 18, 12, 0, 0, 0, time.UTC)
	lines := make([][2]string, 0, 120)
	for i := 0; i < 120; i++ {
		lines = append(lines, [2]string{nanos(base.Add(time.Duration(i) * time.Second)), fmt.Sprintf("request %d handled", i)})
	}
	payload := streamPayload(makeStream(map[string]any{"app": "api"}, lines...))

	applied, shaped := Format(ModeSmart, payload)
	assert.Equal(t, ModeTruncated, applied)
	assert.Equal(t, 120, shaped["total_lines"])
	assert.Equal(t, smartEdgeLines*2, shaped["shown_lines"])
	assert.Equal(t, 120-smartEdgeLines*2, shaped["omitted_lines"])

	shown := shaped["lines"].([]Entry)
	require.Len(t, shown, smartEdgeLines*2)
	assert.Equal(t, "request 0 handled", shown[0].Line)
	assert.Equal(t, "request 119 handled", shown[len(shown)-1].Line)

	patterns := shaped["pattern_summary"].([]map[string]any)
	require.Len(t, patterns, 1)
	assert.Equal(t, "request # handled", patterns[0]["pattern"])
	assert.Equal(t, 120, patterns[0]["count"])
}

func TestExplicitTruncatedUsesNarrowerEdges(t *testing.T) {
	base := time.Date(2026, 2, 18, 12, 0, 0, 0, time.UTC)
	lines := make([][2]string, 0, 40)
	for i := 0; i < 40; i++ {
		lines = append(lines, [2]string{nanos(base.Add(time.Duration(i) * time.Second)), fmt.Sprintf("line %d", i)})
	}
	payload := streamPayload(makeStream(map[string]any{"app": "api"}, lines...))

	applied, shaped := Format(ModeTruncated, payload)
	assert.Equal(t, ModeTruncated, applied)
	assert.Equal(t, defaultEdgeLines*2, shaped["shown_lines"])
	assert.Equal(t, 40-defaultEdgeLines*2, shaped["omitted_lines"])
	assert.NotContains(t, shaped, "pattern_summary")
}

func TestTruncatedKeepsEverythingWhenSmall(t *testing.T) {
	base := time.Date(2026, 2, 18, 12, 0, 0, 0, time.UTC)
	payload := streamPayload(makeStream(map[string]any{"app": "api"},
		[2]string{nanos(base), "only line"},
	))

	applied, shaped := Format(ModeTruncated, payload)
	assert.Equal(t, ModeTruncated, applied)
	assert.Equal(t, 1, shaped["shown_lines"])
	assert.Equal(t, 0, shaped["omitted_lines"])
}

func TestSummary(t *testing.T) {
	base := time.Date(2026, 2, 18, 12, 0, 0, 0, time.UTC)
	payload := streamPayload(makeStream(map[string]any{"app": "api"},
		[2]string{nanos(base), "ERROR: connection refused to 10.0.0.5"},
		[2]string{nanos(base.Add(2 * time.Minute)), "ERROR: connection refused to 10.0.0.9"},
		[2]string{nanos(base.Add(6 * time.Minute)), "info: request 42 ok"},
		[2]string{nanos(base.Add(7 * time.Minute)), "no keyword here"},
	))

	applied, shaped := Format(ModeSummary, payload)
	assert.Equal(t, ModeSummary, applied)
	assert.Equal(t, 4, shaped["total_lines"])
	assert.Equal(t, "2026-02-18T12:00:00Z", shaped["first_timestamp"])
	assert.Equal(t, "2026-02-18T12:07:00Z", shaped["last_timestamp"])

	levels := shaped["level_breakdown"].(map[string]int)
	assert.Equal(t, map[string]int{"error": 2, "info": 1}, levels)

	patterns := shaped["top_patterns"].([]map[string]any)
	require.NotEmpty(t, patterns)
	assert.Equal(t, "ERROR: connection refused to #.#.#.#", patterns[0]["pattern"])
	assert.Equal(t, 2, patterns[0]["count"])
	assert.NotContains(t, patterns[0], "sample")

	buckets := shaped["time_distribution_5m"].(map[string]int)
	assert.Equal(t, 2, buckets["2026-02-18T12:00:00Z"])
	assert.Equal(t, 2, buckets["2026-02-18T12:05:00Z"])
}

func TestSmartSummaryIncludesSamples(t *testing.T) {
	base := time.Date(2026, 2, 18, 12, 0, 0, 0, time.UTC)
	lines := make([][2]string, 0, smartTruncatedMax+1)
	for i := 0; i <= smartTruncatedMax; i++ {
		lines = append(lines, [2]string{nanos(base.Add(time.Duration(i) * time.Second)), fmt.Sprintf("worker %d finished", i)})
	}
	payload := streamPayload(makeStream(map[string]any{"app": "api"}, lines...))

	applied, shaped := Format(ModeSmart, payload)
	assert.Equal(t, ModeSummary, applied)

	patterns := shaped["top_patterns"].([]map[string]any)
	require.Len(t, patterns, 1)
	sample := patterns[0]["sample"].(map[string]any)
	assert.Equal(t, "worker 0 finished", sample["line"])
	assert.Equal(t, "2026-02-18T12:00:00Z", sample["timestamp"])
}

func TestSummaryEmpty(t *testing.T) {
	applied, shaped := Format(ModeSummary, streamPayload())
	assert.Equal(t, ModeSummary, applied)
	assert.Equal(t, 0, shaped["total_lines"])
	assert.Nil(t, shaped["first_timestamp"])
	assert.Nil(t, shaped["last_timestamp"])
}

func TestTopPatternsRankingAndTies(t *testing.T) {
	base := time.Date(2026, 2, 18, 12, 0, 0, 0, time.UTC)
	lines := [][2]string{}
	add := func(line string, times int) {
		for i := 0; i < times; i++ {
			lines = append(lines, [2]string{nanos(base), line})
		}
	}
	add("common event", 5)
	add("alpha tie", 2)
	add("beta tie", 2)
	for i := 0; i < 12; i++ {
		add(fmt.Sprintf("unique-%c", 'a'+i), 1)
	}
	payload := streamPayload(makeStream(map[string]any{"app": "api"}, lines...))

	_, shaped := Format(ModeSummary, payload)
	patterns := shaped["top_patterns"].([]map[string]any)
	require.Len(t, patterns, topPatternCount)
	assert.Equal(t, "common event", patterns[0]["pattern"])
	assert.Equal(t, "alpha tie", patterns[1]["pattern"])
	assert.Equal(t, "beta tie", patterns[2]["pattern"])
}

func TestDetectLevel(t *testing.T) {
	cases := []struct {
		line  string
		level string
		found bool
	}{
		{"ERROR something broke", "error", true},
		{"a WARNING appeared", "warn", true},
		{"information available", "info", true},
		{"debugging session", "debug", true},
		{"stack trace follows", "trace", true},
		{"errors and warnings", "error", true},
		{"nothing to see", "", false},
	}

	for _, tc := range cases {
		level, found := DetectLevel(tc.line)
		assert.Equal(t, tc.found, found, tc.line)
		assert.Equal(t, tc.level, level, tc.line)
	}
}

func TestNormalizePattern(t *testing.T) {
	cases := []struct {
		in  string
		out string
	}{
		{"request 42 took 135ms", "request # took #ms"},
		{"ip 10.0.0.1 refused", "ip #.#.#.# refused"},
		{"  spaced\t\tout   line ", "spaced out line"},
		{"no digits", "no digits"},
		{"123456", "#"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.out, NormalizePattern(tc.in), tc.in)
	}
}
