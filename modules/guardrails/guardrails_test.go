package guardrails

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	assert.Equal(t, RejectBytes, Evaluate(100, 10, 50, 100))
	assert.Equal(t, RejectStreams, Evaluate(100, 101, 200, 100))
	assert.Equal(t, Allow, Evaluate(100, 10, 200, 100))

	// Both limits exceeded: bytes are checked first.
	assert.Equal(t, RejectBytes, Evaluate(300, 300, 200, 100))

	// Zero limits are disabled.
	assert.Equal(t, Allow, Evaluate(1<<40, 1<<20, 0, 0))

	// Exactly at the limit is allowed.
	assert.Equal(t, Allow, Evaluate(200, 100, 200, 100))
}

func TestParseByteSize(t *testing.T) {
	cases := []struct {
		in   string
		want uint64
	}{
		{"500MB", 500_000_000},
		{"2GiB", 2_147_483_648},
		{"1GiB", 1_073_741_824},
		{"0", 0},
		{"1024", 1024},
		{"1KB", 1000},
		{"1KiB", 1024},
	}
	for _, tc := range cases {
		got, err := ParseByteSize(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	_, err := ParseByteSize("")
	require.ErrorContains(t, err, "size must not be empty")

	_, err = ParseByteSize("12XB")
	require.Error(t, err)
}

func TestSettings(t *testing.T) {
	cfg := Config{
		MaxBytesScanned:             "500MB",
		MaxStreams:                  5000,
		SkipStatsIfStreamsBelow:     50,
		SkipStatsIfRangeShorterThan: 15 * time.Minute,
	}
	require.NoError(t, cfg.Validate())

	settings, err := cfg.Settings()
	require.NoError(t, err)
	assert.Equal(t, uint64(500_000_000), settings.MaxBytesScanned)
	assert.Equal(t, uint64(5000), settings.MaxStreams)

	cfg.MaxBytesScanned = "lots"
	require.Error(t, cfg.Validate())
	_, err = cfg.Settings()
	require.ErrorContains(t, err, "invalid guardrails.max_bytes_scanned")
}
