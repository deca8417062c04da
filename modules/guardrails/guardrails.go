// Package guardrails pre-checks the estimated cost of a query against
// configured byte and stream ceilings before the query is allowed to run.
package guardrails

import (
	"flag"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

// Decision is the outcome of a guardrail evaluation.
type Decision int

const (
	Allow Decision = iota
	RejectBytes
	RejectStreams
)

// Config holds the raw guardrail settings as configured. MaxBytesScanned is
// a human-readable size such as "500MB" or "2GiB"; "0" disables the byte
// ceiling.
type Config struct {
	MaxBytesScanned             string        `yaml:"max_bytes_scanned"`
	MaxStreams                  uint64        `yaml:"max_streams"`
	SkipStatsIfStreamsBelow     uint64        `yaml:"skip_stats_if_streams_below"`
	SkipStatsIfRangeShorterThan time.Duration `yaml:"skip_stats_if_range_shorter_than"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.MaxBytesScanned, prefix+".max-bytes-scanned", "500MB", "Reject queries estimated to scan more than this. 0 disables the ceiling.")
	f.Uint64Var(&cfg.MaxStreams, prefix+".max-streams", 5000, "Reject queries estimated to touch more streams than this. 0 disables the ceiling.")
	f.Uint64Var(&cfg.SkipStatsIfStreamsBelow, prefix+".skip-stats-if-streams-below", 50, "Skip the byte check when the stream estimate is below this.")
	f.DurationVar(&cfg.SkipStatsIfRangeShorterThan, prefix+".skip-stats-if-range-shorter-than", 15*time.Minute, "Skip the pre-check entirely for ranges shorter than this.")
}

func (cfg *Config) Validate() error {
	_, err := ParseByteSize(cfg.MaxBytesScanned)
	return errors.Wrapf(err, "invalid guardrails.max_bytes_scanned: %s", cfg.MaxBytesScanned)
}

// Settings are the parsed guardrail limits applied at dispatch time.
type Settings struct {
	MaxBytesScanned             uint64
	MaxStreams                  uint64
	SkipStatsIfStreamsBelow     uint64
	SkipStatsIfRangeShorterThan time.Duration
}

func (cfg Config) Settings() (Settings, error) {
	maxBytes, err := ParseByteSize(cfg.MaxBytesScanned)
	if err != nil {
		return Settings{}, errors.Wrapf(err, "invalid guardrails.max_bytes_scanned: %s", cfg.MaxBytesScanned)
	}

	return Settings{
		MaxBytesScanned:             maxBytes,
		MaxStreams:                  cfg.MaxStreams,
		SkipStatsIfStreamsBelow:     cfg.SkipStatsIfStreamsBelow,
		SkipStatsIfRangeShorterThan: cfg.SkipStatsIfRangeShorterThan,
	}, nil
}

// Evaluate compares the estimates against the ceilings. A ceiling of zero is
// disabled. Bytes are checked before streams.
func Evaluate(estimatedBytes, estimatedStreams uint64, maxBytes, maxStreams uint64) Decision {
	if maxBytes > 0 && estimatedBytes > maxBytes {
		return RejectBytes
	}
	if maxStreams > 0 && estimatedStreams > maxStreams {
		return RejectStreams
	}
	return Allow
}

// ParseByteSize parses sizes like "500MB", "2GiB" or "1024". Decimal units
// are powers of 1000 and binary units powers of 1024.
func ParseByteSize(input string) (uint64, error) {
	if input == "" {
		return 0, errors.New("size must not be empty")
	}

	value, err := humanize.ParseBytes(input)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid byte size: %s", input)
	}

	return value, nil
}
