// Package querycache caches tool results keyed by canonical fingerprint so
// repeated identical queries inside the TTL never reach Loki.
package querycache

import (
	"flag"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pkg/errors"
)

// Config controls result caching for the cacheable tools.
type Config struct {
	Enabled                bool          `yaml:"enabled"`
	TTL                    time.Duration `yaml:"ttl"`
	SkipIfRangeShorterThan time.Duration `yaml:"skip_if_range_shorter_than"`
	MaxEntries             int           `yaml:"max_entries"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.BoolVar(&cfg.Enabled, prefix+".enabled", true, "Cache results of read-only tool calls.")
	f.DurationVar(&cfg.TTL, prefix+".ttl", 60*time.Second, "How long cached tool results stay valid.")
	f.DurationVar(&cfg.SkipIfRangeShorterThan, prefix+".skip-if-range-shorter-than", 60*time.Second, "Queries over a window shorter than this bypass the cache.")
	f.IntVar(&cfg.MaxEntries, prefix+".max-entries", 1000, "Maximum number of cached tool results.")
}

func (cfg *Config) Validate() error {
	if cfg.MaxEntries <= 0 {
		return errors.New("cache.max_entries must be greater than zero")
	}
	return nil
}

// Cache is a TTL-bounded LRU of shaped tool results.
type Cache struct {
	entries                *lru.LRU[string, any]
	skipIfRangeShorterThan time.Duration
}

// New returns a cache, or nil when caching is disabled. Callers treat a nil
// cache as a no-op.
func New(cfg Config) *Cache {
	if !cfg.Enabled {
		return nil
	}

	return &Cache{
		entries:                lru.NewLRU[string, any](cfg.MaxEntries, nil, cfg.TTL),
		skipIfRangeShorterThan: cfg.SkipIfRangeShorterThan,
	}
}

// Admits reports whether a query over the given window is worth caching.
// Short windows churn too fast for a TTL cache to pay off.
func (c *Cache) Admits(rangeDuration time.Duration) bool {
	if c == nil {
		return false
	}
	return rangeDuration >= c.skipIfRangeShorterThan
}

func (c *Cache) Get(key string) (any, bool) {
	if c == nil {
		return nil, false
	}
	return c.entries.Get(key)
}

func (c *Cache) Insert(key string, value any) {
	if c == nil {
		return
	}
	c.entries.Add(key, value)
}
