// Package ratelimit applies a token bucket per (tool, identity, tenant) key
// so one noisy caller cannot starve the backend for everyone else.
package ratelimit

import (
	"flag"
	"math"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

const defaultTenantKey = "default_tenant"

// Config controls per-caller rate limiting.
type Config struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.BoolVar(&cfg.Enabled, prefix+".enabled", true, "Rate limit tool calls per tool, identity and tenant.")
	f.Float64Var(&cfg.RPS, prefix+".rps", 10.0, "Sustained tool calls per second allowed per key.")
	f.IntVar(&cfg.Burst, prefix+".burst", 30, "Burst of tool calls allowed per key.")
}

func (cfg *Config) Validate() error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.RPS <= 0 {
		return errors.New("rate_limit.rps must be > 0 when rate limiting is enabled")
	}
	if cfg.Burst <= 0 {
		return errors.New("rate_limit.burst must be > 0 when rate limiting is enabled")
	}
	return nil
}

// Limiter holds one token bucket per key. Buckets are created on first use
// and live for the lifetime of the process.
type Limiter struct {
	limit rate.Limit
	burst int

	mtx     sync.Mutex
	buckets map[string]*rate.Limiter
}

// New returns a limiter, or nil when rate limiting is disabled or the
// config would never admit a request. A nil limiter admits everything.
func New(cfg Config) *Limiter {
	if !cfg.Enabled || cfg.RPS <= 0 || cfg.Burst <= 0 {
		return nil
	}

	return &Limiter{
		limit:   rate.Limit(math.Ceil(cfg.RPS)),
		burst:   cfg.Burst,
		buckets: make(map[string]*rate.Limiter),
	}
}

// Check consumes one token for the caller's key and errors when the bucket
// is empty.
func (l *Limiter) Check(tool, identity, tenantID string) error {
	if l == nil {
		return nil
	}

	if tenantID == "" {
		tenantID = defaultTenantKey
	}
	key := tool + "|" + identity + "|" + tenantID

	l.mtx.Lock()
	bucket, ok := l.buckets[key]
	if !ok {
		bucket = rate.NewLimiter(l.limit, l.burst)
		l.buckets[key] = bucket
	}
	l.mtx.Unlock()

	if !bucket.Allow() {
		return errors.Errorf("rate limit exceeded for tool=%s, identity=%s: try again later", tool, identity)
	}

	return nil
}
