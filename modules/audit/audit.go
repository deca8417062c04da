// Package audit keeps an in-memory ring of recent tool calls for the
// /debug/recent-actions endpoint. Query and error text are dropped unless
// storage for them is explicitly enabled, so the default ring never holds
// anything sensitive.
package audit

import (
	"flag"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Outcome classifies how a tool call ended.
type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeError           Outcome = "error"
	OutcomeRateLimited     Outcome = "rate_limited"
	OutcomeGuardrailReject Outcome = "guardrail_reject"
	OutcomeInvalidTool     Outcome = "invalid_tool"
)

// Config controls the recent-actions ring.
type Config struct {
	Enabled        bool          `yaml:"enabled"`
	MaxEntries     int           `yaml:"max_entries"`
	TTL            time.Duration `yaml:"ttl"`
	StoreQueryText bool          `yaml:"store_query_text"`
	StoreErrorText bool          `yaml:"store_error_text"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.BoolVar(&cfg.Enabled, prefix+".enabled", false, "Record recent tool calls for the debug endpoint.")
	f.IntVar(&cfg.MaxEntries, prefix+".max-entries", 500, "Maximum recent actions retained.")
	f.DurationVar(&cfg.TTL, prefix+".ttl", 30*time.Minute, "How long recent actions are retained.")
	f.BoolVar(&cfg.StoreQueryText, prefix+".store-query-text", false, "Keep raw query text in recent actions.")
	f.BoolVar(&cfg.StoreErrorText, prefix+".store-error-text", false, "Keep raw error text in recent actions.")
}

func (cfg *Config) Validate() error {
	if cfg.Enabled && cfg.MaxEntries == 0 {
		return errors.New("recent_actions.max_entries must be greater than zero")
	}
	return nil
}

// Action is one recorded tool call.
type Action struct {
	Timestamp     time.Time `json:"timestamp"`
	RequestID     string    `json:"request_id,omitempty"`
	Tool          string    `json:"tool"`
	Outcome       Outcome   `json:"outcome"`
	DurationMs    int64     `json:"duration_ms"`
	IdentityHash  string    `json:"identity_hash"`
	TenantID      string    `json:"tenant_id,omitempty"`
	Query         string    `json:"query,omitempty"`
	QueryRedacted bool      `json:"query_redacted"`
	ErrorClass    string    `json:"error_class,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// Input carries the unredacted facts of a call into Record.
type Input struct {
	RequestID    string
	Tool         string
	Outcome      Outcome
	DurationMs   int64
	IdentityHash string
	TenantID     string
	Query        string
	ErrorClass   string
	Error        string
}

// Store is a bounded ring of recent actions. A nil store drops everything.
type Store struct {
	maxEntries     int
	ttl            time.Duration
	storeQueryText bool
	storeErrorText bool

	mtx     sync.Mutex
	entries []Action
	now     func() time.Time
}

// New returns a store, or nil when recording is disabled.
func New(cfg Config) *Store {
	if !cfg.Enabled {
		return nil
	}

	maxEntries := cfg.MaxEntries
	if maxEntries < 1 {
		maxEntries = 1
	}

	return &Store{
		maxEntries:     maxEntries,
		ttl:            cfg.TTL,
		storeQueryText: cfg.StoreQueryText,
		storeErrorText: cfg.StoreErrorText,
		now:            time.Now,
	}
}

// Record appends one action, evicting expired entries and the oldest ones
// beyond capacity.
func (s *Store) Record(input Input) {
	if s == nil {
		return
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	now := s.now()
	s.pruneExpired(now)

	for len(s.entries) >= s.maxEntries {
		s.entries = s.entries[1:]
	}

	queryRedacted := input.Query != "" && !s.storeQueryText
	query := input.Query
	if !s.storeQueryText {
		query = ""
	}
	errText := input.Error
	if !s.storeErrorText {
		errText = ""
	}

	s.entries = append(s.entries, Action{
		Timestamp:     now,
		RequestID:     input.RequestID,
		Tool:          input.Tool,
		Outcome:       input.Outcome,
		DurationMs:    input.DurationMs,
		IdentityHash:  input.IdentityHash,
		TenantID:      input.TenantID,
		Query:         query,
		QueryRedacted: queryRedacted,
		ErrorClass:    input.ErrorClass,
		Error:         errText,
	})
}

// List returns up to limit actions, newest first. The limit is clamped to
// [1, 1000].
func (s *Store) List(limit int) []Action {
	if s == nil {
		return nil
	}

	if limit < 1 {
		limit = 1
	}
	if limit > 1000 {
		limit = 1000
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	s.pruneExpired(s.now())

	count := len(s.entries)
	if count > limit {
		count = limit
	}

	actions := make([]Action, 0, count)
	for i := len(s.entries) - 1; i >= len(s.entries)-count; i-- {
		actions = append(actions, s.entries[i])
	}

	return actions
}

func (s *Store) pruneExpired(now time.Time) {
	for len(s.entries) > 0 && now.Sub(s.entries[0].Timestamp) > s.ttl {
		s.entries = s.entries[1:]
	}
}
