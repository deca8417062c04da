package app

import (
	"flag"
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/jpetrucciani/loki-mcp/modules/audit"
	"github.com/jpetrucciani/loki-mcp/modules/dispatcher"
	"github.com/jpetrucciani/loki-mcp/modules/guardrails"
	"github.com/jpetrucciani/loki-mcp/modules/querycache"
	"github.com/jpetrucciani/loki-mcp/modules/ratelimit"
	"github.com/jpetrucciani/loki-mcp/pkg/lokiclient"
)

// ServerConfig is the HTTP listener and identity slice of the config.
type ServerConfig struct {
	Listen         string `yaml:"listen"`
	Timezone       string `yaml:"timezone"`
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`
	IdentityHeader string `yaml:"identity_header"`
}

func (cfg *ServerConfig) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.Listen, prefix+".listen", "0.0.0.0:8080", "host:port the HTTP server binds to.")
	f.StringVar(&cfg.Timezone, prefix+".timezone", "America/New_York", "IANA timezone used to resolve relative time references.")
	f.StringVar(&cfg.LogLevel, prefix+".log-level", "info", "Log level: debug, info, warn, error.")
	f.StringVar(&cfg.LogFormat, prefix+".log-format", "logfmt", "Log format: logfmt or json.")
	f.StringVar(&cfg.IdentityHeader, prefix+".identity-header", "", "Header carrying the caller identity, e.g. x-api-key-id.")
}

func (cfg *ServerConfig) Validate() error {
	if cfg.Listen == "" {
		return errors.New("server.listen must not be empty")
	}
	if _, _, err := net.SplitHostPort(cfg.Listen); err != nil {
		return errors.Errorf("server.listen must be host:port, got %s", cfg.Listen)
	}
	if cfg.Timezone == "" {
		return errors.New("server.timezone must not be empty")
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return errors.Errorf("invalid server.timezone: %s", cfg.Timezone)
	}
	if cfg.LogLevel == "" {
		return errors.New("server.log_level must not be empty")
	}
	return nil
}

// MetricsConfig controls the metric namespace.
type MetricsConfig struct {
	Prefix string `yaml:"prefix"`
}

func (cfg *MetricsConfig) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.Prefix, prefix+".prefix", "loki_mcp", "Namespace prefix for every emitted metric.")
}

func (cfg *MetricsConfig) Validate() error {
	if cfg.Prefix == "" {
		return errors.New("metrics.prefix must not be empty")
	}
	return nil
}

// Config is the root configuration of the server.
type Config struct {
	Server        ServerConfig      `yaml:"server"`
	Loki          lokiclient.Config `yaml:"loki"`
	Cache         querycache.Config `yaml:"cache"`
	Guardrails    guardrails.Config `yaml:"guardrails"`
	RateLimit     ratelimit.Config  `yaml:"rate_limit"`
	Metrics       MetricsConfig     `yaml:"metrics"`
	RecentActions audit.Config      `yaml:"recent_actions"`

	Labels             []dispatcher.SchemaField `yaml:"labels"`
	StructuredMetadata []dispatcher.SchemaField `yaml:"structured_metadata"`
	SavedQueries       []dispatcher.SavedQuery  `yaml:"saved_queries"`
}

// RegisterFlagsAndApplyDefaults registers all flags and seeds every section
// with its defaults, so a flag-only or file-only setup both work.
func (c *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	c.Server.RegisterFlagsAndApplyDefaults(prefix+"server", f)
	c.Loki.RegisterFlagsAndApplyDefaults(prefix+"loki", f)
	c.Cache.RegisterFlagsAndApplyDefaults(prefix+"cache", f)
	c.Guardrails.RegisterFlagsAndApplyDefaults(prefix+"guardrails", f)
	c.RateLimit.RegisterFlagsAndApplyDefaults(prefix+"rate-limit", f)
	c.Metrics.RegisterFlagsAndApplyDefaults(prefix+"metrics", f)
	c.RecentActions.RegisterFlagsAndApplyDefaults(prefix+"recent-actions", f)
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.Loki.Validate(); err != nil {
		return err
	}
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	if err := c.Guardrails.Validate(); err != nil {
		return err
	}
	if err := c.RateLimit.Validate(); err != nil {
		return err
	}
	if err := c.Metrics.Validate(); err != nil {
		return err
	}
	return c.RecentActions.Validate()
}
