package lokiclient

import (
	"flag"
	"time"

	"github.com/pkg/errors"
)

const (
	AuthTypeNone   = "none"
	AuthTypeBasic  = "basic"
	AuthTypeBearer = "bearer"
)

// Config holds the connection settings for the Loki backend.
type Config struct {
	URL      string        `yaml:"url"`
	TenantID string        `yaml:"tenant_id"`
	AuthType string        `yaml:"auth_type"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Token    string        `yaml:"token"`
	Timeout  time.Duration `yaml:"timeout"`
	CACert   string        `yaml:"ca_cert"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.URL, prefix+".url", "http://127.0.0.1:3100", "Base URL of the Loki instance to query.")
	f.StringVar(&cfg.TenantID, prefix+".tenant-id", "", "Tenant ID sent as X-Scope-OrgID. Empty disables the header.")
	f.StringVar(&cfg.AuthType, prefix+".auth-type", AuthTypeNone, "Authentication scheme: none, basic or bearer.")
	f.StringVar(&cfg.Username, prefix+".username", "", "Username for basic auth.")
	f.StringVar(&cfg.Password, prefix+".password", "", "Password for basic auth.")
	f.StringVar(&cfg.Token, prefix+".token", "", "Token for bearer auth.")
	f.DurationVar(&cfg.Timeout, prefix+".timeout", 30*time.Second, "Timeout applied to every Loki request.")
	f.StringVar(&cfg.CACert, prefix+".ca-cert", "", "Path to a PEM CA certificate appended to the trust store.")
}

func (cfg *Config) Validate() error {
	if cfg.URL == "" {
		return errors.New("loki.url must not be empty")
	}
	if cfg.Timeout <= 0 {
		return errors.New("loki.timeout must be positive")
	}

	switch cfg.AuthType {
	case AuthTypeNone:
	case AuthTypeBasic:
		if cfg.Username == "" {
			return errors.New("loki.username is required when loki.auth_type=basic")
		}
		if cfg.Password == "" {
			return errors.New("loki.password is required when loki.auth_type=basic")
		}
	case AuthTypeBearer:
		if cfg.Token == "" {
			return errors.New("loki.token is required when loki.auth_type=bearer")
		}
	default:
		return errors.Errorf("unsupported loki auth type: %s", cfg.AuthType)
	}

	return nil
}
