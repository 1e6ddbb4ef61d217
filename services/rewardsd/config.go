package rewardsd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for rewardsd.
type Config struct {
	ListenAddress string               `yaml:"listen"`
	CatalogPath   string               `yaml:"catalog"`
	Ledger        LedgerConfig         `yaml:"ledger"`
	Events        EventsConfig         `yaml:"events"`
	Auth          AuthConfig           `yaml:"auth"`
	RateLimits    map[string]RateLimit `yaml:"rate_limits"`
}

// LedgerConfig configures the external settlement ledger client.
type LedgerConfig struct {
	Endpoint      string   `yaml:"endpoint"`
	Treasury      string   `yaml:"treasury"`
	AuthToken     string   `yaml:"auth_token"`
	AuthTokenFile string   `yaml:"auth_token_file"`
	AuthTokenEnv  string   `yaml:"auth_token_env"`
	Timeout       Duration `yaml:"timeout"`
}

// EventsConfig tunes the audit event queue and delivery worker.
type EventsConfig struct {
	Topic           string   `yaml:"topic"`
	QueueCapacity   int      `yaml:"queue_capacity"`
	HistoryCapacity int      `yaml:"history_capacity"`
	TTL             Duration `yaml:"ttl"`
	DeliveryTimeout Duration `yaml:"delivery_timeout"`
}

// AuthConfig captures bearer authentication for the API and admin routes.
type AuthConfig struct {
	Enabled        bool     `yaml:"enabled"`
	HMACSecret     string   `yaml:"hmac_secret"`
	HMACSecretFile string   `yaml:"hmac_secret_file"`
	HMACSecretEnv  string   `yaml:"hmac_secret_env"`
	Issuer         string   `yaml:"issuer"`
	Audience       string   `yaml:"audience"`
	AdminScope     string   `yaml:"admin_scope"`
	ClockSkew      Duration `yaml:"clock_skew"`
}

// LoadConfig reads configuration from the supplied path.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.Ledger.normalise(); err != nil {
		return cfg, fmt.Errorf("ledger credentials: %w", err)
	}
	if err := cfg.Auth.normalise(); err != nil {
		return cfg, fmt.Errorf("auth: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7084"
	}
	if cfg.Ledger.Timeout.Duration == 0 {
		cfg.Ledger.Timeout.Duration = 10 * time.Second
	}
	if cfg.Events.Topic == "" {
		cfg.Events.Topic = "viewrewards.audit"
	}
	if cfg.Events.QueueCapacity <= 0 {
		cfg.Events.QueueCapacity = 1024
	}
	if cfg.Events.HistoryCapacity <= 0 {
		cfg.Events.HistoryCapacity = 256
	}
	if cfg.Events.TTL.Duration == 0 {
		cfg.Events.TTL.Duration = 15 * time.Minute
	}
	if cfg.Events.DeliveryTimeout.Duration == 0 {
		cfg.Events.DeliveryTimeout.Duration = 10 * time.Second
	}
	if cfg.Auth.AdminScope == "" {
		cfg.Auth.AdminScope = "rewards.admin"
	}
	if cfg.Auth.ClockSkew.Duration == 0 {
		cfg.Auth.ClockSkew.Duration = 2 * time.Minute
	}
	if cfg.RateLimits == nil {
		cfg.RateLimits = map[string]RateLimit{}
	}
}

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.Ledger.Endpoint) == "" {
		return fmt.Errorf("ledger endpoint must be configured")
	}
	if strings.TrimSpace(cfg.Ledger.Treasury) == "" {
		return fmt.Errorf("ledger treasury account must be configured")
	}
	if cfg.Auth.Enabled && cfg.Auth.HMACSecret == "" {
		return fmt.Errorf("auth enabled without hmac_secret")
	}
	return nil
}

func (l *LedgerConfig) normalise() error {
	if l == nil {
		return fmt.Errorf("ledger configuration missing")
	}
	l.AuthToken = strings.TrimSpace(l.AuthToken)
	l.AuthTokenEnv = strings.TrimSpace(l.AuthTokenEnv)
	l.AuthTokenFile = strings.TrimSpace(l.AuthTokenFile)
	if l.AuthToken != "" {
		return nil
	}
	switch {
	case l.AuthTokenEnv != "":
		value := strings.TrimSpace(os.Getenv(l.AuthTokenEnv))
		if value == "" {
			return fmt.Errorf("auth_token_env %s is empty", l.AuthTokenEnv)
		}
		l.AuthToken = value
	case l.AuthTokenFile != "":
		contents, err := os.ReadFile(l.AuthTokenFile)
		if err != nil {
			return fmt.Errorf("read auth_token_file: %w", err)
		}
		l.AuthToken = strings.TrimSpace(string(contents))
	}
	return nil
}

func (a *AuthConfig) normalise() error {
	if a == nil {
		return fmt.Errorf("auth configuration missing")
	}
	secret := strings.TrimSpace(a.HMACSecret)
	switch {
	case secret != "":
	case strings.TrimSpace(a.HMACSecretEnv) != "":
		secret = strings.TrimSpace(os.Getenv(strings.TrimSpace(a.HMACSecretEnv)))
		if secret == "" && a.Enabled {
			return fmt.Errorf("hmac_secret_env %s is empty", a.HMACSecretEnv)
		}
	case strings.TrimSpace(a.HMACSecretFile) != "":
		contents, err := os.ReadFile(strings.TrimSpace(a.HMACSecretFile))
		if err != nil {
			return fmt.Errorf("read hmac_secret_file: %w", err)
		}
		secret = strings.TrimSpace(string(contents))
	}
	a.HMACSecret = secret
	return nil
}
