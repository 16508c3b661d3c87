package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values exported for documentation and validation.
const (
	DefaultURL         = "http://localhost:8191"
	DefaultMaxTimeout  = 60 * time.Second
	DefaultSessionTTL  = 10 * time.Minute
	DefaultHTTPTimeout = 3 * time.Minute
)

// ProxyConfig configures the upstream proxy forwarded to the solver.
type ProxyConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Config is the complete solverr CLI configuration.
type Config struct {
	// URL of the solver service.
	URL string `yaml:"url"`

	// MaxTimeout is the default per-command timeout sent to the server.
	MaxTimeout time.Duration `yaml:"max_timeout"`

	// HTTPTimeout bounds the whole HTTP exchange.
	HTTPTimeout time.Duration `yaml:"http_timeout"`

	// SessionTTL is the idle timeout applied to sessions the CLI opens.
	// Zero disables client-side auto-expiry.
	SessionTTL time.Duration `yaml:"session_ttl"`

	Proxy ProxyConfig `yaml:"proxy"`

	// NetworkLogs captures every solver exchange as JSONL.
	NetworkLogs   bool   `yaml:"network_logs"`
	NetworkLogDir string `yaml:"network_log_dir"`
}

// DefaultConfig returns the configuration used when no file or
// environment overrides are present.
func DefaultConfig() *Config {
	return &Config{
		URL:         DefaultURL,
		MaxTimeout:  DefaultMaxTimeout,
		HTTPTimeout: DefaultHTTPTimeout,
		SessionTTL:  DefaultSessionTTL,
	}
}

// Load reads ~/.solverr/config.yaml when present, applies SOLVERR_*
// environment overrides and validates the result.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	if home != "" {
		userConfigPath := filepath.Join(home, ".solverr", "config.yaml")
		if err := loadFile(cfg, userConfigPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading user config: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// LoadFromPath reads configuration from an explicit file path, then
// applies environment overrides and validates.
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := loadFile(cfg, path); err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SOLVERR_URL"); v != "" {
		cfg.URL = v
	}
	if v := os.Getenv("SOLVERR_MAX_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.MaxTimeout = d
		}
	}
	if v := os.Getenv("SOLVERR_SESSION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SessionTTL = d
		}
	}
	if v := os.Getenv("SOLVERR_PROXY_URL"); v != "" {
		cfg.Proxy.URL = v
	}
	if v := os.Getenv("SOLVERR_PROXY_USERNAME"); v != "" {
		cfg.Proxy.Username = v
	}
	if v := os.Getenv("SOLVERR_PROXY_PASSWORD"); v != "" {
		cfg.Proxy.Password = v
	}
	if v := os.Getenv("SOLVERR_NETWORK_LOGS"); v == "1" || v == "true" {
		cfg.NetworkLogs = true
	}
	if v := os.Getenv("SOLVERR_NETWORK_LOG_DIR"); v != "" {
		cfg.NetworkLogDir = v
	}
}

// Validate checks the configuration for values the client would reject.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("url is required")
	}
	if _, err := url.Parse(c.URL); err != nil {
		return fmt.Errorf("invalid url %q: %w", c.URL, err)
	}
	if c.MaxTimeout < 0 {
		return fmt.Errorf("max_timeout must not be negative")
	}
	if c.HTTPTimeout < 0 {
		return fmt.Errorf("http_timeout must not be negative")
	}
	if c.SessionTTL < 0 {
		return fmt.Errorf("session_ttl must not be negative")
	}
	if c.Proxy.URL != "" {
		if _, err := url.Parse(c.Proxy.URL); err != nil {
			return fmt.Errorf("invalid proxy url %q: %w", c.Proxy.URL, err)
		}
	}
	return nil
}
