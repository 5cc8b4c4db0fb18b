// Package config provides the runtime defaults, validation and loading
// helpers for the portal server. Values come from defaults, an optional YAML
// file, environment variables and finally command-line flags.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// bcrypt cost bounds.
const (
	minHashCost     = 4
	maxHashCost     = 31
	defaultHashCost = 10
)

// Storage drivers understood by the server.
const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverS3       = "s3"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `yaml:"burst"`
	RefillInterval time.Duration `yaml:"refill_interval"`
}

// SessionConfig controls session lifetime and the cookie that carries it.
type SessionConfig struct {
	Secret        string        `yaml:"secret"`
	TTL           time.Duration `yaml:"ttl"`
	CookieName    string        `yaml:"cookie_name"`
	CookieSecure  bool          `yaml:"cookie_secure"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	HashCost      int           `yaml:"hash_cost"`
}

// S3Config locates the Document object in an S3-compatible bucket.
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Key       string `yaml:"key"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// StorageConfig selects and configures the Document backend.
type StorageConfig struct {
	Driver   string   `yaml:"driver"`
	Path     string   `yaml:"path"`
	DSN      string   `yaml:"dsn"`
	SeedFile string   `yaml:"seed_file"`
	S3       S3Config `yaml:"s3"`
}

// ChatbotConfig bounds the assistant.
type ChatbotConfig struct {
	QuestionLimit int `yaml:"question_limit"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Addr            string          `yaml:"addr"`
	AllowedOrigins  []string        `yaml:"allowed_origins"`
	MaxMessageSize  int64           `yaml:"max_message_size"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	Session         SessionConfig   `yaml:"session"`
	Storage         StorageConfig   `yaml:"storage"`
	Chatbot         ChatbotConfig   `yaml:"chatbot"`
	Log             LogConfig       `yaml:"log"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`

	// AllowAllOrigins is derived from a "*" entry in AllowedOrigins.
	AllowAllOrigins bool `yaml:"-"`
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	return &Config{
		Addr: ":3000",
		AllowedOrigins: []string{
			"http://localhost:3000",
		},
		MaxMessageSize: 4096,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		Session: SessionConfig{
			Secret:        "change-me-portal-session-secret",
			TTL:           time.Hour,
			CookieName:    "portal_session",
			SweepInterval: time.Minute,
			HashCost:      defaultHashCost,
		},
		Storage: StorageConfig{
			Driver: DriverFile,
			Path:   "data.json",
			S3: S3Config{
				Key:    "portal/data.json",
				Region: "us-east-1",
			},
		},
		Chatbot: ChatbotConfig{
			QuestionLimit: 5,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		ShutdownTimeout: 10 * time.Second,
	}
}

// Load builds a Config from defaults, then the YAML file at path (if any),
// then the environment. The result is sanitized but not validated, so that
// flags can still be applied on top.
func Load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := NewConfig()

	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	if lookup == nil {
		lookup = os.LookupEnv
	}
	cfg.applyEnv(lookup)
	cfg.Sanitize()
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Sanitize replaces missing or out-of-range values with defaults and
// normalizes the origin allow-list.
func (c *Config) Sanitize() {
	def := NewConfig()

	if c.Addr == "" {
		c.Addr = def.Addr
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = def.RateLimit.Burst
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if c.Session.TTL <= 0 {
		c.Session.TTL = def.Session.TTL
	}
	if c.Session.CookieName == "" {
		c.Session.CookieName = def.Session.CookieName
	}
	if c.Session.SweepInterval <= 0 {
		c.Session.SweepInterval = def.Session.SweepInterval
	}
	if c.Session.HashCost < minHashCost || c.Session.HashCost > maxHashCost {
		c.Session.HashCost = def.Session.HashCost
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = def.Storage.Driver
	}
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if c.Storage.S3.Key == "" {
		c.Storage.S3.Key = def.Storage.S3.Key
	}
	if c.Storage.S3.Region == "" {
		c.Storage.S3.Region = def.Storage.S3.Region
	}
	if c.Chatbot.QuestionLimit <= 0 {
		c.Chatbot.QuestionLimit = def.Chatbot.QuestionLimit
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}

	c.AllowedOrigins, c.AllowAllOrigins = NormalizeOrigins(c.AllowedOrigins)
}

// Validate reports settings that cannot be defaulted.
func (c *Config) Validate() error {
	var errs []error

	if c.Session.Secret == "" {
		errs = append(errs, errors.New("session secret must not be empty"))
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverFile, DriverSQLite:
		if c.Storage.Path == "" && c.Storage.DSN == "" {
			errs = append(errs, fmt.Errorf("storage driver %q needs a path", c.Storage.Driver))
		}
	case DriverPostgres:
		if c.Storage.DSN == "" {
			errs = append(errs, errors.New("storage driver \"postgres\" needs a dsn"))
		}
	case DriverS3:
		if c.Storage.S3.Bucket == "" {
			errs = append(errs, errors.New("storage driver \"s3\" needs a bucket"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}

	return errors.Join(errs...)
}

// NormalizeOrigins lower-cases scheme and host of each origin, drops invalid
// entries and reports whether "*" was present.
func NormalizeOrigins(origins []string) ([]string, bool) {
	if len(origins) == 0 {
		return nil, false
	}

	normalized := make([]string, 0, len(origins))
	allowAll := false

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}

		if trimmed == "*" {
			allowAll = true
			continue
		}

		normalizedOrigin, ok := NormalizeOrigin(trimmed)
		if !ok {
			continue
		}

		normalized = append(normalized, normalizedOrigin)
	}

	return normalized, allowAll
}

// NormalizeOrigin reduces origin to lower-case "scheme://host[:port]".
func NormalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}

	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

// String masks secrets.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Addr: %s, Storage: %s, Origins: %v, Session: *** (masked) ***}",
		c.Addr, c.Storage.Driver, c.AllowedOrigins)
}
