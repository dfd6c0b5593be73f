// Package config provides configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// Source modes.
const (
	ModeLocal  = "local"  // SQLite stores and tokens from the auth section
	ModeRemote = "remote" // pricing and auth HTTP services
)

// Invalid unit policies, mirrored from the rating engine.
const (
	PolicySkip = "skip"
	PolicyFail = "fail"
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Sources  SourcesConfig  `yaml:"sources"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Rating   RatingConfig   `yaml:"rating"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SourcesConfig selects where plans, tenants, tax rates, usage and users
// come from.
type SourcesConfig struct {
	Mode    string       `yaml:"mode"` // "local" or "remote"
	Pricing RemoteConfig `yaml:"pricing,omitempty"`
	Auth    RemoteConfig `yaml:"auth,omitempty"`
}

// RemoteConfig configures a remote service endpoint.
type RemoteConfig struct {
	URL     string            `yaml:"url"`
	APIKey  string            `yaml:"api_key,omitempty"`
	Timeout time.Duration     `yaml:"timeout,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
}

// DatabaseConfig configures the SQLite database used in local mode.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// AuthConfig configures bearer tokens accepted in local mode.
type AuthConfig struct {
	Tokens []TokenConfig `yaml:"tokens"`
}

// TokenConfig maps a bearer token to a user and the roles it holds per tenant.
// Exactly one of Token and TokenHash is set.
type TokenConfig struct {
	Token     string         `yaml:"token,omitempty"`
	TokenHash string         `yaml:"token_hash,omitempty"` // bcrypt, see "meterbill token hash"
	UserID    string         `yaml:"user_id"`
	Email     string         `yaml:"email,omitempty"`
	Tenants   []TenantAccess `yaml:"tenants"`
}

// TenantAccess grants roles in one tenant.
type TenantAccess struct {
	ID    string   `yaml:"id"`
	Roles []string `yaml:"roles"`
}

// RatingConfig configures the rating engine.
type RatingConfig struct {
	Concurrency       int    `yaml:"concurrency"`         // max concurrent usage lookups
	InvalidUnitPolicy string `yaml:"invalid_unit_policy"` // "skip" or "fail"
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // Enable /metrics endpoint
	Path    string `yaml:"path"`    // Custom path (default: /metrics)
}

// Trace exporters.
const (
	TraceStdout = "stdout"
	TraceOTLP   = "otlp"
)

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`     // "stdout" or "otlp"
	Endpoint    string  `yaml:"endpoint"`     // otlp gRPC host:port
	SampleRatio float64 `yaml:"sample_ratio"` // 0 < r <= 1, default 1
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse builds a configuration from YAML. ${VAR} references are expanded
// from the environment before parsing and METERBILL_* variables override
// parsed values.
func Parse(data []byte) (*Config, error) {
	data = expandEnv(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} references. Bare $ is left alone so bcrypt
// hashes survive.
func expandEnv(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(ref []byte) []byte {
		return []byte(os.Getenv(string(ref[2 : len(ref)-1])))
	})
}

// LoadFromEnv creates configuration entirely from environment variables.
//
// Environment variables:
//
//	METERBILL_SERVER_HOST                 - Server host (default: 0.0.0.0)
//	METERBILL_SERVER_PORT                 - Server port (default: 8080)
//	METERBILL_SOURCES_MODE                - local or remote (default: local)
//	METERBILL_PRICING_URL                 - Pricing service URL (remote mode)
//	METERBILL_PRICING_API_KEY             - Pricing service API key
//	METERBILL_PRICING_TIMEOUT             - Pricing service request timeout (default: 10s)
//	METERBILL_AUTH_URL                    - Auth service URL (remote mode)
//	METERBILL_AUTH_API_KEY                - Auth service API key
//	METERBILL_AUTH_TIMEOUT                - Auth service request timeout (default: 10s)
//	METERBILL_DATABASE_DSN                - SQLite path (default: meterbill.db)
//	METERBILL_RATING_CONCURRENCY          - Max concurrent usage lookups (default: 8)
//	METERBILL_RATING_INVALID_UNIT_POLICY  - skip or fail (default: skip)
//	METERBILL_LOG_LEVEL                   - debug, info, warn, error (default: info)
//	METERBILL_LOG_FORMAT                  - json or console (default: json)
//	METERBILL_METRICS_ENABLED             - Enable /metrics endpoint (default: false)
//	METERBILL_METRICS_PATH                - Metrics endpoint path (default: /metrics)
//	METERBILL_TRACING_ENABLED             - Export OpenTelemetry spans (default: false)
//	METERBILL_TRACING_EXPORTER            - stdout or otlp (default: stdout)
//	METERBILL_TRACING_ENDPOINT            - OTLP gRPC endpoint (default: localhost:4317)
//	METERBILL_TRACING_SAMPLE_RATIO        - Fraction of traces kept (default: 1)
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// DefaultEnvFile is read by LoadDotEnv when no path is given.
const DefaultEnvFile = ".env"

// LoadDotEnv exports the variables in a dotenv file so METERBILL_* overrides
// and ${VAR} references can come from it. Variables already set in the
// environment win. A missing default file is not an error.
func LoadDotEnv(path string) error {
	explicit := path != ""
	if !explicit {
		path = DefaultEnvFile
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// LoadWithFallback loads path when it exists and falls back to the
// environment otherwise.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

// envVar binds one METERBILL_* variable to a config field.
type envVar struct {
	name string
	set  func(cfg *Config, v string)
}

var envVars = []envVar{
	{"METERBILL_SERVER_HOST", func(c *Config, v string) { c.Server.Host = v }},
	{"METERBILL_SERVER_PORT", func(c *Config, v string) { setInt(&c.Server.Port, v) }},
	{"METERBILL_SERVER_REQUEST_TIMEOUT", func(c *Config, v string) { setDuration(&c.Server.RequestTimeout, v) }},
	{"METERBILL_SOURCES_MODE", func(c *Config, v string) { c.Sources.Mode = v }},
	{"METERBILL_PRICING_URL", func(c *Config, v string) { c.Sources.Pricing.URL = v }},
	{"METERBILL_PRICING_API_KEY", func(c *Config, v string) { c.Sources.Pricing.APIKey = v }},
	{"METERBILL_PRICING_TIMEOUT", func(c *Config, v string) { setDuration(&c.Sources.Pricing.Timeout, v) }},
	{"METERBILL_AUTH_URL", func(c *Config, v string) { c.Sources.Auth.URL = v }},
	{"METERBILL_AUTH_API_KEY", func(c *Config, v string) { c.Sources.Auth.APIKey = v }},
	{"METERBILL_AUTH_TIMEOUT", func(c *Config, v string) { setDuration(&c.Sources.Auth.Timeout, v) }},
	{"METERBILL_DATABASE_DSN", func(c *Config, v string) { c.Database.DSN = v }},
	{"METERBILL_RATING_CONCURRENCY", func(c *Config, v string) { setInt(&c.Rating.Concurrency, v) }},
	{"METERBILL_RATING_INVALID_UNIT_POLICY", func(c *Config, v string) { c.Rating.InvalidUnitPolicy = v }},
	{"METERBILL_LOG_LEVEL", func(c *Config, v string) { c.Logging.Level = v }},
	{"METERBILL_LOG_FORMAT", func(c *Config, v string) { c.Logging.Format = v }},
	{"METERBILL_METRICS_ENABLED", func(c *Config, v string) { c.Metrics.Enabled = parseBool(v) }},
	{"METERBILL_METRICS_PATH", func(c *Config, v string) { c.Metrics.Path = v }},
	{"METERBILL_TRACING_ENABLED", func(c *Config, v string) { c.Tracing.Enabled = parseBool(v) }},
	{"METERBILL_TRACING_EXPORTER", func(c *Config, v string) { c.Tracing.Exporter = v }},
	{"METERBILL_TRACING_ENDPOINT", func(c *Config, v string) { c.Tracing.Endpoint = v }},
	{"METERBILL_TRACING_SAMPLE_RATIO", func(c *Config, v string) { setFloat(&c.Tracing.SampleRatio, v) }},
}

// applyEnvOverrides copies set METERBILL_* variables over cfg. Values that
// do not parse are ignored.
func applyEnvOverrides(cfg *Config) {
	for _, ev := range envVars {
		if v, ok := os.LookupEnv(ev.name); ok && v != "" {
			ev.set(cfg, v)
		}
	}
}

func setInt(dst *int, v string) {
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

func setFloat(dst *float64, v string) {
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = f
	}
}

func setDuration(dst *time.Duration, v string) {
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
	}
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func orDefault[T comparable](dst *T, def T) {
	var zero T
	if *dst == zero {
		*dst = def
	}
}

func setDefaults(cfg *Config) {
	orDefault(&cfg.Server.Host, "0.0.0.0")
	orDefault(&cfg.Server.Port, 8080)
	orDefault(&cfg.Server.ReadTimeout, 30*time.Second)
	orDefault(&cfg.Server.WriteTimeout, 60*time.Second)
	orDefault(&cfg.Server.RequestTimeout, 30*time.Second)
	orDefault(&cfg.Server.ShutdownTimeout, 15*time.Second)

	orDefault(&cfg.Sources.Mode, ModeLocal)
	orDefault(&cfg.Database.DSN, "meterbill.db")

	orDefault(&cfg.Rating.Concurrency, 8)
	orDefault(&cfg.Rating.InvalidUnitPolicy, PolicySkip)

	orDefault(&cfg.Logging.Level, "info")
	orDefault(&cfg.Logging.Format, "json")
	orDefault(&cfg.Metrics.Path, "/metrics")

	orDefault(&cfg.Tracing.Exporter, TraceStdout)
	orDefault(&cfg.Tracing.Endpoint, "localhost:4317")
	orDefault(&cfg.Tracing.SampleRatio, 1.0)
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535, got %d", cfg.Server.Port)
	}

	switch cfg.Sources.Mode {
	case ModeLocal:
		if cfg.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required when sources.mode is 'local'")
		}
	case ModeRemote:
		if cfg.Sources.Pricing.URL == "" {
			return fmt.Errorf("sources.pricing.url is required when sources.mode is 'remote'")
		}
		if cfg.Sources.Auth.URL == "" {
			return fmt.Errorf("sources.auth.url is required when sources.mode is 'remote'")
		}
	default:
		return fmt.Errorf("sources.mode must be 'local' or 'remote', got %q", cfg.Sources.Mode)
	}

	for i, tok := range cfg.Auth.Tokens {
		switch {
		case tok.Token == "" && tok.TokenHash == "":
			return fmt.Errorf("auth.tokens[%d].token or token_hash is required", i)
		case tok.Token != "" && tok.TokenHash != "":
			return fmt.Errorf("auth.tokens[%d]: set token or token_hash, not both", i)
		case tok.TokenHash != "":
			if _, err := bcrypt.Cost([]byte(tok.TokenHash)); err != nil {
				return fmt.Errorf("auth.tokens[%d].token_hash is not a bcrypt hash: %w", i, err)
			}
		}
		if tok.UserID == "" {
			return fmt.Errorf("auth.tokens[%d].user_id is required", i)
		}
	}

	if cfg.Rating.Concurrency < 1 {
		return fmt.Errorf("rating.concurrency must be positive, got %d", cfg.Rating.Concurrency)
	}
	if cfg.Rating.InvalidUnitPolicy != PolicySkip && cfg.Rating.InvalidUnitPolicy != PolicyFail {
		return fmt.Errorf("rating.invalid_unit_policy must be 'skip' or 'fail', got %q", cfg.Rating.InvalidUnitPolicy)
	}

	if _, err := zerolog.ParseLevel(cfg.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if cfg.Logging.Format != "json" && cfg.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format)
	}

	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with '/', got %q", cfg.Metrics.Path)
	}

	if cfg.Tracing.Exporter != TraceStdout && cfg.Tracing.Exporter != TraceOTLP {
		return fmt.Errorf("tracing.exporter must be 'stdout' or 'otlp', got %q", cfg.Tracing.Exporter)
	}
	if cfg.Tracing.SampleRatio <= 0 || cfg.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be in (0, 1], got %v", cfg.Tracing.SampleRatio)
	}

	return nil
}
