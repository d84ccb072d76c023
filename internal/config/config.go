// Package config handles YAML configuration loading with environment variable expansion.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	pagecache "github.com/eugener/cachemgr/internal"
	"github.com/eugener/cachemgr/internal/circuitbreaker"
	"github.com/eugener/cachemgr/internal/locator"
)

// Config is the top-level cachemgr configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Site         SiteConfig         `yaml:"site"`
	Database     DatabaseConfig     `yaml:"database"`
	Auth         AuthConfig         `yaml:"auth"`
	RateLimits   RateLimitConfig    `yaml:"rate_limits"`
	Cache        CacheConfig        `yaml:"cache"`
	Signal       SignalConfig       `yaml:"signal"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	Log          LogConfig          `yaml:"log"`
	ContentTypes []ContentTypeEntry `yaml:"content_types"`
	Tokens       []TokenEntry       `yaml:"tokens"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// SiteConfig describes the site whose pages are cached.
type SiteConfig struct {
	Home string `yaml:"home"` // e.g. https://example.com
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // file path or ":memory:"
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	AdminToken string `yaml:"admin_token"` // bootstrap admin token (hashed on first use)
}

// RateLimitConfig holds default per-token limits. Zero means unlimited.
type RateLimitConfig struct {
	DefaultRPM       int64 `yaml:"default_rpm"`
	ActionsPerMinute int64 `yaml:"actions_per_minute"`
	FlushPerDay      int64 `yaml:"flush_per_day"`
}

// CacheConfig describes the FastCGI cache on disk.
type CacheConfig struct {
	Dir      string        `yaml:"dir"`    // fastcgi_cache_path; empty disables the filesystem provider
	Levels   string        `yaml:"levels"` // fastcgi_cache_path levels=
	Valid    time.Duration `yaml:"valid"`  // fastcgi_cache_valid
	MemoSize int           `yaml:"memo_size"`
}

// SignalConfig controls the HTTP signal provider.
type SignalConfig struct {
	Enabled     *bool         `yaml:"enabled"`
	Timeout     time.Duration `yaml:"timeout"`
	VerifyTLS   bool          `yaml:"verify_tls"`
	PurgeHeader string        `yaml:"purge_header"`
	PurgeValue  string        `yaml:"purge_value"`
	OriginAddr  string        `yaml:"origin_addr"` // host:port; empty dials the page host
	DNSRefresh  time.Duration `yaml:"dns_refresh"`
	Breaker     BreakerConfig `yaml:"breaker"`
}

// BreakerConfig trips signals to an origin that keeps failing.
// A zero failure_rate disables the breaker.
type BreakerConfig struct {
	FailureRate float64       `yaml:"failure_rate"`
	MinSamples  int           `yaml:"min_samples"`
	Window      int           `yaml:"window"`
	Cooldown    time.Duration `yaml:"cooldown"`
}

// IsEnabled reports whether the signal provider is enabled (defaults to true when nil).
func (s SignalConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

// LogConfig controls the slog handler and optional file rotation.
type LogConfig struct {
	Level      string `yaml:"level"`  // debug, info, warn, error
	Format     string `yaml:"format"` // json, text
	File       string `yaml:"file"`   // empty logs to stderr
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// SlogLevel returns the parsed log level, defaulting to info.
func (l LogConfig) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// ContentTypeEntry seeds a content type.
type ContentTypeEntry struct {
	Name   string `yaml:"name"`
	Public bool   `yaml:"public"`
}

// TokenEntry is an admin token seed in the config file.
type TokenEntry struct {
	Name     string `yaml:"name"`
	Token    string `yaml:"token"` // plaintext, hashed on bootstrap
	Role     string `yaml:"role"`
	RPMLimit *int64 `yaml:"rpm_limit"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Defaults returns a Config populated with default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			DSN: "cachemgr.db",
		},
		RateLimits: RateLimitConfig{
			DefaultRPM:       120,
			ActionsPerMinute: 30,
			FlushPerDay:      24,
		},
		Cache: CacheConfig{
			Levels:   "1:2",
			Valid:    60 * time.Minute,
			MemoSize: 4096,
		},
		Signal: SignalConfig{
			Timeout:     time.Second,
			PurgeHeader: "X-Nginx-Cache-Purge",
			PurgeValue:  "1",
			DNSRefresh:  5 * time.Minute,
			Breaker:     defaultBreaker(),
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		ContentTypes: []ContentTypeEntry{
			{Name: "post", Public: true},
			{Name: "page", Public: true},
		},
	}
}

func defaultBreaker() BreakerConfig {
	d := circuitbreaker.DefaultConfig()
	return BreakerConfig{FailureRate: d.FailureRate, MinSamples: d.MinSamples, Window: d.Window, Cooldown: d.Cooldown}
}

// Load reads and parses a YAML config file, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate reports every configuration problem found.
func (c *Config) Validate() error {
	var errs []error

	if c.Site.Home == "" {
		errs = append(errs, errors.New("site.home is required"))
	} else if u, err := url.Parse(c.Site.Home); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("site.home %q: must be an absolute http(s) url", c.Site.Home))
	}
	if _, err := locator.ParseLevels(c.Cache.Levels); err != nil {
		errs = append(errs, fmt.Errorf("cache.levels: %w", err))
	}
	if c.Cache.Valid < 0 {
		errs = append(errs, errors.New("cache.valid must not be negative"))
	}
	if c.Signal.Timeout <= 0 {
		errs = append(errs, errors.New("signal.timeout must be positive"))
	}
	if b := c.Signal.Breaker; b.FailureRate < 0 || b.FailureRate > 1.5 {
		errs = append(errs, fmt.Errorf("signal.breaker.failure_rate %v: must be within [0, 1.5]", b.FailureRate))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: must be json or text", c.Log.Format))
	}
	if r := c.Telemetry.Tracing.SampleRate; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.tracing.sample_rate %v: must be within [0, 1]", r))
	}
	if t := c.Auth.AdminToken; t != "" && !strings.HasPrefix(t, pagecache.TokenPrefix) {
		errs = append(errs, fmt.Errorf("auth.admin_token: token must start with %q", pagecache.TokenPrefix))
	}
	for i, t := range c.Tokens {
		if t.Token != "" && !strings.HasPrefix(t.Token, pagecache.TokenPrefix) {
			errs = append(errs, fmt.Errorf("tokens[%d] %q: token must start with %q", i, t.Name, pagecache.TokenPrefix))
		}
		if _, ok := pagecache.RolePermissions[t.Role]; t.Role != "" && !ok {
			errs = append(errs, fmt.Errorf("tokens[%d] %q: unknown role %q", i, t.Name, t.Role))
		}
	}
	for i, ct := range c.ContentTypes {
		if ct.Name == "" {
			errs = append(errs, fmt.Errorf("content_types[%d]: name is required", i))
		}
	}
	return errors.Join(errs...)
}
