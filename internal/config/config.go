// SPDX-License-Identifier: MIT

// Package config loads daemon configuration with ENV > file > defaults
// precedence.
package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"time"
)

// AppConfig holds the full daemon configuration.
type AppConfig struct {
	// Upstream client
	BaseURL        string
	UserAgent      string
	RequestTimeout time.Duration

	// Retry & backoff
	MaxAttempts   int
	RetryMinWait  time.Duration
	RetryMaxWait  time.Duration
	RateLimitWait time.Duration // fallback when 429 carries no hint

	// Outbound throttle
	UpstreamRPS   float64
	UpstreamBurst int

	// Session
	SessionLifetime time.Duration
	SessionCaching  bool // false forces a fresh session per call

	// PDF pipeline
	PollInterval time.Duration
	PollBudget   time.Duration

	// HTTP server
	ListenAddr      string
	RequestsPerMin  int
	ShutdownTimeout time.Duration

	// Result cache
	CacheEnabled  bool
	CacheTTL      time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Storage
	DataDir string

	// Logging
	LogLevel string

	// Telemetry
	TracingEnabled  bool
	TracingExporter string // "grpc" or "http"
	TracingEndpoint string
	TracingSampling float64
}

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		BaseURL:        "https://ppubs.uspto.gov",
		UserAgent:      "ppubsd/0.3",
		RequestTimeout: 30 * time.Second,

		MaxAttempts:   3,
		RetryMinWait:  2 * time.Second,
		RetryMaxWait:  10 * time.Second,
		RateLimitWait: 5 * time.Second,

		UpstreamRPS:   5,
		UpstreamBurst: 10,

		SessionLifetime: 30 * time.Minute,
		SessionCaching:  true,

		PollInterval: time.Second,
		PollBudget:   90 * time.Second,

		ListenAddr:      ":8080",
		RequestsPerMin:  600,
		ShutdownTimeout: 10 * time.Second,

		CacheEnabled: true,
		CacheTTL:     5 * time.Minute,

		DataDir: "/var/lib/ppubsd",

		LogLevel: "info",

		TracingEnabled:  false,
		TracingExporter: "http",
		TracingSampling: 1.0,
	}
}

// FromEnv applies environment overrides on top of cfg.
func FromEnv(cfg AppConfig) AppConfig {
	cfg.BaseURL = ParseString("PPUBS_BASE_URL", cfg.BaseURL)
	cfg.UserAgent = ParseString("PPUBS_USER_AGENT", cfg.UserAgent)
	cfg.RequestTimeout = ParseDuration("PPUBS_REQUEST_TIMEOUT", cfg.RequestTimeout)

	cfg.MaxAttempts = ParseInt("PPUBS_MAX_ATTEMPTS", cfg.MaxAttempts)
	cfg.RetryMinWait = ParseDuration("PPUBS_RETRY_MIN_WAIT", cfg.RetryMinWait)
	cfg.RetryMaxWait = ParseDuration("PPUBS_RETRY_MAX_WAIT", cfg.RetryMaxWait)
	cfg.RateLimitWait = ParseDuration("PPUBS_RATE_LIMIT_WAIT", cfg.RateLimitWait)

	cfg.UpstreamRPS = ParseFloat("PPUBS_UPSTREAM_RPS", cfg.UpstreamRPS)
	cfg.UpstreamBurst = ParseInt("PPUBS_UPSTREAM_BURST", cfg.UpstreamBurst)

	cfg.SessionLifetime = ParseDuration("PPUBS_SESSION_LIFETIME", cfg.SessionLifetime)
	cfg.SessionCaching = ParseBool("PPUBS_SESSION_CACHING", cfg.SessionCaching)

	cfg.PollInterval = ParseDuration("PPUBS_POLL_INTERVAL", cfg.PollInterval)
	cfg.PollBudget = ParseDuration("PPUBS_POLL_BUDGET", cfg.PollBudget)

	cfg.ListenAddr = ParseString("PPUBSD_LISTEN", cfg.ListenAddr)
	cfg.RequestsPerMin = ParseInt("PPUBSD_RATE_LIMIT", cfg.RequestsPerMin)
	cfg.ShutdownTimeout = ParseDuration("PPUBSD_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)

	cfg.CacheEnabled = ParseBool("PPUBSD_CACHE", cfg.CacheEnabled)
	cfg.CacheTTL = ParseDuration("PPUBSD_CACHE_TTL", cfg.CacheTTL)
	cfg.RedisAddr = ParseString("PPUBSD_REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = ParseString("PPUBSD_REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = ParseInt("PPUBSD_REDIS_DB", cfg.RedisDB)

	cfg.DataDir = ParseString("PPUBSD_DATA", cfg.DataDir)

	cfg.LogLevel = ParseString("LOG_LEVEL", cfg.LogLevel)

	cfg.TracingEnabled = ParseBool("PPUBSD_TRACING", cfg.TracingEnabled)
	cfg.TracingExporter = ParseString("PPUBSD_TRACING_EXPORTER", cfg.TracingExporter)
	cfg.TracingEndpoint = ParseString("PPUBSD_TRACING_ENDPOINT", cfg.TracingEndpoint)
	cfg.TracingSampling = ParseFloat("PPUBSD_TRACING_SAMPLING", cfg.TracingSampling)

	return cfg
}

// Load builds the effective configuration: defaults, overlaid by the optional
// YAML file at path, overlaid by environment variables.
func Load(path string) (AppConfig, error) {
	cfg := Defaults()
	if path != "" {
		fileCfg, err := loadFile(path, cfg)
		if err != nil {
			return AppConfig{}, err
		}
		cfg = fileCfg
	}
	cfg = FromEnv(cfg)
	if err := Validate(cfg); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// JobDBPath returns the path of the print-job history database.
func (c AppConfig) JobDBPath() string {
	return filepath.Join(c.DataDir, "jobs.db")
}

// Validate performs fail-fast checks on the effective configuration.
func Validate(cfg AppConfig) error {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL %q: %w", cfg.BaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported base URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("base URL %q is missing host", cfg.BaseURL)
	}
	if cfg.MaxAttempts < 1 {
		return fmt.Errorf("maxAttempts must be >= 1, got %d", cfg.MaxAttempts)
	}
	if cfg.RetryMinWait <= 0 || cfg.RetryMaxWait < cfg.RetryMinWait {
		return fmt.Errorf("invalid backoff bounds: min=%s max=%s", cfg.RetryMinWait, cfg.RetryMaxWait)
	}
	if cfg.PollInterval <= 0 {
		return fmt.Errorf("pollInterval must be positive, got %s", cfg.PollInterval)
	}
	if cfg.PollBudget < cfg.PollInterval {
		return fmt.Errorf("pollBudget %s is smaller than pollInterval %s", cfg.PollBudget, cfg.PollInterval)
	}
	if cfg.SessionLifetime <= 0 {
		return fmt.Errorf("sessionLifetime must be positive, got %s", cfg.SessionLifetime)
	}
	return nil
}
