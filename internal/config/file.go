// SPDX-License-Identifier: MIT

package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML schema. Pointer fields distinguish "absent" from
// "zero" so the file only overrides what it names. Durations are Go duration
// strings ("30s", "5m").
type fileConfig struct {
	BaseURL        *string `yaml:"baseURL"`
	UserAgent      *string `yaml:"userAgent"`
	RequestTimeout *string `yaml:"requestTimeout"`

	MaxAttempts   *int    `yaml:"maxAttempts"`
	RetryMinWait  *string `yaml:"retryMinWait"`
	RetryMaxWait  *string `yaml:"retryMaxWait"`
	RateLimitWait *string `yaml:"rateLimitWait"`

	UpstreamRPS   *float64 `yaml:"upstreamRPS"`
	UpstreamBurst *int     `yaml:"upstreamBurst"`

	SessionLifetime *string `yaml:"sessionLifetime"`
	SessionCaching  *bool   `yaml:"sessionCaching"`

	PollInterval *string `yaml:"pollInterval"`
	PollBudget   *string `yaml:"pollBudget"`

	ListenAddr      *string `yaml:"listenAddr"`
	RequestsPerMin  *int    `yaml:"requestsPerMin"`
	ShutdownTimeout *string `yaml:"shutdownTimeout"`

	CacheEnabled  *bool   `yaml:"cacheEnabled"`
	CacheTTL      *string `yaml:"cacheTTL"`
	RedisAddr     *string `yaml:"redisAddr"`
	RedisPassword *string `yaml:"redisPassword"`
	RedisDB       *int    `yaml:"redisDB"`

	DataDir  *string `yaml:"dataDir"`
	LogLevel *string `yaml:"logLevel"`

	TracingEnabled  *bool    `yaml:"tracingEnabled"`
	TracingExporter *string  `yaml:"tracingExporter"`
	TracingEndpoint *string  `yaml:"tracingEndpoint"`
	TracingSampling *float64 `yaml:"tracingSampling"`
}

// loadFile overlays the YAML file at path onto base. A missing file is not an
// error so the daemon can run from env and defaults alone.
func loadFile(path string, base AppConfig) (AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return base, nil
		}
		return AppConfig{}, fmt.Errorf("read config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return AppConfig{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return mergeFile(base, fc, path)
}

func mergeFile(cfg AppConfig, fc fileConfig, path string) (AppConfig, error) {
	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	setInt := func(dst *int, src *int) {
		if src != nil {
			*dst = *src
		}
	}
	setBool := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
		}
	}
	setFloat := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}

	var durErr error
	setDur := func(dst *time.Duration, src *string, field string) {
		if src == nil || durErr != nil {
			return
		}
		d, err := time.ParseDuration(*src)
		if err != nil {
			durErr = fmt.Errorf("config file %s: field %s: %w", path, field, err)
			return
		}
		*dst = d
	}

	setString(&cfg.BaseURL, fc.BaseURL)
	setString(&cfg.UserAgent, fc.UserAgent)
	setDur(&cfg.RequestTimeout, fc.RequestTimeout, "requestTimeout")

	setInt(&cfg.MaxAttempts, fc.MaxAttempts)
	setDur(&cfg.RetryMinWait, fc.RetryMinWait, "retryMinWait")
	setDur(&cfg.RetryMaxWait, fc.RetryMaxWait, "retryMaxWait")
	setDur(&cfg.RateLimitWait, fc.RateLimitWait, "rateLimitWait")

	setFloat(&cfg.UpstreamRPS, fc.UpstreamRPS)
	setInt(&cfg.UpstreamBurst, fc.UpstreamBurst)

	setDur(&cfg.SessionLifetime, fc.SessionLifetime, "sessionLifetime")
	setBool(&cfg.SessionCaching, fc.SessionCaching)

	setDur(&cfg.PollInterval, fc.PollInterval, "pollInterval")
	setDur(&cfg.PollBudget, fc.PollBudget, "pollBudget")

	setString(&cfg.ListenAddr, fc.ListenAddr)
	setInt(&cfg.RequestsPerMin, fc.RequestsPerMin)
	setDur(&cfg.ShutdownTimeout, fc.ShutdownTimeout, "shutdownTimeout")

	setBool(&cfg.CacheEnabled, fc.CacheEnabled)
	setDur(&cfg.CacheTTL, fc.CacheTTL, "cacheTTL")
	setString(&cfg.RedisAddr, fc.RedisAddr)
	setString(&cfg.RedisPassword, fc.RedisPassword)
	setInt(&cfg.RedisDB, fc.RedisDB)

	setString(&cfg.DataDir, fc.DataDir)
	setString(&cfg.LogLevel, fc.LogLevel)

	setBool(&cfg.TracingEnabled, fc.TracingEnabled)
	setString(&cfg.TracingExporter, fc.TracingExporter)
	setString(&cfg.TracingEndpoint, fc.TracingEndpoint)
	setFloat(&cfg.TracingSampling, fc.TracingSampling)

	if durErr != nil {
		return AppConfig{}, durErr
	}
	return cfg, nil
}
