// Package config handles configuration loading and defaults for grabarr.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/grabarr/grabarr/internal/breaker"
	"github.com/grabarr/grabarr/internal/queue"
	"github.com/grabarr/grabarr/internal/ratelimit"
	"github.com/grabarr/grabarr/internal/release"
	"github.com/grabarr/grabarr/internal/retry"
)

// Config holds all configuration for grabarr.
type Config struct {
	Database       DatabaseConfig       `toml:"database"`
	DownloadClient DownloadClientConfig `toml:"download_client"`
	Indexers       []IndexerConfig      `toml:"indexers"`
	Queue     QueueConfig     `toml:"queue"`
	Breaker   BreakerConfig   `toml:"breaker"`
	RateLimit RateLimitConfig `toml:"ratelimit"`
	Retry     RetryConfig     `toml:"retry"`
	Scoring   ScoringConfig   `toml:"scoring"`
	Blocklist BlocklistConfig `toml:"blocklist"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Logging   LoggingConfig   `toml:"logging"`
}

// DatabaseConfig holds the SQLite store settings.
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// DownloadClientConfig holds the external download client connection.
type DownloadClientConfig struct {
	Type     string `toml:"type"` // currently "qbittorrent"
	URL      string `toml:"url"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// IndexerConfig holds one Torznab indexer endpoint.
type IndexerConfig struct {
	ID     int    `toml:"id"`
	Name   string `toml:"name"`
	URL    string `toml:"url"`
	APIKey string `toml:"api_key"`
}

// QueueConfig holds queue processor settings.
type QueueConfig struct {
	MaxConcurrentDownloads int    `toml:"max_concurrent_downloads"`
	CheckInterval          string `toml:"check_interval"`
	SyncInterval           string `toml:"sync_interval"`
	RetryInterval          string `toml:"retry_interval"`
	Enabled                *bool  `toml:"enabled"`
}

// BreakerConfig holds circuit breaker settings shared by all services.
type BreakerConfig struct {
	FailureThreshold int    `toml:"failure_threshold"`
	SuccessThreshold int    `toml:"success_threshold"`
	ResetTimeout     string `toml:"reset_timeout"`
	RequestTimeout   string `toml:"request_timeout"`
}

// RateLimitConfig holds per-indexer rate limiter settings.
type RateLimitConfig struct {
	RequestsPerHour  int    `toml:"requests_per_hour"`
	MinInterval      string `toml:"min_interval"`
	FailureThreshold int    `toml:"failure_threshold"`
	FailureWindow    string `toml:"failure_window"`
}

// RetryConfig holds the dispatch retry policy.
type RetryConfig struct {
	MaxAttempts  int     `toml:"max_attempts"`
	InitialDelay string  `toml:"initial_delay"`
	MaxDelay     string  `toml:"max_delay"`
	Multiplier   float64 `toml:"multiplier"`
	Jitter       *bool   `toml:"jitter"`
}

// ScoringConfig holds release scorer overrides.
type ScoringConfig struct {
	MinimumScore      float64  `toml:"minimum_score"`
	PreferredGroups   []string `toml:"preferred_groups"`
	IgnoredGroups     []string `toml:"ignored_groups"`
	RequiredKeywords  []string `toml:"required_keywords"`
	ForbiddenKeywords []string `toml:"forbidden_keywords"`
	ReputationWeight  float64  `toml:"reputation_weight"`
}

// BlocklistConfig holds blocklist maintenance settings.
type BlocklistConfig struct {
	CleanupOlderThanDays int `toml:"cleanup_older_than_days"`
	HealthLookbackHours  int `toml:"health_lookback_hours"`
	HealthThreshold      int `toml:"health_threshold"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Bind    string `toml:"bind"`
	Port    int    `toml:"port"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "grabarr.db"},
		Queue: QueueConfig{
			MaxConcurrentDownloads: 5,
			CheckInterval:          "30s",
			SyncInterval:           "1m",
			RetryInterval:          "5m",
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 3,
			ResetTimeout:     "60s",
			RequestTimeout:   "30s",
		},
		RateLimit: RateLimitConfig{
			RequestsPerHour:  150,
			MinInterval:      "2s",
			FailureThreshold: 10,
			FailureWindow:    "10m",
		},
		Retry: RetryConfig{
			MaxAttempts:  5,
			InitialDelay: "5s",
			MaxDelay:     "5m",
			Multiplier:   2.0,
		},
		Scoring: ScoringConfig{
			MinimumScore: 50,
		},
		Blocklist: BlocklistConfig{
			CleanupOlderThanDays: 30,
			HealthLookbackHours:  24,
			HealthThreshold:      10,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Bind:    "127.0.0.1",
			Port:    9787,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads a TOML config file over the defaults. A missing path returns
// the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for impossible values.
func (c *Config) Validate() error {
	if c.Queue.MaxConcurrentDownloads < 1 {
		return fmt.Errorf("queue.max_concurrent_downloads must be at least 1")
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("breaker.failure_threshold must be at least 1")
	}
	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be a valid port")
	}
	seen := make(map[int]bool)
	for i, idx := range c.Indexers {
		if idx.Name == "" || idx.URL == "" {
			return fmt.Errorf("indexers[%d]: name and url must be set", i)
		}
		if seen[idx.ID] {
			return fmt.Errorf("indexers[%d]: duplicate id %d", i, idx.ID)
		}
		seen[idx.ID] = true
	}
	for _, field := range []struct {
		name, value string
	}{
		{"queue.check_interval", c.Queue.CheckInterval},
		{"queue.sync_interval", c.Queue.SyncInterval},
		{"queue.retry_interval", c.Queue.RetryInterval},
		{"breaker.reset_timeout", c.Breaker.ResetTimeout},
		{"breaker.request_timeout", c.Breaker.RequestTimeout},
	} {
		if field.value == "" {
			continue
		}
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
	}
	return nil
}

func duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// ProcessorConfig converts the queue section.
func (c *QueueConfig) ProcessorConfig(dispatchRetry retry.Policy) queue.ProcessorConfig {
	enabled := true
	if c.Enabled != nil {
		enabled = *c.Enabled
	}
	return queue.ProcessorConfig{
		MaxConcurrentDownloads: c.MaxConcurrentDownloads,
		CheckInterval:          duration(c.CheckInterval, 30*time.Second),
		SyncInterval:           duration(c.SyncInterval, time.Minute),
		RetryInterval:          duration(c.RetryInterval, 5*time.Minute),
		Enabled:                enabled,
		DispatchRetry:          dispatchRetry,
	}
}

// BreakerConfig converts the breaker section for a named service.
func (c *BreakerConfig) For(service string) breaker.Config {
	return breaker.Config{
		Name:             service,
		FailureThreshold: c.FailureThreshold,
		SuccessThreshold: c.SuccessThreshold,
		ResetTimeout:     duration(c.ResetTimeout, 60*time.Second),
		RequestTimeout:   duration(c.RequestTimeout, 30*time.Second),
	}
}

// LimiterConfig converts the ratelimit section.
func (c *RateLimitConfig) LimiterConfig() ratelimit.Config {
	return ratelimit.Config{
		RequestsPerWindow: c.RequestsPerHour,
		Window:            time.Hour,
		MinInterval:       duration(c.MinInterval, 0),
		FailureThreshold:  c.FailureThreshold,
		FailureWindow:     duration(c.FailureWindow, 10*time.Minute),
	}
}

// Policy converts the retry section.
func (c *RetryConfig) Policy() retry.Policy {
	jitter := true
	if c.Jitter != nil {
		jitter = *c.Jitter
	}
	return retry.Policy{
		MaxAttempts:  c.MaxAttempts,
		InitialDelay: duration(c.InitialDelay, 5*time.Second),
		MaxDelay:     duration(c.MaxDelay, 5*time.Minute),
		Multiplier:   c.Multiplier,
		Jitter:       jitter,
	}
}

// Weights converts the scoring section over the default weights.
func (c *ScoringConfig) Weights() release.Weights {
	w := release.DefaultWeights()
	if c.MinimumScore > 0 {
		w.MinimumScore = c.MinimumScore
	}
	if len(c.PreferredGroups) > 0 {
		w.PreferredGroups = c.PreferredGroups
	}
	if len(c.IgnoredGroups) > 0 {
		w.IgnoredGroups = c.IgnoredGroups
	}
	if len(c.RequiredKeywords) > 0 {
		w.RequiredKeywords = c.RequiredKeywords
	}
	if len(c.ForbiddenKeywords) > 0 {
		w.ForbiddenKeywords = c.ForbiddenKeywords
	}
	w.ReputationWeight = c.ReputationWeight
	return w
}
