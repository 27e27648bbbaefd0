// Package models - Client and mock server configuration.
// This file defines the configuration structures for every component.
//
// Configuration Philosophy:
// - Hierarchical configuration grouped by component (shaper, mock server, logging, etc.)
// - Defaults that work out of the box for a single client process
// - Validation at load time so misconfiguration fails fast
package models

import (
	"errors"
	"fmt"
	"time"
)

// Wait modes accepted by ShaperConfig.WaitMode.
const (
	WaitModeBefore = "before"
	WaitModeAfter  = "after"
	WaitModeNever  = "never"
)

// Stats store type constants
const (
	StatsTypeMemory = "memory"
	StatsTypeRedis  = "redis"
)

// Config is the root configuration structure.
//
// Configuration Structure:
// - Shaper: client-side traffic shaping and tracker settings
// - MockServer: the quota-advertising test server
// - Logging: structured logging and output configuration
// - Metrics: Prometheus endpoint
// - Observability: tracing exporters and sampling
type Config struct {
	Shaper        ShaperConfig        `yaml:"shaper" json:"shaper"`
	MockServer    MockServerConfig    `yaml:"mock_server" json:"mock_server"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// ShaperConfig controls the shaping transport and the limit tracker behind it.
type ShaperConfig struct {
	WaitMode            string        `yaml:"wait_mode" json:"wait_mode"`
	MaxDelay            time.Duration `yaml:"max_delay" json:"max_delay"`
	AutoRetry           bool          `yaml:"auto_retry" json:"auto_retry"`
	MaxRetries          int           `yaml:"max_retries" json:"max_retries"`
	ProactiveThrottling bool          `yaml:"proactive_throttling" json:"proactive_throttling"`
	ThrottleThreshold   float64       `yaml:"throttle_threshold" json:"throttle_threshold"`
	StateExpiration     time.Duration `yaml:"state_expiration" json:"state_expiration"`
	PartitionClaim      string        `yaml:"partition_claim" json:"partition_claim"`
	RequestTimeout      time.Duration `yaml:"request_timeout" json:"request_timeout"`
}

type MockServerConfig struct {
	Port         int             `yaml:"port" json:"port"`
	Host         string          `yaml:"host" json:"host"`
	ReadTimeout  time.Duration   `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration   `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration   `yaml:"idle_timeout" json:"idle_timeout"`
	RateLimit    RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	Stats        StatsConfig     `yaml:"stats" json:"stats"`
}

// RateLimitConfig describes the single quota the mock server advertises.
type RateLimitConfig struct {
	Enabled         bool          `yaml:"enabled" json:"enabled"`
	PolicyName      string        `yaml:"policy_name" json:"policy_name"`
	Quota           int           `yaml:"quota" json:"quota"`
	Window          time.Duration `yaml:"window" json:"window"`
	PartitionClaim  string        `yaml:"partition_claim" json:"partition_claim"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
}

type StatsConfig struct {
	Type  string        `yaml:"type" json:"type"`
	TTL   time.Duration `yaml:"ttl" json:"ttl"`
	Redis RedisConfig   `yaml:"redis" json:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
	PoolSize int    `yaml:"pool_size" json:"pool_size"`
	Prefix   string `yaml:"prefix" json:"prefix"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// NewDefaultConfig creates a configuration with working defaults.
//
// Default Values Rationale:
// - Wait before sending: a client that knows it is throttled never spends the request
// - 60 second max delay: long enough for typical per-minute windows
// - Auto retry off: retrying non-idempotent requests must be an explicit choice
// - 80% throttle threshold: smooths traffic before the quota is exhausted
// - Mock server on 8080 with a 60 requests per minute quota
func NewDefaultConfig() *Config {
	return &Config{
		Shaper: ShaperConfig{
			WaitMode:            WaitModeBefore,
			MaxDelay:            60 * time.Second,
			AutoRetry:           false,
			MaxRetries:          3,
			ProactiveThrottling: true,
			ThrottleThreshold:   0.8,
			StateExpiration:     10 * time.Minute,
			RequestTimeout:      30 * time.Second,
		},
		MockServer: MockServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
			RateLimit: RateLimitConfig{
				Enabled:         true,
				PolicyName:      "default",
				Quota:           60,
				Window:          time.Minute,
				PartitionClaim:  "sub",
				CleanupInterval: 5 * time.Minute,
			},
			Stats: StatsConfig{
				Type: StatsTypeMemory,
				TTL:  time.Hour,
				Redis: RedisConfig{
					Addr:     "localhost:6379",
					PoolSize: 10,
					Prefix:   "shaper:stats:",
				},
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "shaper",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
	}
}

func (c *Config) Validate() error {
	if err := c.Shaper.Validate(); err != nil {
		return fmt.Errorf("invalid shaper config: %w", err)
	}

	if err := c.MockServer.Validate(); err != nil {
		return fmt.Errorf("invalid mock server config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}

	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("invalid observability config: %w", err)
	}

	return nil
}

func (sc *ShaperConfig) Validate() error {
	if !contains([]string{WaitModeBefore, WaitModeAfter, WaitModeNever}, sc.WaitMode) {
		return fmt.Errorf("invalid wait mode: %s", sc.WaitMode)
	}

	if sc.MaxDelay <= 0 {
		return errors.New("max delay must be positive")
	}

	if sc.MaxRetries < 0 {
		return errors.New("max retries cannot be negative")
	}

	if sc.ThrottleThreshold < 0 || sc.ThrottleThreshold > 1 {
		return errors.New("throttle threshold must be between 0 and 1")
	}

	if sc.StateExpiration <= 0 {
		return errors.New("state expiration must be positive")
	}

	if sc.RequestTimeout < 0 {
		return errors.New("request timeout cannot be negative")
	}

	return nil
}

func (mc *MockServerConfig) Validate() error {
	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}

	if mc.Host == "" {
		return errors.New("host cannot be empty")
	}

	if mc.ReadTimeout < 0 || mc.WriteTimeout < 0 || mc.IdleTimeout < 0 {
		return errors.New("timeouts cannot be negative")
	}

	if mc.RateLimit.Enabled {
		if mc.RateLimit.Quota <= 0 {
			return errors.New("quota must be positive")
		}
		if mc.RateLimit.Window <= 0 {
			return errors.New("window must be positive")
		}
		if mc.RateLimit.PolicyName == "" {
			return errors.New("policy name cannot be empty")
		}
	}

	if !contains([]string{StatsTypeMemory, StatsTypeRedis}, mc.Stats.Type) {
		return fmt.Errorf("invalid stats type: %s", mc.Stats.Type)
	}

	if mc.Stats.Type == StatsTypeRedis && mc.Stats.Redis.Addr == "" {
		return errors.New("Redis address is required when stats type is redis")
	}

	return nil
}

func (lc *LoggingConfig) Validate() error {
	if !contains([]string{"debug", "info", "warn", "error"}, lc.Level) {
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}

	if !contains([]string{"json", "text"}, lc.Format) {
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}

	if !contains([]string{"stdout", "stderr", "file"}, lc.Output) {
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}

	if lc.Output == "file" && lc.FilePath == "" {
		return errors.New("file path is required when output is file")
	}

	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}

	if mc.Path == "" {
		return errors.New("metrics path cannot be empty")
	}

	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}

	return nil
}

func (oc *ObservabilityConfig) Validate() error {
	if !oc.Tracing.Enabled {
		return nil
	}

	if !contains([]string{"stdout", "otlp"}, oc.Tracing.Exporter) {
		return fmt.Errorf("invalid trace exporter: %s", oc.Tracing.Exporter)
	}

	if oc.Tracing.Exporter == "otlp" && oc.Tracing.OTLPEndpoint == "" {
		return errors.New("OTLP endpoint is required when exporter is otlp")
	}

	if oc.Tracing.SampleRate < 0 || oc.Tracing.SampleRate > 1 {
		return errors.New("sample rate must be between 0 and 1")
	}

	return nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
