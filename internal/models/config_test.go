package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewDefaultConfig(t *testing.T) {
	config := NewDefaultConfig()

	// Test shaper defaults
	assert.Equal(t, WaitModeBefore, config.Shaper.WaitMode)
	assert.Equal(t, 60*time.Second, config.Shaper.MaxDelay)
	assert.False(t, config.Shaper.AutoRetry)
	assert.Equal(t, 3, config.Shaper.MaxRetries)
	assert.True(t, config.Shaper.ProactiveThrottling)
	assert.Equal(t, 0.8, config.Shaper.ThrottleThreshold)
	assert.Equal(t, 10*time.Minute, config.Shaper.StateExpiration)
	assert.Empty(t, config.Shaper.PartitionClaim)

	// Test mock server defaults
	assert.Equal(t, 8080, config.MockServer.Port)
	assert.Equal(t, "0.0.0.0", config.MockServer.Host)
	assert.True(t, config.MockServer.RateLimit.Enabled)
	assert.Equal(t, 60, config.MockServer.RateLimit.Quota)
	assert.Equal(t, time.Minute, config.MockServer.RateLimit.Window)
	assert.Equal(t, "sub", config.MockServer.RateLimit.PartitionClaim)
	assert.Equal(t, StatsTypeMemory, config.MockServer.Stats.Type)

	// Test logging defaults
	assert.Equal(t, "info", config.Logging.Level)
	assert.Equal(t, "json", config.Logging.Format)
	assert.Equal(t, "stdout", config.Logging.Output)

	// Test metrics defaults
	assert.True(t, config.Metrics.Enabled)
	assert.Equal(t, "/metrics", config.Metrics.Path)
	assert.Equal(t, 9090, config.Metrics.Port)

	// Test observability defaults
	assert.Equal(t, "shaper", config.Observability.ServiceName)
	assert.False(t, config.Observability.Tracing.Enabled)
	assert.Equal(t, "stdout", config.Observability.Tracing.Exporter)
	assert.Equal(t, 1.0, config.Observability.Tracing.SampleRate)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(c *Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid default config",
			mutate:      func(c *Config) {},
			expectError: false,
		},
		{
			name:        "invalid shaper config",
			mutate:      func(c *Config) { c.Shaper.WaitMode = "sometimes" },
			expectError: true,
			errorMsg:    "invalid shaper config",
		},
		{
			name:        "invalid mock server config",
			mutate:      func(c *Config) { c.MockServer.Port = -1 },
			expectError: true,
			errorMsg:    "invalid mock server config",
		},
		{
			name:        "invalid logging config",
			mutate:      func(c *Config) { c.Logging.Level = "verbose" },
			expectError: true,
			errorMsg:    "invalid logging config",
		},
		{
			name:        "invalid metrics config",
			mutate:      func(c *Config) { c.Metrics.Port = 0 },
			expectError: true,
			errorMsg:    "invalid metrics config",
		},
		{
			name: "invalid observability config",
			mutate: func(c *Config) {
				c.Observability.Tracing.Enabled = true
				c.Observability.Tracing.Exporter = "zipkin"
			},
			expectError: true,
			errorMsg:    "invalid observability config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := NewDefaultConfig()
			tt.mutate(config)
			err := config.Validate()

			if tt.expectError {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestShaperConfig_Validate(t *testing.T) {
	valid := func() ShaperConfig { return NewDefaultConfig().Shaper }

	tests := []struct {
		name        string
		mutate      func(c *ShaperConfig)
		expectError bool
		errorMsg    string
	}{
		{name: "valid config", mutate: func(c *ShaperConfig) {}},
		{name: "after mode", mutate: func(c *ShaperConfig) { c.WaitMode = WaitModeAfter }},
		{name: "never mode", mutate: func(c *ShaperConfig) { c.WaitMode = WaitModeNever }},
		{name: "zero threshold", mutate: func(c *ShaperConfig) { c.ThrottleThreshold = 0 }},
		{name: "full threshold", mutate: func(c *ShaperConfig) { c.ThrottleThreshold = 1 }},
		{
			name:        "unknown wait mode",
			mutate:      func(c *ShaperConfig) { c.WaitMode = "" },
			expectError: true,
			errorMsg:    "invalid wait mode",
		},
		{
			name:        "zero max delay",
			mutate:      func(c *ShaperConfig) { c.MaxDelay = 0 },
			expectError: true,
			errorMsg:    "max delay must be positive",
		},
		{
			name:        "negative retries",
			mutate:      func(c *ShaperConfig) { c.MaxRetries = -1 },
			expectError: true,
			errorMsg:    "max retries cannot be negative",
		},
		{
			name:        "threshold above one",
			mutate:      func(c *ShaperConfig) { c.ThrottleThreshold = 1.5 },
			expectError: true,
			errorMsg:    "throttle threshold must be between 0 and 1",
		},
		{
			name:        "negative threshold",
			mutate:      func(c *ShaperConfig) { c.ThrottleThreshold = -0.1 },
			expectError: true,
			errorMsg:    "throttle threshold must be between 0 and 1",
		},
		{
			name:        "zero expiration",
			mutate:      func(c *ShaperConfig) { c.StateExpiration = 0 },
			expectError: true,
			errorMsg:    "state expiration must be positive",
		},
		{
			name:        "negative request timeout",
			mutate:      func(c *ShaperConfig) { c.RequestTimeout = -time.Second },
			expectError: true,
			errorMsg:    "request timeout cannot be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := valid()
			tt.mutate(&config)
			err := config.Validate()

			if tt.expectError {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMockServerConfig_Validate(t *testing.T) {
	valid := func() MockServerConfig { return NewDefaultConfig().MockServer }

	tests := []struct {
		name        string
		mutate      func(c *MockServerConfig)
		expectError bool
		errorMsg    string
	}{
		{name: "valid config", mutate: func(c *MockServerConfig) {}},
		{
			name: "rate limit disabled ignores quota",
			mutate: func(c *MockServerConfig) {
				c.RateLimit.Enabled = false
				c.RateLimit.Quota = 0
			},
		},
		{
			name:        "invalid port - too high",
			mutate:      func(c *MockServerConfig) { c.Port = 70000 },
			expectError: true,
			errorMsg:    "port must be between 1 and 65535",
		},
		{
			name:        "empty host",
			mutate:      func(c *MockServerConfig) { c.Host = "" },
			expectError: true,
			errorMsg:    "host cannot be empty",
		},
		{
			name:        "negative timeout",
			mutate:      func(c *MockServerConfig) { c.ReadTimeout = -time.Second },
			expectError: true,
			errorMsg:    "timeouts cannot be negative",
		},
		{
			name:        "zero quota",
			mutate:      func(c *MockServerConfig) { c.RateLimit.Quota = 0 },
			expectError: true,
			errorMsg:    "quota must be positive",
		},
		{
			name:        "zero window",
			mutate:      func(c *MockServerConfig) { c.RateLimit.Window = 0 },
			expectError: true,
			errorMsg:    "window must be positive",
		},
		{
			name:        "empty policy name",
			mutate:      func(c *MockServerConfig) { c.RateLimit.PolicyName = "" },
			expectError: true,
			errorMsg:    "policy name cannot be empty",
		},
		{
			name:        "unknown stats type",
			mutate:      func(c *MockServerConfig) { c.Stats.Type = "postgres" },
			expectError: true,
			errorMsg:    "invalid stats type: postgres",
		},
		{
			name: "redis stats without address",
			mutate: func(c *MockServerConfig) {
				c.Stats.Type = StatsTypeRedis
				c.Stats.Redis.Addr = ""
			},
			expectError: true,
			errorMsg:    "Redis address is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := valid()
			tt.mutate(&config)
			err := config.Validate()

			if tt.expectError {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoggingConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		config      LoggingConfig
		expectError bool
		errorMsg    string
	}{
		{
			name:   "valid config",
			config: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		},
		{
			name:   "valid file output",
			config: LoggingConfig{Level: "debug", Format: "text", Output: "file", FilePath: "/tmp/shaper.log"},
		},
		{
			name:        "invalid level",
			config:      LoggingConfig{Level: "trace", Format: "json", Output: "stdout"},
			expectError: true,
			errorMsg:    "invalid log level: trace",
		},
		{
			name:        "invalid format",
			config:      LoggingConfig{Level: "info", Format: "xml", Output: "stdout"},
			expectError: true,
			errorMsg:    "invalid log format: xml",
		},
		{
			name:        "invalid output",
			config:      LoggingConfig{Level: "info", Format: "json", Output: "syslog"},
			expectError: true,
			errorMsg:    "invalid log output: syslog",
		},
		{
			name:        "file output without path",
			config:      LoggingConfig{Level: "info", Format: "json", Output: "file"},
			expectError: true,
			errorMsg:    "file path is required when output is file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()

			if tt.expectError {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMetricsConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		config      MetricsConfig
		expectError bool
		errorMsg    string
	}{
		{name: "disabled skips checks", config: MetricsConfig{Enabled: false}},
		{name: "valid config", config: MetricsConfig{Enabled: true, Path: "/metrics", Port: 9090}},
		{
			name:        "empty path",
			config:      MetricsConfig{Enabled: true, Port: 9090},
			expectError: true,
			errorMsg:    "metrics path cannot be empty",
		},
		{
			name:        "invalid port",
			config:      MetricsConfig{Enabled: true, Path: "/metrics", Port: 0},
			expectError: true,
			errorMsg:    "metrics port must be between 1 and 65535",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()

			if tt.expectError {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestObservabilityConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		config      ObservabilityConfig
		expectError bool
		errorMsg    string
	}{
		{name: "tracing disabled", config: ObservabilityConfig{}},
		{
			name:   "stdout exporter",
			config: ObservabilityConfig{Tracing: TracingConfig{Enabled: true, Exporter: "stdout", SampleRate: 0.5}},
		},
		{
			name:        "otlp without endpoint",
			config:      ObservabilityConfig{Tracing: TracingConfig{Enabled: true, Exporter: "otlp", SampleRate: 1}},
			expectError: true,
			errorMsg:    "OTLP endpoint is required",
		},
		{
			name:        "sample rate out of range",
			config:      ObservabilityConfig{Tracing: TracingConfig{Enabled: true, Exporter: "stdout", SampleRate: 2}},
			expectError: true,
			errorMsg:    "sample rate must be between 0 and 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()

			if tt.expectError {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
