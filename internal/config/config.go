// Package config loads the shaper configuration: built-in defaults, then an
// optional YAML file, then SHAPER_* environment overrides, then validation.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"shaper/internal/models"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SHAPER_"

// Load loads configuration from file and environment variables
func Load(configPath string) (*models.Config, error) {
	// Start with default configuration
	config := models.NewDefaultConfig()

	// Load from file if provided
	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Override with environment variables
	loadFromEnvironment(config)

	// Validate the final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

var knownSections = []string{"shaper", "mock_server", "logging", "metrics", "observability"}

// warnUnknownSections logs a warning for each top-level key the decoder
// will silently ignore.
func warnUnknownSections(data []byte) {
	var top map[string]yaml.Node
	if err := yaml.Unmarshal(data, &top); err != nil {
		return
	}
	for key := range top {
		if !slices.Contains(knownSections, key) {
			slog.Warn("Ignoring unknown config section", "config_key", key)
		}
	}
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(config *models.Config, filePath string) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	warnUnknownSections(data)
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

// loadFromEnvironment loads configuration from environment variables.
// Values that fail to parse are ignored.
func loadFromEnvironment(config *models.Config) {
	// Shaper configuration
	envString("WAIT_MODE", &config.Shaper.WaitMode)
	envDuration("MAX_DELAY", &config.Shaper.MaxDelay)
	envBool("AUTO_RETRY", &config.Shaper.AutoRetry)
	envInt("MAX_RETRIES", &config.Shaper.MaxRetries)
	envBool("PROACTIVE_THROTTLING", &config.Shaper.ProactiveThrottling)
	envFloat("THROTTLE_THRESHOLD", &config.Shaper.ThrottleThreshold)
	envDuration("STATE_EXPIRATION", &config.Shaper.StateExpiration)
	envString("PARTITION_CLAIM", &config.Shaper.PartitionClaim)
	envDuration("REQUEST_TIMEOUT", &config.Shaper.RequestTimeout)

	// Mock server configuration
	envInt("PORT", &config.MockServer.Port)
	envString("HOST", &config.MockServer.Host)
	envDuration("READ_TIMEOUT", &config.MockServer.ReadTimeout)
	envDuration("WRITE_TIMEOUT", &config.MockServer.WriteTimeout)
	envDuration("IDLE_TIMEOUT", &config.MockServer.IdleTimeout)
	envBool("RATE_LIMIT_ENABLED", &config.MockServer.RateLimit.Enabled)
	envString("RATE_LIMIT_POLICY", &config.MockServer.RateLimit.PolicyName)
	envInt("RATE_LIMIT_QUOTA", &config.MockServer.RateLimit.Quota)
	envDuration("RATE_LIMIT_WINDOW", &config.MockServer.RateLimit.Window)
	envString("RATE_LIMIT_PARTITION_CLAIM", &config.MockServer.RateLimit.PartitionClaim)
	envString("STATS_TYPE", &config.MockServer.Stats.Type)
	envDuration("STATS_TTL", &config.MockServer.Stats.TTL)

	// Redis configuration
	envString("REDIS_ADDR", &config.MockServer.Stats.Redis.Addr)
	envString("REDIS_PASSWORD", &config.MockServer.Stats.Redis.Password)
	envInt("REDIS_DB", &config.MockServer.Stats.Redis.DB)
	envInt("REDIS_POOL_SIZE", &config.MockServer.Stats.Redis.PoolSize)
	envString("REDIS_PREFIX", &config.MockServer.Stats.Redis.Prefix)

	// Logging configuration
	envString("LOG_LEVEL", &config.Logging.Level)
	envString("LOG_FORMAT", &config.Logging.Format)
	envString("LOG_OUTPUT", &config.Logging.Output)
	envString("LOG_FILE_PATH", &config.Logging.FilePath)

	// Metrics configuration
	envBool("METRICS_ENABLED", &config.Metrics.Enabled)
	envString("METRICS_PATH", &config.Metrics.Path)
	envInt("METRICS_PORT", &config.Metrics.Port)

	// Observability configuration
	envString("SERVICE_NAME", &config.Observability.ServiceName)
	envBool("TRACING_ENABLED", &config.Observability.Tracing.Enabled)
	envString("TRACING_EXPORTER", &config.Observability.Tracing.Exporter)
	envString("OTLP_ENDPOINT", &config.Observability.Tracing.OTLPEndpoint)
	envFloat("TRACING_SAMPLE_RATE", &config.Observability.Tracing.SampleRate)
}

func envString(name string, dst *string) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(name string, dst *float64) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(name string, dst *bool) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		*dst = strings.ToLower(v) == "true"
	}
}

func envDuration(name string, dst *time.Duration) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// SaveExample saves an example configuration file
func SaveExample(filePath string) error {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	config := models.NewDefaultConfig()

	// Example values for the optional pieces
	config.Shaper.PartitionClaim = "sub"
	config.MockServer.Stats.Type = models.StatsTypeRedis
	config.Observability.Tracing.Exporter = "otlp"
	config.Observability.Tracing.OTLPEndpoint = "localhost:4317"

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
