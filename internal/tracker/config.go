package tracker

import (
	"log/slog"
	"math"
	"net/url"
	"time"

	"shaper/internal/models"
)

// Config controls how observed quotas turn into delays.
type Config struct {
	// ThrottleThreshold is the utilization (0 to 1) at which proactive
	// throttling starts spreading the remaining budget.
	ThrottleThreshold float64

	// MaxDelay caps every computed delay except an active Retry-After.
	MaxDelay time.Duration

	// StateExpiration is how long a state without a reset time stays usable.
	StateExpiration time.Duration

	ProactiveThrottling bool

	// KeyFunc derives the tracking key for a target. Defaults to scheme://host.
	KeyFunc func(*url.URL) string

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time

	Logger *slog.Logger
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		ThrottleThreshold:   0.8,
		MaxDelay:            60 * time.Second,
		StateExpiration:     10 * time.Minute,
		ProactiveThrottling: true,
	}
}

// ConfigFromModel maps the shaper section of the service configuration.
func ConfigFromModel(sc models.ShaperConfig) Config {
	return Config{
		ThrottleThreshold:   sc.ThrottleThreshold,
		MaxDelay:            sc.MaxDelay,
		StateExpiration:     sc.StateExpiration,
		ProactiveThrottling: sc.ProactiveThrottling,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if math.IsNaN(c.ThrottleThreshold) || c.ThrottleThreshold < 0 || c.ThrottleThreshold > 1 {
		return ErrInvalidThreshold
	}
	if c.MaxDelay <= 0 {
		return ErrInvalidMaxDelay
	}
	if c.StateExpiration <= 0 {
		return ErrInvalidExpiration
	}
	return nil
}
