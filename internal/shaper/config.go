package shaper

import (
	"errors"
	"fmt"
	"time"

	"shaper/internal/models"
)

var (
	// ErrNilTracker is returned by New when no tracker is supplied.
	ErrNilTracker = errors.New("shaper: tracker is required")

	// ErrInvalidWaitMode is returned for an unknown wait mode.
	ErrInvalidWaitMode = errors.New("shaper: invalid wait mode")

	// ErrInvalidMaxDelay is returned when the maximum delay is not positive.
	ErrInvalidMaxDelay = errors.New("shaper: max delay must be positive")

	// ErrInvalidMaxRetries is returned when the retry bound is negative.
	ErrInvalidMaxRetries = errors.New("shaper: max retries cannot be negative")

	errBodyNotReplayable = errors.New("shaper: request body cannot be replayed")
)

// WaitMode selects where the transport applies the computed delay.
type WaitMode int

const (
	// WaitBefore delays a request before it is sent.
	WaitBefore WaitMode = iota
	// WaitAfter delays after a response has been received and recorded.
	WaitAfter
	// WaitNever leaves waiting to the caller.
	WaitNever
)

func (m WaitMode) String() string {
	switch m {
	case WaitBefore:
		return models.WaitModeBefore
	case WaitAfter:
		return models.WaitModeAfter
	case WaitNever:
		return models.WaitModeNever
	default:
		return fmt.Sprintf("WaitMode(%d)", int(m))
	}
}

// ParseWaitMode maps the configuration spelling of a wait mode.
func ParseWaitMode(s string) (WaitMode, error) {
	switch s {
	case models.WaitModeBefore:
		return WaitBefore, nil
	case models.WaitModeAfter:
		return WaitAfter, nil
	case models.WaitModeNever:
		return WaitNever, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidWaitMode, s)
	}
}

// Config controls the transport.
type Config struct {
	WaitMode WaitMode

	// MaxDelay is the longest delay the transport retries a 429 after.
	MaxDelay time.Duration

	// AutoRetry re-sends a 429 once the tracked delay has elapsed.
	AutoRetry bool

	// MaxRetries bounds automatic retries per request.
	MaxRetries int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		WaitMode:   WaitBefore,
		MaxDelay:   60 * time.Second,
		AutoRetry:  false,
		MaxRetries: 3,
	}
}

// ConfigFromModel maps the shaper section of the service configuration.
func ConfigFromModel(sc models.ShaperConfig) (Config, error) {
	mode, err := ParseWaitMode(sc.WaitMode)
	if err != nil {
		return Config{}, err
	}
	return Config{
		WaitMode:   mode,
		MaxDelay:   sc.MaxDelay,
		AutoRetry:  sc.AutoRetry,
		MaxRetries: sc.MaxRetries,
	}, nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.WaitMode < WaitBefore || c.WaitMode > WaitNever {
		return fmt.Errorf("%w: %d", ErrInvalidWaitMode, int(c.WaitMode))
	}
	if c.MaxDelay <= 0 {
		return ErrInvalidMaxDelay
	}
	if c.MaxRetries < 0 {
		return ErrInvalidMaxRetries
	}
	return nil
}
