package tracker

import "errors"

// Configuration errors returned by New.
var (
	// ErrInvalidThreshold is returned when the throttle threshold is outside [0, 1].
	ErrInvalidThreshold = errors.New("tracker: throttle threshold must be between 0 and 1")

	// ErrInvalidMaxDelay is returned when the maximum delay is not positive.
	ErrInvalidMaxDelay = errors.New("tracker: max delay must be positive")

	// ErrInvalidExpiration is returned when the state expiration window is not positive.
	ErrInvalidExpiration = errors.New("tracker: state expiration must be positive")
)
