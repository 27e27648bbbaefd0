// Package ratelimit is the server side of the rate limit headers: a token
// bucket limiter per partition and HTTP middleware that advertises the quota
// through RateLimit-Policy and RateLimit, answering 429 with Retry-After once
// a partition is exhausted. The mock upstream uses it to exercise clients.
package ratelimit

import "time"

// Limiter defines the rate limiting contract. Implementations must be safe for
// concurrent use.
type Limiter interface {
	// Allow checks whether a request identified by key should be allowed.
	// Returns whether the request is allowed and rate information for
	// populating response headers.
	Allow(key string) (allowed bool, info Info)

	// Close stops background goroutines and releases resources.
	Close()
}

// Info contains rate limit state for populating response headers.
type Info struct {
	Policy     string        // Advertised policy name
	Limit      int           // Quota per window
	Window     time.Duration // Window the quota applies to
	Remaining  int           // Approximate tokens remaining
	ResetAt    time.Time     // When the bucket will be full again
	RetryAfter time.Duration // How long to wait (meaningful only when denied)
}
