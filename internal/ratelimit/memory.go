package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// bucket is one partition's token bucket.
type bucket struct {
	tokens   *rate.Limiter
	lastSeen time.Time
}

// MemoryLimiter advertises a single policy of quota requests per window and
// enforces it with one golang.org/x/time/rate bucket per partition. A bucket
// holds a full window's quota and refills at quota/window. Partitions idle
// for twice the cleanup interval are evicted in the background.
type MemoryLimiter struct {
	policy          string
	refill          rate.Limit
	quota           int
	window          time.Duration
	cleanupInterval time.Duration
	now             func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
	done    chan struct{}
	closed  bool
}

// MemoryOption configures a MemoryLimiter.
type MemoryOption func(*MemoryLimiter)

// WithClock replaces time.Now for bucket arithmetic.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryLimiter) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemoryLimiter creates a limiter advertising policy with quota requests
// per window and starts the eviction goroutine.
func NewMemoryLimiter(policy string, quota int, window, cleanupInterval time.Duration, opts ...MemoryOption) *MemoryLimiter {
	m := &MemoryLimiter{
		policy:          policy,
		refill:          rate.Every(window / time.Duration(quota)),
		quota:           quota,
		window:          window,
		cleanupInterval: cleanupInterval,
		now:             time.Now,
		buckets:         make(map[string]*bucket),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.cleanup()
	return m
}

// Allow spends one token from partition's bucket and reports the quota
// state to advertise on the response.
func (m *MemoryLimiter) Allow(partition string) (bool, Info) {
	now := m.now()
	b := m.bucketFor(partition, now)

	allowed := b.tokens.AllowN(now, 1)
	info := m.infoAt(b, now)

	if !allowed {
		r := b.tokens.ReserveN(now, 1)
		info.RetryAfter = r.DelayFrom(now)
		r.CancelAt(now)
	}
	return allowed, info
}

func (m *MemoryLimiter) bucketFor(partition string, now time.Time) *bucket {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[partition]
	if !ok {
		b = &bucket{tokens: rate.NewLimiter(m.refill, m.quota)}
		m.buckets[partition] = b
	}
	b.lastSeen = now
	return b
}

// infoAt reports remaining whole tokens and the time the bucket is full again.
func (m *MemoryLimiter) infoAt(b *bucket, now time.Time) Info {
	tokens := b.tokens.TokensAt(now)

	resetAt := now
	if missing := float64(m.quota) - tokens; missing > 0 {
		resetAt = now.Add(time.Duration(missing / float64(m.refill) * float64(time.Second)))
	}

	return Info{
		Policy:    m.policy,
		Limit:     m.quota,
		Window:    m.window,
		Remaining: int(math.Max(0, math.Floor(tokens))),
		ResetAt:   resetAt,
	}
}

// Len returns the number of partitions currently tracked.
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}

// Close stops the eviction goroutine. It is safe to call more than once.
func (m *MemoryLimiter) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
}

func (m *MemoryLimiter) cleanup() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictIdle(m.now())
		}
	}
}

func (m *MemoryLimiter) evictIdle(now time.Time) {
	cutoff := now.Add(-2 * m.cleanupInterval)
	m.mu.Lock()
	defer m.mu.Unlock()
	for partition, b := range m.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(m.buckets, partition)
		}
	}
}
