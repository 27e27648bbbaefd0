package ratelimit

import (
	"context"
	"time"
)

// StatsEvent describes one rate limit decision.
type StatsEvent struct {
	Partition string
	Policy    string
	Allowed   bool
	Method    string
	Path      string
	At        time.Time
}

// StatsStore records rate limit decisions. Recording is best-effort; the
// middleware never fails a request because a store returned an error.
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}

// Counters is an allowed/denied pair.
type Counters struct {
	Allowed int64 `json:"allowed"`
	Denied  int64 `json:"denied"`
}

func (c *Counters) add(allowed bool) {
	if allowed {
		c.Allowed++
	} else {
		c.Denied++
	}
}
