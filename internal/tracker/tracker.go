// Package tracker keeps the last observed rate limit state per target, policy
// and partition, and turns it into the delay a client should observe before
// its next request.
//
// States live in a sync.Map as immutable *models.TrackedState values. Every
// observation publishes a new value with LoadOrStore or CompareAndSwap, so
// concurrent updates to different keys never contend and readers never see a
// half-written state.
package tracker

import (
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"shaper/internal/models"
)

// Tracker is safe for concurrent use.
type Tracker struct {
	cfg    Config
	clock  func() time.Time
	logger *slog.Logger
	states sync.Map // composite key -> *models.TrackedState
}

// New validates cfg and returns an empty tracker.
func New(cfg Config) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	t := &Tracker{
		cfg:    cfg,
		clock:  cfg.Clock,
		logger: cfg.Logger,
	}
	if t.clock == nil {
		t.clock = time.Now
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	return t, nil
}

// Config returns the configuration the tracker was built with.
func (t *Tracker) Config() Config {
	return t.cfg
}

// Now returns the tracker's notion of the current time.
func (t *Tracker) Now() time.Time {
	return t.clock()
}

// TrackingKey derives the key that groups all states of one target.
func (t *Tracker) TrackingKey(target *url.URL) string {
	if target == nil {
		return models.DefaultPartToken
	}
	if t.cfg.KeyFunc != nil {
		if key := t.cfg.KeyFunc(target); key != "" {
			return key
		}
	}
	return target.Scheme + "://" + target.Host
}

// keyPartEscaper keeps the last two separators of a composite key unambiguous.
var keyPartEscaper = strings.NewReplacer("%", "%25", ":", "%3A")

// CompositeKey builds the storage key of one quota. Empty policy or
// partition parts become "default". A ':' or '%' inside policy or partition
// is percent-encoded.
func CompositeKey(trackingKey, policy, partition string) string {
	if policy == "" {
		policy = models.DefaultPartToken
	}
	if partition == "" {
		partition = models.DefaultPartToken
	}
	return trackingKey + ":" + keyPartEscaper.Replace(policy) + ":" + keyPartEscaper.Replace(partition)
}

// Update records every limit in snap against target. Policies in the same
// snapshot supply quota and window for limits sharing their name, first match
// winning. A Retry-After value is stored as a partition-agnostic synthetic
// state that takes precedence in ComputeDelay.
func (t *Tracker) Update(snap models.HeaderSnapshot, target *url.URL) {
	trackingKey := t.TrackingKey(target)
	observedAt := snap.ObservedAt
	if observedAt.IsZero() {
		observedAt = t.clock()
	}

	for _, limit := range snap.Limits {
		partition := models.DefaultPartToken
		if limit.PartitionKey != nil && *limit.PartitionKey != "" {
			partition = *limit.PartitionKey
		}
		policyName := limit.PolicyName
		if policyName == "" {
			policyName = models.DefaultPartToken
		}
		key := CompositeKey(trackingKey, policyName, partition)

		limitObserved := limit.ObservedAt
		if limitObserved.IsZero() {
			limitObserved = observedAt
		}
		policy, hasPolicy := snap.PolicyByName(limit.PolicyName)

		t.modify(key, func(prev *models.TrackedState) *models.TrackedState {
			next := &models.TrackedState{
				Key:          key,
				Target:       trackingKey,
				PolicyName:   policyName,
				PartitionKey: partition,
				Remaining:    max(limit.Remaining, 0),
				LastUpdated:  limitObserved,
			}
			if prev != nil {
				next.Quota = prev.Quota
				next.WindowSeconds = prev.WindowSeconds
			}
			if limit.ResetSeconds != nil {
				resetAt := limitObserved.Add(time.Duration(*limit.ResetSeconds) * time.Second)
				next.ResetAt = &resetAt
			}
			if hasPolicy {
				next.Quota = models.Int64Ptr(policy.Quota)
				next.WindowSeconds = nil
				if policy.WindowSeconds != nil {
					next.WindowSeconds = models.Int64Ptr(*policy.WindowSeconds)
				}
			}
			return next
		})

		t.logger.Debug("Rate limit state updated",
			"key", key,
			"remaining", limit.Remaining,
			"has_policy", hasPolicy,
		)
	}

	if snap.RetryAfterSeconds != nil {
		key := CompositeKey(trackingKey, models.RetryAfterPolicy, "")
		resetAt := observedAt.Add(time.Duration(max(*snap.RetryAfterSeconds, 0)) * time.Second)
		state := &models.TrackedState{
			Key:          key,
			Target:       trackingKey,
			PolicyName:   models.RetryAfterPolicy,
			PartitionKey: models.DefaultPartToken,
			Remaining:    0,
			ResetAt:      &resetAt,
			LastUpdated:  observedAt,
		}
		t.modify(key, func(*models.TrackedState) *models.TrackedState { return state })

		t.logger.Debug("Retry-After recorded", "key", key, "retry_after", *snap.RetryAfterSeconds)
	}
}

// modify publishes fn(prev) under key. fn may run more than once when another
// writer wins the race and must not have side effects.
func (t *Tracker) modify(key string, fn func(prev *models.TrackedState) *models.TrackedState) {
	for {
		current, loaded := t.states.Load(key)
		if !loaded {
			if _, loaded = t.states.LoadOrStore(key, fn(nil)); !loaded {
				return
			}
			continue
		}
		if t.states.CompareAndSwap(key, current, fn(current.(*models.TrackedState))) {
			return
		}
	}
}

// ComputeDelay returns how long to wait before the next request to target.
//
// An empty partitionKey considers every state of the target. Otherwise only
// states of that partition, states shared by all partitions and the
// Retry-After state are considered. A limit reported without a pk is stored
// under the "default" partition and therefore delays every partition of the
// target.
//
// An active Retry-After state is returned as is. Otherwise the result is the
// largest candidate over all fresh states, clamped to [0, MaxDelay].
func (t *Tracker) ComputeDelay(target *url.URL, partitionKey string) time.Duration {
	trackingKey := t.TrackingKey(target)
	now := t.clock()

	var (
		delay      time.Duration
		retryAfter time.Duration
		hasRetry   bool
	)

	t.states.Range(func(_, value any) bool {
		state := value.(*models.TrackedState)
		if state.Target != trackingKey {
			return true
		}
		if state.Stale(now, t.cfg.StateExpiration) {
			return true
		}

		if state.PolicyName == models.RetryAfterPolicy {
			if state.ResetAt != nil && state.ResetAt.After(now) {
				retryAfter = state.ResetAt.Sub(now)
				hasRetry = true
				return false
			}
			return true
		}

		if partitionKey != "" &&
			state.PartitionKey != partitionKey &&
			state.PartitionKey != models.DefaultPartToken {
			return true
		}

		delay = max(delay, t.candidateDelay(state, now))
		return true
	})

	if hasRetry {
		return retryAfter
	}
	return min(max(delay, 0), t.cfg.MaxDelay)
}

func (t *Tracker) candidateDelay(state *models.TrackedState, now time.Time) time.Duration {
	if state.Remaining <= 0 {
		if state.ResetAt == nil {
			return 0
		}
		return state.ResetAt.Sub(now)
	}
	if !t.cfg.ProactiveThrottling {
		return 0
	}
	return t.proactiveDelay(state, now)
}

// proactiveDelay spreads the remaining budget evenly over the time left in
// the window once utilization reaches the throttle threshold.
func (t *Tracker) proactiveDelay(state *models.TrackedState, now time.Time) time.Duration {
	if state.Quota == nil || *state.Quota <= 0 {
		return 0
	}
	if state.WindowSeconds == nil && state.ResetAt == nil {
		return 0
	}

	quota := *state.Quota
	utilization := float64(quota-state.Remaining) / float64(quota)
	if utilization < t.cfg.ThrottleThreshold {
		return 0
	}

	var timeRemaining time.Duration
	if state.ResetAt != nil {
		timeRemaining = state.ResetAt.Sub(now)
	} else {
		window := time.Duration(*state.WindowSeconds) * time.Second
		timeRemaining = window - now.Sub(state.LastUpdated)
	}

	if timeRemaining <= 0 || state.Remaining <= 0 {
		return 0
	}
	return min(timeRemaining/time.Duration(state.Remaining), t.cfg.MaxDelay)
}

// Clear discards all tracked state.
func (t *Tracker) Clear() {
	t.states.Clear()
}

// Snapshot returns a copy of every tracked state, stale ones included.
func (t *Tracker) Snapshot() map[string]models.TrackedState {
	out := make(map[string]models.TrackedState)
	t.states.Range(func(key, value any) bool {
		out[key.(string)] = *value.(*models.TrackedState)
		return true
	})
	return out
}

// Len returns the number of tracked states.
func (t *Tracker) Len() int {
	n := 0
	t.states.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
