// Package models - Rate limit records decoded from response headers and the
// per-quota state the tracker keeps for them.
//
// Record lifecycle:
// - Policy and Limit values are built once per response and never mutated
// - HeaderSnapshot groups everything decoded from a single response
// - TrackedState is owned by the tracker; every observation publishes a new value
package models

import "time"

const (
	// DefaultQuotaUnit is the quota unit assumed when a policy omits qu.
	DefaultQuotaUnit = "requests"

	// DefaultPartToken replaces a missing policy name or partition key in a
	// composite tracking key.
	DefaultPartToken = "default"

	// RetryAfterPolicy is the synthetic policy name under which a standalone
	// Retry-After value is tracked.
	RetryAfterPolicy = "retry-after"
)

// Policy describes one quota advertised in a RateLimit-Policy header.
type Policy struct {
	Name          string  `json:"name"`
	Quota         int64   `json:"quota"`
	WindowSeconds *int64  `json:"window_seconds,omitempty"`
	QuotaUnit     string  `json:"quota_unit"`
	PartitionKey  *string `json:"partition_key,omitempty"`
}

// Valid reports whether the policy carries a usable quota.
func (p Policy) Valid() bool {
	return p.Quota > 0
}

// Limit describes current consumption of a policy as reported by a RateLimit
// header.
type Limit struct {
	PolicyName   string    `json:"policy_name"`
	Remaining    int64     `json:"remaining"`
	ResetSeconds *int64    `json:"reset_seconds,omitempty"`
	PartitionKey *string   `json:"partition_key,omitempty"`
	ObservedAt   time.Time `json:"observed_at"`
}

// HeaderSnapshot holds every rate limit record decoded from one response.
// RetryAfterSeconds comes from the standard Retry-After header and takes
// precedence over any Limit reset.
type HeaderSnapshot struct {
	Policies          []Policy  `json:"policies,omitempty"`
	Limits            []Limit   `json:"limits,omitempty"`
	RetryAfterSeconds *int64    `json:"retry_after_seconds,omitempty"`
	ObservedAt        time.Time `json:"observed_at"`
}

// Empty reports whether the response carried no rate limit information.
func (s HeaderSnapshot) Empty() bool {
	return len(s.Policies) == 0 && len(s.Limits) == 0 && s.RetryAfterSeconds == nil
}

// PolicyByName returns the first policy with the given name.
func (s HeaderSnapshot) PolicyByName(name string) (Policy, bool) {
	for _, p := range s.Policies {
		if p.Name == name {
			return p, true
		}
	}
	return Policy{}, false
}

// TrackedState is the last observed state of one quota for one target and
// partition. Values are treated as immutable once published.
type TrackedState struct {
	Key           string     `json:"key"`
	Target        string     `json:"target"`
	PolicyName    string     `json:"policy_name"`
	PartitionKey  string     `json:"partition_key"`
	Remaining     int64      `json:"remaining"`
	ResetAt       *time.Time `json:"reset_at,omitempty"`
	LastUpdated   time.Time  `json:"last_updated"`
	Quota         *int64     `json:"quota,omitempty"`
	WindowSeconds *int64     `json:"window_seconds,omitempty"`
}

// Stale reports whether the state must be ignored at now. A state is stale
// once its reset time has passed, or, without a reset time, once it has not
// been refreshed within expiration.
func (s TrackedState) Stale(now time.Time, expiration time.Duration) bool {
	if s.ResetAt != nil {
		return s.ResetAt.Before(now)
	}
	return now.Sub(s.LastUpdated) > expiration
}

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 {
	return &v
}

// StringPtr returns a pointer to v.
func StringPtr(v string) *string {
	return &v
}
