package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicy_Valid(t *testing.T) {
	assert.True(t, Policy{Name: "p", Quota: 1}.Valid())
	assert.False(t, Policy{Name: "p", Quota: 0}.Valid())
	assert.False(t, Policy{Name: "p", Quota: -5}.Valid())
}

func TestHeaderSnapshot_Empty(t *testing.T) {
	assert.True(t, HeaderSnapshot{}.Empty())
	assert.True(t, HeaderSnapshot{ObservedAt: time.Now()}.Empty())
	assert.False(t, HeaderSnapshot{Policies: []Policy{{Name: "p", Quota: 1}}}.Empty())
	assert.False(t, HeaderSnapshot{Limits: []Limit{{PolicyName: "p"}}}.Empty())
	assert.False(t, HeaderSnapshot{RetryAfterSeconds: Int64Ptr(0)}.Empty())
}

func TestHeaderSnapshot_PolicyByName(t *testing.T) {
	snap := HeaderSnapshot{Policies: []Policy{
		{Name: "burst", Quota: 10},
		{Name: "daily", Quota: 1000},
		{Name: "burst", Quota: 99},
	}}

	p, ok := snap.PolicyByName("burst")
	assert.True(t, ok)
	assert.Equal(t, int64(10), p.Quota)

	_, ok = snap.PolicyByName("hourly")
	assert.False(t, ok)
}

func TestTrackedState_Stale(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	expiration := 10 * time.Minute

	future := now.Add(time.Second)
	past := now.Add(-time.Second)

	tests := []struct {
		name  string
		state TrackedState
		want  bool
	}{
		{name: "reset in future", state: TrackedState{ResetAt: &future, LastUpdated: now.Add(-time.Hour)}, want: false},
		{name: "reset in past", state: TrackedState{ResetAt: &past, LastUpdated: now}, want: true},
		{name: "reset exactly now", state: TrackedState{ResetAt: &now, LastUpdated: now}, want: false},
		{name: "no reset, fresh", state: TrackedState{LastUpdated: now.Add(-time.Minute)}, want: false},
		{name: "no reset, at expiration", state: TrackedState{LastUpdated: now.Add(-expiration)}, want: false},
		{name: "no reset, expired", state: TrackedState{LastUpdated: now.Add(-expiration - time.Second)}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.Stale(now, expiration))
		})
	}
}
