package ratelimit

import (
	"context"
	"maps"
	"sync"
)

// MemoryStats keeps decision counters in process.
type MemoryStats struct {
	mu          sync.Mutex
	total       Counters
	byPartition map[string]Counters
	byPath      map[string]Counters
}

// NewMemoryStats returns an empty in-memory store.
func NewMemoryStats() *MemoryStats {
	return &MemoryStats{
		byPartition: make(map[string]Counters),
		byPath:      make(map[string]Counters),
	}
}

// Record implements StatsStore.
func (s *MemoryStats) Record(_ context.Context, ev StatsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total.add(ev.Allowed)

	c := s.byPartition[ev.Partition]
	c.add(ev.Allowed)
	s.byPartition[ev.Partition] = c

	route := ev.Method + " " + ev.Path
	c = s.byPath[route]
	c.add(ev.Allowed)
	s.byPath[route] = c
	return nil
}

// Total returns the counters across all partitions.
func (s *MemoryStats) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// ByPartition returns a copy of the per-partition counters.
func (s *MemoryStats) ByPartition() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.byPartition)
}

// ByPath returns a copy of the per-route counters keyed "METHOD /path".
func (s *MemoryStats) ByPath() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.byPath)
}
