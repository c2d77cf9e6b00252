// Package pool implements the pre-warmed data-channel pool the control
// channel draws from when the server asks it to start forwarding traffic
// (SPEC_FULL.md §4.5, spec.md §4.5): a bounded, idle-evicting queue of
// already-authenticated data channels, backed by a semaphore that caps
// concurrent channel creation.
package pool

import (
	"sync/atomic"

	"github.com/dustin/go-humanize"
)

// Stats holds the running counters the pool exposes for observability,
// mirrored one-for-one from the upstream pool manager's PoolStats.
type Stats struct {
	totalCreated  atomic.Int64
	pooledCount   atomic.Int64
	inUseCount    atomic.Int64
	totalAcquired atomic.Int64
	totalReturned atomic.Int64
	totalExpired  atomic.Int64
}

// Snapshot is a point-in-time copy of Stats safe to pass around or log.
type Snapshot struct {
	TotalCreated  int64
	PooledCount   int64
	InUseCount    int64
	TotalAcquired int64
	TotalReturned int64
	TotalExpired  int64
}

func (s *Stats) recordCreated()             { s.totalCreated.Add(1) }
func (s *Stats) recordExpired()             { s.totalExpired.Add(1) }
func (s *Stats) setPooledCount(count int)   { s.pooledCount.Store(int64(count)) }
func (s *Stats) recordAcquired() {
	s.totalAcquired.Add(1)
	s.inUseCount.Add(1)
}
func (s *Stats) recordReturned() {
	s.totalReturned.Add(1)
	s.inUseCount.Add(-1)
}

// Snapshot returns a consistent-enough (each field loaded independently,
// per the upstream's own relaxed-ordering semantics) copy of the counters.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		TotalCreated:  s.totalCreated.Load(),
		PooledCount:   s.pooledCount.Load(),
		InUseCount:    s.inUseCount.Load(),
		TotalAcquired: s.totalAcquired.Load(),
		TotalReturned: s.totalReturned.Load(),
		TotalExpired:  s.totalExpired.Load(),
	}
}

// String renders the snapshot as a human-readable health line, including a
// humanized running total of channels ever created.
func (s Snapshot) String() string {
	return "pool health: created=" + humanize.Comma(s.TotalCreated) +
		" pooled=" + humanize.Comma(s.PooledCount) +
		" in_use=" + humanize.Comma(s.InUseCount) +
		" acquired=" + humanize.Comma(s.TotalAcquired) +
		" returned=" + humanize.Comma(s.TotalReturned) +
		" expired=" + humanize.Comma(s.TotalExpired)
}
