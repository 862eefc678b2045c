package crossbar

import "sync/atomic"

// Stats counts crossbar events for operational visibility.
type Stats struct {
	Allocations  atomic.Uint64
	Exhaustions  atomic.Uint64
	Denials      atomic.Uint64
	PassThroughs atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Allocations  uint64
	Exhaustions  uint64
	Denials      uint64
	PassThroughs uint64
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Allocations:  s.Allocations.Load(),
		Exhaustions:  s.Exhaustions.Load(),
		Denials:      s.Denials.Load(),
		PassThroughs: s.PassThroughs.Load(),
	}
}
