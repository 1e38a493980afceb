package tiercache

import "sync/atomic"

type counters struct {
	hits          [3]atomic.Uint64 // memory, shared, disk
	misses        atomic.Uint64
	writeThroughs atomic.Uint64
	selfHeals     atomic.Uint64
	tierErrors    atomic.Uint64
}

// Stats is a point-in-time copy of the coordinator counters.
type Stats struct {
	MemoryHits    uint64
	SharedHits    uint64
	DiskHits      uint64
	Misses        uint64
	WriteThroughs uint64
	SelfHeals     uint64
	TierErrors    uint64
}

// Hits returns the total number of hits across tiers.
func (s Stats) Hits() uint64 { return s.MemoryHits + s.SharedHits + s.DiskHits }

func (c *Coordinator) Stats() Stats {
	return Stats{
		MemoryHits:    c.stats.hits[0].Load(),
		SharedHits:    c.stats.hits[1].Load(),
		DiskHits:      c.stats.hits[2].Load(),
		Misses:        c.stats.misses.Load(),
		WriteThroughs: c.stats.writeThroughs.Load(),
		SelfHeals:     c.stats.selfHeals.Load(),
		TierErrors:    c.stats.tierErrors.Load(),
	}
}
