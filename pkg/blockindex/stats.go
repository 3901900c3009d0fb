package blockindex

import (
	"sync/atomic"
	"time"
)

// Stats mirrors the original BlockIndex::Statistics struct
// (core/include/core/block_index.h): lock contention counters, read/write/
// replay timing totals, a mean import latency, and throttle
// counts, surfaced by cmd/dedupv1d's /stats and /lock monitor endpoints.
type Stats struct {
	lockFree atomic.Uint64
	lockBusy atomic.Uint64

	reads       atomic.Uint64
	readNanos   atomic.Uint64
	writes      atomic.Uint64
	writeNanos  atomic.Uint64
	replays     atomic.Uint64
	replayNanos atomic.Uint64

	imports          atomic.Uint64
	importNanosTotal atomic.Uint64

	softThrottles atomic.Uint64
	hardThrottles atomic.Uint64
}

// RecordLock records whether a striped-lock acquisition was immediately
// free (uncontended) or had to wait.
func (s *Stats) RecordLock(wasFree bool) {
	if wasFree {
		s.lockFree.Add(1)
	} else {
		s.lockBusy.Add(1)
	}
}

// RecordRead records one Lookup call's latency.
func (s *Stats) RecordRead(d time.Duration) {
	s.reads.Add(1)
	s.readNanos.Add(uint64(d.Nanoseconds()))
}

// RecordWrite records one StoreBlock call's latency.
func (s *Stats) RecordWrite(d time.Duration) {
	s.writes.Add(1)
	s.writeNanos.Add(uint64(d.Nanoseconds()))
}

// RecordReplay records one Replay call's latency.
func (s *Stats) RecordReplay(d time.Duration) {
	s.replays.Add(1)
	s.replayNanos.Add(uint64(d.Nanoseconds()))
}

// RecordImport records one background-importer promotion's latency, feeding
// the mean exposed as Snapshot.AverageImportNanos.
func (s *Stats) RecordImport(d time.Duration) {
	s.imports.Add(1)
	s.importNanosTotal.Add(uint64(d.Nanoseconds()))
}

// RecordThrottle increments the soft- or hard-limit throttle counter.
func (s *Stats) RecordThrottle(hard bool) {
	if hard {
		s.hardThrottles.Add(1)
	} else {
		s.softThrottles.Add(1)
	}
}

// Snapshot is a point-in-time, JSON-friendly copy of Stats for monitor
// endpoints.
type Snapshot struct {
	LockFree uint64 `json:"lock_free"`
	LockBusy uint64 `json:"lock_busy"`

	Reads      uint64 `json:"reads"`
	ReadNanos  uint64 `json:"read_nanos_total"`
	Writes     uint64 `json:"writes"`
	WriteNanos uint64 `json:"write_nanos_total"`
	Replays    uint64 `json:"replays"`
	ReplayNanos uint64 `json:"replay_nanos_total"`

	Imports            uint64  `json:"imports"`
	AverageImportNanos float64 `json:"average_import_nanos"`

	SoftThrottles uint64 `json:"soft_throttles"`
	HardThrottles uint64 `json:"hard_throttles"`
}

// Snapshot copies s's current counters.
func (s *Stats) Snapshot() Snapshot {
	imports := s.imports.Load()
	var avg float64
	if imports > 0 {
		avg = float64(s.importNanosTotal.Load()) / float64(imports)
	}
	return Snapshot{
		LockFree:           s.lockFree.Load(),
		LockBusy:           s.lockBusy.Load(),
		Reads:              s.reads.Load(),
		ReadNanos:          s.readNanos.Load(),
		Writes:             s.writes.Load(),
		WriteNanos:         s.writeNanos.Load(),
		Replays:            s.replays.Load(),
		ReplayNanos:        s.replayNanos.Load(),
		Imports:            imports,
		AverageImportNanos: avg,
		SoftThrottles:      s.softThrottles.Load(),
		HardThrottles:      s.hardThrottles.Load(),
	}
}
