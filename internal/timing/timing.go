// Package timing accumulates per-operation elapsed time and call counts for
// the nonbonded GPU core: host/device transfers, pair-list uploads, and the
// four force-kernel variants.
package timing

import (
	"sync"
	"time"
)

// KernelTime is the accumulated time and call count of one force-kernel
// variant.
type KernelTime struct {
	T time.Duration
	C int
}

// Snapshot is a read-only copy of the accumulated counters.
type Snapshot struct {
	// Kernel holds the four force-kernel variants indexed by
	// [energy][prune].
	Kernel [2][2]KernelTime

	NbH2D   time.Duration // atom-data host to device transfer time
	NbD2H   time.Duration // force/energy device to host transfer time
	NbCount int           // nonbonded step count

	PairlistH2D   time.Duration // pair-search step host to device time
	PairlistCount int
}

// Aggregator accumulates counters monotonically. When disabled, recording
// calls are no-ops and Get reports unavailable, so callers can distinguish
// "no time elapsed" from "not measured". Counters reset only on explicit
// Reset, never implicitly.
type Aggregator struct {
	enabled bool

	mu   sync.Mutex
	snap Snapshot
}

func New(enabled bool) *Aggregator {
	return &Aggregator{enabled: enabled}
}

func (a *Aggregator) Enabled() bool { return a.enabled }

func (a *Aggregator) AddNbH2D(d time.Duration) {
	if !a.enabled {
		return
	}
	a.mu.Lock()
	a.snap.NbH2D += d
	a.mu.Unlock()
}

func (a *Aggregator) AddNbD2H(d time.Duration) {
	if !a.enabled {
		return
	}
	a.mu.Lock()
	a.snap.NbD2H += d
	a.mu.Unlock()
}

// CountStep increments the nonbonded operation counter.
func (a *Aggregator) CountStep() {
	if !a.enabled {
		return
	}
	a.mu.Lock()
	a.snap.NbCount++
	a.mu.Unlock()
}

func (a *Aggregator) AddPairlistH2D(d time.Duration) {
	if !a.enabled {
		return
	}
	a.mu.Lock()
	a.snap.PairlistH2D += d
	a.mu.Unlock()
}

// CountPairlistUpload increments the pair-search upload counter. Counted
// once per list even though the list transfers in several buffers.
func (a *Aggregator) CountPairlistUpload() {
	if !a.enabled {
		return
	}
	a.mu.Lock()
	a.snap.PairlistCount++
	a.mu.Unlock()
}

func (a *Aggregator) AddKernel(energy, prune bool, d time.Duration) {
	if !a.enabled {
		return
	}
	i, j := 0, 0
	if energy {
		i = 1
	}
	if prune {
		j = 1
	}
	a.mu.Lock()
	a.snap.Kernel[i][j].T += d
	a.snap.Kernel[i][j].C++
	a.mu.Unlock()
}

// Get returns a copy of the counters. The second return is false when the
// aggregator is disabled.
func (a *Aggregator) Get() (Snapshot, bool) {
	if !a.enabled {
		return Snapshot{}, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snap, true
}

// Reset zeroes all counters.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.snap = Snapshot{}
	a.mu.Unlock()
}
