package nonbonded

import (
	"fmt"

	"github.com/san-kum/nbgpu/internal/device"
)

// pairListStore holds the device copy of one domain's cluster-pair list.
// The three sub-buffers reallocate independently: their sizes scale
// differently with system topology.
type pairListStore struct {
	clusterSize int // atoms per cluster cell, -1 until first upload

	sci  deviceSlice
	cj4  deviceSlice
	excl deviceSlice

	// doPrune is set on every fresh upload: the list owes a pruning pass
	// before it is fully valid for dispatch.
	doPrune bool
}

func newPairListStore() *pairListStore {
	return &pairListStore{
		clusterSize: -1,
		sci:         newDeviceSlice(16),  // SCIEntry
		cj4:         newDeviceSlice(32),  // CJ4Entry
		excl:        newDeviceSlice(128), // ExclEntry
	}
}

// setClusterSize establishes the cluster-size invariant on first call and
// verifies it on every later call. A change mid-run indicates an upstream
// pair-search bug and is fatal.
func (pl *pairListStore) setClusterSize(n int) error {
	if pl.clusterSize < 0 {
		pl.clusterSize = n
		return nil
	}
	if pl.clusterSize != n {
		return fmt.Errorf("%w: atoms per cell changed from %d to %d",
			ErrInconsistentConfig, pl.clusterSize, n)
	}
	return nil
}

// pairListEvents are the per-buffer transfer events of one upload, nil when
// timing is off.
type pairListEvents struct {
	sci, cj4, excl device.Event
}

// upload transfers the outer entries, inner groups and exclusion masks.
// Counts are refreshed every call even when no buffer grows.
func (pl *pairListStore) upload(ctx device.Context, q device.Queue, host *PairList, wantEvents bool) (pairListEvents, error) {
	var evs pairListEvents

	if err := pl.setClusterSize(host.ClusterSize); err != nil {
		return evs, err
	}

	var err error
	if _, evs.sci, err = pl.sci.reallocUpload(ctx, q, asBytes(host.SCI), len(host.SCI), wantEvents); err != nil {
		return evs, err
	}
	if _, evs.cj4, err = pl.cj4.reallocUpload(ctx, q, asBytes(host.CJ4), len(host.CJ4), wantEvents); err != nil {
		return evs, err
	}
	if _, evs.excl, err = pl.excl.reallocUpload(ctx, q, asBytes(host.Excl), len(host.Excl), wantEvents); err != nil {
		return evs, err
	}

	// the next dispatch owes a pruning pass over the fresh list
	pl.doPrune = true
	return evs, nil
}

// DoPrune reports whether the list still owes a pruning pass.
func (pl *pairListStore) DoPrune() bool { return pl.doPrune }

// PruneDone records that the narrowing pass ran.
func (pl *pairListStore) PruneDone() { pl.doPrune = false }

func (pl *pairListStore) release() error {
	for _, s := range []*deviceSlice{&pl.sci, &pl.cj4, &pl.excl} {
		if err := s.free(); err != nil {
			return err
		}
	}
	return nil
}
