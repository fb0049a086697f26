package nonbonded

import (
	"fmt"

	"github.com/san-kum/nbgpu/internal/device"
)

// atomDataStore owns the device-resident atom arrays: packed
// position+charge, force accumulator, per-shift force correction, scalar
// energy accumulators and per-atom type ids.
type atomDataStore struct {
	numTypes int

	natoms      int // current atom count, -1 before first SetAtomData
	nalloc      int // buffered capacity in atoms, -1 before first allocation
	natomsLocal int

	xq        device.Buffer // 4 floats per atom
	f         device.Buffer // 3 floats per atom
	atomTypes device.Buffer // 1 int32 per atom

	shiftVec         device.Buffer // 3 floats per shift
	fShift           device.Buffer // 3 floats per shift
	eLJ, eEl         device.Buffer // scalar accumulators
	shiftVecUploaded bool
}

// initFirst allocates the fixed-size buffers exactly once per run. The
// per-atom arrays stay unallocated until the first SetAtomData.
func (ad *atomDataStore) initFirst(ctx device.Context, numTypes int) error {
	ad.numTypes = numTypes

	var err error
	if ad.shiftVec, err = ctx.AllocBuffer(ShiftCount * 3 * 4); err != nil {
		return err
	}
	if ad.fShift, err = ctx.AllocBuffer(ShiftCount * 3 * 4); err != nil {
		return err
	}
	if ad.eLJ, err = ctx.AllocBuffer(4); err != nil {
		return err
	}
	if ad.eEl, err = ctx.AllocBuffer(4); err != nil {
		return err
	}
	ad.shiftVecUploaded = false

	// -1 marks the per-atom arrays as never initialized
	ad.natoms = -1
	ad.nalloc = -1
	return nil
}

// setAtomData grows the per-atom buffers for host.NumAtoms and uploads the
// atom types asynchronously. Returns whether a reallocation occurred; the
// caller must then clear the force buffer over the full new capacity so no
// stale content beyond the old count leaks into force accumulation.
func (ad *atomDataStore) setAtomData(ctx device.Context, q device.Queue, host *AtomData) (bool, device.Event, error) {
	natoms := host.NumAtoms
	if len(host.Types) < natoms {
		return false, nil, fmt.Errorf("%w: %d atom types for %d atoms",
			ErrInconsistentConfig, len(host.Types), natoms)
	}

	realloced := false
	if natoms > ad.nalloc {
		nalloc := overAllocSmall(natoms)

		// free first if the arrays were already initialized
		if ad.nalloc != -1 {
			for _, b := range []device.Buffer{ad.f, ad.xq, ad.atomTypes} {
				if err := b.Release(); err != nil {
					return false, nil, err
				}
			}
		}

		var err error
		if ad.f, err = ctx.AllocBuffer(nalloc * 3 * 4); err != nil {
			return false, nil, err
		}
		if ad.xq, err = ctx.AllocBuffer(nalloc * 4 * 4); err != nil {
			return false, nil, err
		}
		if ad.atomTypes, err = ctx.AllocBuffer(nalloc * 4); err != nil {
			return false, nil, err
		}
		ad.nalloc = nalloc
		realloced = true
	}

	ad.natoms = natoms
	ad.natomsLocal = host.NumLocal

	ev, err := q.EnqueueWrite(ad.atomTypes, 0, asBytes(host.Types[:natoms]))
	if err != nil {
		return realloced, nil, err
	}
	return realloced, ev, nil
}

// uploadShiftVec transfers the periodic shift vectors. The transfer is
// skipped for a static box that has already been uploaded once.
func (ad *atomDataStore) uploadShiftVec(q device.Queue, host *AtomData) (device.Event, error) {
	if !host.DynamicBox && ad.shiftVecUploaded {
		return nil, nil
	}
	if len(host.ShiftVecs) != ShiftCount*3 {
		return nil, fmt.Errorf("%w: %d shift-vector floats, want %d",
			ErrInconsistentConfig, len(host.ShiftVecs), ShiftCount*3)
	}
	ev, err := q.EnqueueWrite(ad.shiftVec, 0, asBytes(host.ShiftVecs))
	if err != nil {
		return nil, err
	}
	ad.shiftVecUploaded = true
	return ev, nil
}

// uploadXQ transfers the packed position+charge range of one domain.
func (ad *atomDataStore) uploadXQ(q device.Queue, d Domain, xq []float32) (device.Event, error) {
	if ad.natoms < 0 {
		return nil, fmt.Errorf("%w: atom data not set", ErrNotReady)
	}
	begin, count := 0, ad.natomsLocal
	if d == NonLocal {
		begin, count = ad.natomsLocal, ad.natoms-ad.natomsLocal
	}
	if len(xq) < (begin+count)*4 {
		return nil, fmt.Errorf("%w: %d xq floats for %d atoms",
			ErrInconsistentConfig, len(xq), ad.natoms)
	}
	if count == 0 {
		return nil, nil
	}
	return q.EnqueueWrite(ad.xq, begin*4*4, asBytes(xq[begin*4:(begin+count)*4]))
}

// release frees all owned device buffers.
func (ad *atomDataStore) release() error {
	bufs := []*device.Buffer{&ad.xq, &ad.f, &ad.eLJ, &ad.eEl, &ad.fShift, &ad.atomTypes, &ad.shiftVec}
	for _, b := range bufs {
		if *b == nil {
			continue
		}
		if err := (*b).Release(); err != nil {
			return err
		}
		*b = nil
	}
	ad.natoms = -1
	ad.nalloc = -1
	return nil
}
