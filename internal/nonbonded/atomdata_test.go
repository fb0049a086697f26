package nonbonded

import (
	"errors"
	"testing"

	"github.com/san-kum/nbgpu/internal/device"
)

func testAtomData(natoms, nlocal int) *AtomData {
	ad := &AtomData{
		XQ:        make([]float32, natoms*4),
		Types:     make([]int32, natoms),
		NumAtoms:  natoms,
		NumLocal:  nlocal,
		ShiftVecs: make([]float32, ShiftCount*3),
	}
	for i := range ad.XQ {
		ad.XQ[i] = float32(i)
	}
	return ad
}

func TestSetAtomDataGrowOnly(t *testing.T) {
	ctx, q := newTestQueue(t)
	ad := &atomDataStore{}
	defer ad.release()
	if err := ad.initFirst(ctx, 4); err != nil {
		t.Fatalf("initFirst: %v", err)
	}
	if ad.natoms != -1 || ad.nalloc != -1 {
		t.Fatalf("after initFirst: natoms=%d nalloc=%d, want -1/-1", ad.natoms, ad.nalloc)
	}

	realloced, _, err := ad.setAtomData(ctx, q, testAtomData(100, 100))
	if err != nil {
		t.Fatalf("first set: %v", err)
	}
	if !realloced {
		t.Error("first set did not allocate")
	}
	wantAlloc := overAllocSmall(100)
	if ad.nalloc != wantAlloc {
		t.Errorf("nalloc = %d, want %d", ad.nalloc, wantAlloc)
	}

	realloced, _, err = ad.setAtomData(ctx, q, testAtomData(50, 50))
	if err != nil {
		t.Fatalf("smaller set: %v", err)
	}
	if realloced {
		t.Error("shrinking the atom count reallocated")
	}
	if ad.natoms != 50 || ad.nalloc != wantAlloc {
		t.Errorf("after shrink: natoms=%d nalloc=%d, want 50/%d", ad.natoms, ad.nalloc, wantAlloc)
	}

	realloced, _, err = ad.setAtomData(ctx, q, testAtomData(wantAlloc+1, wantAlloc+1))
	if err != nil {
		t.Fatalf("grow: %v", err)
	}
	if !realloced {
		t.Error("growth past capacity did not reallocate")
	}
	if err := q.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
}

func TestSetAtomDataGrowthClearsForces(t *testing.T) {
	_, nb := newTestNonbonded(t, Options{})
	defer nb.Release()
	if err := nb.InitConstants(ewaldModel(), 4, testNbfp(4), nil); err != nil {
		t.Fatalf("InitConstants: %v", err)
	}
	if err := nb.SetAtomData(testAtomData(32, 32)); err != nil {
		t.Fatalf("first SetAtomData: %v", err)
	}

	// dirty the force buffer over its full current capacity
	junk := make([]float32, nb.atdat.nalloc*3)
	for i := range junk {
		junk[i] = 1
	}
	if _, err := nb.queues[Local].EnqueueWrite(nb.atdat.f, 0, asBytes(junk)); err != nil {
		t.Fatalf("EnqueueWrite: %v", err)
	}

	// growing past capacity reallocates and must clear the whole new buffer
	if err := nb.SetAtomData(testAtomData(64, 64)); err != nil {
		t.Fatalf("growing SetAtomData: %v", err)
	}
	if err := nb.Finish(Local); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	f, err := device.HostFloats(nb.atdat.f)
	if err != nil {
		t.Fatalf("HostFloats: %v", err)
	}
	if len(f) != nb.atdat.nalloc*3 {
		t.Fatalf("force buffer holds %d floats, capacity is %d", len(f), nb.atdat.nalloc*3)
	}
	for i, v := range f {
		if v != 0 {
			t.Fatalf("force[%d] = %v after growing reallocation, want 0", i, v)
		}
	}
}

func TestSetAtomDataShortTypes(t *testing.T) {
	ctx, q := newTestQueue(t)
	ad := &atomDataStore{}
	defer ad.release()
	if err := ad.initFirst(ctx, 4); err != nil {
		t.Fatalf("initFirst: %v", err)
	}

	bad := testAtomData(10, 10)
	bad.Types = bad.Types[:5]
	_, _, err := ad.setAtomData(ctx, q, bad)
	if !errors.Is(err, ErrInconsistentConfig) {
		t.Fatalf("short type slice returned %v, want ErrInconsistentConfig", err)
	}
}

func TestShiftVecStaticBoxUploadedOnce(t *testing.T) {
	ctx, q := newTestQueue(t)
	ad := &atomDataStore{}
	defer ad.release()
	if err := ad.initFirst(ctx, 4); err != nil {
		t.Fatalf("initFirst: %v", err)
	}

	host := testAtomData(10, 10)
	ev, err := ad.uploadShiftVec(q, host)
	if err != nil {
		t.Fatalf("first upload: %v", err)
	}
	if ev == nil {
		t.Fatal("first upload skipped")
	}
	ev, err = ad.uploadShiftVec(q, host)
	if err != nil {
		t.Fatalf("second upload: %v", err)
	}
	if ev != nil {
		t.Error("static box re-uploaded the shift vectors")
	}

	host.DynamicBox = true
	ev, err = ad.uploadShiftVec(q, host)
	if err != nil {
		t.Fatalf("dynamic upload: %v", err)
	}
	if ev == nil {
		t.Error("dynamic box skipped the shift-vector upload")
	}
	if err := q.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
}

func TestUploadXQDomainRanges(t *testing.T) {
	ctx, q := newTestQueue(t)
	ad := &atomDataStore{}
	defer ad.release()
	if err := ad.initFirst(ctx, 4); err != nil {
		t.Fatalf("initFirst: %v", err)
	}

	host := testAtomData(6, 4) // 4 local, 2 nonlocal
	if _, _, err := ad.setAtomData(ctx, q, host); err != nil {
		t.Fatalf("setAtomData: %v", err)
	}
	if _, err := ad.uploadXQ(q, Local, host.XQ); err != nil {
		t.Fatalf("local upload: %v", err)
	}
	if _, err := ad.uploadXQ(q, NonLocal, host.XQ); err != nil {
		t.Fatalf("nonlocal upload: %v", err)
	}
	if err := q.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	got := make([]float32, 6*4)
	ev, err := q.EnqueueRead(ad.xq, 0, asBytes(got))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := ev.Wait(); err != nil {
		t.Fatalf("read event: %v", err)
	}
	for i := range got {
		if got[i] != host.XQ[i] {
			t.Fatalf("xq[%d] = %v, want %v", i, got[i], host.XQ[i])
		}
	}
}

func TestUploadXQBeforeSetAtomData(t *testing.T) {
	ctx, q := newTestQueue(t)
	ad := &atomDataStore{}
	defer ad.release()
	if err := ad.initFirst(ctx, 4); err != nil {
		t.Fatalf("initFirst: %v", err)
	}
	_, err := ad.uploadXQ(q, Local, make([]float32, 8))
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("upload before set returned %v, want ErrNotReady", err)
	}
}
