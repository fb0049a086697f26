package timing

import (
	"testing"
	"time"
)

func TestAccumulate(t *testing.T) {
	a := New(true)

	a.AddNbH2D(2 * time.Millisecond)
	a.AddNbH2D(3 * time.Millisecond)
	a.AddPairlistH2D(time.Millisecond)
	a.CountPairlistUpload()
	a.AddKernel(true, false, 4*time.Millisecond)
	a.AddKernel(true, false, 4*time.Millisecond)
	a.CountStep()

	snap, ok := a.Get()
	if !ok {
		t.Fatal("expected timings available")
	}
	if snap.NbH2D != 5*time.Millisecond {
		t.Errorf("NbH2D = %v, want 5ms", snap.NbH2D)
	}
	if snap.PairlistCount != 1 {
		t.Errorf("PairlistCount = %d, want 1", snap.PairlistCount)
	}
	if snap.Kernel[1][0].C != 2 || snap.Kernel[1][0].T != 8*time.Millisecond {
		t.Errorf("Kernel[1][0] = %+v, want {8ms 2}", snap.Kernel[1][0])
	}
	if snap.Kernel[0][1].C != 0 {
		t.Errorf("Kernel[0][1].C = %d, want 0", snap.Kernel[0][1].C)
	}
}

func TestDisabledReportsUnavailable(t *testing.T) {
	a := New(false)

	a.AddNbH2D(time.Millisecond)
	a.AddKernel(false, true, time.Millisecond)
	a.CountStep()

	if _, ok := a.Get(); ok {
		t.Error("disabled aggregator should report unavailable, not zeros")
	}
}

func TestResetOnlyExplicit(t *testing.T) {
	a := New(true)
	a.AddNbD2H(time.Millisecond)

	snap, _ := a.Get()
	if snap.NbD2H != time.Millisecond {
		t.Fatalf("NbD2H = %v before reset", snap.NbD2H)
	}

	// reading must not reset
	snap, _ = a.Get()
	if snap.NbD2H != time.Millisecond {
		t.Errorf("Get cleared counters")
	}

	a.Reset()
	snap, _ = a.Get()
	if snap.NbD2H != 0 {
		t.Errorf("NbD2H = %v after reset, want 0", snap.NbD2H)
	}
}
