package device

import (
	"errors"
	"math"
	"sync"
	"testing"
)

func f32bytes(v []float32) []byte {
	out := make([]byte, 0, len(v)*4)
	for _, f := range v {
		bits := math.Float32bits(f)
		out = append(out, byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24))
	}
	return out
}

func TestAllocLimit(t *testing.T) {
	h := NewHost(HostOptions{MemLimit: 1024})
	if _, err := h.AllocBuffer(512); err != nil {
		t.Fatalf("first alloc: %v", err)
	}
	if _, err := h.AllocBuffer(512); err != nil {
		t.Fatalf("second alloc: %v", err)
	}
	_, err := h.AllocBuffer(1)
	if !errors.Is(err, ErrAllocation) {
		t.Fatalf("over-limit alloc returned %v, want ErrAllocation", err)
	}
}

func TestBufferDoubleRelease(t *testing.T) {
	h := NewHost(HostOptions{})
	b, err := h.AllocBuffer(16)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if err := b.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := b.Release(); !errors.Is(err, ErrReleased) {
		t.Errorf("double release returned %v, want ErrReleased", err)
	}
}

func TestQueueOrdering(t *testing.T) {
	h := NewHost(HostOptions{})
	q, err := h.NewQueue(false)
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}
	defer q.Release()

	b, err := h.AllocBuffer(4)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	defer b.Release()

	// later writes must overwrite earlier ones
	for _, v := range []float32{1, 2, 3} {
		if _, err := q.EnqueueWrite(b, 0, f32bytes([]float32{v})); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	got := make([]byte, 4)
	ev, err := q.EnqueueRead(b, 0, got)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := ev.Wait(); err != nil {
		t.Fatalf("read event: %v", err)
	}
	want := f32bytes([]float32{3})
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d = %#x, want %#x", i, got[i], want[i])
		}
	}
}

func TestEnqueueWriteStagesSource(t *testing.T) {
	h := NewHost(HostOptions{})
	q, err := h.NewQueue(false)
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}
	defer q.Release()

	b, err := h.AllocBuffer(4)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	defer b.Release()

	src := f32bytes([]float32{7})
	ev, err := q.EnqueueWrite(b, 0, src)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	// mutating the source after enqueue must not affect the transfer
	src[0] = 0xFF
	if err := ev.Wait(); err != nil {
		t.Fatalf("write event: %v", err)
	}

	got := make([]byte, 4)
	rev, _ := q.EnqueueRead(b, 0, got)
	if err := rev.Wait(); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if got[0] == 0xFF {
		t.Error("enqueued write observed a post-enqueue source mutation")
	}
}

func TestWriteOutOfRange(t *testing.T) {
	h := NewHost(HostOptions{})
	q, _ := h.NewQueue(false)
	defer q.Release()
	b, _ := h.AllocBuffer(8)
	defer b.Release()

	ev, err := q.EnqueueWrite(b, 8, []byte{1})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := ev.Wait(); !errors.Is(err, ErrOperation) {
		t.Errorf("out-of-range write completed with %v, want ErrOperation", err)
	}
}

func TestMemsetKernel(t *testing.T) {
	h := NewHost(HostOptions{})
	q, _ := h.NewQueue(false)
	defer q.Release()

	b, err := h.AllocBufferFrom(f32bytes([]float32{1, 2, 3, 4}))
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	defer b.Release()

	k, err := h.Program().Kernel("memset_f")
	if err != nil {
		t.Fatalf("Kernel: %v", err)
	}
	// n=3: last element stays untouched, launch padding notwithstanding
	ev, err := q.Launch(k, 64, 64, BufArg(b), Float32Arg(0), Uint32Arg(3))
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if err := ev.Wait(); err != nil {
		t.Fatalf("kernel: %v", err)
	}

	got := make([]byte, 16)
	rev, _ := q.EnqueueRead(b, 0, got)
	if err := rev.Wait(); err != nil {
		t.Fatalf("read: %v", err)
	}
	want := f32bytes([]float32{0, 0, 0, 4})
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d = %#x, want %#x", i, got[i], want[i])
		}
	}
}

func TestZeroEFShiftKernel(t *testing.T) {
	h := NewHost(HostOptions{})
	q, _ := h.NewQueue(false)
	defer q.Release()

	fshift, _ := h.AllocBufferFrom(f32bytes([]float32{5, 5, 5}))
	eLJ, _ := h.AllocBufferFrom(f32bytes([]float32{9}))
	eEl, _ := h.AllocBufferFrom(f32bytes([]float32{9}))
	defer fshift.Release()
	defer eLJ.Release()
	defer eEl.Release()

	k, err := h.Program().Kernel("zero_e_fshift")
	if err != nil {
		t.Fatalf("Kernel: %v", err)
	}
	ev, err := q.Launch(k, 64, 64, BufArg(fshift), BufArg(eLJ), BufArg(eEl), Uint32Arg(3))
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if err := ev.Wait(); err != nil {
		t.Fatalf("kernel: %v", err)
	}

	for _, b := range []Buffer{fshift, eLJ, eEl} {
		got := make([]byte, b.Size())
		rev, _ := q.EnqueueRead(b, 0, got)
		if err := rev.Wait(); err != nil {
			t.Fatalf("read: %v", err)
		}
		for i, v := range got {
			if v != 0 {
				t.Fatalf("buffer byte %d = %#x after zeroing", i, v)
			}
		}
	}
}

func TestUnknownKernel(t *testing.T) {
	h := NewHost(HostOptions{})
	_, err := h.Program().Kernel("nonexistent")
	if !errors.Is(err, ErrKernelNotFound) {
		t.Fatalf("unknown kernel returned %v, want ErrKernelNotFound", err)
	}
}

func TestProfiledEvents(t *testing.T) {
	h := NewHost(HostOptions{})
	q, _ := h.NewQueue(true)
	defer q.Release()

	ev, err := q.EnqueueMarker()
	if err != nil {
		t.Fatalf("marker: %v", err)
	}
	if _, ok := ev.Elapsed(); !ok {
		t.Error("profiling queue produced an unprofiled event")
	}

	q2, _ := h.NewQueue(false)
	defer q2.Release()
	ev2, _ := q2.EnqueueMarker()
	if _, ok := ev2.Elapsed(); ok {
		t.Error("non-profiling queue produced a profiled event")
	}
}

func TestConcurrentQueues(t *testing.T) {
	h := NewHost(HostOptions{})
	b, _ := h.AllocBuffer(4096)
	defer b.Release()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		q, err := h.NewQueue(false)
		if err != nil {
			t.Fatalf("NewQueue: %v", err)
		}
		wg.Add(1)
		go func(q Queue, off int) {
			defer wg.Done()
			defer q.Release()
			for j := 0; j < 100; j++ {
				if _, err := q.EnqueueWrite(b, off, f32bytes([]float32{float32(j)})); err != nil {
					t.Errorf("write: %v", err)
					return
				}
			}
			if err := q.Finish(); err != nil {
				t.Errorf("Finish: %v", err)
			}
		}(q, i*1024)
	}
	wg.Wait()
}

func TestCloseWithLiveResources(t *testing.T) {
	h := NewHost(HostOptions{})
	b, _ := h.AllocBuffer(4)
	if err := h.Close(); !errors.Is(err, ErrOperation) {
		t.Fatalf("Close with live buffer returned %v, want ErrOperation", err)
	}
	if err := b.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestPinnedPoolRecycles(t *testing.T) {
	p := NewPinnedPool(0)
	buf, err := p.Alloc(64)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	buf[0] = 0xAA
	p.Free(buf)

	buf2, err := p.Alloc(64)
	if err != nil {
		t.Fatalf("second alloc: %v", err)
	}
	if buf2[0] != 0 {
		t.Error("recycled buffer not zeroed")
	}
	if p.Live() != 1 {
		t.Errorf("live = %d, want 1", p.Live())
	}
	p.Free(buf2)
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := p.Alloc(1); !errors.Is(err, ErrReleased) {
		t.Errorf("alloc after close returned %v, want ErrReleased", err)
	}
}

func TestPinnedPoolLimit(t *testing.T) {
	p := NewPinnedPool(100)
	defer p.Close()
	if _, err := p.Alloc(100); err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if _, err := p.Alloc(1); !errors.Is(err, ErrAllocation) {
		t.Errorf("over-limit alloc returned %v, want ErrAllocation", err)
	}
}

func TestAutoSelectFallsBackToHost(t *testing.T) {
	ctx, err := AutoSelect()
	if err != nil {
		t.Fatalf("AutoSelect: %v", err)
	}
	if ctx.Info().Name == "" {
		t.Error("selected device has no name")
	}
	if ctx.Info().ComputeUnits <= 0 {
		t.Error("selected device reports no compute units")
	}
}
