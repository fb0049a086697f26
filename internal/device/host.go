package device

import (
	"fmt"
	"runtime"
	"sync"
	"time"
	"unsafe"
)

// HostOptions configures the pure-Go backend.
type HostOptions struct {
	Name         string
	ComputeUnits int
	MemLimit     int64 // total allocation limit in bytes, 0 = unlimited
}

// Host is the pure-Go device backend. Each queue runs commands in order on
// its own worker goroutine; separate queues progress concurrently.
type Host struct {
	opts    HostOptions
	program *hostProgram

	mu        sync.Mutex
	allocated int64
	live      int
	queues    int
	closed    bool
}

// NewHost creates a host-backend context.
func NewHost(opts HostOptions) *Host {
	if opts.Name == "" {
		opts.Name = "host"
	}
	if opts.ComputeUnits <= 0 {
		opts.ComputeUnits = runtime.NumCPU()
	}
	h := &Host{opts: opts}
	h.program = newHostProgram()
	return h
}

func (h *Host) Info() Info {
	return Info{Name: h.opts.Name, ComputeUnits: h.opts.ComputeUnits, TotalMem: h.opts.MemLimit}
}

func (h *Host) AllocBuffer(bytes int) (Buffer, error) {
	return h.alloc(bytes, nil)
}

func (h *Host) AllocBufferFrom(src []byte) (Buffer, error) {
	return h.alloc(len(src), src)
}

func (h *Host) alloc(size int, src []byte) (Buffer, error) {
	if size < 0 {
		return nil, fmt.Errorf("%w: negative size %d", ErrAllocation, size)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrReleased
	}
	if h.opts.MemLimit > 0 && h.allocated+int64(size) > h.opts.MemLimit {
		return nil, fmt.Errorf("%w: %d bytes requested, %d of %d in use",
			ErrAllocation, size, h.allocated, h.opts.MemLimit)
	}
	b := &hostBuffer{host: h, data: make([]byte, size)}
	if src != nil {
		copy(b.data, src)
	}
	h.allocated += int64(size)
	h.live++
	return b, nil
}

// LiveBuffers reports the number of unreleased buffers. Used by teardown
// tests to prove leak-free release.
func (h *Host) LiveBuffers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.live
}

// LiveQueues reports the number of unreleased queues.
func (h *Host) LiveQueues() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.queues
}

func (h *Host) NewQueue(profiling bool) (Queue, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrReleased
	}
	h.queues++
	h.mu.Unlock()

	q := &hostQueue{host: h, profiling: profiling, cmds: make(chan *hostCmd, 64)}
	q.workerWG.Add(1)
	go q.worker()
	return q, nil
}

func (h *Host) Program() Program { return h.program }

// Register installs an additional named kernel alongside the builtins.
// Force kernels are host functions registered here rather than compiled.
func (h *Host) Register(name string, fn KernelFunc) {
	h.program.Register(name, fn)
}

func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrReleased
	}
	if h.live > 0 || h.queues > 0 {
		return fmt.Errorf("%w: context closed with %d buffers and %d queues live",
			ErrOperation, h.live, h.queues)
	}
	h.closed = true
	return nil
}

type hostBuffer struct {
	host *Host
	data []byte

	mu       sync.Mutex
	released bool
}

func (b *hostBuffer) Size() int { return len(b.data) }

func (b *hostBuffer) Release() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return ErrReleased
	}
	b.released = true
	b.host.mu.Lock()
	b.host.allocated -= int64(len(b.data))
	b.host.live--
	b.host.mu.Unlock()
	return nil
}

// HostBytes exposes the backing memory of a host-backend buffer so kernels
// registered from other packages can operate on it. Foreign buffers fail
// with ErrOperation.
func HostBytes(b Buffer) ([]byte, error) {
	hb, ok := b.(*hostBuffer)
	if !ok {
		return nil, fmt.Errorf("%w: foreign buffer", ErrOperation)
	}
	return hb.data, nil
}

// HostFloats is HostBytes viewed as float32 elements.
func HostFloats(b Buffer) ([]float32, error) {
	hb, ok := b.(*hostBuffer)
	if !ok {
		return nil, fmt.Errorf("%w: foreign buffer", ErrOperation)
	}
	return hb.f32(), nil
}

// f32 reinterprets the buffer contents as float32 elements.
func (b *hostBuffer) f32() []float32 {
	if len(b.data) == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b.data[0])), len(b.data)/4)
}

type hostCmd struct {
	run func() error
	ev  *hostEvent
}

type hostQueue struct {
	host      *Host
	profiling bool
	cmds      chan *hostCmd

	mu       sync.Mutex
	released bool
	workerWG sync.WaitGroup
}

func (q *hostQueue) worker() {
	defer q.workerWG.Done()
	for cmd := range q.cmds {
		ev := cmd.ev
		ev.start = time.Now()
		ev.err = cmd.run()
		ev.end = time.Now()
		close(ev.done)
	}
}

func (q *hostQueue) enqueue(run func() error) (Event, error) {
	q.mu.Lock()
	if q.released {
		q.mu.Unlock()
		return nil, ErrReleased
	}
	ev := &hostEvent{done: make(chan struct{}), profiled: q.profiling}
	q.cmds <- &hostCmd{run: run, ev: ev}
	q.mu.Unlock()
	return ev, nil
}

func (q *hostQueue) EnqueueWrite(dst Buffer, off int, src []byte) (Event, error) {
	b, ok := dst.(*hostBuffer)
	if !ok {
		return nil, fmt.Errorf("%w: foreign buffer", ErrOperation)
	}
	// Copy src now: the caller may reuse the host slice after enqueue.
	staged := make([]byte, len(src))
	copy(staged, src)
	return q.enqueue(func() error {
		if off < 0 || off+len(staged) > len(b.data) {
			return fmt.Errorf("%w: write [%d,%d) out of buffer size %d",
				ErrOperation, off, off+len(staged), len(b.data))
		}
		copy(b.data[off:], staged)
		return nil
	})
}

func (q *hostQueue) EnqueueRead(src Buffer, off int, dst []byte) (Event, error) {
	b, ok := src.(*hostBuffer)
	if !ok {
		return nil, fmt.Errorf("%w: foreign buffer", ErrOperation)
	}
	return q.enqueue(func() error {
		if off < 0 || off+len(dst) > len(b.data) {
			return fmt.Errorf("%w: read [%d,%d) out of buffer size %d",
				ErrOperation, off, off+len(dst), len(b.data))
		}
		copy(dst, b.data[off:])
		return nil
	})
}

func (q *hostQueue) Launch(k Kernel, global, local int, args ...Arg) (Event, error) {
	hk, ok := k.(*hostKernel)
	if !ok {
		return nil, fmt.Errorf("%w: foreign kernel", ErrOperation)
	}
	if local <= 0 || global < 0 || global%local != 0 {
		return nil, fmt.Errorf("%w: bad launch range global=%d local=%d",
			ErrOperation, global, local)
	}
	return q.enqueue(func() error {
		return hk.fn(global, local, args)
	})
}

func (q *hostQueue) EnqueueMarker() (Event, error) {
	return q.enqueue(func() error { return nil })
}

func (q *hostQueue) Finish() error {
	ev, err := q.EnqueueMarker()
	if err != nil {
		return err
	}
	return ev.Wait()
}

func (q *hostQueue) Release() error {
	q.mu.Lock()
	if q.released {
		q.mu.Unlock()
		return ErrReleased
	}
	q.released = true
	close(q.cmds)
	q.mu.Unlock()
	q.workerWG.Wait()

	q.host.mu.Lock()
	q.host.queues--
	q.host.mu.Unlock()
	return nil
}

type hostEvent struct {
	done       chan struct{}
	err        error
	start, end time.Time
	profiled   bool
}

func (e *hostEvent) Wait() error {
	<-e.done
	return e.err
}

func (e *hostEvent) Elapsed() (time.Duration, bool) {
	if !e.profiled {
		return 0, false
	}
	<-e.done
	return e.end.Sub(e.start), true
}

// KernelFunc executes a host kernel over a 1-D launch range.
type KernelFunc func(global, local int, args []Arg) error

type hostProgram struct {
	mu      sync.Mutex
	kernels map[string]KernelFunc
}

type hostKernel struct {
	name string
	fn   KernelFunc

	mu       sync.Mutex
	released bool
}

func (k *hostKernel) Name() string { return k.name }

func (k *hostKernel) Release() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.released {
		return ErrReleased
	}
	k.released = true
	return nil
}

func newHostProgram() *hostProgram {
	p := &hostProgram{kernels: make(map[string]KernelFunc)}
	p.kernels["memset_f"] = memsetF
	p.kernels["zero_e_fshift"] = zeroEFShift
	return p
}

func (p *hostProgram) Kernel(name string) (Kernel, error) {
	p.mu.Lock()
	fn, ok := p.kernels[name]
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrKernelNotFound, name)
	}
	return &hostKernel{name: name, fn: fn}, nil
}

// Register adds a host kernel under the given name. Force kernels live
// outside this package; callers register their implementations here so
// dispatch can resolve them by name like on a real device.
func (p *hostProgram) Register(name string, fn KernelFunc) {
	p.mu.Lock()
	p.kernels[name] = fn
	p.mu.Unlock()
}

// memset_f: args = (buf, float value, uint n); fills the first n floats.
func memsetF(global, local int, args []Arg) error {
	if len(args) != 3 {
		return fmt.Errorf("%w: memset_f wants 3 args, got %d", ErrOperation, len(args))
	}
	b, ok := args[0].Buf.(*hostBuffer)
	if !ok {
		return fmt.Errorf("%w: memset_f arg 0 is not a buffer", ErrOperation)
	}
	value := args[1].F32
	n := int(args[2].U32)
	f := b.f32()
	if n > len(f) {
		return fmt.Errorf("%w: memset_f n=%d exceeds buffer of %d floats", ErrOperation, n, len(f))
	}
	for i := 0; i < n; i++ {
		f[i] = value
	}
	return nil
}

// zero_e_fshift: args = (fshift buf, e_lj buf, e_el buf, uint n); zeroes the
// first n floats of the shift-force buffer and both energy accumulators.
func zeroEFShift(global, local int, args []Arg) error {
	if len(args) != 4 {
		return fmt.Errorf("%w: zero_e_fshift wants 4 args, got %d", ErrOperation, len(args))
	}
	fshift, ok := args[0].Buf.(*hostBuffer)
	if !ok {
		return fmt.Errorf("%w: zero_e_fshift arg 0 is not a buffer", ErrOperation)
	}
	elj, ok := args[1].Buf.(*hostBuffer)
	if !ok {
		return fmt.Errorf("%w: zero_e_fshift arg 1 is not a buffer", ErrOperation)
	}
	eel, ok := args[2].Buf.(*hostBuffer)
	if !ok {
		return fmt.Errorf("%w: zero_e_fshift arg 2 is not a buffer", ErrOperation)
	}
	n := int(args[3].U32)
	f := fshift.f32()
	if n > len(f) {
		return fmt.Errorf("%w: zero_e_fshift n=%d exceeds buffer of %d floats", ErrOperation, n, len(f))
	}
	for i := 0; i < n; i++ {
		f[i] = 0
	}
	if v := elj.f32(); len(v) > 0 {
		v[0] = 0
	}
	if v := eel.f32(); len(v) > 0 {
		v[0] = 0
	}
	return nil
}
