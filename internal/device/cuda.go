//go:build cuda

package device

// CUDA driver API backend via purego. No cgo: libcuda.so is loaded with
// dlopen at runtime. Only the driver entry points needed for buffer
// management, async copies, kernel launches and event timing are bound.

import (
	"fmt"
	"os"
	"sync"
	"time"
	"unsafe"

	"github.com/ebitengine/purego"
)

type cuResult int32

const cuSuccess cuResult = 0

func (r cuResult) error(op string) error {
	if r == cuSuccess {
		return nil
	}
	return fmt.Errorf("%w: %s: CUDA error %d", ErrOperation, op, int32(r))
}

const (
	cuAttrMultiprocessorCount = 16
	cuEventDefault            = 0
	cuEventDisableTiming      = 2
)

var (
	driverOnce sync.Once
	driverErr  error

	cuInit               func(flags uint32) cuResult
	cuDeviceGet          func(device *int32, ordinal int32) cuResult
	cuDeviceGetCount     func(count *int32) cuResult
	cuDeviceGetName      func(name *byte, n int32, dev int32) cuResult
	cuDeviceGetAttribute func(pi *int32, attrib int32, dev int32) cuResult
	cuDeviceTotalMem     func(bytes *uint64, dev int32) cuResult
	cuCtxCreate          func(pctx *uintptr, flags uint32, dev int32) cuResult
	cuCtxDestroy         func(ctx uintptr) cuResult
	cuMemAlloc           func(dptr *uintptr, bytesize uint64) cuResult
	cuMemFree            func(dptr uintptr) cuResult
	cuMemcpyHtoDAsync    func(dst uintptr, src unsafe.Pointer, n uint64, stream uintptr) cuResult
	cuMemcpyDtoHAsync    func(dst unsafe.Pointer, src uintptr, n uint64, stream uintptr) cuResult
	cuModuleLoadData     func(module *uintptr, image unsafe.Pointer) cuResult
	cuModuleGetFunction  func(hfunc *uintptr, hmod uintptr, name *byte) cuResult
	cuModuleUnload       func(hmod uintptr) cuResult
	cuLaunchKernel       func(f uintptr,
		gridX, gridY, gridZ, blockX, blockY, blockZ uint32,
		sharedMem uint32, stream uintptr,
		params unsafe.Pointer, extra unsafe.Pointer) cuResult
	cuStreamCreate      func(stream *uintptr, flags uint32) cuResult
	cuStreamSynchronize func(stream uintptr) cuResult
	cuStreamDestroy     func(stream uintptr) cuResult
	cuEventCreate       func(ev *uintptr, flags uint32) cuResult
	cuEventRecord       func(ev uintptr, stream uintptr) cuResult
	cuEventSynchronize  func(ev uintptr) cuResult
	cuEventElapsedTime  func(ms *float32, start, end uintptr) cuResult
	cuEventDestroy      func(ev uintptr) cuResult
)

func initDriver() error {
	driverOnce.Do(func() {
		lib, err := purego.Dlopen("libcuda.so.1", purego.RTLD_LAZY|purego.RTLD_GLOBAL)
		if err != nil {
			lib, err = purego.Dlopen("libcuda.so", purego.RTLD_LAZY|purego.RTLD_GLOBAL)
			if err != nil {
				driverErr = fmt.Errorf("cannot load libcuda.so: %w", err)
				return
			}
		}
		purego.RegisterLibFunc(&cuInit, lib, "cuInit")
		purego.RegisterLibFunc(&cuDeviceGet, lib, "cuDeviceGet")
		purego.RegisterLibFunc(&cuDeviceGetCount, lib, "cuDeviceGetCount")
		purego.RegisterLibFunc(&cuDeviceGetName, lib, "cuDeviceGetName")
		purego.RegisterLibFunc(&cuDeviceGetAttribute, lib, "cuDeviceGetAttribute")
		purego.RegisterLibFunc(&cuDeviceTotalMem, lib, "cuDeviceTotalMem_v2")
		purego.RegisterLibFunc(&cuCtxCreate, lib, "cuCtxCreate_v2")
		purego.RegisterLibFunc(&cuCtxDestroy, lib, "cuCtxDestroy_v2")
		purego.RegisterLibFunc(&cuMemAlloc, lib, "cuMemAlloc_v2")
		purego.RegisterLibFunc(&cuMemFree, lib, "cuMemFree_v2")
		purego.RegisterLibFunc(&cuMemcpyHtoDAsync, lib, "cuMemcpyHtoDAsync_v2")
		purego.RegisterLibFunc(&cuMemcpyDtoHAsync, lib, "cuMemcpyDtoHAsync_v2")
		purego.RegisterLibFunc(&cuModuleLoadData, lib, "cuModuleLoadData")
		purego.RegisterLibFunc(&cuModuleGetFunction, lib, "cuModuleGetFunction")
		purego.RegisterLibFunc(&cuModuleUnload, lib, "cuModuleUnload")
		purego.RegisterLibFunc(&cuLaunchKernel, lib, "cuLaunchKernel")
		purego.RegisterLibFunc(&cuStreamCreate, lib, "cuStreamCreate")
		purego.RegisterLibFunc(&cuStreamSynchronize, lib, "cuStreamSynchronize")
		purego.RegisterLibFunc(&cuStreamDestroy, lib, "cuStreamDestroy_v2")
		purego.RegisterLibFunc(&cuEventCreate, lib, "cuEventCreate")
		purego.RegisterLibFunc(&cuEventRecord, lib, "cuEventRecord")
		purego.RegisterLibFunc(&cuEventSynchronize, lib, "cuEventSynchronize")
		purego.RegisterLibFunc(&cuEventElapsedTime, lib, "cuEventElapsedTime")
		purego.RegisterLibFunc(&cuEventDestroy, lib, "cuEventDestroy")
	})
	return driverErr
}

// CUDAOptions configures the CUDA backend.
type CUDAOptions struct {
	DeviceIndex int
	PTX         []byte // compiled utility-kernel module
}

type cudaContext struct {
	ctx    uintptr
	module uintptr
	info   Info
}

// NewCUDA creates a CUDA-backend context on the given device and loads the
// utility-kernel PTX module.
func NewCUDA(opts CUDAOptions) (Context, error) {
	if err := initDriver(); err != nil {
		return nil, err
	}
	if r := cuInit(0); r != cuSuccess {
		return nil, r.error("cuInit")
	}
	var count int32
	if r := cuDeviceGetCount(&count); r != cuSuccess {
		return nil, r.error("cuDeviceGetCount")
	}
	if int(count) <= opts.DeviceIndex {
		return nil, fmt.Errorf("%w: no CUDA device at index %d", ErrOperation, opts.DeviceIndex)
	}
	var dev int32
	if r := cuDeviceGet(&dev, int32(opts.DeviceIndex)); r != cuSuccess {
		return nil, r.error("cuDeviceGet")
	}

	nameBuf := make([]byte, 256)
	if r := cuDeviceGetName(&nameBuf[0], 256, dev); r != cuSuccess {
		return nil, r.error("cuDeviceGetName")
	}
	n := 0
	for n < len(nameBuf) && nameBuf[n] != 0 {
		n++
	}
	var sms int32
	if r := cuDeviceGetAttribute(&sms, cuAttrMultiprocessorCount, dev); r != cuSuccess {
		return nil, r.error("cuDeviceGetAttribute")
	}
	var totalMem uint64
	if r := cuDeviceTotalMem(&totalMem, dev); r != cuSuccess {
		return nil, r.error("cuDeviceTotalMem")
	}

	c := &cudaContext{info: Info{Name: string(nameBuf[:n]), ComputeUnits: int(sms), TotalMem: int64(totalMem)}}
	if r := cuCtxCreate(&c.ctx, 0, dev); r != cuSuccess {
		return nil, r.error("cuCtxCreate")
	}
	if len(opts.PTX) > 0 {
		image := append(opts.PTX, 0)
		if r := cuModuleLoadData(&c.module, unsafe.Pointer(&image[0])); r != cuSuccess {
			cuCtxDestroy(c.ctx)
			return nil, r.error("cuModuleLoadData")
		}
	}
	return c, nil
}

// newCUDAContext is the AutoSelect hook: it loads the utility module named
// by NBGPU_PTX and fails (falling back to the host backend) when unset.
func newCUDAContext() (Context, error) {
	path := os.Getenv("NBGPU_PTX")
	if path == "" {
		return nil, fmt.Errorf("%w: NBGPU_PTX not set", ErrOperation)
	}
	ptx, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return NewCUDA(CUDAOptions{PTX: ptx})
}

func (c *cudaContext) Info() Info { return c.info }

func (c *cudaContext) AllocBuffer(bytes int) (Buffer, error) {
	var ptr uintptr
	if r := cuMemAlloc(&ptr, uint64(bytes)); r != cuSuccess {
		return nil, fmt.Errorf("%w: cuMemAlloc of %d bytes: CUDA error %d", ErrAllocation, bytes, int32(r))
	}
	return &cudaBuffer{ptr: ptr, size: bytes}, nil
}

func (c *cudaContext) AllocBufferFrom(src []byte) (Buffer, error) {
	buf, err := c.AllocBuffer(len(src))
	if err != nil {
		return nil, err
	}
	if len(src) > 0 {
		b := buf.(*cudaBuffer)
		if r := cuMemcpyHtoDAsync(b.ptr, unsafe.Pointer(&src[0]), uint64(len(src)), 0); r != cuSuccess {
			b.Release()
			return nil, r.error("cuMemcpyHtoD")
		}
		if r := cuStreamSynchronize(0); r != cuSuccess {
			b.Release()
			return nil, r.error("cuStreamSynchronize")
		}
	}
	return buf, nil
}

func (c *cudaContext) NewQueue(profiling bool) (Queue, error) {
	var stream uintptr
	if r := cuStreamCreate(&stream, 0); r != cuSuccess {
		return nil, r.error("cuStreamCreate")
	}
	return &cudaQueue{stream: stream, profiling: profiling}, nil
}

func (c *cudaContext) Program() Program { return &cudaProgram{module: c.module} }

func (c *cudaContext) Close() error {
	if c.module != 0 {
		if r := cuModuleUnload(c.module); r != cuSuccess {
			return r.error("cuModuleUnload")
		}
		c.module = 0
	}
	if r := cuCtxDestroy(c.ctx); r != cuSuccess {
		return r.error("cuCtxDestroy")
	}
	return nil
}

type cudaBuffer struct {
	ptr  uintptr
	size int
}

func (b *cudaBuffer) Size() int { return b.size }

func (b *cudaBuffer) Release() error {
	if b.ptr == 0 {
		return ErrReleased
	}
	r := cuMemFree(b.ptr)
	b.ptr = 0
	return r.error("cuMemFree")
}

type cudaProgram struct {
	module uintptr
}

func (p *cudaProgram) Kernel(name string) (Kernel, error) {
	if p.module == 0 {
		return nil, fmt.Errorf("%w: %q (no module loaded)", ErrKernelNotFound, name)
	}
	cname := append([]byte(name), 0)
	var fn uintptr
	if r := cuModuleGetFunction(&fn, p.module, &cname[0]); r != cuSuccess {
		return nil, fmt.Errorf("%w: %q", ErrKernelNotFound, name)
	}
	return &cudaKernel{name: name, fn: fn}, nil
}

type cudaKernel struct {
	name string
	fn   uintptr
}

func (k *cudaKernel) Name() string   { return k.name }
func (k *cudaKernel) Release() error { return nil }

type cudaQueue struct {
	stream    uintptr
	profiling bool
}

func (q *cudaQueue) record(op string, launch func() cuResult) (Event, error) {
	ev := &cudaEvent{profiled: q.profiling}
	if q.profiling {
		if r := cuEventCreate(&ev.start, cuEventDefault); r != cuSuccess {
			return nil, r.error("cuEventCreate")
		}
		if r := cuEventRecord(ev.start, q.stream); r != cuSuccess {
			return nil, r.error("cuEventRecord")
		}
	}
	if r := launch(); r != cuSuccess {
		return nil, r.error(op)
	}
	flags := uint32(cuEventDisableTiming)
	if q.profiling {
		flags = cuEventDefault
	}
	if r := cuEventCreate(&ev.end, flags); r != cuSuccess {
		return nil, r.error("cuEventCreate")
	}
	if r := cuEventRecord(ev.end, q.stream); r != cuSuccess {
		return nil, r.error("cuEventRecord")
	}
	return ev, nil
}

func (q *cudaQueue) EnqueueWrite(dst Buffer, off int, src []byte) (Event, error) {
	b, ok := dst.(*cudaBuffer)
	if !ok {
		return nil, fmt.Errorf("%w: foreign buffer", ErrOperation)
	}
	if len(src) == 0 {
		return q.EnqueueMarker()
	}
	return q.record("cuMemcpyHtoDAsync", func() cuResult {
		return cuMemcpyHtoDAsync(b.ptr+uintptr(off), unsafe.Pointer(&src[0]), uint64(len(src)), q.stream)
	})
}

func (q *cudaQueue) EnqueueRead(src Buffer, off int, dst []byte) (Event, error) {
	b, ok := src.(*cudaBuffer)
	if !ok {
		return nil, fmt.Errorf("%w: foreign buffer", ErrOperation)
	}
	if len(dst) == 0 {
		return q.EnqueueMarker()
	}
	return q.record("cuMemcpyDtoHAsync", func() cuResult {
		return cuMemcpyDtoHAsync(unsafe.Pointer(&dst[0]), b.ptr+uintptr(off), uint64(len(dst)), q.stream)
	})
}

func (q *cudaQueue) Launch(k Kernel, global, local int, args ...Arg) (Event, error) {
	ck, ok := k.(*cudaKernel)
	if !ok {
		return nil, fmt.Errorf("%w: foreign kernel", ErrOperation)
	}
	if local <= 0 || global < 0 || global%local != 0 {
		return nil, fmt.Errorf("%w: bad launch range global=%d local=%d", ErrOperation, global, local)
	}
	// Kernel parameters are passed as an array of pointers to values.
	vals := make([]uint64, len(args))
	params := make([]unsafe.Pointer, len(args))
	for i, a := range args {
		switch a.tag {
		case argBuf:
			vals[i] = uint64(a.Buf.(*cudaBuffer).ptr)
		case argI32:
			vals[i] = uint64(uint32(a.I32))
		case argU32:
			vals[i] = uint64(a.U32)
		case argF32:
			vals[i] = uint64(*(*uint32)(unsafe.Pointer(&a.F32)))
		}
		params[i] = unsafe.Pointer(&vals[i])
	}
	grid := uint32(global / local)
	return q.record("cuLaunchKernel", func() cuResult {
		var pp unsafe.Pointer
		if len(params) > 0 {
			pp = unsafe.Pointer(&params[0])
		}
		return cuLaunchKernel(ck.fn, grid, 1, 1, uint32(local), 1, 1, 0, q.stream, pp, nil)
	})
}

func (q *cudaQueue) EnqueueMarker() (Event, error) {
	ev := &cudaEvent{profiled: false}
	if r := cuEventCreate(&ev.end, cuEventDisableTiming); r != cuSuccess {
		return nil, r.error("cuEventCreate")
	}
	if r := cuEventRecord(ev.end, q.stream); r != cuSuccess {
		return nil, r.error("cuEventRecord")
	}
	return ev, nil
}

func (q *cudaQueue) Finish() error {
	return cuStreamSynchronize(q.stream).error("cuStreamSynchronize")
}

func (q *cudaQueue) Release() error {
	return cuStreamDestroy(q.stream).error("cuStreamDestroy")
}

type cudaEvent struct {
	start, end uintptr
	profiled   bool
}

func (e *cudaEvent) Wait() error {
	return cuEventSynchronize(e.end).error("cuEventSynchronize")
}

func (e *cudaEvent) Elapsed() (time.Duration, bool) {
	if !e.profiled {
		return 0, false
	}
	if err := e.Wait(); err != nil {
		return 0, false
	}
	var ms float32
	if r := cuEventElapsedTime(&ms, e.start, e.end); r != cuSuccess {
		return 0, false
	}
	return time.Duration(float64(ms) * float64(time.Millisecond)), true
}
