package device

import (
	"errors"
	"time"
)

// Device errors. Allocation failures and failed device operations are not
// recoverable by callers; they are reported so the run can abort cleanly.
var (
	// ErrAllocation indicates the device could not satisfy a memory request.
	ErrAllocation = errors.New("device: memory allocation failed")

	// ErrOperation indicates a device API call failed.
	ErrOperation = errors.New("device: operation failed")

	// ErrReleased indicates use of a buffer, queue or kernel after release.
	ErrReleased = errors.New("device: resource already released")

	// ErrKernelNotFound indicates a kernel name missing from the program.
	ErrKernelNotFound = errors.New("device: kernel not found in program")
)

// Info describes a compute target.
type Info struct {
	Name         string
	ComputeUnits int
	TotalMem     int64
}

// Context owns device memory, queues and the compiled utility program.
type Context interface {
	Info() Info

	// AllocBuffer allocates an uninitialized device buffer of the given size.
	AllocBuffer(bytes int) (Buffer, error)

	// AllocBufferFrom allocates a device buffer initialized with src. Used
	// for read-only parameter tables uploaded once at configuration time.
	AllocBufferFrom(src []byte) (Buffer, error)

	// NewQueue creates a command queue. Profiling queues attach elapsed-time
	// information to the events they return.
	NewQueue(profiling bool) (Queue, error)

	// Program returns the compiled utility-kernel program for this context.
	Program() Program

	// Close releases the context. All buffers, queues and kernels must have
	// been released first.
	Close() error
}

// Buffer is a device memory allocation. Buffers have exactly one owner;
// ownership transfer is release-then-recreate, never aliasing.
type Buffer interface {
	Size() int
	Release() error
}

// Program resolves kernels by name.
type Program interface {
	Kernel(name string) (Kernel, error)
}

// Kernel is a bound kernel handle.
type Kernel interface {
	Name() string
	Release() error
}

// Queue is an ordered device command stream. Enqueue calls return without
// waiting for device completion; Finish blocks until all prior commands in
// this queue have completed.
type Queue interface {
	// EnqueueWrite copies src into dst at byte offset off, asynchronously.
	EnqueueWrite(dst Buffer, off int, src []byte) (Event, error)

	// EnqueueRead copies len(dst) bytes from src at byte offset off into dst,
	// asynchronously.
	EnqueueRead(src Buffer, off int, dst []byte) (Event, error)

	// Launch enqueues a kernel over a 1-D range of global work items grouped
	// in local-sized blocks.
	Launch(k Kernel, global, local int, args ...Arg) (Event, error)

	// EnqueueMarker returns an event that completes once all commands
	// enqueued so far have completed.
	EnqueueMarker() (Event, error)

	// Finish blocks the calling goroutine until the queue drains.
	Finish() error

	Release() error
}

// Event tracks completion of a single enqueued command.
type Event interface {
	// Wait blocks until the command has completed and returns its error.
	Wait() error

	// Elapsed reports the device-side execution time of the command. The
	// second return is false when the owning queue was created without
	// profiling, so callers can tell "not measured" from zero.
	Elapsed() (time.Duration, bool)
}

// Arg is a kernel launch argument.
type Arg struct {
	Buf Buffer
	I32 int32
	U32 uint32
	F32 float32
	tag argTag
}

type argTag uint8

const (
	argBuf argTag = iota
	argI32
	argU32
	argF32
)

func BufArg(b Buffer) Arg  { return Arg{Buf: b, tag: argBuf} }
func Int32Arg(v int32) Arg { return Arg{I32: v, tag: argI32} }
func Uint32Arg(v uint32) Arg {
	return Arg{U32: v, tag: argU32}
}
func Float32Arg(v float32) Arg { return Arg{F32: v, tag: argF32} }

// AutoSelect picks the best available backend: CUDA when compiled in and a
// device is present, the host backend otherwise.
func AutoSelect() (Context, error) {
	if ctx, err := newCUDAContext(); err == nil && ctx != nil {
		return ctx, nil
	}
	return NewHost(HostOptions{}), nil
}
