package nonbonded

import (
	"fmt"

	"github.com/san-kum/nbgpu/internal/device"
)

// overAllocFactor is the geometric over-allocation applied on growth so
// repeated small increases do not reallocate every step.
const overAllocFactor = 1.19

// overAllocSmall computes the buffered capacity for small arrays.
func overAllocSmall(n int) int {
	return int(overAllocFactor*float64(n)) + 1
}

// overAllocLarge adds a linear pad on top of the geometric growth; for
// large arrays the pad amortizes reallocation without the waste a pure
// geometric policy would accumulate.
func overAllocLarge(n int) int {
	return int(overAllocFactor*float64(n)) + 1000
}

// deviceSlice is a device buffer tracked with an element count and a
// buffered capacity. Capacity -1 means never allocated; it only grows.
type deviceSlice struct {
	buf      device.Buffer
	n        int // current element count
	capacity int // allocated capacity in elements
	elemSize int
}

func newDeviceSlice(elemSize int) deviceSlice {
	return deviceSlice{n: -1, capacity: -1, elemSize: elemSize}
}

// free releases the buffer and resets count and capacity to the
// never-allocated state.
func (s *deviceSlice) free() error {
	if s.buf != nil {
		if err := s.buf.Release(); err != nil {
			return err
		}
		s.buf = nil
	}
	s.n = -1
	s.capacity = -1
	return nil
}

// reallocUpload grows the allocation if req exceeds the buffered capacity
// and uploads src (when non-nil) for the first req elements on q. The
// element count is refreshed on every call even without reallocation.
// Returns whether a reallocation occurred so the caller can re-clear
// dependent buffers, and the transfer event when an upload was requested
// with wantEvent.
func (s *deviceSlice) reallocUpload(ctx device.Context, q device.Queue, src []byte, req int, wantEvent bool) (bool, device.Event, error) {
	if req < 0 {
		return false, nil, fmt.Errorf("%w: negative element count %d", ErrInconsistentConfig, req)
	}

	realloced := false
	if req > s.capacity {
		// only free if the array has already been initialized
		if s.capacity >= 0 {
			if err := s.free(); err != nil {
				return false, nil, err
			}
		}
		newCap := overAllocLarge(req)
		buf, err := ctx.AllocBuffer(newCap * s.elemSize)
		if err != nil {
			return false, nil, err
		}
		s.buf = buf
		s.capacity = newCap
		realloced = true
	}

	// count can change without an actual reallocation
	s.n = req

	if src != nil {
		ev, err := q.EnqueueWrite(s.buf, 0, src[:req*s.elemSize])
		if err != nil {
			return realloced, nil, err
		}
		if wantEvent {
			return realloced, ev, nil
		}
	}
	return realloced, nil, nil
}
