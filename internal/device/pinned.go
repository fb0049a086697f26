package device

import (
	"fmt"
	"sync"
)

// PinnedPool manages host-side staging buffers used for device readback.
// On backends with page-locked memory these would be pinned allocations;
// the host backend serves plain slices with the same ownership rules.
// Buffers are recycled through a free list so repeated per-step readbacks
// do not allocate.
type PinnedPool struct {
	maxSize int64

	mu          sync.Mutex
	currentSize int64
	live        int
	freeList    [][]byte
	closed      bool
}

// NewPinnedPool creates a staging pool with the given total size limit.
// A limit of 0 means unlimited.
func NewPinnedPool(maxSize int64) *PinnedPool {
	return &PinnedPool{maxSize: maxSize}
}

// Alloc returns a zeroed staging buffer of the requested size.
func (p *PinnedPool) Alloc(size int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrReleased
	}
	for i, buf := range p.freeList {
		if cap(buf) >= size {
			p.freeList = append(p.freeList[:i], p.freeList[i+1:]...)
			buf = buf[:size]
			for j := range buf {
				buf[j] = 0
			}
			p.live++
			return buf, nil
		}
	}
	if p.maxSize > 0 && p.currentSize+int64(size) > p.maxSize {
		return nil, fmt.Errorf("%w: staging pool exhausted (%d of %d bytes in use)",
			ErrAllocation, p.currentSize, p.maxSize)
	}
	p.currentSize += int64(size)
	p.live++
	return make([]byte, size), nil
}

// Free returns a buffer to the pool for reuse.
func (p *PinnedPool) Free(buf []byte) {
	if buf == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.live--
	p.freeList = append(p.freeList, buf)
}

// Live reports the number of outstanding (not yet freed) buffers.
func (p *PinnedPool) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live
}

// Close releases the pool. Outstanding buffers become plain host memory.
func (p *PinnedPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrReleased
	}
	p.closed = true
	p.freeList = nil
	p.currentSize = 0
	return nil
}
