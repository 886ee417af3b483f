// Package frame implements the kernel's sole physical frame allocator: a
// stack of recycled page numbers backed by a bump-allocated cursor,
// guarded by a single mutex.
package frame

import (
	"sync"

	"riscvkern/internal/addr"
)

// Allocator owns every physical frame above the kernel image. It is
// initialized once during boot with the usable physical range and is safe
// for concurrent use.
type Allocator struct {
	mu       sync.Mutex
	current  addr.PhysPageNumber
	end      addr.PhysPageNumber
	recycled []addr.PhysPageNumber
}

// NewAllocator builds an allocator over the half-open PPN range [low, high).
func NewAllocator(low, high addr.PhysPageNumber) *Allocator {
	return &Allocator{current: low, end: high}
}

// Alloc pops a recycled page if any exist, else bumps the cursor. It
// returns false when both the recycled list and the bump region are
// exhausted.
func (a *Allocator) Alloc() (addr.PhysPageNumber, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n := len(a.recycled); n > 0 {
		ppn := a.recycled[n-1]
		a.recycled = a.recycled[:n-1]
		return ppn, true
	}
	if a.current == a.end {
		return 0, false
	}
	ppn := a.current
	a.current++
	return ppn, true
}

// Dealloc returns ppn to the free pool. It panics if ppn was never handed
// out by this allocator (above the bump cursor) or is already free.
func (a *Allocator) Dealloc(ppn addr.PhysPageNumber) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ppn >= a.current {
		panic("frame: dealloc of page never allocated")
	}
	for _, r := range a.recycled {
		if r == ppn {
			panic("frame: double free of page")
		}
	}
	a.recycled = append(a.recycled, ppn)
}

// Reader abstracts the byte-level view of physical memory a Frame needs to
// zero itself on acquisition. Production code backs this with the real
// physical memory map; tests back it with a plain byte slice arena.
type Reader interface {
	// Page returns a PageSize-length mutable view of the page at ppn.
	Page(ppn addr.PhysPageNumber) []byte
}

// Frame is an owned, zeroed physical page. Exactly one holder exists for a
// given PPN at a time; Release returns it to the allocator.
type Frame struct {
	PPN   addr.PhysPageNumber
	alloc *Allocator
}

// Acquire allocates a frame, zeroes it via mem, and returns the owning
// handle. It reports false if the allocator is exhausted.
func Acquire(a *Allocator, mem Reader) (*Frame, bool) {
	ppn, ok := a.Alloc()
	if !ok {
		return nil, false
	}
	page := mem.Page(ppn)
	for i := range page {
		page[i] = 0
	}
	return &Frame{PPN: ppn, alloc: a}, true
}

// Release returns the frame to its allocator. A Frame must be released
// exactly once; double-release panics via Allocator.Dealloc.
func (f *Frame) Release() {
	f.alloc.Dealloc(f.PPN)
}
