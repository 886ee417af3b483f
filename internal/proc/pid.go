package proc

import "sync"

// PIDLimit bounds the pid space.
const PIDLimit = 1024

// PIDAllocator hands out process identifiers from a stack of recycled ids,
// else a bump cursor, the same shape as internal/frame.Allocator.
type PIDAllocator struct {
	mu       sync.Mutex
	current  int
	end      int
	recycled []int
}

// NewPIDAllocator builds an allocator over [start, end).
func NewPIDAllocator(start, end int) *PIDAllocator {
	if end <= start {
		panic("proc: invalid pid range")
	}
	return &PIDAllocator{current: start, end: end}
}

// Alloc returns a fresh pid, or false if the space is exhausted.
func (a *PIDAllocator) Alloc() (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n := len(a.recycled); n > 0 {
		pid := a.recycled[n-1]
		a.recycled = a.recycled[:n-1]
		return pid, true
	}
	if a.current == a.end {
		return 0, false
	}
	pid := a.current
	a.current++
	return pid, true
}

// Dealloc returns pid to the free pool.
func (a *PIDAllocator) Dealloc(pid int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recycled = append(a.recycled, pid)
}
