// Package config centralizes the kernel's fixed memory-layout constants
// for the rv64/Sv39 target platform.
package config

import "riscvkern/internal/addr"

const (
	// UserStackSize and KernelStackSize are both 8 KiB.
	UserStackSize   = 8 * 1024
	KernelStackSize = 8 * 1024

	// TimeFrequency is the platform timer's ticks-per-second; the
	// preemption quantum is TimeFrequency / 100.
	TimeFrequency = 12_500_000

	// KernelHeapSize is the size of the heap region managed by the
	// provided allocator, named for callers that size a simulated heap.
	KernelHeapSize = 10 * 1024 * 1024

	// MemoryEnd is the top of physical RAM the frame allocator may use.
	MemoryEnd = 0x8200_0000
)

// Trampoline is the fixed virtual address, in every address space, of the
// single page holding the user<->kernel transition code: the last page of
// the VA space.
var Trampoline = addr.VirtAddr((uint64(1)<<addr.VAWidth - 1) - addr.PageSize + 1)

// TrapContext is the fixed VA, one page below Trampoline, of the saved
// user register file in every user address space.
var TrapContext = addr.VirtAddr(uint64(Trampoline) - addr.PageSize)

// KernelStackPosition returns the [bottom, top) VA range of the pid'th
// process's kernel-space stack, with a guard page separating consecutive
// stacks, counting down from the trampoline.
func KernelStackPosition(pid int) (bottom, top addr.VirtAddr) {
	top = addr.VirtAddr(uint64(Trampoline) - uint64(pid)*(KernelStackSize+addr.PageSize))
	bottom = addr.VirtAddr(uint64(top) - KernelStackSize)
	return bottom, top
}
