package proc

import (
	"riscvkern/internal/addr"
	"riscvkern/internal/config"
	"riscvkern/internal/memset"
)

// KernelStack is a process's kernel-side stack, mapped into the kernel's own
// MemorySet at the pid-indexed VA range config.KernelStackPosition computes,
// separated from its neighbors by an unmapped guard page.
type KernelStack struct {
	pid        int
	kernelSpace *memset.MemorySet
}

// NewKernelStack maps pid's kernel stack into kernelSpace as a Framed R|W
// area.
func NewKernelStack(pid int, kernelSpace *memset.MemorySet) *KernelStack {
	bottom, top := config.KernelStackPosition(pid)
	kernelSpace.Push(memset.NewMemoryArea(bottom, top, memset.Framed, memset.PermR|memset.PermW), nil)
	return &KernelStack{pid: pid, kernelSpace: kernelSpace}
}

// Top returns this stack's top VA, the initial kernel sp for a fresh PCB.
func (k *KernelStack) Top() addr.VirtAddr {
	_, top := config.KernelStackPosition(k.pid)
	return top
}

// Release unmaps the stack's VA range from the kernel space, releasing its
// frames.
func (k *KernelStack) Release() {
	bottom, _ := config.KernelStackPosition(k.pid)
	k.kernelSpace.RemoveArea(bottom.Floor())
}
