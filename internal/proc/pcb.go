// Package proc implements the process control block, its scheduler-visible
// lifecycle, the PID allocator and per-process kernel stacks.
package proc

import (
	"sync"

	"riscvkern/internal/addr"
	"riscvkern/internal/config"
	"riscvkern/internal/frame"
	"riscvkern/internal/memset"
	"riscvkern/internal/pagetable"
	"riscvkern/internal/physmem"
	"riscvkern/internal/trapctx"
)

// Status is the PCB's lifecycle state.
type Status int

const (
	StatusNew Status = iota
	StatusReady
	StatusRunning
	StatusExited
	StatusZombie
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusReady:
		return "ready"
	case StatusRunning:
		return "running"
	case StatusExited:
		return "exited"
	case StatusZombie:
		return "zombie"
	default:
		return "unknown"
	}
}

// PCB is the process control block: a pid, an owned kernel stack, and the
// mutex-guarded inner state every process-manipulating operation
// serializes on.
type PCB struct {
	PID         int
	KernelStack *KernelStack

	mu    sync.Mutex
	inner Inner
}

// Inner holds everything about a process that can change after creation.
// It is guarded by PCB.mu; the ready-queue mutex and a PCB's inner mutex
// must be acquired queue-then-inner, so callers must never hold a PCB lock
// while trying to lock the ready queue.
type Inner struct {
	TrapCtxPPN addr.PhysPageNumber
	MemorySet  *memset.MemorySet
	Context    Context
	Status     Status
	Parent     *PCB // non-owning back-reference; Children is the owning direction
	Children   []*PCB
	ExitCode   int32
}

// Env bundles the shared singletons every PCB needs at construction time:
// the frame allocator, the physical memory arena, the kernel address
// space, the pid allocator, the trap handler entry address and the
// trampoline's physical frame. Threaded through explicitly rather than
// held as package globals, matching internal/frame.Allocator's
// explicit-instance convention.
type Env struct {
	Alloc         *frame.Allocator
	Mem           *physmem.Arena
	KernelSpace   *memset.MemorySet
	PIDs          *PIDAllocator
	TrapHandler   uint64
	TrampolinePPN addr.PhysPageNumber
}

func (e *Env) trapCtxPPN(ms *memset.MemorySet) addr.PhysPageNumber {
	pte, ok := ms.Translate(config.TrapContext.Floor())
	if !ok {
		panic("proc: trap context not mapped")
	}
	return pte.PPN()
}

// New builds a fresh PCB running elfData from its entry point. The new PCB
// starts Ready.
func New(env *Env, elfData []byte) (*PCB, error) {
	ms, userSP, entry, err := memset.FromELF(env.Alloc, env.Mem, env.TrampolinePPN, elfData)
	if err != nil {
		return nil, err
	}
	pid, ok := env.PIDs.Alloc()
	if !ok {
		panic("proc: pid space exhausted")
	}
	stack := NewKernelStack(pid, env.KernelSpace)

	p := &PCB{PID: pid, KernelStack: stack}
	p.inner = Inner{
		TrapCtxPPN: env.trapCtxPPN(ms),
		MemorySet:  ms,
		Context:    NewTrapReturnContext(uint64(stack.Top())),
		Status:     StatusReady,
	}
	ctx := p.TrapContext(env.Mem)
	*ctx = trapctx.New(entry, userSP, uint64(stack.Top()), env.KernelSpace.PageTable.SATP(), env.TrapHandler)
	return p, nil
}

// TrapContext returns a pointer into the frame backing this PCB's trap
// context page, for the trap handler and syscall layer to read/write.
func (p *PCB) TrapContext(mem *physmem.Arena) *trapctx.TrapContext {
	p.mu.Lock()
	ppn := p.inner.TrapCtxPPN
	p.mu.Unlock()
	return physmem.Cast[trapctx.TrapContext](mem, ppn)
}

// UserSATP returns the SATP word for this process's address space.
func (p *PCB) UserSATP() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inner.MemorySet.PageTable.SATP()
}

// PageTable exposes the process's page table for user-buffer translation.
func (p *PCB) PageTable() *pagetable.PageTable {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inner.MemorySet.PageTable
}

// Status returns the current lifecycle status.
func (p *PCB) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inner.Status
}

// SetStatus transitions the lifecycle status.
func (p *PCB) SetStatus(s Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inner.Status = s
}

// ContextPtr returns a pointer to the process's saved Context for the
// scheduler to pass to Switch.
func (p *PCB) ContextPtr() *Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	return &p.inner.Context
}

// Parent returns the non-owning parent back-reference, or nil for initproc.
func (p *PCB) Parent() *PCB {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inner.Parent
}

// Children returns a snapshot of the owning children slice.
func (p *PCB) Children() []*PCB {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*PCB, len(p.inner.Children))
	copy(out, p.inner.Children)
	return out
}

// AddChild records child as one of p's owned children and sets its parent
// back-reference.
func (p *PCB) AddChild(child *PCB) {
	p.mu.Lock()
	p.inner.Children = append(p.inner.Children, child)
	p.mu.Unlock()
	child.mu.Lock()
	child.inner.Parent = p
	child.mu.Unlock()
}

// RemoveChild deletes child from p's children slice, by pid.
func (p *PCB) RemoveChild(pid int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, c := range p.inner.Children {
		if c.PID == pid {
			p.inner.Children = append(p.inner.Children[:i], p.inner.Children[i+1:]...)
			return
		}
	}
}

// AdoptChildren transfers all of p's children to newParent (the same
// reparenting Scheduler.ExitCurrentAndRunNext performs inline on exit),
// clearing p's own list.
func (p *PCB) AdoptChildren(newParent *PCB) []*PCB {
	p.mu.Lock()
	kids := p.inner.Children
	p.inner.Children = nil
	p.mu.Unlock()
	for _, c := range kids {
		c.mu.Lock()
		c.inner.Parent = newParent
		c.mu.Unlock()
	}
	newParent.mu.Lock()
	newParent.inner.Children = append(newParent.inner.Children, kids...)
	newParent.mu.Unlock()
	return kids
}

// ExitCode returns the code a zombie process exited with.
func (p *PCB) ExitCode() int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inner.ExitCode
}

// Fork clones the process's address space and kernel stack. The child's
// trap-context x[10] (the fork return value) is left for the caller
// (sys_fork) to zero, since only the syscall layer knows which register
// convention applies.
func (p *PCB) Fork(env *Env) *PCB {
	p.mu.Lock()
	parentMS := p.inner.MemorySet
	p.mu.Unlock()

	childMS := memset.FromExisting(env.Alloc, env.Mem, env.TrampolinePPN, parentMS)
	pid, ok := env.PIDs.Alloc()
	if !ok {
		panic("proc: pid space exhausted")
	}
	stack := NewKernelStack(pid, env.KernelSpace)

	child := &PCB{PID: pid, KernelStack: stack}
	child.inner = Inner{
		TrapCtxPPN: env.trapCtxPPN(childMS),
		MemorySet:  childMS,
		Context:    NewTrapReturnContext(uint64(stack.Top())),
		Status:     StatusReady,
	}
	childCtx := child.TrapContext(env.Mem)
	childCtx.KernelSP = uint64(stack.Top())

	p.AddChild(child)
	return child
}

// Exec replaces the process's memory set, trap-context PPN and trap
// context in place (kernel stack is preserved). It returns false if
// elfData is not a valid ELF image.
func (p *PCB) Exec(env *Env, elfData []byte) bool {
	ms, userSP, entry, err := memset.FromELF(env.Alloc, env.Mem, env.TrampolinePPN, elfData)
	if err != nil {
		return false
	}
	p.mu.Lock()
	stackTop := uint64(p.KernelStack.Top())
	p.inner.MemorySet = ms
	p.inner.TrapCtxPPN = env.trapCtxPPN(ms)
	p.mu.Unlock()

	ctx := p.TrapContext(env.Mem)
	*ctx = trapctx.New(entry, userSP, stackTop, env.KernelSpace.PageTable.SATP(), env.TrapHandler)
	return true
}
