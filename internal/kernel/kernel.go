// Package kernel assembles every subsystem singleton into one aggregate,
// avoiding initialization-order bugs between them: the frame allocator,
// PID allocator, process manager/processor, kernel address space,
// block-cache manager and filesystem instance, built and wired together by
// New and brought up by Boot.
package kernel

import (
	"fmt"

	"riscvkern/internal/addr"
	"riscvkern/internal/blockdev"
	"riscvkern/internal/frame"
	"riscvkern/internal/fs"
	"riscvkern/internal/loader"
	"riscvkern/internal/memset"
	"riscvkern/internal/pagetable"
	"riscvkern/internal/physmem"
	"riscvkern/internal/proc"
	"riscvkern/internal/sbi"
	"riscvkern/internal/syscall"
	"riscvkern/internal/trap"
	"riscvkern/internal/vfs"
)

// Kernel owns every subsystem singleton. Nothing outside this package
// reaches frame.Allocator, proc.PIDAllocator, etc. directly once Boot has
// run; internal/syscall and internal/trap both receive pointers into this
// struct at construction.
type Kernel struct {
	Env     *proc.Env
	Sched   *proc.Scheduler
	FS      *vfs.FileSystem
	Loader  *loader.Loader
	Machine sbi.Machine

	Dispatcher *syscall.Dispatcher
	Trap       *trap.Handler

	Initproc *proc.PCB
}

// Config names everything Boot needs that this Go simulation cannot
// derive itself: the linker-provided kernel layout, the usable physical
// frame range, the disk backing the filesystem, the SBI machine, the app
// table and which app is initproc.
type Config struct {
	Layout      memset.KernelLayout
	FrameBase   addr.PhysPageNumber
	FrameCount  int
	ArenaNpages int
	Disk        blockdev.Disk
	Machine     sbi.Machine
	Apps        map[string][]byte
	InitprocApp string
	TrapHandler uint64
}

// New constructs every subsystem singleton from cfg but does not yet
// activate the kernel address space or enqueue initproc; call Boot for
// that. Split from Boot so tests can inspect a freshly-built Kernel before
// bring-up completes.
func New(cfg Config) (*Kernel, error) {
	mem := physmem.NewArena(cfg.FrameBase, cfg.ArenaNpages)
	alloc := frame.NewAllocator(cfg.FrameBase, cfg.FrameBase+addr.PhysPageNumber(cfg.FrameCount))

	trampFrame, ok := alloc.Alloc()
	if !ok {
		return nil, fmt.Errorf("kernel: no frame for trampoline")
	}

	kspace := memset.NewKernelSpace(alloc, mem, trampFrame, cfg.Layout)

	env := &proc.Env{
		Alloc:         alloc,
		Mem:           mem,
		KernelSpace:   kspace,
		PIDs:          proc.NewPIDAllocator(0, proc.PIDLimit),
		TrapHandler:   cfg.TrapHandler,
		TrampolinePPN: trampFrame,
	}

	disk, err := fs.Open(cfg.Disk)
	if err != nil {
		disk, err = fs.Create(cfg.Disk, cfg.Disk.NumBlocks(), 1)
		if err != nil {
			return nil, fmt.Errorf("kernel: format filesystem: %w", err)
		}
	}
	volume := vfs.New(disk)

	ldr := loader.New()
	for name, data := range cfg.Apps {
		ldr.Register(name, data)
	}

	sched := proc.NewScheduler()

	k := &Kernel{
		Env:     env,
		Sched:   sched,
		FS:      volume,
		Loader:  ldr,
		Machine: cfg.Machine,
	}

	k.Dispatcher = &syscall.Dispatcher{
		Env:     env,
		Sched:   sched,
		Machine: cfg.Machine,
		Loader:  ldr,
		NowMS:   cfg.Machine.Now,
	}
	k.Trap = &trap.Handler{
		Sched:             sched,
		Dispatcher:        k.Dispatcher,
		Machine:           cfg.Machine,
		NextTimerDeadline: trap.DefaultNextTimerDeadline,
	}
	return k, nil
}

// Boot activates the kernel address space, arms the timer and enqueues
// initproc. BSS clearing and heap init happen before Go code runs, so
// Boot starts from address space activation.
func (k *Kernel) Boot(initprocApp string) error {
	k.Env.KernelSpace.Activate()
	k.Machine.SetTimer(trap.DefaultNextTimerDeadline(k.Machine.Now()))

	elfData, ok := k.Loader.AppData(initprocApp)
	if !ok {
		return fmt.Errorf("kernel: unknown initproc app %q", initprocApp)
	}
	initproc, err := proc.New(k.Env, elfData)
	if err != nil {
		return fmt.Errorf("kernel: build initproc: %w", err)
	}
	k.Initproc = initproc
	k.Dispatcher.Initproc = initproc
	k.Trap.Initproc = initproc
	k.Sched.Add(initproc)
	return nil
}

// RunOnce dequeues and runs the next ready process for exactly one
// scheduling quantum's worth of caller-driven trap handling; it is a
// single iteration of the scheduler loop, exposed one call at a time
// since this Go simulation has no real hardware timer to block on. It
// reports false if the ready queue was empty.
func (k *Kernel) RunOnce() bool {
	return k.Sched.RunOnce()
}

// PageTableOf is a convenience accessor used by host-side tooling that
// wants to inspect a process's address space without reaching into
// internal/proc directly.
func PageTableOf(p *proc.PCB) *pagetable.PageTable { return p.PageTable() }
