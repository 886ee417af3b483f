// Package trap implements the kernel trap handler: dispatching a trapped
// user-mode event to the syscall layer, the scheduler's preemption path,
// or a fault-kill. The trampoline assembly itself (__alltraps/__restore)
// and the scause/stval CSR reads are hand-written primitives, so Cause
// stands in for a decoded scause the way internal/sbi.Machine stands in
// for real ecalls.
package trap

import (
	"fmt"

	"riscvkern/internal/config"
	"riscvkern/internal/proc"
	"riscvkern/internal/sbi"
	"riscvkern/internal/syscall"
)

// Cause is the decoded trap reason a real handler would read off scause;
// the CSR read itself lives in the assembly entry.
type Cause int

const (
	CauseUserEnvCall Cause = iota
	CauseSupervisorTimer
	CauseStoreFault
	CauseStorePageFault
	CauseInstructionFault
	CauseInstructionPageFault
	CauseLoadFault
	CauseLoadPageFault
	CauseIllegalInstruction
	CauseOther
)

func (c Cause) String() string {
	switch c {
	case CauseUserEnvCall:
		return "UserEnvCall"
	case CauseSupervisorTimer:
		return "SupervisorTimer"
	case CauseStoreFault:
		return "StoreFault"
	case CauseStorePageFault:
		return "StorePageFault"
	case CauseInstructionFault:
		return "InstructionFault"
	case CauseInstructionPageFault:
		return "InstructionPageFault"
	case CauseLoadFault:
		return "LoadFault"
	case CauseLoadPageFault:
		return "LoadPageFault"
	case CauseIllegalInstruction:
		return "IllegalInstruction"
	default:
		return "Other"
	}
}

// isMemoryFault reports whether cause is one of the load/store/instruction
// access faults that kill the offending process with exit code -2.
func (c Cause) isMemoryFault() bool {
	switch c {
	case CauseStoreFault, CauseStorePageFault, CauseInstructionFault,
		CauseInstructionPageFault, CauseLoadFault, CauseLoadPageFault:
		return true
	default:
		return false
	}
}

// Verbose gates the kernel's fmt.Printf-style trace lines.
var Verbose = false

func tracef(format string, args ...any) {
	if Verbose {
		fmt.Printf(format, args...)
	}
}

// Handler wires the scheduler, syscall dispatcher and SBI machine together
// to drive one trap round at a time. A real kernel enters HandleUserTrap
// from the assembly entry stub; tests drive it one call at a time instead.
type Handler struct {
	Sched      *proc.Scheduler
	Dispatcher *syscall.Dispatcher
	Machine    sbi.Machine
	Initproc   *proc.PCB

	// NextTimerDeadline computes the mtime value to arm for the next
	// SupervisorTimer interrupt, given the machine's current time. Kept as
	// a field (rather than hard-coding TimeFrequency/100 here) so tests can
	// observe rearm calls precisely.
	NextTimerDeadline func(now uint64) uint64
}

// HandleUserTrap services one trap out of user mode by dispatching on
// cause. It does not write any trap entry (stvec) itself, neither on entry
// nor on return; nothing in this package installs HandleKernelTrap. For
// UserEnvCall it advances sepc by 4, invokes the syscall and re-fetches
// the trap context afterward, because exec may have swapped the process's
// address space and therefore its trap-context frame, before writing the
// result into x10.
func (h *Handler) HandleUserTrap(cause Cause, stval uint64) {
	cur := h.Sched.Processor.Current()
	if cur == nil {
		panic("trap: no current process")
	}

	switch {
	case cause == CauseUserEnvCall:
		ctx := cur.TrapContext(h.Dispatcher.Env.Mem)
		ctx.Sepc += 4
		id := ctx.X[17]
		args := [3]uint64{ctx.X[10], ctx.X[11], ctx.X[12]}
		res := h.Dispatcher.Dispatch(id, args)
		if res.Exited {
			return
		}
		ctx = cur.TrapContext(h.Dispatcher.Env.Mem)
		ctx.X[10] = res.Value

	case cause == CauseSupervisorTimer:
		h.Machine.SetTimer(h.NextTimerDeadline(h.Machine.Now()))
		h.Sched.SuspendCurrentAndRunNext()

	case cause.isMemoryFault():
		ctx := cur.TrapContext(h.Dispatcher.Env.Mem)
		tracef("[kernel] %s in application, bad addr = %#x, bad instruction = %#x, core dumped.\n",
			cause, stval, ctx.Sepc)
		h.Sched.ExitCurrentAndRunNext(h.Initproc, -2)

	case cause == CauseIllegalInstruction:
		tracef("[kernel] IllegalInstruction in application, core dumped.\n")
		h.Sched.ExitCurrentAndRunNext(h.Initproc, -3)

	default:
		panic(fmt.Sprintf("trap: unsupported trap, cause: %s, stval: %#x", cause, stval))
	}
}

// HandleKernelTrap is the handler for a trap taken while the kernel itself
// is running. A trap reaching the kernel itself is
// always a bug: the scheduler never preempts kernel code, so it panics
// rather than attempting recovery.
func (h *Handler) HandleKernelTrap() {
	panic("trap: trap from kernel not allowed")
}

// DefaultNextTimerDeadline computes the next SupervisorTimer deadline one
// scheduling quantum (TimeFrequency/100 ticks) past now.
func DefaultNextTimerDeadline(now uint64) uint64 {
	return now + config.TimeFrequency/100
}
