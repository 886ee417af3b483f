// Package trapctx defines TrapContext, the saved user register file plus
// enough kernel state to resume the trap handler. It is
// its own leaf package (rather than living in internal/trap) so that
// internal/proc can embed a pointer to one without internal/trap having to
// import internal/proc back: the trap handler needs the scheduler, the
// scheduler needs the trap context type, and Go packages can't import each
// other in a cycle.
package trapctx

// TrapContext is located at a fixed VA (config.TrapContext) in every user
// address space, backed by a dedicated frame.
type TrapContext struct {
	// X holds the 32 integer registers x0..x31 as saved/restored by the
	// trampoline's __alltraps/__restore.
	X [32]uint64
	// Sstatus is the saved supervisor status register.
	Sstatus uint64
	// Sepc is the saved user program counter to resume at.
	Sepc uint64
	// KernelSATP is the kernel page table's SATP word, loaded by
	// __alltraps before it jumps to the kernel trap handler.
	KernelSATP uint64
	// KernelSP is the kernel stack pointer to switch to on trap entry.
	KernelSP uint64
	// TrapHandler is the address of the Go-side trap_handler entry point,
	// so __alltraps can reach it without a hardcoded symbol.
	TrapHandler uint64
}

// SP returns the saved user stack pointer (register x2).
func (c *TrapContext) SP() uint64 { return c.X[2] }

// SetSP writes the user stack pointer into register x2.
func (c *TrapContext) SetSP(sp uint64) { c.X[2] = sp }

// sstatusSPPUser is the bit that marks the saved privilege mode as User, so
// sret drops back to U-mode rather than re-entering S-mode.
const sstatusSPPUser = 0 // SPP bit cleared selects User, per the Sv39 sstatus layout

// New builds the initial TrapContext for a process about to start running
// at entry with the given user stack pointer, kernel stack pointer, kernel
// SATP and trap handler address.
func New(entry, userSP, kernelSP, kernelSATP, trapHandler uint64) TrapContext {
	var ctx TrapContext
	ctx.Sepc = entry
	ctx.Sstatus = sstatusSPPUser
	ctx.SetSP(userSP)
	ctx.KernelSP = kernelSP
	ctx.KernelSATP = kernelSATP
	ctx.TrapHandler = trapHandler
	return ctx
}
