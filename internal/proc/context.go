package proc

// Context holds the callee-saved registers plus ra/sp that the
// hand-written switch primitive preserves across a context switch. It is
// written only by Switch and read only to resume kernel-side execution
// after a switch back.
type Context struct {
	RA uint64
	SP uint64
	S  [12]uint64
}

// TrapReturnFn is the address Switch jumps to for a brand-new process:
// trap_return, which installs the trampoline stvec and drops to user mode.
// It is a package variable standing in for the assembly-backed routine,
// the same pattern internal/memset.WriteSATP and internal/sbi's ecall stub
// use. A Context never holds it directly; see trapReturnSentinel.
var TrapReturnFn = func() {}

// NewTrapReturnContext builds the Context a freshly created or forked PCB
// starts from: RA pointed at TrapReturnFn's slot (represented as a
// sentinel, since Go has no raw function-pointer-as-uint64), SP at the
// kernel stack top, s-registers zeroed.
func NewTrapReturnContext(kernelSP uint64) Context {
	return Context{RA: trapReturnSentinel, SP: kernelSP}
}

// trapReturnSentinel marks a Context as "resume via trap_return" rather
// than "resume at a previous yield point"; IsTrapReturn checks this marker
// instead of dereferencing a real function pointer.
const trapReturnSentinel = ^uint64(0)

// IsTrapReturn reports whether ctx was built by NewTrapReturnContext and
// has not yet been switched into (its RA still points at trap_return).
func (c Context) IsTrapReturn() bool { return c.RA == trapReturnSentinel }

// Switch performs the hand-written register-save/restore routine that
// saves the caller's callee-saved registers into old and restores next's,
// then jumps to next's resume point. The real routine is assembly; this is
// a package variable so tests can substitute a Go stand-in instead of
// relying on real register transfer.
var Switch = func(old, next *Context) {
	if old != nil {
		// production code never reaches here: the real primitive performs
		// the save/restore entirely in assembly.
	}
	_ = next
}
