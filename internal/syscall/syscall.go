// Package syscall implements the kernel's syscall ABI: read/write/exit/
// yield/get_time/fork/exec/waitpid, built around a single Dispatcher
// rather than free functions reaching into global state.
package syscall

import (
	"riscvkern/internal/pagetable"
	"riscvkern/internal/proc"
	"riscvkern/internal/sbi"
)

// Syscall numbers, matching the rv64 Linux-style ABI userland links against.
const (
	SysRead    = 63
	SysWrite   = 64
	SysExit    = 93
	SysYield   = 124
	SysGetTime = 169
	SysFork    = 220
	SysExec    = 221
	SysWaitPid = 260
)

const (
	fdStdin  = 0
	fdStdout = 1
)

// AppLoader resolves a null-terminated app path (as seen by exec) to its
// ELF image bytes.
type AppLoader interface {
	AppData(name string) ([]byte, bool)
}

// Dispatcher holds everything a syscall needs to reach: the process
// environment and scheduler, the SBI console, the app loader and a
// millisecond clock. Built once by internal/kernel and handed to the trap
// handler.
type Dispatcher struct {
	Env      *proc.Env
	Sched    *proc.Scheduler
	Machine  sbi.Machine
	Loader   AppLoader
	NowMS    func() uint64
	Initproc *proc.PCB
}

// Result is the outcome of one syscall dispatch. Value is the word to
// write into the trap context's x10 on return; Exited reports whether the
// calling process was exit()ed or killed, which tells the trap handler not
// to re-fetch and write back into a trap context that may no longer exist.
type Result struct {
	Value  uint64
	Exited bool
}

// Dispatch executes syscall id with args (x17, [x10,x11,x12]) on behalf of
// the scheduler's current process.
func (d *Dispatcher) Dispatch(id uint64, args [3]uint64) Result {
	cur := d.Sched.Processor.Current()
	if cur == nil {
		panic("syscall: dispatch with no current process")
	}
	switch id {
	case SysRead:
		return Result{Value: uint64(int64(d.sysRead(cur, args[0], args[1], args[2])))}
	case SysWrite:
		return Result{Value: uint64(int64(d.sysWrite(cur, args[0], args[1], args[2])))}
	case SysExit:
		d.Sched.ExitCurrentAndRunNext(d.Initproc, int32(int64(args[0])))
		return Result{Exited: true}
	case SysYield:
		d.Sched.SuspendCurrentAndRunNext()
		return Result{Value: 0}
	case SysGetTime:
		return Result{Value: d.NowMS()}
	case SysFork:
		return Result{Value: uint64(int64(d.sysFork(cur)))}
	case SysExec:
		return Result{Value: uint64(int64(d.sysExec(cur, args[0])))}
	case SysWaitPid:
		return Result{Value: uint64(int64(d.sysWaitPid(cur, int64(args[0]), args[1])))}
	default:
		panic("syscall: unknown syscall id")
	}
}

// sysRead implements fd=0 console read: poll SBI for a byte, spinning
// (the caller's process stays Running; read never yields) until one
// arrives, then write exactly one byte to buf. len must be 1; any other fd
// is fatal.
func (d *Dispatcher) sysRead(cur *proc.PCB, fd, buf, length uint64) int64 {
	if fd != fdStdin {
		panic("syscall: read of unsupported fd")
	}
	if length != 1 {
		panic("syscall: read length must be 1")
	}
	var ch byte
	for {
		b, ok := d.Machine.ConsoleGetChar()
		if ok {
			ch = b
			break
		}
	}
	pagetable.WriteUserValue(cur.PageTable(), buf, []byte{ch})
	return 1
}

// sysWrite implements fd=1 console write: translate buf through the
// caller's page table and print each page-sized chunk.
func (d *Dispatcher) sysWrite(cur *proc.PCB, fd, buf, length uint64) int64 {
	if fd != fdStdout {
		panic("syscall: write of unsupported fd")
	}
	chunks := pagetable.TranslatedByteBuffer(cur.PageTable(), buf, int(length))
	for _, chunk := range chunks {
		for _, ch := range chunk {
			d.Machine.ConsolePutChar(ch)
		}
	}
	return int64(length)
}

// sysFork clones the caller's address space and kernel stack, zeroes the
// child's trap-context fork-return register, enqueues the child, and
// returns its pid to the parent.
func (d *Dispatcher) sysFork(cur *proc.PCB) int64 {
	child := cur.Fork(d.Env)
	childCtx := child.TrapContext(d.Env.Mem)
	childCtx.X[10] = 0
	d.Sched.Add(child)
	return int64(child.PID)
}

// sysExec resolves path through the caller's page table and the app
// loader, replacing the caller's memory set in place on success. Returns
// -1 for an unknown app.
func (d *Dispatcher) sysExec(cur *proc.PCB, pathPtr uint64) int64 {
	path := pagetable.TranslateString(cur.PageTable(), pathPtr)
	data, ok := d.Loader.AppData(path)
	if !ok {
		return -1
	}
	if !cur.Exec(d.Env, data) {
		return -1
	}
	return 0
}

// sysWaitPid returns -1 if pid is neither -1 nor one of the caller's
// children; the child's pid (with its exit code written to *statusPtr) if
// a matching Zombie child exists; -2 if only non-Zombie matching children
// exist. Reaping a zombie fully releases it: exit already recycled its
// memory set, so what remains is the kernel stack and the pid itself.
func (d *Dispatcher) sysWaitPid(cur *proc.PCB, pid int64, statusPtr uint64) int64 {
	children := cur.Children()

	matches := false
	for _, c := range children {
		if pid == -1 || int64(c.PID) == pid {
			matches = true
			break
		}
	}
	if !matches {
		return -1
	}

	for _, c := range children {
		if (pid == -1 || int64(c.PID) == pid) && c.Status() == proc.StatusZombie {
			code := c.ExitCode()
			var buf [4]byte
			buf[0] = byte(code)
			buf[1] = byte(code >> 8)
			buf[2] = byte(code >> 16)
			buf[3] = byte(code >> 24)
			pagetable.WriteUserValue(cur.PageTable(), statusPtr, buf[:])
			cur.RemoveChild(c.PID)
			c.KernelStack.Release()
			d.Env.PIDs.Dealloc(c.PID)
			return int64(c.PID)
		}
	}
	return -2
}
