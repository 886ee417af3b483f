package trap

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"riscvkern/internal/addr"
	"riscvkern/internal/frame"
	"riscvkern/internal/memset"
	"riscvkern/internal/pagetable"
	"riscvkern/internal/physmem"
	"riscvkern/internal/proc"
	"riscvkern/internal/sbi"
	"riscvkern/internal/syscall"
)

func buildMinimalELF(vaddr, entry uint64, flags uint32, data []byte) []byte {
	const ehdrSize = 64
	const phdrSize = 56
	buf := make([]byte, ehdrSize+phdrSize+len(data))
	copy(buf[0:4], []byte{0x7f, 'E', 'L', 'F'})
	buf[4], buf[5], buf[6] = 2, 1, 1
	binary.LittleEndian.PutUint16(buf[16:], 2)
	binary.LittleEndian.PutUint16(buf[18:], 243)
	binary.LittleEndian.PutUint32(buf[20:], 1)
	binary.LittleEndian.PutUint64(buf[24:], entry)
	binary.LittleEndian.PutUint64(buf[32:], ehdrSize)
	binary.LittleEndian.PutUint16(buf[52:], ehdrSize)
	binary.LittleEndian.PutUint16(buf[54:], phdrSize)
	binary.LittleEndian.PutUint16(buf[56:], 1)
	ph := buf[ehdrSize : ehdrSize+phdrSize]
	binary.LittleEndian.PutUint32(ph[0:], 1)
	binary.LittleEndian.PutUint32(ph[4:], flags)
	binary.LittleEndian.PutUint64(ph[8:], ehdrSize+phdrSize)
	binary.LittleEndian.PutUint64(ph[16:], vaddr)
	binary.LittleEndian.PutUint64(ph[24:], vaddr)
	binary.LittleEndian.PutUint64(ph[32:], uint64(len(data)))
	binary.LittleEndian.PutUint64(ph[40:], uint64(len(data)))
	binary.LittleEndian.PutUint64(ph[48:], addr.PageSize)
	copy(buf[ehdrSize+phdrSize:], data)
	return buf
}

func testELF(entry uint64) []byte {
	const PF_R, PF_X, PF_W = 4, 1, 2
	text := make([]byte, addr.PageSize)
	return buildMinimalELF(entry, entry, PF_R|PF_X|PF_W, text)
}

type fakeLoader struct{ apps map[string][]byte }

func (f *fakeLoader) AppData(name string) ([]byte, bool) { b, ok := f.apps[name]; return b, ok }

func newTestHandler(t *testing.T) (*Handler, *proc.Env) {
	t.Helper()
	mem := physmem.NewArena(0, 8192)
	alloc := frame.NewAllocator(0, 8192)
	trampPPN, ok := alloc.Alloc()
	require.True(t, ok)
	kspace := memset.NewEmpty(alloc, mem, trampPPN)
	kspace.MapTrampoline()

	env := &proc.Env{
		Alloc:         alloc,
		Mem:           mem,
		KernelSpace:   kspace,
		PIDs:          proc.NewPIDAllocator(0, proc.PIDLimit),
		TrapHandler:   0xdead0000,
		TrampolinePPN: trampPPN,
	}
	sim := sbi.NewSim("")
	sched := proc.NewScheduler()
	initproc, err := proc.New(env, testELF(0x1000))
	require.NoError(t, err)

	dispatcher := &syscall.Dispatcher{
		Env:      env,
		Sched:    sched,
		Machine:  sim,
		Loader:   &fakeLoader{apps: map[string][]byte{}},
		NowMS:    func() uint64 { return 0 },
		Initproc: initproc,
	}
	h := &Handler{
		Sched:             sched,
		Dispatcher:        dispatcher,
		Machine:           sim,
		Initproc:          initproc,
		NextTimerDeadline: DefaultNextTimerDeadline,
	}
	return h, env
}

func runCurrent(t *testing.T, sched *proc.Scheduler, p *proc.PCB) {
	t.Helper()
	oldSwitch := proc.Switch
	proc.Switch = func(old, next *proc.Context) {}
	t.Cleanup(func() { proc.Switch = oldSwitch })
	sched.Add(p)
	require.True(t, sched.RunOnce())
}

func TestHandleUserTrapSyscallAdvancesSepcAndWritesResult(t *testing.T) {
	h, env := newTestHandler(t)
	p, err := proc.New(env, testELF(0x1000))
	require.NoError(t, err)
	runCurrent(t, h.Sched, p)

	ctx := p.TrapContext(env.Mem)
	ctx.X[17] = syscall.SysGetTime
	startSepc := ctx.Sepc

	h.HandleUserTrap(CauseUserEnvCall, 0)

	ctx = p.TrapContext(env.Mem)
	require.Equal(t, startSepc+4, ctx.Sepc)
	require.Equal(t, uint64(0), ctx.X[10])
}

func TestHandleUserTrapSyscallExitMarksZombieWithCode(t *testing.T) {
	h, env := newTestHandler(t)
	p, err := proc.New(env, testELF(0x1000))
	require.NoError(t, err)
	runCurrent(t, h.Sched, p)

	ctx := p.TrapContext(env.Mem)
	ctx.X[17] = syscall.SysExit
	ctx.X[10] = 7

	h.HandleUserTrap(CauseUserEnvCall, 0)

	require.Equal(t, proc.StatusZombie, p.Status())
	require.Equal(t, int32(7), p.ExitCode())
}

func TestHandleUserTrapTimerRearmsAndSuspends(t *testing.T) {
	h, env := newTestHandler(t)
	p, err := proc.New(env, testELF(0x1000))
	require.NoError(t, err)
	runCurrent(t, h.Sched, p)

	h.HandleUserTrap(CauseSupervisorTimer, 0)

	require.Equal(t, proc.StatusReady, p.Status())
	require.Equal(t, 1, h.Sched.Manager.Len())
	sim := h.Machine.(*sbi.Sim)
	require.Greater(t, sim.Timer, uint64(0))
}

func TestHandleUserTrapPageFaultKillsWithCodeMinusTwo(t *testing.T) {
	h, env := newTestHandler(t)
	p, err := proc.New(env, testELF(0x1000))
	require.NoError(t, err)
	runCurrent(t, h.Sched, p)

	h.HandleUserTrap(CauseStorePageFault, 0x9999)

	require.Equal(t, proc.StatusZombie, p.Status())
	require.Equal(t, int32(-2), p.ExitCode())
}

func TestHandleUserTrapIllegalInstructionKillsWithCodeMinusThree(t *testing.T) {
	h, env := newTestHandler(t)
	p, err := proc.New(env, testELF(0x1000))
	require.NoError(t, err)
	runCurrent(t, h.Sched, p)

	h.HandleUserTrap(CauseIllegalInstruction, 0)

	require.Equal(t, proc.StatusZombie, p.Status())
	require.Equal(t, int32(-3), p.ExitCode())
}

func TestHandleUserTrapUnknownCausePanics(t *testing.T) {
	h, env := newTestHandler(t)
	p, err := proc.New(env, testELF(0x1000))
	require.NoError(t, err)
	runCurrent(t, h.Sched, p)

	require.Panics(t, func() {
		h.HandleUserTrap(CauseOther, 0)
	})
}

func TestHandleKernelTrapPanics(t *testing.T) {
	h, _ := newTestHandler(t)
	require.Panics(t, func() {
		h.HandleKernelTrap()
	})
}

func TestExecSwapsTrapContextBeforeWriteback(t *testing.T) {
	h, env := newTestHandler(t)
	p, err := proc.New(env, testELF(0x1000))
	require.NoError(t, err)
	runCurrent(t, h.Sched, p)

	h.Dispatcher.Loader.(*fakeLoader).apps["next"] = testELF(0x3000)
	path := append([]byte("next"), 0)
	pathVA := uint64(0x1000)
	pagetable.WriteUserValue(p.PageTable(), pathVA, path)

	ctx := p.TrapContext(env.Mem)
	ctx.X[17] = syscall.SysExec
	ctx.X[10] = pathVA

	h.HandleUserTrap(CauseUserEnvCall, 0)

	ctx = p.TrapContext(env.Mem)
	require.Equal(t, uint64(0), ctx.X[10])
	require.Equal(t, uint64(0x3000), ctx.Sepc)
}
