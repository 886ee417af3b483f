package syscall

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

func newTestDispatcher(t *testing.T) (*Dispatcher, *proc.Env, *sbi.Sim) {
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
	return &Dispatcher{
		Env:     env,
		Sched:   sched,
		Machine: sim,
		Loader:  &fakeLoader{apps: map[string][]byte{}},
		NowMS:   func() uint64 { return 42 },
	}, env, sim
}

func runCurrent(t *testing.T, d *Dispatcher, p *proc.PCB) {
	t.Helper()
	oldSwitch := proc.Switch
	proc.Switch = func(old, next *proc.Context) {}
	t.Cleanup(func() { proc.Switch = oldSwitch })
	d.Sched.Add(p)
	require.True(t, d.Sched.RunOnce())
}

func TestSysGetTime(t *testing.T) {
	d, env, _ := newTestDispatcher(t)
	p, err := proc.New(env, testELF(0x1000))
	require.NoError(t, err)
	runCurrent(t, d, p)

	res := d.Dispatch(SysGetTime, [3]uint64{})
	require.Equal(t, uint64(42), res.Value)
	require.False(t, res.Exited)
}

func TestSysWriteTranslatesUserBuffer(t *testing.T) {
	d, env, sim := newTestDispatcher(t)
	p, err := proc.New(env, testELF(0x1000))
	require.NoError(t, err)
	runCurrent(t, d, p)

	msg := []byte("hi")
	bufVA := uint64(0x1000)
	pagetable.WriteUserValue(p.PageTable(), bufVA, msg)

	res := d.Dispatch(SysWrite, [3]uint64{uint64(fdStdout), bufVA, uint64(len(msg))})
	require.Equal(t, uint64(len(msg)), res.Value)
	require.Equal(t, msg, sim.Out)
}

func TestSysWriteBadFDPanics(t *testing.T) {
	d, env, _ := newTestDispatcher(t)
	p, err := proc.New(env, testELF(0x1000))
	require.NoError(t, err)
	runCurrent(t, d, p)

	require.Panics(t, func() {
		d.Dispatch(SysWrite, [3]uint64{7, 0x1000, 1})
	})
}

func TestSysForkReturnsChildPidToParentAndZeroToChild(t *testing.T) {
	d, env, _ := newTestDispatcher(t)
	p, err := proc.New(env, testELF(0x1000))
	require.NoError(t, err)
	runCurrent(t, d, p)

	res := d.Dispatch(SysFork, [3]uint64{})
	require.NotEqual(t, uint64(p.PID), res.Value)

	childPID := int(res.Value)
	var child *proc.PCB
	for _, c := range p.Children() {
		if c.PID == childPID {
			child = c
		}
	}
	require.NotNil(t, child)
	require.Equal(t, uint64(0), child.TrapContext(env.Mem).X[10])
}

func TestSysExecUnknownAppReturnsMinusOne(t *testing.T) {
	d, env, _ := newTestDispatcher(t)
	p, err := proc.New(env, testELF(0x1000))
	require.NoError(t, err)
	runCurrent(t, d, p)

	pathVA := uint64(0x1000)
	pagetable.WriteUserValue(p.PageTable(), pathVA, append([]byte("nope"), 0))

	res := d.Dispatch(SysExec, [3]uint64{pathVA})
	require.Equal(t, uint64(0xffffffffffffffff), res.Value) // -1 as uint64
}

func TestSysWaitPidNoChildReturnsMinusOne(t *testing.T) {
	d, env, _ := newTestDispatcher(t)
	p, err := proc.New(env, testELF(0x1000))
	require.NoError(t, err)
	runCurrent(t, d, p)

	res := d.Dispatch(SysWaitPid, [3]uint64{^uint64(0), 0x1000})
	require.Equal(t, uint64(0xffffffffffffffff), res.Value)
}

func TestSysWaitPidPendingChildReturnsMinusTwoThenResolves(t *testing.T) {
	d, env, _ := newTestDispatcher(t)
	p, err := proc.New(env, testELF(0x1000))
	require.NoError(t, err)
	runCurrent(t, d, p)

	forkRes := d.Dispatch(SysFork, [3]uint64{})
	childPID := int(forkRes.Value)

	// statusPtr must land inside the mapped segment at 0x1000: VPN 2 is the
	// guard-page gap before the user stack and translates to nothing.
	statusVA := uint64(0x1000)

	res := d.Dispatch(SysWaitPid, [3]uint64{^uint64(0), statusVA})
	require.Equal(t, uint64(0xfffffffffffffffe), res.Value) // -2 as uint64

	var child *proc.PCB
	for _, c := range p.Children() {
		if c.PID == childPID {
			child = c
		}
	}
	require.NotNil(t, child)
	child.SetStatus(proc.StatusZombie)

	res = d.Dispatch(SysWaitPid, [3]uint64{^uint64(0), statusVA})
	require.Equal(t, uint64(childPID), res.Value)
	require.Empty(t, p.Children())

	// Reaping released the child's pid back to the allocator.
	reused, ok := env.PIDs.Alloc()
	require.True(t, ok)
	require.Equal(t, childPID, reused)
}
