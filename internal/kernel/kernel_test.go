package kernel

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"riscvkern/internal/addr"
	"riscvkern/internal/blockdev"
	"riscvkern/internal/memset"
	"riscvkern/internal/proc"
	"riscvkern/internal/sbi"
	"riscvkern/internal/syscall"
	"riscvkern/internal/trap"
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

func testLayout() memset.KernelLayout {
	return memset.KernelLayout{
		TextStart:   addr.VirtAddr(0x80000000),
		TextEnd:     addr.VirtAddr(0x80001000),
		RodataStart: addr.VirtAddr(0x80001000),
		RodataEnd:   addr.VirtAddr(0x80002000),
		DataStart:   addr.VirtAddr(0x80002000),
		DataEnd:     addr.VirtAddr(0x80003000),
		BssStart:    addr.VirtAddr(0x80003000),
		BssEnd:      addr.VirtAddr(0x80004000),
		EKernel:     addr.VirtAddr(0x80004000),
	}
}

func newTestKernel(t *testing.T) *Kernel {
	t.Helper()
	oldSwitch := proc.Switch
	proc.Switch = func(old, next *proc.Context) {}
	t.Cleanup(func() { proc.Switch = oldSwitch })

	disk := blockdev.NewMemDisk(2048)
	k, err := New(Config{
		Layout:      testLayout(),
		FrameBase:   0x90000,
		FrameCount:  4096,
		ArenaNpages: 4096,
		Disk:        disk,
		Machine:     sbi.NewSim(""),
		Apps:        map[string][]byte{"initproc": testELF(0x1000)},
		InitprocApp: "initproc",
		TrapHandler: 0xdead0000,
	})
	require.NoError(t, err)
	return k
}

func TestBootEnqueuesInitproc(t *testing.T) {
	k := newTestKernel(t)
	require.NoError(t, k.Boot("initproc"))
	require.Equal(t, 1, k.Sched.Manager.Len())
	require.Greater(t, k.Machine.(*sbi.Sim).Timer, uint64(0))
}

func TestBootUnknownInitprocReturnsError(t *testing.T) {
	k := newTestKernel(t)
	require.Error(t, k.Boot("nonexistent"))
}

func TestForkThenScheduleChildScenario(t *testing.T) {
	k := newTestKernel(t)
	require.NoError(t, k.Boot("initproc"))
	require.True(t, k.RunOnce())

	forkRes := k.Dispatcher.Dispatch(syscall.SysFork, [3]uint64{})
	childPID := int(forkRes.Value)

	var child *proc.PCB
	for _, c := range k.Initproc.Children() {
		if c.PID == childPID {
			child = c
		}
	}
	require.NotNil(t, child)
	require.Equal(t, proc.StatusReady, child.Status())

	k.Sched.Processor.TakeCurrent()
	require.True(t, k.RunOnce())
	require.Equal(t, childPID, k.Sched.Processor.Current().PID)
}

func TestTimerPreemptionAlternatesTwoProcesses(t *testing.T) {
	k := newTestKernel(t)
	require.NoError(t, k.Boot("initproc"))

	second, err := proc.New(k.Env, testELF(0x1000))
	require.NoError(t, err)
	k.Sched.Add(second)

	var order []int
	for i := 0; i < 4; i++ {
		require.True(t, k.RunOnce())
		order = append(order, k.Sched.Processor.Current().PID)
		k.Trap.HandleUserTrap(trap.CauseSupervisorTimer, 0)
	}
	require.Equal(t, []int{k.Initproc.PID, second.PID, k.Initproc.PID, second.PID}, order)
}
