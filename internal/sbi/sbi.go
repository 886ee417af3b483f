// Package sbi abstracts the Supervisor Binary Interface calls the kernel
// makes to the firmware running underneath it: console I/O, the timer
// comparator, and shutdown. The shape follows the console/timer/power
// trio every RISC-V SBI implementation exposes, behind an interface so
// tests can run without real firmware underneath them.
package sbi

// Machine is the SBI surface the kernel depends on.
type Machine interface {
	// ConsolePutChar writes a single byte to the console device.
	ConsolePutChar(ch byte)
	// ConsoleGetChar reads a single byte from the console, or false if none
	// is available.
	ConsoleGetChar() (byte, bool)
	// SetTimer arms the next timer interrupt at the given mtime value.
	SetTimer(deadline uint64)
	// Now returns the current mtime value, for computing the next timer
	// deadline after a SupervisorTimer trap.
	Now() uint64
	// Shutdown powers the machine off and never returns.
	Shutdown()
}

// ecall is the real SBI call primitive: a hand-written RISC-V `ecall`
// trapping into M-mode firmware. It is a package variable purely so
// Firmware's methods have something to call; production builds replace it
// with the real trap, tests never invoke it.
var ecall = func(eid, fid int64, args ...uint64) (int64, int64) { return 0, 0 }

// readMtime is the real `rdtime` CSR read; a package variable so
// Firmware.Now has something to call without an inline assembly primitive.
var readMtime = func() uint64 { return 0 }

// Firmware is the production Machine backed by real SBI ecalls.
type Firmware struct{}

const (
	sbiConsolePutChar = 1
	sbiConsoleGetChar = 2
	sbiSetTimer       = 0
	sbiShutdown       = 8
)

func (Firmware) ConsolePutChar(ch byte) { ecall(sbiConsolePutChar, 0, uint64(ch)) }

func (Firmware) ConsoleGetChar() (byte, bool) {
	ret, _ := ecall(sbiConsoleGetChar, 0)
	if ret < 0 {
		return 0, false
	}
	return byte(ret), true
}

func (Firmware) SetTimer(deadline uint64) { ecall(sbiSetTimer, 0, deadline) }

func (Firmware) Now() uint64 { return readMtime() }

func (Firmware) Shutdown() { ecall(sbiShutdown, 0) }

// Sim is an in-memory Machine for tests and host simulation: a console
// backed by byte queues and a logical clock advanced by Tick instead of
// real mtime; SetTimer only records the deadline.
type Sim struct {
	In      []byte // bytes waiting to be "typed" at the console
	Out     []byte // bytes written to the console
	inPos   int
	clock   uint64
	Timer   uint64
	ShutOff bool
}

// NewSim builds a Sim with the given canned console input.
func NewSim(consoleInput string) *Sim {
	return &Sim{In: []byte(consoleInput)}
}

func (s *Sim) ConsolePutChar(ch byte) { s.Out = append(s.Out, ch) }

func (s *Sim) ConsoleGetChar() (byte, bool) {
	if s.inPos >= len(s.In) {
		return 0, false
	}
	ch := s.In[s.inPos]
	s.inPos++
	return ch, true
}

func (s *Sim) SetTimer(deadline uint64) { s.Timer = deadline }

func (s *Sim) Shutdown() { s.ShutOff = true }

// Tick advances the simulated clock and reports whether the armed timer has
// fired.
func (s *Sim) Tick(delta uint64) (fired bool) {
	s.clock += delta
	if s.Timer != 0 && s.clock >= s.Timer {
		return true
	}
	return false
}

// Now returns the simulated clock's current value.
func (s *Sim) Now() uint64 { return s.clock }
