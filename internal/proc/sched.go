package proc

import "sync"

// Manager is the FIFO ready queue of runnable PCBs.
type Manager struct {
	mu    sync.Mutex
	queue []*PCB
}

// NewManager builds an empty ready queue.
func NewManager() *Manager { return &Manager{} }

// Push enqueues pcb at the back of the ready queue.
func (m *Manager) Push(pcb *PCB) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, pcb)
}

// Pop dequeues the front of the ready queue, or nil if empty.
func (m *Manager) Pop() *PCB {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return nil
	}
	pcb := m.queue[0]
	m.queue = m.queue[1:]
	return pcb
}

// Len reports the number of ready processes, for scheduler-fairness tests.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Processor is the per-hart scheduling state: the currently running PCB
// (if any) and the idle context the scheduler loop pivots through. This
// kernel is single-hart, so there is exactly one Processor.
type Processor struct {
	mu      sync.Mutex
	current *PCB
	idle    Context
}

// NewProcessor builds a Processor with an empty idle context.
func NewProcessor() *Processor { return &Processor{} }

// Current returns the PCB presently marked Running on this processor, or
// nil if the processor is idle.
func (p *Processor) Current() *PCB {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// TakeCurrent clears and returns the current PCB.
func (p *Processor) TakeCurrent() *PCB {
	p.mu.Lock()
	defer p.mu.Unlock()
	cur := p.current
	p.current = nil
	return cur
}

// IdleContextPtr returns the address of the idle context Switch pivots
// through between scheduling decisions.
func (p *Processor) IdleContextPtr() *Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	return &p.idle
}

// Scheduler wires a Manager and a Processor together and drives the
// fetch-run-switch loop. Run, suspend and exit all live here.
type Scheduler struct {
	Manager   *Manager
	Processor *Processor
}

// NewScheduler builds a Scheduler over a fresh ready queue and processor.
func NewScheduler() *Scheduler {
	return &Scheduler{Manager: NewManager(), Processor: NewProcessor()}
}

// Add enqueues pcb onto the ready queue.
func (s *Scheduler) Add(pcb *PCB) { s.Manager.Push(pcb) }

// RunOnce pops the next ready PCB, marks it Running, and switches the idle
// context into it. It is one iteration of the scheduler loop, split out so
// tests can drive a bounded number of rounds instead of looping forever.
//
// It reports false (having done nothing) if the ready queue was empty.
func (s *Scheduler) RunOnce() bool {
	next := s.Manager.Pop()
	if next == nil {
		return false
	}
	next.SetStatus(StatusRunning)
	s.Processor.mu.Lock()
	s.Processor.current = next
	idlePtr := &s.Processor.idle
	s.Processor.mu.Unlock()
	Switch(idlePtr, next.ContextPtr())
	return true
}

// SuspendCurrentAndRunNext marks the current process Ready, re-enqueues
// it, and switches back to idle so RunOnce's caller can pick the next
// process.
func (s *Scheduler) SuspendCurrentAndRunNext() {
	cur := s.Processor.TakeCurrent()
	if cur == nil {
		panic("proc: suspend with no current process")
	}
	cur.SetStatus(StatusReady)
	ctxPtr := cur.ContextPtr()
	s.Add(cur)
	Switch(ctxPtr, s.Processor.IdleContextPtr())
}

// ExitCurrentAndRunNext marks the current process Zombie, records its exit
// code, reparents its children to initproc, eagerly releases its memory
// set's frames (keeping the PCB shell so the parent can still read
// ExitCode), and switches back to idle without re-queueing.
func (s *Scheduler) ExitCurrentAndRunNext(initproc *PCB, exitCode int32) {
	cur := s.Processor.TakeCurrent()
	if cur == nil {
		panic("proc: exit with no current process")
	}

	cur.mu.Lock()
	cur.inner.Status = StatusZombie
	cur.inner.ExitCode = exitCode
	children := cur.inner.Children
	cur.inner.Children = nil
	ms := cur.inner.MemorySet
	cur.mu.Unlock()

	for _, child := range children {
		child.mu.Lock()
		child.inner.Parent = initproc
		child.mu.Unlock()
	}
	initproc.mu.Lock()
	initproc.inner.Children = append(initproc.inner.Children, children...)
	initproc.mu.Unlock()

	ms.ReleaseAll()

	ctxPtr := cur.ContextPtr()
	Switch(ctxPtr, s.Processor.IdleContextPtr())
}
