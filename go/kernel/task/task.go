// Package task is the process and thread manager: the fixed process
// table, pid allocation, fork/exec/exit/wait/kill, per-process threads
// and ref-counted file descriptors. It orchestrates the vmm for address
// spaces and the scheduler for dispatch.
package task

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/nuzDop/LimitlessOS-sub000/go/kernel/pmm"
	"github.com/nuzDop/LimitlessOS-sub000/go/kernel/sched"
	"github.com/nuzDop/LimitlessOS-sub000/go/kernel/vmm"
	"github.com/nuzDop/LimitlessOS-sub000/go/models"
)

const (
	MaxProcs   = 1024
	MaxThreads = 64
	MaxFiles   = 1024

	// orphans are reparented to init
	InitPid = 1

	UserStackTop  = 0x0000_7fff_ffff_f000
	UserStackSize = 256 * 1024

	ThreadStackSize = 64 * 1024
)

type ProcState int

const (
	StateEmbryo ProcState = iota
	StateReady
	StateZombie
	StateDead
)

var procStateNames = []string{"embryo", "ready", "zombie", "dead"}

func (s ProcState) String() string {
	if s < 0 || int(s) >= len(procStateNames) {
		return "bad"
	}
	return procStateNames[s]
}

type Cred struct {
	Uid, Gid uint32
}

// Process owns exactly one address space, up to 64 threads in fixed
// slots, up to 1024 file descriptors, and a list of child pids.
type Process struct {
	mu sync.Mutex

	Pid       int
	ParentPid int
	Name      string
	Cwd       string
	State     ProcState
	Cred      Cred
	ExitCode  int

	AS       *vmm.AddressSpace
	threads  [MaxThreads]*sched.Thread
	files    [MaxFiles]*File
	children []int

	image     *models.Image
	heapStart uint64
	heapEnd   uint64
}

func (p *Process) Children() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.children...)
}

func (p *Process) Threads() []*sched.Thread {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*sched.Thread
	for _, t := range p.threads {
		if t != nil {
			out = append(out, t)
		}
	}
	return out
}

func (p *Process) unlinkChild(pid int) {
	for i, c := range p.children {
		if c == pid {
			p.children = append(p.children[:i], p.children[i+1:]...)
			return
		}
	}
}

// Manager is the process table plus the collaborators every operation
// needs. Operations return a status from the models package; nothing
// here blocks.
type Manager struct {
	mu sync.Mutex

	log    *models.Logger
	phys   *pmm.Allocator
	vm     *vmm.Manager
	sched  *sched.Scheduler
	fs     models.FileSystem
	ld     models.Loader
	tracer models.Tracer

	table   [MaxProcs]*Process
	free    []int
	slotOf  map[int]int // pid -> table slot
	nextPid int

	threads map[int]*sched.Thread // tid -> thread, for Wake
	nextTid int
}

func NewManager(phys *pmm.Allocator, vm *vmm.Manager, s *sched.Scheduler, fs models.FileSystem, ld models.Loader, log *models.Logger) *Manager {
	m := &Manager{
		log:     log,
		phys:    phys,
		vm:      vm,
		sched:   s,
		fs:      fs,
		ld:      ld,
		slotOf:  make(map[int]int),
		threads: make(map[int]*sched.Thread),
		nextPid: InitPid,
	}
	m.free = make([]int, 0, MaxProcs)
	for i := MaxProcs - 1; i >= 0; i-- {
		m.free = append(m.free, i)
	}
	return m
}

func (m *Manager) SetTracer(t models.Tracer) {
	m.mu.Lock()
	m.tracer = t
	m.mu.Unlock()
}

// Create allocates a process slot: monotonically increasing pid, state
// EMBRYO, cwd "/", and a fresh empty address space.
func (m *Manager) Create(name string) (*Process, error) {
	m.mu.Lock()
	if len(m.free) == 0 {
		m.mu.Unlock()
		return nil, errors.Wrap(models.StatusNoMem, "task: process table full")
	}
	slot := m.free[len(m.free)-1]
	m.free = m.free[:len(m.free)-1]
	pid := m.nextPid
	m.nextPid++
	m.mu.Unlock()

	as, err := m.vm.CreateAddressSpace()
	if err != nil {
		m.mu.Lock()
		m.free = append(m.free, slot)
		m.mu.Unlock()
		return nil, err
	}
	as.Pid = pid
	p := &Process{Pid: pid, Name: name, Cwd: "/", State: StateEmbryo, AS: as}

	m.mu.Lock()
	m.table[slot] = p
	m.slotOf[pid] = slot
	m.mu.Unlock()
	if m.tracer != nil {
		m.tracer.Emit(&models.TraceEvent{Kind: uint8(models.TraceSpawn), Pid: int32(pid)})
	}
	return p, nil
}

// Lookup finds a live process by pid.
func (m *Manager) Lookup(pid int) (*Process, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.slotOf[pid]
	if !ok {
		return nil, errors.Wrapf(models.StatusNotFound, "task: pid %d", pid)
	}
	return m.table[slot], nil
}

// Thread finds a thread by tid.
func (m *Manager) Thread(tid int) (*sched.Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.threads[tid]
	if t == nil {
		return nil, errors.Wrapf(models.StatusNotFound, "task: tid %d", tid)
	}
	return t, nil
}

// Processes snapshots the live process list, ordered by table slot.
func (m *Manager) Processes() []*Process {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Process
	for _, p := range m.table {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

// reap removes a ZOMBIE (or orphaned) process from the table and returns
// its pages. The caller must have unlinked it from any parent already.
func (m *Manager) reap(p *Process) {
	p.mu.Lock()
	as := p.AS
	p.AS = nil
	p.State = StateDead
	p.mu.Unlock()

	if as != nil {
		m.vm.DestroyAddressSpace(as)
	}
	m.mu.Lock()
	if slot, ok := m.slotOf[p.Pid]; ok {
		delete(m.slotOf, p.Pid)
		m.table[slot] = nil
		m.free = append(m.free, slot)
	}
	for _, t := range p.threads {
		if t != nil {
			delete(m.threads, t.ID)
		}
	}
	m.mu.Unlock()
}

// Wake is the ipc waker hook: hand a parked thread back to the ready
// queue. Unknown or non-blocked tids are ignored; the waiter will
// observe the endpoint state on its next poll either way.
func (m *Manager) Wake(tid int) {
	m.mu.Lock()
	t := m.threads[tid]
	m.mu.Unlock()
	if t == nil {
		return
	}
	if t.State == sched.StateBlocked {
		m.sched.Unblock(t)
	}
}
