// Package sched is the thread scheduler: five fixed priority levels, one
// FIFO ready queue per level, strict priority pick with no aging.
// Preemption is driven externally; a timer is expected to call Tick.
package sched

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/nuzDop/LimitlessOS-sub000/go/models"
)

type Priority int

const (
	PriorityIdle Priority = iota
	PriorityLow
	PriorityNormal
	PriorityHigh
	PriorityRealtime
	NumPriorities
)

var priorityNames = []string{"idle", "low", "normal", "high", "realtime"}

func (p Priority) String() string {
	if p < 0 || p >= NumPriorities {
		return "bad"
	}
	return priorityNames[p]
}

type State int

const (
	StateReady State = iota
	StateRunning
	StateBlocked
	StateDead
)

var stateNames = []string{"ready", "running", "blocked", "dead"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "bad"
	}
	return stateNames[s]
}

// Context is the saved CPU state of a thread. Save captures the running
// state into the context; Restore makes the context the running one.
type Context interface {
	Save() error
	Restore() error
}

// Thread is one schedulable unit. It belongs to exactly one process,
// referenced by Pid; the process owns the slot, not the scheduler.
type Thread struct {
	ID       int
	Pid      int
	Entry    uint64
	StackTop uint64
	Priority Priority
	State    State
	Context  Context
}

// Scheduler holds the ready queues. One logical run-queue set under one
// lock; the context switch itself happens after the lock is dropped.
type Scheduler struct {
	mu       sync.Mutex
	queues   [NumPriorities][]*Thread
	current  *Thread
	restored Context

	switches uint64
	ticks    uint64
	tracer   models.Tracer
}

func New() *Scheduler {
	return &Scheduler{}
}

func (s *Scheduler) SetTracer(t models.Tracer) {
	s.mu.Lock()
	s.tracer = t
	s.mu.Unlock()
}

// Add admits a thread at the tail of its priority's ready queue.
func (s *Scheduler) Add(t *Thread) error {
	if t == nil || t.Priority < 0 || t.Priority >= NumPriorities {
		return errors.Wrap(models.StatusInvalid, "sched: bad thread")
	}
	if t.State == StateDead {
		return errors.Wrap(models.StatusInvalid, "sched: dead thread")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t.State = StateReady
	s.queues[t.Priority] = append(s.queues[t.Priority], t)
	return nil
}

// Schedule picks the head of the highest non-empty ready queue, requeues
// the previously running thread unless it blocked or died, and performs
// the context switch. Returns the thread now running, or nil if every
// queue is empty.
func (s *Scheduler) Schedule() *Thread {
	s.mu.Lock()
	prev := s.current
	if prev != nil && prev.State == StateRunning {
		prev.State = StateReady
		s.queues[prev.Priority] = append(s.queues[prev.Priority], prev)
	}
	next := s.pick()
	s.current = next
	if next != nil {
		next.State = StateRunning
		s.switches++
	}
	tracer := s.tracer
	s.mu.Unlock()

	// switch outside the lock; Save/Restore may be arbitrarily slow
	if prev != nil && prev != next && prev.Context != nil {
		prev.Context.Save()
	}
	if next != nil && prev != next && next.Context != nil {
		next.Context.Restore()
		s.mu.Lock()
		s.restored = next.Context
		s.mu.Unlock()
	}
	if tracer != nil && prev != next {
		ev := &models.TraceEvent{Kind: uint8(models.TraceSwitch)}
		if next != nil {
			ev.Pid, ev.Tid = int32(next.Pid), int32(next.ID)
		}
		tracer.Emit(ev)
	}
	return next
}

// pick pops the first live thread from the highest non-empty queue.
// Dead threads left behind by exit are discarded here.
func (s *Scheduler) pick() *Thread {
	for prio := NumPriorities - 1; prio >= 0; prio-- {
		q := s.queues[prio]
		for len(q) > 0 {
			t := q[0]
			q = q[1:]
			if t.State == StateDead {
				continue
			}
			s.queues[prio] = q
			return t
		}
		s.queues[prio] = q[:0]
	}
	return nil
}

// Yield requeues the caller and reschedules.
func (s *Scheduler) Yield() *Thread {
	return s.Schedule()
}

// Tick is the external preemption hook, called by a timer each quantum.
func (s *Scheduler) Tick() *Thread {
	s.mu.Lock()
	s.ticks++
	s.mu.Unlock()
	return s.Schedule()
}

// Block marks a thread BLOCKED. If it is the running thread, the caller
// is expected to Schedule afterwards; a blocked current is not requeued.
func (s *Scheduler) Block(t *Thread) error {
	if t == nil {
		return errors.Wrap(models.StatusInvalid, "sched: nil thread")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.State == StateDead {
		return errors.Wrap(models.StatusInvalid, "sched: dead thread")
	}
	if t.State == StateReady {
		s.remove(t)
	}
	t.State = StateBlocked
	return nil
}

// Unblock moves a BLOCKED thread back to the tail of its ready queue.
func (s *Scheduler) Unblock(t *Thread) error {
	if t == nil {
		return errors.Wrap(models.StatusInvalid, "sched: nil thread")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.State != StateBlocked {
		return errors.Wrapf(models.StatusInvalid, "sched: thread %d is %s", t.ID, t.State)
	}
	t.State = StateReady
	s.queues[t.Priority] = append(s.queues[t.Priority], t)
	return nil
}

func (s *Scheduler) remove(t *Thread) {
	q := s.queues[t.Priority]
	for i, v := range q {
		if v == t {
			s.queues[t.Priority] = append(q[:i], q[i+1:]...)
			return
		}
	}
}

// Restored returns the context most recently restored by this
// scheduler, nil before the first dispatch.
func (s *Scheduler) Restored() Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restored
}

// Current returns the running thread, nil when idle.
func (s *Scheduler) Current() *Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Runnable counts threads sitting in ready queues.
func (s *Scheduler) Runnable() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, q := range s.queues {
		for _, t := range q {
			if t.State != StateDead {
				n++
			}
		}
	}
	return n
}

func (s *Scheduler) Switches() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.switches
}
