package task

import (
	"github.com/pkg/errors"

	"github.com/nuzDop/LimitlessOS-sub000/go/kernel/sched"
	"github.com/nuzDop/LimitlessOS-sub000/go/models"
)

// ThreadCreate builds a thread at (entry, stackTop) in a fixed process
// slot and admits it to the scheduler. A zero stackTop allocates a fresh
// thread stack in the process's mmap area.
func (m *Manager) ThreadCreate(p *Process, entry, stackTop uint64, prio sched.Priority) (*sched.Thread, error) {
	if p == nil {
		return nil, errors.Wrap(models.StatusInvalid, "task: nil process")
	}
	p.mu.Lock()
	if p.State == StateZombie || p.State == StateDead {
		p.mu.Unlock()
		return nil, errors.Wrapf(models.StatusInvalid, "task: pid %d is %s", p.Pid, p.State)
	}
	slot := -1
	for i, t := range p.threads {
		if t == nil {
			slot = i
			break
		}
	}
	if slot == -1 {
		p.mu.Unlock()
		return nil, errors.Wrapf(models.StatusNoMem, "task: pid %d thread slots full", p.Pid)
	}
	as := p.AS
	p.mu.Unlock()

	if stackTop == 0 {
		base, err := as.MapAnon(ThreadStackSize,
			models.PROT_READ|models.PROT_WRITE|models.PROT_USER, "thread stack")
		if err != nil {
			return nil, err
		}
		stackTop = base + ThreadStackSize
	}

	m.mu.Lock()
	m.nextTid++
	tid := m.nextTid
	m.mu.Unlock()

	t := &sched.Thread{
		ID:       tid,
		Pid:      p.Pid,
		Entry:    entry,
		StackTop: stackTop,
		Priority: prio,
		Context:  sched.NewSimContext(entry, stackTop),
	}

	p.mu.Lock()
	if p.threads[slot] != nil {
		// slot raced away; find another
		slot = -1
		for i, v := range p.threads {
			if v == nil {
				slot = i
				break
			}
		}
		if slot == -1 {
			p.mu.Unlock()
			return nil, errors.Wrapf(models.StatusNoMem, "task: pid %d thread slots full", p.Pid)
		}
	}
	p.threads[slot] = t
	p.mu.Unlock()

	m.mu.Lock()
	m.threads[tid] = t
	m.mu.Unlock()

	if err := m.sched.Add(t); err != nil {
		return nil, err
	}
	return t, nil
}

// ThreadExit marks one thread DEAD. The last live thread takes the whole
// process down through Exit.
func (m *Manager) ThreadExit(p *Process, t *sched.Thread, code int) error {
	if p == nil || t == nil {
		return errors.Wrap(models.StatusInvalid, "task: nil thread exit")
	}
	p.mu.Lock()
	live := 0
	found := false
	for _, v := range p.threads {
		if v == nil {
			continue
		}
		if v == t {
			found = true
			continue
		}
		if v.State != sched.StateDead {
			live++
		}
	}
	if !found {
		p.mu.Unlock()
		return errors.Wrapf(models.StatusNotFound, "task: thread %d not in pid %d", t.ID, p.Pid)
	}
	t.State = sched.StateDead
	p.mu.Unlock()

	if live == 0 {
		return m.Exit(p, code)
	}
	return nil
}
