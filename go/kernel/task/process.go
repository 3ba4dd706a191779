package task

import (
	"github.com/pkg/errors"

	"github.com/nuzDop/LimitlessOS-sub000/go/kernel/sched"
	"github.com/nuzDop/LimitlessOS-sub000/go/kernel/vmm"
	"github.com/nuzDop/LimitlessOS-sub000/go/models"
)

// Exit turns a process into a ZOMBIE: records the code, closes every
// descriptor, kills its threads and reparents children to init. The
// address space stays until the parent reaps it with Wait; with no
// reachable parent it is reclaimed immediately.
func (m *Manager) Exit(p *Process, code int) error {
	if p == nil {
		return errors.Wrap(models.StatusInvalid, "task: nil process")
	}
	p.mu.Lock()
	if p.State == StateZombie || p.State == StateDead {
		p.mu.Unlock()
		return errors.Wrapf(models.StatusInvalid, "task: pid %d already %s", p.Pid, p.State)
	}
	p.State = StateZombie
	p.ExitCode = code
	for _, t := range p.threads {
		if t != nil {
			t.State = sched.StateDead
		}
	}
	children := append([]int(nil), p.children...)
	p.children = nil
	p.mu.Unlock()

	p.closeAll()

	// orphans go to init; init's own orphans have nowhere to go
	init, initErr := m.Lookup(InitPid)
	for _, cpid := range children {
		child, err := m.Lookup(cpid)
		if err != nil {
			continue
		}
		if initErr == nil && init != p {
			child.mu.Lock()
			child.ParentPid = InitPid
			child.mu.Unlock()
			init.mu.Lock()
			init.children = append(init.children, cpid)
			init.mu.Unlock()
		} else {
			child.mu.Lock()
			child.ParentPid = 0
			dead := child.State == StateZombie
			child.mu.Unlock()
			if dead {
				m.reap(child)
			}
		}
	}

	if m.tracer != nil {
		m.tracer.Emit(&models.TraceEvent{Kind: uint8(models.TraceExit), Pid: int32(p.Pid), A: uint64(code)})
	}
	if m.log != nil {
		m.log.Debugf("task: pid %d exited %d", p.Pid, code)
	}

	// nobody will ever wait for this process
	if _, err := m.Lookup(p.ParentPid); err != nil {
		m.reap(p)
	}
	return nil
}

// Wait reaps a ZOMBIE child: specific pid, or any with pid <= 0. It
// returns the child's pid and exit code, destroys its address space and
// frees its table slot. A child that exists but has not exited returns
// BUSY instead of blocking; retry is the caller's job.
func (m *Manager) Wait(parent *Process, pid int) (int, int, error) {
	if parent == nil {
		return 0, 0, errors.Wrap(models.StatusInvalid, "task: nil parent")
	}
	parent.mu.Lock()
	children := append([]int(nil), parent.children...)
	parent.mu.Unlock()

	var target *Process
	alive := false
	for _, cpid := range children {
		if pid > 0 && cpid != pid {
			continue
		}
		child, err := m.Lookup(cpid)
		if err != nil {
			continue
		}
		child.mu.Lock()
		zombie := child.State == StateZombie
		child.mu.Unlock()
		if zombie {
			target = child
			break
		}
		alive = true
	}
	if target == nil {
		if alive {
			return 0, 0, errors.Wrap(models.StatusBusy, "task: child has not exited")
		}
		return 0, 0, errors.Wrapf(models.StatusNotFound, "task: no waitable child %d", pid)
	}

	parent.mu.Lock()
	parent.unlinkChild(target.Pid)
	parent.mu.Unlock()

	code := target.ExitCode
	cpid := target.Pid
	m.reap(target)
	return cpid, code, nil
}

// Kill is an immediate exit on the target, not an asynchronous signal:
// there is no delivery, no handlers, no interruption of in-flight calls.
func (m *Manager) Kill(pid int, signal int) error {
	p, err := m.Lookup(pid)
	if err != nil {
		return err
	}
	return m.Exit(p, 128+signal)
}

// Brk grows or shrinks the heap, which starts immediately after the
// loaded image. addr 0 reports the current break.
func (m *Manager) Brk(p *Process, addr uint64) (uint64, error) {
	if p == nil {
		return 0, errors.Wrap(models.StatusInvalid, "task: nil process")
	}
	p.mu.Lock()
	start, end := p.heapStart, p.heapEnd
	as := p.AS
	p.mu.Unlock()
	if start == 0 {
		return 0, errors.Wrapf(models.StatusInvalid, "task: pid %d has no image", p.Pid)
	}
	if addr == 0 {
		return end, nil
	}
	if addr < start || addr >= UserStackTop-UserStackSize {
		return end, errors.Wrapf(models.StatusInvalid, "task: brk 0x%x out of range", addr)
	}
	oldTop := pageCeil(end)
	newTop := pageCeil(addr)
	if newTop > oldTop {
		err := as.Map(oldTop, newTop-oldTop,
			models.PROT_READ|models.PROT_WRITE|models.PROT_USER, models.RegionHeap, "heap")
		if err != nil {
			return end, err
		}
	} else if newTop < oldTop {
		as.Unmap(newTop, oldTop-newTop)
	}
	p.mu.Lock()
	p.heapEnd = addr
	p.mu.Unlock()
	return addr, nil
}

func pageCeil(n uint64) uint64 {
	return (n + vmm.PageSize - 1) &^ uint64(vmm.PageSize-1)
}
