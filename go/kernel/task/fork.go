package task

import (
	"github.com/pkg/errors"

	"github.com/nuzDop/LimitlessOS-sub000/go/kernel/sched"
	"github.com/nuzDop/LimitlessOS-sub000/go/models"
)

// Fork produces a fully independent child: credentials and cwd are
// copied, the address space is deep-cloned page by page (no copy-on-
// write, cost is O(resident set)), and the fd table shares the parent's
// open file objects by reference count. The child gets one thread
// mirroring the parent's main thread and goes straight to READY.
func (m *Manager) Fork(parent *Process) (*Process, error) {
	if parent == nil {
		return nil, errors.Wrap(models.StatusInvalid, "task: nil parent")
	}
	parent.mu.Lock()
	if parent.State == StateZombie || parent.State == StateDead {
		parent.mu.Unlock()
		return nil, errors.Wrapf(models.StatusInvalid, "task: pid %d is %s", parent.Pid, parent.State)
	}
	parent.mu.Unlock()

	child, err := m.Create(parent.Name)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*Process, error) {
		child.closeAll()
		m.reap(child)
		return nil, err
	}

	clone, err := m.vm.CloneAddressSpace(parent.AS)
	if err != nil {
		return fail(err)
	}
	clone.Pid = child.Pid

	parent.mu.Lock()
	empty := child.AS
	child.AS = clone
	child.Cred = parent.Cred
	child.Cwd = parent.Cwd
	child.ParentPid = parent.Pid
	child.image = parent.image
	child.heapStart = parent.heapStart
	child.heapEnd = parent.heapEnd
	// share open file objects, not descriptors
	for fd, f := range parent.files {
		if f != nil {
			f.ref()
			child.files[fd] = f
		}
	}
	var main *sched.Thread
	for _, t := range parent.threads {
		if t != nil && t.State != sched.StateDead {
			main = t
			break
		}
	}
	parent.mu.Unlock()

	m.vm.DestroyAddressSpace(empty)

	if main != nil {
		ct, err := m.ThreadCreate(child, main.Entry, main.StackTop, main.Priority)
		if err != nil {
			return fail(err)
		}
		if src, ok := main.Context.(*sched.SimContext); ok {
			ct.Context = src.Clone()
		}
	}

	parent.mu.Lock()
	parent.children = append(parent.children, child.Pid)
	parent.mu.Unlock()

	child.mu.Lock()
	child.State = StateReady
	child.mu.Unlock()
	if m.log != nil {
		m.log.Debugf("task: pid %d forked pid %d", parent.Pid, child.Pid)
	}
	return child, nil
}
