package task

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/nuzDop/LimitlessOS-sub000/go/kernel/sched"
	"github.com/nuzDop/LimitlessOS-sub000/go/kernel/vmm"
	"github.com/nuzDop/LimitlessOS-sub000/go/models"
)

// Exec replaces a process's image: read the file through the VFS
// collaborator, validate and load it through the loader collaborator
// into a fresh address space, place the heap right after the image, map
// the fixed-size user stack below the stack top, build argv/envp, and
// start the main thread at the entry point.
//
// The old address space is only discarded after the new image loads. A
// failed exec on a process that never had an image drives it to exit
// instead of leaving a half-initialized embryo behind.
func (m *Manager) Exec(p *Process, path string, argv, envp []string) error {
	if p == nil || path == "" {
		return errors.Wrap(models.StatusInvalid, "task: bad exec")
	}
	p.mu.Lock()
	if p.State == StateZombie || p.State == StateDead {
		p.mu.Unlock()
		return errors.Wrapf(models.StatusInvalid, "task: pid %d is %s", p.Pid, p.State)
	}
	firstExec := p.image == nil
	p.mu.Unlock()

	err := m.exec(p, path, argv, envp)
	if err != nil && firstExec {
		m.Exit(p, 127)
	}
	return err
}

func (m *Manager) exec(p *Process, path string, argv, envp []string) error {
	data, err := models.ReadFile(m.fs, path)
	if err != nil {
		return errors.Wrapf(err, "task: exec %s", path)
	}
	if err := m.ld.Validate(data); err != nil {
		return errors.Wrapf(err, "task: exec %s", path)
	}

	as, err := m.vm.CreateAddressSpace()
	if err != nil {
		return err
	}
	as.Pid = p.Pid
	img, err := m.ld.Load(data, as)
	if err != nil {
		m.vm.DestroyAddressSpace(as)
		return errors.Wrapf(err, "task: exec %s", path)
	}

	stackBase := uint64(UserStackTop - UserStackSize)
	if err := as.Map(stackBase, UserStackSize,
		models.PROT_READ|models.PROT_WRITE|models.PROT_USER, models.RegionStack, "stack"); err != nil {
		m.vm.DestroyAddressSpace(as)
		return err
	}
	sp, err := buildStack(as, UserStackTop, argv, envp)
	if err != nil {
		m.vm.DestroyAddressSpace(as)
		return err
	}

	// point of no return: swap in the new image
	p.mu.Lock()
	old := p.AS
	p.AS = as
	p.image = img
	p.heapStart = pageCeil(img.Base + img.Size)
	p.heapEnd = p.heapStart
	p.Name = path
	for i, t := range p.threads {
		if t != nil {
			t.State = sched.StateDead
			p.threads[i] = nil
		}
	}
	p.mu.Unlock()

	if old != nil {
		m.vm.DestroyAddressSpace(old)
	}

	if _, err := m.ThreadCreate(p, img.Entry, sp, sched.PriorityNormal); err != nil {
		return err
	}
	p.mu.Lock()
	p.State = StateReady
	p.mu.Unlock()
	if m.log != nil {
		m.log.Debugf("task: pid %d exec %s entry=0x%x", p.Pid, path, img.Entry)
	}
	return nil
}

// buildStack lays out the initial user stack under top: the argv and
// envp strings first, then the null-terminated envp and argv pointer
// vectors, then argc. Returns the final stack pointer, 8-aligned and
// pointing at argc.
func buildStack(as *vmm.AddressSpace, top uint64, argv, envp []string) (uint64, error) {
	sp := top
	push := func(p []byte) (uint64, error) {
		sp -= uint64(len(p))
		return sp, as.Write(sp, p)
	}
	pushStrings := func(strs []string) ([]uint64, error) {
		addrs := make([]uint64, 0, len(strs))
		for _, s := range strs {
			addr, err := push(append([]byte(s), 0))
			if err != nil {
				return nil, err
			}
			addrs = append(addrs, addr)
		}
		return addrs, nil
	}
	envAddrs, err := pushStrings(envp)
	if err != nil {
		return 0, err
	}
	argAddrs, err := pushStrings(argv)
	if err != nil {
		return 0, err
	}
	sp &^= 7

	var word [8]byte
	pushWord := func(v uint64) error {
		binary.LittleEndian.PutUint64(word[:], v)
		_, err := push(word[:])
		return err
	}
	pushVector := func(addrs []uint64) error {
		if err := pushWord(0); err != nil {
			return err
		}
		for i := len(addrs) - 1; i >= 0; i-- {
			if err := pushWord(addrs[i]); err != nil {
				return err
			}
		}
		return nil
	}
	if err := pushVector(envAddrs); err != nil {
		return 0, err
	}
	if err := pushVector(argAddrs); err != nil {
		return 0, err
	}
	if err := pushWord(uint64(len(argv))); err != nil {
		return 0, err
	}
	return sp, nil
}
