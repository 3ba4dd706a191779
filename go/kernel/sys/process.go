package sys

import (
	"encoding/binary"

	"github.com/nuzDop/LimitlessOS-sub000/go/kernel/sched"
	"github.com/nuzDop/LimitlessOS-sub000/go/models"
)

func (k *Kernel) Getpid() uint64 {
	return uint64(k.Proc.Pid)
}

func (k *Kernel) Getppid() uint64 {
	return uint64(k.Proc.ParentPid)
}

func (k *Kernel) ProcessCreate(name string) uint64 {
	p, err := k.Tasks.Create(name)
	if err != nil {
		return models.Errno(err)
	}
	return uint64(p.Pid)
}

func (k *Kernel) Fork() uint64 {
	child, err := k.Tasks.Fork(k.Proc)
	if err != nil {
		return models.Errno(err)
	}
	return uint64(child.Pid)
}

// readVec reads a null-terminated vector of string pointers.
func (k *Kernel) readVec(addr Ptr) ([]string, error) {
	if addr == 0 {
		return nil, nil
	}
	var out []string
	var word [8]byte
	for i := uint64(0); ; i++ {
		if err := k.Proc.AS.Read(uint64(addr)+8*i, word[:]); err != nil {
			return nil, err
		}
		p := binary.LittleEndian.Uint64(word[:])
		if p == 0 {
			return out, nil
		}
		s, err := k.readStr(p)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
}

func (k *Kernel) Exec(path string, argvAddr, envpAddr Ptr) uint64 {
	argv, err := k.readVec(argvAddr)
	if err != nil {
		return models.Errno(err)
	}
	envp, err := k.readVec(envpAddr)
	if err != nil {
		return models.Errno(err)
	}
	return models.Errno(k.Tasks.Exec(k.Proc, path, argv, envp))
}

func (k *Kernel) Exit(code int) uint64 {
	return models.Errno(k.Tasks.Exit(k.Proc, code))
}

// Wait returns the reaped child's pid and packs its exit code into
// status when the pointer is non-null. A live child is BUSY: callers
// poll, this never blocks.
func (k *Kernel) Wait(pid int, status Obuf) uint64 {
	cpid, code, err := k.Tasks.Wait(k.Proc, pid)
	if err != nil {
		return models.Errno(err)
	}
	if status.Addr != 0 {
		if err := status.Pack(uint64(code)); err != nil {
			return models.Errno(err)
		}
	}
	return uint64(cpid)
}

func (k *Kernel) Kill(pid, signal int) uint64 {
	return models.Errno(k.Tasks.Kill(pid, signal))
}

func (k *Kernel) ThreadCreate(entry, stack Ptr, prio int) uint64 {
	t, err := k.Tasks.ThreadCreate(k.Proc, uint64(entry), uint64(stack), sched.Priority(prio))
	if err != nil {
		return models.Errno(err)
	}
	return uint64(t.ID)
}

func (k *Kernel) ThreadExit(code int) uint64 {
	t, err := k.Tasks.Thread(k.Tid)
	if err != nil {
		return models.Errno(err)
	}
	return models.Errno(k.Tasks.ThreadExit(k.Proc, t, code))
}

func (k *Kernel) Yield() uint64 {
	k.Sched.Yield()
	return 0
}
