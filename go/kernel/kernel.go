// Package kernel wires the core together in boot order: physical
// allocator, virtual memory, scheduler, ipc, process manager. Each
// component is an explicit object; nothing here is a global, so tests
// can boot as many kernels as they like.
package kernel

import (
	"github.com/pkg/errors"

	"github.com/nuzDop/LimitlessOS-sub000/go/kernel/ipc"
	"github.com/nuzDop/LimitlessOS-sub000/go/kernel/pmm"
	"github.com/nuzDop/LimitlessOS-sub000/go/kernel/sched"
	"github.com/nuzDop/LimitlessOS-sub000/go/kernel/sys"
	"github.com/nuzDop/LimitlessOS-sub000/go/kernel/task"
	"github.com/nuzDop/LimitlessOS-sub000/go/kernel/vmm"
	"github.com/nuzDop/LimitlessOS-sub000/go/models"
)

type Kernel struct {
	Config *models.Config
	Log    *models.Logger

	Phys  *pmm.Allocator
	VM    *vmm.Manager
	Sched *sched.Scheduler
	IPC   *ipc.Registry
	Tasks *task.Manager
	Sys   *sys.Kernel
}

// Boot brings the core up. The order is load-bearing: the vmm needs
// frames for the kernel page tables, the ipc registry needs frames for
// rings, and the process manager needs everything else.
func Boot(cfg *models.Config, fs models.FileSystem, ld models.Loader) (*Kernel, error) {
	cfg.Init()
	log := cfg.Logger()

	phys, err := pmm.New(cfg.MemBase, cfg.MemSize)
	if err != nil {
		return nil, errors.Wrap(err, "boot")
	}
	vm, err := vmm.New(phys, log)
	if err != nil {
		return nil, errors.Wrap(err, "boot")
	}
	s := sched.New()
	reg := ipc.NewRegistry(phys, nil)
	tasks := task.NewManager(phys, vm, s, fs, ld, log)
	reg.SetWaker(tasks)

	k := &Kernel{
		Config: cfg,
		Log:    log,
		Phys:   phys,
		VM:     vm,
		Sched:  s,
		IPC:    reg,
		Tasks:  tasks,
		Sys:    sys.New(tasks, vm, s, reg, log),
	}
	return k, nil
}

// SetTracer plumbs one tracer into every component that emits events.
func (k *Kernel) SetTracer(t models.Tracer) {
	k.VM.SetTracer(t)
	k.Sched.SetTracer(t)
	k.IPC.SetTracer(t)
	k.Tasks.SetTracer(t)
	k.Sys.SetTracer(t)
}

// Tick is the external timer hook; the HAL calls this every quantum.
func (k *Kernel) Tick() *sched.Thread {
	return k.Sched.Tick()
}
