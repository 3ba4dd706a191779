// Package sys is the system call boundary. Handler methods on Kernel
// become syscalls by reflection: the exported method name is converted
// to snake_case (VmMap -> vm_map) and its arguments are filled from the
// caller's uint64 register values through an argjoy codec that knows
// about user-space pointers. Handlers return a single uint64: a value
// on success, or a two's-complement negative status.
package sys

import (
	"reflect"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/lunixbochs/argjoy"

	"github.com/nuzDop/LimitlessOS-sub000/go/kernel/ipc"
	"github.com/nuzDop/LimitlessOS-sub000/go/kernel/sched"
	"github.com/nuzDop/LimitlessOS-sub000/go/kernel/task"
	"github.com/nuzDop/LimitlessOS-sub000/go/kernel/vmm"
	"github.com/nuzDop/LimitlessOS-sub000/go/models"
)

// Base carries the dispatch table and the per-call context: Proc and
// Tid are set by Invoke before each call, so handlers read user memory
// through the calling process's address space.
type Base struct {
	Syscalls map[string]Syscall
	Argjoy   argjoy.Argjoy

	Proc *task.Process
	Tid  int

	Tasks *task.Manager
	VM    *vmm.Manager
	Sched *sched.Scheduler
	IPC   *ipc.Registry

	log    *models.Logger
	tracer models.Tracer
}

func (b *Base) SysBase() *Base {
	return b
}

// Dispatcher is any kernel with a Base; the indirection lets tests
// embed Base and register their own handlers.
type Dispatcher interface {
	SysBase() *Base
}

func camelToSnakeCase(name string) string {
	var words []string
	last := 0
	for i, c := range name {
		if unicode.IsUpper(c) {
			if i > 0 {
				words = append(words, name[last:i])
			}
			last = i
		}
	}
	words = append(words, name[last:])
	return strings.ToLower(strings.Join(words, "_"))
}

func initKernel(d Dispatcher) {
	b := d.SysBase()
	b.Syscalls = make(map[string]Syscall)
	instance := reflect.ValueOf(d)
	typ := instance.Type()
	for i := 0; i < typ.NumMethod(); i++ {
		method := typ.Method(i)
		name := method.Name
		if r, size := utf8.DecodeRuneInString(name); size <= 0 || !unicode.IsUpper(r) {
			continue
		}
		name = camelToSnakeCase(name)
		in := make([]reflect.Type, method.Type.NumIn()-1)
		for j := 1; j < method.Type.NumIn(); j++ {
			in[j-1] = method.Type.In(j)
		}
		out := make([]reflect.Type, method.Type.NumOut())
		for j := 0; j < method.Type.NumOut(); j++ {
			out[j] = method.Type.Out(j)
		}
		b.Syscalls[name] = Syscall{
			Name:     name,
			Base:     b,
			Instance: instance,
			Method:   method,
			In:       in,
			Out:      out,
		}
	}
	b.Argjoy.Register(b.argCodec)
	b.Argjoy.Register(argjoy.IntToInt)
}

// Lookup finds a syscall by name, building the dispatch table on first use.
func Lookup(d Dispatcher, name string) *Syscall {
	b := d.SysBase()
	if b.Syscalls == nil {
		initKernel(d)
	}
	if sys, ok := b.Syscalls[name]; ok {
		return &sys
	}
	return nil
}

// Kernel is the syscall surface over the core components.
type Kernel struct {
	Base
}

func New(tasks *task.Manager, vm *vmm.Manager, s *sched.Scheduler, reg *ipc.Registry, log *models.Logger) *Kernel {
	k := &Kernel{Base{Tasks: tasks, VM: vm, Sched: s, IPC: reg, log: log}}
	initKernel(k)
	return k
}

func (k *Kernel) SetTracer(t models.Tracer) {
	k.tracer = t
}

// Invoke runs one named syscall on behalf of (p, tid). Unknown names
// return NOSUPPORT; everything else is the handler's business.
func (k *Kernel) Invoke(p *task.Process, tid int, name string, args []uint64) uint64 {
	k.Proc, k.Tid = p, tid
	sys := Lookup(k, name)
	if sys == nil {
		return models.Errno(models.StatusNoSupport)
	}
	pid := int32(0)
	if p != nil {
		pid = int32(p.Pid)
	}
	if k.tracer != nil {
		k.tracer.Emit(&models.TraceEvent{Kind: uint8(models.TraceSysEnter), Pid: pid, Tid: int32(tid), A: uint64(len(args))})
	}
	ret := sys.Call(args)
	if k.tracer != nil {
		k.tracer.Emit(&models.TraceEvent{Kind: uint8(models.TraceSysExit), Pid: pid, Tid: int32(tid), A: ret})
	}
	if k.log != nil {
		k.log.Debugf("sys: pid %d %s = 0x%x", pid, sys.Trace(args), ret)
	}
	return ret
}
