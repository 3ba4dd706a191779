// Package vmm owns per-process address spaces. Page tables are the real
// thing: a 4-level radix tree of 512 little-endian uint64 entries per
// frame, stored inside frames handed out by the pmm. The upper half of
// every PML4 mirrors the single kernel address space; the lower half is
// private per process.
package vmm

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"

	"github.com/nuzDop/LimitlessOS-sub000/go/kernel/pmm"
	"github.com/nuzDop/LimitlessOS-sub000/go/models"
)

const (
	PageSize = pmm.PageSize

	ptEntries   = 512
	kernelSplit = 256 // first upper-half PML4 index

	// start of the canonical upper half, PML4 index 256
	KernelBase = 0xffff_8000_0000_0000
	// user vaddrs live below this
	UserTop = 0x0000_8000_0000_0000

	PtePresent = 1 << 0
	PteWrite   = 1 << 1
	PteUser    = 1 << 2
	PteNX      = 1 << 63

	pteAddrMask = 0x000f_ffff_ffff_f000
)

// Fault is the structured report built when a translation fails at
// runtime. There is no demand paging, so every fault is fatal.
type Fault struct {
	Vaddr uint64
	Write bool
	Pid   int
}

func (f *Fault) Error() string {
	kind := "read"
	if f.Write {
		kind = "write"
	}
	return fmt.Sprintf("page fault: pid %d %s at 0x%x", f.Pid, kind, f.Vaddr)
}

// Manager creates, clones and destroys address spaces against one pmm
// allocator. The kernel address space is built once at init and shared,
// read-only after construction, into the upper half of every process.
type Manager struct {
	phys   *pmm.Allocator
	log    *models.Logger
	kernel *AddressSpace
	tracer models.Tracer
	halt   func(*Fault)
}

func New(phys *pmm.Allocator, log *models.Logger) (*Manager, error) {
	m := &Manager{phys: phys, log: log}
	m.halt = func(f *Fault) {
		panic(f)
	}

	pml4, err := phys.AllocPage()
	if err != nil {
		return nil, errors.Wrap(err, "vmm: kernel pml4")
	}
	k := &AddressSpace{m: m, pml4: pml4, kernel: true, tlb: newTLB()}
	m.kernel = k

	// Direct-map the managed physical range into the kernel half. These
	// entries are installed once and never mutated, which is what lets
	// process address spaces share them without a lock.
	base := phys.Base()
	for off := uint64(0); off < phys.TotalMemory(); off += PageSize {
		if err := k.MapPage(KernelBase+base+off, base+off, models.PROT_READ|models.PROT_WRITE); err != nil {
			return nil, errors.Wrap(err, "vmm: kernel direct map")
		}
	}
	k.regions = append(k.regions, &models.Region{
		Start: KernelBase + base,
		End:   KernelBase + base + phys.TotalMemory(),
		Prot:  models.PROT_READ | models.PROT_WRITE,
		Kind:  models.RegionDevice,
		Desc:  "physmap",
	})
	return m, nil
}

// SetHalt replaces the fatal page-fault hook. The default panics; a host
// can swap in an orderly shutdown, but must not continue the faulting task.
func (m *Manager) SetHalt(halt func(*Fault)) {
	m.halt = halt
}

func (m *Manager) SetTracer(t models.Tracer) {
	m.tracer = t
}

// KernelSpace returns the shared kernel address space. It is never destroyed.
func (m *Manager) KernelSpace() *AddressSpace {
	return m.kernel
}

// PageFault is the fault entry point: log a structured report, then halt.
// "Not present" is a programming error here, never something to recover.
func (m *Manager) PageFault(as *AddressSpace, vaddr uint64, write bool) {
	f := &Fault{Vaddr: vaddr, Write: write, Pid: as.Pid}
	if m.log != nil {
		m.log.Errorf("%s", f.Error())
		for _, r := range as.Regions() {
			m.log.Errorf("  %s", r)
		}
	}
	m.halt(f)
}

// table entry io: each table is one frame of 512 uint64s

func (m *Manager) entry(table uint64, idx int) uint64 {
	frame, err := m.phys.Frame(table)
	if err != nil {
		panic(errors.Wrap(err, "vmm: table frame gone"))
	}
	return binary.LittleEndian.Uint64(frame[idx*8:])
}

func (m *Manager) setEntry(table uint64, idx int, val uint64) {
	frame, err := m.phys.Frame(table)
	if err != nil {
		panic(errors.Wrap(err, "vmm: table frame gone"))
	}
	binary.LittleEndian.PutUint64(frame[idx*8:], val)
}

// split a canonical vaddr into its four 9-bit table indices
func indices(vaddr uint64) (pml4, pdpt, pd, pt int) {
	pml4 = int(vaddr >> 39 & 0x1ff)
	pdpt = int(vaddr >> 30 & 0x1ff)
	pd = int(vaddr >> 21 & 0x1ff)
	pt = int(vaddr >> 12 & 0x1ff)
	return
}

func protToPte(prot int) uint64 {
	pte := uint64(PtePresent)
	if prot&models.PROT_WRITE != 0 {
		pte |= PteWrite
	}
	if prot&models.PROT_USER != 0 {
		pte |= PteUser
	}
	if prot&models.PROT_EXEC == 0 {
		pte |= PteNX
	}
	return pte
}

func pteToProt(pte uint64) int {
	prot := models.PROT_READ
	if pte&PteWrite != 0 {
		prot |= models.PROT_WRITE
	}
	if pte&PteUser != 0 {
		prot |= models.PROT_USER
	}
	if pte&PteNX == 0 {
		prot |= models.PROT_EXEC
	}
	return prot
}
