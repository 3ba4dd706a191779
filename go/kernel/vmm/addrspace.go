package vmm

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/nuzDop/LimitlessOS-sub000/go/models"
)

// where anonymous mappings start their search
const mmapBase = 0x0000_1000_0000_0000

// AddressSpace is one process's virtual memory context: a PML4 frame
// rooting the table tree, an advisory region list, and a software TLB.
// The page tables are authoritative; regions are bookkeeping.
type AddressSpace struct {
	mu sync.Mutex
	m  *Manager

	// owning process, for fault reports; 0 for the kernel space
	Pid int

	pml4      uint64
	regions   []*models.Region
	tlb       *tlb
	kernel    bool
	destroyed bool
}

// CreateAddressSpace builds an empty user address space whose upper half
// mirrors the kernel space's PML4 entries.
func (m *Manager) CreateAddressSpace() (*AddressSpace, error) {
	pml4, err := m.phys.AllocPage()
	if err != nil {
		return nil, errors.Wrap(err, "vmm: pml4")
	}
	for i := kernelSplit; i < ptEntries; i++ {
		m.setEntry(pml4, i, m.entry(m.kernel.pml4, i))
	}
	return &AddressSpace{m: m, pml4: pml4, tlb: newTLB()}, nil
}

// DestroyAddressSpace walks only the user half, freeing every present
// table page and mapped frame, then the PML4 itself. The kernel space is
// never destroyed.
func (m *Manager) DestroyAddressSpace(as *AddressSpace) error {
	if as == nil || as.kernel {
		return errors.Wrap(models.StatusInvalid, "vmm: cannot destroy kernel space")
	}
	as.mu.Lock()
	defer as.mu.Unlock()
	if as.destroyed {
		return errors.Wrap(models.StatusInvalid, "vmm: address space already destroyed")
	}
	for i := 0; i < kernelSplit; i++ {
		pml4e := m.entry(as.pml4, i)
		if pml4e&PtePresent == 0 {
			continue
		}
		pdpt := pml4e & pteAddrMask
		for j := 0; j < ptEntries; j++ {
			pdpte := m.entry(pdpt, j)
			if pdpte&PtePresent == 0 {
				continue
			}
			pd := pdpte & pteAddrMask
			for k := 0; k < ptEntries; k++ {
				pde := m.entry(pd, k)
				if pde&PtePresent == 0 {
					continue
				}
				pt := pde & pteAddrMask
				for l := 0; l < ptEntries; l++ {
					pte := m.entry(pt, l)
					if pte&PtePresent != 0 {
						m.phys.FreePage(pte & pteAddrMask)
					}
				}
				m.phys.FreePage(pt)
			}
			m.phys.FreePage(pd)
		}
		m.phys.FreePage(pdpt)
	}
	m.phys.FreePage(as.pml4)
	as.regions = nil
	as.destroyed = true
	return nil
}

// MapPage installs a single translation, lazily allocating any missing
// intermediate tables, and invalidates the one affected TLB line.
func (as *AddressSpace) MapPage(vaddr, paddr uint64, prot int) error {
	if vaddr%PageSize != 0 || paddr%PageSize != 0 {
		return errors.Wrap(models.StatusInvalid, "vmm: unaligned map")
	}
	if !as.kernel && vaddr >= UserTop {
		return errors.Wrapf(models.StatusInvalid, "vmm: 0x%x is not a user address", vaddr)
	}
	as.mu.Lock()
	defer as.mu.Unlock()
	if as.destroyed {
		return errors.Wrap(models.StatusInvalid, "vmm: address space destroyed")
	}
	m := as.m

	i4, i3, i2, i1 := indices(vaddr)
	// intermediate entries carry the widest permissions; the leaf decides
	mid := uint64(PtePresent | PteWrite)
	if !as.kernel {
		mid |= PteUser
	}
	table := as.pml4
	for _, idx := range []int{i4, i3, i2} {
		e := m.entry(table, idx)
		if e&PtePresent == 0 {
			next, err := m.phys.AllocPage()
			if err != nil {
				return errors.Wrap(err, "vmm: page table")
			}
			m.setEntry(table, idx, next|mid)
			table = next
		} else {
			table = e & pteAddrMask
		}
	}
	m.setEntry(table, i1, paddr&pteAddrMask|protToPte(prot))
	as.tlb.invalidate(vaddr)
	if m.tracer != nil {
		m.tracer.Emit(&models.TraceEvent{Kind: uint8(models.TraceMap), Pid: int32(as.Pid), A: vaddr, B: paddr, C: uint64(prot)})
	}
	return nil
}

// walk returns the leaf table and index for vaddr, or NOTFOUND if an
// intermediate level is absent. Never allocates: reads do not build tables.
func (as *AddressSpace) walk(vaddr uint64) (table uint64, idx int, err error) {
	m := as.m
	i4, i3, i2, i1 := indices(vaddr)
	table = as.pml4
	for _, idx := range []int{i4, i3, i2} {
		e := m.entry(table, idx)
		if e&PtePresent == 0 {
			return 0, 0, errors.Wrapf(models.StatusNotFound, "vmm: no mapping for 0x%x", vaddr)
		}
		table = e & pteAddrMask
	}
	return table, i1, nil
}

// UnmapPage removes a single translation. The backing frame is not freed;
// that is the caller's decision. Absent mappings are NOTFOUND.
func (as *AddressSpace) UnmapPage(vaddr uint64) error {
	if vaddr%PageSize != 0 {
		return errors.Wrap(models.StatusInvalid, "vmm: unaligned unmap")
	}
	as.mu.Lock()
	defer as.mu.Unlock()
	if as.destroyed {
		return errors.Wrap(models.StatusInvalid, "vmm: address space destroyed")
	}
	table, idx, err := as.walk(vaddr)
	if err != nil {
		return err
	}
	m := as.m
	pte := m.entry(table, idx)
	if pte&PtePresent == 0 {
		return errors.Wrapf(models.StatusNotFound, "vmm: no mapping for 0x%x", vaddr)
	}
	m.setEntry(table, idx, 0)
	as.tlb.invalidate(vaddr)
	if m.tracer != nil {
		m.tracer.Emit(&models.TraceEvent{Kind: uint8(models.TraceUnmap), Pid: int32(as.Pid), A: vaddr})
	}
	return nil
}

// GetPhysical translates a virtual address, preserving the page offset.
func (as *AddressSpace) GetPhysical(vaddr uint64) (uint64, error) {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.translate(vaddr)
}

func (as *AddressSpace) translate(vaddr uint64) (uint64, error) {
	if as.destroyed {
		return 0, errors.Wrap(models.StatusInvalid, "vmm: address space destroyed")
	}
	page := vaddr &^ uint64(PageSize-1)
	off := vaddr & (PageSize - 1)
	if paddr, ok := as.tlb.lookup(page); ok {
		return paddr + off, nil
	}
	table, idx, err := as.walk(vaddr)
	if err != nil {
		return 0, err
	}
	pte := as.m.entry(table, idx)
	if pte&PtePresent == 0 {
		return 0, errors.Wrapf(models.StatusNotFound, "vmm: no mapping for 0x%x", vaddr)
	}
	paddr := pte & pteAddrMask
	as.tlb.fill(page, paddr)
	return paddr + off, nil
}

// CloneAddressSpace recursively duplicates every populated user-half entry
// of src and byte-copies every mapped frame into a fresh frame: a true
// deep copy, O(mapped pages). Resident memory doubles for the duration.
func (m *Manager) CloneAddressSpace(src *AddressSpace) (*AddressSpace, error) {
	if src == nil || src.kernel {
		return nil, errors.Wrap(models.StatusInvalid, "vmm: cannot clone kernel space")
	}
	src.mu.Lock()
	defer src.mu.Unlock()
	if src.destroyed {
		return nil, errors.Wrap(models.StatusInvalid, "vmm: address space destroyed")
	}
	dst, err := m.CreateAddressSpace()
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*AddressSpace, error) {
		m.DestroyAddressSpace(dst)
		return nil, err
	}
	for i := 0; i < kernelSplit; i++ {
		pml4e := m.entry(src.pml4, i)
		if pml4e&PtePresent == 0 {
			continue
		}
		pdpt := pml4e & pteAddrMask
		for j := 0; j < ptEntries; j++ {
			pdpte := m.entry(pdpt, j)
			if pdpte&PtePresent == 0 {
				continue
			}
			pd := pdpte & pteAddrMask
			for k := 0; k < ptEntries; k++ {
				pde := m.entry(pd, k)
				if pde&PtePresent == 0 {
					continue
				}
				pt := pde & pteAddrMask
				for l := 0; l < ptEntries; l++ {
					pte := m.entry(pt, l)
					if pte&PtePresent == 0 {
						continue
					}
					vaddr := uint64(i)<<39 | uint64(j)<<30 | uint64(k)<<21 | uint64(l)<<12
					frame, err := m.phys.AllocPage()
					if err != nil {
						return fail(errors.Wrap(err, "vmm: clone frame"))
					}
					srcb, err := m.phys.Frame(pte & pteAddrMask)
					if err != nil {
						return fail(err)
					}
					dstb, _ := m.phys.Frame(frame)
					copy(dstb, srcb)
					if err := dst.MapPage(vaddr, frame, pteToProt(pte)); err != nil {
						m.phys.FreePage(frame)
						return fail(err)
					}
				}
			}
		}
	}
	for _, r := range src.regions {
		dup := *r
		dst.regions = append(dst.regions, &dup)
	}
	return dst, nil
}

// Map reserves size bytes at vaddr backed by fresh frames and records an
// advisory region. Frames are allocated page by page; they need not be
// physically contiguous.
func (as *AddressSpace) Map(vaddr, size uint64, prot int, kind models.RegionKind, desc string) error {
	if size == 0 || vaddr%PageSize != 0 {
		return errors.Wrap(models.StatusInvalid, "vmm: bad map request")
	}
	size = pageCeil(size)
	var mapped []uint64
	for off := uint64(0); off < size; off += PageSize {
		frame, err := as.m.phys.AllocPage()
		if err == nil {
			err = as.MapPage(vaddr+off, frame, prot)
			if err != nil {
				as.m.phys.FreePage(frame)
			}
		}
		if err != nil {
			for _, v := range mapped {
				if paddr, terr := as.GetPhysical(v); terr == nil {
					as.m.phys.FreePage(paddr)
				}
				as.UnmapPage(v)
			}
			return err
		}
		mapped = append(mapped, vaddr+off)
	}
	as.mu.Lock()
	as.regions = append(as.regions, &models.Region{Start: vaddr, End: vaddr + size, Prot: prot, Kind: kind, Desc: desc})
	sort.Sort(models.RegionAddrSort(as.regions))
	as.mu.Unlock()
	return nil
}

// Unmap releases [vaddr, vaddr+size): frames go back to the allocator,
// translations are removed, and overlapping regions are trimmed. Pages
// already unmapped inside the range are skipped, not errors.
func (as *AddressSpace) Unmap(vaddr, size uint64) error {
	if size == 0 || vaddr%PageSize != 0 {
		return errors.Wrap(models.StatusInvalid, "vmm: bad unmap request")
	}
	size = pageCeil(size)
	for off := uint64(0); off < size; off += PageSize {
		v := vaddr + off
		paddr, err := as.GetPhysical(v)
		if err != nil {
			continue
		}
		as.m.phys.FreePage(paddr &^ uint64(PageSize-1))
		as.UnmapPage(v)
	}
	as.mu.Lock()
	as.trimRegions(vaddr, size)
	as.mu.Unlock()
	return nil
}

func (as *AddressSpace) trimRegions(addr, size uint64) {
	var keep []*models.Region
	for _, r := range as.regions {
		if !r.Overlaps(addr, size) {
			keep = append(keep, r)
			continue
		}
		if r.Start < addr {
			left := *r
			left.End = addr
			keep = append(keep, &left)
		}
		if r.End > addr+size {
			right := *r
			right.Start = addr + size
			keep = append(keep, &right)
		}
	}
	as.regions = keep
}

// Protect rewrites the permission bits on every mapped page in the range.
func (as *AddressSpace) Protect(vaddr, size uint64, prot int) error {
	if size == 0 || vaddr%PageSize != 0 {
		return errors.Wrap(models.StatusInvalid, "vmm: bad protect request")
	}
	size = pageCeil(size)
	as.mu.Lock()
	defer as.mu.Unlock()
	if as.destroyed {
		return errors.Wrap(models.StatusInvalid, "vmm: address space destroyed")
	}
	for off := uint64(0); off < size; off += PageSize {
		v := vaddr + off
		table, idx, err := as.walk(v)
		if err != nil {
			return err
		}
		pte := as.m.entry(table, idx)
		if pte&PtePresent == 0 {
			return errors.Wrapf(models.StatusNotFound, "vmm: no mapping for 0x%x", v)
		}
		as.m.setEntry(table, idx, pte&pteAddrMask|protToPte(prot))
		as.tlb.invalidate(v)
	}
	for _, r := range as.regions {
		if r.Start >= vaddr && r.End <= vaddr+size {
			r.Prot = prot
		}
	}
	return nil
}

// MapAnon finds a free stretch of the mmap area and maps it, returning
// the chosen address. First-fit scan over the region list.
func (as *AddressSpace) MapAnon(size uint64, prot int, desc string) (uint64, error) {
	if size == 0 {
		return 0, errors.Wrap(models.StatusInvalid, "vmm: zero anon map")
	}
	size = pageCeil(size)
	addr := uint64(mmapBase)
	as.mu.Lock()
	for _, r := range as.regions {
		if r.End <= addr {
			continue
		}
		if r.Start >= addr+size {
			break
		}
		addr = pageCeil(r.End)
	}
	as.mu.Unlock()
	if addr+size > UserTop {
		return 0, errors.Wrap(models.StatusNoMem, "vmm: mmap area exhausted")
	}
	if err := as.Map(addr, size, prot, models.RegionMmap, desc); err != nil {
		return 0, err
	}
	return addr, nil
}

// Write copies p into the address space, page by page, through the
// authoritative translations. Unmapped pages surface as NOTFOUND.
func (as *AddressSpace) Write(vaddr uint64, p []byte) error {
	for len(p) > 0 {
		paddr, err := as.GetPhysical(vaddr)
		if err != nil {
			return err
		}
		frame, err := as.m.phys.Frame(paddr &^ uint64(PageSize-1))
		if err != nil {
			return err
		}
		off := paddr & (PageSize - 1)
		n := copy(frame[off:], p)
		p = p[n:]
		vaddr += uint64(n)
	}
	return nil
}

// Read copies out of the address space into p.
func (as *AddressSpace) Read(vaddr uint64, p []byte) error {
	for len(p) > 0 {
		paddr, err := as.GetPhysical(vaddr)
		if err != nil {
			return err
		}
		frame, err := as.m.phys.Frame(paddr &^ uint64(PageSize-1))
		if err != nil {
			return err
		}
		off := paddr & (PageSize - 1)
		n := copy(p, frame[off:])
		p = p[n:]
		vaddr += uint64(n)
	}
	return nil
}

// Regions returns a copy of the advisory region list, sorted by address.
func (as *AddressSpace) Regions() []*models.Region {
	as.mu.Lock()
	defer as.mu.Unlock()
	out := make([]*models.Region, len(as.regions))
	copy(out, as.regions)
	return out
}

// FindRegion returns the advisory region containing addr, if any.
func (as *AddressSpace) FindRegion(addr uint64) *models.Region {
	as.mu.Lock()
	defer as.mu.Unlock()
	for _, r := range as.regions {
		if r.Contains(addr) {
			return r
		}
	}
	return nil
}

func pageCeil(n uint64) uint64 {
	return (n + PageSize - 1) &^ uint64(PageSize-1)
}
