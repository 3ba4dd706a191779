package vmm

import (
	"bytes"
	"testing"

	"github.com/nuzDop/LimitlessOS-sub000/go/kernel/pmm"
	"github.com/nuzDop/LimitlessOS-sub000/go/models"
)

func testManager(t testing.TB) (*Manager, *pmm.Allocator) {
	phys, err := pmm.New(0x100000, 16*1024*1024)
	if err != nil {
		t.Fatal(err)
	}
	m, err := New(phys, nil)
	if err != nil {
		t.Fatal(err)
	}
	return m, phys
}

// this shouldn't repeat much at width
func pattern(n int) []byte {
	p := make([]byte, n)
	width := 8
	for i := range p {
		cycle := i / width
		p[i] = byte(cycle*width*i + i)
	}
	return p
}

func TestMapTranslateUnmap(t *testing.T) {
	m, phys := testManager(t)
	as, err := m.CreateAddressSpace()
	if err != nil {
		t.Fatal(err)
	}
	paddr, _ := phys.AllocPage()
	prot := models.PROT_READ | models.PROT_WRITE | models.PROT_USER

	if err := as.MapPage(0x400000, paddr, prot); err != nil {
		t.Fatal(err)
	}
	got, err := as.GetPhysical(0x400000)
	if err != nil {
		t.Fatal(err)
	}
	if got != paddr {
		t.Fatalf("translated %#x, want %#x", got, paddr)
	}
	// page offset is preserved
	got, err = as.GetPhysical(0x400123)
	if err != nil {
		t.Fatal(err)
	}
	if got != paddr+0x123 {
		t.Fatalf("offset translation %#x, want %#x", got, paddr+0x123)
	}

	if err := as.UnmapPage(0x400000); err != nil {
		t.Fatal(err)
	}
	if _, err := as.GetPhysical(0x400000); models.StatusOf(err) != models.StatusNotFound {
		t.Fatalf("expected NOTFOUND after unmap, got %v", err)
	}
}

func TestReadNeverAllocates(t *testing.T) {
	m, phys := testManager(t)
	as, _ := m.CreateAddressSpace()
	used := phys.UsedMemory()
	if _, err := as.GetPhysical(0x400000); models.StatusOf(err) != models.StatusNotFound {
		t.Fatalf("expected NOTFOUND on empty space, got %v", err)
	}
	if err := as.UnmapPage(0x400000); models.StatusOf(err) != models.StatusNotFound {
		t.Fatalf("expected NOTFOUND unmap on empty space, got %v", err)
	}
	if phys.UsedMemory() != used {
		t.Fatal("read path allocated intermediate tables")
	}
}

func TestUnalignedInvalid(t *testing.T) {
	m, phys := testManager(t)
	as, _ := m.CreateAddressSpace()
	paddr, _ := phys.AllocPage()
	if err := as.MapPage(0x400001, paddr, models.PROT_READ); models.StatusOf(err) != models.StatusInvalid {
		t.Fatalf("unaligned vaddr: got %v", err)
	}
	if err := as.MapPage(0x400000, paddr+1, models.PROT_READ); models.StatusOf(err) != models.StatusInvalid {
		t.Fatalf("unaligned paddr: got %v", err)
	}
	if err := as.MapPage(KernelBase, paddr, models.PROT_READ); models.StatusOf(err) != models.StatusInvalid {
		t.Fatalf("kernel-half map from user space: got %v", err)
	}
}

func TestTLBSingleLine(t *testing.T) {
	m, phys := testManager(t)
	as, _ := m.CreateAddressSpace()
	p1, _ := phys.AllocPage()
	p2, _ := phys.AllocPage()
	as.MapPage(0x400000, p1, models.PROT_READ|models.PROT_USER)
	as.MapPage(0x401000, p2, models.PROT_READ|models.PROT_USER)
	// warm both lines
	as.GetPhysical(0x400000)
	as.GetPhysical(0x401000)
	hits0, _, _ := as.TLBStats()
	as.GetPhysical(0x400000)
	as.GetPhysical(0x401000)
	hits1, _, _ := as.TLBStats()
	if hits1 != hits0+2 {
		t.Fatalf("warm translations missed the tlb: %d -> %d", hits0, hits1)
	}
	// unmapping one page must leave the other line warm
	as.UnmapPage(0x400000)
	as.GetPhysical(0x401000)
	hits2, _, shoots := as.TLBStats()
	if hits2 != hits1+1 {
		t.Fatal("unmap invalidated an unrelated tlb line")
	}
	if shoots != 1 {
		t.Fatalf("expected exactly 1 invalidation, got %d", shoots)
	}
}

func TestCloneDeepCopy(t *testing.T) {
	m, _ := testManager(t)
	src, _ := m.CreateAddressSpace()
	prot := models.PROT_READ | models.PROT_WRITE | models.PROT_USER

	if err := src.Map(0x400000, 3*PageSize, prot, models.RegionData, "test"); err != nil {
		t.Fatal(err)
	}
	want := pattern(3 * PageSize)
	if err := src.Write(0x400000, want); err != nil {
		t.Fatal(err)
	}

	dst, err := m.CloneAddressSpace(src)
	if err != nil {
		t.Fatal(err)
	}
	// every vaddr mapped in src is mapped in dst with equal content
	// but a distinct frame
	got := make([]byte, len(want))
	if err := dst.Read(0x400000, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(want, got) {
		t.Fatal("clone content differs from source")
	}
	for off := uint64(0); off < 3*PageSize; off += PageSize {
		sp, _ := src.GetPhysical(0x400000 + off)
		dp, _ := dst.GetPhysical(0x400000 + off)
		if sp == dp {
			t.Fatalf("page %#x shares a frame after clone", 0x400000+off)
		}
	}
	// mutating dst never changes src
	if err := dst.Write(0x400000, bytes.Repeat([]byte{0xff}, PageSize)); err != nil {
		t.Fatal(err)
	}
	if err := src.Read(0x400000, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(want, got) {
		t.Fatal("mutating the clone changed the source")
	}
	if len(dst.Regions()) != len(src.Regions()) {
		t.Fatal("clone dropped regions")
	}
}

func TestDestroyReturnsPages(t *testing.T) {
	m, phys := testManager(t)
	used := phys.UsedMemory()
	as, _ := m.CreateAddressSpace()
	prot := models.PROT_READ | models.PROT_WRITE | models.PROT_USER
	if err := as.Map(0x400000, 16*PageSize, prot, models.RegionData, ""); err != nil {
		t.Fatal(err)
	}
	if err := m.DestroyAddressSpace(as); err != nil {
		t.Fatal(err)
	}
	if phys.UsedMemory() != used {
		t.Fatalf("destroy leaked: used %d, want %d", phys.UsedMemory(), used)
	}
	if err := m.DestroyAddressSpace(as); models.StatusOf(err) != models.StatusInvalid {
		t.Fatalf("double destroy: got %v", err)
	}
	if err := m.DestroyAddressSpace(m.KernelSpace()); models.StatusOf(err) != models.StatusInvalid {
		t.Fatalf("kernel space destroy: got %v", err)
	}
}

func TestKernelHalfShared(t *testing.T) {
	m, phys := testManager(t)
	as, _ := m.CreateAddressSpace()
	// the direct map installed at boot must be visible through a fresh
	// user space without any private tables
	base := phys.Base()
	got, err := as.GetPhysical(KernelBase + base)
	if err != nil {
		t.Fatal(err)
	}
	if got != base {
		t.Fatalf("direct map translated %#x, want %#x", got, base)
	}
}

func TestProtect(t *testing.T) {
	m, _ := testManager(t)
	as, _ := m.CreateAddressSpace()
	prot := models.PROT_READ | models.PROT_WRITE | models.PROT_USER
	as.Map(0x400000, PageSize, prot, models.RegionData, "")
	if err := as.Protect(0x400000, PageSize, models.PROT_READ|models.PROT_USER); err != nil {
		t.Fatal(err)
	}
	r := as.FindRegion(0x400000)
	if r == nil || r.Prot&models.PROT_WRITE != 0 {
		t.Fatal("protect did not update region permissions")
	}
	if err := as.Protect(0x500000, PageSize, models.PROT_READ); models.StatusOf(err) != models.StatusNotFound {
		t.Fatalf("protect on unmapped range: got %v", err)
	}
}

func TestMapAnon(t *testing.T) {
	m, _ := testManager(t)
	as, _ := m.CreateAddressSpace()
	prot := models.PROT_READ | models.PROT_WRITE | models.PROT_USER
	a1, err := as.MapAnon(3*PageSize, prot, "anon")
	if err != nil {
		t.Fatal(err)
	}
	a2, err := as.MapAnon(PageSize, prot, "anon")
	if err != nil {
		t.Fatal(err)
	}
	if a2 >= a1 && a2 < a1+3*PageSize {
		t.Fatalf("anon mappings overlap: %#x and %#x", a1, a2)
	}
	if err := as.Write(a2, []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
}

func TestUnmapTrimsRegions(t *testing.T) {
	m, _ := testManager(t)
	as, _ := m.CreateAddressSpace()
	prot := models.PROT_READ | models.PROT_WRITE | models.PROT_USER
	as.Map(0x400000, 4*PageSize, prot, models.RegionData, "")
	if err := as.Unmap(0x401000, PageSize); err != nil {
		t.Fatal(err)
	}
	if as.FindRegion(0x401000) != nil {
		t.Fatal("unmapped page still has a region")
	}
	if as.FindRegion(0x400000) == nil || as.FindRegion(0x402000) == nil {
		t.Fatal("unmap hole destroyed the adjacent regions")
	}
	if _, err := as.GetPhysical(0x401000); models.StatusOf(err) != models.StatusNotFound {
		t.Fatal("page still translates after unmap")
	}
	if _, err := as.GetPhysical(0x402000); err != nil {
		t.Fatal("adjacent page lost its translation")
	}
}

func TestPageFaultHalts(t *testing.T) {
	m, _ := testManager(t)
	as, _ := m.CreateAddressSpace()
	var got *Fault
	m.SetHalt(func(f *Fault) { got = f })
	m.PageFault(as, 0xdead000, true)
	if got == nil || got.Vaddr != 0xdead000 || !got.Write {
		t.Fatalf("bad fault report: %+v", got)
	}
}

func BenchmarkMapPage(b *testing.B) {
	m, phys := testManager(b)
	as, _ := m.CreateAddressSpace()
	paddr, _ := phys.AllocPage()
	for i := 0; i < b.N; i++ {
		vaddr := uint64(i%0x10000)<<12 + 0x400000
		as.MapPage(vaddr, paddr, models.PROT_READ|models.PROT_USER)
	}
}

func BenchmarkTranslate(b *testing.B) {
	m, phys := testManager(b)
	as, _ := m.CreateAddressSpace()
	paddr, _ := phys.AllocPage()
	as.MapPage(0x400000, paddr, models.PROT_READ|models.PROT_USER)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		as.GetPhysical(0x400000)
	}
}
