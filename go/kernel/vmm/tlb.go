package vmm

// tlb models the per-address-space translation cache. Map and unmap must
// invalidate exactly the one line they touched; the counters let tests
// assert that nothing flushes more than it should.
type tlb struct {
	lines  map[uint64]uint64 // page vaddr -> page paddr
	hits   uint64
	misses uint64
	shoots uint64
}

func newTLB() *tlb {
	return &tlb{lines: make(map[uint64]uint64)}
}

func (t *tlb) lookup(page uint64) (uint64, bool) {
	paddr, ok := t.lines[page]
	if ok {
		t.hits++
	} else {
		t.misses++
	}
	return paddr, ok
}

func (t *tlb) fill(page, paddr uint64) {
	t.lines[page] = paddr
}

func (t *tlb) invalidate(vaddr uint64) {
	page := vaddr &^ uint64(PageSize-1)
	if _, ok := t.lines[page]; ok {
		delete(t.lines, page)
		t.shoots++
	}
}

// TLBStats reports (hits, misses, single-line invalidations).
func (as *AddressSpace) TLBStats() (uint64, uint64, uint64) {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.tlb.hits, as.tlb.misses, as.tlb.shoots
}
