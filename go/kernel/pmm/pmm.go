// Package pmm is the physical page allocator: one bit per 4 KiB frame over
// a single managed range, plus the byte arena backing that range so frames
// have real contents for page tables and user data to live in.
package pmm

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/nuzDop/LimitlessOS-sub000/go/models"
)

const (
	PageShift = 12
	PageSize  = 1 << PageShift
)

// Allocator tracks frames in [base, base+size). A frame's bit is set only
// while allocated; freeing an address outside the range or not currently
// allocated is a counted no-op.
type Allocator struct {
	mu     sync.Mutex
	base   uint64
	size   uint64
	pages  uint64
	bitmap []uint64
	used   uint64
	arena  []byte

	badFrees uint64
}

func New(base, size uint64) (*Allocator, error) {
	if size == 0 || base%PageSize != 0 || size%PageSize != 0 {
		return nil, errors.Wrap(models.StatusInvalid, "pmm: base and size must be page aligned")
	}
	pages := size / PageSize
	return &Allocator{
		base:   base,
		size:   size,
		pages:  pages,
		bitmap: make([]uint64, (pages+63)/64),
		arena:  make([]byte, size),
	}, nil
}

func (a *Allocator) index(addr uint64) (uint64, bool) {
	if addr < a.base || addr >= a.base+a.size || addr%PageSize != 0 {
		return 0, false
	}
	return (addr - a.base) >> PageShift, true
}

func (a *Allocator) bit(i uint64) bool {
	return a.bitmap[i/64]&(1<<(i%64)) != 0
}

func (a *Allocator) set(i uint64) {
	a.bitmap[i/64] |= 1 << (i % 64)
}

func (a *Allocator) clear(i uint64) {
	a.bitmap[i/64] &^= 1 << (i % 64)
}

// AllocPage returns a zeroed page-aligned frame address.
func (a *Allocator) AllocPage() (uint64, error) {
	return a.AllocPages(1)
}

// AllocPages finds the first free run of n contiguous frames.
// Linear scan, O(total pages); the documented scalability ceiling.
func (a *Allocator) AllocPages(n int) (uint64, error) {
	if n <= 0 {
		return 0, errors.Wrap(models.StatusInvalid, "pmm: bad page count")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	run := uint64(0)
	for i := uint64(0); i < a.pages; i++ {
		if a.bit(i) {
			run = 0
			continue
		}
		run++
		if run == uint64(n) {
			first := i - run + 1
			for j := first; j <= i; j++ {
				a.set(j)
			}
			a.used += run
			addr := a.base + first<<PageShift
			off := first << PageShift
			clear(a.arena[off : off+run<<PageShift])
			return addr, nil
		}
	}
	return 0, errors.Wrapf(models.StatusNoMem, "pmm: no free run of %d pages", n)
}

func (a *Allocator) FreePage(addr uint64) {
	a.FreePages(addr, 1)
}

func (a *Allocator) FreePages(addr uint64, n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for k := 0; k < n; k++ {
		i, ok := a.index(addr + uint64(k)<<PageShift)
		if !ok || !a.bit(i) {
			a.badFrees++
			continue
		}
		a.clear(i)
		a.used--
	}
}

// Frame returns the 4 KiB slice backing a managed frame address.
// The address does not need to be allocated, only in range and aligned.
func (a *Allocator) Frame(addr uint64) ([]byte, error) {
	i, ok := a.index(addr)
	if !ok {
		return nil, errors.Wrapf(models.StatusNotFound, "pmm: 0x%x not a managed frame", addr)
	}
	off := i << PageShift
	return a.arena[off : off+PageSize : off+PageSize], nil
}

func (a *Allocator) Contains(addr uint64) bool {
	return addr >= a.base && addr < a.base+a.size
}

func (a *Allocator) Base() uint64 { return a.base }

func (a *Allocator) TotalMemory() uint64 {
	return a.size
}

func (a *Allocator) UsedMemory() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.used << PageShift
}

func (a *Allocator) FreeMemory() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return (a.pages - a.used) << PageShift
}

// BadFrees counts defensive no-op frees (out of range or not allocated).
func (a *Allocator) BadFrees() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.badFrees
}
