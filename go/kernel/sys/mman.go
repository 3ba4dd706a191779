package sys

import (
	"github.com/nuzDop/LimitlessOS-sub000/go/models"
)

// All mappings made from user context are user-accessible regardless of
// the prot argument; only the kernel maps supervisor pages.

func (k *Kernel) VmMap(addr Ptr, size Len, prot int) uint64 {
	err := k.Proc.AS.Map(uint64(addr), uint64(size),
		prot|models.PROT_USER, models.RegionMmap, "vm_map")
	return models.Errno(err)
}

func (k *Kernel) VmUnmap(addr Ptr, size Len) uint64 {
	return models.Errno(k.Proc.AS.Unmap(uint64(addr), uint64(size)))
}

func (k *Kernel) VmProtect(addr Ptr, size Len, prot int) uint64 {
	return models.Errno(k.Proc.AS.Protect(uint64(addr), uint64(size), prot|models.PROT_USER))
}

// VmAlloc picks the address: first fit in the mmap area, returned to
// the caller. VmFree is the inverse.
func (k *Kernel) VmAlloc(size Len, prot int) uint64 {
	base, err := k.Proc.AS.MapAnon(uint64(size), prot|models.PROT_USER, "vm_alloc")
	if err != nil {
		return models.Errno(err)
	}
	return base
}

func (k *Kernel) VmFree(addr Ptr, size Len) uint64 {
	return models.Errno(k.Proc.AS.Unmap(uint64(addr), uint64(size)))
}

func (k *Kernel) Brk(addr Ptr) uint64 {
	end, err := k.Tasks.Brk(k.Proc, uint64(addr))
	if err != nil {
		return models.Errno(err)
	}
	return end
}
