package models

import "fmt"

const (
	PROT_NONE  = 0
	PROT_READ  = 1
	PROT_WRITE = 2
	PROT_EXEC  = 4
	PROT_USER  = 8
)

type RegionKind int

const (
	RegionCode RegionKind = iota
	RegionData
	RegionHeap
	RegionStack
	RegionMmap
	RegionDevice
	RegionShared
)

var regionKindNames = []string{"code", "data", "heap", "stack", "mmap", "device", "shared"}

func (k RegionKind) String() string {
	if k < 0 || int(k) >= len(regionKindNames) {
		return "unknown"
	}
	return regionKindNames[k]
}

// Region is an advisory [Start,End) tag on an address space. The page
// tables, not the region list, are authoritative for translation.
type Region struct {
	Start, End uint64
	Prot       int
	Kind       RegionKind
	Desc       string
}

func (r *Region) Size() uint64 {
	return r.End - r.Start
}

func (r *Region) Contains(addr uint64) bool {
	return addr >= r.Start && addr < r.End
}

func (r *Region) Overlaps(addr, size uint64) bool {
	return r.Start < addr+size && addr < r.End
}

func (r *Region) String() string {
	desc := fmt.Sprintf("0x%x-0x%x", r.Start, r.End)

	prots := []int{PROT_READ, PROT_WRITE, PROT_EXEC}
	chars := []string{"r", "w", "x"}
	prot := " "
	for i := range prots {
		if r.Prot&prots[i] != 0 {
			prot += chars[i]
		} else {
			prot += "-"
		}
	}
	desc += prot + " " + r.Kind.String()

	if r.Desc != "" {
		desc += fmt.Sprintf(" [%s]", r.Desc)
	}
	return desc
}

type RegionAddrSort []*Region

func (r RegionAddrSort) Len() int           { return len(r) }
func (r RegionAddrSort) Less(i, j int) bool { return r[i].Start < r[j].Start }
func (r RegionAddrSort) Swap(i, j int)      { r[i], r[j] = r[j], r[i] }
