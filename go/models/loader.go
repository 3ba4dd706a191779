package models

// Image is what a loader reports back after populating an address space.
type Image struct {
	Entry uint64
	Base  uint64
	Size  uint64
}

// AddressSpace is the narrow surface a binary loader consumes: map a
// region backed by fresh frames and copy bytes into it.
type AddressSpace interface {
	Map(vaddr, size uint64, prot int, kind RegionKind, desc string) error
	Write(vaddr uint64, p []byte) error
}

// Loader turns an executable image into mapped memory. Implementations
// live outside the core; exec treats them opaquely.
type Loader interface {
	Validate(p []byte) error
	Load(p []byte, as AddressSpace) (*Image, error)
}
