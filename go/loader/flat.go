// Package loader implements the narrow image-loading contract the
// kernel consumes: validate bytes, pour them into an address space,
// report the entry point and consumed size. The only format here is
// the flat segment format; anything else fails to match.
package loader

import (
	"bytes"
	"encoding/binary"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"

	"github.com/nuzDop/LimitlessOS-sub000/go/models"
)

var magic = [4]byte{'L', 'O', 'S', 'F'}

const version = 1

var strucOpts = &struc.Options{Order: binary.LittleEndian}

// file layout: header, seg descriptors, then each segment's file bytes
// in descriptor order
type header struct {
	Magic   [4]byte `struc:"[4]byte"`
	Version uint32  `struc:"uint32"`
	Entry   uint64  `struc:"uint64"`
	NumSegs uint32  `struc:"uint32,sizeof=Segs"`
	Segs    []segment
}

type segment struct {
	Vaddr  uint64 `struc:"uint64"`
	Filesz uint32 `struc:"uint32"`
	Memsz  uint32 `struc:"uint32"`
	Prot   uint32 `struc:"uint32"`
}

type Flat struct{}

func NewFlat() *Flat {
	return &Flat{}
}

func MatchFlat(p []byte) bool {
	return len(p) >= 4 && bytes.Equal(p[:4], magic[:])
}

func (l *Flat) parse(p []byte) (*header, []byte, error) {
	var h header
	r := bytes.NewReader(p)
	if err := struc.UnpackWithOptions(r, &h, strucOpts); err != nil {
		return nil, nil, errors.Wrap(models.StatusInvalid, "flat: truncated header")
	}
	rest := p[len(p)-r.Len():]
	return &h, rest, nil
}

func (l *Flat) Validate(p []byte) error {
	if !MatchFlat(p) {
		return errors.Wrap(models.StatusInvalid, "flat: bad magic")
	}
	h, rest, err := l.parse(p)
	if err != nil {
		return err
	}
	if h.Version != version {
		return errors.Wrapf(models.StatusNoSupport, "flat: version %d", h.Version)
	}
	if len(h.Segs) == 0 {
		return errors.Wrap(models.StatusInvalid, "flat: no segments")
	}
	var need uint64
	for _, s := range h.Segs {
		if s.Vaddr%pageSize != 0 {
			return errors.Wrapf(models.StatusInvalid, "flat: segment at 0x%x not page aligned", s.Vaddr)
		}
		if s.Memsz < s.Filesz || s.Memsz == 0 {
			return errors.Wrapf(models.StatusInvalid, "flat: segment at 0x%x bad sizes", s.Vaddr)
		}
		need += uint64(s.Filesz)
	}
	if uint64(len(rest)) < need {
		return errors.Wrap(models.StatusInvalid, "flat: truncated segment data")
	}
	return nil
}

const pageSize = 0x1000

// Load maps every segment and copies its file bytes in. Memsz beyond
// Filesz stays zero-filled (bss). Returns the entry point and the span
// the image consumed, so the caller can place the heap after it.
func (l *Flat) Load(p []byte, as models.AddressSpace) (*models.Image, error) {
	if err := l.Validate(p); err != nil {
		return nil, err
	}
	h, rest, err := l.parse(p)
	if err != nil {
		return nil, err
	}
	base := ^uint64(0)
	var top uint64
	off := uint64(0)
	for i, s := range h.Segs {
		size := (uint64(s.Memsz) + pageSize - 1) &^ uint64(pageSize-1)
		kind := models.RegionData
		if s.Prot&models.PROT_EXEC != 0 {
			kind = models.RegionCode
		}
		prot := int(s.Prot) | models.PROT_USER
		if err := as.Map(s.Vaddr, size, prot, kind, "image"); err != nil {
			return nil, errors.Wrapf(err, "flat: segment %d", i)
		}
		if s.Filesz > 0 {
			if err := as.Write(s.Vaddr, rest[off:off+uint64(s.Filesz)]); err != nil {
				return nil, errors.Wrapf(err, "flat: segment %d", i)
			}
		}
		off += uint64(s.Filesz)
		if s.Vaddr < base {
			base = s.Vaddr
		}
		if s.Vaddr+size > top {
			top = s.Vaddr + size
		}
	}
	return &models.Image{Entry: h.Entry, Base: base, Size: top - base}, nil
}
