package loader

import (
	"bytes"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"

	"github.com/nuzDop/LimitlessOS-sub000/go/models"
)

var UnknownMagic = errors.New("could not identify image magic")

// Load matches the image format and loads it. There is one format today;
// the dispatch exists so the kernel never learns about formats at all.
func Load(p []byte, as models.AddressSpace) (*models.Image, error) {
	if MatchFlat(p) {
		return NewFlat().Load(p, as)
	}
	return nil, errors.WithStack(UnknownMagic)
}

func Validate(p []byte) error {
	if MatchFlat(p) {
		return NewFlat().Validate(p)
	}
	return errors.WithStack(UnknownMagic)
}

// Any is a models.Loader that dispatches on magic.
type Any struct{}

func New() *Any {
	return &Any{}
}

func (a *Any) Validate(p []byte) error {
	return Validate(p)
}

func (a *Any) Load(p []byte, as models.AddressSpace) (*models.Image, error) {
	return Load(p, as)
}

// ImageBuilder assembles a flat image, mainly for tests and the cli.
type ImageBuilder struct {
	entry uint64
	segs  []segment
	data  []byte
}

func NewImage(entry uint64) *ImageBuilder {
	return &ImageBuilder{entry: entry}
}

// AddSegment appends a segment; memsz 0 means len(data).
func (b *ImageBuilder) AddSegment(vaddr uint64, prot int, data []byte, memsz uint64) *ImageBuilder {
	if memsz == 0 {
		memsz = uint64(len(data))
	}
	b.segs = append(b.segs, segment{
		Vaddr:  vaddr,
		Filesz: uint32(len(data)),
		Memsz:  uint32(memsz),
		Prot:   uint32(prot),
	})
	b.data = append(b.data, data...)
	return b
}

func (b *ImageBuilder) Bytes() ([]byte, error) {
	h := &header{Magic: magic, Version: version, Entry: b.entry, Segs: b.segs}
	var buf bytes.Buffer
	if err := struc.PackWithOptions(&buf, h, strucOpts); err != nil {
		return nil, errors.Wrap(err, "flat: pack header")
	}
	buf.Write(b.data)
	return buf.Bytes(), nil
}
