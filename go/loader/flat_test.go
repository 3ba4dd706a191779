package loader

import (
	"bytes"
	"testing"

	"github.com/nuzDop/LimitlessOS-sub000/go/models"
)

// mapRecorder is a models.AddressSpace capturing loader activity.
type mapRecorder struct {
	maps   []*models.Region
	memory map[uint64][]byte
}

func newMapRecorder() *mapRecorder {
	return &mapRecorder{memory: make(map[uint64][]byte)}
}

func (r *mapRecorder) Map(vaddr, size uint64, prot int, kind models.RegionKind, desc string) error {
	r.maps = append(r.maps, &models.Region{Start: vaddr, End: vaddr + size, Prot: prot, Kind: kind, Desc: desc})
	r.memory[vaddr] = make([]byte, size)
	return nil
}

func (r *mapRecorder) Write(vaddr uint64, p []byte) error {
	for base, mem := range r.memory {
		if vaddr >= base && vaddr < base+uint64(len(mem)) {
			copy(mem[vaddr-base:], p)
			return nil
		}
	}
	return models.StatusNotFound
}

func TestRoundTrip(t *testing.T) {
	code := []byte{0x90, 0x90, 0xc3}
	data := []byte("hello, kernel")
	img, err := NewImage(0x401000).
		AddSegment(0x401000, models.PROT_READ|models.PROT_EXEC, code, 0).
		AddSegment(0x500000, models.PROT_READ|models.PROT_WRITE, data, 0x2000).
		Bytes()
	if err != nil {
		t.Fatal(err)
	}
	if !MatchFlat(img) {
		t.Fatal("built image does not match its own magic")
	}
	as := newMapRecorder()
	loaded, err := Load(img, as)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Entry != 0x401000 {
		t.Fatalf("entry %#x, want 0x401000", loaded.Entry)
	}
	if loaded.Base != 0x401000 {
		t.Fatalf("base %#x", loaded.Base)
	}
	// 0x500000 + 0x2000 rounded - base
	if loaded.Size != 0x500000+0x2000-0x401000 {
		t.Fatalf("size %#x", loaded.Size)
	}
	if len(as.maps) != 2 {
		t.Fatalf("mapped %d segments, want 2", len(as.maps))
	}
	if !bytes.Equal(as.memory[0x401000][:len(code)], code) {
		t.Fatal("code segment bytes differ")
	}
	if !bytes.Equal(as.memory[0x500000][:len(data)], data) {
		t.Fatal("data segment bytes differ")
	}
	// bss stays zero
	for _, b := range as.memory[0x500000][len(data):] {
		if b != 0 {
			t.Fatal("bss not zero filled")
		}
	}
	// loader always maps user-accessible
	for _, m := range as.maps {
		if m.Prot&models.PROT_USER == 0 {
			t.Fatalf("segment %s not user accessible", m)
		}
	}
}

func TestValidateRejects(t *testing.T) {
	if err := Validate([]byte("ELF?")); err == nil {
		t.Fatal("foreign magic validated")
	}
	if _, err := Load([]byte{}, newMapRecorder()); err == nil {
		t.Fatal("empty image loaded")
	}
	// unaligned segment
	img, _ := NewImage(0x1000).
		AddSegment(0x1001, models.PROT_READ, []byte{1}, 0).
		Bytes()
	if err := Validate(img); models.StatusOf(err) != models.StatusInvalid {
		t.Fatalf("unaligned segment: got %v", err)
	}
	// truncated segment data
	img, _ = NewImage(0x1000).
		AddSegment(0x1000, models.PROT_READ, []byte{1, 2, 3, 4}, 0).
		Bytes()
	if err := Validate(img[:len(img)-2]); models.StatusOf(err) != models.StatusInvalid {
		t.Fatalf("truncated image: got %v", err)
	}
	// memsz smaller than filesz
	img, _ = NewImage(0x1000).
		AddSegment(0x1000, models.PROT_READ, []byte{1, 2, 3, 4}, 2).
		Bytes()
	if err := Validate(img); models.StatusOf(err) != models.StatusInvalid {
		t.Fatalf("memsz < filesz: got %v", err)
	}
}
