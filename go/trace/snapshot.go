package trace

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"

	"github.com/nuzDop/LimitlessOS-sub000/go/kernel/vmm"
	"github.com/nuzDop/LimitlessOS-sub000/go/models"
)

// snapshot format:
//
// file header
// uint32(snapshot format version)
// uint32(crc32 of compressed data)
// uint64(length of compressed data)
// remainder is gzip-compressed
//
// -- uncompressed data start --
// uint64(number of mapped regions)
// 1..num: uint64(start), uint64(end), uint32(prot), uint32(kind),
//         <raw memory bytes of end-start>

const snapshotVersion = 1

var snapOpts = &struc.Options{Order: binary.BigEndian}

func pack(w io.Writer, vals ...interface{}) error {
	for _, v := range vals {
		if err := struc.PackWithOptions(w, v, snapOpts); err != nil {
			return err
		}
	}
	return nil
}

func unpack(r io.Reader, vals ...interface{}) error {
	for _, v := range vals {
		if err := struc.UnpackWithOptions(r, v, snapOpts); err != nil {
			return err
		}
	}
	return nil
}

// Save serializes every user mapping of an address space, page contents
// included.
func Save(as *vmm.AddressSpace) ([]byte, error) {
	var buf bytes.Buffer
	regions := as.Regions()
	if err := pack(&buf, uint64(len(regions))); err != nil {
		return nil, errors.Wrap(err, "snapshot: pack")
	}
	for _, r := range regions {
		if err := pack(&buf, r.Start, r.End, uint32(r.Prot), uint32(r.Kind)); err != nil {
			return nil, errors.Wrap(err, "snapshot: pack")
		}
		mem := make([]byte, r.End-r.Start)
		if err := as.Read(r.Start, mem); err != nil {
			return nil, errors.Wrapf(err, "snapshot: region %s", r)
		}
		buf.Write(mem)
	}

	var tmp bytes.Buffer
	gz := gzip.NewWriter(&tmp)
	if _, err := buf.WriteTo(gz); err != nil {
		return nil, errors.Wrap(err, "snapshot: compress")
	}
	if err := gz.Close(); err != nil {
		return nil, errors.Wrap(err, "snapshot: compress")
	}
	data := tmp.Bytes()

	var final bytes.Buffer
	err := pack(&final, uint32(snapshotVersion), crc32.ChecksumIEEE(data), uint64(len(data)))
	if err != nil {
		return nil, errors.Wrap(err, "snapshot: pack header")
	}
	final.Write(data)
	return final.Bytes(), nil
}

// Restore replays a snapshot into an address space: each saved region
// is mapped and its bytes written back. The target should be fresh;
// collisions with existing mappings fail the restore partway.
func Restore(as *vmm.AddressSpace, data []byte) error {
	r := bytes.NewReader(data)
	var version, sum uint32
	var clen uint64
	if err := unpack(r, &version, &sum, &clen); err != nil {
		return errors.Wrap(err, "snapshot: header")
	}
	if version != snapshotVersion {
		return errors.Errorf("snapshot: unknown version %d", version)
	}
	body := make([]byte, clen)
	if _, err := io.ReadFull(r, body); err != nil {
		return errors.Wrap(err, "snapshot: truncated")
	}
	if crc32.ChecksumIEEE(body) != sum {
		return errors.New("snapshot: checksum mismatch")
	}
	gz, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "snapshot: decompress")
	}
	defer gz.Close()

	var count uint64
	if err := unpack(gz, &count); err != nil {
		return errors.Wrap(err, "snapshot: region count")
	}
	for i := uint64(0); i < count; i++ {
		var start, end uint64
		var prot, kind uint32
		if err := unpack(gz, &start, &end, &prot, &kind); err != nil {
			return errors.Wrap(err, "snapshot: region header")
		}
		mem := make([]byte, end-start)
		if _, err := io.ReadFull(gz, mem); err != nil {
			return errors.Wrap(err, "snapshot: region bytes")
		}
		if err := as.Map(start, end-start, int(prot), models.RegionKind(kind), "snapshot"); err != nil {
			return err
		}
		if err := as.Write(start, mem); err != nil {
			return err
		}
	}
	return nil
}
