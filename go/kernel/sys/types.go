package sys

import (
	"bytes"
	"encoding/binary"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
)

// Argument types the codec recognizes. Buf is an untrusted user-space
// address; handlers that take one never fault the kernel, they return
// the error from the address space instead.
type (
	Buf struct {
		Addr uint64
		K    *Base
	}
	Obuf struct{ Buf }
	Len  uint64
	Off  int64
	Fd   int32
	Ptr  uint64
)

var strucOpts = &struc.Options{Order: binary.LittleEndian}

func NewBuf(d Dispatcher, addr uint64) Buf {
	return Buf{K: d.SysBase(), Addr: addr}
}

func (b Buf) Read(p []byte) error {
	return b.K.Proc.AS.Read(b.Addr, p)
}

func (b Buf) Write(p []byte) error {
	return b.K.Proc.AS.Write(b.Addr, p)
}

// asReader adapts the process address space to io.Reader for struc.
type asReader struct {
	b   Buf
	pos uint64
}

func (r *asReader) Read(p []byte) (int, error) {
	if err := r.b.K.Proc.AS.Read(r.b.Addr+r.pos, p); err != nil {
		return 0, err
	}
	r.pos += uint64(len(p))
	return len(p), nil
}

func (b Buf) Unpack(i interface{}) error {
	return errors.Wrap(struc.UnpackWithOptions(&asReader{b: b}, i, strucOpts), "sys: unpack")
}

func (b Obuf) Pack(i interface{}) error {
	var buf bytes.Buffer
	if err := struc.PackWithOptions(&buf, i, strucOpts); err != nil {
		return errors.Wrap(err, "sys: pack")
	}
	return b.Write(buf.Bytes())
}
