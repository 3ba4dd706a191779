package sys

import (
	"github.com/lunixbochs/argjoy"
	"github.com/pkg/errors"

	"github.com/nuzDop/LimitlessOS-sub000/go/kernel/vmm"
	"github.com/nuzDop/LimitlessOS-sub000/go/models"
)

// user strings are capped; a runaway pointer hits NOTFOUND or this limit
const maxStrLen = 4096

func (b *Base) argCodec(arg interface{}, vals []interface{}) error {
	if reg, ok := vals[0].(uint64); ok {
		switch v := arg.(type) {
		case *Buf:
			*v = Buf{K: b, Addr: reg}
		case *Obuf:
			*v = Obuf{Buf{K: b, Addr: reg}}
		case *Len:
			*v = Len(reg)
		case *Off:
			*v = Off(reg)
		case *Fd:
			*v = Fd(reg)
		case *Ptr:
			*v = Ptr(reg)
		case *string:
			s, err := b.readStr(reg)
			if err != nil {
				return err
			}
			*v = s
		default:
			return argjoy.NoMatch
		}
		return nil
	}
	return argjoy.NoMatch
}

// readStr pulls a NUL-terminated string out of the calling process's
// address space, one chunk at a time so short strings near the end of a
// mapping still read.
func (b *Base) readStr(addr uint64) (string, error) {
	if addr == 0 {
		return "", errors.Wrap(models.StatusInvalid, "sys: null string")
	}
	var out []byte
	var chunk [64]byte
	for len(out) < maxStrLen {
		n := uint64(len(chunk))
		if rem := vmm.PageSize - addr%vmm.PageSize; rem < n {
			n = rem
		}
		if err := b.Proc.AS.Read(addr, chunk[:n]); err != nil {
			return "", err
		}
		for i := uint64(0); i < n; i++ {
			if chunk[i] == 0 {
				return string(append(out, chunk[:i]...)), nil
			}
		}
		out = append(out, chunk[:n]...)
		addr += n
	}
	return "", errors.Wrap(models.StatusInvalid, "sys: unterminated string")
}
