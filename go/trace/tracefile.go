// Package trace persists kernel event streams and address space
// snapshots. Trace files are a packed header followed by a snappy
// stream of fixed-size event records, cheap enough to leave on for a
// whole boot.
package trace

import (
	"io"

	"github.com/golang/snappy"
	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"

	"github.com/nuzDop/LimitlessOS-sub000/go/models"
)

var TRACE_MAGIC = "LKTR"

type TraceHeader struct {
	Magic   string `struc:"[4]byte"`
	Version uint32
}

// Writer is a models.Tracer that appends every event to a compressed
// trace file. Emit cannot return an error, so the first write failure
// sticks and Err reports it.
type Writer struct {
	w   io.WriteCloser
	zw  *snappy.Writer
	err error
	n   uint64
}

func NewWriter(w io.WriteCloser) (*Writer, error) {
	header := &TraceHeader{Magic: TRACE_MAGIC, Version: 1}
	if err := struc.Pack(w, header); err != nil {
		return nil, errors.Wrap(err, "failed to pack trace header")
	}
	return &Writer{w: w, zw: snappy.NewBufferedWriter(w)}, nil
}

func (t *Writer) Emit(ev *models.TraceEvent) {
	if t.err != nil {
		return
	}
	if err := struc.Pack(t.zw, ev); err != nil {
		t.err = errors.Wrap(err, "failed to pack trace event")
		return
	}
	t.n++
}

// Count reports events written so far.
func (t *Writer) Count() uint64 {
	return t.n
}

func (t *Writer) Err() error {
	return t.err
}

func (t *Writer) Close() error {
	if err := t.zw.Close(); err != nil {
		t.w.Close()
		return errors.Wrap(err, "trace close")
	}
	return errors.Wrap(t.w.Close(), "trace close")
}

type Reader struct {
	r      io.ReadCloser
	zr     *snappy.Reader
	Header TraceHeader
}

func NewReader(r io.ReadCloser) (*Reader, error) {
	t := &Reader{r: r}
	if err := struc.Unpack(r, &t.Header); err != nil {
		return nil, errors.Wrap(err, "failed to unpack trace header")
	}
	if t.Header.Magic != TRACE_MAGIC {
		return nil, errors.New("invalid trace file magic")
	}
	t.zr = snappy.NewReader(r)
	return t, nil
}

// Next returns the next event, io.EOF at the end of the stream.
func (t *Reader) Next() (*models.TraceEvent, error) {
	var ev models.TraceEvent
	if err := struc.Unpack(t.zr, &ev); err != nil {
		if errors.Cause(err) == io.EOF {
			return nil, io.EOF
		}
		return nil, errors.Wrap(err, "failed to unpack trace event")
	}
	return &ev, nil
}

func (t *Reader) Close() {
	t.zr.Reset(nil)
	t.r.Close()
}
