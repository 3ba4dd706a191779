package models

import (
	"github.com/pkg/errors"
)

// Status is the synchronous result kind returned by every kernel operation.
// The zero value is success; everything else satisfies the error interface.
type Status int

const (
	StatusOK        Status = iota
	StatusInvalid          // bad argument, null, out-of-range id
	StatusNoMem            // pages or table slots exhausted
	StatusNotFound         // unknown pid/fd/endpoint/mapping
	StatusExists           // duplicate init
	StatusBusy             // non-blocking queue contention
	StatusTimeout          // poll found nothing
	StatusDenied           // permission failure
	StatusNoSupport        // recognized but unimplemented
	StatusError            // internal catch-all
)

var statusNames = []string{
	"ok",
	"invalid argument",
	"out of memory",
	"not found",
	"already exists",
	"busy",
	"timed out",
	"permission denied",
	"not supported",
	"internal error",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "bad status"
	}
	return statusNames[s]
}

func (s Status) Error() string {
	return s.String()
}

// StatusOf unwraps err to its underlying Status. Wrapped non-Status errors
// collapse to StatusError.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	if s, ok := errors.Cause(err).(Status); ok {
		return s
	}
	return StatusError
}

// Errno encodes an error for the uint64 register calling convention:
// zero on success, two's complement negative status otherwise.
func Errno(err error) uint64 {
	return uint64(-int64(StatusOf(err)))
}

// StatusFromErrno is the inverse of Errno.
func StatusFromErrno(ret uint64) Status {
	n := -int64(ret)
	if n < 0 || int(n) >= len(statusNames) {
		return StatusError
	}
	return Status(n)
}
