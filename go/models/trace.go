package models

type TraceKind uint8

const (
	TraceSysEnter TraceKind = iota + 1
	TraceSysExit
	TraceMap
	TraceUnmap
	TraceSwitch
	TraceSend
	TraceRecv
	TraceSpawn
	TraceExit
)

var traceKindNames = []string{"?", "sys+", "sys-", "map", "unmap", "switch", "send", "recv", "spawn", "exit"}

func (k TraceKind) String() string {
	if int(k) >= len(traceKindNames) {
		return "?"
	}
	return traceKindNames[k]
}

// TraceEvent is one fixed-size record in the kernel trace stream.
// Field meaning depends on Kind; A/B/C are addresses, sizes or codes.
type TraceEvent struct {
	Kind uint8  `struc:"uint8"`
	Pid  int32  `struc:"int32"`
	Tid  int32  `struc:"int32"`
	A    uint64 `struc:"uint64"`
	B    uint64 `struc:"uint64"`
	C    uint64 `struc:"uint64"`
}

// Tracer consumes kernel events. All emission points tolerate a nil Tracer.
type Tracer interface {
	Emit(ev *TraceEvent)
}
