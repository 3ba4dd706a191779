package sys

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/nuzDop/LimitlessOS-sub000/go/models"
)

type Syscall struct {
	Name     string
	Base     *Base
	Instance reflect.Value
	Method   reflect.Method
	In       []reflect.Type
	Out      []reflect.Type
}

// Call converts the register arguments and runs the handler. Conversion
// failures come from bad user pointers, so they surface as INVALID
// rather than taking the kernel down.
func (sys Syscall) Call(args []uint64) uint64 {
	in := make([]reflect.Value, len(sys.In)+1)
	in[0] = sys.Instance
	converted, err := sys.Base.Argjoy.Convert(sys.In, false, args)
	if err != nil {
		if sys.Base.log != nil {
			sys.Base.log.Debugf("sys: %s args: %s", sys.Name, err)
		}
		return models.Errno(models.StatusInvalid)
	}
	copy(in[1:], converted)
	out := sys.Method.Func.Call(in)
	// first return value is the register result when it fits
	uint64Type := reflect.TypeOf(uint64(0))
	if len(out) > 0 && out[0].Type().ConvertibleTo(uint64Type) {
		return out[0].Convert(uint64Type).Uint()
	}
	return 0
}

func (sys Syscall) traceArg(v interface{}) string {
	switch arg := v.(type) {
	case Obuf:
		return fmt.Sprintf("0x%x", arg.Addr)
	case Buf:
		return fmt.Sprintf("0x%x", arg.Addr)
	case Fd:
		return fmt.Sprintf("%d", int32(arg))
	case string:
		return fmt.Sprintf("%q", arg)
	default:
		return fmt.Sprintf("0x%x", arg)
	}
}

// Trace renders "name(arg, arg)" for the syscall debug log.
func (sys Syscall) Trace(args []uint64) string {
	inRef, err := sys.Base.Argjoy.Convert(sys.In, false, args)
	if err != nil {
		return fmt.Sprintf("%s(?)", sys.Name)
	}
	parts := make([]string, len(inRef))
	for i, val := range inRef {
		parts[i] = sys.traceArg(val.Interface())
	}
	return fmt.Sprintf("%s(%s)", sys.Name, strings.Join(parts, ", "))
}
