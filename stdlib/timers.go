package stdlib

import (
	"time"

	"github.com/kestrel-lang/kestrel/value"
	"github.com/kestrel-lang/kestrel/vm"
)

// registerTimers implements setTimeout(fn, delayMs, ...extraArgs) (§5
// "Timeout semantics", §6): hands the callback and any trailing arguments to
// the event loop's timer heap rather than running it inline.
func (m *Module) registerTimers() {
	fn := m.VM.RegisterNative(func(_ *vm.VM, _ value.Value, args []value.Value) (value.Value, error) {
		if len(args) == 0 {
			return value.Undefined{}, nil
		}
		callback := args[0]

		delay := time.Duration(0)
		if len(args) > 1 {
			if n, ok := args[1].(value.Number); ok && n > 0 {
				delay = time.Duration(float64(n)) * time.Millisecond
			}
		}

		var extra []value.Value
		if len(args) > 2 {
			extra = append(extra, args[2:]...)
		}

		m.Loop.Schedule(callback, extra, delay)
		return value.Undefined{}, nil
	})
	m.VM.DefineGlobal("setTimeout", fn)
}
