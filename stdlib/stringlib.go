package stdlib

import (
	"github.com/kestrel-lang/kestrel/value"
	"github.com/kestrel-lang/kestrel/vm"
)

// registerString implements String.fromCharCode (§6): each numeric
// argument becomes one UTF-16-range code point, joined into a single
// string.
func (m *Module) registerString() {
	fromCharCodeFn := m.VM.RegisterNative(func(_ *vm.VM, _ value.Value, args []value.Value) (value.Value, error) {
		runes := make([]rune, 0, len(args))
		for _, a := range args {
			if n, ok := a.(value.Number); ok {
				runes = append(runes, rune(int32(n)))
			}
		}
		return value.String(string(runes)), nil
	})

	str := m.namespace(map[string]value.NativeFunction{"fromCharCode": fromCharCodeFn})
	m.VM.DefineGlobal("String", str)
}
