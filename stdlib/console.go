package stdlib

import (
	"fmt"
	"strings"

	"github.com/kestrel-lang/kestrel/value"
	"github.com/kestrel-lang/kestrel/vm"
)

// registerConsole implements console.log (§6): each argument's canonical
// printable form, space-joined, one line per call.
func (m *Module) registerConsole() {
	logFn := m.VM.RegisterNative(func(_ *vm.VM, _ value.Value, args []value.Value) (value.Value, error) {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = a.String()
		}
		fmt.Fprintln(m.Stdout, strings.Join(parts, " "))
		return value.Undefined{}, nil
	})

	console := m.namespace(map[string]value.NativeFunction{"log": logFn})
	m.VM.DefineGlobal("console", console)
}
