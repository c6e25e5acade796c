package stdlib

import (
	"os"

	"github.com/kestrel-lang/kestrel/value"
	"github.com/kestrel-lang/kestrel/vm"
)

// registerRequireAndFS implements require() and the fs module (§6),
// grounded on stdlib_setup.rs's fs_props table and its module-registry
// binding rather than a global.
func (m *Module) registerRequireAndFS() {
	readFn := m.VM.RegisterNative(func(_ *vm.VM, _ value.Value, args []value.Value) (value.Value, error) {
		path, ok := argString(args, 0)
		if !ok {
			return value.Undefined{}, nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return value.String(data), nil
	})

	writeFn := m.VM.RegisterNative(func(_ *vm.VM, _ value.Value, args []value.Value) (value.Value, error) {
		path, ok := argString(args, 0)
		if !ok {
			return value.Undefined{}, nil
		}
		data, ok := argString(args, 1)
		if !ok {
			return value.Undefined{}, nil
		}
		if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
			return nil, err
		}
		return value.Undefined{}, nil
	})

	// readFile is readFileSync's async counterpart: the read happens on its
	// own goroutine (eventloop.RunAsync), and the callback runs later as an
	// ordinary task with Node-style (err, data) arguments, rather than
	// blocking the script that called it.
	readAsyncFn := m.VM.RegisterNative(func(_ *vm.VM, _ value.Value, args []value.Value) (value.Value, error) {
		path, ok := argString(args, 0)
		if !ok {
			return value.Undefined{}, nil
		}
		callback := firstArgAt(args, 1)
		m.Loop.RunAsync(func() (value.Value, error) {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, err
			}
			return value.String(data), nil
		}, callback)
		return value.Undefined{}, nil
	})

	writeBinaryFn := m.VM.RegisterNative(func(mm *vm.VM, _ value.Value, args []value.Value) (value.Value, error) {
		path, ok := argString(args, 0)
		if !ok {
			return value.Undefined{}, nil
		}
		obj, ok := firstArgAt(args, 1).(value.Object)
		if !ok {
			return value.Undefined{}, nil
		}
		bytes, err := mm.Heap.ByteStreamBytes(value.Handle(obj))
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, bytes, 0o644); err != nil {
			return nil, err
		}
		return value.Undefined{}, nil
	})

	fs := m.namespace(map[string]value.NativeFunction{
		"readFileSync":    readFn,
		"readFile":        readAsyncFn,
		"writeFileSync":   writeFn,
		"writeBinaryFile": writeBinaryFn,
	})
	m.VM.Modules["fs"] = fs

	requireFn := m.VM.RegisterNative(func(mm *vm.VM, _ value.Value, args []value.Value) (value.Value, error) {
		name, ok := argString(args, 0)
		if !ok {
			return value.Undefined{}, nil
		}
		if mod, found := mm.Modules[name]; found {
			return mod, nil
		}
		return value.Undefined{}, nil
	})
	m.VM.DefineGlobal("require", requireFn)
}

func firstArgAt(args []value.Value, i int) value.Value {
	if i < 0 || i >= len(args) {
		return value.Undefined{}
	}
	return args[i]
}
