// Package stdlib registers the host-native functions spec.md §6 and its
// expansion call for: console.log, setTimeout, require, String.fromCharCode,
// ByteStream, and Promise. Register wires every native into a *vm.VM and
// its accompanying *eventloop.EventLoop, grounded directly on
// original_source's vm/stdlib_setup.rs registration list and its grouping
// of natives into namespace objects.
package stdlib

import (
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/kestrel-lang/kestrel/eventloop"
	"github.com/kestrel-lang/kestrel/value"
	"github.com/kestrel-lang/kestrel/vm"
)

// Module holds the host-side state natives close over: where console.log
// writes, which event loop schedules timers and delivers async results,
// and the logger used for Promise resolution tracing.
type Module struct {
	VM   *vm.VM
	Loop *eventloop.EventLoop

	Stdout io.Writer
	Log    zerolog.Logger

	promises *promiseRegistry
}

// Option configures a Module before its natives are wired.
type Option func(*Module)

// WithStdout overrides console.log's destination writer (default os.Stdout).
func WithStdout(w io.Writer) Option { return func(m *Module) { m.Stdout = w } }

// WithLogger overrides the zerolog.Logger used for Promise resolution
// tracing (default: disabled).
func WithLogger(log zerolog.Logger) Option { return func(m *Module) { m.Log = log } }

// Register builds every native function and namespace object this package
// provides and binds them into m's globals and module registry, following
// setup_stdlib's structure: console, setTimeout, require, and the
// String/ByteStream/Promise namespace objects become globals; fs is
// registered under the module registry, consulted by the Require opcode.
func Register(m *vm.VM, loop *eventloop.EventLoop, opts ...Option) *Module {
	mod := &Module{
		VM:       m,
		Loop:     loop,
		Stdout:   os.Stdout,
		Log:      zerolog.Nop(),
		promises: newPromiseRegistry(),
	}
	for _, opt := range opts {
		opt(mod)
	}

	mod.registerConsole()
	mod.registerTimers()
	mod.registerRequireAndFS()
	mod.registerByteStream()
	mod.registerString()
	mod.registerPromise()

	return mod
}

// namespace allocates a plain heap object and sets each entry as an own
// property, used for console/fs/ByteStream/String: flat bags of
// NativeFunction values, exactly as setup_stdlib builds them.
func (m *Module) namespace(entries map[string]value.NativeFunction) value.Object {
	handle := m.VM.Heap.AllocObject()
	for name, fn := range entries {
		if err := m.VM.Heap.SetProp(handle, name, fn); err != nil {
			panic(err)
		}
	}
	return value.Object(handle)
}

func firstArg(args []value.Value) value.Value {
	if len(args) == 0 {
		return value.Undefined{}
	}
	return args[0]
}

func argString(args []value.Value, i int) (string, bool) {
	if i < 0 || i >= len(args) {
		return "", false
	}
	s, ok := args[i].(value.String)
	return string(s), ok
}

func isCallableValue(v value.Value) (value.Value, bool) {
	switch v.(type) {
	case value.Function, value.NativeFunction:
		return v, true
	default:
		return nil, false
	}
}
