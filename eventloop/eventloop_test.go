package eventloop_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-lang/kestrel/bytecode"
	"github.com/kestrel-lang/kestrel/eventloop"
	"github.com/kestrel-lang/kestrel/value"
	"github.com/kestrel-lang/kestrel/vm"
)

func newLoop(t *testing.T) (*eventloop.EventLoop, *vm.VM) {
	t.Helper()
	p, err := bytecode.Assemble(`
code:
    halt
`)
	require.NoError(t, err)
	m := vm.New(p, nil)
	return eventloop.New(m), m
}

// TestTimersFireInDueOrder exercises testable property 6: timers are
// drained in due-instant order, with insertion order breaking ties.
func TestTimersFireInDueOrder(t *testing.T) {
	l, m := newLoop(t)

	var order []string
	record := func(name string) value.NativeFunction {
		return m.RegisterNative(func(_ *vm.VM, _ value.Value, _ []value.Value) (value.Value, error) {
			order = append(order, name)
			return value.Undefined{}, nil
		})
	}

	second := record("second")
	first := record("first")
	third := record("third")

	l.Schedule(second, nil, 20*time.Millisecond)
	l.Schedule(first, nil, 5*time.Millisecond)
	l.Schedule(third, nil, 20*time.Millisecond)

	require.NoError(t, l.Run(context.Background()))
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestPostAsyncRunsBeforeLoopExits(t *testing.T) {
	l, m := newLoop(t)

	ran := false
	fn := m.RegisterNative(func(_ *vm.VM, _ value.Value, _ []value.Value) (value.Value, error) {
		ran = true
		return value.Undefined{}, nil
	})
	l.PostAsync(fn, nil)

	require.NoError(t, l.Run(context.Background()))
	assert.True(t, ran)
}
