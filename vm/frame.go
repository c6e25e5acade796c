package vm

import "github.com/kestrel-lang/kestrel/value"

// StopSentinel is the reserved return address that ends the interpreter's
// inner dispatch loop, used when the host (the event loop) drives a single
// task's frame to completion without unwinding frames beneath it (§3,
// §4.6).
const StopSentinel = ^uint32(0)

// MaxCallStackDepth is the hard limit on simultaneous activation records
// (invariant 5); exceeding it is a fatal, non-catchable error.
const MaxCallStackDepth = 1000

// Frame is one activation record (§3). Env, when nonzero, is the handle of
// the heap Object this function's closure captured at MakeClosure time.
// It is consulted exactly once, when the frame is built (§4.4 step 6):
// enterFunction flattens every key/value of that Object into the frame's
// own Locals. From then on Load/Store see it as an ordinary local binding.
// Nothing writes back to the captured Object afterward, which is what
// invariant 5 requires: later reassignments inside the frame that captured
// a closure are not visible from calls into that closure.
type Frame struct {
	ReturnAddress uint32
	Locals        map[string]value.Value
	IndexedLocals []value.Value
	This          value.Value
	Env           value.Handle
}

// NewFrame returns a frame ready to receive a call, with this_context set
// to this (Undefined for a regular Call) and Env set to the callee's
// captured environment, if any.
func NewFrame(returnAddress uint32, this value.Value, env value.Handle) *Frame {
	return &Frame{
		ReturnAddress: returnAddress,
		Locals:        make(map[string]value.Value),
		This:          this,
		Env:           env,
	}
}

func (f *Frame) indexedLocal(i int) value.Value {
	if i < 0 || i >= len(f.IndexedLocals) {
		return value.Undefined{}
	}
	return f.IndexedLocals[i]
}

func (f *Frame) setIndexedLocal(i int, v value.Value) {
	for i >= len(f.IndexedLocals) {
		f.IndexedLocals = append(f.IndexedLocals, value.Undefined{})
	}
	f.IndexedLocals[i] = v
}
