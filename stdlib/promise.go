package stdlib

import (
	"sync"

	"github.com/google/uuid"

	"github.com/kestrel-lang/kestrel/heap"
	"github.com/kestrel-lang/kestrel/value"
	"github.com/kestrel-lang/kestrel/vm"
)

// promiseState tracks where a Promise sits in its resolution lifecycle,
// mirroring original_source's settle-once semantics: a Promise moves from
// pending to fulfilled or rejected exactly once.
type promiseState int

const (
	promisePending promiseState = iota
	promiseFulfilled
	promiseRejected
)

// reaction is one then/catch registration waiting on a pending Promise:
// the handlers to invoke and the child Promise whose settlement they
// produce.
type reaction struct {
	onFulfilled value.Value
	onRejected  value.Value
	child       value.Handle
}

type promiseRecord struct {
	state     promiseState
	result    value.Value
	reactions []reaction
	id        uuid.UUID
}

// promiseRegistry is the host-side bookkeeping backing every value.Promise
// handle: which heap slot its state lives in, since a Promise's settlement
// is tracked independently of the plain property bag its then/catch methods
// are attached to.
type promiseRegistry struct {
	mu      sync.Mutex
	records map[value.Handle]*promiseRecord

	thenFn  value.NativeFunction
	catchFn value.NativeFunction
}

func newPromiseRegistry() *promiseRegistry {
	return &promiseRegistry{records: make(map[value.Handle]*promiseRecord)}
}

// registerPromise implements the Promise namespace (§6 expansion): a bare
// constructor plus resolve/reject/then/catch/all, grounded on
// stdlib_setup.rs's promise_props table. A Promise is a heap object (its
// value.Promise handle addresses the same slot a value.Object would) with
// "then" and "catch" installed as own properties so ordinary CallMethod
// dispatch finds them.
func (m *Module) registerPromise() {
	m.promises.thenFn = m.VM.RegisterNative(m.nativeThen)
	m.promises.catchFn = m.VM.RegisterNative(m.nativeCatch)

	ctorFn := m.VM.RegisterNative(func(mm *vm.VM, _ value.Value, args []value.Value) (value.Value, error) {
		handle := m.newPromise()

		executor, ok := isCallableValue(firstArg(args))
		if !ok {
			return value.Promise(handle), nil
		}
		resolveFn := m.settlerNative(handle, promiseFulfilled)
		rejectFn := m.settlerNative(handle, promiseRejected)
		if _, err := mm.Invoke(executor, value.Undefined{}, []value.Value{resolveFn, rejectFn}); err != nil {
			m.settle(handle, promiseRejected, value.String(err.Error()))
		}
		return value.Promise(handle), nil
	})

	resolveFn := m.VM.RegisterNative(func(_ *vm.VM, _ value.Value, args []value.Value) (value.Value, error) {
		handle := m.newPromise()
		m.settle(handle, promiseFulfilled, firstArg(args))
		return value.Promise(handle), nil
	})

	rejectFn := m.VM.RegisterNative(func(_ *vm.VM, _ value.Value, args []value.Value) (value.Value, error) {
		handle := m.newPromise()
		m.settle(handle, promiseRejected, firstArg(args))
		return value.Promise(handle), nil
	})

	allFn := m.VM.RegisterNative(func(mm *vm.VM, _ value.Value, args []value.Value) (value.Value, error) {
		handle := m.newPromise()
		elems, ok := m.arrayElements(mm, firstArg(args))
		if !ok {
			m.settle(handle, promiseFulfilled, value.Object(mm.Heap.AllocArray(nil)))
			return value.Promise(handle), nil
		}
		m.settleAll(handle, elems)
		return value.Promise(handle), nil
	})

	promise := m.namespace(map[string]value.NativeFunction{
		"constructor": ctorFn,
		"resolve":     resolveFn,
		"reject":      rejectFn,
		"then":        m.promises.thenFn,
		"catch":       m.promises.catchFn,
		"all":         allFn,
	})
	m.VM.DefineGlobal("Promise", promise)
}

func (m *Module) newPromise() value.Handle {
	handle := m.VM.Heap.AllocObject()
	if err := m.VM.Heap.SetProp(handle, "then", m.promises.thenFn); err != nil {
		panic(err)
	}
	if err := m.VM.Heap.SetProp(handle, "catch", m.promises.catchFn); err != nil {
		panic(err)
	}
	m.promises.mu.Lock()
	m.promises.records[handle] = &promiseRecord{state: promisePending, id: uuid.New()}
	m.promises.mu.Unlock()
	return handle
}

// settlerNative builds the resolve/reject callback passed into a Promise
// executor: calling it settles handle to state with the callback's first
// argument, exactly once.
func (m *Module) settlerNative(handle value.Handle, state promiseState) value.NativeFunction {
	return m.VM.RegisterNative(func(_ *vm.VM, _ value.Value, args []value.Value) (value.Value, error) {
		m.settle(handle, state, firstArg(args))
		return value.Undefined{}, nil
	})
}

// settle transitions handle's record from pending to state exactly once,
// then schedules every waiting reaction as an event-loop task rather than
// running it inline (§4.6: reactions run as ordinary tasks, not
// synchronously inside the settling call).
func (m *Module) settle(handle value.Handle, state promiseState, result value.Value) {
	m.promises.mu.Lock()
	rec, ok := m.promises.records[handle]
	if !ok || rec.state != promisePending {
		m.promises.mu.Unlock()
		return
	}
	rec.state = state
	rec.result = result
	reactions := rec.reactions
	rec.reactions = nil
	id := rec.id
	m.promises.mu.Unlock()

	m.Log.Debug().
		Str("promise", id.String()).
		Bool("rejected", state == promiseRejected).
		Msg("promise settled")

	for _, react := range reactions {
		m.scheduleReaction(react, state, result)
	}
}

func (m *Module) scheduleReaction(react reaction, state promiseState, result value.Value) {
	handler := react.onFulfilled
	if state == promiseRejected {
		handler = react.onRejected
	}

	runner := m.VM.RegisterNative(func(mm *vm.VM, _ value.Value, _ []value.Value) (value.Value, error) {
		callable, ok := isCallableValue(handler)
		if !ok {
			// No handler for this outcome: propagate state and result
			// unchanged to the child (§6 expansion, standard then/catch
			// chaining rule).
			m.settle(react.child, state, result)
			return value.Undefined{}, nil
		}
		out, err := mm.Invoke(callable, value.Undefined{}, []value.Value{result})
		if err != nil {
			m.settle(react.child, promiseRejected, value.String(err.Error()))
			return value.Undefined{}, nil
		}
		m.settle(react.child, promiseFulfilled, out)
		return value.Undefined{}, nil
	})
	m.Loop.PostAsync(runner, nil)
}

// nativeThen implements Promise.prototype.then(onFulfilled, onRejected),
// returning a new Promise that settles once the matching handler (or
// passthrough, if absent) runs.
func (m *Module) nativeThen(_ *vm.VM, this value.Value, args []value.Value) (value.Value, error) {
	return m.addReaction(this, firstArgAt(args, 0), firstArgAt(args, 1))
}

// nativeCatch implements Promise.prototype.catch(onRejected) as sugar for
// then(undefined, onRejected).
func (m *Module) nativeCatch(_ *vm.VM, this value.Value, args []value.Value) (value.Value, error) {
	return m.addReaction(this, value.Undefined{}, firstArg(args))
}

func (m *Module) addReaction(this value.Value, onFulfilled, onRejected value.Value) (value.Value, error) {
	child := m.newPromise()

	parent, ok := promiseHandleOf(this)
	if !ok {
		m.settle(child, promiseFulfilled, value.Undefined{})
		return value.Promise(child), nil
	}

	react := reaction{onFulfilled: onFulfilled, onRejected: onRejected, child: child}

	m.promises.mu.Lock()
	rec, found := m.promises.records[parent]
	if !found {
		m.promises.mu.Unlock()
		return value.Promise(child), nil
	}
	if rec.state == promisePending {
		rec.reactions = append(rec.reactions, react)
		m.promises.mu.Unlock()
	} else {
		state, result := rec.state, rec.result
		m.promises.mu.Unlock()
		m.scheduleReaction(react, state, result)
	}

	return value.Promise(child), nil
}

// settleAll implements Promise.all (§6 expansion): waits for every element
// promise to settle, then fulfills with an array of results in order, or
// rejects with the first rejection observed. Non-Promise elements settle
// immediately with their own value, matching the informal Promise.all
// rule that non-thenable values resolve trivially.
func (m *Module) settleAll(handle value.Handle, elems []value.Value) {
	results := make([]value.Value, len(elems))
	remaining := len(elems)
	if remaining == 0 {
		m.settle(handle, promiseFulfilled, value.Object(m.VM.Heap.AllocArray(nil)))
		return
	}

	var mu sync.Mutex
	done := false

	finishOne := func(i int, v value.Value) {
		mu.Lock()
		defer mu.Unlock()
		if done {
			return
		}
		results[i] = v
		remaining--
		if remaining == 0 {
			done = true
			m.settle(handle, promiseFulfilled, value.Object(m.VM.Heap.AllocArray(results)))
		}
	}

	failOnce := func(reason value.Value) {
		mu.Lock()
		defer mu.Unlock()
		if done {
			return
		}
		done = true
		m.settle(handle, promiseRejected, reason)
	}

	for i, elem := range elems {
		i, elem := i, elem
		parent, ok := promiseHandleOf(elem)
		if !ok {
			finishOne(i, elem)
			continue
		}

		child := m.newPromise()
		onFulfilled := m.VM.RegisterNative(func(_ *vm.VM, _ value.Value, args []value.Value) (value.Value, error) {
			finishOne(i, firstArg(args))
			return value.Undefined{}, nil
		})
		onRejected := m.VM.RegisterNative(func(_ *vm.VM, _ value.Value, args []value.Value) (value.Value, error) {
			failOnce(firstArg(args))
			return value.Undefined{}, nil
		})

		react := reaction{onFulfilled: onFulfilled, onRejected: onRejected, child: child}
		m.promises.mu.Lock()
		rec, found := m.promises.records[parent]
		if !found {
			m.promises.mu.Unlock()
			finishOne(i, value.Undefined{})
			continue
		}
		if rec.state == promisePending {
			rec.reactions = append(rec.reactions, react)
			m.promises.mu.Unlock()
		} else {
			state, result := rec.state, rec.result
			m.promises.mu.Unlock()
			m.scheduleReaction(react, state, result)
		}
	}
}

func (m *Module) arrayElements(mm *vm.VM, v value.Value) ([]value.Value, bool) {
	obj, ok := v.(value.Object)
	if !ok {
		return nil, false
	}
	o, live := mm.Heap.Get(value.Handle(obj))
	if !live || o.Kind != heap.KindArray {
		return nil, false
	}
	elems := make([]value.Value, len(o.Elems))
	copy(elems, o.Elems)
	return elems, true
}

func promiseHandleOf(v value.Value) (value.Handle, bool) {
	switch p := v.(type) {
	case value.Promise:
		return value.Handle(p), true
	case value.Object:
		return value.Handle(p), true
	default:
		return 0, false
	}
}
