package vm

import (
	"context"
	"fmt"

	"github.com/kestrel-lang/kestrel/heap"
	"github.com/kestrel-lang/kestrel/value"
)

// execCall implements Call(n) (§4.4): pop n arguments in call order, pop
// the callee, and dispatch.
func (vm *VM) execCall(n int, returnAddr uint32) error {
	args := vm.popArgs(n)
	callee := vm.pop()
	return vm.invoke(callee, value.Undefined{}, args, returnAddr)
}

// execCallMethod implements method dispatch (§4.3, §4.4): pop n arguments,
// pop the receiver, and resolve name on it. Array instances short-circuit
// into callArrayMethod before falling back to ordinary property lookup, so
// that push/pop/shift/unshift/indexOf/includes/join work without a
// per-array NativeFunction stored on the heap.
func (vm *VM) execCallMethod(name string, n int, returnAddr uint32) error {
	args := vm.popArgs(n)
	receiver := vm.pop()

	if obj, ok := receiver.(value.Object); ok {
		if o, live := vm.Heap.Get(value.Handle(obj)); live && o.Kind == heap.KindArray {
			result, handled, err := vm.callArrayMethod(value.Handle(obj), name, args)
			if err != nil {
				return err
			}
			if handled {
				vm.push(result)
				vm.ip = returnAddr
				return nil
			}
		}
	}

	method, err := vm.getProp(receiver, name)
	if err != nil {
		return err
	}
	return vm.invoke(method, receiver, args, returnAddr)
}

// execConstruct implements Construct(n) (§4.4): accepts either a plain
// Function or an Object carrying a "constructor" function, in which case
// an Object "prototype" property (if any) becomes the new instance's
// __proto__. The instance is pushed before the constructor's frame runs,
// so it remains on the stack once Return fires without touching the
// stack itself.
func (vm *VM) execConstruct(n int, returnAddr uint32) error {
	args := vm.popArgs(n)
	ctorVal := vm.pop()

	var fn value.Function
	var proto value.Value = value.Undefined{}

	switch c := ctorVal.(type) {
	case value.Function:
		fn = c
	case value.Object:
		ctorProp, err := vm.getProp(c, "constructor")
		if err != nil {
			return err
		}
		f, ok := ctorProp.(value.Function)
		if !ok {
			panic("vm: Construct on an object without a constructor function")
		}
		fn = f
		if p, err := vm.getProp(c, "prototype"); err == nil {
			proto = p
		}
	default:
		panic(fmt.Sprintf("vm: Construct on non-constructible value %v", ctorVal))
	}

	instance := vm.Heap.AllocObject()
	if protoObj, ok := proto.(value.Object); ok {
		if err := vm.Heap.SetProp(instance, heap.ProtoKey, protoObj); err != nil {
			panic(err)
		}
	}
	vm.push(value.Object(instance))
	return vm.enterFunction(fn, value.Object(instance), args, returnAddr)
}

// execCallSuper implements CallSuper(n) (§4.3, §4.4): the parent
// constructor bound under "__super__", called with the current frame's
// this_context.
func (vm *VM) execCallSuper(n int, returnAddr uint32) error {
	args := vm.popArgs(n)
	superVal := vm.loadName("__super__")
	fn, ok := superVal.(value.Function)
	if !ok {
		panic("vm: CallSuper without a super constructor binding")
	}
	return vm.enterFunction(fn, vm.currentFrame().This, args, returnAddr)
}

// execReturn implements Return (§4.4): pop the current frame and resume at
// its return address, or stop the dispatch loop entirely if that address
// is the stop sentinel. Return never touches the operand stack itself;
// the callee's own body is responsible for leaving its result on top.
func (vm *VM) execReturn() (stop bool, err error) {
	if len(vm.frames) <= 1 {
		panic("vm: Return with no active call frame")
	}
	frame := vm.frames[len(vm.frames)-1]
	vm.frames = vm.frames[:len(vm.frames)-1]
	if frame.ReturnAddress == StopSentinel {
		return true, nil
	}
	vm.ip = frame.ReturnAddress
	return false, nil
}

func (vm *VM) popArgs(n int) []value.Value {
	args := make([]value.Value, n)
	for i := n - 1; i >= 0; i-- {
		args[i] = vm.pop()
	}
	return args
}

// invoke dispatches a resolved callee value. Native calls push their
// result immediately and resume at returnAddr since they never install a
// frame; script functions install one and jump into their body, to be
// resumed later by execReturn.
func (vm *VM) invoke(callee value.Value, this value.Value, args []value.Value, returnAddr uint32) error {
	switch fn := callee.(type) {
	case value.Function:
		return vm.enterFunction(fn, this, args, returnAddr)
	case value.NativeFunction:
		result, err := vm.callNative(fn, this, args)
		if err != nil {
			return err
		}
		vm.push(result)
		vm.ip = returnAddr
		return nil
	default:
		panic(fmt.Sprintf("vm: call on non-callable value %v", callee))
	}
}

func (vm *VM) callNative(fn value.NativeFunction, this value.Value, args []value.Value) (value.Value, error) {
	idx := int(fn)
	if idx < 0 || idx >= len(vm.Natives) {
		panic(fmt.Sprintf("vm: invalid native function index %d", idx))
	}
	return vm.Natives[idx](vm, this, args)
}

// enterFunction builds and installs the frame for one call to fn (§4.4
// steps 1, 3, 4, 5, 6, 7). If fn carries a captured environment, its
// key/values are flattened into the new frame's own Locals once, here;
// nothing writes them back afterward (see frame.go and invariant 5).
func (vm *VM) enterFunction(fn value.Function, this value.Value, args []value.Value, returnAddr uint32) error {
	limit := vm.MaxCallStackDepth
	if limit == 0 {
		limit = MaxCallStackDepth
	}
	if len(vm.frames) >= limit {
		return fmt.Errorf("vm: call stack exceeds max depth %d", limit)
	}
	vm.callCounts[fn.Address]++

	frame := NewFrame(returnAddr, this, fn.Env)
	if fn.Env != 0 {
		if err := vm.Heap.EachProp(fn.Env, func(name string, v value.Value) bool {
			frame.Locals[name] = v
			return true
		}); err != nil {
			return err
		}
	}
	vm.frames = append(vm.frames, frame)

	for _, a := range args {
		vm.push(a)
	}
	vm.ip = fn.Address
	return nil
}

// RunTask executes one event-loop task (§4.6 "Executing a task"): pushes
// the task's arguments, constructs a frame whose return address is the
// stop sentinel, binds any captured environment, and runs the
// interpreter until that frame returns. Native task functions are invoked
// directly with no frame at all. Tasks have an Undefined this_context,
// matching a plain top-level callback invocation.
func (vm *VM) RunTask(ctx context.Context, fn value.Value, args []value.Value) error {
	vm.ctx = ctx
	_, err := vm.callSync(fn, value.Undefined{}, args)
	return err
}

// makeClosure implements MakeClosure(addr) (§4.3, §9 "Closures without
// cycles"): snapshot the current frame's own locals into a freshly
// allocated heap Object, once, and pair it with the target code address.
// Later reassignments in this frame are not retroactively visible through
// the snapshot, matching invariant 5.
func (vm *VM) makeClosure(addr uint32) value.Value {
	handle := vm.Heap.AllocObject()
	for name, v := range vm.currentFrame().Locals {
		if err := vm.Heap.SetProp(handle, name, v); err != nil {
			panic(err)
		}
	}
	return value.Function{Address: addr, Env: handle}
}

// callSync invokes callee to completion and returns its result, used by
// property getters/setters (§4.3) which must run synchronously inside the
// GetProp/SetProp opcode rather than through the ordinary Call/Return
// dispatch cycle. A script-defined getter/setter runs a nested copy of the
// dispatch loop against a frame whose return address is the stop
// sentinel, so it unwinds back out cleanly without disturbing the
// caller's own in-flight instruction pointer.
func (vm *VM) callSync(callee value.Value, this value.Value, args []value.Value) (value.Value, error) {
	switch fn := callee.(type) {
	case value.NativeFunction:
		return vm.callNative(fn, this, args)
	case value.Function:
		savedIP := vm.ip
		if err := vm.enterFunction(fn, this, args, StopSentinel); err != nil {
			return nil, err
		}
		for {
			if vm.ctx != nil {
				if err := vm.ctx.Err(); err != nil {
					return nil, err
				}
			}
			in, next, err := vm.Program.Decode(vm.ip)
			if err != nil {
				return nil, err
			}
			halted, stopped, err := vm.dispatch(in, next)
			if err != nil {
				return nil, err
			}
			if stopped {
				break
			}
			if halted {
				vm.ip = savedIP
				return value.Undefined{}, nil
			}
		}
		var result value.Value = value.Undefined{}
		if len(vm.stack) > 0 {
			result = vm.pop()
		}
		vm.ip = savedIP
		return result, nil
	default:
		return nil, fmt.Errorf("vm: value of type %s is not callable", callee.Type())
	}
}
