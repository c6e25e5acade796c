// Package vm implements the opcode dispatch loop, call machinery, and
// exception handling described in spec.md §4.3-§4.5: the stack machine
// itself, activation frames, closures, prototype-based property lookup,
// and try/catch/finally unwinding.
package vm

import (
	"context"
	"fmt"

	"github.com/kestrel-lang/kestrel/bytecode"
	"github.com/kestrel-lang/kestrel/heap"
	"github.com/kestrel-lang/kestrel/value"
)

// NativeFunc is the signature every host-registered callback implements
// (§6): it receives the VM, the bound receiver (Undefined for a plain
// call), and the ordered argument list, and returns a single value or an
// error that becomes a Go-level fatal error (not a script-catchable
// exception — natives that want to raise a script exception do so by
// returning a distinguished value and letting calling script code decide,
// per §7's native-originated error taxonomy).
type NativeFunc func(vm *VM, this value.Value, args []value.Value) (value.Value, error)

// VM owns every piece of mutable interpreter state: the operand stack, the
// call stack, the heap, the native function table, the module registry,
// the exception-handler stack, and the pending-exception slot used by
// EnterFinally's rethrow.
type VM struct {
	Program *bytecode.Program
	Heap    *heap.Heap
	Natives []NativeFunc
	Modules map[string]value.Value

	stack    []value.Value
	frames   []*Frame
	handlers []ExceptionHandler
	pending  value.Value

	// callCounts is a profiling hook keyed by function code address,
	// generalized from the original VM's function_call_counts /
	// get_hot_functions bookkeeping. Nothing in this package currently acts
	// on it; it exists so a future tiering decision has somewhere to read
	// from (tiering itself is out of scope, §9 Non-goals).
	callCounts map[uint32]int

	// privateFields backs GetPrivateProp/SetPrivateProp: a class-scoped
	// slot per declared private field, each mapping an instance handle
	// (stringified) to its value (§4.3, "Private fields").
	privateFields []map[string]value.Value

	ip  uint32
	ctx context.Context

	// MaxCallStackDepth overrides the package-level MaxCallStackDepth
	// constant when nonzero (config.Engine's knob onto enterFunction's
	// overflow check). MaxSteps, similarly, stops Run after that many
	// dispatched instructions when nonzero; both default to unlimited/the
	// package constant so existing callers that never set them are
	// unaffected.
	MaxCallStackDepth int
	MaxSteps          int
	steps             int
}

// New returns a VM ready to run program, with an empty heap and a single
// global frame at the bottom of the call stack, pre-populated with
// globals.
func New(program *bytecode.Program, globals map[string]value.Value) *VM {
	global := &Frame{
		Locals: make(map[string]value.Value, len(globals)),
		This:   value.Undefined{},
	}
	for k, v := range globals {
		global.Locals[k] = v
	}
	return &VM{
		Program:    program,
		Heap:       heap.New(),
		Modules:    make(map[string]value.Value),
		frames:     []*Frame{global},
		callCounts: make(map[uint32]int),
	}
}

// RegisterNative appends fn to the native function table and returns its
// index as a callable value.
func (vm *VM) RegisterNative(fn NativeFunc) value.NativeFunction {
	vm.Natives = append(vm.Natives, fn)
	return value.NativeFunction(len(vm.Natives) - 1)
}

// DefineGlobal binds name in the permanent global frame, overwriting any
// existing binding. Used by stdlib at setup time, after natives and their
// namespace objects have been registered and allocated, to expose
// console/setTimeout/require/String/ByteStream/Promise the way a loaded
// script would see top-level bindings (§6).
func (vm *VM) DefineGlobal(name string, v value.Value) {
	vm.frames[0].Locals[name] = v
}

func (vm *VM) push(v value.Value) { vm.stack = append(vm.stack, v) }

func (vm *VM) pop() value.Value {
	n := len(vm.stack)
	v := vm.stack[n-1]
	vm.stack = vm.stack[:n-1]
	return v
}

func (vm *VM) peek() value.Value { return vm.stack[len(vm.stack)-1] }

func (vm *VM) currentFrame() *Frame { return vm.frames[len(vm.frames)-1] }

// Invoke runs callee synchronously to completion with the given receiver
// and arguments, returning its result. It is the exported door into
// callSync for host natives (Promise executors and then/catch reactions,
// stdlib §6) that must call back into script code outside the ordinary
// Call/Return bytecode cycle.
func (vm *VM) Invoke(callee, this value.Value, args []value.Value) (value.Value, error) {
	return vm.callSync(callee, this, args)
}

// Stack exposes the operand stack for tests and diagnostics; script code
// never observes it directly except through Push/Pop/Dup/Swap.
func (vm *VM) Stack() []value.Value { return vm.stack }

// CallDepth reports the number of active call frames, including the
// permanent global frame at index 0.
func (vm *VM) CallDepth() int { return len(vm.frames) }

// IP reports the instruction pointer's current position, for §7 uncaught
// error reporting.
func (vm *VM) IP() uint32 { return vm.ip }

// FrameSummaries returns one line per active call frame (innermost last),
// the call-stack summary §7 asks an uncaught-error report to include.
func (vm *VM) FrameSummaries() []string {
	out := make([]string, len(vm.frames))
	for i, f := range vm.frames {
		out[i] = fmt.Sprintf("frame %d: this=%s locals=%d", i, f.This.String(), len(f.Locals))
	}
	return out
}

// Run advances the instruction pointer from its current position until the
// program executes Halt, falls off the end of the buffer, or a frame with
// StopSentinel as its return address is popped by Return (the mechanism
// that lets the event loop drive one task to completion, §4.6, §9).
//
// Run returns a non-nil error only for fatal conditions: call-stack
// overflow, uncaught script exceptions (§7), an exhausted MaxSteps budget,
// a cancelled context, undecodable bytecode, and heap errors such as a
// prototype chain deeper than heap.MaxPrototypeDepth. Malformed-bytecode
// contract violations (Construct on a non-callable, Return with an empty
// call stack) panic, matching the teacher's convention of reserving panic
// for compiler-contract violations rather than recoverable runtime errors.
func (vm *VM) Run(ctx context.Context) error {
	vm.ctx = ctx
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if vm.ip >= vm.Program.Len() {
			return nil
		}
		if vm.MaxSteps > 0 {
			vm.steps++
			if vm.steps > vm.MaxSteps {
				return fmt.Errorf("vm: exceeded max steps %d", vm.MaxSteps)
			}
		}

		in, next, err := vm.Program.Decode(vm.ip)
		if err != nil {
			return fmt.Errorf("vm: %w", err)
		}

		halted, stopped, err := vm.dispatch(in, next)
		if err != nil {
			return err
		}
		if halted || stopped {
			return nil
		}
	}
}

// dispatch executes one instruction. It returns halted=true for Halt,
// stopped=true when a Return pops a StopSentinel frame, and advances vm.ip
// itself in every case (so callers never manipulate ip directly).
func (vm *VM) dispatch(in bytecode.Instruction, next uint32) (halted, stopped bool, err error) {
	switch in.Op {
	case bytecode.Push:
		vm.push(vm.Program.Constants[in.A])
		vm.ip = next

	case bytecode.Pop:
		vm.pop()
		vm.ip = next

	case bytecode.Dup:
		vm.push(vm.peek())
		vm.ip = next

	case bytecode.Swap:
		n := len(vm.stack)
		vm.stack[n-1], vm.stack[n-2] = vm.stack[n-2], vm.stack[n-1]
		vm.ip = next

	case bytecode.Swap3:
		n := len(vm.stack)
		vm.stack[n-1], vm.stack[n-3] = vm.stack[n-3], vm.stack[n-1]
		vm.ip = next

	case bytecode.Let:
		name := vm.Program.Names[in.A]
		vm.currentFrame().Locals[name] = vm.pop()
		vm.ip = next

	case bytecode.Store:
		name := vm.Program.Names[in.A]
		vm.storeName(name, vm.pop())
		vm.ip = next

	case bytecode.Load:
		name := vm.Program.Names[in.A]
		vm.push(vm.loadName(name))
		vm.ip = next

	case bytecode.Drop:
		name := vm.Program.Names[in.A]
		vm.dropName(name)
		vm.ip = next

	case bytecode.StoreLocal:
		vm.currentFrame().setIndexedLocal(int(in.A), vm.pop())
		vm.ip = next

	case bytecode.LoadLocal:
		vm.push(vm.currentFrame().indexedLocal(int(in.A)))
		vm.ip = next

	case bytecode.NewObject:
		vm.push(value.Object(vm.Heap.AllocObject()))
		vm.ip = next

	case bytecode.NewObjectWithProto:
		proto := vm.pop()
		handle := vm.Heap.AllocObject()
		if protoObj, ok := proto.(value.Object); ok {
			if err := vm.Heap.SetProp(handle, heap.ProtoKey, protoObj); err != nil {
				panic(err)
			}
		}
		vm.push(value.Object(handle))
		vm.ip = next

	case bytecode.NewArray:
		elems := make([]value.Value, in.A)
		for i := range elems {
			elems[i] = value.Undefined{}
		}
		vm.push(value.Object(vm.Heap.AllocArray(elems)))
		vm.ip = next

	case bytecode.SetProp:
		name := vm.Program.Names[in.A]
		val := vm.pop()
		target := vm.pop()
		if err := vm.setProp(target, name, val); err != nil {
			return false, false, err
		}
		vm.ip = next

	case bytecode.GetProp:
		name := vm.Program.Names[in.A]
		target := vm.pop()
		result, err := vm.getProp(target, name)
		if err != nil {
			return false, false, err
		}
		vm.push(result)
		vm.ip = next

	case bytecode.LoadElement:
		index := vm.pop()
		target := vm.pop()
		result, err := vm.loadElement(target, index)
		if err != nil {
			return false, false, err
		}
		vm.push(result)
		vm.ip = next

	case bytecode.StoreElement:
		val := vm.pop()
		index := vm.pop()
		target := vm.pop()
		if err := vm.storeElement(target, index, val); err != nil {
			return false, false, err
		}
		vm.ip = next

	case bytecode.Add:
		y, x := vm.pop(), vm.pop()
		vm.push(value.Add(x, y))
		vm.ip = next
	case bytecode.Sub:
		y, x := vm.pop(), vm.pop()
		vm.push(value.Sub(x, y))
		vm.ip = next
	case bytecode.Mul:
		y, x := vm.pop(), vm.pop()
		vm.push(value.Mul(x, y))
		vm.ip = next
	case bytecode.Div:
		y, x := vm.pop(), vm.pop()
		vm.push(value.Div(x, y))
		vm.ip = next
	case bytecode.Mod:
		y, x := vm.pop(), vm.pop()
		vm.push(value.Mod(x, y))
		vm.ip = next
	case bytecode.EqEq:
		y, x := vm.pop(), vm.pop()
		vm.push(value.Boolean(value.LooseEqual(x, y)))
		vm.ip = next
	case bytecode.NeEq:
		y, x := vm.pop(), vm.pop()
		vm.push(value.Boolean(!value.LooseEqual(x, y)))
		vm.ip = next
	case bytecode.Eq:
		y, x := vm.pop(), vm.pop()
		vm.push(value.Boolean(value.StrictEqual(x, y)))
		vm.ip = next
	case bytecode.Ne:
		y, x := vm.pop(), vm.pop()
		vm.push(value.Boolean(!value.StrictEqual(x, y)))
		vm.ip = next
	case bytecode.Lt:
		y, x := vm.pop(), vm.pop()
		vm.push(value.Boolean(value.Lt(x, y)))
		vm.ip = next
	case bytecode.Gt:
		y, x := vm.pop(), vm.pop()
		vm.push(value.Boolean(value.Gt(x, y)))
		vm.ip = next
	case bytecode.LtEq:
		y, x := vm.pop(), vm.pop()
		vm.push(value.Boolean(value.LtEq(x, y)))
		vm.ip = next
	case bytecode.GtEq:
		y, x := vm.pop(), vm.pop()
		vm.push(value.Boolean(value.GtEq(x, y)))
		vm.ip = next

	case bytecode.Jump:
		vm.ip = in.A

	case bytecode.JumpIfFalse:
		cond := vm.pop()
		if !value.Truthy(cond) {
			vm.ip = in.A
		} else {
			vm.ip = next
		}

	case bytecode.Call:
		if err := vm.execCall(int(in.A), next); err != nil {
			return false, false, err
		}

	case bytecode.CallMethod:
		name := vm.Program.Names[in.A]
		if err := vm.execCallMethod(name, int(in.B), next); err != nil {
			return false, false, err
		}

	case bytecode.Construct:
		if err := vm.execConstruct(int(in.A), next); err != nil {
			return false, false, err
		}

	case bytecode.Return:
		stop, err := vm.execReturn()
		if err != nil {
			return false, false, err
		}
		if stop {
			return false, true, nil
		}

	case bytecode.SetupTry:
		vm.handlers = append(vm.handlers, ExceptionHandler{
			CatchAddr:      in.A,
			FinallyAddr:    in.B,
			StackDepth:     len(vm.stack),
			CallStackDepth: len(vm.frames),
		})
		vm.ip = next

	case bytecode.PopTry:
		vm.handlers = vm.handlers[:len(vm.handlers)-1]
		vm.ip = next

	case bytecode.Throw:
		exc := vm.pop()
		if err := vm.throw(exc); err != nil {
			return false, false, err
		}

	case bytecode.EnterFinally:
		if in.A != 0 {
			if err := vm.throw(vm.pending); err != nil {
				return false, false, err
			}
		} else {
			vm.ip = next
		}

	case bytecode.SetProto:
		proto := vm.pop()
		target := vm.pop()
		obj, ok := target.(value.Object)
		if !ok {
			panic("vm: SetProto on non-object")
		}
		if err := vm.Heap.SetProp(value.Handle(obj), heap.ProtoKey, proto); err != nil {
			panic(err)
		}
		vm.ip = next

	case bytecode.LoadSuper:
		vm.push(vm.loadName("__super__"))
		vm.ip = next

	case bytecode.CallSuper:
		if err := vm.execCallSuper(int(in.A), next); err != nil {
			return false, false, err
		}

	case bytecode.GetSuperProp:
		name := vm.Program.Names[in.A]
		super := vm.loadName("__super__")
		result, err := vm.getProp(super, name)
		if err != nil {
			return false, false, err
		}
		vm.push(result)
		vm.ip = next

	case bytecode.GetPrivateProp:
		result, err := vm.getPrivateProp(int(in.A))
		if err != nil {
			return false, false, err
		}
		vm.push(result)
		vm.ip = next

	case bytecode.SetPrivateProp:
		val := vm.pop()
		if err := vm.setPrivateProp(int(in.A), val); err != nil {
			return false, false, err
		}
		vm.ip = next

	case bytecode.Require:
		name, ok := vm.pop().(value.String)
		if !ok {
			vm.push(value.Undefined{})
		} else if mod, found := vm.Modules[string(name)]; found {
			vm.push(mod)
		} else {
			vm.push(value.Undefined{})
		}
		vm.ip = next

	case bytecode.MakeClosure:
		vm.push(vm.makeClosure(in.A))
		vm.ip = next

	case bytecode.Halt:
		return true, false, nil

	default:
		panic(fmt.Sprintf("vm: unimplemented opcode %s", in.Op))
	}

	return false, false, nil
}
