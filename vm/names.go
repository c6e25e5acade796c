package vm

import "github.com/kestrel-lang/kestrel/value"

// thisBinding is the reserved name under which a frame's this_context is
// visible to Load, matching the common convention (not itself an opcode
// in §4.3) that a function body reads its receiver the same way it reads
// any other captured name.
const thisBinding = "this"

// loadName implements Load(name) (§4.3): search frames from innermost
// (the current call) outward to the global frame at the bottom of the
// call stack, returning the first binding found, or Undefined. "this" is
// special-cased to the current frame's this_context rather than searched
// for, since this_context is per-frame state, not a regular binding.
func (vm *VM) loadName(name string) value.Value {
	if name == thisBinding {
		return vm.currentFrame().This
	}
	for i := len(vm.frames) - 1; i >= 0; i-- {
		if v, ok := vm.frames[i].Locals[name]; ok {
			return v
		}
	}
	return value.Undefined{}
}

// dropName implements Drop(name) (§4.2, §5): removes name's binding from the
// current frame only, unlike loadName/storeName's outward search, matching
// the original's call_stack.last_mut() lookup. If the binding held an
// object, its heap contents are cleared via Heap.Drop rather than the slot
// being freed, so any other handle still aliasing it observes the same
// now-empty object.
func (vm *VM) dropName(name string) {
	locals := vm.currentFrame().Locals
	v, ok := locals[name]
	if !ok {
		return
	}
	delete(locals, name)
	if obj, ok := v.(value.Object); ok {
		vm.Heap.Drop(value.Handle(obj))
	}
}

// storeName implements Store(name) (§4.3): assign to the nearest
// enclosing binding, searching outward the same way loadName does,
// creating a new binding in the current frame only if none exists
// anywhere on the call stack.
func (vm *VM) storeName(name string, v value.Value) {
	for i := len(vm.frames) - 1; i >= 0; i-- {
		if _, ok := vm.frames[i].Locals[name]; ok {
			vm.frames[i].Locals[name] = v
			return
		}
	}
	vm.currentFrame().Locals[name] = v
}
