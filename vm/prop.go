package vm

import (
	"fmt"

	"github.com/kestrel-lang/kestrel/heap"
	"github.com/kestrel-lang/kestrel/value"
)

// getProp implements GetProp(name) (§4.3): accessor dispatch through
// "getter:"+name on the prototype chain, falling back to a plain chain
// walk, with "length" special-cased for arrays and strings.
func (vm *VM) getProp(target value.Value, name string) (value.Value, error) {
	switch t := target.(type) {
	case value.Object:
		return vm.getObjectProp(value.Handle(t), t, name)
	case value.Promise:
		// A Promise's instance methods (then/catch, §6 expansion) live as
		// own properties on the same heap slot its handle addresses, same
		// lookup path as a plain Object.
		return vm.getObjectProp(value.Handle(t), t, name)
	case value.String:
		if name == "length" {
			return value.Number(len(t)), nil
		}
		return value.Undefined{}, nil
	default:
		return value.Undefined{}, nil
	}
}

func (vm *VM) getObjectProp(handle value.Handle, self value.Value, name string) (value.Value, error) {
	obj, ok := vm.Heap.Get(handle)
	if !ok {
		return nil, fmt.Errorf("vm: GetProp on dead or invalid handle %d", handle)
	}
	if obj.Kind == heap.KindArray && name == "length" {
		return value.Number(len(obj.Elems)), nil
	}
	if obj.Kind == heap.KindByteStream && name == "length" {
		return value.Number(len(obj.Bytes)), nil
	}
	if obj.Kind == heap.KindObject {
		getter, found, err := vm.Heap.GetProp(handle, "getter:"+name)
		if err != nil {
			return nil, err
		}
		if found {
			if fn, callable := isCallable(getter); callable {
				return vm.callSync(fn, self, nil)
			}
		}
	}
	v, found, err := vm.Heap.GetProp(handle, name)
	if err != nil {
		return nil, err
	}
	if !found {
		return value.Undefined{}, nil
	}
	return v, nil
}

// setProp implements SetProp(name) (§4.3): accessor dispatch through
// "setter:"+name on the prototype chain, falling back to writing the
// target's own property map directly.
func (vm *VM) setProp(target value.Value, name string, v value.Value) error {
	obj, ok := target.(value.Object)
	if !ok {
		return nil
	}
	handle := value.Handle(obj)

	setter, found, err := vm.Heap.GetProp(handle, "setter:"+name)
	if err != nil {
		return err
	}
	if found {
		if fn, callable := isCallable(setter); callable {
			_, err := vm.callSync(fn, target, []value.Value{v})
			return err
		}
	}
	return vm.Heap.SetProp(handle, name, v)
}

func isCallable(v value.Value) (value.Value, bool) {
	switch v.(type) {
	case value.Function, value.NativeFunction:
		return v, true
	default:
		return nil, false
	}
}

// loadElement implements LoadElement (§4.3): integer-indexed array access,
// single-byte-character string indexing, Undefined otherwise.
func (vm *VM) loadElement(target, index value.Value) (value.Value, error) {
	i := toIndex(index)
	switch t := target.(type) {
	case value.Object:
		obj, ok := vm.Heap.Get(value.Handle(t))
		if !ok {
			return nil, fmt.Errorf("vm: LoadElement on dead or invalid handle %d", value.Handle(t))
		}
		if obj.Kind != heap.KindArray {
			return value.Undefined{}, nil
		}
		return vm.Heap.GetElement(value.Handle(t), i)
	case value.String:
		if i < 0 || i >= len(t) {
			return value.Undefined{}, nil
		}
		return value.String(t[i : i+1]), nil
	default:
		return value.Undefined{}, nil
	}
}

// storeElement implements StoreElement (§4.3): array bounds-checked
// in-place write; any other target is a no-op (strings are immutable,
// everything else has no indexed storage).
func (vm *VM) storeElement(target, index, v value.Value) error {
	obj, ok := target.(value.Object)
	if !ok {
		return nil
	}
	return vm.Heap.SetElement(value.Handle(obj), toIndex(index), v)
}

func toIndex(v value.Value) int {
	if n, ok := v.(value.Number); ok {
		return int(n)
	}
	return 0
}

// getPrivateProp implements GetPrivateProp(i) (§4.3): reads field slot i
// keyed by the current frame's this_context handle. Missing storage, or a
// this_context that is not an Object, yields Undefined.
func (vm *VM) getPrivateProp(i int) (value.Value, error) {
	this, ok := vm.currentFrame().This.(value.Object)
	if !ok {
		return value.Undefined{}, nil
	}
	if i < 0 || i >= len(vm.privateFields) || vm.privateFields[i] == nil {
		return value.Undefined{}, nil
	}
	v, found := vm.privateFields[i][privateKey(this)]
	if !found {
		return value.Undefined{}, nil
	}
	return v, nil
}

// setPrivateProp implements SetPrivateProp(i) (§4.3), lazily growing the
// per-field storage array and its instance map.
func (vm *VM) setPrivateProp(i int, v value.Value) error {
	this, ok := vm.currentFrame().This.(value.Object)
	if !ok {
		return fmt.Errorf("vm: SetPrivateProp outside of an object this_context")
	}
	for i >= len(vm.privateFields) {
		vm.privateFields = append(vm.privateFields, nil)
	}
	if vm.privateFields[i] == nil {
		vm.privateFields[i] = make(map[string]value.Value)
	}
	vm.privateFields[i][privateKey(this)] = v
	return nil
}

func privateKey(handle value.Object) string {
	return fmt.Sprintf("%d", uint32(handle))
}
