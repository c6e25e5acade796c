package vm

import (
	"fmt"
	"strings"

	"github.com/kestrel-lang/kestrel/value"
)

// callArrayMethod implements the instance methods available on Array heap
// objects (§5.6 of the expanded spec), grounded on the argument and return
// conventions of the original stdlib's array method table. It returns
// handled=false for any method name it doesn't recognize, letting the
// caller fall back to ordinary property lookup.
func (vm *VM) callArrayMethod(handle value.Handle, name string, args []value.Value) (value.Value, bool, error) {
	obj, ok := vm.Heap.Get(handle)
	if !ok {
		return nil, false, fmt.Errorf("vm: method call on dead or invalid array handle %d", handle)
	}

	switch name {
	case "push":
		obj.Elems = append(obj.Elems, args...)
		return value.Number(len(obj.Elems)), true, nil

	case "pop":
		if len(obj.Elems) == 0 {
			return value.Undefined{}, true, nil
		}
		last := obj.Elems[len(obj.Elems)-1]
		obj.Elems = obj.Elems[:len(obj.Elems)-1]
		return last, true, nil

	case "shift":
		if len(obj.Elems) == 0 {
			return value.Undefined{}, true, nil
		}
		first := obj.Elems[0]
		obj.Elems = obj.Elems[1:]
		return first, true, nil

	case "unshift":
		merged := make([]value.Value, 0, len(args)+len(obj.Elems))
		merged = append(merged, args...)
		merged = append(merged, obj.Elems...)
		obj.Elems = merged
		return value.Number(len(obj.Elems)), true, nil

	case "indexOf":
		if len(args) == 0 {
			return value.Number(-1), true, nil
		}
		search := args[0]
		from := 0
		if len(args) > 1 {
			if n, ok := args[1].(value.Number); ok {
				from = int(n)
			}
		}
		if from < 0 {
			from = 0
		}
		for i := from; i < len(obj.Elems); i++ {
			if value.StrictEqual(obj.Elems[i], search) {
				return value.Number(i), true, nil
			}
		}
		return value.Number(-1), true, nil

	case "includes":
		if len(args) == 0 {
			return value.Boolean(false), true, nil
		}
		for _, e := range obj.Elems {
			if value.StrictEqual(e, args[0]) {
				return value.Boolean(true), true, nil
			}
		}
		return value.Boolean(false), true, nil

	case "join":
		sep := ","
		if len(args) > 0 {
			if s, ok := args[0].(value.String); ok {
				sep = string(s)
			}
		}
		parts := make([]string, len(obj.Elems))
		for i, e := range obj.Elems {
			parts[i] = joinElem(e)
		}
		return value.String(strings.Join(parts, sep)), true, nil

	default:
		return nil, false, nil
	}
}

// joinElem matches the original implementation's per-element stringification
// for Array.join, which is not the same as Value.String(): non-primitive
// values join as the empty string rather than a handle placeholder.
func joinElem(v value.Value) string {
	switch t := v.(type) {
	case value.String:
		return string(t)
	case value.Number:
		return t.String()
	case value.Boolean:
		return t.String()
	case value.Null:
		return "null"
	case value.Undefined:
		return "undefined"
	default:
		return ""
	}
}
