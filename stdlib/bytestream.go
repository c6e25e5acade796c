package stdlib

import (
	"github.com/kestrel-lang/kestrel/value"
	"github.com/kestrel-lang/kestrel/vm"
)

// registerByteStream implements the ByteStream namespace (§6): binary
// assembly helpers used by anything that needs to produce a byte buffer
// from script code, grounded on stdlib_setup.rs's byte_stream_props table.
// Every function takes the stream as its first argument rather than
// binding "this", matching how the namespace methods are called as plain
// functions off the ByteStream object (ByteStream.writeU8(s, 5)).
func (m *Module) registerByteStream() {
	createFn := m.VM.RegisterNative(func(mm *vm.VM, _ value.Value, _ []value.Value) (value.Value, error) {
		return value.Object(mm.Heap.AllocByteStream()), nil
	})

	writeU8Fn := m.VM.RegisterNative(func(mm *vm.VM, _ value.Value, args []value.Value) (value.Value, error) {
		handle, n, ok := streamAndNumber(args)
		if !ok {
			return value.Undefined{}, nil
		}
		if err := mm.Heap.WriteByte(handle, byte(uint32(int64(n)))); err != nil {
			return nil, err
		}
		return value.Undefined{}, nil
	})

	writeVarintFn := m.VM.RegisterNative(func(mm *vm.VM, _ value.Value, args []value.Value) (value.Value, error) {
		handle, n, ok := streamAndNumber(args)
		if !ok {
			return value.Undefined{}, nil
		}
		if err := mm.Heap.WriteVarint(handle, uint64(int64(n))); err != nil {
			return nil, err
		}
		return value.Undefined{}, nil
	})

	writeU32Fn := m.VM.RegisterNative(func(mm *vm.VM, _ value.Value, args []value.Value) (value.Value, error) {
		handle, n, ok := streamAndNumber(args)
		if !ok {
			return value.Undefined{}, nil
		}
		if err := mm.Heap.WriteU32(handle, uint32(int64(n))); err != nil {
			return nil, err
		}
		return value.Undefined{}, nil
	})

	writeF64Fn := m.VM.RegisterNative(func(mm *vm.VM, _ value.Value, args []value.Value) (value.Value, error) {
		handle, n, ok := streamAndNumber(args)
		if !ok {
			return value.Undefined{}, nil
		}
		if err := mm.Heap.WriteF64(handle, n); err != nil {
			return nil, err
		}
		return value.Undefined{}, nil
	})

	patchU32Fn := m.VM.RegisterNative(func(mm *vm.VM, _ value.Value, args []value.Value) (value.Value, error) {
		if len(args) < 3 {
			return value.Undefined{}, nil
		}
		handle, ok := streamHandle(args[0])
		if !ok {
			return value.Undefined{}, nil
		}
		offset, ok := args[1].(value.Number)
		if !ok {
			return value.Undefined{}, nil
		}
		val, ok := args[2].(value.Number)
		if !ok {
			return value.Undefined{}, nil
		}
		if err := mm.Heap.PatchU32(handle, int(offset), uint32(int64(val))); err != nil {
			return nil, err
		}
		return value.Undefined{}, nil
	})

	lengthFn := m.VM.RegisterNative(func(mm *vm.VM, _ value.Value, args []value.Value) (value.Value, error) {
		handle, ok := streamHandle(firstArg(args))
		if !ok {
			return value.Number(0), nil
		}
		n, err := mm.Heap.ByteStreamLength(handle)
		if err != nil {
			return nil, err
		}
		return value.Number(n), nil
	})

	toArrayFn := m.VM.RegisterNative(func(mm *vm.VM, _ value.Value, args []value.Value) (value.Value, error) {
		handle, ok := streamHandle(firstArg(args))
		if !ok {
			return value.Undefined{}, nil
		}
		bytes, err := mm.Heap.ByteStreamBytes(handle)
		if err != nil {
			return nil, err
		}
		elems := make([]value.Value, len(bytes))
		for i, b := range bytes {
			elems[i] = value.Number(b)
		}
		return value.Object(mm.Heap.AllocArray(elems)), nil
	})

	byteStream := m.namespace(map[string]value.NativeFunction{
		"create":      createFn,
		"writeU8":     writeU8Fn,
		"writeVarint": writeVarintFn,
		"writeU32":    writeU32Fn,
		"writeF64":    writeF64Fn,
		"patchU32":    patchU32Fn,
		"length":      lengthFn,
		"toArray":     toArrayFn,
	})
	m.VM.DefineGlobal("ByteStream", byteStream)
}

func streamHandle(v value.Value) (value.Handle, bool) {
	obj, ok := v.(value.Object)
	return value.Handle(obj), ok
}

func streamAndNumber(args []value.Value) (value.Handle, float64, bool) {
	if len(args) < 2 {
		return 0, 0, false
	}
	handle, ok := streamHandle(args[0])
	if !ok {
		return 0, 0, false
	}
	n, ok := args[1].(value.Number)
	if !ok {
		return 0, 0, false
	}
	return handle, float64(n), true
}
