// Package heap implements the interpreter's append-only object store: the
// map-backed objects, dense arrays, and byte streams referenced by
// value.Object and value.Promise handles (§4.2).
package heap

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/dolthub/swiss"
	"golang.org/x/exp/slices"

	"github.com/kestrel-lang/kestrel/value"
)

// Kind distinguishes the three shapes a heap slot can hold.
type Kind uint8

const (
	// KindObject is a name-keyed property bag, optionally chained to a
	// prototype object via the "__proto__" property (§4.3).
	KindObject Kind = iota
	// KindArray is a dense, ordered sequence of values.
	KindArray
	// KindByteStream is an ordered sequence of bytes, used by the ByteStream
	// native helpers for binary assembly.
	KindByteStream
)

// MaxPrototypeDepth bounds the walk performed by GetProp across __proto__
// chains, matching the original implementation's loop guard (§4.3, Design
// Notes).
const MaxPrototypeDepth = 100

// ProtoKey is the reserved property name used to link an object to its
// prototype.
const ProtoKey = "__proto__"

// Object is one heap slot. Exactly one of Props, Elems, Bytes is meaningful,
// selected by Kind. Heap.Drop clears a KindObject slot's Props in place
// without changing Live or Kind; the sentinel slot at handle 0 and any
// slot that genuinely never was allocated are the only ones with
// Live == false.
type Object struct {
	Kind  Kind
	Live  bool
	Props *swiss.Map[string, value.Value]
	Elems []value.Value
	Bytes []byte
}

// Heap is an append-only store of Objects addressed by 1-based handles;
// handle 0 is reserved to mean "no object" and is never allocated.
type Heap struct {
	slots []Object
}

// New returns an empty heap with the handle-0 sentinel slot already
// reserved.
func New() *Heap {
	return &Heap{slots: make([]Object, 1)}
}

// Len reports the number of allocated slots, including handle 0.
func (h *Heap) Len() int { return len(h.slots) }

// AllocObject allocates a new, empty property-bag object and returns its
// handle.
func (h *Heap) AllocObject() value.Handle {
	return h.alloc(Object{Kind: KindObject, Live: true, Props: swiss.NewMap[string, value.Value](4)})
}

// AllocArray allocates a new array seeded with elems (copied).
func (h *Heap) AllocArray(elems []value.Value) value.Handle {
	cp := slices.Clone(elems)
	return h.alloc(Object{Kind: KindArray, Live: true, Elems: cp})
}

// AllocByteStream allocates a new, empty byte stream.
func (h *Heap) AllocByteStream() value.Handle {
	return h.alloc(Object{Kind: KindByteStream, Live: true, Bytes: nil})
}

func (h *Heap) alloc(o Object) value.Handle {
	h.slots = append(h.slots, o)
	return value.Handle(len(h.slots) - 1)
}

// Get returns the object at handle, or false if handle is out of range or
// the sentinel (0). A dropped object is still returned: Drop only empties
// its properties.
func (h *Heap) Get(handle value.Handle) (*Object, bool) {
	if handle == 0 || int(handle) >= len(h.slots) {
		return nil, false
	}
	o := &h.slots[handle]
	if !o.Live {
		return nil, false
	}
	return o, true
}

// Drop clears the property map of the KindObject at handle in place; the
// handle remains valid and still addresses a live, empty object (§4.2). Any
// other holder of the same handle observes the clear too, since handles are
// aliases onto the same slot rather than copy-on-write references, per the
// Open Question decision recorded in DESIGN.md. Drop is a no-op for a dead
// or invalid handle, or one addressing an array or byte stream, mirroring
// the original's pattern match that only ever clears HeapData::Object.
func (h *Heap) Drop(handle value.Handle) {
	obj, ok := h.Get(handle)
	if !ok || obj.Kind != KindObject {
		return
	}
	obj.Props = swiss.NewMap[string, value.Value](4)
}

// GetProp looks up name on the object at handle, walking the __proto__
// chain up to MaxPrototypeDepth links. It reports ok=false if the property
// is not found anywhere on the chain, or err!=nil if the chain is too deep
// or handle does not reference a live object.
func (h *Heap) GetProp(handle value.Handle, name string) (v value.Value, ok bool, err error) {
	cur := handle
	for depth := 0; depth < MaxPrototypeDepth; depth++ {
		obj, live := h.Get(cur)
		if !live {
			return nil, false, fmt.Errorf("heap: GetProp on dead or invalid handle %d", cur)
		}
		if obj.Kind != KindObject {
			return nil, false, fmt.Errorf("heap: GetProp on non-object kind %d", obj.Kind)
		}
		if val, found := obj.Props.Get(name); found {
			return val, true, nil
		}
		proto, found := obj.Props.Get(ProtoKey)
		if !found {
			return nil, false, nil
		}
		protoObj, ok := proto.(value.Object)
		if !ok {
			return nil, false, nil
		}
		cur = value.Handle(protoObj)
	}
	return nil, false, fmt.Errorf("heap: prototype chain exceeds depth %d", MaxPrototypeDepth)
}

// SetProp sets name directly on the object at handle. It never walks the
// prototype chain: prototype-chain lookup is read-only (§4.3, Design
// Notes), so assignment always creates or overwrites an own property.
func (h *Heap) SetProp(handle value.Handle, name string, v value.Value) error {
	obj, ok := h.Get(handle)
	if !ok {
		return fmt.Errorf("heap: SetProp on dead or invalid handle %d", handle)
	}
	if obj.Kind != KindObject {
		return fmt.Errorf("heap: SetProp on non-object kind %d", obj.Kind)
	}
	obj.Props.Put(name, v)
	return nil
}

// EachProp iterates every own property of the object at handle, in
// unspecified order, stopping early if fn returns false. It does not walk
// the prototype chain: used by call-time closure flattening, which only
// ever needs the captured frame's own bindings (§4.4 step 6).
func (h *Heap) EachProp(handle value.Handle, fn func(name string, v value.Value) bool) error {
	obj, ok := h.Get(handle)
	if !ok {
		return fmt.Errorf("heap: EachProp on dead or invalid handle %d", handle)
	}
	if obj.Kind != KindObject {
		return fmt.Errorf("heap: EachProp on non-object kind %d", obj.Kind)
	}
	obj.Props.Iter(func(k string, v value.Value) bool {
		return fn(k, v)
	})
	return nil
}

func (h *Heap) byteStream(handle value.Handle) (*Object, error) {
	obj, ok := h.Get(handle)
	if !ok {
		return nil, fmt.Errorf("heap: byte stream op on dead or invalid handle %d", handle)
	}
	if obj.Kind != KindByteStream {
		return nil, fmt.Errorf("heap: byte stream op on non-byte-stream kind %d", obj.Kind)
	}
	return obj, nil
}

// WriteByte appends a single byte to the stream at handle.
func (h *Heap) WriteByte(handle value.Handle, b byte) error {
	obj, err := h.byteStream(handle)
	if err != nil {
		return err
	}
	obj.Bytes = append(obj.Bytes, b)
	return nil
}

// WriteVarint appends v LEB128-encoded (unsigned), matching the encoding
// bytecode.Program uses for its own operand fields.
func (h *Heap) WriteVarint(handle value.Handle, v uint64) error {
	obj, err := h.byteStream(handle)
	if err != nil {
		return err
	}
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	obj.Bytes = append(obj.Bytes, buf[:n]...)
	return nil
}

// WriteU32 appends v as 4 little-endian bytes.
func (h *Heap) WriteU32(handle value.Handle, v uint32) error {
	obj, err := h.byteStream(handle)
	if err != nil {
		return err
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	obj.Bytes = append(obj.Bytes, buf[:]...)
	return nil
}

// WriteF64 appends v as 8 little-endian bytes.
func (h *Heap) WriteF64(handle value.Handle, v float64) error {
	obj, err := h.byteStream(handle)
	if err != nil {
		return err
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
	obj.Bytes = append(obj.Bytes, buf[:]...)
	return nil
}

// PatchU32 overwrites the 4 bytes at offset with v's little-endian encoding,
// used to back-patch a length or jump target recorded earlier in the
// stream (the pattern original_source's patch_u32 exists for: an assembler
// that doesn't yet know a forward value when it first writes the slot).
func (h *Heap) PatchU32(handle value.Handle, offset int, v uint32) error {
	obj, err := h.byteStream(handle)
	if err != nil {
		return err
	}
	if offset < 0 || offset+4 > len(obj.Bytes) {
		return fmt.Errorf("heap: PatchU32 offset %d out of range for stream of length %d", offset, len(obj.Bytes))
	}
	binary.LittleEndian.PutUint32(obj.Bytes[offset:offset+4], v)
	return nil
}

// ByteStreamLength reports the number of bytes written so far.
func (h *Heap) ByteStreamLength(handle value.Handle) (int, error) {
	obj, err := h.byteStream(handle)
	if err != nil {
		return 0, err
	}
	return len(obj.Bytes), nil
}

// ByteStreamBytes returns the raw accumulated bytes (not a copy; callers
// must not retain it across further writes).
func (h *Heap) ByteStreamBytes(handle value.Handle) ([]byte, error) {
	obj, err := h.byteStream(handle)
	if err != nil {
		return nil, err
	}
	return obj.Bytes, nil
}

// GetElement returns elems[index] for the array at handle.
func (h *Heap) GetElement(handle value.Handle, index int) (value.Value, error) {
	obj, ok := h.Get(handle)
	if !ok {
		return nil, fmt.Errorf("heap: GetElement on dead or invalid handle %d", handle)
	}
	if obj.Kind != KindArray {
		return nil, fmt.Errorf("heap: GetElement on non-array kind %d", obj.Kind)
	}
	if index < 0 || index >= len(obj.Elems) {
		return value.Undefined{}, nil
	}
	return obj.Elems[index], nil
}

// SetElement writes v at index, bounds-checked against the array's current
// length exactly like GetElement: an out-of-range index is a silent no-op,
// never a growth.
func (h *Heap) SetElement(handle value.Handle, index int, v value.Value) error {
	obj, ok := h.Get(handle)
	if !ok {
		return fmt.Errorf("heap: SetElement on dead or invalid handle %d", handle)
	}
	if obj.Kind != KindArray {
		return fmt.Errorf("heap: SetElement on non-array kind %d", obj.Kind)
	}
	if index < 0 || index >= len(obj.Elems) {
		return nil
	}
	obj.Elems[index] = v
	return nil
}
