package heap_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-lang/kestrel/heap"
	"github.com/kestrel-lang/kestrel/value"
)

func TestAllocHandlesAreStableAndNonzero(t *testing.T) {
	h := heap.New()
	a := h.AllocObject()
	b := h.AllocObject()
	assert.NotEqual(t, value.Handle(0), a)
	assert.NotEqual(t, a, b)
}

func TestPropsAndPrototypeChain(t *testing.T) {
	h := heap.New()
	base := h.AllocObject()
	require.NoError(t, h.SetProp(base, "greeting", value.String("hi")))

	derived := h.AllocObject()
	require.NoError(t, h.SetProp(derived, heap.ProtoKey, value.Object(base)))

	v, ok, err := h.GetProp(derived, "greeting")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, value.String("hi"), v)

	_, ok, err = h.GetProp(derived, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetPropNeverWritesThroughPrototype(t *testing.T) {
	h := heap.New()
	base := h.AllocObject()
	require.NoError(t, h.SetProp(base, "x", value.Number(1)))

	derived := h.AllocObject()
	require.NoError(t, h.SetProp(derived, heap.ProtoKey, value.Object(base)))
	require.NoError(t, h.SetProp(derived, "x", value.Number(2)))

	baseVal, ok, err := h.GetProp(base, "x")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, value.Number(1), baseVal)

	derivedVal, ok, err := h.GetProp(derived, "x")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, value.Number(2), derivedVal)
}

func TestPrototypeChainDepthLimit(t *testing.T) {
	h := heap.New()
	var prev value.Handle
	for i := 0; i < heap.MaxPrototypeDepth+5; i++ {
		obj := h.AllocObject()
		if prev != 0 {
			require.NoError(t, h.SetProp(obj, heap.ProtoKey, value.Object(prev)))
		}
		prev = obj
	}

	_, _, err := h.GetProp(prev, "never-there")
	require.Error(t, err)
}

func TestArrayElements(t *testing.T) {
	h := heap.New()
	arr := h.AllocArray([]value.Value{value.Number(1), value.Number(2)})

	v, err := h.GetElement(arr, 0)
	require.NoError(t, err)
	assert.Equal(t, value.Number(1), v)

	v, err = h.GetElement(arr, 5)
	require.NoError(t, err)
	assert.Equal(t, value.Undefined{}, v)

	require.NoError(t, h.SetElement(arr, 1, value.String("x")))
	v, err = h.GetElement(arr, 1)
	require.NoError(t, err)
	assert.Equal(t, value.String("x"), v)
}

func TestSetElementOutOfRangeIsNoOp(t *testing.T) {
	h := heap.New()
	arr := h.AllocArray([]value.Value{value.Number(1), value.Number(2)})

	require.NoError(t, h.SetElement(arr, 5, value.String("x")))

	v, err := h.GetElement(arr, 5)
	require.NoError(t, err)
	assert.Equal(t, value.Undefined{}, v, "out-of-range store must not grow the array")

	obj, ok := h.Get(arr)
	require.True(t, ok)
	assert.Len(t, obj.Elems, 2, "array length must be unchanged by an out-of-range store")
}

func TestByteStreamWritesAccumulateAndPatch(t *testing.T) {
	h := heap.New()
	bs := h.AllocByteStream()

	require.NoError(t, h.WriteByte(bs, 0xFF))
	require.NoError(t, h.WriteU32(bs, 0))
	require.NoError(t, h.WriteVarint(bs, 300))

	n, err := h.ByteStreamLength(bs)
	require.NoError(t, err)
	assert.Equal(t, 1+4+2, n)

	require.NoError(t, h.PatchU32(bs, 1, 0xAABBCCDD))
	bytes, err := h.ByteStreamBytes(bs)
	require.NoError(t, err)
	assert.Equal(t, byte(0xDD), bytes[1])
	assert.Equal(t, byte(0xAA), bytes[4])
}

func TestDropAffectsAllHoldersOfTheHandle(t *testing.T) {
	h := heap.New()
	obj := h.AllocObject()
	require.NoError(t, h.SetProp(obj, "k", value.Number(1)))

	aliased := obj
	h.Drop(aliased)

	_, ok := h.Get(obj)
	require.True(t, ok, "handle must remain valid after Drop")

	_, found, err := h.GetProp(aliased, "k")
	require.NoError(t, err)
	assert.False(t, found, "the alias must observe the cleared contents")
}

func TestDropOnArrayIsNoOp(t *testing.T) {
	h := heap.New()
	arr := h.AllocArray([]value.Value{value.Number(1)})

	h.Drop(arr)

	v, err := h.GetElement(arr, 0)
	require.NoError(t, err)
	assert.Equal(t, value.Number(1), v, "Drop must only clear KindObject slots")
}
