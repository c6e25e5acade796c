package value_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kestrel-lang/kestrel/value"
)

func TestNumberString(t *testing.T) {
	cases := []struct {
		n    value.Number
		want string
	}{
		{0, "0"},
		{1, "1"},
		{-1, "-1"},
		{1000000, "1000000"},
		{0.5, "0.5"},
		{value.Number(math.NaN()), "NaN"},
		{value.Number(math.Inf(1)), "Infinity"},
		{value.Number(math.Inf(-1)), "-Infinity"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.n.String())
	}
}

func TestTruthy(t *testing.T) {
	assert.False(t, value.Truthy(value.Undefined{}))
	assert.False(t, value.Truthy(value.Null{}))
	assert.False(t, value.Truthy(value.Boolean(false)))
	assert.False(t, value.Truthy(value.Number(0)))
	assert.False(t, value.Truthy(value.Number(math.NaN())))
	assert.False(t, value.Truthy(value.String("")))

	assert.True(t, value.Truthy(value.Boolean(true)))
	assert.True(t, value.Truthy(value.Number(1)))
	assert.True(t, value.Truthy(value.String("x")))
	assert.True(t, value.Truthy(value.Object(1)))
}

func TestAddOverload(t *testing.T) {
	assert.Equal(t, value.Number(3), value.Add(value.Number(1), value.Number(2)))
	assert.Equal(t, value.String("a1"), value.Add(value.String("a"), value.Number(1)))
	assert.Equal(t, value.String("1a"), value.Add(value.Number(1), value.String("a")))
	assert.Equal(t, value.Undefined{}, value.Add(value.Undefined{}, value.Boolean(true)))
}

func TestArith(t *testing.T) {
	assert.Equal(t, value.Number(2), value.Sub(value.Number(5), value.Number(3)))
	assert.Equal(t, value.Number(15), value.Mul(value.Number(5), value.Number(3)))

	div := value.Div(value.Number(1), value.Number(0)).(value.Number)
	assert.True(t, math.IsInf(float64(div), 1))

	mod := value.Mod(value.Number(5), value.Number(0)).(value.Number)
	assert.True(t, math.IsNaN(float64(mod)))
}

func TestComparisonsNumericOnly(t *testing.T) {
	assert.True(t, value.Lt(value.Number(1), value.Number(2)))
	assert.False(t, value.Lt(value.String("a"), value.String("b")))
	assert.False(t, value.Gt(value.Number(1), value.String("x")))
}

func TestStrictEqual(t *testing.T) {
	assert.True(t, value.StrictEqual(value.Number(1), value.Number(1)))
	assert.False(t, value.StrictEqual(value.Number(1), value.String("1")))
	assert.False(t, value.StrictEqual(value.Null{}, value.Undefined{}))
	assert.True(t, value.StrictEqual(value.Object(3), value.Object(3)))
	assert.False(t, value.StrictEqual(value.Object(3), value.Object(4)))

	nan := value.Number(math.NaN())
	assert.False(t, value.StrictEqual(nan, nan))
}

func TestLooseEqual(t *testing.T) {
	assert.True(t, value.LooseEqual(value.Number(1), value.String("1")))
	assert.True(t, value.LooseEqual(value.Null{}, value.Undefined{}))
	assert.True(t, value.LooseEqual(value.Boolean(true), value.Number(1)))
	assert.False(t, value.LooseEqual(value.Object(1), value.Number(1)))
}
