package value

import (
	"math"
	"strconv"
)

// Truthy implements §4.1's truthiness rule: false, null, undefined,
// Number(0), Number(NaN) and the empty string are falsy; everything else,
// including every Object/Function/NativeFunction/Promise/Accessor, is
// truthy.
func Truthy(v Value) bool {
	switch x := v.(type) {
	case Undefined:
		return false
	case Null:
		return false
	case Boolean:
		return bool(x)
	case Number:
		f := float64(x)
		return f != 0 && !math.IsNaN(f)
	case String:
		return len(x) > 0
	default:
		return true
	}
}

// toNumber coerces a value to Number per the informal rules used by the
// arithmetic opcodes: booleans become 0/1, strings parse as float (NaN on
// failure), null becomes 0, undefined and everything else become NaN.
func toNumber(v Value) float64 {
	switch x := v.(type) {
	case Number:
		return float64(x)
	case Boolean:
		if x {
			return 1
		}
		return 0
	case Null:
		return 0
	case String:
		return parseFloatLoose(string(x))
	default:
		return math.NaN()
	}
}

// parseFloatLoose mirrors the host language's Number(string) conversion: an
// all-whitespace (or empty) string coerces to 0; otherwise the trimmed
// string must parse as a float in full, or the result is NaN.
func parseFloatLoose(s string) float64 {
	trimmed := trimSpace(s)
	if trimmed == "" {
		return 0
	}
	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

func trimSpace(s string) string {
	i, j := 0, len(s)
	for i < j && isSpace(s[i]) {
		i++
	}
	for j > i && isSpace(s[j-1]) {
		j--
	}
	return s[i:j]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// Add implements the overloaded `+` operator (§4.1): numeric add when both
// sides are Number; string concatenation (using the canonical printable form
// of the non-string side) when either side is String; Undefined otherwise.
func Add(x, y Value) Value {
	xn, xIsNum := x.(Number)
	yn, yIsNum := y.(Number)
	if xIsNum && yIsNum {
		return xn + yn
	}
	_, xIsStr := x.(String)
	_, yIsStr := y.(String)
	if xIsStr || yIsStr {
		return String(x.String() + y.String())
	}
	return Undefined{}
}

// Sub, Mul, Div and Mod coerce both operands to Number per §4.1. Div yields
// ±Inf on division by zero; Mod yields NaN when the divisor is zero.
func Sub(x, y Value) Value { return Number(toNumber(x) - toNumber(y)) }
func Mul(x, y Value) Value { return Number(toNumber(x) * toNumber(y)) }
func Div(x, y Value) Value { return Number(toNumber(x) / toNumber(y)) }
func Mod(x, y Value) Value { return Number(math.Mod(toNumber(x), toNumber(y))) }

// Lt, Gt, LtEq, GtEq are numeric-only comparisons (§4.1): any non-numeric
// operand makes the comparison false, per spec.md's fixed Open Question
// decision (see DESIGN.md).
func Lt(x, y Value) bool   { return numericCompare(x, y, func(a, b float64) bool { return a < b }) }
func Gt(x, y Value) bool   { return numericCompare(x, y, func(a, b float64) bool { return a > b }) }
func LtEq(x, y Value) bool { return numericCompare(x, y, func(a, b float64) bool { return a <= b }) }
func GtEq(x, y Value) bool { return numericCompare(x, y, func(a, b float64) bool { return a >= b }) }

func numericCompare(x, y Value, cmp func(a, b float64) bool) bool {
	xn, xIsNum := x.(Number)
	yn, yIsNum := y.(Number)
	if !xIsNum || !yIsNum {
		return false
	}
	return cmp(float64(xn), float64(yn))
}

// StrictEqual implements the `Eq`/`Ne` opcodes' identity rule: numbers by
// IEEE-754 (NaN != NaN), strings by byte content, objects/functions by
// handle/address identity, undefined=undefined, null=null, everything else
// unequal.
func StrictEqual(x, y Value) bool {
	switch a := x.(type) {
	case Undefined:
		_, ok := y.(Undefined)
		return ok
	case Null:
		_, ok := y.(Null)
		return ok
	case Boolean:
		b, ok := y.(Boolean)
		return ok && a == b
	case Number:
		b, ok := y.(Number)
		return ok && float64(a) == float64(b)
	case String:
		b, ok := y.(String)
		return ok && a == b
	case Object:
		b, ok := y.(Object)
		return ok && a == b
	case Function:
		b, ok := y.(Function)
		return ok && a.Address == b.Address && a.Env == b.Env
	case NativeFunction:
		b, ok := y.(NativeFunction)
		return ok && a == b
	case Promise:
		b, ok := y.(Promise)
		return ok && a == b
	case Accessor:
		b, ok := y.(Accessor)
		return ok && a == b
	default:
		return false
	}
}

// LooseEqual implements the `EqEq` opcode (§4.1): strict-equal first;
// otherwise coerce across {Number,String}, {Number,Boolean}, and equate
// null<=>undefined.
func LooseEqual(x, y Value) bool {
	if StrictEqual(x, y) {
		return true
	}

	_, xNull := x.(Null)
	_, xUndef := x.(Undefined)
	_, yNull := y.(Null)
	_, yUndef := y.(Undefined)
	if (xNull || xUndef) && (yNull || yUndef) {
		return true
	}

	if _, xStr := x.(String); xStr {
		if _, yStr := y.(String); yStr {
			// Two equal strings never reach here: StrictEqual above already
			// compares them by byte content, so if both are strings and
			// execution got this far they are genuinely unequal.
			return false
		}
	}

	switch x.(type) {
	case Number, String, Boolean:
	default:
		return false
	}
	switch y.(type) {
	case Number, String, Boolean:
	default:
		return false
	}
	return toNumber(x) == toNumber(y)
}
