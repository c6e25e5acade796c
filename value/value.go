// Package value implements the tagged value type manipulated by the VM and
// the runtime representation of heap-backed values (objects, functions).
package value

import (
	"fmt"
	"math"
	"strconv"
)

// Value is the interface implemented by every value the interpreter can push
// onto the operand stack, store in a local, or hold in a heap object's
// property map.
type Value interface {
	// String returns the canonical printable form of the value, used by
	// string concatenation coercion and by uncaught-exception reporting.
	String() string

	// Type returns a short string naming the value's runtime type.
	Type() string
}

// Handle is a stable integer index into the heap. Handle 0 is reserved to
// mean "no object" so that Function.Env can use it as a sentinel without an
// extra layer of indirection.
type Handle uint32

// Undefined is the JavaScript-family undefined value.
type Undefined struct{}

func (Undefined) String() string { return "undefined" }
func (Undefined) Type() string   { return "undefined" }

// Null is the JavaScript-family null value.
type Null struct{}

func (Null) String() string { return "null" }
func (Null) Type() string   { return "null" }

// Boolean is a true/false value.
type Boolean bool

func (b Boolean) String() string {
	if b {
		return "true"
	}
	return "false"
}
func (Boolean) Type() string { return "boolean" }

// Number is an IEEE-754 double, matching the language's single numeric type.
type Number float64

// String formats the number using the shortest decimal representation that
// round-trips, matching JavaScript's informal Number-to-string rules closely
// enough for display and string-concatenation coercion (§4.1).
func (n Number) String() string {
	f := float64(n)
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	}
	if abs := math.Abs(f); abs >= 1e21 || abs < 1e-6 {
		return strconv.FormatFloat(f, 'e', -1, 64)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
func (Number) Type() string { return "number" }

// String is an immutable sequence of bytes.
type String string

func (s String) String() string { return string(s) }
func (String) Type() string     { return "string" }

// Object is a reference to a heap slot holding a HeapObject (a map-backed
// object, an array, or a byte stream).
type Object Handle

func (o Object) String() string { return fmt.Sprintf("Object(%d)", uint32(o)) }
func (Object) Type() string     { return "object" }

// Function is a script-defined function: a code address into the program
// buffer plus an optional handle to a captured-environment object (0 means no
// captured environment, i.e. the function was defined at the top level).
type Function struct {
	Address uint32
	Env     Handle
}

func (f Function) String() string { return fmt.Sprintf("Function(%d)", f.Address) }
func (Function) Type() string     { return "function" }

// NativeFunction is an index into the host-registered callback table.
type NativeFunction int

func (n NativeFunction) String() string { return fmt.Sprintf("NativeFunction(%d)", int(n)) }
func (NativeFunction) Type() string     { return "native-function" }

// Promise references a heap slot tracking the state of an asynchronous
// operation. It carries the same equality/printing semantics as Object.
type Promise Handle

func (p Promise) String() string { return fmt.Sprintf("Promise(%d)", uint32(p)) }
func (Promise) Type() string     { return "promise" }

// Accessor pairs a getter and setter code address, installed under the
// "getter:"/"setter:" reserved property-name prefixes (§4.3).
type Accessor struct {
	GetterAddr uint32
	SetterAddr uint32
}

func (a Accessor) String() string { return fmt.Sprintf("Accessor(%d,%d)", a.GetterAddr, a.SetterAddr) }
func (Accessor) Type() string     { return "accessor" }

var (
	_ Value = Undefined{}
	_ Value = Null{}
	_ Value = Boolean(false)
	_ Value = Number(0)
	_ Value = String("")
	_ Value = Object(0)
	_ Value = Function{}
	_ Value = NativeFunction(0)
	_ Value = Promise(0)
	_ Value = Accessor{}
)
