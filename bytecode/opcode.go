// Package bytecode implements the instruction encoding consumed by the vm
// package: the OpCode enum, the Program buffer with its side tables, the
// append-and-rebase contract (§6), and a line-oriented text assembler used
// by tests and by the cmd/kestrel driver (which assembles its program
// argument) in lieu of a real surface-syntax compiler (out of scope per §1).
package bytecode

import "fmt"

// OpCode identifies one interpreter instruction (§4.3-§4.5).
type OpCode uint8

const ( //nolint:revive
	// stack management
	Push OpCode = iota
	Pop
	Dup
	Swap
	Swap3

	// names and locals
	Let
	Store
	Load
	Drop
	StoreLocal
	LoadLocal

	// object/array construction
	NewObject
	NewObjectWithProto
	NewArray

	// property and element access
	SetProp
	GetProp
	LoadElement
	StoreElement

	// arithmetic and comparison
	Add
	Sub
	Mul
	Div
	Mod
	EqEq
	NeEq
	Eq
	Ne
	Lt
	Gt
	LtEq
	GtEq

	// branching
	Jump
	JumpIfFalse

	// calls and returns
	Call
	CallMethod
	Construct
	Return

	// exception control
	SetupTry
	PopTry
	Throw
	EnterFinally

	// class and prototype sugar
	SetProto
	LoadSuper
	CallSuper
	GetSuperProp

	// private fields
	GetPrivateProp
	SetPrivateProp

	// module sugar
	Require

	// closure creation
	MakeClosure

	Halt

	opcodeCount
)

// operandShape describes how many immediate operands an opcode carries.
type operandShape uint8

const (
	shapeNone operandShape = iota
	shapeOne
	shapeTwo
)

var opcodeNames = [opcodeCount]string{
	Push:               "push",
	Pop:                "pop",
	Dup:                "dup",
	Swap:               "swap",
	Swap3:              "swap3",
	Let:                "let",
	Store:              "store",
	Load:               "load",
	Drop:               "drop",
	StoreLocal:         "storelocal",
	LoadLocal:          "loadlocal",
	NewObject:          "newobject",
	NewObjectWithProto: "newobjectwithproto",
	NewArray:           "newarray",
	SetProp:            "setprop",
	GetProp:            "getprop",
	LoadElement:        "loadelement",
	StoreElement:       "storeelement",
	Add:                "add",
	Sub:                "sub",
	Mul:                "mul",
	Div:                "div",
	Mod:                "mod",
	EqEq:               "eqeq",
	NeEq:               "neeq",
	Eq:                 "eq",
	Ne:                 "ne",
	Lt:                 "lt",
	Gt:                 "gt",
	LtEq:               "lteq",
	GtEq:               "gteq",
	Jump:               "jump",
	JumpIfFalse:        "jumpiffalse",
	Call:               "call",
	CallMethod:         "callmethod",
	Construct:          "construct",
	Return:             "return",
	SetupTry:           "setuptry",
	PopTry:             "poptry",
	Throw:              "throw",
	EnterFinally:       "enterfinally",
	SetProto:           "setproto",
	LoadSuper:          "loadsuper",
	CallSuper:          "callsuper",
	GetSuperProp:       "getsuperprop",
	GetPrivateProp:     "getprivateprop",
	SetPrivateProp:     "setprivateprop",
	Require:            "require",
	MakeClosure:        "makeclosure",
	Halt:               "halt",
}

var reverseOpcodeNames = func() map[string]OpCode {
	m := make(map[string]OpCode, opcodeCount)
	for op, name := range opcodeNames {
		if name != "" {
			m[name] = OpCode(op)
		}
	}
	return m
}()

// opcodeShapes records the operand arity of each opcode. Two-operand
// opcodes are CallMethod{nameIdx, arity} and SetupTry{catchAddr,
// finallyAddr}; everything else carries zero or one immediate.
var opcodeShapes = [opcodeCount]operandShape{
	Push:               shapeOne,
	Let:                shapeOne,
	Store:              shapeOne,
	Load:               shapeOne,
	Drop:               shapeOne,
	StoreLocal:         shapeOne,
	LoadLocal:          shapeOne,
	NewArray:           shapeOne,
	SetProp:            shapeOne,
	GetProp:            shapeOne,
	Jump:               shapeOne,
	JumpIfFalse:        shapeOne,
	Call:               shapeOne,
	Construct:          shapeOne,
	EnterFinally:       shapeOne,
	CallSuper:          shapeOne,
	GetSuperProp:       shapeOne,
	GetPrivateProp:     shapeOne,
	SetPrivateProp:     shapeOne,
	MakeClosure:        shapeOne,
	CallMethod:         shapeTwo,
	SetupTry:           shapeTwo,
}

// addressOperands records, per opcode, whether operand A and/or operand B
// is address-like and must be rebased by AppendProgram's offset (§6):
// Jump, JumpIfFalse, MakeClosure, and SetupTry's catch/finally pair. A
// nonzero value is shifted; zero is preserved as "absent" exactly as
// spec.md §6 states for every one of these fields, including jump targets.
var addressOperandA = map[OpCode]bool{
	Jump:        true,
	JumpIfFalse: true,
	MakeClosure: true,
	SetupTry:    true,
}

var addressOperandB = map[OpCode]bool{
	SetupTry: true,
}

// tableIndexOperandA records which opcodes carry a name- or constant-table
// index in operand A, mirroring rebaseTableIndex's switch in program.go: these
// shift by a base offset when a fragment's side tables are concatenated
// onto another program's (AppendProgram), the same way an address operand
// shifts by a code offset, so they need the same fixed-width re-encoding to
// keep later byte offsets from drifting.
var tableIndexOperandA = map[OpCode]bool{
	Push:         true,
	Let:          true,
	Store:        true,
	Load:         true,
	Drop:         true,
	SetProp:      true,
	GetProp:      true,
	GetSuperProp: true,
	CallMethod:   true,
}

func (op OpCode) String() string {
	if int(op) < len(opcodeNames) && opcodeNames[op] != "" {
		return opcodeNames[op]
	}
	return fmt.Sprintf("illegal opcode (%d)", op)
}

func (op OpCode) shape() operandShape {
	if int(op) < len(opcodeShapes) {
		return opcodeShapes[op]
	}
	return shapeNone
}
