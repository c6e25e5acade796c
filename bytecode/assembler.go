package bytecode

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/kestrel-lang/kestrel/value"
)

// Assemble turns a line-oriented mnemonic listing into a Program. It plays
// the same role the teacher's asm.go test helper plays for the original
// repo's VM: a human-writable notation for constructing programs without a
// real parser for the scripting language's surface syntax.
//
// Format:
//
//	constants:
//	    number 3
//	    string "hi"
//	    bool true
//	    null
//	    undefined
//	names:
//	    greet
//	code:
//	label start:
//	    push 0
//	    jump start
//	    halt
//
// Code-section operands are plain integers, except:
//   - Push takes either a numeric constant-pool index or one of the typed
//     literal forms above (auto-interned into the constant pool).
//   - Let/Store/Load/SetProp/GetProp/GetSuperProp and CallMethod's first
//     operand take either a numeric name-table index or a bare identifier
//     (auto-interned into the name table).
//   - Jump/JumpIfFalse/MakeClosure and SetupTry's two operands take either
//     a numeric address or a "label" reference, resolved once the full
//     code section has been scanned.
func Assemble(source string) (*Program, error) {
	a := &assembler{p: New(), labels: map[string]uint32{}}
	if err := a.run(source); err != nil {
		return nil, err
	}
	return a.p, nil
}

type assembler struct {
	p      *Program
	labels map[string]uint32
}

type pendingFixup struct {
	addr uint32 // address of the instruction's opcode byte
	op   OpCode
	// for two-operand ops, which operand(s) need resolving
	labelA, labelB string
}

func (a *assembler) run(source string) error {
	sc := bufio.NewScanner(strings.NewReader(source))
	section := ""
	var fixups []pendingFixup

	for sc.Scan() {
		line := stripComment(sc.Text())
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch {
		case fields[0] == "constants:":
			section = "constants"
			continue
		case fields[0] == "names:":
			section = "names"
			continue
		case fields[0] == "code:":
			section = "code"
			continue
		}

		switch section {
		case "constants":
			if err := a.constant(fields); err != nil {
				return err
			}
		case "names":
			a.p.InternName(fields[0])
		case "code":
			if strings.HasPrefix(fields[0], "label") && len(fields) >= 2 {
				name := strings.TrimSuffix(fields[1], ":")
				a.labels[name] = a.p.Len()
				continue
			}
			fx, err := a.instruction(fields)
			if err != nil {
				return err
			}
			if fx != nil {
				fixups = append(fixups, *fx)
			}
		default:
			return fmt.Errorf("bytecode: line %q outside any section", line)
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}

	return a.resolveFixups(fixups)
}

func stripComment(line string) string {
	if i := strings.Index(line, "#"); i >= 0 {
		line = line[:i]
	}
	return line
}

func (a *assembler) constant(fields []string) error {
	switch fields[0] {
	case "number":
		f, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return fmt.Errorf("bytecode: invalid number constant %q: %w", fields[1], err)
		}
		a.p.AddConstant(value.Number(f))
	case "string":
		s, err := quotedField(fields[1:])
		if err != nil {
			return err
		}
		a.p.AddConstant(value.String(s))
	case "bool":
		a.p.AddConstant(value.Boolean(fields[1] == "true"))
	case "null":
		a.p.AddConstant(value.Null{})
	case "undefined":
		a.p.AddConstant(value.Undefined{})
	default:
		return fmt.Errorf("bytecode: invalid constant kind %q", fields[0])
	}
	return nil
}

func quotedField(fields []string) (string, error) {
	joined := strings.Join(fields, " ")
	qs, err := strconv.QuotedPrefix(joined)
	if err != nil {
		return "", fmt.Errorf("bytecode: invalid quoted string %q: %w", joined, err)
	}
	return strconv.Unquote(qs)
}

// instruction assembles one code-section line. It returns a non-nil fixup
// when the instruction references a label that cannot yet be resolved.
func (a *assembler) instruction(fields []string) (*pendingFixup, error) {
	op, ok := reverseOpcodeNames[strings.ToLower(fields[0])]
	if !ok {
		return nil, fmt.Errorf("bytecode: invalid opcode %q", fields[0])
	}
	args := fields[1:]

	switch op {
	case Push:
		return a.assemblePush(args)
	case Let, Store, Load, Drop, SetProp, GetProp, GetSuperProp:
		idx, err := a.nameOperand(args, 0)
		if err != nil {
			return nil, err
		}
		a.p.Emit(Instruction{Op: op, A: idx})
		return nil, nil
	case Jump, JumpIfFalse, MakeClosure:
		return a.assembleAddressOp(op, args)
	case SetupTry:
		return a.assembleSetupTry(args)
	case CallMethod:
		nameIdx, err := a.nameOperand(args, 0)
		if err != nil {
			return nil, err
		}
		n, err := parseUint(args[1])
		if err != nil {
			return nil, err
		}
		a.p.Emit(Instruction{Op: op, A: nameIdx, B: n})
		return nil, nil
	default:
		switch op.shape() {
		case shapeNone:
			a.p.Emit(Instruction{Op: op})
		case shapeOne:
			n, err := parseUint(args[0])
			if err != nil {
				return nil, err
			}
			a.p.Emit(Instruction{Op: op, A: n})
		case shapeTwo:
			n1, err := parseUint(args[0])
			if err != nil {
				return nil, err
			}
			n2, err := parseUint(args[1])
			if err != nil {
				return nil, err
			}
			a.p.Emit(Instruction{Op: op, A: n1, B: n2})
		}
		return nil, nil
	}
}

func (a *assembler) assemblePush(args []string) (*pendingFixup, error) {
	switch args[0] {
	case "number":
		f, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return nil, err
		}
		idx := a.p.AddConstant(value.Number(f))
		a.p.Emit(Instruction{Op: Push, A: idx})
	case "string":
		s, err := quotedField(args[1:])
		if err != nil {
			return nil, err
		}
		idx := a.p.AddConstant(value.String(s))
		a.p.Emit(Instruction{Op: Push, A: idx})
	case "bool":
		idx := a.p.AddConstant(value.Boolean(args[1] == "true"))
		a.p.Emit(Instruction{Op: Push, A: idx})
	case "null":
		idx := a.p.AddConstant(value.Null{})
		a.p.Emit(Instruction{Op: Push, A: idx})
	case "undefined":
		idx := a.p.AddConstant(value.Undefined{})
		a.p.Emit(Instruction{Op: Push, A: idx})
	default:
		idx, err := parseUint(args[0])
		if err != nil {
			return nil, err
		}
		a.p.Emit(Instruction{Op: Push, A: idx})
	}
	return nil, nil
}

// assembleAddressOp and assembleSetupTry emit their instruction with every
// operand pre-widened to a fixed 5-byte varint (emitWide), so that a later
// label fixup can patch the operand in place without shifting every
// instruction after it.
func (a *assembler) assembleAddressOp(op OpCode, args []string) (*pendingFixup, error) {
	addr := a.p.Len()
	if n, err := parseUint(args[0]); err == nil {
		emitWide(a.p, Instruction{Op: op, A: n})
		return nil, nil
	}
	emitWide(a.p, Instruction{Op: op})
	return &pendingFixup{addr: addr, op: op, labelA: args[0]}, nil
}

func (a *assembler) assembleSetupTry(args []string) (*pendingFixup, error) {
	addr := a.p.Len()
	fx := pendingFixup{addr: addr, op: SetupTry}
	var resolvedA, resolvedB uint32
	aIsLabel, bIsLabel := false, false

	if n, err := parseUint(args[0]); err == nil {
		resolvedA = n
	} else {
		aIsLabel = true
		fx.labelA = args[0]
	}
	if n, err := parseUint(args[1]); err == nil {
		resolvedB = n
	} else {
		bIsLabel = true
		fx.labelB = args[1]
	}

	emitWide(a.p, Instruction{Op: SetupTry, A: resolvedA, B: resolvedB})
	if !aIsLabel && !bIsLabel {
		return nil, nil
	}
	return &fx, nil
}

func (a *assembler) nameOperand(args []string, i int) (uint32, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("bytecode: missing name operand")
	}
	field := args[i]
	if strings.HasPrefix(field, `"`) {
		s, err := quotedField(args[i:])
		if err != nil {
			return 0, err
		}
		return a.p.InternName(s), nil
	}
	if n, err := parseUint(field); err == nil {
		return n, nil
	}
	return a.p.InternName(field), nil
}

func parseUint(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(n), nil
}

// resolveFixups patches label-referencing operands once every label in the
// code section has been seen.
func (a *assembler) resolveFixups(fixups []pendingFixup) error {
	for _, fx := range fixups {
		if fx.labelA != "" {
			addr, ok := a.labels[fx.labelA]
			if !ok {
				return fmt.Errorf("bytecode: undefined label %q", fx.labelA)
			}
			patchOperandA(a.p, fx.addr, addr)
		}
		if fx.labelB != "" {
			addr, ok := a.labels[fx.labelB]
			if !ok {
				return fmt.Errorf("bytecode: undefined label %q", fx.labelB)
			}
			patchOperandB(a.p, fx.addr, addr)
		}
	}
	return nil
}

// patchOperandA/B rewrite an already-emitted instruction's operand(s) in
// place. This is only safe because emitWide always encodes address-bearing
// operands as full 5-byte varints, so the patched encoding is exactly the
// same length as the original.
func patchOperandA(p *Program, addr uint32, v uint32) {
	in, _, err := p.Decode(addr)
	if err != nil {
		panic(err)
	}
	in.A = v
	rewriteInstructionWide(p, addr, in)
}

func patchOperandB(p *Program, addr uint32, v uint32) {
	in, _, err := p.Decode(addr)
	if err != nil {
		panic(err)
	}
	in.B = v
	rewriteInstructionWide(p, addr, in)
}

func rewriteInstructionWide(p *Program, addr uint32, in Instruction) {
	encoded := encodeInstructionWideBytes(in)
	copy(p.Code[addr:addr+uint32(len(encoded))], encoded)
}

// emitWide appends in to p's code buffer, encoding every operand as a full
// 5-byte varint regardless of its value, so that label fixups can patch it
// in place afterward without disturbing later instructions.
func emitWide(p *Program, in Instruction) uint32 {
	addr := p.Len()
	p.Code = append(p.Code, encodeInstructionWideBytes(in)...)
	return addr
}

func encodeInstructionWideBytes(in Instruction) []byte {
	code := []byte{byte(in.Op)}
	switch in.Op.shape() {
	case shapeNone:
	case shapeOne:
		code = appendUvarintWide(code, in.A)
	case shapeTwo:
		code = appendUvarintWide(code, in.A)
		code = appendUvarintWide(code, in.B)
	}
	return code
}

// appendUvarintWide encodes v as exactly 5 LEB128 bytes (the maximum width
// for a 32-bit value), padding with continuation-bit-set zero bytes as
// needed. binary.Uvarint decodes this identically to a minimal encoding.
func appendUvarintWide(code []byte, v uint32) []byte {
	x := uint64(v)
	var buf [5]byte
	for i := 0; i < 4; i++ {
		buf[i] = byte(x&0x7f) | 0x80
		x >>= 7
	}
	buf[4] = byte(x & 0x7f)
	return append(code, buf[:]...)
}
