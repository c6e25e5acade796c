package bytecode

import (
	"encoding/binary"
	"fmt"

	"github.com/kestrel-lang/kestrel/value"
)

// Instruction is the decoded form of one bytecode instruction: an opcode
// plus up to two immediate operands, whose meaning depends on Op (a name
// index, a local-slot index, an arity, a code address, or a pair of
// addresses).
type Instruction struct {
	Op   OpCode
	A, B uint32
}

// Program is a complete, self-contained bytecode unit: a flat instruction
// stream plus the side tables it indexes into. Constants hold the literal
// values pushed by Push; Names hold the interned identifiers used by
// Let/Store/Load/SetProp/GetProp/CallMethod/GetSuperProp.
type Program struct {
	Code      []byte
	Constants []value.Value
	Names     []string
}

// New returns an empty program.
func New() *Program {
	return &Program{}
}

// Len returns the length of the code buffer, i.e. the offset at which the
// next appended instruction would land.
func (p *Program) Len() uint32 { return uint32(len(p.Code)) }

// Emit encodes and appends one instruction, returning its address.
func (p *Program) Emit(in Instruction) uint32 {
	addr := p.Len()
	p.Code = encodeInstruction(p.Code, in)
	return addr
}

// InternName returns the index of name in the Names table, appending it if
// not already present.
func (p *Program) InternName(name string) uint32 {
	for i, n := range p.Names {
		if n == name {
			return uint32(i)
		}
	}
	p.Names = append(p.Names, name)
	return uint32(len(p.Names) - 1)
}

// AddConstant appends v to the constant pool and returns its index.
func (p *Program) AddConstant(v value.Value) uint32 {
	p.Constants = append(p.Constants, v)
	return uint32(len(p.Constants) - 1)
}

// Decode reads the instruction at byte offset addr, returning the
// instruction and the offset of the following one.
func (p *Program) Decode(addr uint32) (Instruction, uint32, error) {
	return decodeInstruction(p.Code, addr)
}

func decodeInstruction(code []byte, addr uint32) (Instruction, uint32, error) {
	if int(addr) >= len(code) {
		return Instruction{}, addr, fmt.Errorf("bytecode: decode past end of code at %d", addr)
	}
	op := OpCode(code[addr])
	pos := addr + 1
	in := Instruction{Op: op}

	switch op.shape() {
	case shapeNone:
		// no operands
	case shapeOne:
		v, n, err := readUvarint(code, pos)
		if err != nil {
			return Instruction{}, addr, err
		}
		in.A = v
		pos += n
	case shapeTwo:
		v, n, err := readUvarint(code, pos)
		if err != nil {
			return Instruction{}, addr, err
		}
		in.A = v
		pos += n
		v, n, err = readUvarint(code, pos)
		if err != nil {
			return Instruction{}, addr, err
		}
		in.B = v
		pos += n
	}
	return in, pos, nil
}

func readUvarint(code []byte, pos uint32) (uint32, uint32, error) {
	v, n := binary.Uvarint(code[pos:])
	if n <= 0 {
		return 0, 0, fmt.Errorf("bytecode: invalid varint operand at %d", pos)
	}
	return uint32(v), uint32(n), nil
}

func encodeInstruction(code []byte, in Instruction) []byte {
	code = append(code, byte(in.Op))
	switch in.Op.shape() {
	case shapeNone:
	case shapeOne:
		code = appendUvarint(code, in.A)
	case shapeTwo:
		code = appendUvarint(code, in.A)
		code = appendUvarint(code, in.B)
	}
	return code
}

func appendUvarint(code []byte, v uint32) []byte {
	var buf [binary.MaxVarintLen32]byte
	n := binary.PutUvarint(buf[:], uint64(v))
	return append(code, buf[:n]...)
}

// Instructions decodes the entire code buffer into a sequence of
// instructions, alongside the address each one starts at.
func (p *Program) Instructions() ([]Instruction, []uint32, error) {
	var insns []Instruction
	var addrs []uint32
	addr := uint32(0)
	for addr < p.Len() {
		in, next, err := p.Decode(addr)
		if err != nil {
			return nil, nil, err
		}
		insns = append(insns, in)
		addrs = append(addrs, addr)
		addr = next
	}
	return insns, addrs, nil
}

// AppendProgram appends fragment's code and side tables onto p, rebasing
// every address-bearing opcode and constant by the offset at which the
// fragment's code begins (§6, testable property 4). It returns that offset.
//
// A flat "+codeOffset" on the decoded operand value is not enough: decoding
// fragment.Code and re-encoding it with encodeInstruction's minimal varint
// width can make an instruction shrink relative to the wide (5-byte) width
// the assembler originally gave every address operand (assembler.go's
// emitWide), or grow relative to a table-index operand's original width once
// nameBase/constBase is added. Either way, instruction i lands at a
// different byte offset than the one its own and later jump targets were
// computed against. So every operand this function rebases (address
// operands and table-index operands) is re-encoded at a fixed wide width
// here, making each instruction's new length a function of its opcode
// alone, not of its rebased value; that lets the old-address-to-new-address
// map below be built once, up front, and address operands resolved through
// it instead of through a flat offset.
func (p *Program) AppendProgram(fragment *Program) (uint32, error) {
	codeOffset := p.Len()
	nameBase := uint32(len(p.Names))
	constBase := uint32(len(p.Constants))

	insns, oldAddrs, err := fragment.Instructions()
	if err != nil {
		return 0, err
	}

	for i := range insns {
		rebaseTableIndex(&insns[i], nameBase, constBase)
	}

	newAddrs := make([]uint32, len(insns))
	addr := codeOffset
	for i, in := range insns {
		newAddrs[i] = addr
		addr += instructionWidth(in)
	}
	oldToNew := make(map[uint32]uint32, len(oldAddrs)+1)
	for i, old := range oldAddrs {
		oldToNew[old] = newAddrs[i]
	}
	// A label placed after the fragment's last instruction (a bare
	// jump-to-end target) resolves to fragment.Len(), which is not the
	// start of any decoded instruction; map it to the combined buffer's
	// corresponding end-of-fragment offset too.
	oldToNew[fragment.Len()] = addr

	// A Function constant's Address is a code address inside this same
	// fragment (pushed as a bare function reference rather than built by
	// MakeClosure), so it is resolved through the same map, not a flat
	// codeOffset, for the same reason jump targets are below.
	for _, c := range fragment.Constants {
		p.Constants = append(p.Constants, rebaseConstantViaMap(c, oldToNew))
	}
	p.Names = append(p.Names, fragment.Names...)

	for _, in := range insns {
		rebaseOperandsViaMap(&in, oldToNew)
		p.Code = encodeInstructionRebased(p.Code, in)
	}

	return codeOffset, nil
}

// instructionWidth reports the byte length encodeInstructionRebased will
// give in, without needing its final (rebased) operand values: address and
// table-index operand fields are always written wide (5 bytes), so their
// width never depends on the shifted value.
func instructionWidth(in Instruction) uint32 {
	width := uint32(1)
	switch in.Op.shape() {
	case shapeOne:
		width += operandWidth(in.Op, false, in.A)
	case shapeTwo:
		width += operandWidth(in.Op, false, in.A)
		width += operandWidth(in.Op, true, in.B)
	}
	return width
}

func operandWidth(op OpCode, isB bool, v uint32) uint32 {
	if rebasesOperand(op, isB) {
		return 5
	}
	var buf [binary.MaxVarintLen32]byte
	return uint32(binary.PutUvarint(buf[:], uint64(v)))
}

func rebasesOperand(op OpCode, isB bool) bool {
	if isB {
		return addressOperandB[op]
	}
	return addressOperandA[op] || tableIndexOperandA[op]
}

// encodeInstructionRebased mirrors encodeInstruction, except any operand
// rebasesOperand reports true for is written as a fixed 5-byte varint
// (appendUvarintWide), matching instructionWidth's accounting.
func encodeInstructionRebased(code []byte, in Instruction) []byte {
	code = append(code, byte(in.Op))
	switch in.Op.shape() {
	case shapeNone:
	case shapeOne:
		code = appendOperand(code, in.Op, false, in.A)
	case shapeTwo:
		code = appendOperand(code, in.Op, false, in.A)
		code = appendOperand(code, in.Op, true, in.B)
	}
	return code
}

func appendOperand(code []byte, op OpCode, isB bool, v uint32) []byte {
	if rebasesOperand(op, isB) {
		return appendUvarintWide(code, v)
	}
	return appendUvarint(code, v)
}

// rebaseConstantViaMap resolves a Function constant's Address field (a code
// address inside the fragment being appended, nonzero fields only, per §6)
// through oldToNew rather than a flat offset, for the same compaction
// reason AppendProgram's doc comment gives for jump targets. Env is left
// untouched since it addresses the heap, not the code buffer, and heap
// handles are not meaningful at append-time.
func rebaseConstantViaMap(c value.Value, oldToNew map[uint32]uint32) value.Value {
	if fn, ok := c.(value.Function); ok {
		if fn.Address != 0 {
			fn.Address = oldToNew[fn.Address]
		}
		return fn
	}
	return c
}

// rebaseOperandsViaMap resolves the address-bearing operand(s) of in
// through oldToNew, preserving zero fields as "absent" exactly as spec.md
// §6 requires for Jump, JumpIfFalse, MakeClosure and SetupTry's
// catch/finally pair. oldToNew maps every instruction's original
// within-fragment byte offset to its new offset in the combined program
// (built by AppendProgram before any instruction is re-encoded), so a
// target is resolved correctly regardless of how the fragment's layout
// compacted or expanded during re-encoding.
func rebaseOperandsViaMap(in *Instruction, oldToNew map[uint32]uint32) {
	if addressOperandA[in.Op] && in.A != 0 {
		in.A = oldToNew[in.A]
	}
	if addressOperandB[in.Op] && in.B != 0 {
		in.B = oldToNew[in.B]
	}
}

// rebaseTableIndex adjusts name-table and constant-table indices (which are
// not addresses but still must be shifted so they keep referring to the
// same logical entry after the side tables are concatenated).
func rebaseTableIndex(in *Instruction, nameBase, constBase uint32) {
	switch in.Op {
	case Push:
		in.A += constBase
	case Let, Store, Load, Drop, SetProp, GetProp, GetSuperProp:
		in.A += nameBase
	case CallMethod:
		in.A += nameBase
	}
}
