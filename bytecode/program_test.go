package bytecode_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-lang/kestrel/bytecode"
	"github.com/kestrel-lang/kestrel/value"
	"github.com/kestrel-lang/kestrel/vm"
)

func TestEmitDecodeRoundTrip(t *testing.T) {
	p := bytecode.New()
	idx := p.AddConstant(value.Number(42))
	p.Emit(bytecode.Instruction{Op: bytecode.Push, A: idx})
	p.Emit(bytecode.Instruction{Op: bytecode.Pop})

	insns, _, err := p.Instructions()
	require.NoError(t, err)
	require.Len(t, insns, 2)
	assert.Equal(t, bytecode.Push, insns[0].Op)
	assert.Equal(t, idx, insns[0].A)
	assert.Equal(t, bytecode.Pop, insns[1].Op)
}

// TestAppendProgramRebasesJumpTargets exercises testable property 4: a
// Jump within the appended fragment is shifted by the offset it lands at,
// while a zero address (used here by SetupTry's absent finally) stays zero.
func TestAppendProgramRebasesJumpTargets(t *testing.T) {
	target := bytecode.New()
	target.Emit(bytecode.Instruction{Op: bytecode.Halt}) // occupies address 0

	fragment := bytecode.New()
	fragment.Emit(bytecode.Instruction{Op: bytecode.Jump, A: 5})
	fragment.Emit(bytecode.Instruction{Op: bytecode.SetupTry, A: 3, B: 0})

	offset, err := target.AppendProgram(fragment)
	require.NoError(t, err)
	assert.Equal(t, target.Len()-uint32(len(fragment.Code)), offset)

	insns, _, err := target.Instructions()
	require.NoError(t, err)
	require.Len(t, insns, 3)

	jump := insns[1]
	assert.Equal(t, bytecode.Jump, jump.Op)
	assert.Equal(t, uint32(5)+offset, jump.A)

	setupTry := insns[2]
	assert.Equal(t, bytecode.SetupTry, setupTry.Op)
	assert.Equal(t, uint32(3)+offset, setupTry.A)
	assert.Equal(t, uint32(0), setupTry.B, "zero finally address must remain absent")
}

func TestAppendProgramRebasesFunctionConstants(t *testing.T) {
	target := bytecode.New()

	fragment := bytecode.New()
	fragment.AddConstant(value.Function{Address: 7})

	offset, err := target.AppendProgram(fragment)
	require.NoError(t, err)

	require.Len(t, target.Constants, 1)
	fn := target.Constants[0].(value.Function)
	assert.Equal(t, uint32(7)+offset, fn.Address)
}

// TestAppendProgramPreservesWideJumpTargetAfterCompaction exercises the
// case TestAppendProgramRebasesJumpTargets misses: a fragment built by the
// real assembler, whose Jump carries a wide (5-byte) address operand that
// would compact to 1-2 bytes under a naive decode-then-minimally-re-encode
// pass, shifting every instruction after it. The jump must still land
// exactly on the decoded start of its target instruction, never mid-byte.
func TestAppendProgramPreservesWideJumpTargetAfterCompaction(t *testing.T) {
	target, err := bytecode.Assemble(`
constants:
    number 0
code:
    push number 0
    pop
`)
	require.NoError(t, err)

	fragment, err := bytecode.Assemble(`
names:
    v
constants:
    number 1
code:
    jump skip
    pop
label skip:
    push number 1
    store v
    halt
`)
	require.NoError(t, err)

	_, err = target.AppendProgram(fragment)
	require.NoError(t, err)

	insns, addrs, err := target.Instructions()
	require.NoError(t, err)

	var jump bytecode.Instruction
	for _, in := range insns {
		if in.Op == bytecode.Jump {
			jump = in
			break
		}
	}
	require.Equal(t, bytecode.Jump, jump.Op, "combined program must contain the fragment's jump")

	landedAt := -1
	for i, a := range addrs {
		if a == jump.A {
			landedAt = i
			break
		}
	}
	require.NotEqual(t, -1, landedAt, "jump target must land exactly on a decoded instruction boundary, never mid-instruction")
	assert.Equal(t, bytecode.Push, insns[landedAt].Op, "jump must land on the skip label's Push, not the pop it jumps over")
}

// TestAppendProgramJumpExecutesCorrectlyAfterCompaction is the same
// scenario driven through the VM: the skipped pop would underflow the
// empty operand stack if the jump landed wrong, so running to completion
// without error demonstrates the jump really lands where it should.
func TestAppendProgramJumpExecutesCorrectlyAfterCompaction(t *testing.T) {
	target, err := bytecode.Assemble(`
constants:
    number 0
code:
    push number 0
    pop
`)
	require.NoError(t, err)

	fragment, err := bytecode.Assemble(`
names:
    v
constants:
    number 1
code:
    jump skip
    pop
label skip:
    push number 1
    store v
    halt
`)
	require.NoError(t, err)

	_, err = target.AppendProgram(fragment)
	require.NoError(t, err)

	m := vm.New(target, nil)
	require.NoError(t, m.Run(context.Background()))
}

func TestAssembleSimpleProgram(t *testing.T) {
	src := `
constants:
    number 1
code:
    push number 1
    push number 1
    add
    halt
`
	p, err := bytecode.Assemble(src)
	require.NoError(t, err)

	insns, _, err := p.Instructions()
	require.NoError(t, err)
	require.Len(t, insns, 4)
	assert.Equal(t, bytecode.Push, insns[0].Op)
	assert.Equal(t, bytecode.Add, insns[2].Op)
	assert.Equal(t, bytecode.Halt, insns[3].Op)
}

func TestAssembleForwardLabelReference(t *testing.T) {
	src := `
code:
    jump target
    pop
label target:
    halt
`
	p, err := bytecode.Assemble(src)
	require.NoError(t, err)

	insns, addrs, err := p.Instructions()
	require.NoError(t, err)
	require.Len(t, insns, 3)
	assert.Equal(t, bytecode.Jump, insns[0].Op)
	assert.Equal(t, addrs[2], insns[0].A, "jump must resolve to the halt instruction's address")
}

func TestAssembleSetupTryWithLabels(t *testing.T) {
	src := `
code:
    setuptry catch finally
    jump finally
label catch:
    poptry
label finally:
    halt
`
	p, err := bytecode.Assemble(src)
	require.NoError(t, err)

	insns, addrs, err := p.Instructions()
	require.NoError(t, err)
	require.Len(t, insns, 4)
	st := insns[0]
	assert.Equal(t, bytecode.SetupTry, st.Op)
	assert.Equal(t, addrs[2], st.A)
	assert.Equal(t, addrs[3], st.B)
}
