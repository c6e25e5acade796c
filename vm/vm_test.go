package vm_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-lang/kestrel/bytecode"
	"github.com/kestrel-lang/kestrel/vm"
)

func runProgram(t *testing.T, src string) *vm.VM {
	t.Helper()
	p, err := bytecode.Assemble(src)
	require.NoError(t, err)
	m := vm.New(p, nil)
	require.NoError(t, m.Run(context.Background()))
	return m
}

func TestStoreLoadRoundTrip(t *testing.T) {
	m := runProgram(t, `
constants:
    number 7
names:
    x
code:
    push number 7
    store x
    load x
    halt
`)
	require.Len(t, m.Stack(), 1)
	assert.Equal(t, "7", m.Stack()[0].String())
}

func TestDupPopIdentity(t *testing.T) {
	m := runProgram(t, `
constants:
    number 3
code:
    push number 3
    dup
    pop
    halt
`)
	require.Len(t, m.Stack(), 1)
	assert.Equal(t, "3", m.Stack()[0].String())
}

func TestSwapIsItsOwnInverse(t *testing.T) {
	m := runProgram(t, `
constants:
    number 1
    number 2
code:
    push number 1
    push number 2
    swap
    swap
    halt
`)
	require.Len(t, m.Stack(), 2)
	assert.Equal(t, "1", m.Stack()[0].String())
	assert.Equal(t, "2", m.Stack()[1].String())
}

func TestNewObjectSetPropGetPropRoundTrip(t *testing.T) {
	m := runProgram(t, `
constants:
    number 9
names:
    k
code:
    newobject
    dup
    push number 9
    setprop k
    getprop k
    halt
`)
	require.Len(t, m.Stack(), 1)
	assert.Equal(t, "9", m.Stack()[0].String())
}

// TestClosureEachCallStartsFromSnapshot exercises invariant 5: a function
// value captured at MakeClosure time sees the locals bound at capture
// time, and later mutations performed by one call are not visible from a
// later, independent call of the same closure value.
func TestClosureEachCallStartsFromSnapshot(t *testing.T) {
	m := runProgram(t, `
constants:
    number 0
    number 1
names:
    n
    f
code:
    push number 0
    let n
    makeclosure fnbody
    store f
    load f
    call 0
    load f
    call 0
    halt
label fnbody:
    load n
    push number 1
    add
    store n
    load n
    return
`)
	require.Len(t, m.Stack(), 2)
	assert.Equal(t, "1", m.Stack()[0].String(), "first call increments its own snapshot copy of n")
	assert.Equal(t, "1", m.Stack()[1].String(), "second call starts over from the original snapshot, not the first call's mutation")
}

// TestCallReturnNetStackChange exercises testable property 3: calling a
// function of arity n and returning its single result changes the operand
// stack by net -n (n args consumed, 1 result produced, matching the call's
// own callee+args removed and replaced by one value).
func TestCallReturnNetStackChange(t *testing.T) {
	m := runProgram(t, `
constants:
    number 10
    number 20
names:
    a
    b
code:
    makeclosure addfn
    push number 10
    push number 20
    call 2
    halt
label addfn:
    store b
    store a
    load a
    load b
    add
    return
`)
	require.Len(t, m.Stack(), 1)
	assert.Equal(t, "30", m.Stack()[0].String())
}

func TestConstructLeavesInstanceOnStack(t *testing.T) {
	m := runProgram(t, `
constants:
    number 5
names:
    value
code:
    makeclosure ctor
    construct 0
    getprop value
    halt
label ctor:
    load this
    push number 5
    setprop value
    return
`)
	require.Len(t, m.Stack(), 1)
	assert.Equal(t, "5", m.Stack()[0].String())
}

func TestTryCatchRoutesToHandlerAndTruncatesStack(t *testing.T) {
	m := runProgram(t, `
constants:
    number 111
    number 222
code:
    setuptry handler 0
    push number 111
    push number 222
    throw
    halt
label handler:
    halt
`)
	// Throw pops the thrown value itself before truncating, so the
	// handler receives the exception pushed fresh on top of the
	// truncated (here: empty) stack.
	require.Len(t, m.Stack(), 1)
	assert.Equal(t, "222", m.Stack()[0].String())
}

func TestFinallyRunsOnThrowWhenNoCatch(t *testing.T) {
	m := runProgram(t, `
constants:
    number 42
    number 999
code:
    setuptry 0 finally
    push number 42
    throw
    halt
label finally:
    push number 999
    halt
`)
	require.Len(t, m.Stack(), 1)
	assert.Equal(t, "999", m.Stack()[0].String(), "throw with no catch must still route to finally")
}

// TestDropClearsObjectAndAliasObservesIt exercises §5's aliasing rule: two
// names bound to the same heap handle, dropping one clears the object's
// contents for both, and the dropped name itself stops resolving to
// anything (Undefined), while the handle stays valid for the other name.
func TestDropClearsObjectAndAliasObservesIt(t *testing.T) {
	m := runProgram(t, `
constants:
    number 9
names:
    a
    b
    k
code:
    newobject
    dup
    store a
    store b
    load a
    push number 9
    setprop k
    drop a
    load a
    load b
    getprop k
    halt
`)
	require.Len(t, m.Stack(), 2)
	assert.Equal(t, "undefined", m.Stack()[0].String(), "dropped name must no longer resolve")
	assert.Equal(t, "undefined", m.Stack()[1].String(), "the alias must see the object's contents cleared")
}

func TestArrayMethodsPushJoin(t *testing.T) {
	m := runProgram(t, `
constants:
    number 1
    number 2
names:
    push
    join
    arr
    sep
code:
    newarray 0
    store arr
    load arr
    push number 1
    callmethod push 1
    pop
    load arr
    push number 2
    callmethod push 1
    pop
    load arr
    callmethod join 0
    halt
`)
	require.Len(t, m.Stack(), 1)
	assert.Equal(t, "1,2", m.Stack()[0].String())
}
