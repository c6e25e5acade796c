package stdlib_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-lang/kestrel/bytecode"
	"github.com/kestrel-lang/kestrel/eventloop"
	"github.com/kestrel-lang/kestrel/stdlib"
	"github.com/kestrel-lang/kestrel/vm"
)

func assemble(t *testing.T, src string) *vm.VM {
	t.Helper()
	p, err := bytecode.Assemble(src)
	require.NoError(t, err)
	return vm.New(p, nil)
}

func TestConsoleLogWritesJoinedArgs(t *testing.T) {
	var buf bytes.Buffer
	m := assemble(t, `
constants:
    string "hello world"
names:
    console
    log
code:
    load console
    getprop log
    push string "hello world"
    call 1
    pop
    halt
`)
	l := eventloop.New(m)
	stdlib.Register(m, l, stdlib.WithStdout(&buf))

	require.NoError(t, l.Run(context.Background()))
	assert.Equal(t, "hello world\n", buf.String())
}

func TestSetTimeoutDefersCallback(t *testing.T) {
	var buf bytes.Buffer
	m := assemble(t, `
constants:
    number 0
    string "fired"
names:
    setTimeout
    console
    log
code:
    load setTimeout
    makeclosure cb
    push number 0
    call 2
    pop
    halt
label cb:
    load console
    getprop log
    push string "fired"
    call 1
    pop
    push undefined
    return
`)
	l := eventloop.New(m)
	stdlib.Register(m, l, stdlib.WithStdout(&buf))

	require.NoError(t, l.Run(context.Background()))
	assert.Equal(t, "fired\n", buf.String())
}

func TestPromiseResolveThenRunsCallbackWithValue(t *testing.T) {
	var buf bytes.Buffer
	m := assemble(t, `
constants:
    number 7
names:
    Promise
    resolve
    then
    p
    v
    console
    log
code:
    load Promise
    getprop resolve
    push number 7
    call 1
    store p
    load p
    makeclosure cb
    callmethod then 1
    pop
    halt
label cb:
    store v
    load console
    getprop log
    load v
    call 1
    pop
    push undefined
    return
`)
	l := eventloop.New(m)
	stdlib.Register(m, l, stdlib.WithStdout(&buf))

	require.NoError(t, l.Run(context.Background()))
	assert.Equal(t, "7\n", buf.String())
}

func TestPromiseRejectCatchRunsHandlerWithReason(t *testing.T) {
	var buf bytes.Buffer
	m := assemble(t, `
constants:
    string "boom"
names:
    Promise
    reject
    catch
    p
    reason
    console
    log
code:
    load Promise
    getprop reject
    push string "boom"
    call 1
    store p
    load p
    makeclosure cb
    callmethod catch 1
    pop
    halt
label cb:
    store reason
    load console
    getprop log
    load reason
    call 1
    pop
    push undefined
    return
`)
	l := eventloop.New(m)
	stdlib.Register(m, l, stdlib.WithStdout(&buf))

	require.NoError(t, l.Run(context.Background()))
	assert.Equal(t, "boom\n", buf.String())
}

func TestPromiseThenWithoutHandlerPassesValueThrough(t *testing.T) {
	var buf bytes.Buffer
	m := assemble(t, `
constants:
    number 3
names:
    Promise
    resolve
    then
    p
    q
    v
    console
    log
code:
    load Promise
    getprop resolve
    push number 3
    call 1
    store p
    load p
    push undefined
    callmethod then 1
    store q
    load q
    makeclosure cb
    callmethod then 1
    pop
    halt
label cb:
    store v
    load console
    getprop log
    load v
    call 1
    pop
    push undefined
    return
`)
	l := eventloop.New(m)
	stdlib.Register(m, l, stdlib.WithStdout(&buf))

	require.NoError(t, l.Run(context.Background()))
	assert.Equal(t, "3\n", buf.String())
}

func TestByteStreamWriteU8AndLengthRoundTrip(t *testing.T) {
	m := assemble(t, `
constants:
    number 65
names:
    ByteStream
    create
    writeU8
    length
    s
code:
    load ByteStream
    getprop create
    call 0
    store s
    load ByteStream
    getprop writeU8
    load s
    push number 65
    call 2
    pop
    load ByteStream
    getprop length
    load s
    call 1
    halt
`)
	l := eventloop.New(m)
	stdlib.Register(m, l)

	require.NoError(t, l.Run(context.Background()))
	require.Len(t, m.Stack(), 1)
	assert.Equal(t, "1", m.Stack()[0].String())
}

func TestStringFromCharCodeJoinsCodepoints(t *testing.T) {
	m := assemble(t, `
constants:
    number 65
    number 66
names:
    String
    fromCharCode
code:
    load String
    getprop fromCharCode
    push number 65
    push number 66
    call 2
    halt
`)
	l := eventloop.New(m)
	stdlib.Register(m, l)

	require.NoError(t, l.Run(context.Background()))
	require.Len(t, m.Stack(), 1)
	assert.Equal(t, "AB", m.Stack()[0].String())
}

func TestRequireFSReadWriteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "greeting.txt")

	m := assemble(t, `
constants:
    string "fs"
    string `+strconv.Quote(path)+`
    string "hi there"
names:
    fs
    writeFileSync
    readFileSync
code:
    push string "fs"
    require
    store fs
    load fs
    getprop writeFileSync
    push string `+strconv.Quote(path)+`
    push string "hi there"
    call 2
    pop
    load fs
    getprop readFileSync
    push string `+strconv.Quote(path)+`
    call 1
    halt
`)
	l := eventloop.New(m)
	stdlib.Register(m, l)

	require.NoError(t, l.Run(context.Background()))
	require.Len(t, m.Stack(), 1)
	assert.Equal(t, "hi there", m.Stack()[0].String())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hi there", string(data))
}

func TestFSReadFileAsyncDeliversViaCallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "async.txt")
	require.NoError(t, os.WriteFile(path, []byte("async content"), 0o644))

	var buf bytes.Buffer
	m := assemble(t, `
constants:
    string "fs"
    string `+strconv.Quote(path)+`
names:
    fs
    console
    log
code:
    push string "fs"
    require
    store fs
    load fs
    getprop readFile
    push string `+strconv.Quote(path)+`
    makeclosure cb
    call 2
    pop
    halt
label cb:
    store data
    store err
    load console
    getprop log
    load data
    call 1
    pop
    push undefined
    return
`)
	l := eventloop.New(m)
	stdlib.Register(m, l, stdlib.WithStdout(&buf))

	require.NoError(t, l.Run(context.Background()))
	assert.Equal(t, "async content\n", buf.String())
}
