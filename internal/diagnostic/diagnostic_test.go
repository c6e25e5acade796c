package diagnostic_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-lang/kestrel/bytecode"
	"github.com/kestrel-lang/kestrel/internal/diagnostic"
	"github.com/kestrel-lang/kestrel/vm"
)

func TestReportFatalIncludesIPAndCallStack(t *testing.T) {
	p, err := bytecode.Assemble(`
constants:
    string "boom"
code:
    push string "boom"
    throw
`)
	require.NoError(t, err)
	m := vm.New(p, nil)
	runErr := m.Run(context.Background())
	require.Error(t, runErr)

	var buf bytes.Buffer
	log := zerolog.New(&buf)
	diagnostic.ReportFatal(log, m, runErr)

	out := buf.String()
	assert.Contains(t, out, "boom")
	assert.Contains(t, out, `"ip"`)
	assert.Contains(t, out, `"callStack"`)
}
