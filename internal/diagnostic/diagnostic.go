// Package diagnostic reports fatal interpreter failures the way spec.md §7
// asks a host to: the error text (an uncaught exception's message already
// carries the thrown value's canonical printable form, via vm.throw), the
// instruction pointer at the point it escaped, and a call-stack summary,
// as one structured log event rather than a formatted string.
package diagnostic

import (
	"github.com/rs/zerolog"

	"github.com/kestrel-lang/kestrel/vm"
)

// ReportFatal logs err — an uncaught script exception, a call-stack
// overflow, a step-budget exhaustion, or any other error vm.Run/
// eventloop.Run returned — alongside m's instruction pointer and call
// stack at the point it escaped.
func ReportFatal(log zerolog.Logger, m *vm.VM, err error) {
	log.Error().
		Err(err).
		Uint32("ip", m.IP()).
		Strs("callStack", m.FrameSummaries()).
		Msg("fatal interpreter error")
}
