package vm

import (
	"fmt"

	"github.com/kestrel-lang/kestrel/value"
)

// throw implements Throw and the rethrow performed by EnterFinally(true)
// (§4.5): pop the topmost handler, truncate both stacks to its recorded
// depths, then route to its catch address, its finally address, or fail
// the VM outright if neither exists.
func (vm *VM) throw(exc value.Value) error {
	if len(vm.handlers) == 0 {
		return fmt.Errorf("vm: uncaught exception: %s", exc.String())
	}

	h := vm.handlers[len(vm.handlers)-1]
	vm.handlers = vm.handlers[:len(vm.handlers)-1]

	if len(vm.stack) > h.StackDepth {
		vm.stack = vm.stack[:h.StackDepth]
	}
	if len(vm.frames) > h.CallStackDepth {
		vm.frames = vm.frames[:h.CallStackDepth]
	}

	switch {
	case h.CatchAddr != 0:
		vm.push(exc)
		if h.FinallyAddr != 0 {
			// A later normal exit (PopTry) or a rethrow inside the catch
			// block must still route through this try's finally.
			vm.handlers = append(vm.handlers, ExceptionHandler{
				CatchAddr:      0,
				FinallyAddr:    h.FinallyAddr,
				StackDepth:     h.StackDepth,
				CallStackDepth: h.CallStackDepth,
			})
		}
		vm.ip = h.CatchAddr
		return nil
	case h.FinallyAddr != 0:
		vm.pending = exc
		vm.ip = h.FinallyAddr
		return nil
	default:
		return fmt.Errorf("vm: uncaught exception: %s", exc.String())
	}
}
