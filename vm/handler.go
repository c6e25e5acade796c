package vm

// ExceptionHandler is a snapshot of operand- and call-stack depths taken
// when a protected region is entered (§4.5), stored on a stack separate
// from the call stack so SetupTry/PopTry/Throw can restore both
// independently in O(1).
type ExceptionHandler struct {
	CatchAddr      uint32
	FinallyAddr    uint32
	StackDepth     int
	CallStackDepth int
}
