package engine

import "context"

// Mode discriminates whether a Task.Call is being invoked directly by a
// client (no persistence, synchronous execution) or from inside a
// worker's task body (memoized, may Defer).
//
// The original engine detects this via a mutable singleton on itself;
// here it is carried explicitly on the per-invocation handle instead, so
// two concurrent invocations, direct in a test, worker-mode in a
// running loop, never interfere with each other's notion of "inside
// worker".
type Mode int

const (
	// ModeDirect executes task bodies synchronously with no Store or
	// Queue I/O. Used for unit tests and for running task graphs outside
	// the runtime entirely.
	ModeDirect Mode = iota
	// ModeWorker executes task bodies inside a running Worker loop:
	// invocations are memoized and may Defer.
	ModeWorker
)

// InvocationContext is the explicit per-call handle a task body receives.
// It carries the standard context.Context for cancellation alongside the
// engine-specific dispatch mode and, in worker mode, the identifiers
// needed to schedule any children the body defers on.
type InvocationContext struct {
	ctx    context.Context
	engine *Engine
	mode   Mode

	// rootID and messageBody are only meaningful in ModeWorker: rootID
	// scopes spawn-limit accounting for the whole workflow, messageBody
	// is the full "rootId/memoKey" of the call currently executing, used
	// as the parent reference when this body defers on children.
	rootID      string
	messageBody string
}

// Context returns the underlying context.Context for cancellation and
// deadline propagation into user code.
func (c *InvocationContext) Context() context.Context {
	return c.ctx
}

// Mode reports whether this invocation is direct or worker-dispatched.
func (c *InvocationContext) Mode() Mode {
	return c.mode
}
