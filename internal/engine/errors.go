package engine

import "errors"

// ErrNotSetup corresponds to the original engine's "used before setup"
// error, raised when task operations ran against its global singleton
// before it was configured. Engine has no such singleton: every
// operation requires a *Engine built by New, which itself requires a
// Store, Queue, and Codec, so this state is unreachable by construction
// rather than checked at the call site. Kept only so the sentinel
// exists for callers translating from the original error taxonomy.
var ErrNotSetup = errors.New("engine: not set up")

// ErrDuplicateTask is returned by RegisterTask when a task name is
// already registered.
var ErrDuplicateTask = errors.New("engine: duplicate task name")

// ErrInvalidTaskName is returned by RegisterTask when no name was given
// and one could not be inferred from the function value, or an empty
// name was given explicitly.
var ErrInvalidTaskName = errors.New("engine: invalid task name")

// ErrTaskNotFound is returned by the worker when a dequeued call names a
// task that isn't registered on this engine. Fatal for the message; the
// worker loop aborts rather than silently dropping it.
var ErrTaskNotFound = errors.New("engine: task not found")

// ErrSpawnLimit is returned by PutJob when a root workflow's enqueue
// count would exceed its configured spawn limit. Durable state remains
// consistent; raising the limit and re-running is sufficient to resume.
var ErrSpawnLimit = errors.New("engine: spawn limit exceeded")

// ErrWorkerAlreadyRunning is returned by Worker.Run when another worker
// is already running against the same Engine.
var ErrWorkerAlreadyRunning = errors.New("engine: worker already running")
