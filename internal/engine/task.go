package engine

import (
	"reflect"
	"runtime"
	"strings"

	"github.com/rzbill/brrr/internal/codec"
)

// Fn is a task body: given an invocation handle and its arguments, it
// produces a result or an error. Inside a worker, an error that is a
// *Defer is control flow, not failure; any other error aborts the
// current worker turn.
type Fn[A, R any] func(ctx *InvocationContext, args A) (R, error)

// Task wraps a registered task name together with its body. The type
// parameters exist only at the call site, the engine's registry stores
// tasks behind the type-erased registeredTask interface, since a single
// map keyed by task name cannot hold values of Task[A,R] for varying A
// and R.
//
// This is a deliberate departure from the original engine, whose single
// dynamically-typed Codec.invoke_task method could decode arguments, run
// any handler, and encode the result all in one place because Python
// doesn't type-check any of it. A Go Codec has no way to be generic over
// the argument and result types of every task it might ever see, so that
// responsibility moves onto Task itself: Task.invokeBytes is the
// non-generic method that lets the worker's registry decode, dispatch,
// and encode without knowing A or R.
type Task[A, R any] struct {
	name   string
	fn     Fn[A, R]
	engine *Engine
}

// registeredTask is the type-erased handle the worker's task registry
// stores. invokeBytes decodes payload as this task's argument type, runs
// the body, and encodes the result, the seam where generic Task[A,R]
// meets the engine's non-generic dispatch loop.
type registeredTask interface {
	invokeBytes(ctx *InvocationContext, payload []byte) ([]byte, error)
}

func (t *Task[A, R]) invokeBytes(ctx *InvocationContext, payload []byte) ([]byte, error) {
	var args A
	if err := t.engine.codec.Unmarshal(payload, &args); err != nil {
		return nil, err
	}
	result, err := t.fn(ctx, args)
	if err != nil {
		return nil, err
	}
	return t.engine.codec.Marshal(result)
}

// Name reports the task's registered name.
func (t *Task[A, R]) Name() string {
	return t.name
}

// Call invokes the task with args. Outside worker context it runs the
// body synchronously with no persistence. Inside worker context it first
// checks whether this exact call's result is already memoized, if so it
// returns the cached value directly without re-running the body, and if
// not, returns a *Defer naming this call so the worker can schedule it.
func (t *Task[A, R]) Call(ctx *InvocationContext, args A) (R, error) {
	var zero R

	if ctx.mode == ModeDirect {
		return t.fn(ctx, args)
	}

	argsJSON, err := t.engine.codec.Marshal(args)
	if err != nil {
		return zero, err
	}
	call, err := t.engine.memory.MakeCall(t.name, argsJSON)
	if err != nil {
		return zero, err
	}

	has, err := t.engine.memory.HasValue(ctx.ctx, call.MemoKey)
	if err != nil {
		return zero, err
	}
	if !has {
		return zero, &Defer{Calls: []codec.Call{call}}
	}

	valueBytes, err := t.engine.memory.GetValue(ctx.ctx, call.MemoKey)
	if err != nil {
		return zero, err
	}
	var result R
	if err := t.engine.codec.Unmarshal(valueBytes, &result); err != nil {
		return zero, err
	}
	return result, nil
}

// Map calls the task once per element of argsList and gathers the
// results, exactly as Gather(Call(args[0]), Call(args[1]), ...) would:
// a single execution of the caller's body discovers every still-missing
// child in argsList, not just the first.
func (t *Task[A, R]) Map(ctx *InvocationContext, argsList []A) ([]R, error) {
	thunks := make([]func() (R, error), len(argsList))
	for i := range argsList {
		args := argsList[i]
		thunks[i] = func() (R, error) { return t.Call(ctx, args) }
	}
	return Gather(thunks...)
}

// RegisterTask registers fn under name on e. If name is empty, it is
// inferred from fn's own function name (its bare identifier, without
// package qualification); if that can't be determined either,
// ErrInvalidTaskName is returned. RegisterTask is a free function, not a
// method, because Go methods cannot introduce their own type
// parameters, A and R must be inferred at the call site instead.
func RegisterTask[A, R any](e *Engine, name string, fn Fn[A, R]) (*Task[A, R], error) {
	if name == "" {
		name = inferFuncName(fn)
	}
	if name == "" {
		return nil, ErrInvalidTaskName
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.tasks[name]; exists {
		return nil, ErrDuplicateTask
	}

	t := &Task[A, R]{name: name, fn: fn, engine: e}
	e.tasks[name] = t
	return t, nil
}

func inferFuncName[A, R any](fn Fn[A, R]) string {
	full := runtime.FuncForPC(reflect.ValueOf(fn).Pointer()).Name()
	if full == "" {
		return ""
	}
	if idx := strings.LastIndex(full, "."); idx >= 0 {
		full = full[idx+1:]
	}
	full = strings.TrimSuffix(full, "-fm")
	if full == "" || full == "func1" || strings.Contains(full, "func") {
		// Anonymous closures resolve to a synthetic name like
		// "func1" or "glob..func1"; that's not a stable, meaningful
		// task identity, so treat it the same as no name at all.
		return ""
	}
	return full
}
