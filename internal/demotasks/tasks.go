// Package demotasks registers a small set of example tasks used by the
// brrr CLI to exercise a running engine end to end: fib and hello as
// simple recursive and leaf examples, plus triangular_sum as a linear
// recursion that Call chains one level at a time.
package demotasks

import (
	"fmt"

	"github.com/rzbill/brrr/internal/engine"
)

// Tasks holds handles to every task registered by Register, so callers
// can reach each task's concrete type and name without re-deriving task
// names by hand (the CLI's "task list" command reads them via Names).
type Tasks struct {
	Fib           *engine.Task[int, int]
	TriangularSum *engine.Task[int, int]
	Hello         *engine.Task[string, string]
}

// Register wires every demo task onto e. It panics on registration
// failure (duplicate name, invalid name) since this only ever runs once
// at process start against a freshly built Engine.
func Register(e *engine.Engine) *Tasks {
	t := &Tasks{}

	t.Fib = must(engine.RegisterTask(e, "fib", t.fib))
	t.TriangularSum = must(engine.RegisterTask(e, "triangular_sum", t.triangularSum))
	t.Hello = must(engine.RegisterTask(e, "hello", t.hello))

	return t
}

func must[A, R any](task *engine.Task[A, R], err error) *engine.Task[A, R] {
	if err != nil {
		panic(err)
	}
	return task
}

// Names lists the registered task names, in registration order.
func (t *Tasks) Names() []string {
	return []string{t.Fib.Name(), t.TriangularSum.Name(), t.Hello.Name()}
}

// fib computes the nth Fibonacci number by recursive fan-out:
// fib(n) = fib(n-2) + fib(n-1), memoized per n so a given fib(n) result
// is stored once per store; the body itself re-runs after each child it
// deferred on completes.
func (t *Tasks) fib(ctx *engine.InvocationContext, n int) (int, error) {
	if n == 0 || n == 1 {
		return n, nil
	}
	parts, err := t.Fib.Map(ctx, []int{n - 2, n - 1})
	if err != nil {
		return 0, err
	}
	return parts[0] + parts[1], nil
}

// triangularSum computes n + (n-1) + ... + 0 by single-child recursion,
// the canonical "no engine required" example: triangularSum.Call(ctx, n)
// run through engine.DirectContext needs no Store or Queue at all.
func (t *Tasks) triangularSum(ctx *engine.InvocationContext, n int) (int, error) {
	if n == 0 {
		return 0, nil
	}
	prev, err := t.TriangularSum.Call(ctx, n-1)
	if err != nil {
		return 0, err
	}
	return n + prev, nil
}

// hello has no children; it exists to exercise a leaf task with no
// fan-out at all.
func (t *Tasks) hello(_ *engine.InvocationContext, greetee string) (string, error) {
	return fmt.Sprintf("Hello, %s!", greetee), nil
}
