package engine

import (
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/rzbill/brrr/internal/codec"
)

// Defer is the control-flow signal a task body's Call raises (as an
// error, per Go convention, never as a panic or exception) when a child
// call's result isn't cached yet. It carries every child the body
// currently needs; the worker catches it with errors.As and schedules
// each listed call, leaving the body itself unexecuted-to-completion for
// this turn.
//
// This replaces the original engine's approach of raising a language
// exception from inside invoke() and catching it in gather(): Go doesn't
// have a control-flow-only exception type distinct from error, and
// modeling one as a panic would make ordinary task bodies unsafe to
// write. A typed error checked with errors.As gives the same "never
// user-visible outside the worker" property without hijacking control
// flow.
type Defer struct {
	Calls []codec.Call
}

func (d *Defer) Error() string {
	return fmt.Sprintf("engine: deferred on %d call(s)", len(d.Calls))
}

// asDefer reports whether err is a *Defer, unwrapping through error
// chains the way errors.As would.
func asDefer(err error) (*Defer, bool) {
	var d *Defer
	if errors.As(err, &d) {
		return d, true
	}
	return nil, false
}

// classify separates n independent Call results into a values slice
// (only valid if the returned Defer and error are both nil), any
// accumulated Defer, or the first genuine (non-Defer) error encountered.
// Genuine errors take priority: a body that has both a real failure and
// missing children should see the failure, since fixing it may change
// which children are even needed.
func classify[T any](results []T, errs []error) ([]T, error) {
	var missing []codec.Call
	for _, err := range errs {
		if err == nil {
			continue
		}
		if d, ok := asDefer(err); ok {
			missing = append(missing, d.Calls...)
			continue
		}
		return nil, err
	}
	if len(missing) > 0 {
		return nil, &Defer{Calls: missing}
	}
	return results, nil
}

// Gather runs every thunk concurrently, each is typically a Task.Call
// closure whose only blocking work is an independent Store read, and
// reduces the results to either every value in call order, or a single
// Defer combining every child any thunk was still missing. It never
// stops at the first Defer: a body that needs several children discovers
// all of them in one execution, so the worker can schedule them all in
// parallel instead of the body re-running once per newly-discovered
// child.
func Gather[T any](thunks ...func() (T, error)) ([]T, error) {
	n := len(thunks)
	values := make([]T, n)
	errs := make([]error, n)

	var g errgroup.Group
	for i, thunk := range thunks {
		i, thunk := i, thunk
		g.Go(func() error {
			v, err := thunk()
			values[i] = v
			errs[i] = err
			return nil
		})
	}
	_ = g.Wait()

	return classify(values, errs)
}

// Gather2 is Gather specialized to two independently typed thunks, for
// fanning out over a heterogeneous pair of calls (e.g. two different
// tasks) without forcing both into a common type.
func Gather2[A, B any](ta func() (A, error), tb func() (B, error)) (A, B, error) {
	var av A
	var bv B
	var aerr, berr error

	var g errgroup.Group
	g.Go(func() error { av, aerr = ta(); return nil })
	g.Go(func() error { bv, berr = tb(); return nil })
	_ = g.Wait()

	values, err := classify([]any{av, bv}, []error{aerr, berr})
	if err != nil {
		var azero A
		var bzero B
		return azero, bzero, err
	}
	return values[0].(A), values[1].(B), nil
}

// Gather3 is Gather2 extended to three independently typed thunks.
func Gather3[A, B, C any](ta func() (A, error), tb func() (B, error), tc func() (C, error)) (A, B, C, error) {
	var av A
	var bv B
	var cv C
	var aerr, berr, cerr error

	var g errgroup.Group
	g.Go(func() error { av, aerr = ta(); return nil })
	g.Go(func() error { bv, berr = tb(); return nil })
	g.Go(func() error { cv, cerr = tc(); return nil })
	_ = g.Wait()

	values, err := classify([]any{av, bv, cv}, []error{aerr, berr, cerr})
	if err != nil {
		var azero A
		var bzero B
		var czero C
		return azero, bzero, czero, err
	}
	return values[0].(A), values[1].(B), values[2].(C), nil
}
