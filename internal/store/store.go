// Package store defines the key-value store contract that Memory relies on
// for durable, linearizable-per-key state: the call, value, and
// pending_returns namespaces, plus a disjoint counter namespace for
// spawn-limit accounting.
//
// All conditional operations must be linearizable per key. Cross-key
// transactions are never required and never used by any caller in this
// module.
package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get and Has-adjacent readers when a key has
// never been set.
var ErrNotFound = errors.New("store: key not found")

// ErrCompareMismatch is returned by SetNewValue, CompareAndSet, and
// CompareAndDelete when the current value does not match what the caller
// expected. Memory's compare-and-swap loops treat it as transient and
// retry under a bounded loop; Memory.SetValue instead reports it as
// memory.ErrAlreadyExists.
var ErrCompareMismatch = errors.New("store: compare mismatch")

// Key addresses a value in a logical namespace. Rendered as
// "namespace/id" by adapters that need a flat key.
type Key struct {
	Namespace string
	ID        string
}

// String renders the key in its canonical "namespace/id" form.
func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.Namespace, k.ID)
}

// Namespaces used by Memory. Counter keys live in a disjoint logical space
// and are never rendered through Key.
const (
	NamespaceCall           = "call"
	NamespaceValue          = "value"
	NamespacePendingReturns = "pending_returns"
)

// Store is a remote, possibly-contended key-value store.
//
// All mutate operations must be idempotent from the caller's point of
// view: a retried Set or Delete after an ambiguous failure must never
// corrupt state. Getters return ErrNotFound for missing keys.
type Store interface {
	Has(ctx context.Context, k Key) (bool, error)
	Get(ctx context.Context, k Key) ([]byte, error)
	Set(ctx context.Context, k Key, v []byte) error
	Delete(ctx context.Context, k Key) error

	// SetNewValue succeeds iff k is absent, else ErrCompareMismatch.
	SetNewValue(ctx context.Context, k Key, v []byte) error

	// CompareAndSet succeeds iff the current value at k equals expected,
	// else ErrCompareMismatch.
	CompareAndSet(ctx context.Context, k Key, v, expected []byte) error

	// CompareAndDelete succeeds iff the current value at k equals
	// expected, else ErrCompareMismatch.
	CompareAndDelete(ctx context.Context, k Key, expected []byte) error

	// Incr atomically increments counterKey and returns the
	// post-increment value. Counter keys are a disjoint logical
	// namespace from Key-addressed values.
	Incr(ctx context.Context, counterKey string) (int64, error)
}
