// Package memory implements the durable memoization and pending-returns
// fan-in coordination layer, grounded directly on the original engine's
// Memory class (brrr/store.py): the call and value namespaces give
// idempotent, set-once memoization, and the pending_returns namespace lets
// any number of parent calls register interest in a child's result and
// have exactly one of them (the one that set scheduled_at) responsible for
// having enqueued the child's computation.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rzbill/brrr/internal/codec"
	"github.com/rzbill/brrr/internal/store"
)

// ErrAlreadyExists is returned by SetValue when a value has already been
// recorded for the memo key. Because values are set-once, this always
// means a concurrent or earlier execution already produced the
// authoritative result; the caller must discard its own result and read
// the stored one instead.
var ErrAlreadyExists = errors.New("memory: value already exists")

// ErrCasRetryLimit is returned when a compare-and-swap retry loop exceeds
// CasRetryLimit attempts without converging. This should not happen in
// practice; it almost always indicates a bug in the underlying store's
// compare-and-set implementation rather than ordinary contention.
var ErrCasRetryLimit = errors.New("memory: exceeded compare-and-swap retry limit")

// DefaultCasRetryLimit bounds the WithCas retry loop.
const DefaultCasRetryLimit = 100

// Memory ties a Store to a Codec and implements the memoization and
// pending-returns protocols on top.
type Memory struct {
	store         store.Store
	codec         codec.Codec
	casRetryLimit int
}

// New creates a Memory. casRetryLimit <= 0 uses DefaultCasRetryLimit.
func New(s store.Store, c codec.Codec, casRetryLimit int) *Memory {
	if casRetryLimit <= 0 {
		casRetryLimit = DefaultCasRetryLimit
	}
	return &Memory{store: s, codec: c, casRetryLimit: casRetryLimit}
}

// MakeCall derives a codec.Call for a task invocation from its name and
// already-marshaled argument bytes.
func (m *Memory) MakeCall(taskName string, argsJSON []byte) (codec.Call, error) {
	key, err := m.codec.MemoKey(taskName, argsJSON)
	if err != nil {
		return codec.Call{}, err
	}
	return codec.Call{TaskName: taskName, Args: argsJSON, MemoKey: key}, nil
}

// HasCall reports whether a call record has already been persisted for
// this memo key.
func (m *Memory) HasCall(ctx context.Context, memoKey string) (bool, error) {
	return m.store.Has(ctx, store.Key{Namespace: store.NamespaceCall, ID: memoKey})
}

// SetCall persists the task name and argument bytes for a call, so any
// worker can later rehydrate and execute it from its memo key alone.
func (m *Memory) SetCall(ctx context.Context, call codec.Call) error {
	payload := encodeCallRecord(call.TaskName, call.Args)
	return m.store.Set(ctx, store.Key{Namespace: store.NamespaceCall, ID: call.MemoKey}, payload)
}

// GetCallBytes reads back the task name and argument bytes for a memo
// key previously persisted by SetCall.
func (m *Memory) GetCallBytes(ctx context.Context, memoKey string) (taskName string, argsJSON []byte, err error) {
	payload, err := m.store.Get(ctx, store.Key{Namespace: store.NamespaceCall, ID: memoKey})
	if err != nil {
		return "", nil, err
	}
	return decodeCallRecord(payload)
}

// IncrCounter atomically increments a counter key in the store's
// disjoint counter namespace, used by the engine for spawn-limit
// accounting. It is exposed here so callers never need a direct
// reference to the underlying store.
func (m *Memory) IncrCounter(ctx context.Context, counterKey string) (int64, error) {
	return m.store.Incr(ctx, counterKey)
}

// HasValue reports whether a return value has already been memoized.
func (m *Memory) HasValue(ctx context.Context, memoKey string) (bool, error) {
	return m.store.Has(ctx, store.Key{Namespace: store.NamespaceValue, ID: memoKey})
}

// GetValue reads the memoized return value bytes for a memo key.
func (m *Memory) GetValue(ctx context.Context, memoKey string) ([]byte, error) {
	return m.store.Get(ctx, store.Key{Namespace: store.NamespaceValue, ID: memoKey})
}

// SetValue memoizes a return value exactly once. Because values are
// set-once, a second call for the same memo key returns ErrAlreadyExists
// instead of silently overwriting: a worker that loses this race must
// discard its own result and read the one that won instead.
func (m *Memory) SetValue(ctx context.Context, memoKey string, payload []byte) error {
	err := m.store.SetNewValue(ctx, store.Key{Namespace: store.NamespaceValue, ID: memoKey}, payload)
	if errors.Is(err, store.ErrCompareMismatch) {
		return ErrAlreadyExists
	}
	return err
}

// WithCas retries fn as long as it returns store.ErrCompareMismatch, up to
// casRetryLimit attempts, surfacing ErrCasRetryLimit if it never
// converges.
func (m *Memory) WithCas(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrCompareMismatch) {
			return err
		}
		if attempt+1 >= m.casRetryLimit {
			return fmt.Errorf("%w: last error: %v", ErrCasRetryLimit, err)
		}
	}
}

// ScheduleJobFunc enqueues the child call's computation. It is invoked at
// most once per AddPendingReturn call, and only when no other registered
// parent has already done so for this memo key.
type ScheduleJobFunc func(ctx context.Context) error

// AddPendingReturn registers newReturn as waiting on memoKey's result and
// schedules the underlying job if, and only if, nothing has scheduled it
// yet. It reports whether the call was already pending under any return
// address, which callers can use as an in-flight signal.
//
// This is inherently racy: as soon as this call returns, another worker
// may already have observed and cleared the pending return it just wrote.
// Callers can only trust that newReturn becomes visible to *some* worker,
// never that it remains visible to any particular one.
//
// A registration can race a concurrent completion of the same child: the
// completing worker may drain and delete the pending_returns record
// before this call's write lands, stranding newReturn with nobody left
// to wake it. After the record is written, wakeIfComplete is consulted:
// if memoKey's value already exists, it is invoked to re-enqueue
// newReturn directly rather than trusting a completion event that has
// already happened.
func (m *Memory) AddPendingReturn(ctx context.Context, memoKey, newReturn string, schedule ScheduleJobFunc, wakeIfComplete ScheduleJobFunc) (alreadyPending bool, err error) {
	key := store.Key{Namespace: store.NamespacePendingReturns, ID: memoKey}

	err = m.WithCas(ctx, func() error {
		existingEnc, getErr := m.store.Get(ctx, key)
		var existing pendingReturns
		var storeAgain bool

		if errors.Is(getErr, store.ErrNotFound) {
			existing = pendingReturns{ScheduledAt: nil, Returns: map[string]struct{}{newReturn: {}}}
			existingEnc = existing.encode()
			alreadyPending = false
			if err := m.store.SetNewValue(ctx, key, existingEnc); err != nil {
				return err
			}
		} else if getErr != nil {
			return getErr
		} else {
			alreadyPending = true
			existing, err = decodePendingReturns(existingEnc)
			if err != nil {
				return err
			}
			if _, ok := existing.Returns[newReturn]; !ok {
				existing.Returns[newReturn] = struct{}{}
				storeAgain = true
			}
		}

		if existing.ScheduledAt == nil {
			if err := schedule(ctx); err != nil {
				return err
			}
			now := time.Now().Unix()
			existing.ScheduledAt = &now
			storeAgain = true
		}

		if storeAgain {
			return m.store.CompareAndSet(ctx, key, existing.encode(), existingEnc)
		}
		return nil
	})
	if err != nil {
		return alreadyPending, err
	}

	hasValue, err := m.HasValue(ctx, memoKey)
	if err != nil {
		return alreadyPending, err
	}
	if hasValue {
		return alreadyPending, wakeIfComplete(ctx)
	}
	return alreadyPending, nil
}

// HandlePendingReturns reads the set of parent return addresses currently
// waiting on memoKey, lets fn process them, and only then clears the
// record with a compare-and-delete against the snapshot it read. If fn
// returns an error, the record is left in place so a later worker retries
// the same returns; fn must therefore be idempotent per return address.
//
// A CompareAndDelete mismatch means a new parent registered itself
// between this attempt's Get and its delete, so WithCas retries fn
// against a fresh Get. Across those retries this accumulates a handled
// set and only ever passes fn the delta (the current Returns minus
// everything already handled), mirroring the original store's
// `to_handle = returns - handled; handled |= to_handle`. Without this,
// a retry would hand fn the full Returns set again and re-wake parents
// it already woke on the previous attempt.
//
// If no record exists, either no parent ever registered as a waiter or a
// concurrent execution of the same call already claimed and cleared the
// pending returns; fn is invoked with an empty set so callers can still
// run any unconditional follow-up logic.
func (m *Memory) HandlePendingReturns(ctx context.Context, memoKey string, fn func(ctx context.Context, toHandle []string) error) error {
	key := store.Key{Namespace: store.NamespacePendingReturns, ID: memoKey}

	handled := make(map[string]struct{})

	return m.WithCas(ctx, func() error {
		pendingEnc, getErr := m.store.Get(ctx, key)
		if errors.Is(getErr, store.ErrNotFound) {
			return fn(ctx, nil)
		}
		if getErr != nil {
			return getErr
		}
		pending, err := decodePendingReturns(pendingEnc)
		if err != nil {
			return err
		}
		toHandle := make([]string, 0, len(pending.Returns))
		for r := range pending.Returns {
			if _, done := handled[r]; done {
				continue
			}
			toHandle = append(toHandle, r)
		}
		sort.Strings(toHandle)
		if err := fn(ctx, toHandle); err != nil {
			return err
		}
		for _, r := range toHandle {
			handled[r] = struct{}{}
		}
		return m.store.CompareAndDelete(ctx, key, pendingEnc)
	})
}
