// Package engine implements the recursive-task scheduler: task
// registration, the direct/worker dispatch split, the fan-in Defer/Gather
// protocol, root-workflow scheduling, spawn-limit accounting, and the
// worker loop that ties them all to a Store and a Queue.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rzbill/brrr/internal/codec"
	"github.com/rzbill/brrr/internal/memory"
	"github.com/rzbill/brrr/internal/queue"
	"github.com/rzbill/brrr/internal/rootid"
	"github.com/rzbill/brrr/internal/store"
	"github.com/rzbill/brrr/pkg/log"
)

// DefaultSpawnLimit bounds the number of queue enqueues permitted within
// a single root workflow.
const DefaultSpawnLimit = 500

// DefaultEmptyPollInterval is how long Worker.Run waits between GetMessage
// retries after an ErrEmpty, for queue backends (like the durable one)
// whose GetMessage returns immediately instead of blocking.
const DefaultEmptyPollInterval = 50 * time.Millisecond

// Engine ties a Store and a Queue together through Memory and a Codec,
// and holds the task registry that the worker loop dispatches against.
type Engine struct {
	memory *memory.Memory
	queue  queue.Queue
	codec  codec.Codec

	spawnLimit        int64
	emptyPollInterval time.Duration
	logger            log.Logger

	mu    sync.RWMutex
	tasks map[string]registeredTask

	workerRunning atomic.Bool
}

// Options configures New.
type Options struct {
	// SpawnLimit bounds enqueues per root workflow. <= 0 uses
	// DefaultSpawnLimit.
	SpawnLimit int64
	// CasRetryLimit bounds Memory's compare-and-swap retry loop. <= 0
	// uses memory.DefaultCasRetryLimit.
	CasRetryLimit int
	// EmptyPollInterval is how long Worker.Run waits before retrying
	// GetMessage after ErrEmpty. <= 0 uses DefaultEmptyPollInterval.
	EmptyPollInterval time.Duration
	// Logger receives structured events from the engine and the worker
	// loop. Defaults to an info-level logger with a null output, so
	// passing nothing discards every entry after it is formatted.
	Logger log.Logger
}

// New builds an Engine over s and q using c to derive memo keys and
// marshal task arguments and results.
func New(s store.Store, q queue.Queue, c codec.Codec, opts Options) *Engine {
	spawnLimit := opts.SpawnLimit
	if spawnLimit <= 0 {
		spawnLimit = DefaultSpawnLimit
	}
	pollInterval := opts.EmptyPollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultEmptyPollInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewLogger(log.WithOutput(log.NullOutput{}))
	}
	return &Engine{
		memory:            memory.New(s, c, opts.CasRetryLimit),
		queue:             q,
		codec:             c,
		spawnLimit:        spawnLimit,
		emptyPollInterval: pollInterval,
		logger:            logger.WithComponent("engine"),
		tasks:             make(map[string]registeredTask),
	}
}

// DirectContext builds an InvocationContext for running task bodies
// synchronously, outside any worker: no Store or Queue I/O occurs, and
// Task.Call always executes the body locally instead of memoizing.
func (e *Engine) DirectContext(ctx context.Context) *InvocationContext {
	return &InvocationContext{ctx: ctx, engine: e, mode: ModeDirect}
}

func (e *Engine) lookupTask(name string) (registeredTask, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.tasks[name]
	return t, ok
}

// PutJob increments the spawn counter for rootID and, if the result is
// within the configured spawn limit, enqueues "rootID/memoKey". Exceeding
// the limit returns ErrSpawnLimit; the counter increment (and thus the
// durable state) is retained regardless, since the counter's whole
// purpose is to reflect exactly how many enqueue attempts were made.
func (e *Engine) PutJob(ctx context.Context, memoKey, rootID string) error {
	n, err := e.memory.IncrCounter(ctx, "count/"+rootID)
	if err != nil {
		return err
	}
	if n > e.spawnLimit {
		e.logger.Warn("spawn limit exceeded",
			log.Str("root_id", rootID), log.Str("memo_key", memoKey), log.Int64("count", n), log.Int64("limit", e.spawnLimit))
		return ErrSpawnLimit
	}
	return e.queue.PutMessage(ctx, rootID+"/"+memoKey)
}

// Schedule starts a new root workflow for taskName(argsJSON), unless a
// call record already exists for this exact memo key, in which case
// scheduling is a no-op, since the call is already in progress or
// complete under whatever root originally scheduled it. On a fresh
// schedule it returns the newly assigned root identifier.
func (e *Engine) Schedule(ctx context.Context, taskName string, argsJSON []byte) (rootID string, err error) {
	call, err := e.memory.MakeCall(taskName, argsJSON)
	if err != nil {
		return "", err
	}
	has, err := e.memory.HasCall(ctx, call.MemoKey)
	if err != nil {
		return "", err
	}
	if has {
		return "", nil
	}

	rootID, err = rootid.New()
	if err != nil {
		return "", err
	}
	if err := e.memory.SetCall(ctx, call); err != nil {
		return "", err
	}
	if err := e.PutJob(ctx, call.MemoKey, rootID); err != nil {
		return "", err
	}
	e.logger.Info("scheduled root workflow", log.Str("root_id", rootID), log.Str("task", taskName))
	return rootID, nil
}

// ScheduleCallNested registers a child call discovered by a deferring
// parent: it persists the child's call record and registers parentRef
// (the parent's full "rootId/memoKey" message body) as a waiter, wiring
// the schedule callback to PutJob so the child is enqueued exactly once
// regardless of how many parents defer on it concurrently, and the
// wake-if-complete callback to re-enqueue parentRef directly if the
// child's value already exists by the time this registration lands.
func (e *Engine) ScheduleCallNested(ctx context.Context, childCall codec.Call, rootID, parentRef string) error {
	if err := e.memory.SetCall(ctx, childCall); err != nil {
		return err
	}
	alreadyPending, err := e.memory.AddPendingReturn(ctx, childCall.MemoKey, parentRef,
		func(ctx context.Context) error {
			return e.PutJob(ctx, childCall.MemoKey, rootID)
		},
		func(ctx context.Context) error {
			return e.wakeParentRef(ctx, parentRef)
		},
	)
	if err != nil {
		return err
	}
	e.logger.Debug("registered child call",
		log.Str("root_id", rootID), log.Str("memo_key", childCall.MemoKey), log.Bool("already_pending", alreadyPending))
	return nil
}

// wakeParentRef re-enqueues the parent named by a full "rootId/memoKey"
// message body through PutJob, exactly as a normal completion wakeup
// does, so the spawn counter reflects every enqueue regardless of which
// code path triggered it.
func (e *Engine) wakeParentRef(ctx context.Context, parentRef string) error {
	rootID, memoKey, err := splitRootMemoKey(parentRef)
	if err != nil {
		return err
	}
	e.logger.Debug("waking parent", log.Str("root_id", rootID), log.Str("memo_key", memoKey))
	return e.PutJob(ctx, memoKey, rootID)
}

// Read looks up the memoized result of taskName(argsJSON) from a client,
// without scheduling anything. It returns store.ErrNotFound if the call
// hasn't completed yet.
func (e *Engine) Read(ctx context.Context, taskName string, argsJSON []byte) ([]byte, error) {
	call, err := e.memory.MakeCall(taskName, argsJSON)
	if err != nil {
		return nil, err
	}
	return e.memory.GetValue(ctx, call.MemoKey)
}

// splitRootMemoKey parses a queue message body (or pending_returns
// parent reference) of the form "rootId/memoKey" by splitting on the
// first "/". Root ids are base64url without padding and memo keys are
// hex digests, so neither half ever contains "/" itself.
func splitRootMemoKey(body string) (rootID, memoKey string, err error) {
	idx := strings.IndexByte(body, '/')
	if idx < 0 {
		return "", "", fmt.Errorf("engine: malformed message body %q", body)
	}
	return body[:idx], body[idx+1:], nil
}
