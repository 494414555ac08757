package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rzbill/brrr/internal/memory"
	"github.com/rzbill/brrr/internal/queue"
	"github.com/rzbill/brrr/pkg/log"
)

// Worker drains an Engine's queue and executes task bodies. Only one
// Worker may run against a given Engine at a time.
type Worker struct {
	engine *Engine
	logger log.Logger
}

// NewWorker builds a Worker for e.
func NewWorker(e *Engine) *Worker {
	return &Worker{engine: e, logger: e.logger.WithComponent("worker")}
}

// Run enters the worker loop: it blocks on the queue, dispatches each
// message to its task, and repeats until the queue is closed or an
// unrecoverable error occurs. It returns ErrWorkerAlreadyRunning
// immediately if another Worker is already running against the same
// Engine.
//
// A returned error other than nil (queue close returns nil) means this
// worker's loop aborted; because every mutation along the way is
// CAS-guarded and the queue is durable, a fresh Worker.Run against the
// same Engine is always sufficient to resume.
func (w *Worker) Run(ctx context.Context) error {
	if !w.engine.workerRunning.CompareAndSwap(false, true) {
		return ErrWorkerAlreadyRunning
	}
	defer w.engine.workerRunning.Store(false)

	w.logger.Info("worker loop starting")

	for {
		if err := ctx.Err(); err != nil {
			w.logger.Info("worker loop stopping", log.Err(err))
			return err
		}

		msg, err := w.engine.queue.GetMessage(ctx)
		if errors.Is(err, queue.ErrEmpty) {
			if err := w.waitBeforeRetry(ctx); err != nil {
				w.logger.Info("worker loop stopping", log.Err(err))
				return err
			}
			continue
		}
		if errors.Is(err, queue.ErrClosed) {
			w.logger.Info("worker loop stopping: queue closed")
			return nil
		}
		if err != nil {
			w.logger.Error("worker loop aborting on queue error", log.Err(err))
			return err
		}

		if err := w.handle(ctx, msg.Body); err != nil {
			w.logger.Error("worker loop aborting on handle error", log.Str("message", msg.Body), log.Err(err))
			return err
		}
	}
}

// waitBeforeRetry pauses for the engine's configured empty-poll interval,
// or returns ctx's error if it's cancelled first. Backends whose
// GetMessage returns immediately (rather than blocking) rely on this to
// avoid busy-spinning the CPU while the queue is idle.
func (w *Worker) waitBeforeRetry(ctx context.Context) error {
	timer := time.NewTimer(w.engine.emptyPollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (w *Worker) handle(ctx context.Context, body string) error {
	rootID, memoKey, err := splitRootMemoKey(body)
	if err != nil {
		return err
	}

	taskName, payload, err := w.engine.memory.GetCallBytes(ctx, memoKey)
	if err != nil {
		return err
	}

	task, ok := w.engine.lookupTask(taskName)
	if !ok {
		w.logger.Error("dequeued call for unregistered task", log.Str("root_id", rootID), log.Str("task", taskName))
		return ErrTaskNotFound
	}

	w.logger.Debug("dequeued call", log.Str("root_id", rootID), log.Str("task", taskName), log.Str("memo_key", memoKey))

	ictx := &InvocationContext{
		ctx:         ctx,
		engine:      w.engine,
		mode:        ModeWorker,
		rootID:      rootID,
		messageBody: body,
	}

	resultBytes, invokeErr := task.invokeBytes(ictx, payload)
	if invokeErr == nil {
		return w.complete(ctx, rootID, memoKey, resultBytes)
	}

	if d, ok := asDefer(invokeErr); ok {
		w.logger.Debug("call deferred on children",
			log.Str("root_id", rootID), log.Str("task", taskName), log.Int("children", len(d.Calls)))
		for _, childCall := range d.Calls {
			if err := w.engine.ScheduleCallNested(ctx, childCall, rootID, body); err != nil {
				return err
			}
		}
		return nil
	}

	w.logger.Error("call failed", log.Str("root_id", rootID), log.Str("task", taskName), log.Err(invokeErr))
	return invokeErr
}

// complete persists a task body's successful return and wakes every
// parent waiting on it. A concurrent duplicate execution racing to set
// the same value is expected and swallowed: memoization guarantees
// exactly one of the two results wins, and pending-returns wakeups are
// idempotent regardless of which one it was.
func (w *Worker) complete(ctx context.Context, rootID, memoKey string, resultBytes []byte) error {
	if err := w.engine.memory.SetValue(ctx, memoKey, resultBytes); err != nil {
		if !errors.Is(err, memory.ErrAlreadyExists) {
			return err
		}
	}

	woke := 0
	err := w.engine.memory.HandlePendingReturns(ctx, memoKey, func(ctx context.Context, toHandle []string) error {
		for _, parentRef := range toHandle {
			parentRootID, parentMemoKey, err := splitRootMemoKey(parentRef)
			if err != nil {
				return err
			}
			if err := w.engine.PutJob(ctx, parentMemoKey, parentRootID); err != nil {
				return err
			}
			woke++
		}
		return nil
	})
	if err != nil {
		return err
	}
	w.logger.Debug("call completed", log.Str("root_id", rootID), log.Str("memo_key", memoKey), log.Int("parents_woken", woke))
	return nil
}
