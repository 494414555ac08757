// Package memqueue provides a closable, in-process FIFO queue used by
// tests and the in-memory demo configuration. It is grounded on the
// original engine's InMemoryQueue and the test suite's
// ClosableInMemQueue: a deque with no receipts, plus a close signal that
// unblocks every waiter, current and future.
package memqueue

import (
	"context"
	"sync"

	"github.com/rzbill/brrr/internal/queue"
)

// Queue is a mutex-guarded FIFO of message bodies.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []string
	closed bool
}

// New creates an empty, open Queue.
func New() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *Queue) PutMessage(_ context.Context, body string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return queue.ErrClosed
	}
	q.items = append(q.items, body)
	q.cond.Broadcast()
	return nil
}

// GetMessage returns the oldest message, queue.ErrEmpty if none is
// currently available, or queue.ErrClosed once Close has been called and
// the backlog is drained. Unlike a network-backed adapter this
// implementation never actually blocks for a bounded wait: an empty,
// open, in-process queue returns ErrEmpty immediately, since there is no
// network round trip to amortize. Callers (the worker loop) re-poll on
// ErrEmpty exactly as they would against a real bounded-wait adapter.
func (q *Queue) GetMessage(ctx context.Context) (queue.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		if q.closed {
			return queue.Message{}, queue.ErrClosed
		}
		return queue.Message{}, queue.ErrEmpty
	}
	body := q.items[0]
	q.items = q.items[1:]
	return queue.Message{Body: body}, nil
}

func (q *Queue) GetInfo(_ context.Context) (queue.Info, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return queue.Info{Length: len(q.items)}, nil
}

// Close is idempotent: closing twice is a no-op.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
	return nil
}

// Closing reports whether Close has been called, for callers (e.g. a
// task body under test) that need to avoid calling Close twice.
func (q *Queue) Closing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Wait blocks until the queue is both closed and empty, mirroring the
// test suite's queue.join(). It exists to let tests deterministically
// wait for the worker loop to drain and exit instead of racing on
// goroutine completion.
//
// cond.Wait only wakes on PutMessage/Close's Broadcast, so a cancelled
// ctx with no further queue activity would otherwise hang past
// cancellation; context.AfterFunc registers a Broadcast on ctx's own
// cancellation so the loop below always wakes to re-check ctx.Err().
func (q *Queue) Wait(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.cond.Broadcast()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.closed && len(q.items) == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		q.cond.Wait()
	}
}
