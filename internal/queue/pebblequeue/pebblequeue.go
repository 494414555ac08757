// Package pebblequeue is a durable, single-process queue.Queue backed by
// github.com/cockroachdb/pebble: messages are appended under a
// monotonically increasing sequence key and framed with a length-prefixed,
// CRC32-Castagnoli-checked record, the same on-disk shape as
// EncodeMessage/DecodeMessage in internal/workqueue. Leasing, priority and
// delayed delivery are dropped: the runtime's delivery contract only asks
// for at-least-once, order-insensitive fan-out, so a plain durable FIFO
// with no in-flight bookkeeping is sufficient and considerably simpler.
package pebblequeue

import (
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/rzbill/brrr/internal/queue"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// encodeRecord frames body as length-prefixed bytes plus a trailing
// crc32c checksum.
func encodeRecord(body string) []byte {
	b := []byte(body)
	out := make([]byte, 0, 4+len(b)+4)
	var lb [4]byte
	binary.BigEndian.PutUint32(lb[:], uint32(len(b)))
	out = append(out, lb[:]...)
	out = append(out, b...)
	crc := crc32.Checksum(b, castagnoli)
	var cb [4]byte
	binary.BigEndian.PutUint32(cb[:], crc)
	out = append(out, cb[:]...)
	return out
}

func decodeRecord(raw []byte) (string, bool) {
	if len(raw) < 8 {
		return "", false
	}
	blen := binary.BigEndian.Uint32(raw[:4])
	if int(4+blen+4) != len(raw) {
		return "", false
	}
	body := raw[4 : 4+blen]
	expect := binary.BigEndian.Uint32(raw[4+blen:])
	if crc32.Checksum(body, castagnoli) != expect {
		return "", false
	}
	return string(body), true
}

const (
	msgPrefix   = "q/msg/"
	metaHeadKey = "q/meta/head"
	metaTailKey = "q/meta/tail"
	closedKey   = "q/meta/closed"
)

func seqKey(seq uint64) []byte {
	key := make([]byte, len(msgPrefix)+8)
	copy(key, msgPrefix)
	binary.BigEndian.PutUint64(key[len(msgPrefix):], seq)
	return key
}

// Queue is a durable FIFO: PutMessage appends at an increasing sequence
// number under msgPrefix, GetMessage consumes from the oldest
// unconsumed sequence number forward. head/tail counters are persisted
// so the queue resumes correctly across restarts.
type Queue struct {
	db *pebble.DB

	mu   sync.Mutex
	head uint64 // next sequence number to read
	tail uint64 // next sequence number to write
}

// Open opens (or creates) a durable queue rooted at dataDir.
func Open(dataDir string) (*Queue, error) {
	db, err := pebble.Open(dataDir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	q := &Queue{db: db}
	if v, closer, err := db.Get([]byte(metaHeadKey)); err == nil {
		q.head = binary.BigEndian.Uint64(v)
		closer.Close()
	}
	if v, closer, err := db.Get([]byte(metaTailKey)); err == nil {
		q.tail = binary.BigEndian.Uint64(v)
		closer.Close()
	}
	return q, nil
}

// Release closes the underlying Pebble handle. It does not mark the
// queue closed; a process reopening the same directory will resume
// serving whatever was left unconsumed.
func (q *Queue) Release() error {
	return q.db.Close()
}

func (q *Queue) isClosed() (bool, error) {
	_, closer, err := q.db.Get([]byte(closedKey))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	closer.Close()
	return true, nil
}

func putUint64(b *pebble.Batch, key string, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return b.Set([]byte(key), buf[:], nil)
}

func (q *Queue) PutMessage(_ context.Context, body string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if closed, err := q.isClosed(); err != nil {
		return err
	} else if closed {
		return queue.ErrClosed
	}

	seq := q.tail
	b := q.db.NewBatch()
	defer b.Close()
	if err := b.Set(seqKey(seq), encodeRecord(body), nil); err != nil {
		return err
	}
	if err := putUint64(b, metaTailKey, seq+1); err != nil {
		return err
	}
	if err := q.db.Apply(b, pebble.NoSync); err != nil {
		return err
	}
	q.tail = seq + 1
	return nil
}

func (q *Queue) GetMessage(_ context.Context) (queue.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head >= q.tail {
		if closed, err := q.isClosed(); err != nil {
			return queue.Message{}, err
		} else if closed {
			return queue.Message{}, queue.ErrClosed
		}
		return queue.Message{}, queue.ErrEmpty
	}

	seq := q.head
	raw, closer, err := q.db.Get(seqKey(seq))
	if err != nil {
		return queue.Message{}, err
	}
	body, ok := decodeRecord(raw)
	closer.Close()
	if !ok {
		return queue.Message{}, errors.New("pebblequeue: corrupt record")
	}

	b := q.db.NewBatch()
	defer b.Close()
	if err := b.Delete(seqKey(seq), nil); err != nil {
		return queue.Message{}, err
	}
	if err := putUint64(b, metaHeadKey, seq+1); err != nil {
		return queue.Message{}, err
	}
	if err := q.db.Apply(b, pebble.NoSync); err != nil {
		return queue.Message{}, err
	}
	q.head = seq + 1
	return queue.Message{Body: body}, nil
}

func (q *Queue) GetInfo(_ context.Context) (queue.Info, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return queue.Info{Length: int(q.tail - q.head)}, nil
}

// Close durably marks the queue closed so every future GetMessage call,
// including from a process that reopens this directory later, sees
// ErrClosed once the backlog is drained. It satisfies queue.Queue; use
// Release to free the Pebble handle.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.db.Set([]byte(closedKey), []byte{1}, pebble.Sync)
}
