package memory

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// pendingReturns mirrors the original engine's PendingReturns dataclass:
// the set of parent return addresses waiting on a child call, plus the
// timestamp at which the child was scheduled (nil until some worker has
// scheduled it).
type pendingReturns struct {
	ScheduledAt *int64
	Returns     map[string]struct{}
}

// No bencode implementation turned up anywhere in the retrieved corpus,
// so this is a hand-rolled, deterministic length-prefixed encoding rather
// than a port of the original's bencodepy-based one. It keeps the same
// two fields, writes an unscheduled (nil) ScheduledAt as -1, and sorts
// returns before encoding so compare-and-set sees byte-identical records
// for byte-identical sets, matching bencodepy.encode(sorted(...)).
//
// Layout: scheduledAt int64 BE (-1 = unscheduled) | count uint32 BE |
// count * (len uint32 BE | bytes).
func (p pendingReturns) encode() []byte {
	scheduledAt := int64(-1)
	if p.ScheduledAt != nil {
		scheduledAt = *p.ScheduledAt
	}

	returns := make([]string, 0, len(p.Returns))
	for r := range p.Returns {
		returns = append(returns, r)
	}
	sort.Strings(returns)

	out := make([]byte, 0, 12+len(returns)*8)
	var hdr [12]byte
	binary.BigEndian.PutUint64(hdr[0:8], uint64(scheduledAt))
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(returns)))
	out = append(out, hdr[:]...)
	for _, r := range returns {
		var lb [4]byte
		binary.BigEndian.PutUint32(lb[:], uint32(len(r)))
		out = append(out, lb[:]...)
		out = append(out, r...)
	}
	return out
}

func decodePendingReturns(enc []byte) (pendingReturns, error) {
	if len(enc) < 12 {
		return pendingReturns{}, fmt.Errorf("memory: pending_returns record too short (%d bytes)", len(enc))
	}
	scheduledAt := int64(binary.BigEndian.Uint64(enc[0:8]))
	count := binary.BigEndian.Uint32(enc[8:12])

	returns := make(map[string]struct{}, count)
	off := 12
	for i := uint32(0); i < count; i++ {
		if off+4 > len(enc) {
			return pendingReturns{}, fmt.Errorf("memory: pending_returns record truncated")
		}
		l := int(binary.BigEndian.Uint32(enc[off : off+4]))
		off += 4
		if off+l > len(enc) {
			return pendingReturns{}, fmt.Errorf("memory: pending_returns record truncated")
		}
		returns[string(enc[off:off+l])] = struct{}{}
		off += l
	}

	p := pendingReturns{Returns: returns}
	if scheduledAt != -1 {
		p.ScheduledAt = &scheduledAt
	}
	return p, nil
}

// encodeCallRecord/decodeCallRecord persist a call's task name alongside
// its already-marshaled argument bytes, so any worker can rehydrate and
// execute the call from its memo key alone. Length-prefixed for the same
// reason as pendingReturns: no bencode library is available in the
// corpus, and the task name can contain arbitrary bytes in principle.
func encodeCallRecord(taskName string, args []byte) []byte {
	out := make([]byte, 0, 4+len(taskName)+len(args))
	var lb [4]byte
	binary.BigEndian.PutUint32(lb[:], uint32(len(taskName)))
	out = append(out, lb[:]...)
	out = append(out, taskName...)
	out = append(out, args...)
	return out
}

func decodeCallRecord(enc []byte) (taskName string, args []byte, err error) {
	if len(enc) < 4 {
		return "", nil, fmt.Errorf("memory: call record too short (%d bytes)", len(enc))
	}
	l := int(binary.BigEndian.Uint32(enc[0:4]))
	if 4+l > len(enc) {
		return "", nil, fmt.Errorf("memory: call record truncated")
	}
	taskName = string(enc[4 : 4+l])
	args = append([]byte(nil), enc[4+l:]...)
	return taskName, args, nil
}
