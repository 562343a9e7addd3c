// Package recvqueue implements the receive side of spec.md §3 and §4.6:
// ordering of inbound Data messages, duplicate/window classification, and
// the pending-ACK set feeding a connection's next outbound header or EAck.
package recvqueue

import (
	"github.com/brisknet/rudp/internal/seqnum"
)

// DefaultWindowSize is the number of entries ahead of the last in-order
// sequence number that are accepted as Current, per spec.md §4.6.
const DefaultWindowSize = 512

// pendingEntry is one out-of-order Data message buffered until the gap
// before it closes.
type pendingEntry struct {
	seq  seqnum.Num
	data []byte
}

// Queue reorders inbound Data payloads into delivery order and tracks
// which sequence numbers are owed an acknowledgement. It is owned by a
// single connection worker goroutine; no internal locking (spec.md §5).
type Queue struct {
	windowSize uint32

	lastInOrder seqnum.Num
	haveFirst   bool

	pending map[seqnum.Num][]byte

	// pendingAcks holds every sequence number received since the last ack
	// was sent, used both to build the cumulative Ack field and the
	// selective-ack ranges of an EAck (spec.md §4.6).
	pendingAcks map[seqnum.Num]struct{}
}

// New creates a queue expecting firstSeqnum as the first sequence number
// of the stream (normally one past the peer's handshake Syn seqnum).
func New(firstSeqnum seqnum.Num, windowSize uint32) *Queue {
	if windowSize == 0 {
		windowSize = DefaultWindowSize
	}
	return &Queue{
		windowSize:  windowSize,
		lastInOrder: firstSeqnum.Pred(),
		pending:     make(map[seqnum.Num][]byte),
		pendingAcks: make(map[seqnum.Num]struct{}),
	}
}

// Accept classifies and, if appropriate, buffers one inbound Data
// message's payload. It returns the in-order payloads now ready for
// delivery (possibly more than one, if seq closed a gap), in sequence
// order.
func (q *Queue) Accept(seq seqnum.Num, payload []byte) [][]byte {
	class := seqnum.Classify(seq, q.lastInOrder, q.windowSize)
	switch class {
	case seqnum.Unknown:
		return nil
	case seqnum.Previous:
		// Already delivered (or already buffered and then delivered);
		// still owed an ack so the peer's retransmission stops.
		q.pendingAcks[seq] = struct{}{}
		return nil
	}

	q.pendingAcks[seq] = struct{}{}

	if seq == q.lastInOrder.Succ() {
		out := [][]byte{payload}
		q.lastInOrder = seq
		for {
			next := q.lastInOrder.Succ()
			buf, ok := q.pending[next]
			if !ok {
				break
			}
			delete(q.pending, next)
			out = append(out, buf)
			q.lastInOrder = next
		}
		return out
	}

	if _, dup := q.pending[seq]; !dup {
		q.pending[seq] = append([]byte(nil), payload...)
	}
	return nil
}

// LastInOrder returns the highest contiguous sequence number delivered so
// far, the value placed in the cumulative Ack field of every outbound
// header (spec.md §4.2).
func (q *Queue) LastInOrder() seqnum.Num {
	return q.lastInOrder
}

// PendingRanges computes the selective-ack ranges covering every
// out-of-order sequence number received since the last flush, collapsing
// adjacent numbers into contiguous [begin,end] runs, per spec.md §4.6's
// EAck construction. It does not clear the pending set; call Flush for
// that once the EAck has actually been sent.
func (q *Queue) PendingRanges(maxRanges int) []AckRange {
	if len(q.pendingAcks) == 0 {
		return nil
	}
	seqs := make([]seqnum.Num, 0, len(q.pendingAcks))
	for s := range q.pendingAcks {
		seqs = append(seqs, s)
	}
	sortNums(seqs)

	var ranges []AckRange
	i := 0
	for i < len(seqs) {
		begin := seqs[i]
		end := begin
		j := i + 1
		for j < len(seqs) && seqs[j] == end.Succ() {
			end = seqs[j]
			j++
		}
		ranges = append(ranges, AckRange{Begin: begin, End: end})
		i = j
		if maxRanges > 0 && len(ranges) >= maxRanges {
			break
		}
	}
	return ranges
}

// AckRange mirrors wire.AckRange; duplicated here (rather than imported)
// to keep this package independent of the codec, matching the teacher's
// separation between protocol state and framing.
type AckRange struct {
	Begin seqnum.Num
	End   seqnum.Num
}

// Flush clears the pending-ack set after the caller has emitted an
// acknowledgement covering it.
func (q *Queue) Flush() {
	q.pendingAcks = make(map[seqnum.Num]struct{})
}

// HasPendingAcks reports whether any sequence number is owed an
// acknowledgement since the last Flush.
func (q *Queue) HasPendingAcks() bool {
	return len(q.pendingAcks) > 0
}

// PendingCount returns the number of out-of-order messages buffered
// awaiting a gap to close, exposed for flow-control and test assertions.
func (q *Queue) PendingCount() int {
	return len(q.pending)
}

// sortNums is a small insertion sort; the pending-ack set is expected to
// stay tiny (bounded by the receive window), so an O(n^2) sort avoids
// pulling in sort.Slice's reflection overhead for what is usually a
// handful of entries.
func sortNums(s []seqnum.Num) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && less(s[j], s[j-1]); j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

func less(a, b seqnum.Num) bool {
	return a.Diff(b) < 0
}
