// Package sendqueue implements the reliability engine of spec.md §4.5:
// sequencing, retransmission, selective/cumulative ACK processing, and
// flow control for one connection's outbound byte and control traffic.
package sendqueue

import (
	"time"

	"github.com/brisknet/rudp/internal/seqnum"
	"github.com/brisknet/rudp/internal/stats"
	"github.com/brisknet/rudp/internal/wire"
)

// Entry is one queued, possibly-in-flight outbound message, per the
// SendQueue entry data model of spec.md §3. Msg carries the message's
// fixed content (type, seqnum, type-specific fields); its Ack field is
// refreshed by the Sender immediately before every transmission, since a
// message may sit in the queue across several changes to the connection's
// cumulative receive position.
type Entry struct {
	Msg        *wire.Message
	Tries      int
	TimeSent   time.Time
	TimeLastTx time.Time
	Bytes      int
	Acked      bool
	TimeAcked  time.Time
}

// Type is a convenience accessor for the queued message's type.
func (e *Entry) Type() wire.Type { return e.Msg.Type }

// Seqnum is a convenience accessor for the queued message's sequence
// number.
func (e *Entry) Seqnum() seqnum.Num { return e.Msg.Seqnum }

// Sender transmits one already-sequenced entry; implementations encode
// and hand the datagram to the socket. Queue calls it both for the
// initial best-effort send and for every retransmission.
type Sender interface {
	SendEntry(e *Entry) error
}

// PeerWindow is the receiver-advertised flow-control window from the
// peer's most recent State message (spec.md §4.5).
type PeerWindow struct {
	MaxItems uint32
	MaxBytes uint32
}

// Queue is the per-connection send queue. Like a Connection, it is owned
// by exactly one worker goroutine and carries no internal locking
// (spec.md §5).
type Queue struct {
	sender Sender
	stats  *stats.RTTEstimator
	window *stats.WindowEstimator

	mtu int

	entries []*Entry
	next    seqnum.Num

	bytesInQueue int

	peer PeerWindow

	lastWindowSample time.Time
}

// New creates an empty queue seeded with startSeqnum as the first
// sequence number it will assign, per spec.md §3's "seeded with a
// uniformly random starting value".
func New(sender Sender, rtt *stats.RTTEstimator, window *stats.WindowEstimator, mtu int, startSeqnum seqnum.Num) *Queue {
	return &Queue{
		sender: sender,
		stats:  rtt,
		window: window,
		mtu:    mtu,
		next:   startSeqnum,
		peer:   PeerWindow{MaxItems: ^uint32(0), MaxBytes: ^uint32(0)},
	}
}

// SetMTU updates the maximum message size used for flow-control
// arithmetic, called after a confirmed MTU change (spec.md §4.6).
func (q *Queue) SetMTU(mtu int) {
	q.mtu = mtu
}

// SetPeerWindow records the peer's advertised receive window from a
// State message.
func (q *Queue) SetPeerWindow(w PeerWindow) {
	q.peer = w
}

// congestionWindowBytes is min(mtu_window * mtu, peer-advertised max
// bytes), per spec.md §4.5.
func (q *Queue) congestionWindowBytes() int {
	cw := int(q.window.Segments() * float64(q.mtu))
	if q.peer.MaxBytes < ^uint32(0) && int(q.peer.MaxBytes) < cw {
		cw = int(q.peer.MaxBytes)
	}
	return cw
}

// AvailableBytes returns the byte budget left before flow control must
// hold back new sends: window - bytes_in_queue, or 0 once the peer's
// advertised item limit is reached.
func (q *Queue) AvailableBytes() int {
	if q.peer.MaxItems < ^uint32(0) && uint32(len(q.entries)) >= q.peer.MaxItems {
		return 0
	}
	avail := q.congestionWindowBytes() - q.bytesInQueue
	if avail < 0 {
		return 0
	}
	return avail
}

// NextSeqnum returns the sequence number Add will assign to the next
// entry, without consuming it.
func (q *Queue) NextSeqnum() seqnum.Num {
	return q.next
}

// Add assigns the next sequence number to msg, sends it immediately (best
// effort), and appends it to the queue. msg's Ack/HasAck fields are
// overwritten by the Sender on every transmission, including this first
// one; callers need not set them.
func (q *Queue) Add(now time.Time, msg *wire.Message) *Entry {
	msg.HasSeqnum = true
	msg.Seqnum = q.next
	q.next = q.next.Succ()

	e := &Entry{
		Msg:   msg,
		Bytes: payloadSize(msg),
	}
	q.entries = append(q.entries, e)
	q.bytesInQueue += e.Bytes

	e.Tries = 1
	e.TimeSent = now
	e.TimeLastTx = now
	if err := q.sender.SendEntry(e); err != nil {
		// Best-effort: a failed initial send is recovered by the
		// retransmission tick like any other loss.
		e.Tries = 0
	}
	return e
}

// payloadSize estimates an entry's contribution to bytes_in_queue from
// its message's type-specific payload, used for flow-control accounting
// (spec.md §3's bytes_in_queue invariant).
func payloadSize(m *wire.Message) int {
	switch m.Type {
	case wire.TypeData:
		return len(m.Data)
	case wire.TypeEAck:
		return len(m.Ranges) * 4
	default:
		return wire.HeaderSize
	}
}

// Retransmit scans the queue front-to-back, re-sending any entry whose
// RTO has elapsed (or that has never been sent), per spec.md §4.5. It
// returns the number of entries retransmitted (excluding first-time
// sends), for callers that surface a retransmission counter.
func (q *Queue) Retransmit(now time.Time) int {
	rto := q.stats.RTO()
	var lostBytes, retransmitted int
	for _, e := range q.entries {
		if e.Acked {
			continue
		}
		due := e.Tries == 0 || now.Sub(e.TimeLastTx) >= rto*time.Duration(e.Tries)
		if !due {
			continue
		}
		if e.Tries > 0 {
			lostBytes += e.Bytes
			retransmitted++
			q.stats.RecordLoss(now)
		}
		if err := q.sender.SendEntry(e); err != nil {
			continue
		}
		e.TimeLastTx = now
		if e.Tries == 0 {
			e.TimeSent = now
		}
		e.Tries++
	}

	var lostUnits float64
	if q.mtu > 0 {
		lostUnits = float64(lostBytes) / float64(q.mtu)
	}
	q.window.OnLoss(now, lostUnits)
	if now.Sub(q.lastWindowSample) >= q.stats.StoredRTT() {
		q.window.Sample(now)
		q.lastWindowSample = now
	}
	return retransmitted
}

// AckInOrder processes the cumulative ACK number carried in any message's
// fixed header: every queued entry with Seqnum <= ack is marked
// acknowledged, RTT is sampled per Karn's algorithm, and a contiguous
// acked prefix is purged from the front of the queue.
func (q *Queue) AckInOrder(now time.Time, ack seqnum.Num) {
	for _, e := range q.entries {
		if e.Acked {
			continue
		}
		if !e.Seqnum().LessOrEqual(ack) {
			continue
		}
		q.markAcked(now, e)
	}
	q.window.OnAck(now)
	q.purge()
}

// AckRanges processes the selectively-acknowledged ranges of an EAck
// message: every entry whose sequence number falls in any [begin,end]
// range is marked acknowledged, subject to the same Karn's-algorithm RTT
// recording, followed by a purge.
func (q *Queue) AckRanges(now time.Time, ranges []wire.AckRange) {
	for _, r := range ranges {
		for _, e := range q.entries {
			if e.Acked {
				continue
			}
			if inRange(e.Seqnum(), r) {
				q.markAcked(now, e)
				q.window.OnAck(now)
			}
		}
	}
	q.purge()
}

func inRange(s seqnum.Num, r wire.AckRange) bool {
	return r.Begin.LessOrEqual(s) && s.LessOrEqual(r.End)
}

func (q *Queue) markAcked(now time.Time, e *Entry) {
	e.Acked = true
	e.TimeAcked = now
	if e.Tries == 1 {
		q.stats.RecordSample(now.Sub(e.TimeSent))
		q.stats.ResetLossFactor()
	}
}

// purge removes the longest contiguous acknowledged prefix from the
// front of the queue, maintaining the invariant that bytes_in_queue
// equals the sum of the remaining entries' payload sizes.
func (q *Queue) purge() {
	i := 0
	for i < len(q.entries) && q.entries[i].Acked {
		q.bytesInQueue -= q.entries[i].Bytes
		i++
	}
	if i == 0 {
		return
	}
	remaining := make([]*Entry, len(q.entries)-i)
	copy(remaining, q.entries[i:])
	q.entries = remaining
}

// Len reports the number of entries still queued (acked or not).
func (q *Queue) Len() int {
	return len(q.entries)
}

// BytesInQueue reports the sum of payload sizes of entries still queued,
// for tests asserting the spec.md §3 invariant.
func (q *Queue) BytesInQueue() int {
	return q.bytesInQueue
}

// Reset discards all queued entries and rewinds the sequence counter,
// used when a Cookie reply forces the outbound handshake side to
// re-emit its Syn (spec.md §4.5 "Cookie retransmission").
func (q *Queue) Reset(startSeqnum seqnum.Num) {
	for _, e := range q.entries {
		q.bytesInQueue -= e.Bytes
	}
	q.entries = nil
	q.next = startSeqnum
}

// Entries exposes the live queue for tests; callers must not mutate the
// returned slice.
func (q *Queue) Entries() []*Entry {
	return q.entries
}

