package sendqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brisknet/rudp/internal/seqnum"
	"github.com/brisknet/rudp/internal/stats"
	"github.com/brisknet/rudp/internal/wire"
)

type fakeSender struct {
	sent   []*Entry
	reject bool
}

func (f *fakeSender) SendEntry(e *Entry) error {
	f.sent = append(f.sent, e)
	if f.reject {
		return assert.AnError
	}
	return nil
}

func newQueue(sender Sender) *Queue {
	return New(sender, stats.NewRTTEstimator(), stats.NewWindowEstimator(), 512, seqnum.Num(0))
}

func dataMsg(payload string) *wire.Message {
	return &wire.Message{Type: wire.TypeData, HasAck: true, Data: []byte(payload)}
}

func TestAddAssignsSequentialSeqnumsAndSendsImmediately(t *testing.T) {
	sender := &fakeSender{}
	q := newQueue(sender)

	e1 := q.Add(time.Now(), dataMsg("a"))
	e2 := q.Add(time.Now(), dataMsg("bb"))

	assert.Equal(t, seqnum.Num(0), e1.Seqnum())
	assert.Equal(t, seqnum.Num(1), e2.Seqnum())
	assert.Len(t, sender.sent, 2)
	assert.Equal(t, 3, q.BytesInQueue())
}

func TestAckInOrderMarksAndPurgesPrefix(t *testing.T) {
	sender := &fakeSender{}
	q := newQueue(sender)

	q.Add(time.Now(), dataMsg("a"))
	q.Add(time.Now(), dataMsg("b"))
	q.Add(time.Now(), dataMsg("c"))
	require.Equal(t, 3, q.Len())

	q.AckInOrder(time.Now(), seqnum.Num(1))

	assert.Equal(t, 1, q.Len(), "entries 0 and 1 purged, entry 2 remains")
	assert.Equal(t, 1, q.BytesInQueue())
}

func TestAckRangesMarksNonContiguousEntries(t *testing.T) {
	sender := &fakeSender{}
	q := newQueue(sender)

	q.Add(time.Now(), dataMsg("a"))
	q.Add(time.Now(), dataMsg("b"))
	q.Add(time.Now(), dataMsg("c"))

	q.AckRanges(time.Now(), []wire.AckRange{{Begin: seqnum.Num(2), End: seqnum.Num(2)}})

	entries := q.Entries()
	require.Len(t, entries, 3, "purge only removes from the front; entry 0 still unacked")
	assert.False(t, entries[0].Acked)
	assert.False(t, entries[1].Acked)
	assert.True(t, entries[2].Acked)
}

func TestRetransmitResendsAfterRTO(t *testing.T) {
	sender := &fakeSender{}
	q := newQueue(sender)
	start := time.Now()
	q.Add(start, dataMsg("a"))
	require.Len(t, sender.sent, 1)

	rto := q.stats.RTO()
	n := q.Retransmit(start.Add(rto + time.Millisecond))
	assert.Equal(t, 1, n)
	assert.Len(t, sender.sent, 2)
}

func TestRetransmitSkipsAckedEntries(t *testing.T) {
	sender := &fakeSender{}
	q := newQueue(sender)
	start := time.Now()
	q.Add(start, dataMsg("a"))
	q.AckInOrder(start, seqnum.Num(0))

	n := q.Retransmit(start.Add(time.Hour))
	assert.Equal(t, 0, n)
}

func TestResetDiscardsEntriesAndRewindsSeqnum(t *testing.T) {
	sender := &fakeSender{}
	q := newQueue(sender)
	q.Add(time.Now(), dataMsg("a"))
	q.Add(time.Now(), dataMsg("b"))

	q.Reset(seqnum.Num(100))

	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 0, q.BytesInQueue())
	assert.Equal(t, seqnum.Num(100), q.NextSeqnum())
}

func TestAvailableBytesRespectsPeerItemLimit(t *testing.T) {
	sender := &fakeSender{}
	q := newQueue(sender)
	q.SetPeerWindow(PeerWindow{MaxItems: 1, MaxBytes: ^uint32(0)})
	q.Add(time.Now(), dataMsg("a"))

	assert.Equal(t, 0, q.AvailableBytes(), "at the peer's item limit, no more budget remains")
}
