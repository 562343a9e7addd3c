package recvqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brisknet/rudp/internal/seqnum"
)

func TestAcceptInOrderDeliversImmediately(t *testing.T) {
	q := New(seqnum.Num(1), 32)

	out := q.Accept(seqnum.Num(1), []byte("a"))
	require.Equal(t, [][]byte{[]byte("a")}, out)
	assert.Equal(t, seqnum.Num(1), q.LastInOrder())
}

func TestAcceptOutOfOrderBuffersUntilGapCloses(t *testing.T) {
	q := New(seqnum.Num(1), 32)

	out := q.Accept(seqnum.Num(3), []byte("c"))
	assert.Nil(t, out)
	assert.Equal(t, 1, q.PendingCount())

	out = q.Accept(seqnum.Num(2), []byte("b"))
	assert.Nil(t, out, "seq 2 alone doesn't close the gap left by a missing seq 1")

	out = q.Accept(seqnum.Num(1), []byte("a"))
	require.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, out)
	assert.Equal(t, 0, q.PendingCount())
	assert.Equal(t, seqnum.Num(3), q.LastInOrder())
}

func TestAcceptDuplicateOfDeliveredIsIgnored(t *testing.T) {
	q := New(seqnum.Num(1), 32)
	q.Accept(seqnum.Num(1), []byte("a"))

	out := q.Accept(seqnum.Num(1), []byte("a-again"))
	assert.Nil(t, out)
	assert.True(t, q.HasPendingAcks(), "a duplicate is still acked so the peer stops retransmitting")
}

func TestAcceptOutsideWindowIsDropped(t *testing.T) {
	q := New(seqnum.Num(1), 4)
	out := q.Accept(seqnum.Num(100), []byte("far"))
	assert.Nil(t, out)
	assert.Equal(t, 0, q.PendingCount())
	assert.False(t, q.HasPendingAcks())
}

func TestPendingRangesCollapsesContiguousRuns(t *testing.T) {
	q := New(seqnum.Num(1), 32)
	q.Accept(seqnum.Num(5), []byte("e"))
	q.Accept(seqnum.Num(6), []byte("f"))
	q.Accept(seqnum.Num(8), []byte("h"))

	ranges := q.PendingRanges(0)
	assert.ElementsMatch(t, []AckRange{
		{Begin: seqnum.Num(5), End: seqnum.Num(6)},
		{Begin: seqnum.Num(8), End: seqnum.Num(8)},
	}, ranges)
}

func TestFlushClearsPendingAcks(t *testing.T) {
	q := New(seqnum.Num(1), 32)
	q.Accept(seqnum.Num(1), []byte("a"))
	require.True(t, q.HasPendingAcks())

	q.Flush()
	assert.False(t, q.HasPendingAcks())
	assert.Nil(t, q.PendingRanges(0))
}

func TestPendingRangesRespectsMaxRanges(t *testing.T) {
	q := New(seqnum.Num(1), 32)
	q.Accept(seqnum.Num(5), []byte("e"))
	q.Accept(seqnum.Num(10), []byte("j"))
	q.Accept(seqnum.Num(15), []byte("o"))

	ranges := q.PendingRanges(2)
	assert.Len(t, ranges, 2)
}
