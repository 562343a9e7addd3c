package mtu

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brisknet/rudp/internal/collab"
)

type fakeSender struct {
	sent       []int
	rejectOver int // SendProbe fails with ErrMessageTooLarge for size >= this, 0 disables
}

func (f *fakeSender) SendProbe(seqnum uint16, size int) error {
	f.sent = append(f.sent, size)
	if f.rejectOver > 0 && size >= f.rejectOver {
		return collab.ErrMessageTooLarge
	}
	return nil
}

type fakeDF struct{ calls []bool }

func (f *fakeDF) SetDontFragment(enabled bool) error {
	f.calls = append(f.calls, enabled)
	return nil
}

func testLog() *logrus.Entry {
	return logrus.NewEntry(logrus.New())
}

func TestDiscovererCompletesLadderOnAllAcks(t *testing.T) {
	sender := &fakeSender{}
	df := &fakeDF{}
	d := New(sender, df, 0, testLog())

	now := time.Now()
	d.Tick(now) // leaves PhaseWaiting immediately (no start delay), sends first probe
	require.Equal(t, PhaseProbing, d.Phase())

	for i := 0; i < len(Ladder); i++ {
		require.True(t, d.hasOutstanding)
		d.OnAck(now, d.outstandingSeq)
	}

	assert.True(t, d.Done())
	assert.Equal(t, PhaseFinished, d.Phase())
	assert.Equal(t, Ladder[len(Ladder)-1], d.ConfirmedMax())
}

func TestDiscovererStepsDownOnMessageTooLarge(t *testing.T) {
	sender := &fakeSender{rejectOver: Ladder[1]}
	df := &fakeDF{}
	d := New(sender, df, 0, testLog())

	now := time.Now()
	d.Tick(now)
	d.OnAck(now, d.outstandingSeq) // confirms rung 0, advances to rung 1 which gets rejected

	assert.True(t, d.Done())
	assert.Equal(t, PhaseFinished, d.Phase())
	assert.Equal(t, Ladder[0], d.ConfirmedMax())
}

func TestDiscovererFailsWhenFirstRungRejected(t *testing.T) {
	sender := &fakeSender{rejectOver: Ladder[0]}
	df := &fakeDF{}
	d := New(sender, df, 0, testLog())

	d.Tick(time.Now())
	assert.True(t, d.Done())
	assert.Equal(t, PhaseFailed, d.Phase())
}

func TestDiscovererRetransmitsOnTimeout(t *testing.T) {
	sender := &fakeSender{}
	df := &fakeDF{}
	d := New(sender, df, 0, testLog())

	now := time.Now()
	d.Tick(now)
	require.Len(t, sender.sent, 1)

	d.Tick(now.Add(d.rto + time.Millisecond))
	assert.Len(t, sender.sent, 2)
}

func TestDiscovererGivesUpAfterMaxRetries(t *testing.T) {
	sender := &fakeSender{}
	df := &fakeDF{}
	d := New(sender, df, 0, testLog())

	now := time.Now()
	d.Tick(now)
	for i := 0; i < MaxNumRetries; i++ {
		now = now.Add(d.rto + time.Millisecond)
		d.Tick(now)
	}

	assert.True(t, d.Done())
	assert.Equal(t, PhaseFailed, d.Phase())
}

func TestDiscovererWaitsOutStartDelay(t *testing.T) {
	sender := &fakeSender{}
	df := &fakeDF{}
	d := New(sender, df, time.Hour, testLog())

	now := time.Now()
	d.Tick(now)
	assert.Equal(t, PhaseWaiting, d.Phase())
	assert.Empty(t, sender.sent)
}

func TestDiscovererDisablesDontFragmentOnceDone(t *testing.T) {
	sender := &fakeSender{rejectOver: Ladder[0]}
	df := &fakeDF{}
	d := New(sender, df, 0, testLog())

	d.Tick(time.Now())
	require.True(t, d.Done())
	require.Len(t, df.calls, 2)
	assert.True(t, df.calls[0])
	assert.False(t, df.calls[1])
}
