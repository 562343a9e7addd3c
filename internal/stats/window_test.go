package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewWindowEstimatorStartsAtOneSegment(t *testing.T) {
	w := NewWindowEstimator()
	assert.Equal(t, 1.0, w.Segments())
}

func TestOnAckGrowsWindowInFastStart(t *testing.T) {
	w := NewWindowEstimator()
	now := time.Now()
	w.OnAck(now)
	w.OnAck(now)
	w.OnAck(now)
	assert.Equal(t, 4.0, w.window)
}

func TestOnLossHalvesWindow(t *testing.T) {
	w := NewWindowEstimator()
	now := time.Now()
	for i := 0; i < 8; i++ {
		w.OnAck(now)
	}
	before := w.window
	w.OnLoss(now, 1)
	assert.InDelta(t, before/2, w.window, 0.0001)
}

func TestOnLossNeverGoesBelowMinimum(t *testing.T) {
	w := NewWindowEstimator()
	now := time.Now()
	w.OnLoss(now, 10)
	assert.GreaterOrEqual(t, w.window, minWindow)
}

func TestFastStartResumesAfterQuietPeriod(t *testing.T) {
	w := NewWindowEstimator()
	now := time.Now()
	w.OnAck(now)
	w.OnLoss(now, 1)
	assert.True(t, w.lossObserved)

	later := now.Add(NoLossRestartTimeout + time.Second)
	w.OnAck(later)
	assert.False(t, w.lossObserved, "fast start should resume once the quiet period elapses")
}

func TestSampleFeedsSmoothedSegments(t *testing.T) {
	w := NewWindowEstimator()
	now := time.Now()
	w.OnAck(now)
	w.Sample(now)
	assert.Greater(t, w.Segments(), 0.0)
}
