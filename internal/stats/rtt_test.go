package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewRTTEstimatorStartsAtFloor(t *testing.T) {
	e := NewRTTEstimator()
	assert.Equal(t, minRTT, e.StoredRTT())
	assert.Equal(t, 2*minRTT, e.RTO())
}

func TestRecordSampleMovesEstimateTowardSample(t *testing.T) {
	e := NewRTTEstimator()
	e.RecordSample(100 * time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, e.StoredRTT())

	e.RecordSample(200 * time.Millisecond)
	assert.Greater(t, e.StoredRTT(), 100*time.Millisecond)
	assert.Less(t, e.StoredRTT(), 200*time.Millisecond)
}

func TestRecordSampleIgnoresNegative(t *testing.T) {
	e := NewRTTEstimator()
	e.RecordSample(50 * time.Millisecond)
	before := e.StoredRTT()
	e.RecordSample(-1)
	assert.Equal(t, before, e.StoredRTT())
}

func TestRecordLossGrowsRTO(t *testing.T) {
	e := NewRTTEstimator()
	e.RecordSample(50 * time.Millisecond)
	base := e.RTO()

	now := time.Now()
	e.RecordLoss(now)
	assert.Greater(t, e.RTO(), base)
}

func TestResetLossFactorRelaxesRTO(t *testing.T) {
	e := NewRTTEstimator()
	e.RecordSample(50 * time.Millisecond)
	e.RecordLoss(time.Now())
	grown := e.RTO()

	e.ResetLossFactor()
	assert.Less(t, e.RTO(), grown)
	assert.Equal(t, 2*e.StoredRTT(), e.RTO())
}

func TestSqrtApproximatesMathSqrt(t *testing.T) {
	assert.InDelta(t, 3.0, sqrt(9), 0.0001)
	assert.InDelta(t, 0.0, sqrt(0), 0.0001)
	assert.InDelta(t, 1.4142135, sqrt(2), 0.0001)
}
