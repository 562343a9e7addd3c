// Package stats implements the online RTT estimator and the AIMD
// send-window estimator described in spec.md §4.4, both built on a small
// ring-buffer mean/variance accumulator.
package stats

import "time"

const ringSize = 128

// ring is a fixed-capacity circular buffer of float64 samples with an
// online mean/variance accumulator (Welford's method), shared by the RTT
// and window estimators.
type ring struct {
	samples    [ringSize]float64
	count      int
	next       int
	mean       float64
	m2         float64 // sum of squared deviations from the running mean
}

func (r *ring) push(v float64) {
	r.samples[r.next] = v
	r.next = (r.next + 1) % ringSize
	if r.count < ringSize {
		r.count++
	}
	// Recomputing mean/variance from scratch over at most 128 entries is
	// cheap and avoids the precision drift of incremental removal.
	r.recompute()
}

func (r *ring) recompute() {
	if r.count == 0 {
		r.mean, r.m2 = 0, 0
		return
	}
	var sum float64
	for i := 0; i < r.count; i++ {
		sum += r.samples[i]
	}
	mean := sum / float64(r.count)
	var m2 float64
	for i := 0; i < r.count; i++ {
		d := r.samples[i] - mean
		m2 += d * d
	}
	r.mean, r.m2 = mean, m2
}

func (r *ring) variance() float64 {
	if r.count < 2 {
		return 0
	}
	return r.m2 / float64(r.count)
}

func (r *ring) stddev() float64 {
	v := r.variance()
	if v <= 0 {
		return 0
	}
	return sqrt(v)
}

// sqrt avoids importing math solely for Sqrt in a file that otherwise has
// no float math dependency beyond this.
func sqrt(x float64) float64 {
	if x == 0 {
		return 0
	}
	z := x
	for i := 0; i < 40; i++ {
		z -= (z*z - x) / (2 * z)
	}
	return z
}

const (
	minRTT = time.Microsecond // RTT is floored at 1us per spec.md §4.4

	weightNoLoss = 0.5  // X=0.5 in the "no-loss-yet" regime
	weightLoss   = 0.95 // X=0.95 thereafter
)

// RTTEstimator is the online RTT estimator of spec.md §4.4: a 128-sample
// ring feeding a variance filter, blended into a smoothed estimate, used
// to derive the retransmission timeout.
type RTTEstimator struct {
	ring ring

	estimate    time.Duration
	hasEstimate bool
	everLost    bool

	lossFactor    float64
	lossesInRTT   int
	windowStarted time.Time
}

// NewRTTEstimator returns an estimator with no samples yet; StoredRTT
// returns the floor (1us) and RTO a conservative default until the first
// sample lands.
func NewRTTEstimator() *RTTEstimator {
	return &RTTEstimator{
		estimate:   minRTT,
		lossFactor: 1,
	}
}

// RecordSample feeds one RTT sample. Per Karn's algorithm, callers must
// only call this for send-queue entries whose tries == 1 (spec.md §4.5).
func (e *RTTEstimator) RecordSample(sample time.Duration) {
	if sample < 0 {
		return
	}
	e.ring.push(float64(sample))
	if e.ring.count < 4 {
		// Not enough samples yet to compute a meaningful deviation
		// filter; seed the estimate directly.
		e.blend(sample)
		return
	}
	mean := e.ring.mean
	dev := e.ring.stddev()
	minDev, maxDev := mean-2*dev, mean+2*dev
	var sum float64
	var n int
	for i := 0; i < e.ring.count; i++ {
		s := e.ring.samples[i]
		if s >= minDev && s <= maxDev {
			sum += s
			n++
		}
	}
	if n == 0 {
		e.blend(sample)
		return
	}
	e.blend(time.Duration(sum / float64(n)))
}

func (e *RTTEstimator) blend(sample time.Duration) {
	if sample < minRTT {
		sample = minRTT
	}
	x := weightNoLoss
	if e.everLost {
		x = weightLoss
	}
	if !e.hasEstimate {
		e.estimate = sample
		e.hasEstimate = true
		return
	}
	blended := x*float64(e.estimate) + (1-x)*float64(sample)
	e.estimate = time.Duration(blended)
	if e.estimate < minRTT {
		e.estimate = minRTT
	}
}

// RecordLoss notes a retransmission-triggering loss event within the
// current RTT window, growing the RTO's multiplicative loss factor.
func (e *RTTEstimator) RecordLoss(now time.Time) {
	e.everLost = true
	if now.Sub(e.windowStarted) > e.StoredRTT() {
		e.windowStarted = now
		e.lossesInRTT = 0
	}
	e.lossesInRTT++
	e.lossFactor = 1 + float64(e.lossesInRTT)
}

// ResetLossFactor is called once losses stop being observed within an RTT
// window, letting the RTO relax back toward 2*RTT.
func (e *RTTEstimator) ResetLossFactor() {
	e.lossFactor = 1
	e.lossesInRTT = 0
}

// StoredRTT returns the current smoothed RTT estimate, floored at 1us.
func (e *RTTEstimator) StoredRTT() time.Duration {
	if e.estimate < minRTT {
		return minRTT
	}
	return e.estimate
}

// RTO returns the retransmission timeout: 2*RTT*lossFactor, per spec.md
// §4.4, always at least 2*StoredRTT().
func (e *RTTEstimator) RTO() time.Duration {
	rto := time.Duration(2 * float64(e.StoredRTT()) * e.lossFactor)
	if rto < 2*e.StoredRTT() {
		rto = 2 * e.StoredRTT()
	}
	return rto
}
