package stats

import (
	"math"
	"time"
)

// NoLossRestartTimeout is how long the send-window estimator waits with
// no loss event before returning to fast-start mode (spec.md §4.4).
const NoLossRestartTimeout = 2 * time.Second

// fastRecoveryThreshold is the window size, in MTU-sized segments, below
// which a post-loss estimator stays in fast recovery (adds a whole unit
// per ack) rather than switching to the +1/window congestion-avoidance
// rule. Chosen as half of the window size recorded at the moment of loss,
// mirroring classic AIMD slow-start thresholds.
const minWindow = 1.0

// WindowEstimator is the AIMD send-window estimator of spec.md §4.4,
// tracking mtu_window_size in units of MTU-sized segments.
type WindowEstimator struct {
	ring ring

	window      float64
	ssthresh    float64
	lossObserved bool
	lastLoss    time.Time
	lastSample  time.Time
}

// NewWindowEstimator starts in fast-start mode with a one-segment window.
func NewWindowEstimator() *WindowEstimator {
	return &WindowEstimator{
		window:   minWindow,
		ssthresh: math.MaxFloat64,
	}
}

// OnAck grows the window by one unit per ack before the first loss (fast
// start), by one unit per ack while below ssthresh after a loss (fast
// recovery), and by 1/window above ssthresh (congestion avoidance).
func (w *WindowEstimator) OnAck(now time.Time) {
	if !w.lossObserved {
		w.window++
	} else if w.window < w.ssthresh {
		w.window++
	} else {
		w.window += 1 / w.window
	}
	if w.window < minWindow {
		w.window = minWindow
	}
	w.maybeRestartFastStart(now)
}

// OnLoss halves the window raised to the number of lost MTU-sized units
// (lostUnits), per spec.md §4.4, and arms fast recovery below the new
// window as ssthresh.
func (w *WindowEstimator) OnLoss(now time.Time, lostUnits float64) {
	if lostUnits <= 0 {
		return
	}
	w.lossObserved = true
	w.lastLoss = now
	factor := math.Pow(0.5, lostUnits)
	w.window *= factor
	if w.window < minWindow {
		w.window = minWindow
	}
	w.ssthresh = w.window
}

// maybeRestartFastStart returns the estimator to fast-start mode if no
// loss has been observed for NoLossRestartTimeout.
func (w *WindowEstimator) maybeRestartFastStart(now time.Time) {
	if w.lossObserved && now.Sub(w.lastLoss) >= NoLossRestartTimeout {
		w.lossObserved = false
		w.ssthresh = math.MaxFloat64
	}
}

// Sample records the current raw window into the smoothing ring at most
// once per RTT; callers are expected to gate calls to roughly one per
// RTT using their own scheduler (the send queue's retransmission tick).
func (w *WindowEstimator) Sample(now time.Time) {
	w.ring.push(w.window)
	w.lastSample = now
}

// Segments returns the smoothed window size in whole MTU-sized segments,
// never less than 1.
func (w *WindowEstimator) Segments() float64 {
	if w.ring.count == 0 {
		return math.Max(w.window, minWindow)
	}
	x := weightNoLoss
	if w.lossObserved {
		x = weightLoss
	}
	smoothed := x*w.ring.mean + (1-x)*w.window
	if smoothed < minWindow {
		smoothed = minWindow
	}
	return smoothed
}
