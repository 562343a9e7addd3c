// Package mtu implements the path-MTU discovery state machine of
// spec.md §4.3: a strictly-growing ladder of candidate payload sizes,
// probed one at a time with RTO-driven retransmission.
package mtu

import (
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brisknet/rudp/internal/collab"
)

// Ladder is the strictly-increasing sequence of candidate datagram
// payload sizes probed by the discoverer, per spec.md §4.3.
var Ladder = []int{508, 1232, 1452, 2048, 4096, 8192, 16384, 32768, 65467}

// MaxNumRetries bounds how many times one probe is retransmitted before
// the discoverer gives up on the current rung.
const MaxNumRetries = 6

// Phase is the discoverer's lifecycle state.
type Phase int

const (
	PhaseWaiting Phase = iota // waiting out the random start delay
	PhaseProbing
	PhaseFinished
	PhaseFailed
)

// Sender is the minimal send primitive the discoverer needs: transmit an
// MTUD probe of the given candidate size and seqnum, reporting
// collab.ErrMessageTooLarge when the kernel rejects it outright.
type Sender interface {
	SendProbe(seqnum uint16, size int) error
}

// DFToggler toggles the don't-fragment bit on the connection's underlying
// socket; satisfied by collab.PacketConn.
type DFToggler interface {
	SetDontFragment(enabled bool) error
}

// Discoverer runs one connection's MTU probing state machine. It is not
// safe for concurrent use; like a Connection, it is owned by a single
// worker goroutine (spec.md §5).
type Discoverer struct {
	sender Sender
	df     DFToggler
	log    *logrus.Entry

	startDelay time.Duration
	started    time.Time

	phase        Phase
	rung         int // index into Ladder of the rung currently probed
	finalSize    int // set when a "final" probe below MTU-exceeded is in flight
	isFinalProbe bool
	dfDisabled   bool

	confirmedMax int

	outstandingSeq uint16
	hasOutstanding bool
	tries          int
	timeSent       time.Time
	rto            time.Duration
}

// New constructs a discoverer that will wait a random duration in
// [0, maxStartDelay) before issuing its first probe, per spec.md §4.3
// and the MaxMTUDiscoveryDelay configuration knob.
func New(sender Sender, df DFToggler, maxStartDelay time.Duration, log *logrus.Entry) *Discoverer {
	d := &Discoverer{
		sender:       sender,
		df:           df,
		log:          log,
		confirmedMax: Ladder[0],
		rto:          200 * time.Millisecond,
	}
	if maxStartDelay > 0 {
		d.startDelay = time.Duration(rand.Int63n(int64(maxStartDelay)))
	}
	return d
}

// ConfirmedMax returns the largest payload size confirmed reachable so
// far (monotonically non-decreasing).
func (d *Discoverer) ConfirmedMax() int {
	return d.confirmedMax
}

// Phase reports the discoverer's current lifecycle phase.
func (d *Discoverer) Phase() Phase {
	return d.phase
}

// Tick drives the state machine; call it on every connection processing
// cycle (spec.md §4.9's ProcessEvents).
func (d *Discoverer) Tick(now time.Time) {
	switch d.phase {
	case PhaseWaiting:
		if d.started.IsZero() {
			d.started = now
		}
		if now.Sub(d.started) >= d.startDelay {
			if d.df != nil {
				if err := d.df.SetDontFragment(true); err != nil {
					d.log.WithError(err).Debug("mtu: enable don't-fragment failed")
				}
			}
			d.phase = PhaseProbing
			d.beginRung(now, d.rung)
		}
	case PhaseProbing:
		d.retransmitIfDue(now)
	}
	if d.Done() && !d.dfDisabled {
		d.dfDisabled = true
		if d.df != nil {
			if err := d.df.SetDontFragment(false); err != nil {
				d.log.WithError(err).Debug("mtu: disable don't-fragment failed")
			}
		}
	}
}

func (d *Discoverer) beginRung(now time.Time, rungIdx int) {
	size := Ladder[rungIdx]
	d.sendProbe(now, size)
}

func (d *Discoverer) sendProbe(now time.Time, size int) {
	seq := uint16(rand.Intn(1 << 16))
	if err := d.sender.SendProbe(seq, size); err != nil {
		if err == collab.ErrMessageTooLarge {
			d.onMessageTooLarge(now)
			return
		}
		d.log.WithError(err).Debug("mtu: probe send failed")
		return
	}
	d.outstandingSeq = seq
	d.hasOutstanding = true
	d.tries = 1
	d.timeSent = now
}

func (d *Discoverer) retransmitIfDue(now time.Time) {
	if !d.hasOutstanding {
		return
	}
	if now.Sub(d.timeSent) < d.rto {
		return
	}
	if d.tries >= MaxNumRetries {
		d.onRungFailed(now)
		return
	}
	size := d.currentSize()
	if err := d.sender.SendProbe(d.outstandingSeq, size); err != nil {
		if err == collab.ErrMessageTooLarge {
			d.onMessageTooLarge(now)
			return
		}
		d.log.WithError(err).Debug("mtu: probe retransmit failed")
		return
	}
	d.tries++
	d.timeSent = now
}

func (d *Discoverer) currentSize() int {
	if d.isFinalProbe {
		return d.finalSize
	}
	return Ladder[d.rung]
}

// onMessageTooLarge handles a send-time MTU-exceeded error: the
// discoverer immediately creates a "final" probe at the previous rung.
func (d *Discoverer) onMessageTooLarge(now time.Time) {
	if d.rung == 0 {
		d.phase = PhaseFailed
		return
	}
	d.isFinalProbe = true
	d.finalSize = Ladder[d.rung-1]
	d.sendProbe(now, d.finalSize)
}

// onRungFailed handles exhausting MaxNumRetries with no ack and no
// send-time MTU-exceeded error (the probe was simply dropped on the
// network). A final probe that fails this way leaves nothing lower to
// retry, so the discoverer gives up; a non-final probe steps down to a
// final probe at the previous rung, same as an MTU-exceeded send error.
func (d *Discoverer) onRungFailed(now time.Time) {
	if d.isFinalProbe || d.rung == 0 {
		d.phase = PhaseFailed
		return
	}
	d.isFinalProbe = true
	d.finalSize = Ladder[d.rung-1]
	d.sendProbe(now, d.finalSize)
}

// OnAck reports that seqnum was acknowledged by the peer. It must be
// called for every received MTUD-ack, regardless of whether it matches
// the current outstanding probe (a stale ack is ignored).
func (d *Discoverer) OnAck(now time.Time, seqnum uint16) {
	if d.phase != PhaseProbing || !d.hasOutstanding || seqnum != d.outstandingSeq {
		return
	}
	d.hasOutstanding = false

	if d.isFinalProbe {
		d.confirmedMax = d.finalSize
		d.phase = PhaseFinished
		return
	}

	d.confirmedMax = Ladder[d.rung]
	if d.rung == len(Ladder)-1 {
		d.phase = PhaseFinished
		return
	}
	d.rung++
	d.beginRung(now, d.rung)
}

// Done reports whether the discoverer has reached a terminal phase.
func (d *Discoverer) Done() bool {
	return d.phase == PhaseFinished || d.phase == PhaseFailed
}
