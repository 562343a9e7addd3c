// Package seqnum implements modular arithmetic over the protocol's 16-bit
// sequence number space, including window classification for incoming
// datagrams (§4.6 of the connection FSM).
package seqnum

// Num is a 16-bit sequence number with wraparound arithmetic.
type Num uint16

// Succ returns the sequence number that follows n, wrapping at 2^16.
func (n Num) Succ() Num {
	return n + 1
}

// Pred returns the sequence number that precedes n, wrapping at 2^16.
func (n Num) Pred() Num {
	return n - 1
}

// Diff returns n-other as a signed 16-bit delta, interpreting the result
// modulo 2^16 so that it is in (-2^15, 2^15].
func (n Num) Diff(other Num) int32 {
	return int32(int16(n - other))
}

// LessOrEqual reports whether n precedes or equals other in modular order,
// i.e. whether 0 <= other-n < 2^15.
func (n Num) LessOrEqual(other Num) bool {
	return other.Diff(n) >= 0
}

// Less reports whether n strictly precedes other in modular order.
func (n Num) Less(other Num) bool {
	return other.Diff(n) > 0
}

// Class classifies a received sequence number relative to the last
// in-order number accepted and the current receive window size, per
// spec.md §4.6 and the Open Question about Current/Previous being
// mutually exclusive (this implementation treats them as such).
type Class int

const (
	// Unknown means the sequence number is outside both the current and
	// the previous window and must be dropped silently.
	Unknown Class = iota
	// Current means the sequence number falls inside the active receive
	// window and should be processed and enqueued.
	Current
	// Previous means the sequence number falls in the window immediately
	// behind the active one — most likely a retransmit of something
	// already delivered — and should be re-ACKed but not re-enqueued.
	Previous
)

// Classify reports where seq falls relative to lastInOrder, the highest
// contiguous sequence number already delivered to the application, given
// a receive window of windowSize entries.
//
// The current window is (lastInOrder, lastInOrder+windowSize]. The
// previous window is (lastInOrder-windowSize, lastInOrder]. Anything else
// is Unknown. windowSize must be in [1, 2^15] per the universal invariant
// in spec.md §8.
func Classify(seq, lastInOrder Num, windowSize uint32) Class {
	if windowSize == 0 {
		windowSize = 1
	}
	if windowSize > 1<<15 {
		windowSize = 1 << 15
	}
	delta := seq.Diff(lastInOrder)
	if delta > 0 && delta <= int32(windowSize) {
		return Current
	}
	if delta <= 0 && -delta < int32(windowSize) {
		return Previous
	}
	return Unknown
}
