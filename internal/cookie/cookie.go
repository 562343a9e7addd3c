// Package cookie implements the listener-side SYN-cookie jar of spec.md
// §4.7: a rotating pair of keyed-hash secrets used to validate connection
// attempts statelessly under load, without the listener retaining any
// per-attempt state until a cookie comes back.
package cookie

import (
	"crypto/rand"
	"encoding/binary"
	"net"
	"time"

	"github.com/dchest/siphash"
)

// key is one rotation slot: an opaque 128-bit secret and when it was
// minted, used both to compute SipHash(key; ...) and to decide when the
// slot ages out.
type key struct {
	k0, k1    uint64
	createdAt time.Time
	valid     bool
}

// Jar holds two key slots (current and prior) and rotates them on a timer,
// per spec.md §4.7. It is consulted by every worker handling a listener's
// receive loop, so it must be usable by a single owner goroutine that
// serializes access the same way a connection's state is serialized
// (spec.md §5) — callers must not share a Jar across goroutines without
// their own synchronization.
type Jar struct {
	expiration time.Duration
	slots      [2]key
}

// NewJar creates a jar whose current slot is freshly minted, rotating
// every expiration interval (spec.md's cookie_expiration_interval).
func NewJar(expiration time.Duration, now time.Time) *Jar {
	j := &Jar{expiration: expiration}
	j.slots[0] = newKey(now)
	return j
}

func newKey(now time.Time) key {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return key{
		k0:        binary.BigEndian.Uint64(b[0:8]),
		k1:        binary.BigEndian.Uint64(b[8:16]),
		createdAt: now,
		valid:     true,
	}
}

// Rotate advances the jar's rotation state for the current time. When half
// the expiration interval has elapsed since the current key was minted, a
// new secret becomes current and the old current key moves to the prior
// slot; a prior key older than the full interval is dropped. Callers are
// expected to invoke this periodically (e.g. once per connection-manager
// tick) rather than on every lookup.
func (j *Jar) Rotate(now time.Time) {
	if j.slots[0].valid && now.Sub(j.slots[0].createdAt) >= j.expiration/2 {
		j.slots[1] = j.slots[0]
		j.slots[0] = newKey(now)
	}
	if j.slots[1].valid && now.Sub(j.slots[1].createdAt) >= j.expiration {
		j.slots[1] = key{}
	}
}

// pack lays out a connection attempt identically on issue and verify: the
// connection id, the claimed endpoint's 16-byte (v4-in-v6) address, its
// port, and an explicit zeroed padding block, so no struct padding can
// ever desynchronize the two sides (spec.md §4.7's note on zeroing padding
// bytes before hashing).
func pack(connectionID uint64, endpoint *net.UDPAddr) []byte {
	buf := make([]byte, 32)
	binary.BigEndian.PutUint64(buf[0:8], connectionID)
	copy(buf[8:24], endpoint.IP.To16())
	binary.BigEndian.PutUint16(buf[24:26], uint16(endpoint.Port))
	// buf[26:32] left zero: the explicit padding block.
	return buf
}

// Issue computes the cookie id for a connection attempt under the current
// key, per spec.md §4.7's "Issue" step.
func (j *Jar) Issue(connectionID uint64, endpoint *net.UDPAddr) uint64 {
	return siphash.Hash(j.slots[0].k0, j.slots[0].k1, pack(connectionID, endpoint))
}

// Verify reports whether cookieID matches either key slot for the given
// attempt, per spec.md §4.7's "Verify" step (accepting a cookie issued
// just before a rotation).
func (j *Jar) Verify(cookieID uint64, connectionID uint64, endpoint *net.UDPAddr) bool {
	data := pack(connectionID, endpoint)
	if j.slots[0].valid && siphash.Hash(j.slots[0].k0, j.slots[0].k1, data) == cookieID {
		return true
	}
	if j.slots[1].valid && siphash.Hash(j.slots[1].k0, j.slots[1].k1, data) == cookieID {
		return true
	}
	return false
}
