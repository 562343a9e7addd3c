// Package keys derives the per-connection obfuscation and MAC key pair
// used by internal/wire, and tracks the two-slot key rotation a connection
// carries through a handshake key-exchange event (spec.md §4.1).
package keys

import (
	"github.com/dchest/siphash"
)

// DefaultSharedSecret is substituted whenever a connection is configured
// with an empty shared secret, matching QuantumGateLib's "auto-gen"
// default described in SPEC_FULL.md.
var DefaultSharedSecret = []byte("rudp-default-shared-secret-v1!!")

// Block is the 16-byte key block derived from a shared secret: the first
// 8 bytes obfuscate datagrams, the last 8 bytes key the per-datagram MAC.
type Block struct {
	Obfuscation [8]byte
	MAC         [8]byte
}

// Derive runs secret through SipHash twice, with two fixed, distinct
// 64-bit keys of its own, to stretch it into a 16-byte block. An empty
// secret is replaced with DefaultSharedSecret.
func Derive(secret []byte) Block {
	if len(secret) == 0 {
		secret = DefaultSharedSecret
	}
	var b Block
	h0 := siphash.Hash(0x726c_7564_706b_6579, 0x6f62_6675_7363_3031, pad(secret))
	h1 := siphash.Hash(0x726c_7564_706b_6579, 0x6d61_636b_6579_3032, pad(secret))
	putUint64(b.Obfuscation[:], h0)
	putUint64(b.MAC[:], h1)
	return b
}

// pad extends short secrets so SipHash always sees at least 16 bytes of
// keyed input; SipHash itself handles arbitrary lengths, but padding keeps
// very short operator-supplied secrets from collapsing into a handful of
// distinct hash inputs.
func pad(secret []byte) []byte {
	if len(secret) >= 16 {
		return secret
	}
	out := make([]byte, 16)
	copy(out, secret)
	return out
}

func putUint64(dst []byte, v uint64) {
	for i := 0; i < 8; i++ {
		dst[i] = byte(v >> (8 * uint(i)))
	}
}

// Slot is one of a connection's two key slots. Slot 1 (the prior key) is
// kept for a grace period after a rotation so datagrams encoded under it
// in flight still decrypt; once Expired it is read-only and must not be
// used to encode new outbound traffic.
type Slot struct {
	Block   Block
	Expired bool
}

// Pair is the two-slot key holder a Connection owns: slot 0 is current,
// slot 1 is the prior key. At most one slot is ever non-expired.
type Pair struct {
	slots [2]Slot
}

// NewPair seeds slot 0 from secret and leaves slot 1 empty and expired.
func NewPair(secret []byte) *Pair {
	p := &Pair{}
	p.slots[0] = Slot{Block: Derive(secret)}
	p.slots[1] = Slot{Expired: true}
	return p
}

// Current returns the key block used to encode new outbound datagrams.
func (p *Pair) Current() Block {
	return p.slots[0].Block
}

// Rotate installs a new current key derived from the handshake, pushing
// the old current key into slot 1 marked expired. It is called once, when
// the post-handshake key exchange completes.
func (p *Pair) Rotate(newSecret []byte) {
	p.slots[1] = Slot{Block: p.slots[0].Block, Expired: true}
	p.slots[0] = Slot{Block: Derive(newSecret)}
}

// TryDecode reports whether either key slot authenticates mac over body,
// returning the matching block. Both slots are tried regardless of
// expiry — an expired slot may still decode late-arriving datagrams — but
// Current() never returns an expired slot for encoding.
func (p *Pair) TryDecode(verify func(Block) bool) (Block, bool) {
	if verify(p.slots[0].Block) {
		return p.slots[0].Block, true
	}
	if p.slots[1] != (Slot{}) && verify(p.slots[1].Block) {
		return p.slots[1].Block, true
	}
	return Block{}, false
}
