package wire

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/dchest/siphash"
	"github.com/pkg/errors"

	"github.com/brisknet/rudp/internal/keys"
	"github.com/brisknet/rudp/internal/seqnum"
)

// ErrMAC is returned by Decode when the authentication tag does not match
// under any non-retired key slot.
var ErrMAC = errors.New("wire: MAC verification failed")

// GetMaxMessageDataSize returns the largest Data payload that fits in one
// datagram of maxDatagramSize bytes, per spec.md §4.2.
func GetMaxMessageDataSize(maxDatagramSize int) int {
	n := maxDatagramSize - HeaderSize - varintSize(65535)
	if n < 0 {
		return 0
	}
	return n
}

// GetMaxAckRangesPerMessage returns how many AckRange entries fit in one
// EAck datagram of maxDatagramSize bytes.
func GetMaxAckRangesPerMessage(maxDatagramSize int) int {
	avail := maxDatagramSize - HeaderSize - varintSize(65535)
	if avail < 0 {
		return 0
	}
	return avail / ackRangeWireSize
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	_, _ = rand.Read(b) // crypto/rand.Read never returns a short read or error on supported platforms
	return b
}

// obfuscationPad expands an 8-byte obfuscation key and the 4-byte IV of a
// datagram into the 8-byte repeating XOR pad used to obfuscate everything
// after mac||iv, per spec.md §4.2: "the obfuscation key bitwise-XORed
// with the IV in both halves".
func obfuscationPad(obfKey [8]byte, iv [4]byte) [8]byte {
	var pad [8]byte
	for i := 0; i < 8; i++ {
		pad[i] = obfKey[i] ^ iv[i%4]
	}
	return pad
}

func xorWithPad(b []byte, pad [8]byte) {
	for i := range b {
		b[i] ^= pad[i%len(pad)]
	}
}

func macOf(macKey [8]byte, data []byte) [4]byte {
	k0 := binary.BigEndian.Uint64(macKey[:])
	// The protocol's MAC key register is 64 bits (spec.md §4.1); SipHash
	// wants a 128-bit key, so the register is duplicated into both
	// halves rather than truncating SipHash's security margin.
	full := siphash.Hash(k0, k0, data)
	var out [4]byte
	binary.BigEndian.PutUint32(out[:], uint32(full))
	return out
}

// Encode serializes m into one datagram no larger than mtu bytes,
// authenticating and obfuscating it under block. mtu is also the padding
// target for paddable message types (spec.md §4.2); for an MTUD probe the
// caller passes the candidate rung size as mtu so the probe itself carries
// the right amount of random payload.
func Encode(m *Message, block keys.Block, mtu int) ([]byte, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	payload, err := encodePayload(m)
	if err != nil {
		return nil, err
	}
	if m.paddable() {
		target := mtu - HeaderSize
		if target > len(payload) {
			payload = append(payload, randomBytes(target-len(payload))...)
		}
	}

	out := make([]byte, HeaderSize, HeaderSize+len(payload))
	iv := randomBytes(4)
	copy(out[4:8], iv)

	if m.HasSeqnum {
		binary.BigEndian.PutUint16(out[8:10], uint16(m.Seqnum))
	} else {
		copy(out[8:10], randomBytes(2))
	}
	if m.HasAck {
		binary.BigEndian.PutUint16(out[10:12], uint16(m.Ack))
	} else {
		copy(out[10:12], randomBytes(2))
	}

	flags := byte(m.Type) & typeMask
	if m.HasAck {
		flags |= flagAckPresent
	}
	if m.HasSeqnum {
		flags |= flagSeqnumPresent
	}
	if m.Type == TypeSyn && m.HasCookie {
		flags |= flagSynCookie
	}
	out[12] = flags

	out = append(out, payload...)

	var ivArr [4]byte
	copy(ivArr[:], iv)
	pad := obfuscationPad(block.Obfuscation, ivArr)
	xorWithPad(out[8:], pad)

	mac := macOf(block.MAC, out[4:])
	copy(out[0:4], mac[:])

	return out, nil
}

// Decode authenticates and parses a received datagram. pair supplies the
// connection's (current, prior) key slots; either may authenticate the
// datagram, matching spec.md's invariant that an expired slot remains
// valid for decryption until it naturally rolls out.
func Decode(raw []byte, pair *keys.Pair) (*Message, error) {
	if len(raw) < HeaderSize {
		return nil, ErrTruncated
	}
	block, ok := pair.TryDecode(func(b keys.Block) bool {
		got := macOf(b.MAC, raw[4:])
		return got == [4]byte{raw[0], raw[1], raw[2], raw[3]}
	})
	if !ok {
		return nil, ErrMAC
	}

	body := make([]byte, len(raw)-8)
	copy(body, raw[8:])
	var ivArr [4]byte
	copy(ivArr[:], raw[4:8])
	pad := obfuscationPad(block.Obfuscation, ivArr)
	xorWithPad(body, pad)

	seq := seqnum.Num(binary.BigEndian.Uint16(body[0:2]))
	ack := seqnum.Num(binary.BigEndian.Uint16(body[2:4]))
	flags := body[4]

	m := &Message{
		Type:      Type(flags & typeMask),
		HasAck:    flags&flagAckPresent != 0,
		HasSeqnum: flags&flagSeqnumPresent != 0,
	}
	if m.HasSeqnum {
		m.Seqnum = seq
	}
	if m.HasAck {
		m.Ack = ack
	}
	if m.Type == TypeSyn {
		m.HasCookie = flags&flagSynCookie != 0
	}

	if err := decodePayload(m, body[5:]); err != nil {
		return nil, err
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}
