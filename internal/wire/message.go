// Package wire implements the message codec described in spec.md §4.2:
// framing, authentication, obfuscation, and parsing of the single RUDP
// datagram format. Every Message is a tagged variant distinguished by
// Type, matched on rather than dispatched virtually, per spec.md §9.
package wire

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/brisknet/rudp/internal/seqnum"
)

// Type is the low-nibble message type carried in the wire header's
// type_flags byte.
type Type uint8

const (
	TypeUnknown Type = 0
	TypeSyn     Type = 1
	TypeState   Type = 2
	TypeData    Type = 3
	TypeEAck    Type = 4
	TypeMTUD    Type = 5
	TypeReset   Type = 6
	TypeNull    Type = 7
	TypeCookie  Type = 8
)

func (t Type) String() string {
	switch t {
	case TypeSyn:
		return "Syn"
	case TypeState:
		return "State"
	case TypeData:
		return "Data"
	case TypeEAck:
		return "EAck"
	case TypeMTUD:
		return "MTUD"
	case TypeReset:
		return "Reset"
	case TypeNull:
		return "Null"
	case TypeCookie:
		return "Cookie"
	default:
		return "Unknown"
	}
}

const (
	flagAckPresent    = 1 << 7
	flagSeqnumPresent = 1 << 6
	// flagSynCookie is an otherwise-unused bit of type_flags (bit 5) that
	// this implementation uses to signal cookie presence inside a Syn
	// message; spec.md's "bit 0 of the type byte" is ambiguous once the
	// type nibble already occupies bits 0-3, see DESIGN.md.
	flagSynCookie = 1 << 5
	typeMask      = 0x0F
)

// HeaderSize is the fixed wire header width: mac(4) iv(4) seqnum(2)
// acknum(2) type_flags(1).
const HeaderSize = 4 + 4 + 2 + 2 + 1

// AckRange is one [begin, end] inclusive range of selectively acknowledged
// sequence numbers, as carried in an EAck payload.
type AckRange struct {
	Begin seqnum.Num
	End   seqnum.Num
}

// ackRangeWireSize is sizeof(AckRange) on the wire: two uint16 fields.
const ackRangeWireSize = 4

// Message is the decoded form of one datagram payload. Only the fields
// relevant to Type are populated; it is a tagged union modeled as a
// struct, matching the teacher's flat-packet style rather than an
// interface hierarchy.
type Message struct {
	Type Type

	HasSeqnum bool
	Seqnum    seqnum.Num
	HasAck    bool
	Ack       seqnum.Num

	// Syn
	ProtocolMajor  uint8
	ProtocolMinor  uint8
	ConnectionID   uint64
	Port           uint16
	HasCookie      bool
	Cookie         uint64
	HandshakeData  []byte

	// State
	MaxWindowItems uint32
	MaxWindowBytes uint32

	// Data
	Data []byte

	// EAck
	Ranges []AckRange

	// MTUD probe payload (random bytes of the candidate rung size); absent
	// on an ACK-only MTUD.
	MTUDPayload []byte

	// Cookie
	CookieID uint64
}

// paddable reports whether padding up to the datagram's target size is
// permitted for this message, per spec.md §4.2: Syn, State, Null, Reset,
// Cookie, and an MTUD probe (one bearing a seqnum, not an ACK) may be
// padded; Data, EAck, and an ACK-only MTUD must be exact.
func (m *Message) paddable() bool {
	switch m.Type {
	case TypeSyn, TypeState, TypeNull, TypeReset, TypeCookie:
		return true
	case TypeMTUD:
		return m.HasSeqnum && !m.HasAck
	default:
		return false
	}
}

// validate enforces the per-type header-flag rules of spec.md §4.2 step 4.
func (m *Message) validate() error {
	switch m.Type {
	case TypeData:
		if !m.HasSeqnum || !m.HasAck {
			return errors.Errorf("wire: Data requires seqnum and ack")
		}
	case TypeEAck:
		if !m.HasAck {
			return errors.Errorf("wire: EAck requires ack")
		}
	case TypeMTUD:
		if m.HasSeqnum == m.HasAck {
			return errors.Errorf("wire: MTUD requires exactly one of seqnum xor ack")
		}
	case TypeNull, TypeReset:
		if m.HasSeqnum || m.HasAck {
			return errors.Errorf("wire: %s forbids seqnum and ack", m.Type)
		}
	case TypeState:
		if !m.HasSeqnum {
			return errors.Errorf("wire: State requires seqnum")
		}
	case TypeSyn:
		// Syn always bears a sequence number (spec.md §3); ack is
		// optional (a reply Syn piggybacks the peer's ack).
		if !m.HasSeqnum {
			return errors.Errorf("wire: Syn requires seqnum")
		}
	case TypeCookie:
		if m.HasSeqnum || m.HasAck {
			return errors.Errorf("wire: Cookie forbids seqnum and ack")
		}
	default:
		return errors.Errorf("wire: unknown message type %d", m.Type)
	}
	return nil
}

func encodePayload(m *Message) ([]byte, error) {
	var buf []byte
	switch m.Type {
	case TypeSyn:
		buf = append(buf, m.ProtocolMajor, m.ProtocolMinor)
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], m.ConnectionID)
		buf = append(buf, b[:]...)
		var p [2]byte
		binary.BigEndian.PutUint16(p[:], m.Port)
		buf = append(buf, p[:]...)
		if m.HasCookie {
			var c [8]byte
			binary.BigEndian.PutUint64(c[:], m.Cookie)
			buf = append(buf, c[:]...)
		}
		buf = putBlob(buf, m.HandshakeData)
	case TypeState:
		var b [8]byte
		binary.BigEndian.PutUint32(b[0:4], m.MaxWindowItems)
		binary.BigEndian.PutUint32(b[4:8], m.MaxWindowBytes)
		buf = append(buf, b[:]...)
	case TypeData:
		if len(m.Data) > 65535 {
			return nil, errors.Errorf("wire: Data payload too large: %d", len(m.Data))
		}
		buf = putBlob(nil, m.Data)
	case TypeEAck:
		rangeBytes := make([]byte, 0, len(m.Ranges)*ackRangeWireSize)
		for _, r := range m.Ranges {
			var b [4]byte
			binary.BigEndian.PutUint16(b[0:2], uint16(r.Begin))
			binary.BigEndian.PutUint16(b[2:4], uint16(r.End))
			rangeBytes = append(rangeBytes, b[:]...)
		}
		buf = putBlob(nil, rangeBytes)
	case TypeMTUD:
		if !m.HasAck {
			buf = append(buf, m.MTUDPayload...)
		}
	case TypeCookie:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], m.CookieID)
		buf = append(buf, b[:]...)
	case TypeNull, TypeReset:
		// no payload
	}
	return buf, nil
}

func decodePayload(m *Message, payload []byte) error {
	switch m.Type {
	case TypeSyn:
		if len(payload) < 11 {
			return ErrTruncated
		}
		m.ProtocolMajor = payload[0]
		m.ProtocolMinor = payload[1]
		m.ConnectionID = binary.BigEndian.Uint64(payload[2:10])
		m.Port = binary.BigEndian.Uint16(payload[10:12])
		off := 12
		if m.HasCookie {
			if len(payload) < off+8 {
				return ErrTruncated
			}
			m.Cookie = binary.BigEndian.Uint64(payload[off : off+8])
			off += 8
		}
		blob, _, err := readBlob(payload[off:])
		if err != nil {
			return err
		}
		m.HandshakeData = append([]byte(nil), blob...)
	case TypeState:
		if len(payload) < 8 {
			return ErrTruncated
		}
		m.MaxWindowItems = binary.BigEndian.Uint32(payload[0:4])
		m.MaxWindowBytes = binary.BigEndian.Uint32(payload[4:8])
	case TypeData:
		blob, _, err := readBlob(payload)
		if err != nil {
			return err
		}
		if len(blob) > 65535 {
			return errors.Errorf("wire: Data payload too large: %d", len(blob))
		}
		m.Data = append([]byte(nil), blob...)
	case TypeEAck:
		blob, _, err := readBlob(payload)
		if err != nil {
			return err
		}
		if len(blob)%ackRangeWireSize != 0 {
			return errors.Errorf("wire: EAck payload size %d not a multiple of %d", len(blob), ackRangeWireSize)
		}
		for i := 0; i+ackRangeWireSize <= len(blob); i += ackRangeWireSize {
			m.Ranges = append(m.Ranges, AckRange{
				Begin: seqnum.Num(binary.BigEndian.Uint16(blob[i : i+2])),
				End:   seqnum.Num(binary.BigEndian.Uint16(blob[i+2 : i+4])),
			})
		}
	case TypeMTUD:
		if !m.HasAck {
			m.MTUDPayload = append([]byte(nil), payload...)
		}
	case TypeCookie:
		if len(payload) < 8 {
			return ErrTruncated
		}
		m.CookieID = binary.BigEndian.Uint64(payload[0:8])
	case TypeNull, TypeReset:
		// no payload to parse; trailing bytes (if any) are padding.
	}
	return nil
}
