package wire

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// ErrTruncated is returned by varint/blob readers when the buffer runs out
// before a length-prefixed field is fully present.
var ErrTruncated = errors.New("wire: truncated message")

// putVarint appends a compact, Bitcoin-style length prefix (big-endian
// multi-byte fields, per spec.md §6) to dst and returns the result.
func putVarint(dst []byte, v uint64) []byte {
	switch {
	case v < 253:
		return append(dst, byte(v))
	case v <= 0xFFFF:
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], uint16(v))
		return append(append(dst, 253), b[:]...)
	case v <= 0xFFFFFFFF:
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(v))
		return append(append(dst, 254), b[:]...)
	default:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], v)
		return append(append(dst, 255), b[:]...)
	}
}

// varintSize reports the encoded width of v, used by GetMaxMessageDataSize
// and GetMaxAckRangesPerMessage without allocating.
func varintSize(v uint64) int {
	switch {
	case v < 253:
		return 1
	case v <= 0xFFFF:
		return 3
	case v <= 0xFFFFFFFF:
		return 5
	default:
		return 9
	}
}

// readVarint decodes a compact length prefix from b, returning the value
// and the number of bytes consumed.
func readVarint(b []byte) (uint64, int, error) {
	if len(b) < 1 {
		return 0, 0, ErrTruncated
	}
	switch b[0] {
	case 253:
		if len(b) < 3 {
			return 0, 0, ErrTruncated
		}
		return uint64(binary.BigEndian.Uint16(b[1:3])), 3, nil
	case 254:
		if len(b) < 5 {
			return 0, 0, ErrTruncated
		}
		return uint64(binary.BigEndian.Uint32(b[1:5])), 5, nil
	case 255:
		if len(b) < 9 {
			return 0, 0, ErrTruncated
		}
		return binary.BigEndian.Uint64(b[1:9]), 9, nil
	default:
		return uint64(b[0]), 1, nil
	}
}

// putBlob appends a varint-prefixed byte blob to dst.
func putBlob(dst []byte, blob []byte) []byte {
	dst = putVarint(dst, uint64(len(blob)))
	return append(dst, blob...)
}

// readBlob reads a varint-prefixed byte blob from b, returning the blob
// (a sub-slice of b, not a copy) and bytes consumed.
func readBlob(b []byte) ([]byte, int, error) {
	n, hdr, err := readVarint(b)
	if err != nil {
		return nil, 0, err
	}
	if uint64(len(b)-hdr) < n {
		return nil, 0, ErrTruncated
	}
	return b[hdr : hdr+int(n)], hdr + int(n), nil
}
