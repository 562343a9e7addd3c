package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brisknet/rudp/internal/keys"
	"github.com/brisknet/rudp/internal/seqnum"
)

func pairFor(secret string) *keys.Pair {
	return keys.NewPair([]byte(secret))
}

func TestEncodeDecodeDataRoundTrip(t *testing.T) {
	pair := pairFor("shared")
	msg := &Message{
		Type:      TypeData,
		HasSeqnum: true,
		Seqnum:    seqnum.Num(7),
		HasAck:    true,
		Ack:       seqnum.Num(3),
		Data:      []byte("hello, world"),
	}

	out, err := Encode(msg, pair.Current(), 512)
	require.NoError(t, err)

	got, err := Decode(out, pair)
	require.NoError(t, err)

	assert.Equal(t, TypeData, got.Type)
	assert.Equal(t, seqnum.Num(7), got.Seqnum)
	assert.Equal(t, seqnum.Num(3), got.Ack)
	assert.Equal(t, []byte("hello, world"), got.Data)
}

func TestEncodeDecodeSynWithCookieRoundTrip(t *testing.T) {
	pair := pairFor("shared")
	msg := &Message{
		Type:          TypeSyn,
		HasSeqnum:     true,
		Seqnum:        seqnum.Num(1),
		ProtocolMajor: 1,
		ProtocolMinor: 0,
		ConnectionID:  0xdeadbeefcafebabe,
		Port:          12345,
		HasCookie:     true,
		Cookie:        0x0102030405060708,
		HandshakeData: []byte{1, 2, 3, 4},
	}

	out, err := Encode(msg, pair.Current(), 512)
	require.NoError(t, err)

	got, err := Decode(out, pair)
	require.NoError(t, err)

	assert.Equal(t, TypeSyn, got.Type)
	assert.True(t, got.HasCookie)
	assert.Equal(t, uint64(0x0102030405060708), got.Cookie)
	assert.Equal(t, uint64(0xdeadbeefcafebabe), got.ConnectionID)
	assert.Equal(t, uint16(12345), got.Port)
	assert.Equal(t, []byte{1, 2, 3, 4}, got.HandshakeData)
}

func TestSynIsPaddedToMTU(t *testing.T) {
	pair := pairFor("shared")
	msg := &Message{
		Type:          TypeSyn,
		HasSeqnum:     true,
		ProtocolMajor: 1,
		ConnectionID:  1,
		HandshakeData: []byte{9},
	}
	out, err := Encode(msg, pair.Current(), 512)
	require.NoError(t, err)
	assert.Len(t, out, 512)
}

func TestDataIsNotPadded(t *testing.T) {
	pair := pairFor("shared")
	msg := &Message{
		Type:      TypeData,
		HasSeqnum: true,
		HasAck:    true,
		Data:      []byte("x"),
	}
	out, err := Encode(msg, pair.Current(), 512)
	require.NoError(t, err)
	assert.Less(t, len(out), 512)
}

func TestDecodeFailsWithWrongKey(t *testing.T) {
	sender := pairFor("shared-a")
	receiver := pairFor("shared-b")

	msg := &Message{Type: TypeNull}
	out, err := Encode(msg, sender.Current(), 512)
	require.NoError(t, err)

	_, err = Decode(out, receiver)
	assert.ErrorIs(t, err, ErrMAC)
}

func TestDecodeFailsOnTruncatedInput(t *testing.T) {
	pair := pairFor("shared")
	_, err := Decode([]byte{1, 2, 3}, pair)
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestDecodeRespectsPriorKeySlotAfterRotation(t *testing.T) {
	sender := pairFor("shared")
	receiver := pairFor("shared")

	msg := &Message{Type: TypeNull}
	out, err := Encode(msg, sender.Current(), 512)
	require.NoError(t, err)

	receiver.Rotate([]byte("new-secret"))

	got, err := Decode(out, receiver)
	require.NoError(t, err, "a datagram encoded before rotation must still decode against the prior key slot")
	assert.Equal(t, TypeNull, got.Type)
}

func TestEncodeRejectsInvalidMessage(t *testing.T) {
	pair := pairFor("shared")
	// Data requires both seqnum and ack.
	msg := &Message{Type: TypeData}
	_, err := Encode(msg, pair.Current(), 512)
	assert.Error(t, err)
}
