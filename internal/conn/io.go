package conn

import (
	"time"

	"github.com/brisknet/rudp/internal/seqnum"
	"github.com/brisknet/rudp/internal/sendqueue"
	"github.com/brisknet/rudp/internal/wire"
)

func nowFunc() time.Time { return time.Now() }

func seqnumFromUint16(v uint16) seqnum.Num { return seqnum.Num(v) }

// sendAdapter gives *Connection the sendqueue.Sender shape without an
// extra allocation: it shares Connection's layout so the two can be
// converted back and forth for free, the way a single struct is given
// several role-specific method sets in the teacher's codebase.
type sendAdapter Connection

// SendEntry refreshes e's piggybacked ACK to the connection's current
// cumulative receive position, encodes it under the current key, and
// writes it to the pinned peer endpoint.
func (a *sendAdapter) SendEntry(e *sendqueue.Entry) error {
	c := (*Connection)(a)
	e.Msg.HasAck = true
	e.Msg.Ack = c.recvQ.LastInOrder()

	raw, err := wire.Encode(e.Msg, c.keyPair.Current(), c.curMTU)
	if err != nil {
		return err
	}
	_, err = c.sock.WriteTo(raw, c.peerAddr)
	if err == nil {
		c.lastSend = nowFunc()
	}
	return err
}

// mtuAdapter gives *Connection the mtu.Sender shape, same trick as
// sendAdapter.
type mtuAdapter Connection

// SendProbe encodes and sends an MTUD probe of size bytes carrying
// seqnum, relying on wire.Encode's padding of paddable message types to
// fill the datagram out to size.
func (a *mtuAdapter) SendProbe(seq uint16, size int) error {
	c := (*Connection)(a)
	msg := &wire.Message{
		Type:      wire.TypeMTUD,
		HasSeqnum: true,
		Seqnum:    seqnumFromUint16(seq),
	}
	raw, err := wire.Encode(msg, c.keyPair.Current(), size)
	if err != nil {
		return err
	}
	_, err = c.sock.WriteTo(raw, c.peerAddr)
	return err
}
