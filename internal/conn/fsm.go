package conn

import (
	"math/rand"
	"net"
	"time"

	"github.com/brisknet/rudp/internal/collab"
	"github.com/brisknet/rudp/internal/metrics"
	"github.com/brisknet/rudp/internal/mtu"
	"github.com/brisknet/rudp/internal/recvqueue"
	"github.com/brisknet/rudp/internal/seqnum"
	"github.com/brisknet/rudp/internal/sendqueue"
	"github.com/brisknet/rudp/internal/wire"
)

// ProcessEvents drives one tick of the connection's state machine, per
// spec.md §4.9: drain socket events, run send-queue retransmission, run
// the MTU discovery tick, enforce timeouts, and emit pending ACKs. It
// must be called repeatedly by the owning worker; it never blocks.
func (c *Connection) ProcessEvents(now time.Time) {
	if c.state == StateClosed {
		return
	}

	c.drainInbox(now)

	if c.state == StateOpen && c.Data.TakeConnectRequest() {
		c.beginHandshake(now)
	}

	if c.Data.TakeCloseRequest() {
		c.closeWith(now, CloseLocalRequest)
		return
	}

	if c.state == StateHandshake {
		if now.Sub(c.stateEnteredAt) >= c.cfg.ConnectTimeout {
			c.penalize(c.peerAddr.IP, collab.PenaltyMinimal)
			c.closeWith(now, CloseTimedOut)
			return
		}
	}

	c.drainOutboundBytes(now)

	if c.state != StateClosed {
		if n := c.sendQ.Retransmit(now); n > 0 {
			metrics.Retransmissions.Add(float64(n))
		}
	}

	if c.state == StateConnected {
		wasDone := c.mtuDisc.Done()
		c.mtuDisc.Tick(now)
		if !wasDone && c.mtuDisc.Done() {
			outcome := "finished"
			if c.mtuDisc.Phase() == mtu.PhaseFailed {
				outcome = "failed"
			}
			metrics.MTUDiscoveries.WithLabelValues(outcome).Inc()
		}
		c.applyConfirmedMTU()
	}

	c.checkLiveness(now)
	if c.state == StateClosed {
		return
	}
	c.maybeKeepAlive(now)
	c.flushPendingAcks(now)
}

func (c *Connection) drainInbox(now time.Time) {
	for {
		select {
		case d := <-c.inbox:
			c.handleDatagram(now, d.raw, d.from)
		default:
			return
		}
	}
}

// drainOutboundBytes moves application bytes queued via the socket
// facade into the send queue, chunked to the current max message size
// and gated by flow control, per spec.md §4.5.
func (c *Connection) drainOutboundBytes(now time.Time) {
	if c.state != StateConnected {
		return
	}
	maxChunk := wire.GetMaxMessageDataSize(c.curMTU)
	if maxChunk <= 0 {
		return
	}
	for {
		budget := c.sendQ.AvailableBytes()
		if budget <= 0 || c.Data.PendingSendLen() == 0 {
			return
		}
		n := maxChunk
		if n > budget {
			n = budget
		}
		chunk := c.Data.DrainSend(n)
		if len(chunk) == 0 {
			return
		}
		c.sendQ.Add(now, &wire.Message{Type: wire.TypeData, Data: chunk})
	}
}

func (c *Connection) handleDatagram(now time.Time, raw []byte, from *net.UDPAddr) {
	msg, err := wire.Decode(raw, c.keyPair)
	if err != nil {
		if addrEqual(from, c.peerAddr) {
			c.penalize(from.IP, collab.PenaltyModerate)
			c.closeWith(now, CloseReceiveError)
		} else {
			c.penalize(from.IP, collab.PenaltyMinimal)
		}
		return
	}

	c.lastReceive = now

	if c.state == StateSuspended {
		c.state = StateConnected
		c.stateEnteredAt = now
		c.Data.SetSuspended(false)
	}

	if msg.Type != wire.TypeSyn && msg.Type != wire.TypeCookie {
		c.maybeMigrate(from)
	}

	switch c.state {
	case StateHandshake:
		if c.Outbound {
			c.handleOutboundHandshake(now, msg, from)
		} else {
			c.handleInboundHandshake(now, msg, from)
		}
	case StateConnected, StateSuspended:
		c.handleConnected(now, msg, from)
	}
}

func (c *Connection) maybeMigrate(from *net.UDPAddr) {
	if addrEqual(from, c.peerAddr) {
		return
	}
	if c.Outbound && addrEqual(from, c.originalPeerAddr) {
		return
	}
	if !c.accessMgr.IsAllowed(from.IP) {
		return
	}
	c.peerAddr = from
	c.Data.SetEndpoint(from)
}

func (c *Connection) handleOutboundHandshake(now time.Time, msg *wire.Message, from *net.UDPAddr) {
	switch msg.Type {
	case wire.TypeSyn:
		if msg.ProtocolMajor != ProtocolMajor || msg.ConnectionID != c.ID {
			c.penalize(from.IP, collab.PenaltyMinimal)
			c.closeWith(now, CloseUnknownMessage)
			return
		}
		secret, err := c.keyExch.DeriveSharedSecret(msg.HandshakeData)
		if err != nil {
			c.log.WithError(err).Warn("conn: key exchange failed")
			c.closeWith(now, CloseGeneralFailure)
			return
		}
		c.keyPair.Rotate(secret)

		windowSize := clampWindow(c.cfg)
		c.recvQ = recvqueue.New(msg.Seqnum, windowSize)
		c.recvQ.Accept(msg.Seqnum, nil)

		if msg.HasAck {
			c.sendQ.AckInOrder(now, msg.Ack)
		}

		if msg.Port != 0 {
			newAddr := &net.UDPAddr{IP: c.peerAddr.IP, Port: int(msg.Port), Zone: c.peerAddr.Zone}
			c.peerAddr = newAddr
			c.Data.SetEndpoint(newAddr)
		}

		c.state = StateConnected
		c.stateEnteredAt = now
		c.Data.NotifyWritable()
	case wire.TypeCookie:
		c.pendingCookie = msg.CookieID
		c.hasPendingCookie = true
		c.sendQ.Reset(c.sendQ.NextSeqnum())
		c.sendSyn(now)
	case wire.TypeNull:
		// keepalive only; lastReceive already updated.
	default:
		c.penalize(from.IP, collab.PenaltyMinimal)
		c.closeWith(now, CloseUnknownMessage)
	}
}

func (c *Connection) handleInboundHandshake(now time.Time, msg *wire.Message, from *net.UDPAddr) {
	switch msg.Type {
	case wire.TypeSyn, wire.TypeCookie:
		if !addrEqual(from, c.peerAddr) {
			c.penalize(from.IP, collab.PenaltyMinimal)
		}
		// else: retransmit of the client's original Syn, ignore.
	default:
		c.handleConnected(now, msg, from)
		if c.state == StateHandshake {
			c.state = StateConnected
			c.stateEnteredAt = now
			c.Data.NotifyWritable()
		}
	}
}

func (c *Connection) handleConnected(now time.Time, msg *wire.Message, from *net.UDPAddr) {
	if msg.HasAck && msg.Type != wire.TypeEAck && msg.Type != wire.TypeMTUD {
		c.sendQ.AckInOrder(now, msg.Ack)
	}

	switch msg.Type {
	case wire.TypeData:
		for _, b := range c.recvQ.Accept(msg.Seqnum, msg.Data) {
			c.Data.DeliverReceived(b)
		}
	case wire.TypeState:
		c.recvQ.Accept(msg.Seqnum, nil)
		c.sendQ.SetPeerWindow(sendqueue.PeerWindow{MaxItems: msg.MaxWindowItems, MaxBytes: msg.MaxWindowBytes})
	case wire.TypeEAck:
		if msg.HasAck {
			c.sendQ.AckInOrder(now, msg.Ack)
		}
		c.sendQ.AckRanges(now, msg.Ranges)
	case wire.TypeMTUD:
		if msg.HasAck {
			c.mtuDisc.OnAck(now, uint16(msg.Ack))
		} else {
			c.replyMTUDAck(msg.Seqnum)
		}
	case wire.TypeReset:
		c.closeWith(now, ClosePeerRequest)
	case wire.TypeNull:
		// liveness only.
	case wire.TypeSyn, wire.TypeCookie:
		if !addrEqual(from, c.peerAddr) {
			c.penalize(from.IP, collab.PenaltyMinimal)
		}
	default:
		if addrEqual(from, c.peerAddr) {
			c.closeWith(now, CloseUnknownMessage)
		}
	}
}

// replyMTUDAck answers a peer's MTUD probe with a minimal-size ACK-only
// MTUD carrying the probe's own sequence number, per spec.md §4.3.
func (c *Connection) replyMTUDAck(seq seqnum.Num) {
	msg := &wire.Message{Type: wire.TypeMTUD, HasAck: true, Ack: seq}
	raw, err := wire.Encode(msg, c.keyPair.Current(), wire.HeaderSize)
	if err != nil {
		return
	}
	_, _ = c.sock.WriteTo(raw, c.peerAddr)
}

func (c *Connection) beginHandshake(now time.Time) {
	n := 0
	if c.cfg.MaxNumDecoyMessages > 0 {
		n = rand.Intn(c.cfg.MaxNumDecoyMessages + 1)
	}
	for i := 0; i < n; i++ {
		c.sendDecoyNull()
	}
	c.sendSyn(now)
	c.state = StateHandshake
	c.stateEnteredAt = now
}

func (c *Connection) beginHandshakeFromPeerSyn(now time.Time, syn *wire.Message) {
	windowSize := clampWindow(c.cfg)
	c.recvQ = recvqueue.New(syn.Seqnum, windowSize)
	c.recvQ.Accept(syn.Seqnum, nil)

	secret, err := c.keyExch.DeriveSharedSecret(syn.HandshakeData)
	if err != nil {
		c.log.WithError(err).Warn("conn: inbound key exchange failed")
		c.closeWith(now, CloseGeneralFailure)
		return
	}
	c.keyPair.Rotate(secret)
	c.sendSyn(now)
	c.state = StateHandshake
	c.stateEnteredAt = now
}

func (c *Connection) sendSyn(now time.Time) {
	if c.localHandshakeData == nil {
		data, err := c.keyExch.LocalHandshakeData()
		if err != nil {
			c.log.WithError(err).Warn("conn: local handshake data generation failed")
			data = nil
		}
		c.localHandshakeData = data
	}
	msg := &wire.Message{
		Type:          wire.TypeSyn,
		ProtocolMajor: ProtocolMajor,
		ProtocolMinor: ProtocolMinor,
		ConnectionID:  c.ID,
		Port:          localPort(c.sock),
		HandshakeData: c.localHandshakeData,
	}
	if c.hasPendingCookie {
		msg.HasCookie = true
		msg.Cookie = c.pendingCookie
	}
	c.sendQ.Add(now, msg)
}

func (c *Connection) sendDecoyNull() {
	msg := &wire.Message{Type: wire.TypeNull}
	raw, err := wire.Encode(msg, c.keyPair.Current(), c.curMTU)
	if err != nil {
		return
	}
	_, _ = c.sock.WriteTo(raw, c.peerAddr)
}

func (c *Connection) checkLiveness(now time.Time) {
	switch c.state {
	case StateConnected:
		if now.Sub(c.lastReceive) >= c.cfg.SuspendTimeout {
			c.state = StateSuspended
			c.stateEnteredAt = now
			c.Data.SetSuspended(true)
		}
	case StateSuspended:
		if now.Sub(c.stateEnteredAt) >= c.cfg.MaxSuspendDuration {
			c.closeWith(now, CloseTimedOut)
		}
	}
}

func (c *Connection) maybeKeepAlive(now time.Time) {
	if c.state != StateConnected && c.state != StateSuspended {
		return
	}
	if now.Sub(c.lastSend) < c.keepAliveTimeout {
		return
	}
	msg := &wire.Message{Type: wire.TypeNull}
	raw, err := wire.Encode(msg, c.keyPair.Current(), c.curMTU)
	if err == nil {
		_, _ = c.sock.WriteTo(raw, c.peerAddr)
		c.lastSend = now
	}
	c.keepAliveTimeout = randDuration(c.cfg.SuspendTimeout)
}

// flushPendingAcks emits EAck datagrams covering every sequence number
// received since the last flush, collapsed into ranges and capped at
// MaxAckRangesPerMessage ranges per datagram, per spec.md §4.6.
func (c *Connection) flushPendingAcks(now time.Time) {
	if c.state != StateConnected && c.state != StateSuspended {
		return
	}
	if !c.recvQ.HasPendingAcks() {
		return
	}
	maxRanges := wire.GetMaxAckRangesPerMessage(c.curMTU)
	ranges := c.recvQ.PendingRanges(0)
	for len(ranges) > 0 {
		n := maxRanges
		if n <= 0 || n > len(ranges) {
			n = len(ranges)
		}
		batch := ranges[:n]
		ranges = ranges[n:]

		wireRanges := make([]wire.AckRange, len(batch))
		for i, r := range batch {
			wireRanges[i] = wire.AckRange{Begin: r.Begin, End: r.End}
		}
		msg := &wire.Message{Type: wire.TypeEAck, HasAck: true, Ack: c.recvQ.LastInOrder(), Ranges: wireRanges}
		raw, err := wire.Encode(msg, c.keyPair.Current(), c.curMTU)
		if err != nil {
			continue
		}
		_, _ = c.sock.WriteTo(raw, c.peerAddr)
	}
	c.recvQ.Flush()
}

// applyConfirmedMTU propagates a newly confirmed path MTU into the send
// queue's flow-control arithmetic and the local advertised receive
// window, sending a State update if Connected, per spec.md §4.6's "MTU
// update".
func (c *Connection) applyConfirmedMTU() {
	confirmed := c.mtuDisc.ConfirmedMax()
	if confirmed == c.curMTU {
		return
	}
	c.curMTU = confirmed
	c.sendQ.SetMTU(confirmed)

	items := c.localMaxWindowBytes / uint32(confirmed)
	if items < c.localMinWindowItems {
		items = c.localMinWindowItems
	}
	if items > c.localMaxWindowItems {
		items = c.localMaxWindowItems
	}

	if c.state == StateConnected {
		msg := &wire.Message{Type: wire.TypeState, MaxWindowItems: items, MaxWindowBytes: c.localMaxWindowBytes}
		c.sendQ.Add(time.Now(), msg)
	}
}

func (c *Connection) closeWith(now time.Time, cond CloseCondition) {
	if c.state == StateClosed {
		return
	}
	if cond != ClosePeerRequest && (c.state == StateConnected || c.state == StateSuspended || c.state == StateHandshake) {
		c.sendReset()
	}
	c.state = StateClosed
	c.stateEnteredAt = now
	c.closeCond = cond
	c.Data.SetCloseCondition(cond)
}

func (c *Connection) sendReset() {
	msg := &wire.Message{Type: wire.TypeReset}
	raw, err := wire.Encode(msg, c.keyPair.Current(), c.curMTU)
	if err != nil {
		return
	}
	_, _ = c.sock.WriteTo(raw, c.peerAddr)
}

// penalize applies a reputation penalty and records it for the
// reputation_penalties_total metric, the attack-traffic signal of
// spec.md §7's "protocol-attack signals" class.
func (c *Connection) penalize(ip net.IP, severity collab.Penalty) {
	c.accessMgr.Penalize(ip, severity)
	metrics.ReputationPenalties.WithLabelValues(severity.String()).Inc()
}

func localPort(sock collab.PacketConn) uint16 {
	addr := sock.LocalAddr()
	if addr == nil {
		return 0
	}
	return uint16(addr.Port)
}

func addrEqual(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.IP.Equal(b.IP) && a.Port == b.Port
}
