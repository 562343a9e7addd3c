// Package conn implements the per-connection engine of spec.md §4.6: the
// Open->Handshake->Connected<->Suspended->Closed state machine that ties
// together the message codec, the send/receive queues, the MTU
// discoverer, and the RTT/window statistics into one reliable stream.
package conn

import (
	"math/rand"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brisknet/rudp/internal/collab"
	"github.com/brisknet/rudp/internal/config"
	"github.com/brisknet/rudp/internal/keys"
	"github.com/brisknet/rudp/internal/mtu"
	"github.com/brisknet/rudp/internal/recvqueue"
	"github.com/brisknet/rudp/internal/seqnum"
	"github.com/brisknet/rudp/internal/sendqueue"
	"github.com/brisknet/rudp/internal/stats"
	"github.com/brisknet/rudp/internal/wire"
)

// ProtocolMajor and ProtocolMinor are this implementation's handshake
// version, compared against the peer's per spec.md §6.
const (
	ProtocolMajor uint8 = 1
	ProtocolMinor uint8 = 0
)

type inboundDatagram struct {
	raw  []byte
	from *net.UDPAddr
}

// Connection is one peer-to-peer session. It is owned exclusively by the
// worker goroutine that calls ProcessEvents; its fields are untouched by
// any other goroutine, with the sole cross-goroutine surface being Data
// (spec.md §5).
type Connection struct {
	ID       uint64
	Outbound bool

	log *logrus.Entry
	cfg *config.Config

	accessMgr collab.AccessManager
	keyExch   collab.KeyExchanger
	sock      collab.PacketConn

	peerMajor, peerMinor uint8
	peerConnID           uint64
	peerAddr             *net.UDPAddr
	originalPeerAddr     *net.UDPAddr // outbound connections never migrate back to this

	state          State
	stateEnteredAt time.Time
	closeCond      CloseCondition

	keyPair             *keys.Pair
	localHandshakeData  []byte
	sharedSecret        []byte
	pendingCookie       uint64
	hasPendingCookie    bool

	sendQ   *sendqueue.Queue
	recvQ   *recvqueue.Queue
	mtuDisc *mtu.Discoverer
	rtt     *stats.RTTEstimator
	window  *stats.WindowEstimator

	curMTU int

	localMinWindowItems uint32
	localMaxWindowItems uint32
	localMaxWindowBytes uint32

	lastReceive time.Time
	lastSend    time.Time

	keepAliveTimeout time.Duration

	Data *ConnectionData

	inbox chan inboundDatagram
}

// Deps bundles the external collaborators a Connection consumes
// (spec.md §1, §6), kept together so manager/listener construction sites
// don't repeat a long parameter list.
type Deps struct {
	Config        *config.Config
	AccessManager collab.AccessManager
	KeyExchanger  collab.KeyExchanger
	Socket        collab.PacketConn
	Log           *logrus.Entry
}

// NewOutbound creates a connection that will initiate the handshake to
// remote once ProcessEvents observes a connect request (spec.md §4.6's
// Open->Handshake transition).
func NewOutbound(id uint64, remote *net.UDPAddr, sharedSecret []byte, deps Deps) *Connection {
	c := newConnection(id, remote, sharedSecret, deps)
	c.Outbound = true
	c.originalPeerAddr = remote
	c.state = StateOpen
	return c
}

// NewInbound creates a connection seeded from an already-verified SYN
// received by the listener: the reply SYN is sent immediately and the
// connection enters Handshake, per spec.md §4.8's hand-off to the
// connection manager.
func NewInbound(id uint64, remote *net.UDPAddr, syn *wire.Message, sharedSecret []byte, deps Deps) *Connection {
	c := newConnection(id, remote, sharedSecret, deps)
	c.Outbound = false
	c.peerAddr = remote
	c.peerMajor, c.peerMinor = syn.ProtocolMajor, syn.ProtocolMinor
	c.peerConnID = syn.ConnectionID
	c.beginHandshakeFromPeerSyn(time.Now(), syn)
	return c
}

func newConnection(id uint64, remote *net.UDPAddr, sharedSecret []byte, deps Deps) *Connection {
	now := time.Now()
	rtt := stats.NewRTTEstimator()
	window := stats.NewWindowEstimator()
	initialMTU := mtu.Ladder[0]

	c := &Connection{
		ID:                  id,
		log:                 deps.Log.WithField("conn", id),
		cfg:                 deps.Config,
		accessMgr:           deps.AccessManager,
		keyExch:             deps.KeyExchanger,
		sock:                deps.Socket,
		peerAddr:            remote,
		state:               StateOpen,
		stateEnteredAt:      now,
		keyPair:             keys.NewPair(sharedSecret),
		sharedSecret:        sharedSecret,
		rtt:                 rtt,
		window:              window,
		curMTU:              initialMTU,
		localMinWindowItems: deps.Config.MinWindowItems,
		localMaxWindowItems: deps.Config.MaxWindowItems,
		localMaxWindowBytes: deps.Config.MaxWindowBytes,
		lastReceive:         now,
		lastSend:            now,
		Data:                NewConnectionData(),
		inbox:               make(chan inboundDatagram, 256),
	}
	c.keepAliveTimeout = randDuration(c.cfg.SuspendTimeout)
	c.Data.SetEndpoint(remote)

	sendStart := seqnum.Num(uint16(rand.Int63()))
	c.sendQ = sendqueue.New((*sendAdapter)(c), rtt, window, initialMTU, sendStart)
	c.recvQ = recvqueue.New(seqnum.Num(0), clampWindow(deps.Config))
	c.mtuDisc = mtu.New((*mtuAdapter)(c), deps.Socket, deps.Config.MaxMTUDiscoveryDelay, c.log)
	return c
}

func clampWindow(cfg *config.Config) uint32 {
	w := cfg.MaxWindowBytes / uint32(mtu.Ladder[0])
	if w < cfg.MinWindowItems {
		w = cfg.MinWindowItems
	}
	if w > cfg.MaxWindowItems {
		w = cfg.MaxWindowItems
	}
	return w
}

func randDuration(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}

// Deliver enqueues one raw datagram received from the socket for
// processing on the next ProcessEvents call, per spec.md §4.9's "drains
// socket events". It must never block; the inbox is sized generously and
// a full inbox drops the oldest-style backpressure onto the network
// layer (the datagram is simply dropped, same as if it were lost).
func (c *Connection) Deliver(raw []byte, from *net.UDPAddr) {
	select {
	case c.inbox <- inboundDatagram{raw: raw, from: from}:
	default:
		c.log.Warn("conn: inbox full, dropping datagram")
	}
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() State { return c.state }

// CloseCondition returns why the connection closed, or CloseNone.
func (c *Connection) CloseCondition() CloseCondition { return c.closeCond }

// PeerAddr returns the currently pinned peer endpoint.
func (c *Connection) PeerAddr() *net.UDPAddr { return c.peerAddr }

// MTU returns the current confirmed maximum datagram payload size.
func (c *Connection) MTU() int { return c.curMTU }
