// Package listener implements the accept-side half of spec.md §4.8: one
// receive loop per bound socket that demultiplexes inbound datagrams to
// existing connections, runs the SYN-cookie defense under load, and hands
// newly-accepted connections to the connection manager. Grounded on the
// teacher's Server.Start/listen pair (source/server/server.go), which
// binds one UDP socket and spawns a dedicated receive-loop goroutine
// alongside the manager's own ticking goroutines.
package listener

import (
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brisknet/rudp/internal/collab"
	"github.com/brisknet/rudp/internal/config"
	"github.com/brisknet/rudp/internal/conn"
	"github.com/brisknet/rudp/internal/cookie"
	"github.com/brisknet/rudp/internal/keys"
	"github.com/brisknet/rudp/internal/manager"
	"github.com/brisknet/rudp/internal/metrics"
	"github.com/brisknet/rudp/internal/mtu"
	"github.com/brisknet/rudp/internal/wire"
)

// KeyExchangerFactory mints a fresh KeyExchanger for one connection
// attempt; the listener cannot share a single KeyExchanger across
// connections since each handshake has its own ephemeral state.
type KeyExchangerFactory func() collab.KeyExchanger

// Manager is the subset of *manager.Manager the listener depends on, kept
// as an interface so tests can substitute a fake without a real worker
// pool.
type Manager interface {
	Add(c *conn.Connection)
	InFlightHandshakes() int64
	LookupByAddr(addr *net.UDPAddr) *conn.Connection
}

var _ Manager = (*manager.Manager)(nil)

// Deps bundles the listener's external collaborators.
type Deps struct {
	Config          *config.Config
	AccessManager   collab.AccessManager
	KeyGenerator    collab.KeyGenerator
	KeyExchangerNew KeyExchangerFactory
	Manager         Manager
	Log             *logrus.Entry
}

// Listener owns one bound UDP socket and its receive loop.
type Listener struct {
	sock collab.PacketConn
	deps Deps
	log  *logrus.Entry

	handshakePair *keys.Pair
	sharedSecret  []byte
	cookies       *cookie.Jar

	stop chan struct{}
	done chan struct{}
}

// New binds a UDP socket at the configured address/port and constructs a
// Listener ready for Serve. The handshake-phase key pair is derived once
// from the configured global shared secret (or keys.DefaultSharedSecret),
// since every Syn and Cookie exchanged before a connection's own key
// rotation completes is encoded under that shared secret (spec.md §4.1).
func New(deps Deps, now time.Time) (*Listener, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(deps.Config.BindAddress), Port: deps.Config.BindPort}
	sock, err := collab.NewUDPConn(addr)
	if err != nil {
		return nil, err
	}
	secret := []byte(deps.Config.GlobalSharedSecret)
	l := &Listener{
		sock:          sock,
		deps:          deps,
		log:           deps.Log,
		handshakePair: keys.NewPair(secret),
		sharedSecret:  secret,
		cookies:       cookie.NewJar(deps.Config.CookieExpirationInterval, now),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	return l, nil
}

// Serve runs the receive loop until Close is called. It must be run in its
// own goroutine; it blocks on sock.ReadFrom.
func (l *Listener) Serve() {
	defer close(l.done)
	buf := make([]byte, 65535)
	for {
		select {
		case <-l.stop:
			return
		default:
		}
		n, from, err := l.sock.ReadFrom(buf)
		if err != nil {
			select {
			case <-l.stop:
				return
			default:
			}
			l.log.WithError(err).Debug("listener: read failed")
			continue
		}
		raw := append([]byte(nil), buf[:n]...)
		l.handleDatagram(raw, from)
	}
}

// LocalAddr exposes the bound endpoint, e.g. for logging the ephemeral
// port the kernel chose when BindPort was 0.
func (l *Listener) LocalAddr() *net.UDPAddr {
	return l.sock.LocalAddr()
}

// Socket exposes the listener's bound socket so a dialed outbound
// connection can share the same port, matching spec.md §4.8's note that
// one socket serves both accepted and dialed traffic (needed for NAT
// traversal when both peers are behind the same translated address).
func (l *Listener) Socket() collab.PacketConn {
	return l.sock
}

// Close stops the receive loop and releases the socket.
func (l *Listener) Close() error {
	close(l.stop)
	err := l.sock.Close()
	<-l.done
	return err
}

func (l *Listener) handleDatagram(raw []byte, from *net.UDPAddr) {
	if c := l.deps.Manager.LookupByAddr(from); c != nil {
		c.Deliver(raw, from)
		return
	}

	if !l.deps.AccessManager.IsAllowed(from.IP) {
		return
	}

	l.cookies.Rotate(time.Now())

	msg, err := wire.Decode(raw, l.handshakePair)
	if err != nil {
		l.deps.AccessManager.Penalize(from.IP, collab.PenaltyMinimal)
		return
	}
	if msg.Type != wire.TypeSyn {
		// Not a handshake attempt and not addressed to any known
		// connection: either stale traffic for a connection this
		// listener already reaped, or noise.
		l.deps.AccessManager.Penalize(from.IP, collab.PenaltyMinimal)
		return
	}
	if msg.ProtocolMajor != conn.ProtocolMajor {
		l.deps.AccessManager.Penalize(from.IP, collab.PenaltyMinimal)
		l.log.WithFields(logrus.Fields{
			"remote": from.String(),
			"major":  msg.ProtocolMajor,
		}).Debug("listener: protocol version mismatch")
		return
	}

	underPressure := l.deps.Manager.InFlightHandshakes() >= l.deps.Config.ConnectCookieRequirementThreshold
	if underPressure && !msg.HasCookie {
		l.challenge(msg, from)
		return
	}
	if msg.HasCookie {
		if !l.cookies.Verify(msg.Cookie, msg.ConnectionID, from) {
			l.deps.AccessManager.Penalize(from.IP, collab.PenaltyModerate)
			return
		}
	}

	l.accept(msg, from, msg.HasCookie)
}

// challenge answers a SYN under cookie pressure with a Cookie reply
// instead of creating a connection, per spec.md §4.7's "Issue" step.
func (l *Listener) challenge(syn *wire.Message, from *net.UDPAddr) {
	cookieID := l.cookies.Issue(syn.ConnectionID, from)
	reply := &wire.Message{Type: wire.TypeCookie, CookieID: cookieID}
	out, err := wire.Encode(reply, l.handshakePair.Current(), mtu.Ladder[0])
	if err != nil {
		l.log.WithError(err).Warn("listener: encode cookie reply failed")
		return
	}
	if _, err := l.sock.WriteTo(out, from); err != nil {
		l.log.WithError(err).Debug("listener: send cookie reply failed")
		return
	}
	metrics.CookieChallenges.Inc()
}

// accept hands a verified SYN to the connection manager as a new inbound
// connection, per spec.md §4.8's "asks the connection manager to create a
// new inbound connection". The listener's own socket is reused by the
// connection for all of its traffic (spec.md §4.8's note that handshake
// replies come from the listener's port, needed for NAT traversal).
func (l *Listener) accept(syn *wire.Message, from *net.UDPAddr, cookieVerified bool) {
	id := l.deps.KeyGenerator.ConnectionID()
	deps := conn.Deps{
		Config:        l.deps.Config,
		AccessManager: l.deps.AccessManager,
		KeyExchanger:  l.deps.KeyExchangerNew(),
		Socket:        l.sock,
		Log:           l.log,
	}
	c := conn.NewInbound(id, from, syn, l.sharedSecret, deps)
	l.deps.Manager.Add(c)

	label := "false"
	if cookieVerified {
		label = "true"
	}
	metrics.AcceptedConnections.WithLabelValues(label).Inc()
	l.log.WithFields(logrus.Fields{
		"connection_id":   id,
		"remote":          from.String(),
		"cookie_verified": cookieVerified,
	}).Info("listener: accepted inbound connection")
}
