// Package rudp is the public socket facade over the reliable authenticated
// UDP transport: Config, Listen/Dial, and a Conn implementing io.ReadWriter
// backed by one connection's ConnectionData handoff. Grounded on the
// teacher's top-level server.Server as the one exported entry point an
// embedding program talks to (source/server/server.go), but split into the
// narrower Dial/Listen pair idiomatic Go networking packages expose (net,
// crypto/tls) rather than one do-everything Server type.
package rudp

import (
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brisknet/rudp/internal/applog"
	"github.com/brisknet/rudp/internal/collab"
	"github.com/brisknet/rudp/internal/config"
	"github.com/brisknet/rudp/internal/conn"
	"github.com/brisknet/rudp/internal/listener"
	"github.com/brisknet/rudp/internal/manager"
)

// Config is the configuration surface of spec.md §6, re-exported so callers
// never import internal/config directly.
type Config = config.Config

// DefaultConfig returns a Config populated with the same defaults Load
// would apply from the environment, for callers that want to override a
// handful of fields programmatically instead of through env vars.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:                    30 * time.Second,
		ConnectRetransmissionTimeout:      500 * time.Millisecond,
		SuspendTimeout:                    10 * time.Second,
		MaxSuspendDuration:                60 * time.Second,
		MaxMTUDiscoveryDelay:              2 * time.Second,
		ConnectCookieRequirementThreshold: 128,
		CookieExpirationInterval:          2 * time.Minute,
		MinWorkers:                        1,
		MaxWorkers:                        8,
		MinWindowItems:                    32,
		MaxWindowItems:                    2048,
		MaxWindowBytes:                    4194304,
		BindAddress:                       "0.0.0.0",
		LogLevel:                          "info",
	}
}

// AccessManager, Penalty, and its graded constants are re-exported so an
// embedding application can supply its own reputation store without
// importing internal/collab.
type AccessManager = collab.AccessManager
type Penalty = collab.Penalty

const (
	PenaltyMinimal  = collab.PenaltyMinimal
	PenaltyModerate = collab.PenaltyModerate
	PenaltySevere   = collab.PenaltySevere
)

// CloseCondition mirrors internal/conn.CloseCondition for callers that
// want to branch on why a Conn's Read/Write started failing.
type CloseCondition = conn.CloseCondition

// Condition extracts the CloseCondition from an error returned by Conn, if
// any.
func Condition(err error) (CloseCondition, bool) {
	return conn.Condition(err)
}

// Transport owns one bound socket, its listener, and the connection
// manager backing every Conn dialed or accepted through it, per spec.md
// §4.8/§4.9's split between the accept path and the worker pool.
type Transport struct {
	cfg    *Config
	access collab.AccessManager
	keygen collab.KeyGenerator
	mgr    *manager.Manager
	lst    *listener.Listener
	log    *logrus.Entry
}

// Option configures a Transport at construction time.
type Option func(*options)

type options struct {
	access collab.AccessManager
}

// WithAccessManager overrides the default allow-all access manager with a
// caller-supplied reputation store (spec.md §6's access-control
// collaborator).
func WithAccessManager(am AccessManager) Option {
	return func(o *options) { o.access = am }
}

// Listen binds cfg's configured address/port and starts accepting inbound
// connections, per spec.md §4.8.
func Listen(cfg Config, opts ...Option) (*Transport, error) {
	o := options{access: collab.AllowAllAccessManager{}}
	for _, opt := range opts {
		opt(&o)
	}
	applog.SetLevel(cfg.LogLevel)
	log := applog.For("transport")

	t := &Transport{
		cfg:    &cfg,
		access: o.access,
		keygen: collab.DefaultKeyGenerator{},
		log:    log,
	}
	t.mgr = manager.New(&cfg, log.WithField("subcomponent", "manager"))

	lst, err := listener.New(listener.Deps{
		Config:          &cfg,
		AccessManager:   t.access,
		KeyGenerator:    t.keygen,
		KeyExchangerNew: func() collab.KeyExchanger { return collab.NewX25519KeyExchanger() },
		Manager:         t.mgr,
		Log:             log.WithField("subcomponent", "listener"),
	}, time.Now())
	if err != nil {
		return nil, err
	}
	t.lst = lst
	go lst.Serve()
	return t, nil
}

// LocalAddr returns the bound endpoint, useful when cfg.BindPort is 0 and
// the kernel chose an ephemeral port.
func (t *Transport) LocalAddr() *net.UDPAddr {
	return t.lst.LocalAddr()
}

// Dial opens a connection owned by this Transport's manager. It returns
// once the connect request has been queued; the returned Conn's Read and
// Write block until the handshake completes or fails.
func (t *Transport) Dial(remote *net.UDPAddr, sharedSecret []byte) (*Conn, error) {
	id := t.keygen.ConnectionID()
	deps := conn.Deps{
		Config:        t.cfg,
		AccessManager: t.access,
		KeyExchanger:  collab.NewX25519KeyExchanger(),
		Socket:        t.lst.Socket(),
		Log:           t.log.WithField("subcomponent", "conn"),
	}
	c := conn.NewOutbound(id, remote, sharedSecret, deps)
	c.Data.RequestConnect()
	t.mgr.Add(c)
	return &Conn{data: c.Data, cfg: t.cfg}, nil
}

// Close shuts down the listener's receive loop and the manager's worker
// pool.
func (t *Transport) Close() error {
	_ = t.lst.Close()
	return t.mgr.Shutdown(5 * time.Second)
}

// Conn is the application-facing handle for one connection, implementing
// io.ReadWriter over the Connection's ConnectionData cross-thread handoff
// (spec.md §5).
type Conn struct {
	data *conn.ConnectionData
	cfg  *Config
}

// Read blocks until at least one byte has been delivered or the
// connection closes; once closed and no more bytes remain buffered it
// returns (0, err) with err unwrapping to a CloseCondition via Condition.
func (c *Conn) Read(p []byte) (int, error) {
	for {
		b := c.data.Read(len(p))
		if len(b) > 0 {
			return copy(p, b), nil
		}
		if cond := c.data.CloseCondition(); cond != conn.CloseNone {
			return 0, cond.Err()
		}
		<-c.data.ReadReady()
	}
}

// Write queues p for the connection's worker to frame and send; it does
// not block on the network, only on a closed connection.
func (c *Conn) Write(p []byte) (int, error) {
	if cond := c.data.CloseCondition(); cond != conn.CloseNone {
		return 0, cond.Err()
	}
	c.data.QueueSend(p)
	return len(p), nil
}

// Close requests the owning worker close the connection, emitting RESET
// if still connected (spec.md §5's cancellation model).
func (c *Conn) Close() error {
	c.data.RequestClose()
	return nil
}

var _ io.ReadWriteCloser = (*Conn)(nil)
