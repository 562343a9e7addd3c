package collab

import (
	"net"
	"runtime"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ErrMessageTooLarge is returned by PacketConn.WriteTo when the kernel
// refused to send a datagram because it would have been fragmented while
// the don't-fragment bit was set (EMSGSIZE), the signal the MTU
// discoverer (internal/mtu) uses to fall back to a smaller rung.
var ErrMessageTooLarge = errors.New("collab: message exceeds path MTU")

// PacketConn is the raw UDP send/receive primitive this module consumes
// as a collaborator (spec.md §1, §6): read one datagram with its source
// address, write one datagram to a destination, and toggle the IP-layer
// "don't fragment" bit the MTU discoverer needs.
type PacketConn interface {
	ReadFrom(b []byte) (n int, addr *net.UDPAddr, err error)
	WriteTo(b []byte, addr *net.UDPAddr) (n int, err error)
	SetDontFragment(enabled bool) error
	LocalAddr() *net.UDPAddr
	Close() error
}

// UDPConn adapts *net.UDPConn to PacketConn, translating the don't-
// fragment toggle into the platform socket option (IP_MTU_DISCOVER on
// Linux) and classifying oversized-message send errors.
type UDPConn struct {
	conn *net.UDPConn
}

// NewUDPConn binds a UDP socket at addr (nil for an ephemeral/any port).
func NewUDPConn(addr *net.UDPAddr) (*UDPConn, error) {
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "collab: bind UDP socket")
	}
	return &UDPConn{conn: conn}, nil
}

func (c *UDPConn) ReadFrom(b []byte) (int, *net.UDPAddr, error) {
	n, addr, err := c.conn.ReadFromUDP(b)
	return n, addr, err
}

func (c *UDPConn) WriteTo(b []byte, addr *net.UDPAddr) (int, error) {
	n, err := c.conn.WriteToUDP(b, addr)
	if err != nil && isMessageTooLarge(err) {
		return n, ErrMessageTooLarge
	}
	return n, err
}

func (c *UDPConn) LocalAddr() *net.UDPAddr {
	return c.conn.LocalAddr().(*net.UDPAddr)
}

func (c *UDPConn) Close() error {
	return c.conn.Close()
}

// SetDontFragment enables or disables path-MTU-discovery-style
// fragmentation blocking on the underlying socket. It is a no-op (success)
// on platforms without the Linux IP_MTU_DISCOVER socket option; MTU
// discovery there degrades to relying on EMSGSIZE from the kernel alone.
func (c *UDPConn) SetDontFragment(enabled bool) error {
	if runtime.GOOS != "linux" {
		return nil
	}
	raw, err := c.conn.SyscallConn()
	if err != nil {
		return errors.Wrap(err, "collab: syscall conn")
	}
	mode := unix.IP_PMTUDISC_DONT
	if enabled {
		mode = unix.IP_PMTUDISC_DO
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_MTU_DISCOVER, mode)
	})
	if err != nil {
		return errors.Wrap(err, "collab: control")
	}
	return errors.Wrap(sockErr, "collab: setsockopt IP_MTU_DISCOVER")
}

func isMessageTooLarge(err error) bool {
	if errors.Is(err, unix.EMSGSIZE) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Is(opErr.Err, unix.EMSGSIZE)
	}
	return false
}
