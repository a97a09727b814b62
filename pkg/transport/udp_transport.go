package transport

import (
	"net"
	"os"
	"strconv"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	"github.com/skycoin/skycoin/src/util/logging"

	"github.com/skycoin/ptp/pkg/segment"
)

const (
	// UDPType is the type string of UDPTransport.
	UDPType = "udp"

	// DefaultHost is the host both endpoints bind and target by default.
	DefaultHost = "127.0.0.1"

	readBufSize = 16 * 1024
)

var log = logging.MustGetLogger("transport")

// UDPTransport implements Transport over a UDP socket bound to a fixed local
// port and targeting a fixed remote address. When the socket is connected to
// that address, ICMP port-unreachable replies surface as ErrChannelUnavailable.
// Recv must only be called from a single goroutine.
type UDPTransport struct {
	conn      net.PacketConn
	connected net.Conn // set when conn is connected to raddr
	raddr     net.Addr
	buf       []byte

	done chan struct{}
	once sync.Once
}

// Dial binds localPort on DefaultHost and targets remotePort on the same host.
func Dial(localPort, remotePort int) (*UDPTransport, error) {
	return DialHost(DefaultHost, localPort, remotePort)
}

// DialHost binds localPort on host and connects the socket to remotePort on
// host.
func DialHost(host string, localPort, remotePort int) (*UDPTransport, error) {
	laddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(localPort)))
	if err != nil {
		return nil, errors.Wrapf(err, "resolve local port %d", localPort)
	}
	raddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(remotePort)))
	if err != nil {
		return nil, errors.Wrapf(err, "resolve remote port %d", remotePort)
	}
	conn, err := net.DialUDP("udp", laddr, raddr)
	if err != nil {
		return nil, errors.Wrapf(err, "bind %s", laddr)
	}
	log.Debugf("bound %s, peer %s", conn.LocalAddr(), raddr)
	return NewUDPTransport(conn, raddr), nil
}

// NewUDPTransport wraps an already bound packet connection. conn may be
// connected to raddr.
func NewUDPTransport(conn net.PacketConn, raddr net.Addr) *UDPTransport {
	t := &UDPTransport{
		conn:  conn,
		raddr: raddr,
		buf:   make([]byte, readBufSize),
		done:  make(chan struct{}),
	}
	if c, ok := conn.(*net.UDPConn); ok && c.RemoteAddr() != nil {
		t.connected = c
	}
	return t
}

// Send implements Transport.
func (t *UDPTransport) Send(seg segment.Segment) error {
	if t.isClosed() {
		return ErrClosed
	}
	var err error
	if t.connected != nil {
		_, err = t.connected.Write(seg.Encode())
	} else {
		_, err = t.conn.WriteTo(seg.Encode(), t.raddr)
	}
	if err != nil {
		return t.mapErr(err)
	}
	return nil
}

// Recv implements Transport.
func (t *UDPTransport) Recv() (segment.Segment, error) {
	n, _, err := t.conn.ReadFrom(t.buf)
	if err != nil {
		return segment.Segment{}, t.mapErr(err)
	}
	return segment.Decode(t.buf[:n])
}

// Close implements Transport.
func (t *UDPTransport) Close() error {
	var err error
	t.once.Do(func() {
		close(t.done)
		err = t.conn.Close()
	})
	return err
}

// LocalAddr returns the bound local address.
func (t *UDPTransport) LocalAddr() net.Addr { return t.conn.LocalAddr() }

// RemoteAddr returns the peer address.
func (t *UDPTransport) RemoteAddr() net.Addr { return t.raddr }

// Type implements Transport.
func (t *UDPTransport) Type() string { return UDPType }

func (t *UDPTransport) isClosed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func (t *UDPTransport) mapErr(err error) error {
	if t.isClosed() {
		return ErrClosed
	}
	if isUnavailable(err) {
		return ErrChannelUnavailable
	}
	return err
}

func isUnavailable(err error) bool {
	opErr, ok := err.(*net.OpError)
	if !ok {
		return false
	}
	sysErr, ok := opErr.Err.(*os.SyscallError)
	if !ok {
		return false
	}
	return sysErr.Err == syscall.ECONNRESET || sysErr.Err == syscall.ECONNREFUSED
}
