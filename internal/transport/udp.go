// Package transport provides the UDP socket primitives the relay is built
// on: bind-with-timeout receive, addressed send, and ping/pong RTT helpers.
package transport

import (
	"errors"
	"net"
	"net/netip"
	"os"
	"time"

	"github.com/orlandoviols/ovrelay/internal/wire"
)

// DefaultRecvTimeout bounds UDP.Recv so the caller's loop can observe
// shutdown between datagrams.
const DefaultRecvTimeout = 100 * time.Millisecond

// ErrTimeout is returned by Recv when no datagram arrives within the
// configured timeout. It is an expected, non-error condition.
var ErrTimeout = errors.New("transport: recv timeout")

// UDP wraps a bound *net.UDPConn.
type UDP struct {
	conn *net.UDPConn
}

// Bind opens a UDP socket on port (0 picks an ephemeral port) and returns the
// actual bound port.
func Bind(port int) (*UDP, int, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, 0, err
	}
	actual := conn.LocalAddr().(*net.UDPAddr).Port
	return &UDP{conn: conn}, actual, nil
}

// Recv reads one datagram into buf, blocking for at most timeout, and returns
// its length. buf is reused across calls; buf[:n] must be copied before the
// next call if retained.
func (u *UDP) Recv(buf []byte, timeout time.Duration) (int, netip.AddrPort, error) {
	if err := u.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, netip.AddrPort{}, err
	}
	n, addr, err := u.conn.ReadFromUDPAddrPort(buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return 0, netip.AddrPort{}, ErrTimeout
		}
		return 0, netip.AddrPort{}, err
	}
	return n, netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port()), nil
}

// Send writes b to the given endpoint.
func (u *UDP) Send(b []byte, to netip.AddrPort) error {
	_, err := u.conn.WriteToUDPAddrPort(b, to)
	return err
}

// LocalPort returns the bound local port.
func (u *UDP) LocalPort() int {
	return u.conn.LocalAddr().(*net.UDPAddr).Port
}

// Close releases the underlying socket.
func (u *UDP) Close() error {
	return u.conn.Close()
}

// SendPing sends a PORT_PONG-answerable ping frame to an endpoint, carrying
// the current wall-clock time (time.Now().UnixNano()) so the recipient's pong
// echoes it back. The timestamp is not a monotonic clock reading: a wall-clock
// step between ping and pong skews the measured round trip.
func SendPing(u *UDP, secret uint32, to netip.AddrPort) error {
	ts := wire.EncodePingTimestamp(time.Now().UnixNano())
	b, err := wire.Encode(secret, wire.ServerSDID, wire.PortPong, 0, 0, ts)
	if err != nil {
		return err
	}
	return u.Send(b, to)
}

// MeasurePong computes the elapsed time since the timestamp carried in a
// PORT_PONG payload. Negative or zero durations (clock skew, forged replies)
// are reported as an error so callers can discard the sample.
func MeasurePong(payload []byte) (time.Duration, error) {
	ts, err := wire.DecodePingTimestamp(payload)
	if err != nil {
		return 0, err
	}
	d := time.Duration(time.Now().UnixNano() - ts)
	if d <= 0 {
		return 0, errors.New("transport: non-positive round trip time")
	}
	return d, nil
}
