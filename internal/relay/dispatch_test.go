package relay

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/orlandoviols/ovrelay/internal/wire"
)

func makeMediaFrame(t *testing.T, s *Server, sdid wire.SDID, port wire.Port, payload []byte) []byte {
	t.Helper()
	return makeMediaFrameWithSecret(t, s.currentSecret(), sdid, port, payload)
}

func makeMediaFrameWithSecret(t *testing.T, secret uint32, sdid wire.SDID, port wire.Port, payload []byte) []byte {
	t.Helper()
	raw, err := wire.Encode(secret, sdid, port, 0, 1, payload)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func makeControlFrame(t *testing.T, s *Server, sdid wire.SDID, port wire.Port, seq uint32, payload []byte) []byte {
	t.Helper()
	raw, err := wire.Encode(s.currentSecret(), sdid, port, 0, seq, payload)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := NewServer(Config{Port: 0}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.udp.Close() })
	return s
}

// clientSocket stands in for a stage device: a UDP socket the test can send
// from and receive relayed/control datagrams on.
func clientSocket(t *testing.T) (*net.UDPConn, netip.AddrPort) {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	ep := netip.MustParseAddrPort(conn.LocalAddr().String())
	return conn, ep
}

func recvOrFail(t *testing.T, conn *net.UDPConn) []byte {
	t.Helper()
	buf := make([]byte, 2048)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("expected a datagram, got error: %v", err)
	}
	out := make([]byte, n)
	copy(out, buf[:n])
	return out
}

func expectNoDatagram(t *testing.T, conn *net.UDPConn) {
	t.Helper()
	buf := make([]byte, 2048)
	conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if n, _, err := conn.ReadFromUDP(buf); err == nil {
		t.Fatalf("expected no datagram, got %d bytes", n)
	}
}

func TestForwardMediaBasicFanout(t *testing.T) {
	s := newTestServer(t)
	_, epA := clientSocket(t)
	connB, epB := clientSocket(t)

	s.reg.Register(1, epA, 0, "1.0")
	s.reg.Register(2, epB, 0, "1.0")

	raw := makeMediaFrame(t, s, 1, 100, []byte("media"))
	s.handleDatagram(epA, raw)

	got := recvOrFail(t, connB)
	if string(got) != string(raw) {
		t.Fatalf("expected forwarded bytes to be unmodified, got %q want %q", got, raw)
	}
}

func TestForwardMediaSkipsDoNotSend(t *testing.T) {
	s := newTestServer(t)
	_, epA := clientSocket(t)
	connB, epB := clientSocket(t)

	s.reg.Register(1, epA, 0, "1.0")
	s.reg.Register(2, epB, wire.ModeDoNotSend, "1.0")

	raw := makeMediaFrame(t, s, 1, 100, []byte("media"))
	s.handleDatagram(epA, raw)

	expectNoDatagram(t, connB)
}

func TestForwardMediaSkipsPeerToPeerPair(t *testing.T) {
	s := newTestServer(t)
	_, epA := clientSocket(t)
	connB, epB := clientSocket(t)

	s.reg.Register(1, epA, wire.ModePeerToPeer, "1.0")
	s.reg.Register(2, epB, wire.ModePeerToPeer, "1.0")

	raw := makeMediaFrame(t, s, 1, 100, []byte("media"))
	s.handleDatagram(epA, raw)

	expectNoDatagram(t, connB)
}

func TestForwardMediaRequiresDownmixFlagMatch(t *testing.T) {
	s := newTestServer(t)
	_, epA := clientSocket(t)
	connB, epB := clientSocket(t)

	// sender does not send-downmix, receiver wants receive-downmix: no match.
	s.reg.Register(1, epA, 0, "1.0")
	s.reg.Register(2, epB, wire.ModeReceiveDownmix, "1.0")

	raw := makeMediaFrame(t, s, 1, 100, []byte("media"))
	s.handleDatagram(epA, raw)
	expectNoDatagram(t, connB)

	// now sender also send-downmixes: flags match, forward succeeds.
	s.reg.Register(1, epA, wire.ModeSendDownmix, "1.0")
	raw2 := makeMediaFrame(t, s, 1, 100, []byte("media2"))
	s.handleDatagram(epA, raw2)
	got := recvOrFail(t, connB)
	if string(got) != string(raw2) {
		t.Fatalf("expected forwarded bytes %q, got %q", raw2, got)
	}
}

func TestHandleDatagramDropsAuthMismatch(t *testing.T) {
	s := newTestServer(t)
	_, epA := clientSocket(t)
	connB, epB := clientSocket(t)

	s.reg.Register(1, epA, 0, "1.0")
	s.reg.Register(2, epB, 0, "1.0")

	before := s.metric.DatagramsDroppedAuth.Get()
	raw := makeMediaFrameWithSecret(t, s.currentSecret()+1, 1, 100, []byte("x"))
	s.handleDatagram(epA, raw)

	expectNoDatagram(t, connB)
	if s.metric.DatagramsDroppedAuth.Get() != before+1 {
		t.Fatal("expected auth-mismatch counter to increment")
	}
}

func TestHandleRegisterCreatesLiveSlot(t *testing.T) {
	s := newTestServer(t)
	_, epA := clientSocket(t)

	raw := makeControlFrame(t, s, 5, wire.PortRegister, wire.ModePeerToPeer, []byte("1.2\x00\x00"))
	s.handleDatagram(epA, raw)

	slot, ok := s.reg.Get(5)
	if !ok {
		t.Fatal("expected slot 5 to be live after REGISTER")
	}
	if slot.Mode != wire.ModePeerToPeer {
		t.Fatalf("expected mode %x, got %x", wire.ModePeerToPeer, slot.Mode)
	}
	if slot.Version != "1.2" {
		t.Fatalf("expected version 1.2, got %q", slot.Version)
	}
}
