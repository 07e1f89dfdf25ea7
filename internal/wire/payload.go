package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"net/netip"
)

// Control-message payload layouts. Every decoder here validates length
// before touching the buffer; malformed payloads return an error and the
// caller must drop the message without any state change.

var ErrMalformedPayload = errors.New("wire: malformed control payload")

// EndpointPayloadSize is the wire size of an IPv4 endpoint: 4 address bytes
// followed by a little-endian uint16 port.
const EndpointPayloadSize = 4 + 2

// EncodeEndpoint packs an IPv4 endpoint for SETLOCALIP/LISTCID payloads.
func EncodeEndpoint(ep netip.AddrPort) ([]byte, error) {
	if !ep.Addr().Is4() && !ep.Addr().Is4In6() {
		return nil, errors.New("wire: endpoint is not IPv4")
	}
	b := make([]byte, EndpointPayloadSize)
	a4 := ep.Addr().As4()
	copy(b[0:4], a4[:])
	binary.LittleEndian.PutUint16(b[4:6], ep.Port())
	return b, nil
}

// DecodeEndpoint unpacks an IPv4 endpoint payload.
func DecodeEndpoint(b []byte) (netip.AddrPort, error) {
	if len(b) != EndpointPayloadSize {
		return netip.AddrPort{}, ErrMalformedPayload
	}
	addr := netip.AddrFrom4([4]byte{b[0], b[1], b[2], b[3]})
	port := binary.LittleEndian.Uint16(b[4:6])
	return netip.AddrPortFrom(addr, port), nil
}

// PingPayloadSize is the size of the nanosecond timestamp carried by a ping.
const PingPayloadSize = 8

// EncodePingTimestamp packs a nanosecond timestamp (little-endian int64).
func EncodePingTimestamp(nanos int64) []byte {
	b := make([]byte, PingPayloadSize)
	binary.LittleEndian.PutUint64(b, uint64(nanos))
	return b
}

// DecodePingTimestamp unpacks a PORT_PONG payload, returning the echoed
// timestamp that the ping originally carried.
func DecodePingTimestamp(b []byte) (int64, error) {
	if len(b) != PingPayloadSize {
		return 0, ErrMalformedPayload
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

// PeerLatencyReport is the decoded PORT_PEERLATREP payload: six IEEE-754
// doubles reported by a client about its peer-to-peer link to another SDID.
type PeerLatencyReport struct {
	Dest     float64 // SDID of the peer being reported on, transmitted as a double
	LatMin   float64
	LatMean  float64
	LatMax   float64
	Received float64
	Lost     float64
}

const peerLatencyReportSize = 6 * 8

// DecodePeerLatencyReport unpacks a PORT_PEERLATREP payload.
func DecodePeerLatencyReport(b []byte) (PeerLatencyReport, error) {
	if len(b) != peerLatencyReportSize {
		return PeerLatencyReport{}, ErrMalformedPayload
	}
	f := make([]float64, 6)
	for i := range f {
		f[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8 : i*8+8]))
	}
	return PeerLatencyReport{
		Dest:     f[0],
		LatMin:   f[1],
		LatMean:  f[2],
		LatMax:   f[3],
		Received: f[4],
		Lost:     f[5],
	}, nil
}

// DecodeTargetSDID decodes the first byte of a PORT_PING_SRV/PORT_PONG_SRV
// payload, which names the stage device the message should be relayed to.
func DecodeTargetSDID(b []byte) (SDID, error) {
	if len(b) < 1 {
		return 0, ErrMalformedPayload
	}
	return b[0], nil
}

// SeqErrorReport is the decoded PORT_SEQREP payload, used for logging only.
type SeqErrorReport struct {
	SenderSDID SDID
	Seq        uint32
}

const seqErrorReportSize = 1 + 4

// DecodeSeqErrorReport unpacks a PORT_SEQREP payload.
func DecodeSeqErrorReport(b []byte) (SeqErrorReport, error) {
	if len(b) != seqErrorReportSize {
		return SeqErrorReport{}, ErrMalformedPayload
	}
	return SeqErrorReport{
		SenderSDID: b[0],
		Seq:        binary.LittleEndian.Uint32(b[1:5]),
	}, nil
}

// RegisterVersion trims the null-padded version string carried as the
// payload of a PORT_REGISTER datagram.
func RegisterVersion(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
