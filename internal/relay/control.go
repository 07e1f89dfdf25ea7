package relay

import (
	"net/netip"

	"github.com/orlandoviols/ovrelay/internal/transport"
	"github.com/orlandoviols/ovrelay/internal/wire"
)

// handleRegister implements PORT_REGISTER: the datagram's seq field carries
// the client's mode bitset, and the payload is a null-padded version string.
func (s *Server) handleRegister(f wire.Frame, from netip.AddrPort) {
	version := wire.RegisterVersion(f.Payload)
	if version == "" {
		version = "---"
	}
	s.reg.Register(f.SDID, from, f.Seq, version)
}

// handleSetLocalIP implements PORT_SETLOCALIP: copy the peer-reported LAN
// endpoint verbatim.
func (s *Server) handleSetLocalIP(f wire.Frame) {
	ep, err := wire.DecodeEndpoint(f.Payload)
	if err != nil {
		s.metric.DatagramsDroppedBadLen.Inc()
		return
	}
	s.reg.SetLocalIP(f.SDID, ep)
}

// handlePubkey implements PORT_PUBKEY: copy exactly 32 bytes.
func (s *Server) handlePubkey(f wire.Frame) {
	if len(f.Payload) != wire.PubkeySize {
		s.metric.DatagramsDroppedBadLen.Inc()
		return
	}
	var key [wire.PubkeySize]byte
	copy(key[:], f.Payload)
	s.reg.SetPubkey(f.SDID, key)
}

// handlePong implements PORT_PONG: compute RTT from the echoed timestamp and
// fold it into the sender's ping statistics.
func (s *Server) handlePong(f wire.Frame) {
	rtt, err := transport.MeasurePong(f.Payload)
	if err != nil {
		return
	}
	s.reg.SetPingTime(f.SDID, rtt)
}

// handleSeqReport implements PORT_SEQREP: logged only, no state change.
func (s *Server) handleSeqReport(f wire.Frame) {
	r, err := wire.DecodeSeqErrorReport(f.Payload)
	if err != nil {
		s.metric.DatagramsDroppedBadLen.Inc()
		return
	}
	s.log.Debug().
		Uint8("reporter", f.SDID).
		Uint8("sender", r.SenderSDID).
		Uint32("seq", r.Seq).
		Msg("sequence error report")
}

// handlePeerLatencyReport implements PORT_PEERLATREP: six IEEE-754 doubles
// describing a client's measurement of its peer-to-peer link.
func (s *Server) handlePeerLatencyReport(f wire.Frame) {
	r, err := wire.DecodePeerLatencyReport(f.Payload)
	if err != nil {
		s.metric.DatagramsDroppedBadLen.Inc()
		return
	}
	dest := wire.SDID(r.Dest)
	s.pushLatency(f.SDID, dest, r.LatMean, r.LatMax-r.LatMean)
	s.log.Debug().
		Uint8("sdid", f.SDID).
		Uint8("dest", dest).
		Float64("mean_ms", r.LatMean).
		Float64("max_ms", r.LatMax).
		Float64("received", r.Received).
		Float64("lost", r.Lost).
		Msg("peer latency report")
}

// handlePingPongRelay implements PORT_PING_SRV/PORT_PONG_SRV: forward the
// original framed datagram to the slot named by the payload's first byte.
func (s *Server) handlePingPongRelay(f wire.Frame, raw []byte) {
	target, err := wire.DecodeTargetSDID(f.Payload)
	if err != nil || target >= wire.MaxStageID {
		s.metric.DatagramsDroppedBadLen.Inc()
		return
	}
	slot, ok := s.reg.Get(target)
	if !ok {
		return
	}
	if err := s.udp.Send(raw, slot.EP); err == nil {
		s.metric.DatagramsForwardedTotal.Inc()
	}
}
