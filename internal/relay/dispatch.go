package relay

import (
	"net/netip"

	"github.com/orlandoviols/ovrelay/internal/registry"
	"github.com/orlandoviols/ovrelay/internal/wire"
)

// handleDatagram decodes one inbound datagram and either forwards it on the
// media path or routes it to a control handler. Auth failures and malformed
// control payloads are dropped silently (spec: not logged at default
// verbosity), counted for operational visibility.
func (s *Server) handleDatagram(from netip.AddrPort, raw []byte) {
	f, err := wire.Decode(raw, s.currentSecret())
	if err != nil {
		switch err {
		case wire.ErrAuthMismatch:
			s.metric.DatagramsDroppedAuth.Inc()
		default:
			s.metric.DatagramsDroppedBadLen.Inc()
		}
		s.log.Debug().Err(err).Str("from", from.String()).Msg("dropping datagram")
		return
	}

	if f.SDID >= wire.MaxStageID {
		s.metric.DatagramsDroppedBadLen.Inc()
		return
	}

	if f.Port > wire.MaxSpecialPort {
		s.forwardMedia(f.SDID, raw)
		return
	}

	s.metric.ControlMessagesTotal.Inc()
	switch f.Port {
	case wire.PortRegister:
		s.handleRegister(f, from)
	case wire.PortSetLocalIP:
		s.handleSetLocalIP(f)
	case wire.PortPubkey:
		s.handlePubkey(f)
	case wire.PortPong:
		s.handlePong(f)
	case wire.PortSeqReport:
		s.handleSeqReport(f)
	case wire.PortPeerLatencyReport:
		s.handlePeerLatencyReport(f)
	case wire.PortPingServer, wire.PortPongServer:
		s.handlePingPongRelay(f, raw)
	default:
		// PortListCID: server-to-client announcements only; an inbound one is
		// ignored.
	}
}

// forwardMedia implements the dispatch matrix of spec.md §4.4: forward the
// original framed bytes to every other live slot unless DoNotSend is set,
// unless both sides are in a peer-to-peer pair, and only when the sender's
// send-downmix flag matches the receiver's receive-downmix flag.
func (s *Server) forwardMedia(sender wire.SDID, raw []byte) {
	senderSlot, ok := s.reg.Get(sender)
	if !ok {
		return
	}

	s.reg.Snapshot(func(id wire.SDID, sl registry.Slot) {
		if id == sender {
			return
		}
		if sl.Mode&wire.ModeDoNotSend != 0 {
			return
		}
		if senderSlot.Mode&wire.ModePeerToPeer != 0 && sl.Mode&wire.ModePeerToPeer != 0 {
			return
		}
		if (sl.Mode&wire.ModeReceiveDownmix != 0) != (senderSlot.Mode&wire.ModeSendDownmix != 0) {
			return
		}
		if err := s.udp.Send(raw, sl.EP); err == nil {
			s.metric.DatagramsForwardedTotal.Inc()
		}
	})
}
