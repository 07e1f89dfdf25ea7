package relay

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"runtime"
	"time"

	"github.com/orlandoviols/ovrelay/internal/lobby"
	"github.com/orlandoviols/ovrelay/internal/registry"
	"github.com/orlandoviols/ovrelay/internal/transport"
	"github.com/orlandoviols/ovrelay/internal/wire"
)

// pingAndCallerListLoop sends a ping to every live endpoint once per
// PingPeriod, ages out stale slots, and periodically pushes the full
// participant list to every connected pair so clients can discover peers.
func (s *Server) pingAndCallerListLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PingPeriod)
	defer ticker.Stop()

	ticks := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		secret := s.currentSecret()
		s.reg.Snapshot(func(id wire.SDID, sl registry.Slot) {
			if err := transport.SendPing(s.udp, secret, sl.EP); err != nil {
				s.log.Debug().Err(err).Uint8("sdid", id).Msg("send ping failed")
			}
		})
		s.reg.Tick()

		ticks++
		if ticks >= s.cfg.ParticipantAnnouncePeriod {
			ticks = 0
			s.announceCallerList()
		}
	}
}

// announceCallerList sends every live participant's endpoint, local endpoint,
// and (if present) public key to every other live participant, letting
// clients build their own peer-to-peer routing table.
func (s *Server) announceCallerList() {
	secret := s.currentSecret()

	var slots []registry.Slot
	var ids []wire.SDID
	s.reg.Snapshot(func(id wire.SDID, sl registry.Slot) {
		ids = append(ids, id)
		slots = append(slots, sl)
	})

	for _, recipient := range ids {
		for j, peer := range ids {
			if peer == recipient {
				continue
			}
			s.sendPeerDescriptor(secret, recipient, peer, slots[j])
		}
	}
}

// sendPeerDescriptor sends the recipient everything it needs to dial peer:
// its public endpoint (LISTCID port), its LAN endpoint (SETLOCALIP), and its
// public key when one has been recorded.
func (s *Server) sendPeerDescriptor(secret uint32, recipient, peer wire.SDID, peerSlot registry.Slot) {
	recipientSlot, ok := s.reg.Get(recipient)
	if !ok {
		return
	}

	if ep, err := wire.EncodeEndpoint(peerSlot.EP); err == nil {
		if b, err := wire.Encode(secret, peer, wire.PortListCID, uint16(peerSlot.Mode), 0, ep); err == nil {
			s.udp.Send(b, recipientSlot.EP)
		}
	}
	if peerSlot.LocalEP.IsValid() {
		if ep, err := wire.EncodeEndpoint(peerSlot.LocalEP); err == nil {
			if b, err := wire.Encode(secret, peer, wire.PortSetLocalIP, 0, 0, ep); err == nil {
				s.udp.Send(b, recipientSlot.EP)
			}
		}
	}
	if peerSlot.HasPubkey {
		if b, err := wire.Encode(secret, peer, wire.PortPubkey, 0, 0, peerSlot.Pubkey[:]); err == nil {
			s.udp.Send(b, recipientSlot.EP)
		}
	}
}

// announceLoop drives the lobby directory registration countdown and drains
// queued latency reports, one GET per record, once per PingPeriod tick.
func (s *Server) announceLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PingPeriod)
	defer ticker.Stop()

	countdown := 1 // announce immediately on startup
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		countdown--
		if countdown <= 0 {
			countdown = s.runAnnouncement(ctx)
		}

		for _, rec := range s.drainLatency() {
			s.reportLatency(ctx, rec)
		}
	}
}

// runAnnouncement performs one lobby registration attempt, rotating the
// secret when the room has gone empty, and returns the countdown refill for
// the next attempt.
func (s *Server) runAnnouncement(ctx context.Context) int {
	empty := s.reg.NumClients() == 0
	if empty {
		s.secret.Store(randomSecret())
	}
	s.roomEmpty.Store(empty)

	jitter := s.swapJitter()

	err := s.lobby.Announce(ctx, s.cfg.LobbyURL, lobby.AnnounceParams{
		Port:         s.localPort,
		Name:         s.cfg.Name,
		Pin:          s.currentSecret(),
		ServerJitter: jitter,
		Group:        s.cfg.Group,
		Version:      "ovrelay",
		Empty:        empty,
	})
	if err != nil {
		s.metric.LobbyAnnounceTotal.Failure.Inc()
		s.log.Warn().Err(err).Msg("lobby announce failed")
		return s.cfg.AnnouncementFailureTicks
	}
	s.metric.LobbyAnnounceTotal.Success.Inc()
	return s.cfg.AnnouncementSuccessTicks
}

func (s *Server) reportLatency(ctx context.Context, rec latencyRecord) {
	err := s.lobby.ReportLatency(ctx, s.cfg.LobbyURL, lobby.LatencyParams{
		Port:  s.localPort,
		Src:   rec.src,
		Dest:  rec.dest,
		LatMS: rec.meanMS,
		JitMS: rec.jitterMS,
	})
	if err != nil {
		s.metric.LobbyLatencyReportTotal.Failure.Inc()
		s.log.Debug().Err(err).Msg("lobby latency report failed")
		return
	}
	s.metric.LobbyLatencyReportTotal.Success.Inc()
}

func randomSecret() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint32(time.Now().UnixNano()) & 0x0FFFFFFF
	}
	return binary.LittleEndian.Uint32(b[:]) & 0x0FFFFFFF
}

// jitterLoop wakes every JitterInterval and records how far actual wakeup
// latency exceeds the target interval, reporting the worst excess observed
// since the last lobby announcement.
func (s *Server) jitterLoop(ctx context.Context) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	s.raiseJitterThreadPriority()

	target := s.cfg.JitterInterval
	last := time.Now()
	ticker := time.NewTicker(target)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			elapsed := now.Sub(last)
			last = now
			excessMS := float64(elapsed-target) / float64(time.Millisecond)
			s.recordJitter(excessMS)
		}
	}
}

func (s *Server) recordJitter(excessMS float64) {
	if excessMS <= 0 {
		return
	}
	s.jitterMu.Lock()
	if excessMS > s.jitterMS {
		s.jitterMS = excessMS
	}
	s.jitterMu.Unlock()
}

// swapJitter reads and resets the accumulated jitter, matching the reference
// implementation's "clear serverjitter to 0 after reading" contract.
func (s *Server) swapJitter() float64 {
	s.jitterMu.Lock()
	defer s.jitterMu.Unlock()
	v := s.jitterMS
	s.jitterMS = 0
	return v
}
