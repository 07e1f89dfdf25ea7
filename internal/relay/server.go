// Package relay implements the multiplex relay engine: the dispatch matrix
// between stage devices, the control-message state machine, and the
// background ping/announce/jitter loops that drive the participant
// registry and the lobby client.
package relay

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/orlandoviols/ovrelay/internal/lobby"
	"github.com/orlandoviols/ovrelay/internal/metricsx"
	"github.com/orlandoviols/ovrelay/internal/registry"
	"github.com/orlandoviols/ovrelay/internal/transport"
	"github.com/orlandoviols/ovrelay/internal/wire"
)

// LatencyDestServer is the sentinel destination id used for latency records
// derived from the server's own ping measurements, as opposed to
// PORT_PEERLATREP reports (which carry a client-supplied destination). The
// reference implementation hardcodes this value; preserved here as a named
// constant per the spec's open question rather than silently reinterpreted.
const LatencyDestServer = 200

// Config configures a Server. Zero values are replaced with the documented
// defaults.
type Config struct {
	Port       int
	Name       string
	Group      string
	LobbyURL   string
	InitialPin uint32
	RTPrio     int

	PingPeriod                time.Duration
	ParticipantAnnouncePeriod int
	AnnouncementSuccessTicks  int
	AnnouncementFailureTicks  int
	JitterInterval            time.Duration
}

func (c *Config) setDefaults() {
	if c.PingPeriod == 0 {
		c.PingPeriod = 50 * time.Millisecond
	}
	if c.ParticipantAnnouncePeriod == 0 {
		c.ParticipantAnnouncePeriod = 20
	}
	if c.AnnouncementSuccessTicks == 0 {
		c.AnnouncementSuccessTicks = 6000
	}
	if c.AnnouncementFailureTicks == 0 {
		c.AnnouncementFailureTicks = 1000
	}
	if c.JitterInterval == 0 {
		c.JitterInterval = 2 * time.Millisecond
	}
	if c.LobbyURL == "" {
		c.LobbyURL = "http://localhost"
	}
}

type latencyRecord struct {
	src, dest wire.SDID
	meanMS    float64
	jitterMS  float64
}

// Server ties together the registry, transport, dispatch, and background
// loops described by the spec's C1-C6 components.
type Server struct {
	cfg    Config
	log    zerolog.Logger
	metric *metricsx.Relay

	udp *transport.UDP
	reg *registry.Registry

	secret atomic.Uint32

	latMu    sync.Mutex
	latQueue []latencyRecord

	jitterMu sync.Mutex
	jitterMS float64

	roomEmpty atomic.Bool

	lobby *lobby.Client

	localPort int
}

// NewServer binds the UDP socket and constructs a Server ready to Run.
func NewServer(cfg Config, log zerolog.Logger) (*Server, error) {
	cfg.setDefaults()
	if cfg.InitialPin == 0 {
		cfg.InitialPin = 1234
	}

	s := &Server{
		cfg:   cfg,
		log:   log,
		lobby: lobby.New(5 * time.Second),
	}
	s.secret.Store(cfg.InitialPin & 0x0FFFFFFF)
	s.reg = registry.New(s)
	s.metric = metricsx.NewRelay(func() float64 { return float64(s.reg.NumClients()) })

	udp, actual, err := transport.Bind(cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("relay: bind udp port %d: %w", cfg.Port, err)
	}
	s.udp = udp
	s.localPort = actual

	if cfg.Name == "" {
		s.cfg.Name = fmt.Sprintf("relay:%d", actual)
	}

	return s, nil
}

// LocalPort returns the bound UDP port (useful when cfg.Port was 0).
func (s *Server) LocalPort() int { return s.localPort }

// Metrics exposes the relay's metrics set for an operator-facing endpoint.
func (s *Server) Metrics() *metricsx.Relay { return s.metric }

// Registry exposes the participant registry for callers outside the package.
func (s *Server) Registry() *registry.Registry { return s.reg }

// RoomEmpty reports whether the most recent announcement tick found the
// room vacant (and therefore rotated the secret).
func (s *Server) RoomEmpty() bool { return s.roomEmpty.Load() }

// Run drives the receive loop and every background service until ctx is
// canceled, then waits for all of them to stop.
func (s *Server) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(4)

	go func() { defer wg.Done(); s.recvLoop(ctx) }()
	go func() { defer wg.Done(); s.pingAndCallerListLoop(ctx) }()
	go func() { defer wg.Done(); s.announceLoop(ctx) }()
	go func() { defer wg.Done(); s.jitterLoop(ctx) }()

	<-ctx.Done()
	wg.Wait()
	s.udp.Close()
	return ctx.Err()
}

func (s *Server) recvLoop(ctx context.Context) {
	buf := make([]byte, wire.BufSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, from, err := s.udp.Recv(buf, transport.DefaultRecvTimeout)
		if err != nil {
			if err == transport.ErrTimeout {
				continue
			}
			s.log.Debug().Err(err).Msg("udp recv error")
			continue
		}

		raw := make([]byte, n)
		copy(raw, buf[:n])
		s.handleDatagram(from, raw)
	}
}

func (s *Server) currentSecret() uint32 { return s.secret.Load() }

// pushLatency enqueues one sample for the announcement loop to upload.
func (s *Server) pushLatency(src, dest wire.SDID, meanMS, jitterMS float64) {
	s.latMu.Lock()
	s.latQueue = append(s.latQueue, latencyRecord{src, dest, meanMS, jitterMS})
	s.latMu.Unlock()
}

func (s *Server) drainLatency() []latencyRecord {
	s.latMu.Lock()
	defer s.latMu.Unlock()
	if len(s.latQueue) == 0 {
		return nil
	}
	out := s.latQueue
	s.latQueue = nil
	return out
}

// registry.Listener implementation -----------------------------------------

func (s *Server) OnNewConnection(id wire.SDID, sl registry.Slot) {
	s.log.Info().
		Uint8("sdid", id).
		Str("endpoint", sl.EP.String()).
		Str("mode", modeString(sl.Mode)).
		Str("version", sl.Version).
		Msg("new connection")
}

func (s *Server) OnConnectionLost(id wire.SDID) {
	s.log.Info().Uint8("sdid", id).Msg("connection lost")
}

func (s *Server) OnLatency(id wire.SDID, lmin, lmean, lmax time.Duration, received, lost uint32) {
	if lmean <= 0 {
		return
	}
	meanMS := float64(lmean) / float64(time.Millisecond)
	jitterMS := float64(lmax-lmean) / float64(time.Millisecond)
	s.pushLatency(id, LatencyDestServer, meanMS, jitterMS)
	s.log.Debug().
		Uint8("sdid", id).
		Float64("min_ms", float64(lmin)/float64(time.Millisecond)).
		Float64("mean_ms", meanMS).
		Float64("max_ms", float64(lmax)/float64(time.Millisecond)).
		Msg("ping latency")
}

func modeString(mode uint32) string {
	s := "server"
	if mode&wire.ModePeerToPeer != 0 {
		s = "peer-to-peer"
	}
	s += "-mode"
	if mode&wire.ModeReceiveDownmix != 0 {
		s += " receivedownmix"
	}
	if mode&wire.ModeSendDownmix != 0 {
		s += " senddownmix"
	}
	if mode&wire.ModeDoNotSend != 0 {
		s += " donotsend"
	}
	return s
}
