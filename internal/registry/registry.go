// Package registry implements the fixed-capacity participant table: one
// slot per stage device id, tracking liveness, routing mode, and ping
// latency statistics.
package registry

import (
	"net/netip"
	"sync"
	"time"

	"github.com/orlandoviols/ovrelay/internal/wire"
)

// InitialTimeout is the number of ping-sweep ticks a freshly registered or
// refreshed slot survives without another Register call. Other datagrams
// from the slot (media, pongs, other control messages) do not refill it.
const InitialTimeout = 10

// PingWindow is the number of ping samples averaged before a latency summary
// is handed to the listener.
const PingWindow = 8

// Slot describes one stage device's registry entry. Values are copied out of
// the registry under lock; callers never get a pointer into live state.
type Slot struct {
	EP        netip.AddrPort
	LocalEP   netip.AddrPort
	Mode      uint32
	Version   string
	Timeout   uint32
	HasPubkey bool
	Pubkey    [wire.PubkeySize]byte

	pingCount int
	pingSum   time.Duration
	pingMin   time.Duration
	pingMax   time.Duration
}

func (s Slot) live() bool { return s.Timeout > 0 }

// Listener receives lifecycle and measurement notifications. It replaces the
// base-class hook methods of the reference implementation's endpoint_list_t
// with explicit composition.
type Listener interface {
	OnNewConnection(id wire.SDID, s Slot)
	OnConnectionLost(id wire.SDID)
	OnLatency(id wire.SDID, lmin, lmean, lmax time.Duration, received, lost uint32)
}

// Registry is the 255-slot participant table. The zero value is not usable;
// construct with New.
type Registry struct {
	mu       sync.Mutex
	slots    [wire.MaxStageID]Slot
	listener Listener
}

// New creates an empty registry reporting lifecycle events to l.
func New(l Listener) *Registry {
	return &Registry{listener: l}
}

// Register allocates slot id on first contact or refreshes it on every
// subsequent REGISTER datagram, refilling its timeout to InitialTimeout.
// modeSeq carries the client's mode bitset, transmitted as the "seq" field
// of a REGISTER datagram.
func (r *Registry) Register(id wire.SDID, ep netip.AddrPort, modeSeq uint32, version string) {
	r.mu.Lock()
	s := &r.slots[id]
	isNew := !s.live()
	s.EP = ep
	s.Mode = modeSeq
	s.Version = version
	s.Timeout = InitialTimeout
	snapshot := *s
	r.mu.Unlock()

	if isNew && r.listener != nil {
		r.listener.OnNewConnection(id, snapshot)
	}
}

// SetLocalIP records the client-advertised LAN endpoint verbatim.
func (r *Registry) SetLocalIP(id wire.SDID, ep netip.AddrPort) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots[id].LocalEP = ep
}

// SetPubkey records a 32-byte end-to-end public key, relayed but never
// interpreted by the server.
func (r *Registry) SetPubkey(id wire.SDID, key [wire.PubkeySize]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &r.slots[id]
	s.Pubkey = key
	s.HasPubkey = true
}

// SetPingTime folds a new round-trip measurement into slot id's windowed
// min/mean/max. When a full PingWindow closes, the listener's OnLatency is
// called with the window's min/mean/max; received and lost are always 0.
// The listener decides the destination id of the resulting record (the
// relay uses its LatencyDestServer sentinel).
func (r *Registry) SetPingTime(id wire.SDID, rtt time.Duration) {
	r.mu.Lock()
	s := &r.slots[id]
	if !s.live() {
		r.mu.Unlock()
		return
	}
	if s.pingCount == 0 || rtt < s.pingMin {
		s.pingMin = rtt
	}
	if rtt > s.pingMax {
		s.pingMax = rtt
	}
	s.pingSum += rtt
	s.pingCount++

	var report *[3]time.Duration
	if s.pingCount >= PingWindow {
		mean := s.pingSum / time.Duration(s.pingCount)
		report = &[3]time.Duration{s.pingMin, mean, s.pingMax}
		s.pingCount, s.pingSum, s.pingMin, s.pingMax = 0, 0, 0, 0
	}
	r.mu.Unlock()

	if report != nil && r.listener != nil {
		r.listener.OnLatency(id, report[0], report[1], report[2], 0, 0)
	}
}

// Tick decrements every non-zero timeout by one. Slots reaching zero fire
// OnConnectionLost and become vacant. Only the ping sweep calls Tick.
func (r *Registry) Tick() {
	var lost []wire.SDID

	r.mu.Lock()
	for id := range r.slots {
		s := &r.slots[id]
		if s.Timeout == 0 {
			continue
		}
		s.Timeout--
		if s.Timeout == 0 {
			*s = Slot{}
			lost = append(lost, wire.SDID(id))
		}
	}
	r.mu.Unlock()

	if r.listener != nil {
		for _, id := range lost {
			r.listener.OnConnectionLost(id)
		}
	}
}

// NumClients returns the count of non-vacant slots.
func (r *Registry) NumClients() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for i := range r.slots {
		if r.slots[i].live() {
			n++
		}
	}
	return n
}

// Get returns a copy of slot id and whether it is currently live.
func (r *Registry) Get(id wire.SDID) (Slot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.slots[id]
	return s, s.live()
}

// Snapshot calls fn once per live slot, holding the registry lock for the
// whole pass so the caller observes a consistent view across the sweep. fn
// must not call back into the registry.
func (r *Registry) Snapshot(fn func(id wire.SDID, s Slot)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.slots {
		if r.slots[i].live() {
			fn(wire.SDID(i), r.slots[i])
		}
	}
}
