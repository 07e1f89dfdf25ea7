package registry

import (
	"net/netip"
	"testing"
	"time"

	"github.com/orlandoviols/ovrelay/internal/wire"
)

type fakeListener struct {
	newed  []wire.SDID
	lost   []wire.SDID
	latMin time.Duration
	latAvg time.Duration
	latMax time.Duration
	latHit bool
}

func (f *fakeListener) OnNewConnection(id wire.SDID, s Slot) { f.newed = append(f.newed, id) }
func (f *fakeListener) OnConnectionLost(id wire.SDID)        { f.lost = append(f.lost, id) }
func (f *fakeListener) OnLatency(id wire.SDID, lmin, lmean, lmax time.Duration, rx, lost uint32) {
	f.latHit = true
	f.latMin, f.latAvg, f.latMax = lmin, lmean, lmax
}

func mustAddr(s string) netip.AddrPort { return netip.MustParseAddrPort(s) }

func TestRegisterFiresOnNewOnlyOnce(t *testing.T) {
	fl := &fakeListener{}
	r := New(fl)

	r.Register(7, mustAddr("127.0.0.1:1"), 0, "1.0")
	r.Register(7, mustAddr("127.0.0.1:2"), wire.ModePeerToPeer, "1.0")

	if len(fl.newed) != 1 {
		t.Fatalf("expected exactly one new-connection event, got %d", len(fl.newed))
	}
	s, live := r.Get(7)
	if !live {
		t.Fatal("expected slot to be live")
	}
	if s.EP != mustAddr("127.0.0.1:2") {
		t.Fatalf("expected refreshed endpoint, got %v", s.EP)
	}
	if s.Mode != wire.ModePeerToPeer {
		t.Fatalf("expected refreshed mode, got %x", s.Mode)
	}
}

func TestTickEvictsOnZeroTimeout(t *testing.T) {
	fl := &fakeListener{}
	r := New(fl)
	r.Register(3, mustAddr("127.0.0.1:1"), 0, "1.0")

	for i := 0; i < InitialTimeout-1; i++ {
		r.Tick()
		if _, live := r.Get(3); !live {
			t.Fatalf("slot evicted too early at tick %d", i)
		}
	}
	r.Tick()
	if _, live := r.Get(3); live {
		t.Fatal("expected slot to be vacant after timeout reaches zero")
	}
	if len(fl.lost) != 1 || fl.lost[0] != 3 {
		t.Fatalf("expected connection-lost event for id 3, got %v", fl.lost)
	}
	if r.NumClients() != 0 {
		t.Fatalf("expected zero clients, got %d", r.NumClients())
	}
}

func TestSetPingTimeReportsOnWindowClose(t *testing.T) {
	fl := &fakeListener{}
	r := New(fl)
	r.Register(1, mustAddr("127.0.0.1:1"), 0, "1.0")

	for i := 0; i < PingWindow-1; i++ {
		r.SetPingTime(1, 10*time.Millisecond)
		if fl.latHit {
			t.Fatalf("latency reported before window closed (sample %d)", i)
		}
	}
	r.SetPingTime(1, 20*time.Millisecond)
	if !fl.latHit {
		t.Fatal("expected latency report after window closed")
	}
	if fl.latMax < fl.latMin {
		t.Fatalf("max %v should be >= min %v", fl.latMax, fl.latMin)
	}
}

func TestSetPingTimeIgnoredForVacantSlot(t *testing.T) {
	fl := &fakeListener{}
	r := New(fl)
	r.SetPingTime(5, 10*time.Millisecond) // no panic, no effect
	if fl.latHit {
		t.Fatal("did not expect a latency report for a vacant slot")
	}
}
