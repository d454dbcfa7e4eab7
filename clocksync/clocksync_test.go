package clocksync

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"code.siemens.com/grid-broker/envelope"
	"code.siemens.com/grid-broker/internal/clockreg"
	"code.siemens.com/grid-broker/metrics"
	"code.siemens.com/grid-broker/transport/memory"
)

func newTestManager(t *testing.T, net *memory.Network, self uuid.UUID, period time.Duration) (*Manager, *clockreg.Register, *memory.Transport) {
	t.Helper()
	reg := &clockreg.Register{}
	xport := net.Join(self)
	mgr := New(self, xport, reg, zerolog.Nop(), metrics.Nop(), period)
	return mgr, reg, xport
}

// pumpInbox forwards every envelope from inbox into mgr on a background
// goroutine until inbox is closed.
func pumpInbox(t *testing.T, mgr *Manager, inbox <-chan envelope.Envelope) {
	t.Helper()
	go func() {
		for e := range inbox {
			mgr.HandleIncoming(e)
		}
	}()
}

func TestSelfLoopPinned(t *testing.T) {
	net := memory.NewNetwork()
	self := uuid.New()
	mgr, _, _ := newTestManager(t, net, self, time.Hour)

	el, ok := mgr.index[self]
	if !ok {
		t.Fatalf("self-loop pair not pinned")
	}
	st := el.Value.(*pairEntry).state
	if st.offset != 0 {
		t.Errorf("self offset = %v, want 0", st.offset)
	}
	if st.weight.w0 != 1.0 {
		t.Errorf("self weight = %v, want 1.0", st.weight.w0)
	}
	if st.skew != 0 {
		t.Errorf("self skew = %v, want 0", st.skew)
	}
}

// TestTwoNodeExchangeConverges covers nodes A, B started together:
// their published skew converges to roughly zero after a handful of
// rounds.
func TestTwoNodeExchangeConverges(t *testing.T) {
	net := memory.NewNetwork()
	a := uuid.New()
	b := uuid.New()

	mgrA, regA, xportA := newTestManager(t, net, a, 20*time.Millisecond)
	mgrB, _, xportB := newTestManager(t, net, b, 20*time.Millisecond)

	mgrA.UpdatePeers([]uuid.UUID{b})
	mgrB.UpdatePeers([]uuid.UUID{a})

	pumpInbox(t, mgrA, xportA.Inbox(envelope.ModuleClockSync))
	pumpInbox(t, mgrB, xportB.Inbox(envelope.ModuleClockSync))

	mgrA.Start()
	mgrB.Start()
	t.Cleanup(func() {
		mgrA.Stop()
		mgrB.Stop()
	})

	time.Sleep(400 * time.Millisecond)

	skew := regA.Load()
	if skew < -50*time.Millisecond || skew > 50*time.Millisecond {
		t.Errorf("published skew = %v, want roughly 0 for two clocks started together", skew)
	}
}

func TestStaleResponseDropped(t *testing.T) {
	net := memory.NewNetwork()
	a := uuid.New()
	b := uuid.New()
	mgrA, _, _ := newTestManager(t, net, a, time.Hour)

	// A's query k=7 timed out and A has moved on to k=8.
	st := mgrA.stateFor(b)
	st.query = &challenge{sequence: 8, issued: time.Now()}

	resp := envelope.ClockExchangeResponse{
		Response:               7, // stale: answers the abandoned k=7
		UnsynchronizedSendtime: time.Now().Format(sendtimeLayout),
	}
	out, err := envelope.Encode(envelope.ModuleClockSync, envelope.KindClockExchangeResponse, b, resp)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	before := len(st.responses.samples)
	mgrA.dispatch(out)
	after := len(mgrA.stateFor(b).responses.samples)

	if after != before {
		t.Errorf("stale response was not dropped: responses grew from %d to %d", before, after)
	}
}

func TestWeightDecayBoundedInUnitInterval(t *testing.T) {
	w := weightEstimate{w0: 1.0, k0: 0}
	eff := w.effective(100000)
	if eff < 0 || eff > 1 {
		t.Errorf("effective weight out of [0,1]: %v", eff)
	}
}

func TestResponseHistoryCapped(t *testing.T) {
	var h responseHistory
	now := time.Now()
	for i := 0; i < responseHistoryCap+50; i++ {
		h.push(responseSample{remote: now, local: now})
	}
	if len(h.samples) > responseHistoryCap {
		t.Errorf("response history len = %d, want <= %d", len(h.samples), responseHistoryCap)
	}
}
