package dispatch

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"code.siemens.com/grid-broker/deviceview/local"
	"code.siemens.com/grid-broker/envelope"
	"code.siemens.com/grid-broker/transport/memory"
)

func buildTwoNodeTopology(t *testing.T, gridID, loadID uuid.UUID) *Topology {
	t.Helper()
	text := fmt.Sprintf("edge 1 3\nsst 1 %s\nsst 3 %s\n", gridID, loadID)
	topo, err := LoadTopology(strings.NewReader(text))
	if err != nil {
		t.Fatalf("LoadTopology: %v", err)
	}
	return topo
}

func pumpInbox(t *testing.T, mgr *Manager, inbox <-chan envelope.Envelope) {
	t.Helper()
	go func() {
		for e := range inbox {
			mgr.HandleIncoming(e)
		}
	}()
}

// TestTrivialGraphLoadAndGridConverge covers a two-node graph V={1,3},
// E={(1,3)}, Load at 3 with the fixed demand triple. After the run
// reaches the iteration cap, Grid set-points equal Load demand within
// 1e-3 and the cost ledger matches Σ price_t · load_t · Δt.
func TestTrivialGraphLoadAndGridConverge(t *testing.T) {
	if testing.Short() {
		t.Skip("full 5000-iteration convergence run skipped in -short mode")
	}

	net := memory.NewNetwork()
	gridID := uuid.New()
	loadID := uuid.New()
	topo := buildTwoNodeTopology(t, gridID, loadID)

	xportGrid := net.Join(gridID)
	xportLoad := net.Join(loadID)

	mgrGrid := New(gridID, "1", topo, nil, xportGrid, local.New(), zerolog.Nop(), nil, 0)
	mgrLoad := New(loadID, "3", topo, nil, xportLoad, local.New(), zerolog.Nop(), nil, 0)

	pumpInbox(t, mgrGrid, xportGrid.Inbox(envelope.ModuleDispatch))
	pumpInbox(t, mgrLoad, xportLoad.Inbox(envelope.ModuleDispatch))

	mgrGrid.Start()
	mgrLoad.Start()
	t.Cleanup(func() {
		mgrGrid.Stop()
		mgrLoad.Stop()
	})

	mgrGrid.UpdatePeers([]uuid.UUID{loadID})
	mgrLoad.UpdatePeers([]uuid.UUID{gridID})

	deadline := time.Now().Add(20 * time.Second)
	for time.Now().Before(deadline) {
		if mgrGrid.Done() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !mgrGrid.Done() {
		t.Fatalf("grid node did not reach iteration cap within deadline")
	}

	demand := DefaultSeedVectors()["3"]
	setpoints := mgrGrid.Setpoints()
	for i := range setpoints {
		if diff := setpoints[i] - demand[i]; diff > 1e-3 || diff < -1e-3 {
			t.Errorf("setpoint[%d] = %v, want within 1e-3 of demand %v", i, setpoints[i], demand[i])
		}
		if setpoints[i] < 0 || setpoints[i] > 20 {
			t.Errorf("setpoint[%d] = %v, want within [0,20]", i, setpoints[i])
		}
	}

	wantCost := gridParams.Price[0]*setpoints[0]*deltaT +
		gridParams.Price[1]*setpoints[1]*deltaT +
		gridParams.Price[2]*setpoints[2]*deltaT
	if diff := mgrGrid.FinalCost() - wantCost; diff > 1e-6 || diff < -1e-6 {
		t.Errorf("FinalCost() = %v, want %v (Σ price_t·p_t·Δt for the last iteration)", mgrGrid.FinalCost(), wantCost)
	}
}

// TestDESDEnergyEnvelopeNoBalanceConstraint covers a single DESD node
// with no active balance constraint: p converges to 0 with μ, ξ
// remaining at 0.
func TestDESDEnergyEnvelopeNoBalanceConstraint(t *testing.T) {
	ns := newNodeState("4", RoleDESD, nil, 0, vec3{})
	for i := 0; i < 200; i++ {
		ns.primalUpdate()
		ns.consensusStep()
		ns.clearForNextIteration()
	}

	if infNorm(ns.p) > 1e-3 {
		t.Errorf("p = %v, want ~0 with no balance constraint", ns.p)
	}
	if sumVec(ns.mu) != 0 {
		t.Errorf("mu = %v, want 0", ns.mu)
	}
	if sumVec(ns.xi) != 0 {
		t.Errorf("xi = %v, want 0", ns.xi)
	}
}

// TestDuplicateNeighbourMessageDropped covers a second DesdState for
// the same (iteration, symbol) pair: it is dropped and pendingNeighbours
// decrements exactly once. Symbol "1" is given two
// neighbours here so the duplicate lands before the update step fires
// and resets pendingNeighbours for the next iteration.
func TestDuplicateNeighbourMessageDropped(t *testing.T) {
	net := memory.NewNetwork()
	self := uuid.New()
	n1 := uuid.New()
	n2 := uuid.New()

	text := fmt.Sprintf("edge 1 3\nedge 1 5\nsst 1 %s\nsst 3 %s\nsst 5 %s\n", self, n1, n2)
	topo, err := LoadTopology(strings.NewReader(text))
	if err != nil {
		t.Fatalf("LoadTopology: %v", err)
	}

	xport := net.Join(self)
	mgr := New(self, "1", topo, nil, xport, local.New(), zerolog.Nop(), nil, 0)
	mgr.phase = phaseIterating
	mgr.state.iteration = 3

	msg := envelope.DesdState{Iteration: 3, Symbol: "3"}
	e, err := envelope.Encode(envelope.ModuleDispatch, envelope.KindDesdState, n1, msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	before := mgr.state.pendingNeighbours // 2: neighbours "3" and "5"

	mgr.handleMessage(e)
	afterFirst := mgr.state.pendingNeighbours
	if afterFirst != before-1 {
		t.Fatalf("pendingNeighbours after first message = %d, want %d", afterFirst, before-1)
	}

	mgr.handleMessage(e)
	afterSecond := mgr.state.pendingNeighbours
	if afterSecond != afterFirst {
		t.Errorf("pendingNeighbours after duplicate message = %d, want unchanged at %d", afterSecond, afterFirst)
	}
}

func TestUnknownNeighbourSymbolDropped(t *testing.T) {
	net := memory.NewNetwork()
	self := uuid.New()
	neighbour := uuid.New()
	topo := buildTwoNodeTopology(t, self, neighbour)
	xport := net.Join(self)
	mgr := New(self, "1", topo, nil, xport, local.New(), zerolog.Nop(), nil, 0)
	mgr.phase = phaseIterating

	msg := envelope.DesdState{Iteration: mgr.state.iteration, Symbol: "not-a-neighbour"}
	e, err := envelope.Encode(envelope.ModuleDispatch, envelope.KindDesdState, neighbour, msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	before := mgr.state.pendingNeighbours
	mgr.handleMessage(e)
	if mgr.state.pendingNeighbours != before {
		t.Errorf("pendingNeighbours changed for a message from a non-neighbour symbol")
	}
}
