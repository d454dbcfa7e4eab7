// Package dispatch implements the distributed dispatch algorithm: a
// gossip-based primal-dual iteration over a physical adjacency graph
// that converges to a feasible, cost-minimising power schedule.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"code.siemens.com/grid-broker/deviceview"
	"code.siemens.com/grid-broker/envelope"
	"code.siemens.com/grid-broker/internal/sched"
	"code.siemens.com/grid-broker/metrics"
	"code.siemens.com/grid-broker/transport"
)

// ErrUnknownSymbol names the condition of a neighbour message whose
// symbol is absent from this node's neighbour set. handleMessage drops
// such messages silently; no code path in this package returns this
// error.
var ErrUnknownSymbol = errors.New("dispatch: symbol not in neighbour set")

// phase is the dispatch state machine: Idle → Ready → Iterating(k) →
// Done once the iteration cap is reached.
type phase int

const (
	phaseIdle phase = iota
	phaseReady
	phaseIterating
	phaseDone
)

type event struct {
	msg      *envelope.Envelope
	peers    []uuid.UUID
	hasPeers bool
	watchdog bool
	stop     bool
}

// Manager runs the dispatch algorithm for one node. Like
// clocksync.Manager, all state is owned by the single goroutine started
// by Start.
type Manager struct {
	self   uuid.UUID
	symbol string

	topology *Topology
	devices  deviceview.View
	out      transport.Transport
	log      zerolog.Logger
	metrics  *metrics.Registry

	watchdog         sched.Timer
	iterationTimeout time.Duration

	events chan event
	done   chan struct{}

	// owned exclusively by run()
	phase phase
	state *nodeState
}

// New constructs a Manager. topology must already be loaded once at
// startup and localSymbol must be bound in it. seeds supplies the
// per-node initial ΔP_self vectors; pass nil to use DefaultSeedVectors().
func New(self uuid.UUID, localSymbol string, topology *Topology, seeds SeedVectors, out transport.Transport, devices deviceview.View, log zerolog.Logger, m *metrics.Registry, iterationTimeout time.Duration) *Manager {
	if seeds == nil {
		seeds = DefaultSeedVectors()
	}
	if m == nil {
		m = metrics.Nop()
	}

	role, ok := knownSymbols[localSymbol]
	if !ok {
		role = RoleLoad // no primal update; fixed imbalance
	}

	seed := seeds[localSymbol] // zero-value for Grid/DESD

	neighbours := topology.Neighbours(localSymbol)
	state := newNodeState(localSymbol, role, neighbours, topology.MaxDegree(), seed)

	return &Manager{
		self:             self,
		symbol:           localSymbol,
		topology:         topology,
		devices:          devices,
		out:              out,
		log:              log,
		metrics:          m,
		iterationTimeout: iterationTimeout,
		events:           make(chan event, 64),
		done:             make(chan struct{}),
		phase:            phaseIdle,
		state:            state,
	}
}

// Start starts the module's event loop. The algorithm stays Idle until
// the first peer-list update arrives.
func (m *Manager) Start() {
	go m.run()
}

// Stop tears down the event loop.
func (m *Manager) Stop() {
	m.watchdog.Stop()
	m.events <- event{stop: true}
	<-m.done
}

// HandleIncoming routes an inbound DesdState message into the event
// loop.
func (m *Manager) HandleIncoming(e envelope.Envelope) {
	m.events <- event{msg: &e}
}

// UpdatePeers pushes a Group View peer-list snapshot. The first call
// after startup transitions Idle→Ready and starts iteration 0; later
// calls are no-ops.
func (m *Manager) UpdatePeers(peers []uuid.UUID) {
	m.events <- event{peers: peers, hasPeers: true}
}

// FinalCost returns Σ price_t·p_t·Δt for the last-run iteration (using
// the set-points that the last Grid primal update started from), once
// the run reaches Done; it is 0 before then or on non-Grid nodes.
func (m *Manager) FinalCost() float64 {
	if m.phase != phaseDone {
		return 0
	}
	return m.state.costAccum
}

func (m *Manager) run() {
	for ev := range m.events {
		switch {
		case ev.stop:
			close(m.done)
			return
		case ev.hasPeers:
			m.handlePeerUpdate()
		case ev.msg != nil:
			m.handleMessage(*ev.msg)
		case ev.watchdog:
			m.metrics.DispatchStalledTotal.Inc()
			m.log.Warn().Str("symbol", m.symbol).Uint32("iteration", m.state.iteration).Int("pending", m.state.pendingNeighbours).Msg("dispatch: iteration stalled awaiting neighbour messages")
		}
	}
}

// handlePeerUpdate implements the Idle→Ready transition; subsequent
// updates are no-ops.
func (m *Manager) handlePeerUpdate() {
	if m.phase != phaseIdle {
		return
	}
	m.phase = phaseReady
	m.beginIteration()
}

// beginIteration broadcasts this node's state to every neighbour and
// arms the optional watchdog.
func (m *Manager) beginIteration() {
	m.phase = phaseIterating

	msg := envelope.DesdState{
		Iteration:   m.state.iteration,
		Symbol:      m.symbol,
		DeltaPStep1: m.state.deltaP[0],
		DeltaPStep2: m.state.deltaP[1],
		DeltaPStep3: m.state.deltaP[2],
		LambdaStep1: m.state.lambda[0],
		LambdaStep2: m.state.lambda[1],
		LambdaStep3: m.state.lambda[2],
	}

	out, err := envelope.Encode(envelope.ModuleDispatch, envelope.KindDesdState, m.self, msg)
	if err != nil {
		m.log.Warn().Err(err).Msg("dispatch: encode state failed")
		return
	}

	for _, n := range m.state.neighbours {
		peerID, ok := m.topology.SymbolToUUID[n]
		if !ok {
			m.log.Warn().Str("symbol", n).Msg("dispatch: neighbour symbol has no uuid binding, dropping send")
			continue
		}
		if err := m.out.Peer(peerID).Send(context.Background(), out); err != nil {
			m.log.Warn().Err(err).Str("peer", peerID.String()).Msg("dispatch: send failed, continuing")
		}
	}

	m.metrics.DispatchIteration.Set(float64(m.state.iteration))

	if m.iterationTimeout > 0 {
		m.watchdog.Start(m.iterationTimeout, func() { m.events <- event{watchdog: true} })
	}
}

// handleMessage drops wrong-iteration or unknown-symbol messages, counts
// first-arrival-per-neighbour, and runs the update step once every
// expected neighbour has reported.
func (m *Manager) handleMessage(e envelope.Envelope) {
	if e.Kind != envelope.KindDesdState {
		m.log.Warn().Str("kind", string(e.Kind)).Msg("dispatch: unexpected envelope kind, dropping")
		return
	}

	var msg envelope.DesdState
	if err := e.Decode(&msg); err != nil {
		m.log.Warn().Err(err).Msg("dispatch: malformed state message, dropping")
		return
	}

	if m.phase != phaseIterating {
		return // not yet Ready/Iterating: this implementation drops rather than buffers
	}

	if msg.Iteration != m.state.iteration {
		return // stale/future iteration
	}

	if _, known := m.state.neighbourSet[msg.Symbol]; !known {
		return // symbol not in this node's neighbour set
	}

	if _, seen := m.state.seenThisIteration[msg.Symbol]; seen {
		return // duplicate neighbour message for this iteration
	}
	m.state.seenThisIteration[msg.Symbol] = struct{}{}

	m.state.pendingNeighbours--
	m.state.deltaPAdj = addVec(m.state.deltaPAdj, vec3{msg.DeltaPStep1, msg.DeltaPStep2, msg.DeltaPStep3})
	m.state.lambdaAdj = addVec(m.state.lambdaAdj, vec3{msg.LambdaStep1, msg.LambdaStep2, msg.LambdaStep3})

	if m.state.pendingNeighbours == 0 {
		m.runUpdateStep()
	}
}

// runUpdateStep runs the device-specific primal update, consensus step,
// and commit, then either loops back to broadcast or halts at the
// iteration cap.
func (m *Manager) runUpdateStep() {
	m.watchdog.Stop()

	m.state.primalUpdate()
	m.state.consensusStep()

	m.metrics.DispatchDeltaPInfNorm.Set(infNorm(m.state.deltaP))
	if m.state.role == RoleGrid {
		m.metrics.DispatchGridCostTotal.Add(m.state.p[0]*m.state.params.Price[0]*deltaT +
			m.state.p[1]*m.state.params.Price[1]*deltaT +
			m.state.p[2]*m.state.params.Price[2]*deltaT)
	}

	m.state.clearForNextIteration()

	if m.state.iteration < iterationCap {
		m.beginIteration()
		return
	}

	m.phase = phaseDone
	m.publishSetpoints()
	m.log.Info().Str("symbol", m.symbol).Floats64("setpoints", m.state.p[:]).Msg("dispatch: reached iteration cap, halting")
}

// publishSetpoints writes the final per-step power set-points to Device
// View on termination.
func (m *Manager) publishSetpoints() {
	m.devices.Set(m.symbol+".setpoint1", m.state.p[0])
	m.devices.Set(m.symbol+".setpoint2", m.state.p[1])
	m.devices.Set(m.symbol+".setpoint3", m.state.p[2])
}

// Done reports whether the algorithm has reached Done, for tests and
// process shutdown logic.
func (m *Manager) Done() bool {
	return m.phase == phaseDone
}

// Iteration returns the current iteration counter.
func (m *Manager) Iteration() uint32 {
	return m.state.iteration
}

// Setpoints returns the current power set-point candidate, observable
// at every iteration boundary and always within the device's box
// constraint.
func (m *Manager) Setpoints() [3]float64 {
	return m.state.p
}

