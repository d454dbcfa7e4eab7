// Package clocksync implements the Clock Synchronizer: a peer-to-peer
// offset/skew estimator based on round-trip timing exchanges and
// weighted linear regression.
package clocksync

import (
	"container/list"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"code.siemens.com/grid-broker/envelope"
	"code.siemens.com/grid-broker/internal/clockreg"
	"code.siemens.com/grid-broker/internal/sched"
	"code.siemens.com/grid-broker/metrics"
	"code.siemens.com/grid-broker/transport"
)

// defaultExchangePeriod is the default interval between Exchange rounds.
const defaultExchangePeriod = 10 * time.Second

// sendtimeLayout is the wire format for unsynchronized_sendtime.
const sendtimeLayout = "2006-01-02T15:04:05.999999999"

// Manager runs the clock-synchronization algorithm for one node. All
// state is owned by the single goroutine started by Start; HandleIncoming
// and peer-list updates hand work to that goroutine over a channel
// rather than taking a lock.
type Manager struct {
	self      uuid.UUID
	transport transport.Transport
	reg       *clockreg.Register
	log       zerolog.Logger
	metrics   *metrics.Registry

	period time.Duration
	timer  sched.Ticker

	events chan event
	done   chan struct{}

	// owned exclusively by run()
	pairs *list.List // ordered map: uuid -> *pairState, insertion order
	index map[uuid.UUID]*list.Element
	round uint64
}

type pairEntry struct {
	id    uuid.UUID
	state *pairState
}

// New constructs a Manager for self, publishing corrections into reg and
// exchanging envelopes over t. period overrides the 10s default when
// positive (tests use a short period).
func New(self uuid.UUID, t transport.Transport, reg *clockreg.Register, log zerolog.Logger, m *metrics.Registry, period time.Duration) *Manager {
	if period <= 0 {
		period = defaultExchangePeriod
	}
	if m == nil {
		m = metrics.Nop()
	}
	mgr := &Manager{
		self:      self,
		transport: t,
		reg:       reg,
		log:       log,
		metrics:   m,
		period:    period,
		events:    make(chan event, 64),
		done:      make(chan struct{}),
		pairs:     list.New(),
		index:     make(map[uuid.UUID]*list.Element),
	}
	mgr.pin(self, selfLoop())
	return mgr
}

func (m *Manager) pin(id uuid.UUID, s *pairState) {
	el := m.pairs.PushBack(&pairEntry{id: id, state: s})
	m.index[id] = el
}

// Start arms the periodic Exchange timer and starts the module's event
// loop.
func (m *Manager) Start() {
	go m.run()
	m.timer.Start(m.period, func() { m.events <- event{tick: true} })
}

// Stop cancels the timer; no in-flight state is discarded.
func (m *Manager) Stop() {
	m.timer.Stop()
	m.events <- event{stop: true}
	<-m.done
}

// HandleIncoming routes msg to handleExchange or handleExchangeResponse
// by payload kind; any other kind is dropped with a warning.
func (m *Manager) HandleIncoming(e envelope.Envelope) {
	m.events <- event{msg: &e, peerFrom: e.From}
}

// UpdatePeers pushes a Group View peer-list snapshot.
func (m *Manager) UpdatePeers(peers []uuid.UUID) {
	m.events <- event{peers: peers, hasPeers: true}
}

// SynchronizedNow returns local_now() + published_skew.
func (m *Manager) SynchronizedNow() time.Time {
	return time.Now().Add(m.reg.Load())
}

func (m *Manager) run() {
	for ev := range m.events {
		switch {
		case ev.stop:
			close(m.done)
			return
		case ev.tick:
			m.exchangeRound()
		case ev.msg != nil:
			m.dispatch(*ev.msg)
		case ev.hasPeers:
			m.mergePeers(ev.peers)
		}
	}
}

// mergePeers ensures every peer in the latest Group View snapshot has a
// pair entry, creating zero-weight placeholders for newly seen peers.
// Peers that disappear are left in place: stale entries are left to
// decay via weight-decay rather than being evicted eagerly.
func (m *Manager) mergePeers(peers []uuid.UUID) {
	for _, p := range peers {
		if p == m.self {
			continue
		}
		if _, ok := m.index[p]; !ok {
			m.pin(p, &pairState{weight: weightEstimate{w0: 0, k0: m.round}})
		}
	}
}

func (m *Manager) dispatch(e envelope.Envelope) {
	switch e.Kind {
	case envelope.KindClockExchange:
		var msg envelope.ClockExchange
		if err := e.Decode(&msg); err != nil {
			m.log.Warn().Err(err).Str("peer", e.From.String()).Msg("clocksync: malformed exchange, dropping")
			return
		}
		m.handleExchange(msg, e.From)
	case envelope.KindClockExchangeResponse:
		var msg envelope.ClockExchangeResponse
		if err := e.Decode(&msg); err != nil {
			m.log.Warn().Err(err).Str("peer", e.From.String()).Msg("clocksync: malformed exchange response, dropping")
			return
		}
		m.handleExchangeResponse(msg, e.From)
	default:
		m.log.Warn().Str("kind", string(e.Kind)).Str("peer", e.From.String()).Msg("clocksync: unknown envelope kind, dropping")
	}
}

// exchangeRound runs one Exchange round. The round's sequence number k
// doubles as the weight-decay round
// counter: every query sent this round carries the same k, and k is
// incremented exactly once (step 3), after the per-peer loop.
func (m *Manager) exchangeRound() {
	queue := m.rotatedPeerQueue()
	k := uint32(m.round)

	for _, peer := range queue {
		st := m.stateFor(peer)
		st.query = &challenge{sequence: k, issued: time.Now()}

		msg := envelope.ClockExchange{Query: k}
		out, err := envelope.Encode(envelope.ModuleClockSync, envelope.KindClockExchange, m.self, msg)
		if err != nil {
			m.log.Warn().Err(err).Msg("clocksync: encode exchange failed")
			continue
		}
		if err := m.transport.Peer(peer).Send(context.Background(), out); err != nil {
			m.log.Warn().Err(err).Str("peer", peer.String()).Msg("clocksync: send exchange failed, continuing")
		}
	}

	m.round++
	m.publishSkew()
}

// rotatedPeerQueue forms the queue of currently-known peers, rotated so
// the node just after self in UUID order is first: a deterministic
// circular shift that smears the outgoing burst across rounds between
// peers.
func (m *Manager) rotatedPeerQueue() []uuid.UUID {
	var peers []uuid.UUID
	for el := m.pairs.Front(); el != nil; el = el.Next() {
		id := el.Value.(*pairEntry).id
		if id != m.self {
			peers = append(peers, id)
		}
	}
	if len(peers) == 0 {
		return peers
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].String() < peers[j].String() })

	start := 0
	for i, id := range peers {
		if id.String() > m.self.String() {
			start = i
			break
		}
	}
	rotated := make([]uuid.UUID, 0, len(peers))
	rotated = append(rotated, peers[start:]...)
	rotated = append(rotated, peers[:start]...)
	return rotated
}

// publishSkew recomputes published_skew = Σ weight·offset / Σ weight
// over all pairs including the self-loop, and writes it to the global
// clock-skew register.
func (m *Manager) publishSkew() {
	var sumW, sumWO float64
	for el := m.pairs.Front(); el != nil; el = el.Next() {
		entry := el.Value.(*pairEntry)
		w := entry.state.weight.effective(m.round)
		sumW += w
		sumWO += w * entry.state.offset.Seconds()
		m.metrics.PeerWeight.WithLabelValues(entry.id.String()).Set(w)
	}

	var skew float64
	if sumW != 0 {
		skew = sumWO / sumW
	}
	published := time.Duration(skew * float64(time.Second))
	m.reg.Store(published)
	m.metrics.PublishedSkewSeconds.Set(published.Seconds())
}

// handleExchange answers a challenge: immediately reply with
// EXCHANGE_RESPONSE carrying this node's full offset table. No local
// state change.
func (m *Manager) handleExchange(msg envelope.ClockExchange, from uuid.UUID) {
	entries := make([]envelope.ClockExchangeResponseEntry, 0, m.pairs.Len())
	for el := m.pairs.Front(); el != nil; el = el.Next() {
		entry := el.Value.(*pairEntry)
		secs, fracs := splitDuration(entry.state.offset)
		entries = append(entries, envelope.ClockExchangeResponseEntry{
			UUID:        entry.id,
			OffsetSecs:  secs,
			OffsetFracs: fracs,
			Weight:      entry.state.weight.effective(m.round),
			Skew:        entry.state.skew,
		})
	}

	resp := envelope.ClockExchangeResponse{
		Response:               msg.Query,
		UnsynchronizedSendtime: time.Now().Format(sendtimeLayout),
		TableEntries:            entries,
	}

	out, err := envelope.Encode(envelope.ModuleClockSync, envelope.KindClockExchangeResponse, m.self, resp)
	if err != nil {
		m.log.Warn().Err(err).Msg("clocksync: encode exchange response failed")
		return
	}
	if err := m.transport.Peer(from).Send(context.Background(), out); err != nil {
		m.log.Warn().Err(err).Str("peer", from.String()).Msg("clocksync: send exchange response failed, continuing")
	}
}

// handleExchangeResponse processes an EXCHANGE_RESPONSE{response=k, …}.
func (m *Manager) handleExchangeResponse(msg envelope.ClockExchangeResponse, from uuid.UUID) {
	st := m.stateFor(from)

	if st.query == nil || st.query.sequence != msg.Response {
		m.log.Warn().Str("peer", from.String()).Uint32("response", msg.Response).Msg("clocksync: stale or unknown sequence, dropping")
		return
	}

	challengeTime := st.query.issued
	st.query = nil

	responseTime, err := time.Parse(sendtimeLayout, msg.UnsynchronizedSendtime)
	if err != nil {
		m.log.Warn().Err(err).Str("peer", from.String()).Msg("clocksync: malformed sendtime, dropping")
		return
	}
	now := time.Now()

	st.responses.push(responseSample{remote: responseTime, local: challengeTime})
	st.responses.push(responseSample{remote: responseTime, local: now})

	result := regress(st.responses.samples, now)

	st.offset = time.Duration(-result.alpha * float64(time.Second))
	st.skew = result.f - 1
	st.weight = weightEstimate{w0: 1.0, k0: m.round}

	for _, row := range msg.TableEntries {
		if row.UUID == m.self || row.UUID == from {
			continue
		}
		m.learnTransitive(row, from)
	}
}

// learnTransitive performs the transitive-trust outer join keyed by
// UUID, taxed by lagTax per hop.
func (m *Manager) learnTransitive(row envelope.ClockExchangeResponseEntry, from uuid.UUID) {
	existing := m.stateFor(row.UUID)
	candidateWeight := row.Weight - lagTax
	if existing.weight.effective(m.round) >= candidateWeight {
		return
	}

	fromState, ok := m.lookup(from)
	if !ok {
		panic(fmt.Sprintf("clocksync: missing weight entry for pair (%s,%s) during transitive learning", m.self, from))
	}

	remoteOffset := rejoinOffset(row.OffsetSecs, row.OffsetFracs)
	existing.offset = fromState.offset + remoteOffset
	existing.weight = weightEstimate{w0: candidateWeight, k0: m.round}
	existing.skew = fromState.skew + row.Skew
}

func (m *Manager) stateFor(id uuid.UUID) *pairState {
	if el, ok := m.index[id]; ok {
		return el.Value.(*pairEntry).state
	}
	st := &pairState{weight: weightEstimate{w0: 0, k0: m.round}}
	m.pin(id, st)
	return st
}

func (m *Manager) lookup(id uuid.UUID) (*pairState, bool) {
	el, ok := m.index[id]
	if !ok {
		return nil, false
	}
	return el.Value.(*pairEntry).state, true
}

// splitDuration encodes a time.Duration as whole-seconds + fractional
// nanosecond remainder, matching the wire entry's
// offset_secs/offset_fracs pair.
func splitDuration(d time.Duration) (secs int64, fracs int64) {
	secs = int64(d / time.Second)
	fracs = int64(d % time.Second)
	return secs, fracs
}

// rejoinOffset is splitDuration's inverse.
func rejoinOffset(secs, fracs int64) time.Duration {
	return time.Duration(secs)*time.Second + time.Duration(fracs)
}
