package clocksync

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// weightDecay is λ: effective weight decays as w0 · λ^(k−k0) between
// updates.
const weightDecay = 0.99999

// responseHistoryCap bounds responses at 400 entries: two entries
// appended per exchange, oldest pair evicted on overflow.
const responseHistoryCap = 400

// lagTax is the constant subtracted from a transitively-learned peer's
// weight: a tax on transitive trust, one per hop.
const lagTax = 0.1

// PairKey identifies a directed (self, peer) pair.
type PairKey struct {
	From uuid.UUID
	To   uuid.UUID
}

// weightEstimate is a decaying confidence (w0, k0): effective weight is
// w0 · λ^(k−k0) with k the current exchange round.
type weightEstimate struct {
	w0 float64
	k0 uint64
}

// effective returns the decayed weight at round.
func (w weightEstimate) effective(round uint64) float64 {
	return w.w0 * math.Pow(weightDecay, float64(round-w.k0))
}

// responseSample is one (remote-sendtime, local-time) tuple used for the
// regression step.
type responseSample struct {
	remote time.Time
	local  time.Time
}

// responseHistory is the bounded deque of responseSamples for one pair.
type responseHistory struct {
	samples []responseSample
}

// push appends a sample, evicting the oldest entries once the deque
// would exceed responseHistoryCap.
func (h *responseHistory) push(s responseSample) {
	h.samples = append(h.samples, s)
	if len(h.samples) > responseHistoryCap {
		h.samples = h.samples[len(h.samples)-responseHistoryCap:]
	}
}

// challenge is the at-most-one in-flight query for a pair.
type challenge struct {
	sequence uint32
	issued   time.Time
}

// pairState is the Clock Synchronizer's per-peer state.
type pairState struct {
	offset    time.Duration
	skew      float64
	weight    weightEstimate
	responses responseHistory
	query     *challenge
}

func selfLoop() *pairState {
	return &pairState{
		offset: 0,
		skew:   0,
		weight: weightEstimate{w0: 1.0, k0: 0},
	}
}
