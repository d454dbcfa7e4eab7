package dispatch

// horizon is the dispatch step count.
const horizon = 3

// Fixed algorithm parameters.
const (
	eta           = 0.5    // η, step size
	rho           = 1.5    // ρ, penalty
	deltaT        = 15.0   // Δt, seconds per dispatch step
	consensusEvery = 5      // inner-iteration period
	iterationCap  = 5000   // iteration cap
)

// vec3 is a three-element per-dispatch-step vector.
type vec3 = [3]float64

// nodeState is one node's distributed-dispatch state.
type nodeState struct {
	symbol string
	role   Role
	params DeviceParams

	deltaP     vec3
	deltaPPrev vec3
	lambda     vec3
	mu         vec3
	xi         vec3
	p          vec3

	deltaPAdj vec3
	lambdaAdj vec3

	// DESD energy bookkeeping, recomputed each primal update.
	cumulativeEnergy vec3
	deltaP1          vec3
	deltaP2          vec3

	costAccum float64

	iteration         uint32
	pendingNeighbours int

	neighbours   []string
	neighbourSet map[string]struct{}

	epsilon float64
	wSelf   float64
	wAdj    float64

	seenThisIteration map[string]struct{}
}

func newNodeState(symbol string, role Role, neighbours []string, maxDegree int, seed vec3) *nodeState {
	set := make(map[string]struct{}, len(neighbours))
	for _, n := range neighbours {
		set[n] = struct{}{}
	}

	epsilon := 1.0 / float64(maxDegree+1)
	ns := &nodeState{
		symbol:            symbol,
		role:              role,
		params:            paramsFor(role),
		deltaP:            seed,
		deltaPPrev:        seed,
		neighbours:        neighbours,
		neighbourSet:      set,
		pendingNeighbours: len(neighbours),
		epsilon:           epsilon,
		wAdj:              epsilon,
		wSelf:             1 - float64(len(neighbours))*epsilon,
		seenThisIteration: make(map[string]struct{}, len(neighbours)),
	}
	return ns
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func addVec(a, b vec3) vec3 {
	return vec3{a[0] + b[0], a[1] + b[1], a[2] + b[2]}
}

func infNorm(v vec3) float64 {
	m := 0.0
	for _, x := range v {
		if x < 0 {
			x = -x
		}
		if x > m {
			m = x
		}
	}
	return m
}
