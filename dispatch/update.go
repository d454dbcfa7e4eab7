package dispatch

// primalUpdate runs the device-specific primal update. Load/PV/WT nodes
// have no primal update: their ΔP is their fixed imbalance.
func (ns *nodeState) primalUpdate() {
	switch ns.role {
	case RoleGrid:
		ns.gridUpdate()
	case RoleDESD:
		ns.desdUpdate()
	}
}

// gridUpdate runs the Grid-branch primal update and records this
// iteration's cost. costAccum is reset here, not accumulated across
// iterations: it reports the latest iteration's cost, not a running sum.
func (ns *nodeState) gridUpdate() {
	ns.costAccum = 0
	for t := 0; t < horizon; t++ {
		prev := ns.p[t]
		ns.p[t] = clip(prev-eta*(ns.params.Price[t]-ns.lambda[t]-rho*ns.deltaP[t]), ns.params.PMin, ns.params.PMax)
		ns.costAccum += ns.params.Price[t] * prev * deltaT
	}
}

// desdUpdate runs the DESD-branch primal update: the forward sums
// A1/A2, the upper-triangular Σμ/Σξ decrement, and the energy-envelope
// dual update.
func (ns *nodeState) desdUpdate() {
	a1 := forwardSum(ns.deltaP1)
	a2 := forwardSum(ns.deltaP2)

	sumMu := sumVec(ns.mu)
	sumXi := sumVec(ns.xi)

	for t := 0; t < horizon; t++ {
		ns.p[t] = clip(
			ns.p[t]-eta*(-ns.lambda[t]-sumMu*deltaT+sumXi*deltaT-rho*ns.deltaP[t]-rho*a1[t]+rho*a2[t]),
			ns.params.PMin, ns.params.PMax,
		)
		sumMu -= ns.mu[t]
		sumXi -= ns.xi[t]
	}

	var cumulative float64
	for t := 0; t < horizon; t++ {
		cumulative += ns.p[t] * deltaT
		ns.cumulativeEnergy[t] = cumulative
		ns.deltaP1[t] = ns.params.EInit[t] - ns.params.EFull[t] - cumulative
		ns.deltaP2[t] = cumulative - ns.params.EInit[t]
	}

	for t := 0; t < horizon; t++ {
		ns.mu[t] = max0(ns.mu[t] + eta*ns.deltaP1[t])
		ns.xi[t] = max0(ns.xi[t] + eta*ns.deltaP2[t])
	}
}

// forwardSum returns A_t = Σ_{s≥t} max(v_s, 0) for each t.
func forwardSum(v vec3) vec3 {
	var out vec3
	running := 0.0
	for t := horizon - 1; t >= 0; t-- {
		running += max0(v[t])
		out[t] = running
	}
	return out
}

func sumVec(v vec3) float64 {
	return v[0] + v[1] + v[2]
}

func max0(x float64) float64 {
	if x < 0 {
		return 0
	}
	return x
}

// consensusStep runs the ΔP/λ consensus update. Every fifth iteration it
// mixes in the neighbour accumulator; otherwise it applies a
// Nesterov-style extrapolation. Note the λ update reuses ΔP_adj where a
// reader might expect λ_adj, and the non-consensus branch computes
// 2·ΔP_self − ΔP_self_prev while the consensus branch subtracts
// ΔP_self_prev directly — both asymmetries are intentional and must not
// be "fixed" without re-deriving the update from scratch.
func (ns *nodeState) consensusStep() {
	var newDeltaP, newLambda vec3

	if ns.iteration%consensusEvery == 0 {
		for t := 0; t < horizon; t++ {
			newDeltaP[t] = ns.wSelf*ns.deltaP[t] + ns.wAdj*ns.deltaPAdj[t] + ns.deltaP[t] - ns.deltaPPrev[t]
			newLambda[t] = ns.wSelf*ns.lambda[t] + ns.wAdj*ns.deltaPAdj[t] + eta*ns.deltaP[t]
		}
	} else {
		for t := 0; t < horizon; t++ {
			newDeltaP[t] = ns.deltaP[t] + ns.deltaP[t] - ns.deltaPPrev[t]
			newLambda[t] = ns.lambda[t] + eta*ns.deltaP[t]
		}
	}

	ns.deltaPPrev = ns.deltaP
	ns.deltaP = newDeltaP
	ns.lambda = newLambda
}

// clearForNextIteration resets the per-iteration accumulators and
// advances bookkeeping.
func (ns *nodeState) clearForNextIteration() {
	ns.deltaPAdj = vec3{}
	ns.lambdaAdj = vec3{}
	ns.pendingNeighbours = len(ns.neighbours)
	ns.iteration++
	for k := range ns.seenThisIteration {
		delete(ns.seenThisIteration, k)
	}
}
