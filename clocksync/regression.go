package clocksync

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// regressionResult is a slope f, an intercept α already biased by lag,
// and the lag estimate itself.
type regressionResult struct {
	f     float64
	alpha float64
	lag   float64
}

// regress derives a (slope, offset, lag) estimate from the response
// history:
//
//  1. base = now; translate every (remote, local) sample into
//     (x = remote−base, y = local−base) seconds.
//  2. lag ≈ mean one-way delay, estimated by alternately subtracting and
//     adding the y values in insertion order and dividing by the count.
//  3. f = Σ(x−x̄)(y−ȳ) / Σ(x−x̄)² (1 if the denominator is 0), computed
//     via gonum's unweighted least-squares regression since it applies
//     the identical formula.
//  4. α = ȳ − f·x̄, then biased toward zero by lag.
func regress(samples []responseSample, now time.Time) regressionResult {
	n := len(samples)
	if n == 0 {
		return regressionResult{f: 1}
	}

	xs := make([]float64, n)
	ys := make([]float64, n)
	for i, s := range samples {
		xs[i] = s.remote.Sub(now).Seconds()
		ys[i] = s.local.Sub(now).Seconds()
	}

	lag := alternatingMean(ys)

	f := 1.0
	if hasVariance(xs) {
		alpha, beta := stat.LinearRegression(xs, ys, nil, false)
		f = beta
		_ = alpha // gonum's alpha == ȳ−f·x̄, recomputed explicitly below for clarity
	}

	xbar := mean(xs)
	ybar := mean(ys)
	alpha := ybar - f*xbar

	if alpha <= 0 {
		alpha += lag
	} else {
		alpha -= lag
	}

	return regressionResult{f: f, alpha: alpha, lag: lag}
}

// alternatingMean estimates mean one-way delay: alternately subtract and
// add y values in insertion order, divide by count.
func alternatingMean(ys []float64) float64 {
	if len(ys) == 0 {
		return 0
	}

	sign := -1.0
	sum := 0.0
	for _, y := range ys {
		sum += sign * y
		sign = -sign
	}
	return sum / float64(len(ys))
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// hasVariance reports whether xs has at least two distinct values, i.e.
// Σ(x−x̄)² != 0. When it reports false, regress falls back to f = 1.
func hasVariance(xs []float64) bool {
	if len(xs) < 2 {
		return false
	}
	first := xs[0]
	for _, x := range xs[1:] {
		if x != first {
			return true
		}
	}
	return false
}
