// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.
// The author respectfully requests that it not be used for
// military, warfare, or surveillance applications.

package core

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/cmplxs"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/bitjungle/vnacal/internal/linalg"
	"github.com/bitjungle/vnacal/pkg/types"
)

// machineEpsilon is the double-precision unit round-off used by the
// convergence test.
const machineEpsilon = 2.220446049250313e-16

// goldenRatio clips the Gauss-Newton step to keep it inside the current
// basin of attraction.
const goldenRatio = 1.618033988749895

// solveIterative implements separable nonlinear least squares via variable
// projection at frequency index fi.
//
// The error terms x enter the model linearly and the unknown standard
// parameters p nonlinearly: the equations form A(p)·x = b. Writing the
// Householder factorization A = [Q1 Q2]·[R; 0], the linear variables are
// eliminated by x = R⁻¹·Q1ᴴ·b and the projected residual r(p) = Q2ᴴ·(A·x −
// b) = −Q2ᴴ·b remains to be minimised over p. Under Kaufman's approximation
// the Jacobian of r is J = Q2ᴴ·(∂A/∂p)·x, avoiding a re-factorization, and
// the Gauss-Newton step d solves J·d = Q2ᴴ·b in the least-squares sense.
// Correlated parameters append regularising rows: 1/σ against the parameter,
// −1/σ against its correlate when that is itself unknown, with right-hand
// side −(p − other)/σ.
//
// When a measurement-error model is set, each equation row is weighted by
// w = 1/sqrt(noise² + tracking²·|m|²) with m the equation's own measurement
// sample; the first build is unweighted. The weights depend only on the
// measurements, so they are computed once, at the first improvement step (or
// on the single rebuild when there are no unknowns), and then held fixed.
func (b *Builder) solveIterative(systems [][]*equation, leak *leakageAccumulator, fi int, elMeans []complex128) ([]complex128, []complex128, error) {
	l := b.layout
	f := b.freqs[fi]
	np := len(b.unknowns)
	nx := l.Systems * (l.SysTerms - 1)

	type rowRef struct {
		sys int
		eq  *equation
	}
	var refs []rowRef
	it := newEqIterator(systems)
	for it.NextSystem() {
		for it.NextEquation() {
			refs = append(refs, rowRef{sys: it.sys, eq: it.Equation()})
		}
	}
	rows := len(refs)
	if rows < nx {
		return nil, nil, types.NewMathError(
			"under-determined system: %d equations for %d error terms", rows, nx)
	}
	colBase := make([]int, l.Systems)
	for s := 1; s < l.Systems; s++ {
		colBase[s] = colBase[s-1] + l.SysTerms - 1
	}

	// Initial guesses come from each unknown's reference parameter.
	p := make([]complex128, np)
	for u, entry := range b.unknowns {
		v, err := b.reg.ParameterValue(entry.other, f)
		if err != nil {
			return nil, nil, err
		}
		p[u] = v
	}

	w := make([]float64, rows)
	for i := range w {
		w[i] = 1
	}
	weighted := false
	applyWeights := func() {
		if b.mNoise == nil || weighted {
			return
		}
		for ri, rr := range refs {
			w[ri] = b.equationWeight(rr.eq, fi)
		}
		weighted = true
	}

	build := func() (a, bv []complex128, err error) {
		a = make([]complex128, rows*nx)
		bv = make([]complex128, rows)
		for ri, rr := range refs {
			wr := complex(w[ri], 0)
			for _, t := range rr.eq.terms {
				v, err := b.termValue(rr.eq.std, t, fi, p, elMeans)
				if err != nil {
					return nil, nil, err
				}
				v *= wr
				if col := l.coefficient(rr.sys, t); col >= 0 {
					a[(colBase[rr.sys]+col)*rows+ri] += v
				} else {
					bv[ri] -= v
				}
			}
		}
		return a, bv, nil
	}

	nCorr := b.correlatedCount()
	bestSS := math.Inf(1)
	var bestP, bestD []complex128
	backtrack := 0

	var a, bv, x []complex128
	converged := np == 0

	for iter := 0; iter < b.iterationLimit; iter++ {
		var err error
		a, bv, err = build()
		if err != nil {
			return nil, nil, err
		}
		q, r, err := linalg.QR(a, rows, nx)
		if err != nil {
			return nil, nil, err
		}
		if linalg.Rank(r, rows, nx) < nx {
			return nil, nil, types.NewMathError("singular system at frequency index %d", fi)
		}
		x, err = linalg.QRSolve2(q, r, bv, rows, nx, 1)
		if err != nil {
			return nil, nil, err
		}

		if np == 0 {
			// Only the weighting needed iteration; one weighted rebuild.
			if b.mNoise != nil && !weighted {
				applyWeights()
				continue
			}
			converged = true
			break
		}

		// Projected residual and Kaufman-approximation Jacobian.
		nq2 := rows - nx
		jRows := nq2 + nCorr
		jac := make([]complex128, jRows*np)
		k := make([]complex128, jRows)
		deriv := make([]complex128, rows)
		for u := 0; u < np; u++ {
			for ri := range deriv {
				deriv[ri] = 0
			}
			for ri, rr := range refs {
				var dv complex128
				for _, t := range rr.eq.terms {
					col := l.coefficient(rr.sys, t)
					if col < 0 {
						continue
					}
					if dt := b.termDerivative(rr.eq.std, t, fi, u, elMeans); dt != 0 {
						dv += dt * x[colBase[rr.sys]+col]
					}
				}
				deriv[ri] = dv * complex(w[ri], 0)
			}
			for qi := 0; qi < nq2; qi++ {
				var sum complex128
				for ri := 0; ri < rows; ri++ {
					sum += cmplx.Conj(q[(nx+qi)*rows+ri]) * deriv[ri]
				}
				jac[u*jRows+qi] = sum
			}
		}
		for qi := 0; qi < nq2; qi++ {
			var sum complex128
			for ri := 0; ri < rows; ri++ {
				sum += cmplx.Conj(q[(nx+qi)*rows+ri]) * bv[ri]
			}
			k[qi] = sum
		}
		ci := 0
		for u, entry := range b.unknowns {
			if !entry.correlated {
				continue
			}
			sigma, err := entry.sigma.Eval(f)
			if err != nil {
				return nil, nil, err
			}
			if sigma <= 0 {
				return nil, nil, types.NewUsageError("correlated parameter %d has non-positive sigma %g at %g", entry.handle, sigma, f)
			}
			row := nq2 + ci
			inv := complex(1/sigma, 0)
			jac[u*jRows+row] = inv
			var other complex128
			if entry.otherIdx >= 0 {
				other = p[entry.otherIdx]
				jac[entry.otherIdx*jRows+row] = -inv
			} else {
				other, err = b.reg.ParameterValue(entry.other, f)
				if err != nil {
					return nil, nil, err
				}
			}
			k[row] = -(p[u] - other) * inv
			ci++
		}

		d, err := linalg.QRSolve(jac, k, jRows, np, 1)
		if err != nil {
			return nil, nil, types.NewMathError("rank-deficient Jacobian at frequency index %d", fi)
		}

		var ss float64
		for _, dv := range d {
			ss += real(dv)*real(dv) + imag(dv)*imag(dv)
		}
		if b.logger != nil {
			b.logger.Debug("gauss-newton step", "fi", fi, "iter", iter, "ss", ss, "best", bestSS)
		}

		switch {
		case ss < bestSS:
			bestSS = ss
			bestP = append(bestP[:0], p...)
			bestD = append(bestD[:0], d...)
			applyWeights()
			// Clip the step so it stays inside the basin of attraction.
			var pn float64
			for _, pv := range p {
				pn += real(pv)*real(pv) + imag(pv)*imag(pv)
			}
			limit := math.Max(1, math.Sqrt(pn)) / goldenRatio
			if nd := math.Sqrt(ss); nd > limit {
				cmplxs.Scale(complex(limit/nd, 0), d)
			}
			cmplxs.Add(p, d)
			backtrack = 0

		case ss/float64(np) < machineEpsilon:
			converged = true

		default:
			// Backtracking line search: halve the best step and retry.
			backtrack++
			if backtrack > b.backtrackLimit {
				return nil, nil, types.NewMathError(
					"iterative solver failed to converge at frequency index %d", fi)
			}
			cmplxs.Scale(0.5, bestD)
			copy(p, bestP)
			cmplxs.Add(p, bestD)
		}
		if converged {
			break
		}
	}
	if !converged {
		return nil, nil, types.NewMathError(
			"iterative solver exceeded %d iterations at frequency index %d", b.iterationLimit, fi)
	}

	if b.mNoise != nil {
		if err := b.checkResidual(a, bv, x, rows, nx, np, leak, fi); err != nil {
			return nil, nil, err
		}
	}

	// Reinstate the unity terms.
	out := make([]complex128, l.Systems*l.SysTerms)
	for sys := 0; sys < l.Systems; sys++ {
		unity := l.UnityIndex(sys)
		base := sys * l.SysTerms
		for local := 0; local < l.SysTerms; local++ {
			switch {
			case local == unity:
				out[base+local] = 1
			case local > unity:
				out[base+local] = x[colBase[sys]+local-1]
			default:
				out[base+local] = x[colBase[sys]+local]
			}
		}
	}
	return out, p, nil
}

// equationWeight computes the measurement-error weight of one equation row
func (b *Builder) equationWeight(eq *equation, fi int) float64 {
	noise := b.mNoise[fi]
	tracking := b.mTracking[fi]
	var mAbs float64
	if cell := eq.std.m[eq.row][eq.col]; cell != nil {
		mAbs = cmplx.Abs(cell[fi])
	}
	return 1 / math.Sqrt(noise*noise+tracking*tracking*mAbs*mAbs)
}

// checkResidual rejects a weighted solution whose RMS residual is larger
// than the configured sigma multiple, and applies the optional chi-squared
// significance test. The empirical variance of the leakage samples
// contributes to the statistic.
func (b *Builder) checkResidual(a, bv, x []complex128, rows, nx, np int, leak *leakageAccumulator, fi int) error {
	var ss float64
	for ri := 0; ri < rows; ri++ {
		var sum complex128
		for c := 0; c < nx; c++ {
			sum += a[c*rows+ri] * x[c]
		}
		d := cmplx.Abs(sum - bv[ri])
		ss += d * d
	}
	dof := rows - nx - np

	if leak != nil {
		noise := b.mNoise[fi]
		for el := range leak.cells {
			n := leak.count(el)
			if n < 2 {
				continue
			}
			ss += leak.variance(el, fi) * float64(n-1) / (noise * noise)
			dof += n - 1
		}
	}
	if dof <= 0 {
		return nil
	}

	rms := math.Sqrt(ss / float64(dof))
	if rms > b.residualSigmaLimit {
		return types.NewMathError(
			"solution residual %.3g sigma exceeds the %.3g sigma limit at frequency index %d",
			rms, b.residualSigmaLimit, fi)
	}
	if b.pvalueLimit > 0 {
		chi2 := distuv.ChiSquared{K: float64(dof)}
		if pv := chi2.Survival(ss); pv < b.pvalueLimit {
			return types.NewMathError(
				"solution fails the chi-squared test at frequency index %d: p=%.3g < %.3g",
				fi, pv, b.pvalueLimit)
		}
	}
	return nil
}
