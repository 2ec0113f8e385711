// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.
// The author respectfully requests that it not be used for
// military, warfare, or surveillance applications.

package core

import (
	"github.com/bitjungle/vnacal/internal/linalg"
	"github.com/bitjungle/vnacal/pkg/types"
)

// solveAuto solves each sub-system analytically at frequency index fi: all
// standard parameters are known, so every sub-system is a linear system in
// its error terms. Square systems go through LU, overdetermined ones through
// least squares. The returned vector covers all sub-systems with the unity
// terms reinstated.
func (b *Builder) solveAuto(systems [][]*equation, fi int, elMeans []complex128) ([]complex128, error) {
	l := b.layout
	out := make([]complex128, l.Systems*l.SysTerms)

	it := newEqIterator(systems)
	for it.NextSystem() {
		sys := it.sys
		eqs := systems[sys]
		n := l.SysTerms - 1
		rows := len(eqs)
		if rows < n {
			return nil, types.NewMathError(
				"sub-system %d is under-determined: %d equations for %d terms", sys, rows, n)
		}

		a := make([]complex128, rows*n)
		bv := make([]complex128, rows)
		row := -1
		for it.NextEquation() {
			row++
			eq := it.Equation()
			for it.NextTerm() {
				t := it.Term()
				v, err := b.termValue(eq.std, t, fi, nil, elMeans)
				if err != nil {
					return nil, err
				}
				if col := l.coefficient(sys, t); col >= 0 {
					a[col*rows+row] += v
				} else {
					// Unity term: its summand moves to the right-hand side.
					bv[row] -= v
				}
			}
		}

		var x []complex128
		if rows == n {
			if _, err := linalg.Mldivide(a, bv, n, 1); err != nil {
				return nil, err
			}
			x = bv
		} else {
			var err error
			x, err = linalg.QRSolve(a, bv, rows, n, 1)
			if err != nil {
				return nil, err
			}
		}

		unity := l.UnityIndex(sys)
		base := sys * l.SysTerms
		for local := 0; local < l.SysTerms; local++ {
			switch {
			case local == unity:
				out[base+local] = 1
			case local > unity:
				out[base+local] = x[local-1]
			default:
				out[base+local] = x[local]
			}
		}
	}
	return out, nil
}
