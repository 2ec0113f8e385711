// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.
// The author respectfully requests that it not be used for
// military, warfare, or surveillance applications.

package core

import (
	"math/cmplx"

	"github.com/bitjungle/vnacal/pkg/types"
)

// leakageAccumulator aggregates, per off-diagonal leakage term and per
// frequency, the measurements of standards that have no signal path through
// that cell. The stored leakage term is the arithmetic mean; the empirical
// variance feeds the solution-quality residual check.
type leakageAccumulator struct {
	nFreq int
	cells []leakageCell
}

type leakageCell struct {
	sum   []complex128
	sumSq []float64
	n     int
}

func newLeakageAccumulator(elTerms, nFreq int) *leakageAccumulator {
	la := &leakageAccumulator{nFreq: nFreq, cells: make([]leakageCell, elTerms)}
	for i := range la.cells {
		la.cells[i].sum = make([]complex128, nFreq)
		la.cells[i].sumSq = make([]float64, nFreq)
	}
	return la
}

// add accumulates one standard's samples into leakage term el
func (la *leakageAccumulator) add(el int, samples []complex128) {
	if el < 0 || el >= len(la.cells) {
		return
	}
	c := &la.cells[el]
	for fi, m := range samples {
		c.sum[fi] += m
		a := cmplx.Abs(m)
		c.sumSq[fi] += a * a
	}
	c.n++
}

// meansAt returns the means of every leakage term at one frequency index
func (la *leakageAccumulator) meansAt(fi int) ([]complex128, error) {
	out := make([]complex128, len(la.cells))
	for el := range la.cells {
		c := &la.cells[el]
		if c.n == 0 {
			return nil, types.NewMathError("leakage term %d has no samples", el)
		}
		out[el] = c.sum[fi] / complex(float64(c.n), 0)
	}
	return out, nil
}

// variance returns the empirical variance of leakage term el at frequency
// index fi: (sum|m|^2 - |sum|^2 / n) / (n - 1). Terms with fewer than two
// samples have no empirical variance and report zero.
func (la *leakageAccumulator) variance(el, fi int) float64 {
	c := &la.cells[el]
	if c.n < 2 {
		return 0
	}
	s := cmplx.Abs(c.sum[fi])
	v := (c.sumSq[fi] - s*s/float64(c.n)) / float64(c.n-1)
	if v < 0 {
		return 0
	}
	return v
}

// count returns the number of standards that contributed to leakage term el
func (la *leakageAccumulator) count(el int) int {
	return la.cells[el].n
}
