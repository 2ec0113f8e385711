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

// Solve assembles the equation systems from the added standards and solves
// the error terms at every frequency. The all-known case is solved
// analytically; unknown or correlated parameters, or a measurement-error
// model, route through the iterative solver. A failure at any frequency
// aborts the whole calibration.
func (b *Builder) Solve() error {
	if b.freed {
		return types.NewUsageError("builder has been freed")
	}
	if b.freqs == nil {
		return types.NewUsageError("frequency vector must be set before solve")
	}
	if len(b.standards) == 0 {
		return types.NewUsageError("no standards have been added")
	}

	// Resolve cross-references between unknown parameters.
	for _, u := range b.unknowns {
		if idx, ok := b.unknownIdx[u.other]; ok {
			u.otherIdx = idx
		}
	}

	nFreq := len(b.freqs)
	l := b.layout

	var leak *leakageAccumulator
	if l.OutsideLeakage() {
		leak = newLeakageAccumulator(l.ELTerms, nFreq)
	}
	systems := b.buildSystems(leak)

	totalEq := 0
	for _, eqs := range systems {
		totalEq += len(eqs)
	}
	totalUnknownTerms := l.Systems * (l.SysTerms - 1)
	need := totalUnknownTerms + len(b.unknowns) - b.correlatedCount()
	if totalEq < need {
		return types.NewMathError("under-determined system: %d equations for %d unknowns", totalEq, need)
	}

	// Leakage means are computed once, before the linear systems, because
	// equation coefficients subtract them from off-diagonal measurements.
	var elMeans [][]complex128 // [fi][el]
	if leak != nil {
		elMeans = make([][]complex128, nFreq)
		for fi := 0; fi < nFreq; fi++ {
			m, err := leak.meansAt(fi)
			if err != nil {
				return err
			}
			elMeans[fi] = m
		}
	}

	solved := make([][]complex128, l.SolvedTerms())
	for t := range solved {
		solved[t] = make([]complex128, nFreq)
	}
	var pTable [][]complex128
	if len(b.unknowns) > 0 {
		pTable = make([][]complex128, len(b.unknowns))
		for u := range pTable {
			pTable[u] = make([]complex128, nFreq)
		}
	}

	iterative := len(b.unknowns) > 0 || b.mNoise != nil
	for fi := 0; fi < nFreq; fi++ {
		var elM []complex128
		if elMeans != nil {
			elM = elMeans[fi]
		}
		var x []complex128
		var p []complex128
		var err error
		if iterative {
			x, p, err = b.solveIterative(systems, leak, fi, elM)
		} else {
			x, err = b.solveAuto(systems, fi, elM)
		}
		if err != nil {
			return err
		}
		for t, v := range x {
			solved[t][fi] = v
		}
		for el := 0; el < l.ELTerms; el++ {
			solved[l.ELBase()+el][fi] = elM[el]
		}
		for u := range p {
			pTable[u][fi] = p[u]
		}
	}

	// Record the solved tables of unknown and correlated parameters.
	for u, entry := range b.unknowns {
		if prm, err := b.reg.getParameter(entry.handle); err == nil {
			prm.setSolved(b.freqs, pTable[u])
		}
	}

	terms := solved
	if l.Type == types.CalE12 {
		var err error
		terms, err = convertUE14ToE12(l, solved)
		if err != nil {
			return err
		}
	}

	b.solved = &Calibration{
		layout: l,
		freqs:  append([]float64(nil), b.freqs...),
		z0:     append([]complex128(nil), b.z0...),
		terms:  terms,
		hints:  make([]int, len(terms)),
	}
	return nil
}

// Solved returns the solved calibration, or nil before a successful Solve
func (b *Builder) Solved() *Calibration { return b.solved }

// ValidateCalibration compares every solved error term against an expected
// term table (terms indexed like the stored layout, then frequency) and
// returns the largest absolute deviation.
func (b *Builder) ValidateCalibration(expected [][]complex128) (float64, error) {
	if b.solved == nil {
		return 0, types.NewUsageError("no solved calibration to validate")
	}
	if len(expected) != len(b.solved.terms) {
		return 0, types.NewUsageError("expected %d terms, got %d", len(b.solved.terms), len(expected))
	}
	var worst float64
	for t := range expected {
		if len(expected[t]) != len(b.freqs) {
			return 0, types.NewUsageError("term %d: expected %d samples, got %d", t, len(b.freqs), len(expected[t]))
		}
		for fi := range expected[t] {
			if d := cmplx.Abs(b.solved.terms[t][fi] - expected[t][fi]); d > worst {
				worst = d
			}
		}
	}
	return worst, nil
}
