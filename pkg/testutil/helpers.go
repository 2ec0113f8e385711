// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.
// The author respectfully requests that it not be used for
// military, warfare, or surveillance applications.

package testutil

import (
	"math/cmplx"
	"math/rand"
	"testing"

	"github.com/bitjungle/vnacal/internal/core"
	"github.com/bitjungle/vnacal/pkg/types"
)

const (
	// DefaultTolerance is the default numerical tolerance for solved
	// error-term comparisons
	DefaultTolerance = 1e-9
	// LooseTolerance is used for iterative-solver results
	LooseTolerance = 1e-6
	// StrictTolerance is used for exact algebraic identities
	StrictTolerance = 1e-12
)

// AlmostEqualComplex checks if two complex values are within tolerance
func AlmostEqualComplex(a, b complex128, tolerance float64) bool {
	return cmplx.Abs(a-b) <= tolerance
}

// AssertComplexAlmostEqual fails the test when the values differ by more
// than tolerance
func AssertComplexAlmostEqual(t *testing.T, expected, actual complex128, tolerance float64, message string) {
	t.Helper()
	if !AlmostEqualComplex(expected, actual, tolerance) {
		t.Errorf("%s: expected %v, got %v (|diff| %g > %g)",
			message, expected, actual, cmplx.Abs(expected-actual), tolerance)
	}
}

// RandomComplex draws a complex value with standard-normal real and
// imaginary parts
func RandomComplex(rng *rand.Rand) complex128 {
	return complex(rng.NormFloat64(), rng.NormFloat64())
}

// RandomErrorTerms draws a full error-term table for the layout from the
// complex standard normal, with the unity term of every sub-system pinned to
// one so the table matches what the solver can recover. Terms that the model
// divides by are redrawn while they are close to zero.
func RandomErrorTerms(rng *rand.Rand, l core.Layout, nFreq int) [][]complex128 {
	draw := func() complex128 {
		for {
			v := RandomComplex(rng)
			if cmplx.Abs(v) > 0.1 {
				return v
			}
		}
	}
	terms := make([][]complex128, l.StoredTerms())
	for t := range terms {
		terms[t] = make([]complex128, nFreq)
		for fi := range terms[t] {
			terms[t][fi] = draw()
		}
	}
	if l.Type != types.CalE12 {
		for sys := 0; sys < l.Systems; sys++ {
			unity := sys*l.SysTerms + l.UnityIndex(sys)
			for fi := 0; fi < nFreq; fi++ {
				terms[unity][fi] = 1
			}
		}
		// Leakage is a small additive offset, not a unit-scale term.
		for el := 0; el < l.ELTerms; el++ {
			for fi := 0; fi < nFreq; fi++ {
				terms[l.ELBase()+el][fi] *= 0.01
			}
		}
	} else {
		// E12 stores el/er/em per column; off-diagonal el is leakage.
		for c := 0; c < l.MColumns; c++ {
			for r := 0; r < l.MRows; r++ {
				if r != c {
					for fi := 0; fi < nFreq; fi++ {
						terms[c*3*l.MRows+r][fi] *= 0.01
					}
				}
			}
		}
	}
	return terms
}

// TermsAt extracts the term vector of one frequency index from a term table
func TermsAt(terms [][]complex128, fi int) []complex128 {
	out := make([]complex128, len(terms))
	for t := range terms {
		out[t] = terms[t][fi]
	}
	return out
}

// SynthesizeStandard produces the per-cell measurement vectors of a standard
// with S matrix s under the error-term table, in the cell-vector shape the
// Builder add operations take.
func SynthesizeStandard(l core.Layout, terms [][]complex128, s [][]complex128) ([][][]complex128, error) {
	nFreq := len(terms[0])
	out := make([][][]complex128, l.MRows)
	for i := range out {
		out[i] = make([][]complex128, l.MColumns)
		for j := range out[i] {
			out[i][j] = make([]complex128, nFreq)
		}
	}
	for fi := 0; fi < nFreq; fi++ {
		m, err := core.SynthesizeMeasurement(l, TermsAt(terms, fi), s)
		if err != nil {
			return nil, err
		}
		for i := 0; i < l.MRows; i++ {
			for j := 0; j < l.MColumns; j++ {
				out[i][j][fi] = m[i][j]
			}
		}
	}
	return out, nil
}

// ReflectS builds the ports x ports S matrix of independent reflections on
// the diagonal
func ReflectS(ports int, gamma ...complex128) [][]complex128 {
	s := make([][]complex128, ports)
	for i := range s {
		s[i] = make([]complex128, ports)
	}
	for i, g := range gamma {
		if i < ports {
			s[i][i] = g
		}
	}
	return s
}

// ThroughS builds the S matrix of a perfect through between two ports
func ThroughS(ports, p1, p2 int) [][]complex128 {
	s := make([][]complex128, ports)
	for i := range s {
		s[i] = make([]complex128, ports)
	}
	s[p1][p2] = 1
	s[p2][p1] = 1
	return s
}

// LineS builds the S matrix of a matched line with transmission coefficient l
func LineS(ports, p1, p2 int, l complex128) [][]complex128 {
	s := make([][]complex128, ports)
	for i := range s {
		s[i] = make([]complex128, ports)
	}
	s[p1][p2] = l
	s[p2][p1] = l
	return s
}
