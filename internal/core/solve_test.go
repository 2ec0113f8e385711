// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.

package core

import (
	"fmt"
	"math/cmplx"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitjungle/vnacal/pkg/types"
)

// drawTerm draws a unit-scale complex value away from zero
func drawTerm(rng *rand.Rand) complex128 {
	for {
		v := complex(rng.NormFloat64(), rng.NormFloat64())
		if cmplx.Abs(v) > 0.1 {
			return v
		}
	}
}

// randomTerms draws a stored-layout term table with unity terms pinned to
// one and small leakage terms.
func randomTerms(rng *rand.Rand, l Layout, nFreq int) [][]complex128 {
	terms := make([][]complex128, l.StoredTerms())
	for t := range terms {
		terms[t] = make([]complex128, nFreq)
		for fi := range terms[t] {
			terms[t][fi] = drawTerm(rng)
		}
	}
	if l.Type != types.CalE12 {
		for sys := 0; sys < l.Systems; sys++ {
			unity := sys*l.SysTerms + l.UnityIndex(sys)
			for fi := 0; fi < nFreq; fi++ {
				terms[unity][fi] = 1
			}
		}
		for el := 0; el < l.ELTerms; el++ {
			for fi := 0; fi < nFreq; fi++ {
				terms[l.ELBase()+el][fi] *= 0.01
			}
		}
	} else {
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

// diagS builds a ports x ports S matrix with the given diagonal
func diagS(ports int, gamma complex128) [][]complex128 {
	s := make([][]complex128, ports)
	for i := range s {
		s[i] = make([]complex128, ports)
		s[i][i] = gamma
	}
	return s
}

// throughPairsS connects consecutive port pairs (0,1), (2,3), ... with
// perfect throughs
func throughPairsS(ports int) [][]complex128 {
	s := make([][]complex128, ports)
	for i := range s {
		s[i] = make([]complex128, ports)
	}
	for p := 0; p+1 < ports; p += 2 {
		s[p][p+1] = 1
		s[p+1][p] = 1
	}
	return s
}

// synthStandard synthesizes the per-cell measurement vectors of a standard
func synthStandard(t *testing.T, l Layout, terms [][]complex128, s [][]complex128) [][][]complex128 {
	t.Helper()
	nFreq := len(terms[0])
	out := make([][][]complex128, l.MRows)
	for i := range out {
		out[i] = make([][]complex128, l.MColumns)
		for j := range out[i] {
			out[i][j] = make([]complex128, nFreq)
		}
	}
	tv := make([]complex128, len(terms))
	for fi := 0; fi < nFreq; fi++ {
		for ti := range terms {
			tv[ti] = terms[ti][fi]
		}
		m, err := SynthesizeMeasurement(l, tv, s)
		require.NoError(t, err)
		for i := 0; i < l.MRows; i++ {
			for j := 0; j < l.MColumns; j++ {
				out[i][j][fi] = m[i][j]
			}
		}
	}
	return out
}

// pairThroughS builds the S matrix of a perfect through between ports p1
// and p2, all other ports terminated
func pairThroughS(ports, p1, p2 int) [][]complex128 {
	s := make([][]complex128, ports)
	for i := range s {
		s[i] = make([]complex128, ports)
	}
	s[p1][p2] = 1
	s[p2][p1] = 1
	return s
}

// addSOLT adds short, open and match on every port plus a through between
// every port pair, with the measurements synthesized from the given term
// table.
func addSOLT(t *testing.T, b *Builder, terms [][]complex128) {
	t.Helper()
	l := b.Layout()
	ports := l.Ports
	for _, std := range []struct {
		gamma complex128
		h     Handle
	}{
		{-1, HandleShort},
		{1, HandleOpen},
		{0, HandleMatch},
	} {
		m := synthStandard(t, l, terms, diagS(ports, std.gamma))
		if ports == 1 {
			require.NoError(t, b.AddSingleReflect(m, std.h, 0))
		} else {
			s := make([][]Handle, ports)
			for i := range s {
				s[i] = make([]Handle, ports)
				for j := range s[i] {
					s[i][j] = HandleMatch
				}
				s[i][i] = std.h
			}
			require.NoError(t, b.AddStandard(m, s, nil))
		}
	}
	for p1 := 0; p1 < ports; p1++ {
		for p2 := p1 + 1; p2 < ports; p2++ {
			m := synthStandard(t, l, terms, pairThroughS(ports, p1, p2))
			require.NoError(t, b.AddThrough(m, p1, p2))
		}
	}
}

func solveSOLT(t *testing.T, typ types.CalType, rows, cols int, seed int64) (*Builder, [][]complex128) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	reg := NewRegistry()
	b, err := reg.NewBuilder(typ, rows, cols)
	require.NoError(t, err)
	require.NoError(t, b.SetFrequencyVector([]float64{1e9, 2e9}))
	terms := randomTerms(rng, b.Layout(), 2)
	addSOLT(t, b, terms)
	require.NoError(t, b.Solve())
	return b, terms
}

// Scenario A: SOLT 2x2 with T8 recovers the synthetic error terms to within
// 1e-9 per term.
func TestSolveSOLT2x2T8(t *testing.T) {
	b, terms := solveSOLT(t, types.CalT8, 2, 2, 1)
	worst, err := b.ValidateCalibration(terms)
	require.NoError(t, err)
	assert.Less(t, worst, 1e-9)
}

// Property 3: SOLT recovers the error terms for every non-16-term type: T8,
// U8 and E12 at square dimensions 1..4, TE10, UE10 and UE14 at 2x2 and 3x3,
// and the rectangular shapes T8 1x2 and U8 2x1.
func TestSolveSOLTAllTypes(t *testing.T) {
	cases := []struct {
		typ        types.CalType
		rows, cols int
	}{
		{types.CalT8, 1, 1}, {types.CalT8, 2, 2}, {types.CalT8, 3, 3}, {types.CalT8, 4, 4},
		{types.CalU8, 1, 1}, {types.CalU8, 2, 2}, {types.CalU8, 3, 3}, {types.CalU8, 4, 4},
		{types.CalTE10, 2, 2}, {types.CalTE10, 3, 3},
		{types.CalUE10, 2, 2}, {types.CalUE10, 3, 3},
		{types.CalUE14, 2, 2}, {types.CalUE14, 3, 3},
		{types.CalE12, 1, 1}, {types.CalE12, 2, 2}, {types.CalE12, 3, 3}, {types.CalE12, 4, 4},
		{types.CalT8, 1, 2},
		{types.CalU8, 2, 1},
	}
	for i, tc := range cases {
		t.Run(fmt.Sprintf("%s_%dx%d", tc.typ, tc.rows, tc.cols), func(t *testing.T) {
			b, terms := solveSOLT(t, tc.typ, tc.rows, tc.cols, int64(100+i))
			worst, err := b.ValidateCalibration(terms)
			require.NoError(t, err)
			assert.Less(t, worst, 1e-8, "%s %dx%d", tc.typ, tc.rows, tc.cols)
		})
	}
}

// The 16-term forms keep leakage inside the linear system and need five
// independent standards.
func TestSolve16Term(t *testing.T) {
	for _, typ := range []types.CalType{types.CalT16, types.CalU16} {
		t.Run(string(typ), func(t *testing.T) {
			rng := rand.New(rand.NewSource(7))
			reg := NewRegistry()
			b, err := reg.NewBuilder(typ, 2, 2)
			require.NoError(t, err)
			require.NoError(t, b.SetFrequencyVector([]float64{1e9}))
			terms := randomTerms(rng, b.Layout(), 1)

			// Three double reflects with distinct known reflections.
			for k := 0; k < 3; k++ {
				g1 := 0.8 * drawTerm(rng)
				g2 := 0.8 * drawTerm(rng)
				h1, _ := reg.MakeScalarParameter(g1)
				h2, _ := reg.MakeScalarParameter(g2)
				s := [][]complex128{{g1, 0}, {0, g2}}
				m := synthStandard(t, b.Layout(), terms, s)
				require.NoError(t, b.AddDoubleReflect(m, h1, h2, 0, 1))
			}
			// A through and two fully known random two-ports.
			m := synthStandard(t, b.Layout(), terms, throughPairsS(2))
			require.NoError(t, b.AddThrough(m, 0, 1))

			for k := 0; k < 2; k++ {
				sv := [][]complex128{
					{0.3 * drawTerm(rng), drawTerm(rng)},
					{drawTerm(rng), 0.3 * drawTerm(rng)},
				}
				hs := make([]Handle, 4)
				for i := range hs {
					hs[i], _ = reg.MakeScalarParameter(sv[i/2][i%2])
				}
				m = synthStandard(t, b.Layout(), terms, sv)
				require.NoError(t, b.AddLine(m, hs, 0, 1))
			}

			require.NoError(t, b.Solve())
			worst, err := b.ValidateCalibration(terms)
			require.NoError(t, err)
			assert.Less(t, worst, 1e-8)
		})
	}
}

// Scenario B / property 2: TRL with an unknown reflect and an unknown line
// converges to the true values from guesses inside the basin of attraction.
func TestSolveTRL(t *testing.T) {
	for _, typ := range []types.CalType{types.CalT8, types.CalU8, types.CalTE10, types.CalUE10} {
		t.Run(string(typ), func(t *testing.T) {
			rng := rand.New(rand.NewSource(21))
			reg := NewRegistry()
			b, err := reg.NewBuilder(typ, 2, 2)
			require.NoError(t, err)
			require.NoError(t, b.SetFrequencyVector([]float64{1e9, 2e9}))
			terms := randomTerms(rng, b.Layout(), 2)

			rActual := complex(-0.95, 0.12)
			lActual := complex(0.02, 0.98) // phase near 90 degrees

			// Through.
			m := synthStandard(t, b.Layout(), terms, throughPairsS(2))
			require.NoError(t, b.AddThrough(m, 0, 1))

			// Unknown reflect, same physical standard on both ports.
			rGuess, _ := reg.MakeScalarParameter(-1)
			rU, err := reg.MakeUnknownParameter(rGuess)
			require.NoError(t, err)
			m = synthStandard(t, b.Layout(), terms, diagS(2, rActual))
			require.NoError(t, b.AddDoubleReflect(m, rU, rU, 0, 1))

			// Unknown matched line.
			lGuess, _ := reg.MakeScalarParameter(1i)
			lU, err := reg.MakeUnknownParameter(lGuess)
			require.NoError(t, err)
			sLine := [][]complex128{{0, lActual}, {lActual, 0}}
			m = synthStandard(t, b.Layout(), terms, sLine)
			require.NoError(t, b.AddLine(m, []Handle{HandleZero, lU, lU, HandleZero}, 0, 1))

			require.NoError(t, b.Solve())

			rSolved, err := reg.ParameterValue(rU, 1e9)
			require.NoError(t, err)
			lSolved, err := reg.ParameterValue(lU, 1e9)
			require.NoError(t, err)
			assert.Less(t, cmplx.Abs(rSolved-rActual), 1e-6, "reflect")
			assert.Less(t, cmplx.Abs(lSolved-lActual), 1e-6, "line")

			worst, err := b.ValidateCalibration(terms)
			require.NoError(t, err)
			assert.Less(t, worst, 1e-6)
		})
	}
}

// A correlated parameter pulls the solution toward its reference without
// fixing it exactly.
func TestSolveCorrelatedReflect(t *testing.T) {
	rng := rand.New(rand.NewSource(33))
	reg := NewRegistry()
	b, err := reg.NewBuilder(types.CalT8, 2, 2)
	require.NoError(t, err)
	require.NoError(t, b.SetFrequencyVector([]float64{1e9}))
	terms := randomTerms(rng, b.Layout(), 1)

	// The reference agrees with the actual reflect, so the regularised
	// minimum coincides with the exact fit.
	rActual := complex(-0.93, 0.05)
	ref, _ := reg.MakeScalarParameter(rActual)
	corr, err := reg.MakeCorrelatedParameter(ref, SigmaScalar(0.1))
	require.NoError(t, err)

	m := synthStandard(t, b.Layout(), terms, throughPairsS(2))
	require.NoError(t, b.AddThrough(m, 0, 1))
	m = synthStandard(t, b.Layout(), terms, diagS(2, rActual))
	require.NoError(t, b.AddDoubleReflect(m, corr, corr, 0, 1))
	m = synthStandard(t, b.Layout(), terms, diagS(2, 0))
	require.NoError(t, b.AddDoubleReflect(m, HandleMatch, HandleMatch, 0, 1))
	sLine := [][]complex128{{0, 0.97i}, {0.97i, 0}}
	h, _ := reg.MakeScalarParameter(0.97i)
	m = synthStandard(t, b.Layout(), terms, sLine)
	require.NoError(t, b.AddLine(m, []Handle{HandleZero, h, h, HandleZero}, 0, 1))

	require.NoError(t, b.Solve())
	v, err := reg.ParameterValue(corr, 1e9)
	require.NoError(t, err)
	assert.Less(t, cmplx.Abs(v-rActual), 1e-6)
	worst, err := b.ValidateCalibration(terms)
	require.NoError(t, err)
	assert.Less(t, worst, 1e-6)
}

// An under-determined calibration is reported as a math error.
func TestSolveUnderdetermined(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	reg := NewRegistry()
	b, err := reg.NewBuilder(types.CalT8, 2, 2)
	require.NoError(t, err)
	require.NoError(t, b.SetFrequencyVector([]float64{1e9}))
	terms := randomTerms(rng, b.Layout(), 1)
	m := synthStandard(t, b.Layout(), terms, diagS(2, -1))
	require.NoError(t, b.AddDoubleReflect(m, HandleShort, HandleShort, 0, 1))
	err = b.Solve()
	assert.True(t, types.IsErrorType(err, types.ErrMath), "got %v", err)
}

func TestSolveRequiresFrequencies(t *testing.T) {
	reg := NewRegistry()
	b, _ := reg.NewBuilder(types.CalT8, 2, 2)
	err := b.Solve()
	assert.True(t, types.IsErrorType(err, types.ErrUsage))
}

// Solving with a measurement-error model on clean data keeps the solution
// and passes the residual checks.
func TestSolveWithMeasurementError(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	reg := NewRegistry()
	b, err := reg.NewBuilder(types.CalT8, 2, 2)
	require.NoError(t, err)
	require.NoError(t, b.SetFrequencyVector([]float64{1e9, 2e9}))
	require.NoError(t, b.SetMError([]float64{1e-5, 1e-5}, []float64{1e-5, 1e-5}))
	require.NoError(t, b.SetPValueLimit(0.001))
	terms := randomTerms(rng, b.Layout(), 2)
	addSOLT(t, b, terms)
	require.NoError(t, b.Solve())
	worst, err := b.ValidateCalibration(terms)
	require.NoError(t, err)
	assert.Less(t, worst, 1e-8)
}
