// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.

package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitjungle/vnacal/pkg/types"
)

func twoPortBuilder(t *testing.T, typ types.CalType) (*Registry, *Builder) {
	t.Helper()
	reg := NewRegistry()
	b, err := reg.NewBuilder(typ, 2, 2)
	require.NoError(t, err)
	require.NoError(t, b.SetFrequencyVector([]float64{1e9}))
	return reg, b
}

func constMeasurement(rows, cols int, v complex128) [][][]complex128 {
	m := make([][][]complex128, rows)
	for i := range m {
		m[i] = make([][]complex128, cols)
		for j := range m[i] {
			m[i][j] = []complex128{v}
		}
	}
	return m
}

// A reflect standard has no off-diagonal signal path; a through reaches both
// directions and, through composition, each port back to itself.
func TestReachability(t *testing.T) {
	_, b := twoPortBuilder(t, types.CalT8)
	require.NoError(t, b.AddDoubleReflect(constMeasurement(2, 2, 0.5), HandleShort, HandleShort, 0, 1))
	require.NoError(t, b.AddThrough(constMeasurement(2, 2, 0.5), 0, 1))

	reflect := b.standards[0]
	assert.True(t, reflect.reach[0][0])
	assert.True(t, reflect.reach[1][1])
	assert.False(t, reflect.reach[0][1])
	assert.False(t, reflect.reach[1][0])

	thru := b.standards[1]
	assert.True(t, thru.reach[0][1])
	assert.True(t, thru.reach[1][0])
	// Round trips through the other port close the diagonal.
	assert.True(t, thru.reach[0][0])
	assert.True(t, thru.reach[1][1])

	// A match standard reaches nothing.
	require.NoError(t, b.AddDoubleReflect(constMeasurement(2, 2, 0.01), HandleMatch, HandleMatch, 0, 1))
	match := b.standards[2]
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			assert.False(t, match.reach[i][j])
		}
	}
}

// Off-diagonal equations without a signal path are omitted from the linear
// system, and diagonal equations are always kept.
func TestBuildSystemsSkipsLeakageEquations(t *testing.T) {
	_, b := twoPortBuilder(t, types.CalT8)
	require.NoError(t, b.AddDoubleReflect(constMeasurement(2, 2, 0.5), HandleShort, HandleOpen, 0, 1))
	require.NoError(t, b.AddThrough(constMeasurement(2, 2, 0.5), 0, 1))

	systems := b.buildSystems(nil)
	require.Len(t, systems, 1)
	// Reflect: two diagonal equations. Through: all four cells.
	assert.Len(t, systems[0], 6)
}

// Scenario D / property 5: leakage terms store the arithmetic mean of the
// no-path measurements.
func TestLeakageMean(t *testing.T) {
	_, b := twoPortBuilder(t, types.CalTE10)
	for _, v := range []complex128{0.01, 0.02, 0.03} {
		m := constMeasurement(2, 2, 0)
		m[0][1] = []complex128{v}
		m[1][0] = []complex128{v * 2}
		require.NoError(t, b.AddDoubleReflect(m, HandleShort, HandleShort, 0, 1))
	}
	leak := newLeakageAccumulator(b.layout.ELTerms, 1)
	b.buildSystems(leak)

	means, err := leak.meansAt(0)
	require.NoError(t, err)
	assert.InDelta(t, 0.02, real(means[b.layout.ELIndex(0, 1)]), 1e-12)
	assert.InDelta(t, 0.04, real(means[b.layout.ELIndex(1, 0)]), 1e-12)
	assert.Equal(t, 3, leak.count(0))

	// Empirical variance of {0.01, 0.02, 0.03} is 1e-4.
	assert.InDelta(t, 1e-4, leak.variance(b.layout.ELIndex(0, 1), 0), 1e-12)
}

// A leakage term with no contributing standards fails the solve.
func TestLeakageMissingSamples(t *testing.T) {
	_, b := twoPortBuilder(t, types.CalTE10)
	m := constMeasurement(2, 2, 0.5)
	// The off-diagonal cells were never measured.
	m[0][1] = nil
	m[1][0] = nil
	require.NoError(t, b.AddDoubleReflect(m, HandleShort, HandleOpen, 0, 1))
	require.NoError(t, b.AddDoubleReflect(m, HandleOpen, HandleShort, 0, 1))
	require.NoError(t, b.AddDoubleReflect(m, HandleMatch, HandleMatch, 0, 1))
	// The reflects add no complete equation. The throughs reach both
	// off-diagonal cells, so their eight equations cover the seven unknown
	// terms but feed no leakage sample.
	require.NoError(t, b.AddThrough(constMeasurement(2, 2, 0.5), 0, 1))
	require.NoError(t, b.AddThrough(constMeasurement(2, 2, 0.3), 0, 1))
	err := b.Solve()
	assert.True(t, types.IsErrorType(err, types.ErrMath), "got %v", err)
	assert.ErrorContains(t, err, "leakage")
}

// The iterator transitions System -> Equation -> Term deterministically and
// EndEquations is idempotent.
func TestEquationIterator(t *testing.T) {
	_, b := twoPortBuilder(t, types.CalT8)
	require.NoError(t, b.AddThrough(constMeasurement(2, 2, 0.5), 0, 1))
	systems := b.buildSystems(nil)

	it := newEqIterator(systems)
	assert.Equal(t, iterInit, it.state)
	// NextEquation before NextSystem is rejected.
	assert.False(t, it.NextEquation())

	require.True(t, it.NextSystem())
	assert.Equal(t, iterSystem, it.state)

	nEq := 0
	for it.NextEquation() {
		nEq++
		nTerms := 0
		for it.NextTerm() {
			nTerms++
			tm := it.Term()
			assert.GreaterOrEqual(t, tm.local, 0)
		}
		assert.Equal(t, iterEndTerms, it.state)
		// T8 equations carry ts, tx (two summands), tm and possibly ti.
		assert.GreaterOrEqual(t, nTerms, 4)
	}
	assert.Equal(t, 4, nEq)
	assert.Equal(t, iterEndEquations, it.state)
	// Idempotent once exhausted.
	assert.False(t, it.NextEquation())
	assert.False(t, it.NextSystem())
}

// Advancing to the next equation is legal mid-term; the weight calculator
// relies on this freedom.
func TestEquationIteratorMidTermAdvance(t *testing.T) {
	_, b := twoPortBuilder(t, types.CalT8)
	require.NoError(t, b.AddThrough(constMeasurement(2, 2, 0.5), 0, 1))
	systems := b.buildSystems(nil)

	it := newEqIterator(systems)
	require.True(t, it.NextSystem())
	require.True(t, it.NextEquation())
	require.True(t, it.NextTerm())
	require.True(t, it.NextEquation()) // abandon the remaining terms
	require.True(t, it.NextTerm())
	assert.Equal(t, iterTerm, it.state)
}

// Unknown parameters are collected in first-use order with stable indices.
func TestUnknownRegistration(t *testing.T) {
	reg, b := twoPortBuilder(t, types.CalT8)
	g, _ := reg.MakeScalarParameter(-1)
	u1, err := reg.MakeUnknownParameter(g)
	require.NoError(t, err)
	u2, err := reg.MakeUnknownParameter(g)
	require.NoError(t, err)

	require.NoError(t, b.AddDoubleReflect(constMeasurement(2, 2, 0.5), u1, u1, 0, 1))
	require.NoError(t, b.AddDoubleReflect(constMeasurement(2, 2, 0.5), u2, u1, 0, 1))

	assert.Len(t, b.unknowns, 2)
	assert.Equal(t, 0, b.unknownIdx[u1])
	assert.Equal(t, 1, b.unknownIdx[u2])
}

func TestAddStandardValidation(t *testing.T) {
	_, b := twoPortBuilder(t, types.CalT8)
	// Wrong dimensions.
	err := b.AddThrough(constMeasurement(1, 2, 0.5), 0, 1)
	assert.True(t, types.IsErrorType(err, types.ErrUsage))
	// Wrong sample count.
	m := constMeasurement(2, 2, 0.5)
	m[0][0] = []complex128{1, 2}
	err = b.AddThrough(m, 0, 1)
	assert.True(t, types.IsErrorType(err, types.ErrUsage))
	// Invalid handle.
	err = b.AddSingleReflect(constMeasurement(2, 2, 0.5), Handle(99), 0)
	assert.True(t, types.IsErrorType(err, types.ErrUsage))
	// Invalid port.
	err = b.AddSingleReflect(constMeasurement(2, 2, 0.5), HandleShort, 5)
	assert.True(t, types.IsErrorType(err, types.ErrUsage))
}

func TestFrequencyVectorRules(t *testing.T) {
	reg := NewRegistry()
	b, _ := reg.NewBuilder(types.CalT8, 2, 2)
	// Standards before the frequency grid are rejected.
	err := b.AddThrough(constMeasurement(2, 2, 0.5), 0, 1)
	assert.True(t, types.IsErrorType(err, types.ErrUsage))

	require.NoError(t, b.SetFrequencyVector([]float64{1e9, 2e9}))
	// The grid cannot be changed once set.
	err = b.SetFrequencyVector([]float64{1e9})
	assert.True(t, types.IsErrorType(err, types.ErrUsage))

	b2, _ := reg.NewBuilder(types.CalT8, 2, 2)
	err = b2.SetFrequencyVector([]float64{2e9, 1e9})
	assert.True(t, types.IsErrorType(err, types.ErrUsage))
}
