// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.

package core

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitjungle/vnacal/pkg/types"
)

func TestSetMErrorValidation(t *testing.T) {
	reg := NewRegistry()
	b, _ := reg.NewBuilder(types.CalT8, 2, 2)

	// Frequency grid must come first.
	err := b.SetMError([]float64{1e-5}, nil)
	assert.True(t, types.IsErrorType(err, types.ErrUsage))

	require.NoError(t, b.SetFrequencyVector([]float64{1e9, 2e9}))
	err = b.SetMError([]float64{1e-5}, nil)
	assert.True(t, types.IsErrorType(err, types.ErrUsage))
	err = b.SetMError([]float64{1e-5, 0}, nil)
	assert.True(t, types.IsErrorType(err, types.ErrUsage))
	err = b.SetMError([]float64{1e-5, 1e-5}, []float64{1e-6})
	assert.True(t, types.IsErrorType(err, types.ErrUsage))
	require.NoError(t, b.SetMError([]float64{1e-5, 1e-5}, nil))
	assert.Equal(t, []float64{0, 0}, b.mTracking)
}

func TestSetPValueLimitValidation(t *testing.T) {
	reg := NewRegistry()
	b, _ := reg.NewBuilder(types.CalT8, 2, 2)
	assert.Error(t, b.SetPValueLimit(0))
	assert.Error(t, b.SetPValueLimit(1.5))
	assert.NoError(t, b.SetPValueLimit(0.05))
	assert.Error(t, b.SetResidualLimit(-1))
	assert.NoError(t, b.SetResidualLimit(4))
}

func TestBuilderZ0(t *testing.T) {
	reg := NewRegistry()
	b, _ := reg.NewBuilder(types.CalT8, 2, 2)
	assert.Equal(t, []complex128{50, 50}, b.z0)
	b.SetZ0(75)
	assert.Equal(t, []complex128{75, 75}, b.z0)
	require.NoError(t, b.SetZ0Vector([]complex128{50, 50 + 1i}))
	assert.Error(t, b.SetZ0Vector([]complex128{50}))
}

// Standards hold their parameters; freeing the builder releases them so a
// deferred delete can complete.
func TestBuilderFreeReleasesParameters(t *testing.T) {
	reg := NewRegistry()
	b, _ := reg.NewBuilder(types.CalT8, 2, 2)
	require.NoError(t, b.SetFrequencyVector([]float64{1e9}))

	h, _ := reg.MakeScalarParameter(-0.9)
	require.NoError(t, b.AddSingleReflect(constMeasurement(2, 2, 0.5), h, 0))

	// Deleting while the standard holds the parameter defers the release.
	require.NoError(t, reg.DeleteParameter(h))
	_, err := reg.ParameterValue(h, 1e9)
	require.NoError(t, err)

	b.Free()
	_, err = reg.ParameterValue(h, 1e9)
	assert.True(t, types.IsErrorType(err, types.ErrUsage))

	// Freed builders reject further use.
	err = b.AddSingleReflect(constMeasurement(2, 2, 0.5), HandleShort, 0)
	assert.True(t, types.IsErrorType(err, types.ErrUsage))
	err = b.Solve()
	assert.True(t, types.IsErrorType(err, types.ErrUsage))
}

func TestRegistryCloseReleasesBuilders(t *testing.T) {
	reg := NewRegistry()
	b, _ := reg.NewBuilder(types.CalT8, 2, 2)
	require.NoError(t, b.SetFrequencyVector([]float64{1e9}))
	require.NoError(t, b.AddSingleReflect(constMeasurement(2, 2, 0.5), HandleShort, 0))
	reg.Close()
	assert.True(t, b.freed)
}

// Unmeasured cells are skipped rather than treated as zeros: a reflect
// standard measured only in one column still contributes the reflection
// equation of that column in the U-forms, where an equation references one M
// column.
func TestSparseMeasurementsU8(t *testing.T) {
	rng := rand.New(rand.NewSource(15))
	reg := NewRegistry()
	b, err := reg.NewBuilder(types.CalU8, 2, 2)
	require.NoError(t, err)
	require.NoError(t, b.SetFrequencyVector([]float64{1e9}))
	terms := randomTerms(rng, b.Layout(), 1)

	// Full SOLT first, then blank out column 0 of an extra redundant short
	// standard; the solve still succeeds and stays exact.
	addSOLT(t, b, terms)
	m := synthStandard(t, b.Layout(), terms, diagS(2, -1))
	m[0][0] = nil
	m[1][0] = nil // column 0 unmeasured: its equations drop out
	require.NoError(t, b.AddDoubleReflect(m, HandleShort, HandleShort, 0, 1))

	require.NoError(t, b.Solve())
	worst, err := b.ValidateCalibration(terms)
	require.NoError(t, err)
	assert.Less(t, worst, 1e-8)
}

func TestBuilderLayoutAccessors(t *testing.T) {
	reg := NewRegistry()
	b, _ := reg.NewBuilder(types.CalUE14, 2, 2)
	assert.Equal(t, types.CalUE14, b.Layout().Type)
	assert.Nil(t, b.Frequencies())
	require.NoError(t, b.SetFrequencyVector([]float64{1e9}))
	assert.Equal(t, []float64{1e9}, b.Frequencies())
}
