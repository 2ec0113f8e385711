// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.

package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalTypeValidity(t *testing.T) {
	for _, typ := range []CalType{CalT8, CalU8, CalTE10, CalUE10, CalUE14, CalT16, CalU16, CalE12} {
		assert.True(t, typ.Valid(), "%s", typ)
	}
	assert.False(t, CalType("T12").Valid())

	typ, err := ParseCalType("UE14")
	require.NoError(t, err)
	assert.Equal(t, CalUE14, typ)
	_, err = ParseCalType("bogus")
	assert.True(t, IsErrorType(err, ErrUsage))
}

func TestCalTypeDimensionRules(t *testing.T) {
	assert.NoError(t, CalT8.CheckDimensions(1, 2))
	assert.Error(t, CalT8.CheckDimensions(2, 1))
	assert.NoError(t, CalU8.CheckDimensions(2, 1))
	assert.Error(t, CalU8.CheckDimensions(1, 2))
	assert.Error(t, CalT16.CheckDimensions(2, 3))
	assert.Error(t, CalE12.CheckDimensions(0, 1))
	assert.Equal(t, 4, CalT8.Ports(2, 4))
}

func TestCalErrorWrapping(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := NewSystemError("writing calibration", cause)
	assert.Contains(t, err.Error(), "system error")
	assert.Contains(t, err.Error(), "disk full")
	assert.True(t, errors.Is(err, cause))
	assert.True(t, IsErrorType(err, ErrSystem))
	assert.False(t, IsErrorType(err, ErrMath))
	assert.False(t, IsErrorType(fmt.Errorf("plain"), ErrUsage))
}

func TestNetworkDataContainer(t *testing.T) {
	var nd NetworkData
	require.NoError(t, nd.Init(ParamS, 2, 2, 3))
	assert.Error(t, nd.Init(ParamS, 0, 2, 3))

	require.NoError(t, nd.Init(ParamS, 2, 2, 3))
	require.NoError(t, nd.SetFrequency(1, 2e9))
	assert.Error(t, nd.SetFrequency(3, 1e9))

	require.NoError(t, nd.SetCell(1, 0, 1, 0.5i))
	assert.Equal(t, 0.5i, nd.Data[1][0][1])
	assert.Error(t, nd.SetCell(1, 2, 0, 1))

	require.NoError(t, nd.SetZ0Vector([]complex128{50, 75}))
	assert.Equal(t, []complex128{50, 75}, nd.Z0)

	require.NoError(t, nd.SetFZ0Vector(0, []complex128{50, 50}))
	assert.Equal(t, []complex128{50, 50}, nd.PerFZ0[0])
	assert.Error(t, nd.SetFZ0Vector(9, []complex128{50}))
}
