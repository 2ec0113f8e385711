// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.

package calio

import (
	"bytes"
	"math/rand"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitjungle/vnacal/internal/core"
	"github.com/bitjungle/vnacal/pkg/types"
)

func randomCalibration(t *testing.T, name string, typ types.CalType, seed int64) *core.Calibration {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	l, err := core.NewLayout(typ, 2, 2)
	require.NoError(t, err)
	freqs := []float64{1e9, 1.5e9, 2e9}
	terms := make([][]complex128, l.StoredTerms())
	for ti := range terms {
		terms[ti] = make([]complex128, len(freqs))
		for fi := range terms[ti] {
			terms[ti][fi] = complex(rng.NormFloat64(), rng.NormFloat64())
		}
	}
	cal, err := core.NewCalibrationFromData(name, typ, 2, 2, freqs,
		[]complex128{50, 50 + 0.5i}, terms)
	require.NoError(t, err)
	return cal
}

// Property 8: a saved calibration reloads with bit-identical error terms.
func TestSaveLoadRoundTrip(t *testing.T) {
	reg := core.NewRegistry()
	for i, typ := range []types.CalType{types.CalT8, types.CalUE14, types.CalE12} {
		_, err := reg.StoreCalibration(randomCalibration(t, string(typ), typ, int64(i+1)))
		require.NoError(t, err)
	}

	var buf bytes.Buffer
	require.NoError(t, Save(reg, &buf))

	reg2 := core.NewRegistry()
	indices, err := Load(reg2, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Len(t, indices, 3)

	for _, ci := range indices {
		got, err := reg2.Calibration(ci)
		require.NoError(t, err)
		orig, err := reg.Calibration(reg.FindCalibration(got.Name()))
		require.NoError(t, err)

		assert.Equal(t, orig.Type(), got.Type())
		assert.Equal(t, orig.FrequencyVector(), got.FrequencyVector())
		assert.Equal(t, orig.Z0(), got.Z0())
		require.Equal(t, orig.TermCount(), got.TermCount())
		for ti := 0; ti < orig.TermCount(); ti++ {
			want, _ := orig.Term(ti)
			have, _ := got.Term(ti)
			assert.Equal(t, want, have, "%s term %d", got.Name(), ti)
		}
	}
}

func TestSaveLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "set.vnacal")

	reg := core.NewRegistry()
	_, err := reg.StoreCalibration(randomCalibration(t, "bench", types.CalT8, 9))
	require.NoError(t, err)
	require.NoError(t, SaveFile(reg, path))

	reg2 := core.NewRegistry()
	indices, err := LoadFile(reg2, path)
	require.NoError(t, err)
	require.Len(t, indices, 1)
	cal, err := reg2.Calibration(indices[0])
	require.NoError(t, err)
	assert.Equal(t, "bench", cal.Name())
}

func TestLoadRejectsBadVersion(t *testing.T) {
	doc := "version: \"9.9\"\ncalibrations: []\n"
	reg := core.NewRegistry()
	_, err := Load(reg, strings.NewReader(doc))
	assert.True(t, types.IsErrorType(err, types.ErrVersion), "got %v", err)
}

func TestLoadRejectsMalformed(t *testing.T) {
	reg := core.NewRegistry()
	_, err := Load(reg, strings.NewReader("{not yaml: ["))
	assert.True(t, types.IsErrorType(err, types.ErrSyntax), "got %v", err)

	// Structurally valid YAML with an impossible term count.
	doc := `version: "1.0"
calibrations:
  - name: broken
    type: T8
    rows: 2
    columns: 2
    z0: ["(50+0i)", "(50+0i)"]
    frequencies: [1e9]
    terms:
      - name: ts11
        values: ["(1+0i)"]
`
	_, err = Load(reg, strings.NewReader(doc))
	assert.True(t, types.IsErrorType(err, types.ErrSyntax), "got %v", err)

	// Unparseable complex value.
	doc2 := strings.Replace(doc, "\"(1+0i)\"", "\"fish\"", 1)
	_, err = Load(reg, strings.NewReader(doc2))
	assert.True(t, types.IsErrorType(err, types.ErrSyntax), "got %v", err)
}

func TestLoadReplacesByName(t *testing.T) {
	reg := core.NewRegistry()
	_, err := reg.StoreCalibration(randomCalibration(t, "cal", types.CalT8, 4))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Save(reg, &buf))

	// Loading into the same registry overwrites the same slot.
	indices, err := Load(reg, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Len(t, indices, 1)
	assert.Equal(t, 0, indices[0])
	assert.Len(t, reg.Calibrations(), 1)
}
