// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.
// The author respectfully requests that it not be used for
// military, warfare, or surveillance applications.

package core

import (
	"gopkg.in/yaml.v3"

	"github.com/bitjungle/vnacal/pkg/types"
)

// Calibration is a solved, immutable set of error terms: the model type, the
// measurement dimensions, the frequency grid it was solved on, the per-port
// reference impedances, and one complex vector per error term. Calibrations
// are created by Builder.Solve and owned by the registry's store.
type Calibration struct {
	name   string
	layout Layout
	freqs  []float64
	z0     []complex128
	// terms[t][fi] holds error term t at frequency index fi
	terms [][]complex128
	// hints carry the per-term interpolation segments across apply sweeps
	hints []int
	// props is the optional property tree attached by the caller
	props *yaml.Node
}

// Name returns the name under which the calibration is stored
func (c *Calibration) Name() string { return c.name }

// Type returns the error-term model
func (c *Calibration) Type() types.CalType { return c.layout.Type }

// Rows returns the measurement row count
func (c *Calibration) Rows() int { return c.layout.MRows }

// Columns returns the measurement column count
func (c *Calibration) Columns() int { return c.layout.MColumns }

// Frequencies returns the number of frequency points
func (c *Calibration) Frequencies() int { return len(c.freqs) }

// FMin returns the lowest calibration frequency
func (c *Calibration) FMin() float64 { return c.freqs[0] }

// FMax returns the highest calibration frequency
func (c *Calibration) FMax() float64 { return c.freqs[len(c.freqs)-1] }

// FrequencyVector returns a copy of the calibration frequency grid
func (c *Calibration) FrequencyVector() []float64 {
	return append([]float64(nil), c.freqs...)
}

// Z0 returns a copy of the per-port reference impedances
func (c *Calibration) Z0() []complex128 {
	return append([]complex128(nil), c.z0...)
}

// TermCount returns the number of stored error terms
func (c *Calibration) TermCount() int { return len(c.terms) }

// Term returns a copy of error term t across frequency
func (c *Calibration) Term(t int) ([]complex128, error) {
	if t < 0 || t >= len(c.terms) {
		return nil, types.NewUsageError("error term %d out of range [0, %d)", t, len(c.terms))
	}
	return append([]complex128(nil), c.terms[t]...), nil
}

// Layout returns the calibration's layout descriptor
func (c *Calibration) Layout() Layout { return c.layout }

// Properties returns the calibration's property tree, or nil
func (c *Calibration) Properties() *yaml.Node { return c.props }

// SetProperties attaches a property tree to the calibration
func (c *Calibration) SetProperties(n *yaml.Node) { c.props = n }

// NewCalibrationFromData builds a calibration from externally supplied data,
// validating the term count against the layout. It is used by the file
// loader; solver-produced calibrations come from Builder.Solve.
func NewCalibrationFromData(name string, t types.CalType, mRows, mColumns int, freqs []float64, z0 []complex128, terms [][]complex128) (*Calibration, error) {
	layout, err := NewLayout(t, mRows, mColumns)
	if err != nil {
		return nil, err
	}
	if len(freqs) < 1 {
		return nil, types.NewUsageError("calibration needs at least one frequency")
	}
	if len(z0) != layout.Ports {
		return nil, types.NewUsageError("z0 vector needs %d entries, got %d", layout.Ports, len(z0))
	}
	if len(terms) != layout.StoredTerms() {
		return nil, types.NewUsageError("%s %dx%d needs %d terms, got %d", t, mRows, mColumns, layout.StoredTerms(), len(terms))
	}
	for ti, tvec := range terms {
		if len(tvec) != len(freqs) {
			return nil, types.NewUsageError("term %d needs %d samples, got %d", ti, len(freqs), len(tvec))
		}
	}
	cal := &Calibration{
		name:   name,
		layout: layout,
		freqs:  append([]float64(nil), freqs...),
		z0:     append([]complex128(nil), z0...),
		terms:  make([][]complex128, len(terms)),
		hints:  make([]int, len(terms)),
	}
	for ti := range terms {
		cal.terms[ti] = append([]complex128(nil), terms[ti]...)
	}
	return cal, nil
}

// StoreCalibration places an externally constructed calibration in the
// store, replacing any calibration with the same name.
func (r *Registry) StoreCalibration(cal *Calibration) (int, error) {
	if cal == nil || cal.name == "" {
		return -1, types.NewUsageError("calibration must be non-nil and named")
	}
	return r.storeCalibration(cal), nil
}

// AddCalibration transfers the builder's solved calibration into the store
// under name, replacing any calibration stored under the same name, and
// returns the store index.
func (r *Registry) AddCalibration(name string, b *Builder) (int, error) {
	if name == "" {
		return -1, types.NewUsageError("calibration name must not be empty")
	}
	if b == nil || b.solved == nil {
		return -1, types.NewUsageError("builder has no solved calibration")
	}
	cal := b.solved
	b.solved = nil
	cal.name = name
	return r.storeCalibration(cal), nil
}

// storeCalibration places cal in the store, replacing by name and reusing
// free slots.
func (r *Registry) storeCalibration(cal *Calibration) int {
	if ci := r.FindCalibration(cal.name); ci >= 0 {
		r.cals[ci] = cal
		return ci
	}
	for ci, slot := range r.cals {
		if slot == nil {
			r.cals[ci] = cal
			return ci
		}
	}
	r.cals = append(r.cals, cal)
	return len(r.cals) - 1
}

// FindCalibration returns the index of the calibration stored under name, or
// -1 when there is none.
func (r *Registry) FindCalibration(name string) int {
	for ci, cal := range r.cals {
		if cal != nil && cal.name == name {
			return ci
		}
	}
	return -1
}

// Calibration resolves a store index
func (r *Registry) Calibration(ci int) (*Calibration, error) {
	if ci < 0 || ci >= len(r.cals) || r.cals[ci] == nil {
		return nil, types.NewUsageError("invalid calibration index %d", ci)
	}
	return r.cals[ci], nil
}

// DeleteCalibration frees the store slot at ci; the slot is reusable
func (r *Registry) DeleteCalibration(ci int) error {
	if _, err := r.Calibration(ci); err != nil {
		return err
	}
	r.cals[ci] = nil
	return nil
}

// Calibrations lists the occupied store indices in order
func (r *Registry) Calibrations() []int {
	var out []int
	for ci, cal := range r.cals {
		if cal != nil {
			out = append(out, ci)
		}
	}
	return out
}
