// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.
// The author respectfully requests that it not be used for
// military, warfare, or surveillance applications.

package core

// Registry owns the pool of parameters and the store of named calibrations.
// All operations on a Registry and on objects derived from it must be
// serialised by the caller; distinct Registries are independent.
type Registry struct {
	params     []*parameter
	freeParams []Handle

	// cals is the index-addressable calibration store; nil entries are free
	cals []*Calibration

	// builders tracks outstanding measurement accumulators so Close can
	// release them with the registry
	builders map[*Builder]struct{}

	// cellTags maps parameter handles to their standard-cell provenance
	cellTags map[Handle]CellRef

	// margin is the fractional frequency-extrapolation tolerance
	margin float64
}

// NewRegistry creates an empty registry with the predefined parameters
// (match, open, short, zero) installed at their fixed handles.
func NewRegistry() *Registry {
	r := &Registry{
		builders: make(map[*Builder]struct{}),
		margin:   DefaultFrequencyMargin,
	}
	predefined := []*parameter{
		{kind: matchParam},
		{kind: scalarParam, gamma: 1},  // open
		{kind: scalarParam, gamma: -1}, // short
		{kind: zeroParam},
		{kind: scalarParam, gamma: 1}, // internal unit transmission
	}
	for _, p := range predefined {
		p.holds = 1 // predefined parameters are never freed
		r.allocParameter(p)
	}
	return r
}

// SetFrequencyMargin overrides the fractional extrapolation tolerance
func (r *Registry) SetFrequencyMargin(margin float64) {
	r.margin = margin
}

// Close releases every outstanding builder, all calibrations, and the
// parameter pool, in reverse-dependency order.
func (r *Registry) Close() {
	for b := range r.builders {
		b.free()
	}
	r.builders = nil
	r.cals = nil
	r.params = nil
	r.freeParams = nil
}
