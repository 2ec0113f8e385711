// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.
// The author respectfully requests that it not be used for
// military, warfare, or surveillance applications.

package core

import (
	"github.com/charmbracelet/log"

	"github.com/bitjungle/vnacal/pkg/types"
)

// Default iteration bounds of the iterative solver.
const (
	// DefaultIterationLimit bounds the outer Gauss-Newton iterations
	DefaultIterationLimit = 50
	// DefaultBacktrackLimit bounds the line-search halvings per basin
	DefaultBacktrackLimit = 6
	// DefaultResidualSigmaLimit rejects a solution whose weighted RMS
	// residual exceeds this many standard deviations
	DefaultResidualSigmaLimit = 6.0
)

// Builder accumulates measurements of calibration standards and solves them
// into a Calibration. It is created from a Registry with NewBuilder and holds
// handles into that registry for the standards it references.
type Builder struct {
	reg    *Registry
	layout Layout

	freqs []float64
	z0    []complex128

	standards []*Standard

	// unknowns lists the unknown and correlated parameters appearing in any
	// standard, in first-use order; their index is the position in the
	// solver's p vector
	unknowns   []*unknownEntry
	unknownIdx map[Handle]int

	// measurement-error model, per frequency; enables the iterative path
	mNoise    []float64
	mTracking []float64

	pvalueLimit        float64
	residualSigmaLimit float64
	iterationLimit     int
	backtrackLimit     int

	logger *log.Logger

	solved *Calibration
	freed  bool
}

type unknownEntry struct {
	handle     Handle
	correlated bool
	other      Handle
	// otherIdx is the p-vector index of the referenced parameter when it is
	// itself unknown; -1 otherwise. Resolved at solve time.
	otherIdx int
	sigma    *Sigma
}

// NewBuilder starts a new calibration of the given error-term model and
// measurement dimensions.
func (r *Registry) NewBuilder(t types.CalType, mRows, mColumns int) (*Builder, error) {
	layout, err := NewLayout(t, mRows, mColumns)
	if err != nil {
		return nil, err
	}
	b := &Builder{
		reg:                r,
		layout:             layout,
		z0:                 make([]complex128, layout.Ports),
		unknownIdx:         make(map[Handle]int),
		residualSigmaLimit: DefaultResidualSigmaLimit,
		iterationLimit:     DefaultIterationLimit,
		backtrackLimit:     DefaultBacktrackLimit,
	}
	for i := range b.z0 {
		b.z0[i] = 50
	}
	r.builders[b] = struct{}{}
	return b, nil
}

// Layout exposes the builder's error-term layout
func (b *Builder) Layout() Layout { return b.layout }

// Frequencies returns the builder's frequency grid (nil until set)
func (b *Builder) Frequencies() []float64 { return b.freqs }

// SetFrequencyVector stores the measurement frequency grid. The grid must be
// ascending and, once set, cannot be changed.
func (b *Builder) SetFrequencyVector(f []float64) error {
	if b.freqs != nil {
		return types.NewUsageError("frequency vector is already set")
	}
	if len(f) < 1 {
		return types.NewUsageError("frequency vector must not be empty")
	}
	for i := 1; i < len(f); i++ {
		if f[i] < f[i-1] {
			return types.NewUsageError("frequency vector must be ascending at index %d", i)
		}
	}
	b.freqs = append([]float64(nil), f...)
	return nil
}

// SetZ0 sets the same reference impedance on every port
func (b *Builder) SetZ0(z0 complex128) {
	for i := range b.z0 {
		b.z0[i] = z0
	}
}

// SetZ0Vector sets one reference impedance per port
func (b *Builder) SetZ0Vector(z0 []complex128) error {
	if len(z0) != b.layout.Ports {
		return types.NewUsageError("z0 vector needs %d entries, got %d", b.layout.Ports, len(z0))
	}
	copy(b.z0, z0)
	return nil
}

// SetMError supplies the per-frequency measurement-noise model. The noise
// vector gives the additive noise floor and tracking the gain-proportional
// part; setting it routes the solve through the iterative, weighted path.
func (b *Builder) SetMError(noise, tracking []float64) error {
	if b.freqs == nil {
		return types.NewUsageError("set the frequency vector before the measurement-error model")
	}
	if len(noise) != len(b.freqs) {
		return types.NewUsageError("noise vector needs %d entries, got %d", len(b.freqs), len(noise))
	}
	if tracking != nil && len(tracking) != len(b.freqs) {
		return types.NewUsageError("tracking vector needs %d entries, got %d", len(b.freqs), len(tracking))
	}
	for i, v := range noise {
		if v <= 0 {
			return types.NewUsageError("noise must be positive, got %g at index %d", v, i)
		}
	}
	b.mNoise = append([]float64(nil), noise...)
	if tracking != nil {
		b.mTracking = append([]float64(nil), tracking...)
	} else {
		b.mTracking = make([]float64, len(noise))
	}
	return nil
}

// SetPValueLimit sets the significance level below which the chi-squared
// goodness-of-fit test of a weighted solve rejects the calibration.
func (b *Builder) SetPValueLimit(alpha float64) error {
	if alpha <= 0 || alpha > 1 {
		return types.NewUsageError("p-value limit must be in (0, 1], got %g", alpha)
	}
	b.pvalueLimit = alpha
	return nil
}

// SetResidualLimit overrides the sigma multiple above which a weighted
// solution's RMS residual is rejected.
func (b *Builder) SetResidualLimit(sigma float64) error {
	if sigma <= 0 {
		return types.NewUsageError("residual limit must be positive, got %g", sigma)
	}
	b.residualSigmaLimit = sigma
	return nil
}

// SetLogger enables solver progress tracing
func (b *Builder) SetLogger(logger *log.Logger) {
	b.logger = logger
}

// Free releases the builder, its standards, and its parameter holds. It is
// called implicitly by Registry.Close for outstanding builders.
func (b *Builder) Free() {
	if b.freed {
		return
	}
	delete(b.reg.builders, b)
	b.free()
}

func (b *Builder) free() {
	if b.freed {
		return
	}
	b.freed = true
	for _, std := range b.standards {
		for _, h := range std.held {
			_ = b.reg.ReleaseParameter(h)
		}
	}
	b.standards = nil
}

// registerUnknown records an unknown or correlated parameter the first time
// it appears in a standard.
func (b *Builder) registerUnknown(p *parameter) {
	if _, ok := b.unknownIdx[p.handle]; ok {
		return
	}
	b.unknownIdx[p.handle] = len(b.unknowns)
	b.unknowns = append(b.unknowns, &unknownEntry{
		handle:     p.handle,
		correlated: p.kind == correlatedParam,
		other:      p.other,
		otherIdx:   -1,
		sigma:      p.sigma,
	})
}

// correlatedCount returns the number of correlated parameters registered
func (b *Builder) correlatedCount() int {
	n := 0
	for _, u := range b.unknowns {
		if u.correlated {
			n++
		}
	}
	return n
}
