// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.
// The author respectfully requests that it not be used for
// military, warfare, or surveillance applications.

package core

import (
	"github.com/bitjungle/vnacal/internal/interp"
	"github.com/bitjungle/vnacal/pkg/types"
)

// Handle identifies a parameter within its owning Registry. Handles are
// stable for the lifetime of the parameter; slots are reused after a
// parameter is destroyed.
type Handle int

// Predefined parameters present in every Registry.
const (
	// HandleMatch is the constant 0 with identity-under-composition
	// semantics for standards: a matched termination.
	HandleMatch Handle = 0
	// HandleOpen is the ideal open, reflection +1.
	HandleOpen Handle = 1
	// HandleShort is the ideal short, reflection -1.
	HandleShort Handle = 2
	// HandleZero is the constant 0.
	HandleZero Handle = 3

	// handleOne is the unit transmission coefficient used internally by the
	// through and line standards.
	handleOne Handle = 4

	numPredefined = 5
)

// DefaultFrequencyMargin is the fractional tolerance by which a query
// frequency may lie outside a parameter's sample grid before evaluation is
// refused.
const DefaultFrequencyMargin = 0.01

type paramKind int

const (
	scalarParam paramKind = iota
	vectorParam
	unknownParam
	correlatedParam
	zeroParam
	matchParam
)

func (k paramKind) String() string {
	switch k {
	case scalarParam:
		return "scalar"
	case vectorParam:
		return "vector"
	case unknownParam:
		return "unknown"
	case correlatedParam:
		return "correlated"
	case zeroParam:
		return "zero"
	case matchParam:
		return "match"
	}
	return "invalid"
}

// Sigma describes the per-frequency standard deviation of a correlated
// parameter: either a single scalar value or a sampled function of frequency.
type Sigma struct {
	scalar float64
	f      []float64
	values []float64
	hint   int
}

// SigmaScalar builds a frequency-independent sigma descriptor
func SigmaScalar(v float64) *Sigma {
	return &Sigma{scalar: v}
}

// SigmaVector builds a sigma descriptor sampled on an ascending frequency grid
func SigmaVector(f, values []float64) (*Sigma, error) {
	if len(f) == 0 || len(f) != len(values) {
		return nil, types.NewUsageError("sigma vector needs equal-length non-empty grids, got %d and %d", len(f), len(values))
	}
	if err := checkAscending(f); err != nil {
		return nil, err
	}
	return &Sigma{
		f:      append([]float64(nil), f...),
		values: append([]float64(nil), values...),
	}, nil
}

// Eval returns sigma at frequency f
func (s *Sigma) Eval(f float64) (float64, error) {
	if s.f == nil {
		return s.scalar, nil
	}
	ys := make([]complex128, len(s.values))
	for i, v := range s.values {
		ys[i] = complex(v, 0)
	}
	v, err := interp.Eval(s.f, ys, interp.DefaultWindow, &s.hint, f)
	if err != nil {
		return 0, err
	}
	return real(v), nil
}

// parameter is the tagged variant behind a Handle.
type parameter struct {
	kind   paramKind
	handle Handle
	holds  int
	// deleted records a deletion request that is deferred while holds > 0
	deleted bool

	gamma complex128   // scalarParam
	f     []float64    // vectorParam sample grid, ascending
	g     []complex128 // vectorParam samples

	other Handle // unknownParam/correlatedParam initial-guess reference
	sigma *Sigma // correlatedParam

	// solved table filled in by the solver for unknown/correlated parameters
	solvedF []float64
	solvedG []complex128

	hint int // last-used interpolation segment
}

func checkAscending(f []float64) error {
	for i := 1; i < len(f); i++ {
		if f[i] <= f[i-1] {
			return types.NewUsageError("frequency vector must be strictly ascending at index %d", i)
		}
	}
	return nil
}

// allocParameter places p in a free slot or grows the pool
func (r *Registry) allocParameter(p *parameter) Handle {
	if n := len(r.freeParams); n > 0 {
		h := r.freeParams[n-1]
		r.freeParams = r.freeParams[:n-1]
		p.handle = h
		r.params[h] = p
		return h
	}
	h := Handle(len(r.params))
	p.handle = h
	r.params = append(r.params, p)
	return h
}

// getParameter resolves a handle, rejecting invalid or destroyed slots
func (r *Registry) getParameter(h Handle) (*parameter, error) {
	if h < 0 || int(h) >= len(r.params) || r.params[h] == nil {
		return nil, types.NewUsageError("invalid parameter handle %d", h)
	}
	return r.params[h], nil
}

// MakeScalarParameter creates a frequency-independent parameter with value gamma
func (r *Registry) MakeScalarParameter(gamma complex128) (Handle, error) {
	return r.allocParameter(&parameter{kind: scalarParam, gamma: gamma}), nil
}

// MakeVectorParameter creates a parameter sampled on an ascending frequency grid
func (r *Registry) MakeVectorParameter(f []float64, gamma []complex128) (Handle, error) {
	if len(f) < 1 || len(f) != len(gamma) {
		return -1, types.NewUsageError("vector parameter needs equal-length non-empty grids, got %d and %d", len(f), len(gamma))
	}
	if err := checkAscending(f); err != nil {
		return -1, err
	}
	return r.allocParameter(&parameter{
		kind: vectorParam,
		f:    append([]float64(nil), f...),
		g:    append([]complex128(nil), gamma...),
	}), nil
}

// MakeUnknownParameter creates a parameter to be solved for, using other as
// the initial guess. The referenced parameter must be of a known kind.
func (r *Registry) MakeUnknownParameter(other Handle) (Handle, error) {
	op, err := r.getParameter(other)
	if err != nil {
		return -1, err
	}
	switch op.kind {
	case scalarParam, vectorParam, zeroParam, matchParam:
	default:
		return -1, types.NewUsageError("unknown parameter must reference a known parameter, handle %d is %s", other, op.kind)
	}
	op.holds++
	return r.allocParameter(&parameter{kind: unknownParam, other: other}), nil
}

// MakeCorrelatedParameter creates a parameter whose deviation from other is
// Gaussian with standard deviation sigma(f). The reference may itself be an
// unknown parameter.
func (r *Registry) MakeCorrelatedParameter(other Handle, sigma *Sigma) (Handle, error) {
	op, err := r.getParameter(other)
	if err != nil {
		return -1, err
	}
	if sigma == nil {
		return -1, types.NewUsageError("correlated parameter needs a sigma descriptor")
	}
	switch op.kind {
	case scalarParam, vectorParam, zeroParam, matchParam, unknownParam:
	default:
		return -1, types.NewUsageError("correlated parameter cannot reference a %s parameter", op.kind)
	}
	op.holds++
	return r.allocParameter(&parameter{kind: correlatedParam, other: other, sigma: sigma}), nil
}

// HoldParameter increments the hold count of h, deferring any deletion
func (r *Registry) HoldParameter(h Handle) error {
	p, err := r.getParameter(h)
	if err != nil {
		return err
	}
	p.holds++
	return nil
}

// ReleaseParameter decrements the hold count; a parameter whose deletion was
// requested is destroyed when its last hold is released.
func (r *Registry) ReleaseParameter(h Handle) error {
	p, err := r.getParameter(h)
	if err != nil {
		return err
	}
	if p.holds <= 0 {
		return types.NewUsageError("release of parameter %d without a hold", h)
	}
	p.holds--
	if p.holds == 0 && p.deleted {
		r.destroyParameter(p)
	}
	return nil
}

// DeleteParameter requests destruction of h. The request is deferred while
// the parameter is held; predefined parameters cannot be deleted.
func (r *Registry) DeleteParameter(h Handle) error {
	if h < Handle(numPredefined) && h >= 0 {
		return types.NewUsageError("cannot delete predefined parameter %d", h)
	}
	p, err := r.getParameter(h)
	if err != nil {
		return err
	}
	if p.deleted {
		return nil
	}
	p.deleted = true
	if p.holds == 0 {
		r.destroyParameter(p)
	}
	return nil
}

// destroyParameter releases the slot and drops the reference on any
// initial-guess parameter.
func (r *Registry) destroyParameter(p *parameter) {
	if p.kind == unknownParam || p.kind == correlatedParam {
		if op, err := r.getParameter(p.other); err == nil {
			if op.holds > 0 {
				op.holds--
				if op.holds == 0 && op.deleted {
					r.destroyParameter(op)
				}
			}
		}
	}
	r.params[p.handle] = nil
	r.freeParams = append(r.freeParams, p.handle)
}

// checkEnvelope verifies f lies within the extrapolation envelope of the grid
func (r *Registry) checkEnvelope(grid []float64, f float64) error {
	lo := (1 - r.margin) * grid[0]
	hi := (1 + r.margin) * grid[len(grid)-1]
	if f < lo || f > hi {
		return types.NewUsageError("frequency %g outside extrapolation envelope [%g, %g]", f, lo, hi)
	}
	return nil
}

// ParameterValue evaluates a parameter at frequency f. Unknown and
// correlated parameters evaluate their solved table when one exists, and
// their initial guess otherwise.
func (r *Registry) ParameterValue(h Handle, f float64) (complex128, error) {
	p, err := r.getParameter(h)
	if err != nil {
		return 0, err
	}
	return r.paramValue(p, f)
}

func (r *Registry) paramValue(p *parameter, f float64) (complex128, error) {
	switch p.kind {
	case matchParam, zeroParam:
		return 0, nil
	case scalarParam:
		return p.gamma, nil
	case vectorParam:
		if err := r.checkEnvelope(p.f, f); err != nil {
			return 0, err
		}
		return interp.Eval(p.f, p.g, interp.DefaultWindow, &p.hint, f)
	case unknownParam, correlatedParam:
		if p.solvedF != nil {
			if err := r.checkEnvelope(p.solvedF, f); err != nil {
				return 0, err
			}
			return interp.Eval(p.solvedF, p.solvedG, interp.DefaultWindow, &p.hint, f)
		}
		op, err := r.getParameter(p.other)
		if err != nil {
			return 0, err
		}
		return r.paramValue(op, f)
	}
	return 0, types.NewUsageError("parameter %d has invalid kind", p.handle)
}

// setSolved installs the solved table of an unknown or correlated parameter
func (p *parameter) setSolved(f []float64, g []complex128) {
	p.solvedF = append([]float64(nil), f...)
	p.solvedG = append([]complex128(nil), g...)
	p.hint = 0
}

// isConstantZero reports whether the handle is one of the zero-valued
// predefined parameters; such cells carry no signal path.
func (r *Registry) isConstantZero(h Handle) bool {
	p, err := r.getParameter(h)
	if err != nil {
		return false
	}
	return p.kind == zeroParam || p.kind == matchParam
}
