// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.
// The author respectfully requests that it not be used for
// military, warfare, or surveillance applications.

package core

import (
	"github.com/bitjungle/vnacal/internal/interp"
	"github.com/bitjungle/vnacal/internal/linalg"
	"github.com/bitjungle/vnacal/pkg/types"
)

// Apply corrects DUT measurements with a stored calibration. The measurement
// matrix m is indexed [row][column][frequency] and must cover every cell; the
// query frequencies must lie within the calibration's extrapolation envelope.
// The corrected S-parameters are written into out.
func (r *Registry) Apply(ci int, f []float64, m [][][]complex128, out *types.NetworkData) error {
	cal, err := r.Calibration(ci)
	if err != nil {
		return err
	}
	if err := checkApplyMatrix(m, cal.layout.MRows, cal.layout.MColumns, len(f)); err != nil {
		return err
	}
	return r.apply(cal, f, func(qi int) ([][]complex128, error) {
		return cellAt(m, qi), nil
	}, out)
}

// ApplyWithA corrects DUT measurements given separate reference and detector
// matrices: the effective measurement is M = B·A⁻¹ per frequency. A is
// m_columns x m_columns and B is m_rows x m_columns, both indexed
// [row][column][frequency].
func (r *Registry) ApplyWithA(ci int, f []float64, a, b [][][]complex128, out *types.NetworkData) error {
	cal, err := r.Calibration(ci)
	if err != nil {
		return err
	}
	mc := cal.layout.MColumns
	if err := checkApplyMatrix(a, mc, mc, len(f)); err != nil {
		return err
	}
	if err := checkApplyMatrix(b, cal.layout.MRows, mc, len(f)); err != nil {
		return err
	}
	return r.apply(cal, f, func(qi int) ([][]complex128, error) {
		am := cellAt(a, qi)
		bm := cellAt(b, qi)
		// M = B·A⁻¹ solved as Aᵀ·Mᵀ = Bᵀ.
		at := transposeToColMajor(am, mc)
		bt := make([]complex128, mc*cal.layout.MRows)
		for i := 0; i < cal.layout.MRows; i++ {
			for j := 0; j < mc; j++ {
				bt[i*mc+j] = bm[i][j]
			}
		}
		if _, err := linalg.Mldivide(at, bt, mc, cal.layout.MRows); err != nil {
			return nil, err
		}
		out := make([][]complex128, cal.layout.MRows)
		for i := range out {
			out[i] = make([]complex128, mc)
			for j := 0; j < mc; j++ {
				out[i][j] = bt[i*mc+j]
			}
		}
		return out, nil
	}, out)
}

func checkApplyMatrix(m [][][]complex128, rows, cols, nFreq int) error {
	if len(m) != rows {
		return types.NewUsageError("measurement matrix needs %d rows, got %d", rows, len(m))
	}
	for i, row := range m {
		if len(row) != cols {
			return types.NewUsageError("measurement row %d needs %d columns, got %d", i, cols, len(row))
		}
		for j, cell := range row {
			if len(cell) != nFreq {
				return types.NewUsageError("measurement cell (%d,%d) needs %d samples, got %d", i, j, nFreq, len(cell))
			}
		}
	}
	return nil
}

func cellAt(m [][][]complex128, qi int) [][]complex128 {
	out := make([][]complex128, len(m))
	for i := range m {
		out[i] = make([]complex128, len(m[i]))
		for j := range m[i] {
			out[i][j] = m[i][j][qi]
		}
	}
	return out
}

// apply runs the per-frequency correction loop
func (r *Registry) apply(cal *Calibration, f []float64, measurement func(int) ([][]complex128, error), out *types.NetworkData) error {
	l := cal.layout
	if l.MRows != l.MColumns {
		return types.NewUsageError("apply requires a square calibration, got %dx%d", l.MRows, l.MColumns)
	}
	if len(f) == 0 {
		return types.NewUsageError("empty query frequency vector")
	}
	if out == nil {
		return types.NewUsageError("nil output container")
	}
	p := l.Ports
	if err := out.Init(types.ParamS, p, p, len(f)); err != nil {
		return err
	}
	if err := out.SetZ0Vector(cal.z0); err != nil {
		return err
	}

	tv := make([]complex128, len(cal.terms))
	for qi, fq := range f {
		if err := r.checkEnvelope(cal.freqs, fq); err != nil {
			return err
		}
		for t := range cal.terms {
			v, err := interp.Eval(cal.freqs, cal.terms[t], interp.DefaultWindow, &cal.hints[t], fq)
			if err != nil {
				return err
			}
			tv[t] = v
		}
		m, err := measurement(qi)
		if err != nil {
			return err
		}
		// Outside-system leakage is removed from the off-diagonal cells
		// before the model is inverted.
		if l.OutsideLeakage() {
			for i := 0; i < p; i++ {
				for j := 0; j < p; j++ {
					if i != j {
						m[i][j] -= leakageTerm(l, tv, i, j)
					}
				}
			}
		}
		s, err := recoverS(l, tv, m)
		if err != nil {
			return err
		}
		if err := out.SetFrequency(qi, fq); err != nil {
			return err
		}
		for i := 0; i < p; i++ {
			for j := 0; j < p; j++ {
				if err := out.SetCell(qi, i, j, s[i][j]); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// recoverS inverts the error model for one frequency: given the interpolated
// terms and the (leakage-corrected) measurement, produce the DUT S matrix.
func recoverS(l Layout, tv []complex128, m [][]complex128) ([][]complex128, error) {
	p := l.Ports
	switch l.Type {
	case types.CalT8, types.CalTE10, types.CalT16:
		// S = (Ts − M·Tx)⁻¹ · (M·Tm − Ti)
		lhs := make([]complex128, p*p) // column-major
		rhs := make([]complex128, p*p)
		if l.Type == types.CalT16 {
			for i := 0; i < p; i++ {
				for j := 0; j < p; j++ {
					var mx, mm complex128
					for k := 0; k < p; k++ {
						mx += m[i][k] * tv[l.TxOffset()+k*p+j]
						mm += m[i][k] * tv[l.TmOffset()+k*p+j]
					}
					lhs[j*p+i] = tv[l.TsOffset()+i*p+j] - mx
					rhs[j*p+i] = mm - tv[l.TiOffset()+i*p+j]
				}
			}
		} else {
			for i := 0; i < p; i++ {
				for j := 0; j < p; j++ {
					v := -m[i][j] * tv[l.TxOffset()+j]
					if i == j {
						v += tv[l.TsOffset()+i]
					}
					lhs[j*p+i] = v
					w := m[i][j] * tv[l.TmOffset()+j]
					if i == j {
						w -= tv[l.TiOffset()+i]
					}
					rhs[j*p+i] = w
				}
			}
		}
		if _, err := linalg.Mldivide(lhs, rhs, p, p); err != nil {
			return nil, err
		}
		return colMajorToRows(rhs, p), nil

	case types.CalU8, types.CalUE10, types.CalU16:
		// S = (Um·M + Ui) · (Ux·M + Us)⁻¹, solved as N2ᵀ·Sᵀ = N1ᵀ.
		n1 := make([][]complex128, p)
		n2 := make([][]complex128, p)
		for i := range n1 {
			n1[i] = make([]complex128, p)
			n2[i] = make([]complex128, p)
		}
		if l.Type == types.CalU16 {
			for i := 0; i < p; i++ {
				for j := 0; j < p; j++ {
					var um, ux complex128
					for k := 0; k < p; k++ {
						um += tv[l.UmOffset()+i*p+k] * m[k][j]
						ux += tv[l.UxOffset()+i*p+k] * m[k][j]
					}
					n1[i][j] = um + tv[l.UiOffset()+i*p+j]
					n2[i][j] = ux + tv[l.UsOffset()+i*p+j]
				}
			}
		} else {
			for i := 0; i < p; i++ {
				for j := 0; j < p; j++ {
					n1[i][j] = tv[l.UmOffset()+i] * m[i][j]
					n2[i][j] = tv[l.UxOffset()+i] * m[i][j]
					if i == j {
						n1[i][j] += tv[l.UiOffset()+i]
						n2[i][j] += tv[l.UsOffset()+i]
					}
				}
			}
		}
		return solveBAInv(n1, n2, p)

	case types.CalUE14, types.CalE12:
		// Per column c: b_c = um∘m_c + ui·e_c, a_c = ux∘m_c + us·e_c, then
		// S = B·A⁻¹.
		bm := make([][]complex128, p)
		am := make([][]complex128, p)
		for i := range bm {
			bm[i] = make([]complex128, p)
			am[i] = make([]complex128, p)
		}
		for c := 0; c < p; c++ {
			var um, ux []complex128
			var ui, us complex128
			var err error
			if l.Type == types.CalE12 {
				um, ux, ui, us, err = e12ColumnToU(l, tv, c)
				if err != nil {
					return nil, err
				}
			} else {
				base := c * l.SysTerms
				um = make([]complex128, p)
				ux = make([]complex128, p)
				for k := 0; k < p; k++ {
					um[k] = tv[base+l.UmOffset()+k]
					ux[k] = tv[base+l.UxOffset()+k]
				}
				ui = tv[base+l.UiOffset()]
				us = tv[base+l.UsOffset()]
			}
			for k := 0; k < p; k++ {
				bm[k][c] = um[k] * m[k][c]
				am[k][c] = ux[k] * m[k][c]
				if k == c {
					bm[k][c] += ui
					am[k][c] += us
				}
			}
		}
		return solveBAInv(bm, am, p)
	}
	return nil, types.NewUsageError("unknown calibration type %q", string(l.Type))
}

// solveBAInv computes S = B·A⁻¹ by solving Aᵀ·Sᵀ = Bᵀ.
func solveBAInv(b, a [][]complex128, p int) ([][]complex128, error) {
	at := transposeToColMajor(a, p)
	bt := make([]complex128, p*p)
	for i := 0; i < p; i++ {
		for j := 0; j < p; j++ {
			bt[i*p+j] = b[i][j]
		}
	}
	if _, err := linalg.Mldivide(at, bt, p, p); err != nil {
		return nil, err
	}
	s := make([][]complex128, p)
	for i := range s {
		s[i] = make([]complex128, p)
		for j := 0; j < p; j++ {
			s[i][j] = bt[i*p+j]
		}
	}
	return s, nil
}

// colMajorToRows unpacks a column-major square matrix into row slices
func colMajorToRows(a []complex128, p int) [][]complex128 {
	out := make([][]complex128, p)
	for i := range out {
		out[i] = make([]complex128, p)
		for j := 0; j < p; j++ {
			out[i][j] = a[j*p+i]
		}
	}
	return out
}
