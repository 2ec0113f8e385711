// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.
// The author respectfully requests that it not be used for
// military, warfare, or surveillance applications.

package core

import (
	"github.com/bitjungle/vnacal/internal/linalg"
	"github.com/bitjungle/vnacal/pkg/types"
)

// SynthesizeMeasurement computes the measurement a VNA with the given error
// terms would produce for a standard with the known S matrix, at one
// frequency. The terms follow the stored layout of l. It is the forward
// model of the solver and the applicator, used by the self tests and the
// validation harnesses.
func SynthesizeMeasurement(l Layout, terms []complex128, s [][]complex128) ([][]complex128, error) {
	if len(terms) != l.StoredTerms() {
		return nil, types.NewUsageError("expected %d terms, got %d", l.StoredTerms(), len(terms))
	}
	p := l.Ports
	if len(s) != p {
		return nil, types.NewUsageError("S matrix needs %d rows, got %d", p, len(s))
	}
	for i := range s {
		if len(s[i]) != p {
			return nil, types.NewUsageError("S row %d needs %d columns, got %d", i, p, len(s[i]))
		}
	}

	var m [][]complex128
	var err error
	switch l.Type {
	case types.CalT8, types.CalTE10, types.CalT16:
		m, err = synthT(l, terms, s)
	case types.CalU8, types.CalUE10, types.CalU16:
		m, err = synthU(l, terms, s)
	case types.CalUE14:
		m, err = synthUE14(l, terms, s, func(c int) (um, ux []complex128, ui, us complex128, err error) {
			base := c * l.SysTerms
			um = make([]complex128, l.MRows)
			ux = make([]complex128, l.MRows)
			for r := 0; r < l.MRows; r++ {
				um[r] = terms[base+l.UmOffset()+r]
				ux[r] = terms[base+l.UxOffset()+r]
			}
			return um, ux, terms[base+l.UiOffset()], terms[base+l.UsOffset()], nil
		})
	case types.CalE12:
		m, err = synthUE14(l, terms, s, func(c int) ([]complex128, []complex128, complex128, complex128, error) {
			return e12ColumnToU(l, terms, c)
		})
	default:
		return nil, types.NewUsageError("unknown calibration type %q", string(l.Type))
	}
	if err != nil {
		return nil, err
	}

	// Outside-system leakage adds directly onto the off-diagonal cells.
	if l.OutsideLeakage() {
		for i := 0; i < l.MRows; i++ {
			for j := 0; j < l.MColumns; j++ {
				if i == j {
					continue
				}
				m[i][j] += leakageTerm(l, terms, i, j)
			}
		}
	}
	return m, nil
}

// leakageTerm looks up the leakage of cell (i, j) in the stored layout
func leakageTerm(l Layout, terms []complex128, i, j int) complex128 {
	if l.Type == types.CalE12 {
		return terms[j*3*l.MRows+i]
	}
	return terms[l.ELBase()+l.ELIndex(i, j)]
}

// synthT evaluates M = (Ts·S + Ti)·(Tx·S + Tm)⁻¹ with Tx·S + Tm square over
// the ports.
func synthT(l Layout, terms []complex128, s [][]complex128) ([][]complex128, error) {
	p := l.Ports
	y := make([][]complex128, l.MRows) // Ts S + Ti, mRows x p
	for i := range y {
		y[i] = make([]complex128, p)
	}
	x := make([][]complex128, p) // Tx S + Tm, p x p (rows beyond MColumns are zero-padded identity-free)
	for i := range x {
		x[i] = make([]complex128, p)
	}

	if l.Type == types.CalT16 {
		for i := 0; i < p; i++ {
			for j := 0; j < p; j++ {
				var ys, xs complex128
				for k := 0; k < p; k++ {
					ys += terms[l.TsOffset()+i*p+k] * s[k][j]
					xs += terms[l.TxOffset()+i*p+k] * s[k][j]
				}
				if i < l.MRows {
					y[i][j] = ys + terms[l.TiOffset()+i*p+j]
				}
				x[i][j] = xs + terms[l.TmOffset()+i*p+j]
			}
		}
	} else {
		for i := 0; i < l.MRows; i++ {
			for j := 0; j < p; j++ {
				y[i][j] = terms[l.TsOffset()+i] * s[i][j]
				if i == j {
					y[i][j] += terms[l.TiOffset()+i]
				}
			}
		}
		for k := 0; k < l.MColumns; k++ {
			for j := 0; j < p; j++ {
				x[k][j] = terms[l.TxOffset()+k] * s[k][j]
				if k == j {
					x[k][j] += terms[l.TmOffset()+k]
				}
			}
		}
	}

	// Solve M·X = Y as Xᵀ·Mᵀ = Yᵀ.
	xt := transposeToColMajor(x, p)
	yt := make([]complex128, p*l.MRows)
	for i := 0; i < l.MRows; i++ {
		for j := 0; j < p; j++ {
			yt[i*p+j] = y[i][j]
		}
	}
	if _, err := linalg.Mldivide(xt, yt, p, l.MRows); err != nil {
		return nil, err
	}
	m := make([][]complex128, l.MRows)
	for i := range m {
		m[i] = make([]complex128, l.MColumns)
		for j := 0; j < l.MColumns; j++ {
			m[i][j] = yt[i*p+j]
		}
	}
	return m, nil
}

// synthU evaluates (Um − S·Ux)·M = S·Us − Ui for M.
func synthU(l Layout, terms []complex128, s [][]complex128) ([][]complex128, error) {
	p := l.Ports
	lhs := make([][]complex128, p) // Um − S Ux, p x p
	rhs := make([][]complex128, p) // S Us − Ui, p x mCols
	for i := range lhs {
		lhs[i] = make([]complex128, p)
		rhs[i] = make([]complex128, l.MColumns)
	}

	if l.Type == types.CalU16 {
		for i := 0; i < p; i++ {
			for j := 0; j < p; j++ {
				var sx complex128
				for k := 0; k < p; k++ {
					sx += s[i][k] * terms[l.UxOffset()+k*p+j]
				}
				lhs[i][j] = terms[l.UmOffset()+i*p+j] - sx
			}
			for j := 0; j < l.MColumns; j++ {
				var su complex128
				for k := 0; k < p; k++ {
					su += s[i][k] * terms[l.UsOffset()+k*p+j]
				}
				rhs[i][j] = su - terms[l.UiOffset()+i*p+j]
			}
		}
	} else {
		for i := 0; i < p; i++ {
			for j := 0; j < p; j++ {
				lhs[i][j] = -s[i][j] * terms[l.UxOffset()+j]
				if i == j {
					lhs[i][j] += terms[l.UmOffset()+i]
				}
			}
			for j := 0; j < l.MColumns; j++ {
				rhs[i][j] = s[i][j] * terms[l.UsOffset()+j]
				if i == j {
					rhs[i][j] -= terms[l.UiOffset()+i]
				}
			}
		}
	}

	sol := rowMajorToColMajor(rhs, p, l.MColumns)
	lhsCM := rowMajorToColMajor(lhs, p, p)
	// Mldivide solves lhs·M = rhs column by column.
	if _, err := linalg.Mldivide(lhsCM, sol, p, l.MColumns); err != nil {
		return nil, err
	}
	m := make([][]complex128, l.MRows)
	for i := range m {
		m[i] = make([]complex128, l.MColumns)
		for j := 0; j < l.MColumns; j++ {
			m[i][j] = sol[j*p+i]
		}
	}
	return m, nil
}

// synthUE14 evaluates the per-column model (diag(um) − S·diag(ux))·m =
// us·S[:,c] − ui·e_c for every measurement column.
func synthUE14(l Layout, terms []complex128, s [][]complex128, column func(int) (um, ux []complex128, ui, us complex128, err error)) ([][]complex128, error) {
	p := l.Ports
	m := make([][]complex128, l.MRows)
	for i := range m {
		m[i] = make([]complex128, l.MColumns)
	}
	for c := 0; c < l.MColumns; c++ {
		um, ux, ui, us, err := column(c)
		if err != nil {
			return nil, err
		}
		lhs := make([]complex128, p*p)
		rhs := make([]complex128, p)
		for i := 0; i < p; i++ {
			for j := 0; j < p; j++ {
				v := -s[i][j] * ux[j]
				if i == j {
					v += um[i]
				}
				lhs[j*p+i] = v
			}
			rhs[i] = us * s[i][c]
			if i == c {
				rhs[i] -= ui
			}
		}
		if _, err := linalg.Mldivide(lhs, rhs, p, 1); err != nil {
			return nil, err
		}
		for i := 0; i < l.MRows; i++ {
			m[i][c] = rhs[i]
		}
	}
	return m, nil
}

// transposeToColMajor packs a row-indexed square matrix into column-major
// storage of its transpose.
func transposeToColMajor(src [][]complex128, n int) []complex128 {
	out := make([]complex128, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			// element (j, i) of the transpose is src[i][j]
			out[i*n+j] = src[i][j]
		}
	}
	return out
}

// rowMajorToColMajor packs a row-indexed matrix into column-major storage.
func rowMajorToColMajor(src [][]complex128, rows, cols int) []complex128 {
	out := make([]complex128, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out[j*rows+i] = src[i][j]
		}
	}
	return out
}
