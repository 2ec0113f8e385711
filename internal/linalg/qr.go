// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.
// The author respectfully requests that it not be used for
// military, warfare, or surveillance applications.

package linalg

import (
	"math"
	"math/cmplx"

	"github.com/bitjungle/vnacal/pkg/types"
)

// rankTolerance scales the largest diagonal magnitude of R when estimating
// numerical rank.
const rankTolerance = 1e-12

// QR computes the Householder factorization A = Q·R of the m x n column-major
// matrix a (m >= n). Q is m x m unitary and R is m x n upper triangular, both
// freshly allocated; a is left untouched.
func QR(a []complex128, m, n int) (q, r []complex128, err error) {
	if m < n {
		return nil, nil, types.NewUsageError("qr: need m >= n, got %dx%d", m, n)
	}
	if len(a) < m*n {
		return nil, nil, types.NewUsageError("qr: storage too small for %dx%d", m, n)
	}
	r = make([]complex128, m*n)
	copy(r, a[:m*n])
	q = make([]complex128, m*m)
	for i := 0; i < m; i++ {
		q[i*m+i] = 1
	}

	v := make([]complex128, m)
	for j := 0; j < n; j++ {
		// Householder vector for column j, rows j..m.
		var norm float64
		for i := j; i < m; i++ {
			norm = math.Hypot(norm, cmplx.Abs(r[j*m+i]))
		}
		if norm == 0 {
			continue
		}
		x0 := r[j*m+j]
		phase := complex(1, 0)
		if x0 != 0 {
			phase = x0 / complex(cmplx.Abs(x0), 0)
		}
		var vv float64
		for i := j; i < m; i++ {
			v[i] = r[j*m+i]
		}
		v[j] += phase * complex(norm, 0)
		for i := j; i < m; i++ {
			vv += real(v[i])*real(v[i]) + imag(v[i])*imag(v[i])
		}
		if vv == 0 {
			continue
		}
		scale := complex(2/vv, 0)

		// Reflect the remaining columns of R.
		for c := j; c < n; c++ {
			var w complex128
			for i := j; i < m; i++ {
				w += cmplx.Conj(v[i]) * r[c*m+i]
			}
			w *= scale
			for i := j; i < m; i++ {
				r[c*m+i] -= w * v[i]
			}
		}
		// Accumulate Q = H_1 H_2 ... H_n by applying H_j from the right.
		for i := 0; i < m; i++ {
			var w complex128
			for c := j; c < m; c++ {
				w += q[c*m+i] * v[c]
			}
			w *= scale
			for c := j; c < m; c++ {
				q[c*m+i] -= w * cmplx.Conj(v[c])
			}
		}
		// Clean the annihilated sub-diagonal.
		r[j*m+j] = -phase * complex(norm, 0)
		for i := j + 1; i < m; i++ {
			r[j*m+i] = 0
		}
	}
	return q, r, nil
}

// Rank estimates the numerical rank of the factor R (m x n column-major,
// upper triangular) from the magnitudes of its diagonal.
func Rank(r []complex128, m, n int) int {
	var maxDiag float64
	for j := 0; j < n && j < m; j++ {
		if v := cmplx.Abs(r[j*m+j]); v > maxDiag {
			maxDiag = v
		}
	}
	if maxDiag == 0 {
		return 0
	}
	rank := 0
	for j := 0; j < n && j < m; j++ {
		if cmplx.Abs(r[j*m+j]) > rankTolerance*maxDiag {
			rank++
		}
	}
	return rank
}

// QRSolve solves the least-squares problem min ||A·X - B|| for the m x n
// matrix a (m >= n) and m x k right-hand side b, returning the n x k solution.
func QRSolve(a, b []complex128, m, n, k int) ([]complex128, error) {
	q, r, err := QR(a, m, n)
	if err != nil {
		return nil, err
	}
	return QRSolve2(q, r, b, m, n, k)
}

// QRSolve2 back-substitutes a precomputed factorization: X = R^-1 · Q1^H · B
// where Q1 is the first n columns of Q. The factors are not modified.
func QRSolve2(q, r, b []complex128, m, n, k int) ([]complex128, error) {
	if len(q) < m*m || len(r) < m*n || len(b) < m*k {
		return nil, types.NewUsageError("qrsolve2: storage too small for %dx%d rhs %d", m, n, k)
	}
	if Rank(r, m, n) < n {
		return nil, types.NewMathError("rank-deficient system: rank %d < %d", Rank(r, m, n), n)
	}
	x := make([]complex128, n*k)
	// c = Q1^H b
	for col := 0; col < k; col++ {
		for j := 0; j < n; j++ {
			var sum complex128
			for i := 0; i < m; i++ {
				sum += cmplx.Conj(q[j*m+i]) * b[col*m+i]
			}
			x[col*n+j] = sum
		}
	}
	// Back substitution against the upper-triangular R.
	for col := 0; col < k; col++ {
		for i := n - 1; i >= 0; i-- {
			sum := x[col*n+i]
			for c := i + 1; c < n; c++ {
				sum -= r[c*m+i] * x[col*n+c]
			}
			x[col*n+i] = sum / r[i*m+i]
		}
	}
	return x, nil
}

// PseudoInverse computes A+ = R^-1 Q1^H for the m x n matrix a with full
// column rank, returning the n x m pseudoinverse.
func PseudoInverse(a []complex128, m, n int) ([]complex128, error) {
	q, r, err := QR(a, m, n)
	if err != nil {
		return nil, err
	}
	// Solve against the columns of Q1^H, i.e. the identity transported by Q.
	eye := make([]complex128, m*m)
	for i := 0; i < m; i++ {
		eye[i*m+i] = 1
	}
	return QRSolve2(q, r, eye, m, n, m)
}
