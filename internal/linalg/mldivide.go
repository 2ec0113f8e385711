// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.
// The author respectfully requests that it not be used for
// military, warfare, or surveillance applications.

package linalg

import (
	"math/cmplx"

	"github.com/bitjungle/vnacal/pkg/types"
)

// pivotTolerance scales the largest element magnitude to decide when a pivot
// is too small to divide by.
const pivotTolerance = 1e-14

// Mldivide solves A·X = B for square A, overwriting B with X. The matrix a is
// n x n and b is n x k, both column-major; a is destroyed by the
// factorization. The determinant of A is returned; a pivot smaller than
// pivotTolerance times the largest element of A reports a singular system.
func Mldivide(a, b []complex128, n, k int) (complex128, error) {
	if len(a) < n*n || len(b) < n*k {
		return 0, types.NewUsageError("mldivide: storage too small for %dx%d / %dx%d", n, n, n, k)
	}
	var maxAbs float64
	for i := 0; i < n*n; i++ {
		if v := cmplx.Abs(a[i]); v > maxAbs {
			maxAbs = v
		}
	}
	if maxAbs == 0 {
		return 0, types.NewMathError("singular linear system: zero matrix")
	}

	det := complex(1, 0)
	for col := 0; col < n; col++ {
		// Partial pivoting on column col.
		pivRow := col
		pivAbs := cmplx.Abs(a[col*n+col])
		for i := col + 1; i < n; i++ {
			if v := cmplx.Abs(a[col*n+i]); v > pivAbs {
				pivAbs = v
				pivRow = i
			}
		}
		if pivAbs < pivotTolerance*maxAbs {
			return 0, types.NewMathError("singular linear system: pivot %d below tolerance", col)
		}
		if pivRow != col {
			for j := 0; j < n; j++ {
				a[j*n+col], a[j*n+pivRow] = a[j*n+pivRow], a[j*n+col]
			}
			for j := 0; j < k; j++ {
				b[j*n+col], b[j*n+pivRow] = b[j*n+pivRow], b[j*n+col]
			}
			det = -det
		}
		piv := a[col*n+col]
		det *= piv

		for i := col + 1; i < n; i++ {
			factor := a[col*n+i] / piv
			if factor == 0 {
				continue
			}
			a[col*n+i] = 0
			for j := col + 1; j < n; j++ {
				a[j*n+i] -= factor * a[j*n+col]
			}
			for j := 0; j < k; j++ {
				b[j*n+i] -= factor * b[j*n+col]
			}
		}
	}

	// Back substitution.
	for j := 0; j < k; j++ {
		for i := n - 1; i >= 0; i-- {
			sum := b[j*n+i]
			for c := i + 1; c < n; c++ {
				sum -= a[c*n+i] * b[j*n+c]
			}
			b[j*n+i] = sum / a[i*n+i]
		}
	}
	return det, nil
}
