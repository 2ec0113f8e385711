// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.
// The author respectfully requests that it not be used for
// military, warfare, or surveillance applications.

package interp

import (
	"github.com/bitjungle/vnacal/pkg/types"
)

// DefaultWindow is the window size used for frequency interpolation when the
// caller has no reason to pick another. It must be odd.
const DefaultWindow = 5

// Eval interpolates the samples (xs, ys) at x using a window of up to `window`
// points (odd; a window larger than len(xs) uses all samples). The hint
// carries the segment index k (xs[k] <= x < xs[k+1]) between calls;
// successive ascending queries advance it instead of searching from
// scratch. The caller is responsible for rejecting queries outside its
// extrapolation envelope before calling Eval.
func Eval(xs []float64, ys []complex128, window int, hint *int, x float64) (complex128, error) {
	n := len(xs)
	if n == 0 || len(ys) != n {
		return 0, types.NewUsageError("interpolation needs equal-length sample vectors, got %d and %d", n, len(ys))
	}
	if n == 1 {
		return ys[0], nil
	}
	if window < 1 {
		return 0, types.NewUsageError("invalid interpolation window %d", window)
	}
	if window%2 == 0 {
		return 0, types.NewUsageError("interpolation window must be odd, got %d", window)
	}
	m := window
	if m > n {
		m = n
	}

	// Locate the segment k with xs[k] <= x < xs[k+1], starting from the hint.
	k := 0
	if hint != nil {
		k = *hint
	}
	if k < 0 {
		k = 0
	}
	if k > n-2 {
		k = n - 2
	}
	for k > 0 && x < xs[k] {
		k--
	}
	for k < n-2 && x >= xs[k+1] {
		k++
	}
	if hint != nil {
		*hint = k
	}

	// Center the window on the segment.
	start := k - (m-1)/2
	if start < 0 {
		start = 0
	}
	if start > n-m {
		start = n - m
	}

	// A query landing exactly on a sample returns that sample.
	for i := start; i < start+m; i++ {
		if xs[i] == x {
			return ys[i], nil
		}
	}

	return neville(xs[start:start+m], ys[start:start+m], x), nil
}

// neville evaluates the interpolating polynomial through the window samples
// at x using Neville's tableau.
func neville(xw []float64, yw []complex128, x float64) complex128 {
	m := len(xw)
	p := make([]complex128, m)
	copy(p, yw)
	for level := 1; level < m; level++ {
		for i := 0; i < m-level; i++ {
			num := complex(x-xw[i+level], 0)*p[i] + complex(xw[i]-x, 0)*p[i+1]
			p[i] = num / complex(xw[i]-xw[i+level], 0)
		}
	}
	return p[0]
}
