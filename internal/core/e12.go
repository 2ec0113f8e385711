// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.
// The author respectfully requests that it not be used for
// military, warfare, or surveillance applications.

package core

import (
	"github.com/bitjungle/vnacal/pkg/types"
)

// convertUE14ToE12 converts the solved per-column U systems into the 12-term
// form. Each measurement column is independent; with n = us − ui·ux[c]/um[c]
// the conversion is
//
//	el[r] = r == c ? −ui/um[c] : leakage mean of cell (r, c)
//	er[r] = n / um[r]
//	em[r] = ux[r] / um[r]
//
// which absorbs the transmission tracking into Er so that Et is unity.
func convertUE14ToE12(l Layout, solved [][]complex128) ([][]complex128, error) {
	nFreq := len(solved[0])
	out := make([][]complex128, l.StoredTerms())
	for t := range out {
		out[t] = make([]complex128, nFreq)
	}

	for c := 0; c < l.MColumns; c++ {
		base := c * l.SysTerms
		outBase := c * 3 * l.MRows
		for fi := 0; fi < nFreq; fi++ {
			um := make([]complex128, l.MRows)
			ux := make([]complex128, l.MRows)
			for r := 0; r < l.MRows; r++ {
				um[r] = solved[base+l.UmOffset()+r][fi]
				ux[r] = solved[base+l.UxOffset()+r][fi]
				if um[r] == 0 {
					return nil, types.NewMathError(
						"singular UE14 to E12 conversion: um%d of column %d is zero", r+1, c+1)
				}
			}
			ui := solved[base+l.UiOffset()][fi]
			us := solved[base+l.UsOffset()][fi]

			n := us - ui*ux[c]/um[c]
			for r := 0; r < l.MRows; r++ {
				var el complex128
				if r == c {
					el = -ui / um[c]
				} else {
					el = solved[l.ELBase()+l.ELIndex(r, c)][fi]
				}
				out[outBase+r][fi] = el
				out[outBase+l.MRows+r][fi] = n / um[r]
				out[outBase+2*l.MRows+r][fi] = ux[r] / um[r]
			}
		}
	}
	return out, nil
}

// e12ColumnToU reconstructs the per-column U vectors from the 12-term form,
// normalising n to one: um = 1/er, ux = em/er, ui = −el[c]/er[c],
// us = 1 + ui·em[c]. This inverts convertUE14ToE12 up to the per-column
// scale, which the model does not observe.
func e12ColumnToU(l Layout, terms []complex128, c int) (um, ux []complex128, ui, us complex128, err error) {
	base := c * 3 * l.MRows
	um = make([]complex128, l.MRows)
	ux = make([]complex128, l.MRows)
	for r := 0; r < l.MRows; r++ {
		er := terms[base+l.MRows+r]
		if er == 0 {
			return nil, nil, 0, 0, types.NewMathError(
				"singular E12 calibration: er%d of column %d is zero", r+1, c+1)
		}
		um[r] = 1 / er
		ux[r] = terms[base+2*l.MRows+r] / er
	}
	ui = -terms[base+c] * um[c]
	us = 1 + ui*terms[base+2*l.MRows+c]
	return um, ux, ui, us, nil
}
