// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.
// The author respectfully requests that it not be used for
// military, warfare, or surveillance applications.

package core

import (
	"github.com/bitjungle/vnacal/pkg/types"
)

// CellRef ties a parameter to one cell of a named multi-port standard, e.g.
// "s12 of calkit through" is CellRef{Standard: "calkit through", Row: 0,
// Col: 1}. Tagged parameters let the accumulator verify that the cells of a
// user-supplied parameter matrix use the standard's ports consistently.
type CellRef struct {
	Standard string
	Row      int
	Col      int
}

// TagParameterCell attaches a standard-cell provenance to a parameter
func (r *Registry) TagParameterCell(h Handle, ref CellRef) error {
	if _, err := r.getParameter(h); err != nil {
		return err
	}
	if ref.Standard == "" {
		return types.NewUsageError("cell reference needs a standard name")
	}
	if ref.Row < 0 || ref.Col < 0 {
		return types.NewUsageError("cell reference (%d,%d) must be non-negative", ref.Row, ref.Col)
	}
	if r.cellTags == nil {
		r.cellTags = make(map[Handle]CellRef)
	}
	r.cellTags[h] = ref
	return nil
}

// portMap records, for one named standard, the correspondence between the
// standard's own ports and the ports of the parameter matrix it appears in.
type portMap struct {
	// forward maps matrix port -> standard port; -1 where unconstrained
	forward []int
	// reverse maps standard port -> matrix port; -1 where unconstrained
	reverse map[int]int
}

// analyzePortMatrix verifies that every tagged handle in the parameter matrix
// maps the underlying standard's ports onto the matrix ports consistently,
// and returns the per-standard port maps. Untagged handles are ignored.
func (r *Registry) analyzePortMatrix(s [][]Handle) (map[string]*portMap, error) {
	n := len(s)
	maps := make(map[string]*portMap)

	bind := func(ref CellRef, matrixPort, stdPort, row, col int) error {
		pm := maps[ref.Standard]
		if pm == nil {
			pm = &portMap{forward: make([]int, n), reverse: make(map[int]int)}
			for i := range pm.forward {
				pm.forward[i] = -1
			}
			maps[ref.Standard] = pm
		}
		if prev := pm.forward[matrixPort]; prev >= 0 && prev != stdPort {
			return types.NewUsageError(
				"cell s%d%d of %q: matrix port %d already bound to standard port %d, conflicting with %d",
				row+1, col+1, ref.Standard, matrixPort+1, prev+1, stdPort+1)
		}
		if prev, ok := pm.reverse[stdPort]; ok && prev != matrixPort {
			return types.NewUsageError(
				"cell s%d%d of %q: standard port %d already bound to matrix port %d, conflicting with %d",
				row+1, col+1, ref.Standard, stdPort+1, prev+1, matrixPort+1)
		}
		pm.forward[matrixPort] = stdPort
		pm.reverse[stdPort] = matrixPort
		return nil
	}

	for i := range s {
		for j := range s[i] {
			ref, ok := r.cellTags[s[i][j]]
			if !ok {
				continue
			}
			if err := bind(ref, i, ref.Row, i, j); err != nil {
				return nil, err
			}
			if err := bind(ref, j, ref.Col, i, j); err != nil {
				return nil, err
			}
		}
	}
	return maps, nil
}
