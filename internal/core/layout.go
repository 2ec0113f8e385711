// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.
// The author respectfully requests that it not be used for
// military, warfare, or surveillance applications.

package core

import (
	"fmt"

	"github.com/bitjungle/vnacal/pkg/types"
)

// Layout describes the shape of an error-term model for given measurement
// dimensions: how many sub-systems there are, how the terms of a sub-system
// are laid out, which term is the unity term, and how many leakage terms sit
// outside the linear system.
//
// E12 is solved in the UE14 arrangement; its Layout describes the solving
// shape and StoredTerms/TermNames describe the converted 12-term result.
type Layout struct {
	Type     types.CalType
	MRows    int
	MColumns int
	// Ports is the number of device ports, max(MRows, MColumns)
	Ports int
	// Systems is the number of independent sub-systems (m_columns for
	// UE14/E12, one otherwise)
	Systems int
	// SysTerms is the number of linear-system terms per sub-system,
	// including the unity term
	SysTerms int
	// ELTerms is the number of leakage terms handled outside the linear
	// system
	ELTerms int
}

// NewLayout validates the dimensions for the model and computes its layout
func NewLayout(t types.CalType, mRows, mColumns int) (Layout, error) {
	if !t.Valid() {
		return Layout{}, types.NewUsageError("unknown calibration type %q", string(t))
	}
	if err := t.CheckDimensions(mRows, mColumns); err != nil {
		return Layout{}, err
	}
	l := Layout{
		Type:     t,
		MRows:    mRows,
		MColumns: mColumns,
		Ports:    t.Ports(mRows, mColumns),
	}
	offDiag := mRows*mColumns - minInt(mRows, mColumns)
	switch t {
	case types.CalT8:
		l.Systems = 1
		l.SysTerms = 2*mRows + 2*mColumns
	case types.CalTE10:
		l.Systems = 1
		l.SysTerms = 2*mRows + 2*mColumns
		l.ELTerms = offDiag
	case types.CalT16:
		l.Systems = 1
		l.SysTerms = 4 * l.Ports * l.Ports
	case types.CalU8:
		l.Systems = 1
		l.SysTerms = 2*mRows + 2*mColumns
	case types.CalUE10:
		l.Systems = 1
		l.SysTerms = 2*mRows + 2*mColumns
		l.ELTerms = offDiag
	case types.CalU16:
		l.Systems = 1
		l.SysTerms = 4 * l.Ports * l.Ports
	case types.CalUE14, types.CalE12:
		l.Systems = mColumns
		l.SysTerms = 2*mRows + 2
		l.ELTerms = offDiag
	}
	return l, nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// OutsideLeakage reports whether the model carries leakage terms outside the
// main linear system.
func (l Layout) OutsideLeakage() bool {
	return l.ELTerms > 0
}

// UnityIndex returns the index of the unity term within sub-system sys.
func (l Layout) UnityIndex(sys int) int {
	switch l.Type {
	case types.CalT8, types.CalTE10:
		// tm11
		return 2*l.MRows + l.MColumns
	case types.CalT16:
		// tm11 of the full Tm block
		return 3 * l.Ports * l.Ports
	case types.CalU8, types.CalUE10, types.CalU16:
		// um11
		return 0
	case types.CalUE14, types.CalE12:
		// um of the driving port in sub-system sys
		return sys
	}
	return 0
}

// Diagonal T/U block offsets within one sub-system. For the 16-term forms
// the blocks are full Ports x Ports matrices stored row-major.

// TsOffset is the offset of the Ts block (T-forms)
func (l Layout) TsOffset() int { return 0 }

// TiOffset is the offset of the Ti block (T-forms)
func (l Layout) TiOffset() int {
	if l.Type == types.CalT16 {
		return l.Ports * l.Ports
	}
	return l.MRows
}

// TxOffset is the offset of the Tx block (T-forms)
func (l Layout) TxOffset() int {
	if l.Type == types.CalT16 {
		return 2 * l.Ports * l.Ports
	}
	return 2 * l.MRows
}

// TmOffset is the offset of the Tm block (T-forms)
func (l Layout) TmOffset() int {
	if l.Type == types.CalT16 {
		return 3 * l.Ports * l.Ports
	}
	return 2*l.MRows + l.MColumns
}

// UmOffset is the offset of the Um block (U-forms, incl. UE14 sub-systems)
func (l Layout) UmOffset() int { return 0 }

// UiOffset is the offset of the Ui block (U-forms)
func (l Layout) UiOffset() int {
	if l.Type == types.CalU16 {
		return l.Ports * l.Ports
	}
	return l.MRows
}

// UxOffset is the offset of the Ux block (U-forms)
func (l Layout) UxOffset() int {
	switch l.Type {
	case types.CalU16:
		return 2 * l.Ports * l.Ports
	case types.CalUE14, types.CalE12:
		return l.MRows + 1
	}
	return l.MRows + l.MColumns
}

// UsOffset is the offset of the Us block (U-forms)
func (l Layout) UsOffset() int {
	switch l.Type {
	case types.CalU16:
		return 3 * l.Ports * l.Ports
	case types.CalUE14, types.CalE12:
		return 2*l.MRows + 1
	}
	return 2*l.MRows + l.MColumns
}

// SolvedTerms is the total number of terms produced by the solver before any
// E12 conversion: the linear-system terms of every sub-system plus the
// outside-system leakage terms.
func (l Layout) SolvedTerms() int {
	return l.Systems*l.SysTerms + l.ELTerms
}

// StoredTerms is the number of terms in the stored calibration. It differs
// from SolvedTerms only for E12, which stores el/er/em per column.
func (l Layout) StoredTerms() int {
	if l.Type == types.CalE12 {
		return 3 * l.MRows * l.MColumns
	}
	return l.SolvedTerms()
}

// ELBase is the index of the first outside-system leakage term within the
// solved term vector.
func (l Layout) ELBase() int {
	return l.Systems * l.SysTerms
}

// ELIndex maps an off-diagonal measurement cell to its index within the
// leakage block. The cells are ordered row-major, skipping the diagonal.
func (l Layout) ELIndex(row, col int) int {
	idx := 0
	for i := 0; i < l.MRows; i++ {
		for j := 0; j < l.MColumns; j++ {
			if i == j {
				continue
			}
			if i == row && j == col {
				return idx
			}
			idx++
		}
	}
	return -1
}

// TermNames lists the stored terms in order, using the conventional
// one-based port subscripts (ts11, um22, el12, ...).
func (l Layout) TermNames() []string {
	names := make([]string, 0, l.StoredTerms())
	switch l.Type {
	case types.CalT8, types.CalTE10:
		for _, blk := range []struct {
			name string
			n    int
		}{{"ts", l.MRows}, {"ti", l.MRows}, {"tx", l.MColumns}, {"tm", l.MColumns}} {
			for i := 0; i < blk.n; i++ {
				names = append(names, fmt.Sprintf("%s%d%d", blk.name, i+1, i+1))
			}
		}
	case types.CalU8, types.CalUE10:
		for _, blk := range []struct {
			name string
			n    int
		}{{"um", l.MRows}, {"ui", l.MColumns}, {"ux", l.MRows}, {"us", l.MColumns}} {
			for i := 0; i < blk.n; i++ {
				names = append(names, fmt.Sprintf("%s%d%d", blk.name, i+1, i+1))
			}
		}
	case types.CalT16, types.CalU16:
		prefixes := []string{"ts", "ti", "tx", "tm"}
		if l.Type == types.CalU16 {
			prefixes = []string{"um", "ui", "ux", "us"}
		}
		for _, pfx := range prefixes {
			for i := 0; i < l.Ports; i++ {
				for j := 0; j < l.Ports; j++ {
					names = append(names, fmt.Sprintf("%s%d%d", pfx, i+1, j+1))
				}
			}
		}
	case types.CalUE14:
		for c := 0; c < l.MColumns; c++ {
			for i := 0; i < l.MRows; i++ {
				names = append(names, fmt.Sprintf("um%d%d_%d", i+1, i+1, c+1))
			}
			names = append(names, fmt.Sprintf("ui%d%d_%d", c+1, c+1, c+1))
			for i := 0; i < l.MRows; i++ {
				names = append(names, fmt.Sprintf("ux%d%d_%d", i+1, i+1, c+1))
			}
			names = append(names, fmt.Sprintf("us%d%d_%d", c+1, c+1, c+1))
		}
	case types.CalE12:
		for c := 0; c < l.MColumns; c++ {
			for _, pfx := range []string{"el", "er", "em"} {
				for i := 0; i < l.MRows; i++ {
					names = append(names, fmt.Sprintf("%s%d%d", pfx, i+1, c+1))
				}
			}
		}
	}
	if l.OutsideLeakage() && l.Type != types.CalE12 {
		for i := 0; i < l.MRows; i++ {
			for j := 0; j < l.MColumns; j++ {
				if i != j {
					names = append(names, fmt.Sprintf("el%d%d", i+1, j+1))
				}
			}
		}
	}
	return names
}
