// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.
// The author respectfully requests that it not be used for
// military, warfare, or surveillance applications.

package core

import (
	"github.com/bitjungle/vnacal/pkg/types"
)

// term is one summand of an equation: sign * M(mRow,mCol) * S(sRow,sCol) *
// errorterm(local). Negative cell indices mean the factor is absent. The
// unity term of a sub-system is marked by Layout.coefficient returning -1 and is
// moved to the right-hand side by the solver.
type term struct {
	// local is the term index within the sub-system, including the unity term
	local int
	neg   bool
	mRow  int
	mCol  int
	sRow  int
	sCol  int
}

// equation is the expansion of the error-model identity for one measurement
// cell of one standard.
type equation struct {
	std   *Standard
	sys   int
	row   int
	col   int
	terms []term
}

// coefficient maps a term's local index to its column in the sub-system's
// unknown vector, or -1 for the unity term.
func (l Layout) coefficient(sys int, t term) int {
	unity := l.UnityIndex(sys)
	switch {
	case t.local == unity:
		return -1
	case t.local > unity:
		return t.local - 1
	default:
		return t.local
	}
}

// equationTerms expands the error-model identity for cell (i, j) of a
// standard within sub-system sys. The expansion follows the model algebra:
//
//	T-forms: Ts·S + Ti − M·Tx·S − M·Tm = 0
//	U-forms: Um·M + Ui − S·Ux·M − S·Us = 0
//	UE14:    per-column U with scalar ui, us on the driving port
func (b *Builder) equationTerms(sys, i, j int) []term {
	l := b.layout
	var ts []term
	switch l.Type {
	case types.CalT8, types.CalTE10:
		ts = append(ts, term{local: l.TsOffset() + i, mRow: -1, mCol: -1, sRow: i, sCol: j})
		if i == j {
			ts = append(ts, term{local: l.TiOffset() + i, mRow: -1, mCol: -1, sRow: -1, sCol: -1})
		}
		for k := 0; k < l.MColumns; k++ {
			ts = append(ts, term{local: l.TxOffset() + k, neg: true, mRow: i, mCol: k, sRow: k, sCol: j})
		}
		ts = append(ts, term{local: l.TmOffset() + j, neg: true, mRow: i, mCol: j, sRow: -1, sCol: -1})

	case types.CalT16:
		p := l.Ports
		for k := 0; k < p; k++ {
			ts = append(ts, term{local: l.TsOffset() + i*p + k, mRow: -1, mCol: -1, sRow: k, sCol: j})
		}
		ts = append(ts, term{local: l.TiOffset() + i*p + j, mRow: -1, mCol: -1, sRow: -1, sCol: -1})
		for k := 0; k < p; k++ {
			for m := 0; m < p; m++ {
				ts = append(ts, term{local: l.TxOffset() + k*p + m, neg: true, mRow: i, mCol: k, sRow: m, sCol: j})
			}
		}
		for k := 0; k < p; k++ {
			ts = append(ts, term{local: l.TmOffset() + k*p + j, neg: true, mRow: i, mCol: k, sRow: -1, sCol: -1})
		}

	case types.CalU8, types.CalUE10:
		ts = append(ts, term{local: l.UmOffset() + i, mRow: i, mCol: j, sRow: -1, sCol: -1})
		if i == j {
			ts = append(ts, term{local: l.UiOffset() + i, mRow: -1, mCol: -1, sRow: -1, sCol: -1})
		}
		for k := 0; k < l.MRows; k++ {
			ts = append(ts, term{local: l.UxOffset() + k, neg: true, mRow: k, mCol: j, sRow: i, sCol: k})
		}
		ts = append(ts, term{local: l.UsOffset() + j, neg: true, mRow: -1, mCol: -1, sRow: i, sCol: j})

	case types.CalU16:
		p := l.Ports
		for k := 0; k < p; k++ {
			ts = append(ts, term{local: l.UmOffset() + i*p + k, mRow: k, mCol: j, sRow: -1, sCol: -1})
		}
		ts = append(ts, term{local: l.UiOffset() + i*p + j, mRow: -1, mCol: -1, sRow: -1, sCol: -1})
		for k := 0; k < p; k++ {
			for m := 0; m < p; m++ {
				ts = append(ts, term{local: l.UxOffset() + k*p + m, neg: true, mRow: m, mCol: j, sRow: i, sCol: k})
			}
		}
		for k := 0; k < p; k++ {
			ts = append(ts, term{local: l.UsOffset() + k*p + j, neg: true, mRow: -1, mCol: -1, sRow: i, sCol: k})
		}

	case types.CalUE14, types.CalE12:
		c := sys
		ts = append(ts, term{local: l.UmOffset() + i, mRow: i, mCol: c, sRow: -1, sCol: -1})
		if i == c {
			ts = append(ts, term{local: l.UiOffset(), mRow: -1, mCol: -1, sRow: -1, sCol: -1})
		}
		for k := 0; k < l.MRows; k++ {
			ts = append(ts, term{local: l.UxOffset() + k, neg: true, mRow: k, mCol: c, sRow: i, sCol: k})
		}
		ts = append(ts, term{local: l.UsOffset(), neg: true, mRow: -1, mCol: -1, sRow: i, sCol: c})
	}
	return ts
}

// measurementComplete reports whether every M cell the equation references is
// present in the standard.
func (std *Standard) measurementComplete(terms []term) bool {
	for _, t := range terms {
		if t.mRow >= 0 && std.m[t.mRow][t.mCol] == nil {
			return false
		}
	}
	return true
}

// buildSystems walks the layout and the added standards and emits the
// equations of every sub-system. Off-diagonal cells without a signal path are
// omitted from the linear system for every type except T16/U16; for layouts
// with outside-system leakage their measurements feed the leakage aggregator
// instead.
func (b *Builder) buildSystems(leak *leakageAccumulator) [][]*equation {
	l := b.layout
	systems := make([][]*equation, l.Systems)
	inSystemLeakage := l.Type == types.CalT16 || l.Type == types.CalU16

	for sys := 0; sys < l.Systems; sys++ {
		for _, std := range b.standards {
			for i := 0; i < l.MRows; i++ {
				for j := 0; j < l.MColumns; j++ {
					if l.Systems > 1 && j != sys {
						continue
					}
					if i != j && !inSystemLeakage && !std.reach[i][j] {
						if leak != nil && std.m[i][j] != nil {
							leak.add(l.ELIndex(i, j), std.m[i][j])
						}
						continue
					}
					terms := b.equationTerms(sys, i, j)
					if !std.measurementComplete(terms) {
						continue
					}
					systems[sys] = append(systems[sys], &equation{
						std: std, sys: sys, row: i, col: j, terms: terms,
					})
				}
			}
		}
	}
	return systems
}

// iterState names the states of the equation iterator
type iterState int

const (
	iterInit iterState = iota
	iterSystem
	iterEquation
	iterTerm
	iterEndTerms
	iterEndEquations
)

// eqIterator walks sub-systems, then equations, then terms, with explicit
// states so that the solver and the weight calculator consume the same
// sequence. Advancing to the next equation is legal mid-term; re-entering
// EndEquations is idempotent.
type eqIterator struct {
	systems [][]*equation
	state   iterState
	sys     int
	eq      int
	termIdx int
}

func newEqIterator(systems [][]*equation) *eqIterator {
	return &eqIterator{systems: systems, state: iterInit, sys: -1}
}

// NextSystem advances to the first equation list of the next sub-system,
// returning false past the last one.
func (it *eqIterator) NextSystem() bool {
	it.sys++
	if it.sys >= len(it.systems) {
		it.state = iterEndEquations
		return false
	}
	it.state = iterSystem
	it.eq = -1
	return true
}

// NextEquation advances within the current sub-system. It may be called
// mid-term.
func (it *eqIterator) NextEquation() bool {
	switch it.state {
	case iterInit, iterEndEquations:
		return false
	}
	it.eq++
	if it.eq >= len(it.systems[it.sys]) {
		it.state = iterEndEquations
		return false
	}
	it.state = iterEquation
	it.termIdx = -1
	return true
}

// NextTerm advances to the next term of the current equation
func (it *eqIterator) NextTerm() bool {
	switch it.state {
	case iterEquation, iterTerm:
	default:
		return false
	}
	it.termIdx++
	if it.termIdx >= len(it.systems[it.sys][it.eq].terms) {
		it.state = iterEndTerms
		return false
	}
	it.state = iterTerm
	return true
}

// Equation returns the current equation
func (it *eqIterator) Equation() *equation {
	return it.systems[it.sys][it.eq]
}

// Term returns the current term
func (it *eqIterator) Term() term {
	return it.systems[it.sys][it.eq].terms[it.termIdx]
}

// termValue evaluates the numeric coefficient of a term at frequency index
// fi: sign * M * S, with the current unknown-parameter vector p substituted
// for unknown S cells and outside-system leakage subtracted from off-diagonal
// M samples.
func (b *Builder) termValue(std *Standard, t term, fi int, p []complex128, elMeans []complex128) (complex128, error) {
	v := complex(1, 0)
	if t.mRow >= 0 {
		m := std.m[t.mRow][t.mCol][fi]
		if elMeans != nil && t.mRow != t.mCol && b.layout.OutsideLeakage() {
			m -= elMeans[b.layout.ELIndex(t.mRow, t.mCol)]
		}
		v *= m
	}
	if t.sRow >= 0 {
		sv, err := b.sValue(std, t.sRow, t.sCol, fi, p)
		if err != nil {
			return 0, err
		}
		v *= sv
	}
	if t.neg {
		v = -v
	}
	return v, nil
}

// sValue evaluates one S cell of a standard at frequency index fi, taking
// unknown and correlated parameters from the current iterate p.
func (b *Builder) sValue(std *Standard, i, j, fi int, p []complex128) (complex128, error) {
	h := std.s[i][j]
	if p != nil {
		if idx, ok := b.unknownIdx[h]; ok {
			return p[idx], nil
		}
	}
	return b.reg.ParameterValue(h, b.freqs[fi])
}

// termDerivative evaluates the derivative of a term's coefficient with
// respect to unknown parameter u: the term with its S factor replaced by one
// when that S cell holds u, zero otherwise.
func (b *Builder) termDerivative(std *Standard, t term, fi int, u int, elMeans []complex128) complex128 {
	if t.sRow < 0 {
		return 0
	}
	idx, ok := b.unknownIdx[std.s[t.sRow][t.sCol]]
	if !ok || idx != u {
		return 0
	}
	v := complex(1, 0)
	if t.mRow >= 0 {
		m := std.m[t.mRow][t.mCol][fi]
		if elMeans != nil && t.mRow != t.mCol && b.layout.OutsideLeakage() {
			m -= elMeans[b.layout.ELIndex(t.mRow, t.mCol)]
		}
		v *= m
	}
	if t.neg {
		v = -v
	}
	return v
}
