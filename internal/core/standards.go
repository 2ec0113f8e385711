// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.
// The author respectfully requests that it not be used for
// military, warfare, or surveillance applications.

package core

import (
	"github.com/bitjungle/vnacal/pkg/types"
)

// Standard records one measured calibration standard: the measurement matrix
// M (sparse; nil cells were not measured), the S matrix of parameter handles
// over the device ports, and the reachability closure of the S-graph.
type Standard struct {
	index int
	// m[i][j] is the per-frequency measurement of cell (i, j), or nil
	m [][][]complex128
	// s[i][j] is the parameter handle of S-matrix cell (i, j), ports x ports
	s [][]Handle
	// reach[i][j] is true iff the S-graph has a directed path from port j to
	// port i; equations of unreachable off-diagonal cells carry no signal
	reach [][]bool
	// held lists the handles this standard holds in the registry
	held []Handle
}

// checkMeasurement validates the shape of a measurement matrix against the
// builder's dimensions and frequency grid.
func (b *Builder) checkMeasurement(m [][][]complex128) error {
	if b.freqs == nil {
		return types.NewUsageError("set the frequency vector before adding standards")
	}
	if len(m) != b.layout.MRows {
		return types.NewUsageError("measurement matrix needs %d rows, got %d", b.layout.MRows, len(m))
	}
	for i, row := range m {
		if len(row) != b.layout.MColumns {
			return types.NewUsageError("measurement row %d needs %d columns, got %d", i, b.layout.MColumns, len(row))
		}
		for j, cell := range row {
			if cell != nil && len(cell) != len(b.freqs) {
				return types.NewUsageError("measurement cell (%d,%d) needs %d samples, got %d", i, j, len(b.freqs), len(cell))
			}
		}
	}
	return nil
}

// matchFilledS returns a ports x ports S matrix filled with the matched
// termination.
func (b *Builder) matchFilledS() [][]Handle {
	p := b.layout.Ports
	s := make([][]Handle, p)
	for i := range s {
		s[i] = make([]Handle, p)
		for j := range s[i] {
			s[i][j] = HandleMatch
		}
	}
	return s
}

// addStandard validates, holds, and records a fully-expanded standard
func (b *Builder) addStandard(m [][][]complex128, s [][]Handle) error {
	if b.freed {
		return types.NewUsageError("builder has been freed")
	}
	if err := b.checkMeasurement(m); err != nil {
		return err
	}
	// Validate every handle before taking any holds, so a bad cell cannot
	// leave earlier cells held.
	for i := range s {
		for j := range s[i] {
			if _, err := b.reg.getParameter(s[i][j]); err != nil {
				return types.NewUsageError("S cell (%d,%d): invalid parameter handle %d", i, j, s[i][j])
			}
		}
	}
	std := &Standard{index: len(b.standards)}
	for i := range s {
		for j := range s[i] {
			p, _ := b.reg.getParameter(s[i][j])
			p.holds++
			std.held = append(std.held, s[i][j])
			if p.kind == unknownParam || p.kind == correlatedParam {
				b.registerUnknown(p)
			}
		}
	}
	// Deep-copy the measurement so later caller mutation cannot skew the solve.
	std.m = make([][][]complex128, len(m))
	for i := range m {
		std.m[i] = make([][]complex128, len(m[i]))
		for j := range m[i] {
			if m[i][j] != nil {
				std.m[i][j] = append([]complex128(nil), m[i][j]...)
			}
		}
	}
	std.s = s
	std.reach = b.reachability(s)
	b.standards = append(b.standards, std)
	return nil
}

// reachability computes the transitive closure of the standard's signal
// graph with Warshall's algorithm: reach[i][j] reports a directed path from
// port j to port i. Cells holding a constant-zero parameter carry no edge;
// unknown and correlated parameters are assumed non-zero.
func (b *Builder) reachability(s [][]Handle) [][]bool {
	p := b.layout.Ports
	reach := make([][]bool, p)
	for i := 0; i < p; i++ {
		reach[i] = make([]bool, p)
		for j := 0; j < p; j++ {
			reach[i][j] = !b.reg.isConstantZero(s[i][j])
		}
	}
	for k := 0; k < p; k++ {
		for i := 0; i < p; i++ {
			for j := 0; j < p; j++ {
				if reach[i][k] && reach[k][j] {
					reach[i][j] = true
				}
			}
		}
	}
	return reach
}

// AddSingleReflect adds a one-port reflect standard connected to port, the
// remaining ports terminated.
func (b *Builder) AddSingleReflect(m [][][]complex128, h Handle, port int) error {
	if port < 0 || port >= b.layout.Ports {
		return types.NewUsageError("port %d out of range [0, %d)", port, b.layout.Ports)
	}
	s := b.matchFilledS()
	s[port][port] = h
	return b.addStandard(m, s)
}

// AddDoubleReflect adds two one-port reflect standards measured together on
// port1 and port2.
func (b *Builder) AddDoubleReflect(m [][][]complex128, h1, h2 Handle, port1, port2 int) error {
	if port1 == port2 {
		return types.NewUsageError("double reflect needs distinct ports, got %d twice", port1)
	}
	for _, p := range []int{port1, port2} {
		if p < 0 || p >= b.layout.Ports {
			return types.NewUsageError("port %d out of range [0, %d)", p, b.layout.Ports)
		}
	}
	s := b.matchFilledS()
	s[port1][port1] = h1
	s[port2][port2] = h2
	return b.addStandard(m, s)
}

// AddThrough adds a perfect through between port1 and port2
func (b *Builder) AddThrough(m [][][]complex128, port1, port2 int) error {
	if port1 == port2 {
		return types.NewUsageError("through needs distinct ports, got %d twice", port1)
	}
	for _, p := range []int{port1, port2} {
		if p < 0 || p >= b.layout.Ports {
			return types.NewUsageError("port %d out of range [0, %d)", p, b.layout.Ports)
		}
	}
	s := b.matchFilledS()
	s[port1][port2] = handleOne
	s[port2][port1] = handleOne
	return b.addStandard(m, s)
}

// AddLine adds a two-port standard with the given S matrix between port1 and
// port2. The handles are given row-major: s11, s12, s21, s22.
func (b *Builder) AddLine(m [][][]complex128, s []Handle, port1, port2 int) error {
	if len(s) != 4 {
		return types.NewUsageError("line standard needs 4 S handles, got %d", len(s))
	}
	if port1 == port2 {
		return types.NewUsageError("line needs distinct ports, got %d twice", port1)
	}
	for _, p := range []int{port1, port2} {
		if p < 0 || p >= b.layout.Ports {
			return types.NewUsageError("port %d out of range [0, %d)", p, b.layout.Ports)
		}
	}
	full := b.matchFilledS()
	full[port1][port1] = s[0]
	full[port1][port2] = s[1]
	full[port2][port1] = s[2]
	full[port2][port2] = s[3]
	return b.addStandard(m, full)
}

// AddStandard adds a general standard whose S matrix is given over its own
// port numbering, with portMap mapping standard ports to calibration ports.
// Cell-tagged parameter handles are checked for a consistent port mapping.
func (b *Builder) AddStandard(m [][][]complex128, s [][]Handle, portMap []int) error {
	k := len(s)
	if k == 0 {
		return types.NewUsageError("empty S matrix")
	}
	for i, row := range s {
		if len(row) != k {
			return types.NewUsageError("S matrix must be square, row %d has %d cells", i, len(row))
		}
	}
	if portMap == nil {
		portMap = make([]int, k)
		for i := range portMap {
			portMap[i] = i
		}
	}
	if len(portMap) != k {
		return types.NewUsageError("port map needs %d entries, got %d", k, len(portMap))
	}
	seen := make(map[int]bool)
	for sp, cp := range portMap {
		if cp < 0 || cp >= b.layout.Ports {
			return types.NewUsageError("standard port %d maps to invalid calibration port %d", sp, cp)
		}
		if seen[cp] {
			return types.NewUsageError("calibration port %d mapped twice", cp)
		}
		seen[cp] = true
	}
	if _, err := b.reg.analyzePortMatrix(s); err != nil {
		return err
	}
	full := b.matchFilledS()
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			full[portMap[i]][portMap[j]] = s[i][j]
		}
	}
	return b.addStandard(m, full)
}
