// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.

// Package core implements the calibration engine: the parameter registry,
// the error-term model layouts, the measurement accumulator, the analytic and
// iterative solvers, the calibration store, and the applicator that corrects
// DUT measurements into S-parameters.
//
// A Registry owns parameters and calibrations and is single-threaded: all
// operations on a Registry, on Builders derived from it, and on the
// calibrations it stores must be serialised by the caller. Distinct
// Registries are independent.
//
// The typical flow is:
//
//	reg := core.NewRegistry()
//	b, _ := reg.NewBuilder(types.CalT8, 2, 2)
//	b.SetFrequencyVector(f)
//	b.AddSingleReflect(mShort, core.HandleShort, 0)
//	... more standards ...
//	b.Solve()
//	ci, _ := reg.AddCalibration("cal", b)
//	reg.Apply(ci, fDUT, mDUT, &out)
package core
