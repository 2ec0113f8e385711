// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.

// Package types provides the core data structures shared across the vnacal
// calibration engine: the error-term model identifiers, the structured error
// type, and the network-parameter data container the applicator writes into.
//
// # Core Types
//
//   - CalType: the family of error-term models (T8, U8, TE10, UE10, UE14, T16, U16, E12)
//   - CalError: structured error with a category (usage, math, system, syntax, version)
//   - NetworkData: frequency-indexed S-parameter container with per-port reference impedances
//
// Complex matrices are stored row-major as [][]complex128 where data[i][j]
// addresses row i, column j.
package types
