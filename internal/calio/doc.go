// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.

// Package calio saves and loads calibration sets as YAML documents. The
// format holds a version marker, and per calibration its model type,
// measurement dimensions, reference impedances, frequency grid, named error
// terms, and the optional property tree. Complex values are encoded in Go
// constant syntax at full precision, so a save/load round trip preserves the
// error terms bit for bit.
package calio
