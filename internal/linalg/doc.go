// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.

// Package linalg provides the complex-valued dense linear-algebra kernels the
// calibration solver is built on: LU solve with partial pivoting, Householder
// QR, and least squares via QR.
//
// All kernels work on double-precision complex128 values in column-major
// order, addressing element (i, j) of a matrix with leading dimension ld at
// slice index j*ld + i, and operate on caller-provided storage.
//
// Gonum's cmplxs and stat/distuv packages are used elsewhere in this module;
// gonum's mat package is not, as its complex support stops at CDense storage
// and carries no complex LU, QR, or least-squares driver, which is why these
// kernels exist.
package linalg
