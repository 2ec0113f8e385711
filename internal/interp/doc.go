// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.

// Package interp implements the piecewise local interpolation used to
// evaluate frequency-dependent quantities (parameter vectors, solved error
// terms) between their sample frequencies.
//
// Evaluation picks the window of sample points nearest the query, seeded by a
// mutable segment hint so that ascending query sweeps advance the window in
// amortised constant time, and interpolates inside the window with a Neville
// tableau. A window passing through a polynomial of degree <= window-1 is
// reproduced to round-off, and evaluation at a sample point returns that
// sample exactly.
package interp
