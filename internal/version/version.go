// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.

// Package version records the build identity of the vnacal tools.
package version

import (
	"fmt"
	"runtime"
)

// Build identity, overridden at release time via
//
//	go build -ldflags "-X github.com/bitjungle/vnacal/internal/version.Number=x.y.z \
//	                   -X github.com/bitjungle/vnacal/internal/version.Commit=<sha> \
//	                   -X github.com/bitjungle/vnacal/internal/version.Date=<rfc3339>"
var (
	Number = "0.1.0-dev"
	Commit = "unknown"
	Date   = "unknown"
)

// Short returns the bare release number, suitable for cobra's --version flag.
func Short() string { return Number }

// Full returns a one-line description of the build, including the Go runtime
// and target platform.
func Full() string {
	return fmt.Sprintf("vnacal %s (commit %s, built %s) %s %s/%s",
		Number, Commit, Date, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
