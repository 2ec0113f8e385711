// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.
// The author respectfully requests that it not be used for
// military, warfare, or surveillance applications.

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bitjungle/vnacal/internal/version"
)

var verbosity int

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vnacal-cli",
	Short: "vnacal - vector network analyzer calibration toolkit",
	Long: `vnacal solves VNA error-term models (T8, U8, TE10, UE10, UE14, T16, U16, E12)
from measurements of calibration standards and applies the solved calibration
to correct DUT measurements into S-parameters.`,
	Version: version.Short(),
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase output verbosity (repeatable)")
}
