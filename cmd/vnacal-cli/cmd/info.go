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

	"github.com/bitjungle/vnacal/internal/calio"
	"github.com/bitjungle/vnacal/internal/core"
)

var inputFile string

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Display information about a calibration file",
	Long: `Info displays the contents of a saved calibration file.

It shows:
- File path and size
- The calibrations stored in the file
- Per calibration: error-term model, dimensions, frequency range and z0
- With -v, the names of the individual error terms

Example:
  vnacal-cli info -i bench.vnacal`,
	RunE: runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)

	infoCmd.Flags().StringVarP(&inputFile, "input", "i", "", "Calibration file (required)")
	infoCmd.MarkFlagRequired("input")
}

func runInfo(cmd *cobra.Command, args []string) error {
	fileInfo, err := os.Stat(inputFile)
	if err != nil {
		return fmt.Errorf("failed to access file: %w", err)
	}

	reg := core.NewRegistry()
	indices, err := calio.LoadFile(reg, inputFile)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	fmt.Println("Calibration File")
	fmt.Println("═══════════════════════════════════════════════════════")
	fmt.Printf("Path:         %s\n", inputFile)
	fmt.Printf("Size:         %d bytes\n", fileInfo.Size())
	fmt.Printf("Calibrations: %d\n", len(indices))

	for _, ci := range indices {
		cal, err := reg.Calibration(ci)
		if err != nil {
			return err
		}
		fmt.Printf("\nCalibration %q\n", cal.Name())
		fmt.Printf("Type:         %s\n", cal.Type())
		fmt.Printf("Dimensions:   %dx%d\n", cal.Rows(), cal.Columns())
		fmt.Printf("Frequencies:  %d (%.6g Hz to %.6g Hz)\n", cal.Frequencies(), cal.FMin(), cal.FMax())
		fmt.Printf("Error terms:  %d\n", cal.TermCount())
		z0 := cal.Z0()
		fmt.Printf("Z0:           %v\n", z0)
		if verbosity > 0 {
			fmt.Println("Terms:")
			for i, name := range cal.Layout().TermNames() {
				fmt.Printf("%3d. %s\n", i+1, name)
			}
		}
	}
	return nil
}
