// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.
// The author respectfully requests that it not be used for
// military, warfare, or surveillance applications.

package cmd

import (
	"fmt"
	"math/cmplx"
	"math/rand"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/bitjungle/vnacal/internal/core"
	"github.com/bitjungle/vnacal/pkg/testutil"
	"github.com/bitjungle/vnacal/pkg/types"
)

var (
	abortOnMismatch bool
	selftestSeed    int64
)

// selftestCmd runs synthetic round-trip checks of the solver
var selftestCmd = &cobra.Command{
	Use:   "selftest",
	Short: "Run synthetic solver round-trip checks",
	Long: `Selftest synthesizes measurements of known standards from random error
terms, solves the T8, U8, TE10, UE10, UE14 and E12 models, and verifies that the solved terms match
the synthetic truth. A TRL check exercises the iterative solver with unknown
standards. The exit status is zero when every check passes.`,
	RunE: runSelftest,
}

func init() {
	rootCmd.AddCommand(selftestCmd)
	selftestCmd.Flags().BoolVarP(&abortOnMismatch, "abort", "a", false, "Abort on the first mismatch")
	selftestCmd.Flags().Int64Var(&selftestSeed, "seed", 1, "Random seed")
}

func selftestLogger() *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: false})
	switch {
	case verbosity >= 2:
		logger.SetLevel(log.DebugLevel)
	case verbosity == 1:
		logger.SetLevel(log.InfoLevel)
	default:
		logger.SetLevel(log.WarnLevel)
	}
	return logger
}

func runSelftest(cmd *cobra.Command, args []string) error {
	logger := selftestLogger()
	rng := rand.New(rand.NewSource(selftestSeed))
	failures := 0

	fail := func(format string, args ...interface{}) error {
		failures++
		logger.Error(fmt.Sprintf(format, args...))
		if abortOnMismatch {
			return fmt.Errorf("selftest aborted: "+format, args...)
		}
		return nil
	}

	for _, typ := range []types.CalType{
		types.CalT8, types.CalU8, types.CalTE10, types.CalUE10,
		types.CalUE14, types.CalE12,
	} {
		worst, err := soltRoundTrip(rng, typ, logger)
		if err != nil {
			if aerr := fail("%s: solve failed: %v", typ, err); aerr != nil {
				return aerr
			}
			continue
		}
		logger.Info("SOLT round trip", "type", typ, "worst", worst)
		if worst > 1e-8 {
			if aerr := fail("%s: worst term error %g exceeds 1e-8", typ, worst); aerr != nil {
				return aerr
			}
		}
	}

	if err := trlRoundTrip(rng, logger); err != nil {
		if aerr := fail("TRL: %v", err); aerr != nil {
			return aerr
		}
	}

	if failures > 0 {
		return fmt.Errorf("selftest: %d check(s) failed", failures)
	}
	logger.Info("selftest passed")
	fmt.Println("selftest: all checks passed")
	return nil
}

// soltRoundTrip solves a synthetic two-port SOLT calibration and returns the
// worst term deviation.
func soltRoundTrip(rng *rand.Rand, typ types.CalType, logger *log.Logger) (float64, error) {
	reg := core.NewRegistry()
	b, err := reg.NewBuilder(typ, 2, 2)
	if err != nil {
		return 0, err
	}
	if verbosity >= 2 {
		b.SetLogger(logger)
	}
	if err := b.SetFrequencyVector([]float64{1e9, 2e9}); err != nil {
		return 0, err
	}
	terms := testutil.RandomErrorTerms(rng, b.Layout(), 2)

	add := func(s [][]complex128, record func([][][]complex128) error) error {
		m, err := testutil.SynthesizeStandard(b.Layout(), terms, s)
		if err != nil {
			return err
		}
		return record(m)
	}
	if err := add(testutil.ReflectS(2, -1, -1), func(m [][][]complex128) error {
		return b.AddDoubleReflect(m, core.HandleShort, core.HandleShort, 0, 1)
	}); err != nil {
		return 0, err
	}
	if err := add(testutil.ReflectS(2, 1, 1), func(m [][][]complex128) error {
		return b.AddDoubleReflect(m, core.HandleOpen, core.HandleOpen, 0, 1)
	}); err != nil {
		return 0, err
	}
	if err := add(testutil.ReflectS(2, 0, 0), func(m [][][]complex128) error {
		return b.AddDoubleReflect(m, core.HandleMatch, core.HandleMatch, 0, 1)
	}); err != nil {
		return 0, err
	}
	if err := add(testutil.ThroughS(2, 0, 1), func(m [][][]complex128) error {
		return b.AddThrough(m, 0, 1)
	}); err != nil {
		return 0, err
	}
	if err := b.Solve(); err != nil {
		return 0, err
	}
	return b.ValidateCalibration(terms)
}

// trlRoundTrip exercises the iterative solver with an unknown reflect and an
// unknown line.
func trlRoundTrip(rng *rand.Rand, logger *log.Logger) error {
	reg := core.NewRegistry()
	b, err := reg.NewBuilder(types.CalT8, 2, 2)
	if err != nil {
		return err
	}
	if verbosity >= 2 {
		b.SetLogger(logger)
	}
	if err := b.SetFrequencyVector([]float64{1e9}); err != nil {
		return err
	}
	terms := testutil.RandomErrorTerms(rng, b.Layout(), 1)

	rActual := complex(-0.97, 0.08)
	lActual := complex(0.05, 0.97)

	m, err := testutil.SynthesizeStandard(b.Layout(), terms, testutil.ThroughS(2, 0, 1))
	if err != nil {
		return err
	}
	if err := b.AddThrough(m, 0, 1); err != nil {
		return err
	}

	rGuess, _ := reg.MakeScalarParameter(-1)
	rU, err := reg.MakeUnknownParameter(rGuess)
	if err != nil {
		return err
	}
	m, err = testutil.SynthesizeStandard(b.Layout(), terms, testutil.ReflectS(2, rActual, rActual))
	if err != nil {
		return err
	}
	if err := b.AddDoubleReflect(m, rU, rU, 0, 1); err != nil {
		return err
	}

	lGuess, _ := reg.MakeScalarParameter(1i)
	lU, err := reg.MakeUnknownParameter(lGuess)
	if err != nil {
		return err
	}
	m, err = testutil.SynthesizeStandard(b.Layout(), terms, testutil.LineS(2, 0, 1, lActual))
	if err != nil {
		return err
	}
	if err := b.AddLine(m, []core.Handle{core.HandleZero, lU, lU, core.HandleZero}, 0, 1); err != nil {
		return err
	}

	if err := b.Solve(); err != nil {
		return err
	}
	rSolved, err := reg.ParameterValue(rU, 1e9)
	if err != nil {
		return err
	}
	lSolved, err := reg.ParameterValue(lU, 1e9)
	if err != nil {
		return err
	}
	logger.Info("TRL round trip",
		"reflect_err", cmplx.Abs(rSolved-rActual),
		"line_err", cmplx.Abs(lSolved-lActual))
	if cmplx.Abs(rSolved-rActual) > 1e-6 || cmplx.Abs(lSolved-lActual) > 1e-6 {
		return fmt.Errorf("TRL did not converge: reflect %v, line %v", rSolved, lSolved)
	}
	return nil
}
