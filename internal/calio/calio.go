// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.
// The author respectfully requests that it not be used for
// military, warfare, or surveillance applications.

package calio

import (
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/bitjungle/vnacal/internal/core"
	"github.com/bitjungle/vnacal/pkg/types"
)

// FormatVersion is the calibration file format written by Save
const FormatVersion = "1.0"

type fileDoc struct {
	Version      string    `yaml:"version"`
	Calibrations []fileCal `yaml:"calibrations"`
}

type fileCal struct {
	Name        string     `yaml:"name"`
	Type        string     `yaml:"type"`
	Rows        int        `yaml:"rows"`
	Columns     int        `yaml:"columns"`
	Z0          []string   `yaml:"z0"`
	Frequencies []float64  `yaml:"frequencies"`
	Terms       []fileTerm `yaml:"terms"`
	Properties  *yaml.Node `yaml:"properties,omitempty"`
}

type fileTerm struct {
	Name   string   `yaml:"name"`
	Values []string `yaml:"values"`
}

func formatComplex(c complex128) string {
	return strconv.FormatComplex(c, 'g', -1, 128)
}

func parseComplex(s string) (complex128, error) {
	c, err := strconv.ParseComplex(s, 128)
	if err != nil {
		return 0, types.NewSyntaxError("invalid complex value %q: %v", s, err)
	}
	return c, nil
}

// Save writes every calibration stored in the registry to w
func Save(reg *core.Registry, w io.Writer) error {
	doc := fileDoc{Version: FormatVersion}
	for _, ci := range reg.Calibrations() {
		cal, err := reg.Calibration(ci)
		if err != nil {
			return err
		}
		fc := fileCal{
			Name:        cal.Name(),
			Type:        string(cal.Type()),
			Rows:        cal.Rows(),
			Columns:     cal.Columns(),
			Frequencies: cal.FrequencyVector(),
			Properties:  cal.Properties(),
		}
		for _, z := range cal.Z0() {
			fc.Z0 = append(fc.Z0, formatComplex(z))
		}
		names := cal.Layout().TermNames()
		for t := 0; t < cal.TermCount(); t++ {
			tv, err := cal.Term(t)
			if err != nil {
				return err
			}
			ft := fileTerm{Name: names[t]}
			for _, v := range tv {
				ft.Values = append(ft.Values, formatComplex(v))
			}
			fc.Terms = append(fc.Terms, ft)
		}
		doc.Calibrations = append(doc.Calibrations, fc)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return types.NewSystemError("encoding calibration file", err)
	}
	return enc.Close()
}

// SaveFile writes the registry's calibrations to path
func SaveFile(reg *core.Registry, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return types.NewSystemError("creating calibration file", err)
	}
	defer f.Close()
	if err := Save(reg, f); err != nil {
		return err
	}
	return f.Close()
}

// Load reads a calibration file and stores its calibrations in the registry,
// replacing same-named entries. It returns the store indices in file order.
func Load(reg *core.Registry, r io.Reader) ([]int, error) {
	var doc fileDoc
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, types.NewSyntaxError("malformed calibration file: %v", err)
	}
	if doc.Version != FormatVersion {
		return nil, types.NewVersionError("unsupported calibration file version %q", doc.Version)
	}
	var indices []int
	for _, fc := range doc.Calibrations {
		t, err := types.ParseCalType(fc.Type)
		if err != nil {
			return nil, types.NewSyntaxError("calibration %q: unknown type %q", fc.Name, fc.Type)
		}
		z0 := make([]complex128, 0, len(fc.Z0))
		for _, zs := range fc.Z0 {
			z, err := parseComplex(zs)
			if err != nil {
				return nil, err
			}
			z0 = append(z0, z)
		}
		terms := make([][]complex128, 0, len(fc.Terms))
		for _, ft := range fc.Terms {
			tv := make([]complex128, 0, len(ft.Values))
			for _, vs := range ft.Values {
				v, err := parseComplex(vs)
				if err != nil {
					return nil, err
				}
				tv = append(tv, v)
			}
			terms = append(terms, tv)
		}
		cal, err := core.NewCalibrationFromData(fc.Name, t, fc.Rows, fc.Columns, fc.Frequencies, z0, terms)
		if err != nil {
			return nil, types.NewSyntaxError("calibration %q: %v", fc.Name, err)
		}
		if fc.Properties != nil {
			cal.SetProperties(fc.Properties)
		}
		ci, err := reg.StoreCalibration(cal)
		if err != nil {
			return nil, err
		}
		indices = append(indices, ci)
	}
	return indices, nil
}

// LoadFile reads the calibration file at path into the registry
func LoadFile(reg *core.Registry, path string) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, types.NewSystemError("opening calibration file", err)
	}
	defer f.Close()
	return Load(reg, f)
}
