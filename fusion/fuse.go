// Package fusion stitches partial spectral response measurements taken under
// several instrument configurations into one peak normalized response curve
// per colour band.
//
// There is no absolute reference: the most complete dataset is the baseline,
// every other dataset is rescaled onto it with a smooth ratio fitted over the
// wavelengths they share, and the co-scaled datasets are then combined with
// signal to noise weights.  The pipeline is
//
//	Unify -> NewOverlap -> NewPlan -> Normalize -> Combine -> Finalize
//
// and Fuse runs all of it.  Each step is exported so a run can be audited one
// stage at a time.  Nothing here keeps state between calls.
package fusion

import (
	"github.com/monocle-h2020/camera-calibration-sub000/spectral"
)

// Options tune a fusion run
type Options struct {
	// RepresentativeBand is the band whose coverage stands in for all four
	// when counting overlap
	RepresentativeBand spectral.Band

	// SkipFailed excludes datasets or bands that cannot be normalized instead
	// of aborting.  The errors are still returned in Result.Failures.
	SkipFailed bool
}

// DefaultOptions are strict, and count overlap on the green band
func DefaultOptions() Options {
	return Options{RepresentativeBand: spectral.G}
}

// Result is everything a fusion run produced
type Result struct {
	// Grid is the union wavelength axis
	Grid []float64

	// Inputs holds the dataset names, in input order
	Inputs []string

	Overlap Overlap
	Plan    Plan

	// Normalized holds the co-scaled datasets on the grid, in input order
	Normalized []spectral.Dataset

	Corrections []Correction

	// Curve is the fused, peak normalized response
	Curve spectral.Dataset

	Bandwidth Bandwidth

	Diagnostics []Diagnostic
	Failures    []error
}

// Fuse runs the full pipeline over sets.  The inputs are not modified.
func Fuse(sets []spectral.Dataset, opts Options) (Result, error) {
	var res Result
	if len(sets) == 0 {
		return res, ErrNoDatasets
	}
	for _, d := range sets {
		res.Inputs = append(res.Inputs, d.Name)
	}

	grid, aligned, diags, err := Unify(sets)
	if err != nil {
		return res, err
	}
	res.Grid = grid
	res.Diagnostics = append(res.Diagnostics, diags...)

	res.Overlap = NewOverlap(aligned, opts.RepresentativeBand)
	res.Plan = NewPlan(res.Overlap)

	norm, err := Normalize(aligned, res.Plan, res.Overlap, opts.SkipFailed)
	res.Diagnostics = append(res.Diagnostics, norm.Diagnostics...)
	res.Corrections = norm.Corrections
	res.Failures = norm.Failures
	if err != nil {
		return res, err
	}
	res.Normalized = norm.Sets

	fused, diags := Combine(grid, norm.Sets)
	res.Diagnostics = append(res.Diagnostics, diags...)

	res.Curve, res.Bandwidth, diags, err = Finalize(fused)
	res.Diagnostics = append(res.Diagnostics, diags...)
	return res, err
}
