package fusion

import (
	"errors"
	"fmt"

	"github.com/monocle-h2020/camera-calibration-sub000/spectral"
)

var (
	// ErrNoDatasets is returned when Fuse is called with nothing to fuse
	ErrNoDatasets = errors.New("no datasets to fuse")

	// ErrInsufficientOverlap is returned when fewer than MinFitPoints positions
	// are shared between a dataset and its comparison in one band
	ErrInsufficientOverlap = errors.New("insufficient overlap for ratio fit")

	// ErrNoComparison is returned when a dataset shares no wavelength with the
	// baseline nor with any dataset normalized before it
	ErrNoComparison = errors.New("no usable comparison dataset")

	// ErrWavelengthCollision is returned when one dataset holds two distinct
	// wavelengths closer than GridTolerance
	ErrWavelengthCollision = errors.New("two wavelengths of one dataset collide on the grid")

	// ErrNoSignal is returned when a fused band has no positive value to normalize by
	ErrNoSignal = errors.New("fused band has no positive signal")
)

// FitError reports a ratio fit that could not be performed for one dataset and band
type FitError struct {
	Dataset    string
	Comparison string
	Band       spectral.Band

	// Points is the number of usable overlap positions
	Points int

	// Lo and Hi bound the dataset's coverage of the band, in nm
	Lo, Hi float64

	// Err is ErrInsufficientOverlap or the solver failure
	Err error
}

func (e *FitError) Error() string {
	return fmt.Sprintf("normalizing %q band %v against %q (%d usable overlap points, data spans %g-%g nm): %v",
		e.Dataset, e.Band, e.Comparison, e.Points, e.Lo, e.Hi, e.Err)
}

func (e *FitError) Unwrap() error {
	return e.Err
}

// ComparisonError reports a dataset that no relative scale can be established for
type ComparisonError struct {
	Dataset string

	// Index is the dataset's position in the input
	Index int

	// Lo and Hi bound the dataset's coverage, in nm
	Lo, Hi float64
}

func (e *ComparisonError) Error() string {
	return fmt.Sprintf("dataset %q (#%d, %g-%g nm) overlaps neither the baseline nor any dataset normalized before it: %v",
		e.Dataset, e.Index, e.Lo, e.Hi, ErrNoComparison)
}

func (e *ComparisonError) Unwrap() error {
	return ErrNoComparison
}
