package fusion

import (
	"errors"
	"math"

	"github.com/monocle-h2020/camera-calibration-sub000/mathx"
	"github.com/monocle-h2020/camera-calibration-sub000/spectral"
)

const (
	// RatioDegree is the degree of the polynomial fitted to the overlap ratio
	RatioDegree = 2

	// MinFitPoints is the fewest overlap positions a ratio fit accepts
	MinFitPoints = RatioDegree + 1
)

// Correction records how one band of one dataset was brought onto the
// baseline scale: the dataset was divided by Poly, which was fitted to
// dataset/comparison over Points shared positions.
type Correction struct {
	Dataset    int              `json:"dataset"`
	Comparison int              `json:"comparison"`
	Band       spectral.Band    `json:"band"`
	Points     int              `json:"points"`
	Poly       mathx.Polynomial `json:"poly"`
}

// Normalization is the outcome of ratio normalizing a set of grid aligned datasets
type Normalization struct {
	// Sets holds one slot per input dataset.  The baseline slot is a copy of the
	// input; every other slot is the co-scaled dataset.  A band that could not be
	// normalized (only with skipFailed) is left with no valid entries.
	Sets []spectral.Dataset

	Corrections []Correction
	Diagnostics []Diagnostic

	// Failures collects the fatal errors tolerated under skipFailed
	Failures []error
}

// Normalize rescales every non-baseline dataset onto the baseline's relative
// scale, band by band, in plan order.  Each dataset is compared with the
// baseline if they overlap, otherwise with the already normalized dataset it
// overlaps most.  Inputs are not modified.
//
// The first FitError or ComparisonError aborts the run unless skipFailed is
// set, in which case the affected band (or the whole dataset, for a missing
// comparison) is excluded and the error is kept in Failures.
func Normalize(sets []spectral.Dataset, plan Plan, o Overlap, skipFailed bool) (Normalization, error) {
	n := Normalization{Sets: make([]spectral.Dataset, len(sets))}
	done := make([]bool, len(sets))
	n.Sets[plan.Baseline] = sets[plan.Baseline].Clone()
	done[plan.Baseline] = true

	for _, d := range plan.Order {
		src := sets[d]
		c, ok := comparisonFor(d, plan, o, done)
		if !ok {
			lo, hi := coverage(src)
			err := &ComparisonError{Dataset: src.Name, Index: d, Lo: lo, Hi: hi}
			if !skipFailed {
				return n, err
			}
			n.Failures = append(n.Failures, err)
			n.Sets[d] = spectral.New(src.Name, src.Wavelengths)
			continue
		}
		out := src.Clone()
		ref := n.Sets[c]
		for _, b := range spectral.Bands {
			poly, points, err := fitRatio(ref, src, b)
			if err != nil {
				lo, hi, _ := src.Span(b)
				ferr := &FitError{Dataset: src.Name, Comparison: ref.Name, Band: b, Points: points, Lo: lo, Hi: hi, Err: err}
				if !skipFailed {
					return n, ferr
				}
				n.Failures = append(n.Failures, ferr)
				for i := range out.Wavelengths {
					out.Unset(b, i)
				}
				continue
			}
			n.Diagnostics = append(n.Diagnostics, rescale(out, b, poly)...)
			n.Corrections = append(n.Corrections, Correction{Dataset: d, Comparison: c, Band: b, Points: points, Poly: poly})
		}
		n.Sets[d] = out
		done[d] = true
	}
	return n, nil
}

// comparisonFor picks the dataset d is normalized against: the baseline when
// they share any position, else the processed dataset with the largest
// overlap with d, the earliest processed on ties.
func comparisonFor(d int, plan Plan, o Overlap, done []bool) (int, bool) {
	if o.Count(d, plan.Baseline) > 0 {
		return plan.Baseline, true
	}
	best, bestCount := -1, 0
	for _, c := range plan.Order {
		if !done[c] || c == d {
			continue
		}
		if k := o.Count(d, c); k > bestCount {
			best, bestCount = c, k
		}
	}
	return best, best >= 0
}

// fitRatio fits d/ref over the positions where both have data in band b.
// Positions where ref is zero carry no ratio and are skipped.
func fitRatio(ref, d spectral.Dataset, b spectral.Band) (mathx.Polynomial, int, error) {
	var x, y []float64
	for i, w := range d.Wavelengths {
		dm, _, ok := d.At(b, i)
		if !ok {
			continue
		}
		rm, _, ok := ref.At(b, i)
		if !ok || rm == 0 {
			continue
		}
		r := dm / rm
		if math.IsNaN(r) || math.IsInf(r, 0) {
			continue
		}
		x = append(x, w)
		y = append(y, r)
	}
	if len(x) < MinFitPoints {
		return mathx.Polynomial{}, len(x), ErrInsufficientOverlap
	}
	p, err := mathx.PolyFit(x, y, RatioDegree)
	if errors.Is(err, mathx.ErrTooFewPoints) {
		err = ErrInsufficientOverlap
	}
	return p, len(x), err
}

// rescale divides mean and error of band b by poly at every position d has
// data.  A correction that is not positive is reported, not repaired.
func rescale(d spectral.Dataset, b spectral.Band, poly mathx.Polynomial) []Diagnostic {
	var diags []Diagnostic
	for i, w := range d.Wavelengths {
		m, e, ok := d.At(b, i)
		if !ok {
			continue
		}
		f := poly.Eval(w)
		if !(f > 0) || math.IsInf(f, 0) {
			diags = append(diags, Diagnostic{Kind: DiagNonPositiveCorrection, Dataset: d.Name, Band: b, Wavelength: w})
		}
		d.Set(b, i, m/f, e/f)
	}
	return diags
}

// coverage is the wavelength span over which any band of d has data
func coverage(d spectral.Dataset) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, b := range spectral.Bands {
		if l, h, ok := d.Span(b); ok {
			lo, hi = math.Min(lo, l), math.Max(hi, h)
		}
	}
	if lo > hi {
		return 0, 0
	}
	return lo, hi
}
