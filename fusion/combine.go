package fusion

import (
	"math"

	"github.com/monocle-h2020/camera-calibration-sub000/spectral"
)

// FusedName is the name given to the fused curve
const FusedName = "fused"

// Combine merges co-scaled, grid aligned datasets into one curve in a single
// pass.  At each position and band every dataset with data contributes with
// weight (mean/error)^2.  The fused error is that of the weighted average,
// sqrt(sum((w_i/W * err_i)^2)).
//
// Contributions with an error <= 0 (or not finite) are dropped and reported.
// If the remaining weights sum to zero, i.e. every contributing mean is zero,
// inverse variance weights are used instead.  A position with no
// contribution stays missing and is reported.
func Combine(grid []float64, sets []spectral.Dataset) (spectral.Dataset, []Diagnostic) {
	out := spectral.New(FusedName, grid)
	var diags []Diagnostic

	means := make([]float64, 0, len(sets))
	errs := make([]float64, 0, len(sets))
	for _, b := range spectral.Bands {
		for i, w := range grid {
			means, errs = means[:0], errs[:0]
			for _, d := range sets {
				m, e, ok := d.At(b, i)
				if !ok {
					continue
				}
				if !(e > 0) || math.IsInf(e, 0) {
					diags = append(diags, Diagnostic{Kind: DiagDegenerateWeight, Dataset: d.Name, Band: b, Wavelength: w})
					continue
				}
				means = append(means, m)
				errs = append(errs, e)
			}
			if len(means) == 0 {
				diags = append(diags, Diagnostic{Kind: DiagMissingData, Band: b, Wavelength: w})
				continue
			}
			m, e := weightedMean(means, errs, snrWeight)
			if math.IsNaN(m) {
				m, e = weightedMean(means, errs, inverseVariance)
			}
			out.Set(b, i, m, e)
		}
	}
	return out, diags
}

func snrWeight(m, e float64) float64 {
	s := m / e
	return s * s
}

func inverseVariance(_, e float64) float64 {
	return 1 / (e * e)
}

// weightedMean returns the weighted average of means and its propagated
// error.  The mean is NaN when the weights sum to zero.
func weightedMean(means, errs []float64, weight func(m, e float64) float64) (float64, float64) {
	var sumW, sumWM float64
	ws := make([]float64, len(means))
	for k := range means {
		ws[k] = weight(means[k], errs[k])
		sumW += ws[k]
		sumWM += ws[k] * means[k]
	}
	if sumW == 0 {
		return math.NaN(), math.NaN()
	}
	var v float64
	for k := range errs {
		s := ws[k] / sumW * errs[k]
		v += s * s
	}
	return sumWM / sumW, math.Sqrt(v)
}
