package fusion

import (
	"fmt"
	"math"

	"github.com/monocle-h2020/camera-calibration-sub000/mathx"
	"github.com/monocle-h2020/camera-calibration-sub000/spectral"
)

// Bandwidth holds the effective bandwidth of each band, in nm
type Bandwidth [spectral.NBands]float64

// Finalize scales each band of the fused curve so its peak mean is 1 and
// integrates the normalized mean over wavelength.  Missing positions take no
// part in either step; the trapezoid runs over the valid positions only.
// fused is not modified.
//
// A band with no data at all stays missing with a bandwidth of 0 and is
// reported.  A band with data but no positive value is ErrNoSignal.
func Finalize(fused spectral.Dataset) (spectral.Dataset, Bandwidth, []Diagnostic, error) {
	out := fused.Clone()
	var (
		bw    Bandwidth
		diags []Diagnostic
	)
	for _, b := range spectral.Bands {
		if out.Count(b) == 0 {
			diags = append(diags, Diagnostic{Kind: DiagEmptyBand, Band: b})
			continue
		}
		peak := math.Inf(-1)
		for i := range out.Wavelengths {
			if m, _, ok := out.At(b, i); ok && !math.IsInf(m, 0) && m > peak {
				peak = m
			}
		}
		if !(peak > 0) || math.IsInf(peak, 0) {
			return out, bw, diags, fmt.Errorf("band %v: %w", b, ErrNoSignal)
		}
		var x, y []float64
		for i, w := range out.Wavelengths {
			m, e, ok := out.At(b, i)
			if !ok {
				continue
			}
			out.Set(b, i, m/peak, e/peak)
			x = append(x, w)
			y = append(y, m/peak)
		}
		bw[b] = mathx.Trapz(x, y)
	}
	return out, bw, diags, nil
}
