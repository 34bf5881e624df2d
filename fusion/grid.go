package fusion

import (
	"fmt"
	"sort"

	"github.com/monocle-h2020/camera-calibration-sub000/spectral"
	"github.com/monocle-h2020/camera-calibration-sub000/util"
)

// GridTolerance is the distance in nm below which two wavelengths are the same
// grid position.  Configurations share one discretisation step, so anything
// larger than float noise is a genuinely different wavelength.
const GridTolerance = 1e-6

// Unify builds the union wavelength grid of sets and re-expresses every dataset
// on it.  Positions a dataset does not cover are missing.  Values are placed,
// never interpolated.  Each dataset must pass spectral.Dataset.Check, which
// rules out one configuration claiming two values at one wavelength.
func Unify(sets []spectral.Dataset) ([]float64, []spectral.Dataset, []Diagnostic, error) {
	axes := make([][]float64, len(sets))
	for i, d := range sets {
		if err := d.Check(); err != nil {
			return nil, nil, nil, err
		}
		axes[i] = d.Wavelengths
	}
	grid := util.UniqueSorted(GridTolerance, axes...)

	var diags []Diagnostic
	out := make([]spectral.Dataset, len(sets))
	for k, d := range sets {
		a := spectral.New(d.Name, grid)
		placed := make([]bool, len(grid))
		for i, w := range d.Wavelengths {
			j := gridIndex(grid, w)
			if placed[j] {
				return nil, nil, nil, fmt.Errorf("dataset %q: %g nm and %g nm fall on one grid position: %w",
					d.Name, d.Wavelengths[i-1], w, ErrWavelengthCollision)
			}
			placed[j] = true
			for _, b := range spectral.Bands {
				if m, e, ok := d.At(b, i); ok {
					a.Set(b, j, m, e)
				}
			}
		}
		if !a.MaskConsistent() {
			for i := range grid {
				if !sameMask(a, i) {
					diags = append(diags, Diagnostic{Kind: DiagMaskMismatch, Dataset: d.Name, Wavelength: grid[i]})
				}
			}
		}
		out[k] = a
	}
	return grid, out, diags, nil
}

// gridIndex finds the grid position of w.  Every input wavelength is within
// GridTolerance of the grid member that absorbed it, which is the first
// member >= w-GridTolerance.
func gridIndex(grid []float64, w float64) int {
	return sort.SearchFloat64s(grid, w-GridTolerance)
}

func sameMask(d spectral.Dataset, i int) bool {
	for b := 1; b < spectral.NBands; b++ {
		if d.Valid[b][i] != d.Valid[0][i] {
			return false
		}
	}
	return true
}
