package fusion

import (
	"sort"

	"github.com/monocle-h2020/camera-calibration-sub000/spectral"
)

// Overlap is the symmetric matrix of shared valid grid positions between
// datasets.  The diagonal holds each dataset's completeness.
type Overlap [][]int

// NewOverlap counts, for every pair of grid aligned datasets, the positions
// where both have data in band.  One band stands in for all four; Unify flags
// datasets for which that is not true.
func NewOverlap(sets []spectral.Dataset, band spectral.Band) Overlap {
	n := len(sets)
	o := make(Overlap, n)
	for i := range o {
		o[i] = make([]int, n)
	}
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			c := 0
			vi, vj := sets[i].Valid[band], sets[j].Valid[band]
			for k := range vi {
				if vi[k] && vj[k] {
					c++
				}
			}
			o[i][j], o[j][i] = c, c
		}
	}
	return o
}

// Count returns the overlap between datasets i and j
func (o Overlap) Count(i, j int) int {
	return o[i][j]
}

// Plan is the processing order of the ratio normalization, fixed before any
// dataset is touched.
type Plan struct {
	// Baseline is the index of the most complete dataset; it sets the scale
	Baseline int `json:"baseline"`

	// Order lists every other dataset by descending overlap with the baseline
	Order []int `json:"order"`
}

// NewPlan picks the baseline as the dataset with the largest completeness,
// the first one on ties, and orders the rest by descending overlap with it.
// Ties keep input order.
func NewPlan(o Overlap) Plan {
	p := Plan{}
	for i := range o {
		if o[i][i] > o[p.Baseline][p.Baseline] {
			p.Baseline = i
		}
	}
	for i := range o {
		if i != p.Baseline {
			p.Order = append(p.Order, i)
		}
	}
	sort.SliceStable(p.Order, func(a, b int) bool {
		return o[p.Order[a]][p.Baseline] > o[p.Order[b]][p.Baseline]
	})
	return p
}
