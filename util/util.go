// Package util contains misc internal utilities.
package util

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// IntSliceToCSV convets a slice of ints to CSV formatted data.
// e.g., []int{1,2,3,4,5} => "1,2,3,4,5"
func IntSliceToCSV(is []int) string {
	s := make([]string, len(is))
	for i, v := range is {
		s[i] = strconv.Itoa(v)
	}

	return strings.Join(s, ",")
}

// Arange returns evenly spaced values in the half open interval [start, stop).
// step must be positive.  The number of elements is computed up front so
// accumulated floating point error cannot add or drop a sample.
func Arange(start, stop, step float64) []float64 {
	if step <= 0 || stop <= start {
		return nil
	}
	n := int(math.Ceil((stop - start) / step))
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = start + float64(i)*step
	}
	return out
}

// UniqueSorted returns the sorted, deduplicated contents of any number of
// float slices.  Values within tol of the previously kept value are dropped.
// The inputs are not modified.
func UniqueSorted(tol float64, slices ...[]float64) []float64 {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	all := make([]float64, 0, total)
	for _, s := range slices {
		all = append(all, s...)
	}
	sort.Float64s(all)
	out := all[:0]
	for i, v := range all {
		if i > 0 && v-out[len(out)-1] <= tol {
			continue
		}
		out = append(out, v)
	}
	return out
}
