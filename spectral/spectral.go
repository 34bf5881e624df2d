// Package spectral describes spectral response measurements of a four channel
// (RGBG2) Bayer sensor taken under one instrument configuration.
//
// Missing entries are tracked with an explicit validity mask rather than NaN,
// so arithmetic never has to reason about poisoned values.  A band position is
// either valid, with a mean and an error, or it is missing in both.
package spectral

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Band is one of the four colour filter categories of the sensor
type Band int

const (
	// R is the red filter
	R Band = iota
	// G is the first green filter
	G
	// B is the blue filter
	B
	// G2 is the second green filter
	G2
)

// NBands is the number of colour bands
const NBands = 4

// Bands lists every band in storage order
var Bands = [NBands]Band{R, G, B, G2}

var bandNames = [NBands]string{"R", "G", "B", "G2"}

func (b Band) String() string {
	if b < 0 || int(b) >= NBands {
		return fmt.Sprintf("Band(%d)", int(b))
	}
	return bandNames[b]
}

// MarshalText encodes the band by name
func (b Band) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText decodes a band name
func (b *Band) UnmarshalText(text []byte) error {
	v, err := ParseBand(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// ParseBand converts a band name (case insensitive) to a Band
func ParseBand(s string) (Band, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for i, n := range bandNames {
		if n == s {
			return Band(i), nil
		}
	}
	return 0, fmt.Errorf("unknown band %q, must be one of %v", s, bandNames)
}

var (
	// ErrNotIncreasing is returned when wavelengths are not strictly increasing,
	// which includes a wavelength listed twice
	ErrNotIncreasing = errors.New("wavelengths are not strictly increasing")

	// ErrShape is returned when a band's arrays are not aligned with the wavelengths
	ErrShape = errors.New("band arrays not aligned with wavelengths")

	// ErrNegative is returned when a valid entry is negative or not finite
	ErrNegative = errors.New("negative or non-finite intensity")
)

// Dataset is the spectral response measured under one instrument configuration.
// Mean, Err and Valid are indexed [band][position] and aligned 1:1 with Wavelengths.
type Dataset struct {
	// Name identifies the configuration, e.g. the grating or filter used
	Name string

	// Wavelengths in nm, strictly increasing
	Wavelengths []float64

	// Mean is the bias corrected mean response
	Mean [NBands][]float64

	// Err is the uncertainty on Mean
	Err [NBands][]float64

	// Valid flags which entries hold data
	Valid [NBands][]bool
}

// New returns a dataset on the given wavelengths with every entry missing
func New(name string, wavelengths []float64) Dataset {
	n := len(wavelengths)
	d := Dataset{Name: name, Wavelengths: append([]float64(nil), wavelengths...)}
	for b := range d.Mean {
		d.Mean[b] = make([]float64, n)
		d.Err[b] = make([]float64, n)
		d.Valid[b] = make([]bool, n)
	}
	return d
}

// Len is the number of wavelength positions
func (d Dataset) Len() int {
	return len(d.Wavelengths)
}

// Set stores a valid entry
func (d Dataset) Set(b Band, i int, mean, err float64) {
	d.Mean[b][i] = mean
	d.Err[b][i] = err
	d.Valid[b][i] = true
}

// Unset marks an entry missing
func (d Dataset) Unset(b Band, i int) {
	d.Mean[b][i] = 0
	d.Err[b][i] = 0
	d.Valid[b][i] = false
}

// At returns the entry at band b, position i.  ok is false if it is missing.
func (d Dataset) At(b Band, i int) (mean, err float64, ok bool) {
	if !d.Valid[b][i] {
		return 0, 0, false
	}
	return d.Mean[b][i], d.Err[b][i], true
}

// Count returns the number of valid entries in band b
func (d Dataset) Count(b Band) int {
	n := 0
	for _, v := range d.Valid[b] {
		if v {
			n++
		}
	}
	return n
}

// Span returns the lowest and highest wavelength at which band b has data.
// ok is false if the band is empty.
func (d Dataset) Span(b Band) (lo, hi float64, ok bool) {
	for i, v := range d.Valid[b] {
		if !v {
			continue
		}
		if !ok {
			lo = d.Wavelengths[i]
			ok = true
		}
		hi = d.Wavelengths[i]
	}
	return lo, hi, ok
}

// MaskConsistent reports whether every band shares one validity pattern
func (d Dataset) MaskConsistent() bool {
	for i := 0; i < d.Len(); i++ {
		v := d.Valid[0][i]
		for b := 1; b < NBands; b++ {
			if d.Valid[b][i] != v {
				return false
			}
		}
	}
	return true
}

// Clone returns a deep copy
func (d Dataset) Clone() Dataset {
	c := Dataset{Name: d.Name, Wavelengths: append([]float64(nil), d.Wavelengths...)}
	for b := range d.Mean {
		c.Mean[b] = append([]float64(nil), d.Mean[b]...)
		c.Err[b] = append([]float64(nil), d.Err[b]...)
		c.Valid[b] = append([]bool(nil), d.Valid[b]...)
	}
	return c
}

// Check verifies the structural invariants of the dataset: strictly increasing
// wavelengths, aligned band arrays, and finite non-negative valid means.
func (d Dataset) Check() error {
	for i := 1; i < d.Len(); i++ {
		if !(d.Wavelengths[i] > d.Wavelengths[i-1]) {
			return fmt.Errorf("dataset %q at %g nm: %w", d.Name, d.Wavelengths[i], ErrNotIncreasing)
		}
	}
	n := d.Len()
	for _, b := range Bands {
		if len(d.Mean[b]) != n || len(d.Err[b]) != n || len(d.Valid[b]) != n {
			return fmt.Errorf("dataset %q band %v: %w", d.Name, b, ErrShape)
		}
		for i, ok := range d.Valid[b] {
			if !ok {
				continue
			}
			m := d.Mean[b][i]
			if m < 0 || math.IsNaN(m) || math.IsInf(m, 0) {
				return fmt.Errorf("dataset %q band %v at %g nm: %w", d.Name, b, d.Wavelengths[i], ErrNegative)
			}
		}
	}
	return nil
}
