// Package mathx contains the small numerical routines used by the spectral
// response fusion: rounding, low order polynomial least squares, and
// trapezoidal integration.
package mathx

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrTooFewPoints is returned when a fit has fewer points than coefficients
	ErrTooFewPoints = errors.New("too few points for polynomial fit")

	// ErrLengthMismatch is returned when x and y differ in length
	ErrLengthMismatch = errors.New("x and y differ in length")

	// ErrDegenerateAbscissa is returned when all x values are identical
	ErrDegenerateAbscissa = errors.New("x values span zero width")
)

// Round rounds a float to the nearest "unit" (0.1 for tenth, 0.01 for hundredth, and so on).
func Round(x, unit float64) float64 {
	return math.Round(x/unit) * unit
}

// Polynomial is a power series in the reduced variable t = (x-Center)/Scale.
// Coeffs[i] multiplies t^i.
type Polynomial struct {
	Coeffs []float64 `json:"coeffs"`
	Center float64   `json:"center"`
	Scale  float64   `json:"scale"`
}

// Eval evaluates the polynomial at x using Horner's method
func (p Polynomial) Eval(x float64) float64 {
	if len(p.Coeffs) == 0 {
		return 0
	}
	t := (x - p.Center) / p.Scale
	v := 0.
	for i := len(p.Coeffs) - 1; i >= 0; i-- {
		v = v*t + p.Coeffs[i]
	}
	return v
}

// Degree returns the degree of the polynomial
func (p Polynomial) Degree() int {
	return len(p.Coeffs) - 1
}

// PolyFit performs an unweighted ordinary least squares fit of a polynomial
// of the given degree to (x, y).  x is centered and scaled to [-1, 1] before
// the Vandermonde matrix is built so that wavelengths of several hundred nm do
// not wreck the conditioning of the system.
func PolyFit(x, y []float64, degree int) (Polynomial, error) {
	if len(x) != len(y) {
		return Polynomial{}, ErrLengthMismatch
	}
	n, ncoef := len(x), degree+1
	if n < ncoef {
		return Polynomial{}, ErrTooFewPoints
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range x {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi == lo && degree > 0 {
		return Polynomial{}, ErrDegenerateAbscissa
	}
	p := Polynomial{Center: (hi + lo) / 2, Scale: (hi - lo) / 2}
	if p.Scale == 0 {
		p.Scale = 1
	}

	A := mat.NewDense(n, ncoef, nil)
	for i, v := range x {
		t := (v - p.Center) / p.Scale
		pow := 1.
		for j := 0; j < ncoef; j++ {
			A.Set(i, j, pow)
			pow *= t
		}
	}
	b := mat.NewVecDense(n, append([]float64(nil), y...))
	var c mat.VecDense
	if err := c.SolveVec(A, b); err != nil {
		return Polynomial{}, err
	}
	p.Coeffs = make([]float64, ncoef)
	for j := range p.Coeffs {
		p.Coeffs[j] = c.AtVec(j)
	}
	return p, nil
}

// Trapz integrates y(x) with the trapezoidal rule.  x must be increasing.
// Fewer than two points integrate to zero.
func Trapz(x, y []float64) float64 {
	if len(x) < 2 || len(x) != len(y) {
		return 0
	}
	return integrate.Trapezoidal(x, y)
}
