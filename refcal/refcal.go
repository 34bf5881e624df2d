// Package refcal loads reference throughput curves of the monochromator and
// divides them out of raw spectral response measurements.
//
// A reference file is a text table.  The first line is a comma separated
// header whose last three numeric fields are the start, stop and step of the
// wavelength axis in nm (stop inclusive).  Each following line holds one or
// more repeat measurements of the response at the next wavelength; they are
// averaged.  Lines without any numbers (footers, notes) are ignored.
package refcal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/interp"

	"github.com/monocle-h2020/camera-calibration-sub000/mathx"
	"github.com/monocle-h2020/camera-calibration-sub000/spectral"
	"github.com/monocle-h2020/camera-calibration-sub000/util"
)

// wavelengthUnit is the precision reference wavelengths are snapped to
const wavelengthUnit = 1e-6

var (
	// ErrHeader is returned when the header does not encode start, stop, step
	ErrHeader = errors.New("reference header must end in start, stop, step")

	// ErrRowCount is returned when the body length does not match the header axis
	ErrRowCount = errors.New("reference body length does not match wavelength axis")

	// ErrNoResponse is returned when a curve has no positive response to normalize by
	ErrNoResponse = errors.New("reference curve has no positive response")
)

// Curve is a reference calibration curve, normalized to a peak of 1
type Curve struct {
	Wavelengths []float64
	Response    []float64
}

// Report summarizes what Correct could not correct
type Report struct {
	// OutOfRange counts valid band entries outside the reference wavelength range
	OutOfRange int

	// NonPositive counts valid band entries where the interpolated reference is <= 0
	NonPositive int
}

// New builds a curve from raw data and normalizes it
func New(wavelengths, response []float64) (Curve, error) {
	if len(wavelengths) != len(response) {
		return Curve{}, fmt.Errorf("reference has %d wavelengths and %d responses", len(wavelengths), len(response))
	}
	if len(wavelengths) < 2 {
		return Curve{}, fmt.Errorf("reference needs at least 2 samples, got %d", len(wavelengths))
	}
	for i := 1; i < len(wavelengths); i++ {
		if !(wavelengths[i] > wavelengths[i-1]) {
			return Curve{}, spectral.ErrNotIncreasing
		}
	}
	c := Curve{
		Wavelengths: append([]float64(nil), wavelengths...),
		Response:    append([]float64(nil), response...),
	}
	return c, c.normalize()
}

func (c Curve) normalize() error {
	peak := floats.Max(c.Response)
	if !(peak > 0) || math.IsInf(peak, 0) {
		return ErrNoResponse
	}
	floats.Scale(1/peak, c.Response)
	return nil
}

// Parse reads a reference table, see the package documentation for the layout
func Parse(r io.Reader) (Curve, error) {
	scn := bufio.NewScanner(r)
	var (
		header bool
		start  float64
		stop   float64
		step   float64
		resp   []float64
	)
	for scn.Scan() {
		line := strings.TrimSpace(scn.Text())
		if line == "" {
			continue
		}
		if !header {
			var err error
			start, stop, step, err = parseHeader(line)
			if err != nil {
				return Curve{}, err
			}
			header = true
			continue
		}
		vals := numbers(line)
		if len(vals) == 0 {
			continue
		}
		resp = append(resp, floats.Sum(vals)/float64(len(vals)))
	}
	if err := scn.Err(); err != nil {
		return Curve{}, err
	}
	if !header {
		return Curve{}, ErrHeader
	}
	wl := util.Arange(start, stop+step/2, step)
	if len(wl) != len(resp) {
		return Curve{}, fmt.Errorf("%w: header gives %d wavelengths in [%g, %g] step %g, body has %d rows",
			ErrRowCount, len(wl), start, stop, step, len(resp))
	}
	for i := range wl {
		wl[i] = mathx.Round(wl[i], wavelengthUnit)
	}
	return New(wl, resp)
}

// Load reads a reference table from disk
func Load(path string) (Curve, error) {
	f, err := os.Open(path)
	if err != nil {
		return Curve{}, err
	}
	defer f.Close()
	c, err := Parse(f)
	if err != nil {
		return Curve{}, fmt.Errorf("loading reference %s: %w", path, err)
	}
	return c, nil
}

func parseHeader(line string) (start, stop, step float64, err error) {
	var nums []float64
	for _, field := range strings.Split(line, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err == nil {
			nums = append(nums, v)
		}
	}
	if len(nums) < 3 {
		return 0, 0, 0, ErrHeader
	}
	start, stop, step = nums[len(nums)-3], nums[len(nums)-2], nums[len(nums)-1]
	if step <= 0 || stop < start {
		return 0, 0, 0, fmt.Errorf("%w: got start=%g stop=%g step=%g", ErrHeader, start, stop, step)
	}
	return start, stop, step, nil
}

func numbers(line string) []float64 {
	fields := strings.FieldsFunc(line, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t'
	})
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}

// Correct divides every band of d by the reference interpolated onto d's
// wavelengths, mean and error alike.  Entries outside the reference range or
// where the reference is not positive cannot be corrected and become missing.
// d is not modified.
func (c Curve) Correct(d spectral.Dataset) (spectral.Dataset, Report, error) {
	var pl interp.PiecewiseLinear
	if err := pl.Fit(c.Wavelengths, c.Response); err != nil {
		return spectral.Dataset{}, Report{}, err
	}
	lo, hi := c.Wavelengths[0], c.Wavelengths[len(c.Wavelengths)-1]
	out := d.Clone()
	var rep Report
	for i, w := range d.Wavelengths {
		inRange := w >= lo && w <= hi
		ref := 0.
		if inRange {
			ref = pl.Predict(w)
		}
		for _, b := range spectral.Bands {
			m, e, ok := d.At(b, i)
			if !ok {
				continue
			}
			switch {
			case !inRange:
				rep.OutOfRange++
				out.Unset(b, i)
			case !(ref > 0):
				rep.NonPositive++
				out.Unset(b, i)
			default:
				out.Set(b, i, m/ref, e/ref)
			}
		}
	}
	return out, rep, nil
}
