package refcal

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/monocle-h2020/camera-calibration-sub000/spectral"
)

const table = `monochromator throughput, lamp 3, nm, 400, 440, 10
1.0 1.0
2.0 2.0
4.0
2.0 2.0 2.0
1.0
end of data
`

func TestParseNormalizesToPeak(t *testing.T) {
	c, err := Parse(strings.NewReader(table))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	wantWl := []float64{400, 410, 420, 430, 440}
	wantResp := []float64{0.25, 0.5, 1, 0.5, 0.25}
	if len(c.Wavelengths) != len(wantWl) {
		t.Fatalf("expected %d samples, got %d", len(wantWl), len(c.Wavelengths))
	}
	for i := range wantWl {
		if math.Abs(c.Wavelengths[i]-wantWl[i]) > 1e-9 {
			t.Errorf("wavelength %d: expected %g got %g", i, wantWl[i], c.Wavelengths[i])
		}
		if math.Abs(c.Response[i]-wantResp[i]) > 1e-12 {
			t.Errorf("response %d: expected %g got %g", i, wantResp[i], c.Response[i])
		}
	}
}

func TestParseRowCountMismatch(t *testing.T) {
	in := "ref, 400, 440, 10\n1\n2\n"
	if _, err := Parse(strings.NewReader(in)); !errors.Is(err, ErrRowCount) {
		t.Fatalf("expected ErrRowCount, got %v", err)
	}
}

func TestParseBadHeader(t *testing.T) {
	if _, err := Parse(strings.NewReader("reference only\n1\n")); !errors.Is(err, ErrHeader) {
		t.Fatalf("expected ErrHeader, got %v", err)
	}
}

func TestNewRejectsZeroCurve(t *testing.T) {
	if _, err := New([]float64{400, 410}, []float64{0, 0}); !errors.Is(err, ErrNoResponse) {
		t.Fatalf("expected ErrNoResponse, got %v", err)
	}
}

func TestCorrectDividesAndMasks(t *testing.T) {
	c, err := New([]float64{400, 420}, []float64{1, 2})
	if err != nil {
		t.Fatal(err)
	}
	// normalized curve is 0.5 at 400, 1 at 420, interpolated 0.75 at 410
	d := spectral.New("g1", []float64{390, 400, 410, 420})
	for _, b := range spectral.Bands {
		for i := range d.Wavelengths {
			d.Set(b, i, 3, 0.3)
		}
	}
	d.Unset(spectral.R, 2)

	out, rep, err := c.Correct(d)
	if err != nil {
		t.Fatalf("correct failed: %v", err)
	}
	if rep.OutOfRange != 4 {
		t.Errorf("expected 4 out of range entries (all bands at 390 nm), got %d", rep.OutOfRange)
	}
	if _, _, ok := out.At(spectral.G, 0); ok {
		t.Error("entry outside the reference range should be missing")
	}
	m, e, ok := out.At(spectral.G, 1)
	if !ok || math.Abs(m-6) > 1e-12 || math.Abs(e-0.6) > 1e-12 {
		t.Errorf("at 400 nm expected 6±0.6, got %g±%g ok=%v", m, e, ok)
	}
	m, _, ok = out.At(spectral.B, 2)
	if !ok || math.Abs(m-4) > 1e-12 {
		t.Errorf("at 410 nm expected 4, got %g ok=%v", m, ok)
	}
	if _, _, ok := out.At(spectral.R, 2); ok {
		t.Error("missing input entry should stay missing")
	}
	if m, _, _ := d.At(spectral.G, 1); m != 3 {
		t.Error("input dataset was modified")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ref.txt")
	if err := os.WriteFile(path, []byte(table), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(c.Response) != 5 {
		t.Errorf("expected 5 samples, got %d", len(c.Response))
	}
}
