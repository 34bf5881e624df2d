package fusion

import (
	"errors"
	"math"
	"testing"

	"github.com/monocle-h2020/camera-calibration-sub000/spectral"
	"github.com/monocle-h2020/camera-calibration-sub000/util"
)

const tol = 1e-9

// synth makes a dataset on [lo, hi] with the given step whose every band is
// k*signal(w) with a relative error rel.
func synth(name string, lo, hi, step, k, rel float64, signal func(float64) float64) spectral.Dataset {
	wl := util.Arange(lo, hi+step/2, step)
	d := spectral.New(name, wl)
	for _, b := range spectral.Bands {
		for i, w := range wl {
			m := k * signal(w)
			d.Set(b, i, m, rel*m)
		}
	}
	return d
}

func constant(name string, lo, hi, mean, err float64) spectral.Dataset {
	d := synth(name, lo, hi, 10, mean, 0, flat)
	for _, b := range spectral.Bands {
		for i := range d.Wavelengths {
			d.Set(b, i, mean, err)
		}
	}
	return d
}

func flat(float64) float64 { return 1 }

func gridPos(t *testing.T, grid []float64, w float64) int {
	t.Helper()
	for i, g := range grid {
		if math.Abs(g-w) < 1e-9 {
			return i
		}
	}
	t.Fatalf("%g nm not on the grid", w)
	return -1
}

func TestUnifyBuildsUnionGrid(t *testing.T) {
	a := constant("a", 400, 440, 1, 0.1)
	b := constant("b", 420, 480, 2, 0.1)
	grid, aligned, diags, err := Unify([]spectral.Dataset{a, b})
	if err != nil {
		t.Fatalf("unify failed: %v", err)
	}
	if len(grid) != 9 || grid[0] != 400 || grid[8] != 480 {
		t.Fatalf("expected grid 400..480 in 9 steps, got %v", grid)
	}
	if len(diags) != 0 {
		t.Errorf("expected no diagnostics, got %v", diags)
	}
	for _, d := range aligned {
		if d.Len() != len(grid) {
			t.Fatalf("dataset %s has %d positions, expected %d", d.Name, d.Len(), len(grid))
		}
	}
	if _, _, ok := aligned[0].At(spectral.R, gridPos(t, grid, 460)); ok {
		t.Error("a does not cover 460 nm, expected missing")
	}
	if m, _, ok := aligned[1].At(spectral.G2, gridPos(t, grid, 420)); !ok || m != 2 {
		t.Errorf("b at 420 nm: expected 2, got %g ok=%v", m, ok)
	}
}

func TestUnifyRejectsDuplicateWavelength(t *testing.T) {
	d := spectral.New("dup", []float64{400, 410, 410})
	if _, _, _, err := Unify([]spectral.Dataset{d}); !errors.Is(err, spectral.ErrNotIncreasing) {
		t.Fatalf("expected ErrNotIncreasing, got %v", err)
	}
}

func TestUnifyRejectsCollision(t *testing.T) {
	d := spectral.New("close", []float64{400, 400 + GridTolerance/2})
	if _, _, _, err := Unify([]spectral.Dataset{d}); !errors.Is(err, ErrWavelengthCollision) {
		t.Fatalf("expected ErrWavelengthCollision, got %v", err)
	}
}

func TestUnifyFlagsMaskMismatch(t *testing.T) {
	a := constant("a", 400, 440, 1, 0.1)
	a.Unset(spectral.B, 2)
	_, _, diags, err := Unify([]spectral.Dataset{a})
	if err != nil {
		t.Fatal(err)
	}
	if len(diags) != 1 || diags[0].Kind != DiagMaskMismatch || diags[0].Wavelength != 420 {
		t.Errorf("expected one mask mismatch at 420 nm, got %v", diags)
	}
}

func TestOverlapAndPlanOrdering(t *testing.T) {
	sets := []spectral.Dataset{
		constant("narrow", 580, 600, 1, 0.1),
		constant("wide", 400, 600, 1, 0.1),
		constant("mid", 500, 600, 1, 0.1),
		constant("far", 650, 700, 1, 0.1),
	}
	_, aligned, _, err := Unify(sets)
	if err != nil {
		t.Fatal(err)
	}
	o := NewOverlap(aligned, spectral.G)
	for i := range o {
		for j := range o {
			if o[i][j] != o[j][i] {
				t.Fatalf("overlap not symmetric at %d,%d", i, j)
			}
		}
	}
	if o.Count(1, 1) != 21 {
		t.Errorf("expected completeness 21 for wide, got %d", o.Count(1, 1))
	}
	if o.Count(0, 2) != 3 {
		t.Errorf("expected overlap 3 between narrow and mid, got %d", o.Count(0, 2))
	}
	p := NewPlan(o)
	if p.Baseline != 1 {
		t.Fatalf("expected baseline 1, got %d", p.Baseline)
	}
	want := []int{2, 0, 3}
	for i := range want {
		if p.Order[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, p.Order)
		}
	}
	for i := 1; i < len(p.Order); i++ {
		if o.Count(p.Order[i-1], p.Baseline) < o.Count(p.Order[i], p.Baseline) {
			t.Errorf("order %v is not descending in overlap with the baseline", p.Order)
		}
	}
}

func TestPlanBaselineTieTakesFirst(t *testing.T) {
	sets := []spectral.Dataset{
		constant("a", 400, 450, 1, 0.1),
		constant("b", 500, 550, 1, 0.1),
	}
	_, aligned, _, _ := Unify(sets)
	if p := NewPlan(NewOverlap(aligned, spectral.G)); p.Baseline != 0 {
		t.Errorf("expected the first of two equally complete datasets, got %d", p.Baseline)
	}
}

func TestTwoScaledDatasets(t *testing.T) {
	a := constant("A", 400, 500, 2.0, 0.1)
	b := constant("B", 480, 600, 4.0, 0.2)
	res, err := Fuse([]spectral.Dataset{a, b}, DefaultOptions())
	if err != nil {
		t.Fatalf("fuse failed: %v", err)
	}
	if len(res.Grid) != 21 {
		t.Fatalf("expected 21 grid positions, got %d", len(res.Grid))
	}
	// B covers more wavelengths and is the baseline; A is divided by the fitted A/B ratio of 0.5
	if res.Plan.Baseline != 1 {
		t.Fatalf("expected B as baseline, got %d", res.Plan.Baseline)
	}
	if len(res.Corrections) != spectral.NBands {
		t.Fatalf("expected one correction per band, got %d", len(res.Corrections))
	}
	for _, c := range res.Corrections {
		if c.Points != 3 {
			t.Errorf("band %v: expected 3 overlap points, got %d", c.Band, c.Points)
		}
		if v := c.Poly.Eval(450); math.Abs(v-0.5) > tol {
			t.Errorf("band %v: expected ratio 0.5, got %g", c.Band, v)
		}
	}
	rescaled := res.Normalized[0]
	if m, e, _ := rescaled.At(spectral.R, 0); math.Abs(m-4) > tol || math.Abs(e-0.2) > tol {
		t.Errorf("expected A rescaled to 4±0.2, got %g±%g", m, e)
	}
	for _, band := range spectral.Bands {
		for i, w := range res.Grid {
			m, e, ok := res.Curve.At(band, i)
			if !ok {
				t.Fatalf("band %v at %g nm missing", band, w)
			}
			if math.Abs(m-1) > tol {
				t.Errorf("band %v at %g nm: expected 1, got %g", band, w, m)
			}
			want := 0.05
			if w >= 480 && w <= 500 {
				want /= math.Sqrt2
			}
			if math.Abs(e-want) > tol {
				t.Errorf("band %v at %g nm: expected error %g, got %g", band, w, want, e)
			}
		}
		if math.Abs(res.Bandwidth[band]-200) > 1e-6 {
			t.Errorf("band %v: expected bandwidth 200 nm, got %g", band, res.Bandwidth[band])
		}
	}
}

func TestChainedComparison(t *testing.T) {
	signal := func(w float64) float64 { return 1 + (w-400)/300 }
	sets := []spectral.Dataset{
		synth("A", 400, 560, 10, 1, 0.05, signal),
		synth("B", 540, 640, 10, 3, 0.05, signal),
		synth("C", 620, 700, 10, 6, 0.05, signal),
	}
	res, err := Fuse(sets, DefaultOptions())
	if err != nil {
		t.Fatalf("fuse failed: %v", err)
	}
	if res.Plan.Baseline != 0 {
		t.Fatalf("expected A as baseline, got %d", res.Plan.Baseline)
	}
	if res.Overlap.Count(2, 0) != 0 {
		t.Fatalf("C should not overlap the baseline")
	}
	for _, c := range res.Corrections {
		if c.Dataset == 2 && c.Comparison != 1 {
			t.Errorf("C band %v normalized against %d, expected B (1)", c.Band, c.Comparison)
		}
	}
	for _, band := range spectral.Bands {
		for i, w := range res.Grid {
			m, _, ok := res.Curve.At(band, i)
			if !ok || math.IsNaN(m) || math.IsInf(m, 0) {
				t.Fatalf("band %v at %g nm: expected a finite value, got %g ok=%v", band, w, m, ok)
			}
			if want := signal(w) / 2; math.Abs(m-want) > 1e-6 {
				t.Errorf("band %v at %g nm: expected %g, got %g", band, w, want, m)
			}
		}
	}
}

func TestBridgeProcessedBeforeIsland(t *testing.T) {
	// far overlaps only bridge, which overlaps the baseline and so is processed first
	sets := []spectral.Dataset{
		constant("base", 400, 560, 1, 0.05),
		constant("far", 600, 650, 5, 0.1),
		constant("bridge", 540, 620, 2, 0.1),
	}
	res, err := Fuse(sets, DefaultOptions())
	if err != nil {
		t.Fatalf("fuse failed: %v", err)
	}
	if res.Plan.Order[0] != 2 || res.Plan.Order[1] != 1 {
		t.Fatalf("expected order [2 1], got %v", res.Plan.Order)
	}
}

func TestNoUsableComparison(t *testing.T) {
	sets := []spectral.Dataset{
		constant("A", 400, 500, 1, 0.1),
		constant("B", 480, 560, 1, 0.1),
		constant("island", 600, 650, 1, 0.1),
	}
	_, err := Fuse(sets, DefaultOptions())
	var cerr *ComparisonError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected a ComparisonError, got %v", err)
	}
	if !errors.Is(err, ErrNoComparison) {
		t.Error("expected the error to wrap ErrNoComparison")
	}
	if cerr.Dataset != "island" || cerr.Lo != 600 || cerr.Hi != 650 {
		t.Errorf("unexpected error context %+v", cerr)
	}
}

func TestNoUsableComparisonSkipped(t *testing.T) {
	sets := []spectral.Dataset{
		constant("A", 400, 500, 1, 0.1),
		constant("B", 480, 560, 1, 0.1),
		constant("island", 600, 650, 1, 0.1),
	}
	res, err := Fuse(sets, Options{RepresentativeBand: spectral.G, SkipFailed: true})
	if err != nil {
		t.Fatalf("fuse failed: %v", err)
	}
	if len(res.Failures) != 1 || !errors.Is(res.Failures[0], ErrNoComparison) {
		t.Fatalf("expected one ErrNoComparison failure, got %v", res.Failures)
	}
	i := gridPos(t, res.Grid, 620)
	if _, _, ok := res.Curve.At(spectral.R, i); ok {
		t.Error("positions only the excluded dataset covered should be missing")
	}
}

func TestInsufficientOverlap(t *testing.T) {
	sets := []spectral.Dataset{
		constant("A", 400, 500, 1, 0.1),
		constant("B", 490, 540, 1, 0.1),
	}
	_, err := Fuse(sets, DefaultOptions())
	var ferr *FitError
	if !errors.As(err, &ferr) {
		t.Fatalf("expected a FitError, got %v", err)
	}
	if !errors.Is(err, ErrInsufficientOverlap) {
		t.Error("expected the error to wrap ErrInsufficientOverlap")
	}
	if ferr.Dataset != "B" || ferr.Comparison != "A" || ferr.Points != 2 || ferr.Band != spectral.R {
		t.Errorf("unexpected error context %+v", ferr)
	}
}

func TestMissingPositionStaysMissing(t *testing.T) {
	a := constant("A", 400, 500, 2, 0.1)
	gap := gridPos(t, a.Wavelengths, 450)
	for _, b := range spectral.Bands {
		a.Unset(b, gap)
	}
	bb := constant("B", 480, 600, 4, 0.2)
	res, err := Fuse([]spectral.Dataset{a, bb}, DefaultOptions())
	if err != nil {
		t.Fatalf("fuse failed: %v", err)
	}
	i := gridPos(t, res.Grid, 450)
	missing := 0
	for _, d := range res.Diagnostics {
		if d.Kind == DiagMissingData && d.Wavelength == 450 {
			missing++
		}
	}
	if missing != spectral.NBands {
		t.Errorf("expected a missing-data diagnostic per band at 450 nm, got %d", missing)
	}
	for _, band := range spectral.Bands {
		if m, e, ok := res.Curve.At(band, i); ok || m != 0 || e != 0 {
			t.Errorf("band %v at 450 nm: expected missing, got %g±%g ok=%v", band, m, e, ok)
		}
		// the gap is bridged, not integrated as zero (which would give 190)
		if math.Abs(res.Bandwidth[band]-200) > 1e-6 {
			t.Errorf("band %v: expected bandwidth 200, got %g", band, res.Bandwidth[band])
		}
	}
}

func TestSelfFusion(t *testing.T) {
	signal := func(w float64) float64 { return math.Exp(-(w - 550) * (w - 550) / (2 * 40 * 40)) }
	d := synth("copy", 400, 700, 5, 10, 0.02, signal)
	res, err := Fuse([]spectral.Dataset{d, d.Clone()}, DefaultOptions())
	if err != nil {
		t.Fatalf("fuse failed: %v", err)
	}
	for _, c := range res.Corrections {
		for _, w := range []float64{400, 550, 700} {
			if v := c.Poly.Eval(w); math.Abs(v-1) > 1e-9 {
				t.Errorf("band %v: expected unit ratio at %g nm, got %g", c.Band, w, v)
			}
		}
	}
	peak := 10 * signal(550)
	for _, band := range spectral.Bands {
		for i, w := range res.Grid {
			m, e, ok := res.Curve.At(band, i)
			if !ok {
				t.Fatalf("band %v at %g nm missing", band, w)
			}
			wantM := 10 * signal(w) / peak
			wantE := 0.02 * 10 * signal(w) / math.Sqrt2 / peak
			if math.Abs(m-wantM) > 1e-9 || math.Abs(e-wantE) > 1e-9 {
				t.Errorf("band %v at %g nm: expected %g±%g, got %g±%g", band, w, wantM, wantE, m, e)
			}
		}
	}
}

func TestFusedPropertiesHold(t *testing.T) {
	signal := func(w float64) float64 { return 0.2 + math.Sin((w-380)/400*math.Pi) }
	sets := []spectral.Dataset{
		synth("blue", 380, 520, 2, 0.7, 0.03, signal),
		synth("green", 480, 640, 2, 1.9, 0.02, signal),
		synth("red", 600, 760, 2, 0.4, 0.05, signal),
	}
	res, err := Fuse(sets, DefaultOptions())
	if err != nil {
		t.Fatalf("fuse failed: %v", err)
	}
	span := res.Grid[len(res.Grid)-1] - res.Grid[0]
	for _, band := range spectral.Bands {
		peak := math.Inf(-1)
		for i := range res.Grid {
			m, _, ok := res.Curve.At(band, i)
			if !ok {
				continue
			}
			if m < 0 {
				t.Errorf("band %v: negative fused value %g", band, m)
			}
			peak = math.Max(peak, m)
		}
		if math.Abs(peak-1) > 1e-12 {
			t.Errorf("band %v: expected peak 1, got %g", band, peak)
		}
		if bw := res.Bandwidth[band]; bw < 0 || bw > span {
			t.Errorf("band %v: bandwidth %g outside [0, %g]", band, bw, span)
		}
	}
}

func TestCombineDropsDegenerateError(t *testing.T) {
	a := constant("a", 400, 420, 2, 0.1)
	b := constant("b", 400, 420, 2, 0.1)
	b.Set(spectral.G, 1, 2, 0)
	fused, diags := Combine(a.Wavelengths, []spectral.Dataset{a, b})
	m, e, ok := fused.At(spectral.G, 1)
	if !ok || m != 2 || math.Abs(e-0.1) > tol {
		t.Errorf("expected only a to contribute (2±0.1), got %g±%g ok=%v", m, e, ok)
	}
	if len(diags) != 1 || diags[0].Kind != DiagDegenerateWeight || diags[0].Dataset != "b" {
		t.Errorf("expected one degenerate weight diagnostic for b, got %v", diags)
	}
}

func TestCombineZeroMeansUseInverseVariance(t *testing.T) {
	a := constant("a", 400, 400, 0, 0.1)
	b := constant("b", 400, 400, 0, 0.2)
	fused, _ := Combine(a.Wavelengths, []spectral.Dataset{a, b})
	m, e, ok := fused.At(spectral.R, 0)
	if !ok || m != 0 {
		t.Fatalf("expected 0, got %g ok=%v", m, ok)
	}
	if want := 1 / math.Sqrt(125); math.Abs(e-want) > tol {
		t.Errorf("expected error %g, got %g", want, e)
	}
}

func TestNonPositiveCorrectionIsFlagged(t *testing.T) {
	base := constant("base", 400, 500, 2, 0.1)
	// ratio d/base falls 1, 0.75, 0.5 over 480..500 and reaches zero at 520
	d := spectral.New("d", []float64{480, 490, 500, 510, 530, 540})
	for _, b := range spectral.Bands {
		d.Set(b, 0, 2, 0.05)
		d.Set(b, 1, 1.5, 0.05)
		d.Set(b, 2, 1, 0.05)
		for i := 3; i < d.Len(); i++ {
			d.Set(b, i, 1, 0.05)
		}
	}
	res, err := Fuse([]spectral.Dataset{base, d}, DefaultOptions())
	if err != nil {
		t.Fatalf("fuse failed: %v", err)
	}
	flagged := map[float64]int{}
	for _, dg := range res.Diagnostics {
		if dg.Kind == DiagNonPositiveCorrection {
			flagged[dg.Wavelength]++
		}
	}
	for _, w := range []float64{530, 540} {
		if flagged[w] != spectral.NBands {
			t.Errorf("expected every band flagged at %g nm, got %d", w, flagged[w])
		}
	}
	if flagged[510] != 0 {
		t.Errorf("510 nm has a positive correction and should not be flagged")
	}
}

func TestFuseNoDatasets(t *testing.T) {
	if _, err := Fuse(nil, DefaultOptions()); !errors.Is(err, ErrNoDatasets) {
		t.Fatalf("expected ErrNoDatasets, got %v", err)
	}
}

func TestFinalizeNoSignal(t *testing.T) {
	d := constant("zero", 400, 420, 0, 0.1)
	if _, _, _, err := Finalize(d); !errors.Is(err, ErrNoSignal) {
		t.Fatalf("expected ErrNoSignal, got %v", err)
	}
}

func TestFinalizeEmptyBand(t *testing.T) {
	d := constant("fused", 400, 420, 2, 0.1)
	for i := range d.Wavelengths {
		d.Unset(spectral.B, i)
	}
	out, bw, diags, err := Finalize(d)
	if err != nil {
		t.Fatalf("an empty band should not fail the run: %v", err)
	}
	if out.Count(spectral.B) != 0 || bw[spectral.B] != 0 {
		t.Errorf("expected B missing with no bandwidth, got %d entries and %g nm", out.Count(spectral.B), bw[spectral.B])
	}
	if len(diags) != 1 || diags[0].Kind != DiagEmptyBand || diags[0].Band != spectral.B {
		t.Errorf("expected one empty-band diagnostic for B, got %v", diags)
	}
	if math.Abs(bw[spectral.R]-20) > tol {
		t.Errorf("expected 20 nm for R, got %g", bw[spectral.R])
	}
}

// a baseline without any red data leaves nothing to scale the others' red
// band against
func baselineWithoutRed() []spectral.Dataset {
	a := constant("A", 400, 560, 2, 0.1)
	for i := range a.Wavelengths {
		a.Unset(spectral.R, i)
	}
	return []spectral.Dataset{a, constant("B", 480, 600, 4, 0.2)}
}

func TestEmptyBandSkipped(t *testing.T) {
	res, err := Fuse(baselineWithoutRed(), Options{RepresentativeBand: spectral.G, SkipFailed: true})
	if err != nil {
		t.Fatalf("fuse failed: %v", err)
	}
	if len(res.Failures) != 1 || !errors.Is(res.Failures[0], ErrInsufficientOverlap) {
		t.Fatalf("expected the red fit of B to fail, got %v", res.Failures)
	}
	if res.Curve.Count(spectral.R) != 0 || res.Bandwidth[spectral.R] != 0 {
		t.Errorf("expected red missing with no bandwidth")
	}
	if CountDiagnostics(res.Diagnostics)[DiagEmptyBand] != 1 {
		t.Errorf("expected one empty-band diagnostic, got %v", CountDiagnostics(res.Diagnostics))
	}
	if math.Abs(res.Bandwidth[spectral.G]-200) > 1e-6 {
		t.Errorf("expected 200 nm for G, got %g", res.Bandwidth[spectral.G])
	}
}

func TestEmptyBandStrict(t *testing.T) {
	_, err := Fuse(baselineWithoutRed(), DefaultOptions())
	var fe *FitError
	if !errors.As(err, &fe) || fe.Band != spectral.R || fe.Points != 0 {
		t.Fatalf("expected a red FitError with no points, got %v", err)
	}
}
