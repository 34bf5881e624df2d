// Package srf provides an HTTP interface to the most recent spectral response
// fusion run: the fused curve in JSON, CSV, and FITS, the bandwidths, the
// normalization plan, the diagnostics, and prometheus gauges describing it.
package srf

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gonum.org/v1/gonum/floats"

	"github.com/monocle-h2020/camera-calibration-sub000/curvefile"
	"github.com/monocle-h2020/camera-calibration-sub000/curverec"
	"github.com/monocle-h2020/camera-calibration-sub000/fusion"
	"github.com/monocle-h2020/camera-calibration-sub000/generichttp"
	"github.com/monocle-h2020/camera-calibration-sub000/server"
	"github.com/monocle-h2020/camera-calibration-sub000/spectral"
)

var (
	// ErrNoResult is returned while no fusion run has completed
	ErrNoResult = errors.New("no fusion result available yet")

	// ErrNoArtifacts is returned while the served result has no recorded files
	ErrNoArtifacts = errors.New("served result has no recorded artifacts")

	// ErrNoRunner is returned by RunNow when no Runner was given
	ErrNoRunner = errors.New("no fusion runner configured")
)

// Outcome is a successful fusion run
type Outcome struct {
	Result fusion.Result
	Meta   curvefile.Meta

	// Dir is the folder the run's artifacts were written to, empty if none were
	Dir string

	// RecordErr is set when the artifacts could not all be written.  The
	// result is still served.
	RecordErr error
}

// Runner performs a fusion run with the given options.  The error is that of
// fusion; trouble recording the artifacts goes in Outcome.RecordErr.
type Runner func(fusion.Options) (Outcome, error)

type metrics struct {
	reg         *prometheus.Registry
	bandwidth   *prometheus.GaugeVec
	peak        *prometheus.GaugeVec
	diagnostics *prometheus.GaugeVec
	datasets    prometheus.Gauge
	failures    prometheus.Gauge
	lastUpdate  prometheus.Gauge
	runs        *prometheus.CounterVec
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &metrics{
		reg: reg,
		bandwidth: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "srf_effective_bandwidth_nm",
				Help: "effective bandwidth of the fused, peak normalized response",
			},
			[]string{"band"},
		),
		peak: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "srf_peak_wavelength_nm",
				Help: "wavelength at which the fused response peaks",
			},
			[]string{"band"},
		),
		diagnostics: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "srf_diagnostics",
				Help: "non fatal conditions recorded by the last run",
			},
			[]string{"kind"},
		),
		datasets: f.NewGauge(prometheus.GaugeOpts{
			Name: "srf_datasets",
			Help: "number of datasets fused by the last run",
		}),
		failures: f.NewGauge(prometheus.GaugeOpts{
			Name: "srf_failures",
			Help: "dataset/band normalizations skipped by the last run",
		}),
		lastUpdate: f.NewGauge(prometheus.GaugeOpts{
			Name: "srf_last_update_timestamp_seconds",
			Help: "unix time of the last successful run",
		}),
		runs: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "srf_runs_total",
				Help: "fusion runs by outcome: ok, unrecorded (fused, artifacts not written) or error",
			},
			[]string{"outcome"},
		),
	}
}

func (m *metrics) update(res fusion.Result) {
	for _, b := range spectral.Bands {
		m.bandwidth.WithLabelValues(b.String()).Set(res.Bandwidth[b])
		if res.Curve.Count(b) > 0 {
			m.peak.WithLabelValues(b.String()).Set(res.Curve.Wavelengths[floats.MaxIdx(res.Curve.Mean[b])])
		}
	}
	counts := fusion.CountDiagnostics(res.Diagnostics)
	for _, k := range []fusion.DiagKind{fusion.DiagMissingData, fusion.DiagDegenerateWeight, fusion.DiagNonPositiveCorrection, fusion.DiagMaskMismatch, fusion.DiagEmptyBand} {
		m.diagnostics.WithLabelValues(k.String()).Set(float64(counts[k]))
	}
	m.datasets.Set(float64(len(res.Inputs)))
	m.failures.Set(float64(len(res.Failures)))
	m.lastUpdate.Set(float64(time.Now().Unix()))
}

// HTTPFusion holds the most recent fusion result and serves it over HTTP
type HTTPFusion struct {
	// runMu serializes runs, mu guards the fields below it
	runMu sync.Mutex

	mu     sync.RWMutex
	res    fusion.Result
	meta   curvefile.Meta
	dir    string
	have   bool
	opts   fusion.Options
	run    Runner
	rec    *curverec.Recorder
	metric *metrics

	RouteTable generichttp.RouteTable2
}

// NewHTTPFusion returns a new HTTP wrapper.  run is used by POST /rerun and
// may be nil, in which case the route is not added.  When rec is not nil the
// files of the served run are available under /artifacts and the recorder's
// root and prefix can be changed over HTTP.
func NewHTTPFusion(opts fusion.Options, run Runner, rec *curverec.Recorder) *HTTPFusion {
	h := &HTTPFusion{opts: opts, run: run, rec: rec, metric: newMetrics()}
	rt := generichttp.RouteTable2{
		{Method: http.MethodGet, Path: "/curve"}:                h.Curve,
		{Method: http.MethodGet, Path: "/curve.csv"}:            h.CurveCSV,
		{Method: http.MethodGet, Path: "/curve.fits"}:           h.CurveFits,
		{Method: http.MethodGet, Path: "/bandwidth"}:            h.Bandwidth,
		{Method: http.MethodGet, Path: "/bandwidth.csv"}:        h.BandwidthCSV,
		{Method: http.MethodGet, Path: "/plan"}:                 h.Plan,
		{Method: http.MethodGet, Path: "/diagnostics"}:          h.Diagnostics,
		{Method: http.MethodGet, Path: "/run"}:                  generichttp.GetString(h.RunID),
		{Method: http.MethodGet, Path: "/representative-band"}:  generichttp.GetString(h.getBand),
		{Method: http.MethodPost, Path: "/representative-band"}: generichttp.SetString(h.setBand),
		{Method: http.MethodGet, Path: "/skip-failed"}:          generichttp.GetBool(h.getSkip),
		{Method: http.MethodPost, Path: "/skip-failed"}:         generichttp.SetBool(h.setSkip),
		{Method: http.MethodGet, Path: "/metrics"}:              promhttp.HandlerFor(h.metric.reg, promhttp.HandlerOpts{}).ServeHTTP,
	}
	if run != nil {
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/rerun"}] = h.Rerun
	}
	if rec != nil {
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/artifacts/{file}"}] = h.Artifact
		curverec.NewHTTPWrapper(rec).Inject(rt)
	}
	h.RouteTable = rt
	return h
}

// RT satisfies generichttp.HTTPer
func (h *HTTPFusion) RT() generichttp.RouteTable2 {
	return h.RouteTable
}

// Update replaces the served result
func (h *HTTPFusion) Update(o Outcome) {
	h.mu.Lock()
	h.res, h.meta, h.dir, h.have = o.Result, o.Meta, o.Dir, true
	h.mu.Unlock()
	h.metric.update(o.Result)
}

// RunNow fuses with the current options.  Runs never overlap.  When fusion
// succeeds the result is served, even if recording its artifacts failed.
func (h *HTTPFusion) RunNow() (Outcome, error) {
	if h.run == nil {
		return Outcome{}, ErrNoRunner
	}
	h.runMu.Lock()
	defer h.runMu.Unlock()
	o, err := h.run(h.Options())
	switch {
	case err != nil:
		h.metric.runs.WithLabelValues("error").Inc()
		return o, err
	case o.RecordErr != nil:
		h.metric.runs.WithLabelValues("unrecorded").Inc()
	default:
		h.metric.runs.WithLabelValues("ok").Inc()
	}
	h.Update(o)
	return o, nil
}

// Options returns the options the next rerun will use
func (h *HTTPFusion) Options() fusion.Options {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.opts
}

func (h *HTTPFusion) snapshot() (fusion.Result, curvefile.Meta, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.have {
		return h.res, h.meta, ErrNoResult
	}
	return h.res, h.meta, nil
}

// RunID returns the identifier of the served run
func (h *HTTPFusion) RunID() (string, error) {
	_, meta, err := h.snapshot()
	return meta.RunID, err
}

func (h *HTTPFusion) getBand() (string, error) {
	return h.Options().RepresentativeBand.String(), nil
}

func (h *HTTPFusion) setBand(s string) error {
	b, err := spectral.ParseBand(s)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.opts.RepresentativeBand = b
	h.mu.Unlock()
	return nil
}

func (h *HTTPFusion) getSkip() (bool, error) {
	return h.Options().SkipFailed, nil
}

func (h *HTTPFusion) setSkip(b bool) error {
	h.mu.Lock()
	h.opts.SkipFailed = b
	h.mu.Unlock()
	return nil
}

// noResult writes 503 and returns true if err is set
func noResult(w http.ResponseWriter, err error) bool {
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return true
	}
	return false
}

type bandJSON struct {
	Mean []*float64 `json:"mean"`
	Err  []*float64 `json:"err"`
}

type curveJSON struct {
	curvefile.Meta
	Wavelengths []float64                  `json:"wavelengths"`
	Bands       map[spectral.Band]bandJSON `json:"bands"`
	Bandwidth   map[spectral.Band]float64  `json:"bandwidth"`
}

func bandwidthMap(bw fusion.Bandwidth) map[spectral.Band]float64 {
	out := make(map[spectral.Band]float64, spectral.NBands)
	for _, b := range spectral.Bands {
		out[b] = bw[b]
	}
	return out
}

// Curve sends the fused curve as JSON.  Missing entries are null.
func (h *HTTPFusion) Curve(w http.ResponseWriter, r *http.Request) {
	res, meta, err := h.snapshot()
	if noResult(w, err) {
		return
	}
	c := res.Curve
	out := curveJSON{
		Meta:        meta,
		Wavelengths: c.Wavelengths,
		Bands:       make(map[spectral.Band]bandJSON, spectral.NBands),
		Bandwidth:   bandwidthMap(res.Bandwidth),
	}
	for _, b := range spectral.Bands {
		bj := bandJSON{Mean: make([]*float64, c.Len()), Err: make([]*float64, c.Len())}
		for i := range c.Wavelengths {
			if m, e, ok := c.At(b, i); ok {
				bj.Mean[i], bj.Err[i] = &m, &e
			}
		}
		out.Bands[b] = bj
	}
	generichttp.ReplyJSON(w, out)
}

// CurveCSV sends the fused curve artifact as CSV
func (h *HTTPFusion) CurveCSV(w http.ResponseWriter, r *http.Request) {
	res, meta, err := h.snapshot()
	if noResult(w, err) {
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	err = curvefile.WriteCSV(w, res.Curve, meta)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// CurveFits sends the fused curve artifact as a FITS file
func (h *HTTPFusion) CurveFits(w http.ResponseWriter, r *http.Request) {
	res, meta, err := h.snapshot()
	if noResult(w, err) {
		return
	}
	w.Header().Set("Content-Type", "image/fits")
	err = curvefile.WriteFits(w, res.Curve, res.Bandwidth, meta)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Bandwidth sends the effective bandwidths as a JSON object keyed by band
func (h *HTTPFusion) Bandwidth(w http.ResponseWriter, r *http.Request) {
	res, _, err := h.snapshot()
	if noResult(w, err) {
		return
	}
	generichttp.ReplyJSON(w, bandwidthMap(res.Bandwidth))
}

// BandwidthCSV sends the bandwidth artifact
func (h *HTTPFusion) BandwidthCSV(w http.ResponseWriter, r *http.Request) {
	res, _, err := h.snapshot()
	if noResult(w, err) {
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	err = curvefile.WriteBandwidth(w, res.Bandwidth)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

type planJSON struct {
	Inputs      []string            `json:"inputs"`
	Baseline    string              `json:"baseline"`
	Order       []string            `json:"order"`
	Overlap     fusion.Overlap      `json:"overlap"`
	Corrections []fusion.Correction `json:"corrections"`
}

// Plan sends the normalization plan, the overlap matrix and the fitted corrections
func (h *HTTPFusion) Plan(w http.ResponseWriter, r *http.Request) {
	res, _, err := h.snapshot()
	if noResult(w, err) {
		return
	}
	out := planJSON{
		Inputs:      res.Inputs,
		Baseline:    res.Inputs[res.Plan.Baseline],
		Order:       make([]string, len(res.Plan.Order)),
		Overlap:     res.Overlap,
		Corrections: res.Corrections,
	}
	for i, d := range res.Plan.Order {
		out.Order[i] = res.Inputs[d]
	}
	generichttp.ReplyJSON(w, out)
}

type diagnosticsJSON struct {
	Counts      map[fusion.DiagKind]int `json:"counts"`
	Diagnostics []fusion.Diagnostic     `json:"diagnostics"`
	Failures    []string                `json:"failures"`
}

// Diagnostics sends the non fatal conditions and tolerated failures of the run
func (h *HTTPFusion) Diagnostics(w http.ResponseWriter, r *http.Request) {
	res, _, err := h.snapshot()
	if noResult(w, err) {
		return
	}
	out := diagnosticsJSON{
		Counts:      fusion.CountDiagnostics(res.Diagnostics),
		Diagnostics: res.Diagnostics,
		Failures:    make([]string, len(res.Failures)),
	}
	if out.Diagnostics == nil {
		out.Diagnostics = []fusion.Diagnostic{}
	}
	for i, e := range res.Failures {
		out.Failures[i] = e.Error()
	}
	generichttp.ReplyJSON(w, out)
}

// Rerun fuses again with the current options and serves the new result.  If
// fusion fails the previous result stays in place and the error is returned
// to the client.  If only recording fails the new result is served and the
// error is returned.
func (h *HTTPFusion) Rerun(w http.ResponseWriter, r *http.Request) {
	o, err := h.RunNow()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if o.RecordErr != nil {
		http.Error(w, "run "+o.Meta.RunID+" fused but not recorded: "+o.RecordErr.Error(), http.StatusInternalServerError)
		return
	}
	generichttp.ReplyJSON(w, generichttp.StrT{Str: o.Meta.RunID})
}

// Artifact serves a file of the served run
func (h *HTTPFusion) Artifact(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	dir := h.dir
	h.mu.RUnlock()
	if dir == "" {
		http.Error(w, ErrNoArtifacts.Error(), http.StatusNotFound)
		return
	}
	server.ReplyWithFile(w, r, chi.URLParam(r, "file"), dir)
}
