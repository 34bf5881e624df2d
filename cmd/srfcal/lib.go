package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/monocle-h2020/camera-calibration-sub000/curvefile"
	"github.com/monocle-h2020/camera-calibration-sub000/curverec"
	"github.com/monocle-h2020/camera-calibration-sub000/fusion"
	"github.com/monocle-h2020/camera-calibration-sub000/generichttp/srf"
	"github.com/monocle-h2020/camera-calibration-sub000/refcal"
	"github.com/monocle-h2020/camera-calibration-sub000/spectral"
	"github.com/monocle-h2020/camera-calibration-sub000/util"
)

// ErrNoDatasets is returned when neither the config nor the command line name a dataset
var ErrNoDatasets = errors.New("no datasets configured")

// dataset is one instrument configuration to fuse
type dataset struct {
	// Name identifies the dataset in logs and artifacts, defaults to the file name
	Name string `yaml:"Name"`

	// Path is the dataset CSV file
	Path string `yaml:"Path"`

	// Reference is an optional reference calibration file divided out of the dataset
	Reference string `yaml:"Reference"`
}

type output struct {
	// Root is the root folder to write to
	Root string `yaml:"Root"`

	// Prefix is the filename prefix to use
	Prefix string `yaml:"Prefix"`

	// CSV and FITS select the formats of the fused curve artifact
	CSV  bool `yaml:"CSV"`
	FITS bool `yaml:"FITS"`

	// Intermediate also writes every dataset after ratio normalization
	Intermediate bool `yaml:"Intermediate"`
}

type config struct {
	Addr               string    `yaml:"Addr"`
	Root               string    `yaml:"Root"`
	Datasets           []dataset `yaml:"Datasets"`
	RepresentativeBand string    `yaml:"RepresentativeBand"`
	SkipFailed         bool      `yaml:"SkipFailed"`
	Output             output    `yaml:"Output"`
}

func defaultConfig() config {
	return config{
		Addr:               ":8000",
		Root:               "/",
		RepresentativeBand: "G",
		Output: output{
			Root:   "srf",
			Prefix: "srf",
			CSV:    true,
			FITS:   true,
		},
	}
}

// options converts the fusion part of the config
func (c config) options() (fusion.Options, error) {
	opts := fusion.DefaultOptions()
	if c.RepresentativeBand != "" {
		b, err := spectral.ParseBand(c.RepresentativeBand)
		if err != nil {
			return opts, err
		}
		opts.RepresentativeBand = b
	}
	opts.SkipFailed = c.SkipFailed
	return opts, nil
}

// datasetsFromArgs turns file paths into datasets named after the file
func datasetsFromArgs(paths []string) []dataset {
	out := make([]dataset, len(paths))
	for i, p := range paths {
		out[i] = dataset{Path: p}
	}
	return out
}

// loadDatasets reads every dataset and divides out its reference curve, if any
func loadDatasets(specs []dataset) ([]spectral.Dataset, error) {
	if len(specs) == 0 {
		return nil, ErrNoDatasets
	}
	out := make([]spectral.Dataset, 0, len(specs))
	for _, s := range specs {
		d, err := spectral.LoadCSV(s.Path, s.Name)
		if err != nil {
			return nil, err
		}
		name := d.Name
		if s.Reference != "" {
			c, err := refcal.Load(s.Reference)
			if err != nil {
				return nil, fmt.Errorf("dataset %q: %w", name, err)
			}
			var rep refcal.Report
			d, rep, err = c.Correct(d)
			if err != nil {
				return nil, fmt.Errorf("dataset %q: %w", name, err)
			}
			if rep.OutOfRange > 0 || rep.NonPositive > 0 {
				log.Printf("dataset %q: %d entries outside of the reference curve and %d where it is not positive were dropped\n",
					name, rep.OutOfRange, rep.NonPositive)
			}
		}
		log.Printf("loaded dataset %q, %d wavelengths\n", d.Name, d.Len())
		out = append(out, d)
	}
	return out, nil
}

// fuse loads the configured datasets and fuses them.  The returned meta data
// carries a fresh run ID.
func fuse(specs []dataset, opts fusion.Options) (fusion.Result, curvefile.Meta, error) {
	meta := curvefile.Meta{RunID: uuid.New().String()}
	sets, err := loadDatasets(specs)
	if err != nil {
		return fusion.Result{}, meta, err
	}
	res, err := fusion.Fuse(sets, opts)
	meta.Inputs = res.Inputs
	if err != nil {
		return res, meta, err
	}
	meta.Baseline = res.Inputs[res.Plan.Baseline]
	return res, meta, nil
}

// logResult summarizes a run on the log
func logResult(res fusion.Result, meta curvefile.Meta) {
	log.Printf("run %s: baseline %q, then datasets %s\n", meta.RunID, meta.Baseline, util.IntSliceToCSV(res.Plan.Order))
	for _, c := range res.Corrections {
		log.Printf("%q band %v scaled against %q over %d points\n",
			res.Inputs[c.Dataset], c.Band, res.Inputs[c.Comparison], c.Points)
	}
	for kind, n := range fusion.CountDiagnostics(res.Diagnostics) {
		log.Printf("%d %v\n", n, kind)
	}
	for _, d := range res.Diagnostics {
		if d.Kind == fusion.DiagNonPositiveCorrection || d.Kind == fusion.DiagMaskMismatch {
			log.Println(d)
		}
	}
	for _, err := range res.Failures {
		log.Println("skipped:", err)
	}
	log.Printf("effective bandwidth R %.2f G %.2f B %.2f G2 %.2f nm\n",
		res.Bandwidth[spectral.R], res.Bandwidth[spectral.G], res.Bandwidth[spectral.B], res.Bandwidth[spectral.G2])
}

// artifactName makes a dataset name safe to use in a file name
func artifactName(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' {
			return r
		}
		return '-'
	}, s)
}

func writeArtifact(run curverec.Run, kind, ext string, fcn func(io.Writer) error) (string, error) {
	f, fn, err := run.Create(kind, ext)
	if err != nil {
		return "", err
	}
	err = fcn(f)
	cerr := f.Close()
	if err == nil {
		err = cerr
	}
	return fn, err
}

// record writes the artifacts of a fusion run as the recorder's next run and
// returns the run and the files written
func record(rec *curverec.Recorder, out output, res fusion.Result, meta curvefile.Meta) (curverec.Run, []string, error) {
	run, err := rec.Incr()
	if err != nil {
		return run, nil, err
	}
	var files []string
	add := func(kind, ext string, fcn func(io.Writer) error) error {
		fn, err := writeArtifact(run, kind, ext, fcn)
		if err != nil {
			return err
		}
		files = append(files, fn)
		return nil
	}

	if out.CSV {
		err = add("curve", "csv", func(w io.Writer) error { return curvefile.WriteCSV(w, res.Curve, meta) })
		if err != nil {
			return run, files, err
		}
	}
	if out.FITS {
		err = add("curve", "fits", func(w io.Writer) error { return curvefile.WriteFits(w, res.Curve, res.Bandwidth, meta) })
		if err != nil {
			return run, files, err
		}
	}
	err = add("bandwidth", "csv", func(w io.Writer) error { return curvefile.WriteBandwidth(w, res.Bandwidth) })
	if err != nil {
		return run, files, err
	}
	if out.Intermediate {
		for _, d := range res.Normalized {
			d := d
			err = add("normalized-"+artifactName(d.Name), "csv", func(w io.Writer) error { return spectral.WriteCSV(w, d) })
			if err != nil {
				return run, files, err
			}
		}
	}
	return run, files, nil
}

// serveRunner fuses the configured datasets and records the artifacts.  A
// recording failure does not void the fusion result.
func serveRunner(cfg config, rec *curverec.Recorder) srf.Runner {
	return func(opts fusion.Options) (srf.Outcome, error) {
		res, meta, err := fuse(cfg.Datasets, opts)
		if err != nil {
			log.Println("fusion failed:", err)
			return srf.Outcome{}, err
		}
		logResult(res, meta)
		o := srf.Outcome{Result: res, Meta: meta}
		run, files, err := record(rec, cfg.Output, res, meta)
		for _, fn := range files {
			log.Println("wrote", fn)
		}
		if len(files) > 0 {
			o.Dir = run.Dir
		}
		if err != nil {
			log.Printf("run %s: artifacts not recorded: %v\n", meta.RunID, err)
			o.RecordErr = err
		}
		return o, nil
	}
}
