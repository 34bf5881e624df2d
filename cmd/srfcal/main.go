package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/theckman/yacspin"

	yml "gopkg.in/yaml.v2"

	"github.com/monocle-h2020/camera-calibration-sub000/curvefile"
	"github.com/monocle-h2020/camera-calibration-sub000/curverec"
	"github.com/monocle-h2020/camera-calibration-sub000/fusion"
	"github.com/monocle-h2020/camera-calibration-sub000/generichttp"
	"github.com/monocle-h2020/camera-calibration-sub000/generichttp/srf"
	"github.com/monocle-h2020/camera-calibration-sub000/server/middleware/locker"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "srfcal.yml"
	k              = koanf.New(".")
)

func setupconfig() {
	k.Load(structs.Provider(defaultConfig(), "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `srfcal fuses spectral response measurements of a camera, taken under
several instrument configurations that each cover part of the spectrum,
into one peak normalized response curve per colour band.

Usage:
	srfcal <command> [dataset.csv ...]

Commands:
	run
	serve
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `srfcal is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

When no configuration is provided, the defaults are used.  Keys are not case-sensitive.
The command mkconf generates the configuration file with the default values.

Each entry of Datasets names a CSV file with the columns
	wavelength,R,G,B,G2,R_err,G_err,B_err,G2_err
one row per wavelength in nm, empty or nan cells for missing data, and
optionally a Reference calibration file which is divided out before fusion.
Dataset files given on the command line replace the configured ones.

run fuses the datasets once and writes the artifacts below Output.Root in a
folder per day.  serve does the same, then serves the result over HTTP at
Addr+Root; POST /rerun fuses again.  GET /list-of-routes lists every route.

The most complete dataset sets the scale.  A dataset that cannot be scaled
onto it (fewer than 3 shared wavelengths in a band, or no overlap with any
dataset scaled before it) stops the run unless SkipFailed is true, in which
case it is left out and reported.

RepresentativeBand is the band whose coverage is used to count the overlap
between datasets.`
	fmt.Println(str)
}

func mkconf() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	err = yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("srfcal version %v\n", Version)
}

// loadconfig reads the effective config; dataset paths in args win over the file
func loadconfig(args []string) config {
	cfg := config{}
	err := k.Unmarshal("", &cfg)
	if err != nil {
		log.Fatal(err)
	}
	if len(args) > 0 {
		cfg.Datasets = datasetsFromArgs(args)
	}
	return cfg
}

func spin(fcn func() error) error {
	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " fusing",
		StopCharacter:     "✓",
		StopFailCharacter: "✗",
		Writer:            os.Stderr,
	})
	if err != nil {
		// no spinner is no reason not to fuse
		return fcn()
	}
	spinner.Start()
	err = fcn()
	if err != nil {
		spinner.StopFail()
		return err
	}
	spinner.Stop()
	return nil
}

func run(args []string) {
	cfg := loadconfig(args)
	opts, err := cfg.options()
	if err != nil {
		log.Fatal(err)
	}
	var (
		res  fusion.Result
		meta curvefile.Meta
	)
	err = spin(func() error {
		var err error
		res, meta, err = fuse(cfg.Datasets, opts)
		return err
	})
	if err != nil {
		log.Fatal(err)
	}
	logResult(res, meta)

	rec := &curverec.Recorder{Root: cfg.Output.Root, Prefix: cfg.Output.Prefix}
	_, files, err := record(rec, cfg.Output, res, meta)
	for _, fn := range files {
		log.Println("wrote", fn)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func serve(args []string) {
	cfg := loadconfig(args)
	opts, err := cfg.options()
	if err != nil {
		log.Fatal(err)
	}
	rec := &curverec.Recorder{Root: cfg.Output.Root, Prefix: cfg.Output.Prefix}
	w := srf.NewHTTPFusion(opts, serveRunner(cfg, rec), rec)
	if _, err := w.RunNow(); err != nil {
		log.Println("serving without a result until a successful POST /rerun")
	}

	lock := locker.New()
	locker.Inject(w, lock)

	// clean up the submux string
	hndlrS := generichttp.SubMuxSanitize(cfg.Root)
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	mux := chi.NewRouter()
	mux.Use(lock.Check)
	root.Mount(hndlrS, mux)
	w.RT().Bind(mux)
	addr := cfg.Addr + cfg.Root
	log.Println("now listening for requests at ", addr)
	log.Fatal(http.ListenAndServe(cfg.Addr, root))
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run(args[2:])
		return
	case "serve":
		serve(args[2:])
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
