// Package curverec records fusion artifacts to disk with incrementing run
// numbers in yyyy-mm-dd subfolders.
package curverec

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/monocle-h2020/camera-calibration-sub000/generichttp"
)

// Recorder writes the artifacts of successive runs as
// Root/yyyy-mm-dd/<Prefix><run>_<kind>.<ext>.  Incr reserves a run, and all
// files of the run are created through it.
type Recorder struct {
	mu sync.Mutex

	// counter is the last run number handed out
	counter int

	// Root is the root path
	Root string

	// Prefix is the prefix for the filenames
	Prefix string

	// timeFldr is the subfolder with yyyy-mm-dd format.
	timeFldr string

	// now is swapped out in tests
	now func() time.Time
}

// updateFolder checks the current time and updates the folder as needed
func (r *Recorder) updateFolder() {
	now := time.Now
	if r.now != nil {
		now = r.now
	}
	y, m, d := now().Date()
	r.timeFldr = fmt.Sprintf("%04d-%02d-%02d", y, m, d)
}

// mkDir makes the folder and returns it
func (r *Recorder) mkDir() (string, error) {
	fldr := filepath.Join(r.Root, r.timeFldr)
	err := os.MkdirAll(fldr, 0777)
	return fldr, err
}

// Counter returns the number of the last run handed out by Incr
func (r *Recorder) Counter() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counter
}

// Run is one run number reserved by Incr.  Its folder and prefix are fixed
// when it is reserved, so later changes to the recorder, the date, or further
// runs do not move its files.
type Run struct {
	// Number is the run number
	Number int

	// Dir is the folder the run's files go to
	Dir string

	// Prefix is the filename prefix of the run's files
	Prefix string
}

// Create opens a new artifact file of the run for writing, e.g.
// Create("curve", "fits").  It returns the file and its path.
func (run Run) Create(kind, ext string) (*os.File, string, error) {
	fn := filepath.Join(run.Dir, fmt.Sprintf("%s%06d_%s.%s", run.Prefix, run.Number, kind, ext))
	f, err := os.Create(fn)
	return f, fn, err
}

// Incr reserves the next run number; it scans today's folder to do so, so
// a restarted program does not overwrite earlier runs.  If the folder cannot
// be read, the counter is not incremented.
func (r *Recorder) Incr() (Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateFolder()
	dn, err := r.mkDir()
	if err != nil {
		return Run{}, err
	}
	files, err := os.ReadDir(dn)
	if err != nil {
		return Run{}, err
	}
	count := 0
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		fn := file.Name()
		if !strings.HasPrefix(fn, r.Prefix) {
			continue
		}
		bit := strings.TrimPrefix(fn, r.Prefix)
		idx := strings.IndexByte(bit, '_')
		if idx <= 0 {
			continue
		}
		n, err := strconv.Atoi(bit[:idx])
		if err != nil {
			continue
		}
		if count < n {
			count = n
		}
	}
	if r.counter < count {
		r.counter = count
	}
	r.counter++
	return Run{Number: r.counter, Dir: dn, Prefix: r.Prefix}, nil
}

// HTTPWrapper is an HTTP wrapper around a recorder that allows the folder and prefix to be changed on the fly
type HTTPWrapper struct {
	*Recorder
}

// NewHTTPWrapper returns an HTTP wrapper around a recorder
func NewHTTPWrapper(r *Recorder) HTTPWrapper {
	return HTTPWrapper{r}
}

// SetRoot updates the root folder of the recorder
func (h HTTPWrapper) SetRoot(w http.ResponseWriter, r *http.Request) {
	str := generichttp.StrT{}
	err := json.NewDecoder(r.Body).Decode(&str)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rec := h.Recorder
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.Root = str.Str
	rec.updateFolder()
	_, err = rec.mkDir()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetRoot gets the recorder's root folder and sends it back as JSON
func (h HTTPWrapper) GetRoot(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	root := h.Root
	h.mu.Unlock()
	generichttp.ReplyJSON(w, generichttp.StrT{Str: root})
}

// SetPrefix updates the filename prefix of the recorder and restarts the run count
func (h HTTPWrapper) SetPrefix(w http.ResponseWriter, r *http.Request) {
	str := generichttp.StrT{}
	err := json.NewDecoder(r.Body).Decode(&str)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.mu.Lock()
	h.Prefix = str.Str
	h.counter = 0
	h.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

// GetPrefix gets the recorder's prefix and sends it back as JSON
func (h HTTPWrapper) GetPrefix(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	prefix := h.Prefix
	h.mu.Unlock()
	generichttp.ReplyJSON(w, generichttp.StrT{Str: prefix})
}

// Inject adds GET and POST routes for /recorder/root and /recorder/prefix to a route table
func (h HTTPWrapper) Inject(rt generichttp.RouteTable2) {
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/recorder/root"}] = h.SetRoot
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/recorder/root"}] = h.GetRoot
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/recorder/prefix"}] = h.SetPrefix
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/recorder/prefix"}] = h.GetPrefix
}
