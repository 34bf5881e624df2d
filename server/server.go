// Package server contains misc server utilities.
package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// ReplyWithFile replies to the client request by serving the given file name
// from fldr.  fn may not climb out of fldr.
func ReplyWithFile(w http.ResponseWriter, r *http.Request, fn string, fldr string) {
	root, err := filepath.Abs(fldr)
	if err != nil {
		fstr := fmt.Sprintf("unable to compute abspath of folder %s %s", fldr, err)
		log.Println(fstr)
		http.Error(w, fstr, http.StatusInternalServerError)
		return
	}
	filePath := filepath.Join(root, filepath.Clean("/"+fn))
	if !strings.HasPrefix(filePath, root+string(filepath.Separator)) {
		http.Error(w, "file outside of the served folder", http.StatusBadRequest)
		return
	}

	f, err := os.Open(filePath)
	if err != nil {
		fstr := fmt.Sprintf("source file missing %s", filePath)
		log.Println(fstr)
		http.Error(w, fstr, http.StatusNotFound)
		return
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		fstr := fmt.Sprintf("error retrieving source file stats %s", err)
		log.Println(fstr)
		http.Error(w, fstr, http.StatusNotFound)
		return
	}
	if stat.IsDir() {
		http.Error(w, "not a file", http.StatusBadRequest)
		return
	}
	// read some stuff to set the headers appropriately
	http.ServeContent(w, r, filepath.Base(filePath), stat.ModTime(), f)
}

// ReplyJSON encodes v as JSON and writes it with a 200 status
func ReplyJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		fstr := fmt.Sprintf("error encoding data to json %q", err)
		log.Println(fstr)
		http.Error(w, fstr, http.StatusInternalServerError)
	}
}

// HTTPBinder is an object which knows how to bind methods to HTTP routes and can list them
type HTTPBinder interface {
	ListRoutes() []string
}

// ListOfRoutes returns a handler which replies with the routes of b as a JSON array
func ListOfRoutes(b HTTPBinder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ReplyJSON(w, b.ListRoutes())
	}
}
