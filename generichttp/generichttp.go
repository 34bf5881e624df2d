// Package generichttp holds the route table used by every HTTP interface in
// this module and small handler constructors for JSON scalars.
package generichttp

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi"

	"github.com/monocle-h2020/camera-calibration-sub000/server"
)

// MethodPath is a struct containing an HTTP method and a URL path
type MethodPath struct {
	Method, Path string
}

func (mp MethodPath) String() string {
	return mp.Method + " " + mp.Path
}

// RouteTable2 maps a method and path to a handler
type RouteTable2 map[MethodPath]http.HandlerFunc

// Endpoints lists the routes of the table, "GET /curve" and so on, sorted by path
func (rt RouteTable2) Endpoints() []string {
	keys := make([]MethodPath, 0, len(rt))
	for k := range rt {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Path != keys[j].Path {
			return keys[i].Path < keys[j].Path
		}
		return keys[i].Method < keys[j].Method
	})
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}

// ListRoutes is Endpoints, to satisfy server.HTTPBinder
func (rt RouteTable2) ListRoutes() []string {
	return rt.Endpoints()
}

// Bind registers every route of the table on r, plus GET /list-of-routes
func (rt RouteTable2) Bind(r chi.Router) {
	for mp, hndl := range rt {
		r.MethodFunc(mp.Method, mp.Path, hndl)
	}
	r.Get("/list-of-routes", server.ListOfRoutes(rt))
}

// HTTPer is something that holds a route table
type HTTPer interface {
	RT() RouteTable2
}

// SubMuxSanitize converts a URL stem such as "srf" or "/srf/" to the form
// chi's Mount expects, "/srf"
func SubMuxSanitize(str string) string {
	str = strings.Trim(str, "/")
	return "/" + str
}

// BoolT is a struct with a single Bool field
type BoolT struct {
	Bool bool `json:"bool"`
}

// StrT is a struct with a single Str field
type StrT struct {
	Str string `json:"str"`
}

// IntT is a struct with a single Int field
type IntT struct {
	Int int `json:"int"`
}

// ReplyJSON sends v to the client as JSON
func ReplyJSON(w http.ResponseWriter, v interface{}) {
	server.ReplyJSON(w, v)
}

// GetInt calls an int-getting function and returns the response
// as json {'int': value}
func GetInt(fcn func() (int, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		i, err := fcn()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		ReplyJSON(w, IntT{Int: i})
	}
}

// GetString calls a string-getting function and returns the response
// as json {'str': value}
func GetString(fcn func() (string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := fcn()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		ReplyJSON(w, StrT{Str: s})
	}
}

// SetString parses a JSON input of {'str': value} and
// calls fcn with it.  An error from fcn is the client's fault.
func SetString(fcn func(string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := StrT{}
		err := json.NewDecoder(r.Body).Decode(&s)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = fcn(s.Str)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetBool calls a bool-getting function and returns the response
// as json {'bool': value}
func GetBool(fcn func() (bool, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := fcn()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		ReplyJSON(w, BoolT{Bool: b})
	}
}

// SetBool parses a JSON input of {'bool': value} and
// calls fcn with it
func SetBool(fcn func(bool) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b := BoolT{}
		err := json.NewDecoder(r.Body).Decode(&b)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = fcn(b.Bool)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
