package spectral

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Header is the column layout shared by dataset files and the fused curve artifact
var Header = []string{"wavelength", "R", "G", "B", "G2", "R_err", "G_err", "B_err", "G2_err"}

// ReadCSV parses a dataset table.  Lines starting with # are comments, a
// header row is permitted, and empty or nan cells mark a missing entry.  If
// either the mean or the error of a band is missing, both are.
func ReadCSV(r io.Reader, name string) (Dataset, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = len(Header)
	cr.TrimLeadingSpace = true

	var (
		wl    []float64
		means [NBands][]float64
		errs  [NBands][]float64
		valid [NBands][]bool
	)
	line := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Dataset{}, fmt.Errorf("reading dataset %q: %w", name, err)
		}
		line++
		w, err := strconv.ParseFloat(strings.TrimSpace(rec[0]), 64)
		if err != nil {
			if line == 1 {
				continue // header
			}
			return Dataset{}, fmt.Errorf("dataset %q row %d: bad wavelength %q", name, line, rec[0])
		}
		wl = append(wl, w)
		for b := 0; b < NBands; b++ {
			m, mok, err := parseCell(rec[1+b])
			if err != nil {
				return Dataset{}, fmt.Errorf("dataset %q row %d band %v mean: %w", name, line, Band(b), err)
			}
			e, eok, err := parseCell(rec[1+NBands+b])
			if err != nil {
				return Dataset{}, fmt.Errorf("dataset %q row %d band %v error: %w", name, line, Band(b), err)
			}
			ok := mok && eok
			if !ok {
				m, e = 0, 0
			}
			means[b] = append(means[b], m)
			errs[b] = append(errs[b], e)
			valid[b] = append(valid[b], ok)
		}
	}
	d := Dataset{Name: name, Wavelengths: wl, Mean: means, Err: errs, Valid: valid}
	return d, d.Check()
}

// LoadCSV reads a dataset table from disk; the dataset is named after the file
// unless name is non-empty.
func LoadCSV(path, name string) (Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return Dataset{}, err
	}
	defer f.Close()
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return ReadCSV(f, name)
}

// WriteCSV writes d in the layout read by ReadCSV.  Missing entries are
// written as nan.
func WriteCSV(w io.Writer, d Dataset) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	row := make([]string, len(Header))
	for i, wl := range d.Wavelengths {
		row[0] = formatFloat(wl)
		for b := 0; b < NBands; b++ {
			if d.Valid[b][i] {
				row[1+b] = formatFloat(d.Mean[b][i])
				row[1+NBands+b] = formatFloat(d.Err[b][i])
			} else {
				row[1+b], row[1+NBands+b] = "nan", "nan"
			}
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func parseCell(s string) (float64, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "nan") {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, err
	}
	if math.IsNaN(v) {
		return 0, false, nil
	}
	return v, true, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
