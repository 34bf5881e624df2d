package fusion

import (
	"fmt"

	"github.com/monocle-h2020/camera-calibration-sub000/spectral"
)

// DiagKind classifies a non fatal condition met during fusion
type DiagKind int

const (
	// DiagMissingData marks a grid position no dataset covers in a band
	DiagMissingData DiagKind = iota

	// DiagDegenerateWeight marks a contribution dropped for a non-positive error
	DiagDegenerateWeight

	// DiagNonPositiveCorrection marks a ratio polynomial that is <= 0 or not
	// finite where the dataset has data.  The rescaled values are kept as they are.
	DiagNonPositiveCorrection

	// DiagMaskMismatch marks a dataset whose bands do not share one missing
	// value pattern; overlap is only counted on the representative band
	DiagMaskMismatch

	// DiagEmptyBand marks a band of the fused curve with no data anywhere; it
	// stays missing and its bandwidth is 0
	DiagEmptyBand
)

var diagNames = map[DiagKind]string{
	DiagMissingData:           "missing-data",
	DiagDegenerateWeight:      "degenerate-weight",
	DiagNonPositiveCorrection: "non-positive-correction",
	DiagMaskMismatch:          "mask-mismatch",
	DiagEmptyBand:             "empty-band",
}

func (k DiagKind) String() string {
	if s, ok := diagNames[k]; ok {
		return s
	}
	return fmt.Sprintf("DiagKind(%d)", int(k))
}

// MarshalText lets kinds appear by name in JSON
func (k DiagKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Diagnostic is a single non fatal condition.  Dataset is empty for
// conditions of the fused curve itself.
type Diagnostic struct {
	Kind       DiagKind      `json:"kind"`
	Dataset    string        `json:"dataset,omitempty"`
	Band       spectral.Band `json:"band"`
	Wavelength float64       `json:"wavelength"`
}

func (d Diagnostic) String() string {
	if d.Kind == DiagEmptyBand {
		return fmt.Sprintf("%v: band %v", d.Kind, d.Band)
	}
	if d.Dataset == "" {
		return fmt.Sprintf("%v: band %v at %g nm", d.Kind, d.Band, d.Wavelength)
	}
	return fmt.Sprintf("%v: dataset %q band %v at %g nm", d.Kind, d.Dataset, d.Band, d.Wavelength)
}

// CountDiagnostics tallies diagnostics by kind
func CountDiagnostics(diags []Diagnostic) map[DiagKind]int {
	out := map[DiagKind]int{}
	for _, d := range diags {
		out[d.Kind]++
	}
	return out
}
