// Package curvefile writes the artifacts of a fusion run: the fused curve as a
// CSV table or a FITS image, and the effective bandwidths.
package curvefile

import (
	"encoding/binary"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/snksoft/crc"

	"github.com/monocle-h2020/camera-calibration-sub000/spectral"
)

// Meta describes the run an artifact came from
type Meta struct {
	// RunID uniquely identifies the fusion run
	RunID string `json:"runId"`

	// Baseline is the name of the baseline dataset
	Baseline string `json:"baseline"`

	// Inputs are the names of the fused datasets, in input order
	Inputs []string `json:"inputs"`
}

var crcTable = crc.NewTable(crc.CRC32)

// Checksum is the CRC-32 of the curve's values in artifact column order,
// little endian float64 with missing entries as NaN.  It lets a CSV and a
// FITS file written from the same run be matched to each other.
func Checksum(d spectral.Dataset) uint32 {
	buf := make([]byte, 8)
	h := crcTable.InitCrc()
	for _, row := range Rows(d) {
		for _, v := range row {
			binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
			h = crcTable.UpdateCrc(h, buf)
		}
	}
	return uint32(crcTable.CRC(h))
}

// Rows lays d out one row per wavelength in the column order of
// spectral.Header, missing entries as NaN
func Rows(d spectral.Dataset) [][]float64 {
	out := make([][]float64, d.Len())
	for i, w := range d.Wavelengths {
		row := make([]float64, 1+2*spectral.NBands)
		row[0] = w
		for b := 0; b < spectral.NBands; b++ {
			m, e, ok := d.At(spectral.Band(b), i)
			if !ok {
				m, e = math.NaN(), math.NaN()
			}
			row[1+b] = m
			row[1+spectral.NBands+b] = e
		}
		out[i] = row
	}
	return out
}

// WriteCSV writes the fused curve as a table with the columns of
// spectral.Header, preceded by comment lines identifying the run.  The table
// can be read back with spectral.ReadCSV.
func WriteCSV(w io.Writer, d spectral.Dataset, meta Meta) error {
	_, err := fmt.Fprintf(w, "# run %s\n# baseline %s\n# inputs %s\n# crc32 %08x\n",
		meta.RunID, meta.Baseline, strings.Join(meta.Inputs, ","), Checksum(d))
	if err != nil {
		return err
	}
	return spectral.WriteCSV(w, d)
}

// WriteBandwidth writes one header row naming the bands and one row with the
// effective bandwidth of each, in nm
func WriteBandwidth(w io.Writer, bw [spectral.NBands]float64) error {
	cw := csv.NewWriter(w)
	hdr := make([]string, spectral.NBands)
	row := make([]string, spectral.NBands)
	for _, b := range spectral.Bands {
		hdr[b] = b.String()
		row[b] = strconv.FormatFloat(bw[b], 'g', -1, 64)
	}
	if err := cw.Write(hdr); err != nil {
		return err
	}
	if err := cw.Write(row); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}
