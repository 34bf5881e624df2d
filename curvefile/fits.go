package curvefile

import (
	"fmt"
	"io"

	"github.com/astrogo/fitsio"

	"github.com/monocle-h2020/camera-calibration-sub000/spectral"
)

// WriteFits streams the fused curve to w as a 2D float64 image with one row
// per wavelength and the columns of spectral.Header (NAXIS1 = 9).  Missing
// entries are NaN.  The bandwidths, the run metadata, and the column names
// ride along as header cards.
func WriteFits(w io.Writer, d spectral.Dataset, bw [spectral.NBands]float64, meta Meta) error {
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()

	ncol := len(spectral.Header)
	dims := []int{ncol, d.Len()}
	im := fitsio.NewImage(-64, dims)
	defer im.Close()

	err = im.Header().Append(headerCards(d, bw, meta)...)
	if err != nil {
		return err
	}

	buf := make([]float64, 0, ncol*d.Len())
	for _, row := range Rows(d) {
		buf = append(buf, row...)
	}
	err = im.Write(buf)
	if err != nil {
		return err
	}
	return fits.Write(im)
}

func headerCards(d spectral.Dataset, bw [spectral.NBands]float64, meta Meta) []fitsio.Card {
	cards := []fitsio.Card{
		{Name: "RUNID", Value: meta.RunID, Comment: "fusion run identifier"},
		{Name: "BASELINE", Value: meta.Baseline, Comment: "baseline dataset"},
		{Name: "NINPUTS", Value: len(meta.Inputs), Comment: "number of fused datasets"},
		{Name: "DATACRC", Value: fmt.Sprintf("%08x", Checksum(d)), Comment: "CRC-32 of the curve values"},
		{Name: "BUNIT", Value: "relative", Comment: "peak normalized response"},
	}
	for i, name := range meta.Inputs {
		cards = append(cards, fitsio.Card{Name: fmt.Sprintf("INPUT%d", i+1), Value: name})
	}
	for i, col := range spectral.Header {
		cards = append(cards, fitsio.Card{Name: fmt.Sprintf("COL%d", i+1), Value: col})
	}
	for _, b := range spectral.Bands {
		cards = append(cards, fitsio.Card{Name: "BW_" + b.String(), Value: bw[b], Comment: "effective bandwidth [nm]"})
	}
	return cards
}
