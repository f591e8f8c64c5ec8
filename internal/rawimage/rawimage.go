// Package rawimage reads and writes single image HDUs of FITS files as a
// pixel slice plus an ordered header.
package rawimage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/astrogo/fitsio"
)

// Record is one image HDU held in memory.
type Record struct {
	Bitpix int
	Axes   []int
	// Pixels is a []uint8, []int16, []int32, []int64, []float32 or
	// []float64 slice matching Bitpix, NAXIS1 varying fastest.
	Pixels any
	Header *Header
}

// Width is NAXIS1.
func (r *Record) Width() int {
	if len(r.Axes) < 1 {
		return 0
	}
	return r.Axes[0]
}

// Height is NAXIS2.
func (r *Record) Height() int {
	if len(r.Axes) < 2 {
		return 0
	}
	return r.Axes[1]
}

// WithHeader returns a shallow copy of r carrying hdr.
func (r *Record) WithHeader(hdr *Header) *Record {
	out := *r
	out.Axes = append([]int(nil), r.Axes...)
	out.Header = hdr
	return &out
}

// FlipRows returns a copy of r with the pixel rows in reverse order.
// Images with more than two axes are flipped plane by plane.
func (r *Record) FlipRows() (*Record, error) {
	w, h := r.Width(), r.Height()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("cannot flip image with axes %v", r.Axes)
	}
	var px any
	switch p := r.Pixels.(type) {
	case []uint8:
		px = flipRows(p, w, h)
	case []int16:
		px = flipRows(p, w, h)
	case []int32:
		px = flipRows(p, w, h)
	case []int64:
		px = flipRows(p, w, h)
	case []float32:
		px = flipRows(p, w, h)
	case []float64:
		px = flipRows(p, w, h)
	default:
		return nil, fmt.Errorf("unsupported pixel type %T", r.Pixels)
	}
	out := r.WithHeader(r.Header)
	out.Pixels = px
	return out, nil
}

func flipRows[T any](px []T, width, height int) []T {
	out := make([]T, len(px))
	plane := width * height
	for start := 0; start+plane <= len(px); start += plane {
		for row := 0; row < height; row++ {
			src := start + (height-1-row)*width
			dst := start + row*width
			copy(out[dst:dst+width], px[src:src+width])
		}
	}
	return out
}

// Read loads HDU number hdu of the FITS file at path.
func Read(path string, hdu int) (*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ff, err := fitsio.Open(f)
	if err != nil {
		return nil, fmt.Errorf("open fits %s: %w", path, err)
	}
	defer ff.Close()

	n := len(ff.HDUs())
	if hdu < 0 || hdu >= n {
		return nil, fmt.Errorf("%s has %d HDUs, cannot select HDU %d", path, n, hdu)
	}
	img, ok := ff.HDU(hdu).(fitsio.Image)
	if !ok {
		return nil, fmt.Errorf("HDU %d of %s is not an image", hdu, path)
	}

	rec, err := FromImage(img)
	if err != nil {
		return nil, fmt.Errorf("read pixels of %s: %w", path, err)
	}
	return rec, nil
}

// FromImage copies an open fitsio image HDU into a Record.
func FromImage(img fitsio.Image) (*Record, error) {
	fhdr := img.Header()
	rec := &Record{
		Bitpix: fhdr.Bitpix(),
		Axes:   append([]int(nil), fhdr.Axes()...),
		Header: NewHeader(),
	}
	for _, key := range fhdr.Keys() {
		if skipCard(key) || rec.Header.Has(key) {
			continue
		}
		card := fhdr.Get(key)
		if card == nil {
			continue
		}
		rec.Header.Set(card.Name, card.Value, card.Comment)
	}
	for i, dim := range rec.Axes {
		key := fmt.Sprintf("NAXIS%d", i+1)
		if !rec.Header.Has(key) {
			rec.Header.Set(key, dim, "")
		}
	}

	if len(rec.Axes) > 0 {
		px, err := readPixels(img, rec.Bitpix, rec.Axes)
		if err != nil {
			return nil, err
		}
		rec.Pixels = px
	}
	return rec, nil
}

// Float64s returns the pixels converted to float64.
func (r *Record) Float64s() ([]float64, error) {
	switch p := r.Pixels.(type) {
	case []uint8:
		return toFloat64s(p), nil
	case []int16:
		return toFloat64s(p), nil
	case []int32:
		return toFloat64s(p), nil
	case []int64:
		return toFloat64s(p), nil
	case []float32:
		return toFloat64s(p), nil
	case []float64:
		return append([]float64(nil), p...), nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported pixel type %T", r.Pixels)
	}
}

func toFloat64s[T uint8 | int16 | int32 | int64 | float32](px []T) []float64 {
	out := make([]float64, len(px))
	for i, v := range px {
		out[i] = float64(v)
	}
	return out
}

func readPixels(img fitsio.Image, bitpix int, axes []int) (any, error) {
	n := 1
	for _, dim := range axes {
		n *= dim
	}
	switch bitpix {
	case 8:
		return readSlice[uint8](img, n)
	case 16:
		return readSlice[int16](img, n)
	case 32:
		return readSlice[int32](img, n)
	case 64:
		return readSlice[int64](img, n)
	case -32:
		return readSlice[float32](img, n)
	case -64:
		return readSlice[float64](img, n)
	default:
		return nil, fmt.Errorf("unsupported BITPIX %d", bitpix)
	}
}

// readSlice reads n pixels into a preallocated slice.
func readSlice[T any](img fitsio.Image, n int) ([]T, error) {
	px := make([]T, n)
	if err := img.Read(&px); err != nil {
		return nil, err
	}
	return px, nil
}

var naxisKey = regexp.MustCompile(`^NAXIS\d*$`)

// skipCard reports whether a card is regenerated by the writer or cannot be
// carried through a single-keyword header.
func skipCard(name string) bool {
	switch name {
	case "SIMPLE", "XTENSION", "BITPIX", "EXTEND", "PCOUNT", "GCOUNT", "END",
		"CHECKSUM", "DATASUM", "COMMENT", "HISTORY", "":
		return true
	}
	return false
}

// Write stores rec as the primary HDU of a new FITS file at path. The file
// is written next to path and renamed into place, replacing any existing
// file only once the write has fully succeeded.
func Write(path string, rec *Record) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if err := encode(tmp, rec); err != nil {
		return fmt.Errorf("write fits %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}

func encode(f *os.File, rec *Record) error {
	ff, err := fitsio.Create(f)
	if err != nil {
		return err
	}

	im := fitsio.NewImage(rec.Bitpix, rec.Axes)
	defer im.Close()

	var cards []fitsio.Card
	for _, c := range rec.Header.Cards() {
		if skipCard(c.Name) || naxisKey.MatchString(c.Name) {
			continue
		}
		cards = append(cards, fitsio.Card{Name: c.Name, Value: c.Value, Comment: c.Comment})
	}
	if err := im.Header().Append(cards...); err != nil {
		return err
	}
	if rec.Pixels != nil {
		if err := im.Write(rec.Pixels); err != nil {
			return err
		}
	}
	if err := ff.Write(im); err != nil {
		return err
	}
	return ff.Close()
}
