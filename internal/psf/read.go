package psf

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/astrogo/fitsio"

	"calibkit/internal/rawimage"
)

// Read loads the PSF model stored at path. The PSFTYPE keyword of the
// primary header selects the model.
func Read(path string) (Model, error) {
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

	psftype := ""
	if card := ff.HDU(0).Header().Get("PSFTYPE"); card != nil {
		psftype = strings.TrimSpace(fmt.Sprint(card.Value))
	}

	switch psftype {
	case TypeGaussHermite:
		return readGaussHermite(ff, path)
	case TypeSpotGrid:
		return readSpotGrid(ff, path)
	default:
		return nil, fmt.Errorf("%s: %w %q", path, ErrUnsupportedType, psftype)
	}
}

func findHDU(ff *fitsio.File, name string) fitsio.HDU {
	for _, hdu := range ff.HDUs() {
		if strings.EqualFold(strings.TrimSpace(hdu.Name()), name) {
			return hdu
		}
	}
	return nil
}

func readGaussHermite(ff *fitsio.File, path string) (*GaussHermite, error) {
	tbl, ok := findHDU(ff, "PSF").(*fitsio.Table)
	if !ok {
		return nil, fmt.Errorf("%s: no PSF table", path)
	}

	ncoeff := 0
	if card := tbl.Header().Get("LEGDEG"); card != nil {
		deg, ok := intValue(card.Value)
		if !ok {
			return nil, fmt.Errorf("%s: bad LEGDEG %v", path, card.Value)
		}
		ncoeff = deg + 1
	}
	if ncoeff <= 0 {
		return nil, fmt.Errorf("%s: PSF table has no LEGDEG", path)
	}

	rows, err := tbl.Read(0, tbl.NumRows())
	if err != nil {
		return nil, fmt.Errorf("%s: read PSF table: %w", path, err)
	}
	defer rows.Close()

	params := map[string]*Legendre{}
	for rows.Next() {
		// COEFF is a fixed-repeat column, which fitsio decodes as an array
		// sized from TFORM.
		row := map[string]any{"PARAM": nil, "WAVEMIN": nil, "WAVEMAX": nil, "COEFF": nil}
		if err := rows.Scan(&row); err != nil {
			return nil, fmt.Errorf("%s: scan PSF table: %w", path, err)
		}
		name := strings.TrimSpace(fmt.Sprint(row["PARAM"]))
		wmin, ok1 := floatValue(row["WAVEMIN"])
		wmax, ok2 := floatValue(row["WAVEMAX"])
		coeff, ok3 := floatSlice(row["COEFF"])
		if !ok1 || !ok2 || !ok3 {
			return nil, fmt.Errorf("%s: PSF table row %q lacks WAVEMIN, WAVEMAX or COEFF", path, name)
		}
		if len(coeff)%ncoeff != 0 {
			return nil, fmt.Errorf("%s: %s has %d coefficients, not a multiple of %d", path, name, len(coeff), ncoeff)
		}
		nspec := len(coeff) / ncoeff
		l := &Legendre{WaveMin: wmin, WaveMax: wmax, Coeff: make([][]float64, nspec)}
		for i := 0; i < nspec; i++ {
			l.Coeff[i] = coeff[i*ncoeff : (i+1)*ncoeff]
		}
		params[name] = l
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: read PSF table: %w", path, err)
	}
	return NewGaussHermite(params)
}

func readSpotGrid(ff *fitsio.File, path string) (*SpotGrid, error) {
	g := &SpotGrid{}
	var err error
	if g.XTrace, err = readTrace(ff, "XCOEFF"); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if g.YTrace, err = readTrace(ff, "YCOEFF"); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for name, dst := range map[string]*[]float64{"FIBERPOS": &g.FiberPos, "SPOTPOS": &g.SpotPos, "SPOTWAVE": &g.SpotWave} {
		rec, err := readImage(ff, name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if *dst, err = rec.Float64s(); err != nil {
			return nil, fmt.Errorf("%s: %s: %w", path, name, err)
		}
	}

	spots, err := readImage(ff, "SPOTS")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(spots.Axes) != 4 {
		return nil, fmt.Errorf("%s: SPOTS has axes %v, want nx, ny, nwave, npos", path, spots.Axes)
	}
	pix, err := spots.Float64s()
	if err != nil {
		return nil, fmt.Errorf("%s: SPOTS: %w", path, err)
	}
	g.SpotNX, g.SpotNY = spots.Axes[0], spots.Axes[1]
	if spots.Axes[2] != len(g.SpotWave) || spots.Axes[3] != len(g.SpotPos) {
		return nil, fmt.Errorf("%s: SPOTS axes %v do not match %d wavelengths and %d slit positions",
			path, spots.Axes, len(g.SpotWave), len(g.SpotPos))
	}
	size := g.SpotNX * g.SpotNY
	g.Spots = make([][]float64, len(g.SpotPos)*len(g.SpotWave))
	for i := range g.Spots {
		g.Spots[i] = pix[i*size : (i+1)*size]
	}

	ccd, ok1 := headerFloat(spots.Header, "CCDPIXSZ")
	spot, ok2 := headerFloat(spots.Header, "CDELT1")
	if !ok1 || !ok2 || spot <= 0 {
		return nil, fmt.Errorf("%s: SPOTS header needs CCDPIXSZ and CDELT1", path)
	}
	g.SpotPerPixel = ccd / spot

	if err := g.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}

func readImage(ff *fitsio.File, name string) (*rawimage.Record, error) {
	img, ok := findHDU(ff, name).(fitsio.Image)
	if !ok {
		return nil, fmt.Errorf("no %s image", name)
	}
	rec, err := rawimage.FromImage(img)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return rec, nil
}

// readTrace reads an [nspec][ncoeff] Legendre trace image with WAVEMIN and
// WAVEMAX in its header.
func readTrace(ff *fitsio.File, name string) (*Legendre, error) {
	rec, err := readImage(ff, name)
	if err != nil {
		return nil, err
	}
	if len(rec.Axes) != 2 {
		return nil, fmt.Errorf("%s has axes %v, want ncoeff, nspec", name, rec.Axes)
	}
	wmin, ok1 := headerFloat(rec.Header, "WAVEMIN")
	wmax, ok2 := headerFloat(rec.Header, "WAVEMAX")
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("%s header needs WAVEMIN and WAVEMAX", name)
	}
	pix, err := rec.Float64s()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	ncoeff, nspec := rec.Axes[0], rec.Axes[1]
	l := &Legendre{WaveMin: wmin, WaveMax: wmax, Coeff: make([][]float64, nspec)}
	for i := 0; i < nspec; i++ {
		l.Coeff[i] = pix[i*ncoeff : (i+1)*ncoeff]
	}
	return l, nil
}

func headerFloat(h *rawimage.Header, key string) (float64, bool) {
	v, ok := h.Get(key)
	if !ok {
		return 0, false
	}
	return floatValue(v)
}

func floatValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	if i, ok := intValue(v); ok {
		return float64(i), true
	}
	return 0, false
}

// floatSlice flattens a scalar, array or slice column value.
func floatSlice(v any) ([]float64, bool) {
	if f, ok := floatValue(v); ok {
		return []float64{f}, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Array && rv.Kind() != reflect.Slice {
		return nil, false
	}
	out := make([]float64, rv.Len())
	for i := range out {
		f, ok := floatValue(rv.Index(i).Interface())
		if !ok {
			return nil, false
		}
		out[i] = f
	}
	return out, true
}

func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float32:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
