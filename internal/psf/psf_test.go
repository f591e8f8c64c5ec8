package psf

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"calibkit/internal/rawimage"
)

func gaussian(nspec int, x, y, sigx, sigy float64) *GaussHermite {
	g, err := NewGaussHermite(map[string]*Legendre{
		"X":      Constant(nspec, x),
		"Y":      Constant(nspec, y),
		"GHSIGX": Constant(nspec, sigx),
		"GHSIGY": Constant(nspec, sigy),
	})
	if err != nil {
		panic(err)
	}
	return g
}

func TestLegendreEval(t *testing.T) {
	l := &Legendre{WaveMin: 5000, WaveMax: 7000, Coeff: [][]float64{{1, 2, 3}}}
	// u = 0.5: P0=1, P1=0.5, P2=(3*0.25-1)/2=-0.125
	require.InDelta(t, 1+2*0.5+3*-0.125, l.Eval(0, 6500), 1e-12)
	require.InDelta(t, 1-2+3, l.Eval(0, 5000), 1e-12)
}

func TestHermitePolynomials(t *testing.T) {
	h := hermite(2, 3)
	require.Equal(t, []float64{1, 2, 3, 2}, h)
}

func TestGaussianMomentsMatchSigmas(t *testing.T) {
	m := gaussian(3, 100.25, 2000.5, 1.2, 0.9)
	s, err := NewStamp(m, 1, 6000, DefaultStampOptions())
	require.NoError(t, err)
	require.Len(t, s.Pix, 51*51)
	require.Equal(t, 100.25, s.CenterX)
	require.Equal(t, 2000.5, s.CenterY)

	c, r := s.Dims()
	require.Equal(t, 51, c)
	require.Equal(t, 51, r)
	require.Equal(t, -5.0, s.X(0))
	require.Equal(t, 5.0, s.Y(50))
	require.InDelta(t, 0, s.X(25), 1e-12)

	mom := s.Moments()
	require.InDelta(t, 0, mom.MeanX, 1e-9)
	require.InDelta(t, 0, mom.MeanY, 1e-9)
	require.InDelta(t, 1.2, mom.SigmaX, 1e-3)
	require.InDelta(t, 0.9, mom.SigmaY, 1e-3)
}

func TestCompareIdenticalModels(t *testing.T) {
	m := gaussian(2, 10, 20, 1.1, 1.3)
	c, err := Compare(m, m, 0, 1, 6000, DefaultStampOptions())
	require.NoError(t, err)
	require.InDelta(t, 1, c.SigmaXRatio, 1e-12)
	require.InDelta(t, 1, c.SigmaYRatio, 1e-12)
	require.InDelta(t, 0, c.PhotometricError, 1e-12)
}

func TestCompareWiderPSF(t *testing.T) {
	narrow := gaussian(1, 0, 0, 1, 1)
	wide := gaussian(1, 0, 0, 1.5, 1)
	c, err := Compare(narrow, wide, 0, 0, 6000, DefaultStampOptions())
	require.NoError(t, err)
	require.InDelta(t, 1/1.5, c.SigmaXRatio, 1e-3)
	require.InDelta(t, 1, c.SigmaYRatio, 1e-3)
	// sum(f^2) of a normalized Gaussian scales as 1/(sigx*sigy).
	require.InDelta(t, 0.5, c.PhotometricError, 1e-2)
}

func TestTailAddsFlux(t *testing.T) {
	params := map[string]*Legendre{
		"X":        Constant(1, 0),
		"Y":        Constant(1, 0),
		"GHSIGX":   Constant(1, 1),
		"GHSIGY":   Constant(1, 1),
		"GH-1-0":   Constant(1, 0),
		"TAILAMP":  Constant(1, 0.01),
		"TAILCORE": Constant(1, 2),
		"TAILINDE": Constant(1, 2),
	}
	g, err := NewGaussHermite(params)
	require.NoError(t, err)
	require.Equal(t, 1, g.DegX)
	require.Equal(t, 0, g.DegY)

	core := gaussian(1, 0, 0, 1, 1)
	require.Equal(t, core.Value(0, 0, 0, 6000), g.Value(0, 0, 0, 6000))
	require.Greater(t, g.Value(4, 0, 0, 6000), core.Value(4, 0, 0, 6000))
}

func TestNewGaussHermiteRequiresCentroid(t *testing.T) {
	_, err := NewGaussHermite(map[string]*Legendre{"X": Constant(1, 0)})
	require.ErrorContains(t, err, "missing parameter")
}

func TestStampRejectsBadFiber(t *testing.T) {
	_, err := NewStamp(gaussian(2, 0, 0, 1, 1), 2, 6000, DefaultStampOptions())
	require.True(t, errors.Is(err, ErrFiberRange))
}

func TestReadRejectsUnsupportedTypes(t *testing.T) {
	dir := t.TempDir()
	for _, typ := range []string{"MYSTERY", ""} {
		path := filepath.Join(dir, "psf-"+typ+".fits")
		hdr := rawimage.NewHeader()
		if typ != "" {
			hdr.Set("PSFTYPE", typ, "")
		}
		rec := &rawimage.Record{Bitpix: -32, Axes: []int{2, 2}, Pixels: make([]float32, 4), Header: hdr}
		require.NoError(t, rawimage.Write(path, rec))

		_, err := Read(path)
		require.True(t, errors.Is(err, ErrUnsupportedType), "type %q: %v", typ, err)
	}
}

func TestWriteFigurePNG(t *testing.T) {
	c, err := Compare(gaussian(1, 5, 5, 1, 1), gaussian(1, 5, 5, 1.2, 1), 0, 0, 6000, StampOptions{HalfWidth: 5, Samples: 21})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteFigure(&buf, c, FigureLabels{First: "a.fits", Second: "b.fits"}))
	require.True(t, bytes.HasPrefix(buf.Bytes(), []byte("\x89PNG")))

	path := filepath.Join(t.TempDir(), "cmp.png")
	require.NoError(t, SaveFigure(path, c, FigureLabels{}))
}
