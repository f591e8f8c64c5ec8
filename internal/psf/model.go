// Package psf evaluates spectrograph point spread function models and
// compares two of them at a given fiber and wavelength.
package psf

import (
	"errors"
	"fmt"
	"math"
)

// Known PSFTYPE values.
const (
	TypeGaussHermite = "GAUSS-HERMITE"
	TypeSpotGrid     = "SPOTGRID"
)

var (
	// ErrUnsupportedType is returned for PSF files whose PSFTYPE cannot be evaluated.
	ErrUnsupportedType = errors.New("unsupported psf type")
	// ErrFiberRange is returned when a fiber index is outside the model.
	ErrFiberRange = errors.New("fiber out of range")
)

// Model is a PSF evaluated in CCD pixel coordinates.
type Model interface {
	Type() string
	NumSpectra() int
	// XY returns the trace centroid of fiber at wave.
	XY(fiber int, wave float64) (x, y float64)
	// Value returns the PSF amplitude at (x, y) for a line of fiber at wave.
	Value(x, y float64, fiber int, wave float64) float64
}

// Legendre holds per-spectrum Legendre coefficients of one parameter as a
// function of wavelength over [WaveMin, WaveMax].
type Legendre struct {
	WaveMin float64
	WaveMax float64
	Coeff   [][]float64
}

// Eval returns the parameter value for fiber at wave.
func (l *Legendre) Eval(fiber int, wave float64) float64 {
	c := l.Coeff[fiber]
	if len(c) == 0 {
		return 0
	}
	u := 2*(wave-l.WaveMin)/(l.WaveMax-l.WaveMin) - 1

	p0, p1 := 1.0, u
	sum := c[0] * p0
	if len(c) > 1 {
		sum += c[1] * p1
	}
	for n := 1; n+1 < len(c); n++ {
		p2 := (float64(2*n+1)*u*p1 - float64(n)*p0) / float64(n+1)
		sum += c[n+1] * p2
		p0, p1 = p1, p2
	}
	return sum
}

// Constant builds a Legendre parameter that is v for every one of nspec spectra.
func Constant(nspec int, v float64) *Legendre {
	l := &Legendre{WaveMin: 0, WaveMax: 1, Coeff: make([][]float64, nspec)}
	for i := range l.Coeff {
		l.Coeff[i] = []float64{v}
	}
	return l
}

// hermite fills He_0..He_deg (probabilists' Hermite polynomials) at x.
func hermite(x float64, deg int) []float64 {
	h := make([]float64, deg+1)
	h[0] = 1
	if deg > 0 {
		h[1] = x
	}
	for n := 1; n < deg; n++ {
		h[n+1] = x*h[n] - float64(n)*h[n-1]
	}
	return h
}

// GaussHermite is a Gauss-Hermite core with an optional power-law tail.
// Parameters are named as in the PSF table: X, Y, GHSIGX, GHSIGY, GH-i-j,
// TAILAMP, TAILCORE, TAILXSCA, TAILYSCA, TAILINDE.
type GaussHermite struct {
	Params map[string]*Legendre
	DegX   int
	DegY   int
	nspec  int
}

// NewGaussHermite validates params and derives the Hermite degrees from the
// GH-i-j names present.
func NewGaussHermite(params map[string]*Legendre) (*GaussHermite, error) {
	g := &GaussHermite{Params: params, nspec: -1}
	for _, name := range []string{"X", "Y", "GHSIGX", "GHSIGY"} {
		if _, ok := params[name]; !ok {
			return nil, fmt.Errorf("gauss-hermite psf: missing parameter %s", name)
		}
	}
	for name, p := range params {
		if g.nspec < 0 || len(p.Coeff) < g.nspec {
			g.nspec = len(p.Coeff)
		}
		var i, j int
		if n, _ := fmt.Sscanf(name, "GH-%d-%d", &i, &j); n == 2 {
			g.DegX = max(g.DegX, i)
			g.DegY = max(g.DegY, j)
		}
	}
	return g, nil
}

func (g *GaussHermite) Type() string    { return TypeGaussHermite }
func (g *GaussHermite) NumSpectra() int { return g.nspec }

func (g *GaussHermite) param(name string, fiber int, wave float64, def float64) float64 {
	p, ok := g.Params[name]
	if !ok {
		return def
	}
	return p.Eval(fiber, wave)
}

func (g *GaussHermite) XY(fiber int, wave float64) (float64, float64) {
	return g.Params["X"].Eval(fiber, wave), g.Params["Y"].Eval(fiber, wave)
}

func (g *GaussHermite) Value(x, y float64, fiber int, wave float64) float64 {
	xc, yc := g.XY(fiber, wave)
	sx := g.param("GHSIGX", fiber, wave, 1)
	sy := g.param("GHSIGY", fiber, wave, 1)
	dx, dy := x-xc, y-yc
	u, v := dx/sx, dy/sy

	hx := hermite(u, g.DegX)
	hy := hermite(v, g.DegY)
	var core float64
	for i := 0; i <= g.DegX; i++ {
		for j := 0; j <= g.DegY; j++ {
			def := 0.0
			if i == 0 && j == 0 {
				def = 1
			}
			c := g.param(fmt.Sprintf("GH-%d-%d", i, j), fiber, wave, def)
			core += c * hx[i] * hy[j]
		}
	}
	core *= math.Exp(-(u*u+v*v)/2) / (2 * math.Pi * sx * sy)

	amp := g.param("TAILAMP", fiber, wave, 0)
	if amp == 0 {
		return core
	}
	tcore := g.param("TAILCORE", fiber, wave, 1)
	xs := g.param("TAILXSCA", fiber, wave, 1)
	ys := g.param("TAILYSCA", fiber, wave, 1)
	index := g.param("TAILINDE", fiber, wave, 2)
	r2 := dx*dx*xs*xs + dy*dy*ys*ys
	return core + amp*r2/math.Pow(tcore*tcore+r2, 1+index/2)
}
