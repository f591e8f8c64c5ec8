package psf

import (
	"fmt"
	"sort"
)

// SpotGrid is a PSF given as oversampled spot images on a grid of slit
// positions and wavelengths. The spot for a fiber is bilinearly
// interpolated from the four nearest grid spots, centered on the XTrace,
// YTrace centroid.
type SpotGrid struct {
	XTrace *Legendre
	YTrace *Legendre
	// FiberPos is the slit position of every fiber.
	FiberPos []float64
	// SpotPos and SpotWave are the ascending grid axes.
	SpotPos  []float64
	SpotWave []float64
	// Spots holds SpotNY x SpotNX images, row-major, indexed
	// ipos*len(SpotWave)+iwave.
	Spots  [][]float64
	SpotNX int
	SpotNY int
	// SpotPerPixel is the number of spot pixels across one CCD pixel.
	SpotPerPixel float64
}

func (g *SpotGrid) validate() error {
	switch {
	case g.XTrace == nil || g.YTrace == nil:
		return fmt.Errorf("spotgrid psf: missing traces")
	case len(g.SpotPos) == 0 || len(g.SpotWave) == 0:
		return fmt.Errorf("spotgrid psf: empty spot grid")
	case len(g.Spots) != len(g.SpotPos)*len(g.SpotWave):
		return fmt.Errorf("spotgrid psf: %d spots for a %dx%d grid", len(g.Spots), len(g.SpotPos), len(g.SpotWave))
	case g.SpotNX < 2 || g.SpotNY < 2:
		return fmt.Errorf("spotgrid psf: spots are %dx%d", g.SpotNX, g.SpotNY)
	case g.SpotPerPixel <= 0:
		return fmt.Errorf("spotgrid psf: bad pixel scale %g", g.SpotPerPixel)
	}
	if !sort.Float64sAreSorted(g.SpotPos) || !sort.Float64sAreSorted(g.SpotWave) {
		return fmt.Errorf("spotgrid psf: grid axes must be ascending")
	}
	for i, s := range g.Spots {
		if len(s) != g.SpotNX*g.SpotNY {
			return fmt.Errorf("spotgrid psf: spot %d has %d pixels, want %d", i, len(s), g.SpotNX*g.SpotNY)
		}
	}
	return nil
}

func (g *SpotGrid) Type() string { return TypeSpotGrid }

func (g *SpotGrid) NumSpectra() int {
	return min(len(g.FiberPos), len(g.XTrace.Coeff), len(g.YTrace.Coeff))
}

func (g *SpotGrid) XY(fiber int, wave float64) (float64, float64) {
	return g.XTrace.Eval(fiber, wave), g.YTrace.Eval(fiber, wave)
}

func (g *SpotGrid) Value(x, y float64, fiber int, wave float64) float64 {
	xc, yc := g.XY(fiber, wave)
	u := (x-xc)*g.SpotPerPixel + float64(g.SpotNX-1)/2
	v := (y-yc)*g.SpotPerPixel + float64(g.SpotNY-1)/2

	ip, tp := bracket(g.SpotPos, g.FiberPos[fiber])
	iw, tw := bracket(g.SpotWave, wave)
	nw := len(g.SpotWave)
	var sum float64
	for _, c := range [4]struct {
		pos, wave int
		weight    float64
	}{
		{ip, iw, (1 - tp) * (1 - tw)},
		{ip + 1, iw, tp * (1 - tw)},
		{ip, iw + 1, (1 - tp) * tw},
		{ip + 1, iw + 1, tp * tw},
	} {
		if c.weight == 0 {
			continue
		}
		sum += c.weight * g.sample(g.Spots[c.pos*nw+c.wave], u, v)
	}
	return sum * g.SpotPerPixel * g.SpotPerPixel
}

// sample bilinearly interpolates a spot at spot pixel (u, v); zero outside.
func (g *SpotGrid) sample(spot []float64, u, v float64) float64 {
	if u < 0 || v < 0 || u > float64(g.SpotNX-1) || v > float64(g.SpotNY-1) {
		return 0
	}
	c0, r0 := min(int(u), g.SpotNX-2), min(int(v), g.SpotNY-2)
	fu, fv := u-float64(c0), v-float64(r0)
	at := func(r, c int) float64 { return spot[r*g.SpotNX+c] }
	return (1-fu)*(1-fv)*at(r0, c0) + fu*(1-fv)*at(r0, c0+1) +
		(1-fu)*fv*at(r0+1, c0) + fu*fv*at(r0+1, c0+1)
}

// bracket returns i and t such that v lies at fraction t between axis[i]
// and axis[i+1], clamped to the ends of axis.
func bracket(axis []float64, v float64) (int, float64) {
	n := len(axis)
	if n == 1 || v <= axis[0] {
		return 0, 0
	}
	if v >= axis[n-1] {
		return n - 2, 1
	}
	i := sort.SearchFloat64s(axis, v) - 1
	return i, (v - axis[i]) / (axis[i+1] - axis[i])
}
