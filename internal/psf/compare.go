package psf

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// StampOptions controls the sampling grid around the trace centroid.
type StampOptions struct {
	HalfWidth float64 `json:"half_width"`
	Samples   int     `json:"samples"`
}

// DefaultStampOptions samples 51x51 points over +-5 pixels.
func DefaultStampOptions() StampOptions {
	return StampOptions{HalfWidth: 5, Samples: 51}
}

// Stamp is a PSF sampled on a square grid of offsets from its centroid
// (CenterX, CenterY) and normalized to unit sum. Pix is row-major with y
// varying slowest.
type Stamp struct {
	Fiber   int
	Wave    float64
	CenterX float64
	CenterY float64
	Offset  []float64
	Pix     []float64
}

// NewStamp samples m for fiber at wave.
func NewStamp(m Model, fiber int, wave float64, opts StampOptions) (*Stamp, error) {
	if fiber < 0 || fiber >= m.NumSpectra() {
		return nil, fmt.Errorf("%w: fiber %d, model has %d spectra", ErrFiberRange, fiber, m.NumSpectra())
	}
	if opts.Samples < 2 || opts.HalfWidth <= 0 {
		return nil, fmt.Errorf("invalid stamp grid %+v", opts)
	}
	n := opts.Samples
	s := &Stamp{Fiber: fiber, Wave: wave, Offset: make([]float64, n), Pix: make([]float64, n*n)}
	floats.Span(s.Offset, -opts.HalfWidth, opts.HalfWidth)
	s.CenterX, s.CenterY = m.XY(fiber, wave)

	for r, dy := range s.Offset {
		for c, dx := range s.Offset {
			s.Pix[r*n+c] = m.Value(s.CenterX+dx, s.CenterY+dy, fiber, wave)
		}
	}
	sum := floats.Sum(s.Pix)
	if sum == 0 || math.IsNaN(sum) {
		return nil, errors.New("psf stamp has no flux")
	}
	floats.Scale(1/sum, s.Pix)
	return s, nil
}

// Dims, Z, X and Y let a Stamp be drawn as a plotter.GridXYZ.
func (s *Stamp) Dims() (c, r int)   { return len(s.Offset), len(s.Offset) }
func (s *Stamp) Z(c, r int) float64 { return s.Pix[r*len(s.Offset)+c] }
func (s *Stamp) X(c int) float64    { return s.Offset[c] }
func (s *Stamp) Y(r int) float64    { return s.Offset[r] }

func (s *Stamp) row(r int) []float64 {
	n := len(s.Offset)
	return s.Pix[r*n : (r+1)*n]
}

func (s *Stamp) column(c int) []float64 {
	n := len(s.Offset)
	out := make([]float64, n)
	for r := 0; r < n; r++ {
		out[r] = s.Pix[r*n+c]
	}
	return out
}

// Moments are the flux-weighted centroid and width of a stamp.
type Moments struct {
	MeanX  float64 `json:"mean_x"`
	MeanY  float64 `json:"mean_y"`
	SigmaX float64 `json:"sigma_x"`
	SigmaY float64 `json:"sigma_y"`
}

// Moments computes the first and second moments of s.
func (s *Stamp) Moments() Moments {
	n := len(s.Offset)
	xs := make([]float64, len(s.Pix))
	ys := make([]float64, len(s.Pix))
	for r := 0; r < n; r++ {
		for c := 0; c < n; c++ {
			xs[r*n+c] = s.Offset[c]
			ys[r*n+c] = s.Offset[r]
		}
	}
	mx, vx := stat.PopMeanVariance(xs, s.Pix)
	my, vy := stat.PopMeanVariance(ys, s.Pix)
	return Moments{MeanX: mx, MeanY: my, SigmaX: math.Sqrt(vx), SigmaY: math.Sqrt(vy)}
}

// Comparison summarizes two stamps of the same line.
type Comparison struct {
	First            *Stamp  `json:"-"`
	Second           *Stamp  `json:"-"`
	Moments1         Moments `json:"moments1"`
	Moments2         Moments `json:"moments2"`
	SigmaXRatio      float64 `json:"sigma_x_ratio"`
	SigmaYRatio      float64 `json:"sigma_y_ratio"`
	PhotometricError float64 `json:"photometric_error"`
}

// Compare samples both models and reports width ratios and the single line
// photometric error |sum(f1^2)/sum(f2^2) - 1|.
func Compare(m1, m2 Model, fiber1, fiber2 int, wave float64, opts StampOptions) (*Comparison, error) {
	s1, err := NewStamp(m1, fiber1, wave, opts)
	if err != nil {
		return nil, fmt.Errorf("psf1: %w", err)
	}
	s2, err := NewStamp(m2, fiber2, wave, opts)
	if err != nil {
		return nil, fmt.Errorf("psf2: %w", err)
	}
	c := &Comparison{First: s1, Second: s2, Moments1: s1.Moments(), Moments2: s2.Moments()}
	c.SigmaXRatio = c.Moments1.SigmaX / c.Moments2.SigmaX
	c.SigmaYRatio = c.Moments1.SigmaY / c.Moments2.SigmaY
	c.PhotometricError = math.Abs(floats.Dot(s1.Pix, s1.Pix)/floats.Dot(s2.Pix, s2.Pix) - 1)
	return c, nil
}
