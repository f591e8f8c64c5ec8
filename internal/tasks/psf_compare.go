package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"calibkit/internal/psf"
)

// PSFCompareRequest defines the two models and the line to compare.
type PSFCompareRequest struct {
	PSF1       string
	PSF2       string
	Fiber      int
	Fiber2     *int
	Wavelength float64
	Output     string
	Stamp      psf.StampOptions
}

// PSFCompareResult summarizes the comparison.
type PSFCompareResult struct {
	OutputFile string          `json:"output_file,omitempty"`
	Type1      string          `json:"type1"`
	Type2      string          `json:"type2"`
	Fiber1     int             `json:"fiber1"`
	Fiber2     int             `json:"fiber2"`
	Wavelength float64         `json:"wavelength"`
	XY1        [2]float64      `json:"xy1"`
	XY2        [2]float64      `json:"xy2"`
	Comparison *psf.Comparison `json:"comparison"`
}

func (r PSFCompareResult) Meta() map[string]any {
	return map[string]any{
		"output":            r.OutputFile,
		"fiber1":            r.Fiber1,
		"fiber2":            r.Fiber2,
		"wavelength":        r.Wavelength,
		"sigma_x_ratio":     r.Comparison.SigmaXRatio,
		"sigma_y_ratio":     r.Comparison.SigmaYRatio,
		"photometric_error": r.Comparison.PhotometricError,
	}
}

// ComparePSFs reads both PSF files, compares them at one fiber/wavelength
// and writes the figure when an output is given.
func ComparePSFs(ctx context.Context, req PSFCompareRequest, log *slog.Logger) (PSFCompareResult, error) {
	if log == nil {
		log = slog.Default()
	}
	m1, err := psf.Read(req.PSF1)
	if err != nil {
		return PSFCompareResult{}, err
	}
	m2, err := psf.Read(req.PSF2)
	if err != nil {
		return PSFCompareResult{}, err
	}
	return compareModels(ctx, req, m1, m2, log)
}

func compareModels(ctx context.Context, req PSFCompareRequest, m1, m2 psf.Model, log *slog.Logger) (PSFCompareResult, error) {
	fiber2 := req.Fiber
	if req.Fiber2 != nil {
		fiber2 = *req.Fiber2
	}
	wave := req.Wavelength
	if wave == 0 {
		wave = 6000
	}
	opts := req.Stamp
	if opts.Samples == 0 {
		opts = psf.DefaultStampOptions()
	}

	cmp, err := psf.Compare(m1, m2, req.Fiber, fiber2, wave, opts)
	if err != nil {
		return PSFCompareResult{}, err
	}
	res := PSFCompareResult{
		Type1:      m1.Type(),
		Type2:      m2.Type(),
		Fiber1:     req.Fiber,
		Fiber2:     fiber2,
		Wavelength: wave,
		XY1:        [2]float64{cmp.First.CenterX, cmp.First.CenterY},
		XY2:        [2]float64{cmp.Second.CenterX, cmp.Second.CenterY},
		Comparison: cmp,
	}
	log.Info("psf comparison",
		"sigx1", cmp.Moments1.SigmaX, "sigy1", cmp.Moments1.SigmaY,
		"sigx2", cmp.Moments2.SigmaX, "sigy2", cmp.Moments2.SigmaY,
		"photometric_error", cmp.PhotometricError)

	if err := ctx.Err(); err != nil {
		return PSFCompareResult{}, err
	}
	if req.Output != "" {
		labels := psf.FigureLabels{First: filepath.Base(req.PSF1), Second: filepath.Base(req.PSF2)}
		if err := psf.SaveFigure(req.Output, cmp, labels); err != nil {
			return PSFCompareResult{}, fmt.Errorf("write figure %s: %w", req.Output, err)
		}
		res.OutputFile = req.Output
	}
	return res, nil
}
