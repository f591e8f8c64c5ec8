package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"calibkit/internal/config"
	"calibkit/internal/psf"
	"calibkit/internal/tasks"
)

// router implements Processor and routes jobs to their concrete handlers.
type router struct {
	log        *slog.Logger
	cfg        *config.Config
	reformatFn reformatFunc
	lineListFn lineListFunc
	compareFn  compareFunc
}

type reformatFunc func(ctx context.Context, req tasks.ReformatRequest, log *slog.Logger) (tasks.ReformatResult, error)

type lineListFunc func(ctx context.Context, req tasks.LineListRequest, log *slog.Logger) (tasks.LineListResult, error)

type compareFunc func(ctx context.Context, req tasks.PSFCompareRequest, log *slog.Logger) (tasks.PSFCompareResult, error)

func newRouter(logger *slog.Logger, cfg *config.Config) Processor {
	if cfg == nil {
		cfg = config.Default()
	}
	return &router{
		log:        logger,
		cfg:        cfg,
		reformatFn: tasks.Reformat,
		lineListFn: tasks.BuildLineList,
		compareFn:  tasks.ComparePSFs,
	}
}

func (r *router) Process(ctx context.Context, job Job) Result {
	switch job.Type {
	case JobReformat:
		return r.handleReformat(ctx, job)
	case JobLineList:
		return r.handleLineList(ctx, job)
	case JobPSFCompare:
		return r.handlePSFCompare(ctx, job)
	default:
		return Result{Job: job, Error: fmt.Errorf("unknown job type: %s", job.Type)}
	}
}

func (r *router) handleReformat(ctx context.Context, job Job) Result {
	req := tasks.ReformatRequest{
		Input:       job.InputPath,
		Output:      job.Output,
		Camera:      stringOpt(job.Options, "camera", ""),
		HDU:         intOpt(job.Options, "hdu", r.cfg.Reformat.HDU),
		Flip:        boolOpt(job.Options, "flip", r.cfg.Reformat.Flip),
		DefaultGain: floatOpt(job.Options, "defaultGain", r.cfg.Reformat.DefaultGain),
	}
	log := r.log.With("run", job.ID, "camera", req.Camera)
	res, err := r.reformatFn(ctx, req, log)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	return Result{Job: job, Meta: res.Meta(), Value: res}
}

func (r *router) handleLineList(ctx context.Context, job Job) Result {
	req := tasks.LineListRequest{
		Output:     job.Output,
		Air:        boolOpt(job.Options, "air", false),
		Subset:     job.InputPath,
		CatalogDir: stringOpt(job.Options, "catalogDir", r.cfg.LineList.CatalogDir),
		Lamps:      stringsOpt(job.Options, "lamps", r.cfg.LineList.Lamps),
		Tolerance:  floatOpt(job.Options, "tolerance", r.cfg.LineList.Tolerance),
		Program:    stringOpt(job.Options, "program", ""),
	}
	res, err := r.lineListFn(ctx, req, r.log.With("run", job.ID))
	if err != nil {
		return Result{Job: job, Error: err}
	}
	return Result{Job: job, Meta: res.Meta(), Value: res}
}

func (r *router) handlePSFCompare(ctx context.Context, job Job) Result {
	req := tasks.PSFCompareRequest{
		PSF1:       job.InputPath,
		PSF2:       stringOpt(job.Options, "psf2", ""),
		Fiber:      intOpt(job.Options, "fiber", 0),
		Wavelength: floatOpt(job.Options, "wavelength", r.cfg.PSF.Wavelength),
		Output:     job.Output,
		Stamp: psf.StampOptions{
			HalfWidth: floatOpt(job.Options, "halfWidth", r.cfg.PSF.HalfWidth),
			Samples:   intOpt(job.Options, "samples", r.cfg.PSF.Samples),
		},
	}
	if _, ok := job.Options["fiber2"]; ok {
		fiber2 := intOpt(job.Options, "fiber2", req.Fiber)
		req.Fiber2 = &fiber2
	}
	if req.PSF2 == "" {
		return Result{Job: job, Error: fmt.Errorf("psf-compare needs a second psf")}
	}
	res, err := r.compareFn(ctx, req, r.log.With("run", job.ID))
	if err != nil {
		return Result{Job: job, Error: err}
	}
	return Result{Job: job, Meta: res.Meta(), Value: res}
}

func stringOpt(opts map[string]any, key, def string) string {
	if v, ok := opts[key].(string); ok && v != "" {
		return v
	}
	return def
}

func boolOpt(opts map[string]any, key string, def bool) bool {
	if v, ok := opts[key].(bool); ok {
		return v
	}
	return def
}

func intOpt(opts map[string]any, key string, def int) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func floatOpt(opts map[string]any, key string, def float64) float64 {
	switch v := opts[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

func stringsOpt(opts map[string]any, key string, def []string) []string {
	if v, ok := opts[key].([]string); ok && len(v) > 0 {
		return v
	}
	return def
}
