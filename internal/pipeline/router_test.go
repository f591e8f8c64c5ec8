package pipeline

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"calibkit/internal/config"
	"calibkit/internal/geometry"
	"calibkit/internal/psf"
	"calibkit/internal/storage"
	"calibkit/internal/tasks"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func TestRouterReformatUsesConfigDefaults(t *testing.T) {
	cfg := config.Default()
	cfg.Reformat.DefaultGain = 2.5
	var got tasks.ReformatRequest
	r := &router{
		log: quietLogger(),
		cfg: cfg,
		reformatFn: func(ctx context.Context, req tasks.ReformatRequest, log *slog.Logger) (tasks.ReformatResult, error) {
			got = req
			return tasks.ReformatResult{OutputFile: req.Output, Camera: "R1", Flipped: req.Flip}, nil
		},
	}

	res := r.Process(context.Background(), Job{
		ID: "rf-1", Type: JobReformat, InputPath: "raw.fits", Output: "r1.fits",
		Options: map[string]any{"camera": "r1", "hdu": 1},
	})
	if res.Error != nil {
		t.Fatalf("expected nil error, got %v", res.Error)
	}
	if got.Camera != "r1" || got.HDU != 1 || !got.Flip || got.DefaultGain != 2.5 {
		t.Fatalf("unexpected request %+v", got)
	}
	if res.Meta["camera"] != "R1" || res.Meta["flipped"] != true {
		t.Fatalf("unexpected meta %v", res.Meta)
	}
	if _, ok := res.Value.(tasks.ReformatResult); !ok {
		t.Fatalf("expected typed reformat result, got %T", res.Value)
	}
}

func TestRouterReformatHonorsNoFlip(t *testing.T) {
	var got tasks.ReformatRequest
	r := &router{
		log: quietLogger(),
		cfg: config.Default(),
		reformatFn: func(ctx context.Context, req tasks.ReformatRequest, log *slog.Logger) (tasks.ReformatResult, error) {
			got = req
			return tasks.ReformatResult{}, nil
		},
	}
	r.Process(context.Background(), Job{ID: "rf-2", Type: JobReformat, Options: map[string]any{"camera": "r2", "flip": false}})
	if got.Flip {
		t.Fatalf("flip option should override config")
	}
}

func TestRouterPSFCompareFiberDefaults(t *testing.T) {
	var got tasks.PSFCompareRequest
	r := &router{
		log: quietLogger(),
		cfg: config.Default(),
		compareFn: func(ctx context.Context, req tasks.PSFCompareRequest, log *slog.Logger) (tasks.PSFCompareResult, error) {
			got = req
			return tasks.PSFCompareResult{Comparison: &psf.Comparison{SigmaXRatio: 1}}, nil
		},
	}

	res := r.Process(context.Background(), Job{ID: "pc-1", Type: JobPSFCompare, InputPath: "a.fits", Options: map[string]any{"psf2": "b.fits", "fiber": 7}})
	if res.Error != nil {
		t.Fatalf("unexpected error %v", res.Error)
	}
	if got.Fiber2 != nil || got.Wavelength != 6000 || got.Stamp.Samples != 51 {
		t.Fatalf("unexpected request %+v", got)
	}

	r.Process(context.Background(), Job{ID: "pc-2", Type: JobPSFCompare, InputPath: "a.fits", Options: map[string]any{"psf2": "b.fits", "fiber": 7, "fiber2": 9}})
	if got.Fiber2 == nil || *got.Fiber2 != 9 {
		t.Fatalf("expected fiber2=9, got %+v", got.Fiber2)
	}

	res = r.Process(context.Background(), Job{ID: "pc-3", Type: JobPSFCompare, InputPath: "a.fits"})
	if res.Error == nil {
		t.Fatalf("expected error without second psf")
	}
}

func TestRouterUnknownJob(t *testing.T) {
	r := newRouter(quietLogger(), nil)
	res := r.Process(context.Background(), Job{ID: "x", Type: "stack"})
	if res.Error == nil {
		t.Fatalf("expected error for unknown job type")
	}
}

type stubProcessor struct {
	err error
}

func (s stubProcessor) Process(ctx context.Context, job Job) Result {
	return Result{Job: job, Error: s.err, Meta: map[string]any{"camera": "R1"}}
}

func TestSubmitAndWaitRecordsHistory(t *testing.T) {
	store, err := storage.New(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer store.Close()

	p := NewWithProcessor(context.Background(), 2, quietLogger(), store, stubProcessor{})
	defer p.Stop()
	var observed []string
	p.Observe(func(job Job, status string, d time.Duration) { observed = append(observed, status) })

	res, err := p.SubmitAndWait(context.Background(), Job{ID: "rf-1", Type: JobReformat, Options: map[string]any{"camera": "r1"}})
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if res.Meta["camera"] != "R1" {
		t.Fatalf("unexpected meta %v", res.Meta)
	}
	runs, err := store.RecentRuns(5)
	if err != nil || len(runs) != 1 {
		t.Fatalf("expected one run, got %v (%v)", runs, err)
	}
	if runs[0].Status != "completed" || runs[0].Camera != "r1" {
		t.Fatalf("unexpected run %+v", runs[0])
	}
	if len(observed) != 1 || observed[0] != "completed" {
		t.Fatalf("observer saw %v", observed)
	}
}

func TestSubmitAndWaitReturnsTaskError(t *testing.T) {
	p := NewWithProcessor(context.Background(), 1, quietLogger(), nil, stubProcessor{err: geometry.ErrUnsupportedCamera})
	defer p.Stop()

	_, err := p.SubmitAndWait(context.Background(), Job{ID: "rf-2", Type: JobReformat})
	if !errors.Is(err, geometry.ErrUnsupportedCamera) {
		t.Fatalf("expected unsupported camera error, got %v", err)
	}
}
