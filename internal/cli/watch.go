package cli

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"calibkit/internal/fsutil"
	"calibkit/internal/geometry"
	"calibkit/internal/pipeline"
	"calibkit/internal/tasks"
)

type watchOptions struct {
	dirs      []string
	camera    string
	outputDir string
	existing  bool
	settle    time.Duration
}

// watchFrames queues a reformat job for every frame that settles in one of
// the watched directories until ctx ends.
func (r *Root) watchFrames(ctx context.Context, opts watchOptions) error {
	if _, err := geometry.FamilyFor(opts.camera); err != nil {
		return err
	}
	if opts.settle <= 0 {
		opts.settle = 2 * time.Second
	}
	exts := r.cfg.Reformat.Extensions
	outDir, err := filepath.Abs(opts.outputDir)
	if err != nil {
		return err
	}

	if opts.existing {
		for _, dir := range opts.dirs {
			res, err := tasks.ScanFrames(dir, exts)
			if err != nil {
				return err
			}
			for _, frame := range res.Frames {
				r.queueFrame(ctx, frame, opts.camera, outDir)
			}
		}
	}

	fw, err := tasks.NewFrameWatcher(opts.dirs, exts, r.log)
	if err != nil {
		return err
	}
	if err := fw.Start(); err != nil {
		fw.Stop()
		return err
	}
	defer fw.Stop()

	pending := tasks.NewDebouncer(opts.settle)
	ticker := time.NewTicker(opts.settle / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			r.log.Debug("frame event", "path", ev.Path, "op", ev.Operation)
			pending.Add(ev.Path, ev.Time)
		case now := <-ticker.C:
			for _, frame := range pending.Ready(now) {
				r.queueFrame(ctx, frame, opts.camera, outDir)
			}
		}
	}
}

func (r *Root) queueFrame(ctx context.Context, frame, camera, outDir string) {
	abs, err := filepath.Abs(frame)
	if err != nil {
		r.log.Warn("skipping frame", "path", frame, "error", err)
		return
	}
	if abs == outDir || strings.HasPrefix(abs, outDir+string(filepath.Separator)) {
		return
	}
	job := pipeline.Job{
		ID:        newID("reformat"),
		Type:      pipeline.JobReformat,
		InputPath: frame,
		Output:    fsutil.OutputPath(outDir, frame),
		Options: map[string]any{
			"camera": camera,
			"hdu":    r.cfg.Reformat.HDU,
			"flip":   r.cfg.Reformat.Flip,
			"source": "watch",
		},
	}
	if err := r.enqueue(ctx, job); err != nil {
		r.log.Warn("frame not queued", "path", frame, "error", err)
	}
}
