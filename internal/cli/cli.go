package cli

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"calibkit/internal/config"
	"calibkit/internal/pipeline"
	"calibkit/internal/server"
	"calibkit/internal/storage"
)

type pipelineClient interface {
	Submit(job pipeline.Job) error
	Subscribe() (<-chan pipeline.Result, func())
}

type serverFunc func(ctx context.Context, addr string, store *storage.Store, pipe pipelineClient, log *slog.Logger) error

func defaultServe(ctx context.Context, addr string, store *storage.Store, pipe pipelineClient, log *slog.Logger) error {
	metrics := server.NewMetrics()
	var real *pipeline.Pipeline
	if p, ok := pipe.(*pipeline.Pipeline); ok {
		real = p
		real.Observe(metrics.ObserveRun)
	}
	return server.NewServer(addr, store, real, metrics, log).Start(ctx)
}

// Root wires CLI commands to the pipeline.
type Root struct {
	pipeline pipelineClient
	cfg      *config.Config
	log      *slog.Logger
	store    *storage.Store
	history  bool
	serveFn  serverFunc
	closers  []func()
}

// NewRoot constructs the CLI root. The pipeline and the history store are
// created on first use.
func NewRoot(cfg *config.Config, logger *slog.Logger) *Root {
	return &Root{
		cfg:     cfg,
		log:     logger,
		serveFn: defaultServe,
	}
}

// Execute runs the command line in args and releases everything it opened.
func Execute(ctx context.Context, cfg *config.Config, log *slog.Logger, args []string) error {
	root := NewRoot(cfg, log)
	defer root.Close()
	cmd := newRootCmd(root)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

// Close stops the pipeline and closes the store if Root created them.
func (r *Root) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

func (r *Root) historyEnabled() bool {
	return r.history || r.cfg.History.Enabled
}

// openStore opens the run history when it is enabled.
func (r *Root) openStore() error {
	if r.store != nil || !r.historyEnabled() {
		return nil
	}
	path := r.cfg.Paths.DatabasePath
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("history directory: %w", err)
	}
	store, err := storage.New(path)
	if err != nil {
		return fmt.Errorf("open history %s: %w", path, err)
	}
	r.store = store
	r.closers = append(r.closers, func() { store.Close() })
	r.log.Debug("history enabled", "path", path)
	return nil
}

// setup makes the pipeline available, opening the store first.
func (r *Root) setup(ctx context.Context) error {
	if err := r.openStore(); err != nil {
		return err
	}
	if r.pipeline != nil {
		return nil
	}
	p := pipeline.New(ctx, r.cfg, r.log, r.store)
	r.pipeline = p
	r.closers = append(r.closers, p.Stop)
	return nil
}

func (r *Root) enqueueAndWait(ctx context.Context, job pipeline.Job) (pipeline.Result, error) {
	resCh, unsubscribe := r.pipeline.Subscribe()
	defer unsubscribe()
	if err := r.enqueue(ctx, job); err != nil {
		return pipeline.Result{}, err
	}
	for {
		select {
		case <-ctx.Done():
			return pipeline.Result{}, ctx.Err()
		case res, ok := <-resCh:
			if !ok {
				return pipeline.Result{}, fmt.Errorf("pipeline stopped before completion")
			}
			if res.Job.ID == job.ID {
				return res, res.Error
			}
		}
	}
}

func (r *Root) enqueue(ctx context.Context, job pipeline.Job) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := r.pipeline.Submit(job); err != nil {
		return err
	}

	r.log.Info("job queued", "type", job.Type, "id", job.ID, "input", job.InputPath)
	return nil
}

func newID(prefix string) string {
	ts := time.Now().UTC().Format("20060102T150405")
	return fmt.Sprintf("%s-%s-%04d", prefix, ts, rand.Intn(10000))
}
