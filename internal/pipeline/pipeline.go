package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"calibkit/internal/config"
	"calibkit/internal/logging"
	"calibkit/internal/storage"
)

// JobType enumerates supported calibration runs.
type JobType string

const (
	JobReformat   JobType = "reformat"
	JobLineList   JobType = "linelist"
	JobPSFCompare JobType = "psf-compare"
)

// Job represents a single processing request.
type Job struct {
	ID        string
	Type      JobType
	InputPath string
	Output    string
	Options   map[string]any
}

// Result captures the outcome of a Job.
type Result struct {
	Job   Job
	Error error
	Meta  map[string]any
	// Value is the typed task result, e.g. tasks.ReformatResult.
	Value any
}

// Processor executes a job and returns a Result.
type Processor interface {
	Process(ctx context.Context, job Job) Result
}

// Observer is notified when a run reaches a final status.
type Observer func(job Job, status string, duration time.Duration)

// Pipeline orchestrates job dispatch across workers.
type Pipeline struct {
	processor Processor
	log       *slog.Logger
	jobs      chan Job
	wg        sync.WaitGroup
	cancel    context.CancelFunc
	stopOnce  sync.Once
	store     *storage.Store
	observer  Observer
	mu        sync.Mutex
	subs      map[int]chan Result
	nextSubID int
}

// New creates a Pipeline running jobs on cfg.Processing.ParallelJobs workers.
// store may be nil, in which case nothing is persisted.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, store *storage.Store) *Pipeline {
	return NewWithProcessor(ctx, cfg.Processing.ParallelJobs, logger, store, newRouter(logger, cfg))
}

// NewWithProcessor creates a Pipeline around an explicit processor.
func NewWithProcessor(ctx context.Context, concurrency int, logger *slog.Logger, store *storage.Store, proc Processor) *Pipeline {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Pipeline{
		processor: proc,
		log:       logger,
		jobs:      make(chan Job, concurrency*2),
		cancel:    cancel,
		store:     store,
		subs:      make(map[int]chan Result),
	}
	for i := 0; i < concurrency; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	return p
}

// Observe installs fn as the run observer. It must be called before jobs
// are submitted.
func (p *Pipeline) Observe(fn Observer) {
	p.observer = fn
}

// Submit adds a job to the processing queue.
func (p *Pipeline) Submit(job Job) error {
	if p.store != nil {
		optsJSON, _ := json.Marshal(job.Options)
		camera, _ := job.Options["camera"].(string)
		if err := p.store.RecordRunQueued(storage.RunRecord{
			ID:          job.ID,
			RunType:     string(job.Type),
			Status:      "queued",
			InputPath:   job.InputPath,
			OutputPath:  job.Output,
			Camera:      camera,
			OptionsJSON: string(optsJSON),
		}); err != nil {
			p.log.Warn("history write failed", "id", job.ID, "error", err)
		}
	}

	select {
	case p.jobs <- job:
		return nil
	default:
		return errors.New("job queue is full")
	}
}

// Stop signals workers to exit and waits for completion.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		close(p.jobs)
		p.wg.Wait()
		p.mu.Lock()
		for id, ch := range p.subs {
			close(ch)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	})
}

func (p *Pipeline) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.broadcast(p.run(ctx, job))
		}
	}
}

func (p *Pipeline) run(ctx context.Context, job Job) Result {
	start := time.Now()
	logging.LogRunStart(p.log, string(job.Type), job.ID, job.InputPath, job.Output, job.Options)
	if err := p.store.RecordRunStart(job.ID); err != nil {
		p.log.Warn("history write failed", "id", job.ID, "error", err)
	}

	res := p.processor.Process(ctx, job)
	duration := time.Since(start)

	status := "completed"
	if res.Error != nil {
		status = "failed"
		logging.LogRunError(p.log, string(job.Type), job.ID, duration, res.Error, map[string]any{
			"input":   job.InputPath,
			"output":  job.Output,
			"options": job.Options,
		})
	} else {
		logging.LogRunComplete(p.log, string(job.Type), job.ID, duration, res.Meta)
	}
	if err := p.store.RecordRunResult(job.ID, status, res.Meta, errString(res.Error)); err != nil {
		p.log.Warn("history write failed", "id", job.ID, "error", err)
	}
	if p.observer != nil {
		p.observer(job, status, duration)
	}
	return res
}

// Subscribe returns a channel for receiving job results and an unsubscribe function.
func (p *Pipeline) Subscribe() (<-chan Result, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSubID
	p.nextSubID++
	ch := make(chan Result, 8)
	p.subs[id] = ch
	unsub := func() {
		p.mu.Lock()
		if c, ok := p.subs[id]; ok {
			close(c)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	}
	return ch, unsub
}

// SubmitAndWait submits job and blocks until its result arrives or ctx ends.
func (p *Pipeline) SubmitAndWait(ctx context.Context, job Job) (Result, error) {
	results, unsubscribe := p.Subscribe()
	defer unsubscribe()

	if err := p.Submit(job); err != nil {
		return Result{}, err
	}
	for {
		select {
		case res, ok := <-results:
			if !ok {
				return Result{}, errors.New("pipeline stopped")
			}
			if res.Job.ID == job.ID {
				return res, res.Error
			}
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (p *Pipeline) broadcast(res Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, ch := range p.subs {
		select {
		case ch <- res:
		default:
			p.log.Warn("result channel full", "subscriber", id, "job", res.Job.ID)
		}
	}
}
