package batch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/venue-fusion/internal/fetch"
	"github.com/sells-group/venue-fusion/internal/model"
	"github.com/sells-group/venue-fusion/internal/resilience"
)

// ErrAlreadyRunning is returned when Run is called during another run.
var ErrAlreadyRunning = eris.New("batch: run already in progress")

// ProcessFunc runs the pipeline for one entity.
type ProcessFunc func(ctx context.Context, ent model.Entity) (*model.MergedRecord, error)

// ProgressFunc observes progress after every sub-group.
type ProgressFunc func(p model.Progress)

// DLQ receives entities that failed a run.
type DLQ interface {
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
}

// FatalError marks a system-level failure that must stop the whole run.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return "fatal: " + e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Fatal wraps err as a FatalError.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// Orchestrator runs a ProcessFunc over entity lists. Only one run may be
// active at a time.
type Orchestrator struct {
	process    ProcessFunc
	dlq        DLQ
	onProgress ProgressFunc
	sleep      func(ctx context.Context, d time.Duration) error

	mu        sync.Mutex
	state     model.RunState
	progress  model.Progress
	runID     string
	cancelled atomic.Bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithDLQ sends failed entities to q.
func WithDLQ(q DLQ) Option {
	return func(o *Orchestrator) { o.dlq = q }
}

// WithProgress registers a progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(o *Orchestrator) { o.onProgress = fn }
}

// WithSleep overrides how the orchestrator waits between sub-groups and chunks.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = fn }
}

// New creates an idle Orchestrator.
func New(process ProcessFunc, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		process: process,
		sleep:   resilience.SleepContext,
		state:   model.RunIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the current run state.
func (o *Orchestrator) State() model.RunState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Progress returns the progress of the current or last run.
func (o *Orchestrator) Progress() model.Progress {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.progress
}

// RunID returns the id of the current or last run.
func (o *Orchestrator) RunID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runID
}

// Cancel asks the active run to stop before its next chunk. In-flight work
// completes.
func (o *Orchestrator) Cancel() {
	o.cancelled.Store(true)
}

// Run processes entities in chunks of BatchSize, strictly in order. Within a
// chunk, sub-groups of Concurrency entities run concurrently and each
// sub-group is awaited before the next starts. Per-entity failures are
// recorded and never abort the run; a *FatalError stops it after the
// current sub-group. Cancellation (Cancel or ctx) is checked between chunks.
// The result is always populated, also when an error is returned.
func (o *Orchestrator) Run(ctx context.Context, entities []model.Entity, cfg Config) (*model.BatchResult, error) {
	cfg = DefaultConfig().Merge(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o.mu.Lock()
	if o.state == model.RunRunning {
		o.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	o.state = model.RunRunning
	o.runID = uuid.NewString()
	o.progress = model.NewProgress(0, len(entities))
	runID := o.runID
	o.mu.Unlock()
	o.cancelled.Store(false)

	log := zap.L().With(zap.String("component", "batch"), zap.String("run_id", runID))
	log.Info("batch: run started",
		zap.Int("entities", len(entities)),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Int("concurrency", cfg.Concurrency),
	)

	start := time.Now()
	res := &model.BatchResult{Total: len(entities), State: model.RunRunning, Progress: model.NewProgress(0, len(entities))}
	var fatal error

chunks:
	for cs := 0; cs < len(entities); cs += cfg.BatchSize {
		if o.cancelled.Load() || ctx.Err() != nil {
			res.State = model.RunCancelled
			log.Info("batch: run cancelled", zap.Int("processed", res.Progress.Processed))
			break
		}
		if cs > 0 {
			if err := o.sleep(ctx, cfg.DelayBetweenBatches); err != nil {
				res.State = model.RunCancelled
				break
			}
		}

		chunk := entities[cs:min(cs+cfg.BatchSize, len(entities))]
		for gs := 0; gs < len(chunk); gs += cfg.Concurrency {
			if gs > 0 {
				// A cancelled context only interrupts the delay; the chunk
				// still completes.
				_ = o.sleep(ctx, cfg.RetryDelay)
			}
			sub := chunk[gs:min(gs+cfg.Concurrency, len(chunk))]
			if err := o.runSubGroup(ctx, runID, sub, cfg, res); err != nil {
				fatal = err
				break chunks
			}
		}
		log.Debug("batch: chunk complete",
			zap.Int("chunk_start", cs),
			zap.Int("processed", res.Progress.Processed),
		)
	}

	res.Duration = time.Since(start)
	switch {
	case fatal != nil:
		res.State = model.RunFailed
	case res.State == model.RunRunning:
		res.State = model.RunCompleted
	}

	o.mu.Lock()
	o.state = res.State
	o.mu.Unlock()

	log.Info("batch: run finished",
		zap.String("state", string(res.State)),
		zap.Int("success", res.Success),
		zap.Int("failed", res.Failed),
		zap.Int("total", res.Total),
		zap.Duration("duration", res.Duration),
	)
	if fatal != nil {
		return res, eris.Wrap(fatal, "batch: run aborted")
	}
	return res, nil
}

type outcome struct {
	rec *model.MergedRecord
	err error
}

// runSubGroup processes sub concurrently and folds the outcomes into res in
// input order. It returns the first fatal error, if any.
func (o *Orchestrator) runSubGroup(ctx context.Context, runID string, sub []model.Entity, cfg Config, res *model.BatchResult) error {
	out := make([]outcome, len(sub))
	var g errgroup.Group
	for i, ent := range sub {
		g.Go(func() error {
			rec, err := o.safeProcess(ctx, ent)
			out[i] = outcome{rec: rec, err: err}
			return nil
		})
	}
	_ = g.Wait()

	var fatal error
	for i, oc := range out {
		ent := sub[i]
		if oc.err == nil {
			res.Success++
			if oc.rec != nil {
				res.Records = append(res.Records, oc.rec)
			}
			continue
		}

		res.Failed++
		source := errorSource(oc.err)
		errType := resilience.ClassifyError(oc.err)
		res.Errors = append(res.Errors, model.ItemError{
			EntityName: ent.Name,
			Source:     source,
			ErrorType:  string(errType),
			Message:    oc.err.Error(),
			Timestamp:  time.Now().UTC(),
		})

		var fe *FatalError
		if errors.As(oc.err, &fe) {
			if fatal == nil {
				fatal = oc.err
			}
			continue
		}
		if o.dlq != nil {
			entry := resilience.NewDLQEntry(ent, runID, source, oc.err, cfg.MaxRetries)
			if err := o.dlq.EnqueueDLQ(ctx, entry); err != nil {
				zap.L().Warn("batch: dlq enqueue failed",
					zap.String("entity", ent.Name),
					zap.Error(err),
				)
			}
		}
	}

	p := model.NewProgress(res.Success+res.Failed, res.Total)
	res.Progress = p
	o.mu.Lock()
	o.progress = p
	o.mu.Unlock()
	if o.onProgress != nil {
		o.onProgress(p)
	}
	return fatal
}

// safeProcess converts a panicking entity into a failure.
func (o *Orchestrator) safeProcess(ctx context.Context, ent model.Entity) (rec *model.MergedRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("batch: panic processing %q: %v", ent.Name, r)
		}
	}()
	return o.process(ctx, ent)
}

func errorSource(err error) string {
	var fe *fetch.Error
	if errors.As(err, &fe) {
		return fe.Context.Source
	}
	var ce *resilience.ConnectorError
	if errors.As(err, &ce) {
		return ce.Connector
	}
	return ""
}
