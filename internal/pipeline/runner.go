package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/venue-fusion/internal/batch"
	"github.com/sells-group/venue-fusion/internal/connector"
	"github.com/sells-group/venue-fusion/internal/model"
	"github.com/sells-group/venue-fusion/internal/resilience"
	"github.com/sells-group/venue-fusion/internal/store"
)

// DefaultPageSize is the page size used when reading every persisted venue.
const DefaultPageSize = 500

// RunStore is the persistence contract of a Runner.
type RunStore interface {
	List(ctx context.Context, filter store.VenueFilter) ([]model.MergedRecord, error)
	UpsertMany(ctx context.Context, recs []model.MergedRecord) (int64, error)
	SaveRun(ctx context.Context, rep *model.RunReport) error
}

// SnapshotWriter persists the run artifact and returns the backup path.
type SnapshotWriter interface {
	Write(records []model.MergedRecord, cfg any) (string, error)
}

// Notifier is told about every finished run.
type Notifier interface {
	NotifyRun(ctx context.Context, rep *model.RunReport, analysis resilience.Analysis) int
}

// Analyzer supplies the error-pattern analysis attached to run notifications.
type Analyzer interface {
	Analyze() resilience.Analysis
}

// RunnerConfig tunes a Runner.
type RunnerConfig struct {
	Batch batch.Config
	// IncrementalStaleAfter selects venues not updated within this window.
	IncrementalStaleAfter time.Duration
	PageSize              int
}

// RunnerDeps groups the collaborators of a Runner. Notifier and Analyzer
// are optional.
type RunnerDeps struct {
	Orchestrator *batch.Orchestrator
	Connectors   *connector.Registry
	Store        RunStore
	Snapshot     SnapshotWriter
	Notifier     Notifier
	Analyzer     Analyzer
}

// Runner performs full and incremental update runs: it builds the entity
// list, drives the orchestrator, persists the run report and writes the
// snapshot.
type Runner struct {
	cfg  RunnerConfig
	deps RunnerDeps
	now  func() time.Time

	mu   sync.Mutex
	last *model.RunReport
}

// NewRunner creates a Runner.
func NewRunner(cfg RunnerConfig, deps RunnerDeps) *Runner {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.IncrementalStaleAfter <= 0 {
		cfg.IncrementalStaleAfter = 72 * time.Hour
	}
	return &Runner{cfg: cfg, deps: deps, now: time.Now}
}

type snapshotConfig struct {
	UpdateType model.UpdateType `json:"updateType"`
	Batch      batch.Config     `json:"batch"`
}

// RunUpdate performs one update of typ. Per-entity failures are reported in
// the returned report; a fatal failure (store unreachable, snapshot not
// writable) is returned as an error together with the report.
func (r *Runner) RunUpdate(ctx context.Context, typ model.UpdateType) (*model.RunReport, error) {
	started := r.now().UTC()
	log := zap.L().With(zap.String("component", "runner"), zap.String("update_type", string(typ)))

	entities, err := r.Entities(ctx, typ)
	if err != nil {
		return nil, eris.Wrap(err, "runner: build entities")
	}
	log.Info("runner: starting update", zap.Int("entities", len(entities)))

	res, runErr := r.deps.Orchestrator.Run(ctx, entities, r.cfg.Batch)
	if res == nil {
		return nil, runErr
	}

	rep := model.NewRunReport(r.deps.Orchestrator.RunID(), typ, started, res)
	if runErr == nil && rep.State == model.RunCompleted {
		if err := r.writeSnapshot(ctx, typ); err != nil {
			rep.State = model.RunFailed
			runErr = batch.Fatal(eris.Wrap(err, "runner: write snapshot"))
		}
	}

	if err := r.deps.Store.SaveRun(ctx, rep); err != nil {
		log.Error("runner: failed to save run report", zap.String("run_id", rep.ID), zap.Error(err))
	}

	r.mu.Lock()
	r.last = rep
	r.mu.Unlock()

	if r.deps.Notifier != nil {
		analysis := resilience.Analysis{Trend: resilience.TrendStable}
		if r.deps.Analyzer != nil {
			analysis = r.deps.Analyzer.Analyze()
		}
		r.deps.Notifier.NotifyRun(ctx, rep, analysis)
	}

	log.Info("runner: update finished",
		zap.String("run_id", rep.ID),
		zap.String("state", string(rep.State)),
		zap.Int("success", rep.Success),
		zap.Int("failed", rep.Failed),
		zap.Int("total", rep.Total),
		zap.Float64("avg_quality", rep.AvgQuality),
		zap.Duration("duration", rep.Duration),
	)
	return rep, runErr
}

// Last returns the report of the most recent run, if any.
func (r *Runner) Last() *model.RunReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Entities builds the entity list for typ. Full runs are seeded from every
// feed connector, falling back to the persisted venues when no feed is
// registered. Incremental runs revisit venues not updated within
// IncrementalStaleAfter.
func (r *Runner) Entities(ctx context.Context, typ model.UpdateType) ([]model.Entity, error) {
	switch typ {
	case model.UpdateFull:
		listers := r.deps.Connectors.Listers()
		if len(listers) == 0 {
			return r.persistedEntities(ctx, time.Time{})
		}
		return r.seededEntities(ctx, listers)
	case model.UpdateIncremental:
		return r.persistedEntities(ctx, r.now().UTC().Add(-r.cfg.IncrementalStaleAfter))
	default:
		return nil, eris.Errorf("runner: unknown update type %q", typ)
	}
}

func (r *Runner) seededEntities(ctx context.Context, listers []connector.Lister) ([]model.Entity, error) {
	var (
		out     []model.Entity
		seen    = make(map[string]bool)
		lastErr error
		ok      int
	)
	for _, l := range listers {
		recs, err := l.ListAll(ctx)
		if err != nil {
			lastErr = err
			zap.L().Warn("runner: feed listing failed", zap.Error(err))
			continue
		}
		ok++
		for i := range recs {
			key := store.NameKey(recs[i].Name) + "|" + store.AddressKey(recs[i].Address)
			if seen[key] {
				continue
			}
			seen[key] = true
			seed := recs[i]
			out = append(out, model.Entity{Name: seed.Name, Address: seed.Address, Seed: &seed})
		}
	}
	if ok == 0 {
		return nil, eris.Wrap(lastErr, "runner: every feed failed")
	}
	return out, nil
}

func (r *Runner) persistedEntities(ctx context.Context, updatedBefore time.Time) ([]model.Entity, error) {
	var out []model.Entity
	err := r.eachPage(ctx, store.VenueFilter{UpdatedBefore: updatedBefore}, func(page []model.MergedRecord) error {
		for _, v := range page {
			out = append(out, model.Entity{ID: v.ID, Name: v.Name, Address: v.Address})
		}
		return nil
	})
	return out, err
}

// Venues returns every persisted venue.
func (r *Runner) Venues(ctx context.Context) ([]model.MergedRecord, error) {
	var all []model.MergedRecord
	err := r.eachPage(ctx, store.VenueFilter{}, func(page []model.MergedRecord) error {
		all = append(all, page...)
		return nil
	})
	return all, err
}

func (r *Runner) writeSnapshot(ctx context.Context, typ model.UpdateType) error {
	all, err := r.Venues(ctx)
	if err != nil {
		return err
	}
	_, err = r.deps.Snapshot.Write(all, snapshotConfig{UpdateType: typ, Batch: batch.DefaultConfig().Merge(r.cfg.Batch)})
	return err
}

// eachPage calls fn with successive pages of venues matching filter.
func (r *Runner) eachPage(ctx context.Context, filter store.VenueFilter, fn func([]model.MergedRecord) error) error {
	filter.Limit = r.cfg.PageSize
	for offset := 0; ; offset += r.cfg.PageSize {
		filter.Offset = offset
		page, err := r.deps.Store.List(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "runner: list venues")
		}
		if err := fn(page); err != nil {
			return err
		}
		if len(page) < r.cfg.PageSize {
			return nil
		}
	}
}
