// Package scheduler triggers update runs on a fixed daily-slot cadence and
// skips runs while persisted data is still fresh.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/venue-fusion/internal/model"
)

var (
	// ErrAlreadyStarted is returned by Start on a running scheduler.
	ErrAlreadyStarted = eris.New("scheduler: already started")
	// ErrRunInProgress is returned when an update is requested during another.
	ErrRunInProgress = eris.New("scheduler: update already in progress")
)

// Config controls the cadence and the freshness pre-check.
type Config struct {
	Enabled       bool             `mapstructure:"enabled" json:"enabled"`
	Hour          int              `mapstructure:"hour" json:"hour"`
	Minute        int              `mapstructure:"minute" json:"minute"`
	IntervalDays  int              `mapstructure:"interval_days" json:"interval_days"`
	UpdateType    model.UpdateType `mapstructure:"update_type" json:"update_type"`
	FreshnessDays int              `mapstructure:"freshness_days" json:"freshness_days"`
	OverdueDays   int              `mapstructure:"overdue_days" json:"overdue_days"`
	FreshRatio    float64          `mapstructure:"fresh_ratio" json:"fresh_ratio"`
}

// DefaultConfig returns a 06:00 slot every three days.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		Hour:          6,
		Minute:        0,
		IntervalDays:  3,
		UpdateType:    model.UpdateFull,
		FreshnessDays: 7,
		OverdueDays:   14,
		FreshRatio:    0.8,
	}
}

// Validate checks the cadence fields.
func (c Config) Validate() error {
	switch {
	case c.Hour < 0 || c.Hour > 23:
		return eris.Errorf("scheduler: hour must be 0-23, got %d", c.Hour)
	case c.Minute < 0 || c.Minute > 59:
		return eris.Errorf("scheduler: minute must be 0-59, got %d", c.Minute)
	case c.IntervalDays < 1:
		return eris.Errorf("scheduler: interval_days must be at least 1, got %d", c.IntervalDays)
	case c.UpdateType != model.UpdateFull && c.UpdateType != model.UpdateIncremental:
		return eris.Errorf("scheduler: unknown update_type %q", c.UpdateType)
	case c.FreshRatio < 0 || c.FreshRatio > 1:
		return eris.Errorf("scheduler: fresh_ratio must be in [0,1], got %v", c.FreshRatio)
	}
	return nil
}

// Schedule describes the cadence for humans.
func (c Config) Schedule() string {
	return fmt.Sprintf("every %d day(s) at %02d:%02d", c.IntervalDays, c.Hour, c.Minute)
}

// NextRun returns today's hour:minute slot in now's location, or the slot
// intervalDays later when today's has already passed.
func NextRun(now time.Time, hour, minute, intervalDays int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, intervalDays)
	}
	return next
}

// Updater performs one update run.
type Updater interface {
	RunUpdate(ctx context.Context, typ model.UpdateType) (*model.RunReport, error)
}

// StatsSource supplies the aggregate figures the scheduler logs and checks.
type StatsSource interface {
	Stats(ctx context.Context) (*model.VenueStats, error)
	FreshnessStats(ctx context.Context, freshWithin, overdueAfter time.Duration) (*model.FreshnessStats, error)
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	Enabled        bool             `json:"enabled"`
	NextRun        *time.Time       `json:"next_run,omitempty"`
	IsRunning      bool             `json:"is_running"`
	Schedule       string           `json:"schedule"`
	IntervalDays   int              `json:"interval_days"`
	UpdateType     model.UpdateType `json:"update_type"`
	TotalRuns      int              `json:"total_runs"`
	SkippedRuns    int              `json:"skipped_runs"`
	FailedRuns     int              `json:"failed_runs"`
	LastRun        *model.RunReport `json:"last_run,omitempty"`
	LastSkipReason string           `json:"last_skip_reason,omitempty"`
}

type stopper interface {
	Stop() bool
}

// Scheduler fires updates at the configured slot and reschedules after every
// fire. It is safe for concurrent use.
type Scheduler struct {
	cfg     Config
	updater Updater
	stats   StatsSource

	now       func() time.Time
	afterFunc func(d time.Duration, f func()) stopper

	mu         sync.Mutex
	started    bool
	nextRun    time.Time
	timer      stopper
	cancel     context.CancelFunc
	generation int
	total      int
	skipped    int
	failed     int
	lastRun    *model.RunReport
	skipReason string

	running atomic.Bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithAfterFunc overrides how fires are scheduled.
func WithAfterFunc(fn func(d time.Duration, f func()) stopper) Option {
	return func(s *Scheduler) { s.afterFunc = fn }
}

// New creates a stopped Scheduler.
func New(cfg Config, updater Updater, stats StatsSource, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:     cfg,
		updater: updater,
		stats:   stats,
		now:     time.Now,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start arms the timer for the next slot. Updates run under ctx until Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	s.started = true
	s.cancel = cancel
	s.generation++
	s.armLocked(ctx, s.generation)
	zap.L().Info("scheduler: started",
		zap.String("schedule", s.cfg.Schedule()),
		zap.Time("next_run", s.nextRun),
	)
	return nil
}

// Stop disarms the timer and cancels an in-flight scheduled update.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.started = false
	s.generation++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.nextRun = time.Time{}
	zap.L().Info("scheduler: stopped")
}

func (s *Scheduler) armLocked(ctx context.Context, gen int) {
	now := s.now()
	s.nextRun = NextRun(now, s.cfg.Hour, s.cfg.Minute, s.cfg.IntervalDays)
	s.timer = s.afterFunc(s.nextRun.Sub(now), func() { s.fire(ctx, gen) })
}

func (s *Scheduler) fire(ctx context.Context, gen int) {
	s.mu.Lock()
	if !s.started || gen != s.generation {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if _, err := s.run(ctx, s.cfg.UpdateType, true); err != nil {
		zap.L().Error("scheduler: scheduled update failed", zap.Error(err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started && gen == s.generation {
		s.armLocked(ctx, gen)
		zap.L().Info("scheduler: rescheduled", zap.Time("next_run", s.nextRun))
	}
}

// RunNow performs the configured update immediately, including the
// freshness pre-check. A skipped run returns a nil report and no error.
func (s *Scheduler) RunNow(ctx context.Context) (*model.RunReport, error) {
	return s.run(ctx, s.cfg.UpdateType, true)
}

// RunManualUpdate performs an update of typ immediately, bypassing the
// freshness pre-check.
func (s *Scheduler) RunManualUpdate(ctx context.Context, typ model.UpdateType) (*model.RunReport, error) {
	if err := checkUpdateType(typ); err != nil {
		return nil, err
	}
	return s.run(ctx, typ, false)
}

// StartManualUpdate claims the run slot and performs an update of typ in the
// background, bypassing the freshness pre-check. It returns ErrRunInProgress
// without starting anything when another update holds the slot. done, if not
// nil, receives the outcome after the slot is released.
func (s *Scheduler) StartManualUpdate(ctx context.Context, typ model.UpdateType, done func(*model.RunReport, error)) error {
	if err := checkUpdateType(typ); err != nil {
		return err
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrRunInProgress
	}
	go func() {
		rep, err := s.execute(ctx, typ, false)
		s.running.Store(false)
		if done != nil {
			done(rep, err)
		}
	}()
	return nil
}

func checkUpdateType(typ model.UpdateType) error {
	if typ != model.UpdateFull && typ != model.UpdateIncremental {
		return eris.Errorf("scheduler: unknown update type %q", typ)
	}
	return nil
}

func (s *Scheduler) run(ctx context.Context, typ model.UpdateType, checkFreshness bool) (*model.RunReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer s.running.Store(false)
	return s.execute(ctx, typ, checkFreshness)
}

// execute performs one update. The caller holds the run slot.
func (s *Scheduler) execute(ctx context.Context, typ model.UpdateType, checkFreshness bool) (*model.RunReport, error) {
	log := zap.L().With(zap.String("component", "scheduler"), zap.String("update_type", string(typ)))

	if checkFreshness {
		fresh, reason := s.fresh(ctx)
		if fresh {
			s.mu.Lock()
			s.skipped++
			s.skipReason = reason
			s.mu.Unlock()
			log.Info("scheduler: data still fresh, skipping update", zap.String("reason", reason))
			return nil, nil
		}
		log.Info("scheduler: update needed", zap.String("reason", reason))
	}

	s.logStats(ctx, log, "before")
	rep, err := s.updater.RunUpdate(ctx, typ)
	s.logStats(ctx, log, "after")

	s.mu.Lock()
	s.total++
	if err != nil {
		s.failed++
	}
	if rep != nil {
		s.lastRun = rep
	}
	s.mu.Unlock()

	if err != nil {
		return rep, eris.Wrap(err, "scheduler: update")
	}
	log.Info("scheduler: update complete",
		zap.String("run_id", rep.ID),
		zap.Int("success", rep.Success),
		zap.Int("failed", rep.Failed),
		zap.Int("total", rep.Total),
	)
	return rep, nil
}

// fresh reports whether persisted data is fresh enough to skip a run. An
// empty store or a stats failure is never fresh.
func (s *Scheduler) fresh(ctx context.Context) (bool, string) {
	day := 24 * time.Hour
	fs, err := s.stats.FreshnessStats(ctx,
		time.Duration(s.cfg.FreshnessDays)*day,
		time.Duration(s.cfg.OverdueDays)*day,
	)
	if err != nil {
		zap.L().Warn("scheduler: freshness check failed", zap.Error(err))
		return false, "freshness check failed"
	}
	if fs.Total == 0 {
		return false, "no persisted venues"
	}
	ratio := float64(fs.Fresh) / float64(fs.Total)
	reason := fmt.Sprintf("%d/%d fresh (%.0f%%), %d overdue", fs.Fresh, fs.Total, ratio*100, fs.Overdue)
	return ratio >= s.cfg.FreshRatio && fs.Overdue == 0, reason
}

func (s *Scheduler) logStats(ctx context.Context, log *zap.Logger, when string) {
	st, err := s.stats.Stats(ctx)
	if err != nil {
		log.Warn("scheduler: stats unavailable", zap.String("when", when), zap.Error(err))
		return
	}
	log.Info("scheduler: venue stats",
		zap.String("when", when),
		zap.Int("total", st.Total),
		zap.Float64("avg_quality", st.AvgQuality),
		zap.Float64("avg_confidence", st.AvgConf),
	)
}

// Status returns the current scheduler state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Enabled:        s.started,
		IsRunning:      s.running.Load(),
		Schedule:       s.cfg.Schedule(),
		IntervalDays:   s.cfg.IntervalDays,
		UpdateType:     s.cfg.UpdateType,
		TotalRuns:      s.total,
		SkippedRuns:    s.skipped,
		FailedRuns:     s.failed,
		LastRun:        s.lastRun,
		LastSkipReason: s.skipReason,
	}
	if !s.nextRun.IsZero() {
		next := s.nextRun
		st.NextRun = &next
	}
	return st
}
