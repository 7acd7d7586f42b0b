package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/venue-fusion/internal/model"
	"github.com/sells-group/venue-fusion/internal/resilience"
	"github.com/sells-group/venue-fusion/internal/store"
)

// maxRuns bounds how many recent runs a collection inspects.
const maxRuns = 1000

// MetricsSnapshot is a point-in-time view of run health.
type MetricsSnapshot struct {
	// Run metrics (within lookback window).
	RunsTotal     int `json:"runs_total"`
	RunsCompleted int `json:"runs_completed"`
	RunsFailed    int `json:"runs_failed"`
	RunsCancelled int `json:"runs_cancelled"`

	// Entity metrics summed over those runs.
	EntitiesTotal  int     `json:"entities_total"`
	EntitiesFailed int     `json:"entities_failed"`
	EntityFailRate float64 `json:"entity_fail_rate"`
	AvgQuality     float64 `json:"avg_quality"`

	// Error handler analysis.
	ErrorTrend      resilience.Trend     `json:"error_trend"`
	RecentErrors    int                  `json:"recent_errors"`
	MostCommonError resilience.ErrorType `json:"most_common_error,omitempty"`
	Recommendations []string             `json:"recommendations,omitempty"`

	// DLQ depth.
	DLQDepth int `json:"dlq_depth"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunSource is the slice of the store the collector reads.
type RunSource interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.RunReport, error)
	CountDLQ(ctx context.Context) (int, error)
}

// Analyzer supplies error-pattern analysis.
type Analyzer interface {
	Analyze() resilience.Analysis
}

// Collector gathers metrics from the store and the error handler.
type Collector struct {
	store    RunSource
	analyzer Analyzer
	now      func() time.Time
}

// NewCollector creates a new metrics collector. analyzer may be nil.
func NewCollector(st RunSource, analyzer Analyzer) *Collector {
	return &Collector{store: st, analyzer: analyzer, now: time.Now}
}

// Collect gathers a snapshot of run metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
		ErrorTrend:    resilience.TrendStable,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	// Runs are listed newest first.
	runs, err := c.store.ListRuns(ctx, store.RunFilter{Limit: maxRuns})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	var qualitySum float64
	var scored int
	for _, r := range runs {
		if r.StartedAt.Before(cutoff) {
			continue
		}
		snap.RunsTotal++
		switch r.State {
		case model.RunCompleted:
			snap.RunsCompleted++
		case model.RunFailed:
			snap.RunsFailed++
		case model.RunCancelled:
			snap.RunsCancelled++
		}
		snap.EntitiesTotal += r.Total
		snap.EntitiesFailed += r.Failed
		if r.AvgQuality > 0 {
			qualitySum += r.AvgQuality
			scored++
		}
	}
	if snap.EntitiesTotal > 0 {
		snap.EntityFailRate = float64(snap.EntitiesFailed) / float64(snap.EntitiesTotal)
	}
	if scored > 0 {
		snap.AvgQuality = qualitySum / float64(scored)
	}

	if c.analyzer != nil {
		applyAnalysis(snap, c.analyzer.Analyze())
	}

	// DLQ depth.
	dlqCount, err := c.store.CountDLQ(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count dlq")
	}
	snap.DLQDepth = dlqCount

	return snap, nil
}

func applyAnalysis(snap *MetricsSnapshot, a resilience.Analysis) {
	snap.ErrorTrend = a.Trend
	snap.RecentErrors = a.RecentErrors
	snap.MostCommonError = a.MostCommon
	snap.Recommendations = a.Recommendations
}

// SnapshotFromRun builds a snapshot covering a single finished run.
func SnapshotFromRun(rep *model.RunReport, a resilience.Analysis) *MetricsSnapshot {
	snap := &MetricsSnapshot{
		RunsTotal:      1,
		EntitiesTotal:  rep.Total,
		EntitiesFailed: rep.Failed,
		AvgQuality:     rep.AvgQuality,
		CollectedAt:    time.Now().UTC(),
	}
	switch rep.State {
	case model.RunCompleted:
		snap.RunsCompleted = 1
	case model.RunFailed:
		snap.RunsFailed = 1
	case model.RunCancelled:
		snap.RunsCancelled = 1
	}
	if rep.Total > 0 {
		snap.EntityFailRate = float64(rep.Failed) / float64(rep.Total)
	}
	applyAnalysis(snap, a)
	return snap
}
