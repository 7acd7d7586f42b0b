package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/venue-fusion/internal/model"
	"github.com/sells-group/venue-fusion/internal/resilience"
	"github.com/sells-group/venue-fusion/internal/store"
)

// mockStore implements RunSource for testing.
type mockStore struct {
	runs     []model.RunReport
	dlqCount int
	listErr  error
	dlqErr   error
}

func (m *mockStore) ListRuns(_ context.Context, filter store.RunFilter) ([]model.RunReport, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var filtered []model.RunReport
	for _, r := range m.runs {
		if filter.State != "" && r.State != filter.State {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered, nil
}

func (m *mockStore) CountDLQ(_ context.Context) (int, error) {
	return m.dlqCount, m.dlqErr
}

type staticAnalyzer resilience.Analysis

func (s staticAnalyzer) Analyze() resilience.Analysis { return resilience.Analysis(s) }

func TestCollector_Collect(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	st := &mockStore{
		runs: []model.RunReport{
			{ID: "r1", State: model.RunCompleted, StartedAt: now.Add(-time.Hour), Total: 10, Failed: 2, AvgQuality: 0.8},
			{ID: "r2", State: model.RunFailed, StartedAt: now.Add(-2 * time.Hour), Total: 10, Failed: 4, AvgQuality: 0.6},
			{ID: "r3", State: model.RunCancelled, StartedAt: now.Add(-3 * time.Hour), Total: 5, Failed: 0},
			{ID: "old", State: model.RunFailed, StartedAt: now.Add(-48 * time.Hour), Total: 100, Failed: 100},
		},
		dlqCount: 7,
	}
	c := NewCollector(st, staticAnalyzer{
		Trend: resilience.TrendIncreasing, RecentErrors: 12, MostCommon: resilience.TypeTimeout,
	})
	c.now = func() time.Time { return now }

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 3, snap.RunsTotal)
	assert.Equal(t, 1, snap.RunsCompleted)
	assert.Equal(t, 1, snap.RunsFailed)
	assert.Equal(t, 1, snap.RunsCancelled)
	assert.Equal(t, 25, snap.EntitiesTotal)
	assert.Equal(t, 6, snap.EntitiesFailed)
	assert.InDelta(t, 0.24, snap.EntityFailRate, 0.001)
	assert.InDelta(t, 0.7, snap.AvgQuality, 0.001)
	assert.Equal(t, resilience.TrendIncreasing, snap.ErrorTrend)
	assert.Equal(t, 12, snap.RecentErrors)
	assert.Equal(t, resilience.TypeTimeout, snap.MostCommonError)
	assert.Equal(t, 7, snap.DLQDepth)
	assert.Equal(t, 24, snap.LookbackHours)
}

func TestCollector_Collect_Empty(t *testing.T) {
	c := NewCollector(&mockStore{}, nil)

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Zero(t, snap.RunsTotal)
	assert.Zero(t, snap.EntityFailRate)
	assert.Equal(t, resilience.TrendStable, snap.ErrorTrend)
}

func TestCollector_Collect_Errors(t *testing.T) {
	_, err := NewCollector(&mockStore{listErr: eris.New("db down")}, nil).Collect(context.Background(), 24)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "list runs")

	_, err = NewCollector(&mockStore{dlqErr: eris.New("db down")}, nil).Collect(context.Background(), 24)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "count dlq")
}

func TestSnapshotFromRun(t *testing.T) {
	rep := &model.RunReport{ID: "r", State: model.RunFailed, Total: 4, Failed: 1, AvgQuality: 0.55}
	snap := SnapshotFromRun(rep, resilience.Analysis{Trend: resilience.TrendDecreasing})

	assert.Equal(t, 1, snap.RunsTotal)
	assert.Equal(t, 1, snap.RunsFailed)
	assert.InDelta(t, 0.25, snap.EntityFailRate, 0.001)
	assert.InDelta(t, 0.55, snap.AvgQuality, 0.001)
	assert.Equal(t, resilience.TrendDecreasing, snap.ErrorTrend)
}
