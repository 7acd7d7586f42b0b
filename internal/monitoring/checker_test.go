package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/venue-fusion/internal/config"
	"github.com/sells-group/venue-fusion/internal/model"
)

func failingRunStore() *mockStore {
	return &mockStore{
		runs: []model.RunReport{
			{ID: "r1", State: model.RunFailed, StartedAt: time.Now().UTC(), Total: 10, Failed: 6},
		},
	}
}

func TestChecker_RunStopsOnCancel(t *testing.T) {
	cfg := config.MonitoringConfig{CheckIntervalSecs: 1, LookbackWindowHours: 24}
	checker := NewChecker(NewCollector(&mockStore{}, nil), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestNewChecker_DefaultInterval(t *testing.T) {
	checker := NewChecker(NewCollector(&mockStore{}, nil), NewAlerter(config.MonitoringConfig{}), config.MonitoringConfig{})
	assert.Equal(t, 5*time.Minute, checker.interval)
	assert.Zero(t, checker.cooldown)
}

func TestChecker_Check(t *testing.T) {
	cfg := config.MonitoringConfig{FailureRateThreshold: 0.2, LookbackWindowHours: 24}
	checker := NewChecker(NewCollector(failingRunStore(), nil), NewAlerter(cfg), cfg)

	alerts := checker.Check(context.Background())
	require.Len(t, alerts, 2)
	types := alertTypes(alerts)
	assert.True(t, types[AlertRunFailure])
	assert.True(t, types[AlertEntityFailureRate])
}

func TestChecker_Check_NoAlerts(t *testing.T) {
	cfg := config.MonitoringConfig{LookbackWindowHours: 24, TrendMinErrors: 10}
	checker := NewChecker(NewCollector(&mockStore{}, nil), NewAlerter(cfg), cfg)
	assert.Empty(t, checker.Check(context.Background()))
}

func TestChecker_CooldownSuppressesRepeats(t *testing.T) {
	cfg := config.MonitoringConfig{FailureRateThreshold: 0.2, LookbackWindowHours: 24, AlertCooldownMins: 30}
	checker := NewChecker(NewCollector(failingRunStore(), nil), NewAlerter(cfg), cfg)
	clock := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	checker.now = func() time.Time { return clock }
	ctx := context.Background()

	require.Len(t, checker.Check(ctx), 2)
	assert.Empty(t, checker.Check(ctx))

	clock = clock.Add(31 * time.Minute)
	assert.Len(t, checker.Check(ctx), 2)
}

func TestChecker_NoCooldownRepeatsEveryCheck(t *testing.T) {
	cfg := config.MonitoringConfig{FailureRateThreshold: 0.2, LookbackWindowHours: 24}
	checker := NewChecker(NewCollector(failingRunStore(), nil), NewAlerter(cfg), cfg)
	ctx := context.Background()

	assert.Len(t, checker.Check(ctx), 2)
	assert.Len(t, checker.Check(ctx), 2)
}
