package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/venue-fusion/internal/config"
	"github.com/sells-group/venue-fusion/internal/model"
	"github.com/sells-group/venue-fusion/internal/resilience"
)

func testMonitoringConfig() config.MonitoringConfig {
	return config.MonitoringConfig{
		FailureRateThreshold: 0.20,
		MinAvgQuality:        0.5,
		DLQThreshold:         100,
		TrendMinErrors:       10,
	}
}

func alertTypes(alerts []Alert) map[AlertType]bool {
	types := make(map[AlertType]bool)
	for _, a := range alerts {
		types[a.Type] = true
	}
	return types
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())

	snap := &MetricsSnapshot{
		RunsTotal:      2,
		RunsCompleted:  2,
		EntitiesTotal:  100,
		EntitiesFailed: 5,
		EntityFailRate: 0.05,
		AvgQuality:     0.8,
		ErrorTrend:     resilience.TrendStable,
		DLQDepth:       3,
		LookbackHours:  24,
	}

	alerts := a.Evaluate(snap)
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_EntityFailureRate(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())

	snap := &MetricsSnapshot{
		RunsTotal:      1,
		RunsCompleted:  1,
		EntitiesTotal:  20,
		EntitiesFailed: 8,
		EntityFailRate: 0.4,
		LookbackHours:  24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertEntityFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "40.0%")
}

func TestAlerter_Evaluate_MinimumEntitiesRequired(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())

	// Only 3 entities, below the minimum sample for the failure rate alert.
	snap := &MetricsSnapshot{
		EntitiesTotal:  3,
		EntitiesFailed: 2,
		EntityFailRate: 0.666,
	}

	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_RunFailure(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())

	alerts := a.Evaluate(&MetricsSnapshot{RunsTotal: 3, RunsFailed: 1})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertRunFailure, alerts[0].Type)
	assert.Equal(t, "critical", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "1 of 3")
}

func TestAlerter_Evaluate_RisingErrors(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())

	snap := &MetricsSnapshot{
		ErrorTrend:      resilience.TrendIncreasing,
		RecentErrors:    12,
		MostCommonError: resilience.TypeRateLimit,
	}
	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertRisingErrors, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "rate_limit")

	snap.RecentErrors = 4
	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_MultipleAlerts(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())

	snap := &MetricsSnapshot{
		RunsTotal:      2,
		RunsFailed:     1,
		EntitiesTotal:  20,
		EntitiesFailed: 10,
		EntityFailRate: 0.5,
		AvgQuality:     0.3,
		DLQDepth:       150,
		LookbackHours:  24,
	}

	alerts := a.Evaluate(snap)
	assert.Len(t, alerts, 4)

	types := alertTypes(alerts)
	assert.True(t, types[AlertRunFailure])
	assert.True(t, types[AlertEntityFailureRate])
	assert.True(t, types[AlertLowQuality])
	assert.True(t, types[AlertDLQDepth])
}

func TestAlerter_Evaluate_DisabledThresholds(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{TrendMinErrors: 1000})

	snap := &MetricsSnapshot{
		EntitiesTotal:  100,
		EntitiesFailed: 90,
		EntityFailRate: 0.9,
		AvgQuality:     0.1,
		DLQDepth:       999,
	}

	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		err := json.NewDecoder(r.Body).Decode(&alert)
		require.NoError(t, err)
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: ts.URL,
	})

	alerts := []Alert{
		{Type: AlertEntityFailureRate, Severity: "high", Message: "test alert 1"},
		{Type: AlertLowQuality, Severity: "medium", Message: "test alert 2"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: "",
	})

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertEntityFailureRate, Message: "test"},
	})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_EmptyAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: "http://example.com",
	})

	sent := a.SendAlerts(context.Background(), nil)
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: ts.URL,
	})

	alerts := []Alert{
		{Type: AlertEntityFailureRate, Message: "test"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 0, sent)
}

func TestAlerter_NotifyRun(t *testing.T) {
	var got []Alert
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var alert Alert
		require.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		got = append(got, alert)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	cfg := testMonitoringConfig()
	cfg.WebhookURL = ts.URL
	a := NewAlerter(cfg)

	rep := &model.RunReport{ID: "run-7", State: model.RunCompleted, Total: 10, Failed: 5, AvgQuality: 0.7}
	sent := a.NotifyRun(context.Background(), rep, resilience.Analysis{Trend: resilience.TrendStable})
	assert.Equal(t, 1, sent)
	require.Len(t, got, 1)
	assert.Equal(t, AlertEntityFailureRate, got[0].Type)
	assert.Equal(t, "run-7", got[0].Details["run_id"])
}

func TestAlerter_NotifyRun_Healthy(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())
	rep := &model.RunReport{ID: "run-8", State: model.RunCompleted, Total: 10, Failed: 0, AvgQuality: 0.9}
	assert.Zero(t, a.NotifyRun(context.Background(), rep, resilience.Analysis{Trend: resilience.TrendStable}))
}
