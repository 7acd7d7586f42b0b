// Package monitoring evaluates run health and delivers webhook alerts.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/venue-fusion/internal/config"
	"github.com/sells-group/venue-fusion/internal/model"
	"github.com/sells-group/venue-fusion/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertEntityFailureRate AlertType = "entity_failure_rate"
	AlertRunFailure        AlertType = "run_failure"
	AlertRisingErrors      AlertType = "rising_errors"
	AlertLowQuality        AlertType = "low_quality"
	AlertDLQDepth          AlertType = "dlq_depth"
)

// minEntities is the smallest sample the failure-rate alert considers.
const minEntities = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if snap.RunsFailed > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailure,
			Severity: "critical",
			Message:  fmt.Sprintf("%d of %d update run(s) aborted", snap.RunsFailed, snap.RunsTotal),
			Details: map[string]any{
				"failed": snap.RunsFailed,
				"total":  snap.RunsTotal,
			},
			Timestamp: now,
		})
	}

	if a.cfg.FailureRateThreshold > 0 && snap.EntitiesTotal >= minEntities &&
		snap.EntityFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertEntityFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Entity failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d processed)",
				snap.EntityFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.EntitiesFailed, snap.EntitiesTotal,
			),
			Details: map[string]any{
				"failure_rate": snap.EntityFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.EntitiesFailed,
				"total":        snap.EntitiesTotal,
			},
			Timestamp: now,
		})
	}

	if snap.ErrorTrend == resilience.TrendIncreasing && snap.RecentErrors >= a.cfg.TrendMinErrors {
		alerts = append(alerts, Alert{
			Type:     AlertRisingErrors,
			Severity: "medium",
			Message: fmt.Sprintf("Error volume is rising (%d recent, most common %s)",
				snap.RecentErrors, snap.MostCommonError),
			Details: map[string]any{
				"recent_errors":   snap.RecentErrors,
				"most_common":     snap.MostCommonError,
				"recommendations": snap.Recommendations,
			},
			Timestamp: now,
		})
	}

	if a.cfg.MinAvgQuality > 0 && snap.AvgQuality > 0 && snap.AvgQuality < a.cfg.MinAvgQuality {
		alerts = append(alerts, Alert{
			Type:     AlertLowQuality,
			Severity: "medium",
			Message: fmt.Sprintf("Average data quality %.2f is below %.2f",
				snap.AvgQuality, a.cfg.MinAvgQuality),
			Details: map[string]any{
				"avg_quality": snap.AvgQuality,
				"threshold":   a.cfg.MinAvgQuality,
			},
			Timestamp: now,
		})
	}

	if a.cfg.DLQThreshold > 0 && snap.DLQDepth > a.cfg.DLQThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertDLQDepth,
			Severity: "medium",
			Message:  fmt.Sprintf("%d entities waiting in the dead-letter queue", snap.DLQDepth),
			Details: map[string]any{
				"depth":     snap.DLQDepth,
				"threshold": a.cfg.DLQThreshold,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// NotifyRun evaluates a finished run together with the error analysis and
// sends any resulting alerts. It returns the number of alerts sent.
func (a *Alerter) NotifyRun(ctx context.Context, rep *model.RunReport, analysis resilience.Analysis) int {
	alerts := a.Evaluate(SnapshotFromRun(rep, analysis))
	if len(alerts) == 0 {
		return 0
	}
	for i := range alerts {
		alerts[i].Details = withRun(alerts[i].Details, rep.ID)
		zap.L().Warn("monitoring: run alert",
			zap.String("run_id", rep.ID),
			zap.String("type", string(alerts[i].Type)),
			zap.String("message", alerts[i].Message),
		)
	}
	return a.SendAlerts(ctx, alerts)
}

func withRun(details map[string]any, runID string) map[string]any {
	if details == nil {
		details = make(map[string]any, 1)
	}
	details["run_id"] = runID
	return details
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
