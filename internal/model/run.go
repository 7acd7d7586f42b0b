package model

import (
	"time"
)

// RunState is the lifecycle state of a batch run.
type RunState string

// Batch run states.
const (
	RunIdle      RunState = "idle"
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunCancelled RunState = "cancelled"
	RunFailed    RunState = "failed"
)

// UpdateType selects which entities a run covers.
type UpdateType string

// Update types.
const (
	UpdateFull        UpdateType = "full"
	UpdateIncremental UpdateType = "incremental"
)

// ErrorContext travels with a failing operation so it can be classified.
type ErrorContext struct {
	EntityName string    `json:"entity_name"`
	Source     string    `json:"source"`
	Err        error     `json:"-"`
	Timestamp  time.Time `json:"timestamp"`
	RetryCount int       `json:"retry_count"`
}

// Message returns the error text, or "" when Err is nil.
func (c ErrorContext) Message() string {
	if c.Err == nil {
		return ""
	}
	return c.Err.Error()
}

// ItemError records one entity that failed during a run.
type ItemError struct {
	EntityName string    `json:"entity_name"`
	Source     string    `json:"source,omitempty"`
	ErrorType  string    `json:"error_type,omitempty"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

// Progress reports how far a run has got.
type Progress struct {
	Processed  int     `json:"processed"`
	Remaining  int     `json:"remaining"`
	Percentage float64 `json:"percentage"`
}

// NewProgress computes progress for processed out of total.
func NewProgress(processed, total int) Progress {
	p := Progress{Processed: processed, Remaining: total - processed}
	if total > 0 {
		p.Percentage = float64(processed) / float64(total) * 100
	}
	if p.Remaining < 0 {
		p.Remaining = 0
	}
	return p
}

// BatchResult aggregates the outcome of one orchestrator run.
type BatchResult struct {
	Success  int             `json:"success"`
	Failed   int             `json:"failed"`
	Total    int             `json:"total"`
	Duration time.Duration   `json:"duration"`
	Errors   []ItemError     `json:"errors,omitempty"`
	Progress Progress        `json:"progress"`
	State    RunState        `json:"state"`
	Records  []*MergedRecord `json:"-"`
}

// ErrorSample returns at most n errors from the result.
func (r *BatchResult) ErrorSample(n int) []ItemError {
	if len(r.Errors) <= n {
		return r.Errors
	}
	return r.Errors[:n]
}

// RunReport is the persisted summary of a run.
type RunReport struct {
	ID          string        `json:"id"`
	Type        UpdateType    `json:"type"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	Success     int           `json:"success"`
	Failed      int           `json:"failed"`
	Total       int           `json:"total"`
	State       RunState      `json:"state"`
	AvgQuality  float64       `json:"avg_quality"`
	ErrorSample []ItemError   `json:"error_sample,omitempty"`
}

// ErrorSampleSize bounds the number of errors kept on a RunReport.
const ErrorSampleSize = 20

// NewRunReport builds a report from a finished batch result.
func NewRunReport(id string, typ UpdateType, startedAt time.Time, res *BatchResult) *RunReport {
	rep := &RunReport{
		ID:          id,
		Type:        typ,
		StartedAt:   startedAt,
		Duration:    res.Duration,
		Success:     res.Success,
		Failed:      res.Failed,
		Total:       res.Total,
		State:       res.State,
		ErrorSample: res.ErrorSample(ErrorSampleSize),
	}
	if len(res.Records) > 0 {
		var sum float64
		for _, r := range res.Records {
			sum += r.DataQuality
		}
		rep.AvgQuality = sum / float64(len(res.Records))
	}
	return rep
}

// FreshnessStats summarises how current the persisted venues are.
type FreshnessStats struct {
	Total   int `json:"total"`
	Fresh   int `json:"fresh"`
	Overdue int `json:"overdue"`
}

// VenueStats is an aggregate view of persisted venues.
type VenueStats struct {
	Total       int            `json:"total"`
	AvgQuality  float64        `json:"avg_quality"`
	AvgConf     float64        `json:"avg_confidence"`
	BySource    map[string]int `json:"by_source"`
	LastUpdated time.Time      `json:"last_updated"`
}
