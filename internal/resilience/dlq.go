package resilience

import (
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/venue-fusion/internal/model"
)

// DLQEntry is an entity that failed a run and can be retried later.
type DLQEntry struct {
	ID           string       `json:"id"`
	Entity       model.Entity `json:"entity"`
	Error        string       `json:"error"`
	ErrorType    ErrorType    `json:"error_type"`
	Source       string       `json:"source,omitempty"`
	RunID        string       `json:"run_id,omitempty"`
	RetryCount   int          `json:"retry_count"`
	MaxRetries   int          `json:"max_retries"`
	CreatedAt    time.Time    `json:"created_at"`
	LastFailedAt time.Time    `json:"last_failed_at"`
}

// DLQFilter specifies criteria for querying the dead letter queue.
type DLQFilter struct {
	ErrorType ErrorType `json:"error_type,omitempty"`
	Limit     int       `json:"limit,omitempty"`
}

// NewDLQEntry builds an entry for ent failing with err.
func NewDLQEntry(ent model.Entity, runID, source string, err error, maxRetries int) DLQEntry {
	now := time.Now().UTC()
	e := DLQEntry{
		ID:           uuid.NewString(),
		Entity:       ent,
		ErrorType:    ClassifyError(err),
		Source:       source,
		RunID:        runID,
		MaxRetries:   maxRetries,
		CreatedAt:    now,
		LastFailedAt: now,
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// CanRetry returns true if this entry hasn't exceeded its max retry count.
func (e *DLQEntry) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}

// ClassifyError returns the taxonomy type of err, TypeUnknown for nil.
func ClassifyError(err error) ErrorType {
	if t := Classify(err); t != "" {
		return t
	}
	return TypeUnknown
}
