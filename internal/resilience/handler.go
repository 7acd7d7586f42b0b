package resilience

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/venue-fusion/internal/model"
)

// DefaultHistorySize bounds the handler's event history.
const DefaultHistorySize = 1000

// Decision is the handler's verdict on one failure.
type Decision struct {
	Type             ErrorType     `json:"type"`
	ShouldRetry      bool          `json:"should_retry"`
	RetryDelay       time.Duration `json:"retry_delay"`
	FallbackStrategy Action        `json:"fallback_strategy"`
	NextAction       Action        `json:"next_action"`
	Description      string        `json:"description"`
}

// Event is one entry of the handler history. Success events carry no Type.
type Event struct {
	Type       ErrorType `json:"type,omitempty"`
	Source     string    `json:"source"`
	EntityName string    `json:"entity_name,omitempty"`
	Message    string    `json:"message,omitempty"`
	RetryCount int       `json:"retry_count"`
	Success    bool      `json:"success"`
	Timestamp  time.Time `json:"timestamp"`
}

// Stats summarises the current history.
type Stats struct {
	TotalEvents int               `json:"total_events"`
	TotalErrors int               `json:"total_errors"`
	ErrorTypes  map[ErrorType]int `json:"error_types"`
	BySource    map[string]int    `json:"by_source"`
	SuccessRate float64           `json:"success_rate"`
}

// Trend compares error volume in the latest window with the one before it.
type Trend string

// Trend values.
const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// Analysis is the pattern report over the current history.
type Analysis struct {
	MostCommon      ErrorType `json:"most_common,omitempty"`
	Trend           Trend     `json:"trend"`
	RecentErrors    int       `json:"recent_errors"`
	PriorErrors     int       `json:"prior_errors"`
	Recommendations []string  `json:"recommendations,omitempty"`
}

// HandlerConfig tunes a Handler.
type HandlerConfig struct {
	HistorySize int
	TrendWindow time.Duration
}

// Handler classifies failures, decides the next action and keeps a bounded
// history for diagnostics. It is safe for concurrent use.
type Handler struct {
	mu     sync.Mutex
	buf    []Event
	head   int
	n      int
	window time.Duration

	nowFunc func() time.Time
}

// NewHandler creates a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	if cfg.TrendWindow <= 0 {
		cfg.TrendWindow = time.Hour
	}
	return &Handler{
		buf:     make([]Event, cfg.HistorySize),
		window:  cfg.TrendWindow,
		nowFunc: time.Now,
	}
}

// HandleError classifies ec.Err, records it and returns the next action.
// Retries are offered while ec.RetryCount is below the type's MaxRetries,
// with a delay that grows linearly with the retry count.
func (h *Handler) HandleError(ec model.ErrorContext) Decision {
	t := Classify(ec.Err)
	if t == "" {
		t = TypeUnknown
	}
	p := PolicyFor(t)

	d := Decision{
		Type:             t,
		FallbackStrategy: p.Fallback,
		NextAction:       p.Fallback,
		Description:      p.Description,
	}
	if p.ShouldRetry && ec.RetryCount < p.MaxRetries {
		d.ShouldRetry = true
		d.RetryDelay = p.RetryDelay * time.Duration(ec.RetryCount+1)
		d.NextAction = ActionRetry
	}

	ts := ec.Timestamp
	if ts.IsZero() {
		ts = h.nowFunc()
	}
	h.record(Event{
		Type:       t,
		Source:     ec.Source,
		EntityName: ec.EntityName,
		Message:    ec.Message(),
		RetryCount: ec.RetryCount,
		Timestamp:  ts,
	})

	zap.L().Warn("error_handler: failure",
		zap.String("entity", ec.EntityName),
		zap.String("source", ec.Source),
		zap.String("type", string(t)),
		zap.Int("retry_count", ec.RetryCount),
		zap.String("next_action", string(d.NextAction)),
		zap.Error(ec.Err),
	)
	return d
}

// RecordSuccess notes a successful call for success-rate statistics.
func (h *Handler) RecordSuccess(source string) {
	h.record(Event{Source: source, Success: true, Timestamp: h.nowFunc()})
}

func (h *Handler) record(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	size := len(h.buf)
	idx := (h.head + h.n) % size
	h.buf[idx] = e
	if h.n < size {
		h.n++
	} else {
		h.head = (h.head + 1) % size
	}
}

// events returns the history oldest first. Caller must hold mu.
func (h *Handler) events() []Event {
	out := make([]Event, h.n)
	for i := 0; i < h.n; i++ {
		out[i] = h.buf[(h.head+i)%len(h.buf)]
	}
	return out
}

// Recent returns up to n most recent failure events, newest first.
func (h *Handler) Recent(n int) []Event {
	h.mu.Lock()
	evs := h.events()
	h.mu.Unlock()

	var out []Event
	for i := len(evs) - 1; i >= 0 && len(out) < n; i-- {
		if !evs[i].Success {
			out = append(out, evs[i])
		}
	}
	return out
}

// Stats returns counters over the current history. SuccessRate is 1 when
// nothing has been recorded.
func (h *Handler) Stats() Stats {
	h.mu.Lock()
	evs := h.events()
	h.mu.Unlock()

	s := Stats{
		TotalEvents: len(evs),
		ErrorTypes:  make(map[ErrorType]int),
		BySource:    make(map[string]int),
		SuccessRate: 1,
	}
	successes := 0
	for _, e := range evs {
		if e.Success {
			successes++
			continue
		}
		s.TotalErrors++
		s.ErrorTypes[e.Type]++
		if e.Source != "" {
			s.BySource[e.Source]++
		}
	}
	if len(evs) > 0 {
		s.SuccessRate = float64(successes) / float64(len(evs))
	}
	return s
}

// Analyze reports the most common error type, the trend of the latest
// window against the prior one and textual recommendations.
func (h *Handler) Analyze() Analysis {
	h.mu.Lock()
	evs := h.events()
	now := h.nowFunc()
	window := h.window
	h.mu.Unlock()

	a := Analysis{Trend: TrendStable}
	counts := make(map[ErrorType]int)
	for _, e := range evs {
		if e.Success {
			continue
		}
		counts[e.Type]++
		age := now.Sub(e.Timestamp)
		switch {
		case age <= window:
			a.RecentErrors++
		case age <= 2*window:
			a.PriorErrors++
		}
	}

	types := make([]ErrorType, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool {
		if counts[types[i]] != counts[types[j]] {
			return counts[types[i]] > counts[types[j]]
		}
		return types[i] < types[j]
	})
	if len(types) > 0 {
		a.MostCommon = types[0]
	}

	switch {
	case a.PriorErrors == 0 && a.RecentErrors > 0:
		a.Trend = TrendIncreasing
	case float64(a.RecentErrors) > float64(a.PriorErrors)*1.2:
		a.Trend = TrendIncreasing
	case float64(a.RecentErrors) < float64(a.PriorErrors)*0.8:
		a.Trend = TrendDecreasing
	}

	for _, t := range types {
		if rec, ok := recommendations[t]; ok {
			a.Recommendations = append(a.Recommendations, fmt.Sprintf("%s (%d): %s", t, counts[t], rec))
		}
	}
	if a.Trend == TrendIncreasing && a.RecentErrors >= 10 {
		a.Recommendations = append(a.Recommendations,
			"error volume is rising; consider pausing scheduled runs until sources recover")
	}
	return a
}

var recommendations = map[ErrorType]string{
	TypeRateLimit:             "lower per-minute budgets or raise the delay between batches",
	TypeAuthFailure:           "check the API credentials of the affected sources",
	TypeTimeout:               "raise the request timeout or reduce concurrency",
	TypeNotFound:              "review query expansion for names that no source recognises",
	TypeCrawlBlocked:          "reduce crawl frequency or disable the blocked web source",
	TypeParseError:            "source response format may have changed; inspect raw payloads",
	TypeNetwork:               "check connectivity to the affected sources",
	TypeDNS:                   "check DNS configuration and source host names",
	TypePersistenceConnection: "check database availability and connection settings",
	TypePersistenceTimeout:    "check database load and slow queries",
	TypeUnknown:               "inspect recent error messages for unclassified failures",
}
