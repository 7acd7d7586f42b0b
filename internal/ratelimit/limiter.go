// Package ratelimit provides per-connector fixed-window admission control.
package ratelimit

import (
	"sync"
	"time"
)

const (
	minuteWindow = time.Minute
	dayWindow    = 24 * time.Hour
)

// Budget is the request allowance for one connector. Zero means unlimited.
type Budget struct {
	PerMinute int `json:"per_minute" mapstructure:"per_minute"`
	PerDay    int `json:"per_day" mapstructure:"per_day"`
}

type window struct {
	count   int
	resetAt time.Time
}

// admit applies the fixed-window rule: an expired or missing window resets to
// a count of one, otherwise the call is allowed while count < limit.
func (w *window) admit(now time.Time, limit int, size time.Duration) bool {
	if w.resetAt.IsZero() || !now.Before(w.resetAt) {
		w.count = 1
		w.resetAt = now.Add(size)
		return true
	}
	if w.count < limit {
		w.count++
		return true
	}
	return false
}

func (w *window) wouldAdmit(now time.Time, limit int) bool {
	return w.resetAt.IsZero() || !now.Before(w.resetAt) || w.count < limit
}

type state struct {
	budget Budget
	minute window
	day    window
}

// Decision explains an admission result.
type Decision int

// Admission decisions.
const (
	Allowed Decision = iota
	MinuteExhausted
	DayExhausted
)

// Limiter tracks request windows per connector id. Windows are fixed
// wall-clock intervals, so bursts across a window boundary are possible.
type Limiter struct {
	mu      sync.Mutex
	states  map[string]*state
	nowFunc func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.nowFunc = now }
}

// New creates an empty Limiter.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		states:  make(map[string]*state),
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Register sets the budget for id. Re-registering keeps current counters.
func (l *Limiter) Register(id string, b Budget) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.states[id]; ok {
		s.budget = b
		return
	}
	l.states[id] = &state{budget: b}
}

// Admit reports whether a request to id may proceed now, counting it if so.
// Unregistered ids are always admitted.
func (l *Limiter) Admit(id string) bool {
	return l.Check(id) == Allowed
}

// Check is Admit with the reason for a denial.
func (l *Limiter) Check(id string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.states[id]
	if !ok {
		return Allowed
	}
	now := l.nowFunc()

	// Both windows must allow before either is charged.
	if s.budget.PerDay > 0 && !s.day.wouldAdmit(now, s.budget.PerDay) {
		return DayExhausted
	}
	if s.budget.PerMinute > 0 && !s.minute.wouldAdmit(now, s.budget.PerMinute) {
		return MinuteExhausted
	}
	if s.budget.PerDay > 0 {
		s.day.admit(now, s.budget.PerDay, dayWindow)
	}
	if s.budget.PerMinute > 0 {
		s.minute.admit(now, s.budget.PerMinute, minuteWindow)
	}
	return Allowed
}

// ResetIn returns the time until the minute window for id resets, or 0 if
// no window is active.
func (l *Limiter) ResetIn(id string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.states[id]
	if !ok || s.minute.resetAt.IsZero() {
		return 0
	}
	d := s.minute.resetAt.Sub(l.nowFunc())
	if d < 0 {
		return 0
	}
	return d
}

// Usage is a point-in-time view of one connector's windows.
type Usage struct {
	ID            string    `json:"id"`
	Budget        Budget    `json:"budget"`
	MinuteCount   int       `json:"minute_count"`
	MinuteResetAt time.Time `json:"minute_reset_at"`
	DayCount      int       `json:"day_count"`
	DayResetAt    time.Time `json:"day_reset_at"`
}

// Snapshot returns current usage for every registered connector.
func (l *Limiter) Snapshot() []Usage {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Usage, 0, len(l.states))
	for id, s := range l.states {
		out = append(out, Usage{
			ID:            id,
			Budget:        s.budget,
			MinuteCount:   s.minute.count,
			MinuteResetAt: s.minute.resetAt,
			DayCount:      s.day.count,
			DayResetAt:    s.day.resetAt,
		})
	}
	return out
}
