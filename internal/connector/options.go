package connector

import (
	"strings"
	"time"

	"github.com/sells-group/venue-fusion/internal/ratelimit"
)

// Option overrides a connector's default settings.
type Option func(*Settings)

// WithTrust overrides the connector's trust weight.
func WithTrust(t float64) Option {
	return func(s *Settings) {
		if t > 0 {
			s.Trust = t
		}
	}
}

// WithBudget overrides the connector's request budget.
func WithBudget(b ratelimit.Budget) Option {
	return func(s *Settings) {
		if b.PerMinute > 0 || b.PerDay > 0 {
			s.Budget = b
		}
	}
}

func newBase(id string, opts []Option) base {
	s := defaultSettings(id)
	for _, o := range opts {
		o(&s)
	}
	return base{id: id, settings: s}
}

// matchConfidence scales base down when the returned name shares no token
// with the query.
func matchConfidence(base float64, query, name string) float64 {
	q := strings.Fields(strings.ToLower(query))
	n := strings.ToLower(name)
	for _, tok := range q {
		if len([]rune(tok)) >= 2 && strings.Contains(n, tok) {
			return base
		}
	}
	return base * 0.8
}

var nowFunc = time.Now
