package resilience

import (
	"time"
)

// Action is what the caller should do after a failure.
type Action string

// Next actions.
const (
	ActionRetry          Action = "retry"
	ActionFallbackSource Action = "fallback_to_alternative_source"
	ActionFallbackCache  Action = "fallback_to_cached_data"
	ActionContinue       Action = "continue"
)

// Policy is the decision-table entry for one error type. Fallback is the
// action once retries are not allowed or are used up.
type Policy struct {
	Type        ErrorType     `json:"type"`
	ShouldRetry bool          `json:"should_retry"`
	MaxRetries  int           `json:"max_retries"`
	RetryDelay  time.Duration `json:"retry_delay"`
	Fallback    Action        `json:"fallback"`
	Description string        `json:"description"`
}

var policies = map[ErrorType]Policy{
	TypeRateLimit: {
		ShouldRetry: true, MaxRetries: 5, RetryDelay: 60 * time.Second,
		Fallback:    ActionFallbackSource,
		Description: "request budget exceeded; wait for the window to reset",
	},
	TypeTimeout: {
		ShouldRetry: true, MaxRetries: 3, RetryDelay: 5 * time.Second,
		Fallback:    ActionFallbackCache,
		Description: "request did not complete in time",
	},
	TypeNetwork: {
		ShouldRetry: true, MaxRetries: 3, RetryDelay: 3 * time.Second,
		Fallback:    ActionFallbackCache,
		Description: "connection failed or server error",
	},
	TypeDNS: {
		ShouldRetry: true, MaxRetries: 2, RetryDelay: 10 * time.Second,
		Fallback:    ActionFallbackCache,
		Description: "host name could not be resolved",
	},
	TypePersistenceTimeout: {
		ShouldRetry: true, MaxRetries: 3, RetryDelay: 2 * time.Second,
		Fallback:    ActionContinue,
		Description: "database operation timed out",
	},
	TypePersistenceConnection: {
		ShouldRetry: true, MaxRetries: 2, RetryDelay: 5 * time.Second,
		Fallback:    ActionContinue,
		Description: "database is unreachable",
	},
	TypeAuthFailure: {
		Fallback:    ActionFallbackSource,
		Description: "credentials rejected by the source",
	},
	TypeNotFound: {
		Fallback:    ActionFallbackSource,
		Description: "source has no data for the query",
	},
	TypeCrawlBlocked: {
		Fallback:    ActionFallbackSource,
		Description: "source blocked automated access",
	},
	TypeParseError: {
		ShouldRetry: true, MaxRetries: 1, RetryDelay: time.Second,
		Fallback:    ActionContinue,
		Description: "response could not be parsed",
	},
	TypeUnknown: {
		ShouldRetry: true, MaxRetries: 1, RetryDelay: 2 * time.Second,
		Fallback:    ActionContinue,
		Description: "unclassified failure",
	},
}

// PolicyFor returns the decision-table entry for t. Unrecognised types get
// the TypeUnknown entry.
func PolicyFor(t ErrorType) Policy {
	p, ok := policies[t]
	if !ok {
		t = TypeUnknown
		p = policies[TypeUnknown]
	}
	p.Type = t
	return p
}

// Policies returns the full decision table in taxonomy order.
func Policies() []Policy {
	order := []ErrorType{
		TypeRateLimit, TypeAuthFailure, TypeTimeout, TypeNotFound, TypeCrawlBlocked,
		TypeParseError, TypeNetwork, TypeDNS, TypePersistenceConnection,
		TypePersistenceTimeout, TypeUnknown,
	}
	out := make([]Policy, len(order))
	for i, t := range order {
		out[i] = PolicyFor(t)
	}
	return out
}
