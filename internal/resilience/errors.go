package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sells-group/venue-fusion/pkg/apierror"
)

// ErrorType is one entry of the failure taxonomy.
type ErrorType string

// Error taxonomy.
const (
	TypeRateLimit             ErrorType = "rate_limit"
	TypeAuthFailure           ErrorType = "auth_failure"
	TypeTimeout               ErrorType = "timeout"
	TypeNotFound              ErrorType = "not_found"
	TypeCrawlBlocked          ErrorType = "crawl_blocked"
	TypeParseError            ErrorType = "parse_error"
	TypeNetwork               ErrorType = "network"
	TypeDNS                   ErrorType = "dns"
	TypePersistenceConnection ErrorType = "persistence_connection"
	TypePersistenceTimeout    ErrorType = "persistence_timeout"
	TypeUnknown               ErrorType = "unknown"
)

// RateLimitError reports that a request was refused for rate reasons, either
// by the remote service or by the local limiter.
type RateLimitError struct {
	Service    string
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: rate limited: %v", e.Service, e.Err)
	}
	return fmt.Sprintf("%s: rate limited", e.Service)
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// ConnectorError lets a connector state the failure kind explicitly.
type ConnectorError struct {
	Connector string
	Kind      ErrorType
	Err       error
}

func (e *ConnectorError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Connector, e.Kind, e.Err)
}

func (e *ConnectorError) Unwrap() error {
	return e.Err
}

// NewConnectorError wraps err with an explicit kind.
func NewConnectorError(connector string, kind ErrorType, err error) *ConnectorError {
	return &ConnectorError{Connector: connector, Kind: kind, Err: err}
}

// RetryAfter returns the server-provided wait hint carried by err, if any.
func RetryAfter(err error) time.Duration {
	var rl *RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		return rl.RetryAfter
	}
	var ae *apierror.Error
	if errors.As(err, &ae) {
		return ae.RetryAfter
	}
	return 0
}

// Classify maps err onto the taxonomy. Typed errors are inspected first; the
// message heuristics only apply when nothing in the chain is recognised.
// Unrecognised errors are TypeUnknown.
func Classify(err error) ErrorType {
	if err == nil {
		return ""
	}
	if t, ok := classifyTyped(err); ok {
		return t
	}
	return classifyMessage(err.Error())
}

func classifyTyped(err error) (ErrorType, bool) {
	var ce *ConnectorError
	if errors.As(err, &ce) && ce.Kind != "" {
		return ce.Kind, true
	}

	var rl *RateLimitError
	if errors.As(err, &rl) {
		return TypeRateLimit, true
	}

	var ae *apierror.Error
	if errors.As(err, &ae) {
		return classifyStatus(ae.StatusCode), true
	}

	// Persistence errors are checked before generic network errors since
	// pgconn wraps them.
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		if pgconn.Timeout(err) {
			return TypePersistenceTimeout, true
		}
		return TypePersistenceConnection, true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"), pgErr.Code == "57P01", pgErr.Code == "53300":
			return TypePersistenceConnection, true
		case pgErr.Code == "57014", pgErr.Code == "55P03":
			return TypePersistenceTimeout, true
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return TypeTimeout, true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return TypeDNS, true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return TypeTimeout, true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, ErrCircuitOpen) {
		return TypeNetwork, true
	}

	return "", false
}

func classifyStatus(code int) ErrorType {
	switch {
	case code == 429:
		return TypeRateLimit
	case code == 401 || code == 403:
		return TypeAuthFailure
	case code == 404 || code == 410:
		return TypeNotFound
	case code == 408 || code == 504:
		return TypeTimeout
	case code >= 500:
		return TypeNetwork
	default:
		return TypeUnknown
	}
}

type messageRule struct {
	typ      ErrorType
	patterns []string
}

// Order matters: earlier rules win.
var messageRules = []messageRule{
	{TypeRateLimit, []string{"429", "rate limit", "too many requests", "quota exceeded"}},
	{TypeDNS, []string{"no such host", "enotfound", "name resolution", "dns"}},
	{TypePersistenceTimeout, []string{"database is locked", "statement timeout", "lock timeout"}},
	{TypePersistenceConnection, []string{"database connection", "connection pool", "failed to connect to", "sql: database is closed"}},
	{TypeAuthFailure, []string{"401", "403", "unauthorized", "forbidden", "invalid api key", "authentication"}},
	{TypeTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{TypeNotFound, []string{"404", "not found"}},
	{TypeCrawlBlocked, []string{"captcha", "cloudflare", "blocked", "access denied"}},
	{TypeParseError, []string{"parse", "unmarshal", "invalid character", "unexpected end of json", "malformed"}},
	{TypeNetwork, []string{"connection reset", "connection refused", "broken pipe", "econnreset", "network", "eof"}},
}

func classifyMessage(msg string) ErrorType {
	msg = strings.ToLower(msg)
	for _, r := range messageRules {
		for _, p := range r.patterns {
			if strings.Contains(msg, p) {
				return r.typ
			}
		}
	}
	return TypeUnknown
}

// IsRetryable reports whether err's taxonomy entry allows retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return PolicyFor(Classify(err)).ShouldRetry
}

// IsPersistence reports whether t is a persistence failure.
func IsPersistence(t ErrorType) bool {
	return t == TypePersistenceConnection || t == TypePersistenceTimeout
}
