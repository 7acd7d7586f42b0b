// Package apierror defines the error returned by vendor API clients for
// non-2xx responses.
package apierror

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const maxBody = 256

// Error is a non-success HTTP response from a vendor API.
type Error struct {
	Service    string
	StatusCode int
	RetryAfter time.Duration
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Service, e.StatusCode, e.Body)
}

// FromResponse builds an Error from resp and its already-read body.
func FromResponse(service string, resp *http.Response, body []byte) *Error {
	b := strings.TrimSpace(string(body))
	if len(b) > maxBody {
		b = b[:maxBody]
	}
	return &Error{
		Service:    service,
		StatusCode: resp.StatusCode,
		RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		Body:       b,
	}
}

// ParseRetryAfter parses a Retry-After header given either as seconds or as
// an HTTP date. Unparseable or past values yield 0.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
