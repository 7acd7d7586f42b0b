package fetcher

import (
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultUserAgent identifies outbound requests.
const DefaultUserAgent = "venue-fusion/1.0"

// PacedTransport is an http.RoundTripper that waits on a per-host adaptive
// limiter before each request and tunes it from the response status. It does
// not retry; retries belong to the fetch executor.
type PacedTransport struct {
	Base      http.RoundTripper
	UserAgent string

	mu       sync.RWMutex
	limiters map[string]*AdaptiveLimiter
}

// NewPacedTransport creates a transport over base (http.DefaultTransport if
// nil) with the given per-host limiters.
func NewPacedTransport(base http.RoundTripper, limiters ...*AdaptiveLimiter) *PacedTransport {
	if base == nil {
		base = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConnsPerHost: 10,
			MaxConnsPerHost:     20,
			IdleConnTimeout:     90 * time.Second,
		}
	}
	t := &PacedTransport{
		Base:      base,
		UserAgent: DefaultUserAgent,
		limiters:  make(map[string]*AdaptiveLimiter, len(limiters)),
	}
	for _, l := range limiters {
		t.limiters[l.host] = l
	}
	return t
}

// SetLimiter installs or replaces the limiter for a host.
func (t *PacedTransport) SetLimiter(l *AdaptiveLimiter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.limiters[l.host] = l
}

// LimiterFor returns the limiter for host, or nil.
func (t *PacedTransport) LimiterFor(host string) *AdaptiveLimiter {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.limiters[host]
}

// RoundTrip implements http.RoundTripper.
func (t *PacedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	lim := t.LimiterFor(req.URL.Host)
	if lim != nil {
		if err := lim.Wait(req.Context()); err != nil {
			return nil, eris.Wrapf(err, "fetcher: rate limiter wait for %s", req.URL.Host)
		}
	}

	if t.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.UserAgent)
	}

	resp, err := t.Base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if lim != nil {
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			lim.OnRateLimit()
		case resp.StatusCode < 400:
			lim.OnSuccess()
		}
	}
	if resp.StatusCode >= 500 {
		zap.L().Debug("fetcher: server error",
			zap.String("host", req.URL.Host),
			zap.Int("status", resp.StatusCode),
		)
	}
	return resp, nil
}

// NewHTTPClient returns an http.Client using a PacedTransport.
func NewHTTPClient(timeout time.Duration, limiters ...*AdaptiveLimiter) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: NewPacedTransport(nil, limiters...),
	}
}
