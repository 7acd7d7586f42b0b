// Package fetch issues connector searches under rate limits, circuit breakers,
// per-request timeouts and taxonomy-driven retries.
package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/venue-fusion/internal/connector"
	"github.com/sells-group/venue-fusion/internal/model"
	"github.com/sells-group/venue-fusion/internal/ratelimit"
	"github.com/sells-group/venue-fusion/internal/resilience"
)

// Defaults.
const (
	DefaultMaxRetries        = 3
	DefaultRequestTimeout    = 30 * time.Second
	DefaultMaxRateLimitWaits = 3
	DefaultMaxLimiterWaits   = 10
	DefaultMaxDelay          = 2 * time.Minute
)

// ErrDailyBudget is returned when a connector's per-day budget is spent.
var ErrDailyBudget = eris.New("daily request budget exhausted")

// Config tunes the executor.
type Config struct {
	// MaxRetries caps retries per call on top of the taxonomy's own limit.
	MaxRetries int
	// RequestTimeout bounds each individual connector call.
	RequestTimeout time.Duration
	// MaxRateLimitWaits caps remote 429 waits, which do not count as retries.
	MaxRateLimitWaits int
	// MaxLimiterWaits caps waits for the local minute window to reset.
	MaxLimiterWaits int
	// MaxDelay caps any single sleep.
	MaxDelay time.Duration
}

// DefaultConfig returns the default executor config.
func DefaultConfig() Config {
	return Config{
		MaxRetries:        DefaultMaxRetries,
		RequestTimeout:    DefaultRequestTimeout,
		MaxRateLimitWaits: DefaultMaxRateLimitWaits,
		MaxLimiterWaits:   DefaultMaxLimiterWaits,
		MaxDelay:          DefaultMaxDelay,
	}
}

// Error is a terminal fetch failure with the handler's verdict attached.
type Error struct {
	Context  model.ErrorContext
	Decision resilience.Decision
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch: %s %q after %d retries: %s: %v",
		e.Context.Source, e.Context.EntityName, e.Context.RetryCount, e.Decision.Type, e.Context.Err)
}

func (e *Error) Unwrap() error {
	return e.Context.Err
}

// Executor runs connector searches.
type Executor struct {
	cfg      Config
	limiter  *ratelimit.Limiter
	handler  *resilience.Handler
	breakers *resilience.Breakers

	sleep   func(ctx context.Context, d time.Duration) error
	nowFunc func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithSleep overrides how the executor waits between attempts.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) { e.sleep = fn }
}

// WithClock overrides the time source used for error timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.nowFunc = now }
}

// New creates an Executor. breakers may be nil to disable circuit breaking.
func New(cfg Config, limiter *ratelimit.Limiter, handler *resilience.Handler, breakers *resilience.Breakers, opts ...Option) *Executor {
	def := DefaultConfig()
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.MaxRateLimitWaits <= 0 {
		cfg.MaxRateLimitWaits = def.MaxRateLimitWaits
	}
	if cfg.MaxLimiterWaits <= 0 {
		cfg.MaxLimiterWaits = def.MaxLimiterWaits
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if limiter == nil {
		limiter = ratelimit.New()
	}
	if handler == nil {
		handler = resilience.NewHandler(resilience.HandlerConfig{})
	}
	e := &Executor{
		cfg:      cfg,
		limiter:  limiter,
		handler:  handler,
		breakers: breakers,
		sleep:    resilience.SleepContext,
		nowFunc:  time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Handler returns the error handler the executor reports to.
func (e *Executor) Handler() *resilience.Handler {
	return e.handler
}

// Fetch runs c.Search(query) for entityName. Retries follow the error
// taxonomy with linear backoff and never exceed MaxRetries. Remote 429s
// and local minute-window denials wait without consuming a retry. Every
// failure is reported to the handler; a terminal failure is returned as *Error.
func (e *Executor) Fetch(ctx context.Context, c connector.Connector, entityName, query string) ([]model.SourceRecord, error) {
	id := c.ID()
	log := zap.L().With(
		zap.String("component", "fetch"),
		zap.String("connector", id),
		zap.String("entity", entityName),
	)

	var (
		retries      int
		remoteWaits  int
		limiterWaits int
	)
	for {
		switch e.limiter.Check(id) {
		case ratelimit.DayExhausted:
			return nil, e.terminal(entityName, id, retries,
				&resilience.RateLimitError{Service: id, Err: ErrDailyBudget}, false)
		case ratelimit.MinuteExhausted:
			wait := e.limiter.ResetIn(id)
			if limiterWaits >= e.cfg.MaxLimiterWaits {
				return nil, e.terminal(entityName, id, retries,
					&resilience.RateLimitError{Service: id, RetryAfter: wait, Err: eris.New("minute budget exhausted")}, false)
			}
			limiterWaits++
			log.Debug("fetch: waiting for rate limit window", zap.Duration("wait", wait))
			if err := e.wait(ctx, wait); err != nil {
				return nil, e.terminal(entityName, id, retries, err, false)
			}
			continue
		}

		if e.breakers != nil {
			if err := e.breakers.Get(id).Allow(); err != nil {
				return nil, e.terminal(entityName, id, retries,
					resilience.NewConnectorError(id, resilience.TypeNetwork, err), true)
			}
		}

		recs, err := e.call(ctx, c, query)
		if e.breakers != nil {
			e.breakers.Get(id).Record(err)
		}
		if err == nil {
			e.handler.RecordSuccess(id)
			return recs, nil
		}

		ec := model.ErrorContext{
			EntityName: entityName,
			Source:     id,
			Err:        err,
			Timestamp:  e.nowFunc(),
			RetryCount: retries,
		}
		dec := e.handler.HandleError(ec)

		if ctx.Err() != nil {
			return nil, &Error{Context: ec, Decision: noRetry(dec)}
		}

		if dec.Type == resilience.TypeRateLimit && remoteWaits < e.cfg.MaxRateLimitWaits {
			wait := resilience.RetryAfter(err)
			if wait <= 0 {
				wait = resilience.PolicyFor(resilience.TypeRateLimit).RetryDelay
			}
			remoteWaits++
			log.Info("fetch: rate limited, backing off",
				zap.Duration("wait", wait),
				zap.Int("wait_count", remoteWaits),
			)
			if err := e.wait(ctx, wait); err != nil {
				return nil, e.terminal(entityName, id, retries, err, false)
			}
			continue
		}

		if !dec.ShouldRetry || retries >= e.cfg.MaxRetries {
			log.Warn("fetch: giving up",
				zap.String("error_type", string(dec.Type)),
				zap.String("next_action", string(dec.NextAction)),
				zap.Int("retries", retries),
				zap.Error(err),
			)
			return nil, &Error{Context: ec, Decision: noRetry(dec)}
		}

		retries++
		if err := e.wait(ctx, dec.RetryDelay); err != nil {
			return nil, e.terminal(entityName, id, retries, err, false)
		}
	}
}

type searchResult struct {
	recs []model.SourceRecord
	err  error
}

// call runs one search under the per-request timeout. The timeout holds even
// when the connector ignores its context; a late answer is discarded.
func (e *Executor) call(ctx context.Context, c connector.Connector, query string) ([]model.SourceRecord, error) {
	reqCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()

	done := make(chan searchResult, 1)
	go func() {
		recs, err := c.Search(reqCtx, query)
		done <- searchResult{recs: recs, err: err}
	}()

	select {
	case res := <-done:
		return res.recs, res.err
	case <-reqCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, eris.Wrapf(context.DeadlineExceeded, "fetch: %s request timed out after %s", c.ID(), e.cfg.RequestTimeout)
	}
}

func (e *Executor) wait(ctx context.Context, d time.Duration) error {
	if d > e.cfg.MaxDelay {
		d = e.cfg.MaxDelay
	}
	if d <= 0 {
		return ctx.Err()
	}
	return e.sleep(ctx, d)
}

// terminal reports err to the handler and builds the returned *Error.
// sourceDown switches the next action to another source.
func (e *Executor) terminal(entityName, id string, retries int, err error, sourceDown bool) *Error {
	ec := model.ErrorContext{
		EntityName: entityName,
		Source:     id,
		Err:        err,
		Timestamp:  e.nowFunc(),
		RetryCount: retries,
	}
	dec := noRetry(e.handler.HandleError(ec))
	if sourceDown || dec.Type == resilience.TypeRateLimit {
		dec.NextAction = resilience.ActionFallbackSource
	}
	return &Error{Context: ec, Decision: dec}
}

// noRetry turns a decision into its terminal form.
func noRetry(d resilience.Decision) resilience.Decision {
	if d.ShouldRetry {
		d.ShouldRetry = false
		d.RetryDelay = 0
		d.NextAction = d.FallbackStrategy
	}
	return d
}
