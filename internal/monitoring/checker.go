package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/venue-fusion/internal/config"
)

// Checker evaluates run health on a fixed interval while the control server
// is up. An alert type that already fired stays quiet until its cooldown
// passes.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
	lookback  int
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	lastSent map[AlertType]time.Time
}

// NewChecker creates a background alert checker. A zero interval means five
// minutes.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		interval:  interval,
		lookback:  cfg.LookbackWindowHours,
		cooldown:  time.Duration(cfg.AlertCooldownMins) * time.Minute,
		now:       time.Now,
		lastSent:  make(map[AlertType]time.Time),
	}
}

// Run ticks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("alert checker started",
		zap.Duration("interval", c.interval),
		zap.Int("lookback_hours", c.lookback),
		zap.Duration("cooldown", c.cooldown),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

// Check runs one collect/evaluate/send cycle and returns the alerts that
// passed the cooldown filter.
func (c *Checker) Check(ctx context.Context) []Alert {
	return c.check(ctx, zap.L().With(zap.String("component", "monitoring.checker")))
}

func (c *Checker) check(ctx context.Context, log *zap.Logger) []Alert {
	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		log.Error("collect run metrics", zap.Error(err))
		return nil
	}

	fresh := c.suppress(c.alerter.Evaluate(snap))
	if len(fresh) == 0 {
		log.Debug("no new alerts",
			zap.Int("runs", snap.RunsTotal),
			zap.Int("dlq_depth", snap.DLQDepth),
		)
		return nil
	}

	for _, a := range fresh {
		log.Warn("venue update alert",
			zap.String("type", string(a.Type)),
			zap.String("severity", a.Severity),
			zap.String("message", a.Message),
		)
	}
	sent := c.alerter.SendAlerts(ctx, fresh)
	log.Info("alert check complete",
		zap.Int("alerts", len(fresh)),
		zap.Int("sent", sent),
	)
	return fresh
}

// suppress drops alerts whose type fired within the cooldown and stamps the
// rest.
func (c *Checker) suppress(alerts []Alert) []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	out := alerts[:0:0]
	for _, a := range alerts {
		if last, ok := c.lastSent[a.Type]; ok && c.cooldown > 0 && now.Sub(last) < c.cooldown {
			continue
		}
		c.lastSent[a.Type] = now
		out = append(out, a)
	}
	return out
}
