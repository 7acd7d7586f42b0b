package main

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/venue-fusion/internal/batch"
	"github.com/sells-group/venue-fusion/internal/config"
	"github.com/sells-group/venue-fusion/internal/connector"
	"github.com/sells-group/venue-fusion/internal/fetch"
	"github.com/sells-group/venue-fusion/internal/fetcher"
	"github.com/sells-group/venue-fusion/internal/fusion"
	"github.com/sells-group/venue-fusion/internal/geo"
	"github.com/sells-group/venue-fusion/internal/model"
	"github.com/sells-group/venue-fusion/internal/monitoring"
	"github.com/sells-group/venue-fusion/internal/normalize"
	"github.com/sells-group/venue-fusion/internal/pipeline"
	"github.com/sells-group/venue-fusion/internal/quality"
	"github.com/sells-group/venue-fusion/internal/query"
	"github.com/sells-group/venue-fusion/internal/ratelimit"
	"github.com/sells-group/venue-fusion/internal/resilience"
	"github.com/sells-group/venue-fusion/internal/scheduler"
	"github.com/sells-group/venue-fusion/internal/snapshot"
	"github.com/sells-group/venue-fusion/internal/store"
	"github.com/sells-group/venue-fusion/pkg/google"
	"github.com/sells-group/venue-fusion/pkg/jina"
	"github.com/sells-group/venue-fusion/pkg/kakao"
	"github.com/sells-group/venue-fusion/pkg/naver"
	"github.com/sells-group/venue-fusion/pkg/publicdata"
)

// Default API hosts. A configured base URL adds its host to the pacing set.
const (
	hostPublicData = "apis.data.go.kr"
	hostGoogle     = "places.googleapis.com"
	hostKakao      = "dapi.kakao.com"
	hostNaver      = "openapi.naver.com"
	hostJinaRead   = "r.jina.ai"
	hostJinaSearch = "s.jina.ai"
)

// appEnv holds every component the run, schedule and serve commands share.
type appEnv struct {
	Store        store.Store
	Registry     *connector.Registry
	Limiter      *ratelimit.Limiter
	Handler      *resilience.Handler
	Breakers     *resilience.Breakers
	Orchestrator *batch.Orchestrator
	Runner       *pipeline.Runner
	Scheduler    *scheduler.Scheduler
	Scorer       *quality.Scorer
	Alerter      *monitoring.Alerter
	Collector    *monitoring.Collector
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Scheduler != nil {
		e.Scheduler.Stop()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured store backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.SQLitePath
		if dsn == "" {
			dsn = "venues.db"
		}
		if dir := filepath.Dir(dsn); dsn != ":memory:" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, eris.Wrap(err, "create sqlite directory")
			}
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore validates the store settings, opens the store and migrates it.
// Callers should defer st.Close().
func openStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate(config.ModeStore); err != nil {
		return nil, err
	}
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// storeRunner returns a runner that can only read, import and revalidate
// venues. It has no connectors and cannot run updates.
func storeRunner(st store.Store) *pipeline.Runner {
	return pipeline.NewRunner(pipeline.RunnerConfig{}, pipeline.RunnerDeps{Store: st})
}

// initEnv validates the configuration for mode, opens the store and wires
// the full update stack. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	env, err := buildEnv(st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return env, nil
}

// buildEnv wires every component on top of an opened store.
func buildEnv(st store.Store) (*appEnv, error) {
	reg := buildRegistry()
	if reg.Len() == 0 {
		return nil, eris.New("no connectors configured")
	}
	zap.L().Info("connectors registered", zap.Strings("ids", reg.IDs()))

	lim := ratelimit.New()
	reg.RegisterLimits(lim)

	handler := resilience.NewHandler(resilience.HandlerConfig{HistorySize: cfg.Fetch.HistorySize})
	breakers := resilience.NewBreakers(resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.Fetch.BreakerThreshold,
		ResetTimeout:     secs(cfg.Fetch.BreakerResetSecs),
	})

	batchCfg := batch.DefaultConfig().Merge(cfg.Batch)
	exec := fetch.New(fetch.Config{
		MaxRetries:        batchCfg.MaxRetries,
		RequestTimeout:    batchCfg.Timeout,
		MaxRateLimitWaits: cfg.Fetch.MaxRateLimitWaits,
		MaxLimiterWaits:   cfg.Fetch.MaxLimiterWaits,
		MaxDelay:          secs(cfg.Fetch.MaxDelaySecs),
	}, lim, handler, breakers)

	synonyms := query.DefaultSynonyms()
	if cfg.Query.SynonymsFile != "" {
		loaded, err := query.LoadSynonyms(cfg.Query.SynonymsFile)
		if err != nil {
			return nil, eris.Wrap(err, "load synonyms")
		}
		synonyms = loaded
	}
	expander := query.NewExpander(query.Config{
		Keyword:    cfg.Query.Keyword,
		MaxQueries: cfg.Query.MaxQueries,
		Synonyms:   synonyms,
	})

	fusionCfg := fusion.DefaultConfig(reg.Trust())
	if cfg.Fusion.ConfidenceThreshold > 0 {
		fusionCfg.ConfidenceThreshold = cfg.Fusion.ConfidenceThreshold
	}
	if cfg.Fusion.CoordinateDeltaMeters > 0 {
		fusionCfg.CoordinateDeltaMeters = cfg.Fusion.CoordinateDeltaMeters
	}

	scorer := newScorer()

	p := pipeline.New(pipeline.Config{
		MaxQueriesPerConnector: cfg.Pipeline.MaxQueriesPerConnector,
		MatchThreshold:         cfg.Pipeline.MatchThreshold,
	}, pipeline.Deps{
		Connectors: reg,
		Fetcher:    exec,
		Expander:   expander,
		Normalizer: normalize.New(normalize.Config{Bounds: geo.KoreaBounds}),
		Fusion:     fusion.NewEngine(fusionCfg),
		Scorer:     scorer,
		Store:      st,
	})

	orch := batch.New(p.Process,
		batch.WithDLQ(st),
		batch.WithProgress(func(pr model.Progress) {
			zap.L().Info("run progress",
				zap.Int("processed", pr.Processed),
				zap.Int("remaining", pr.Remaining),
				zap.Float64("percentage", pr.Percentage),
			)
		}),
	)

	alerter := monitoring.NewAlerter(cfg.Monitoring)
	runner := pipeline.NewRunner(pipeline.RunnerConfig{
		Batch:                 batchCfg,
		IncrementalStaleAfter: time.Duration(cfg.Data.IncrementalStaleDays) * 24 * time.Hour,
	}, pipeline.RunnerDeps{
		Orchestrator: orch,
		Connectors:   reg,
		Store:        st,
		Snapshot:     snapshot.NewWriter(cfg.Data.Dir, cfg.Data.Source, cfg.Data.Version),
		Notifier:     alerter,
		Analyzer:     handler,
	})

	return &appEnv{
		Store:        st,
		Registry:     reg,
		Limiter:      lim,
		Handler:      handler,
		Breakers:     breakers,
		Orchestrator: orch,
		Runner:       runner,
		Scheduler:    scheduler.New(cfg.Scheduler, runner, st),
		Scorer:       scorer,
		Alerter:      alerter,
		Collector:    monitoring.NewCollector(st, handler),
	}, nil
}

// newScorer builds the quality scorer from the configured thresholds.
func newScorer() *quality.Scorer {
	qc := quality.DefaultConfig()
	if cfg.Quality.FreshDays > 0 {
		qc.FreshDays = cfg.Quality.FreshDays
	}
	if cfg.Quality.StaleDays > 0 {
		qc.StaleDays = cfg.Quality.StaleDays
	}
	if cfg.Quality.MinOverall > 0 {
		qc.MinOverall = cfg.Quality.MinOverall
	}
	if cfg.Quality.ConfidenceThreshold > 0 {
		qc.ConfidenceThreshold = cfg.Quality.ConfidenceThreshold
	}
	return quality.NewScorer(qc)
}

// buildRegistry registers one connector per active source. All vendor
// clients share a paced HTTP client with one limiter per API host.
func buildRegistry() *connector.Registry {
	reg := connector.NewRegistry()

	var limiters []*fetcher.AdaptiveLimiter
	pace := func(c config.ConnectorConfig, hosts ...string) {
		if h := hostOf(c.BaseURL); h != "" {
			hosts = append(hosts, h)
		}
		r := c.RatePerSec
		if r <= 0 {
			r = 1
		}
		for _, h := range hosts {
			limiters = append(limiters, fetcher.NewAdaptiveLimiter(h, rate.Limit(r), int(r)+1))
		}
	}
	pace(cfg.PublicData, hostPublicData)
	pace(cfg.Google, hostGoogle)
	pace(cfg.Kakao, hostKakao)
	pace(cfg.Naver, hostNaver)
	pace(cfg.Jina, hostJinaRead, hostJinaSearch)
	hc := fetcher.NewHTTPClient(secs(cfg.Fetch.HTTPTimeoutSecs), limiters...)

	if c := cfg.PublicData; c.Active() {
		opts := []publicdata.Option{publicdata.WithHTTPClient(hc)}
		if c.BaseURL != "" {
			opts = append(opts, publicdata.WithBaseURL(c.BaseURL))
		}
		reg.Register(connector.NewPublicData(publicdata.NewClient(c.Key, opts...), connectorOpts(c)...))
	}
	if c := cfg.Google; c.Active() {
		opts := []google.Option{google.WithHTTPClient(hc), google.WithLanguage("ko", "KR")}
		if c.BaseURL != "" {
			opts = append(opts, google.WithBaseURL(c.BaseURL))
		}
		reg.Register(connector.NewGooglePlaces(google.NewClient(c.Key, opts...), connectorOpts(c)...))
	}
	if c := cfg.Kakao; c.Active() {
		opts := []kakao.Option{kakao.WithHTTPClient(hc)}
		if c.BaseURL != "" {
			opts = append(opts, kakao.WithBaseURL(c.BaseURL))
		}
		reg.Register(connector.NewKakaoLocal(kakao.NewClient(c.Key, opts...), connectorOpts(c)...))
	}
	if c := cfg.Naver; c.Active() {
		opts := []naver.Option{naver.WithHTTPClient(hc)}
		if c.BaseURL != "" {
			opts = append(opts, naver.WithBaseURL(c.BaseURL))
		}
		reg.Register(connector.NewNaverLocal(naver.NewClient(c.Key, c.Secret, opts...), connectorOpts(c)...))
	}
	if c := cfg.Jina; c.Active() {
		opts := []jina.Option{jina.WithHTTPClient(hc)}
		if c.BaseURL != "" {
			opts = append(opts, jina.WithSearchBaseURL(c.BaseURL))
		}
		reg.Register(connector.NewWebSearch(jina.NewClient(c.Key, opts...), nil, connectorOpts(c)...))
	}
	return reg
}

// connectorOpts maps configured overrides onto connector options. Unset
// values keep the connector defaults.
func connectorOpts(c config.ConnectorConfig) []connector.Option {
	var opts []connector.Option
	if c.Trust > 0 {
		opts = append(opts, connector.WithTrust(c.Trust))
	}
	if c.PerMinute > 0 || c.PerDay > 0 {
		opts = append(opts, connector.WithBudget(ratelimit.Budget{PerMinute: c.PerMinute, PerDay: c.PerDay}))
	}
	return opts
}

func hostOf(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}

func secs(n int) time.Duration {
	return time.Duration(n) * time.Second
}
