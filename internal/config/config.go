package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/venue-fusion/internal/batch"
	"github.com/sells-group/venue-fusion/internal/scheduler"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Data       DataConfig       `yaml:"data" mapstructure:"data"`
	PublicData ConnectorConfig  `yaml:"public_data" mapstructure:"public_data"`
	Google     ConnectorConfig  `yaml:"google" mapstructure:"google"`
	Kakao      ConnectorConfig  `yaml:"kakao" mapstructure:"kakao"`
	Naver      ConnectorConfig  `yaml:"naver" mapstructure:"naver"`
	Jina       ConnectorConfig  `yaml:"jina" mapstructure:"jina"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Query      QueryConfig      `yaml:"query" mapstructure:"query"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Fusion     FusionConfig     `yaml:"fusion" mapstructure:"fusion"`
	Quality    QualityConfig    `yaml:"quality" mapstructure:"quality"`
	Batch      batch.Config     `yaml:"batch" mapstructure:"batch"`
	Scheduler  scheduler.Config `yaml:"scheduler" mapstructure:"scheduler"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// DataConfig configures the snapshot artifact.
type DataConfig struct {
	Dir     string `yaml:"dir" mapstructure:"dir"`
	Source  string `yaml:"source" mapstructure:"source"`
	Version string `yaml:"version" mapstructure:"version"`
	// IncrementalStaleDays selects venues for incremental runs.
	IncrementalStaleDays int `yaml:"incremental_stale_days" mapstructure:"incremental_stale_days"`
}

// ConnectorConfig holds credentials and budget overrides for one connector.
// A connector without credentials is not registered.
type ConnectorConfig struct {
	Enabled   bool    `yaml:"enabled" mapstructure:"enabled"`
	Key       string  `yaml:"key" mapstructure:"key"`
	Secret    string  `yaml:"secret" mapstructure:"secret"`
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	Trust     float64 `yaml:"trust" mapstructure:"trust"`
	PerMinute int     `yaml:"per_minute" mapstructure:"per_minute"`
	PerDay    int     `yaml:"per_day" mapstructure:"per_day"`
	// RatePerSec paces outbound HTTP for this host.
	RatePerSec float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// Active reports whether the connector should be registered.
func (c ConnectorConfig) Active() bool {
	return c.Enabled && c.Key != ""
}

// FetchConfig configures the fetch executor.
type FetchConfig struct {
	MaxRateLimitWaits int `yaml:"max_rate_limit_waits" mapstructure:"max_rate_limit_waits"`
	MaxLimiterWaits   int `yaml:"max_limiter_waits" mapstructure:"max_limiter_waits"`
	MaxDelaySecs      int `yaml:"max_delay_secs" mapstructure:"max_delay_secs"`
	HTTPTimeoutSecs   int `yaml:"http_timeout_secs" mapstructure:"http_timeout_secs"`
	BreakerThreshold  int `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs  int `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
	HistorySize       int `yaml:"history_size" mapstructure:"history_size"`
}

// QueryConfig configures query expansion.
type QueryConfig struct {
	Keyword      string `yaml:"keyword" mapstructure:"keyword"`
	MaxQueries   int    `yaml:"max_queries" mapstructure:"max_queries"`
	SynonymsFile string `yaml:"synonyms_file" mapstructure:"synonyms_file"`
}

// PipelineConfig configures per-entity processing.
type PipelineConfig struct {
	MaxQueriesPerConnector int     `yaml:"max_queries_per_connector" mapstructure:"max_queries_per_connector"`
	MatchThreshold         float64 `yaml:"match_threshold" mapstructure:"match_threshold"`
}

// FusionConfig configures the fusion engine.
type FusionConfig struct {
	ConfidenceThreshold   float64 `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
	CoordinateDeltaMeters float64 `yaml:"coordinate_delta_meters" mapstructure:"coordinate_delta_meters"`
}

// QualityConfig configures the quality scorer.
type QualityConfig struct {
	FreshDays           int     `yaml:"fresh_days" mapstructure:"fresh_days"`
	StaleDays           int     `yaml:"stale_days" mapstructure:"stale_days"`
	MinOverall          float64 `yaml:"min_overall" mapstructure:"min_overall"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
}

// MonitoringConfig configures run alerting.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	MinAvgQuality        float64 `yaml:"min_avg_quality" mapstructure:"min_avg_quality"`
	DLQThreshold         int     `yaml:"dlq_threshold" mapstructure:"dlq_threshold"`
	TrendMinErrors       int     `yaml:"trend_min_errors" mapstructure:"trend_min_errors"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	AlertCooldownMins    int     `yaml:"alert_cooldown_mins" mapstructure:"alert_cooldown_mins"`
}

// ServerConfig configures the HTTP control surface.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("VENUE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.sqlite_path", "data/venues.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("data.dir", "data")
	v.SetDefault("data.source", "venue-fusion")
	v.SetDefault("data.version", "1.0.0")
	v.SetDefault("data.incremental_stale_days", 3)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)

	// Connector keys have empty defaults so that VENUE_<NAME>_KEY is picked
	// up by Unmarshal.
	for _, name := range []string{"public_data", "google", "kakao", "naver", "jina"} {
		v.SetDefault(name+".enabled", true)
		v.SetDefault(name+".key", "")
		v.SetDefault(name+".secret", "")
		v.SetDefault(name+".base_url", "")
		v.SetDefault(name+".trust", 0)
		v.SetDefault(name+".per_minute", 0)
		v.SetDefault(name+".per_day", 0)
	}
	v.SetDefault("public_data.rate_per_sec", 5)
	v.SetDefault("google.rate_per_sec", 10)
	v.SetDefault("kakao.rate_per_sec", 10)
	v.SetDefault("naver.rate_per_sec", 5)
	v.SetDefault("jina.rate_per_sec", 2)

	v.SetDefault("fetch.max_rate_limit_waits", 3)
	v.SetDefault("fetch.max_limiter_waits", 2)
	v.SetDefault("fetch.max_delay_secs", 60)
	v.SetDefault("fetch.http_timeout_secs", 30)
	v.SetDefault("fetch.breaker_threshold", 5)
	v.SetDefault("fetch.breaker_reset_secs", 30)
	v.SetDefault("fetch.history_size", 1000)

	v.SetDefault("query.keyword", "헬스장")
	v.SetDefault("query.max_queries", 8)
	v.SetDefault("query.synonyms_file", "")

	v.SetDefault("pipeline.max_queries_per_connector", 3)
	v.SetDefault("pipeline.match_threshold", 0.8)

	v.SetDefault("fusion.confidence_threshold", 0.6)
	v.SetDefault("fusion.coordinate_delta_meters", 100)

	v.SetDefault("quality.fresh_days", 7)
	v.SetDefault("quality.stale_days", 30)
	v.SetDefault("quality.min_overall", 0.5)
	v.SetDefault("quality.confidence_threshold", 0.6)

	b := batch.DefaultConfig()
	v.SetDefault("batch.batch_size", b.BatchSize)
	v.SetDefault("batch.concurrency", b.Concurrency)
	v.SetDefault("batch.delay_between_batches", b.DelayBetweenBatches)
	v.SetDefault("batch.retry_delay", b.RetryDelay)
	v.SetDefault("batch.max_retries", b.MaxRetries)
	v.SetDefault("batch.timeout", b.Timeout)

	s := scheduler.DefaultConfig()
	v.SetDefault("scheduler.enabled", s.Enabled)
	v.SetDefault("scheduler.hour", s.Hour)
	v.SetDefault("scheduler.minute", s.Minute)
	v.SetDefault("scheduler.interval_days", s.IntervalDays)
	v.SetDefault("scheduler.update_type", string(s.UpdateType))
	v.SetDefault("scheduler.freshness_days", s.FreshnessDays)
	v.SetDefault("scheduler.overdue_days", s.OverdueDays)
	v.SetDefault("scheduler.fresh_ratio", s.FreshRatio)

	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.failure_rate_threshold", 0.2)
	v.SetDefault("monitoring.min_avg_quality", 0.5)
	v.SetDefault("monitoring.dlq_threshold", 100)
	v.SetDefault("monitoring.trend_min_errors", 10)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.alert_cooldown_mins", 60)
}

// Validation modes.
const (
	ModeStore    = "store"
	ModeRun      = "run"
	ModeSchedule = "schedule"
	ModeServe    = "serve"
)

// Validate checks that the fields required by mode are set and in range.
// Every problem is reported, not only the first.
func (c *Config) Validate(mode string) error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	switch mode {
	case ModeStore, ModeRun, ModeSchedule, ModeServe:
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			add("store.database_url is required for the postgres driver")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			add("store.sqlite_path is required for the sqlite driver")
		}
	default:
		add("store.driver must be postgres or sqlite, got %q", c.Store.Driver)
	}

	if mode != ModeStore {
		if c.Data.Dir == "" {
			add("data.dir is required")
		}
		if err := c.Batch.Validate(); err != nil {
			add("%v", err)
		}
		for name, f := range map[string]float64{
			"pipeline.match_threshold":          c.Pipeline.MatchThreshold,
			"fusion.confidence_threshold":       c.Fusion.ConfidenceThreshold,
			"quality.min_overall":               c.Quality.MinOverall,
			"quality.confidence_threshold":      c.Quality.ConfidenceThreshold,
			"monitoring.failure_rate_threshold": c.Monitoring.FailureRateThreshold,
		} {
			if f < 0 || f > 1 {
				add("%s must be between 0 and 1, got %v", name, f)
			}
		}
		if c.Quality.StaleDays <= c.Quality.FreshDays {
			add("quality.stale_days (%d) must exceed quality.fresh_days (%d)", c.Quality.StaleDays, c.Quality.FreshDays)
		}
		if c.Naver.Active() && c.Naver.Secret == "" {
			add("naver.secret is required when naver.key is set")
		}
		if !c.PublicData.Active() && !c.Google.Active() && !c.Kakao.Active() && !c.Naver.Active() && !c.Jina.Active() {
			add("at least one connector key is required (VENUE_<NAME>_KEY)")
		}
	}

	if mode == ModeSchedule || mode == ModeServe {
		if err := c.Scheduler.Validate(); err != nil {
			add("%v", err)
		}
	}
	if mode == ModeServe && c.Server.Port <= 0 {
		add("server.port must be > 0")
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
