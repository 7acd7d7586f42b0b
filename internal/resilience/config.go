package resilience

import (
	"time"
)

// FromCircuitConfig converts config values to a CircuitBreakerConfig.
func FromCircuitConfig(failureThreshold, resetTimeoutSecs int) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if resetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(resetTimeoutSecs) * time.Second
	}
	return cfg
}

// FromHandlerConfig converts config values to a HandlerConfig.
func FromHandlerConfig(historySize, trendWindowMins int) HandlerConfig {
	cfg := HandlerConfig{HistorySize: DefaultHistorySize, TrendWindow: time.Hour}
	if historySize > 0 {
		cfg.HistorySize = historySize
	}
	if trendWindowMins > 0 {
		cfg.TrendWindow = time.Duration(trendWindowMins) * time.Minute
	}
	return cfg
}
