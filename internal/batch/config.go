// Package batch drives the per-entity pipeline over large entity lists in
// sequential chunks of bounded-concurrency sub-groups.
package batch

import (
	"time"

	"github.com/rotisserie/eris"
)

// Config holds run parameters. Merged onto DefaultConfig, a zero field keeps
// the default. DelayBetweenBatches, RetryDelay and MaxRetries accept a
// negative value to request an explicit zero; BatchSize, Concurrency and
// Timeout have no zero setting.
type Config struct {
	BatchSize           int           `mapstructure:"batch_size" json:"batch_size"`
	Concurrency         int           `mapstructure:"concurrency" json:"concurrency"`
	DelayBetweenBatches time.Duration `mapstructure:"delay_between_batches" json:"delay_between_batches"`
	RetryDelay          time.Duration `mapstructure:"retry_delay" json:"retry_delay"`
	MaxRetries          int           `mapstructure:"max_retries" json:"max_retries"`
	Timeout             time.Duration `mapstructure:"timeout" json:"timeout"`
}

// DefaultConfig returns the default run parameters.
func DefaultConfig() Config {
	return Config{
		BatchSize:           10,
		Concurrency:         3,
		DelayBetweenBatches: 2 * time.Second,
		RetryDelay:          500 * time.Millisecond,
		MaxRetries:          3,
		Timeout:             30 * time.Second,
	}
}

// Merge returns c with every non-zero field of o applied on top. A negative
// DelayBetweenBatches, RetryDelay or MaxRetries in o sets that field to zero.
func (c Config) Merge(o Config) Config {
	if o.BatchSize != 0 {
		c.BatchSize = o.BatchSize
	}
	if o.Concurrency != 0 {
		c.Concurrency = o.Concurrency
	}
	c.DelayBetweenBatches = mergeDuration(c.DelayBetweenBatches, o.DelayBetweenBatches)
	c.RetryDelay = mergeDuration(c.RetryDelay, o.RetryDelay)
	switch {
	case o.MaxRetries < 0:
		c.MaxRetries = 0
	case o.MaxRetries > 0:
		c.MaxRetries = o.MaxRetries
	}
	if o.Timeout != 0 {
		c.Timeout = o.Timeout
	}
	return c
}

func mergeDuration(base, o time.Duration) time.Duration {
	switch {
	case o < 0:
		return 0
	case o > 0:
		return o
	}
	return base
}

// Validate checks that the config can drive a run.
func (c Config) Validate() error {
	switch {
	case c.BatchSize <= 0:
		return eris.Errorf("batch: batch_size must be positive, got %d", c.BatchSize)
	case c.Concurrency <= 0:
		return eris.Errorf("batch: concurrency must be positive, got %d", c.Concurrency)
	case c.DelayBetweenBatches < 0 || c.RetryDelay < 0:
		return eris.New("batch: delays must not be negative")
	case c.MaxRetries < 0:
		return eris.Errorf("batch: max_retries must not be negative, got %d", c.MaxRetries)
	case c.Timeout < 0:
		return eris.New("batch: timeout must not be negative")
	}
	return nil
}
