package settlement

import (
	"time"
)

// Config controls settlement intervals and batch sizes.
type Config struct {
	RunInterval  time.Duration
	BatchSize    int
	LeaseTimeout time.Duration
	JobTimeout   time.Duration
	Currency     string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:  time.Minute,
		BatchSize:    50,
		LeaseTimeout: 15 * time.Minute,
		JobTimeout:   30 * time.Second,
		Currency:     "USD",
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.LeaseTimeout <= 0 {
		c.LeaseTimeout = defaults.LeaseTimeout
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.Currency == "" {
		c.Currency = defaults.Currency
	}
	return c
}
