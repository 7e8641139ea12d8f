package worker

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultPollInterval   = 10 * time.Second
	defaultErrorBackoff   = time.Second
	defaultMaxAttempts    = 5
	defaultTaskTimeout    = 30 * time.Second
	defaultSampleInterval = 15 * time.Second
)

// Config controls polling and the retry policy of a Worker.
type Config struct {
	// PollInterval is the idle wait after an empty poll.
	PollInterval time.Duration
	// ErrorBackoff is the wait after a failed iteration.
	ErrorBackoff time.Duration
	// MaxAttempts is the number of failed sends after which a task is
	// dropped. Values below 1 mean 1.
	MaxAttempts int
	// TaskTimeout bounds one iteration, including the send.
	TaskTimeout time.Duration
	// SampleInterval is how often the queue depth gauge is refreshed.
	SampleInterval time.Duration
	Logger         zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = defaultErrorBackoff
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = defaultTaskTimeout
	}
	if c.SampleInterval <= 0 {
		c.SampleInterval = defaultSampleInterval
	}
	return c
}

// Option configures a Worker.
type Option func(*Config)

// WithPollInterval sets the delay between empty polls.
func WithPollInterval(d time.Duration) Option {
	return func(c *Config) { c.PollInterval = d }
}

// WithErrorBackoff sets the delay after a failed iteration.
func WithErrorBackoff(d time.Duration) Option {
	return func(c *Config) { c.ErrorBackoff = d }
}

// WithMaxAttempts sets how many failed sends a task survives.
func WithMaxAttempts(n int) Option {
	return func(c *Config) { c.MaxAttempts = n }
}

// WithTaskTimeout bounds a single iteration.
func WithTaskTimeout(d time.Duration) Option {
	return func(c *Config) { c.TaskTimeout = d }
}

// WithSampleInterval sets how often queue depth is sampled.
func WithSampleInterval(d time.Duration) Option {
	return func(c *Config) { c.SampleInterval = d }
}

// WithLogger sets the worker logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

func defaultLogger() zerolog.Logger {
	return log.Logger.With().Str("component", "delivery_worker").Logger()
}
