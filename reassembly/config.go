package reassembly

import (
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-wearlink/logger"
)

// Default values.
const (
	DefaultFragmentTimeout = 5 * time.Second
	DefaultRequestTimeout  = 30 * time.Second
	DefaultMaxTransferSize = 4 << 20
)

// Range limits.
const (
	MinFragmentTimeout = 10 * time.Millisecond
	MaxFragmentTimeout = 5 * time.Minute

	MinTransferSize = 64
)

// Config holds the settings shared by Buffer and Fetcher.
type Config struct {
	fragmentTimeout time.Duration
	requestTimeout  time.Duration
	maxTransferSize int
	logger          logger.Logger
}

func newConfig(opts []Option) (*Config, error) {
	cfg := &Config{
		fragmentTimeout: DefaultFragmentTimeout,
		requestTimeout:  DefaultRequestTimeout,
		maxTransferSize: DefaultMaxTransferSize,
		logger:          logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// FragmentTimeout returns the inter-fragment timeout.
func (cfg *Config) FragmentTimeout() time.Duration { return cfg.fragmentTimeout }

// RequestTimeout returns how long a requested transfer may take to start. 0 disables it.
func (cfg *Config) RequestTimeout() time.Duration { return cfg.requestTimeout }

// MaxTransferSize returns the largest accepted transfer in bytes.
func (cfg *Config) MaxTransferSize() int { return cfg.maxTransferSize }

// GetLogger returns the configured logger.
func (cfg *Config) GetLogger() logger.Logger { return cfg.logger }

// Option configures a Buffer or a Fetcher.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithFragmentTimeout sets how long a Buffer waits for the next fragment.
func WithFragmentTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < MinFragmentTimeout || d > MaxFragmentTimeout {
			return fmt.Errorf("reassembly: fragment timeout %v out of range [%v, %v]",
				d, MinFragmentTimeout, MaxFragmentTimeout)
		}
		cfg.fragmentTimeout = d

		return nil
	})
}

// WithRequestTimeout sets how long a Fetcher waits for a requested transfer
// to start. 0 disables the timeout.
func WithRequestTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < 0 {
			return errors.New("reassembly: request timeout must not be negative")
		}
		cfg.requestTimeout = d

		return nil
	})
}

// WithMaxTransferSize bounds the size of one reassembled transfer.
func WithMaxTransferSize(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < MinTransferSize {
			return fmt.Errorf("reassembly: max transfer size %d below %d", n, MinTransferSize)
		}
		cfg.maxTransferSize = n

		return nil
	})
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("reassembly: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
