package transport

import (
	"errors"
	"fmt"

	"github.com/arloliu/go-wearlink/logger"
)

// Default values.
const (
	DefaultReadBufferSize = 1024
	MinReadBufferSize     = 16
)

type config struct {
	readBufSize int
	logger      logger.Logger
}

func newConfig(opts []Option) (*config, error) {
	cfg := &config{
		readBufSize: DefaultReadBufferSize,
		logger:      logger.GetLogger(),
	}
	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Option configures a transport.
type Option interface {
	apply(*config) error
}

type optFunc func(*config) error

func (f optFunc) apply(cfg *config) error { return f(cfg) }

// WithReadBufferSize sets the size of the read buffer.
func WithReadBufferSize(n int) Option {
	return optFunc(func(cfg *config) error {
		if n < MinReadBufferSize {
			return fmt.Errorf("transport: read buffer size %d below %d", n, MinReadBufferSize)
		}
		cfg.readBufSize = n

		return nil
	})
}

// WithLogger sets the transport logger.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *config) error {
		if l == nil {
			return errors.New("transport: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
