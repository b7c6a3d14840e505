package dispatch

import (
	"errors"
	"time"

	"github.com/arloliu/go-wearlink/logger"
)

// DefaultAckTimeout bounds the wait for an open or close acknowledgement.
const DefaultAckTimeout = 5 * time.Second

type config struct {
	logger     logger.Logger
	ackTimeout time.Duration
}

func newConfig(opts []Option) (*config, error) {
	cfg := &config{logger: logger.GetLogger(), ackTimeout: DefaultAckTimeout}
	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Option configures a Registry.
type Option interface {
	apply(*config) error
}

type optFunc func(*config) error

func (f optFunc) apply(cfg *config) error { return f(cfg) }

// WithLogger sets the registry logger.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *config) error {
		if l == nil {
			return errors.New("dispatch: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}

// WithAckTimeout sets how long a handshake waits for the device
// acknowledgement before failing with ErrAckTimeout. 0 waits forever.
func WithAckTimeout(d time.Duration) Option {
	return optFunc(func(cfg *config) error {
		if d < 0 {
			return errors.New("dispatch: ack timeout must not be negative")
		}
		cfg.ackTimeout = d

		return nil
	})
}
