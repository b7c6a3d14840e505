package link

import (
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-wearlink/dispatch"
	"github.com/arloliu/go-wearlink/logger"
	"github.com/arloliu/go-wearlink/reassembly"
	"github.com/arloliu/go-wearlink/trace"
)

// Default values.
const (
	DefaultOperationTimeout = 5 * time.Second
	DefaultFragmentTimeout  = reassembly.DefaultFragmentTimeout
	DefaultRequestTimeout   = reassembly.DefaultRequestTimeout
	DefaultInboundQueueSize = 64
	DefaultCloseTimeout     = 3 * time.Second
	DefaultAckTimeout       = dispatch.DefaultAckTimeout
)

// Range limits.
const (
	MinOperationTimeout = 10 * time.Millisecond
	MaxOperationTimeout = 5 * time.Minute

	MinMTU = 20
	MaxMTU = 65535

	MinInboundQueueSize = 1
	MaxInboundQueueSize = 4096
)

// TransferRequestFunc builds the Transaction asking the device to send item.
type TransferRequestFunc func(item reassembly.Item) (*Transaction, error)

// InitFunc builds the Transaction run when the transport becomes ready.
// Returning nil skips initialization.
type InitFunc func() *Transaction

// LinkConfig holds the configuration of a Link.
type LinkConfig struct {
	opTimeout        time.Duration
	fragmentTimeout  time.Duration
	requestTimeout   time.Duration
	mtu              int
	inboundQueueSize int
	closeTimeout     time.Duration
	ackTimeout       time.Duration

	sink            Sink
	recorder        trace.Recorder
	transferRequest TransferRequestFunc
	initTx          InitFunc

	logger logger.Logger
}

// NewLinkConfig creates a LinkConfig with defaults and applies opts in order.
func NewLinkConfig(opts ...LinkOption) (*LinkConfig, error) {
	cfg := &LinkConfig{
		opTimeout:        DefaultOperationTimeout,
		fragmentTimeout:  DefaultFragmentTimeout,
		requestTimeout:   DefaultRequestTimeout,
		inboundQueueSize: DefaultInboundQueueSize,
		closeTimeout:     DefaultCloseTimeout,
		ackTimeout:       DefaultAckTimeout,
		logger:           logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// --- Getters ---

// OperationTimeout returns the per-operation timeout.
func (cfg *LinkConfig) OperationTimeout() time.Duration { return cfg.opTimeout }

// FragmentTimeout returns the inter-fragment timeout of the reassembly buffer.
func (cfg *LinkConfig) FragmentTimeout() time.Duration { return cfg.fragmentTimeout }

// RequestTimeout returns how long a requested transfer may take to start.
func (cfg *LinkConfig) RequestTimeout() time.Duration { return cfg.requestTimeout }

// MTU returns the configured MTU, 0 meaning the protocol default.
func (cfg *LinkConfig) MTU() int { return cfg.mtu }

// InboundQueueSize returns the capacity of the decoded frame channel.
func (cfg *LinkConfig) InboundQueueSize() int { return cfg.inboundQueueSize }

// CloseTimeout returns how long Close waits for the link tasks.
func (cfg *LinkConfig) CloseTimeout() time.Duration { return cfg.closeTimeout }

// AckTimeout returns how long a sub-stream handshake waits for the device
// acknowledgement, 0 meaning forever.
func (cfg *LinkConfig) AckTimeout() time.Duration { return cfg.ackTimeout }

// GetLogger returns the configured logger.
func (cfg *LinkConfig) GetLogger() logger.Logger { return cfg.logger }

// --- LinkOption ---

// LinkOption is a functional option for configuring a Link.
type LinkOption interface {
	apply(*LinkConfig) error
}

type linkOptFunc func(*LinkConfig) error

func (f linkOptFunc) apply(cfg *LinkConfig) error { return f(cfg) }

// WithOperationTimeout bounds every Operation. A Wait Operation is bounded
// by its own duration plus this timeout.
func WithOperationTimeout(d time.Duration) LinkOption {
	return linkOptFunc(func(cfg *LinkConfig) error {
		if d < MinOperationTimeout || d > MaxOperationTimeout {
			return fmt.Errorf("link: operation timeout %v out of range [%v, %v]", d, MinOperationTimeout, MaxOperationTimeout)
		}
		cfg.opTimeout = d

		return nil
	})
}

// WithFragmentTimeout sets the inter-fragment timeout of the reassembly buffer.
func WithFragmentTimeout(d time.Duration) LinkOption {
	return linkOptFunc(func(cfg *LinkConfig) error {
		if d < reassembly.MinFragmentTimeout || d > reassembly.MaxFragmentTimeout {
			return fmt.Errorf("link: fragment timeout %v out of range [%v, %v]",
				d, reassembly.MinFragmentTimeout, reassembly.MaxFragmentTimeout)
		}
		cfg.fragmentTimeout = d

		return nil
	})
}

// WithRequestTimeout sets how long a requested transfer may take to start. 0 disables it.
func WithRequestTimeout(d time.Duration) LinkOption {
	return linkOptFunc(func(cfg *LinkConfig) error {
		if d < 0 {
			return errors.New("link: request timeout must not be negative")
		}
		cfg.requestTimeout = d

		return nil
	})
}

// WithMTU overrides the protocol's default MTU, e.g. after negotiation.
func WithMTU(mtu int) LinkOption {
	return linkOptFunc(func(cfg *LinkConfig) error {
		if mtu < MinMTU || mtu > MaxMTU {
			return fmt.Errorf("link: mtu %d out of range [%d, %d]", mtu, MinMTU, MaxMTU)
		}
		cfg.mtu = mtu

		return nil
	})
}

// WithInboundQueueSize sets the capacity of the decoded frame channel.
func WithInboundQueueSize(size int) LinkOption {
	return linkOptFunc(func(cfg *LinkConfig) error {
		if size < MinInboundQueueSize || size > MaxInboundQueueSize {
			return fmt.Errorf("link: inbound queue size %d out of range [%d, %d]",
				size, MinInboundQueueSize, MaxInboundQueueSize)
		}
		cfg.inboundQueueSize = size

		return nil
	})
}

// WithCloseTimeout sets how long Close waits for the link tasks to stop.
func WithCloseTimeout(d time.Duration) LinkOption {
	return linkOptFunc(func(cfg *LinkConfig) error {
		if d <= 0 {
			return errors.New("link: close timeout must be positive")
		}
		cfg.closeTimeout = d

		return nil
	})
}

// WithAckTimeout sets how long OpenService and CloseService wait for the
// device acknowledgement. 0 waits forever.
func WithAckTimeout(d time.Duration) LinkOption {
	return linkOptFunc(func(cfg *LinkConfig) error {
		if d < 0 {
			return errors.New("link: ack timeout must not be negative")
		}
		cfg.ackTimeout = d

		return nil
	})
}

// WithSink sets the receiver of link events.
func WithSink(s Sink) LinkOption {
	return linkOptFunc(func(cfg *LinkConfig) error {
		cfg.sink = s
		return nil
	})
}

// WithTraceRecorder records every frame sent, received or dropped.
func WithTraceRecorder(r trace.Recorder) LinkOption {
	return linkOptFunc(func(cfg *LinkConfig) error {
		cfg.recorder = r
		return nil
	})
}

// WithTransferRequest sets how the link asks the device for a queued transfer.
func WithTransferRequest(fn TransferRequestFunc) LinkOption {
	return linkOptFunc(func(cfg *LinkConfig) error {
		cfg.transferRequest = fn
		return nil
	})
}

// WithInitTransaction sets the Transaction run after the transport opens.
// The link becomes Initialized when it succeeds and Failed otherwise.
func WithInitTransaction(fn InitFunc) LinkOption {
	return linkOptFunc(func(cfg *LinkConfig) error {
		cfg.initTx = fn
		return nil
	})
}

// WithLogger sets the logger for the link.
func WithLogger(l logger.Logger) LinkOption {
	return linkOptFunc(func(cfg *LinkConfig) error {
		if l == nil {
			return errors.New("link: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
