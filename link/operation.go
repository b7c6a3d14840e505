package link

import (
	"context"
	"fmt"
	"time"

	"github.com/arloliu/go-wearlink/codec"
	"github.com/arloliu/go-wearlink/internal/pool"
	"github.com/arloliu/go-wearlink/transport"
)

// OpKind identifies the variant of an Operation.
type OpKind uint8

// Operation kinds.
const (
	OpWrite OpKind = iota + 1
	OpCommand
	OpRead
	OpSubscribe
	OpWait
	OpSetState
)

// String returns the kind name.
func (k OpKind) String() string {
	switch k {
	case OpWrite:
		return "write"
	case OpCommand:
		return "command"
	case OpRead:
		return "read"
	case OpSubscribe:
		return "subscribe"
	case OpWait:
		return "wait"
	case OpSetState:
		return "set-state"
	default:
		return "unknown"
	}
}

// Operation is one step of a Transaction, executed by the link worker.
type Operation interface {
	// Kind returns the operation variant.
	Kind() OpKind
	// String describes the operation for logs.
	String() string

	// timeout returns how long the operation may take given the link's
	// operation timeout.
	timeout(base time.Duration) time.Duration
	execute(ctx context.Context, l *Link) error
}

type writeOp struct {
	target  string
	payload []byte
}

// Write sends raw bytes to target.
func Write(target string, payload []byte) Operation {
	return &writeOp{target: target, payload: append([]byte(nil), payload...)}
}

func (op *writeOp) Kind() OpKind { return OpWrite }

func (op *writeOp) String() string {
	return fmt.Sprintf("write(%s, %d bytes)", op.target, len(op.payload))
}

func (op *writeOp) timeout(base time.Duration) time.Duration { return base }

func (op *writeOp) execute(ctx context.Context, l *Link) error {
	return l.send(ctx, op.target, op.payload)
}

type commandOp struct {
	target string
	frame  *codec.Frame
}

// NewCommandWrite sends a command frame to target. The frame is encoded when
// the operation runs, so sequence counters follow execution order.
func NewCommandWrite(target string, cmd uint16, sub uint16, args []byte) Operation {
	return &commandOp{target: target, frame: codec.NewFrame(cmd, sub, args)}
}

// FrameWrite sends a prepared frame to target, encoded when the operation runs.
func FrameWrite(target string, f *codec.Frame) Operation {
	return &commandOp{target: target, frame: f}
}

func (op *commandOp) Kind() OpKind { return OpCommand }

func (op *commandOp) String() string {
	return fmt.Sprintf("command(%s, %s)", op.target, op.frame)
}

func (op *commandOp) timeout(base time.Duration) time.Duration { return base }

func (op *commandOp) execute(ctx context.Context, l *Link) error {
	raw, err := l.encoder.EncodeFrame(op.frame)
	if err != nil {
		return err
	}

	return l.send(ctx, op.target, raw)
}

// ReadHandler receives the value of a Read operation.
type ReadHandler func(value []byte)

type readOp struct {
	target  string
	handler ReadHandler
}

// Read reads target through a transport.Reader and passes the value to handler.
func Read(target string, handler ReadHandler) Operation {
	return &readOp{target: target, handler: handler}
}

func (op *readOp) Kind() OpKind { return OpRead }

func (op *readOp) String() string { return fmt.Sprintf("read(%s)", op.target) }

func (op *readOp) timeout(base time.Duration) time.Duration { return base }

func (op *readOp) execute(ctx context.Context, l *Link) error {
	r, ok := l.transport.(transport.Reader)
	if !ok {
		return fmt.Errorf("%w: read %s", ErrUnsupportedOperation, op.target)
	}

	value, err := r.Read(ctx, op.target)
	if err != nil {
		return err
	}

	if op.handler != nil {
		op.handler(value)
	}

	return nil
}

type subscribeOp struct {
	target  string
	enabled bool
}

// SetSubscription enables or disables inbound notifications of target.
// It succeeds without effect on transports that are not a transport.Subscriber.
func SetSubscription(target string, enabled bool) Operation {
	return &subscribeOp{target: target, enabled: enabled}
}

func (op *subscribeOp) Kind() OpKind { return OpSubscribe }

func (op *subscribeOp) String() string {
	return fmt.Sprintf("subscribe(%s, %t)", op.target, op.enabled)
}

func (op *subscribeOp) timeout(base time.Duration) time.Duration { return base }

func (op *subscribeOp) execute(ctx context.Context, l *Link) error {
	s, ok := l.transport.(transport.Subscriber)
	if !ok {
		return nil
	}

	return s.SetSubscription(ctx, op.target, op.enabled)
}

type waitOp struct {
	d time.Duration
}

// Wait pauses the Transaction for d.
func Wait(d time.Duration) Operation {
	return &waitOp{d: d}
}

func (op *waitOp) Kind() OpKind { return OpWait }

func (op *waitOp) String() string { return fmt.Sprintf("wait(%v)", op.d) }

func (op *waitOp) timeout(base time.Duration) time.Duration { return op.d + base }

func (op *waitOp) execute(ctx context.Context, _ *Link) error {
	return pool.Sleep(ctx, op.d)
}

type stateOp struct {
	target State
}

// SetLinkState moves the link state machine to target.
func SetLinkState(target State) Operation {
	return &stateOp{target: target}
}

func (op *stateOp) Kind() OpKind { return OpSetState }

func (op *stateOp) String() string { return fmt.Sprintf("set-state(%s)", op.target) }

func (op *stateOp) timeout(base time.Duration) time.Duration { return base }

func (op *stateOp) execute(ctx context.Context, l *Link) error {
	return l.state.Transition(ctx, op.target)
}
