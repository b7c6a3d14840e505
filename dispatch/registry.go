package dispatch

import (
	"fmt"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-wearlink/codec"
	"github.com/arloliu/go-wearlink/logger"
)

// Processor consumes routed frames. Process is called from the dispatching
// goroutine and must not block for long.
type Processor interface {
	Process(f *codec.Frame)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(f *codec.Frame)

// Process implements Processor.
func (fn ProcessorFunc) Process(f *codec.Frame) { fn(f) }

// Sender transmits handshake frames to the device. SendFrame must not block;
// the link implements it by enqueueing a transaction.
//
// An error return means the frame was not accepted. When the frame is
// accepted but cannot be delivered later, onFail is called once with the
// cause.
type Sender interface {
	SendFrame(f *codec.Frame, onFail func(error)) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(f *codec.Frame, onFail func(error)) error

// SendFrame implements Sender.
func (fn SenderFunc) SendFrame(f *codec.Frame, onFail func(error)) error { return fn(f, onFail) }

// Service describes a multiplexed sub-stream.
type Service struct {
	ID        uint16
	Processor Processor
	// Inverted services encode "enabled" as 0 in the open request and
	// "disabled" as 1 in the close request, as some firmware expects.
	Inverted bool
}

// enableByte returns the enable byte sent for the service.
func (s Service) enableByte(enabled bool) byte {
	if enabled != s.Inverted {
		return 1
	}

	return 0
}

type serviceState int

const (
	stateClosed serviceState = iota
	stateOpening
	stateOpen
	stateClosing
)

func (s serviceState) String() string {
	switch s {
	case stateClosed:
		return "closed"
	case stateOpening:
		return "opening"
	case stateOpen:
		return "open"
	case stateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// registration is the handle registry entry of one service. Guarded by Registry.mu.
type registration struct {
	service  Service
	state    serviceState
	handle   uint16
	open     *Pending
	closeReq *Pending
	ackTimer *time.Timer
}

func (reg *registration) stopAckTimer() {
	if reg.ackTimer != nil {
		reg.ackTimer.Stop()
		reg.ackTimer = nil
	}
}

// Registry is the route table and handle registry of one link session.
//
// All methods are safe for concurrent use.
type Registry struct {
	streams    *codec.SubStreams
	sender     Sender
	logger     logger.Logger
	ackTimeout time.Duration

	routes   *xsync.MapOf[uint16, Processor]
	services *xsync.MapOf[uint16, *registration]
	handles  *xsync.MapOf[uint16, *registration]

	// mu serializes handshake state changes.
	mu sync.Mutex
}

// NewRegistry creates a Registry. streams may be nil for families without
// sub-streams; sender may be nil when no service is ever opened.
func NewRegistry(streams *codec.SubStreams, sender Sender, opts ...Option) (*Registry, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}

	return &Registry{
		streams:    streams,
		sender:     sender,
		logger:     cfg.logger.With("component", "dispatch"),
		ackTimeout: cfg.ackTimeout,
		routes:     xsync.NewMapOf[uint16, Processor](),
		services:   xsync.NewMapOf[uint16, *registration](),
		handles:    xsync.NewMapOf[uint16, *registration](),
	}, nil
}

// Route maps command code cmd to p. A nil p removes the route.
func (r *Registry) Route(cmd uint16, p Processor) {
	if p == nil {
		r.routes.Delete(cmd)
		return
	}

	r.routes.Store(cmd, p)
}

// RegisterService adds a sub-stream service in the closed state.
func (r *Registry) RegisterService(svc Service) error {
	if svc.Processor == nil {
		return fmt.Errorf("dispatch: service %d has no processor", svc.ID)
	}

	if _, loaded := r.services.LoadOrStore(svc.ID, &registration{service: svc}); loaded {
		return fmt.Errorf("%w: %d", ErrDuplicateService, svc.ID)
	}

	return nil
}

// Open starts the open handshake of serviceID.
//
// Opening an open or opening service returns its existing Pending and sends
// nothing. The Pending fails and the service is closed again when the
// request cannot be written or the device does not answer within the ack
// timeout.
func (r *Registry) Open(serviceID uint16) (*Pending, error) {
	if r.streams == nil || r.sender == nil {
		return nil, ErrNoSubStreams
	}

	reg, ok := r.services.Load(serviceID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownService, serviceID)
	}

	r.mu.Lock()
	switch reg.state {
	case stateOpen, stateOpening:
		p := reg.open
		r.mu.Unlock()

		return p, nil
	case stateClosing:
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: service %d is closing", ErrHandshakeInProgress, serviceID)
	}

	p := newPending()
	reg.state = stateOpening
	reg.open = p
	r.armAckTimer(reg, p)
	r.mu.Unlock()

	frame := r.streams.OpenRequest(serviceID, reg.service.enableByte(true))
	if err := r.sender.SendFrame(frame, r.writeFailed(reg, p)); err != nil {
		r.failHandshake(reg, p, err)
		return nil, err
	}

	r.logger.Debug("dispatch: open requested", "service", serviceID)

	return p, nil
}

// Close starts the close handshake of serviceID. Closing a closed service is
// a no-op and returns a resolved Pending. A failed close leaves the service
// open.
func (r *Registry) Close(serviceID uint16) (*Pending, error) {
	reg, ok := r.services.Load(serviceID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownService, serviceID)
	}

	r.mu.Lock()
	switch reg.state {
	case stateClosed:
		r.mu.Unlock()
		return resolvedPending(0, nil), nil
	case stateClosing:
		p := reg.closeReq
		r.mu.Unlock()

		return p, nil
	case stateOpening:
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: service %d is opening", ErrHandshakeInProgress, serviceID)
	}

	if r.streams == nil || r.sender == nil {
		r.mu.Unlock()
		return nil, ErrNoSubStreams
	}

	p := newPending()
	reg.state = stateClosing
	reg.closeReq = p
	r.armAckTimer(reg, p)
	r.mu.Unlock()

	frame := r.streams.CloseRequest(serviceID, reg.service.enableByte(false))
	if err := r.sender.SendFrame(frame, r.writeFailed(reg, p)); err != nil {
		r.failHandshake(reg, p, err)
		return nil, err
	}

	r.logger.Debug("dispatch: close requested", "service", serviceID)

	return p, nil
}

// Acknowledge records the handle assigned to an opening service and
// resolves its Pending.
func (r *Registry) Acknowledge(serviceID uint16, handle uint16) error {
	reg, ok := r.services.Load(serviceID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownService, serviceID)
	}

	r.mu.Lock()
	if reg.state == stateOpen && reg.handle == handle {
		r.mu.Unlock()
		return nil
	}
	if reg.state != stateOpening {
		state := reg.state
		r.mu.Unlock()

		return fmt.Errorf("%w: open ack for service %d in state %s", ErrUnexpectedAck, serviceID, state)
	}

	reg.stopAckTimer()
	reg.state = stateOpen
	reg.handle = handle
	r.handles.Store(handle, reg)
	p := reg.open
	r.mu.Unlock()

	p.resolve(handle, nil)
	r.logger.Debug("dispatch: service opened", "service", serviceID, "handle", handle)

	return nil
}

// AcknowledgeClose finishes the close handshake of serviceID.
func (r *Registry) AcknowledgeClose(serviceID uint16) error {
	reg, ok := r.services.Load(serviceID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownService, serviceID)
	}

	r.mu.Lock()
	if reg.state != stateClosing {
		state := reg.state
		r.mu.Unlock()

		return fmt.Errorf("%w: close ack for service %d in state %s", ErrUnexpectedAck, serviceID, state)
	}

	r.handles.Compute(reg.handle, func(cur *registration, loaded bool) (*registration, bool) {
		return cur, !loaded || cur == reg
	})
	reg.stopAckTimer()
	handle := reg.handle
	reg.state = stateClosed
	reg.handle = 0
	reg.open = nil
	p := reg.closeReq
	reg.closeReq = nil
	r.mu.Unlock()

	p.resolve(handle, nil)
	r.logger.Debug("dispatch: service closed", "service", serviceID, "handle", handle)

	return nil
}

// reject fails the pending handshake of serviceID.
func (r *Registry) reject(serviceID uint16, open bool) error {
	reg, ok := r.services.Load(serviceID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownService, serviceID)
	}

	r.mu.Lock()
	var (
		p   *Pending
		err error
	)
	switch {
	case open && reg.state == stateOpening:
		p, err = reg.open, ErrOpenRejected
		reg.state = stateClosed
		reg.open = nil
	case !open && reg.state == stateClosing:
		p, err = reg.closeReq, ErrCloseRejected
		reg.state = stateOpen
		reg.closeReq = nil
	default:
		state := reg.state
		r.mu.Unlock()

		return fmt.Errorf("%w: rejection for service %d in state %s", ErrUnexpectedAck, serviceID, state)
	}
	reg.stopAckTimer()
	r.mu.Unlock()

	r.logger.Warn("dispatch: handshake rejected", "service", serviceID, "open", open)
	p.resolve(0, fmt.Errorf("%w: service %d", err, serviceID))

	return nil
}

// armAckTimer fails handshake p when no acknowledgement arrives in time.
// Called with r.mu held.
func (r *Registry) armAckTimer(reg *registration, p *Pending) {
	reg.stopAckTimer()
	if r.ackTimeout <= 0 {
		return
	}

	id := reg.service.ID
	reg.ackTimer = time.AfterFunc(r.ackTimeout, func() {
		if r.failHandshake(reg, p, fmt.Errorf("%w: service %d after %v", ErrAckTimeout, id, r.ackTimeout)) {
			r.logger.Warn("dispatch: handshake not acknowledged", "service", id, "timeout", r.ackTimeout)
		}
	})
}

// writeFailed returns the Sender callback failing handshake p.
func (r *Registry) writeFailed(reg *registration, p *Pending) func(error) {
	return func(err error) {
		if r.failHandshake(reg, p, err) {
			r.logger.Warn("dispatch: handshake request not written", "service", reg.service.ID, "error", err)
		}
	}
}

// failHandshake rolls reg back to its state before handshake p and fails p
// with err. It reports false when p is no longer the pending handshake.
func (r *Registry) failHandshake(reg *registration, p *Pending, err error) bool {
	r.mu.Lock()
	switch {
	case reg.state == stateOpening && reg.open == p:
		reg.state = stateClosed
		reg.open = nil
	case reg.state == stateClosing && reg.closeReq == p:
		reg.state = stateOpen
		reg.closeReq = nil
	default:
		r.mu.Unlock()
		return false
	}
	reg.stopAckTimer()
	r.mu.Unlock()

	p.resolve(0, err)

	return true
}

// HandleAck applies a decoded open or close acknowledgement.
func (r *Registry) HandleAck(ack codec.StreamAck) error {
	switch {
	case ack.Open && ack.Accepted:
		return r.Acknowledge(ack.ServiceID, ack.Handle)
	case !ack.Open && ack.Accepted:
		return r.AcknowledgeClose(ack.ServiceID)
	default:
		return r.reject(ack.ServiceID, ack.Open)
	}
}

// Dispatch routes f. Acknowledgements update the handle registry,
// sub-stream frames go to their service processor and the rest is routed by
// command code. Unknown codes are logged and reported as ErrUnknownCommand.
func (r *Registry) Dispatch(f *codec.Frame) error {
	if r.streams != nil {
		ack, ok, err := r.streams.ParseAck(f)
		if ok {
			if err == nil {
				err = r.HandleAck(ack)
			}
			if err != nil {
				r.logger.Warn("dispatch: bad stream acknowledgement", "command", f.Command(), "error", err)
			}

			return err
		}

		if handle, tagged := r.streams.Handle(f); tagged {
			reg, found := r.handles.Load(handle)
			if !found {
				r.logger.Warn("dispatch: frame for unknown handle ignored", "handle", handle)
				return fmt.Errorf("%w: handle %d", ErrUnknownCommand, handle)
			}
			reg.service.Processor.Process(f)

			return nil
		}
	}

	p, ok := r.routes.Load(f.Command())
	if !ok {
		r.logger.Warn("dispatch: unknown command ignored", "command", f.Command(), "sub", f.SubCommand())
		return fmt.Errorf("%w: 0x%X/0x%X", ErrUnknownCommand, f.Command(), f.SubCommand())
	}
	p.Process(f)

	return nil
}

// Handle returns the handle of an open service.
func (r *Registry) Handle(serviceID uint16) (uint16, bool) {
	reg, ok := r.services.Load(serviceID)
	if !ok {
		return 0, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return reg.handle, reg.state == stateOpen
}

// IsOpen reports whether serviceID is open.
func (r *Registry) IsOpen(serviceID uint16) bool {
	_, open := r.Handle(serviceID)
	return open
}

// Reset invalidates every handle. Pending opens fail with ErrHandleReset,
// pending closes complete. Services must be opened again.
func (r *Registry) Reset() {
	type result struct {
		p   *Pending
		err error
	}
	var results []result

	r.mu.Lock()
	r.services.Range(func(_ uint16, reg *registration) bool {
		switch reg.state {
		case stateOpening:
			results = append(results, result{reg.open, ErrHandleReset})
		case stateClosing:
			results = append(results, result{reg.closeReq, nil})
		}
		reg.stopAckTimer()
		reg.state = stateClosed
		reg.handle = 0
		reg.open = nil
		reg.closeReq = nil

		return true
	})
	r.handles.Clear()
	r.mu.Unlock()

	for _, res := range results {
		res.p.resolve(0, res.err)
	}

	if len(results) > 0 {
		r.logger.Debug("dispatch: handles reset", "pending", len(results))
	}
}
