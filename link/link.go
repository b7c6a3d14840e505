package link

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-wearlink/codec"
	"github.com/arloliu/go-wearlink/dispatch"
	"github.com/arloliu/go-wearlink/internal/queue"
	"github.com/arloliu/go-wearlink/logger"
	"github.com/arloliu/go-wearlink/reassembly"
	"github.com/arloliu/go-wearlink/trace"
	"github.com/arloliu/go-wearlink/transport"
)

// Link is one device-link session: a Protocol composed with a Transport.
type Link struct {
	id        string
	cfg       *LinkConfig
	logger    logger.Logger
	proto     *codec.Protocol
	encoder   *codec.Encoder
	transport transport.Transport
	mtu       int

	state    *StateMachine
	registry *dispatch.Registry
	reasm    *reassembly.Buffer
	fetcher  *reassembly.Fetcher

	recvMu  sync.Mutex
	decoder *codec.StreamDecoder
	inbound chan *codec.Frame

	txQueue queue.Queue[*Transaction]
	notify  chan struct{}
	taskMgr *TaskManager

	runMu     sync.Mutex
	running   *Transaction
	runCancel context.CancelCauseFunc

	metrics LinkMetrics
	closed  atomic.Bool
}

// New creates a Link for proto over tr and starts its worker and
// dispatcher tasks. The link starts Disconnected; call Connect to open it.
// The tasks stop when ctx is cancelled or the link is closed.
func New(ctx context.Context, proto *codec.Protocol, tr transport.Transport, opts ...LinkOption) (*Link, error) {
	if proto == nil {
		return nil, errors.New("link: protocol is nil")
	}
	if tr == nil {
		return nil, errors.New("link: transport is nil")
	}
	if err := proto.Validate(); err != nil {
		return nil, err
	}

	cfg, err := NewLinkConfig(opts...)
	if err != nil {
		return nil, err
	}

	id := trace.NewLinkID()
	l := &Link{
		id:        id,
		cfg:       cfg,
		logger:    cfg.logger.With("link", id, "family", proto.Family),
		proto:     proto,
		encoder:   codec.NewEncoder(proto),
		transport: tr,
		mtu:       cfg.mtu,
		decoder:   codec.NewStreamDecoder(proto, 0),
		inbound:   make(chan *codec.Frame, cfg.inboundQueueSize),
		txQueue:   queue.NewLockFreeQueue[*Transaction](),
		notify:    make(chan struct{}, 1),
	}
	if l.mtu == 0 {
		l.mtu = proto.EffectiveMTU()
	}

	l.state = NewStateMachine(l.logger, l.onStateChange)
	l.taskMgr = NewTaskManager(ctx, l.logger)

	l.registry, err = dispatch.NewRegistry(proto.Streams(), dispatch.SenderFunc(l.SendFrame),
		dispatch.WithAckTimeout(cfg.ackTimeout),
		dispatch.WithLogger(l.logger),
	)
	if err != nil {
		return nil, err
	}

	if proto.Fragments != nil {
		l.fetcher, err = reassembly.NewFetcher(l.requestTransfer, transferSink{l: l},
			reassembly.WithRequestTimeout(cfg.requestTimeout),
			reassembly.WithLogger(l.logger),
		)
		if err != nil {
			return nil, err
		}

		l.reasm, err = reassembly.NewBuffer(proto, l.fetcher,
			reassembly.WithFragmentTimeout(cfg.fragmentTimeout),
			reassembly.WithLogger(l.logger),
		)
		if err != nil {
			return nil, err
		}
	}

	tr.SetReceiveHandler(l.onReceive)
	tr.SetDisconnectHandler(l.onDisconnect)

	if err := l.taskMgr.Start("worker", l.workerTask); err != nil {
		return nil, err
	}
	if err := StartConsumer(l.taskMgr, "dispatcher", l.inbound, l.dispatchFrame); err != nil {
		l.taskMgr.Stop()
		return nil, err
	}

	return l, nil
}

// ID returns the link session id, a UUID.
func (l *Link) ID() string { return l.id }

// Protocol returns the device family descriptor.
func (l *Link) Protocol() *codec.Protocol { return l.proto }

// MTU returns the maximum transmission unit used to split outbound transfers.
func (l *Link) MTU() int { return l.mtu }

// State returns the current link state.
func (l *Link) State() State { return l.state.Current() }

// StateMachine returns the link state machine.
func (l *Link) StateMachine() *StateMachine { return l.state }

// WaitState blocks until the link reaches kind or ctx is done.
func (l *Link) WaitState(ctx context.Context, kind StateKind) error {
	return l.state.WaitState(ctx, kind)
}

// Metrics returns the link counters.
func (l *Link) Metrics() *LinkMetrics { return &l.metrics }

// Registry returns the dispatch registry of the session.
func (l *Link) Registry() *dispatch.Registry { return l.registry }

// Connect opens the transport and runs the init Transaction. It returns
// once the link is Initialized, or with the error that failed it. A Failed
// link is reconnected through the retry transition.
func (l *Link) Connect(ctx context.Context) error {
	if l.closed.Load() {
		return ErrLinkClosed
	}

	if l.state.Current().Kind == Failed {
		_ = l.transport.Close()
	}

	if err := l.state.Transition(ctx, State{Kind: Connecting}); err != nil {
		return err
	}

	if err := l.transport.Open(ctx); err != nil {
		_ = l.state.Fire(context.Background(), EventDisconnect)
		return fmt.Errorf("link: open transport: %w", err)
	}

	l.encoder.Reset()
	if err := l.state.Fire(ctx, EventReady); err != nil {
		return err
	}

	tx := NewTransaction("init")
	if l.cfg.initTx != nil {
		if custom := l.cfg.initTx(); custom != nil {
			tx = custom
		}
	}
	tx.Add(SetLinkState(State{Kind: Initialized}))
	tx.OnFailure(func(err error) {
		_ = l.state.Fire(context.Background(), EventInitFail, err.Error())
	})

	p, err := l.Enqueue(tx)
	if err != nil {
		return err
	}

	return p.Wait(ctx)
}

// Disconnect closes the transport and fails all pending work with
// ErrTransportDisconnected. The link can be connected again.
func (l *Link) Disconnect() error {
	if l.closed.Load() {
		return ErrLinkClosed
	}

	err := l.transport.Close()
	_ = l.state.Fire(context.Background(), EventDisconnect)
	l.abort(ErrTransportDisconnected)

	return err
}

// Close shuts the link down for good. Pending work fails with
// ErrTransportDisconnected.
func (l *Link) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}

	l.logger.Info("link: closing")

	_ = l.state.Fire(context.Background(), EventShutdown)

	err := l.transport.Close()
	l.abort(ErrTransportDisconnected)

	l.taskMgr.Stop()
	l.taskMgr.WaitTimeout(l.cfg.closeTimeout)

	if l.reasm != nil {
		l.reasm.Close()
		l.fetcher.Close()
	}

	return err
}

// Route maps inbound command code cmd to p. A nil p removes the route.
func (l *Link) Route(cmd uint16, p dispatch.Processor) {
	l.registry.Route(cmd, p)
}

// RegisterService declares a sub-stream service that can be opened.
func (l *Link) RegisterService(svc dispatch.Service) error {
	return l.registry.RegisterService(svc)
}

// OpenService starts the open handshake of a sub-stream service.
func (l *Link) OpenService(serviceID uint16) (*dispatch.Pending, error) {
	return l.registry.Open(serviceID)
}

// CloseService starts the close handshake of a sub-stream service.
func (l *Link) CloseService(serviceID uint16) (*dispatch.Pending, error) {
	return l.registry.Close(serviceID)
}

// RequestTransfer queues item for download. It returns false for
// duplicates, empty ids and families without fragmented transfers.
func (l *Link) RequestTransfer(item reassembly.Item) bool {
	if l.fetcher == nil {
		return false
	}

	return l.fetcher.RequestTransfer(item)
}

// PendingTransfers returns the number of queued transfer requests.
func (l *Link) PendingTransfers() int {
	if l.fetcher == nil {
		return 0
	}

	return l.fetcher.Pending()
}

// SendFrame enqueues a single frame write without waiting for it. onFail,
// when not nil, receives the error of a write that fails later, including
// a write rejected because the link is not connected. It implements
// dispatch.Sender.
func (l *Link) SendFrame(f *codec.Frame, onFail func(error)) error {
	_, err := l.sendFrame(f, onFail)
	return err
}

// WriteFrame enqueues a single frame write and waits until it is written or
// ctx is done.
func (l *Link) WriteFrame(ctx context.Context, f *codec.Frame) error {
	p, err := l.sendFrame(f, nil)
	if err != nil {
		return err
	}

	return p.Wait(ctx)
}

func (l *Link) sendFrame(f *codec.Frame, onFail func(error)) (*Pending, error) {
	tx := NewTransaction(fmt.Sprintf("frame 0x%X/0x%X", f.Command(), f.SubCommand()), FrameWrite("", f))
	if onFail != nil {
		tx.OnFailure(onFail)
	}

	return l.Enqueue(tx)
}

// TransferOps splits payload into fragment writes bounded by the link MTU.
func (l *Link) TransferOps(target string, cmd uint16, sub uint16, payload []byte) ([]Operation, error) {
	frames, err := l.proto.SplitPayload(cmd, sub, payload, l.mtu)
	if err != nil {
		return nil, err
	}

	ops := make([]Operation, 0, len(frames))
	for _, f := range frames {
		ops = append(ops, FrameWrite(target, f))
	}

	return ops, nil
}

func (l *Link) requestTransfer(item reassembly.Item) error {
	if l.cfg.transferRequest == nil {
		return fmt.Errorf("%w: no transfer request configured", ErrUnsupportedOperation)
	}

	tx, err := l.cfg.transferRequest(item)
	if err != nil {
		return err
	}

	tx.OnFailure(func(err error) {
		l.fetcher.Fail(item.ID, err)
	})

	_, err = l.Enqueue(tx)

	return err
}

func (l *Link) onStateChange(prev State, next State) {
	l.emit(Event{Kind: StateChanged, Prev: prev, State: next})
}

func (l *Link) onDisconnect(err error) {
	if l.closed.Load() {
		return
	}

	l.metrics.incDisconnects()
	l.logger.Warn("link: transport disconnected", "error", err)

	cause := ErrTransportDisconnected
	if err != nil {
		cause = fmt.Errorf("%w: %w", ErrTransportDisconnected, err)
	}
	_ = l.state.Fire(context.Background(), EventDisconnect)
	l.abort(cause)
}

// abort fails the in-flight and every queued Transaction with cause and
// discards per-session state.
func (l *Link) abort(cause error) {
	l.runMu.Lock()
	running, cancel := l.running, l.runCancel
	l.runMu.Unlock()

	if cancel != nil {
		cancel(cause)
	}
	if running != nil {
		l.failTx(running, cause)
	}

	l.failQueued(cause)

	l.recvMu.Lock()
	l.decoder.Reset()
	l.recvMu.Unlock()
	l.drainInbound()

	if l.reasm != nil {
		l.reasm.Reset()
		l.fetcher.Reset(cause)
	}
	l.registry.Reset()
}

func (l *Link) drainInbound() {
	for {
		select {
		case <-l.inbound:
		default:
			return
		}
	}
}

func (l *Link) record(dir trace.Direction, data []byte, note string) {
	if l.cfg.recorder == nil {
		return
	}

	l.cfg.recorder.Record(trace.Event{
		LinkID:    l.id,
		Time:      time.Now(),
		Direction: dir,
		Family:    l.proto.Family,
		Data:      append([]byte(nil), data...),
		Note:      note,
	})
}
