package reassembly

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-wearlink/codec"
	"github.com/arloliu/go-wearlink/internal/pool"
	"github.com/arloliu/go-wearlink/internal/util"
	"github.com/arloliu/go-wearlink/logger"
)

// Completed is a verified transfer.
type Completed struct {
	TransferID uint32
	// Payload is the reassembled buffer without its trailing checksum.
	Payload []byte
	// FileID is the embedded identifier, valid when HasFileID is true.
	FileID    codec.FileID
	HasFileID bool
}

// Handler receives the outcome of the transfers handled by a Buffer.
//
// Methods are called without internal locks held, either from the goroutine
// calling AddFragment or from a timer goroutine.
type Handler interface {
	// TransferStarted is called when the first fragment of a transfer arrives.
	TransferStarted(transferID uint32)
	// TransferCompleted is called once for every verified transfer.
	TransferCompleted(c Completed)
	// TransferFailed is called once for every discarded transfer.
	TransferFailed(transferID uint32, err error)
}

// Buffer accumulates fragments into per-transfer contexts.
//
// All methods are safe for concurrent use.
type Buffer struct {
	proto   *codec.Protocol
	cfg     *Config
	logger  logger.Logger
	handler Handler

	contexts *xsync.MapOf[uint32, *transferContext]
	token    atomic.Uint64
	closed   atomic.Bool
}

// transferContext is one transfer being reassembled.
type transferContext struct {
	id     uint32
	total  uint16
	next   uint16
	buf    []byte
	lastAt time.Time

	// armed identifies the running fragment timer; stale expiries are ignored.
	armed  uint64
	timer  *time.Timer
	cancel chan struct{}
}

// outcome collects what happened inside an atomic context update, so that
// the handler is called after the map entry is released.
type outcome struct {
	started  bool
	replaced bool
	stray    bool
	failed   bool
	done     *transferContext
	err      error
}

// NewBuffer creates a Buffer verifying transfers with proto's transfer
// checksum and reporting to handler.
func NewBuffer(proto *codec.Protocol, handler Handler, opts ...Option) (*Buffer, error) {
	if proto == nil {
		return nil, errors.New("reassembly: protocol must not be nil")
	}
	if handler == nil {
		return nil, errors.New("reassembly: handler must not be nil")
	}

	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}

	return &Buffer{
		proto:    proto,
		cfg:      cfg,
		logger:   cfg.logger.With("component", "reassembly", "family", proto.Family),
		handler:  handler,
		contexts: xsync.NewMapOf[uint32, *transferContext](),
	}, nil
}

// Feed extracts the fragment numbering of f with the family's fragment
// layout and adds it. handled is false for standalone frames.
func (b *Buffer) Feed(f *codec.Frame) (handled bool, err error) {
	if b.proto.Fragments == nil {
		return false, nil
	}

	frag, ok, err := b.proto.Fragments.Parse(f)
	if err != nil {
		return true, err
	}
	if !ok {
		return false, nil
	}

	return true, b.AddFragment(frag.TransferID, frag.Index, frag.Total, frag.Data)
}

// AddFragment appends one fragment to its transfer.
//
// Index 1 starts a fresh context, discarding any incomplete one for the
// same transfer id. Any other index must continue the open context. A stray
// or duplicate fragment is dropped with ErrFragmentOutOfOrder; the context
// and its timer are kept.
// The final fragment triggers checksum verification; the result goes to
// the Handler.
func (b *Buffer) AddFragment(transferID uint32, index uint16, total uint16, data []byte) error {
	if b.closed.Load() {
		return ErrBufferClosed
	}

	if index == 0 || total == 0 || index > total {
		return fmt.Errorf("%w: transfer %d fragment %d of %d", ErrFragmentOutOfOrder, transferID, index, total)
	}

	var out outcome
	b.contexts.Compute(transferID, func(tc *transferContext, loaded bool) (*transferContext, bool) {
		switch {
		case index == 1:
			if loaded {
				b.stopTimer(tc)
				out.replaced = true
			}
			tc = &transferContext{id: transferID, total: total, next: 1}
			out.started = true
		case !loaded:
			out.err = fmt.Errorf("%w: transfer %d fragment %d without a first fragment",
				ErrFragmentOutOfOrder, transferID, index)
			return nil, true
		default:
			if index != tc.next || total != tc.total {
				out.stray = true
				out.err = fmt.Errorf("%w: transfer %d expected fragment %d of %d, got %d of %d",
					ErrFragmentOutOfOrder, transferID, tc.next, tc.total, index, total)

				return tc, false
			}
			b.stopTimer(tc)
		}

		if len(tc.buf)+len(data) > b.cfg.maxTransferSize {
			out.failed = true
			out.err = fmt.Errorf("%w: transfer %d exceeds %d bytes", ErrTransferTooLarge, transferID, b.cfg.maxTransferSize)

			return nil, true
		}

		tc.buf = append(tc.buf, data...)
		tc.lastAt = time.Now()
		tc.next = index + 1

		if index == total {
			out.done = tc
			return nil, true
		}

		b.startTimer(tc)

		return tc, false
	})

	if out.replaced {
		b.logger.Debug("reassembly: first fragment restarts transfer, previous context discarded", "transfer", transferID)
	}
	if out.started {
		b.handler.TransferStarted(transferID)
	}
	if out.stray {
		b.logger.Debug("reassembly: stray fragment dropped", "transfer", transferID, "index", index, "total", total)
	}
	if out.failed {
		b.logger.Warn("reassembly: transfer aborted", "transfer", transferID, "error", out.err)
		b.handler.TransferFailed(transferID, out.err)
	}
	if out.err != nil {
		return out.err
	}

	if out.done != nil {
		return b.finish(out.done)
	}

	return nil
}

// Active returns the number of transfers being reassembled.
func (b *Buffer) Active() int {
	return b.contexts.Size()
}

// Reset discards every open context without reporting them, e.g. after the
// link reconnects.
func (b *Buffer) Reset() {
	b.contexts.Range(func(id uint32, _ *transferContext) bool {
		b.contexts.Compute(id, func(tc *transferContext, loaded bool) (*transferContext, bool) {
			if loaded {
				b.stopTimer(tc)
			}
			return nil, true
		})

		return true
	})
}

// Close resets the buffer and rejects further fragments.
func (b *Buffer) Close() {
	b.closed.Store(true)
	b.Reset()
}

func (b *Buffer) finish(tc *transferContext) error {
	payload, err := b.verify(tc.buf)
	if err != nil {
		err = fmt.Errorf("%w: transfer %d: %v", ErrChecksumMismatch, tc.id, err)
		b.logger.Warn("reassembly: transfer discarded", "transfer", tc.id, "size", len(tc.buf), "error", err)
		b.handler.TransferFailed(tc.id, err)

		return err
	}

	c := Completed{TransferID: tc.id, Payload: payload}
	if b.proto.FileID != nil {
		id, idErr := b.proto.FileID(payload)
		if idErr != nil {
			b.logger.Debug("reassembly: no file id in transfer", "transfer", tc.id, "error", idErr)
		} else {
			c.FileID = id
			c.HasFileID = true
		}
	}

	b.logger.Debug("reassembly: transfer completed", "transfer", tc.id, "size", len(payload), "fragments", tc.total)
	b.handler.TransferCompleted(c)

	return nil
}

// verify checks the trailing transfer checksum and returns the payload
// without it.
func (b *Buffer) verify(buf []byte) ([]byte, error) {
	sum := b.proto.TransferChecksum
	if sum.IsNone() {
		return buf, nil
	}

	w := sum.Width
	if len(buf) < w {
		return nil, fmt.Errorf("%d bytes, shorter than the %d-byte checksum", len(buf), w)
	}

	order := b.proto.TransferChecksumOrder
	if order == nil {
		order = binary.LittleEndian
	}

	n := len(buf) - w
	want := util.Uint(order, buf[n:], w)
	if got := sum.Compute(buf[:n]); got != want {
		return nil, fmt.Errorf("%s got 0x%X, want 0x%X", sum.Name, got, want)
	}

	return buf[:n], nil
}

// ===========================================================================
// Fragment timer
// ===========================================================================

// startTimer arms the fragment timer of tc. Caller holds the map entry.
func (b *Buffer) startTimer(tc *transferContext) {
	tc.armed = b.token.Add(1)
	tc.timer = pool.GetTimer(b.cfg.fragmentTimeout)
	tc.cancel = make(chan struct{})

	go func(id uint32, token uint64, timer *time.Timer, cancel <-chan struct{}) {
		select {
		case <-timer.C:
			b.expire(id, token)
		case <-cancel:
		}
	}(tc.id, tc.armed, tc.timer, tc.cancel)
}

// stopTimer cancels the fragment timer of tc. Caller holds the map entry.
func (b *Buffer) stopTimer(tc *transferContext) {
	if tc.cancel != nil {
		close(tc.cancel)
		tc.cancel = nil
	}

	if tc.timer != nil {
		pool.PutTimer(tc.timer)
		tc.timer = nil
	}
}

func (b *Buffer) expire(id uint32, token uint64) {
	var expired *transferContext
	b.contexts.Compute(id, func(tc *transferContext, loaded bool) (*transferContext, bool) {
		if !loaded {
			return nil, true
		}
		if tc.armed != token {
			// a newer fragment re-armed the timer
			return tc, false
		}

		b.stopTimer(tc)
		expired = tc

		return nil, true
	})

	if expired == nil {
		return
	}

	err := fmt.Errorf("%w: transfer %d stalled after fragment %d of %d",
		ErrReassemblyTimeout, id, expired.next-1, expired.total)
	b.logger.Warn("reassembly: fragment timeout, context discarded",
		"transfer", id, "received", len(expired.buf), "idle", time.Since(expired.lastAt))
	b.handler.TransferFailed(id, err)
}
