package reassembly

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arloliu/go-wearlink/codec"
	"github.com/arloliu/go-wearlink/internal/pool"
	"github.com/arloliu/go-wearlink/internal/queue"
	"github.com/arloliu/go-wearlink/logger"
)

// Item is a transfer waiting to be fetched.
type Item struct {
	// ID identifies the item; duplicates of a pending or active ID are ignored.
	ID string
	// DetailType and Timestamp order the items.
	DetailType codec.DetailType
	Timestamp  time.Time
	// Ref is opaque data for the Requester, e.g. the packed FileID.
	Ref []byte
}

// ItemFromFileID builds the Item fetching the transfer identified by id.
func ItemFromFileID(id codec.FileID) Item {
	return Item{
		ID:         id.Key(),
		DetailType: id.DetailType,
		Timestamp:  id.Timestamp,
		Ref:        id.Pack(),
	}
}

// itemLess orders summaries before details before tracks, then by timestamp.
func itemLess(a, b Item) bool {
	if ra, rb := a.DetailType.Rank(), b.DetailType.Rank(); ra != rb {
		return ra < rb
	}

	return a.Timestamp.Before(b.Timestamp)
}

// Requester asks the device to start sending item. It must not block.
type Requester func(item Item) error

// Sink receives the result of every fetched item.
//
// Transfers that complete or fail while no item is active are reported with
// a zero Item.
type Sink interface {
	TransferCompleted(item Item, c Completed)
	TransferFailed(item Item, err error)
}

// Fetcher drains a priority queue of items one transfer at a time.
//
// When the active transfer completes, fails or times out, the result goes to
// the Sink and the next item is requested right away. Fetcher implements
// Handler so it can receive results from a Buffer directly.
//
// The first transfer started after a request is bound to the active item.
// Results of other transfers are reported with a zero Item and leave the
// active item waiting.
//
// All methods are safe for concurrent use.
type Fetcher struct {
	cfg       *Config
	logger    logger.Logger
	requester Requester
	sink      Sink

	mu      sync.Mutex
	pending *queue.PriorityQueue[Item]
	known   map[string]struct{}
	active  *activeItem
	closed  bool
}

var _ Handler = (*Fetcher)(nil)

type activeItem struct {
	item     Item
	started  bool
	transfer uint32
	timer   *time.Timer
	cancel  chan struct{}
}

// NewFetcher creates a Fetcher issuing requests through requester and
// reporting to sink.
func NewFetcher(requester Requester, sink Sink, opts ...Option) (*Fetcher, error) {
	if requester == nil {
		return nil, errors.New("reassembly: requester must not be nil")
	}
	if sink == nil {
		return nil, errors.New("reassembly: sink must not be nil")
	}

	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}

	return &Fetcher{
		cfg:       cfg,
		logger:    cfg.logger.With("component", "fetcher"),
		requester: requester,
		sink:      sink,
		pending:   queue.NewPriorityQueue(itemLess),
		known:     make(map[string]struct{}),
	}, nil
}

// RequestTransfer queues item. If no transfer is active it is requested
// immediately. It returns false when the item was ignored as a duplicate.
func (f *Fetcher) RequestTransfer(item Item) bool {
	f.mu.Lock()
	if f.closed || item.ID == "" {
		f.mu.Unlock()
		return false
	}
	if _, dup := f.known[item.ID]; dup {
		f.mu.Unlock()
		f.logger.Debug("fetcher: duplicate item ignored", "item", item.ID)

		return false
	}

	f.known[item.ID] = struct{}{}
	f.pending.Push(item)
	f.mu.Unlock()

	f.advance()

	return true
}

// Pending returns the number of queued items, the active one excluded.
func (f *Fetcher) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.pending.Length()
}

// Active returns the item being fetched.
func (f *Fetcher) Active() (Item, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.active == nil {
		return Item{}, false
	}

	return f.active.item, true
}

// Fail reports err for the item with the given id, queued or active, and
// moves on to the next item.
func (f *Fetcher) Fail(id string, err error) {
	f.mu.Lock()
	a := f.active
	if a != nil && a.item.ID == id && f.releaseLocked(a) {
		f.mu.Unlock()
		f.sink.TransferFailed(a.item, err)
		f.advance()

		return
	}

	var removed []Item
	f.pending.Remove(func(it Item) bool {
		if it.ID == id {
			removed = append(removed, it)
			return true
		}
		return false
	})
	for _, it := range removed {
		delete(f.known, it.ID)
	}
	f.mu.Unlock()

	for _, it := range removed {
		f.sink.TransferFailed(it, err)
	}
}

// Reset fails the active item and every queued item with err, or with
// ErrTransferReset when err is nil.
func (f *Fetcher) Reset(err error) {
	if err == nil {
		err = ErrTransferReset
	}

	var failed []Item

	f.mu.Lock()
	if a := f.active; a != nil && f.releaseLocked(a) {
		failed = append(failed, a.item)
	}
	for {
		it, ok := f.pending.Pop()
		if !ok {
			break
		}
		delete(f.known, it.ID)
		failed = append(failed, it)
	}
	f.mu.Unlock()

	for _, it := range failed {
		f.sink.TransferFailed(it, err)
	}
}

// Close resets the fetcher and ignores further requests.
func (f *Fetcher) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()

	f.Reset(ErrTransferReset)
}

// TransferStarted implements Handler.
func (f *Fetcher) TransferStarted(transferID uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if a := f.active; a != nil && !a.started {
		a.started = true
		a.transfer = transferID
		f.stopTimer(a)
	}
}

// TransferCompleted implements Handler.
func (f *Fetcher) TransferCompleted(c Completed) {
	f.mu.Lock()
	a := f.active
	owned := a.owns(c.TransferID) && f.releaseLocked(a)
	f.mu.Unlock()

	if !owned {
		f.sink.TransferCompleted(Item{}, c)
		return
	}

	f.sink.TransferCompleted(a.item, c)
	f.advance()
}

// TransferFailed implements Handler.
func (f *Fetcher) TransferFailed(transferID uint32, err error) {
	f.mu.Lock()
	a := f.active
	owned := a.owns(transferID) && f.releaseLocked(a)
	f.mu.Unlock()

	if !owned {
		f.sink.TransferFailed(Item{}, err)
		return
	}

	f.sink.TransferFailed(a.item, err)
	f.advance()
}

// advance requests queued items until one request is issued or the queue
// is empty.
func (f *Fetcher) advance() {
	for {
		f.mu.Lock()
		if f.closed || f.active != nil {
			f.mu.Unlock()
			return
		}

		item, ok := f.pending.Pop()
		if !ok {
			f.mu.Unlock()
			return
		}

		a := &activeItem{item: item}
		f.active = a
		f.startTimer(a)
		f.mu.Unlock()

		f.logger.Debug("fetcher: requesting transfer", "item", item.ID, "detail", item.DetailType)

		err := f.requester(item)
		if err == nil {
			return
		}

		f.mu.Lock()
		owned := f.releaseLocked(a)
		f.mu.Unlock()

		if owned {
			f.logger.Warn("fetcher: request failed", "item", item.ID, "error", err)
			f.sink.TransferFailed(item, err)
		}
	}
}

// owns reports whether a result for transferID belongs to a. An item whose
// transfer has not started yet takes any result.
func (a *activeItem) owns(transferID uint32) bool {
	return a != nil && (!a.started || a.transfer == transferID)
}

// releaseLocked clears a if it is still the active item. Caller holds f.mu.
func (f *Fetcher) releaseLocked(a *activeItem) bool {
	if f.active != a {
		return false
	}

	f.stopTimer(a)
	f.active = nil
	delete(f.known, a.item.ID)

	return true
}

// startTimer bounds the time until the transfer of a starts. Caller holds f.mu.
func (f *Fetcher) startTimer(a *activeItem) {
	if f.cfg.requestTimeout <= 0 {
		return
	}

	a.timer = pool.GetTimer(f.cfg.requestTimeout)
	a.cancel = make(chan struct{})

	go func(timer *time.Timer, cancel <-chan struct{}) {
		select {
		case <-timer.C:
			f.requestExpired(a)
		case <-cancel:
		}
	}(a.timer, a.cancel)
}

// stopTimer cancels the request timer of a. Caller holds f.mu.
func (f *Fetcher) stopTimer(a *activeItem) {
	if a.cancel != nil {
		close(a.cancel)
		a.cancel = nil
	}

	if a.timer != nil {
		pool.PutTimer(a.timer)
		a.timer = nil
	}
}

func (f *Fetcher) requestExpired(a *activeItem) {
	f.mu.Lock()
	owned := !a.started && f.releaseLocked(a)
	f.mu.Unlock()

	if !owned {
		return
	}

	f.logger.Warn("fetcher: transfer never started", "item", a.item.ID, "timeout", f.cfg.requestTimeout)
	f.sink.TransferFailed(a.item, fmt.Errorf("%w: %s after %v", ErrRequestTimeout, a.item.ID, f.cfg.requestTimeout))
	f.advance()
}
