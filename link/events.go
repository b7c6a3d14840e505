package link

import (
	"time"

	"github.com/arloliu/go-wearlink/codec"
	"github.com/arloliu/go-wearlink/reassembly"
)

// EventKind identifies a Sink event.
type EventKind uint8

// Sink event kinds.
const (
	// FrameDispatched is emitted after an inbound frame was routed to a processor.
	FrameDispatched EventKind = iota + 1
	// TransferCompleted is emitted for a verified reassembled transfer.
	TransferCompleted
	// TransferFailed is emitted when a transfer times out, is corrupt or is reset.
	TransferFailed
	// StateChanged is emitted on every link state change.
	StateChanged
)

// String returns the kind name.
func (k EventKind) String() string {
	switch k {
	case FrameDispatched:
		return "frame-dispatched"
	case TransferCompleted:
		return "transfer-completed"
	case TransferFailed:
		return "transfer-failed"
	case StateChanged:
		return "state-changed"
	default:
		return "unknown"
	}
}

// Event is a completed, typed occurrence on a link.
type Event struct {
	Kind   EventKind
	LinkID string
	Time   time.Time

	// Frame is set for FrameDispatched.
	Frame *codec.Frame

	// Item and Transfer are set for transfer events. Item is zero for
	// transfers the link did not request.
	Item     reassembly.Item
	Transfer reassembly.Completed
	Err      error

	// Prev and State are set for StateChanged.
	Prev  State
	State State
}

// Sink receives link events. OnEvent is called from link goroutines and
// must not block for long.
type Sink interface {
	OnEvent(ev Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev Event)

// OnEvent implements Sink.
func (fn SinkFunc) OnEvent(ev Event) { fn(ev) }

func (l *Link) emit(ev Event) {
	if l.cfg.sink == nil {
		return
	}

	ev.LinkID = l.id
	ev.Time = time.Now()
	l.cfg.sink.OnEvent(ev)
}

// transferSink forwards fetcher results to the link Sink.
type transferSink struct {
	l *Link
}

func (s transferSink) TransferCompleted(item reassembly.Item, c reassembly.Completed) {
	s.l.metrics.incTransfersCompleted()
	s.l.logger.Info("link: transfer completed", "item", item.ID, "transfer", c.TransferID, "size", len(c.Payload))
	s.l.emit(Event{Kind: TransferCompleted, Item: item, Transfer: c})
}

func (s transferSink) TransferFailed(item reassembly.Item, err error) {
	s.l.metrics.incTransfersFailed()
	s.l.logger.Warn("link: transfer failed", "item", item.ID, "error", err)
	s.l.emit(Event{Kind: TransferFailed, Item: item, Err: err})
}
