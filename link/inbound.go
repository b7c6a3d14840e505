package link

import (
	"context"
	"errors"

	"github.com/arloliu/go-wearlink/codec"
	"github.com/arloliu/go-wearlink/dispatch"
	"github.com/arloliu/go-wearlink/trace"
)

// send writes raw to the transport and records it.
func (l *Link) send(ctx context.Context, target string, raw []byte) error {
	if err := l.transport.Send(ctx, target, raw); err != nil {
		return err
	}

	l.metrics.incFramesSent()
	l.record(trace.Outbound, raw, target)

	return nil
}

// onReceive runs on the transport read goroutine. It only cuts and decodes
// frames and hands them to the dispatcher task.
func (l *Link) onReceive(data []byte) {
	l.recvMu.Lock()
	raws := l.decoder.Feed(data)
	l.recvMu.Unlock()

	for _, raw := range raws {
		f, err := l.proto.Decode(raw)
		if err != nil {
			l.metrics.incMalformedFrames()
			l.logger.Debug("link: malformed frame dropped", "len", len(raw), "error", err)
			l.record(trace.Dropped, raw, err.Error())

			continue
		}

		l.metrics.incFramesReceived()
		l.record(trace.Inbound, raw, "")

		select {
		case l.inbound <- f:
		case <-l.taskMgr.getContext().Done():
			return
		}
	}
}

// dispatchFrame runs on the dispatcher task.
func (l *Link) dispatchFrame(f *codec.Frame) bool {
	if l.reasm != nil {
		handled, err := l.reasm.Feed(f)
		if handled {
			if err != nil {
				l.logger.Debug("link: fragment rejected", "frame", f.String(), "error", err)
			}

			return true
		}
	}

	if err := l.registry.Dispatch(f); err != nil {
		if errors.Is(err, dispatch.ErrUnknownCommand) {
			l.metrics.incUnknownCommands()
		}

		return true
	}

	l.emit(Event{Kind: FrameDispatched, Frame: f})

	return true
}
