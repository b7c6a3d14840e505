package dispatch

import (
	"context"
	"sync"
)

// Pending is the result of an open or close handshake.
type Pending struct {
	done   chan struct{}
	once   sync.Once
	handle uint16
	err    error
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

func resolvedPending(handle uint16, err error) *Pending {
	p := newPending()
	p.resolve(handle, err)

	return p
}

// resolve completes p; later calls are ignored.
func (p *Pending) resolve(handle uint16, err error) {
	p.once.Do(func() {
		p.handle = handle
		p.err = err
		close(p.done)
	})
}

// Done returns a channel closed when the handshake finishes.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Err returns the handshake error, or nil while it is still pending.
func (p *Pending) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Handle returns the handle assigned by the device. It is valid after a
// successful open.
func (p *Pending) Handle() uint16 {
	select {
	case <-p.done:
		return p.handle
	default:
		return 0
	}
}

// Wait blocks until the handshake finishes or ctx is done.
func (p *Pending) Wait(ctx context.Context) (uint16, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-p.done:
		return p.handle, p.err
	}
}
