// Package transport defines the byte-oriented duplex channel a link runs on
// and provides serial and net.Conn implementations.
//
// Transports deliver inbound bytes through the receive handler from their
// own read goroutine. Handlers must hand the bytes off quickly and must not
// call back into the link synchronously.
package transport

import (
	"context"
	"errors"
)

var (
	// ErrNotConnected is returned when sending on a transport that is not open.
	ErrNotConnected = errors.New("transport: not connected")
	// ErrAlreadyOpen is returned by Open on an open transport.
	ErrAlreadyOpen = errors.New("transport: already open")
)

// ReceiveHandler is called with every chunk of inbound bytes. data is owned
// by the handler.
type ReceiveHandler func(data []byte)

// DisconnectHandler is called once when the channel drops unexpectedly.
type DisconnectHandler func(err error)

// Transport is a byte-oriented duplex channel to one device.
type Transport interface {
	// Open connects the channel and starts delivering inbound bytes.
	Open(ctx context.Context) error
	// Close disconnects. The disconnect handler is not called.
	Close() error
	// Send writes data to target. Byte-stream transports have a single
	// target and ignore it.
	Send(ctx context.Context, target string, data []byte) error
	// SetReceiveHandler sets the inbound bytes callback.
	SetReceiveHandler(h ReceiveHandler)
	// SetDisconnectHandler sets the disconnect callback.
	SetDisconnectHandler(h DisconnectHandler)
}

// Reader is implemented by transports that can read an attribute on demand,
// e.g. a GATT characteristic.
type Reader interface {
	Read(ctx context.Context, target string) ([]byte, error)
}

// Subscriber is implemented by transports whose inbound targets must be
// subscribed to before they deliver data.
type Subscriber interface {
	SetSubscription(ctx context.Context, target string, enabled bool) error
}
