package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
)

// ConnTransport is a Transport over a net.Conn, e.g. a TCP bridge to a
// device or one end of net.Pipe in tests.
type ConnTransport struct {
	*stream
}

var _ Transport = (*ConnTransport)(nil)

// NewConnTransport wraps an established connection. The connection is used
// by the first Open; reopening after Close fails.
func NewConnTransport(conn net.Conn, opts ...Option) (*ConnTransport, error) {
	if conn == nil {
		return nil, errors.New("transport: conn must not be nil")
	}

	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}

	var once sync.Once
	open := func(context.Context) (io.ReadWriteCloser, error) {
		var rwc io.ReadWriteCloser
		once.Do(func() { rwc = conn })
		if rwc == nil {
			return nil, net.ErrClosed
		}

		return rwc, nil
	}

	return &ConnTransport{stream: newStream("conn:"+conn.RemoteAddr().String(), open, cfg)}, nil
}

// NewDialTransport creates a transport dialing network/address on every Open.
func NewDialTransport(network string, address string, opts ...Option) (*ConnTransport, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}

	open := func(ctx context.Context) (io.ReadWriteCloser, error) {
		var d net.Dialer
		return d.DialContext(ctx, network, address)
	}

	return &ConnTransport{stream: newStream(network+":"+address, open, cfg)}, nil
}
