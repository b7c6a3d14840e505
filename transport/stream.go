package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/arloliu/go-wearlink/logger"
)

// opener connects the underlying byte stream.
type opener func(ctx context.Context) (io.ReadWriteCloser, error)

// stream implements Transport over any io.ReadWriteCloser.
type stream struct {
	name   string
	open   opener
	cfg    *config
	logger logger.Logger

	mu           sync.RWMutex
	rwc          io.ReadWriteCloser
	done         chan struct{}
	closing      bool
	onReceive    ReceiveHandler
	onDisconnect DisconnectHandler

	writeMu sync.Mutex
}

func newStream(name string, open opener, cfg *config) *stream {
	return &stream{
		name:   name,
		open:   open,
		cfg:    cfg,
		logger: cfg.logger.With("transport", name),
	}
}

// Open implements Transport.
func (s *stream) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.rwc != nil {
		s.mu.Unlock()
		return ErrAlreadyOpen
	}
	s.mu.Unlock()

	rwc, err := s.open(ctx)
	if err != nil {
		return fmt.Errorf("transport: open %s: %w", s.name, err)
	}

	s.mu.Lock()
	s.rwc = rwc
	s.closing = false
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go s.readLoop(rwc, done)

	s.logger.Debug("transport: opened")

	return nil
}

// Close implements Transport.
func (s *stream) Close() error {
	s.mu.Lock()
	rwc := s.rwc
	done := s.done
	s.rwc = nil
	s.closing = true
	s.mu.Unlock()

	if rwc == nil {
		return nil
	}

	err := rwc.Close()
	<-done

	s.logger.Debug("transport: closed")

	return err
}

// Send implements Transport. target is ignored.
func (s *stream) Send(ctx context.Context, _ string, data []byte) error {
	s.mu.RLock()
	rwc := s.rwc
	s.mu.RUnlock()

	if rwc == nil {
		return ErrNotConnected
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if dl, ok := rwc.(interface{ SetWriteDeadline(time.Time) error }); ok {
		deadline, _ := ctx.Deadline()
		_ = dl.SetWriteDeadline(deadline)
	}

	for len(data) > 0 {
		n, err := rwc.Write(data)
		if err != nil {
			return fmt.Errorf("transport: write %s: %w", s.name, err)
		}
		data = data[n:]
	}

	return nil
}

// SetReceiveHandler implements Transport.
func (s *stream) SetReceiveHandler(h ReceiveHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReceive = h
}

// SetDisconnectHandler implements Transport.
func (s *stream) SetDisconnectHandler(h DisconnectHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDisconnect = h
}

func (s *stream) readLoop(rwc io.ReadWriteCloser, done chan struct{}) {
	defer close(done)

	buf := make([]byte, s.cfg.readBufSize)
	for {
		n, err := rwc.Read(buf)
		if n > 0 {
			s.mu.RLock()
			h := s.onReceive
			s.mu.RUnlock()

			if h != nil {
				data := make([]byte, n)
				copy(data, buf[:n])
				h(data)
			}
		}

		if err != nil {
			s.handleReadError(rwc, err)
			return
		}
	}
}

func (s *stream) handleReadError(rwc io.ReadWriteCloser, err error) {
	s.mu.Lock()
	if s.closing || s.rwc != rwc {
		s.mu.Unlock()
		return
	}
	s.rwc = nil
	h := s.onDisconnect
	s.mu.Unlock()

	_ = rwc.Close()

	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		s.logger.Info("transport: connection closed by peer")
	} else {
		s.logger.Warn("transport: read failed", "error", err)
	}

	if h != nil {
		h(err)
	}
}
