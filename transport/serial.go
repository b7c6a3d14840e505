package transport

import (
	"context"
	"errors"
	"io"

	"go.bug.st/serial"
)

// DefaultBaudRate is the baud rate used when the mode leaves it unset.
const DefaultBaudRate = 115200

// SerialTransport is a Transport over a serial port, e.g. an RFCOMM device
// node or a USB bridge.
type SerialTransport struct {
	*stream

	port string
	mode serial.Mode
}

var _ Transport = (*SerialTransport)(nil)

// NewSerialTransport creates a transport for port. A nil mode selects
// DefaultBaudRate, 8 data bits, no parity and one stop bit.
func NewSerialTransport(port string, mode *serial.Mode, opts ...Option) (*SerialTransport, error) {
	if port == "" {
		return nil, errors.New("transport: serial port is required")
	}

	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}

	t := &SerialTransport{port: port, mode: DefaultSerialMode()}
	if mode != nil {
		t.mode = *mode
		if t.mode.BaudRate == 0 {
			t.mode.BaudRate = DefaultBaudRate
		}
	}
	t.stream = newStream("serial:"+port, t.openPort, cfg)

	return t, nil
}

// DefaultSerialMode returns 115200 8N1.
func DefaultSerialMode() serial.Mode {
	return serial.Mode{
		BaudRate: DefaultBaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

// Port returns the serial port name.
func (t *SerialTransport) Port() string { return t.port }

// Mode returns the serial mode.
func (t *SerialTransport) Mode() serial.Mode { return t.mode }

func (t *SerialTransport) openPort(ctx context.Context) (io.ReadWriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mode := t.mode

	return serial.Open(t.port, &mode)
}

// ListPorts returns the serial ports present on the system.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}
