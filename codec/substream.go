package codec

import (
	"encoding/binary"
	"fmt"
)

// SubStreams describes the open/close handshake of multiplexed logical
// sub-streams (realtime sensor feeds and the like) sharing one link.
//
// Open and close requests carry [service id (2)][enable (1)]. The device
// answers with an acknowledgement carrying
// [service id (2)][handle (1)][status (1)]. The service id uses Order.
//
// Status 0 means the request was accepted. Firmware of these families uses
// this inverted polarity, so it is kept as-is.
type SubStreams struct {
	OpenCommand     uint16
	CloseCommand    uint16
	OpenAckCommand  uint16
	CloseAckCommand uint16

	// StreamFlag marks frames that belong to an open sub-stream. Such frames
	// carry the handle in their command field.
	StreamFlag uint32

	// Order is the byte order of the service id. Protocol.Streams fills it
	// from the layout when nil; a bare nil reads big endian.
	Order binary.ByteOrder
}

// StreamAck is a decoded open or close acknowledgement.
type StreamAck struct {
	ServiceID uint16
	Handle    uint16
	Open      bool
	Accepted  bool
}

// OpenRequest builds the frame asking the device to open serviceID.
// enable is written verbatim, callers decide its polarity.
func (s *SubStreams) OpenRequest(serviceID uint16, enable byte) *Frame {
	return NewFrame(s.OpenCommand, 0, s.request(serviceID, enable))
}

// CloseRequest builds the frame asking the device to close serviceID.
func (s *SubStreams) CloseRequest(serviceID uint16, enable byte) *Frame {
	return NewFrame(s.CloseCommand, 0, s.request(serviceID, enable))
}

func (s *SubStreams) request(serviceID uint16, enable byte) []byte {
	args := make([]byte, 3)
	s.order().PutUint16(args, serviceID)
	args[2] = enable

	return args
}

func (s *SubStreams) order() binary.ByteOrder {
	if s.Order == nil {
		return binary.BigEndian
	}

	return s.Order
}

// ParseAck decodes an acknowledgement frame. ok is false for other frames.
func (s *SubStreams) ParseAck(f *Frame) (ack StreamAck, ok bool, err error) {
	var open bool
	switch f.command {
	case s.OpenAckCommand:
		open = true
	case s.CloseAckCommand:
		open = false
	default:
		return StreamAck{}, false, nil
	}

	if len(f.args) < 4 {
		return StreamAck{}, true, fmt.Errorf("%w: short stream ack, %d bytes", ErrMalformedFrame, len(f.args))
	}

	return StreamAck{
		ServiceID: s.order().Uint16(f.args[0:2]),
		Handle:    uint16(f.args[2]),
		Open:      open,
		Accepted:  f.args[3] == 0,
	}, true, nil
}

// Handle returns the sub-stream handle of f. ok is false when f is not
// tagged as a sub-stream frame.
func (s *SubStreams) Handle(f *Frame) (handle uint16, ok bool) {
	if s.StreamFlag == 0 || f.flags&s.StreamFlag == 0 {
		return 0, false
	}

	return f.command, true
}
