package codec

import (
	"bytes"

	"github.com/arloliu/go-wearlink/internal/util"
)

// StreamDecoder cuts a byte stream into complete raw frames.
//
// Inbound bytes are buffered until a full frame, as described by the
// declared length field, is available. Garbage before a magic is discarded
// and counted. StreamDecoder is not safe for concurrent use; each transport
// read loop owns one.
type StreamDecoder struct {
	proto    *Protocol
	buf      []byte
	maxFrame int
	dropped  uint64
}

// NewStreamDecoder creates a StreamDecoder for p. maxFrameSize bounds the
// declared frame size; 0 selects p.MaxFrameSize().
func NewStreamDecoder(p *Protocol, maxFrameSize int) *StreamDecoder {
	if maxFrameSize <= 0 {
		maxFrameSize = p.MaxFrameSize()
	}

	return &StreamDecoder{proto: p, maxFrame: maxFrameSize}
}

// Feed appends data and returns every complete raw frame now available.
func (d *StreamDecoder) Feed(data []byte) [][]byte {
	d.buf = append(d.buf, data...)

	var frames [][]byte
	magic := d.proto.Layout.Magic
	for {
		idx := bytes.Index(d.buf, magic)
		if idx < 0 {
			// keep a possible partial magic at the tail
			keep := min(len(magic)-1, len(d.buf))
			d.drop(len(d.buf) - keep)

			return frames
		}
		if idx > 0 {
			d.drop(idx)
		}

		size, ok := d.proto.Layout.FrameSize(d.buf)
		if !ok {
			return frames
		}

		if size > d.maxFrame || size < d.proto.Layout.Overhead() {
			// implausible length, resync past this magic
			d.drop(1)
			continue
		}

		if len(d.buf) < size {
			return frames
		}

		frames = append(frames, util.CloneSlice(d.buf[:size], 0))
		d.buf = d.buf[size:]
	}
}

// Buffered returns the number of bytes waiting for more input.
func (d *StreamDecoder) Buffered() int { return len(d.buf) }

// Dropped returns the number of bytes discarded while resynchronising.
func (d *StreamDecoder) Dropped() uint64 { return d.dropped }

// Reset discards buffered bytes, e.g. after the transport reconnects.
func (d *StreamDecoder) Reset() {
	d.buf = d.buf[:0]
}

func (d *StreamDecoder) drop(n int) {
	if n <= 0 {
		return
	}
	d.dropped += uint64(n)
	d.buf = d.buf[n:]
}
