package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/arloliu/go-wearlink/internal/util"
)

// DefaultMTU is the maximum transmission unit assumed before negotiation.
const DefaultMTU = 247

// Protocol is the descriptor of one device family.
//
// It is plain data plus functions; the link engine composes one Protocol
// with a transport to serve a connected device.
type Protocol struct {
	// Family is the registry key, e.g. "xiaomi-spp".
	Family string
	// Description is a human readable summary.
	Description string

	// Layout is the frame byte layout.
	Layout Layout
	// Checksum protects each frame. Use NoChecksum for families without one.
	Checksum Checksum
	// PayloadChecksum trails the args of every non-empty frame and covers
	// the args only. Decode verifies and strips it.
	PayloadChecksum Checksum
	// PayloadChecksumOrder is the byte order of the payload checksum.
	PayloadChecksumOrder binary.ByteOrder

	// Fragments describes multi-fragment transfers. Nil disables reassembly.
	Fragments FragmentLayout
	// TransferChecksum is the trailing checksum of a reassembled buffer.
	TransferChecksum Checksum
	// TransferChecksumOrder is the byte order of the trailing checksum.
	TransferChecksumOrder binary.ByteOrder
	// FileID extracts the embedded identifier of a completed transfer. Optional.
	FileID FileIDDecoder

	// SubStreams describes the open/close handshake of multiplexed sub-streams. Optional.
	SubStreams *SubStreams

	// MTU is the default maximum transmission unit.
	MTU int
}

// Validate checks the descriptor.
func (p *Protocol) Validate() error {
	if p.Family == "" {
		return fmt.Errorf("%w: empty family name", ErrInvalidLayout)
	}

	if err := p.Layout.Validate(); err != nil {
		return fmt.Errorf("%s: %w", p.Family, err)
	}

	if f, ok := p.Layout.field(FieldChecksum); ok {
		if p.Checksum.IsNone() {
			return fmt.Errorf("%w: %s has a checksum field but no checksum strategy", ErrInvalidLayout, p.Family)
		}
		if f.Width != p.Checksum.Width {
			return fmt.Errorf("%w: %s checksum field width %d, strategy %s width %d",
				ErrInvalidLayout, p.Family, f.Width, p.Checksum.Name, p.Checksum.Width)
		}
	}

	if !p.PayloadChecksum.IsNone() && p.PayloadChecksumOrder == nil && p.PayloadChecksum.Width > 1 {
		return fmt.Errorf("%w: %s payload checksum requires a byte order", ErrInvalidLayout, p.Family)
	}

	if p.Fragments != nil && !p.TransferChecksum.IsNone() && p.TransferChecksumOrder == nil && p.TransferChecksum.Width > 1 {
		return fmt.Errorf("%w: %s transfer checksum requires a byte order", ErrInvalidLayout, p.Family)
	}

	return nil
}

// Streams returns a copy of SubStreams whose byte order defaults to the
// layout's, or nil when the family has no sub-streams.
func (p *Protocol) Streams() *SubStreams {
	if p.SubStreams == nil {
		return nil
	}

	s := *p.SubStreams
	if s.Order == nil {
		s.Order = p.Layout.Order
	}

	return &s
}

// EffectiveMTU returns the configured MTU or DefaultMTU.
func (p *Protocol) EffectiveMTU() int {
	if p.MTU > 0 {
		return p.MTU
	}

	return DefaultMTU
}

// MaxFrameSize returns the largest frame the length field can describe.
func (p *Protocol) MaxFrameSize() int {
	f, ok := p.Layout.field(FieldLength)
	if !ok {
		return p.Layout.Overhead()
	}

	maxLen := int(util.MaxUint(f.Width))
	if maxLen > 1<<20 {
		maxLen = 1 << 20
	}

	return p.Layout.Overhead() + maxLen
}

// MaxArgs returns the largest args size that fits in one frame of mtu bytes.
func (p *Protocol) MaxArgs(mtu int) int {
	n := mtu - p.Layout.Overhead() - p.PayloadChecksum.Width
	if n < 1 {
		return 1
	}

	return n
}

// Encode encodes a command with counter and flags set to zero.
func (p *Protocol) Encode(cmd uint16, sub uint16, args []byte) ([]byte, error) {
	return p.EncodeFrame(NewFrame(cmd, sub, args))
}

// EncodeFrame serializes f according to the layout.
func (p *Protocol) EncodeFrame(f *Frame) ([]byte, error) {
	l := &p.Layout
	args := p.sealArgs(f.args)

	prefix := make([]byte, l.PrefixSize())
	if err := p.putFields(prefix, l.Prefix, f, 0, 0); err != nil {
		return nil, err
	}

	lengthVal := uint32(len(args))
	if l.LengthIncludesPrefix {
		lengthVal += uint32(len(prefix))
	}

	sum := p.Checksum.Compute(p.covered(prefix, args))

	header := make([]byte, fieldsSize(l.Header))
	if err := p.putFields(header, l.Header, f, lengthVal, sum); err != nil {
		return nil, err
	}

	trailer := make([]byte, fieldsSize(l.Trailer))
	if err := p.putFields(trailer, l.Trailer, f, lengthVal, sum); err != nil {
		return nil, err
	}

	out := make([]byte, 0, l.Overhead()+len(args))
	out = append(out, l.Magic...)
	out = append(out, header...)
	out = append(out, prefix...)
	out = append(out, args...)
	out = append(out, trailer...)
	out = append(out, l.Terminator...)

	return out, nil
}

// Decode parses one complete frame.
//
// It validates the magic, then the declared length against the bytes present,
// then the checksum. Every failure wraps ErrMalformedFrame.
func (p *Protocol) Decode(data []byte) (*Frame, error) {
	l := &p.Layout

	if len(data) < len(l.Magic) || !bytes.Equal(data[:len(l.Magic)], l.Magic) {
		return nil, fmt.Errorf("%w: %s: magic mismatch", ErrMalformedFrame, p.Family)
	}

	if len(data) < l.Overhead() {
		return nil, fmt.Errorf("%w: %s: short frame, %d bytes, need at least %d",
			ErrMalformedFrame, p.Family, len(data), l.Overhead())
	}

	f := &Frame{}
	var declared, embedded uint32

	offset := len(l.Magic)
	for _, fld := range l.Header {
		v := util.Uint(l.Order, data[offset:], fld.Width)
		switch fld.Kind {
		case FieldLength:
			declared = v
		case FieldChecksum:
			embedded = v
		default:
			f.setFieldValue(fld.Kind, v)
		}
		offset += fld.Width
	}

	bodyStart := l.HeaderSize()
	bodyEnd := len(data) - l.TrailerSize()

	actual := bodyEnd - bodyStart
	if !l.LengthIncludesPrefix {
		actual -= l.PrefixSize()
	}
	if int(declared) != actual {
		return nil, fmt.Errorf("%w: %s: length mismatch, declared %d, actual %d",
			ErrMalformedFrame, p.Family, declared, actual)
	}

	prefix := data[bodyStart : bodyStart+l.PrefixSize()]
	offset = 0
	for _, fld := range l.Prefix {
		f.setFieldValue(fld.Kind, util.Uint(l.Order, prefix[offset:], fld.Width))
		offset += fld.Width
	}

	args := data[bodyStart+l.PrefixSize() : bodyEnd]

	offset = bodyEnd
	for _, fld := range l.Trailer {
		if fld.Kind == FieldChecksum {
			embedded = util.Uint(l.Order, data[offset:], fld.Width)
		}
		offset += fld.Width
	}

	if !p.Checksum.IsNone() {
		got := p.Checksum.Compute(p.covered(prefix, args))
		if got != embedded {
			return nil, fmt.Errorf("%w: %s: checksum mismatch, got 0x%X, want 0x%X",
				ErrMalformedFrame, p.Family, got, embedded)
		}
	}

	if len(l.Terminator) > 0 && !bytes.Equal(data[offset:], l.Terminator) {
		return nil, fmt.Errorf("%w: %s: terminator mismatch", ErrMalformedFrame, p.Family)
	}

	args, err := p.openArgs(args)
	if err != nil {
		return nil, err
	}
	f.args = util.CloneSlice(args, 0)

	return f, nil
}

// sealArgs appends the payload checksum to non-empty args.
func (p *Protocol) sealArgs(args []byte) []byte {
	w := p.PayloadChecksum.Width
	if p.PayloadChecksum.IsNone() || len(args) == 0 {
		return args
	}

	out := make([]byte, len(args)+w)
	copy(out, args)
	_ = util.PutUint(p.PayloadChecksumOrder, out[len(args):], w, p.PayloadChecksum.Compute(args))

	return out
}

// openArgs verifies and strips the payload checksum.
func (p *Protocol) openArgs(args []byte) ([]byte, error) {
	w := p.PayloadChecksum.Width
	if p.PayloadChecksum.IsNone() || len(args) == 0 {
		return args, nil
	}

	if len(args) < w {
		return nil, fmt.Errorf("%w: %s: %d payload bytes, no room for the payload checksum",
			ErrMalformedFrame, p.Family, len(args))
	}

	body := args[:len(args)-w]
	got := p.PayloadChecksum.Compute(body)
	embedded := util.Uint(p.PayloadChecksumOrder, args[len(args)-w:], w)
	if got != embedded {
		return nil, fmt.Errorf("%w: %s: payload checksum mismatch, got 0x%X, want 0x%X",
			ErrMalformedFrame, p.Family, got, embedded)
	}

	return body, nil
}

// covered returns the bytes protected by the frame checksum.
func (p *Protocol) covered(prefix []byte, args []byte) []byte {
	if !p.Layout.ChecksumIncludesPrefix || len(prefix) == 0 {
		return args
	}

	buf := make([]byte, 0, len(prefix)+len(args))
	buf = append(buf, prefix...)

	return append(buf, args...)
}

func (p *Protocol) putFields(buf []byte, fields []Field, f *Frame, length uint32, sum uint32) error {
	offset := 0
	for _, fld := range fields {
		var v uint32
		switch fld.Kind {
		case FieldLength:
			v = length
		case FieldChecksum:
			v = sum
		case FieldPadding:
			v = 0
		default:
			v = f.fieldValue(fld.Kind)
		}

		if err := util.PutUint(p.Layout.Order, buf[offset:], fld.Width, v); err != nil {
			return fmt.Errorf("%w: %s %s: %v", ErrFieldOverflow, p.Family, fld.Kind, err)
		}
		offset += fld.Width
	}

	return nil
}

// Encoder wraps a Protocol with a frame counter for families whose header
// carries a sequence number. It is safe for concurrent use.
type Encoder struct {
	proto   *Protocol
	counter atomic.Uint32
	modulo  uint64
}

// NewEncoder creates an Encoder for p. The first encoded frame carries counter 0.
func NewEncoder(p *Protocol) *Encoder {
	e := &Encoder{proto: p}
	if f, ok := p.Layout.field(FieldCounter); ok {
		e.modulo = uint64(util.MaxUint(f.Width)) + 1
	}

	return e
}

// Protocol returns the wrapped descriptor.
func (e *Encoder) Protocol() *Protocol { return e.proto }

// NextCounter reserves and returns the next counter value.
func (e *Encoder) NextCounter() uint32 {
	v := e.counter.Add(1) - 1
	if e.modulo == 0 {
		return 0
	}

	return uint32(uint64(v) % e.modulo)
}

// Encode encodes a command with the next counter value.
func (e *Encoder) Encode(cmd uint16, sub uint16, args []byte) ([]byte, error) {
	return e.EncodeFrame(NewFrame(cmd, sub, args))
}

// EncodeFrame encodes f, overriding its counter with the next counter value
// when the layout has a counter field.
func (e *Encoder) EncodeFrame(f *Frame) ([]byte, error) {
	if e.modulo != 0 {
		f = f.WithCounter(e.NextCounter())
	}

	return e.proto.EncodeFrame(f)
}

// Reset restarts the counter at 0, e.g. after the link reconnects.
func (e *Encoder) Reset() {
	e.counter.Store(0)
}
