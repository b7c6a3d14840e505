package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/arloliu/go-wearlink/internal/util"
)

// Fragment is one piece of a multi-fragment transfer with its numbering
// header stripped.
type Fragment struct {
	// TransferID identifies the reassembly slot.
	TransferID uint32
	// Index is 1-based; Index 1 starts a new transfer.
	Index uint16
	// Total is the number of fragments in the transfer.
	Total uint16
	// Data is the fragment payload.
	Data []byte
}

// IsFirst returns true for the first fragment of a transfer.
func (f Fragment) IsFirst() bool { return f.Index == 1 }

// IsLast returns true for the final fragment of a transfer.
func (f Fragment) IsLast() bool { return f.Index >= f.Total }

// FragmentLayout describes how a family numbers the fragments of a transfer.
type FragmentLayout interface {
	// Parse extracts the fragment numbering from an inbound frame.
	// ok is false when the frame is a standalone message.
	Parse(f *Frame) (frag Fragment, ok bool, err error)
	// Build wraps one chunk of an outgoing transfer into a frame.
	Build(cmd uint16, sub uint16, index uint16, total uint16, chunk []byte) *Frame
	// Overhead returns the args bytes consumed by numbering in each fragment.
	Overhead() int
}

// PrefixFragments numbers fragments with a (total, index) pair at the start
// of the frame args. Commands lists the command codes that carry fragments;
// the command code doubles as the transfer id.
type PrefixFragments struct {
	Order    binary.ByteOrder
	Width    int
	Commands []uint16
}

var _ FragmentLayout = (*PrefixFragments)(nil)

// Parse implements FragmentLayout.
func (p *PrefixFragments) Parse(f *Frame) (Fragment, bool, error) {
	if !p.matches(f.command) {
		return Fragment{}, false, nil
	}

	if len(f.args) < 2*p.Width {
		return Fragment{}, false, fmt.Errorf("%w: %d args bytes", ErrInvalidFragment, len(f.args))
	}

	total := util.Uint(p.Order, f.args, p.Width)
	index := util.Uint(p.Order, f.args[p.Width:], p.Width)
	if index == 0 || total == 0 || index > total {
		return Fragment{}, false, fmt.Errorf("%w: index %d of %d", ErrInvalidFragment, index, total)
	}

	return Fragment{
		TransferID: uint32(f.command),
		Index:      uint16(index),
		Total:      uint16(total),
		Data:       util.CloneSlice(f.args[2*p.Width:], 0),
	}, true, nil
}

// Build implements FragmentLayout.
func (p *PrefixFragments) Build(cmd uint16, sub uint16, index uint16, total uint16, chunk []byte) *Frame {
	args := make([]byte, 2*p.Width+len(chunk))
	_ = util.PutUint(p.Order, args, p.Width, uint32(total))
	_ = util.PutUint(p.Order, args[p.Width:], p.Width, uint32(index))
	copy(args[2*p.Width:], chunk)

	return &Frame{command: cmd, subCommand: sub, args: args}
}

// Overhead implements FragmentLayout.
func (p *PrefixFragments) Overhead() int { return 2 * p.Width }

func (p *PrefixFragments) matches(cmd uint16) bool {
	for _, c := range p.Commands {
		if c == cmd {
			return true
		}
	}

	return false
}

// HeaderFragments takes the fragment numbering from the FieldFragmentIndex
// and FieldFragmentCount header fields. Frames with a count above 1 are
// fragments and the command code is their transfer id; the rest are
// standalone messages.
type HeaderFragments struct{}

var _ FragmentLayout = HeaderFragments{}

// Parse implements FragmentLayout.
func (HeaderFragments) Parse(f *Frame) (Fragment, bool, error) {
	if f.fragCount <= 1 {
		return Fragment{}, false, nil
	}

	if f.fragIndex == 0 || f.fragIndex > f.fragCount {
		return Fragment{}, false, fmt.Errorf("%w: index %d of %d", ErrInvalidFragment, f.fragIndex, f.fragCount)
	}

	return Fragment{
		TransferID: uint32(f.command),
		Index:      f.fragIndex,
		Total:      f.fragCount,
		Data:       util.CloneSlice(f.args, 0),
	}, true, nil
}

// Build implements FragmentLayout.
func (HeaderFragments) Build(cmd uint16, sub uint16, index uint16, total uint16, chunk []byte) *Frame {
	return &Frame{
		command:    cmd,
		subCommand: sub,
		fragIndex:  index,
		fragCount:  total,
		args:       util.CloneSlice(chunk, 0),
	}
}

// Overhead implements FragmentLayout.
func (HeaderFragments) Overhead() int { return 0 }

// AppendTransferChecksum returns payload followed by its trailing transfer checksum.
func (p *Protocol) AppendTransferChecksum(payload []byte) []byte {
	if p.TransferChecksum.IsNone() {
		return util.CloneSlice(payload, 0)
	}

	w := p.TransferChecksum.Width
	out := make([]byte, len(payload)+w)
	copy(out, payload)
	_ = util.PutUint(p.TransferChecksumOrder, out[len(payload):], w, p.TransferChecksum.Compute(payload))

	return out
}

// SplitPayload splits payload into fragment frames bounded by mtu.
//
// The trailing transfer checksum is appended before splitting, so the
// receiver can verify the reassembled buffer.
func (p *Protocol) SplitPayload(cmd uint16, sub uint16, payload []byte, mtu int) ([]*Frame, error) {
	if p.Fragments == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoFragmentSupport, p.Family)
	}

	buf := p.AppendTransferChecksum(payload)
	chunkSize := p.MaxArgs(mtu) - p.Fragments.Overhead()
	if chunkSize < 1 {
		return nil, fmt.Errorf("%w: mtu %d too small for %s", ErrInvalidFragment, mtu, p.Family)
	}

	total := (len(buf) + chunkSize - 1) / chunkSize
	if total == 0 {
		total = 1
	}
	if total > 0xFFFF {
		return nil, fmt.Errorf("%w: %d fragments", ErrInvalidFragment, total)
	}

	frames := make([]*Frame, 0, total)
	for i := 0; i < total; i++ {
		start := i * chunkSize
		end := min(start+chunkSize, len(buf))
		frames = append(frames, p.Fragments.Build(cmd, sub, uint16(i+1), uint16(total), buf[start:end]))
	}

	return frames, nil
}
