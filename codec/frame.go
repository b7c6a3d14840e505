package codec

import (
	"fmt"

	"github.com/arloliu/go-wearlink/internal/util"
)

// Frame is one decoded or to-be-encoded wire unit.
//
// A Frame is never mutated after construction; the With* methods return
// modified copies.
type Frame struct {
	command    uint16
	subCommand uint16
	flags      uint32
	counter    uint32
	fragIndex  uint16
	fragCount  uint16
	args       []byte
}

// NewFrame creates a frame carrying the command code, sub-code and argument bytes.
// args is copied.
func NewFrame(cmd uint16, sub uint16, args []byte) *Frame {
	return &Frame{
		command:    cmd,
		subCommand: sub,
		args:       util.CloneSlice(args, 0),
	}
}

// Command returns the command code.
func (f *Frame) Command() uint16 { return f.command }

// SubCommand returns the sub-code.
func (f *Frame) SubCommand() uint16 { return f.subCommand }

// Flags returns the header flags value.
func (f *Frame) Flags() uint32 { return f.flags }

// Counter returns the sequence counter value.
func (f *Frame) Counter() uint32 { return f.counter }

// FragmentIndex returns the 1-based fragment index carried in the header, or 0.
func (f *Frame) FragmentIndex() uint16 { return f.fragIndex }

// FragmentCount returns the fragment count carried in the header, or 0.
func (f *Frame) FragmentCount() uint16 { return f.fragCount }

// Args returns a copy of the argument bytes.
func (f *Frame) Args() []byte { return util.CloneSlice(f.args, 0) }

// ArgsLen returns the number of argument bytes.
func (f *Frame) ArgsLen() int { return len(f.args) }

// WithFlags returns a copy of the frame with flags set.
func (f *Frame) WithFlags(flags uint32) *Frame {
	c := *f
	c.flags = flags

	return &c
}

// WithCounter returns a copy of the frame with the counter set.
func (f *Frame) WithCounter(counter uint32) *Frame {
	c := *f
	c.counter = counter

	return &c
}

// WithFragment returns a copy of the frame carrying a fragment index and count.
func (f *Frame) WithFragment(index uint16, count uint16) *Frame {
	c := *f
	c.fragIndex = index
	c.fragCount = count

	return &c
}

// String returns a short description used in logs.
func (f *Frame) String() string {
	return fmt.Sprintf("cmd=0x%02X sub=0x%02X flags=0x%X counter=%d args=%d",
		f.command, f.subCommand, f.flags, f.counter, len(f.args))
}

// fieldValue returns the value written for a field of kind k.
func (f *Frame) fieldValue(k FieldKind) uint32 {
	switch k {
	case FieldFlags:
		return f.flags
	case FieldCounter:
		return f.counter
	case FieldCommand:
		return uint32(f.command)
	case FieldSubCommand:
		return uint32(f.subCommand)
	case FieldFragmentCount:
		return uint32(f.fragCount)
	case FieldFragmentIndex:
		return uint32(f.fragIndex)
	default:
		return 0
	}
}

// setFieldValue stores a decoded field value.
func (f *Frame) setFieldValue(k FieldKind, v uint32) {
	switch k {
	case FieldFlags:
		f.flags = v
	case FieldCounter:
		f.counter = v
	case FieldCommand:
		f.command = uint16(v)
	case FieldSubCommand:
		f.subCommand = uint16(v)
	case FieldFragmentCount:
		f.fragCount = uint16(v)
	case FieldFragmentIndex:
		f.fragIndex = uint16(v)
	}
}
