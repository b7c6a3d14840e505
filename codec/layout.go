package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/arloliu/go-wearlink/internal/util"
)

// FieldKind identifies the meaning of a header field.
type FieldKind uint8

// Header field kinds.
const (
	FieldFlags FieldKind = iota + 1
	FieldLength
	FieldChecksum
	FieldCounter
	FieldCommand
	FieldSubCommand
	FieldFragmentCount
	FieldFragmentIndex
	FieldPadding
)

// String returns the field kind name.
func (k FieldKind) String() string {
	switch k {
	case FieldFlags:
		return "flags"
	case FieldLength:
		return "length"
	case FieldChecksum:
		return "checksum"
	case FieldCounter:
		return "counter"
	case FieldCommand:
		return "command"
	case FieldSubCommand:
		return "sub-command"
	case FieldFragmentCount:
		return "fragment-count"
	case FieldFragmentIndex:
		return "fragment-index"
	case FieldPadding:
		return "padding"
	default:
		return "unknown"
	}
}

// Field is one fixed-width integer field. Width must be 1, 2 or 4.
type Field struct {
	Kind  FieldKind
	Width int
}

// Layout describes the byte layout of one family's frames:
//
//	[Magic][Header fields][Prefix fields][Args][Trailer fields][Terminator]
//
// Prefix holds the command and sub-command when they follow the header
// instead of being part of it. LengthIncludesPrefix and
// ChecksumIncludesPrefix select whether those bytes count towards the length
// field and the checksum; the args always do.
type Layout struct {
	Magic      []byte
	Order      binary.ByteOrder
	Header     []Field
	Prefix     []Field
	Trailer    []Field
	Terminator []byte

	LengthIncludesPrefix   bool
	ChecksumIncludesPrefix bool
}

// HeaderSize returns the number of bytes before the prefix, magic included.
func (l *Layout) HeaderSize() int {
	return len(l.Magic) + fieldsSize(l.Header)
}

// PrefixSize returns the number of command prefix bytes.
func (l *Layout) PrefixSize() int {
	return fieldsSize(l.Prefix)
}

// TrailerSize returns the number of bytes after the args, terminator included.
func (l *Layout) TrailerSize() int {
	return fieldsSize(l.Trailer) + len(l.Terminator)
}

// Overhead returns the number of frame bytes that are not args.
func (l *Layout) Overhead() int {
	return l.HeaderSize() + l.PrefixSize() + l.TrailerSize()
}

// HasField reports whether the layout carries a field of kind k anywhere.
func (l *Layout) HasField(k FieldKind) bool {
	_, ok := l.field(k)
	return ok
}

// FrameSize returns the total size of the frame starting at buf[0], using the
// declared length field. ok is false when buf does not yet hold a full header.
func (l *Layout) FrameSize(buf []byte) (size int, ok bool) {
	if len(buf) < l.HeaderSize() {
		return 0, false
	}

	declared, found := l.headerValue(buf, FieldLength)
	if !found {
		return 0, false
	}

	size = l.HeaderSize() + int(declared) + l.TrailerSize()
	if !l.LengthIncludesPrefix {
		size += l.PrefixSize()
	}

	return size, true
}

// Validate checks that the layout is usable.
func (l *Layout) Validate() error {
	if len(l.Magic) == 0 {
		return fmt.Errorf("%w: empty magic", ErrInvalidLayout)
	}

	seen := make(map[FieldKind]bool)
	multiByte := false
	for _, group := range [][]Field{l.Header, l.Prefix, l.Trailer} {
		for _, f := range group {
			if f.Width != 1 && f.Width != 2 && f.Width != 4 {
				return fmt.Errorf("%w: %s field width %d", ErrInvalidLayout, f.Kind, f.Width)
			}
			if f.Kind != FieldPadding && seen[f.Kind] {
				return fmt.Errorf("%w: duplicate %s field", ErrInvalidLayout, f.Kind)
			}
			seen[f.Kind] = true
			multiByte = multiByte || f.Width > 1
		}
	}

	for _, f := range l.Prefix {
		if f.Kind != FieldCommand && f.Kind != FieldSubCommand {
			return fmt.Errorf("%w: %s field not allowed in prefix", ErrInvalidLayout, f.Kind)
		}
	}

	for _, f := range l.Trailer {
		if f.Kind != FieldChecksum && f.Kind != FieldPadding {
			return fmt.Errorf("%w: %s field not allowed in trailer", ErrInvalidLayout, f.Kind)
		}
	}

	if !seen[FieldLength] {
		return fmt.Errorf("%w: missing length field", ErrInvalidLayout)
	}

	for _, f := range l.Prefix {
		if _, inHeader := l.headerField(f.Kind); inHeader {
			return fmt.Errorf("%w: %s in both header and prefix", ErrInvalidLayout, f.Kind)
		}
	}

	if multiByte && l.Order == nil {
		return fmt.Errorf("%w: byte order required for multi-byte fields", ErrInvalidLayout)
	}

	return nil
}

// field returns the first field of kind k.
func (l *Layout) field(k FieldKind) (Field, bool) {
	for _, group := range [][]Field{l.Header, l.Prefix, l.Trailer} {
		for _, f := range group {
			if f.Kind == k {
				return f, true
			}
		}
	}

	return Field{}, false
}

func (l *Layout) headerField(k FieldKind) (Field, bool) {
	for _, f := range l.Header {
		if f.Kind == k {
			return f, true
		}
	}

	return Field{}, false
}

// headerValue reads the value of the header field of kind k from buf.
func (l *Layout) headerValue(buf []byte, k FieldKind) (uint32, bool) {
	offset := len(l.Magic)
	for _, f := range l.Header {
		if f.Kind == k {
			return util.Uint(l.Order, buf[offset:], f.Width), true
		}
		offset += f.Width
	}

	return 0, false
}

func fieldsSize(fields []Field) int {
	n := 0
	for _, f := range fields {
		n += f.Width
	}

	return n
}
