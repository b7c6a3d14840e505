// Package util holds small byte-level helpers shared by the codec and reassembly packages.
package util

import (
	"encoding/binary"
	"fmt"
)

// CloneSlice clones slice with cloneSize.
// This function will use src length as the clone size if cloneSize is 0.
func CloneSlice[T any](src []T, cloneSize int) []T {
	if cloneSize == 0 {
		cloneSize = len(src)
	}
	clone := make([]T, cloneSize)
	copy(clone, src)

	return clone
}

// PutUint writes v into buf[:width] using order. width must be 1, 2 or 4.
//
// It returns an error if v does not fit in width bytes.
func PutUint(order binary.ByteOrder, buf []byte, width int, v uint32) error {
	switch width {
	case 1:
		if v > 0xFF {
			return fmt.Errorf("value %d overflows 1 byte", v)
		}
		buf[0] = byte(v)
	case 2:
		if v > 0xFFFF {
			return fmt.Errorf("value %d overflows 2 bytes", v)
		}
		order.PutUint16(buf, uint16(v))
	case 4:
		order.PutUint32(buf, v)
	default:
		return fmt.Errorf("unsupported field width %d", width)
	}

	return nil
}

// Uint reads a width-byte unsigned integer from buf using order.
// width must be 1, 2 or 4; other widths return 0.
func Uint(order binary.ByteOrder, buf []byte, width int) uint32 {
	switch width {
	case 1:
		return uint32(buf[0])
	case 2:
		return uint32(order.Uint16(buf))
	case 4:
		return order.Uint32(buf)
	default:
		return 0
	}
}

// MaxUint returns the largest value representable in width bytes.
func MaxUint(width int) uint32 {
	switch width {
	case 1:
		return 0xFF
	case 2:
		return 0xFFFF
	default:
		return 0xFFFFFFFF
	}
}
