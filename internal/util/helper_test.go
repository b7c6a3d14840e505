package util

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloneSlice(t *testing.T) {
	src := []byte{1, 2, 3}

	clone := CloneSlice(src, 0)
	assert.Equal(t, src, clone)

	clone[0] = 9
	assert.Equal(t, byte(1), src[0])

	padded := CloneSlice(src, 5)
	assert.Equal(t, []byte{1, 2, 3, 0, 0}, padded)
}

func TestPutUintAndUint(t *testing.T) {
	tests := []struct {
		name  string
		order binary.ByteOrder
		width int
		value uint32
		want  []byte
	}{
		{"u8", binary.BigEndian, 1, 0xAB, []byte{0xAB}},
		{"u16 BE", binary.BigEndian, 2, 0x1234, []byte{0x12, 0x34}},
		{"u16 LE", binary.LittleEndian, 2, 0x1234, []byte{0x34, 0x12}},
		{"u32 LE", binary.LittleEndian, 4, 0x01020304, []byte{0x04, 0x03, 0x02, 0x01}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, tt.width)
			require.NoError(t, PutUint(tt.order, buf, tt.width, tt.value))
			assert.Equal(t, tt.want, buf)
			assert.Equal(t, tt.value, Uint(tt.order, buf, tt.width))
		})
	}
}

func TestPutUint_Overflow(t *testing.T) {
	buf := make([]byte, 4)
	assert.Error(t, PutUint(binary.BigEndian, buf, 1, 0x100))
	assert.Error(t, PutUint(binary.BigEndian, buf, 2, 0x10000))
	assert.Error(t, PutUint(binary.BigEndian, buf, 3, 1))
	assert.Equal(t, uint32(0xFFFF), MaxUint(2))
}
