package codec

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ===========================================================================
// compact8: fixed 8-byte header
// ===========================================================================

func TestCompact8_EncodeNoArgs(t *testing.T) {
	t.Parallel()

	p := NewCompact8()
	data, err := p.Encode(1, 18, nil)
	require.NoError(t, err)

	require.Len(t, data, 10)
	assert.Equal(t, Compact8Magic, data[0])
	assert.Equal(t, byte(0), data[1], "flags")
	assert.Equal(t, uint16(0), binary.BigEndian.Uint16(data[2:4]), "length field")
	assert.Equal(t, uint16(CRC16CCITT.Compute(nil)), binary.BigEndian.Uint16(data[4:6]), "checksum over zero bytes")
	assert.Equal(t, uint16(0), binary.BigEndian.Uint16(data[6:8]), "counter")
	assert.Equal(t, []byte{0x01, 0x12}, data[8:10], "command and sub-command")
}

func TestCompact8_EncodeWithArgs(t *testing.T) {
	t.Parallel()

	p := NewCompact8()
	args := []byte{0xDE, 0xAD, 0xBE}

	data, err := p.EncodeFrame(NewFrame(0x05, 0x02, args).WithFlags(0x80).WithCounter(0x0102))
	require.NoError(t, err)

	assert.Equal(t, byte(0x80), data[1])
	assert.Equal(t, uint16(3), binary.BigEndian.Uint16(data[2:4]))
	assert.Equal(t, uint16(CRC16CCITT.Compute(args)), binary.BigEndian.Uint16(data[4:6]))
	assert.Equal(t, []byte{0x01, 0x02}, data[6:8])
	assert.Equal(t, args, data[10:])
}

func TestCompact8_FieldOverflow(t *testing.T) {
	t.Parallel()

	p := NewCompact8()
	_, err := p.Encode(0x100, 0, nil)
	assert.ErrorIs(t, err, ErrFieldOverflow)
}

// ===========================================================================
// Round trips
// ===========================================================================

func TestProtocol_RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		proto *Protocol
		frame *Frame
	}{
		{"compact8 empty", NewCompact8(), NewFrame(1, 18, nil)},
		{"compact8 args", NewCompact8(), NewFrame(0x42, 0x07, []byte("hello")).WithCounter(9).WithFlags(1)},
		{"xiaomi data", NewXiaomiSPP(), NewFrame(XiaomiChannelProtobuf, 0x02, []byte{1, 2, 3, 4}).WithFlags(XiaomiPacketData).WithCounter(200)},
		{"cmf chunk", NewCMF(), NewFrame(0x0050, 0x0001, make([]byte, 64)).WithFragment(2, 3)},
		{"thermal", NewThermal(), NewFrame(0xA4, 0x00, []byte{0x33})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.proto.EncodeFrame(tt.frame)
			require.NoError(t, err)

			got, err := tt.proto.Decode(data)
			require.NoError(t, err)

			assert.Equal(t, tt.frame.Command(), got.Command())
			assert.Equal(t, tt.frame.SubCommand(), got.SubCommand())
			assert.Equal(t, tt.frame.Args(), got.Args())
			assert.Equal(t, tt.frame.Flags(), got.Flags())
			assert.Equal(t, tt.frame.Counter(), got.Counter())
			assert.Equal(t, tt.frame.FragmentIndex(), got.FragmentIndex())
			assert.Equal(t, tt.frame.FragmentCount(), got.FragmentCount())
		})
	}
}

func TestXiaomiSPP_LengthCoversPrefix(t *testing.T) {
	t.Parallel()

	p := NewXiaomiSPP()
	data, err := p.EncodeFrame(NewFrame(XiaomiChannelData, 0x01, []byte{0x0A, 0x0B}).WithFlags(XiaomiPacketData).WithCounter(7))
	require.NoError(t, err)

	assert.Equal(t, []byte{0xA5, 0xA5, 0x03, 0x07}, data[0:4])
	assert.Equal(t, uint16(4), binary.LittleEndian.Uint16(data[4:6]))
	assert.Equal(t, uint16(CRC16ARC.Compute([]byte{0x02, 0x01, 0x0A, 0x0B})), binary.LittleEndian.Uint16(data[6:8]))
}

func TestThermal_Layout(t *testing.T) {
	t.Parallel()

	p := NewThermal()
	data, err := p.Encode(0xAF, 0x00, []byte{0x10, 0x27})
	require.NoError(t, err)

	assert.Equal(t, []byte{0x51, 0x78, 0xAF, 0x00, 0x02, 0x00, 0x10, 0x27}, data[:8])
	assert.Equal(t, byte(CRC8.Compute([]byte{0x10, 0x27})), data[8])
	assert.Equal(t, byte(0xFF), data[9])
}

// ===========================================================================
// Decode validation
// ===========================================================================

func TestDecode_MagicMismatch(t *testing.T) {
	t.Parallel()

	p := NewCompact8()
	data, err := p.Encode(1, 2, []byte{3})
	require.NoError(t, err)

	data[0] = 0x00
	data[4] ^= 0xFF // checksum also broken, magic must be reported first

	_, err = p.Decode(data)
	require.ErrorIs(t, err, ErrMalformedFrame)
	assert.ErrorContains(t, err, "magic mismatch")
}

func TestDecode_LengthMismatch(t *testing.T) {
	t.Parallel()

	p := NewCompact8()
	data, err := p.Encode(1, 2, []byte{3, 4})
	require.NoError(t, err)

	_, err = p.Decode(data[:len(data)-1])
	require.ErrorIs(t, err, ErrMalformedFrame)
	assert.ErrorContains(t, err, "length mismatch")

	_, err = p.Decode(append(data, 0x00))
	require.ErrorIs(t, err, ErrMalformedFrame)
	assert.ErrorContains(t, err, "length mismatch")
}

func TestDecode_ChecksumMismatch(t *testing.T) {
	t.Parallel()

	for _, p := range []*Protocol{NewCompact8(), NewXiaomiSPP(), NewThermal()} {
		t.Run(p.Family, func(t *testing.T) {
			data, err := p.Encode(1, 0, []byte{1, 2, 3, 4})
			require.NoError(t, err)

			// flip one args byte
			data[len(data)-1-p.Layout.TrailerSize()] ^= 0x01

			_, err = p.Decode(data)
			require.ErrorIs(t, err, ErrMalformedFrame)
			assert.ErrorContains(t, err, "checksum mismatch")
		})
	}
}

func TestDecode_ShortFrame(t *testing.T) {
	t.Parallel()

	p := NewCompact8()
	_, err := p.Decode([]byte{Compact8Magic, 0x00, 0x00})
	require.ErrorIs(t, err, ErrMalformedFrame)
	assert.ErrorContains(t, err, "short frame")
}

func TestDecode_TerminatorMismatch(t *testing.T) {
	t.Parallel()

	p := NewThermal()
	data, err := p.Encode(0xA3, 0, []byte{1})
	require.NoError(t, err)

	data[len(data)-1] = 0x00
	_, err = p.Decode(data)
	require.ErrorIs(t, err, ErrMalformedFrame)
	assert.ErrorContains(t, err, "terminator")
}

// ===========================================================================
// Encoder counter
// ===========================================================================

func TestEncoder_Counter(t *testing.T) {
	t.Parallel()

	p := NewXiaomiSPP()
	enc := NewEncoder(p)

	for i := 0; i < 3; i++ {
		data, err := enc.Encode(XiaomiChannelProtobuf, 0, nil)
		require.NoError(t, err)

		f, err := p.Decode(data)
		require.NoError(t, err)
		assert.Equal(t, uint32(i), f.Counter())
	}

	enc.Reset()
	assert.Equal(t, uint32(0), enc.NextCounter())
}

func TestEncoder_CounterWraps(t *testing.T) {
	t.Parallel()

	enc := NewEncoder(NewXiaomiSPP()) // 1-byte counter
	for i := 0; i < 256; i++ {
		enc.NextCounter()
	}
	assert.Equal(t, uint32(0), enc.NextCounter())
}

func TestEncoder_NoCounterField(t *testing.T) {
	t.Parallel()

	enc := NewEncoder(NewCMF())
	assert.Equal(t, uint32(0), enc.NextCounter())
	assert.Equal(t, uint32(0), enc.NextCounter())
}

// ===========================================================================
// Layout validation
// ===========================================================================

func TestProtocol_Validate(t *testing.T) {
	t.Parallel()

	for _, p := range []*Protocol{NewCompact8(), NewXiaomiSPP(), NewCMF(), NewThermal()} {
		assert.NoError(t, p.Validate(), p.Family)
	}

	bad := NewCompact8()
	bad.Checksum = CRC8 // 1-byte strategy, 2-byte field
	assert.ErrorIs(t, bad.Validate(), ErrInvalidLayout)

	noLen := NewThermal()
	noLen.Layout.Header = []Field{{Kind: FieldCommand, Width: 1}}
	assert.ErrorIs(t, noLen.Validate(), ErrInvalidLayout)

	badWidth := NewCMF()
	badWidth.Layout.Header[0].Width = 3
	assert.ErrorIs(t, badWidth.Validate(), ErrInvalidLayout)

	noOrder := NewCMF()
	noOrder.Layout.Order = nil
	assert.ErrorIs(t, noOrder.Validate(), ErrInvalidLayout)
}

func TestFrame_Immutable(t *testing.T) {
	t.Parallel()

	args := []byte{1, 2, 3}
	f := NewFrame(1, 2, args)
	args[0] = 9

	assert.Equal(t, []byte{1, 2, 3}, f.Args())

	out := f.Args()
	out[1] = 9
	assert.Equal(t, []byte{1, 2, 3}, f.Args())

	g := f.WithCounter(5)
	assert.Equal(t, uint32(0), f.Counter())
	assert.Equal(t, uint32(5), g.Counter())
}
