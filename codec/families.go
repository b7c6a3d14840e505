package codec

import (
	"encoding/binary"
)

// Built-in family names.
const (
	FamilyCompact8  = "compact8"
	FamilyXiaomiSPP = "xiaomi-spp"
	FamilyCMF       = "cmf"
	FamilyThermal   = "thermal"
)

// compact8 constants.
const (
	Compact8Magic byte = 0xAB

	// Compact8FlagStream marks sub-stream frames; their command is the handle.
	Compact8FlagStream uint32 = 0x01

	Compact8CmdTransfer    uint16 = 0x20
	Compact8CmdStreamOpen  uint16 = 0x10
	Compact8CmdStreamClose uint16 = 0x11
	Compact8CmdOpenAck     uint16 = 0x90
	Compact8CmdCloseAck    uint16 = 0x91
)

// NewCompact8 returns the descriptor of the compact8 family.
//
// Frames have a fixed 8-byte header followed by the command and sub-command
// bytes, which are not counted by the length field nor the checksum:
//
//	[AB][flags][length BE16][crc16-ccitt BE16][counter BE16][cmd][sub][args...]
func NewCompact8() *Protocol {
	return &Protocol{
		Family:      FamilyCompact8,
		Description: "fixed 8-byte header, CRC-16/CCITT over args, big endian",
		Layout: Layout{
			Magic: []byte{Compact8Magic},
			Order: binary.BigEndian,
			Header: []Field{
				{Kind: FieldFlags, Width: 1},
				{Kind: FieldLength, Width: 2},
				{Kind: FieldChecksum, Width: 2},
				{Kind: FieldCounter, Width: 2},
			},
			Prefix: []Field{
				{Kind: FieldCommand, Width: 1},
				{Kind: FieldSubCommand, Width: 1},
			},
		},
		Checksum: CRC16CCITT,
		Fragments: &PrefixFragments{
			Order:    binary.BigEndian,
			Width:    1,
			Commands: []uint16{Compact8CmdTransfer},
		},
		TransferChecksum:      CRC32,
		TransferChecksumOrder: binary.LittleEndian,
		FileID:                PrefixFileID,
		SubStreams: &SubStreams{
			OpenCommand:     Compact8CmdStreamOpen,
			CloseCommand:    Compact8CmdStreamClose,
			OpenAckCommand:  Compact8CmdOpenAck,
			CloseAckCommand: Compact8CmdCloseAck,
			StreamFlag:      Compact8FlagStream,
		},
		MTU: 185,
	}
}

// NewXiaomiSPP returns the descriptor of the Xiaomi SPP v2 family.
//
//	[A5 A5][type][seq][length LE16][crc16-arc LE16][channel][opcode][data...]
//
// The length and the checksum cover channel, opcode and data. Activity data
// arrives on ChannelActivity as numbered fragments of a CRC-32 protected
// buffer that starts with a packed FileID.
func NewXiaomiSPP() *Protocol {
	return &Protocol{
		Family:      FamilyXiaomiSPP,
		Description: "Xiaomi SPP v2 packets, CRC-16/ARC, little endian",
		Layout: Layout{
			Magic: []byte{0xA5, 0xA5},
			Order: binary.LittleEndian,
			Header: []Field{
				{Kind: FieldFlags, Width: 1},
				{Kind: FieldCounter, Width: 1},
				{Kind: FieldLength, Width: 2},
				{Kind: FieldChecksum, Width: 2},
			},
			Prefix: []Field{
				{Kind: FieldCommand, Width: 1},
				{Kind: FieldSubCommand, Width: 1},
			},
			LengthIncludesPrefix:   true,
			ChecksumIncludesPrefix: true,
		},
		Checksum: CRC16ARC,
		Fragments: &PrefixFragments{
			Order:    binary.LittleEndian,
			Width:    2,
			Commands: []uint16{XiaomiChannelActivity},
		},
		TransferChecksum:      CRC32,
		TransferChecksumOrder: binary.LittleEndian,
		FileID:                PrefixFileID,
		MTU:                   DefaultMTU,
	}
}

// NewCMF returns the descriptor of the CMF watch family.
//
//	[F5][length BE16][cmd BE16][count BE16][index BE16][sub BE16][chunk...][crc32 LE]
//
// Every non-empty chunk ends with the CRC-32 of its bytes. Frames with a
// count of 0 or 1 are standalone commands.
func NewCMF() *Protocol {
	return &Protocol{
		Family:      FamilyCMF,
		Description: "CMF chunked commands, CRC-32 per chunk, big endian",
		Layout: Layout{
			Magic: []byte{0xF5},
			Order: binary.BigEndian,
			Header: []Field{
				{Kind: FieldLength, Width: 2},
				{Kind: FieldCommand, Width: 2},
				{Kind: FieldFragmentCount, Width: 2},
				{Kind: FieldFragmentIndex, Width: 2},
				{Kind: FieldSubCommand, Width: 2},
			},
		},
		Checksum:             NoChecksum,
		PayloadChecksum:      CRC32,
		PayloadChecksumOrder: binary.LittleEndian,
		Fragments:            HeaderFragments{},
		TransferChecksum:     NoChecksum,
		MTU:                  DefaultMTU,
	}
}

// NewThermal returns the descriptor of the thermal printer family.
//
//	[51 78][cmd][direction][length][00][payload...][crc8][FF]
//
// The sub-command carries the direction: 0 for requests, 1 for responses.
func NewThermal() *Protocol {
	return &Protocol{
		Family:      FamilyThermal,
		Description: "thermal printer commands, CRC-8 trailer, 0xFF terminator",
		Layout: Layout{
			Magic: []byte{0x51, 0x78},
			Order: binary.LittleEndian,
			Header: []Field{
				{Kind: FieldCommand, Width: 1},
				{Kind: FieldSubCommand, Width: 1},
				{Kind: FieldLength, Width: 1},
				{Kind: FieldPadding, Width: 1},
			},
			Trailer:    []Field{{Kind: FieldChecksum, Width: 1}},
			Terminator: []byte{0xFF},
		},
		Checksum: CRC8,
		MTU:      200,
	}
}
