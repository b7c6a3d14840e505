package codec

import (
	"encoding/binary"
	"fmt"
	"time"
)

// FileIDSize is the packed size of a FileID.
const FileIDSize = 7

// DetailType distinguishes the parts of one recorded activity.
type DetailType uint8

// Detail types as packed in the low two bits of the FileID flags.
const (
	DetailTypeDetails  DetailType = 0
	DetailTypeSummary  DetailType = 1
	DetailTypeGPSTrack DetailType = 2
)

// String returns the detail type name.
func (d DetailType) String() string {
	switch d {
	case DetailTypeDetails:
		return "details"
	case DetailTypeSummary:
		return "summary"
	case DetailTypeGPSTrack:
		return "gps-track"
	default:
		return fmt.Sprintf("detail-type(%d)", uint8(d))
	}
}

// Rank orders detail types for fetching: summaries first, then details,
// then tracks.
func (d DetailType) Rank() int {
	switch d {
	case DetailTypeSummary:
		return 0
	case DetailTypeDetails:
		return 1
	case DetailTypeGPSTrack:
		return 2
	default:
		return 3
	}
}

// FileID is the identifier embedded at the start of a completed transfer,
// used to select the downstream parser.
//
// Packed layout (little endian, 7 bytes):
//
//	[timestamp int32][tz int8, 15 minute units][version][flags]
//
// flags: bit 7 = type, bits 2..6 = subtype, bits 0..1 = detail type.
type FileID struct {
	Timestamp  time.Time
	TZOffset   time.Duration
	Version    uint8
	Type       uint8
	Subtype    uint8
	DetailType DetailType
}

// FileIDDecoder extracts a FileID from a completed transfer payload.
type FileIDDecoder func(payload []byte) (FileID, error)

// Pack encodes the FileID into its 7-byte form.
func (id FileID) Pack() []byte {
	buf := make([]byte, FileIDSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(int32(id.Timestamp.Unix())))
	buf[4] = byte(int8(id.TZOffset / (15 * time.Minute)))
	buf[5] = id.Version
	buf[6] = (id.Type&0x01)<<7 | (id.Subtype&0x1F)<<2 | byte(id.DetailType)&0x03

	return buf
}

// Key returns a stable string identifying the FileID, used for de-duplication.
func (id FileID) Key() string {
	return fmt.Sprintf("%x", id.Pack())
}

// String returns a short description used in logs.
func (id FileID) String() string {
	return fmt.Sprintf("%s type=%d subtype=%d %s v%d",
		id.Timestamp.UTC().Format(time.RFC3339), id.Type, id.Subtype, id.DetailType, id.Version)
}

// UnpackFileID decodes a 7-byte packed FileID from the start of b.
func UnpackFileID(b []byte) (FileID, error) {
	if len(b) < FileIDSize {
		return FileID{}, fmt.Errorf("%w: %d bytes", ErrInvalidFileID, len(b))
	}

	ts := int32(binary.LittleEndian.Uint32(b[0:4]))
	tz := int8(b[4])
	flags := b[6]

	return FileID{
		Timestamp:  time.Unix(int64(ts), 0).UTC(),
		TZOffset:   time.Duration(tz) * 15 * time.Minute,
		Version:    b[5],
		Type:       (flags >> 7) & 0x01,
		Subtype:    (flags & 0x7F) >> 2,
		DetailType: DetailType(flags & 0x03),
	}, nil
}

// PrefixFileID is a FileIDDecoder reading the FileID from the first bytes of the payload.
func PrefixFileID(payload []byte) (FileID, error) {
	return UnpackFileID(payload)
}
