package codec

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Xiaomi SPP v2 packet types, carried in the flags field.
const (
	XiaomiPacketAck           uint32 = 1
	XiaomiPacketSessionConfig uint32 = 2
	XiaomiPacketData          uint32 = 3
)

// Xiaomi SPP v2 data channels, carried in the command field.
const (
	XiaomiChannelProtobuf uint16 = 1
	XiaomiChannelData     uint16 = 2
	XiaomiChannelActivity uint16 = 5
)

// Xiaomi session config opcodes, carried in the command field of
// session config packets.
const (
	XiaomiSessionStart   uint16 = 1
	XiaomiSessionStarted uint16 = 2
	XiaomiSessionStop    uint16 = 3
	XiaomiSessionStopped uint16 = 4
)

// Xiaomi session config TLV keys.
const (
	XiaomiKeyVersion       byte = 1
	XiaomiKeyMaxPacketSize byte = 2
	XiaomiKeyTxWindow      byte = 3
	XiaomiKeySendTimeout   byte = 4
)

// SessionConfig holds the parameters negotiated by a Xiaomi session config exchange.
type SessionConfig struct {
	Version       []byte
	MaxPacketSize uint16
	TxWindow      uint16
	SendTimeout   time.Duration
}

// TLV is one [key(1)][length LE16][value] entry.
type TLV struct {
	Key   byte
	Value []byte
}

// EncodeTLVs concatenates entries.
func EncodeTLVs(entries []TLV) []byte {
	size := 0
	for _, e := range entries {
		size += 3 + len(e.Value)
	}

	out := make([]byte, 0, size)
	for _, e := range entries {
		out = append(out, e.Key)
		out = binary.LittleEndian.AppendUint16(out, uint16(len(e.Value)))
		out = append(out, e.Value...)
	}

	return out
}

// DecodeTLVs splits b into entries.
func DecodeTLVs(b []byte) ([]TLV, error) {
	var entries []TLV
	for i := 0; i < len(b); {
		if len(b)-i < 3 {
			return nil, fmt.Errorf("%w: short entry header at %d", ErrInvalidTLV, i)
		}

		key := b[i]
		n := int(binary.LittleEndian.Uint16(b[i+1 : i+3]))
		i += 3
		if len(b)-i < n {
			return nil, fmt.Errorf("%w: key %d needs %d bytes, %d left", ErrInvalidTLV, key, n, len(b)-i)
		}

		value := make([]byte, n)
		copy(value, b[i:i+n])
		entries = append(entries, TLV{Key: key, Value: value})
		i += n
	}

	return entries, nil
}

// NewXiaomiSessionStart builds the session config frame requesting a session
// with the given parameters. The sub-command byte is reserved and zero.
func NewXiaomiSessionStart(cfg SessionConfig) *Frame {
	entries := []TLV{{Key: XiaomiKeyVersion, Value: cfg.Version}}
	if cfg.MaxPacketSize > 0 {
		entries = append(entries, TLV{Key: XiaomiKeyMaxPacketSize, Value: binary.LittleEndian.AppendUint16(nil, cfg.MaxPacketSize)})
	}
	if cfg.TxWindow > 0 {
		entries = append(entries, TLV{Key: XiaomiKeyTxWindow, Value: binary.LittleEndian.AppendUint16(nil, cfg.TxWindow)})
	}
	if cfg.SendTimeout > 0 {
		ms := uint16(cfg.SendTimeout / time.Millisecond)
		entries = append(entries, TLV{Key: XiaomiKeySendTimeout, Value: binary.LittleEndian.AppendUint16(nil, ms)})
	}

	return NewFrame(XiaomiSessionStart, 0, EncodeTLVs(entries)).WithFlags(XiaomiPacketSessionConfig)
}

// NewXiaomiAck builds the acknowledgement packet for sequence number seq.
func NewXiaomiAck(seq uint32) *Frame {
	return NewFrame(0, 0, nil).WithFlags(XiaomiPacketAck).WithCounter(seq)
}

// ParseXiaomiSessionConfig decodes the TLV payload of a session config frame.
// Unknown keys are ignored.
func ParseXiaomiSessionConfig(f *Frame) (SessionConfig, error) {
	if f.flags != XiaomiPacketSessionConfig {
		return SessionConfig{}, fmt.Errorf("%w: packet type %d is not session config", ErrInvalidTLV, f.flags)
	}

	entries, err := DecodeTLVs(f.args)
	if err != nil {
		return SessionConfig{}, err
	}

	var cfg SessionConfig
	for _, e := range entries {
		switch e.Key {
		case XiaomiKeyVersion:
			cfg.Version = e.Value
		case XiaomiKeyMaxPacketSize:
			if len(e.Value) >= 2 {
				cfg.MaxPacketSize = binary.LittleEndian.Uint16(e.Value)
			}
		case XiaomiKeyTxWindow:
			if len(e.Value) >= 2 {
				cfg.TxWindow = binary.LittleEndian.Uint16(e.Value)
			}
		case XiaomiKeySendTimeout:
			if len(e.Value) >= 2 {
				cfg.SendTimeout = time.Duration(binary.LittleEndian.Uint16(e.Value)) * time.Millisecond
			}
		}
	}

	return cfg, nil
}
