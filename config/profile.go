// Package config loads link profiles from TOML files.
//
// A profile names the device family, how to reach the device and the link
// timeouts. Keys that are absent keep their defaults.
//
//	family = "xiaomi-spp"
//	trace_file = "/var/tmp/band.trace"
//
//	[transport]
//	kind = "serial"
//	port = "/dev/rfcomm0"
//	baud = 115200
//
//	[link]
//	operation_timeout = "5s"
//	fragment_timeout = "5s"
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.bug.st/serial"

	"github.com/arloliu/go-wearlink/codec"
	"github.com/arloliu/go-wearlink/link"
	"github.com/arloliu/go-wearlink/logger"
	"github.com/arloliu/go-wearlink/transport"
)

// Transport kinds.
const (
	TransportSerial = "serial"
	TransportTCP    = "tcp"
)

// ErrInvalidProfile is returned for profiles that fail validation.
var ErrInvalidProfile = errors.New("config: invalid profile")

// TransportProfile tells how to reach the device.
type TransportProfile struct {
	Kind     string `yaml:"kind"`
	Port     string `yaml:"port,omitempty"`
	Address  string `yaml:"address,omitempty"`
	Baud     int    `yaml:"baud,omitempty"`
	DataBits int    `yaml:"data_bits,omitempty"`
	Parity   string `yaml:"parity,omitempty"`
	StopBits string `yaml:"stop_bits,omitempty"`
}

// Profile is a decoded link profile.
type Profile struct {
	Family    string
	LogLevel  string
	TraceFile string
	Transport TransportProfile

	OperationTimeout time.Duration
	FragmentTimeout  time.Duration
	RequestTimeout   time.Duration
	MTU              int
	InboundQueueSize int
}

// DefaultProfile returns a serial profile with the link defaults.
func DefaultProfile() Profile {
	mode := transport.DefaultSerialMode()

	return Profile{
		Family:   codec.FamilyCompact8,
		LogLevel: "info",
		Transport: TransportProfile{
			Kind:     TransportSerial,
			Baud:     mode.BaudRate,
			DataBits: mode.DataBits,
			Parity:   "none",
			StopBits: "1",
		},
		OperationTimeout: link.DefaultOperationTimeout,
		FragmentTimeout:  link.DefaultFragmentTimeout,
		RequestTimeout:   link.DefaultRequestTimeout,
		InboundQueueSize: link.DefaultInboundQueueSize,
	}
}

// file mirrors the TOML keys.
type file struct {
	Family    string        `toml:"family"`
	LogLevel  string        `toml:"log_level"`
	TraceFile string        `toml:"trace_file"`
	Transport fileTransport `toml:"transport"`
	Link      fileLink      `toml:"link"`
}

type fileTransport struct {
	Kind     string `toml:"kind"`
	Port     string `toml:"port"`
	Address  string `toml:"address"`
	Baud     int    `toml:"baud"`
	DataBits int    `toml:"data_bits"`
	Parity   string `toml:"parity"`
	StopBits string `toml:"stop_bits"`
}

type fileLink struct {
	OperationTimeout string `toml:"operation_timeout"`
	FragmentTimeout  string `toml:"fragment_timeout"`
	RequestTimeout   string `toml:"request_timeout"`
	MTU              int    `toml:"mtu"`
	InboundQueueSize int    `toml:"inbound_queue_size"`
}

// Load reads the profile at path over the defaults.
func Load(path string) (Profile, error) {
	var raw file
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Profile{}, fmt.Errorf("config: load %s: %w", path, err)
	}

	return fromFile(raw, meta)
}

// Parse decodes a profile from TOML text over the defaults.
func Parse(data string) (Profile, error) {
	var raw file
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return Profile{}, fmt.Errorf("config: parse: %w", err)
	}

	return fromFile(raw, meta)
}

func fromFile(raw file, meta toml.MetaData) (Profile, error) {
	p := DefaultProfile()

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Profile{}, fmt.Errorf("%w: unknown key %q", ErrInvalidProfile, undecoded[0].String())
	}

	if meta.IsDefined("family") {
		p.Family = strings.TrimSpace(raw.Family)
	}
	if meta.IsDefined("log_level") {
		p.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("trace_file") {
		p.TraceFile = strings.TrimSpace(raw.TraceFile)
	}

	if meta.IsDefined("transport", "kind") {
		p.Transport.Kind = strings.ToLower(strings.TrimSpace(raw.Transport.Kind))
	}
	if meta.IsDefined("transport", "port") {
		p.Transport.Port = strings.TrimSpace(raw.Transport.Port)
	}
	if meta.IsDefined("transport", "address") {
		p.Transport.Address = strings.TrimSpace(raw.Transport.Address)
	}
	if meta.IsDefined("transport", "baud") {
		p.Transport.Baud = raw.Transport.Baud
	}
	if meta.IsDefined("transport", "data_bits") {
		p.Transport.DataBits = raw.Transport.DataBits
	}
	if meta.IsDefined("transport", "parity") {
		p.Transport.Parity = strings.ToLower(strings.TrimSpace(raw.Transport.Parity))
	}
	if meta.IsDefined("transport", "stop_bits") {
		p.Transport.StopBits = strings.TrimSpace(raw.Transport.StopBits)
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"operation_timeout", raw.Link.OperationTimeout, &p.OperationTimeout},
		{"fragment_timeout", raw.Link.FragmentTimeout, &p.FragmentTimeout},
		{"request_timeout", raw.Link.RequestTimeout, &p.RequestTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined("link", d.key) {
			continue
		}

		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Profile{}, fmt.Errorf("%w: link.%s: %w", ErrInvalidProfile, d.key, err)
		}
		*d.dst = v
	}

	if meta.IsDefined("link", "mtu") {
		p.MTU = raw.Link.MTU
	}
	if meta.IsDefined("link", "inbound_queue_size") {
		p.InboundQueueSize = raw.Link.InboundQueueSize
	}

	if err := p.Validate(); err != nil {
		return Profile{}, err
	}

	return p, nil
}

// Validate checks the values that options cannot check on their own.
func (p Profile) Validate() error {
	if p.Family == "" {
		return fmt.Errorf("%w: family is required", ErrInvalidProfile)
	}

	if _, ok := logger.ParseLevel(p.LogLevel); !ok {
		return fmt.Errorf("%w: unknown log level %q", ErrInvalidProfile, p.LogLevel)
	}

	switch p.Transport.Kind {
	case TransportSerial:
		if p.Transport.Port == "" {
			return fmt.Errorf("%w: transport.port is required for serial", ErrInvalidProfile)
		}
		if _, err := p.SerialMode(); err != nil {
			return err
		}
	case TransportTCP:
		if p.Transport.Address == "" {
			return fmt.Errorf("%w: transport.address is required for tcp", ErrInvalidProfile)
		}
	default:
		return fmt.Errorf("%w: unknown transport kind %q", ErrInvalidProfile, p.Transport.Kind)
	}

	if _, err := link.NewLinkConfig(p.LinkOptions()...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidProfile, err)
	}

	return nil
}

// Level returns the profile log level.
func (p Profile) Level() logger.LogLevel {
	level, _ := logger.ParseLevel(p.LogLevel)
	return level
}

// LinkOptions converts the link section into link options. Zero values keep
// the link defaults.
func (p Profile) LinkOptions() []link.LinkOption {
	var opts []link.LinkOption

	if p.OperationTimeout != 0 {
		opts = append(opts, link.WithOperationTimeout(p.OperationTimeout))
	}
	if p.FragmentTimeout != 0 {
		opts = append(opts, link.WithFragmentTimeout(p.FragmentTimeout))
	}
	opts = append(opts, link.WithRequestTimeout(p.RequestTimeout))
	if p.MTU != 0 {
		opts = append(opts, link.WithMTU(p.MTU))
	}
	if p.InboundQueueSize != 0 {
		opts = append(opts, link.WithInboundQueueSize(p.InboundQueueSize))
	}

	return opts
}

// SerialMode converts the transport section into a serial mode.
func (p Profile) SerialMode() (*serial.Mode, error) {
	t := p.Transport
	mode := transport.DefaultSerialMode()

	if t.Baud != 0 {
		if t.Baud < 0 {
			return nil, fmt.Errorf("%w: invalid baud rate %d", ErrInvalidProfile, t.Baud)
		}
		mode.BaudRate = t.Baud
	}

	if t.DataBits != 0 {
		if t.DataBits < 5 || t.DataBits > 8 {
			return nil, fmt.Errorf("%w: invalid data bits %d", ErrInvalidProfile, t.DataBits)
		}
		mode.DataBits = t.DataBits
	}

	switch t.Parity {
	case "", "none", "n":
		mode.Parity = serial.NoParity
	case "odd", "o":
		mode.Parity = serial.OddParity
	case "even", "e":
		mode.Parity = serial.EvenParity
	case "mark", "m":
		mode.Parity = serial.MarkParity
	case "space", "s":
		mode.Parity = serial.SpaceParity
	default:
		return nil, fmt.Errorf("%w: invalid parity %q", ErrInvalidProfile, t.Parity)
	}

	switch t.StopBits {
	case "", "1":
		mode.StopBits = serial.OneStopBit
	case "1.5":
		mode.StopBits = serial.OnePointFiveStopBits
	case "2":
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("%w: invalid stop bits %q", ErrInvalidProfile, t.StopBits)
	}

	return &mode, nil
}

// Protocol looks the profile family up in reg, or in the built-in
// registry when reg is nil.
func (p Profile) Protocol(reg *codec.Registry) (*codec.Protocol, error) {
	if reg == nil {
		reg = codec.NewRegistry()
	}

	return reg.Lookup(p.Family)
}

// NewTransport builds the transport described by the profile.
func (p Profile) NewTransport(opts ...transport.Option) (transport.Transport, error) {
	switch p.Transport.Kind {
	case TransportSerial:
		mode, err := p.SerialMode()
		if err != nil {
			return nil, err
		}

		return transport.NewSerialTransport(p.Transport.Port, mode, opts...)
	case TransportTCP:
		return transport.NewDialTransport("tcp", p.Transport.Address, opts...)
	default:
		return nil, fmt.Errorf("%w: unknown transport kind %q", ErrInvalidProfile, p.Transport.Kind)
	}
}
