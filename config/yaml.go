package config

// yamlProfile is the dump form of a Profile, with durations as text.
type yamlProfile struct {
	Family    string           `yaml:"family"`
	LogLevel  string           `yaml:"log_level"`
	TraceFile string           `yaml:"trace_file,omitempty"`
	Transport TransportProfile `yaml:"transport"`
	Link      yamlLink         `yaml:"link"`
}

type yamlLink struct {
	OperationTimeout string `yaml:"operation_timeout"`
	FragmentTimeout  string `yaml:"fragment_timeout"`
	RequestTimeout   string `yaml:"request_timeout"`
	MTU              int    `yaml:"mtu,omitempty"`
	InboundQueueSize int    `yaml:"inbound_queue_size"`
}

// MarshalYAML implements yaml.Marshaler.
func (p Profile) MarshalYAML() (any, error) {
	return yamlProfile{
		Family:    p.Family,
		LogLevel:  p.LogLevel,
		TraceFile: p.TraceFile,
		Transport: p.Transport,
		Link: yamlLink{
			OperationTimeout: p.OperationTimeout.String(),
			FragmentTimeout:  p.FragmentTimeout.String(),
			RequestTimeout:   p.RequestTimeout.String(),
			MTU:              p.MTU,
			InboundQueueSize: p.InboundQueueSize,
		},
	}, nil
}
