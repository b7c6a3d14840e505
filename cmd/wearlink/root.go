package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/arloliu/go-wearlink/codec"
)

// Output formats.
const (
	formatText = "text"
	formatYAML = "yaml"
)

type rootOptions struct {
	output   string
	registry *codec.Registry
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{registry: codec.NewRegistry()}

	cmd := &cobra.Command{
		Use:   "wearlink",
		Short: "Wearable device link toolkit",
		Long: `wearlink works with the framed binary protocols of wearable devices.
It lists the known device families, encodes and decodes frames offline,
pings a device over a serial port or TCP, and dumps recorded link traces.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			switch opts.output {
			case formatText, formatYAML:
				return nil
			default:
				return fmt.Errorf("unknown output format %q (expected text or yaml)", opts.output)
			}
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.output, "output", "o", formatText, "output format: text, yaml")

	cmd.AddCommand(
		newFamiliesCmd(opts),
		newEncodeCmd(opts),
		newDecodeCmd(opts),
		newPingCmd(opts),
		newPortsCmd(opts),
		newTraceCmd(opts),
	)

	return cmd
}

// writeYAML writes v as a YAML document.
func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}

	return enc.Close()
}
