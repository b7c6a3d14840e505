package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arloliu/go-wearlink/transport"
)

func newPortsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List the serial ports of this host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ports, err := transport.ListPorts()
			if err != nil {
				return err
			}

			if opts.output == formatYAML {
				return writeYAML(cmd.OutOrStdout(), ports)
			}

			if len(ports) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no serial ports found")
				return nil
			}
			for _, p := range ports {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}

			return nil
		},
	}
}
