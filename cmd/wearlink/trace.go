package main

import (
	"encoding/hex"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/arloliu/go-wearlink/trace"
)

type traceView struct {
	Time      string `yaml:"time"`
	LinkID    string `yaml:"link"`
	Family    string `yaml:"family"`
	Direction string `yaml:"direction"`
	Data      string `yaml:"data"`
	Note      string `yaml:"note,omitempty"`
}

func newTraceCmd(opts *rootOptions) *cobra.Command {
	var decode bool

	cmd := &cobra.Command{
		Use:   "trace <file>",
		Short: "Print a recorded link trace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			events, readErr := trace.Open(args[0])
			if readErr != nil && len(events) == 0 {
				return readErr
			}

			views := make([]traceView, 0, len(events))
			for _, ev := range events {
				v := traceView{
					Time:      ev.Time.Format(time.RFC3339Nano),
					LinkID:    ev.LinkID,
					Family:    ev.Family,
					Direction: ev.Direction.String(),
					Data:      hex.EncodeToString(ev.Data),
					Note:      ev.Note,
				}
				if decode && ev.Note == "" {
					v.Note = describeFrame(opts, ev)
				}
				views = append(views, v)
			}

			if opts.output == formatYAML {
				if err := writeYAML(cmd.OutOrStdout(), views); err != nil {
					return err
				}
			} else {
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TIME\tDIR\tFAMILY\tDATA\tNOTE")
				for _, v := range views {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", v.Time, v.Direction, v.Family, v.Data, v.Note)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
			}

			if readErr != nil {
				return fmt.Errorf("trace truncated after %d events: %w", len(events), readErr)
			}

			return nil
		},
	}
	cmd.Flags().BoolVarP(&decode, "decode", "d", false, "decode each frame with its family")

	return cmd
}

func describeFrame(opts *rootOptions, ev trace.Event) string {
	proto, err := opts.registry.Lookup(ev.Family)
	if err != nil {
		return ""
	}

	f, err := proto.Decode(ev.Data)
	if err != nil {
		return err.Error()
	}

	return f.String()
}
