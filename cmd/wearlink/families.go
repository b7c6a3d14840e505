package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

type familyInfo struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	MTU         int    `yaml:"mtu"`
	Overhead    int    `yaml:"overhead"`
	Checksum    string `yaml:"checksum"`
	Fragments   bool   `yaml:"fragments"`
	SubStreams  bool   `yaml:"sub_streams"`
}

func newFamiliesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "families",
		Short: "List the known device families",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var infos []familyInfo
			for _, name := range opts.registry.Families() {
				p, err := opts.registry.Lookup(name)
				if err != nil {
					return err
				}

				infos = append(infos, familyInfo{
					Name:        p.Family,
					Description: p.Description,
					MTU:         p.EffectiveMTU(),
					Overhead:    p.Layout.Overhead(),
					Checksum:    p.Checksum.Name,
					Fragments:   p.Fragments != nil,
					SubStreams:  p.SubStreams != nil,
				})
			}

			if opts.output == formatYAML {
				return writeYAML(cmd.OutOrStdout(), infos)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FAMILY\tMTU\tCHECKSUM\tFRAGMENTS\tDESCRIPTION")
			for _, info := range infos {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%t\t%s\n", info.Name, info.MTU, info.Checksum, info.Fragments, info.Description)
			}

			return tw.Flush()
		},
	}
}
