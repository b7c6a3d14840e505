package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arloliu/go-wearlink/codec"
)

type frameView struct {
	Command    uint16 `yaml:"command"`
	SubCommand uint16 `yaml:"sub_command"`
	Flags      uint32 `yaml:"flags,omitempty"`
	Counter    uint32 `yaml:"counter,omitempty"`
	FragIndex  uint16 `yaml:"fragment_index,omitempty"`
	FragCount  uint16 `yaml:"fragment_count,omitempty"`
	Args       string `yaml:"args,omitempty"`
	Raw        string `yaml:"raw,omitempty"`
	Error      string `yaml:"error,omitempty"`
}

func newFrameView(f *codec.Frame, raw []byte) frameView {
	return frameView{
		Command:    f.Command(),
		SubCommand: f.SubCommand(),
		Flags:      f.Flags(),
		Counter:    f.Counter(),
		FragIndex:  f.FragmentIndex(),
		FragCount:  f.FragmentCount(),
		Args:       hex.EncodeToString(f.Args()),
		Raw:        hex.EncodeToString(raw),
	}
}

// frameFlags are the flags shared by commands that build a frame.
type frameFlags struct {
	family string
	cmd    uint16
	sub    uint16
	args   string
}

func (ff *frameFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&ff.family, "family", "f", codec.FamilyCompact8, "device family")
	cmd.Flags().Uint16Var(&ff.cmd, "cmd", 0, "command id")
	cmd.Flags().Uint16Var(&ff.sub, "sub", 0, "sub-command id")
	cmd.Flags().StringVar(&ff.args, "args", "", "hex encoded arguments")
}

func (ff *frameFlags) frame() (*codec.Frame, error) {
	args, err := parseHex(ff.args)
	if err != nil {
		return nil, fmt.Errorf("invalid --args: %w", err)
	}

	return codec.NewFrame(ff.cmd, ff.sub, args), nil
}

func newEncodeCmd(opts *rootOptions) *cobra.Command {
	var ff frameFlags

	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Encode a single frame and print it as hex",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			proto, err := opts.registry.Lookup(ff.family)
			if err != nil {
				return err
			}

			f, err := ff.frame()
			if err != nil {
				return err
			}

			raw, err := proto.EncodeFrame(f)
			if err != nil {
				return err
			}

			if opts.output == formatYAML {
				return writeYAML(cmd.OutOrStdout(), newFrameView(f, raw))
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(raw))

			return err
		},
	}
	ff.register(cmd)

	return cmd
}

func newDecodeCmd(opts *rootOptions) *cobra.Command {
	var family string

	cmd := &cobra.Command{
		Use:   "decode <hex>...",
		Short: "Decode one or more concatenated frames from hex",
		Long: `decode feeds the given bytes through the family's stream decoder, so
several concatenated frames, split arguments and leading noise are all
accepted. Frames that fail validation are reported with their error.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			proto, err := opts.registry.Lookup(family)
			if err != nil {
				return err
			}

			data, err := parseHex(strings.Join(args, ""))
			if err != nil {
				return err
			}

			dec := codec.NewStreamDecoder(proto, 0)
			var views []frameView
			for _, raw := range dec.Feed(data) {
				f, err := proto.Decode(raw)
				if err != nil {
					views = append(views, frameView{Raw: hex.EncodeToString(raw), Error: err.Error()})
					continue
				}
				views = append(views, newFrameView(f, raw))
			}

			if len(views) == 0 {
				return fmt.Errorf("no %s frame found in %d bytes", family, len(data))
			}

			if opts.output == formatYAML {
				return writeYAML(cmd.OutOrStdout(), views)
			}

			return printFrames(cmd.OutOrStdout(), views, dec.Buffered())
		},
	}
	cmd.Flags().StringVarP(&family, "family", "f", codec.FamilyCompact8, "device family")

	return cmd
}

func printFrames(w io.Writer, views []frameView, leftover int) error {
	for i, v := range views {
		if v.Error != "" {
			fmt.Fprintf(w, "#%d invalid: %s (%s)\n", i+1, v.Error, v.Raw)
			continue
		}
		fmt.Fprintf(w, "#%d cmd=0x%02X sub=0x%02X flags=0x%X counter=%d args=%s\n",
			i+1, v.Command, v.SubCommand, v.Flags, v.Counter, v.Args)
	}
	if leftover > 0 {
		fmt.Fprintf(w, "%d trailing bytes buffered\n", leftover)
	}

	return nil
}

// parseHex accepts hex with optional whitespace, colons and a 0x prefix.
func parseHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	s = strings.NewReplacer(" ", "", ":", "", "\n", "", "\t", "").Replace(s)

	return hex.DecodeString(s)
}
