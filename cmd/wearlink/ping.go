package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/arloliu/go-wearlink/config"
	"github.com/arloliu/go-wearlink/link"
	"github.com/arloliu/go-wearlink/logger"
	"github.com/arloliu/go-wearlink/trace"
	"github.com/arloliu/go-wearlink/transport"
)

type pingOptions struct {
	configPath string
	traceFile  string
	listen     time.Duration
	connect    time.Duration
	send       bool
	frame      frameFlags
}

func newPingCmd(opts *rootOptions) *cobra.Command {
	po := &pingOptions{}

	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Connect to a device, optionally send one command, and print the traffic",
		Long: `ping loads a link profile, connects to the device and prints every
frame sent and received until --listen elapses or the process is
interrupted. When --cmd is given a single command frame is written after
the link is initialized.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			po.send = cmd.Flags().Changed("cmd")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			return runPing(ctx, opts, po, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVarP(&po.configPath, "config", "c", "", "link profile (TOML)")
	cmd.Flags().StringVar(&po.traceFile, "trace", "", "record the traffic to a CBOR trace file, overrides the profile")
	cmd.Flags().DurationVar(&po.listen, "listen", 3*time.Second, "how long to keep printing traffic")
	cmd.Flags().DurationVar(&po.connect, "connect-timeout", 10*time.Second, "timeout for connect and initialization")
	cmd.Flags().Uint16Var(&po.frame.cmd, "cmd", 0, "command id to send")
	cmd.Flags().Uint16Var(&po.frame.sub, "sub", 0, "sub-command id")
	cmd.Flags().StringVar(&po.frame.args, "args", "", "hex encoded arguments")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func runPing(ctx context.Context, opts *rootOptions, po *pingOptions, stdout io.Writer, stderr io.Writer) error {
	profile, err := config.Load(po.configPath)
	if err != nil {
		return err
	}

	proto, err := profile.Protocol(opts.registry)
	if err != nil {
		return err
	}

	log := logger.NewSlogWithWriter(stderr, profile.Level(), false)

	tr, err := profile.NewTransport(transport.WithLogger(log))
	if err != nil {
		return err
	}

	out := &syncWriter{w: stdout}
	recorders := []trace.Recorder{trace.RecorderFunc(out.printTrace)}

	traceFile := profile.TraceFile
	if po.traceFile != "" {
		traceFile = po.traceFile
	}
	if traceFile != "" {
		rec, err := trace.Create(traceFile)
		if err != nil {
			return err
		}
		defer rec.Close()
		recorders = append(recorders, rec)
	}

	linkOpts := append(profile.LinkOptions(),
		link.WithLogger(log),
		link.WithTraceRecorder(trace.Tee(recorders...)),
		link.WithSink(link.SinkFunc(out.printEvent)),
	)

	l, err := link.New(ctx, proto, tr, linkOpts...)
	if err != nil {
		return err
	}
	defer l.Close()

	connectCtx, cancel := context.WithTimeout(ctx, po.connect)
	err = l.Connect(connectCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("connect %s: %w", proto.Family, err)
	}

	if po.send {
		f, err := po.frame.frame()
		if err != nil {
			return err
		}
		sendCtx, cancel := context.WithTimeout(ctx, profile.OperationTimeout+time.Second)
		err = l.WriteFrame(sendCtx, f)
		cancel()
		if err != nil {
			return fmt.Errorf("send %s: %w", f, err)
		}
	}

	select {
	case <-ctx.Done():
	case <-time.After(po.listen):
	}

	m := l.Metrics()
	out.printf("frames sent=%d received=%d malformed=%d\n",
		m.FramesSent.Load(), m.FramesReceived.Load(), m.MalformedFrames.Load())

	return nil
}

// syncWriter serializes output from the link goroutines.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, format, args...)
}

func (s *syncWriter) printTrace(ev trace.Event) {
	line := fmt.Sprintf("%s %-8s %s", ev.Time.Format("15:04:05.000"), ev.Direction, hex.EncodeToString(ev.Data))
	if ev.Note != "" {
		line += " (" + ev.Note + ")"
	}
	s.printf("%s\n", line)
}

func (s *syncWriter) printEvent(ev link.Event) {
	switch ev.Kind {
	case link.StateChanged:
		s.printf("state %s -> %s\n", ev.Prev, ev.State)
	case link.FrameDispatched:
		s.printf("frame %s\n", ev.Frame)
	case link.TransferCompleted:
		s.printf("transfer %d completed, %d bytes\n", ev.Transfer.TransferID, len(ev.Transfer.Payload))
	case link.TransferFailed:
		s.printf("transfer failed: %v\n", ev.Err)
	}
}
