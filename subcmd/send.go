package subcmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-gst/go-gst/gst"
	"github.com/mengelbart/icesrc"
	"github.com/mengelbart/icesrc/cmdmain"
	"github.com/mengelbart/icesrc/flags"
	"github.com/mengelbart/icesrc/gstreamer"
	"github.com/mengelbart/icesrc/ice"
	"github.com/mengelbart/icesrc/signaling"
)

const fetchInterval = 500 * time.Millisecond

func init() {
	cmdmain.RegisterSubCmd("send", func() cmdmain.SubCmd { return new(Send) })
}

type Send struct{}

func (s *Send) Help() string {
	return "Send a media stream over ICE"
}

func (s *Send) Exec(ctx context.Context, cmd string, args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)

	flags.RegisterInto(fs, []flags.FlagName{
		flags.RemoteHTTPFlag,
		flags.STUNFlag,
		flags.TURNFlag,
		flags.TURNUserFlag,
		flags.TURNPasswordFlag,
		flags.PortMinFlag,
		flags.PortMaxFlag,
		flags.HostOnlyFlag,
		flags.ComponentsFlag,
		flags.InterfacesFlag,
		flags.DisconnectedTimeoutFlag,
		flags.FailedTimeoutFlag,
		flags.MaxPacketSizeFlag,
		flags.RecvBufferSizeFlag,
		flags.CodecFlag,
		flags.PayloadTypeFlag,
		flags.SourceLocationFlag,
		flags.TraceRTPSendFlag,
	}...)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Send an RTP stream over ICE

The sender fetches the ICE description of the receiver, posts its own
description and starts connectivity checks as controlling agent.

Usage:
	%v send [flags]

Flags:
`, cmd)
		fs.PrintDefaults()
		fmt.Fprintln(os.Stderr)
	}
	fs.Parse(args)

	if len(fs.Args()) > 0 {
		fmt.Fprintf(os.Stderr, "error: unknown extra arguments: %v\n", fs.Args())
		fs.Usage()
		os.Exit(1)
	}

	codec, err := icesrc.NewCodec(flags.Codec)
	if err != nil {
		return err
	}

	gst.Init(nil)

	session, err := newSession(slog.Default().With("role", "sender"))
	if err != nil {
		return err
	}
	defer session.Close()

	if err = gather(ctx, session); err != nil {
		return err
	}

	client := signaling.NewHTTPClient(flags.RemoteHTTP)
	remote, err := fetchRemote(ctx, client)
	if err != nil {
		return err
	}
	local, err := session.LocalDescription()
	if err != nil {
		return err
	}
	if err = client.SendDescription(ctx, local); err != nil {
		return err
	}
	if err = session.StartWithDescription(ctx, true, remote); err != nil {
		return err
	}
	slog.Info("ICE session running")

	pipeline, err := gst.NewPipeline("icesrc-send")
	if err != nil {
		return err
	}
	streamOpts := []gstreamer.SendStreamOption{
		gstreamer.SendStreamCodec(codec),
		gstreamer.SendStreamPayloadType(flags.PayloadType),
	}
	if flags.SourceLocation != "videotestsrc" {
		streamOpts = append(streamOpts,
			gstreamer.SendStreamSource(gstreamer.Filesrc),
			gstreamer.SendStreamLocation(flags.SourceLocation),
		)
	}
	stream, err := gstreamer.NewSendStream("send-stream", streamOpts...)
	if err != nil {
		return err
	}
	sink, err := gstreamer.NewSink("icesink-rtp", session,
		gstreamer.SinkComponent(ice.ComponentRTP),
		gstreamer.SinkPadProbe(flags.TraceRTPSend),
	)
	if err != nil {
		return err
	}
	defer sink.Close()

	if err = pipeline.AddMany(stream.Element(), sink.Element()); err != nil {
		return err
	}
	if err = stream.Element().Link(sink.Element()); err != nil {
		return err
	}

	err = gstreamer.Run(ctx, pipeline)
	slog.Info("sender stopped", "stats", sink.Stats())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// fetchRemote polls the remote signaling server until it serves a
// description. The receiver only serves it once it gathered its candidates.
func fetchRemote(ctx context.Context, client *signaling.HTTPClient) (*ice.Description, error) {
	ticker := time.NewTicker(fetchInterval)
	defer ticker.Stop()
	for {
		d, err := client.FetchDescription(ctx)
		if err == nil {
			return d, nil
		}
		slog.Debug("remote description not available", "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
