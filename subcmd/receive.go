package subcmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/go-gst/go-gst/gst"
	"github.com/julienschmidt/httprouter"
	"github.com/mengelbart/icesrc"
	"github.com/mengelbart/icesrc/cmdmain"
	"github.com/mengelbart/icesrc/flags"
	"github.com/mengelbart/icesrc/gstreamer"
	"github.com/mengelbart/icesrc/ice"
	"github.com/mengelbart/icesrc/internal/http"
	"github.com/mengelbart/icesrc/signaling"
	"golang.org/x/sync/errgroup"
)

func init() {
	cmdmain.RegisterSubCmd("receive", func() cmdmain.SubCmd { return new(Receive) })
}

type Receive struct{}

func (r *Receive) Help() string {
	return "Receive a media stream over ICE"
}

func (r *Receive) Exec(ctx context.Context, cmd string, args []string) error {
	fs := flag.NewFlagSet("receive", flag.ExitOnError)

	flags.RegisterInto(fs, []flags.FlagName{
		flags.HTTPAddrFlag,
		flags.CertFlag,
		flags.KeyFlag,
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
		flags.MaxQueuedFlag,
		flags.RecvBufferSizeFlag,
		flags.CodecFlag,
		flags.PayloadTypeFlag,
		flags.SinkTypeFlag,
		flags.SinkLocationFlag,
		flags.TraceRTPRecvFlag,
	}...)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Receive an RTP stream over ICE

The receiver serves its ICE description on the HTTP signaling server and
waits for the sender to post its own description.

Usage:
	%v receive [flags]

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
	sinkType, err := gstreamer.NewSinkType(flags.SinkType)
	if err != nil {
		return err
	}
	if sinkType == gstreamer.Filesink && len(flags.SinkLocation) == 0 {
		return errors.New("file-sink requires a location to be set via the -sink-location flag")
	}

	gst.Init(nil)

	logger := slog.Default().With("role", "receiver")
	session, err := newSession(logger)
	if err != nil {
		return err
	}
	defer session.Close()

	if err = gather(ctx, session); err != nil {
		return err
	}

	a := newAnswerer(session)
	router := httprouter.New()
	signaling.NewHTTPHandler(a,
		signaling.HandlerCandidates(a),
		signaling.HandlerLogger(logger.With("component", "signaling")),
	).RegisterRoutes(router)
	serverOpts := []http.Option{
		http.Address(flags.HTTPAddr),
		http.Handle(router),
	}
	if flags.Cert != "" {
		serverOpts = append(serverOpts, http.CertificateFile(flags.Cert), http.CertificateKeyFile(flags.Key))
	}
	server, err := http.NewServer(serverOpts...)
	if err != nil {
		return err
	}

	pipeline, err := gst.NewPipeline("icesrc-receive")
	if err != nil {
		return err
	}
	src, err := gstreamer.NewSrc("icesrc-rtp", session,
		gstreamer.SrcComponent(ice.ComponentRTP),
		gstreamer.SrcCaps(codec.RTPCaps(int(flags.PayloadType))),
		gstreamer.SrcMaxQueued(int(flags.MaxQueued)),
		gstreamer.SrcPadProbe(flags.TraceRTPRecv),
	)
	if err != nil {
		return err
	}
	defer src.Close()

	streamOpts := []gstreamer.ReceiveStreamOption{
		gstreamer.ReceiveStreamCodec(codec),
		gstreamer.ReceiveStreamSinkType(sinkType),
	}
	if sinkType == gstreamer.Filesink {
		streamOpts = append(streamOpts, gstreamer.ReceiveStreamLocation(flags.SinkLocation))
	}
	stream, err := gstreamer.NewReceiveStream("receive-stream", streamOpts...)
	if err != nil {
		return err
	}
	if err = pipeline.AddMany(src.Element(), stream.Element()); err != nil {
		return err
	}
	if err = src.Element().Link(stream.Element()); err != nil {
		return err
	}

	if session.ComponentCount() > 1 {
		var rtcpSrc *gstreamer.Src
		rtcpSrc, err = gstreamer.NewSrc("icesrc-rtcp", session,
			gstreamer.SrcComponent(ice.ComponentRTCP),
			gstreamer.SrcCaps("application/x-rtcp"),
			gstreamer.SrcPadProbe(flags.TraceRTPRecv),
		)
		if err != nil {
			return err
		}
		defer rtcpSrc.Close()
		var rtcpSink *gst.Element
		rtcpSink, err = gst.NewElementWithProperties("fakesink", map[string]any{
			"sync":  false,
			"async": false,
		})
		if err != nil {
			return err
		}
		if err = pipeline.AddMany(rtcpSrc.Element(), rtcpSink); err != nil {
			return err
		}
		if err = rtcpSrc.Element().Link(rtcpSink); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return server.ListenAndServe(ctx)
	})
	eg.Go(func() error {
		remote, err := a.waitRemote(ctx)
		if err != nil {
			return err
		}
		if err = session.StartWithDescription(ctx, false, remote); err != nil {
			return err
		}
		slog.Info("ICE session running", "default-address", src.DefaultAddr())
		return nil
	})
	eg.Go(func() error {
		defer cancel()
		return gstreamer.Run(ctx, pipeline)
	})
	err = eg.Wait()
	slog.Info("receiver stopped", "stats", src.Stats())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
