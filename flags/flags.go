// Package flags implements command-line flags for icesrc.
//
// The design idea is taken from [upspin.io/flags], but most of the code is
// modified. This package uses a slightly modified version of [RegisterInto] and
// the internal [flags]-map. See [Upspin LICENSE] for upspins copyright and
// license information.
//
// [upspin.io/flags]: https://github.com/upspin/upspin/tree/334f107fe3d98225d7adfbb35b74e066fbca9875/flags
// [Upspin LICENSE]: https://github.com/upspin/upspin/blob/334f107fe3d98225d7adfbb35b74e066fbca9875/LICENSE
package flags

import (
	"flag"
	"fmt"
	"time"

	"github.com/mengelbart/icesrc"
)

type FlagName string

// flag keys
const (
	HTTPAddrFlag   FlagName = "http-address"
	RemoteHTTPFlag FlagName = "remote"

	CertFlag FlagName = "cert"
	KeyFlag  FlagName = "key"

	STUNFlag         FlagName = "stun"
	TURNFlag         FlagName = "turn"
	TURNUserFlag     FlagName = "turn-user"
	TURNPasswordFlag FlagName = "turn-password"
	PortMinFlag      FlagName = "port-min"
	PortMaxFlag      FlagName = "port-max"
	HostOnlyFlag     FlagName = "host-only"
	ComponentsFlag   FlagName = "components"

	InterfacesFlag          FlagName = "interfaces"
	DisconnectedTimeoutFlag FlagName = "disconnected-timeout"
	FailedTimeoutFlag       FlagName = "failed-timeout"
	MaxPacketSizeFlag       FlagName = "max-packet-size"

	MaxQueuedFlag      FlagName = "max-queued"
	RecvBufferSizeFlag FlagName = "recv-buffer-size"

	CodecFlag       FlagName = "codec"
	PayloadTypeFlag FlagName = "payload-type"

	SinkTypeFlag       FlagName = "sink-type"
	SinkLocationFlag   FlagName = "sink-location"
	SourceLocationFlag FlagName = "source-location"

	TraceRTPRecvFlag FlagName = "trace-rtp-recv"
	TraceRTPSendFlag FlagName = "trace-rtp-send"
)

// Flag vars
var (
	// HTTP signaling server
	HTTPAddr = "127.0.0.1:8080"

	// HTTP signaling server of the receiving peer
	RemoteHTTP = "http://127.0.0.1:8080"

	Cert = ""

	Key = ""

	STUN         = ""
	TURN         = ""
	TURNUser     = ""
	TURNPassword = ""

	// Port range of host candidates, 0 means any port
	PortMin = uint(0)
	PortMax = uint(0)

	HostOnly = false

	// Components of the ICE session, 1: RTP only, 2: RTP and RTCP
	Components = uint(2)

	// Comma separated interface names used for host candidates, empty means all
	Interfaces = ""

	DisconnectedTimeout = 5 * time.Second
	FailedTimeout       = 25 * time.Second

	// Largest packet delivered by the ICE session
	MaxPacketSize = uint(8192)

	MaxQueued      = uint(1024)
	RecvBufferSize = uint(0)

	Codec       = icesrc.H264.String()
	PayloadType = uint(96)

	SinkType       = "autovideosink"
	SinkLocation   = ""
	SourceLocation = "videotestsrc"

	TraceRTPRecv = false
	TraceRTPSend = false
)

type flagVar func(*flag.FlagSet)

func durationVar(p *time.Duration, name FlagName, defaultValue *time.Duration, usage string) func(*flag.FlagSet) {
	return func(fs *flag.FlagSet) {
		fs.DurationVar(p, string(name), *defaultValue, usage)
	}
}

func stringVar(p *string, name FlagName, defaultValue *string, usage string) func(*flag.FlagSet) {
	return func(fs *flag.FlagSet) {
		fs.StringVar(p, string(name), *defaultValue, usage)
	}
}

func uintVar(p *uint, name FlagName, defaultValue *uint, usage string) func(*flag.FlagSet) {
	return func(fs *flag.FlagSet) {
		fs.UintVar(p, string(name), *defaultValue, usage)
	}
}

func boolVar(p *bool, name FlagName, defaultValue *bool, usage string) func(*flag.FlagSet) {
	return func(fs *flag.FlagSet) {
		fs.BoolVar(p, string(name), *defaultValue, usage)
	}
}

var flags = map[FlagName]flagVar{
	// Signaling flags
	HTTPAddrFlag:   stringVar(&HTTPAddr, HTTPAddrFlag, &HTTPAddr, "Address of the local HTTP signaling server"),
	RemoteHTTPFlag: stringVar(&RemoteHTTP, RemoteHTTPFlag, &RemoteHTTP, "Base URL of the remote HTTP signaling server"),

	// TLS Certificate
	CertFlag: stringVar(&Cert, CertFlag, &Cert, "TLS Certificate, enables HTTP/2 and HTTP/3 signaling"),
	KeyFlag:  stringVar(&Key, KeyFlag, &Key, "TLS Certificate key"),

	// ICE flags
	STUNFlag:         stringVar(&STUN, STUNFlag, &STUN, "STUN server URI, e.g. stun:stun.l.google.com:19302"),
	TURNFlag:         stringVar(&TURN, TURNFlag, &TURN, "TURN server URI"),
	TURNUserFlag:     stringVar(&TURNUser, TURNUserFlag, &TURNUser, "TURN username"),
	TURNPasswordFlag: stringVar(&TURNPassword, TURNPasswordFlag, &TURNPassword, "TURN password"),
	PortMinFlag:      uintVar(&PortMin, PortMinFlag, &PortMin, "Minimum UDP port of host candidates"),
	PortMaxFlag:      uintVar(&PortMax, PortMaxFlag, &PortMax, "Maximum UDP port of host candidates"),
	HostOnlyFlag:     boolVar(&HostOnly, HostOnlyFlag, &HostOnly, "Only gather host candidates"),
	ComponentsFlag:   uintVar(&Components, ComponentsFlag, &Components, "Number of ICE components (1: RTP, 2: RTP and RTCP)"),

	InterfacesFlag:          stringVar(&Interfaces, InterfacesFlag, &Interfaces, "Comma separated list of interfaces to gather host candidates on"),
	DisconnectedTimeoutFlag: durationVar(&DisconnectedTimeout, DisconnectedTimeoutFlag, &DisconnectedTimeout, "Time without connectivity before a component is disconnected"),
	FailedTimeoutFlag:       durationVar(&FailedTimeout, FailedTimeoutFlag, &FailedTimeout, "Time after disconnection before a component fails"),
	MaxPacketSizeFlag:       uintVar(&MaxPacketSize, MaxPacketSizeFlag, &MaxPacketSize, "Largest packet received on an ICE component, larger packets are dropped"),

	MaxQueuedFlag:      uintVar(&MaxQueued, MaxQueuedFlag, &MaxQueued, "Packets queued in the ICE source before the oldest is dropped"),
	RecvBufferSizeFlag: uintVar(&RecvBufferSize, RecvBufferSizeFlag, &RecvBufferSize, "UDP receive buffer size of ICE sockets, 0 keeps the system default"),

	CodecFlag:       stringVar(&Codec, CodecFlag, &Codec, "Codec to use (H264, VP8)"),
	PayloadTypeFlag: uintVar(&PayloadType, PayloadTypeFlag, &PayloadType, "RTP payload type"),

	// IO Flags
	SinkTypeFlag:       stringVar(&SinkType, SinkTypeFlag, &SinkType, "Sink type (autovideosink, filesink, requires <sink-location> to be set, fakesink)"),
	SinkLocationFlag:   stringVar(&SinkLocation, SinkLocationFlag, &SinkLocation, "Location for filesink"),
	SourceLocationFlag: stringVar(&SourceLocation, SourceLocationFlag, &SourceLocation, "Location for filesource (or videotestsrc to generate a testsource)"),

	// tracing flags
	TraceRTPRecvFlag: boolVar(&TraceRTPRecv, TraceRTPRecvFlag, &TraceRTPRecv, "Log incoming RTP packets"),
	TraceRTPSendFlag: boolVar(&TraceRTPSend, TraceRTPSendFlag, &TraceRTPSend, "Log outgoing RTP packets"),
}

func RegisterInto(fs *flag.FlagSet, names ...FlagName) {
	if len(names) == 0 {
		for _, f := range flags {
			f(fs)
		}
	} else {
		for _, n := range names {
			f, ok := flags[n]
			if !ok {
				panic(fmt.Sprintf("unknown flag: %q", n))
			}
			f(fs)
		}
	}
}
