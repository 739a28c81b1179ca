package logging

import (
	"fmt"
	"log/slog"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

// Unwrapper extends 16 bit RTP sequence numbers to 64 bit.
type Unwrapper struct {
	init    bool
	last    uint16
	current int64
}

func (u *Unwrapper) Unwrap(seq uint16) int64 {
	if !u.init {
		u.init = true
		u.last = seq
		u.current = int64(seq)
		return u.current
	}
	diff := int16(seq - u.last)
	u.current += int64(diff)
	u.last = seq
	return u.current
}

// PacketLogger logs RTP and RTCP packets seen at a vantage point, usually a
// pad probe.
type PacketLogger struct {
	logger *slog.Logger
	seq    *Unwrapper
}

func NewPacketLogger(vantagePoint string, logger *slog.Logger) *PacketLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &PacketLogger{
		logger: logger.With("vantage-point", vantagePoint),
		seq:    &Unwrapper{},
	}
}

func (l *PacketLogger) LogRTPPacket(header *rtp.Header, payload []byte) {
	u := l.seq.Unwrap(header.SequenceNumber)
	l.logger.Info(
		"rtp packet",
		"version", header.Version,
		"padding", header.Padding,
		"marker", header.Marker,
		"payload-type", header.PayloadType,
		"sequence-number", header.SequenceNumber,
		"unwrapped-sequence-number", u,
		"timestamp", header.Timestamp,
		"ssrc", header.SSRC,
		"payload-length", header.MarshalSize()+len(payload),
	)
}

func (l *PacketLogger) LogRTCPPackets(pkts []rtcp.Packet) {
	for _, pkt := range pkts {
		l.logger.Info(
			"rtcp packet",
			"type", fmt.Sprintf("%T", pkt),
			"destination-ssrc", pkt.DestinationSSRC(),
		)
	}
}

// LogBuffer logs buf as RTCP if it looks like RTCP and as RTP otherwise.
// Buffers that are neither are ignored.
func (l *PacketLogger) LogBuffer(buf []byte) {
	if IsRTCP(buf) {
		pkts, err := rtcp.Unmarshal(buf)
		if err != nil {
			return
		}
		l.LogRTCPPackets(pkts)
		return
	}
	var pkt rtp.Packet
	if err := pkt.Unmarshal(buf); err != nil {
		return
	}
	l.LogRTPPacket(&pkt.Header, pkt.Payload)
}

// IsRTCP reports whether buf is an RTCP packet according to the payload type
// range of RFC 5761.
func IsRTCP(buf []byte) bool {
	if len(buf) < 2 || buf[0]>>6 != 2 {
		return false
	}
	return buf[1] >= 192 && buf[1] <= 223
}
