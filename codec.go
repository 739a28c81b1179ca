// Package icesrc carries the media descriptions shared by the ICE source and
// sink pipelines.
package icesrc

import "fmt"

type Codec int

const (
	H264 Codec = iota
	VP8
)

func (c Codec) ClockRate() int {
	switch c {
	default:
		return 90_000
	}
}

func NewCodec(s string) (Codec, error) {
	switch s {
	case "H264", "h264":
		return H264, nil
	case "VP8", "vp8":
		return VP8, nil
	}
	return H264, fmt.Errorf("unknown codec: %s", s)
}

func (c Codec) String() string {
	switch c {
	case H264:
		return "H264"
	case VP8:
		return "VP8"
	}
	return "unknown"
}

func (c Codec) MediaType() string {
	return "video"
}

// RTPCaps returns the caps of an RTP stream carrying c with payload type pt.
func (c Codec) RTPCaps(pt int) string {
	return fmt.Sprintf(
		"application/x-rtp,media=%v,clock-rate=%v,encoding-name=%v,payload=%v",
		c.MediaType(), c.ClockRate(), c, pt,
	)
}
