package gstreamer

import (
	"errors"
	"fmt"

	"github.com/go-gst/go-gst/gst"
	"github.com/mengelbart/icesrc"
)

type SinkType uint

const (
	Autovideosink SinkType = iota
	Filesink
	Fakesink
)

func NewSinkType(s string) (SinkType, error) {
	switch s {
	case "autovideosink":
		return Autovideosink, nil
	case "filesink":
		return Filesink, nil
	case "fakesink":
		return Fakesink, nil
	}
	return Autovideosink, fmt.Errorf("unknown sink type: %s", s)
}

type ReceiveStreamOption func(*ReceiveStream) error

func ReceiveStreamSinkType(sinkType SinkType) ReceiveStreamOption {
	return func(s *ReceiveStream) error {
		s.sinkType = sinkType
		return nil
	}
}

func ReceiveStreamCodec(codec icesrc.Codec) ReceiveStreamOption {
	return func(s *ReceiveStream) error {
		s.codec = codec
		return nil
	}
}

// ReceiveStreamLocation sets the output file of a Filesink stream.
func ReceiveStreamLocation(location string) ReceiveStreamOption {
	return func(s *ReceiveStream) error {
		s.location = location
		return nil
	}
}

// ReceiveStreamLatency sets the jitter buffer latency in milliseconds.
func ReceiveStreamLatency(ms uint) ReceiveStreamOption {
	return func(s *ReceiveStream) error {
		s.latency = ms
		return nil
	}
}

// ReceiveStream depayloads, decodes and displays or stores an RTP video
// stream.
type ReceiveStream struct {
	sinkType SinkType
	codec    icesrc.Codec
	location string
	latency  uint

	bin      *gst.Bin
	elements []*gst.Element
}

func NewReceiveStream(name string, opts ...ReceiveStreamOption) (*ReceiveStream, error) {
	s := &ReceiveStream{
		sinkType: Autovideosink,
		codec:    icesrc.H264,
		location: "out.y4m",
		latency:  200,
		bin:      gst.NewBin(name),
		elements: []*gst.Element{},
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	jb, err := gst.NewElementWithProperties("rtpjitterbuffer", map[string]any{
		"latency": s.latency,
	})
	if err != nil {
		return nil, err
	}
	s.elements = append(s.elements, jb)

	var depayName, decName string
	switch s.codec {
	case icesrc.H264:
		depayName, decName = "rtph264depay", "avdec_h264"
	case icesrc.VP8:
		depayName, decName = "rtpvp8depay", "vp8dec"
	default:
		return nil, fmt.Errorf("unknown codec: %v", s.codec)
	}
	for _, factory := range []string{depayName, decName, "videoconvert"} {
		e, err := gst.NewElement(factory)
		if err != nil {
			return nil, err
		}
		s.elements = append(s.elements, e)
	}

	switch s.sinkType {
	case Autovideosink:
		avs, err := gst.NewElement("autovideosink")
		if err != nil {
			return nil, err
		}
		s.elements = append(s.elements, avs)
	case Fakesink:
		fs, err := gst.NewElementWithProperties("fakesink", map[string]any{
			"sync": false,
		})
		if err != nil {
			return nil, err
		}
		s.elements = append(s.elements, fs)
	case Filesink:
		enc, err := gst.NewElement("y4menc")
		if err != nil {
			return nil, err
		}
		fs, err := gst.NewElementWithProperties("filesink", map[string]any{
			"location": s.location,
		})
		if err != nil {
			return nil, err
		}
		s.elements = append(s.elements, enc, fs)
	default:
		return nil, fmt.Errorf("unknown sink format: %v", s.sinkType)
	}

	if err := s.bin.AddMany(s.elements...); err != nil {
		return nil, err
	}
	if err := gst.ElementLinkMany(s.elements...); err != nil {
		return nil, err
	}

	sinkpad := jb.GetStaticPad("sink")
	ghostpad := gst.NewGhostPad("sink", sinkpad)
	if !s.bin.AddPad(ghostpad.Pad) {
		return nil, errors.New("failed to add ghostpad to ReceiveStream")
	}
	return s, nil
}

func (s *ReceiveStream) Element() *gst.Element {
	return s.bin.Element
}

func (s *ReceiveStream) SinkPad() (*gst.Pad, error) {
	pad := s.bin.GetStaticPad("sink")
	if pad == nil {
		return nil, errors.New("sink pad not found")
	}
	return pad, nil
}

func (s *ReceiveStream) Codec() icesrc.Codec {
	return s.codec
}
