package gstreamer

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-gst/go-gst/gst"
	"github.com/mengelbart/icesrc"
)

type Source int

const (
	Videotestsrc Source = iota
	Filesrc
)

func NewSource(s string) (Source, error) {
	switch s {
	case "videotestsrc":
		return Videotestsrc, nil
	case "filesrc":
		return Filesrc, nil
	}
	return Videotestsrc, fmt.Errorf("unknown source type: %s", s)
}

type SendStreamOption func(*SendStream) error

func SendStreamPayloadType(pt uint) SendStreamOption {
	return func(s *SendStream) error {
		if pt > 127 {
			return fmt.Errorf("invalid payload type: %v", pt)
		}
		s.payloadType = pt
		return nil
	}
}

func SendStreamSource(source Source) SendStreamOption {
	return func(s *SendStream) error {
		s.source = source
		return nil
	}
}

func SendStreamCodec(codec icesrc.Codec) SendStreamOption {
	return func(s *SendStream) error {
		s.codec = codec
		return nil
	}
}

func SendStreamLocation(location string) SendStreamOption {
	return func(s *SendStream) error {
		s.location = location
		return nil
	}
}

// SendStream produces an RTP video stream from a test source or a media
// file.
type SendStream struct {
	source      Source
	codec       icesrc.Codec
	location    string
	payloadType uint

	bin      *gst.Bin
	elements []*gst.Element
	encoder  *gst.Element
	pay      *gst.Element
}

func NewSendStream(name string, opts ...SendStreamOption) (*SendStream, error) {
	s := &SendStream{
		source:      Videotestsrc,
		codec:       icesrc.H264,
		payloadType: 96,
		bin:         gst.NewBin(name),
		elements:    []*gst.Element{},
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	followUpElms, err := s.encodingElements()
	if err != nil {
		return nil, err
	}

	switch s.source {
	case Videotestsrc:
		vts, err := gst.NewElementWithProperties("videotestsrc", map[string]any{
			"is-live": true,
		})
		if err != nil {
			return nil, err
		}
		s.elements = append(s.elements, vts)
		s.elements = append(s.elements, followUpElms...)
		if err := s.bin.AddMany(s.elements...); err != nil {
			return nil, err
		}
		if err := gst.ElementLinkMany(s.elements...); err != nil {
			return nil, err
		}
		ghostpad := gst.NewGhostPad("src", s.pay.GetStaticPad("src"))
		if !s.bin.AddPad(ghostpad.Pad) {
			return nil, errors.New("failed to add ghostpad to SendStream")
		}

	case Filesrc:
		if s.location == "" {
			return nil, errors.New("file source requires a location")
		}
		fs, err := gst.NewElementWithProperties("filesrc", map[string]any{
			"location": s.location,
		})
		if err != nil {
			return nil, err
		}
		decodebin, err := gst.NewElement("decodebin")
		if err != nil {
			return nil, err
		}
		s.elements = append(s.elements, fs, decodebin)
		if err := s.bin.AddMany(s.elements...); err != nil {
			return nil, err
		}
		if err := fs.Link(decodebin); err != nil {
			return nil, err
		}

		// target is set once decodebin exposes a video pad
		ghostpad := gst.NewGhostPadNoTarget("src", gst.PadDirectionSource)
		if !s.bin.AddPad(ghostpad.Pad) {
			return nil, errors.New("failed to add ghostpad to SendStream")
		}
		decodebin.Connect("pad-added", func(self *gst.Element, decodeSrcPad *gst.Pad) {
			if err := s.linkDecoded(decodeSrcPad, followUpElms, ghostpad); err != nil {
				slog.Error("failed to link decoded stream", "error", err)
			}
		})
	default:
		return nil, fmt.Errorf("unknown source format: %v", s.source)
	}

	return s, nil
}

func (s *SendStream) encodingElements() ([]*gst.Element, error) {
	cs, err := gst.NewElement("clocksync")
	if err != nil {
		return nil, err
	}
	convert, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, err
	}
	switch s.codec {
	case icesrc.H264:
		s.encoder, err = gst.NewElementWithProperties("x264enc", map[string]any{
			"pass":         5,
			"speed-preset": 1,
			"tune":         4,
			"key-int-max":  uint(3000),
		})
		if err != nil {
			return nil, err
		}
		s.pay, err = gst.NewElement("rtph264pay")
	case icesrc.VP8:
		s.encoder, err = gst.NewElementWithProperties("vp8enc", map[string]any{
			"deadline":          int64(1),
			"error-resilient":   1,
			"keyframe-max-dist": 3000,
		})
		if err != nil {
			return nil, err
		}
		s.pay, err = gst.NewElement("rtpvp8pay")
	default:
		return nil, fmt.Errorf("unknown codec: %v", s.codec)
	}
	if err != nil {
		return nil, err
	}
	if err = SetProperties(s.pay, map[string]any{
		"pt":            s.payloadType,
		"mtu":           uint(1200),
		"seqnum-offset": 1,
	}); err != nil {
		return nil, err
	}
	return []*gst.Element{cs, convert, s.encoder, s.pay}, nil
}

func (s *SendStream) linkDecoded(decodeSrcPad *gst.Pad, followUpElms []*gst.Element, ghostpad *gst.GhostPad) error {
	isVideo := false
	caps := decodeSrcPad.GetCurrentCaps()
	for i := 0; i < caps.GetSize(); i++ {
		if strings.HasPrefix(caps.GetStructureAt(i).Name(), "video/") {
			isVideo = true
		}
	}
	if !isVideo {
		return nil
	}

	if err := s.bin.AddMany(followUpElms...); err != nil {
		return err
	}
	if err := gst.ElementLinkMany(followUpElms...); err != nil {
		return err
	}
	s.elements = append(s.elements, followUpElms...)

	if ret := decodeSrcPad.Link(followUpElms[0].GetStaticPad("sink")); ret != gst.PadLinkOK {
		return fmt.Errorf("failed to link decodebin to encoder: %v", ret)
	}
	for _, e := range s.elements {
		e.SyncStateWithParent()
	}
	if !ghostpad.SetTarget(s.pay.GetStaticPad("src")) {
		return errors.New("failed to set ghostpad target")
	}
	return nil
}

func (s *SendStream) Element() *gst.Element {
	return s.bin.Element
}

func (s *SendStream) SrcPad() (*gst.Pad, error) {
	pad := s.bin.GetStaticPad("src")
	if pad == nil {
		return nil, errors.New("src pad not found")
	}
	return pad, nil
}

// SetBitrate sets the target bit rate of the encoder.
func (s *SendStream) SetBitrate(ratebps uint) error {
	slog.Info("NEW_TARGET_MEDIA_RATE", "rate", ratebps)
	switch s.codec {
	case icesrc.VP8:
		return s.encoder.SetProperty("target-bitrate", int(ratebps))
	default:
		return s.encoder.SetProperty("bitrate", ratebps/1000)
	}
}

func (s *SendStream) Codec() icesrc.Codec {
	return s.codec
}

func (s *SendStream) PayloadType() uint {
	return s.payloadType
}
