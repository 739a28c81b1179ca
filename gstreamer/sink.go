package gstreamer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-gst/go-gst/gst"
	"github.com/go-gst/go-gst/gst/app"
	"github.com/mengelbart/icesrc/ice"
	"golang.org/x/time/rate"
)

type sender interface {
	Send(comp ice.ComponentID, pkt []byte) (int, error)
}

type SinkOption func(*Sink) error

func SinkComponent(id ice.ComponentID) SinkOption {
	return func(s *Sink) error {
		if id < 1 || id > ice.MaxComponents {
			return fmt.Errorf("%w: %v", ice.ErrInvalidComponent, id)
		}
		s.component = id
		return nil
	}
}

func SinkPadProbe(enabled bool) SinkOption {
	return func(s *Sink) error {
		s.enablePadProbe = enabled
		return nil
	}
}

func SinkLogger(logger *slog.Logger) SinkOption {
	return func(s *Sink) error {
		s.logger = logger
		return nil
	}
}

type SinkStats struct {
	Sent    uint64
	Dropped uint64
}

// Sink writes every buffer it receives to one component of an ICE session.
type Sink struct {
	logger         *slog.Logger
	component      ice.ComponentID
	enablePadProbe bool

	bin     *gst.Bin
	appsink *app.Sink
	pad     *gst.Pad
	session sender

	sendWarning rate.Sometimes

	sent    atomic.Uint64
	dropped atomic.Uint64
}

func NewSink(name string, session *ice.Session, opts ...SinkOption) (*Sink, error) {
	if session == nil {
		return nil, errors.New("ICE sink requires a session")
	}
	s, err := newSink(session, opts...)
	if err != nil {
		return nil, err
	}
	if int(s.component) > session.ComponentCount() {
		return nil, fmt.Errorf("%w: session has %v components, requested %v", ice.ErrInvalidComponent, session.ComponentCount(), s.component)
	}

	s.appsink, err = app.NewAppSink()
	if err != nil {
		return nil, err
	}
	if err = SetProperties(s.appsink.Element, map[string]any{
		"sync":  false,
		"async": false,
	}); err != nil {
		return nil, err
	}
	s.appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: s.onNewSample,
		EOSFunc: func(_ *app.Sink) {
			s.logger.Info("end of stream")
		},
	})

	s.bin = gst.NewBin(name)
	if err = s.bin.Add(s.appsink.Element); err != nil {
		return nil, err
	}
	sinkpad := s.appsink.GetStaticPad("sink")
	if s.enablePadProbe {
		sinkpad.AddProbe(gst.PadProbeTypeBuffer|gst.PadProbeTypeBufferList, getPacketLogPadProbe(name, s.logger))
	}
	ghostpad := gst.NewGhostPad("sink", sinkpad)
	if !s.bin.AddPad(ghostpad.Pad) {
		return nil, errors.New("failed to add ghostpad to ICE sink")
	}
	s.pad = ghostpad.Pad
	return s, nil
}

func newSink(session sender, opts ...SinkOption) (*Sink, error) {
	s := &Sink{
		logger:      slog.Default(),
		component:   ice.ComponentRTP,
		session:     session,
		sendWarning: rate.Sometimes{First: 1, Interval: time.Second},
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "icesink", "ice-component", s.component)
	return s, nil
}

func (s *Sink) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowEOS
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowError
	}
	mapinfo := buffer.Map(gst.MapRead)
	defer buffer.Unmap()
	return s.write(mapinfo.AsUint8Slice())
}

// write sends pkt on the component. Packets that cannot be sent are dropped,
// the stream continues.
func (s *Sink) write(pkt []byte) gst.FlowReturn {
	if len(pkt) == 0 {
		return gst.FlowOK
	}
	if _, err := s.session.Send(s.component, pkt); err != nil {
		s.dropped.Add(1)
		if errors.Is(err, ice.ErrClosed) {
			return gst.FlowEOS
		}
		s.sendWarning.Do(func() {
			s.logger.Warn("failed to send packet", "error", err, "dropped", s.dropped.Load())
		})
		return gst.FlowOK
	}
	s.sent.Add(1)
	return gst.FlowOK
}

func (s *Sink) Stats() SinkStats {
	return SinkStats{
		Sent:    s.sent.Load(),
		Dropped: s.dropped.Load(),
	}
}

func (s *Sink) Component() ice.ComponentID {
	return s.component
}

func (s *Sink) Kind() Kind {
	return KindSink
}

func (s *Sink) Element() *gst.Element {
	return s.bin.Element
}

func (s *Sink) SinkPad() (*gst.Pad, error) {
	if s.pad == nil {
		return nil, errors.New("sink pad not found")
	}
	return s.pad, nil
}

// Close is a no-op, the session is owned by the caller.
func (s *Sink) Close() error {
	return nil
}
