package gstreamer

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gst/go-gst/gst"
	"github.com/go-gst/go-gst/gst/app"
	"github.com/mengelbart/icesrc/ice"
	"github.com/mengelbart/icesrc/internal/loop"
	"github.com/mengelbart/icesrc/internal/queue"
	"golang.org/x/time/rate"
)

const defaultMaxQueued = 1024

// pusher is the downstream end of a Src. It is implemented by appsrc.
type pusher interface {
	PushBuffer(pkt []byte) gst.FlowReturn
	EndStream() gst.FlowReturn
}

type appsrcPusher struct {
	src *app.Source
}

func (p *appsrcPusher) PushBuffer(pkt []byte) gst.FlowReturn {
	return p.src.PushBuffer(gst.NewBufferFromBytes(pkt))
}

func (p *appsrcPusher) EndStream() gst.FlowReturn {
	return p.src.EndStream()
}

type SrcOption func(*Src) error

// SrcComponent selects the ICE component the source receives from. The
// default is component 1.
func SrcComponent(id ice.ComponentID) SrcOption {
	return func(s *Src) error {
		if id < 1 || id > ice.MaxComponents {
			return fmt.Errorf("%w: %v", ice.ErrInvalidComponent, id)
		}
		s.component = id
		return nil
	}
}

// SrcCaps sets the caps of the buffers pushed by the source, e.g. the RTP
// caps of the received stream.
func SrcCaps(caps string) SrcOption {
	return func(s *Src) error {
		s.caps = caps
		return nil
	}
}

// SrcMaxQueued sets the number of packets buffered while downstream does
// not accept data. When the limit is reached the oldest packet is dropped.
func SrcMaxQueued(n int) SrcOption {
	return func(s *Src) error {
		if n <= 0 {
			return fmt.Errorf("invalid queue size: %v", n)
		}
		s.maxQueued = n
		return nil
	}
}

func SrcPadProbe(enabled bool) SrcOption {
	return func(s *Src) error {
		s.enablePadProbe = enabled
		return nil
	}
}

func SrcLogger(logger *slog.Logger) SrcOption {
	return func(s *Src) error {
		s.logger = logger
		return nil
	}
}

// SrcStats are the packet counters of a Src.
type SrcStats struct {
	Received uint64
	Pushed   uint64
	Dropped  uint64
}

// Src is a live push source emitting the packets received on one component
// of an ICE session.
//
// Packets are handed from the session's receive goroutine to the element
// loop through the outbufs queue. An idle source on the element loop pushes
// them downstream as long as downstream wants data.
type Src struct {
	logger         *slog.Logger
	component      ice.ComponentID
	caps           string
	maxQueued      int
	enablePadProbe bool

	bin    *gst.Bin
	appsrc *app.Source
	pad    *gst.Pad
	pusher pusher

	session     *ice.Session
	removeRx    func()
	removeState func()

	mainloop *loop.Loop
	started  bool
	outbufs  *queue.Queue

	lock       sync.Mutex
	unlocked   bool
	wantData   bool
	idleSource *loop.IdleSource
	defAddr    net.Addr

	dropWarning rate.Sometimes

	received atomic.Uint64
	pushed   atomic.Uint64
	dropped  atomic.Uint64

	closeOnce sync.Once
}

// NewSrc creates a source bin named name with an appsrc and a ghost src
// pad, and attaches it to session.
func NewSrc(name string, session *ice.Session, opts ...SrcOption) (*Src, error) {
	if session == nil {
		return nil, errors.New("ICE source requires a session")
	}
	s, err := newSrc(opts...)
	if err != nil {
		return nil, err
	}
	if int(s.component) > session.ComponentCount() {
		return nil, fmt.Errorf("%w: session has %v components, requested %v", ice.ErrInvalidComponent, session.ComponentCount(), s.component)
	}

	s.appsrc, err = app.NewAppSrc()
	if err != nil {
		return nil, err
	}
	s.appsrc.SetStreamType(app.AppStreamTypeStream)
	s.appsrc.SetLive(true)
	s.appsrc.SetDoTimestamp(true)
	s.appsrc.SetFormat(gst.FormatTime)
	if s.caps != "" {
		s.appsrc.SetCaps(gst.NewCapsFromString(s.caps))
	}
	s.appsrc.SetCallbacks(&app.SourceCallbacks{
		NeedDataFunc: func(_ *app.Source, _ uint) {
			s.needData()
		},
		EnoughDataFunc: func(_ *app.Source) {
			s.enoughData()
		},
	})
	s.pusher = &appsrcPusher{src: s.appsrc}

	s.bin = gst.NewBin(name)
	if err = s.bin.Add(s.appsrc.Element); err != nil {
		return nil, err
	}
	srcpad := s.appsrc.GetStaticPad("src")
	if s.enablePadProbe {
		srcpad.AddProbe(gst.PadProbeTypeBuffer|gst.PadProbeTypeBufferList, getPacketLogPadProbe(name, s.logger))
	}
	srcpad.AddProbe(gst.PadProbeTypeEventDownstream|gst.PadProbeTypeEventFlush, s.flushPadProbe)
	ghostpad := gst.NewGhostPad("src", srcpad)
	if !s.bin.AddPad(ghostpad.Pad) {
		return nil, errors.New("failed to add ghostpad to ICE source")
	}
	s.pad = ghostpad.Pad

	s.attach(session)
	s.start()
	return s, nil
}

// newSrc sets up everything but the pipeline elements.
func newSrc(opts ...SrcOption) (*Src, error) {
	s := &Src{
		logger:      slog.Default(),
		component:   ice.ComponentRTP,
		maxQueued:   defaultMaxQueued,
		mainloop:    loop.New(),
		wantData:    true,
		dropWarning: rate.Sometimes{First: 1, Interval: time.Second},
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "icesrc", "ice-component", s.component)
	s.outbufs = queue.New(s.maxQueued)
	return s, nil
}

func (s *Src) start() {
	s.started = true
	go s.mainloop.Run()
}

func (s *Src) attach(session *ice.Session) {
	s.session = session
	s.removeRx = session.OnRxData(s.HandleRxData)
	s.removeState = session.OnStateChange(func(state ice.State) {
		if state == ice.StateReady || state == ice.StateRunning {
			s.mainloop.Invoke(s.refreshDefaultAddr)
		}
	})
	if state := session.State(); state == ice.StateReady || state == ice.StateRunning {
		s.mainloop.Invoke(s.refreshDefaultAddr)
	}
}

func (s *Src) refreshDefaultAddr() {
	addr, err := s.session.DefaultAddr(s.component)
	if err != nil {
		s.logger.Warn("failed to get default address", "error", err)
		return
	}
	s.lock.Lock()
	s.defAddr = addr
	s.lock.Unlock()
	s.logger.Info("default address updated", "address", addr)
}

// HandleRxData queues a packet received on an ICE component. Packets of
// other components are ignored. pkt is copied, the caller may reuse it.
func (s *Src) HandleRxData(comp ice.ComponentID, pkt []byte, src net.Addr) {
	if comp != s.component {
		return
	}
	dropped, err := s.outbufs.Push(queue.Packet{
		Data:      slices.Clone(pkt),
		From:      src,
		Component: uint16(comp),
		Received:  time.Now(),
	})
	if err != nil {
		// closed
		return
	}
	s.received.Add(1)
	if dropped {
		s.dropped.Add(1)
		s.dropWarning.Do(func() {
			s.logger.Warn("outbound queue full, dropping oldest packet", "dropped", s.dropped.Load())
		})
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	s.scheduleLocked()
}

// scheduleLocked adds the idle source unless one is pending or pushing is
// paused. It must be called with lock held.
func (s *Src) scheduleLocked() {
	if s.unlocked || !s.wantData {
		return
	}
	if s.idleSource != nil && !s.idleSource.IsDestroyed() {
		return
	}
	s.idleSource = s.mainloop.IdleAdd(s.dispatch)
}

// dispatch pushes one queued packet downstream. It runs as idle source on
// the element loop and removes itself once there is nothing left to push.
func (s *Src) dispatch() bool {
	s.lock.Lock()
	if s.unlocked || !s.wantData {
		s.idleSource = nil
		s.lock.Unlock()
		return false
	}
	s.lock.Unlock()

	p, ok := s.outbufs.TryPop()
	if !ok {
		s.lock.Lock()
		defer s.lock.Unlock()
		if s.outbufs.Len() > 0 {
			return true
		}
		s.idleSource = nil
		return false
	}

	switch ret := s.pusher.PushBuffer(p.Data); ret {
	case gst.FlowOK:
		s.pushed.Add(1)
	case gst.FlowFlushing:
		s.logger.Debug("downstream flushing, dropping packet")
		s.dropped.Add(1)
	default:
		s.logger.Error("failed to push buffer", "flow-return", ret)
		s.dropped.Add(1)
	}
	return true
}

func (s *Src) needData() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.wantData = true
	if s.outbufs.Len() > 0 {
		s.scheduleLocked()
	}
}

func (s *Src) enoughData() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.wantData = false
}

// Unlock interrupts pushing: queued packets are discarded and nothing is
// pushed until UnlockStop is called.
func (s *Src) Unlock() {
	s.lock.Lock()
	s.unlocked = true
	if s.idleSource != nil {
		s.idleSource.Destroy()
		s.idleSource = nil
	}
	s.lock.Unlock()

	s.outbufs.Unlock()
	if n := s.outbufs.Flush(); n > 0 {
		s.dropped.Add(uint64(n))
		s.logger.Debug("flushed queued packets", "count", n)
	}
}

// flushPadProbe unlocks the source while the pipeline flushes.
func (s *Src) flushPadProbe(_ *gst.Pad, ppi *gst.PadProbeInfo) gst.PadProbeReturn {
	event := ppi.GetEvent()
	if event == nil {
		return gst.PadProbeOK
	}
	switch event.Type() {
	case gst.EventTypeFlushStart:
		s.Unlock()
	case gst.EventTypeFlushStop:
		s.UnlockStop()
	}
	return gst.PadProbeOK
}

// UnlockStop resumes pushing after Unlock.
func (s *Src) UnlockStop() {
	s.outbufs.UnlockStop()

	s.lock.Lock()
	defer s.lock.Unlock()
	s.unlocked = false
	if s.outbufs.Len() > 0 {
		s.scheduleLocked()
	}
}

func (s *Src) IsUnlocked() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.unlocked
}

// DefaultAddr returns the default address of the component, nil if it is
// not known yet.
func (s *Src) DefaultAddr() net.Addr {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.defAddr
}

func (s *Src) Stats() SrcStats {
	return SrcStats{
		Received: s.received.Load(),
		Pushed:   s.pushed.Load(),
		Dropped:  s.dropped.Load(),
	}
}

func (s *Src) Component() ice.ComponentID {
	return s.component
}

func (s *Src) Kind() Kind {
	return KindSrc
}

func (s *Src) Element() *gst.Element {
	return s.bin.Element
}

func (s *Src) SrcPad() (*gst.Pad, error) {
	if s.pad == nil {
		return nil, errors.New("src pad not found")
	}
	return s.pad, nil
}

// Close detaches the source from the session, stops the element loop and
// signals end of stream downstream.
func (s *Src) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.removeRx != nil {
			s.removeRx()
		}
		if s.removeState != nil {
			s.removeState()
		}
		s.Unlock()
		s.mainloop.Quit()
		if s.started {
			<-s.mainloop.Done()
		}
		s.outbufs.Close()
		if ret := s.pusher.EndStream(); ret != gst.FlowOK && ret != gst.FlowFlushing {
			err = fmt.Errorf("failed to send end of stream: %v", ret)
		}
	})
	return err
}
