// Package ice implements an ICE stream transport with one or more
// components on top of pion/ice.
//
// A Session gathers candidates for every component, runs connectivity checks
// against a remote peer and delivers received packets to registered receive
// handlers. All components share one pair of ICE credentials, pion agents
// only handle a single component, so each component is backed by its own
// agent.
package ice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mengelbart/icesrc/logging"
	"github.com/pion/ice/v4"
	"github.com/pion/randutil"
	"github.com/pion/stun/v3"
	"github.com/pion/transport/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var (
	ErrInvalidComponent = errors.New("invalid component")
	ErrNotRunning       = errors.New("ICE session is not running")
	ErrAlreadyStarted   = errors.New("ICE session already started")
	ErrNoCandidate      = errors.New("no candidate available")
	ErrClosed           = errors.New("ICE session closed")
)

const (
	ufragLength = 16
	pwdLength   = 32

	credentialRunes = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789+/"

	defaultReadBufferSize = 8192
)

// State is the state of a Session.
type State int

const (
	StateNull State = iota
	StateInit
	StateGathering
	StateReady
	StateNegotiating
	StateRunning
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNull:
		return "null"
	case StateInit:
		return "init"
	case StateGathering:
		return "gathering"
	case StateReady:
		return "ready"
	case StateNegotiating:
		return "negotiating"
	case StateRunning:
		return "running"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// RxHandler is called for every packet received on a component. pkt is only
// valid until the handler returns.
type RxHandler func(comp ComponentID, pkt []byte, src net.Addr)

type Option func(*Session) error

// Components sets the number of components, the default is 1.
func Components(n int) Option {
	return func(s *Session) error {
		if n < 1 || n > MaxComponents {
			return fmt.Errorf("%w: component count %v not in [1, %v]", ErrInvalidComponent, n, MaxComponents)
		}
		s.componentCount = n
		return nil
	}
}

// STUNServer adds a STUN server URI, e.g. "stun:stun.l.google.com:19302".
func STUNServer(uri string) Option {
	return func(s *Session) error {
		u, err := stun.ParseURI(uri)
		if err != nil {
			return fmt.Errorf("invalid STUN URI %q: %w", uri, err)
		}
		s.urls = append(s.urls, u)
		return nil
	}
}

// TURNServer adds a TURN server URI with long term credentials.
func TURNServer(uri, username, password string) Option {
	return func(s *Session) error {
		u, err := stun.ParseURI(uri)
		if err != nil {
			return fmt.Errorf("invalid TURN URI %q: %w", uri, err)
		}
		u.Username = username
		u.Password = password
		s.urls = append(s.urls, u)
		return nil
	}
}

// PortRange restricts the local ports used for host candidates.
func PortRange(minPort, maxPort uint16) Option {
	return func(s *Session) error {
		if minPort > maxPort {
			return fmt.Errorf("invalid port range %v-%v", minPort, maxPort)
		}
		s.portMin = minPort
		s.portMax = maxPort
		return nil
	}
}

// Credentials sets the local ICE credentials instead of generating random
// ones.
func Credentials(ufrag, pwd string) Option {
	return func(s *Session) error {
		if len(ufrag) < 4 || len(pwd) < 22 {
			return errors.New("ICE ufrag must have at least 4 and pwd at least 22 characters")
		}
		s.ufrag = ufrag
		s.pwd = pwd
		return nil
	}
}

// WithNet sets the network used by the agents, e.g. a pion vnet in tests.
func WithNet(n transport.Net) Option {
	return func(s *Session) error {
		s.net = n
		return nil
	}
}

// NetworkTypes restricts the network types of local candidates.
func NetworkTypes(types ...ice.NetworkType) Option {
	return func(s *Session) error {
		s.networkTypes = types
		return nil
	}
}

// HostCandidatesOnly disables server reflexive and relayed candidates.
func HostCandidatesOnly() Option {
	return func(s *Session) error {
		s.candidateTypes = []ice.CandidateType{ice.CandidateTypeHost}
		return nil
	}
}

// InterfaceFilter restricts the interfaces used for host candidates.
func InterfaceFilter(filter func(name string) bool) Option {
	return func(s *Session) error {
		s.interfaceFilter = filter
		return nil
	}
}

// Timeouts sets the disconnected and failed timeouts of the agents.
func Timeouts(disconnected, failed time.Duration) Option {
	return func(s *Session) error {
		s.disconnectedTimeout = &disconnected
		s.failedTimeout = &failed
		return nil
	}
}

func ReadBufferSize(size int) Option {
	return func(s *Session) error {
		if size <= 0 {
			return fmt.Errorf("invalid read buffer size: %v", size)
		}
		s.readBufferSize = size
		return nil
	}
}

func Logger(logger *slog.Logger) Option {
	return func(s *Session) error {
		s.logger = logger
		return nil
	}
}

type component struct {
	id    ComponentID
	agent *ice.Agent
	conn  *ice.Conn
	done  bool
}

// Session is an ICE stream transport.
type Session struct {
	logger *slog.Logger

	componentCount      int
	urls                []*stun.URI
	portMin             uint16
	portMax             uint16
	ufrag               string
	pwd                 string
	net                 transport.Net
	networkTypes        []ice.NetworkType
	candidateTypes      []ice.CandidateType
	interfaceFilter     func(string) bool
	disconnectedTimeout *time.Duration
	failedTimeout       *time.Duration
	readBufferSize      int

	lock       sync.Mutex
	state      State
	started    bool
	components []*component
	gathering  int

	// serializes state change callbacks
	stateLock sync.Mutex

	rxLock     sync.Mutex
	rxNextID   int
	rxHandlers map[int]RxHandler
	rxSnapshot atomic.Pointer[[]RxHandler]

	onCandidate         func(Candidate)
	stateNextID         int
	stateHandlers       []stateHandler
	onGatheringComplete func()

	shortReadWarning rate.Sometimes

	wg sync.WaitGroup
}

type stateHandler struct {
	id int
	f  func(State)
}

// NewSession creates a Session and its agents. Candidates are not gathered
// before GatherCandidates is called.
func NewSession(opts ...Option) (*Session, error) {
	s := &Session{
		logger:         slog.Default(),
		componentCount: 1,
		urls:           []*stun.URI{},
		networkTypes:   []ice.NetworkType{ice.NetworkTypeUDP4, ice.NetworkTypeUDP6},
		readBufferSize: defaultReadBufferSize,
		state:          StateNull,
		components:     []*component{},
		rxHandlers:     map[int]RxHandler{},

		shortReadWarning: rate.Sometimes{First: 1, Interval: time.Second},
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "ice-session")

	if s.ufrag == "" {
		var err error
		s.ufrag, err = randutil.GenerateCryptoRandomString(ufragLength, credentialRunes)
		if err != nil {
			return nil, err
		}
		s.pwd, err = randutil.GenerateCryptoRandomString(pwdLength, credentialRunes)
		if err != nil {
			return nil, err
		}
	}
	if s.net == nil {
		n, err := NewNet()
		if err != nil {
			return nil, err
		}
		s.net = n
	}

	for i := 1; i <= s.componentCount; i++ {
		c, err := s.newComponent(ComponentID(i))
		if err != nil {
			s.closeAgents()
			return nil, fmt.Errorf("failed to create agent for component %v: %w", i, err)
		}
		s.components = append(s.components, c)
	}
	s.setState(StateInit)
	return s, nil
}

func (s *Session) newComponent(id ComponentID) (*component, error) {
	agent, err := ice.NewAgent(&ice.AgentConfig{
		Urls:                s.urls,
		PortMin:             s.portMin,
		PortMax:             s.portMax,
		LocalUfrag:          s.ufrag,
		LocalPwd:            s.pwd,
		NetworkTypes:        s.networkTypes,
		CandidateTypes:      s.candidateTypes,
		InterfaceFilter:     s.interfaceFilter,
		DisconnectedTimeout: s.disconnectedTimeout,
		FailedTimeout:       s.failedTimeout,
		MulticastDNSMode:    ice.MulticastDNSModeDisabled,
		LoggerFactory:       logging.NewPionLoggerFactory(s.logger.With("ice-component", id)),
		Net:                 s.net,
	})
	if err != nil {
		return nil, err
	}
	c := &component{
		id:    id,
		agent: agent,
	}
	if err = agent.OnCandidate(func(candidate ice.Candidate) {
		s.handleCandidate(c, candidate)
	}); err != nil {
		return nil, errors.Join(err, agent.Close())
	}
	if err = agent.OnConnectionStateChange(func(cs ice.ConnectionState) {
		s.logger.Info("ICE connection state changed", "ice-component", id, "state", cs)
	}); err != nil {
		return nil, errors.Join(err, agent.Close())
	}
	if err = agent.OnSelectedCandidatePairChange(func(local, remote ice.Candidate) {
		s.logger.Info("selected candidate pair changed", "ice-component", id, "local", local, "remote", remote)
	}); err != nil {
		return nil, errors.Join(err, agent.Close())
	}
	return c, nil
}

func (s *Session) handleCandidate(c *component, candidate ice.Candidate) {
	if candidate != nil {
		s.lock.Lock()
		cb := s.onCandidate
		s.lock.Unlock()
		cand := newCandidate(c.id, candidate)
		s.logger.Info("gathered local candidate", "candidate", cand)
		if cb != nil {
			cb(cand)
		}
		return
	}

	s.lock.Lock()
	if c.done || s.state != StateGathering {
		s.lock.Unlock()
		return
	}
	c.done = true
	s.gathering--
	complete := s.gathering == 0
	cb := s.onGatheringComplete
	s.lock.Unlock()

	if !complete {
		return
	}
	s.logger.Info("candidate gathering complete")
	s.setState(StateReady)
	if cb != nil {
		cb()
	}
}

func (s *Session) setState(state State) {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()

	s.lock.Lock()
	if s.state == state || (s.state == StateClosed && state != StateClosed) {
		s.lock.Unlock()
		return
	}
	old := s.state
	s.state = state
	handlers := s.stateHandlers
	s.lock.Unlock()

	s.logger.Info("ICE session state changed", "old", old, "new", state)
	for _, h := range handlers {
		h.f(state)
	}
}

func (s *Session) State() State {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.state
}

func (s *Session) ComponentCount() int {
	return s.componentCount
}

// OnRxData adds a receive handler. Handlers are called in the order they
// were added on the goroutine reading the component. The returned function
// removes the handler.
func (s *Session) OnRxData(h RxHandler) (remove func()) {
	s.rxLock.Lock()
	defer s.rxLock.Unlock()
	id := s.rxNextID
	s.rxNextID++
	s.rxHandlers[id] = h
	s.updateRxSnapshot()
	return func() {
		s.rxLock.Lock()
		defer s.rxLock.Unlock()
		delete(s.rxHandlers, id)
		s.updateRxSnapshot()
	}
}

// updateRxSnapshot must be called with rxLock held.
func (s *Session) updateRxSnapshot() {
	handlers := make([]RxHandler, 0, len(s.rxHandlers))
	for id := 0; id < s.rxNextID; id++ {
		if h, ok := s.rxHandlers[id]; ok {
			handlers = append(handlers, h)
		}
	}
	s.rxSnapshot.Store(&handlers)
}

func (s *Session) OnCandidate(f func(Candidate)) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.onCandidate = f
}

// OnStateChange adds a state change handler. Handlers are called in order
// and never concurrently. The returned function removes the handler.
func (s *Session) OnStateChange(f func(State)) (remove func()) {
	s.lock.Lock()
	defer s.lock.Unlock()
	id := s.stateNextID
	s.stateNextID++
	s.stateHandlers = append(slices.Clip(s.stateHandlers), stateHandler{id: id, f: f})
	return func() {
		s.lock.Lock()
		defer s.lock.Unlock()
		s.stateHandlers = slices.DeleteFunc(slices.Clone(s.stateHandlers), func(h stateHandler) bool {
			return h.id == id
		})
	}
}

func (s *Session) OnGatheringComplete(f func()) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.onGatheringComplete = f
}

func (s *Session) component(id ComponentID) (*component, error) {
	if id < 1 || int(id) > len(s.components) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidComponent, id)
	}
	return s.components[id-1], nil
}

// GatherCandidates starts gathering local candidates on all components.
func (s *Session) GatherCandidates() error {
	s.lock.Lock()
	if s.state != StateInit {
		state := s.state
		s.lock.Unlock()
		return fmt.Errorf("cannot gather candidates in state %v", state)
	}
	s.gathering = len(s.components)
	s.lock.Unlock()

	s.setState(StateGathering)
	for _, c := range s.components {
		if err := c.agent.GatherCandidates(); err != nil {
			return fmt.Errorf("component %v: %w", c.id, err)
		}
	}
	return nil
}

func (s *Session) LocalCredentials() (ufrag, pwd string) {
	return s.ufrag, s.pwd
}

func (s *Session) LocalCandidates() ([]Candidate, error) {
	res := []Candidate{}
	for _, c := range s.components {
		cands, err := c.agent.GetLocalCandidates()
		if err != nil {
			return nil, fmt.Errorf("component %v: %w", c.id, err)
		}
		for _, cand := range cands {
			res = append(res, newCandidate(c.id, cand))
		}
	}
	return res, nil
}

// DefaultAddr returns the default address of a component. That is the local
// address of the selected pair once connected, or the address of the
// preferred local candidate before.
func (s *Session) DefaultAddr(id ComponentID) (*net.UDPAddr, error) {
	c, err := s.component(id)
	if err != nil {
		return nil, err
	}
	if pair, err := c.agent.GetSelectedCandidatePair(); err == nil && pair != nil && pair.Local != nil {
		if addr := candidateAddr(pair.Local); addr.IP != nil {
			return addr, nil
		}
	}
	cands, err := c.agent.GetLocalCandidates()
	if err != nil {
		return nil, err
	}
	best := preferredCandidate(cands)
	if best == nil {
		return nil, fmt.Errorf("%w: component %v", ErrNoCandidate, id)
	}
	return candidateAddr(best), nil
}

// LocalDescription returns the credentials, candidates and default addresses
// of the session.
func (s *Session) LocalDescription() (*Description, error) {
	cands, err := s.LocalCandidates()
	if err != nil {
		return nil, err
	}
	d := &Description{
		Ufrag:        s.ufrag,
		Pwd:          s.pwd,
		Candidates:   cands,
		DefaultAddrs: map[ComponentID]*net.UDPAddr{},
	}
	for _, c := range s.components {
		addr, err := s.DefaultAddr(c.id)
		if errors.Is(err, ErrNoCandidate) {
			continue
		}
		if err != nil {
			return nil, err
		}
		d.DefaultAddrs[c.id] = addr
	}
	return d, nil
}

// AddRemoteCandidate adds a remote candidate to the agent of its component.
func (s *Session) AddRemoteCandidate(c Candidate) error {
	comp, err := s.component(c.Component)
	if err != nil {
		return err
	}
	ic, err := c.toICE()
	if err != nil {
		return fmt.Errorf("failed to parse remote candidate %q: %w", c.Value, err)
	}
	return comp.agent.AddRemoteCandidate(ic)
}

// Start runs connectivity checks on all components and starts receiving once
// every component is connected. The controlling side nominates the pairs.
func (s *Session) Start(ctx context.Context, controlling bool, remoteUfrag, remotePwd string) error {
	s.lock.Lock()
	if s.state == StateClosed {
		s.lock.Unlock()
		return ErrClosed
	}
	if s.started {
		s.lock.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.lock.Unlock()

	s.setState(StateNegotiating)
	s.logger.Info("starting connectivity checks", "controlling", controlling)

	eg, ectx := errgroup.WithContext(ctx)
	for _, c := range s.components {
		eg.Go(func() error {
			var conn *ice.Conn
			var err error
			if controlling {
				conn, err = c.agent.Dial(ectx, remoteUfrag, remotePwd)
			} else {
				conn, err = c.agent.Accept(ectx, remoteUfrag, remotePwd)
			}
			if err != nil {
				return fmt.Errorf("component %v: %w", c.id, err)
			}
			s.lock.Lock()
			c.conn = conn
			s.lock.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		s.logger.Error("connectivity checks failed", "error", err)
		s.setState(StateFailed)
		return err
	}

	s.lock.Lock()
	if s.state == StateClosed {
		s.lock.Unlock()
		return ErrClosed
	}
	for _, c := range s.components {
		s.wg.Add(1)
		go s.read(c)
	}
	s.lock.Unlock()

	s.setState(StateRunning)
	return nil
}

// StartWithDescription adds the remote candidates of d and calls Start with
// the remote credentials of d.
func (s *Session) StartWithDescription(ctx context.Context, controlling bool, d *Description) error {
	for _, c := range d.Candidates {
		if int(c.Component) > s.componentCount {
			s.logger.Warn("ignoring remote candidate for unknown component", "candidate", c)
			continue
		}
		if err := s.AddRemoteCandidate(c); err != nil {
			return err
		}
	}
	return s.Start(ctx, controlling, d.Ufrag, d.Pwd)
}

func (s *Session) read(c *component) {
	defer s.wg.Done()
	buf := make([]byte, s.readBufferSize)
	for {
		n, err := c.conn.Read(buf)
		if errors.Is(err, io.ErrShortBuffer) {
			// pion consumed the packet, the connection is still usable
			s.shortReadWarning.Do(func() {
				s.logger.Warn("dropping packet larger than read buffer", "ice-component", c.id, "buffer-size", len(buf))
			})
			continue
		}
		if err != nil {
			if s.State() != StateClosed {
				s.logger.Error("failed to read from ICE connection", "ice-component", c.id, "error", err)
			}
			return
		}
		src := c.conn.RemoteAddr()
		if handlers := s.rxSnapshot.Load(); handlers != nil {
			for _, h := range *handlers {
				h(c.id, buf[:n], src)
			}
		}
	}
}

// Send writes pkt to the remote peer on a component.
func (s *Session) Send(id ComponentID, pkt []byte) (int, error) {
	c, err := s.component(id)
	if err != nil {
		return 0, err
	}
	s.lock.Lock()
	conn := c.conn
	state := s.state
	s.lock.Unlock()
	if state == StateClosed {
		return 0, ErrClosed
	}
	if conn == nil || state != StateRunning {
		return 0, ErrNotRunning
	}
	return conn.Write(pkt)
}

func (s *Session) closeAgents() error {
	var err error
	for _, c := range s.components {
		if cerr := c.agent.Close(); cerr != nil && !errors.Is(cerr, ice.ErrClosed) {
			err = errors.Join(err, cerr)
		}
	}
	return err
}

// Close stops the agents and waits until no receive handler is running
// anymore. Close must not be called from a receive handler.
func (s *Session) Close() error {
	s.lock.Lock()
	if s.state == StateClosed {
		s.lock.Unlock()
		return nil
	}
	s.lock.Unlock()
	s.setState(StateClosed)

	err := s.closeAgents()
	s.wg.Wait()
	return err
}
