package subcmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"

	"github.com/mengelbart/icesrc/flags"
	"github.com/mengelbart/icesrc/ice"
)

// newSession creates an ICE session from the ICE flags.
func newSession(logger *slog.Logger) (*ice.Session, error) {
	opts := []ice.Option{
		ice.Logger(logger),
		ice.Components(int(flags.Components)),
		ice.Timeouts(flags.DisconnectedTimeout, flags.FailedTimeout),
		ice.ReadBufferSize(int(flags.MaxPacketSize)),
	}
	if names := interfaceNames(flags.Interfaces); len(names) > 0 {
		opts = append(opts, ice.InterfaceFilter(func(name string) bool {
			return slices.Contains(names, name)
		}))
	}
	if flags.STUN != "" {
		opts = append(opts, ice.STUNServer(flags.STUN))
	}
	if flags.TURN != "" {
		opts = append(opts, ice.TURNServer(flags.TURN, flags.TURNUser, flags.TURNPassword))
	}
	if flags.PortMin != 0 || flags.PortMax != 0 {
		if flags.PortMin > math.MaxUint16 || flags.PortMax > math.MaxUint16 {
			return nil, fmt.Errorf("invalid port range %v-%v", flags.PortMin, flags.PortMax)
		}
		opts = append(opts, ice.PortRange(uint16(flags.PortMin), uint16(flags.PortMax)))
	}
	if flags.HostOnly {
		opts = append(opts, ice.HostCandidatesOnly())
	}
	if flags.RecvBufferSize > 0 {
		n, err := ice.NewNet(ice.NetRecvBufferSize(int(flags.RecvBufferSize)))
		if err != nil {
			return nil, err
		}
		opts = append(opts, ice.WithNet(n))
	}
	return ice.NewSession(opts...)
}

func interfaceNames(list string) []string {
	names := []string{}
	for name := range strings.SplitSeq(list, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// gather gathers the local candidates of session and waits until gathering
// is complete.
func gather(ctx context.Context, session *ice.Session) error {
	done := make(chan struct{})
	session.OnGatheringComplete(func() {
		close(done)
	})
	session.OnCandidate(func(c ice.Candidate) {
		slog.Debug("local candidate", "candidate", c)
	})
	if err := session.GatherCandidates(); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// answerer serves the local description of a session and accepts the first
// remote description posted to it.
type answerer struct {
	session *ice.Session
	remote  chan *ice.Description
}

func newAnswerer(session *ice.Session) *answerer {
	return &answerer{
		session: session,
		remote:  make(chan *ice.Description, 1),
	}
}

func (a *answerer) HandleDescription(d *ice.Description) error {
	select {
	case a.remote <- d:
		return nil
	default:
		return errors.New("remote description already received")
	}
}

func (a *answerer) LocalDescription() (*ice.Description, error) {
	if a.session.State() < ice.StateReady {
		return nil, errors.New("local candidates not gathered yet")
	}
	return a.session.LocalDescription()
}

func (a *answerer) HandleCandidate(c ice.Candidate) error {
	return a.session.AddRemoteCandidate(c)
}

// waitRemote returns the first remote description.
func (a *answerer) waitRemote(ctx context.Context) (*ice.Description, error) {
	select {
	case d := <-a.remote:
		return d, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
