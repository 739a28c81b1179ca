package ice

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/pion/ice/v4"
)

// ComponentID identifies a component of an ICE session.
type ComponentID uint16

const (
	ComponentRTP  ComponentID = 1
	ComponentRTCP ComponentID = 2
)

// MaxComponents is the maximum number of components of a Session.
const MaxComponents = 8

// pion agents only know a single component, candidates handed to them always
// carry this one.
const agentComponent = "1"

// Candidate is a candidate attribute value tagged with the component it
// belongs to. Value uses the format of the SDP candidate attribute without
// the "candidate:" prefix and its component field matches Component.
type Candidate struct {
	Component ComponentID
	Value     string
}

func (c Candidate) String() string {
	return "candidate:" + c.Value
}

// ParseCandidate parses a candidate attribute. Accepted forms are with or
// without the "a=" and "candidate:" prefixes.
func ParseCandidate(s string) (Candidate, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "a=")
	s = strings.TrimPrefix(s, "candidate:")
	fields := strings.Fields(s)
	if len(fields) < 8 {
		return Candidate{}, fmt.Errorf("invalid candidate %q: expected at least 8 fields, got %v", s, len(fields))
	}
	comp, err := strconv.ParseUint(fields[1], 10, 16)
	if err != nil || comp == 0 {
		return Candidate{}, fmt.Errorf("invalid candidate %q: invalid component %q", s, fields[1])
	}
	return Candidate{
		Component: ComponentID(comp),
		Value:     strings.Join(fields, " "),
	}, nil
}

func newCandidate(comp ComponentID, c ice.Candidate) Candidate {
	return Candidate{
		Component: comp,
		Value:     withComponent(c.Marshal(), strconv.Itoa(int(comp))),
	}
}

func (c Candidate) toICE() (ice.Candidate, error) {
	return ice.UnmarshalCandidate(withComponent(c.Value, agentComponent))
}

func withComponent(value, comp string) string {
	value = strings.TrimPrefix(value, "candidate:")
	fields := strings.Fields(value)
	if len(fields) < 2 {
		return value
	}
	fields[1] = comp
	return strings.Join(fields, " ")
}

func typePreference(t ice.CandidateType) int {
	switch t {
	case ice.CandidateTypeRelay:
		return 3
	case ice.CandidateTypeServerReflexive:
		return 2
	case ice.CandidateTypePeerReflexive:
		return 1
	default:
		return 0
	}
}

// preferredCandidate returns the candidate used as default address: relayed
// before server reflexive before peer reflexive before host, then by
// priority. Candidates without an IP address are skipped.
func preferredCandidate(candidates []ice.Candidate) ice.Candidate {
	var best ice.Candidate
	for _, c := range candidates {
		if c == nil || net.ParseIP(c.Address()) == nil {
			continue
		}
		if best == nil {
			best = c
			continue
		}
		cp, bp := typePreference(c.Type()), typePreference(best.Type())
		if cp > bp || (cp == bp && c.Priority() > best.Priority()) {
			best = c
		}
	}
	return best
}

func candidateAddr(c ice.Candidate) *net.UDPAddr {
	return &net.UDPAddr{
		IP:   net.ParseIP(c.Address()),
		Port: c.Port(),
	}
}
