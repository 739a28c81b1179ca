package ice

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/pion/sdp/v2"
)

var ErrMissingCredentials = errors.New("session description without ICE credentials")

const (
	attrICEUfrag  = "ice-ufrag"
	attrICEPwd    = "ice-pwd"
	attrCandidate = "candidate"
	attrRTCP      = "rtcp"

	discardPort = 9
)

// Description holds everything a peer needs to start connectivity checks
// against a Session.
type Description struct {
	Ufrag        string
	Pwd          string
	Candidates   []Candidate
	DefaultAddrs map[ComponentID]*net.UDPAddr
}

func addrType(ip net.IP) string {
	if ip.To4() == nil {
		return "IP6"
	}
	return "IP4"
}

// Marshal encodes d as an SDP session description with one media section.
// The connection address and port of the media section carry the default
// address of component 1, an rtcp attribute carries the one of component 2.
func (d *Description) Marshal() ([]byte, error) {
	if d.Ufrag == "" || d.Pwd == "" {
		return nil, ErrMissingCredentials
	}
	addr := &net.UDPAddr{IP: net.IPv4zero, Port: discardPort}
	if a, ok := d.DefaultAddrs[ComponentRTP]; ok && a != nil {
		addr = a
	}
	sessionID := uint64(time.Now().UnixNano())

	media := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   "application",
			Port:    sdp.RangedPort{Value: addr.Port},
			Protos:  []string{"RTP", "AVP"},
			Formats: []string{"96"},
		},
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: addrType(addr.IP),
			Address: &sdp.Address{
				Address: addr.IP.String(),
			},
		},
		Attributes: []sdp.Attribute{},
	}
	if rtcpAddr, ok := d.DefaultAddrs[ComponentRTCP]; ok && rtcpAddr != nil {
		media.Attributes = append(media.Attributes, sdp.Attribute{
			Key:   attrRTCP,
			Value: fmt.Sprintf("%d IN %s %s", rtcpAddr.Port, addrType(rtcpAddr.IP), rtcpAddr.IP),
		})
	}
	for _, c := range d.Candidates {
		media.Attributes = append(media.Attributes, sdp.Attribute{
			Key:   attrCandidate,
			Value: withComponent(c.Value, strconv.Itoa(int(c.Component))),
		})
	}

	sd := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      sessionID,
			SessionVersion: sessionID,
			NetworkType:    "IN",
			AddressType:    addrType(addr.IP),
			UnicastAddress: addr.IP.String(),
		},
		SessionName: "icesrc",
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
		Attributes: []sdp.Attribute{
			{Key: attrICEUfrag, Value: d.Ufrag},
			{Key: attrICEPwd, Value: d.Pwd},
		},
		MediaDescriptions: []*sdp.MediaDescription{media},
	}
	return sd.Marshal()
}

func lookup(attrs []sdp.Attribute, key string) (string, bool) {
	i := slices.IndexFunc(attrs, func(a sdp.Attribute) bool {
		return a.Key == key
	})
	if i < 0 {
		return "", false
	}
	return attrs[i].Value, true
}

// UnmarshalDescription decodes an SDP session description. ICE credentials
// may be given on session or media level, candidates are read from all media
// sections.
func UnmarshalDescription(b []byte) (*Description, error) {
	sd := &sdp.SessionDescription{}
	if err := sd.Unmarshal(b); err != nil {
		return nil, fmt.Errorf("failed to parse session description: %w", err)
	}
	d := &Description{
		Candidates:   []Candidate{},
		DefaultAddrs: map[ComponentID]*net.UDPAddr{},
	}
	d.Ufrag, _ = lookup(sd.Attributes, attrICEUfrag)
	d.Pwd, _ = lookup(sd.Attributes, attrICEPwd)

	for i, m := range sd.MediaDescriptions {
		if d.Ufrag == "" {
			d.Ufrag, _ = lookup(m.Attributes, attrICEUfrag)
		}
		if d.Pwd == "" {
			d.Pwd, _ = lookup(m.Attributes, attrICEPwd)
		}
		for _, a := range m.Attributes {
			if a.Key != attrCandidate {
				continue
			}
			c, err := ParseCandidate(a.Value)
			if err != nil {
				return nil, fmt.Errorf("media section %v: %w", i, err)
			}
			d.Candidates = append(d.Candidates, c)
		}
		if i != 0 {
			continue
		}
		connIP := connectionAddress(sd.ConnectionInformation)
		if ip := connectionAddress(m.ConnectionInformation); ip != nil {
			connIP = ip
		}
		if connIP != nil && !connIP.IsUnspecified() && m.MediaName.Port.Value != discardPort {
			d.DefaultAddrs[ComponentRTP] = &net.UDPAddr{IP: connIP, Port: m.MediaName.Port.Value}
		}
		if v, ok := lookup(m.Attributes, attrRTCP); ok {
			addr, err := parseRTCPAttribute(v, connIP)
			if err != nil {
				return nil, err
			}
			d.DefaultAddrs[ComponentRTCP] = addr
		}
	}
	if d.Ufrag == "" || d.Pwd == "" {
		return nil, ErrMissingCredentials
	}
	return d, nil
}

func connectionAddress(ci *sdp.ConnectionInformation) net.IP {
	if ci == nil || ci.Address == nil {
		return nil
	}
	return net.ParseIP(ci.Address.Address)
}

// parseRTCPAttribute parses the value of an RFC 3605 rtcp attribute. The
// port-only form takes its address from the connection line.
func parseRTCPAttribute(v string, connIP net.IP) (*net.UDPAddr, error) {
	fields := strings.Fields(v)
	if len(fields) != 1 && len(fields) != 4 {
		return nil, fmt.Errorf("invalid rtcp attribute %q", v)
	}
	port, err := strconv.ParseUint(fields[0], 10, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid rtcp attribute %q: %w", v, err)
	}
	ip := connIP
	if len(fields) == 4 {
		ip = net.ParseIP(fields[3])
	}
	if ip == nil {
		return nil, fmt.Errorf("invalid rtcp attribute %q: no address", v)
	}
	return &net.UDPAddr{IP: ip, Port: int(port)}, nil
}
