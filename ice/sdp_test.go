package ice

import (
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescriptionRoundTrip(t *testing.T) {
	d := &Description{
		Ufrag: "abcdefgh",
		Pwd:   "0123456789abcdefghijklmnop",
		Candidates: []Candidate{
			{Component: ComponentRTP, Value: "1 1 udp 2130706431 10.0.0.1 5000 typ host"},
			{Component: ComponentRTCP, Value: "1 2 udp 2130706431 10.0.0.1 5001 typ host"},
		},
		DefaultAddrs: map[ComponentID]*net.UDPAddr{
			ComponentRTP:  {IP: net.ParseIP("10.0.0.1"), Port: 5000},
			ComponentRTCP: {IP: net.ParseIP("10.0.0.1"), Port: 5001},
		},
	}
	b, err := d.Marshal()
	require.NoError(t, err)
	s := string(b)
	assert.Contains(t, s, "a=ice-ufrag:abcdefgh")
	assert.Contains(t, s, "m=application 5000 RTP/AVP 96")
	assert.Contains(t, s, "c=IN IP4 10.0.0.1")
	assert.Contains(t, s, "a=rtcp:5001 IN IP4 10.0.0.1")
	assert.Contains(t, s, "a=candidate:1 2 udp 2130706431 10.0.0.1 5001 typ host")

	got, err := UnmarshalDescription(b)
	require.NoError(t, err)
	assert.Equal(t, d.Ufrag, got.Ufrag)
	assert.Equal(t, d.Pwd, got.Pwd)
	assert.Equal(t, d.Candidates, got.Candidates)
	require.Len(t, got.DefaultAddrs, 2)
	assert.Equal(t, "10.0.0.1:5000", got.DefaultAddrs[ComponentRTP].String())
	assert.Equal(t, "10.0.0.1:5001", got.DefaultAddrs[ComponentRTCP].String())
}

func TestDescriptionWithoutDefaultAddress(t *testing.T) {
	d := &Description{
		Ufrag:      "abcdefgh",
		Pwd:        "0123456789abcdefghijklmnop",
		Candidates: []Candidate{},
	}
	b, err := d.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(b), "m=application 9 RTP/AVP 96")

	got, err := UnmarshalDescription(b)
	require.NoError(t, err)
	assert.Empty(t, got.DefaultAddrs)
	assert.Empty(t, got.Candidates)
}

func TestDescriptionMissingCredentials(t *testing.T) {
	_, err := (&Description{Ufrag: "abcd"}).Marshal()
	assert.ErrorIs(t, err, ErrMissingCredentials)

	raw := strings.Join([]string{
		"v=0",
		"o=- 1 1 IN IP4 0.0.0.0",
		"s=-",
		"t=0 0",
		"m=application 9 RTP/AVP 96",
		"c=IN IP4 0.0.0.0",
		"",
	}, "\r\n")
	_, err = UnmarshalDescription([]byte(raw))
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestDescriptionMediaLevelCredentials(t *testing.T) {
	raw := strings.Join([]string{
		"v=0",
		"o=- 1 1 IN IP4 0.0.0.0",
		"s=-",
		"t=0 0",
		"m=application 9 RTP/AVP 96",
		"c=IN IP4 0.0.0.0",
		"a=ice-ufrag:abcdefgh",
		"a=ice-pwd:0123456789abcdefghijklmnop",
		"a=candidate:1 1 udp 2130706431 10.0.0.1 5000 typ host",
		"",
	}, "\r\n")
	d, err := UnmarshalDescription([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "abcdefgh", d.Ufrag)
	require.Len(t, d.Candidates, 1)
	assert.Equal(t, ComponentRTP, d.Candidates[0].Component)
}

func TestDescriptionInvalidCandidate(t *testing.T) {
	raw := strings.Join([]string{
		"v=0",
		"o=- 1 1 IN IP4 0.0.0.0",
		"s=-",
		"t=0 0",
		"a=ice-ufrag:abcdefgh",
		"a=ice-pwd:0123456789abcdefghijklmnop",
		"m=application 9 RTP/AVP 96",
		"c=IN IP4 0.0.0.0",
		"a=candidate:1 0 udp 2130706431 10.0.0.1 5000 typ host",
		"",
	}, "\r\n")
	_, err := UnmarshalDescription([]byte(raw))
	assert.Error(t, err)
}

func TestDescriptionPortOnlyRTCP(t *testing.T) {
	raw := strings.Join([]string{
		"v=0",
		"o=- 1 1 IN IP4 10.0.0.1",
		"s=-",
		"t=0 0",
		"a=ice-ufrag:abcdefgh",
		"a=ice-pwd:0123456789abcdefghijklmnop",
		"m=application 5000 RTP/AVP 96",
		"c=IN IP4 10.0.0.1",
		"a=rtcp:5001",
		"",
	}, "\r\n")
	d, err := UnmarshalDescription([]byte(raw))
	require.NoError(t, err)
	require.Len(t, d.DefaultAddrs, 2)
	assert.Equal(t, "10.0.0.1:5000", d.DefaultAddrs[ComponentRTP].String())
	assert.Equal(t, "10.0.0.1:5001", d.DefaultAddrs[ComponentRTCP].String())
}

func TestDescriptionInvalidRTCP(t *testing.T) {
	for _, v := range []string{"5001 IN IP4", "port", "5001 IN IP4 nowhere"} {
		raw := strings.Join([]string{
			"v=0",
			"o=- 1 1 IN IP4 10.0.0.1",
			"s=-",
			"t=0 0",
			"a=ice-ufrag:abcdefgh",
			"a=ice-pwd:0123456789abcdefghijklmnop",
			"m=application 5000 RTP/AVP 96",
			"c=IN IP4 10.0.0.1",
			"a=rtcp:" + v,
			"",
		}, "\r\n")
		_, err := UnmarshalDescription([]byte(raw))
		assert.Error(t, err, v)
	}
}
