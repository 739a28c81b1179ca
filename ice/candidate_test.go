package ice

import (
	"testing"

	"github.com/pion/ice/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	hostCandidate  = "1 1 udp 2130706431 10.0.0.1 5000 typ host"
	srflxCandidate = "2 1 udp 1694498815 1.2.3.4 6000 typ srflx raddr 10.0.0.1 rport 5000"
	relayCandidate = "3 1 udp 16777215 5.6.7.8 7000 typ relay raddr 1.2.3.4 rport 6000"
)

func TestParseCandidate(t *testing.T) {
	for _, input := range []string{
		"2 2 udp 2130706431 10.0.0.1 5000 typ host",
		"candidate:2 2 udp 2130706431 10.0.0.1 5000 typ host",
		"a=candidate:2 2 udp 2130706431 10.0.0.1 5000 typ host\r\n",
	} {
		c, err := ParseCandidate(input)
		require.NoError(t, err, input)
		assert.Equal(t, ComponentRTCP, c.Component)
		assert.Equal(t, "2 2 udp 2130706431 10.0.0.1 5000 typ host", c.Value)
		assert.Equal(t, "candidate:"+c.Value, c.String())
	}
}

func TestParseCandidateErrors(t *testing.T) {
	for _, input := range []string{
		"",
		"1 1 udp 2130706431 10.0.0.1 5000 typ",
		"1 0 udp 2130706431 10.0.0.1 5000 typ host",
		"1 x udp 2130706431 10.0.0.1 5000 typ host",
		"1 70000 udp 2130706431 10.0.0.1 5000 typ host",
	} {
		_, err := ParseCandidate(input)
		assert.Error(t, err, input)
	}
}

func TestCandidateComponentRewrite(t *testing.T) {
	ic, err := ice.UnmarshalCandidate(hostCandidate)
	require.NoError(t, err)

	c := newCandidate(ComponentRTCP, ic)
	assert.Equal(t, ComponentRTCP, c.Component)

	parsed, err := ParseCandidate(c.Value)
	require.NoError(t, err)
	assert.Equal(t, c, parsed)

	back, err := c.toICE()
	require.NoError(t, err)
	assert.Equal(t, uint16(1), back.Component())
	assert.Equal(t, "10.0.0.1", back.Address())
	assert.Equal(t, 5000, back.Port())
}

func TestPreferredCandidate(t *testing.T) {
	parse := func(s string) ice.Candidate {
		c, err := ice.UnmarshalCandidate(s)
		require.NoError(t, err)
		return c
	}
	host := parse(hostCandidate)
	srflx := parse(srflxCandidate)
	relay := parse(relayCandidate)

	assert.Nil(t, preferredCandidate(nil))
	assert.Equal(t, host, preferredCandidate([]ice.Candidate{host}))
	assert.Equal(t, srflx, preferredCandidate([]ice.Candidate{host, srflx}))
	assert.Equal(t, relay, preferredCandidate([]ice.Candidate{srflx, relay, host}))

	addr := candidateAddr(relay)
	assert.Equal(t, "5.6.7.8:7000", addr.String())
}
