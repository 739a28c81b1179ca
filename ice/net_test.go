package ice

import (
	"net"
	"testing"

	"github.com/pion/transport/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetInterfaces(t *testing.T) {
	n, err := NewNet()
	require.NoError(t, err)

	ifaces, err := n.Interfaces()
	require.NoError(t, err)
	if len(ifaces) == 0 {
		t.Skip("no network interfaces")
	}
	ifc, err := n.InterfaceByName(ifaces[0].Name)
	require.NoError(t, err)
	assert.Equal(t, ifaces[0].Index, ifc.Index)
	ifc, err = n.InterfaceByIndex(ifaces[0].Index)
	require.NoError(t, err)
	assert.Equal(t, ifaces[0].Name, ifc.Name)

	_, err = n.InterfaceByName("does-not-exist")
	assert.ErrorIs(t, err, transport.ErrInterfaceNotFound)
	_, err = n.InterfaceByIndex(-1)
	assert.ErrorIs(t, err, transport.ErrInterfaceNotFound)
}

func TestNetRecvBufferSize(t *testing.T) {
	_, err := NewNet(NetRecvBufferSize(0))
	assert.Error(t, err)

	n, err := NewNet(NetRecvBufferSize(1 << 16))
	require.NoError(t, err)

	conn, err := n.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	pc, err := n.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, pc.Close())
}
