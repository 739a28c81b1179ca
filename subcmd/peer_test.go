package subcmd

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/mengelbart/icesrc/flags"
	"github.com/mengelbart/icesrc/ice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnswerer(t *testing.T) {
	session, err := ice.NewSession()
	require.NoError(t, err)
	defer session.Close()

	a := newAnswerer(session)
	_, err = a.LocalDescription()
	assert.Error(t, err)

	d := &ice.Description{Ufrag: "abcd", Pwd: "0123456789abcdefghijklmnop"}
	require.NoError(t, a.HandleDescription(d))
	assert.Error(t, a.HandleDescription(d))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	remote, err := a.waitRemote(ctx)
	require.NoError(t, err)
	assert.Same(t, d, remote)

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = a.waitRemote(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestInterfaceNames(t *testing.T) {
	assert.Empty(t, interfaceNames(""))
	assert.Equal(t, []string{"eth0", "wlan0"}, interfaceNames(" eth0, ,wlan0"))
}

func TestNewSessionFromFlags(t *testing.T) {
	defer func(size uint) { flags.MaxPacketSize = size }(flags.MaxPacketSize)

	flags.MaxPacketSize = 0
	_, err := newSession(slog.Default())
	assert.Error(t, err)

	flags.MaxPacketSize = 1500
	session, err := newSession(slog.Default())
	require.NoError(t, err)
	assert.Equal(t, int(flags.Components), session.ComponentCount())
	require.NoError(t, session.Close())
}
