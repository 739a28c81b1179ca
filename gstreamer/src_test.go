package gstreamer

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/go-gst/go-gst/gst"
	"github.com/mengelbart/icesrc/ice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePusher struct {
	lock    sync.Mutex
	packets [][]byte
	ret     gst.FlowReturn
	eos     int
}

func (p *fakePusher) PushBuffer(pkt []byte) gst.FlowReturn {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.ret != gst.FlowOK {
		return p.ret
	}
	p.packets = append(p.packets, pkt)
	return gst.FlowOK
}

func (p *fakePusher) EndStream() gst.FlowReturn {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.eos++
	return gst.FlowOK
}

func (p *fakePusher) pushed() [][]byte {
	p.lock.Lock()
	defer p.lock.Unlock()
	return append([][]byte{}, p.packets...)
}

var remote = &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 5000}

func newTestSrc(t *testing.T, opts ...SrcOption) (*Src, *fakePusher) {
	t.Helper()
	s, err := newSrc(opts...)
	require.NoError(t, err)
	p := &fakePusher{ret: gst.FlowOK}
	s.pusher = p
	s.start()
	t.Cleanup(func() {
		assert.NoError(t, s.Close())
	})
	return s, p
}

func waitPushed(t *testing.T, p *fakePusher, n int) [][]byte {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(p.pushed()) >= n
	}, time.Second, time.Millisecond)
	return p.pushed()
}

func TestSrcOptions(t *testing.T) {
	_, err := newSrc(SrcComponent(0))
	assert.ErrorIs(t, err, ice.ErrInvalidComponent)
	_, err = newSrc(SrcMaxQueued(0))
	assert.Error(t, err)

	s, err := newSrc(SrcComponent(ice.ComponentRTCP), SrcCaps("application/x-rtcp"))
	require.NoError(t, err)
	assert.Equal(t, ice.ComponentRTCP, s.Component())
	assert.Equal(t, "application/x-rtcp", s.caps)
	assert.Equal(t, defaultMaxQueued, s.maxQueued)
	assert.Equal(t, KindSrc, s.Kind())
	assert.Nil(t, s.DefaultAddr())
}

func TestSrcPushesInOrder(t *testing.T) {
	s, p := newTestSrc(t)

	for i := range 10 {
		s.HandleRxData(ice.ComponentRTP, []byte{byte(i)}, remote)
	}
	pushed := waitPushed(t, p, 10)
	for i, pkt := range pushed {
		assert.Equal(t, []byte{byte(i)}, pkt)
	}
	assert.Equal(t, SrcStats{Received: 10, Pushed: 10}, s.Stats())
}

func TestSrcIgnoresOtherComponents(t *testing.T) {
	s, p := newTestSrc(t)

	s.HandleRxData(ice.ComponentRTCP, []byte{1}, remote)
	s.HandleRxData(ice.ComponentRTP, []byte{2}, remote)

	assert.Equal(t, [][]byte{{2}}, waitPushed(t, p, 1))
	assert.Equal(t, uint64(1), s.Stats().Received)
}

func TestSrcCopiesPackets(t *testing.T) {
	s, p := newTestSrc(t)
	s.enoughData()

	buf := []byte{1, 2, 3}
	s.HandleRxData(ice.ComponentRTP, buf, remote)
	buf[0] = 9
	s.needData()

	assert.Equal(t, [][]byte{{1, 2, 3}}, waitPushed(t, p, 1))
}

func TestSrcEnoughData(t *testing.T) {
	s, p := newTestSrc(t)
	s.enoughData()

	for i := range 3 {
		s.HandleRxData(ice.ComponentRTP, []byte{byte(i)}, remote)
	}
	assert.Equal(t, 3, s.outbufs.Len())
	assert.Empty(t, p.pushed())

	s.needData()
	assert.Equal(t, [][]byte{{0}, {1}, {2}}, waitPushed(t, p, 3))
}

func TestSrcDropsOldest(t *testing.T) {
	s, p := newTestSrc(t, SrcMaxQueued(2))
	s.enoughData()

	for i := range 3 {
		s.HandleRxData(ice.ComponentRTP, []byte{byte(i)}, remote)
	}
	s.needData()

	assert.Equal(t, [][]byte{{1}, {2}}, waitPushed(t, p, 2))
	assert.Equal(t, SrcStats{Received: 3, Pushed: 2, Dropped: 1}, s.Stats())
}

func TestSrcUnlock(t *testing.T) {
	s, p := newTestSrc(t)
	s.enoughData()
	for i := range 3 {
		s.HandleRxData(ice.ComponentRTP, []byte{byte(i)}, remote)
	}

	s.Unlock()
	assert.True(t, s.IsUnlocked())
	assert.Equal(t, 0, s.outbufs.Len())
	assert.Equal(t, uint64(3), s.Stats().Dropped)

	s.HandleRxData(ice.ComponentRTP, []byte{3}, remote)
	s.needData()
	assert.Equal(t, 1, s.outbufs.Len())
	assert.Empty(t, p.pushed())

	s.UnlockStop()
	assert.False(t, s.IsUnlocked())
	assert.Equal(t, [][]byte{{3}}, waitPushed(t, p, 1))
}

func TestSrcFlushingDownstream(t *testing.T) {
	s, p := newTestSrc(t)
	p.lock.Lock()
	p.ret = gst.FlowFlushing
	p.lock.Unlock()

	s.HandleRxData(ice.ComponentRTP, []byte{1}, remote)
	require.Eventually(t, func() bool {
		return s.Stats().Dropped == 1
	}, time.Second, time.Millisecond)
	assert.Empty(t, p.pushed())
}

func TestSrcClose(t *testing.T) {
	s, err := newSrc()
	require.NoError(t, err)
	p := &fakePusher{ret: gst.FlowOK}
	s.pusher = p
	s.start()

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, p.eos)
	assert.False(t, s.mainloop.IsRunning())

	s.HandleRxData(ice.ComponentRTP, []byte{1}, remote)
	assert.Empty(t, p.pushed())
	assert.Equal(t, SrcStats{}, s.Stats())
}
