package gstreamer

import (
	"sync"
	"testing"

	"github.com/go-gst/go-gst/gst"
	"github.com/mengelbart/icesrc/ice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	comp ice.ComponentID
	pkt  []byte
}

type fakeSender struct {
	lock sync.Mutex
	sent []sent
	err  error
}

func (f *fakeSender) Send(comp ice.ComponentID, pkt []byte) (int, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.sent = append(f.sent, sent{comp: comp, pkt: append([]byte{}, pkt...)})
	return len(pkt), nil
}

func TestSinkWrite(t *testing.T) {
	f := &fakeSender{}
	s, err := newSink(f, SinkComponent(ice.ComponentRTCP))
	require.NoError(t, err)

	assert.Equal(t, gst.FlowOK, s.write([]byte{1, 2}))
	assert.Equal(t, gst.FlowOK, s.write(nil))
	assert.Equal(t, []sent{{comp: ice.ComponentRTCP, pkt: []byte{1, 2}}}, f.sent)
	assert.Equal(t, SinkStats{Sent: 1}, s.Stats())
}

func TestSinkWriteErrors(t *testing.T) {
	f := &fakeSender{err: ice.ErrNotRunning}
	s, err := newSink(f)
	require.NoError(t, err)

	assert.Equal(t, gst.FlowOK, s.write([]byte{1}))
	assert.Equal(t, SinkStats{Dropped: 1}, s.Stats())

	f.err = ice.ErrClosed
	assert.Equal(t, gst.FlowEOS, s.write([]byte{1}))
	assert.Equal(t, SinkStats{Dropped: 2}, s.Stats())
}

func TestSinkOptions(t *testing.T) {
	_, err := newSink(&fakeSender{}, SinkComponent(ice.MaxComponents+1))
	assert.ErrorIs(t, err, ice.ErrInvalidComponent)

	s, err := newSink(&fakeSender{})
	require.NoError(t, err)
	assert.Equal(t, ice.ComponentRTP, s.Component())
	assert.Equal(t, KindSink, s.Kind())
}
