package gstreamer

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-gst/go-gst/gst"
	"github.com/mengelbart/icesrc"
	"github.com/mengelbart/icesrc/ice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	gst.Init(nil)
	os.Exit(m.Run())
}

func requireElements(t *testing.T, factories ...string) {
	t.Helper()
	for _, f := range factories {
		if gst.Find(f) == nil {
			t.Skipf("GStreamer element %v not available", f)
		}
	}
}

func newSession(t *testing.T, components int) *ice.Session {
	t.Helper()
	session, err := ice.NewSession(ice.Components(components), ice.HostCandidatesOnly())
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, session.Close())
	})
	return session
}

func TestNewSrc(t *testing.T) {
	requireElements(t, "appsrc")
	session := newSession(t, 2)

	_, err := NewSrc("icesrc", nil)
	assert.Error(t, err)
	_, err = NewSrc("icesrc", session, SrcComponent(3))
	assert.ErrorIs(t, err, ice.ErrInvalidComponent)

	src, err := NewSrc("icesrc", session,
		SrcComponent(ice.ComponentRTCP),
		SrcCaps("application/x-rtcp"),
		SrcPadProbe(true),
	)
	require.NoError(t, err)
	assert.Equal(t, "icesrc", src.Element().GetName())
	pad, err := src.SrcPad()
	require.NoError(t, err)
	assert.Equal(t, "src", pad.GetName())
	assert.Equal(t, ice.ComponentRTCP, src.Component())
	require.NoError(t, src.Close())
}

func TestNewSink(t *testing.T) {
	requireElements(t, "appsink")
	session := newSession(t, 1)

	_, err := NewSink("icesink", session, SinkComponent(ice.ComponentRTCP))
	assert.ErrorIs(t, err, ice.ErrInvalidComponent)

	sink, err := NewSink("icesink", session)
	require.NoError(t, err)
	pad, err := sink.SinkPad()
	require.NoError(t, err)
	assert.Equal(t, "sink", pad.GetName())
	require.NoError(t, sink.Close())
}

func TestSrcPipeline(t *testing.T) {
	requireElements(t, "appsrc", "fakesink")
	session := newSession(t, 1)

	src, err := NewSrc("icesrc", session, SrcCaps(icesrc.H264.RTPCaps(96)))
	require.NoError(t, err)
	sink, err := gst.NewElementWithProperties("fakesink", map[string]any{"sync": false})
	require.NoError(t, err)

	pipeline, err := gst.NewPipeline("test")
	require.NoError(t, err)
	require.NoError(t, pipeline.AddMany(src.Element(), sink))
	require.NoError(t, src.Element().Link(sink))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, pipeline)
	}()

	// appsrc rejects buffers until the pipeline is playing
	seq := 0
	require.Eventually(t, func() bool {
		seq++
		src.HandleRxData(ice.ComponentRTP, []byte{0x80, 96, 0, byte(seq), 0, 0, 0, 0, 0, 0, 0, 1}, nil)
		return src.Stats().Pushed > 0
	}, 5*time.Second, 10*time.Millisecond)

	// flushing the appsrc holds packets back until the flush stops
	src.appsrc.SendEvent(gst.NewFlushStartEvent())
	assert.True(t, src.IsUnlocked())
	src.HandleRxData(ice.ComponentRTP, []byte{0x80, 96, 1, 0, 0, 0, 0, 0, 0, 0, 0, 1}, nil)
	assert.Equal(t, 1, src.outbufs.Len())
	pushed := src.Stats().Pushed

	src.appsrc.SendEvent(gst.NewFlushStopEvent(true))
	assert.False(t, src.IsUnlocked())
	require.Eventually(t, func() bool {
		return src.outbufs.Len() == 0 && src.Stats().Pushed > pushed
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, src.Close())
	assert.NoError(t, <-done)
}
