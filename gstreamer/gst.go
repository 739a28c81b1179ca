// Package gstreamer contains the pipeline elements bridging GStreamer and an
// ICE session, and the media bins feeding them.
package gstreamer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-gst/go-glib/glib"
	"github.com/go-gst/go-gst/gst"
)

// Run sets pipeline to playing and runs a main loop until the pipeline
// reaches end of stream, posts an error or ctx is done.
func Run(ctx context.Context, pipeline *gst.Pipeline) error {
	mainloop := glib.NewMainLoop(glib.MainContextDefault(), false)

	var runErr error
	pipeline.GetPipelineBus().AddWatch(func(msg *gst.Message) bool {
		switch msg.Type() {
		case gst.MessageEOS:
			slog.Info("end of stream", "pipeline", pipeline.GetName())
			mainloop.Quit()
		case gst.MessageError:
			err := msg.ParseError()
			slog.Error("pipeline error", "pipeline", pipeline.GetName(), "error", err.Error(), "debug", err.DebugString())
			runErr = fmt.Errorf("pipeline error: %w", errors.New(err.Error()))
			mainloop.Quit()
		case gst.MessageWarning:
			w := msg.ParseWarning()
			slog.Warn("pipeline warning", "pipeline", pipeline.GetName(), "warning", w.Error(), "debug", w.DebugString())
		}
		return true
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, mainloop.Quit)
	defer stop()

	mainloop.Run()
	if err := pipeline.BlockSetState(gst.StateNull); err != nil {
		runErr = errors.Join(runErr, err)
	}
	return runErr
}

func SetProperties(e *gst.Element, pp map[string]any) error {
	for k, v := range pp {
		if err := e.SetProperty(k, v); err != nil {
			return fmt.Errorf("failed to set property %q: %w", k, err)
		}
	}
	return nil
}
