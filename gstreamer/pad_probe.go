package gstreamer

import (
	"log/slog"

	"github.com/go-gst/go-gst/gst"
	"github.com/mengelbart/icesrc/logging"
)

// getPacketLogPadProbe returns a pad probe logging every RTP or RTCP packet
// passing the pad.
func getPacketLogPadProbe(vantagePointName string, logger *slog.Logger) func(p *gst.Pad, ppi *gst.PadProbeInfo) gst.PadProbeReturn {
	pl := logging.NewPacketLogger(vantagePointName, logger)
	logBuffer := func(buffer *gst.Buffer) {
		mapinfo := buffer.Map(gst.MapRead)
		defer buffer.Unmap()
		pl.LogBuffer(mapinfo.AsUint8Slice())
	}
	return func(p *gst.Pad, ppi *gst.PadProbeInfo) gst.PadProbeReturn {
		if (ppi.Type() & gst.PadProbeTypeBufferList) > 0 {
			if list := ppi.GetBufferList(); list != nil {
				list.ForEach(func(buffer *gst.Buffer, idx uint) bool {
					logBuffer(buffer)
					return true
				})
			}
		}
		if (ppi.Type() & gst.PadProbeTypeBuffer) > 0 {
			if buffer := ppi.GetBuffer(); buffer != nil {
				logBuffer(buffer)
			}
		}
		return gst.PadProbeOK
	}
}
