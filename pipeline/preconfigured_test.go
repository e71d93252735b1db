package pipeline_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Idein/actfw-gstreamer/engine"
	"github.com/Idein/actfw-gstreamer/engine/enginetest"
	"github.com/Idein/actfw-gstreamer/pipeline"
)

func factories(gen *pipeline.Generator) []string {
	var out []string
	for _, s := range gen.Specs() {
		out = append(out, s.Factory)
	}
	return out
}

func TestVideoTestSrc(t *testing.T) {
	gen, err := pipeline.VideoTestSrc(enginetest.New(), "smpte", vga)
	require.NoError(t, err)

	require.Equal(t, []string{"videotestsrc", "videoscale", "appsink"}, factories(gen))
	require.Equal(t, "video/x-raw,format=RGB,width=640,height=480,framerate=10/1", gen.Caps())

	sink := gen.Specs()[2]
	require.Equal(t, pipeline.KindSink, sink.Kind)
	require.Equal(t, engine.Int(1), sink.Props["max-buffers"])
	require.Equal(t, engine.Bool(true), sink.Props["drop"])
	require.Equal(t, engine.Bool(true), sink.Props["emit-signals"])
}

func TestVideoTestSrc_DefaultPattern(t *testing.T) {
	gen, err := pipeline.VideoTestSrc(enginetest.New(), "", pipeline.SinkCaps{Width: 8, Height: 8, Framerate: 30})
	require.NoError(t, err)
	require.Empty(t, gen.Specs()[0].Props)
	require.Contains(t, gen.Caps(), "framerate=30/1")
}

func TestRTSPH264(t *testing.T) {
	tests := []struct {
		decoder pipeline.Decoder
		factory string
	}{
		{pipeline.DecoderV4L2, "v4l2h264dec"},
		{pipeline.DecoderOMX, "omxh264dec"},
		{pipeline.DecoderLibav, "avdec_h264"},
	}

	for _, tt := range tests {
		t.Run(string(tt.decoder), func(t *testing.T) {
			gen, err := pipeline.RTSPH264(enginetest.New(), pipeline.RTSPConfig{
				Proxy:     "tcp://proxy:3128",
				Location:  "rtsp://camera:554/live",
				Protocols: "udp+tcp",
				Decoder:   tt.decoder,
				Caps:      vga,
			})
			require.NoError(t, err)

			require.Equal(t, []string{
				"rtspsrc", "rtph264depay", "h264parse", tt.factory,
				"videorate", "videoconvert", "videoscale", "appsink",
			}, factories(gen))
			require.Equal(t, "video/x-raw,format=RGB,width=640,height=480", gen.Caps())

			src := gen.Specs()[0].Props
			require.Equal(t, engine.String("rtsp://camera:554/live"), src["location"])
			require.Equal(t, engine.String("tcp://proxy:3128"), src["proxy"])
			require.Equal(t, engine.Int(5), src["protocols"])
			require.Equal(t, engine.Int(0), src["latency"])
			require.Equal(t, engine.Bool(true), src["drop-on-latency"])
			require.Equal(t, engine.Bool(true), gen.Specs()[4].Props["skip-to-first"])
		})
	}
}

func TestRTSPH264_Invalid(t *testing.T) {
	eng := enginetest.New()

	_, err := pipeline.RTSPH264(eng, pipeline.RTSPConfig{Location: "rtsp://x", Decoder: "nvdec", Caps: vga})
	require.ErrorContains(t, err, "nvdec")

	_, err = pipeline.RTSPH264(eng, pipeline.RTSPConfig{Decoder: pipeline.DecoderV4L2, Caps: vga})
	require.Error(t, err)

	_, err = pipeline.RTSPH264(eng, pipeline.RTSPConfig{
		Location: "rtsp://x", Protocols: "carrier-pigeon", Decoder: pipeline.DecoderV4L2, Caps: vga,
	})
	require.ErrorContains(t, err, "carrier-pigeon")
}

func TestParseProtocols(t *testing.T) {
	tests := map[string]engine.Int{
		"tcp":           4,
		"udp":           1,
		"udp+tcp":       5,
		"TCP,http":      20,
		"udp-mcast|tls": 34,
	}
	for in, want := range tests {
		got, err := pipeline.ParseProtocols(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	_, err := pipeline.ParseProtocols("+")
	require.Error(t, err)
}

func TestParseFormat(t *testing.T) {
	for _, f := range pipeline.Formats {
		got, err := pipeline.ParseFormat(string(f))
		require.NoError(t, err)
		require.Equal(t, f, got)
	}
	require.Equal(t, 4, pipeline.FormatRGBx.BytesPerPixel())
	require.Equal(t, 3, pipeline.FormatBGR.BytesPerPixel())

	_, err := pipeline.ParseFormat("NV12")
	require.Error(t, err)
}
