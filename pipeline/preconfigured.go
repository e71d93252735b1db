package pipeline

import (
	"fmt"
	"strings"

	"github.com/Idein/actfw-gstreamer/engine"
)

// DefaultTestFramerate is used by VideoTestSrc when caps leave the rate open.
const DefaultTestFramerate = 10

// Decoder selects the H.264 decoder backend.
type Decoder string

const (
	DecoderV4L2  Decoder = "v4l2"  // hardware, Video4Linux2 memory-to-memory
	DecoderOMX   Decoder = "omx"   // hardware, OpenMAX IL
	DecoderLibav Decoder = "libav" // software
)

// Factory returns the element factory implementing the decoder.
func (d Decoder) Factory() (string, error) {
	switch d {
	case DecoderV4L2:
		return "v4l2h264dec", nil
	case DecoderOMX:
		return "omxh264dec", nil
	case DecoderLibav:
		return "avdec_h264", nil
	default:
		return "", fmt.Errorf("pipeline: decoder should be one of v4l2, omx, libav, got %q", string(d))
	}
}

// SinkProps makes the appsink keep only the newest buffer and signal it.
func SinkProps() engine.Props {
	return engine.Props{
		"max-buffers":  engine.Int(1),
		"drop":         engine.Bool(true),
		"emit-signals": engine.Bool(true),
	}
}

// VideoTestSrc returns a generator for
//
//	videotestsrc pattern=<pattern> ! videoscale ! appsink caps=video/x-raw,format=RGB,...
//
// An empty pattern keeps the element default. Framerate 0 becomes
// DefaultTestFramerate.
func VideoTestSrc(eng engine.Engine, pattern string, caps SinkCaps) (*Generator, error) {
	if caps.Framerate == 0 {
		caps.Framerate = DefaultTestFramerate
	}
	var props engine.Props
	if pattern != "" {
		props = engine.Props{"pattern": engine.String(pattern)}
	}
	return NewBuilder(eng, WithForceFormat(FormatRGB)).
		Add("videotestsrc", props).
		Add("videoscale", nil).
		AddSinkWithCaps(SinkProps(), caps).
		Finalize()
}

// RTSPConfig configures RTSPH264.
type RTSPConfig struct {
	// Proxy is an optional proxy URL, e.g. tcp://proxy:3128.
	Proxy string
	// Location is the rtsp:// resource URL.
	Location string
	// Protocols restricts the lower transport, e.g. "tcp" or "udp+tcp".
	Protocols string
	Decoder   Decoder
	Caps      SinkCaps
}

// Lower transport flags of rtspsrc's protocols property.
var lowerTransports = map[string]int64{
	"udp":       1,
	"udp-mcast": 2,
	"tcp":       4,
	"http":      16,
	"tls":       32,
}

// ParseProtocols converts a transport list such as "tcp" or "udp+tcp" to
// rtspsrc protocol flags.
func ParseProtocols(s string) (engine.Int, error) {
	var flags int64
	for _, p := range strings.FieldsFunc(s, func(r rune) bool { return r == '+' || r == ',' || r == '|' }) {
		v, ok := lowerTransports[strings.ToLower(strings.TrimSpace(p))]
		if !ok {
			return 0, fmt.Errorf("pipeline: unknown rtsp transport %q", p)
		}
		flags |= v
	}
	if flags == 0 {
		return 0, fmt.Errorf("pipeline: empty rtsp transport list %q", s)
	}
	return engine.Int(flags), nil
}

// RTSPH264 returns a generator for
//
//	rtspsrc ! rtph264depay ! h264parse ! <decoder> ! videorate ! videoconvert
//	  ! videoscale ! appsink caps=video/x-raw,format=RGB,...
func RTSPH264(eng engine.Engine, cfg RTSPConfig) (*Generator, error) {
	decoder, err := cfg.Decoder.Factory()
	if err != nil {
		return nil, err
	}
	if cfg.Location == "" {
		return nil, fmt.Errorf("pipeline: rtsp location is required")
	}

	src := engine.Props{
		"location":               engine.String(cfg.Location),
		"latency":                engine.Int(0),
		"max-rtcp-rtp-time-diff": engine.Int(100),
		"drop-on-latency":        engine.Bool(true),
	}
	if cfg.Protocols != "" {
		flags, err := ParseProtocols(cfg.Protocols)
		if err != nil {
			return nil, err
		}
		src["protocols"] = flags
	}
	if cfg.Proxy != "" {
		src["proxy"] = engine.String(cfg.Proxy)
	}

	return NewBuilder(eng, WithForceFormat(FormatRGB)).
		Add("rtspsrc", src).
		Add("rtph264depay", nil).
		Add("h264parse", nil).
		Add(decoder, nil).
		// drop-only breaks on decoders that emit framerate=0/1 at startup.
		Add("videorate", engine.Props{"skip-to-first": engine.Bool(true)}).
		Add("videoconvert", nil).
		Add("videoscale", nil).
		AddSinkWithCaps(SinkProps(), cfg.Caps).
		Finalize()
}
