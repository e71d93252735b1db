package pipeline

import (
	"fmt"
	"strings"
)

// Format is a raw video pixel format understood by the capture layer.
type Format string

const (
	FormatRGB  Format = "RGB"
	FormatBGR  Format = "BGR"
	FormatRGBx Format = "RGBx"
)

// Formats lists every supported format in the order they are offered to the
// engine when no format is forced.
var Formats = []Format{FormatBGR, FormatRGB, FormatRGBx}

// ParseFormat maps an engine format string to a Format.
func ParseFormat(s string) (Format, error) {
	for _, f := range Formats {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("pipeline: unsupported pixel format %q", s)
}

// BytesPerPixel is the packed size of one pixel.
func (f Format) BytesPerPixel() int {
	if f == FormatRGBx {
		return 4
	}
	return 3
}

func (f Format) String() string { return string(f) }

// baseCaps returns the media type and format constraint of the sink caps.
func baseCaps(force Format) string {
	if force != "" {
		return "video/x-raw,format=" + string(force)
	}
	names := make([]string, len(Formats))
	for i, f := range Formats {
		names[i] = string(f)
	}
	return "video/x-raw,format=(string){" + strings.Join(names, ",") + "}"
}

// SinkCaps fixes the dimensions of the frames delivered to the sink.
// Framerate 0 leaves the rate to the source.
type SinkCaps struct {
	Width     int
	Height    int
	Framerate int
}

func (c SinkCaps) capsString(base string) string {
	s := fmt.Sprintf("%s,width=%d,height=%d", base, c.Width, c.Height)
	if c.Framerate > 0 {
		s += fmt.Sprintf(",framerate=%d/1", c.Framerate)
	}
	return s
}
