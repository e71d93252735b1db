// Command gst-capture captures frames from a GStreamer pipeline, restarting it
// on failure, and optionally saves them to disk.
//
//	gst-capture run --pattern smpte --width 640 --height 480 --fps 10 --output ./frames
//	gst-capture run --config capture.yaml --metrics-addr :9100
//	gst-capture inspect --config capture.yaml
package main

import (
	"os"
)

// Version information
const version = "v0.1.0"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
