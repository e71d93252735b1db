package gstcapture

import (
	"errors"
	"fmt"
	"time"

	"github.com/Idein/actfw-gstreamer/converter"
	"github.com/Idein/actfw-gstreamer/pipeline"
	"github.com/Idein/actfw-gstreamer/stream"
)

type (
	// BuildError reports a pipeline that could not be built or started.
	BuildError = pipeline.BuildError
	// EngineError reports an error posted on the pipeline bus.
	EngineError = stream.EngineError
	// ConverterError reports a sample that could not be converted.
	ConverterError = converter.Error
)

// ErrAlreadyRunning is returned by Run while another Run is in progress.
var ErrAlreadyRunning = errors.New("gstcapture: already running")

// ConnectionLostError is raised by the capture loop, never by the engine:
// either the stream stopped on its own or no sample arrived for longer than
// the policy's threshold.
type ConnectionLostError struct {
	// Silence is how long no sample arrived. Zero when the stream stopped.
	Silence   time.Duration
	Threshold time.Duration
}

func (e *ConnectionLostError) Error() string {
	if e.Silence == 0 {
		return "gstcapture: connection lost: stream stopped"
	}
	return fmt.Sprintf("gstcapture: connection lost: no sample for %s (threshold %s)", e.Silence, e.Threshold)
}
