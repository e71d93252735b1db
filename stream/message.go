package stream

import (
	"fmt"

	"github.com/Idein/actfw-gstreamer/engine"
)

type messageKind int

const (
	// sampleReady is a wake-up token; the sample itself stays in the sink.
	sampleReady messageKind = iota
	// engineMessage carries an end-of-stream or error message from the bus.
	engineMessage
)

func (k messageKind) String() string {
	switch k {
	case sampleReady:
		return "sample-ready"
	case engineMessage:
		return "engine-message"
	default:
		return fmt.Sprintf("messageKind(%d)", int(k))
	}
}

type message struct {
	kind    messageKind
	payload engine.Message
}

// EngineError is an error reported on the pipeline bus. It ends the current
// streaming attempt.
type EngineError struct {
	Source  string
	Message string
	Debug   string
}

func (e *EngineError) Error() string {
	s := fmt.Sprintf("stream: engine error from %s: %s", e.Source, e.Message)
	if e.Debug != "" {
		s += " (" + e.Debug + ")"
	}
	return s
}
