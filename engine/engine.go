// Package engine describes the slice of a multimedia pipeline engine that the
// capture layer needs: element construction, property setting, caps parsing,
// pad linking, blocking state changes, a bus delivering end-of-stream and error
// messages, and a pull-type sink.
//
// The production implementation lives in engine/gstengine (GStreamer through
// go-gst). engine/enginetest provides an in-memory implementation used by the
// tests of every other package.
package engine

import (
	"errors"
	"fmt"
)

// ErrNotInitialized is returned when a pipeline is assembled without an
// initialized engine.
var ErrNotInitialized = errors.New("engine: not initialized, call gstengine.Init first")

// Engine creates elements and pipelines.
type Engine interface {
	// NewElement creates an element from the named factory.
	NewElement(factory string) (Element, error)
	// NewSink creates a pull-type sink element from the named factory.
	NewSink(factory string) (Sink, error)
	// NewPipeline creates a new, empty pipeline container.
	NewPipeline() (Pipeline, error)
	// ParseCaps parses a capability string.
	ParseCaps(caps string) (Caps, error)
}

// Caps is an opaque, parsed capability description.
type Caps interface {
	String() string
}

// Element is a single processing unit.
type Element interface {
	Name() string
	Factory() string
	SetProperty(name string, value Value) error
	// SetCaps sets the element's "caps" property.
	SetCaps(caps Caps) error
	// HasStaticSrcPad reports whether the element exposes an always-present
	// "src" pad. Elements such as demuxers and rtspsrc create their output pads
	// only once the stream type has been negotiated.
	HasStaticSrcPad() bool
	Link(dst Element) error
	// OnPadAdded registers fn to run on the engine's thread each time the
	// element creates a new pad.
	OnPadAdded(fn func()) error
}

// Sink is the terminal element captured samples are pulled from.
type Sink interface {
	Element
	// OnNewSample registers fn to run on the engine's thread whenever a new
	// sample becomes ready. fn must not block.
	OnNewSample(fn func())
	// TryPullSample returns the most recent ready sample without blocking,
	// or nil when none is available.
	TryPullSample() Sample
}

// Sample is one captured unit of data with its negotiated capabilities.
type Sample interface {
	// Structure returns the first structure of the sample's caps.
	Structure() (*Structure, error)
	// Map maps the sample's buffer for reading. The caller must Unmap.
	Map() (Mapping, error)
}

// Mapping is a read-only view of a mapped buffer.
type Mapping interface {
	Bytes() []byte
	Unmap()
}

// Structure is a decoded caps structure, e.g. video/x-raw with format,
// width and height fields.
type Structure struct {
	Name   string
	Fields map[string]any
}

// String returns the field as a string.
func (s *Structure) String(key string) (string, error) {
	v, ok := s.Fields[key]
	if !ok {
		return "", fmt.Errorf("engine: structure %q has no field %q", s.Name, key)
	}
	str, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("engine: field %q of %q is %T, not string", key, s.Name, v)
	}
	return str, nil
}

// Int returns the field as an int.
func (s *Structure) Int(key string) (int, error) {
	v, ok := s.Fields[key]
	if !ok {
		return 0, fmt.Errorf("engine: structure %q has no field %q", s.Name, key)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case uint:
		return int(n), nil
	case uint32:
		return int(n), nil
	default:
		return 0, fmt.Errorf("engine: field %q of %q is %T, not int", key, s.Name, v)
	}
}

// State is a pipeline state.
type State int

const (
	StateNull State = iota
	StateReady
	StatePaused
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateNull:
		return "NULL"
	case StateReady:
		return "READY"
	case StatePaused:
		return "PAUSED"
	case StatePlaying:
		return "PLAYING"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Pipeline is a container of linked elements.
type Pipeline interface {
	Add(elements ...Element) error
	// SetState changes the pipeline state and blocks until the transition
	// completes or fails. There is no deadline.
	SetState(state State) error
	Bus() Bus
}

// Bus delivers pipeline messages.
type Bus interface {
	// Subscribe registers fn for end-of-stream and error messages. fn runs on
	// an engine-owned goroutine. The returned function detaches fn; it is safe
	// to call more than once.
	Subscribe(fn func(Message)) (unsubscribe func())
}

// MessageType is the kind of a bus message.
type MessageType int

const (
	MessageUnknown MessageType = iota
	MessageEOS
	MessageError
)

func (t MessageType) String() string {
	switch t {
	case MessageEOS:
		return "eos"
	case MessageError:
		return "error"
	default:
		return fmt.Sprintf("MessageType(%d)", int(t))
	}
}

// Message is a bus message. Text and Debug are set for error messages.
type Message struct {
	Type   MessageType
	Source string
	Text   string
	Debug  string
}
