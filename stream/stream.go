// Package stream runs a built pipeline and exposes a pull API over it.
//
// The engine announces samples from its own streaming thread. A Stream turns
// those announcements into wake-up tokens on a single-slot queue and pulls
// the newest sample from the appsink only when the consumer calls Capture.
// End-of-stream and error messages from the bus travel through the same
// queue and are never dropped.
//
// Typical use, with the stream stopped on every exit path:
//
//	s, err := stream.NewBuilder(gen, converter.Raw{}).Open()
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//
//	for s.IsRunning() {
//		v, ok, err := s.Capture(time.Second)
//		...
//	}
package stream

import (
	"log/slog"
	"time"

	"github.com/Idein/actfw-gstreamer/converter"
	"github.com/Idein/actfw-gstreamer/pipeline"
)

// Builder creates streams from a generator. Every stream gets its own
// freshly built pipeline.
type Builder struct {
	gen  *pipeline.Generator
	conv converter.Converter
}

// NewBuilder returns a stream builder. A nil converter means converter.Raw.
func NewBuilder(gen *pipeline.Generator, conv converter.Converter) *Builder {
	if gen == nil {
		panic("stream: nil generator")
	}
	if conv == nil {
		conv = converter.Raw{}
	}
	return &Builder{gen: gen, conv: conv}
}

// Generator returns the generator streams are built from.
func (b *Builder) Generator() *pipeline.Generator { return b.gen }

// StartStreaming builds a pipeline and wraps it in a stream that has not been
// started yet. The caller must Start it and eventually Close it.
func (b *Builder) StartStreaming() (*Stream, error) {
	built, err := b.gen.Build()
	if err != nil {
		return nil, err
	}
	return &Stream{in: newInner(built, b.conv)}, nil
}

// Open builds and starts a stream. The caller must Close it.
func (b *Builder) Open() (*Stream, error) {
	s, err := b.StartStreaming()
	if err != nil {
		return nil, err
	}
	if err := s.Start(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Stream is one run of a pipeline: Created, then Started, then Stopped.
// Start and Stop block until the engine completes the state change; the
// engine imposes no deadline on that.
//
// Capture must be called from a single goroutine.
type Stream struct {
	in *inner
}

// Start sets the pipeline to PLAYING. A failure is a *pipeline.BuildError and
// leaves the stream stopped.
func (s *Stream) Start() error { return s.in.start() }

// Stop detaches from the bus and sets the pipeline to NULL. Stopping a stream
// that is not running is a no-op.
func (s *Stream) Stop() error { return s.in.stop() }

// IsRunning reports whether the stream has started and not yet stopped.
// End-of-stream stops the stream from within Capture.
func (s *Stream) IsRunning() bool { return s.in.isRunning() }

// Close stops the stream and releases the pipeline whether or not it was
// ever started. Stop errors are logged and returned.
func (s *Stream) Close() error {
	err := s.in.stop()
	if err != nil {
		slog.Warn("stream: stop failed", "error", err)
	}
	if s.in.state.CompareAndSwap(int32(stateCreated), int32(stateStopped)) {
		s.in.release()
	}
	s.in.detach()
	return err
}

// Capture waits up to timeout for the next sample and converts it. A negative
// timeout waits indefinitely.
//
// ok is false with a nil error when the timeout elapses, when a notified
// sample was already consumed, and at end of stream. A bus error is returned
// as *EngineError; converter failures are returned as is.
func (s *Stream) Capture(timeout time.Duration) (value any, ok bool, err error) {
	return s.in.capture(timeout)
}

// Coalesced returns the number of new-sample notifications dropped because a
// wake-up was already pending.
func (s *Stream) Coalesced() uint64 { return s.in.coalesced.Load() }
