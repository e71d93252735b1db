// Package converter turns captured samples into application values.
package converter

import (
	"errors"
	"fmt"

	"github.com/Idein/actfw-gstreamer/engine"
)

// Converter converts one sample. Implementations must unmap every buffer they
// map before returning, on error paths too.
type Converter interface {
	Convert(sample engine.Sample) (any, error)
}

var (
	// ErrMap is wrapped when a buffer cannot be mapped for reading.
	ErrMap = errors.New("gst_buffer_map() failed")
	// ErrUnknownFormat is wrapped when the sample's pixel format is not supported.
	ErrUnknownFormat = errors.New("unknown format")
	// ErrShortBuffer is wrapped when the buffer is smaller than its caps claim.
	ErrShortBuffer = errors.New("buffer smaller than caps")
)

// Error is returned by converters.
type Error struct {
	// Op is the failing step: "map", "caps" or "convert".
	Op     string
	Format string
	Err    error
}

func (e *Error) Error() string {
	if e.Format != "" {
		return fmt.Sprintf("converter: %s %s: %v", e.Op, e.Format, e.Err)
	}
	return fmt.Sprintf("converter: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func mapSample(s engine.Sample) (engine.Mapping, error) {
	m, err := s.Map()
	if err != nil {
		return nil, &Error{Op: "map", Err: fmt.Errorf("%w: %w", ErrMap, err)}
	}
	return m, nil
}

// Raw copies the mapped buffer into a new []byte.
type Raw struct{}

// Convert returns a []byte that does not alias the mapped buffer.
func (Raw) Convert(s engine.Sample) (any, error) {
	m, err := mapSample(s)
	if err != nil {
		return nil, err
	}
	defer m.Unmap()

	data := m.Bytes()
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}
