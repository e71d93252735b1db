package enginetest

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/Idein/actfw-gstreamer/engine"
)

// Sink is a fake appsink holding at most one ready sample, like an appsink
// configured with max-buffers=1 drop=true.
type Sink struct {
	*Element

	slotMu   sync.Mutex
	slot     *Sample
	onSample func()
	pushed   atomic.Int64
}

var _ engine.Sink = (*Sink)(nil)

func (s *Sink) OnNewSample(fn func()) {
	s.slotMu.Lock()
	defer s.slotMu.Unlock()
	s.onSample = fn
}

func (s *Sink) TryPullSample() engine.Sample {
	s.slotMu.Lock()
	defer s.slotMu.Unlock()
	if s.slot == nil {
		return nil
	}
	smp := s.slot
	s.slot = nil
	return smp
}

// Push replaces the ready sample and fires the new-sample callback on the
// caller's goroutine.
func (s *Sink) Push(smp *Sample) {
	s.slotMu.Lock()
	s.slot = smp
	fn := s.onSample
	s.slotMu.Unlock()
	s.pushed.Add(1)
	if fn != nil {
		fn()
	}
}

// Drain discards the ready sample without notifying, leaving a pending
// new-sample notification with nothing behind it.
func (s *Sink) Drain() {
	s.slotMu.Lock()
	defer s.slotMu.Unlock()
	s.slot = nil
}

// Pushed returns the number of samples pushed so far.
func (s *Sink) Pushed() int64 { return s.pushed.Load() }

// Sample is a fake sample. Struct, StructErr and MapErr control what the
// sample reports; Mapped and Unmapped count buffer mappings.
type Sample struct {
	Struct    *engine.Structure
	StructErr error
	Data      []byte
	MapErr    error

	maps   atomic.Int32
	unmaps atomic.Int32
}

var _ engine.Sample = (*Sample)(nil)

// NewSample returns a video/x-raw sample.
func NewSample(format string, width, height int, data []byte) *Sample {
	return &Sample{
		Struct: &engine.Structure{
			Name: "video/x-raw",
			Fields: map[string]any{
				"format": format,
				"width":  width,
				"height": height,
			},
		},
		Data: data,
	}
}

func (s *Sample) Structure() (*engine.Structure, error) {
	if s.StructErr != nil {
		return nil, s.StructErr
	}
	if s.Struct == nil {
		return nil, errors.New("sample has no caps")
	}
	return s.Struct, nil
}

func (s *Sample) Map() (engine.Mapping, error) {
	if s.MapErr != nil {
		return nil, s.MapErr
	}
	s.maps.Add(1)
	return &mapping{s: s}, nil
}

// Mapped returns the number of successful Map calls.
func (s *Sample) Mapped() int { return int(s.maps.Load()) }

// Unmapped returns the number of Unmap calls.
func (s *Sample) Unmapped() int { return int(s.unmaps.Load()) }

type mapping struct {
	s    *Sample
	once sync.Once
}

func (m *mapping) Bytes() []byte { return m.s.Data }

func (m *mapping) Unmap() {
	m.once.Do(func() { m.s.unmaps.Add(1) })
}
