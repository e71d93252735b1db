// Package gstengine implements engine.Engine on top of GStreamer using go-gst.
//
// GStreamer must be initialized exactly once per process with Init before any
// pipeline is built. Get returns engine.ErrNotInitialized until then, so
// initialization order stays explicit and testable.
package gstengine

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/Idein/actfw-gstreamer/engine"
)

var (
	initOnce    sync.Once
	initialized atomic.Bool
)

// Engine is the GStreamer-backed engine.Engine.
type Engine struct{}

var _ engine.Engine = (*Engine)(nil)

// Init initializes GStreamer once for the process and returns the engine.
// Later calls are no-ops.
func Init(args *[]string) *Engine {
	initOnce.Do(func() {
		gst.Init(args)
		initialized.Store(true)
		slog.Debug("gstengine: GStreamer initialized")
	})
	return &Engine{}
}

// Get returns the engine if Init has been called.
func Get() (*Engine, error) {
	if !initialized.Load() {
		return nil, engine.ErrNotInitialized
	}
	return &Engine{}, nil
}

// Available reports whether the named element factory is installed.
func Available(factory string) bool {
	if !initialized.Load() {
		return false
	}
	return gst.Find(factory) != nil
}

// NewElement creates an element from the named factory.
func (*Engine) NewElement(factory string) (engine.Element, error) {
	elem, err := gst.NewElement(factory)
	if err != nil {
		return nil, err
	}
	return &element{elem: elem, factory: factory}, nil
}

// NewSink creates an appsink.
func (*Engine) NewSink(factory string) (engine.Sink, error) {
	elem, err := gst.NewElement(factory)
	if err != nil {
		return nil, err
	}
	s := app.SinkFromElement(elem)
	if s == nil {
		return nil, fmt.Errorf("gstengine: %s is not an appsink", factory)
	}
	return &sink{element: element{elem: elem, factory: factory}, appsink: s}, nil
}

// NewPipeline creates an empty pipeline.
func (*Engine) NewPipeline() (engine.Pipeline, error) {
	p, err := gst.NewPipeline("")
	if err != nil {
		return nil, err
	}
	return &pipeline{p: p}, nil
}

// ParseCaps parses a caps string such as video/x-raw,format=RGB.
func (*Engine) ParseCaps(s string) (engine.Caps, error) {
	c := gst.NewCapsFromString(s)
	if c == nil {
		return nil, fmt.Errorf("gstengine: invalid caps %q", s)
	}
	return &caps{c: c, s: s}, nil
}

type caps struct {
	c *gst.Caps
	s string
}

func (c *caps) String() string { return c.s }

type gstElementer interface {
	gstElement() *gst.Element
}

type element struct {
	elem    *gst.Element
	factory string
}

func (e *element) gstElement() *gst.Element { return e.elem }

func (e *element) Name() string    { return e.elem.GetName() }
func (e *element) Factory() string { return e.factory }

// SetProperty converts value to the property's GObject type before setting
// it. Enum and flags properties accept a nick or a number.
func (e *element) SetProperty(name string, value engine.Value) error {
	return e.setProperty(name, value)
}

// SetCaps sets the caps property of a capsfilter.
func (e *element) SetCaps(c engine.Caps) error {
	gc, ok := c.(*caps)
	if !ok {
		return fmt.Errorf("gstengine: foreign caps %T", c)
	}
	return e.elem.SetProperty("caps", gc.c)
}

func (e *element) HasStaticSrcPad() bool {
	return e.elem.GetStaticPad("src") != nil
}

// Link links the element's src pad to dst's sink pad.
func (e *element) Link(dst engine.Element) error {
	d, ok := dst.(gstElementer)
	if !ok {
		return fmt.Errorf("gstengine: foreign element %T", dst)
	}
	return e.elem.Link(d.gstElement())
}

// OnPadAdded calls fn on a GStreamer streaming thread for every new pad.
func (e *element) OnPadAdded(fn func()) error {
	_, err := e.elem.Connect("pad-added", func(self *gst.Element, pad *gst.Pad) {
		slog.Debug("gstengine: pad-added", "element", self.GetName(), "pad", pad.GetName())
		fn()
	})
	return err
}

type sink struct {
	element
	appsink *app.Sink
}

// OnNewSample replaces the appsink callbacks. fn runs on the streaming thread
// and must not block.
func (s *sink) OnNewSample(fn func()) {
	s.appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(*app.Sink) gst.FlowReturn {
			fn()
			return gst.FlowOK
		},
	})
}

// TryPullSample returns the oldest queued sample without waiting, or nil.
func (s *sink) TryPullSample() engine.Sample {
	smp := s.appsink.TryPullSample(0)
	if smp == nil {
		return nil
	}
	return &sample{s: smp}
}

type sample struct {
	s *gst.Sample
}

// Structure copies the format, width and height of the first caps structure.
func (s *sample) Structure() (*engine.Structure, error) {
	c := s.s.GetCaps()
	if c == nil || c.GetSize() == 0 {
		return nil, fmt.Errorf("gstengine: sample has no caps")
	}
	st := c.GetStructureAt(0)
	out := &engine.Structure{Name: st.Name(), Fields: make(map[string]any)}
	for _, key := range []string{"format", "width", "height"} {
		if v, err := st.GetValue(key); err == nil {
			out.Fields[key] = v
		}
	}
	return out, nil
}

// Map maps the sample buffer for reading. The caller must Unmap it.
func (s *sample) Map() (engine.Mapping, error) {
	buf := s.s.GetBuffer()
	if buf == nil {
		return nil, fmt.Errorf("gstengine: sample has no buffer")
	}
	info := buf.Map(gst.MapRead)
	if info == nil {
		return nil, fmt.Errorf("gstengine: gst_buffer_map() failed")
	}
	return &mapping{buf: buf, info: info}, nil
}

type mapping struct {
	buf  *gst.Buffer
	info *gst.MapInfo
}

func (m *mapping) Bytes() []byte { return m.info.Bytes() }
func (m *mapping) Unmap()        { m.buf.Unmap() }

type pipeline struct {
	p *gst.Pipeline
}

func (p *pipeline) Add(elements ...engine.Element) error {
	for _, e := range elements {
		ge, ok := e.(gstElementer)
		if !ok {
			return fmt.Errorf("gstengine: foreign element %T", e)
		}
		if err := p.p.Add(ge.gstElement()); err != nil {
			return fmt.Errorf("failed to add %s: %w", e.Name(), err)
		}
	}
	return nil
}

// SetState blocks until the pipeline reached state or the transition failed.
func (p *pipeline) SetState(state engine.State) error {
	desired := toGstState(state)
	if err := p.p.BlockSetState(desired); err != nil {
		return err
	}
	// BlockSetState does not report a failed asynchronous transition.
	if cur := p.p.GetState(); cur != desired {
		return fmt.Errorf("gstengine: pipeline is %s, wanted %s", cur, desired)
	}
	return nil
}

func (p *pipeline) Bus() engine.Bus {
	return &bus{b: p.p.GetPipelineBus(), pipelineName: p.p.GetName()}
}

func toGstState(s engine.State) gst.State {
	switch s {
	case engine.StateReady:
		return gst.StateReady
	case engine.StatePaused:
		return gst.StatePaused
	case engine.StatePlaying:
		return gst.StatePlaying
	default:
		return gst.StateNull
	}
}

// busPollInterval bounds how long Unsubscribe waits for the watcher.
const busPollInterval = 50 * time.Millisecond

type bus struct {
	b            *gst.Bus
	pipelineName string
}

// Subscribe polls the bus on its own goroutine, which plays the role of the
// engine's notification thread; no GLib main loop is required.
func (b *bus) Subscribe(fn func(engine.Message)) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		for {
			select {
			case <-done:
				return
			default:
			}

			msg := b.b.TimedPop(busPollInterval)
			if msg == nil {
				continue
			}

			switch msg.Type() {
			case gst.MessageEOS:
				fn(engine.Message{Type: engine.MessageEOS, Source: msg.Source()})
			case gst.MessageError:
				gerr := msg.ParseError()
				m := engine.Message{Type: engine.MessageError, Source: msg.Source()}
				if gerr != nil {
					m.Text = gerr.Error()
					m.Debug = gerr.DebugString()
				}
				fn(m)
			case gst.MessageStateChanged:
				if msg.Source() == b.pipelineName {
					old, cur := msg.ParseStateChanged()
					slog.Debug("gstengine: pipeline state changed", "from", old, "to", cur)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-stopped
		})
	}
}
