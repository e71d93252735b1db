// Package enginetest provides an in-memory engine.Engine for tests.
//
// It knows a small catalogue of element factories (videotestsrc, rtspsrc,
// decoders, converters, capsfilter, appsink) together with the type of each
// property, and rejects values GStreamer would refuse. Static pads link
// immediately and dynamic pads once a source "negotiates" on PLAYING. A
// producer goroutine per source plays the role of the engine's streaming
// thread and emits frames with rows padded to 4 bytes.
package enginetest

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/Idein/actfw-gstreamer/engine"
)

// Factory describes an element factory known to the fake engine.
type Factory struct {
	// Type is the GObject type name used in error messages, e.g. GstVideoTestSrc.
	Type string
	// Properties maps each accepted property to its type. Values are checked
	// with engine.Coerce, as GObject rejects a value of the wrong type.
	Properties map[string]engine.PropKind
	// Enums lists the nicks of enum properties, in value order.
	Enums map[string][]string
	// Source elements have no sink pad and produce samples while PLAYING.
	Source bool
	// Dynamic elements expose their src pad only after negotiation.
	Dynamic bool
	// FailPlaying makes the transition to PLAYING fail.
	FailPlaying bool
	// Silent sources reach PLAYING but never produce a sample.
	Silent bool
}

// Props builds a property table. Every factory accepts "name".
func Props(kinds map[string]engine.PropKind) map[string]engine.PropKind {
	out := map[string]engine.PropKind{"name": engine.PropString}
	for k, v := range kinds {
		out[k] = v
	}
	return out
}

var videoPatterns = []string{
	"smpte", "snow", "black", "white", "red", "green", "blue", "checkers-1",
	"checkers-2", "checkers-4", "checkers-8", "circular", "blink", "smpte75",
	"zone-plate", "gamut", "chroma-zone-plate", "solid-color", "ball", "smpte100",
	"bar", "pinwheel", "spokes", "gradient", "colors",
}

// DefaultFactories returns the catalogue installed by New.
func DefaultFactories() map[string]Factory {
	const (
		str  = engine.PropString
		i32  = engine.PropInt
		u32  = engine.PropUint
		u64  = engine.PropUint64
		i64  = engine.PropInt64
		f64  = engine.PropDouble
		bln  = engine.PropBool
		enum = engine.PropEnum
		flag = engine.PropFlags
		caps = engine.PropOther
	)
	return map[string]Factory{
		"videotestsrc": {
			Type:       "GstVideoTestSrc",
			Properties: Props(map[string]engine.PropKind{"pattern": enum, "num-buffers": i32, "is-live": bln}),
			Enums:      map[string][]string{"pattern": videoPatterns},
			Source:     true,
		},
		"rtspsrc": {
			Type: "GstRTSPSrc",
			Properties: Props(map[string]engine.PropKind{
				"location": str, "protocols": flag, "latency": u32, "proxy": str,
				"max-rtcp-rtp-time-diff": i32, "drop-on-latency": bln,
				"do-retransmission": bln, "tcp-timeout": u64,
			}),
			Source:  true,
			Dynamic: true,
		},
		"rtph264depay": {Type: "GstRtpH264Depay", Properties: Props(map[string]engine.PropKind{"request-keyframe": bln})},
		"h264parse":    {Type: "GstH264Parse", Properties: Props(map[string]engine.PropKind{"config-interval": i32})},
		"v4l2h264dec":  {Type: "v4l2h264dec", Properties: Props(map[string]engine.PropKind{"capture-io-mode": enum})},
		"omxh264dec":   {Type: "GstOMXH264Dec", Properties: Props(nil)},
		"avdec_h264":   {Type: "avdec_h264", Properties: Props(map[string]engine.PropKind{"max-threads": i32, "output-corrupt": bln})},
		"decodebin":    {Type: "GstDecodeBin", Properties: Props(nil), Dynamic: true},
		"videorate": {
			Type:       "GstVideoRate",
			Properties: Props(map[string]engine.PropKind{"skip-to-first": bln, "drop-only": bln, "average-period": u64}),
		},
		"videoconvert": {
			Type:       "GstVideoConvert",
			Properties: Props(map[string]engine.PropKind{"n-threads": u32, "dither": enum, "chroma-mode": enum}),
		},
		"videoscale": {Type: "GstVideoScale", Properties: Props(map[string]engine.PropKind{"method": enum, "qos": bln})},
		"identity":   {Type: "GstIdentity", Properties: Props(map[string]engine.PropKind{"silent": bln, "sleep-time": u32, "ts-offset": i64, "drop-probability": engine.PropFloat, "signal-handoffs": bln})},
		"capsfilter": {Type: "GstCapsFilter", Properties: Props(map[string]engine.PropKind{"caps": caps})},
		"appsink": {
			Type: "GstAppSink",
			Properties: Props(map[string]engine.PropKind{
				"caps": caps, "max-buffers": u32, "drop": bln, "emit-signals": bln,
				"sync": bln, "qos": bln, "max-time": u64, "wait-on-eos": bln,
			}),
		},
	}
}

// Engine is an in-memory engine.Engine. It is safe for concurrent use.
type Engine struct {
	mu        sync.Mutex
	factories map[string]Factory
	reachable map[string]bool
	counters  map[string]int
	pipelines []*Pipeline
}

var _ engine.Engine = (*Engine)(nil)

// New returns an engine with DefaultFactories installed.
func New() *Engine {
	return &Engine{
		factories: DefaultFactories(),
		reachable: make(map[string]bool),
		counters:  make(map[string]int),
	}
}

// Register installs or replaces a factory.
func (e *Engine) Register(name string, f Factory) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.factories[name] = f
}

// AddRTSPServer makes an rtspsrc location reachable.
func (e *Engine) AddRTSPServer(location string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reachable[location] = true
}

func (e *Engine) isReachable(location string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reachable[location]
}

// Pipelines returns every pipeline created so far, oldest first.
func (e *Engine) Pipelines() []*Pipeline {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Pipeline(nil), e.pipelines...)
}

// LastPipeline returns the most recently created pipeline, or nil.
func (e *Engine) LastPipeline() *Pipeline {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.pipelines) == 0 {
		return nil
	}
	return e.pipelines[len(e.pipelines)-1]
}

func (e *Engine) newElement(factory string) (*Element, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	f, ok := e.factories[factory]
	if !ok {
		return nil, fmt.Errorf("no such element factory %q", factory)
	}
	name := fmt.Sprintf("%s%d", factory, e.counters[factory])
	e.counters[factory]++
	return &Element{
		engine:  e,
		factory: factory,
		def:     f,
		name:    name,
		props:   make(engine.Props),
	}, nil
}

func (e *Engine) NewElement(factory string) (engine.Element, error) {
	return e.newElement(factory)
}

func (e *Engine) NewSink(factory string) (engine.Sink, error) {
	if factory != "appsink" {
		return nil, fmt.Errorf("%s is not an appsink", factory)
	}
	elem, err := e.newElement(factory)
	if err != nil {
		return nil, err
	}
	s := &Sink{Element: elem}
	elem.sink = s
	return s, nil
}

func (e *Engine) NewPipeline() (engine.Pipeline, error) {
	p := &Pipeline{engine: e, bus: &Bus{subscribers: make(map[int]func(engine.Message))}}
	e.mu.Lock()
	e.pipelines = append(e.pipelines, p)
	e.mu.Unlock()
	return p, nil
}

func (e *Engine) ParseCaps(s string) (engine.Caps, error) {
	c, err := ParseCaps(s)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Element is a fake element.
type Element struct {
	engine  *Engine
	factory string
	def     Factory
	name    string

	mu         sync.Mutex
	props      engine.Props
	caps       *Caps
	pipeline   *Pipeline
	downstream *Element
	padAdded   []func()
	negotiated bool
	sink       *Sink
}

func (e *Element) Name() string    { return e.name }
func (e *Element) Factory() string { return e.factory }

// SetProperty checks the value against the factory's property table the way
// g_object_set_property does, then records it.
func (e *Element) SetProperty(name string, value engine.Value) error {
	kind, ok := e.def.Properties[name]
	if !ok {
		return fmt.Errorf("object of type `%s' does not have property `%s'", e.def.Type, name)
	}
	v, err := engine.Coerce(kind, value)
	if err != nil {
		return fmt.Errorf("%s.%s: %w", e.def.Type, name, err)
	}
	if nicks, ok := e.def.Enums[name]; ok && !validEnum(nicks, v.(string)) {
		return fmt.Errorf("%w: could not convert '%s' to type '%sPattern' when setting property '%s.%s'",
			engine.ErrPropertyType, value, e.def.Type, e.def.Type, name)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.props[name] = value
	return nil
}

// validEnum accepts a nick or the value of one.
func validEnum(nicks []string, s string) bool {
	for _, n := range nicks {
		if n == s {
			return true
		}
	}
	i, err := strconv.Atoi(s)
	return err == nil && i >= 0 && i < len(nicks)
}

// Property returns a property previously set on the element.
func (e *Element) Property(name string) (engine.Value, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.props[name]
	return v, ok
}

func (e *Element) SetCaps(c engine.Caps) error {
	if _, ok := e.def.Properties["caps"]; !ok {
		return fmt.Errorf("object of type `%s' does not have property `caps'", e.def.Type)
	}
	fc, ok := c.(*Caps)
	if !ok {
		return fmt.Errorf("foreign caps %T", c)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.caps = fc
	return nil
}

// Caps returns the caps set on the element, or nil.
func (e *Element) Caps() *Caps {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.caps
}

func (e *Element) HasStaticSrcPad() bool {
	return !e.def.Dynamic
}

func (e *Element) Link(dst engine.Element) error {
	d, ok := asElement(dst)
	if !ok {
		return fmt.Errorf("foreign element %T", dst)
	}
	if d.def.Source {
		return fmt.Errorf("%s has no sink pad", d.name)
	}
	if e.pipeline == nil || e.pipeline != d.pipeline {
		return fmt.Errorf("%s and %s do not share a parent", e.name, d.name)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.def.Dynamic && !e.negotiated {
		return fmt.Errorf("%s has no src pad yet", e.name)
	}
	if e.downstream != nil {
		return fmt.Errorf("%s is already linked", e.name)
	}
	e.downstream = d
	return nil
}

// Linked reports whether the element's src pad is linked.
func (e *Element) Linked() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.downstream != nil
}

func (e *Element) OnPadAdded(fn func()) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.padAdded = append(e.padAdded, fn)
	return nil
}

// negotiate exposes the dynamic pad and fires pad-added callbacks.
func (e *Element) negotiate() {
	e.mu.Lock()
	e.negotiated = true
	callbacks := append([]func(){}, e.padAdded...)
	e.mu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
}

func asElement(x engine.Element) (*Element, bool) {
	switch v := x.(type) {
	case *Element:
		return v, true
	case *Sink:
		return v.Element, true
	default:
		return nil, false
	}
}

func (e *Element) stringProp(name string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if v, ok := e.props[name]; ok {
		return v.String()
	}
	return ""
}

func (e *Element) intProp(name string, def int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if v, ok := e.props[name].(engine.Int); ok {
		return int(v)
	}
	return def
}

// String describes the element the way GStreamer debug output does.
func (e *Element) String() string {
	return fmt.Sprintf("<%s (%s)>", e.name, strings.TrimPrefix(e.def.Type, "Gst"))
}
