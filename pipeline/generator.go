package pipeline

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/Idein/actfw-gstreamer/engine"
)

// Operations reported in BuildError.Op.
const (
	OpCreate         = "create"
	OpSetProperty    = "set property"
	OpSetCaps        = "set caps of"
	OpCreatePipeline = "create pipeline for"
	OpAdd            = "add"
	OpLink           = "link"
	OpWatchPads      = "watch pads of"
	OpSetState       = "change state of"
)

// BuildError reports a failure to materialize or start a pipeline. Element is
// the factory name for creation and property errors, and the element name
// once elements exist.
type BuildError struct {
	Element  string
	Property string
	// Peer is the downstream element of a failed link.
	Peer string
	Op   string
	Err  error
}

func (e *BuildError) Error() string {
	var b strings.Builder
	b.WriteString("pipeline: failed to ")
	b.WriteString(e.Op)
	if e.Property != "" {
		fmt.Fprintf(&b, " %q of", e.Property)
	}
	fmt.Fprintf(&b, " `%s`", e.Element)
	if e.Peer != "" {
		fmt.Fprintf(&b, " and `%s`", e.Peer)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *BuildError) Unwrap() error { return e.Err }

// Built is a materialized pipeline and its sink. It is owned by exactly one
// stream.
type Built struct {
	Pipeline engine.Pipeline
	Sink     engine.Sink
	Elements []engine.Element
}

// Generator materializes pipelines from a fixed list of specs. It is
// immutable; Build may be called any number of times and every call returns
// an independent pipeline.
type Generator struct {
	eng   engine.Engine
	specs []ElementSpec
	caps  string
}

// Caps returns the sink caps string.
func (g *Generator) Caps() string { return g.caps }

// Len returns the number of elements, sink included.
func (g *Generator) Len() int { return len(g.specs) }

// Specs returns a copy of the element specs.
func (g *Generator) Specs() []ElementSpec {
	out := make([]ElementSpec, len(g.specs))
	for i, s := range g.specs {
		out[i] = s.clone()
	}
	return out
}

// String renders the pipeline in gst-launch syntax.
func (g *Generator) String() string {
	parts := make([]string, 0, len(g.specs))
	for _, s := range g.specs {
		switch s.Kind {
		case KindCapsFilter:
			parts = append(parts, s.Caps)
		default:
			part := s.Factory
			if len(s.Props) > 0 {
				part += " " + s.Props.String()
			}
			if s.Kind == KindSink {
				part += fmt.Sprintf(" caps=%q", g.caps)
			}
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, " ! ")
}

// Build creates the elements, applies their properties, installs the sink
// caps and links everything in order. Elements without a static src pad are
// linked from their pad-added callback; a failure there is logged and never
// reported to the caller.
func (g *Generator) Build() (*Built, error) {
	elements := make([]engine.Element, len(g.specs))
	var sink engine.Sink

	for i, spec := range g.specs {
		elem, err := g.create(spec)
		if err != nil {
			return nil, err
		}
		if spec.Kind == KindSink {
			sink = elem.(engine.Sink)
		}
		elements[i] = elem
	}
	if sink == nil {
		panic("pipeline: generator without sink")
	}

	caps, err := g.eng.ParseCaps(g.caps)
	if err != nil {
		return nil, &BuildError{Element: sink.Name(), Op: OpSetCaps, Err: err}
	}
	if err := sink.SetCaps(caps); err != nil {
		return nil, &BuildError{Element: sink.Name(), Op: OpSetCaps, Err: err}
	}
	slog.Debug("pipeline: sink caps set", "caps", g.caps)

	p, err := g.eng.NewPipeline()
	if err != nil {
		return nil, &BuildError{Element: sink.Name(), Op: OpCreatePipeline, Err: err}
	}
	if err := p.Add(elements...); err != nil {
		return nil, &BuildError{Element: "pipeline", Op: OpAdd, Err: err}
	}

	for i := 0; i+1 < len(elements); i++ {
		if err := link(elements[i], elements[i+1]); err != nil {
			return nil, err
		}
	}

	slog.Info("pipeline: built", "elements", len(elements), "caps", g.caps)
	return &Built{Pipeline: p, Sink: sink, Elements: elements}, nil
}

func (g *Generator) create(spec ElementSpec) (engine.Element, error) {
	var (
		elem engine.Element
		err  error
	)
	if spec.Kind == KindSink {
		elem, err = g.eng.NewSink(spec.Factory)
	} else {
		elem, err = g.eng.NewElement(spec.Factory)
	}
	if err != nil {
		return nil, &BuildError{Element: spec.Factory, Op: OpCreate, Err: err}
	}

	for _, k := range spec.Props.Keys() {
		v := spec.Props[k]
		slog.Debug("pipeline: set property", "element", spec.Factory, "property", k, "value", v)
		if err := elem.SetProperty(k, v); err != nil {
			return nil, &BuildError{Element: spec.Factory, Property: k, Op: OpSetProperty, Err: err}
		}
	}

	if spec.Kind == KindCapsFilter {
		caps, err := g.eng.ParseCaps(spec.Caps)
		if err != nil {
			return nil, &BuildError{Element: spec.Factory, Op: OpSetCaps, Err: err}
		}
		if err := elem.SetCaps(caps); err != nil {
			return nil, &BuildError{Element: spec.Factory, Op: OpSetCaps, Err: err}
		}
	}
	return elem, nil
}

func link(src, dst engine.Element) error {
	if src.HasStaticSrcPad() {
		slog.Debug("pipeline: linking static pad", "src", src.Name(), "dst", dst.Name())
		if err := src.Link(dst); err != nil {
			return &BuildError{Element: src.Name(), Peer: dst.Name(), Op: OpLink, Err: err}
		}
		return nil
	}

	// The src pad appears once the element knows its output type (rtspsrc,
	// demuxers). Link from pad-added.
	err := src.OnPadAdded(func() {
		if err := src.Link(dst); err != nil {
			slog.Warn("pipeline: deferred link failed", "src", src.Name(), "dst", dst.Name(), "error", err)
			return
		}
		slog.Info("pipeline: deferred link established", "src", src.Name(), "dst", dst.Name())
	})
	if err != nil {
		return &BuildError{Element: src.Name(), Op: OpWatchPads, Err: err}
	}
	return nil
}
