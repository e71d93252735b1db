package pipeline

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/Idein/actfw-gstreamer/engine"
)

var (
	// ErrFinalized is recorded when an element is added after the sink.
	ErrFinalized = errors.New("pipeline: builder already finalized")
	// ErrNotFinalized is returned by Finalize when no sink was added.
	ErrNotFinalized = errors.New("pipeline: builder has no sink, call AddSinkWithCaps last")
	// ErrMissingDimension is recorded when the sink caps lack width or height.
	ErrMissingDimension = errors.New("pipeline: sink caps need a positive width and height")
)

// SinkFactory is the element the builder terminates every pipeline with.
const SinkFactory = "appsink"

// Kind tells the generator how to materialize an ElementSpec.
type Kind int

const (
	KindElement Kind = iota
	KindCapsFilter
	KindSink
)

func (k Kind) String() string {
	switch k {
	case KindElement:
		return "element"
	case KindCapsFilter:
		return "capsfilter"
	case KindSink:
		return "sink"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ElementSpec describes one element to create. Specs are linked in order.
type ElementSpec struct {
	Factory string
	Props   engine.Props
	// Caps is the capability string of a capsfilter.
	Caps string
	Kind Kind
}

func (s ElementSpec) clone() ElementSpec {
	s.Props = s.Props.Clone()
	return s
}

// Builder collects element specs. Nothing touches the engine until the
// resulting Generator builds a pipeline, so the chainable Add methods never
// fail; precondition violations are recorded and reported by Finalize.
//
//	gen, err := pipeline.NewBuilder(eng, pipeline.WithForceFormat(pipeline.FormatRGB)).
//		Add("videotestsrc", engine.Props{"pattern": engine.String("smpte")}).
//		Add("videoscale", nil).
//		AddSinkWithCaps(nil, pipeline.SinkCaps{Width: 640, Height: 480}).
//		Finalize()
type Builder struct {
	eng       engine.Engine
	specs     []ElementSpec
	force     Format
	caps      string
	finalized bool
	errs      *multierror.Error
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithForceFormat pins the sink to a single pixel format.
func WithForceFormat(f Format) BuilderOption {
	return func(b *Builder) {
		if _, err := ParseFormat(string(f)); err != nil {
			b.errs = multierror.Append(b.errs, err)
			return
		}
		b.force = f
	}
}

// NewBuilder returns an empty builder for eng.
func NewBuilder(eng engine.Engine, opts ...BuilderOption) *Builder {
	b := &Builder{eng: eng}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// IsFinalized reports whether the sink has been added.
func (b *Builder) IsFinalized() bool {
	return b.finalized
}

func (b *Builder) push(spec ElementSpec) *Builder {
	if b.finalized {
		b.errs = multierror.Append(b.errs, fmt.Errorf("%w: cannot add %q", ErrFinalized, spec.Factory))
		return b
	}
	b.specs = append(b.specs, spec)
	return b
}

// Add appends an element created from factory with the given properties.
func (b *Builder) Add(factory string, props engine.Props) *Builder {
	return b.push(ElementSpec{Factory: factory, Props: props.Clone(), Kind: KindElement})
}

// AddCapsFilter appends a capsfilter constrained to caps.
func (b *Builder) AddCapsFilter(caps string) *Builder {
	return b.push(ElementSpec{Factory: "capsfilter", Caps: caps, Kind: KindCapsFilter})
}

// AddSinkWithCaps appends the appsink, fixes the sink caps and finalizes the
// builder. It must be the last call before Finalize.
func (b *Builder) AddSinkWithCaps(props engine.Props, caps SinkCaps) *Builder {
	if b.finalized {
		b.errs = multierror.Append(b.errs, fmt.Errorf("%w: cannot add a second sink", ErrFinalized))
		return b
	}
	if caps.Width <= 0 || caps.Height <= 0 {
		b.errs = multierror.Append(b.errs,
			fmt.Errorf("%w: got %dx%d", ErrMissingDimension, caps.Width, caps.Height))
	}
	b.push(ElementSpec{Factory: SinkFactory, Props: props.Clone(), Kind: KindSink})
	b.caps = caps.capsString(baseCaps(b.force))
	b.finalized = true
	return b
}

// Finalize returns a Generator holding copies of the specs and sink caps.
func (b *Builder) Finalize() (*Generator, error) {
	errs := b.errs
	if !b.finalized {
		errs = multierror.Append(errs, ErrNotFinalized)
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	if b.eng == nil {
		return nil, engine.ErrNotInitialized
	}

	specs := make([]ElementSpec, len(b.specs))
	for i, s := range b.specs {
		specs[i] = s.clone()
	}
	return &Generator{eng: b.eng, specs: specs, caps: b.caps}, nil
}
