package enginetest

import (
	"fmt"
	"sync"
	"time"

	"github.com/Idein/actfw-gstreamer/engine"
)

// Defaults used by producers when the negotiated caps leave a field open.
const (
	DefaultWidth     = 320
	DefaultHeight    = 240
	DefaultFramerate = 30
	DefaultFormat    = "RGB"
)

// Pipeline is a fake pipeline container.
type Pipeline struct {
	engine *Engine
	bus    *Bus

	mu       sync.Mutex
	elements []*Element
	state    engine.State
	stop     chan struct{}
	wg       sync.WaitGroup
}

var _ engine.Pipeline = (*Pipeline)(nil)

func (p *Pipeline) Add(elements ...engine.Element) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, x := range elements {
		e, ok := asElement(x)
		if !ok {
			return fmt.Errorf("foreign element %T", x)
		}
		if e.pipeline != nil {
			return fmt.Errorf("%s already has a parent", e.name)
		}
		e.pipeline = p
		p.elements = append(p.elements, e)
	}
	return nil
}

// Elements returns the elements added to the pipeline in order.
func (p *Pipeline) Elements() []*Element {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Element(nil), p.elements...)
}

// Sink returns the pipeline's appsink, or nil.
func (p *Pipeline) Sink() *Sink {
	for _, e := range p.Elements() {
		if e.sink != nil {
			return e.sink
		}
	}
	return nil
}

// State returns the current state.
func (p *Pipeline) State() engine.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) Bus() engine.Bus { return p.bus }

// PostError posts an error message on the bus and blocks until every
// subscriber has handled it.
func (p *Pipeline) PostError(source, text, debug string) {
	p.bus.Post(engine.Message{Type: engine.MessageError, Source: source, Text: text, Debug: debug})
}

// PostEOS posts an end-of-stream message on the bus.
func (p *Pipeline) PostEOS() {
	p.bus.Post(engine.Message{Type: engine.MessageEOS, Source: "pipeline"})
}

func (p *Pipeline) SetState(state engine.State) error {
	switch state {
	case engine.StatePlaying:
		return p.play()
	case engine.StateNull:
		p.halt()
		p.setState(engine.StateNull)
		return nil
	default:
		p.setState(state)
		return nil
	}
}

func (p *Pipeline) setState(s engine.State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *Pipeline) play() error {
	p.mu.Lock()
	if p.state == engine.StatePlaying {
		p.mu.Unlock()
		return nil
	}
	elements := append([]*Element(nil), p.elements...)
	p.mu.Unlock()

	for _, e := range elements {
		if e.def.FailPlaying {
			return fmt.Errorf("state change failed: %s could not go to PLAYING", e.name)
		}
		if e.factory == "rtspsrc" {
			loc := e.stringProp("location")
			if !p.engine.isReachable(loc) {
				return fmt.Errorf("%s: Could not open resource for reading and writing. (%s)", e.name, loc)
			}
		}
	}

	// Dynamic pads appear once the stream type is known.
	for _, e := range elements {
		if e.def.Dynamic {
			e.negotiate()
		}
	}

	stop := make(chan struct{})
	p.mu.Lock()
	p.stop = stop
	p.state = engine.StatePlaying
	p.mu.Unlock()

	for _, e := range elements {
		if !e.def.Source || e.def.Silent {
			continue
		}
		sink, caps := follow(e)
		if sink == nil {
			// Unlinked source: the pipeline plays but nothing reaches the sink.
			continue
		}
		p.wg.Add(1)
		go p.produce(e, sink, caps, stop)
	}
	return nil
}

func (p *Pipeline) halt() {
	p.mu.Lock()
	stop := p.stop
	p.stop = nil
	p.mu.Unlock()
	if stop != nil {
		close(stop)
	}
	p.wg.Wait()
}

// follow walks the link chain from src to the sink and returns the sink
// together with the caps seen along the way, sink caps last.
func follow(src *Element) (*Sink, []*Caps) {
	var caps []*Caps
	cur := src
	for i := 0; cur != nil && i < 64; i++ {
		cur.mu.Lock()
		next, c, s := cur.downstream, cur.caps, cur.sink
		cur.mu.Unlock()
		if c != nil {
			caps = append(caps, c)
		}
		if s != nil {
			return s, caps
		}
		cur = next
	}
	return nil, nil
}

type frameFormat struct {
	format        string
	width, height int
	interval      time.Duration
}

func resolve(caps []*Caps) frameFormat {
	f := frameFormat{format: DefaultFormat, width: DefaultWidth, height: DefaultHeight}
	num, den := DefaultFramerate, 1
	for _, c := range caps {
		if v := c.Format(); v != "" {
			f.format = v
		}
		if v, ok := c.Int("width"); ok {
			f.width = v
		}
		if v, ok := c.Int("height"); ok {
			f.height = v
		}
		if n, d := c.Framerate(); n > 0 {
			num, den = n, d
		}
	}
	f.interval = time.Second * time.Duration(den) / time.Duration(num)
	return f
}

// BytesPerPixel returns the packed pixel size of a raw video format.
func BytesPerPixel(format string) int {
	switch format {
	case "RGBx", "BGRx", "xRGB", "xBGR", "RGBA", "BGRA":
		return 4
	default:
		return 3
	}
}

// RowStride returns the row size of a packed raw video frame, rounded up to a
// multiple of 4 bytes.
func RowStride(format string, width int) int {
	return (width*BytesPerPixel(format) + 3) &^ 3
}

func (p *Pipeline) produce(src *Element, sink *Sink, caps []*Caps, stop <-chan struct{}) {
	defer p.wg.Done()

	f := resolve(caps)
	limit := src.intProp("num-buffers", -1)
	size := RowStride(f.format, f.width) * f.height

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for n := 0; limit < 0 || n < limit; n++ {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		data := make([]byte, size)
		for i := range data {
			data[i] = byte(n)
		}
		sink.Push(NewSample(f.format, f.width, f.height, data))
	}

	select {
	case <-stop:
	default:
		p.bus.Post(engine.Message{Type: engine.MessageEOS, Source: src.name})
	}
}

// Bus is a fake bus. Post delivers synchronously on the caller's goroutine,
// which plays the role of the engine's streaming thread.
type Bus struct {
	mu          sync.Mutex
	next        int
	subscribers map[int]func(engine.Message)
}

var _ engine.Bus = (*Bus)(nil)

func (b *Bus) Subscribe(fn func(engine.Message)) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subscribers[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			b.mu.Unlock()
		})
	}
}

// Subscribers returns the number of attached subscribers.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Post delivers msg to every subscriber.
func (b *Bus) Post(msg engine.Message) {
	b.mu.Lock()
	fns := make([]func(engine.Message), 0, len(b.subscribers))
	for _, fn := range b.subscribers {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn(msg)
	}
}

// FakeBus returns the concrete bus for posting messages from tests.
func (p *Pipeline) FakeBus() *Bus { return p.bus }
