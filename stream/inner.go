package stream

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Idein/actfw-gstreamer/converter"
	"github.com/Idein/actfw-gstreamer/engine"
	"github.com/Idein/actfw-gstreamer/pipeline"
)

// ErrStopped is returned by Start on a stream that was already stopped.
// Streams are one-shot; build a new one to start again.
var ErrStopped = errors.New("stream: stopped streams cannot be started again")

type state int32

const (
	stateCreated state = iota
	stateStarting
	stateStarted
	stateStopped
)

// inner owns a built pipeline and bridges engine callbacks to Capture.
//
// The queue is the only channel between the engine's threads and the
// consumer. New-sample notifications are coalesced: when the single slot is
// taken the notification is dropped, since only a wake-up is needed. Bus
// messages are never dropped while subscribed; the sender blocks until the
// consumer takes the slot or the subscription is detached.
type inner struct {
	built *pipeline.Built
	conv  converter.Converter
	queue chan message

	state atomic.Int32

	detached    chan struct{}
	detachOnce  sync.Once
	unsubscribe func()

	coalesced atomic.Uint64
}

func newInner(built *pipeline.Built, conv converter.Converter) *inner {
	in := &inner{
		built:    built,
		conv:     conv,
		queue:    make(chan message, 1),
		detached: make(chan struct{}),
	}
	built.Sink.OnNewSample(in.onNewSample)
	in.unsubscribe = built.Pipeline.Bus().Subscribe(in.onBusMessage)
	return in
}

// onNewSample runs on an engine streaming thread and must not block.
func (in *inner) onNewSample() {
	select {
	case in.queue <- message{kind: sampleReady}:
	default:
		in.coalesced.Add(1)
	}
}

// onBusMessage runs on the engine's bus thread.
func (in *inner) onBusMessage(m engine.Message) {
	select {
	case in.queue <- message{kind: engineMessage, payload: m}:
	case <-in.detached:
		slog.Debug("stream: bus message after detach", "type", m.Type, "source", m.Source)
	}
}

func (in *inner) detach() {
	in.detachOnce.Do(func() {
		// Release a bus sender blocked on a full queue before waiting for it.
		close(in.detached)
		in.unsubscribe()
	})
}

func (in *inner) isRunning() bool {
	return state(in.state.Load()) == stateStarted
}

func (in *inner) start() error {
	if !in.state.CompareAndSwap(int32(stateCreated), int32(stateStarting)) {
		if state(in.state.Load()) == stateStopped {
			return ErrStopped
		}
		return nil
	}

	if err := in.built.Pipeline.SetState(engine.StatePlaying); err != nil {
		in.state.Store(int32(stateStopped))
		in.release()
		return &pipeline.BuildError{
			Element: "pipeline",
			Op:      pipeline.OpSetState,
			Err:     fmt.Errorf("to %s: %w", engine.StatePlaying, err),
		}
	}
	in.state.Store(int32(stateStarted))
	slog.Info("stream: started", "sink", in.built.Sink.Name())
	return nil
}

func (in *inner) stop() error {
	if !in.state.CompareAndSwap(int32(stateStarted), int32(stateStopped)) {
		return nil
	}
	in.detach()
	if err := in.built.Pipeline.SetState(engine.StateNull); err != nil {
		return &pipeline.BuildError{
			Element: "pipeline",
			Op:      pipeline.OpSetState,
			Err:     fmt.Errorf("to %s: %w", engine.StateNull, err),
		}
	}
	slog.Info("stream: stopped", "sink", in.built.Sink.Name(), "coalesced", in.coalesced.Load())
	return nil
}

// release detaches the bus and returns a never-started or failed pipeline to
// NULL.
func (in *inner) release() {
	in.detach()
	if err := in.built.Pipeline.SetState(engine.StateNull); err != nil {
		slog.Warn("stream: failed to release pipeline", "error", err)
	}
}

// capture waits up to timeout for a message. A negative timeout waits
// forever.
func (in *inner) capture(timeout time.Duration) (any, bool, error) {
	var expired <-chan time.Time
	if timeout >= 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case msg := <-in.queue:
		return in.handle(msg)
	case <-expired:
		return nil, false, nil
	}
}

func (in *inner) handle(msg message) (any, bool, error) {
	switch msg.kind {
	case sampleReady:
		// The notification and the pull are decoupled, so an earlier pull may
		// already have taken the sample this token announced.
		smp := in.built.Sink.TryPullSample()
		if smp == nil {
			return nil, false, nil
		}
		v, err := in.conv.Convert(smp)
		if err != nil {
			return nil, false, err
		}
		return v, true, nil

	case engineMessage:
		m := msg.payload
		switch m.Type {
		case engine.MessageEOS:
			slog.Info("stream: end of stream", "source", m.Source)
			if err := in.stop(); err != nil {
				slog.Warn("stream: stop after end of stream failed", "error", err)
			}
			return nil, false, nil
		case engine.MessageError:
			return nil, false, &EngineError{Source: m.Source, Message: m.Text, Debug: m.Debug}
		default:
			panic(fmt.Sprintf("stream: unexpected engine message %s from %s", m.Type, m.Source))
		}

	default:
		panic(fmt.Sprintf("stream: unexpected internal message %s", msg.kind))
	}
}
