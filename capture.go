package gstcapture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/Idein/actfw-gstreamer/internal/errclass"
	"github.com/Idein/actfw-gstreamer/internal/fanout"
	"github.com/Idein/actfw-gstreamer/internal/fpsstats"
	"github.com/Idein/actfw-gstreamer/metrics"
	"github.com/Idein/actfw-gstreamer/stream"
)

// DefaultPollTimeout bounds each Capture call and therefore the latency of
// Stop.
const DefaultPollTimeout = time.Second

// Option configures a Capture.
type Option func(*Capture)

// WithPollTimeout sets the timeout of each poll. Non-positive values are
// ignored.
func WithPollTimeout(d time.Duration) Option {
	return func(c *Capture) {
		if d > 0 {
			c.pollTimeout = d
		}
	}
}

// WithClock sets the clock used for silence detection, timestamps and
// restart delays.
func WithClock(clk clock.Clock) Option {
	return func(c *Capture) { c.clk = clk }
}

// WithMetrics records capture statistics in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Capture) { c.metrics = m }
}

// WithSourceName labels frames, logs and metrics.
func WithSourceName(name string) Option {
	return func(c *Capture) { c.source = name }
}

// Capture produces frames from streams built by one stream.Builder,
// restarting the pipeline as its RestartPolicy allows.
type Capture struct {
	builder     *stream.Builder
	policy      RestartPolicy
	pollTimeout time.Duration
	clk         clock.Clock
	metrics     *metrics.Metrics
	source      string

	outlets *fanout.Bus[Frame]
	fps     *fpsstats.Window

	running atomic.Bool
	stopMu  sync.Mutex
	stopCh  chan struct{}

	seq                    atomic.Uint64
	attempts               atomic.Uint64
	restartsBuildError     atomic.Uint64
	restartsConnectionLost atomic.Uint64
	coalesced              atomic.Uint64
	engineErrors           errclass.Counters
	lastFrameAt            atomic.Int64
}

// New returns a capture. b and policy must not be nil.
func New(b *stream.Builder, policy RestartPolicy, opts ...Option) *Capture {
	if b == nil {
		panic("gstcapture: nil stream builder")
	}
	if policy == nil {
		panic("gstcapture: nil restart policy")
	}
	c := &Capture{
		builder:     b,
		policy:      policy,
		pollTimeout: DefaultPollTimeout,
		clk:         clock.New(),
		source:      "gstcapture",
		outlets:     fanout.New[Frame](),
		fps:         fpsstats.NewWindow(fpsstats.DefaultWindow),
		stopCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect adds an outlet. Frames are offered without blocking and dropped
// when ch is full.
func (c *Capture) Connect(id string, ch chan<- Frame) error {
	return c.outlets.Subscribe(id, ch)
}

// ConnectLatest adds an outlet that keeps only the newest frame.
func (c *Capture) ConnectLatest(id string) (*fanout.Latest[Frame], error) {
	return c.outlets.SubscribeLatest(id)
}

// Disconnect removes an outlet.
func (c *Capture) Disconnect(id string) error {
	return c.outlets.Unsubscribe(id)
}

// Run captures until Stop is called, ctx is done, the policy gives up or a
// converter fails. It returns nil after Stop and ctx.Err() after
// cancellation. A policy that gives up has its error returned unchanged.
func (c *Capture) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer c.running.Store(false)
	defer c.renewStop()

	stopCh := c.stopChan()
	if !alive(ctx, stopCh) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return nil
	}
	threshold := c.policy.ConnectionLostThreshold()

	slog.Info("gstcapture: capture started",
		"source", c.source,
		"pipeline", c.builder.Generator().String(),
		"poll_timeout", c.pollTimeout,
		"connection_lost_threshold", threshold,
	)

	for {
		err := c.attempt(ctx, stopCh, threshold)
		if err == nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Info("gstcapture: capture stopped", "source", c.source, "frames", c.seq.Load())
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		action, err := c.decide(err)
		if err != nil {
			return err
		}
		if action == Stop {
			slog.Info("gstcapture: restart policy stopped capture", "source", c.source)
			return nil
		}

		if d, ok := c.policy.(Delayer); ok {
			if delay := d.RestartDelay(); delay > 0 {
				timer := c.clk.Timer(delay)
				select {
				case <-timer.C:
				case <-stopCh:
					timer.Stop()
					return nil
				case <-ctx.Done():
					timer.Stop()
					return ctx.Err()
				}
			}
		}
	}
}

// decide funnels a failed attempt through the policy. Errors the policy does
// not cover are returned as is.
func (c *Capture) decide(err error) (Action, error) {
	var (
		lost  *ConnectionLostError
		build *BuildError
		eng   *EngineError
		cause string
	)

	var action Action
	var perr error
	switch {
	case errors.As(err, &lost):
		cause = "connection_lost"
		slog.Debug("gstcapture: connection lost", "source", c.source, "error", err)
		action, perr = c.policy.OnConnectionLost(lost)
	case errors.As(err, &build), errors.As(err, &eng):
		cause = "build_error"
		slog.Debug("gstcapture: pipeline failed", "source", c.source, "error", err)
		action, perr = c.policy.OnPipelineBuildError(err)
	default:
		slog.Error("gstcapture: capture failed", "source", c.source, "error", err)
		return Stop, err
	}
	if perr != nil || action != Restart {
		return action, perr
	}

	if cause == "connection_lost" {
		c.restartsConnectionLost.Add(1)
	} else {
		c.restartsBuildError.Add(1)
	}
	c.metrics.Restart(c.source, cause)
	return Restart, nil
}

// attempt runs one pipeline until it fails or the capture is stopped. A nil
// return means stopped.
func (c *Capture) attempt(ctx context.Context, stopCh <-chan struct{}, threshold time.Duration) error {
	s, err := c.builder.Open()
	if err != nil {
		return err
	}
	c.attempts.Add(1)
	c.metrics.SetRunning(c.source, true)
	c.fps.Reset()
	defer func() {
		s.Close()
		c.metrics.SetRunning(c.source, false)
		n := s.Coalesced()
		c.coalesced.Add(n)
		c.metrics.Coalesced(c.source, n)
	}()

	var (
		silent       bool
		silenceStart time.Time
		delivered    bool
	)
	for alive(ctx, stopCh) {
		if !s.IsRunning() {
			return &ConnectionLostError{Threshold: threshold}
		}
		if threshold > 0 && silent {
			if silence := c.clk.Since(silenceStart); silence > threshold {
				return &ConnectionLostError{Silence: silence, Threshold: threshold}
			}
		}

		v, ok, err := s.Capture(c.pollTimeout)
		if err != nil {
			var eng *EngineError
			if errors.As(err, &eng) {
				cat := errclass.Classify(eng.Message, eng.Debug)
				c.engineErrors.Add(cat)
				c.metrics.EngineError(c.source, cat.String())
				slog.Error("gstcapture: pipeline error",
					"source", c.source,
					"element", eng.Source,
					"error", eng.Message,
					"debug", eng.Debug,
					"category", cat.String(),
					"frames_processed", c.seq.Load(),
				)
			}
			return err
		}
		if !ok {
			if !silent {
				silent = true
				silenceStart = c.clk.Now()
			}
			continue
		}
		silent = false

		if !delivered {
			delivered = true
			if r, ok := c.policy.(Resetter); ok {
				r.Reset()
			}
		}
		c.publish(v)
	}
	return nil
}

func (c *Capture) publish(v any) {
	now := c.clk.Now()
	frame := Frame{
		Seq:        c.seq.Add(1),
		Timestamp:  now,
		Value:      v,
		SourceName: c.source,
		TraceID:    uuid.New(),
	}
	c.lastFrameAt.Store(now.UnixNano())
	c.fps.Add(now)
	c.metrics.FrameCaptured(c.source)
	if c.metrics != nil {
		c.metrics.SetFPS(c.source, c.fps.Stats(now).FPSMean)
	}

	for _, d := range c.outlets.Publish(frame) {
		c.metrics.Delivery(c.source, d.ID, d.Delivered)
		if d.Replaced {
			c.metrics.Delivery(c.source, d.ID, false)
			slog.Debug("gstcapture: unread frame replaced",
				"source", c.source,
				"outlet", d.ID,
				"seq", frame.Seq,
			)
		}
		if !d.Delivered {
			slog.Debug("gstcapture: dropping frame, outlet full",
				"source", c.source,
				"outlet", d.ID,
				"seq", frame.Seq,
				"trace_id", frame.TraceID,
			)
		}
	}
}

func alive(ctx context.Context, stopCh <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return false
	case <-stopCh:
		return false
	default:
		return true
	}
}

func (c *Capture) stopChan() <-chan struct{} {
	c.stopMu.Lock()
	defer c.stopMu.Unlock()
	return c.stopCh
}

// renewStop arms a fresh stop channel for the next Run.
func (c *Capture) renewStop() {
	c.stopMu.Lock()
	defer c.stopMu.Unlock()
	c.stopCh = make(chan struct{})
}

// Stop asks the current Run to return, or the next one if none is in
// progress. It does not wait; Run notices within one poll timeout.
func (c *Capture) Stop() {
	c.stopMu.Lock()
	defer c.stopMu.Unlock()
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
}

// IsRunning reports whether Run is in progress.
func (c *Capture) IsRunning() bool { return c.running.Load() }

// Close stops the capture and removes every outlet.
func (c *Capture) Close() {
	c.Stop()
	c.outlets.Close()
}

// Stats returns current capture statistics.
func (c *Capture) Stats() Stats {
	now := c.clk.Now()
	st := Stats{
		SourceName:             c.source,
		IsRunning:              c.running.Load(),
		Attempts:               c.attempts.Load(),
		FramesCaptured:         c.seq.Load(),
		RestartsBuildError:     c.restartsBuildError.Load(),
		RestartsConnectionLost: c.restartsConnectionLost.Load(),
		Coalesced:              c.coalesced.Load(),
		EngineErrors:           c.engineErrors.Snapshot(),
		Outlets:                make(map[string]OutletStats),
		FPS:                    c.fps.Stats(now),
	}
	if ns := c.lastFrameAt.Load(); ns != 0 {
		st.LastFrameAt = time.Unix(0, ns)
	}
	for id, o := range c.outlets.AllStats() {
		out := OutletStats{Sent: o.Sent, Dropped: o.Dropped}
		if total := o.Sent + o.Dropped; total > 0 {
			out.DropRate = float64(o.Dropped) / float64(total) * 100
		}
		st.Outlets[id] = out
	}
	return st
}
