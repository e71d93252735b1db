package gstcapture_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	gstcapture "github.com/Idein/actfw-gstreamer"
	"github.com/Idein/actfw-gstreamer/converter"
	"github.com/Idein/actfw-gstreamer/engine"
	"github.com/Idein/actfw-gstreamer/engine/enginetest"
	"github.com/Idein/actfw-gstreamer/metrics"
	"github.com/Idein/actfw-gstreamer/pipeline"
	"github.com/Idein/actfw-gstreamer/stream"
)

// recordingPolicy records every call and answers with actions in order,
// stopping once they run out.
type recordingPolicy struct {
	threshold time.Duration
	actions   []gstcapture.Action

	mu    sync.Mutex
	build []error
	lost  []*gstcapture.ConnectionLostError
}

func (p *recordingPolicy) ConnectionLostThreshold() time.Duration { return p.threshold }

func (p *recordingPolicy) OnPipelineBuildError(err error) (gstcapture.Action, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.build = append(p.build, err)
	return p.next(), nil
}

func (p *recordingPolicy) OnConnectionLost(err *gstcapture.ConnectionLostError) (gstcapture.Action, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lost = append(p.lost, err)
	return p.next(), nil
}

func (p *recordingPolicy) next() gstcapture.Action {
	if len(p.actions) == 0 {
		return gstcapture.Stop
	}
	a := p.actions[0]
	p.actions = p.actions[1:]
	return a
}

func (p *recordingPolicy) calls() (build []error, lost []*gstcapture.ConnectionLostError) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]error(nil), p.build...), append([]*gstcapture.ConnectionLostError(nil), p.lost...)
}

// countingPolicy wraps a policy and records the errors it is given.
type countingPolicy struct {
	gstcapture.RestartPolicy

	mu   sync.Mutex
	seen []error
}

func (p *countingPolicy) OnPipelineBuildError(err error) (gstcapture.Action, error) {
	p.mu.Lock()
	p.seen = append(p.seen, err)
	p.mu.Unlock()
	return p.RestartPolicy.OnPipelineBuildError(err)
}

var silentSource = enginetest.Factory{
	Type:       "GstSilentSrc",
	Properties: enginetest.Props(nil),
	Source:     true,
	Silent:     true,
}

func silentBuilder(t *testing.T, conv converter.Converter) (*stream.Builder, *enginetest.Engine) {
	t.Helper()
	eng := enginetest.New()
	eng.Register("silentsrc", silentSource)
	gen, err := pipeline.NewBuilder(eng).
		Add("silentsrc", nil).
		AddSinkWithCaps(nil, pipeline.SinkCaps{Width: 4, Height: 2}).
		Finalize()
	require.NoError(t, err)
	return stream.NewBuilder(gen, conv), eng
}

// advance moves the mock clock forward by step every millisecond until the
// returned func is called.
func advance(mock *clock.Mock, step time.Duration) func() {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			case <-time.After(time.Millisecond):
				mock.Add(step)
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func runAsync(c *gstcapture.Capture) <-chan error {
	errc := make(chan error, 1)
	go func() { errc <- c.Run(context.Background()) }()
	return errc
}

func waitRun(t *testing.T, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

// waitPlaying waits for the n-th pipeline (1-based) to reach PLAYING.
func waitPlaying(t *testing.T, eng *enginetest.Engine, n int) *enginetest.Pipeline {
	t.Helper()
	var p *enginetest.Pipeline
	require.Eventually(t, func() bool {
		ps := eng.Pipelines()
		if len(ps) < n {
			return false
		}
		p = ps[n-1]
		return p.State() == engine.StatePlaying
	}, 2*time.Second, time.Millisecond)
	return p
}

func TestCapture_SilenceRaisesConnectionLostOnce(t *testing.T) {
	b, eng := silentBuilder(t, nil)
	mock := clock.NewMock()
	policy := &recordingPolicy{threshold: 10 * time.Second}

	c := gstcapture.New(b, policy,
		gstcapture.WithClock(mock),
		gstcapture.WithPollTimeout(time.Millisecond),
	)

	stopClock := advance(mock, time.Second)
	err := waitRun(t, runAsync(c))
	stopClock()
	require.NoError(t, err)

	build, lost := policy.calls()
	require.Empty(t, build)
	require.Len(t, lost, 1)
	require.Greater(t, lost[0].Silence, 10*time.Second)
	require.Equal(t, 10*time.Second, lost[0].Threshold)

	st := c.Stats()
	require.EqualValues(t, 1, st.Attempts)
	require.Zero(t, st.FramesCaptured)
	require.Zero(t, st.RestartsConnectionLost)
	require.Equal(t, engine.StateNull, eng.LastPipeline().State())
}

func TestCapture_SilenceWithoutThresholdKeepsPolling(t *testing.T) {
	b, _ := silentBuilder(t, nil)
	mock := clock.NewMock()
	policy := &recordingPolicy{}

	c := gstcapture.New(b, policy,
		gstcapture.WithClock(mock),
		gstcapture.WithPollTimeout(time.Millisecond),
	)

	stopClock := advance(mock, time.Minute)
	errc := runAsync(c)
	time.Sleep(50 * time.Millisecond)
	c.Stop()
	err := waitRun(t, errc)
	stopClock()

	require.NoError(t, err)
	build, lost := policy.calls()
	require.Empty(t, build)
	require.Empty(t, lost)
}

func TestCapture_VideoTestSrcEndToEnd(t *testing.T) {
	const width, height, frames = 640, 480, 10

	eng := enginetest.New()
	gen, err := pipeline.VideoTestSrc(eng, "smpte", pipeline.SinkCaps{Width: width, Height: height, Framerate: 10})
	require.NoError(t, err)

	c := gstcapture.New(
		stream.NewBuilder(gen, converter.Raw{}),
		gstcapture.NewSimpleRestartPolicy(10*time.Second, 0),
		gstcapture.WithSourceName("test-pattern"),
	)
	out := make(chan gstcapture.Frame, frames)
	require.NoError(t, c.Connect("consumer", out))

	errc := runAsync(c)

	want := width * height * pipeline.FormatRGB.BytesPerPixel()
	for i := 1; i <= frames; i++ {
		select {
		case f := <-out:
			require.EqualValues(t, i, f.Seq)
			require.Equal(t, "test-pattern", f.SourceName)
			require.NotZero(t, f.TraceID)
			data, ok := f.Value.([]byte)
			require.True(t, ok, "raw converter yields []byte, got %T", f.Value)
			require.Len(t, data, want)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for frame %d", i)
		}
	}

	c.Stop()
	require.NoError(t, waitRun(t, errc))
	require.False(t, c.IsRunning())
	require.Equal(t, engine.StateNull, eng.LastPipeline().State())

	st := c.Stats()
	require.GreaterOrEqual(t, st.FramesCaptured, uint64(frames))
	require.GreaterOrEqual(t, st.Outlets["consumer"].Sent, uint64(frames))
	require.False(t, st.LastFrameAt.IsZero())
}

func TestCapture_UnknownElementReraisedAfterThreshold(t *testing.T) {
	const maxErrors = 3

	eng := enginetest.New()
	gen, err := pipeline.NewBuilder(eng).
		Add("dummy-source", nil).
		AddSinkWithCaps(nil, pipeline.SinkCaps{Width: 640, Height: 480}).
		Finalize()
	require.NoError(t, err, "unknown elements surface at build time, not add time")

	simple := gstcapture.NewSimpleRestartPolicy(10*time.Second, maxErrors)
	policy := &countingPolicy{RestartPolicy: simple}
	c := gstcapture.New(stream.NewBuilder(gen, nil), policy)

	err = waitRun(t, runAsync(c))
	require.Error(t, err)

	var buildErr *gstcapture.BuildError
	require.ErrorAs(t, err, &buildErr)
	require.Equal(t, "dummy-source", buildErr.Element)
	require.Equal(t, pipeline.OpCreate, buildErr.Op)
	require.Contains(t, err.Error(), "dummy-source")

	require.Len(t, policy.seen, maxErrors+1)
	require.True(t, err == policy.seen[maxErrors], "the policy's last error must be returned unchanged")
	require.Equal(t, maxErrors+1, simple.Errors())

	st := c.Stats()
	require.Zero(t, st.Attempts)
	require.EqualValues(t, maxErrors, st.RestartsBuildError)
	require.Empty(t, eng.Pipelines())
}

func TestCapture_ConverterErrorBypassesPolicy(t *testing.T) {
	b, eng := silentBuilder(t, converter.Image{})
	policy := &recordingPolicy{actions: []gstcapture.Action{gstcapture.Restart}}
	c := gstcapture.New(b, policy, gstcapture.WithPollTimeout(10*time.Millisecond))

	errc := runAsync(c)
	p := waitPlaying(t, eng, 1)
	p.Sink().Push(enginetest.NewSample("NV12", 4, 2, make([]byte, 12)))

	err := waitRun(t, errc)
	require.ErrorIs(t, err, converter.ErrUnknownFormat)
	var convErr *gstcapture.ConverterError
	require.ErrorAs(t, err, &convErr)

	build, lost := policy.calls()
	require.Empty(t, build)
	require.Empty(t, lost)
	require.Len(t, eng.Pipelines(), 1)
	require.Equal(t, engine.StateNull, p.State())
}

func TestCapture_EndOfStreamIsConnectionLost(t *testing.T) {
	b, eng := silentBuilder(t, nil)
	policy := &recordingPolicy{}
	c := gstcapture.New(b, policy, gstcapture.WithPollTimeout(10*time.Millisecond))

	errc := runAsync(c)
	waitPlaying(t, eng, 1).PostEOS()

	require.NoError(t, waitRun(t, errc))
	build, lost := policy.calls()
	require.Empty(t, build)
	require.Len(t, lost, 1)
	require.Zero(t, lost[0].Silence, "an ended stream is not a silence timeout")
}

func TestCapture_EngineErrorRestartsPipeline(t *testing.T) {
	b, eng := silentBuilder(t, nil)
	policy := &recordingPolicy{actions: []gstcapture.Action{gstcapture.Restart}}
	c := gstcapture.New(b, policy, gstcapture.WithPollTimeout(10*time.Millisecond))

	errc := runAsync(c)
	waitPlaying(t, eng, 1).PostError("silentsrc0", "Could not read from resource.", "Timed out waiting for data")
	waitPlaying(t, eng, 2).PostError("silentsrc1", "Internal data stream error.", "streaming stopped, reason not-negotiated (not negotiated)")

	require.NoError(t, waitRun(t, errc))

	build, lost := policy.calls()
	require.Empty(t, lost)
	require.Len(t, build, 2)
	var engErr *gstcapture.EngineError
	require.ErrorAs(t, build[0], &engErr)
	require.Equal(t, "silentsrc0", engErr.Source)

	pipelines := eng.Pipelines()
	require.Len(t, pipelines, 2)
	for _, p := range pipelines {
		require.Equal(t, engine.StateNull, p.State())
		require.Zero(t, p.FakeBus().Subscribers())
	}

	st := c.Stats()
	require.EqualValues(t, 2, st.Attempts)
	require.EqualValues(t, 1, st.RestartsBuildError)
	require.EqualValues(t, 1, st.EngineErrors["network"])
	require.EqualValues(t, 1, st.EngineErrors["codec"])
}

func TestCapture_BackoffWaitsOnClock(t *testing.T) {
	eng := enginetest.New()
	gen, err := pipeline.NewBuilder(eng).
		Add("dummy-source", nil).
		AddSinkWithCaps(nil, pipeline.SinkCaps{Width: 4, Height: 2}).
		Finalize()
	require.NoError(t, err)

	mock := clock.NewMock()
	policy := gstcapture.NewBackoffRestartPolicy(gstcapture.BackoffConfig{MaxRetries: 2, RetryDelay: time.Second})
	c := gstcapture.New(stream.NewBuilder(gen, nil), policy, gstcapture.WithClock(mock))

	errc := runAsync(c)
	select {
	case err := <-errc:
		t.Fatalf("Run returned before the backoff elapsed: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	stopClock := advance(mock, time.Second)
	err = waitRun(t, errc)
	stopClock()

	var buildErr *gstcapture.BuildError
	require.ErrorAs(t, err, &buildErr)
	require.Equal(t, 3, policy.Retries())
}

func TestCapture_StopDuringBackoff(t *testing.T) {
	eng := enginetest.New()
	gen, err := pipeline.NewBuilder(eng).
		Add("dummy-source", nil).
		AddSinkWithCaps(nil, pipeline.SinkCaps{Width: 4, Height: 2}).
		Finalize()
	require.NoError(t, err)

	c := gstcapture.New(stream.NewBuilder(gen, nil),
		gstcapture.NewBackoffRestartPolicy(gstcapture.BackoffConfig{RetryDelay: time.Hour}),
		gstcapture.WithClock(clock.NewMock()),
	)
	errc := runAsync(c)
	require.Eventually(t, func() bool { return c.Stats().RestartsBuildError == 1 }, 2*time.Second, time.Millisecond)

	c.Stop()
	require.NoError(t, waitRun(t, errc))
}

func TestCapture_ContextCancel(t *testing.T) {
	b, eng := silentBuilder(t, nil)
	c := gstcapture.New(b, &recordingPolicy{}, gstcapture.WithPollTimeout(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()
	waitPlaying(t, eng, 1)

	cancel()
	require.ErrorIs(t, waitRun(t, errc), context.Canceled)
	require.Equal(t, engine.StateNull, eng.LastPipeline().State())
}

func TestCapture_RunTwice(t *testing.T) {
	b, eng := silentBuilder(t, nil)
	c := gstcapture.New(b, &recordingPolicy{}, gstcapture.WithPollTimeout(10*time.Millisecond))

	errc := runAsync(c)
	waitPlaying(t, eng, 1)
	require.True(t, c.IsRunning())
	require.ErrorIs(t, c.Run(context.Background()), gstcapture.ErrAlreadyRunning)

	c.Stop()
	require.NoError(t, waitRun(t, errc))
}

func scrapeMetrics(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestCapture_LatestOutletAndDrops(t *testing.T) {
	b, eng := silentBuilder(t, nil)
	m := metrics.New()
	c := gstcapture.New(b, &recordingPolicy{},
		gstcapture.WithPollTimeout(10*time.Millisecond),
		gstcapture.WithMetrics(m),
		gstcapture.WithSourceName("cam"),
	)

	full := make(chan gstcapture.Frame)
	require.NoError(t, c.Connect("full", full))
	latest, err := c.ConnectLatest("latest")
	require.NoError(t, err)

	errc := runAsync(c)
	p := waitPlaying(t, eng, 1)
	for i := byte(1); i <= 3; i++ {
		p.Sink().Push(enginetest.NewSample("RGB", 4, 2, make([]byte, 24)))
		require.Eventually(t, func() bool { return c.Stats().FramesCaptured == uint64(i) }, 2*time.Second, time.Millisecond)
	}

	f, ok := latest.TryReceive()
	require.True(t, ok)
	require.EqualValues(t, 3, f.Seq)

	c.Stop()
	require.NoError(t, waitRun(t, errc))

	st := c.Stats()
	require.Equal(t, gstcapture.OutletStats{Dropped: 3, DropRate: 100}, st.Outlets["full"])

	// Frames 1 and 2 were overwritten before anyone read them.
	lt := st.Outlets["latest"]
	require.EqualValues(t, 1, lt.Sent)
	require.EqualValues(t, 2, lt.Dropped)
	require.InDelta(t, 200.0/3, lt.DropRate, 1e-9)

	body := scrapeMetrics(t, m)
	require.Contains(t, body, `gstcapture_outlet_dropped_total{outlet="latest",source="cam"} 2`)
	require.Contains(t, body, `gstcapture_outlet_dropped_total{outlet="full",source="cam"} 3`)

	require.NoError(t, c.Disconnect("full"))
	require.Error(t, c.Disconnect("full"))
}

func TestCapture_FPSGaugeFollowsFrames(t *testing.T) {
	b, eng := silentBuilder(t, nil)
	m := metrics.New()
	c := gstcapture.New(b, &recordingPolicy{},
		gstcapture.WithPollTimeout(10*time.Millisecond),
		gstcapture.WithMetrics(m),
		gstcapture.WithSourceName("cam"),
	)

	errc := runAsync(c)
	p := waitPlaying(t, eng, 1)
	for i := uint64(1); i <= 3; i++ {
		time.Sleep(5 * time.Millisecond)
		p.Sink().Push(enginetest.NewSample("RGB", 4, 2, make([]byte, 24)))
		require.Eventually(t, func() bool {
			return strings.Contains(scrapeMetrics(t, m), fmt.Sprintf(`gstcapture_frames_captured_total{source="cam"} %d`, i))
		}, 2*time.Second, time.Millisecond)
	}

	// The gauge is set by the capture loop; Stats is never called here.
	body := scrapeMetrics(t, m)
	require.Contains(t, body, `gstcapture_fps{source="cam"} `)
	require.NotContains(t, body, "gstcapture_fps{source=\"cam\"} 0\n")

	c.Stop()
	require.NoError(t, waitRun(t, errc))
}

func TestCapture_StopBeforeRun(t *testing.T) {
	b, eng := silentBuilder(t, nil)
	c := gstcapture.New(b, &recordingPolicy{}, gstcapture.WithPollTimeout(10*time.Millisecond))

	c.Stop()
	c.Stop()
	require.NoError(t, waitRun(t, runAsync(c)))
	require.Empty(t, eng.Pipelines(), "a stopped capture must not build a pipeline")

	// The stop was consumed; the next Run captures normally.
	errc := runAsync(c)
	waitPlaying(t, eng, 1)
	require.True(t, c.IsRunning())
	c.Stop()
	require.NoError(t, waitRun(t, errc))
}

func TestNew_Panics(t *testing.T) {
	b, _ := silentBuilder(t, nil)
	require.Panics(t, func() { gstcapture.New(nil, &recordingPolicy{}) })
	require.Panics(t, func() { gstcapture.New(b, nil) })
}
