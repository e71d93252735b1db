package stream_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Idein/actfw-gstreamer/converter"
	"github.com/Idein/actfw-gstreamer/engine"
	"github.com/Idein/actfw-gstreamer/engine/enginetest"
	"github.com/Idein/actfw-gstreamer/pipeline"
	"github.com/Idein/actfw-gstreamer/stream"
)

// silentSource is a source that plays but never pushes, so tests feed the
// sink by hand.
var silentSource = enginetest.Factory{
	Type:       "GstSilentSrc",
	Properties: enginetest.Props(nil),
	Source:     true,
	Silent:     true,
}

func newEngine() *enginetest.Engine {
	eng := enginetest.New()
	eng.Register("silentsrc", silentSource)
	return eng
}

func silentGenerator(t *testing.T, eng *enginetest.Engine) *pipeline.Generator {
	t.Helper()
	gen, err := pipeline.NewBuilder(eng).
		Add("silentsrc", nil).
		AddSinkWithCaps(nil, pipeline.SinkCaps{Width: 4, Height: 2}).
		Finalize()
	require.NoError(t, err)
	return gen
}

func openStream(t *testing.T, conv converter.Converter) (*stream.Stream, *enginetest.Pipeline) {
	t.Helper()
	eng := newEngine()
	s, err := stream.NewBuilder(silentGenerator(t, eng), conv).Open()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, eng.LastPipeline()
}

func sample(fill byte) *enginetest.Sample {
	data := make([]byte, 4*2*3)
	for i := range data {
		data[i] = fill
	}
	return enginetest.NewSample("RGB", 4, 2, data)
}

func TestStream_CaptureTimeout(t *testing.T) {
	s, _ := openStream(t, nil)

	for _, timeout := range []time.Duration{0, 20 * time.Millisecond, 50 * time.Millisecond} {
		start := time.Now()
		v, ok, err := s.Capture(timeout)
		elapsed := time.Since(start)

		require.NoError(t, err)
		require.False(t, ok)
		require.Nil(t, v)
		require.GreaterOrEqual(t, elapsed, timeout, "capture returned before its timeout")
	}
}

func TestStream_CaptureSample(t *testing.T) {
	s, p := openStream(t, nil)

	p.Sink().Push(sample(7))

	v, ok, err := s.Capture(time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, sample(7).Data, v)
}

func TestStream_NotificationsCoalesce(t *testing.T) {
	s, p := openStream(t, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 1; i <= 3; i++ {
			p.Sink().Push(sample(byte(i)))
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("new-sample notification blocked on a full queue")
	}
	require.Equal(t, uint64(2), s.Coalesced())

	// One token, newest sample.
	v, ok, err := s.Capture(time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, byte(3), v.([]byte)[0])

	_, ok, err = s.Capture(20 * time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStream_NotifiedButAlreadyPulled(t *testing.T) {
	s, p := openStream(t, nil)

	p.Sink().Push(sample(1))
	p.Sink().Drain()

	start := time.Now()
	v, ok, err := s.Capture(time.Second)
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, v)
	require.Less(t, time.Since(start), time.Second, "a pending token must wake capture")
	require.True(t, s.IsRunning())
}

func TestStream_StopIsIdempotent(t *testing.T) {
	s, p := openStream(t, nil)
	require.True(t, s.IsRunning())
	require.Equal(t, engine.StatePlaying, p.State())
	require.Equal(t, 1, p.FakeBus().Subscribers())

	require.NoError(t, s.Stop())
	require.False(t, s.IsRunning())
	require.Equal(t, engine.StateNull, p.State())
	require.Equal(t, 0, p.FakeBus().Subscribers())

	require.NoError(t, s.Stop())
	require.False(t, s.IsRunning())

	require.ErrorIs(t, s.Start(), stream.ErrStopped)
}

func TestStream_EndOfStreamStops(t *testing.T) {
	s, p := openStream(t, nil)

	p.PostEOS()

	v, ok, err := s.Capture(time.Second)
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, v)
	require.False(t, s.IsRunning())
	require.Equal(t, engine.StateNull, p.State())
}

func TestStream_EngineError(t *testing.T) {
	s, p := openStream(t, nil)

	p.PostError("rtspsrc0", "Could not read from resource.", "gstrtspsrc.c(5917): gst_rtspsrc_loop_udp ()")

	_, ok, err := s.Capture(time.Second)
	require.False(t, ok)

	var ee *stream.EngineError
	require.ErrorAs(t, err, &ee)
	require.Equal(t, "rtspsrc0", ee.Source)
	require.Equal(t, "Could not read from resource.", ee.Message)
	require.Contains(t, ee.Debug, "gst_rtspsrc_loop_udp")
	require.Contains(t, err.Error(), "rtspsrc0")
}

func TestStream_BusMessagesAreNotDropped(t *testing.T) {
	s, p := openStream(t, nil)

	p.Sink().Push(sample(1))

	posted := make(chan struct{})
	go func() {
		defer close(posted)
		p.PostError("src", "boom", "")
	}()

	select {
	case <-posted:
		t.Fatal("bus message was enqueued although the slot was full")
	case <-time.After(50 * time.Millisecond):
	}

	_, ok, err := s.Capture(time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, _, err = s.Capture(time.Second)
	var ee *stream.EngineError
	require.ErrorAs(t, err, &ee)
	<-posted
}

func TestStream_StopReleasesBlockedBusSender(t *testing.T) {
	s, p := openStream(t, nil)

	p.Sink().Push(sample(1))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.PostError("src", "boom", "")
	}()
	time.Sleep(20 * time.Millisecond)

	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop() }()

	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop deadlocked with a bus sender blocked on the queue")
	}
	wg.Wait()
}

func TestStream_UnknownMessagePanics(t *testing.T) {
	s, p := openStream(t, nil)

	p.FakeBus().Post(engine.Message{Type: engine.MessageUnknown, Source: "src"})

	require.Panics(t, func() { _, _, _ = s.Capture(time.Second) })
}

func TestStream_ConverterErrorIsReturned(t *testing.T) {
	s, p := openStream(t, converter.Image{})

	p.Sink().Push(enginetest.NewSample("I420", 4, 2, make([]byte, 12)))

	_, ok, err := s.Capture(time.Second)
	require.False(t, ok)
	require.ErrorIs(t, err, converter.ErrUnknownFormat)
	require.True(t, s.IsRunning(), "converter errors do not stop the stream")
}

func TestStream_StartFailure(t *testing.T) {
	eng := newEngine()
	eng.Register("brokensrc", enginetest.Factory{
		Type: "GstBrokenSrc", Properties: enginetest.Props(nil), Source: true, FailPlaying: true,
	})
	gen, err := pipeline.NewBuilder(eng).
		Add("brokensrc", nil).
		AddSinkWithCaps(nil, pipeline.SinkCaps{Width: 4, Height: 2}).
		Finalize()
	require.NoError(t, err)

	s, err := stream.NewBuilder(gen, nil).Open()
	require.Nil(t, s)

	var be *pipeline.BuildError
	require.ErrorAs(t, err, &be)
	require.Equal(t, pipeline.OpSetState, be.Op)

	p := eng.LastPipeline()
	require.Equal(t, engine.StateNull, p.State())
	require.Equal(t, 0, p.FakeBus().Subscribers())
}

func TestStream_UnreachableRTSP(t *testing.T) {
	eng := newEngine()
	gen, err := pipeline.RTSPH264(eng, pipeline.RTSPConfig{
		Location: "rtsp://nowhere/stream",
		Decoder:  pipeline.DecoderV4L2,
		Caps:     pipeline.SinkCaps{Width: 640, Height: 480},
	})
	require.NoError(t, err)

	_, err = stream.NewBuilder(gen, nil).Open()
	require.ErrorContains(t, err, "Could not open resource")
}

func TestStream_StartStreamingDoesNotStart(t *testing.T) {
	eng := newEngine()
	s, err := stream.NewBuilder(silentGenerator(t, eng), nil).StartStreaming()
	require.NoError(t, err)

	p := eng.LastPipeline()
	require.False(t, s.IsRunning())
	require.Equal(t, engine.StateNull, p.State())
	require.Equal(t, 1, p.FakeBus().Subscribers())

	require.NoError(t, s.Close())
	require.Equal(t, 0, p.FakeBus().Subscribers())
	require.ErrorIs(t, s.Start(), stream.ErrStopped)
}

func TestStream_VideoTestSrcFrames(t *testing.T) {
	eng := enginetest.New()
	gen, err := pipeline.VideoTestSrc(eng, "smpte", pipeline.SinkCaps{Width: 64, Height: 48, Framerate: 100})
	require.NoError(t, err)

	s, err := stream.NewBuilder(gen, converter.Raw{}).Open()
	require.NoError(t, err)
	defer s.Close()

	frames := 0
	deadline := time.Now().Add(5 * time.Second)
	for frames < 5 && time.Now().Before(deadline) {
		v, ok, err := s.Capture(time.Second)
		require.NoError(t, err)
		if !ok {
			continue
		}
		require.Len(t, v.([]byte), 64*48*3)
		frames++
	}
	require.Equal(t, 5, frames)
}

func TestStream_NilGeneratorPanics(t *testing.T) {
	require.Panics(t, func() { stream.NewBuilder(nil, nil) })
}
