// Package gstcapture captures frames from a GStreamer pipeline and keeps the
// pipeline alive across failures.
//
// A Capture polls a stream built from a reusable pipeline generator, publishes
// every converted sample to its outlets without blocking, and rebuilds the
// pipeline from scratch whenever a RestartPolicy allows it.
//
// # Quick Start
//
//	eng := gstengine.Init(nil)
//
//	gen, err := pipeline.VideoTestSrc(eng, "smpte", pipeline.SinkCaps{Width: 640, Height: 480})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	c := gstcapture.New(
//	    stream.NewBuilder(gen, converter.Raw{}),
//	    gstcapture.NewSimpleRestartPolicy(10*time.Second, 5),
//	)
//
//	frames := make(chan gstcapture.Frame, 4)
//	_ = c.Connect("consumer", frames)
//
//	go func() {
//	    if err := c.Run(ctx); err != nil {
//	        log.Print(err)
//	    }
//	}()
//	for f := range frames {
//	    process(f.Value.([]byte))
//	}
//
// # Failure handling
//
//   - Build errors and bus errors go to RestartPolicy.OnPipelineBuildError.
//   - A stream that stopped (end of stream) or stayed silent longer than the
//     policy's threshold goes to RestartPolicy.OnConnectionLost.
//   - Converter errors end Run without consulting the policy.
//
// # Shutdown latency
//
// Stop is observed between two polls, so Run returns at most one poll timeout
// (1s by default) after Stop is called.
package gstcapture
