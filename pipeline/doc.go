// Package pipeline assembles capture pipelines.
//
// A Builder records an ordered list of element specs ending in an appsink and
// fixes the sink caps. Finalize turns it into a Generator, which is immutable
// and materializes a fresh, independent pipeline on every Build call. This is
// what lets a capture task restart from scratch after a failure without
// touching the builder again.
//
// Elements are linked in the order they were added. An element that exposes
// its src pad only after negotiation (rtspsrc, decodebin) is linked from its
// pad-added callback. A failure of such a deferred link is logged at Warn and
// never surfaces as an error; the symptom is a pipeline that plays but never
// delivers a sample, which the capture task detects as a lost connection.
//
// # Preconfigured pipelines
//
//   - VideoTestSrc: videotestsrc ! videoscale ! appsink (RGB, 10 fps default)
//   - RTSPH264: rtspsrc ! rtph264depay ! h264parse ! decoder ! videorate !
//     videoconvert ! videoscale ! appsink, with the decoder chosen from
//     v4l2h264dec, omxh264dec or avdec_h264
package pipeline
