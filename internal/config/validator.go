package config

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/Idein/actfw-gstreamer/pipeline"
)

const (
	defaultPollTimeout   = time.Second
	defaultStatsInterval = 10 * time.Second
	defaultOutputFormat  = "png"
	defaultQueue         = 8
)

var outputFormats = map[string]bool{"png": true, "jpeg": true, "jpg": true, "bmp": true, "tiff": true}

// Validate checks the configuration and fills in defaults. Every problem is
// reported, not only the first.
func (c *Config) Validate() error {
	var errs *multierror.Error

	switch c.Source.Type {
	case "":
		c.Source.Type = SourceVideoTestSrc
	case SourceVideoTestSrc:
	case SourceRTSP:
		if c.Source.Location == "" {
			errs = multierror.Append(errs, fmt.Errorf("source.location is required for rtsp"))
		}
		if c.Source.Decoder == "" {
			c.Source.Decoder = string(pipeline.DecoderLibav)
		}
		if _, err := pipeline.Decoder(c.Source.Decoder).Factory(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("source.decoder: %w", err))
		}
		if c.Source.Protocols != "" {
			if _, err := pipeline.ParseProtocols(c.Source.Protocols); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("source.protocols: %w", err))
			}
		}
	case SourceElements:
		if len(c.Source.Elements) == 0 {
			errs = multierror.Append(errs, fmt.Errorf("source.elements must not be empty"))
		}
		for i, e := range c.Source.Elements {
			if e.Factory == "" && e.Caps == "" {
				errs = multierror.Append(errs, fmt.Errorf("source.elements[%d]: factory or caps is required", i))
			}
			if _, err := toProps(e.Props); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("source.elements[%d]: %w", i, err))
			}
		}
	default:
		errs = multierror.Append(errs, fmt.Errorf("source.type %q must be one of videotestsrc, rtsp, elements", c.Source.Type))
	}
	if c.Source.ForceFormat != "" {
		if _, err := pipeline.ParseFormat(c.Source.ForceFormat); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("source.force_format: %w", err))
		}
	}

	if c.Caps.Width <= 0 || c.Caps.Height <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("caps.width and caps.height must be > 0"))
	}
	if c.Caps.Framerate < 0 {
		errs = multierror.Append(errs, fmt.Errorf("caps.framerate must be >= 0"))
	}

	switch c.Converter {
	case "":
		c.Converter = "raw"
	case "raw", "image":
	default:
		errs = multierror.Append(errs, fmt.Errorf("converter %q must be raw or image", c.Converter))
	}

	switch c.Restart.Policy {
	case "":
		c.Restart.Policy = "simple"
	case "simple", "backoff":
	default:
		errs = multierror.Append(errs, fmt.Errorf("restart.policy %q must be simple or backoff", c.Restart.Policy))
	}
	if c.Restart.ConnectionLostThreshold < 0 {
		errs = multierror.Append(errs, fmt.Errorf("restart.connection_lost_threshold must be >= 0"))
	}
	if c.Restart.MaxErrors < 0 || c.Restart.MaxRetries < 0 {
		errs = multierror.Append(errs, fmt.Errorf("restart.max_errors and restart.max_retries must be >= 0"))
	}

	if c.Capture.Name == "" {
		c.Capture.Name = c.Source.Type
	}
	if c.Capture.PollTimeout <= 0 {
		c.Capture.PollTimeout = defaultPollTimeout
	}

	if c.Output.Format == "" {
		c.Output.Format = defaultOutputFormat
	}
	if !outputFormats[c.Output.Format] {
		errs = multierror.Append(errs, fmt.Errorf("output.format %q must be png, jpeg, bmp or tiff", c.Output.Format))
	}
	if c.Output.Every <= 0 {
		c.Output.Every = 1
	}
	if c.Output.MaxFrames < 0 {
		errs = multierror.Append(errs, fmt.Errorf("output.max_frames must be >= 0"))
	}
	if c.Output.Queue <= 0 {
		c.Output.Queue = defaultQueue
	}

	if c.Metrics.StatsInterval <= 0 {
		c.Metrics.StatsInterval = defaultStatsInterval
	}

	return errs.ErrorOrNil()
}
