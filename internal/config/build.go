package config

import (
	"fmt"

	gstcapture "github.com/Idein/actfw-gstreamer"
	"github.com/Idein/actfw-gstreamer/converter"
	"github.com/Idein/actfw-gstreamer/engine"
	"github.com/Idein/actfw-gstreamer/pipeline"
)

// SinkCaps returns the sink caps.
func (c *Config) SinkCaps() pipeline.SinkCaps {
	return pipeline.SinkCaps{Width: c.Caps.Width, Height: c.Caps.Height, Framerate: c.Caps.Framerate}
}

// Generator builds the pipeline generator described by the source section.
func (c *Config) Generator(eng engine.Engine) (*pipeline.Generator, error) {
	switch c.Source.Type {
	case SourceVideoTestSrc, "":
		return pipeline.VideoTestSrc(eng, c.Source.Pattern, c.SinkCaps())
	case SourceRTSP:
		return pipeline.RTSPH264(eng, pipeline.RTSPConfig{
			Proxy:     c.Source.Proxy,
			Location:  c.Source.Location,
			Protocols: c.Source.Protocols,
			Decoder:   pipeline.Decoder(c.Source.Decoder),
			Caps:      c.SinkCaps(),
		})
	case SourceElements:
		var opts []pipeline.BuilderOption
		if c.Source.ForceFormat != "" {
			f, err := pipeline.ParseFormat(c.Source.ForceFormat)
			if err != nil {
				return nil, err
			}
			opts = append(opts, pipeline.WithForceFormat(f))
		}
		b := pipeline.NewBuilder(eng, opts...)
		for _, e := range c.Source.Elements {
			if e.Factory == "" {
				b.AddCapsFilter(e.Caps)
				continue
			}
			props, err := toProps(e.Props)
			if err != nil {
				return nil, err
			}
			b.Add(e.Factory, props)
			if e.Caps != "" {
				b.AddCapsFilter(e.Caps)
			}
		}
		return b.AddSinkWithCaps(pipeline.SinkProps(), c.SinkCaps()).Finalize()
	default:
		return nil, fmt.Errorf("config: unknown source type %q", c.Source.Type)
	}
}

// NewConverter returns the configured converter.
func (c *Config) NewConverter() converter.Converter {
	if c.Converter == "image" {
		return converter.Image{}
	}
	return converter.Raw{}
}

// RestartPolicy returns the configured restart policy.
func (c *Config) RestartPolicy() gstcapture.RestartPolicy {
	r := c.Restart
	if r.Policy == "backoff" {
		return gstcapture.NewBackoffRestartPolicy(gstcapture.BackoffConfig{
			ConnectionLostThreshold: r.ConnectionLostThreshold,
			MaxRetries:              r.MaxRetries,
			RetryDelay:              r.RetryDelay,
			MaxRetryDelay:           r.MaxRetryDelay,
		})
	}
	return gstcapture.NewSimpleRestartPolicy(r.ConnectionLostThreshold, r.MaxErrors)
}

// CaptureOptions returns the capture options derived from the configuration.
func (c *Config) CaptureOptions() []gstcapture.Option {
	return []gstcapture.Option{
		gstcapture.WithSourceName(c.Capture.Name),
		gstcapture.WithPollTimeout(c.Capture.PollTimeout),
	}
}

// toProps converts YAML scalars to engine values.
func toProps(m map[string]any) (engine.Props, error) {
	if len(m) == 0 {
		return nil, nil
	}
	props := make(engine.Props, len(m))
	for k, v := range m {
		switch v := v.(type) {
		case int:
			props[k] = engine.Int(v)
		case int64:
			props[k] = engine.Int(v)
		case uint64:
			props[k] = engine.Int(int64(v))
		case float64:
			props[k] = engine.Float(v)
		case bool:
			props[k] = engine.Bool(v)
		case string:
			props[k] = engine.String(v)
		default:
			return nil, fmt.Errorf("property %q: unsupported value %v (%T)", k, v, v)
		}
	}
	return props, nil
}
