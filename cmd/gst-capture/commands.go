package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Idein/actfw-gstreamer/internal/config"
)

func newRootCommand() *cobra.Command {
	var debug bool

	root := &cobra.Command{
		Use:           "gst-capture",
		Short:         "Capture frames from a GStreamer pipeline",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logLevel := slog.LevelInfo
			if debug {
				logLevel = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
				Level: logLevel,
			}))
			slog.SetDefault(logger)
		},
	}

	root.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	root.PersistentFlags().String("config", "", "YAML configuration file (flags override its values)")
	addSourceFlags(root.PersistentFlags())

	root.AddCommand(newRunCommand(), newInspectCommand())
	return root
}

func addSourceFlags(fs *pflag.FlagSet) {
	fs.String("source", config.SourceVideoTestSrc, "Source type: videotestsrc, rtsp, elements (config file only)")
	fs.String("pattern", "", "videotestsrc pattern, e.g. smpte, ball")
	fs.String("location", "", "RTSP stream URL")
	fs.String("proxy", "", "RTSP proxy URL")
	fs.String("protocols", "", "RTSP lower transports, e.g. tcp or udp+tcp")
	fs.String("decoder", "", "H.264 decoder: v4l2, omx, libav")
	fs.Int("width", 0, "Sink width in pixels")
	fs.Int("height", 0, "Sink height in pixels")
	fs.Int("fps", 0, "Sink framerate (0 leaves it open)")
	fs.String("converter", "", "Converter: raw, image")
	fs.String("name", "", "Source name used in frames, logs and metrics")
}

// loadConfig reads --config, or the defaults, and applies every flag the user
// set explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()

	cfg := config.Default()
	if path, _ := flags.GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	str := func(name string, dst *string) {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	num := func(name string, dst *int) {
		if flags.Changed(name) {
			*dst, _ = flags.GetInt(name)
		}
	}
	dur := func(name string, dst *time.Duration) {
		if flags.Changed(name) {
			*dst, _ = flags.GetDuration(name)
		}
	}

	str("source", &cfg.Source.Type)
	str("pattern", &cfg.Source.Pattern)
	str("location", &cfg.Source.Location)
	str("proxy", &cfg.Source.Proxy)
	str("protocols", &cfg.Source.Protocols)
	str("decoder", &cfg.Source.Decoder)
	num("width", &cfg.Caps.Width)
	num("height", &cfg.Caps.Height)
	num("fps", &cfg.Caps.Framerate)
	str("converter", &cfg.Converter)
	str("name", &cfg.Capture.Name)

	if flags.Lookup("policy") != nil {
		str("policy", &cfg.Restart.Policy)
		dur("threshold", &cfg.Restart.ConnectionLostThreshold)
		num("max-errors", &cfg.Restart.MaxErrors)
		num("max-retries", &cfg.Restart.MaxRetries)
		dur("poll-timeout", &cfg.Capture.PollTimeout)
		str("output", &cfg.Output.Dir)
		str("format", &cfg.Output.Format)
		num("every", &cfg.Output.Every)
		num("max-frames", &cfg.Output.MaxFrames)
		str("metrics-addr", &cfg.Metrics.Addr)
		dur("stats-interval", &cfg.Metrics.StatsInterval)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
