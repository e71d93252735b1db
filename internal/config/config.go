// Package config loads the gst-capture configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Source types.
const (
	SourceVideoTestSrc = "videotestsrc"
	SourceRTSP         = "rtsp"
	SourceElements     = "elements"
)

// Config represents the complete gst-capture configuration
type Config struct {
	Source    SourceConfig  `yaml:"source"`
	Caps      CapsConfig    `yaml:"caps"`
	Converter string        `yaml:"converter"` // raw, image
	Restart   RestartConfig `yaml:"restart"`
	Capture   CaptureConfig `yaml:"capture"`
	Output    OutputConfig  `yaml:"output"`
	Metrics   MetricsConfig `yaml:"metrics"`
}

// SourceConfig selects and configures the pipeline source
type SourceConfig struct {
	Type string `yaml:"type"` // videotestsrc, rtsp, elements

	// videotestsrc
	Pattern string `yaml:"pattern"`

	// rtsp
	Location  string `yaml:"location"`
	Proxy     string `yaml:"proxy"`
	Protocols string `yaml:"protocols"` // e.g. tcp, udp+tcp
	Decoder   string `yaml:"decoder"`   // v4l2, omx, libav

	// elements: an arbitrary chain linked in order, ending in the sink
	Elements    []ElementConfig `yaml:"elements"`
	ForceFormat string          `yaml:"force_format"` // RGB, BGR, RGBx
}

// ElementConfig defines one element of an "elements" source. An entry with
// caps and no factory is a capsfilter.
type ElementConfig struct {
	Factory string         `yaml:"factory"`
	Props   map[string]any `yaml:"props"`
	Caps    string         `yaml:"caps"`
}

// CapsConfig contains the sink caps
type CapsConfig struct {
	Width     int `yaml:"width"`
	Height    int `yaml:"height"`
	Framerate int `yaml:"framerate"` // 0 leaves the rate open
}

// RestartConfig selects the restart policy
type RestartConfig struct {
	Policy                  string        `yaml:"policy"` // simple, backoff
	ConnectionLostThreshold time.Duration `yaml:"connection_lost_threshold"`
	MaxErrors               int           `yaml:"max_errors"`      // simple
	MaxRetries              int           `yaml:"max_retries"`     // backoff
	RetryDelay              time.Duration `yaml:"retry_delay"`     // backoff
	MaxRetryDelay           time.Duration `yaml:"max_retry_delay"` // backoff
}

// CaptureConfig contains capture loop settings
type CaptureConfig struct {
	Name        string        `yaml:"name"`
	PollTimeout time.Duration `yaml:"poll_timeout"`
}

// OutputConfig controls how captured frames are saved
type OutputConfig struct {
	Dir       string `yaml:"dir"`        // empty discards frames
	Format    string `yaml:"format"`     // png, jpeg, bmp, tiff
	Every     int    `yaml:"every"`      // save every n-th frame
	MaxFrames int    `yaml:"max_frames"` // stop after n frames, 0 runs forever
	Queue     int    `yaml:"queue"`      // saver outlet capacity
}

// MetricsConfig contains the Prometheus endpoint settings
type MetricsConfig struct {
	Addr          string        `yaml:"addr"` // empty disables the endpoint
	StatsInterval time.Duration `yaml:"stats_interval"`
}

// Default returns a configuration capturing a 640x480 test pattern. Validate
// fills in the remaining defaults.
func Default() *Config {
	return &Config{
		Source: SourceConfig{Type: SourceVideoTestSrc, Pattern: "smpte"},
		Caps:   CapsConfig{Width: 640, Height: 480, Framerate: 10},
	}
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates a YAML configuration
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}
