// Package config loads client settings from YAML, the environment, and .env
// files.
//
// Precedence, highest first: bound command-line flags, AEGIS_* environment
// variables (a .env file in the working directory is loaded into the
// environment first), the YAML config file, and Default.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/Nathan-Asif/AegisMedix/audio"
	"github.com/Nathan-Asif/AegisMedix/capture"
	"github.com/Nathan-Asif/AegisMedix/logger"
	"github.com/Nathan-Asif/AegisMedix/playback"
	"github.com/Nathan-Asif/AegisMedix/transport"
)

// Defaults not owned by another package.
const (
	DefaultEndpoint          = "ws://localhost:8000/ws/live-session"
	DefaultAPIBaseURL        = "http://localhost:8000"
	DefaultDialTimeout       = 10 * time.Second
	DefaultWriteWait         = 10 * time.Second
	DefaultMaxMessageSize    = 16 << 20
	DefaultSummaryWindow     = 45 * time.Second
	DefaultSummaryInterval   = 3 * time.Second
	DefaultSummaryStaleness  = 5 * time.Minute
	DefaultSummaryReqTimeout = 10 * time.Second
	DefaultServiceName       = "aegislive"
)

// Config is the complete client configuration.
type Config struct {
	// SubjectID scopes the session (the patient the consultation is for).
	SubjectID string `mapstructure:"subject_id" yaml:"subject_id"`

	Transport TransportConfig `mapstructure:"transport" yaml:"transport"`
	Capture   capture.Config  `mapstructure:"capture" yaml:"capture"`
	Audio     AudioConfig     `mapstructure:"audio" yaml:"audio"`
	Playback  PlaybackConfig  `mapstructure:"playback" yaml:"playback"`
	Summary   SummaryConfig   `mapstructure:"summary" yaml:"summary"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Tracing   TracingConfig   `mapstructure:"tracing" yaml:"tracing"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

// TransportConfig configures the connection to the inference peer.
type TransportConfig struct {
	Endpoint           string        `mapstructure:"endpoint" yaml:"endpoint"`
	SubjectParam       string        `mapstructure:"subject_param" yaml:"subject_param"`
	DialTimeout        time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	WriteWait          time.Duration `mapstructure:"write_wait" yaml:"write_wait"`
	HeartbeatInterval  time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	MaxMessageSize     int64         `mapstructure:"max_message_size" yaml:"max_message_size"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
}

// AudioConfig tunes the outbound encoder.
type AudioConfig struct {
	// GateThreshold is the RMS below which a window is sent as silence.
	GateThreshold float64 `mapstructure:"gate_threshold" yaml:"gate_threshold"`
}

// PlaybackConfig tunes the inbound playback queue.
type PlaybackConfig struct {
	SampleRate int           `mapstructure:"sample_rate" yaml:"sample_rate"`
	Debounce   time.Duration `mapstructure:"debounce" yaml:"debounce"`

	// OutputDevice pins an output by name. Empty selects automatically.
	OutputDevice string `mapstructure:"output_device" yaml:"output_device"`
}

// SummaryConfig configures the fallback lookup of the persisted summary.
type SummaryConfig struct {
	Enabled        bool          `mapstructure:"enabled" yaml:"enabled"`
	APIBaseURL     string        `mapstructure:"api_base_url" yaml:"api_base_url"`
	Window         time.Duration `mapstructure:"window" yaml:"window"`
	Interval       time.Duration `mapstructure:"interval" yaml:"interval"`
	Staleness      time.Duration `mapstructure:"staleness" yaml:"staleness"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// MetricsConfig configures the Prometheus exporter. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// TracingConfig configures OTLP trace export. An empty Endpoint disables it.
type TracingConfig struct {
	Endpoint    string `mapstructure:"endpoint" yaml:"endpoint"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Transport: TransportConfig{
			Endpoint:       DefaultEndpoint,
			SubjectParam:   transport.DefaultSubjectParam,
			DialTimeout:    DefaultDialTimeout,
			WriteWait:      DefaultWriteWait,
			MaxMessageSize: DefaultMaxMessageSize,
		},
		Capture: capture.DefaultConfig(),
		Audio: AudioConfig{
			GateThreshold: audio.DefaultGateThreshold,
		},
		Playback: PlaybackConfig{
			SampleRate: playback.DefaultSampleRate,
			Debounce:   playback.DefaultDebounce,
		},
		Summary: SummaryConfig{
			Enabled:        true,
			APIBaseURL:     DefaultAPIBaseURL,
			Window:         DefaultSummaryWindow,
			Interval:       DefaultSummaryInterval,
			Staleness:      DefaultSummaryStaleness,
			RequestTimeout: DefaultSummaryReqTimeout,
		},
		Tracing: TracingConfig{
			ServiceName: DefaultServiceName,
		},
		Log: LogConfig{
			Level:  "info",
			Format: logger.FormatText,
		},
	}
}

// Validate checks values that would make a session fail in confusing ways.
// SubjectID is not checked here; the run command requires it separately so
// "config init" and "devices" work without one.
func (c *Config) Validate() error {
	var errs []error
	if c.Transport.Endpoint == "" {
		errs = append(errs, errors.New("transport.endpoint is required"))
	}
	if c.Transport.DialTimeout < 0 || c.Transport.WriteWait < 0 || c.Transport.HeartbeatInterval < 0 {
		errs = append(errs, errors.New("transport timeouts must not be negative"))
	}
	if err := c.Capture.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("capture: %w", err))
	}
	if c.Audio.GateThreshold < 0 || c.Audio.GateThreshold >= 1 {
		errs = append(errs, fmt.Errorf("audio.gate_threshold %v out of range [0,1)", c.Audio.GateThreshold))
	}
	if c.Playback.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("playback.sample_rate %d must be positive", c.Playback.SampleRate))
	}
	if c.Playback.Debounce < 0 {
		errs = append(errs, errors.New("playback.debounce must not be negative"))
	}
	if c.Summary.Enabled {
		if c.Summary.APIBaseURL == "" {
			errs = append(errs, errors.New("summary.api_base_url is required when summary is enabled"))
		}
		if c.Summary.Interval <= 0 || c.Summary.Window < c.Summary.Interval {
			errs = append(errs, errors.New("summary.window must be at least one positive summary.interval"))
		}
	}
	if c.Log.Format != logger.FormatText && c.Log.Format != logger.FormatJSON {
		errs = append(errs, fmt.Errorf("log.format %q: want text or json", c.Log.Format))
	}
	return errors.Join(errs...)
}
