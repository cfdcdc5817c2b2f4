// Package capture owns the microphone and camera for a live session.
//
// An Opener acquires the devices up front so permission and availability
// failures surface before any connection is made. The returned Handles are
// driven by a Manager, which delivers fixed-size audio windows on the
// device's cadence and camera snapshots on an independent timer.
package capture

import (
	"context"
	"fmt"
	"time"
)

// Defaults for Config.
const (
	DefaultSampleRate = 16000
	DefaultChannels   = 1
	DefaultWindowSize = 2048 // 128ms at 16kHz
	DefaultTargetFPS  = 1.0
	DefaultMaxFPS     = 2.0
	DefaultWidth      = 640
	DefaultHeight     = 480
)

// Config describes the capture devices a session needs.
type Config struct {
	SampleRate int `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels   int `mapstructure:"channels" yaml:"channels"`

	// WindowSize is the number of samples per delivered audio window.
	WindowSize int `mapstructure:"window_size" yaml:"window_size"`

	// EchoCancellation and NoiseSuppression request platform voice
	// processing. Backends without it log the request and continue.
	EchoCancellation bool `mapstructure:"echo_cancellation" yaml:"echo_cancellation"`
	NoiseSuppression bool `mapstructure:"noise_suppression" yaml:"noise_suppression"`

	// InputDevice selects a microphone by name. Empty means the system default.
	InputDevice string `mapstructure:"input_device" yaml:"input_device"`

	Video VideoConfig `mapstructure:"video" yaml:"video"`
}

// VideoConfig describes the camera snapshot stream.
type VideoConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// TargetFPS is the snapshot timer rate.
	TargetFPS float64 `mapstructure:"target_fps" yaml:"target_fps"`

	// MaxFPS caps the snapshot rate regardless of timer jitter.
	MaxFPS float64 `mapstructure:"max_fps" yaml:"max_fps"`

	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`

	// DeviceIndex selects the camera. 0 is the platform default.
	DeviceIndex int `mapstructure:"device_index" yaml:"device_index"`
}

// DefaultConfig returns the capture settings used for voice consultations.
func DefaultConfig() Config {
	return Config{
		SampleRate:       DefaultSampleRate,
		Channels:         DefaultChannels,
		WindowSize:       DefaultWindowSize,
		EchoCancellation: true,
		NoiseSuppression: true,
		Video: VideoConfig{
			TargetFPS: DefaultTargetFPS,
			MaxFPS:    DefaultMaxFPS,
			Width:     DefaultWidth,
			Height:    DefaultHeight,
		},
	}
}

// Validate checks the configuration for values no backend can honor.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("capture sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels != 1 {
		return fmt.Errorf("capture channels must be 1 (mono), got %d", c.Channels)
	}
	if c.WindowSize <= 0 {
		return fmt.Errorf("capture window_size must be positive, got %d", c.WindowSize)
	}
	if !c.Video.Enabled {
		return nil
	}
	if c.Video.TargetFPS <= 0 {
		return fmt.Errorf("video target_fps must be positive, got %v", c.Video.TargetFPS)
	}
	if c.Video.MaxFPS < c.Video.TargetFPS {
		return fmt.Errorf("video max_fps (%v) must be >= target_fps (%v)", c.Video.MaxFPS, c.Video.TargetFPS)
	}
	if c.Video.Width <= 0 || c.Video.Height <= 0 {
		return fmt.Errorf("video resolution must be positive, got %dx%d", c.Video.Width, c.Video.Height)
	}
	return nil
}

// WindowDuration returns the play time of one audio window.
func (c *Config) WindowDuration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.WindowSize) * time.Second / time.Duration(c.SampleRate)
}

// VideoFrame is one compressed camera snapshot.
type VideoFrame struct {
	Data       []byte
	MIMEType   string
	Width      int
	Height     int
	CapturedAt time.Time
}

// AudioSource delivers windows of normalized mono samples. Read blocks for
// at most one window.
type AudioSource interface {
	Read(ctx context.Context) ([]float32, error)
	Name() string
	Close() error
}

// VideoSource takes one snapshot per call.
type VideoSource interface {
	Snapshot(ctx context.Context) (*VideoFrame, error)
	Name() string
	Close() error
}

// Handles are the acquired devices. Video is nil when video is disabled.
type Handles struct {
	Audio AudioSource
	Video VideoSource
}

// Opener acquires capture devices. Failures are returned as *DeviceError and
// nothing is left held.
type Opener interface {
	Open(ctx context.Context, cfg Config) (*Handles, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, cfg Config) (*Handles, error)

// Open implements Opener.
func (f OpenerFunc) Open(ctx context.Context, cfg Config) (*Handles, error) {
	return f(ctx, cfg)
}
