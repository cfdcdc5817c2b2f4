package playback

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrBackendUnavailable is returned by output backends compiled without device support.
var ErrBackendUnavailable = errors.New("audio output backend not available in this build")

// OutputDevice renders float samples. Play blocks until the samples have been
// submitted to the hardware or ctx is canceled, in which case it stops
// immediately without draining.
type OutputDevice interface {
	Play(ctx context.Context, samples []float32) error
	Name() string
	Close() error
}

// OutputOpener acquires an output device for the given sample rate.
type OutputOpener interface {
	OpenOutput(ctx context.Context, sampleRate int) (OutputDevice, error)
}

// OutputOpenerFunc adapts a function to OutputOpener.
type OutputOpenerFunc func(ctx context.Context, sampleRate int) (OutputDevice, error)

// OpenOutput implements OutputOpener.
func (f OutputOpenerFunc) OpenOutput(ctx context.Context, sampleRate int) (OutputDevice, error) {
	return f(ctx, sampleRate)
}

// DeviceInfo describes an output device candidate.
type DeviceInfo struct {
	Name              string
	MaxOutputChannels int
	IsDefault         bool
}

// peripheralKeywords mark devices routed to a worn or hands-free peripheral.
var peripheralKeywords = []string{"bluetooth", "headset", "hands-free", "handsfree"}

// SelectOutput picks the device to render speech on: a non-default output
// whose name names a hands-free, headset, or Bluetooth peripheral, otherwise
// the default output. ok is false when no output device exists at all.
func SelectOutput(devices []DeviceInfo) (DeviceInfo, bool) {
	var fallback *DeviceInfo
	for i := range devices {
		d := devices[i]
		if d.MaxOutputChannels < 1 {
			continue
		}
		if d.IsDefault {
			if fallback == nil || !fallback.IsDefault {
				fallback = &devices[i]
			}
			continue
		}
		if isPeripheral(d.Name) {
			return d, true
		}
		if fallback == nil {
			fallback = &devices[i]
		}
	}
	if fallback == nil {
		return DeviceInfo{}, false
	}
	return *fallback, true
}

func isPeripheral(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range peripheralKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// PlaybackError is an output device failure. It is absorbed by the queue:
// the failed unit is dropped and later segments may play.
type PlaybackError struct {
	// Op is "open", "play", or "close".
	Op string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *PlaybackError) Error() string {
	return fmt.Sprintf("playback %s failed: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying error.
func (e *PlaybackError) Unwrap() error {
	return e.Cause
}
