package capture

import (
	"context"
	"errors"

	"github.com/Nathan-Asif/AegisMedix/logger"
)

// SystemOpener acquires the local microphone (PortAudio) and, when video is
// enabled, the camera (ffmpeg).
type SystemOpener struct{}

// Open implements Opener. The microphone is opened first; if the camera then
// fails the microphone is released before returning.
func (SystemOpener) Open(ctx context.Context, cfg Config) (*Handles, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &DeviceError{Device: DeviceAudio, Op: "open", Cause: err}
	}

	mic, err := openMicrophone(cfg)
	if err != nil {
		return nil, asOpenError(DeviceAudio, err)
	}
	logger.Info("microphone acquired", "component", "capture",
		"device", mic.Name(), "sample_rate", cfg.SampleRate, "window", cfg.WindowSize)

	handles := &Handles{Audio: mic}
	if !cfg.Video.Enabled {
		return handles, nil
	}

	cam, err := OpenWebcam(ctx, cfg.Video)
	if err != nil {
		_ = mic.Close()
		return nil, asOpenError(DeviceVideo, err)
	}
	logger.Info("camera acquired", "component", "capture",
		"device", cam.Name(), "width", cfg.Video.Width, "height", cfg.Video.Height)
	handles.Video = cam
	return handles, nil
}

func asOpenError(device string, err error) error {
	if dErr, ok := AsDeviceError(err); ok {
		return dErr
	}
	if errors.Is(err, ErrBackendUnavailable) {
		return &DeviceError{Device: device, Op: "open", Cause: err}
	}
	return &DeviceError{Device: device, Op: "open", Cause: classify(err)}
}
