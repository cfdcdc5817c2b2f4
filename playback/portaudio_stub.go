//go:build !portaudio

package playback

import "context"

// PortAudioOpener is unavailable without the portaudio build tag.
type PortAudioOpener struct {
	DeviceName string
}

// ListOutputs returns ErrBackendUnavailable without the portaudio build tag.
func ListOutputs() ([]DeviceInfo, error) {
	return nil, ErrBackendUnavailable
}

// OpenOutput returns ErrBackendUnavailable without the portaudio build tag.
func (o *PortAudioOpener) OpenOutput(_ context.Context, _ int) (OutputDevice, error) {
	return nil, ErrBackendUnavailable
}
