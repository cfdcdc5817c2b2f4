//go:build !portaudio

package capture

// InputInfo describes a microphone candidate.
type InputInfo struct {
	Name             string
	MaxInputChannels int
	IsDefault        bool
}

// ListInputs returns ErrBackendUnavailable without the portaudio build tag.
func ListInputs() ([]InputInfo, error) {
	return nil, ErrBackendUnavailable
}

func openMicrophone(_ Config) (AudioSource, error) {
	return nil, ErrBackendUnavailable
}
