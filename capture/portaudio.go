//go:build portaudio

package capture

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// InputInfo describes a microphone candidate.
type InputInfo struct {
	Name             string
	MaxInputChannels int
	IsDefault        bool
}

// ListInputs returns the input-capable devices PortAudio can see.
func ListInputs() ([]InputInfo, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	defer func() { _ = portaudio.Terminate() }()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	def, _ := portaudio.DefaultInputDevice()

	var out []InputInfo
	for _, d := range devices {
		if d.MaxInputChannels < 1 {
			continue
		}
		out = append(out, InputInfo{
			Name:             d.Name,
			MaxInputChannels: d.MaxInputChannels,
			IsDefault:        def != nil && d.Name == def.Name,
		})
	}
	return out, nil
}

// microphone is a started blocking-read PortAudio input stream.
type microphone struct {
	name string

	mu     sync.Mutex
	stream *portaudio.Stream
	in     []float32
}

func openMicrophone(cfg Config) (AudioSource, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	dev, err := inputDevice(cfg.InputDevice)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, err
	}

	in := make([]float32, cfg.WindowSize)
	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = cfg.Channels
	params.SampleRate = float64(cfg.SampleRate)
	params.FramesPerBuffer = cfg.WindowSize

	stream, err := portaudio.OpenStream(params, in)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("failed to open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("failed to start input stream: %w", err)
	}

	return &microphone{name: dev.Name, stream: stream, in: in}, nil
}

func inputDevice(name string) (*portaudio.DeviceInfo, error) {
	if name == "" {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoDevice, err)
		}
		return dev, nil
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	for _, d := range devices {
		if d.Name == name && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: input device %q not found", ErrNoDevice, name)
}

func (m *microphone) Name() string { return m.name }

// Read blocks until one window has been captured. Overflows are tolerated:
// the window still holds the most recent samples.
func (m *microphone) Read(_ context.Context) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stream == nil {
		return nil, ErrClosed
	}
	if err := m.stream.Read(); err != nil && err != portaudio.InputOverflowed {
		return nil, err
	}
	out := make([]float32, len(m.in))
	copy(out, m.in)
	return out, nil
}

func (m *microphone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stream == nil {
		return nil
	}
	_ = m.stream.Stop()
	err := m.stream.Close()
	m.stream = nil
	_ = portaudio.Terminate()
	return err
}
