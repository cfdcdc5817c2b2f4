//go:build portaudio

package playback

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/Nathan-Asif/AegisMedix/logger"
)

// OutputFramesPerBuffer is 40ms of audio at 24kHz.
const OutputFramesPerBuffer = 960

// PortAudioOpener opens PortAudio output streams, preferring a hands-free
// peripheral when one is attached.
type PortAudioOpener struct {
	// DeviceName forces a specific output device by exact name. Optional.
	DeviceName string
}

// ListOutputs returns the output-capable devices PortAudio can see.
func ListOutputs() ([]DeviceInfo, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	defer func() { _ = portaudio.Terminate() }()
	infos, _, err := listOutputs()
	return infos, err
}

func listOutputs() ([]DeviceInfo, []*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list devices: %w", err)
	}
	def, _ := portaudio.DefaultOutputDevice()

	var infos []DeviceInfo
	var raw []*portaudio.DeviceInfo
	for _, d := range devices {
		if d.MaxOutputChannels < 1 {
			continue
		}
		infos = append(infos, DeviceInfo{
			Name:              d.Name,
			MaxOutputChannels: d.MaxOutputChannels,
			IsDefault:         def != nil && d.Name == def.Name,
		})
		raw = append(raw, d)
	}
	return infos, raw, nil
}

// OpenOutput implements OutputOpener.
func (o *PortAudioOpener) OpenOutput(_ context.Context, sampleRate int) (OutputDevice, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	infos, raw, err := listOutputs()
	if err != nil {
		_ = portaudio.Terminate()
		return nil, err
	}

	var chosen *portaudio.DeviceInfo
	if o.DeviceName != "" {
		for _, d := range raw {
			if d.Name == o.DeviceName {
				chosen = d
				break
			}
		}
	}
	if chosen == nil {
		if pick, ok := SelectOutput(infos); ok {
			for _, d := range raw {
				if d.Name == pick.Name {
					chosen = d
					break
				}
			}
		}
	}
	if chosen == nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("no output device available")
	}

	out := make([]float32, OutputFramesPerBuffer)
	params := portaudio.HighLatencyParameters(nil, chosen)
	params.Output.Channels = 1
	params.SampleRate = float64(sampleRate)
	params.FramesPerBuffer = OutputFramesPerBuffer

	stream, err := portaudio.OpenStream(params, out)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("failed to open output stream on %q: %w", chosen.Name, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("failed to start output stream: %w", err)
	}

	logger.Debug("output stream opened", "component", "playback",
		"device", chosen.Name, "sample_rate", sampleRate)

	return &portAudioOutput{name: chosen.Name, stream: stream, out: out}, nil
}

// portAudioOutput is a started blocking-write output stream.
type portAudioOutput struct {
	name string

	mu     sync.Mutex
	stream *portaudio.Stream
	out    []float32
}

func (p *portAudioOutput) Name() string { return p.name }

// Play writes samples buffer by buffer, zero-padding the tail. Cancellation
// aborts the stream so queued hardware buffers are discarded.
func (p *portAudioOutput) Play(ctx context.Context, samples []float32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		return fmt.Errorf("output stream closed")
	}

	for off := 0; off < len(samples); off += len(p.out) {
		if ctx.Err() != nil {
			_ = p.stream.Abort()
			return ctx.Err()
		}
		n := copy(p.out, samples[off:])
		for i := n; i < len(p.out); i++ {
			p.out[i] = 0
		}
		if err := p.stream.Write(); err != nil {
			if err == portaudio.OutputUnderflowed {
				continue
			}
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	return nil
}

func (p *portAudioOutput) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		return nil
	}
	_ = p.stream.Stop()
	err := p.stream.Close()
	p.stream = nil
	_ = portaudio.Terminate()
	return err
}
