package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	// DefaultGateThreshold is the RMS level below which a window is sent as silence.
	DefaultGateThreshold = 0.02

	// InputSampleRate is the outbound capture rate in Hz.
	InputSampleRate = 16000

	// OutputSampleRate is the rate of synthesized speech received from the peer.
	OutputSampleRate = 24000

	// pcmBytesPerSample is the number of bytes per 16-bit PCM sample.
	pcmBytesPerSample = 2

	// negativeScale and positiveScale map [-1, 1] onto the int16 range.
	// +1.0 * 32768 would overflow, hence the asymmetry.
	negativeScale = 32768.0
	positiveScale = 32767.0
)

// Frame is one encoded outbound audio window.
type Frame struct {
	// Samples holds the signed 16-bit samples in capture order.
	Samples []int16

	// Silent is true when the noise gate replaced the window with zeros.
	Silent bool

	// RMS is the energy measured on the input window before gating.
	RMS float64
}

// Bytes packs the frame as little-endian int16 PCM.
func (f Frame) Bytes() []byte {
	out := make([]byte, len(f.Samples)*pcmBytesPerSample)
	for i, s := range f.Samples {
		// #nosec G115 -- two's complement reinterpretation is the wire format
		binary.LittleEndian.PutUint16(out[i*pcmBytesPerSample:], uint16(s))
	}
	return out
}

// Encoder applies the noise gate and converts float windows to int16 frames.
// It keeps no state between windows and is safe for concurrent use.
type Encoder struct {
	threshold float64
}

// NewEncoder returns an Encoder gating at the given RMS threshold.
// A threshold of zero disables the gate.
func NewEncoder(threshold float64) (*Encoder, error) {
	if threshold < 0 || threshold >= 1 || math.IsNaN(threshold) {
		return nil, fmt.Errorf("gate threshold must be in [0, 1), got %v", threshold)
	}
	return &Encoder{threshold: threshold}, nil
}

// Threshold returns the configured gate threshold.
func (e *Encoder) Threshold() float64 {
	return e.threshold
}

// Encode converts one window of normalized samples into a Frame.
func (e *Encoder) Encode(window []float32) Frame {
	rms := RMS(window)
	samples := make([]int16, len(window))
	if rms < e.threshold {
		return Frame{Samples: samples, Silent: true, RMS: rms}
	}
	for i, v := range window {
		samples[i] = FloatToPCM16(v)
	}
	return Frame{Samples: samples, RMS: rms}
}

// RMS computes the root mean square of normalized samples.
func RMS(window []float32) float64 {
	if len(window) == 0 {
		return 0
	}
	var sumSquares float64
	for _, v := range window {
		f := float64(v)
		sumSquares += f * f
	}
	return math.Sqrt(sumSquares / float64(len(window)))
}

// FloatToPCM16 clamps v to [-1, 1] and scales it to a signed 16-bit sample.
func FloatToPCM16(v float32) int16 {
	f := float64(v)
	switch {
	case math.IsNaN(f):
		return 0
	case f > 1:
		f = 1
	case f < -1:
		f = -1
	}
	if f < 0 {
		return int16(f * negativeScale)
	}
	return int16(f * positiveScale)
}
