package audio

import (
	"encoding/binary"
	"time"
)

// DecodePCM16 converts little-endian int16 PCM to normalized float samples,
// inverting the scaling applied by FloatToPCM16. A trailing odd byte is ignored.
func DecodePCM16(data []byte) []float32 {
	n := len(data) / pcmBytesPerSample
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		// #nosec G115 -- overflow is intentional for signed PCM conversion
		s := int16(binary.LittleEndian.Uint16(data[i*pcmBytesPerSample:]))
		out[i] = PCM16ToFloat(s)
	}
	return out
}

// PCMDuration returns the play time of n bytes of mono int16 PCM at rate Hz.
func PCMDuration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	samples := n / pcmBytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(rate)
}

// PCM16ToFloat maps a signed 16-bit sample back to [-1, 1].
func PCM16ToFloat(s int16) float32 {
	if s < 0 {
		return float32(float64(s) / negativeScale)
	}
	return float32(float64(s) / positiveScale)
}
