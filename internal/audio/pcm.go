package audio

import (
	"fmt"
	"math"
	"time"
)

// PCM is mono 16-bit linear audio
type PCM struct {
	SampleRate int
	Samples    []int16
}

// Duration returns how long the samples play for
func (p *PCM) Duration() time.Duration {
	if p == nil || p.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(p.Samples)) * time.Second / time.Duration(p.SampleRate)
}

// DecodePCM16 converts little-endian 16-bit interleaved PCM to mono samples
func DecodePCM16(data []byte, channels int) ([]int16, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty PCM data")
	}
	if channels <= 0 {
		return nil, fmt.Errorf("invalid channel count %d", channels)
	}
	frameBytes := 2 * channels
	if len(data)%frameBytes != 0 {
		// Drop a trailing partial frame rather than failing the whole buffer
		data = data[:len(data)-len(data)%frameBytes]
		if len(data) == 0 {
			return nil, fmt.Errorf("PCM data shorter than one frame")
		}
	}

	frames := len(data) / frameBytes
	samples := make([]int16, frames)
	for i := 0; i < frames; i++ {
		sum := 0
		for ch := 0; ch < channels; ch++ {
			off := i*frameBytes + ch*2
			sum += int(int16(data[off]) | int16(data[off+1])<<8)
		}
		samples[i] = int16(sum / channels)
	}
	return samples, nil
}

// CalculateRMS calculates the root mean square (RMS) of audio samples
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}
