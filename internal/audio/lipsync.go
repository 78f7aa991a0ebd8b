package audio

import "time"

// LipSyncConfig holds configuration for mouth-movement analysis
type LipSyncConfig struct {
	EnergyThreshold float64       // RMS energy below which the mouth is closed
	FrameDuration   time.Duration // Length of one envelope frame
	HoldFrames      int           // Quiet frames tolerated before the mouth closes
}

// DefaultLipSyncConfig returns a default lip-sync configuration
func DefaultLipSyncConfig() *LipSyncConfig {
	return &LipSyncConfig{
		EnergyThreshold: 300.0,
		FrameDuration:   20 * time.Millisecond,
		HoldFrames:      2, // Bridges the gap between syllables
	}
}

// MouthTracker turns per-frame energy into an open/closed mouth with hysteresis
type MouthTracker struct {
	config     *LipSyncConfig
	quietCount int
	isOpen     bool
}

// NewMouthTracker creates a new mouth tracker
func NewMouthTracker(config *LipSyncConfig) *MouthTracker {
	if config == nil {
		config = DefaultLipSyncConfig()
	}
	return &MouthTracker{config: config}
}

// ProcessFrame processes an audio frame and returns its RMS and the mouth state.
// Returns: (rms, isOpen, opened, closed)
func (m *MouthTracker) ProcessFrame(samples []int16) (float64, bool, bool, bool) {
	rms := CalculateRMS(samples)
	voiced := rms > m.config.EnergyThreshold

	var opened, closed bool
	if voiced {
		m.quietCount = 0
		if !m.isOpen {
			opened = true
			m.isOpen = true
		}
	} else {
		m.quietCount++
		if m.isOpen && m.quietCount > m.config.HoldFrames {
			closed = true
			m.isOpen = false
			m.quietCount = 0
		}
	}

	return rms, m.isOpen, opened, closed
}

// Envelope is the mouth-openness curve for one utterance, one value in [0,1] per frame
type Envelope struct {
	FrameMs int       `json:"frame_ms"`
	Levels  []float64 `json:"levels"`
}

// BuildEnvelope computes the lip-sync envelope of pcm. Levels are normalized to the
// loudest frame; frames where the tracker has the mouth closed are 0.
func BuildEnvelope(pcm *PCM, config *LipSyncConfig) *Envelope {
	if config == nil {
		config = DefaultLipSyncConfig()
	}
	frameMs := int(config.FrameDuration / time.Millisecond)
	if pcm == nil || pcm.SampleRate <= 0 || frameMs <= 0 {
		return &Envelope{FrameMs: frameMs}
	}

	frameSize := pcm.SampleRate * frameMs / 1000
	if frameSize <= 0 {
		frameSize = 1
	}

	tracker := NewMouthTracker(config)
	levels := make([]float64, 0, len(pcm.Samples)/frameSize+1)
	peak := 0.0
	for start := 0; start < len(pcm.Samples); start += frameSize {
		end := start + frameSize
		if end > len(pcm.Samples) {
			end = len(pcm.Samples)
		}
		rms, open, _, _ := tracker.ProcessFrame(pcm.Samples[start:end])
		if !open {
			rms = 0
		}
		if rms > peak {
			peak = rms
		}
		levels = append(levels, rms)
	}

	if peak > 0 {
		for i := range levels {
			levels[i] /= peak
		}
	}
	return &Envelope{FrameMs: frameMs, Levels: levels}
}
