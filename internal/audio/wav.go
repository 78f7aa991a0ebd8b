package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrNotWAV is returned for buffers without a RIFF/WAVE header
var ErrNotWAV = errors.New("audio is not a RIFF/WAVE buffer")

const formatPCM = 1

// WAVHeader is the subset of the fmt chunk the gateway cares about
type WAVHeader struct {
	Format        uint16
	Channels      int
	SampleRate    int
	BitsPerSample int
}

// IsWAV reports whether data starts with a RIFF/WAVE header
func IsWAV(data []byte) bool {
	return len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE"))
}

// DecodeWAV parses a 16-bit PCM WAV buffer into mono samples.
// Streaming encoders write 0 or 0xFFFFFFFF as the data size; the rest of the buffer is used then.
func DecodeWAV(data []byte) (*PCM, error) {
	if !IsWAV(data) {
		return nil, ErrNotWAV
	}

	var header *WAVHeader
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		rawSize := binary.LittleEndian.Uint32(data[pos+4 : pos+8])
		unsized := rawSize == 0 || rawSize == 0xFFFFFFFF
		size := int(rawSize)
		body := pos + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return nil, fmt.Errorf("truncated fmt chunk")
			}
			header = &WAVHeader{
				Format:        binary.LittleEndian.Uint16(data[body:]),
				Channels:      int(binary.LittleEndian.Uint16(data[body+2:])),
				SampleRate:    int(binary.LittleEndian.Uint32(data[body+4:])),
				BitsPerSample: int(binary.LittleEndian.Uint16(data[body+14:])),
			}

		case "data":
			if header == nil {
				return nil, fmt.Errorf("data chunk before fmt chunk")
			}
			if header.Format != formatPCM || header.BitsPerSample != 16 {
				return nil, fmt.Errorf("unsupported WAV encoding: format %d, %d bits", header.Format, header.BitsPerSample)
			}
			end := body + size
			if unsized || end < body || end > len(data) {
				end = len(data)
			}
			samples, err := DecodePCM16(data[body:end], header.Channels)
			if err != nil {
				return nil, fmt.Errorf("failed to decode WAV samples: %w", err)
			}
			return &PCM{SampleRate: header.SampleRate, Samples: samples}, nil
		}

		if rawSize == 0xFFFFFFFF || size < 0 {
			break
		}
		// Chunks are word aligned
		pos = body + size + size%2
	}

	return nil, fmt.Errorf("WAV buffer has no data chunk")
}
