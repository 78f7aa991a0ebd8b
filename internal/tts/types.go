package tts

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrEmptyText is returned when asked to synthesize nothing
	ErrEmptyText = errors.New("tts: text is empty")

	// ErrEmptyAudio is returned when the backend answered with a zero-length body
	ErrEmptyAudio = errors.New("tts: backend returned no audio")
)

// Synthesizer converts text to a complete audio buffer
type Synthesizer interface {
	Synthesize(ctx context.Context, text, language string) ([]byte, error)
}

// StatusError is a non-200 answer from a synthesis backend
type StatusError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s returned status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.StatusCode, e.Message)
}
