package avatar

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lexiqai/avatar-gateway/internal/audio"
	"github.com/lexiqai/avatar-gateway/internal/observability"
	"github.com/lexiqai/avatar-gateway/internal/speech"
)

const (
	// Added on top of the audio's own length before a silent viewer counts as failed
	defaultAckGrace = 10 * time.Second
	// Used when the audio length is unknown (non-WAV media)
	defaultAckTimeout = 2 * time.Minute
)

// RendererConfig tunes how speech is presented on the viewer
type RendererConfig struct {
	LipSync    *audio.LipSyncConfig
	AckGrace   time.Duration
	AckTimeout time.Duration
}

// Renderer plays synthesized audio on the active viewer
type Renderer struct {
	hub    *Hub
	config RendererConfig
	logger zerolog.Logger
}

// NewRenderer creates a renderer that speaks through hub
func NewRenderer(hub *Hub, cfg RendererConfig) *Renderer {
	if cfg.LipSync == nil {
		cfg.LipSync = audio.DefaultLipSyncConfig()
	}
	if cfg.AckGrace <= 0 {
		cfg.AckGrace = defaultAckGrace
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = defaultAckTimeout
	}
	return &Renderer{
		hub:    hub,
		config: cfg,
		logger: observability.ForComponent("avatar_renderer"),
	}
}

// Render sends audio to the active viewer and blocks until the viewer finished playing it
func (r *Renderer) Render(ctx context.Context, data []byte, expression speech.Expression) error {
	viewer := r.hub.active()
	if viewer == nil {
		return ErrNoViewer
	}

	payload := &SpeakPayload{
		Audio:      base64.StdEncoding.EncodeToString(data),
		Expression: string(expression),
	}
	wait := r.config.AckTimeout
	if audio.IsWAV(data) {
		pcm, err := audio.DecodeWAV(data)
		if err != nil {
			r.logger.Debug().Err(err).Msg("Playing without lip-sync envelope")
		} else {
			payload.DurationMs = pcm.Duration().Milliseconds()
			payload.Envelope = audio.BuildEnvelope(pcm, r.config.LipSync)
			wait = pcm.Duration() + r.config.AckGrace
		}
	}

	id := uuid.New().String()
	result := r.hub.expect(id, viewer.ID())
	defer r.hub.forget(id)

	if err := viewer.send(&Message{Event: EventSpeak, ID: id, Speak: payload}); err != nil {
		return fmt.Errorf("failed to send speak message: %w", err)
	}
	r.logger.Debug().
		Str("render_id", id).
		Str("viewer_id", viewer.ID()).
		Str("expression", string(expression)).
		Int64("duration_ms", payload.DurationMs).
		Msg("Speak sent to viewer")

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case err := <-result:
		return err
	case <-timer.C:
		return fmt.Errorf("avatar: viewer did not finish playback within %s", wait)
	case <-ctx.Done():
		return ctx.Err()
	}
}
