package tts

import (
	"context"
	"fmt"
	"strings"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/speak/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	speakClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/speak"
	"github.com/rs/zerolog"

	"github.com/lexiqai/avatar-gateway/internal/config"
	"github.com/lexiqai/avatar-gateway/internal/observability"
)

const providerDeepgram = "deepgram"

// DeepgramClient synthesizes speech with Deepgram's Aura REST API
type DeepgramClient struct {
	config *config.Config
	client *api.Client
	logger zerolog.Logger
}

// NewDeepgramClient creates a new Deepgram TTS client
func NewDeepgramClient(cfg *config.Config) *DeepgramClient {
	c := speakClient.NewREST(cfg.DeepgramAPIKey, &interfaces.ClientOptions{})
	return &DeepgramClient{
		config: cfg,
		client: api.New(c),
		logger: observability.ForComponent("tts_deepgram"),
	}
}

// Synthesize returns linear16 WAV audio. Aura voices are per-model, so language is ignored.
func (d *DeepgramClient) Synthesize(ctx context.Context, text, _ string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	options := &interfaces.SpeakOptions{
		Model:     d.config.DeepgramTTSModel,
		Encoding:  "linear16",
		Container: "wav",
	}

	start := time.Now()
	var buffer interfaces.RawResponse
	if _, err := d.client.ToStream(ctx, text, options, &buffer); err != nil {
		return nil, fmt.Errorf("%s speak request failed: %w", providerDeepgram, err)
	}

	audio := buffer.Bytes()
	if len(audio) == 0 {
		return nil, ErrEmptyAudio
	}

	d.logger.Debug().
		Int("bytes", len(audio)).
		Str("model", d.config.DeepgramTTSModel).
		Dur("latency", time.Since(start)).
		Msg("Synthesized speech")
	return audio, nil
}
