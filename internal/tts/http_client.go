package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/avatar-gateway/internal/config"
	"github.com/lexiqai/avatar-gateway/internal/observability"
)

const providerHTTP = "speech-backend"

// HTTPClient synthesizes speech through the speech backend's /tts endpoint
type HTTPClient struct {
	config     *config.Config
	apiURL     string
	httpClient *http.Client
	logger     zerolog.Logger
}

// SynthesisRequest represents the request payload for the /tts endpoint
type SynthesisRequest struct {
	Text          string  `json:"text"`
	TextLang      string  `json:"text_lang"`
	RefAudioPath  string  `json:"ref_audio_path"`
	PromptText    string  `json:"prompt_text,omitempty"`
	PromptLang    string  `json:"prompt_lang"`
	MediaType     string  `json:"media_type"`
	SpeedFactor   float64 `json:"speed_factor"`
	StreamingMode bool    `json:"streaming_mode"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// NewHTTPClient creates a new speech backend client
func NewHTTPClient(cfg *config.Config) *HTTPClient {
	return &HTTPClient{
		config: cfg,
		apiURL: cfg.SynthesisURL,
		// Deadlines come from the caller's context
		httpClient: &http.Client{Transport: http.DefaultTransport},
		logger:     observability.ForComponent("tts_http"),
	}
}

// Synthesize posts text to the backend and returns the whole audio body
func (c *HTTPClient) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	if language == "" {
		language = c.config.SynthesisTextLang
	}

	reqBody := SynthesisRequest{
		Text:          text,
		TextLang:      language,
		RefAudioPath:  c.config.SynthesisRefAudioPath,
		PromptText:    c.config.SynthesisPromptText,
		PromptLang:    c.config.SynthesisPromptLang,
		MediaType:     c.config.SynthesisMediaType,
		SpeedFactor:   c.config.SynthesisSpeedFactor,
		StreamingMode: false,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		statusErr := &StatusError{Provider: providerHTTP, StatusCode: resp.StatusCode}
		var apiErr errorResponse
		if json.Unmarshal(body, &apiErr) == nil {
			statusErr.Message = apiErr.Message
		}
		return nil, statusErr
	}
	if len(body) == 0 {
		return nil, ErrEmptyAudio
	}

	c.logger.Debug().
		Int("bytes", len(body)).
		Str("media_type", c.config.SynthesisMediaType).
		Dur("latency", time.Since(start)).
		Msg("Synthesized speech")
	return body, nil
}
