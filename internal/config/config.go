package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Synthesis providers understood by the gateway.
const (
	ProviderHTTP     = "http"
	ProviderDeepgram = "deepgram"
)

// Config holds all configuration for the avatar gateway service
type Config struct {
	// Server configuration
	Port           string `envconfig:"PORT" default:"8080"`
	GRPCHealthPort string `envconfig:"GRPC_HEALTH_PORT" default:"9090"` // Empty disables the gRPC health server

	// Synthesis backend selection: "http" (speech backend TTS endpoint) or "deepgram" (Aura)
	SynthesisProvider string `envconfig:"SYNTHESIS_PROVIDER" default:"http"`

	// HTTP speech backend configuration
	SynthesisURL          string  `envconfig:"SYNTHESIS_URL" default:"http://localhost:9880/tts"`
	SynthesisRefAudioPath string  `envconfig:"SYNTHESIS_REF_AUDIO_PATH" default:""`
	SynthesisPromptText   string  `envconfig:"SYNTHESIS_PROMPT_TEXT" default:""`
	SynthesisPromptLang   string  `envconfig:"SYNTHESIS_PROMPT_LANG" default:"en"`
	SynthesisTextLang     string  `envconfig:"SYNTHESIS_TEXT_LANG" default:"en"`    // Used when an utterance carries no language
	SynthesisMediaType    string  `envconfig:"SYNTHESIS_MEDIA_TYPE" default:"wav"`  // wav, raw, ogg, aac
	SynthesisSpeedFactor  float64 `envconfig:"SYNTHESIS_SPEED_FACTOR" default:"1.0"`

	// Deepgram Aura TTS configuration
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramTTSModel string `envconfig:"DEEPGRAM_TTS_MODEL" default:"aura-asteria-en"`

	// Minimum gap between one conversion settling and the next one starting, in milliseconds.
	// Zero disables throttling.
	ConversionIntervalMs int `envconfig:"CONVERSION_INTERVAL_MS" default:"0"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery

	// Lip-sync analysis
	LipSyncFrameMs         int     `envconfig:"LIPSYNC_FRAME_MS" default:"20"`
	LipSyncEnergyThreshold float64 `envconfig:"LIPSYNC_ENERGY_THRESHOLD" default:"300.0"` // RMS below this closes the mouth

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field constraints that envconfig tags cannot express
func (c *Config) Validate() error {
	switch c.SynthesisProvider {
	case ProviderHTTP:
		if c.SynthesisURL == "" {
			return fmt.Errorf("SYNTHESIS_URL is required for provider %q", ProviderHTTP)
		}
		switch c.SynthesisMediaType {
		case "wav", "raw", "ogg", "aac":
		default:
			return fmt.Errorf("SYNTHESIS_MEDIA_TYPE %q is not supported", c.SynthesisMediaType)
		}
	case ProviderDeepgram:
		if c.DeepgramAPIKey == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY is required for provider %q", ProviderDeepgram)
		}
	default:
		return fmt.Errorf("unknown SYNTHESIS_PROVIDER %q", c.SynthesisProvider)
	}

	if c.ConversionIntervalMs < 0 {
		return fmt.Errorf("CONVERSION_INTERVAL_MS must not be negative, got %d", c.ConversionIntervalMs)
	}
	if c.CircuitBreakerMaxFailures <= 0 {
		return fmt.Errorf("CIRCUIT_BREAKER_MAX_FAILURES must be positive, got %d", c.CircuitBreakerMaxFailures)
	}
	if c.CircuitBreakerResetTimeout < 0 {
		return fmt.Errorf("CIRCUIT_BREAKER_RESET_TIMEOUT must not be negative, got %d", c.CircuitBreakerResetTimeout)
	}
	if c.LipSyncFrameMs <= 0 {
		return fmt.Errorf("LIPSYNC_FRAME_MS must be positive, got %d", c.LipSyncFrameMs)
	}

	return nil
}

// ConversionInterval returns the rate gate interval as a duration
func (c *Config) ConversionInterval() time.Duration {
	return time.Duration(c.ConversionIntervalMs) * time.Millisecond
}

// CircuitBreakerReset returns the breaker reset timeout as a duration
func (c *Config) CircuitBreakerReset() time.Duration {
	return time.Duration(c.CircuitBreakerResetTimeout) * time.Second
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
