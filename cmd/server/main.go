package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lexiqai/avatar-gateway/internal/api"
	"github.com/lexiqai/avatar-gateway/internal/audio"
	"github.com/lexiqai/avatar-gateway/internal/avatar"
	"github.com/lexiqai/avatar-gateway/internal/config"
	"github.com/lexiqai/avatar-gateway/internal/observability"
	"github.com/lexiqai/avatar-gateway/internal/resilience"
	"github.com/lexiqai/avatar-gateway/internal/speech"
	"github.com/lexiqai/avatar-gateway/internal/tts"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	observability.Version = config.GetEnv("SERVICE_VERSION", observability.Version)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("synthesis_provider", cfg.SynthesisProvider).
		Dur("conversion_interval", cfg.ConversionInterval()).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Avatar Gateway Service starting")

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Avatar Gateway exited with error")
	}
	logger.Info().Msg("Server exited gracefully")
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	// Synthesis backend, guarded by a circuit breaker
	var backend tts.Synthesizer
	switch cfg.SynthesisProvider {
	case config.ProviderDeepgram:
		backend = tts.NewDeepgramClient(cfg)
	default:
		backend = tts.NewHTTPClient(cfg)
	}
	synth := tts.NewBreakerSynthesizer(backend, resilience.NewCircuitBreaker(
		cfg.SynthesisProvider,
		cfg.CircuitBreakerMaxFailures,
		cfg.CircuitBreakerReset(),
	))

	// Avatar viewer hub and renderer
	hub := avatar.NewHub()
	renderer := avatar.NewRenderer(hub, avatar.RendererConfig{
		LipSync: &audio.LipSyncConfig{
			EnergyThreshold: cfg.LipSyncEnergyThreshold,
			FrameDuration:   time.Duration(cfg.LipSyncFrameMs) * time.Millisecond,
			HoldFrames:      audio.DefaultLipSyncConfig().HoldFrames,
		},
	})

	scheduler := speech.NewScheduler(synth, renderer,
		speech.WithInterval(cfg.ConversionInterval()),
		speech.WithLogger(observability.ForComponent("speech")),
	)

	checks := map[string]observability.HealthCheckFunc{
		"synthesizer": synth.Healthy,
	}

	mux := http.NewServeMux()
	mux.Handle("/speak", api.NewSpeakHandler(scheduler, hub))
	mux.HandleFunc("/avatar/ws", hub.HandleViewerWS())
	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(checks))
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().
			Str("port", cfg.Port).
			Str("viewer_endpoint", fmt.Sprintf("ws://localhost:%s/avatar/ws", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if cfg.GRPCHealthPort != "" {
		grpcHealth := observability.NewGRPCHealthServer(checks, 5*time.Second)
		g.Go(func() error {
			return grpcHealth.ListenAndServe(gctx, cfg.GRPCHealthPort)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Stop taking utterances, let queued ones finish on the still-connected viewers
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Server forced to shutdown")
		}
		if err := scheduler.Close(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Speech queue did not drain before shutdown deadline")
		}
		hub.Close()
		return nil
	})

	return g.Wait()
}
