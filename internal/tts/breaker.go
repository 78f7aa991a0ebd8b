package tts

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lexiqai/avatar-gateway/internal/observability"
	"github.com/lexiqai/avatar-gateway/internal/resilience"
)

// BreakerSynthesizer fails fast while the wrapped backend keeps failing.
// It never retries: a rejected call is just another failed conversion.
type BreakerSynthesizer struct {
	next    Synthesizer
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger
}

// NewBreakerSynthesizer wraps next with breaker and mirrors its state into metrics
func NewBreakerSynthesizer(next Synthesizer, breaker *resilience.CircuitBreaker) *BreakerSynthesizer {
	b := &BreakerSynthesizer{
		next:    next,
		breaker: breaker,
		logger:  observability.ForComponent("tts_breaker").With().Str("service", breaker.Name()).Logger(),
	}
	breaker.OnStateChange(b.stateChanged)
	observability.UpdateCircuitBreakerState(breaker.Name(), int(breaker.GetState()))
	return b
}

// Synthesize delegates to the wrapped synthesizer unless the circuit is open
func (b *BreakerSynthesizer) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	// Empty input says nothing about the backend's health
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	var audio []byte
	var rejected error
	err := b.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		audio, err = b.next.Synthesize(ctx, text, language)
		// A 4xx is about this request, the backend itself answered fine
		if isClientError(err) {
			rejected = err
			return nil
		}
		return err
	})
	if rejected != nil {
		observability.RecordError("synthesis_rejected", "tts")
		return nil, rejected
	}
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			observability.RecordError("circuit_open", "tts")
		} else {
			observability.RecordError("synthesis_failed", "tts")
		}
		return nil, err
	}
	return audio, nil
}

// Healthy reports whether the circuit currently lets requests through
func (b *BreakerSynthesizer) Healthy(context.Context) (bool, error) {
	state, requests, failures, rate := b.breaker.GetStats()
	if state == resilience.StateOpen {
		return false, fmt.Errorf("%w: %d of %d requests failed (%.1f%%)", resilience.ErrCircuitOpen, failures, requests, rate)
	}
	return true, nil
}

func isClientError(err error) bool {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	switch statusErr.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		// The backend is struggling, not the request
		return false
	}
	return statusErr.StatusCode >= 400 && statusErr.StatusCode < 500
}

func (b *BreakerSynthesizer) stateChanged(name string, from, to resilience.CircuitState) {
	observability.UpdateCircuitBreakerState(name, int(to))
	if to == resilience.StateOpen {
		observability.IncrementCircuitBreakerFailures(name)
		b.logger.Warn().Str("from", from.String()).Msg("Synthesis circuit opened")
		return
	}
	b.logger.Info().Str("from", from.String()).Str("to", to.String()).Msg("Synthesis circuit state changed")
}
