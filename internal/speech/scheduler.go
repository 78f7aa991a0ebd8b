// Package speech schedules utterances onto the avatar: conversions run one at a time
// behind a rate gate, playbacks run one at a time in submission order, and each
// playback starts only when its own conversion and the previous playback are both settled.
package speech

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrClosed is returned by Speak after Close
	ErrClosed = errors.New("speech scheduler is closed")

	errNoAudio = errors.New("synthesizer returned no audio")
)

// Option configures a Scheduler
type Option func(*Scheduler)

// WithInterval sets the rate gate interval. Zero disables throttling.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		s.interval = d
	}
}

// WithLogger sets the scheduler's logger
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// Scheduler is the entry point for making the avatar speak. One instance owns all
// schedule state for one avatar session.
type Scheduler struct {
	interval time.Duration
	logger   zerolog.Logger

	conversions *ConversionStage
	playbacks   *PlaybackStage

	mu     sync.Mutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler and starts its two workers
func NewScheduler(synth Synthesizer, renderer Renderer, opts ...Option) *Scheduler {
	s := &Scheduler{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}

	s.conversions = NewConversionStage(synth, NewRateGate(s.interval), s.logger)
	s.playbacks = NewPlaybackStage(renderer, s.logger)
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.conversions.Run(s.ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.playbacks.Run(s.ctx)
	}()

	s.logger.Info().Dur("interval", s.interval).Msg("Speech scheduler started")
	return s
}

// Speak queues u for conversion and playback and returns its id without blocking.
// The outcome is observable only through hooks.
func (s *Scheduler) Speak(u Utterance, hooks Hooks) (string, error) {
	id := uuid.New().String()
	if u.Expression == "" {
		u.Expression = ExpressionNeutral
	}

	// Holding mu across both submits keeps conversion order and playback order identical
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}

	conv := s.conversions.Submit(id, u)
	if conv == nil {
		return "", ErrClosed
	}
	if s.playbacks.Submit(conv, u.Expression, hooks) == nil {
		return "", ErrClosed
	}

	s.logger.Debug().
		Str("utterance_id", id).
		Str("expression", string(u.Expression)).
		Int("text_len", len(u.Text)).
		Msg("Utterance queued")
	return id, nil
}

// Pending returns how many conversions and playbacks are waiting for their workers
func (s *Scheduler) Pending() (conversions, playbacks int) {
	return s.conversions.Pending(), s.playbacks.Pending()
}

// Close stops accepting utterances and waits until every queued one reached Done.
// If ctx ends first, in-flight synthesis and render calls are cancelled so the
// remaining utterances drain quickly as silent playbacks, and ctx's error is returned.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		s.conversions.Close()
		s.playbacks.Close()
	}
	s.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		s.cancel()
		s.logger.Info().Msg("Speech scheduler drained")
		return nil
	case <-ctx.Done():
		s.cancel()
		<-drained
		s.logger.Warn().Err(ctx.Err()).Msg("Speech scheduler shutdown cancelled in-flight work")
		return ctx.Err()
	}
}
