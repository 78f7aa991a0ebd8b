package speech

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/lexiqai/avatar-gateway/internal/observability"
)

const stagePlayback = "playback"

// Renderer presents an audio buffer on the avatar and returns once the presentation finished
type Renderer interface {
	Render(ctx context.Context, audio []byte, expression Expression) error
}

// PlaybackTask is the rendering of one utterance's conversion result
type PlaybackTask struct {
	conversion *ConversionTask
	expression Expression
	hooks      Hooks

	// prev is the Done channel of the playback submitted immediately before this one
	prev <-chan struct{}
	done chan struct{}

	rendered bool
	err      error
}

// Done is closed once the playback reached Done
func (t *PlaybackTask) Done() <-chan struct{} {
	return t.done
}

// ID returns the utterance id
func (t *PlaybackTask) ID() string {
	return t.conversion.ID
}

// State returns the utterance's current lifecycle state
func (t *PlaybackTask) State() State {
	return t.conversion.State()
}

// Rendered reports whether audio was handed to the renderer. Valid after Done.
func (t *PlaybackTask) Rendered() bool {
	return t.rendered
}

// Err returns the render error, if any. Valid after Done.
func (t *PlaybackTask) Err() error {
	return t.err
}

// PlaybackStage renders one utterance at a time in submission order
type PlaybackStage struct {
	renderer Renderer
	queue    *taskQueue[*PlaybackTask]
	logger   zerolog.Logger

	mu   sync.Mutex
	tail <-chan struct{}
}

// NewPlaybackStage creates a stage; call Run to start its worker
func NewPlaybackStage(renderer Renderer, logger zerolog.Logger) *PlaybackStage {
	settled := make(chan struct{})
	close(settled)
	return &PlaybackStage{
		renderer: renderer,
		queue:    newTaskQueue[*PlaybackTask](),
		logger:   logger.With().Str("stage", stagePlayback).Logger(),
		tail:     settled,
	}
}

// Submit appends a playback step joined on conv and on the previously submitted playback.
// It returns nil if the stage is closed.
func (s *PlaybackStage) Submit(conv *ConversionTask, expression Expression, hooks Hooks) *PlaybackTask {
	s.mu.Lock()
	defer s.mu.Unlock()

	task := &PlaybackTask{
		conversion: conv,
		expression: expression,
		hooks:      hooks,
		prev:       s.tail,
		done:       make(chan struct{}),
	}
	if !s.queue.push(task) {
		return nil
	}
	s.tail = task.done
	observability.SetQueueDepth(stagePlayback, s.queue.len())
	return task
}

// Run is the single worker. It returns after Close once every submitted task is Done.
func (s *PlaybackStage) Run(ctx context.Context) {
	for {
		task, ok := s.queue.pop()
		if !ok {
			return
		}
		observability.SetQueueDepth(stagePlayback, s.queue.len())
		s.play(ctx, task)
	}
}

// Close stops accepting playbacks; queued ones still run
func (s *PlaybackStage) Close() {
	s.queue.close()
}

// Pending returns the number of playbacks waiting for the worker
func (s *PlaybackStage) Pending() int {
	return s.queue.len()
}

func (s *PlaybackStage) play(ctx context.Context, task *PlaybackTask) {
	defer close(task.done)

	conv := task.conversion
	join(conv.Done(), task.prev)

	logger := conv.logger
	invoke(logger, "on_start", task.hooks.OnStart)

	audio := conv.Audio()
	outcome := observability.OutcomeSkipped
	if audio == nil {
		conv.setState(StateSkipped)
	} else {
		conv.setState(StateRendering)
		conv.metrics.RecordRenderStart()
		if err := s.renderer.Render(ctx, audio, task.expression); err != nil {
			task.err = err
			outcome = observability.OutcomeRenderError
			logger.Error().Err(err).Msg("Render failed")
		} else {
			task.rendered = true
			outcome = observability.OutcomeRendered
		}
	}
	conv.metrics.RecordPlaybackEnd(outcome, len(audio))

	conv.setState(StateDone)
	invoke(logger, "on_complete", task.hooks.OnComplete)
}

// join waits for exactly two inputs: this utterance's conversion and the previous playback.
// Waiting on anything else would stop conversions from running ahead of playback.
func join(conversion, previous <-chan struct{}) {
	<-conversion
	<-previous
}

// invoke runs a caller hook, keeping a panicking hook from killing the playback worker
func invoke(logger zerolog.Logger, name string, hook func()) {
	if hook == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			observability.RecordError("hook_panic", stagePlayback)
			logger.Error().Interface("panic", r).Str("hook", name).Msg("Lifecycle hook panicked")
		}
	}()
	hook()
}
