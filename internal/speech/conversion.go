package speech

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/lexiqai/avatar-gateway/internal/observability"
)

const stageConversion = "conversion"

// Synthesizer converts text to an audio buffer. Latency and failure modes are opaque to the scheduler.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, language string) ([]byte, error)
}

// ConversionTask is one attempt to obtain audio for one utterance.
// Audio and Err are only valid after Done is closed.
type ConversionTask struct {
	ID        string
	Utterance Utterance

	audio []byte
	err   error
	done  chan struct{}
	state atomic.Int32

	metrics *observability.UtteranceMetrics
	logger  zerolog.Logger
}

func newConversionTask(id string, u Utterance, logger zerolog.Logger) *ConversionTask {
	t := &ConversionTask{
		ID:        id,
		Utterance: u,
		done:      make(chan struct{}),
		metrics:   observability.NewUtteranceMetrics(id),
		logger:    logger.With().Str("utterance_id", id).Logger(),
	}
	t.state.Store(int32(StateQueued))
	return t
}

// Done is closed once the conversion settled
func (t *ConversionTask) Done() <-chan struct{} {
	return t.done
}

// Audio returns the synthesized buffer, or nil when the conversion failed
func (t *ConversionTask) Audio() []byte {
	return t.audio
}

// Err returns the swallowed conversion error, if any
func (t *ConversionTask) Err() error {
	return t.err
}

// State returns the utterance's current lifecycle state. A failed conversion passes
// through StateConversionFailed and then moves on like any other; after that the
// failure is reported by Err and a nil Audio, which never change once Done is closed.
func (t *ConversionTask) State() State {
	return State(t.state.Load())
}

func (t *ConversionTask) setState(s State) {
	t.state.Store(int32(s))
	t.logger.Debug().Str("state", s.String()).Msg("Utterance state changed")
}

// ConversionStage runs conversions one at a time, in submission order, gated by a RateGate
type ConversionStage struct {
	synth  Synthesizer
	gate   *RateGate
	queue  *taskQueue[*ConversionTask]
	logger zerolog.Logger
}

// NewConversionStage creates a stage; call Run to start its worker
func NewConversionStage(synth Synthesizer, gate *RateGate, logger zerolog.Logger) *ConversionStage {
	return &ConversionStage{
		synth:  synth,
		gate:   gate,
		queue:  newTaskQueue[*ConversionTask](),
		logger: logger.With().Str("stage", stageConversion).Logger(),
	}
}

// Submit appends a conversion for u to the chain. It returns nil if the stage is closed.
func (s *ConversionStage) Submit(id string, u Utterance) *ConversionTask {
	task := newConversionTask(id, u, s.logger)
	if !s.queue.push(task) {
		return nil
	}
	observability.SetQueueDepth(stageConversion, s.queue.len())
	return task
}

// Run is the single worker. It returns after Close once every submitted task has settled.
func (s *ConversionStage) Run(ctx context.Context) {
	for {
		task, ok := s.queue.pop()
		if !ok {
			return
		}
		observability.SetQueueDepth(stageConversion, s.queue.len())
		s.convert(ctx, task)
	}
}

// Close stops accepting conversions; queued ones still run
func (s *ConversionStage) Close() {
	s.queue.close()
}

// Pending returns the number of conversions waiting for the worker
func (s *ConversionStage) Pending() int {
	return s.queue.len()
}

func (s *ConversionStage) convert(ctx context.Context, task *ConversionTask) {
	defer close(task.done)
	defer task.setState(StateAwaitingTurn)

	if waited, err := s.gate.Wait(ctx); err == nil && waited > 0 {
		task.metrics.RecordGateWait(waited)
		task.logger.Debug().Dur("waited", waited).Msg("Rate gate delayed conversion")
	}

	task.setState(StateConverting)
	task.metrics.RecordConversionStart()

	audio, err := s.synth.Synthesize(ctx, task.Utterance.Text, task.Utterance.Language)
	if err == nil && len(audio) == 0 {
		err = errNoAudio
	}
	s.gate.Settle()

	if err != nil {
		// Failures degrade to the no-audio sentinel and never leave this stage
		task.err = err
		task.metrics.RecordConversionEnd(false, 0)
		task.logger.Warn().Err(err).Msg("Conversion failed, utterance will play silently")
		task.setState(StateConversionFailed)
		return
	}

	task.audio = audio
	task.metrics.RecordConversionEnd(true, len(audio))
	task.logger.Debug().Int("bytes", len(audio)).Msg("Conversion settled")
	task.setState(StateConverted)
}
