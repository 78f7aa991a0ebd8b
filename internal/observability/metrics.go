package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Playback outcomes used as metric labels
const (
	OutcomeRendered    = "rendered"
	OutcomeSkipped     = "skipped"
	OutcomeRenderError = "render_error"
)

var (
	// Utterance metrics
	utterancesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "avatar_gateway_utterances_total",
		Help: "Total number of utterances accepted by the scheduler",
	})

	utteranceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "avatar_gateway_utterance_duration_seconds",
		Help:    "Time from acceptance to Done for one utterance",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
	})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "avatar_gateway_queue_depth",
		Help: "Number of tasks waiting in a scheduler stage",
	}, []string{"stage"}) // stage: "conversion" or "playback"

	// Conversion metrics
	conversions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avatar_gateway_conversions_total",
		Help: "Total number of text-to-speech conversions",
	}, []string{"status"})

	conversionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "avatar_gateway_conversion_latency_seconds",
		Help:    "Text-to-speech conversion latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	gateWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "avatar_gateway_rate_gate_wait_seconds",
		Help:    "Time a conversion waited on the rate gate",
		Buckets: []float64{0, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
	})

	// Playback metrics
	playbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avatar_gateway_playbacks_total",
		Help: "Total number of playback steps by outcome",
	}, []string{"outcome"})

	renderLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "avatar_gateway_render_latency_seconds",
		Help:    "Time spent rendering audio on the avatar",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40},
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avatar_gateway_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "avatar_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avatar_gateway_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Viewer and audio metrics
	connectedViewers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "avatar_gateway_connected_viewers",
		Help: "Number of avatar viewers connected over websocket",
	})

	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avatar_gateway_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "synthesized" or "rendered"
)

// UtteranceMetrics tracks metrics for a single utterance
type UtteranceMetrics struct {
	utteranceID     string
	acceptedAt      time.Time
	conversionStart time.Time
	renderStart     time.Time
	mu              sync.Mutex
}

// NewUtteranceMetrics creates a metrics tracker and counts the utterance as accepted
func NewUtteranceMetrics(utteranceID string) *UtteranceMetrics {
	utterancesTotal.Inc()
	return &UtteranceMetrics{
		utteranceID: utteranceID,
		acceptedAt:  time.Now(),
	}
}

// RecordGateWait records how long the conversion waited on the rate gate
func (m *UtteranceMetrics) RecordGateWait(wait time.Duration) {
	gateWait.Observe(wait.Seconds())
}

// RecordConversionStart records the start of the synthesis call
func (m *UtteranceMetrics) RecordConversionStart() {
	m.mu.Lock()
	m.conversionStart = time.Now()
	m.mu.Unlock()
}

// RecordConversionEnd records the settlement of the synthesis call
func (m *UtteranceMetrics) RecordConversionEnd(success bool, audioBytes int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.conversionStart.IsZero() {
		conversionLatency.Observe(time.Since(m.conversionStart).Seconds())
	}

	status := "success"
	if !success {
		status = "error"
		errorsTotal.WithLabelValues("conversion_failed", "conversion").Inc()
	}
	conversions.WithLabelValues(status).Inc()
	if audioBytes > 0 {
		audioBytesProcessed.WithLabelValues("synthesized").Add(float64(audioBytes))
	}
}

// RecordRenderStart records the moment audio was handed to the renderer
func (m *UtteranceMetrics) RecordRenderStart() {
	m.mu.Lock()
	m.renderStart = time.Now()
	m.mu.Unlock()
}

// RecordPlaybackEnd records the outcome of the playback step
func (m *UtteranceMetrics) RecordPlaybackEnd(outcome string, audioBytes int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.renderStart.IsZero() {
		renderLatency.Observe(time.Since(m.renderStart).Seconds())
	}
	if outcome == OutcomeRenderError {
		errorsTotal.WithLabelValues("render_failed", "playback").Inc()
	}
	if outcome == OutcomeRendered && audioBytes > 0 {
		audioBytesProcessed.WithLabelValues("rendered").Add(float64(audioBytes))
	}
	playbacks.WithLabelValues(outcome).Inc()
	utteranceDuration.Observe(time.Since(m.acceptedAt).Seconds())
}

// SetQueueDepth publishes the number of tasks waiting in a stage
func SetQueueDepth(stage string, depth int) {
	queueDepth.WithLabelValues(stage).Set(float64(depth))
}

// SetConnectedViewers publishes the number of connected avatar viewers
func SetConnectedViewers(n int) {
	connectedViewers.Set(float64(n))
}

// RecordError records an error
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
