package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "npc_gateway_active_sessions",
		Help: "Number of connected chat sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "npc_gateway_sessions_total",
		Help: "Total number of chat sessions handled",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "npc_gateway_session_duration_seconds",
		Help:    "Duration of chat sessions in seconds",
		Buckets: []float64{10, 30, 60, 120, 300, 600, 1800},
	})

	// Turn metrics
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "npc_gateway_turns_total",
		Help: "Total number of conversational turns by outcome",
	}, []string{"outcome"}) // outcome: "ok", "stream_error", "rejected"

	turnStreamLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "npc_gateway_turn_stream_latency_seconds",
		Help:    "Time from turn submission to stream completion in seconds",
		Buckets: []float64{0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 20.0},
	})

	deltasTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "npc_gateway_reply_deltas_total",
		Help: "Total number of streamed reply fragments applied",
	})

	talkingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "npc_gateway_talking_duration_seconds",
		Help:    "Time the talking flag stayed raised per turn in seconds",
		Buckets: []float64{1, 2, 5, 10, 20, 30, 60},
	})

	speechWatcherTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "npc_gateway_speech_watcher_timeouts_total",
		Help: "Speech-completion watchers that hit the polling ceiling",
	})

	// Dictation metrics
	dictationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "npc_gateway_dictation_errors_total",
		Help: "Speech-capture errors reported by the recognizer",
	}, []string{"code"})

	utterancesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "npc_gateway_utterances_total",
		Help: "Total number of finalized utterances",
	})

	// Dispatch queue metrics
	dispatchQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "npc_gateway_dispatch_queue_depth",
		Help: "Deferred actions waiting for the next drain pass",
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "npc_gateway_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "npc_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "npc_gateway_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "npc_gateway_audio_bytes_total",
		Help: "Total audio bytes received from clients",
	})
)

// SessionMetrics tracks metrics for a single chat session
type SessionMetrics struct {
	sessionID       string
	startTime       time.Time
	mu              sync.Mutex
	turnStartTime   time.Time
	talkingRaisedAt time.Time
}

// NewSessionMetrics creates a metrics tracker for one session
func NewSessionMetrics(sessionID string) *SessionMetrics {
	return &SessionMetrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *SessionMetrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session
func (m *SessionMetrics) RecordSessionEnd() {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordTurnStart marks the beginning of a conversational turn
func (m *SessionMetrics) RecordTurnStart() {
	m.mu.Lock()
	m.turnStartTime = time.Now()
	m.mu.Unlock()
}

// RecordTurnEnd records the outcome of a turn's streaming phase
func (m *SessionMetrics) RecordTurnEnd(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.turnStartTime.IsZero() {
		turnStreamLatency.Observe(time.Since(m.turnStartTime).Seconds())
		m.turnStartTime = time.Time{}
	}
	turnsTotal.WithLabelValues(outcome).Inc()
}

// RecordDelta counts one applied reply fragment
func (m *SessionMetrics) RecordDelta() {
	deltasTotal.Inc()
}

// RecordTalking tracks talking-flag transitions and observes the raised span
func (m *SessionMetrics) RecordTalking(raised bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if raised {
		m.talkingRaisedAt = time.Now()
		return
	}
	if !m.talkingRaisedAt.IsZero() {
		talkingDuration.Observe(time.Since(m.talkingRaisedAt).Seconds())
		m.talkingRaisedAt = time.Time{}
	}
}

// RecordSpeechWatcherTimeout counts a speech watcher that hit its ceiling
func (m *SessionMetrics) RecordSpeechWatcherTimeout() {
	speechWatcherTimeouts.Inc()
}

// RecordUtterance counts one finalized dictation utterance
func (m *SessionMetrics) RecordUtterance() {
	utterancesTotal.Inc()
}

// RecordDictationError counts a recognizer error by code
func (m *SessionMetrics) RecordDictationError(code string) {
	dictationErrors.WithLabelValues(code).Inc()
}

// RecordError records an error
func (m *SessionMetrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes received from the client
func (m *SessionMetrics) RecordAudioBytes(bytes int64) {
	audioBytesReceived.Add(float64(bytes))
}

// SetDispatchQueueDepth updates the dispatch queue depth gauge
func SetDispatchQueueDepth(depth int) {
	dispatchQueueDepth.Set(float64(depth))
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
