package turn

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/embodiedxr/npc-gateway/internal/chat"
	"github.com/embodiedxr/npc-gateway/internal/config"
	"github.com/embodiedxr/npc-gateway/internal/dispatch"
	"github.com/embodiedxr/npc-gateway/internal/observability"
)

// ReplyStream is one in-flight streaming reply, as consumed by the
// manager.
type ReplyStream interface {
	Deltas() <-chan string
	Wait() (chat.Message, error)
}

// StreamClient opens one streaming completion call per turn.
type StreamClient interface {
	StreamChat(ctx context.Context, messages []chat.Message) (ReplyStream, error)
}

var (
	// ErrEmptyUtterance is returned for empty or whitespace-only input.
	ErrEmptyUtterance = errors.New("utterance is empty")
	// ErrTurnInFlight is returned when a turn is submitted before the
	// previous one has fully resolved, speech included.
	ErrTurnInFlight = errors.New("a turn is already in flight")
)

// Speaker is the speech-synthesis collaborator contract. IsSpeaking is
// polled, not event-driven, and must be safe to call from any
// goroutine.
type Speaker interface {
	Speak(text string)
	Stop()
	IsSpeaking() bool
}

// BubbleSink receives the visible reply text as it streams in.
type BubbleSink interface {
	SetBubbleText(text string)
}

// Timings holds the watcher cadence and delay parameters.
type Timings struct {
	Tick          time.Duration // poll cadence for the speech watcher
	SpeechTimeout time.Duration // ceiling on waiting for synthesis to finish
	ReplyBase     time.Duration // fixed-delay watcher base
	ReplyPerChar  time.Duration // fixed-delay watcher per reply character
	ReplyMaxExtra time.Duration // cap on the length-based extra delay
}

// TimingsFromConfig converts service configuration into watcher timings.
func TimingsFromConfig(cfg *config.Config) Timings {
	return Timings{
		Tick:          time.Duration(cfg.TickIntervalMs) * time.Millisecond,
		SpeechTimeout: time.Duration(cfg.SpeechTimeout) * time.Second,
		ReplyBase:     time.Duration(cfg.ReplyBaseDelayMs) * time.Millisecond,
		ReplyPerChar:  time.Duration(cfg.ReplyPerCharMs) * time.Millisecond,
		ReplyMaxExtra: time.Duration(cfg.ReplyMaxExtraMs) * time.Millisecond,
	}
}

// Result is the outcome of a turn's streaming phase. The talking flag
// transitioning back to false, not this result, marks the turn as fully
// finished including speech.
type Result struct {
	Reply string
	Err   error
}

// ManagerConfig wires a Manager to its collaborators.
type ManagerConfig struct {
	History *chat.History
	Client  StreamClient
	Speaker Speaker // optional; nil selects the fixed-delay watcher
	Bubble  BubbleSink
	Sink    AnimationSink
	Queue   *dispatch.Queue
	Timings Timings
	Metrics *observability.SessionMetrics
	Logger  zerolog.Logger
}

// Manager drives one conversational turn at a time: it appends the user
// message, streams the reply into the visible bubble, raises and lowers
// the talking flag, and trims history. All state except the speaker
// predicate is touched only on the session goroutine; producer
// goroutines route every mutation through the dispatch queue.
type Manager struct {
	cfg     ManagerConfig
	talking *talkingFlag

	busy     bool
	turnSeq  uint64
	response strings.Builder
}

// NewManager creates a turn manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Timings.Tick <= 0 {
		cfg.Timings.Tick = 50 * time.Millisecond
	}
	return &Manager{
		cfg: cfg,
		talking: &talkingFlag{
			sink:    cfg.Sink,
			logger:  cfg.Logger,
			metrics: cfg.Metrics,
		},
	}
}

// Talking reports the current flag value. Session goroutine only.
func (m *Manager) Talking() bool {
	return m.talking.value
}

// Busy reports whether a turn is in flight. Session goroutine only.
func (m *Manager) Busy() bool {
	return m.busy
}

// Submit starts a conversational turn for the given utterance. It must
// be called on the session goroutine and returns immediately; the
// returned channel delivers exactly one Result when the streaming phase
// ends. Empty input and a turn already in flight are rejected up front.
func (m *Manager) Submit(ctx context.Context, text string) (<-chan Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyUtterance
	}
	if m.busy {
		m.cfg.Logger.Warn().Msg("turn rejected: previous turn still resolving")
		if m.cfg.Metrics != nil {
			m.cfg.Metrics.RecordTurnEnd("rejected")
		}
		return nil, ErrTurnInFlight
	}

	m.busy = true
	m.turnSeq++
	seq := m.turnSeq

	m.cfg.History.Append(chat.Message{Role: chat.RoleUser, Content: text})
	m.response.Reset()
	if m.cfg.Bubble != nil {
		m.cfg.Bubble.SetBubbleText("")
	}

	// The agent appears about to speak before the first delta arrives.
	m.talking.set(true, "turn start")

	if m.cfg.Metrics != nil {
		m.cfg.Metrics.RecordTurnStart()
	}

	messages := m.cfg.History.Messages()
	results := make(chan Result, 1)
	go m.runStream(ctx, seq, messages, results)
	return results, nil
}

// runStream owns the streaming call. It never mutates manager state
// directly; every update is funneled through the dispatch queue.
func (m *Manager) runStream(ctx context.Context, seq uint64, messages []chat.Message, results chan<- Result) {
	stream, err := m.cfg.Client.StreamChat(ctx, messages)
	if err != nil {
		m.cfg.Queue.Enqueue(func() { m.failTurn(seq, err, results) })
		return
	}

	for delta := range stream.Deltas() {
		delta := delta
		m.cfg.Queue.Enqueue(func() { m.applyDelta(seq, delta) })
	}

	final, err := stream.Wait()
	if err != nil {
		m.cfg.Queue.Enqueue(func() { m.failTurn(seq, err, results) })
		return
	}
	m.cfg.Queue.Enqueue(func() { m.completeStream(seq, final, results) })
}

// applyDelta appends one reply fragment in arrival order and refreshes
// the bubble.
func (m *Manager) applyDelta(seq uint64, delta string) {
	if seq != m.turnSeq {
		return
	}
	m.response.WriteString(delta)
	if m.cfg.Bubble != nil {
		m.cfg.Bubble.SetBubbleText(m.response.String())
	}
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.RecordDelta()
	}
}

// completeStream records the authoritative assistant message, hands the
// locally accumulated text to speech, and starts the completion watcher.
func (m *Manager) completeStream(seq uint64, final chat.Message, results chan<- Result) {
	if seq != m.turnSeq {
		return
	}

	// The authoritative message goes to history; the spoken and
	// displayed text stay on the locally accumulated buffer.
	m.cfg.History.Append(final)

	reply := m.response.String()
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.RecordTurnEnd("ok")
	}

	if m.cfg.Speaker != nil && strings.TrimSpace(reply) != "" {
		m.cfg.Speaker.Stop()
		m.cfg.Speaker.Speak(reply)
		go m.watchSpeech(seq)
	} else {
		m.startReplyDelay(seq, len(reply))
	}

	results <- Result{Reply: reply}
}

// failTurn terminates a turn whose stream failed: the flag drops, the
// user message stays in history, and the error surfaces on the result
// channel instead of crossing the dispatch boundary.
func (m *Manager) failTurn(seq uint64, err error, results chan<- Result) {
	if seq == m.turnSeq {
		m.cfg.Logger.Error().Err(err).Msg("turn stream failed")
		m.busy = false
		m.talking.set(false, "stream failure")
		if m.cfg.Metrics != nil {
			m.cfg.Metrics.RecordTurnEnd("stream_error")
		}
	}
	results <- Result{Err: err}
}

// watchSpeech polls the speaker predicate at the tick cadence until
// synthesis ends or the ceiling elapses. Timeout is a recoverable
// condition, not an error.
func (m *Manager) watchSpeech(seq uint64) {
	ticker := time.NewTicker(m.cfg.Timings.Tick)
	defer ticker.Stop()
	deadline := time.Now().Add(m.cfg.Timings.SpeechTimeout)

	for range ticker.C {
		if !m.cfg.Speaker.IsSpeaking() {
			m.cfg.Queue.Enqueue(func() { m.finishTurn(seq, "speech completed") })
			return
		}
		if time.Now().After(deadline) {
			m.cfg.Logger.Warn().
				Dur("timeout", m.cfg.Timings.SpeechTimeout).
				Msg("speech watcher timed out waiting for synthesis to finish")
			if m.cfg.Metrics != nil {
				m.cfg.Metrics.RecordSpeechWatcherTimeout()
			}
			m.cfg.Queue.Enqueue(func() { m.finishTurn(seq, "speech timeout") })
			return
		}
	}
}

// startReplyDelay ends the turn after a reading delay scaled by reply
// length, used when no speaker is bound or the reply is empty.
func (m *Manager) startReplyDelay(seq uint64, replyLen int) {
	extra := time.Duration(replyLen) * m.cfg.Timings.ReplyPerChar
	if extra > m.cfg.Timings.ReplyMaxExtra {
		extra = m.cfg.Timings.ReplyMaxExtra
	}
	delay := m.cfg.Timings.ReplyBase + extra

	time.AfterFunc(delay, func() {
		m.cfg.Queue.Enqueue(func() { m.finishTurn(seq, "reply delay elapsed") })
	})
}

// finishTurn lowers the talking flag exactly once per turn; a watcher
// from a superseded turn is a no-op.
func (m *Manager) finishTurn(seq uint64, source string) {
	if seq != m.turnSeq {
		return
	}
	m.busy = false
	m.talking.set(false, source)
}
