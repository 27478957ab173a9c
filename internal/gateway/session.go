package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/embodiedxr/npc-gateway/internal/audio"
	"github.com/embodiedxr/npc-gateway/internal/chat"
	"github.com/embodiedxr/npc-gateway/internal/config"
	"github.com/embodiedxr/npc-gateway/internal/dictation"
	"github.com/embodiedxr/npc-gateway/internal/dispatch"
	"github.com/embodiedxr/npc-gateway/internal/llm"
	"github.com/embodiedxr/npc-gateway/internal/observability"
	"github.com/embodiedxr/npc-gateway/internal/stt"
	"github.com/embodiedxr/npc-gateway/internal/tts"
	"github.com/embodiedxr/npc-gateway/internal/turn"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Embodied clients connect from app runtimes, not browsers;
		// origin checks are left to the deployment's ingress.
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Session owns one connected embodied client: its dispatch queue,
// conversation history, dictation machine, and turn manager. All
// conversational state is mutated on the session goroutine, which is
// the queue's Run loop; the connection reader and recognizer callbacks
// only enqueue.
type Session struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	sessionID string
	cfg       *config.Config
	logger    zerolog.Logger
	metrics   *observability.SessionMetrics

	queue      *dispatch.Queue
	history    *chat.History
	manager    *turn.Manager
	machine    *dictation.Machine
	recognizer *stt.Recognizer
	remote     *remoteSpeaker
	field      *remoteField
	frames     *audio.FrameBuffer
	tick       time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// streamClient adapts the OpenAI client to the turn manager's contract.
type streamClient struct {
	client *llm.OpenAIClient
}

func (c streamClient) StreamChat(ctx context.Context, messages []chat.Message) (turn.ReplyStream, error) {
	stream, err := c.client.StreamChat(ctx, messages)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// sttEvents routes recognizer callbacks onto the session goroutine.
type sttEvents struct {
	s *Session
}

func (e sttEvents) StartedListening() {
	e.s.queue.Enqueue(e.s.machine.HandleStartListening)
}

func (e sttEvents) StoppedListening() {
	e.s.queue.Enqueue(e.s.machine.HandleStoppedListening)
}

func (e sttEvents) PartialTranscript(text string) {
	e.s.queue.Enqueue(func() {
		e.s.machine.HandlePartial(text)
		e.s.sendPreview()
	})
}

func (e sttEvents) FinalTranscript(text string) {
	e.s.queue.Enqueue(func() {
		e.s.machine.HandleFinal(text)
		e.s.sendPreview()
	})
}

func (e sttEvents) TranscriptError(code, message string) {
	e.s.queue.Enqueue(func() {
		e.s.machine.HandleError(code, message)
		e.s.send(ServerMessage{Type: "error", Code: code, Message: message})
	})
}

func (e sttEvents) RequestCompleted() {
	e.s.queue.Enqueue(e.s.machine.HandleRequestCompleted)
}

// NewSession wires a session for one client connection.
func NewSession(conn *websocket.Conn, cfg *config.Config) *Session {
	sessionID := observability.NewSessionID()
	logger := observability.WithSessionID(sessionID)
	metrics := observability.NewSessionMetrics(sessionID)

	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		conn:      conn,
		sessionID: sessionID,
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		queue:     dispatch.NewQueue(),
		history:   chat.NewHistory(cfg.SystemPrompt, cfg.HistoryLimit),
		frames:    audio.NewFrameBuffer(cfg.AudioBufferSize),
		tick:      time.Duration(cfg.TickIntervalMs) * time.Millisecond,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	s.field = newRemoteField(s.send)

	var speaker turn.Speaker
	if cfg.ServerTTSEnabled() {
		speaker = tts.NewSpeaker(cfg, s, logger)
	} else {
		s.remote = newRemoteSpeaker(s.send)
		speaker = s.remote
	}

	s.manager = turn.NewManager(turn.ManagerConfig{
		History: s.history,
		Client:  streamClient{client: llm.NewOpenAIClient(cfg)},
		Speaker: speaker,
		Bubble:  s,
		Sink:    s,
		Queue:   s.queue,
		Timings: turn.TimingsFromConfig(cfg),
		Metrics: metrics,
		Logger:  logger,
	})

	if cfg.DictationEnabled() {
		s.recognizer = stt.NewRecognizer(cfg, sttEvents{s: s})
	}

	machineCfg := dictation.Config{
		Field:            s.field,
		Queue:            s.queue,
		OnUtterance:      s.submit,
		OnStateChange:    s.publishDictationState,
		ErrorRevertDelay: time.Duration(cfg.ErrorRevertDelayMs) * time.Millisecond,
		Metrics:          metrics,
		Logger:           logger,
	}
	if s.recognizer != nil {
		machineCfg.Recognizer = s.recognizer
	}
	s.machine = dictation.NewMachine(machineCfg)

	return s
}

// Handler returns the websocket endpoint for embodied clients.
func Handler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger := observability.GetLogger()
			logger.Error().Err(err).Msg("Failed to upgrade connection")
			return
		}
		defer conn.Close()

		session := NewSession(conn, cfg)
		session.Run()
	}
}

// Run drives the session until the connection closes. The dispatch
// queue's drain loop is the session goroutine.
func (s *Session) Run() {
	s.metrics.RecordSessionStart()
	s.logger.Info().Msg("Session started")

	go s.queue.Run(s.ctx, s.tick)
	go s.pumpAudio()

	s.queue.Enqueue(s.greet)

	s.readLoop()

	s.cancel()
	if s.recognizer != nil {
		if err := s.recognizer.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Error closing recognizer")
		}
	}
	s.metrics.RecordSessionEnd()
	s.logger.Info().Msg("Session ended")
	close(s.done)
}

// Done closes when the session has fully shut down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// greet opens the conversation before the client says anything. The
// greeting joins history so the model sees its own opening line.
func (s *Session) greet() {
	greeting := s.cfg.Greeting
	if greeting != "" {
		s.history.Append(chat.Message{Role: chat.RoleAssistant, Content: greeting})
	}
	s.send(ServerMessage{Type: "session_started", SessionID: s.sessionID, Text: greeting})
	if greeting != "" {
		s.send(ServerMessage{Type: "bubble", Text: greeting})
	}
}

func (s *Session) readLoop() {
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.logger.Error().Err(err).Msg("Failed to parse client message")
			continue
		}
		s.handleMessage(msg)
	}
}

// handleMessage runs on the reader goroutine. Anything touching
// conversational state goes through the queue; field mirroring, audio
// buffering, and playback reports have their own locking.
func (s *Session) handleMessage(msg ClientMessage) {
	switch msg.Type {
	case "say":
		text := msg.Text
		s.queue.Enqueue(func() { s.submit(text) })

	case "toggle_dictation":
		s.queue.Enqueue(s.machine.Toggle)

	case "clear_dictation":
		s.queue.Enqueue(func() {
			s.machine.Clear()
			s.sendPreview()
		})

	case "field_update":
		s.field.update(msg.Text, msg.Focused)

	case "audio":
		s.handleAudio(msg.Payload)

	case "speech_state":
		if s.remote != nil {
			s.remote.setSpeaking(msg.Speaking)
		}

	default:
		s.logger.Warn().Str("type", msg.Type).Msg("Unknown client message type")
	}
}

func (s *Session) handleAudio(payload string) {
	if payload == "" {
		return
	}
	chunk, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to decode audio payload")
		return
	}
	s.metrics.RecordAudioBytes(int64(len(chunk)))
	if evicted := s.frames.Push(chunk); evicted {
		s.logger.Warn().Int("dropped", s.frames.Dropped()).Msg("Audio buffer overflow, dropped oldest frames")
	}
}

// pumpAudio drains buffered capture audio into the recognizer at the
// session tick cadence.
func (s *Session) pumpAudio() {
	if s.recognizer == nil {
		return
	}
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if !s.recognizer.IsActive() {
				continue
			}
			for _, frame := range s.frames.PopAll() {
				if err := s.recognizer.SendAudio(frame); err != nil {
					s.logger.Error().Err(err).Msg("Error sending audio to recognizer")
					s.metrics.RecordError("stt_send_error", "stt")
				}
			}
		}
	}
}

// submit starts a turn for typed or dictated text. Session goroutine
// only; it is both the say handler and the dictation machine's
// finalized-utterance hook.
func (s *Session) submit(text string) {
	results, err := s.manager.Submit(s.ctx, text)
	if err != nil {
		switch {
		case errors.Is(err, turn.ErrEmptyUtterance):
			s.logger.Debug().Msg("Ignoring empty utterance")
		case errors.Is(err, turn.ErrTurnInFlight):
			s.send(ServerMessage{Type: "error", Code: "TURN_IN_FLIGHT", Message: "a reply is still in progress"})
		default:
			s.send(ServerMessage{Type: "error", Code: "TURN_FAILED", Message: err.Error()})
		}
		return
	}

	// The utterance is now owned by the turn; clear the draft.
	s.machine.Clear()
	s.sendPreview()

	go func() {
		result := <-results
		if result.Err != nil {
			s.queue.Enqueue(func() {
				s.send(ServerMessage{Type: "error", Code: "TURN_FAILED", Message: result.Err.Error()})
			})
		}
	}()
}

func (s *Session) publishDictationState(state dictation.State) {
	s.send(ServerMessage{Type: "dictation_state", State: string(state)})
}

func (s *Session) sendPreview() {
	s.send(ServerMessage{Type: "dictation_preview", Text: s.machine.Preview()})
}

// SetBubbleText implements the turn manager's bubble sink.
func (s *Session) SetBubbleText(text string) {
	s.send(ServerMessage{Type: "bubble", Text: text})
}

// SetTalking implements the turn manager's animation sink.
func (s *Session) SetTalking(talking bool) {
	s.send(ServerMessage{Type: "talking", Talking: talking})
}

// PlaySpeech implements the synthesizer's audio sink.
func (s *Session) PlaySpeech(chunk []byte) error {
	s.send(ServerMessage{Type: "speech_audio", Payload: base64.StdEncoding.EncodeToString(chunk)})
	return nil
}

// StopSpeech implements the synthesizer's audio sink.
func (s *Session) StopSpeech() {
	s.send(ServerMessage{Type: "speech_stop"})
}

func (s *Session) send(msg ServerMessage) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(msg); err != nil {
		s.logger.Warn().Err(err).Str("type", msg.Type).Msg("Failed to write message")
	}
}
