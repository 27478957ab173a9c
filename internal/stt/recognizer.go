package stt

import (
	"context"
	"fmt"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/embodiedxr/npc-gateway/internal/config"
	"github.com/embodiedxr/npc-gateway/internal/observability"
	"github.com/embodiedxr/npc-gateway/internal/resilience"
)

// EventHandler receives recognizer events. Callbacks arrive on SDK
// goroutines; the caller is responsible for routing them onto the
// session goroutine (through the dispatch queue) before touching
// dictation state.
type EventHandler interface {
	StartedListening()
	StoppedListening()
	PartialTranscript(text string)
	FinalTranscript(text string)
	TranscriptError(code, message string)
	RequestCompleted()
}

// callbackHandler implements the SDK's LiveMessageCallback interface.
// It embeds the default handler and overrides only what we need.
type callbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	onMessage func(*msginterfaces.MessageResponse)
	onError   func(*msginterfaces.ErrorResponse) error
}

func (h *callbackHandler) Message(msg *msginterfaces.MessageResponse) error {
	h.onMessage(msg)
	return nil
}

func (h *callbackHandler) Error(errResp *msginterfaces.ErrorResponse) error {
	if h.onError != nil {
		return h.onError(errResp)
	}
	return h.DefaultCallbackHandler.Error(errResp)
}

// Recognizer is a Deepgram-backed speech recognizer satisfying the
// dictation machine's collaborator contract.
type Recognizer struct {
	cfg     *config.Config
	handler EventHandler
	logger  zerolog.Logger
	breaker *resilience.CircuitBreaker

	mu     sync.RWMutex
	client *listenClient.WSCallback
	active bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRecognizer creates a recognizer. Events go to handler once
// Activate succeeds.
func NewRecognizer(cfg *config.Config, handler EventHandler) *Recognizer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Recognizer{
		cfg:     cfg,
		handler: handler,
		logger:  observability.GetLogger().With().Str("component", "stt").Logger(),
		breaker: resilience.NewCircuitBreaker(
			"deepgram",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Activate opens a live transcription session.
func (r *Recognizer) Activate() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active {
		return fmt.Errorf("recognizer is already active")
	}

	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          r.cfg.DeepgramModel,
		Language:       r.cfg.DeepgramLanguage,
		Punctuate:      true,
		InterimResults: true,
		UtteranceEndMs: "1000",
		VadEvents:      true,
		Encoding:       r.cfg.DeepgramEncoding,
		Channels:       1,
		SampleRate:     r.cfg.DeepgramSampleRate,
	}

	callback := &callbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		onMessage:              r.handleMessage,
		onError: func(errResp *msginterfaces.ErrorResponse) error {
			r.logger.Warn().Msgf("deepgram error: %+v", errResp)

			r.breaker.RecordResult(false)
			observability.UpdateCircuitBreakerState("deepgram", int(r.breaker.GetState()))
			observability.IncrementCircuitBreakerFailures("deepgram")

			r.handler.TranscriptError("DG_STREAM", fmt.Sprintf("%+v", errResp))

			select {
			case <-r.ctx.Done():
				return nil
			default:
				r.mu.Lock()
				r.active = false
				r.mu.Unlock()
				go r.attemptReconnect()
			}
			return nil
		},
	}

	client, err := listenClient.NewWSUsingCallback(
		r.ctx,
		r.cfg.DeepgramAPIKey,
		nil, // ClientOptions - nil uses defaults
		tOptions,
		callback,
	)
	if err != nil {
		return fmt.Errorf("failed to create deepgram client: %w", err)
	}

	r.client = client
	r.active = true
	r.breaker.RecordResult(true)
	observability.UpdateCircuitBreakerState("deepgram", int(r.breaker.GetState()))

	r.logger.Info().
		Str("model", r.cfg.DeepgramModel).
		Str("language", r.cfg.DeepgramLanguage).
		Msg("deepgram live session started")

	r.handler.StartedListening()
	return nil
}

// handleMessage fans SDK messages out to the event handler.
func (r *Recognizer) handleMessage(msg *msginterfaces.MessageResponse) {
	if msg == nil {
		return
	}

	switch msg.Type {
	case "Metadata":
		r.logger.Debug().Msgf("deepgram metadata: %+v", msg.Metadata)

	case "SpeechStarted":
		r.logger.Debug().Msg("deepgram: speech started")

	case "UtteranceEnd":
		r.handler.RequestCompleted()

	case "Results", "Message":
		if len(msg.Channel.Alternatives) == 0 {
			return
		}
		transcript := msg.Channel.Alternatives[0].Transcript
		if transcript == "" {
			return
		}
		if msg.IsFinal {
			r.handler.FinalTranscript(transcript)
		} else {
			r.handler.PartialTranscript(transcript)
		}

	default:
		r.logger.Debug().Str("type", msg.Type).Msg("deepgram: unhandled message type")
	}
}

// SendAudio forwards one captured audio chunk to the live session.
func (r *Recognizer) SendAudio(chunk []byte) error {
	err := r.breaker.Call(func() error {
		r.mu.RLock()
		active := r.active
		client := r.client
		r.mu.RUnlock()

		if !active || client == nil {
			return fmt.Errorf("recognizer is not active")
		}

		if _, err := client.Write(chunk); err != nil {
			go r.attemptReconnect()
			return fmt.Errorf("failed to send audio: %w", err)
		}
		return nil
	})

	observability.UpdateCircuitBreakerState("deepgram", int(r.breaker.GetState()))
	if err != nil {
		observability.IncrementCircuitBreakerFailures("deepgram")
	}
	return err
}

func (r *Recognizer) attemptReconnect() {
	select {
	case <-r.ctx.Done():
		return
	default:
	}

	r.mu.RLock()
	alreadyActive := r.active
	r.mu.RUnlock()
	if alreadyActive {
		return
	}

	reconnectCfg := &resilience.ReconnectConfig{
		MaxAttempts: r.cfg.ReconnectMaxAttempts,
		Backoff:     time.Duration(r.cfg.ReconnectBackoff) * time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  30 * time.Second,
	}

	if err := resilience.Reconnect(r.ctx, r.Activate, reconnectCfg); err != nil {
		r.logger.Error().Err(err).Msg("failed to reconnect deepgram session")
		return
	}
	r.logger.Info().Msg("deepgram session reconnected")
}

// Deactivate ends the live session; the engine may still deliver a
// trailing final transcript before shutdown completes.
func (r *Recognizer) Deactivate() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.active {
		return nil
	}

	r.client.Finish()
	r.active = false
	r.logger.Info().Msg("deepgram live session stopped")

	r.handler.StoppedListening()
	return nil
}

// IsActive reports whether a live session is open.
func (r *Recognizer) IsActive() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Close tears the recognizer down for good.
func (r *Recognizer) Close() error {
	r.cancel()
	return r.Deactivate()
}
