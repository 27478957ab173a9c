package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/embodiedxr/npc-gateway/internal/config"
	"github.com/embodiedxr/npc-gateway/internal/resilience"
)

const (
	defaultAPIURL     = "https://api.cartesia.ai/v1/tts"
	defaultSampleRate = 24000
	chunkSize         = 4096
)

// AudioSink receives synthesized speech audio. PlaySpeech is called once
// per chunk in order; StopSpeech tells the sink to discard anything it
// has not played yet.
type AudioSink interface {
	PlaySpeech(chunk []byte) error
	StopSpeech()
}

// synthesisRequest is the Cartesia TTS request payload.
type synthesisRequest struct {
	Text         string  `json:"text"`
	VoiceID      string  `json:"voice_id"`
	ModelID      string  `json:"model_id,omitempty"`
	OutputFormat string  `json:"output_format,omitempty"`
	SampleRate   int     `json:"sample_rate,omitempty"`
	Speed        float64 `json:"speed,omitempty"`
}

// Speaker synthesizes replies through Cartesia and forwards the PCM
// audio to an AudioSink. IsSpeaking stays true while a synthesis run is
// fetching, forwarding, and covering the estimated playback time of the
// forwarded audio, so callers can poll it to learn when the reply has
// finished sounding.
type Speaker struct {
	apiKey     string
	apiURL     string
	voiceID    string
	modelID    string
	sampleRate int
	httpClient *http.Client
	retryCfg   *resilience.RetryConfig
	sink       AudioSink
	logger     zerolog.Logger

	mu         sync.Mutex
	speaking   bool
	generation uint64
	cancel     context.CancelFunc
}

// NewSpeaker creates a Cartesia-backed Speaker.
func NewSpeaker(cfg *config.Config, sink AudioSink, logger zerolog.Logger) *Speaker {
	return &Speaker{
		apiKey:     cfg.CartesiaAPIKey,
		apiURL:     defaultAPIURL,
		voiceID:    cfg.CartesiaVoiceID,
		modelID:    cfg.CartesiaModelID,
		sampleRate: defaultSampleRate,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		retryCfg: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
		sink:   sink,
		logger: logger.With().Str("component", "tts").Logger(),
	}
}

// Speak starts synthesizing text, cancelling any run still in flight.
// Failures are logged and end the run; the caller observes completion
// through IsSpeaking either way.
func (s *Speaker) Speak(text string) {
	if text == "" {
		return
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.generation++
	gen := s.generation
	s.speaking = true
	s.mu.Unlock()

	go s.run(ctx, gen, text)
}

// Stop cancels the current synthesis run, if any.
func (s *Speaker) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.speaking = false
	s.mu.Unlock()

	s.sink.StopSpeech()
}

// IsSpeaking reports whether a synthesis run is still in flight. Safe
// from any goroutine.
func (s *Speaker) IsSpeaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

func (s *Speaker) run(ctx context.Context, gen uint64, text string) {
	defer s.finish(gen)

	var resp *http.Response
	err := resilience.Retry(func() error {
		var reqErr error
		resp, reqErr = s.request(ctx, text)
		return reqErr
	}, s.retryCfg, resilience.IsRetryableNetworkError)
	if err != nil {
		s.logger.Error().Err(err).Msg("Speech synthesis request failed")
		return
	}
	defer resp.Body.Close()

	total := 0
	buf := make([]byte, chunkSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if sinkErr := s.sink.PlaySpeech(chunk); sinkErr != nil {
				s.logger.Warn().Err(sinkErr).Msg("Audio sink rejected speech chunk")
				return
			}
			total += n
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			s.logger.Error().Err(readErr).Msg("Error reading synthesis response")
			return
		}
		if ctx.Err() != nil {
			return
		}
	}

	if total == 0 {
		s.logger.Warn().Msg("Synthesis returned no audio")
		return
	}

	s.logger.Debug().Int("bytes", total).Msg("Forwarded synthesized speech")

	// Hold the speaking flag for the estimated playback time of the
	// forwarded PCM so polling callers do not cut the reply short.
	timer := time.NewTimer(s.playbackDuration(total))
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (s *Speaker) request(ctx context.Context, text string) (*http.Response, error) {
	payload := synthesisRequest{
		Text:         text,
		VoiceID:      s.voiceID,
		ModelID:      s.modelID,
		OutputFormat: "pcm",
		SampleRate:   s.sampleRate,
		Speed:        1.0,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal synthesis request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create synthesis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("synthesis request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("synthesis API returned status %d", resp.StatusCode)
	}
	return resp, nil
}

// playbackDuration estimates how long the sink needs to play the given
// number of bytes of 16-bit mono PCM.
func (s *Speaker) playbackDuration(byteCount int) time.Duration {
	samples := byteCount / 2
	return time.Duration(samples) * time.Second / time.Duration(s.sampleRate)
}

func (s *Speaker) finish(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return
	}
	s.speaking = false
	s.cancel = nil
}
