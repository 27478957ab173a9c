package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/embodiedxr/npc-gateway/internal/chat"
	"github.com/embodiedxr/npc-gateway/internal/config"
	"github.com/embodiedxr/npc-gateway/internal/observability"
	"github.com/embodiedxr/npc-gateway/internal/resilience"
)

// OpenAIClient implements StreamClient against an OpenAI-compatible
// chat completion endpoint using server-sent events.
type OpenAIClient struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	httpClient  *http.Client
	breaker     *resilience.CircuitBreaker
	retryCfg    *resilience.RetryConfig
	logger      zerolog.Logger
}

// NewOpenAIClient creates a streaming chat client from service config.
func NewOpenAIClient(cfg *config.Config) *OpenAIClient {
	return &OpenAIClient{
		apiKey:      cfg.OpenAIAPIKey,
		baseURL:     strings.TrimSuffix(cfg.OpenAIBaseURL, "/"),
		model:       cfg.OpenAIModel,
		temperature: cfg.Temperature,
		httpClient:  &http.Client{Timeout: time.Duration(cfg.LLMTimeout) * time.Second},
		breaker: resilience.NewCircuitBreaker(
			"openai",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
		retryCfg: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
		logger: observability.GetLogger().With().Str("component", "llm").Logger(),
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// StreamChat opens one streaming completion call. The returned stream
// delivers deltas in arrival order and resolves with the final
// assistant message. Connection establishment is retried on transient
// network errors and guarded by a circuit breaker; once the body is
// streaming, failures terminate the stream without retry.
func (c *OpenAIClient) StreamChat(ctx context.Context, messages []chat.Message) (*Stream, error) {
	msgs := make([]chatMessage, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, chatMessage{Role: string(m.Role), Content: m.Content})
	}

	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    msgs,
		Stream:      true,
		Temperature: c.temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var resp *http.Response
	connect := func() error {
		return c.breaker.Call(func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost,
				c.baseURL+"/chat/completions", bytes.NewReader(body))
			if err != nil {
				return fmt.Errorf("failed to create request: %w", err)
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
			req.Header.Set("Accept", "text/event-stream")

			r, err := c.httpClient.Do(req)
			if err != nil {
				return fmt.Errorf("failed to send request: %w", err)
			}
			if r.StatusCode != http.StatusOK {
				respBody, _ := io.ReadAll(io.LimitReader(r.Body, 4096))
				r.Body.Close()
				return fmt.Errorf("chat API error: %s - %s", r.Status, string(respBody))
			}
			resp = r
			return nil
		})
	}

	if err := resilience.Retry(connect, c.retryCfg, resilience.IsRetryableNetworkError); err != nil {
		observability.UpdateCircuitBreakerState("openai", int(c.breaker.GetState()))
		return nil, err
	}
	observability.UpdateCircuitBreakerState("openai", int(c.breaker.GetState()))

	stream := newStream()
	go c.readStream(ctx, resp.Body, stream)
	return stream, nil
}

// readStream parses the SSE body line by line, emitting delta content
// and accumulating the final message.
func (c *OpenAIClient) readStream(ctx context.Context, body io.ReadCloser, stream *Stream) {
	defer body.Close()

	var full strings.Builder
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			stream.finish(chat.Message{Role: chat.RoleAssistant, Content: full.String()}, nil)
			return
		}

		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			c.logger.Debug().Err(err).Msg("skipping unparseable stream chunk")
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		content := chunk.Choices[0].Delta.Content
		if content == "" {
			continue
		}
		full.WriteString(content)

		select {
		case <-ctx.Done():
			stream.finish(chat.Message{}, ctx.Err())
			return
		case stream.deltas <- content:
		}
	}

	if err := scanner.Err(); err != nil {
		stream.finish(chat.Message{}, fmt.Errorf("stream read failed: %w", err))
		return
	}

	// Stream ended without a [DONE] marker; treat accumulated content as final.
	stream.finish(chat.Message{Role: chat.RoleAssistant, Content: full.String()}, nil)
}
