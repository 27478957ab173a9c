package gateway

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/embodiedxr/npc-gateway/internal/config"
)

func sseHandler(chunks []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, chunk := range chunks {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", chunk)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}
}

func sessionConfig(llmURL string) *config.Config {
	return &config.Config{
		OpenAIAPIKey:               "test-key",
		OpenAIBaseURL:              llmURL,
		OpenAIModel:                "gpt-4o-mini",
		Temperature:                0.6,
		LLMTimeout:                 5,
		SystemPrompt:               "You are a helpful guide.",
		Greeting:                   "Hi, how can I help?",
		HistoryLimit:               20,
		TickIntervalMs:             10,
		SpeechTimeout:              5,
		ReplyBaseDelayMs:           10,
		ReplyPerCharMs:             0,
		ReplyMaxExtraMs:            0,
		ErrorRevertDelayMs:         50,
		AudioBufferSize:            8192,
		CircuitBreakerMaxFailures:  5,
		CircuitBreakerResetTimeout: 30,
		RetryMaxAttempts:           1,
		RetryInitialBackoff:        1,
	}
}

func dialSession(t *testing.T, cfg *config.Config) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(Handler(cfg))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads server messages until pred returns true, returning
// everything read so far.
func readUntil(t *testing.T, conn *websocket.Conn, pred func(ServerMessage) bool) []ServerMessage {
	t.Helper()
	var got []ServerMessage
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg ServerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read (after %d messages %+v): %v", len(got), got, err)
		}
		got = append(got, msg)
		if pred(msg) {
			return got
		}
	}
}

func TestSession_GreetsOnConnect(t *testing.T) {
	llm := httptest.NewServer(sseHandler([]string{"unused"}))
	defer llm.Close()
	conn := dialSession(t, sessionConfig(llm.URL))

	got := readUntil(t, conn, func(m ServerMessage) bool { return m.Type == "bubble" })

	if got[0].Type != "session_started" || got[0].SessionID == "" {
		t.Fatalf("first message = %+v, want session_started with id", got[0])
	}
	if got[0].Text != "Hi, how can I help?" {
		t.Fatalf("greeting text = %q", got[0].Text)
	}
	last := got[len(got)-1]
	if last.Text != "Hi, how can I help?" {
		t.Fatalf("greeting bubble = %q", last.Text)
	}
}

func TestSession_TypedTurnStreamsAndLowersTalking(t *testing.T) {
	llm := httptest.NewServer(sseHandler([]string{"Hello ", "there"}))
	defer llm.Close()
	conn := dialSession(t, sessionConfig(llm.URL))

	readUntil(t, conn, func(m ServerMessage) bool { return m.Type == "bubble" })

	if err := conn.WriteJSON(ClientMessage{Type: "say", Text: "hi"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	sawTalking := false
	got := readUntil(t, conn, func(m ServerMessage) bool {
		if m.Type == "talking" && m.Talking {
			sawTalking = true
		}
		return m.Type == "bubble" && m.Text == "Hello there"
	})
	if !sawTalking {
		t.Fatalf("no talking=true before the reply streamed; messages: %+v", got)
	}

	// The client plays the reply and reports playback, letting the
	// speech watcher finish the turn.
	conn.WriteJSON(ClientMessage{Type: "speech_state", Speaking: true})
	time.Sleep(100 * time.Millisecond)
	conn.WriteJSON(ClientMessage{Type: "speech_state", Speaking: false})

	readUntil(t, conn, func(m ServerMessage) bool {
		return m.Type == "talking" && !m.Talking
	})
}

func TestSession_SecondSayWhileBusyIsRejected(t *testing.T) {
	llm := httptest.NewServer(sseHandler([]string{"slow reply"}))
	defer llm.Close()
	conn := dialSession(t, sessionConfig(llm.URL))

	readUntil(t, conn, func(m ServerMessage) bool { return m.Type == "bubble" })

	conn.WriteJSON(ClientMessage{Type: "say", Text: "first"})
	readUntil(t, conn, func(m ServerMessage) bool { return m.Type == "talking" && m.Talking })

	conn.WriteJSON(ClientMessage{Type: "say", Text: "second"})
	got := readUntil(t, conn, func(m ServerMessage) bool { return m.Type == "error" })

	last := got[len(got)-1]
	if last.Code != "TURN_IN_FLIGHT" {
		t.Fatalf("error code = %q, want TURN_IN_FLIGHT", last.Code)
	}
}

func TestSession_LLMFailureSurfacesError(t *testing.T) {
	llm := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer llm.Close()
	conn := dialSession(t, sessionConfig(llm.URL))

	readUntil(t, conn, func(m ServerMessage) bool { return m.Type == "bubble" })

	conn.WriteJSON(ClientMessage{Type: "say", Text: "hi"})
	got := readUntil(t, conn, func(m ServerMessage) bool { return m.Type == "error" })

	last := got[len(got)-1]
	if last.Code != "TURN_FAILED" {
		t.Fatalf("error code = %q, want TURN_FAILED", last.Code)
	}
}
