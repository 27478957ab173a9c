package config

import (
	"os"
	"testing"
)

func TestLoad(t *testing.T) {
	os.Setenv("OPENAI_API_KEY", "test-openai-key")
	defer os.Unsetenv("OPENAI_API_KEY")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.OpenAIAPIKey != "test-openai-key" {
		t.Errorf("Expected OpenAIAPIKey 'test-openai-key', got '%s'", cfg.OpenAIAPIKey)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	os.Unsetenv("OPENAI_API_KEY")

	_, err := Load()
	if err == nil {
		t.Error("Expected error when OPENAI_API_KEY is missing")
	}
}

func TestLoad_Defaults(t *testing.T) {
	os.Setenv("OPENAI_API_KEY", "test-openai-key")
	defer os.Unsetenv("OPENAI_API_KEY")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected default Port '8080', got '%s'", cfg.Port)
	}

	if cfg.OpenAIModel != "gpt-4o-mini" {
		t.Errorf("Expected default OpenAIModel 'gpt-4o-mini', got '%s'", cfg.OpenAIModel)
	}

	if cfg.Temperature != 0.6 {
		t.Errorf("Expected default Temperature 0.6, got %f", cfg.Temperature)
	}

	if cfg.HistoryLimit != 20 {
		t.Errorf("Expected default HistoryLimit 20, got %d", cfg.HistoryLimit)
	}

	if cfg.TickIntervalMs != 50 {
		t.Errorf("Expected default TickIntervalMs 50, got %d", cfg.TickIntervalMs)
	}

	if cfg.SpeechTimeout != 30 {
		t.Errorf("Expected default SpeechTimeout 30, got %d", cfg.SpeechTimeout)
	}

	if cfg.ReplyBaseDelayMs != 2000 {
		t.Errorf("Expected default ReplyBaseDelayMs 2000, got %d", cfg.ReplyBaseDelayMs)
	}

	if cfg.ReplyPerCharMs != 50 {
		t.Errorf("Expected default ReplyPerCharMs 50, got %d", cfg.ReplyPerCharMs)
	}

	if cfg.ReplyMaxExtraMs != 5000 {
		t.Errorf("Expected default ReplyMaxExtraMs 5000, got %d", cfg.ReplyMaxExtraMs)
	}

	if cfg.ErrorRevertDelayMs != 2000 {
		t.Errorf("Expected default ErrorRevertDelayMs 2000, got %d", cfg.ErrorRevertDelayMs)
	}

	if cfg.DeepgramModel != "nova-2" {
		t.Errorf("Expected default DeepgramModel 'nova-2', got '%s'", cfg.DeepgramModel)
	}

	if cfg.AudioBufferSize != 8192 {
		t.Errorf("Expected default AudioBufferSize 8192, got %d", cfg.AudioBufferSize)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("Expected default LogLevel 'info', got '%s'", cfg.LogLevel)
	}

	if !cfg.MetricsEnabled {
		t.Error("Expected MetricsEnabled to default to true")
	}
}

func TestLoad_OptionalCollaborators(t *testing.T) {
	os.Setenv("OPENAI_API_KEY", "test-openai-key")
	defer os.Unsetenv("OPENAI_API_KEY")
	os.Unsetenv("DEEPGRAM_API_KEY")
	os.Unsetenv("CARTESIA_API_KEY")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.DictationEnabled() {
		t.Error("DictationEnabled should be false without DEEPGRAM_API_KEY")
	}
	if cfg.ServerTTSEnabled() {
		t.Error("ServerTTSEnabled should be false without CARTESIA_API_KEY")
	}

	os.Setenv("DEEPGRAM_API_KEY", "dg-key")
	defer os.Unsetenv("DEEPGRAM_API_KEY")

	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if !cfg.DictationEnabled() {
		t.Error("DictationEnabled should be true with DEEPGRAM_API_KEY set")
	}
}

func TestLoad_InvalidHistoryLimit(t *testing.T) {
	os.Setenv("OPENAI_API_KEY", "test-openai-key")
	os.Setenv("HISTORY_LIMIT", "1")
	defer os.Unsetenv("OPENAI_API_KEY")
	defer os.Unsetenv("HISTORY_LIMIT")

	_, err := Load()
	if err == nil {
		t.Error("Expected error for HISTORY_LIMIT below 2")
	}
}
