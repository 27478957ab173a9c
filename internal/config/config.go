package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the NPC chat gateway service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// OpenAI-compatible chat completion API
	OpenAIAPIKey  string  `envconfig:"OPENAI_API_KEY" required:"true"`
	OpenAIBaseURL string  `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com/v1"`
	OpenAIModel   string  `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	Temperature   float64 `envconfig:"OPENAI_TEMPERATURE" default:"0.6"`
	LLMTimeout    int     `envconfig:"LLM_TIMEOUT" default:"60"` // seconds

	// Persona
	SystemPrompt string `envconfig:"SYSTEM_PROMPT" default:"You are a friendly in-world NPC. Answer briefly and helpfully."`
	Greeting     string `envconfig:"GREETING" default:""` // optional opening bubble line

	// Session configuration
	HistoryLimit   int `envconfig:"HISTORY_LIMIT" default:"20"`    // messages kept, system entry included
	TickIntervalMs int `envconfig:"TICK_INTERVAL_MS" default:"50"` // dispatch drain / poll cadence

	// Talking-state timing
	SpeechTimeout      int `envconfig:"SPEECH_TIMEOUT" default:"30"`        // seconds, speech-watcher ceiling
	ReplyBaseDelayMs   int `envconfig:"REPLY_BASE_DELAY_MS" default:"2000"` // fixed-delay watcher base
	ReplyPerCharMs     int `envconfig:"REPLY_PER_CHAR_MS" default:"50"`     // fixed-delay watcher per character
	ReplyMaxExtraMs    int `envconfig:"REPLY_MAX_EXTRA_MS" default:"5000"`  // cap on the length-based extra
	ErrorRevertDelayMs int `envconfig:"ERROR_REVERT_DELAY_MS" default:"2000"`

	// Deepgram STT configuration (optional; dictation is disabled without a key)
	DeepgramAPIKey     string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel      string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`
	DeepgramLanguage   string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`
	DeepgramSampleRate int    `envconfig:"DEEPGRAM_SAMPLE_RATE" default:"16000"`
	DeepgramEncoding   string `envconfig:"DEEPGRAM_ENCODING" default:"linear16"`

	// Cartesia TTS configuration (optional; the client-side speaker is used without a key)
	CartesiaAPIKey  string `envconfig:"CARTESIA_API_KEY" default:""`
	CartesiaVoiceID string `envconfig:"CARTESIA_VOICE_ID" default:"sonic-english"`
	CartesiaModelID string `envconfig:"CARTESIA_MODEL_ID" default:"sonic"`

	// Audio frame buffering ahead of the recognizer
	AudioBufferSize int `envconfig:"AUDIO_BUFFER_SIZE" default:"8192"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // seconds
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"` // milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"` // milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// Load reads configuration from environment variables.
// It first attempts to load from a .env file if one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without consulting a .env file (useful for containerized deployments).
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	if cfg.HistoryLimit < 2 {
		return nil, fmt.Errorf("HISTORY_LIMIT must be at least 2 (system message plus one turn)")
	}
	if cfg.TickIntervalMs <= 0 {
		return nil, fmt.Errorf("TICK_INTERVAL_MS must be positive")
	}

	return &cfg, nil
}

// DictationEnabled reports whether a speech recognizer can be attached.
func (c *Config) DictationEnabled() bool {
	return c.DeepgramAPIKey != ""
}

// ServerTTSEnabled reports whether the server-side speech synthesizer
// can be attached.
func (c *Config) ServerTTSEnabled() bool {
	return c.CartesiaAPIKey != ""
}
