// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	AllowedOrigins []string

	// Retrieval index.
	IndexPath string
	TopK      int

	// Gemini API.
	GoogleAPIKey   string
	LLMModel       string
	EmbeddingModel string
	Temperature    float64
	MaxTokens      int

	// Collaborator timeouts and retries.
	RetrievalTimeout  time.Duration
	GenerationTimeout time.Duration
	GenerationRetries int

	// Prompt assembly.
	PromptMaxChars  int
	MaxHistoryTurns int

	// Session store.
	SessionBackend     string // "memory" or "sqlite"
	DBPath             string
	SessionIdleTimeout time.Duration
	MaxSessions        int
	EvictionInterval   time.Duration

	// Persona definition; empty means the embedded default.
	PersonaPath string

	// Rate limiting per session.
	RateLimitRequests int
	RateLimitWindow   time.Duration

	MaxRequestBodySize int64

	Transcript TranscriptConfig
}

// TranscriptConfig controls NDJSON conversation transcript logging.
type TranscriptConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("TRANSCRIPT_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:           getEnv("PORT", "8000"),
		AllowedOrigins: splitCSV(getEnv("ALLOWED_ORIGINS", "*")),

		IndexPath: getEnv("INDEX_PATH", "./storage/index.json"),
		TopK:      getEnvInt("RETRIEVAL_TOP_K", 3),

		GoogleAPIKey:   getEnv("GOOGLE_API_KEY", ""),
		LLMModel:       getEnv("LLM_MODEL", "gemini-1.5-flash"),
		EmbeddingModel: getEnv("EMBEDDING_MODEL", "embedding-001"),
		Temperature:    getEnvFloat("LLM_TEMPERATURE", 0.7),
		MaxTokens:      getEnvInt("LLM_MAX_TOKENS", 500),

		RetrievalTimeout:  getEnvDuration("RETRIEVAL_TIMEOUT", 10*time.Second),
		GenerationTimeout: getEnvDuration("GENERATION_TIMEOUT", 30*time.Second),
		GenerationRetries: getEnvInt("GENERATION_RETRIES", 1),

		PromptMaxChars:  getEnvInt("PROMPT_MAX_CHARS", 24000),
		MaxHistoryTurns: getEnvInt("MAX_HISTORY_TURNS", 20),

		SessionBackend:     getEnv("SESSION_BACKEND", "memory"),
		DBPath:             getEnv("DB_PATH", "./data/sessions.db"),
		SessionIdleTimeout: getEnvDuration("SESSION_IDLE_TIMEOUT", 60*time.Minute),
		MaxSessions:        getEnvInt("MAX_SESSIONS", 10000),
		EvictionInterval:   getEnvDuration("SESSION_EVICTION_INTERVAL", 5*time.Minute),

		PersonaPath: getEnv("PERSONA_PATH", ""),

		RateLimitRequests: getEnvInt("RATE_LIMIT_REQUESTS", 20),
		RateLimitWindow:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),

		MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 1<<20)),

		Transcript: TranscriptConfig{
			Enabled:       getEnvBool("TRANSCRIPT_ENABLED", true),
			Dir:           getEnv("TRANSCRIPT_DIR", "./data/transcripts"),
			GlobalEnabled: getEnvBool("TRANSCRIPT_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("TRANSCRIPT_GLOBAL_PATH", "./data/transcripts/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.GoogleAPIKey == "" {
		return fmt.Errorf("GOOGLE_API_KEY cannot be empty")
	}
	if c.TopK <= 0 {
		return fmt.Errorf("RETRIEVAL_TOP_K must be > 0")
	}
	if c.PromptMaxChars <= 0 {
		return fmt.Errorf("PROMPT_MAX_CHARS must be > 0")
	}
	if c.MaxHistoryTurns < 0 {
		return fmt.Errorf("MAX_HISTORY_TURNS cannot be negative")
	}
	if c.GenerationRetries < 0 {
		return fmt.Errorf("GENERATION_RETRIES cannot be negative")
	}
	switch c.SessionBackend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("SESSION_BACKEND must be \"memory\" or \"sqlite\", got %q", c.SessionBackend)
	}
	if c.SessionBackend == "sqlite" && c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty when SESSION_BACKEND=sqlite")
	}
	if c.MaxSessions <= 0 {
		return fmt.Errorf("MAX_SESSIONS must be > 0")
	}
	if c.Transcript.Enabled && c.Transcript.Dir == "" {
		return fmt.Errorf("TRANSCRIPT_DIR cannot be empty")
	}
	return nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
