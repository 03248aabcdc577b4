// Package config loads application settings from the environment.
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Settings holds every tunable the backend reads at startup. All values come
// from environment variables, optionally seeded from a .env file.
type Settings struct {
	// Server
	Addr string

	// Deepgram streaming transcription
	DeepgramAPIKey    string
	DeepgramModel     string
	AudioSampleRate   int
	AudioChannels     int
	EnableDiarization bool

	// OpenAI generation + embeddings
	OpenAIAPIKey   string
	ChatModel      string
	EmbeddingModel string
	MaxTokens      int
	Temperature    float32

	// Suggestion engine
	SuggestionCooldown time.Duration
	HistoryLimit       int

	// Retrieval
	KnowledgeDir       string
	RedisAddr          string
	IndexPrefix        string
	TopK               int
	RelevanceThreshold float64
	ContextBudget      int

	// Twilio telephony ingest
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
	BaseURL          string
	BaseWsURL        string
}

// Load reads settings from the environment. A missing .env file is not an
// error; individual providers degrade when their keys are absent.
func Load() Settings {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, falling back to environment variables")
	}

	return Settings{
		Addr: getString("ADDR", ":8000"),

		DeepgramAPIKey:    os.Getenv("DEEPGRAM_API_KEY"),
		DeepgramModel:     getString("DEEPGRAM_MODEL", "nova-3"),
		AudioSampleRate:   getInt("AUDIO_SAMPLE_RATE", 16000),
		AudioChannels:     getInt("AUDIO_CHANNELS", 1),
		EnableDiarization: getBool("ENABLE_DIARIZATION", true),

		OpenAIAPIKey:   os.Getenv("OPENAI_API_KEY"),
		ChatModel:      getString("CHAT_MODEL", "gpt-4o-mini"),
		EmbeddingModel: getString("EMBEDDING_MODEL", "text-embedding-3-small"),
		MaxTokens:      getInt("MAX_RESPONSE_TOKENS", 500),
		Temperature:    float32(getFloat("TEMPERATURE", 0.3)),

		SuggestionCooldown: getDuration("SUGGESTION_COOLDOWN", 5*time.Second),
		HistoryLimit:       getInt("HISTORY_LIMIT", 20),

		KnowledgeDir:       os.Getenv("KNOWLEDGE_DIR"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		IndexPrefix:        getString("INDEX_PREFIX", "copilot"),
		TopK:               getInt("RETRIEVAL_TOP_K", 4),
		RelevanceThreshold: getFloat("RELEVANCE_THRESHOLD", 0.7),
		ContextBudget:      getInt("CONTEXT_BUDGET_CHARS", 8000),

		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber: os.Getenv("TWILIO_FROM_NUMBER"),
		BaseURL:          os.Getenv("BASE_URL"),
		BaseWsURL:        os.Getenv("BASE_WS_URL"),
	}
}

// TwilioConfigured reports whether the telephony ingest routes can be served.
func (s Settings) TwilioConfigured() bool {
	return s.TwilioAccountSID != "" && s.TwilioAuthToken != "" && s.TwilioFromNumber != "" && s.BaseURL != "" && s.BaseWsURL != ""
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
