// Package config provides configuration for the analysis service.
package config

import (
	"os"
	"strconv"
	"time"
)

// DefaultSystemPrompt is injected ahead of the conversation on every model
// call. It is not stored in turn history.
const DefaultSystemPrompt = "You are a careful medical assistant. Provide likely diagnoses from the image, quantify uncertainty, and always recommend clinical confirmation."

// Config holds the service configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Upstream model settings
	GroqAPIURL   string
	GroqAPIKey   string
	Model        string
	MaxTokens    int
	Temperature  float64
	ModelRetries int
	SystemPrompt string

	// Image settings
	MaxImageWidth  int
	JPEGQuality    int
	MaxUploadBytes int64

	// Timeouts
	TurnTimeout time.Duration
	SessionTTL  time.Duration

	// Trace store
	TraceDB string
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		HTTPPort:       getEnvInt("HTTP_PORT", 8080),
		GroqAPIURL:     getEnv("GROQ_API_URL", "https://api.groq.com/openai/v1"),
		GroqAPIKey:     getEnv("GROQ_API_KEY", ""),
		Model:          getEnv("GROQ_MODEL", "meta-llama/llama-4-scout-17b-16e-instruct"),
		MaxTokens:      getEnvInt("MAX_TOKENS", 300),
		Temperature:    getEnvFloat("TEMPERATURE", 0.2),
		ModelRetries:   getEnvInt("MODEL_RETRIES", 2),
		SystemPrompt:   getEnv("SYSTEM_PROMPT", DefaultSystemPrompt),
		MaxImageWidth:  getEnvInt("MAX_IMAGE_WIDTH", 1024),
		JPEGQuality:    getEnvInt("JPEG_QUALITY", 78),
		MaxUploadBytes: int64(getEnvInt("MAX_UPLOAD_BYTES", 6*1024*1024)),
		TurnTimeout:    time.Duration(getEnvInt("TURN_TIMEOUT_MS", 60000)) * time.Millisecond,
		SessionTTL:     time.Duration(getEnvInt("SESSION_TTL_MS", 30*60*1000)) * time.Millisecond,
		TraceDB:        getEnv("TRACE_DB", "file:medgaze_trace.db?cache=shared&mode=rwc"),
	}
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
