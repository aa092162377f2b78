// Package config provides environment configuration for the API server.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Store drivers.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreNATS   = "nats"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	CORSOrigins        []string
	Heartbeat          time.Duration

	// Persistence
	StoreDriver string
	SQLitePath  string

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// Redis settings; an empty address keeps the cache in memory
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	// JWT settings
	JWTSecret     string
	JWTExpiration time.Duration

	// LLM settings
	AnthropicAPIKey string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	DefaultLLM      string
	ChatModel       string
	VisionModel     string
	MaxTokens       int
	Temperature     float64
	HistoryLimit    int
	SystemPrompt    string
	ImagesEnabled   bool

	// Intent and augmentation
	IntentRulesFile string
	TavilyAPIKey    string
	DefaultCity     string
	AugmentTimeout  time.Duration
	AugmentRetries  int

	// Rate limiting and quota
	RateLimitRequests int
	RateLimitWindow   time.Duration
	ChatRateLimit     int
	DailyQuota        int

	// Logging
	Environment string
	LogLevel    string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// DefaultSystemPrompt is used when SYSTEM_PROMPT is unset.
const DefaultSystemPrompt = "You are a helpful assistant. Answer concisely and use markdown where it helps. " +
	"When real-time data is provided, rely on it and mention when it was retrieved."

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 0),
		CORSOrigins:        getListEnv("CORS_ORIGINS"),
		Heartbeat:          getDurationEnv("SSE_HEARTBEAT", 15*time.Second),

		// Persistence
		StoreDriver: getEnv("STORE_DRIVER", StoreMemory),
		SQLitePath:  getEnv("SQLITE_PATH", "streamchat.db"),

		// NATS
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// Redis
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),
		RedisPrefix:   getEnv("REDIS_PREFIX", "streamchat:"),

		// JWT
		JWTSecret:     getEnv("JWT_SECRET", "development-secret-change-in-production"),
		JWTExpiration: getDurationEnv("JWT_EXPIRATION", 15*time.Minute),

		// LLM
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", ""),
		DefaultLLM:      getEnv("DEFAULT_LLM", "openai"),
		ChatModel:       getEnv("CHAT_MODEL", ""),
		VisionModel:     getEnv("VISION_MODEL", "gpt-4o"),
		MaxTokens:       getIntEnv("MAX_TOKENS", 2048),
		Temperature:     getFloatEnv("TEMPERATURE", 0.7),
		HistoryLimit:    getIntEnv("HISTORY_LIMIT", 30),
		SystemPrompt:    getEnv("SYSTEM_PROMPT", DefaultSystemPrompt),
		ImagesEnabled:   getBoolEnv("IMAGES_ENABLED", true),

		// Intent and augmentation
		IntentRulesFile: getEnv("INTENT_RULES_FILE", ""),
		TavilyAPIKey:    getEnv("TAVILY_API_KEY", ""),
		DefaultCity:     getEnv("DEFAULT_CITY", ""),
		AugmentTimeout:  getDurationEnv("AUGMENT_TIMEOUT", 8*time.Second),
		AugmentRetries:  getIntEnv("AUGMENT_RETRIES", 2),

		// Rate limiting and quota
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
		ChatRateLimit:     getIntEnv("CHAT_RATE_LIMIT", 20),
		DailyQuota:        getIntEnv("DAILY_QUOTA", 0),

		// Logging
		Environment: getEnv("ENV", "production"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getListEnv(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
