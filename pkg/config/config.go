// Package config loads service configuration from the environment and an
// optional .env file.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MatusOllah/slogcolor"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration.
type Config struct {
	Port       string
	LogLevel   string
	LogFormat  string
	CORSOrigin string
	HTTPRate   float64
	HTTPBurst  int

	Neo4jURL  string
	Neo4jUser string
	Neo4jPass string

	QdrantURL  string
	Collection string

	OllamaURL     string
	EmbedProvider string
	EmbedModel    string

	LLMProvider string
	ChatModel   string
	OpenAIKey   string
	OpenAIURL   string
	LLMRate     float64
	LLMBurst    int
	CallTimeout time.Duration
	Iterations  int
	Concurrency int
	Temperature float64
	MaxTokens   int
	DocLimit    int
	DocTimeout  time.Duration
	NATSURL     string
	UsageDBPath string
}

// Load reads configuration. A missing envFile is not an error.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}

	iterations := envInt("ENSEMBLE_ITERATIONS", 3)
	cfg := &Config{
		Port:       envOr("PORT", "8080"),
		LogLevel:   envOr("LOG_LEVEL", "info"),
		LogFormat:  envOr("LOG_FORMAT", "json"),
		CORSOrigin: envOr("CORS_ORIGIN", "*"),
		HTTPRate:   envFloat("HTTP_RATE", 5),
		HTTPBurst:  envInt("HTTP_BURST", 10),

		Neo4jURL:  envOr("NEO4J_URL", "neo4j://localhost:7687"),
		Neo4jUser: envOr("NEO4J_USER", "neo4j"),
		Neo4jPass: envOr("NEO4J_PASS", "password"),

		QdrantURL:  envOr("QDRANT_URL", "localhost:6334"),
		Collection: envOr("QDRANT_COLLECTION", "wessley"),

		OllamaURL:     envOr("OLLAMA_URL", "http://localhost:11434"),
		EmbedProvider: strings.ToLower(envOr("EMBED_PROVIDER", "ollama")),
		EmbedModel:    envOr("EMBED_MODEL", "nomic-embed-text"),

		LLMProvider: strings.ToLower(envOr("LLM_PROVIDER", "ollama")),
		ChatModel:   envOr("CHAT_MODEL", ""),
		OpenAIKey:   envOr("OPENAI_API_KEY", ""),
		OpenAIURL:   envOr("OPENAI_BASE_URL", ""),
		LLMRate:     envFloat("LLM_RATE", 0),
		LLMBurst:    envInt("LLM_BURST", 5),
		CallTimeout: envDuration("LLM_CALL_TIMEOUT", 30*time.Second),
		Iterations:  iterations,
		Concurrency: envInt("ENSEMBLE_CONCURRENCY", iterations),
		Temperature: envFloat("ENSEMBLE_TEMPERATURE", 0.7),
		MaxTokens:   envInt("LLM_MAX_TOKENS", 400),
		DocLimit:    envInt("DOC_LIMIT", 3),
		DocTimeout:  envDuration("DOC_TIMEOUT", 5*time.Second),
		NATSURL:     envOr("NATS_URL", ""),
		UsageDBPath: envOr("USAGE_DB_PATH", "usage.db"),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	for key, provider := range map[string]string{"LLM_PROVIDER": c.LLMProvider, "EMBED_PROVIDER": c.EmbedProvider} {
		switch provider {
		case "ollama":
		case "openai":
			if c.OpenAIKey == "" {
				return fmt.Errorf("config: OPENAI_API_KEY is required when %s=openai", key)
			}
		default:
			return fmt.Errorf("config: unknown %s %q", key, provider)
		}
	}
	if c.Iterations < 1 {
		return fmt.Errorf("config: ENSEMBLE_ITERATIONS must be at least 1, got %d", c.Iterations)
	}
	return nil
}

// NewLogger builds the process logger: JSON by default, colored text when
// LOG_FORMAT=text.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level := ParseLevel(c.LogLevel)
	if strings.EqualFold(c.LogFormat, "text") {
		opts := *slogcolor.DefaultOptions
		opts.Level = level
		return slog.New(slogcolor.NewHandler(w, &opts))
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func envFloat(key string, fallback float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return fallback
	}
	return v
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}
