// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// Provider identifies an embedding or LLM backend.
type Provider string

const (
	ProviderOllama    Provider = "ollama"
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

// Config holds all configuration values.
type Config struct {
	// SurrealDB connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Embedding
	EmbedProvider  Provider
	EmbedModel     string
	EmbedDimension int
	OllamaHost     string
	OpenAIAPIKey   string

	// Summarizer LLM
	LLMProvider     Provider
	LLMModel        string
	AnthropicAPIKey string

	// Logging
	LogFile  string
	LogLevel slog.Level

	// Hybrid search
	SemanticWeight      float64
	KeywordWeight       float64
	TemporalWeight      float64
	TemporalHalfLife    float64 // days
	AddressedBoost      float64
	MaxSearchCandidates int

	// Context assembly
	TokenBudget     int
	ImmediateShare  float64
	RecentShare     float64
	RelevantShare   float64
	BackgroundShare float64
	EpisodicShare   float64
	ActorFactShare  float64 // actor portion of the background budget
	ImmediateSize   int
	RecentSize      int
	LayerTimeout    time.Duration
	MediaTokenCost  int

	// Caches
	ImmediateCacheTTL time.Duration
	WeightCacheTTL    time.Duration

	// Fact quality
	DuplicateThreshold float64
	FactHalfLife       float64 // days, confidence decay for ranking
	MinFactConfidence  float64

	// Episodic memory
	EpisodeSimilarityThreshold float64
	EpisodeGapSeconds          int
	EpisodeMinTurns            int
	EpisodeMinImportance       float64
	EpisodeSweepInterval       time.Duration

	// Background queue
	QueueCapacity int
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "gryag"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "memory"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		EmbedProvider:  Provider(getEnv("GRYAG_EMBED_PROVIDER", string(ProviderOllama))),
		EmbedModel:     getEnv("GRYAG_EMBED_MODEL", "all-minilm:l6-v2"),
		EmbedDimension: getEnvInt("GRYAG_EMBED_DIMENSION", 384),
		OllamaHost:     getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),

		LLMProvider:     Provider(getEnv("GRYAG_LLM_PROVIDER", string(ProviderOllama))),
		LLMModel:        getEnv("GRYAG_LLM_MODEL", "llama3.2"),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),

		LogFile:  getEnv("GRYAG_LOG_FILE", "/tmp/gryag-mem.log"),
		LogLevel: parseLogLevel(getEnv("GRYAG_LOG_LEVEL", "INFO")),

		SemanticWeight:      getEnvFloat("GRYAG_SEMANTIC_WEIGHT", 0.5),
		KeywordWeight:       getEnvFloat("GRYAG_KEYWORD_WEIGHT", 0.3),
		TemporalWeight:      getEnvFloat("GRYAG_TEMPORAL_WEIGHT", 1.0),
		TemporalHalfLife:    getEnvFloat("GRYAG_TEMPORAL_HALF_LIFE_DAYS", 7),
		AddressedBoost:      getEnvFloat("GRYAG_ADDRESSED_BOOST", 1.5),
		MaxSearchCandidates: getEnvInt("GRYAG_MAX_SEARCH_CANDIDATES", 500),

		TokenBudget:     getEnvInt("GRYAG_TOKEN_BUDGET", 8000),
		ImmediateShare:  getEnvFloat("GRYAG_IMMEDIATE_SHARE", 0.20),
		RecentShare:     getEnvFloat("GRYAG_RECENT_SHARE", 0.30),
		RelevantShare:   getEnvFloat("GRYAG_RELEVANT_SHARE", 0.25),
		BackgroundShare: getEnvFloat("GRYAG_BACKGROUND_SHARE", 0.15),
		EpisodicShare:   getEnvFloat("GRYAG_EPISODIC_SHARE", 0.10),
		ActorFactShare:  getEnvFloat("GRYAG_ACTOR_FACT_SHARE", 0.60),
		ImmediateSize:   getEnvInt("GRYAG_IMMEDIATE_SIZE", 5),
		RecentSize:      getEnvInt("GRYAG_RECENT_SIZE", 30),
		LayerTimeout:    getEnvDuration("GRYAG_LAYER_TIMEOUT", 400*time.Millisecond),
		MediaTokenCost:  getEnvInt("GRYAG_MEDIA_TOKEN_COST", 256),

		ImmediateCacheTTL: getEnvDuration("GRYAG_IMMEDIATE_CACHE_TTL", time.Minute),
		WeightCacheTTL:    getEnvDuration("GRYAG_WEIGHT_CACHE_TTL", 5*time.Minute),

		DuplicateThreshold: getEnvFloat("GRYAG_DUPLICATE_THRESHOLD", 0.85),
		FactHalfLife:       getEnvFloat("GRYAG_FACT_HALF_LIFE_DAYS", 90),
		MinFactConfidence:  getEnvFloat("GRYAG_MIN_FACT_CONFIDENCE", 0.3),

		EpisodeSimilarityThreshold: getEnvFloat("GRYAG_EPISODE_SIMILARITY_THRESHOLD", 0.6),
		EpisodeGapSeconds:          getEnvInt("GRYAG_EPISODE_GAP_SECONDS", 300),
		EpisodeMinTurns:            getEnvInt("GRYAG_EPISODE_MIN_TURNS", 5),
		EpisodeMinImportance:       getEnvFloat("GRYAG_EPISODE_MIN_IMPORTANCE", 0.6),
		EpisodeSweepInterval:       getEnvDuration("GRYAG_EPISODE_SWEEP_INTERVAL", time.Minute),

		QueueCapacity: getEnvInt("GRYAG_QUEUE_CAPACITY", 256),
	}
}

// Validate checks configuration invariants. Violations are fatal at
// startup; request-time code assumes a valid config.
func (c Config) Validate() error {
	shares := c.ImmediateShare + c.RecentShare + c.RelevantShare +
		c.BackgroundShare + c.EpisodicShare
	if math.Abs(shares-1.0) > 0.01 {
		return fmt.Errorf("layer budget shares sum to %.3f, want 1.0", shares)
	}
	for name, v := range map[string]float64{
		"GRYAG_SEMANTIC_WEIGHT":  c.SemanticWeight,
		"GRYAG_KEYWORD_WEIGHT":   c.KeywordWeight,
		"GRYAG_TEMPORAL_WEIGHT":  c.TemporalWeight,
		"GRYAG_ADDRESSED_BOOST":  c.AddressedBoost,
		"GRYAG_ACTOR_FACT_SHARE": c.ActorFactShare,
	} {
		if v < 0 {
			return fmt.Errorf("%s is negative: %f", name, v)
		}
	}
	if c.SemanticWeight+c.KeywordWeight == 0 {
		return fmt.Errorf("semantic and keyword weights are both zero")
	}
	if c.TemporalHalfLife <= 0 || c.FactHalfLife <= 0 {
		return fmt.Errorf("half-life values must be positive")
	}
	if c.TokenBudget <= 0 {
		return fmt.Errorf("token budget must be positive, got %d", c.TokenBudget)
	}
	if c.EmbedDimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", c.EmbedDimension)
	}
	if c.EpisodeMinTurns < 2 {
		return fmt.Errorf("episode minimum window must be at least 2, got %d", c.EpisodeMinTurns)
	}
	if c.DuplicateThreshold <= 0 || c.DuplicateThreshold > 1 {
		return fmt.Errorf("duplicate threshold must be in (0,1], got %f", c.DuplicateThreshold)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
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

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
