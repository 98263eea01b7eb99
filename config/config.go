package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

const (
	DefaultSimpleModel    = "llama-3.1-8b-instant"
	DefaultComplexModel   = "llama-3.3-70b-versatile"
	DefaultEmbeddingModel = "text-embedding-3-small"

	DefaultGroqBaseURL = "https://api.groq.com/openai/v1"
)

type LLMConfig struct {
	SimpleModel  string
	ComplexModel string
	MaxTokens    int
}

type EmbeddingsConfig struct {
	Model     string
	Dimension int
}

type RetrievalConfig struct {
	TopK               int
	RelevanceThreshold float64
	DynamicKRatio      float64
}

type ChunkingConfig struct {
	ChunkTokens   int
	OverlapTokens int
}

type Config struct {
	Port        string
	PostgresDSN string
	DataDir     string

	GroqAPIKey  string
	GroqBaseURL string

	OpenAIAPIKey  string
	OpenAIBaseURL string

	DecisionLogPath string
	MaxHistoryTurns int

	LLM        LLMConfig
	Embeddings EmbeddingsConfig
	Retrieval  RetrievalConfig
	Chunking   ChunkingConfig
}

// Load reads configuration from the environment, honoring a .env file when
// one is present in the working directory.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:        getEnv("PORT", "8000"),
		PostgresDSN: getEnv("POSTGRES_DSN", "postgres://localhost:5432/clearpath?sslmode=disable"),
		DataDir:     getEnv("DATA_DIR", "clearpath_docs"),

		GroqAPIKey:  getEnv("GROQ_API_KEY", ""),
		GroqBaseURL: getEnv("GROQ_BASE_URL", DefaultGroqBaseURL),

		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),

		DecisionLogPath: getEnv("DECISION_LOG_PATH", "logs/routing_decisions.jsonl"),
		MaxHistoryTurns: getEnvInt("MAX_HISTORY_TURNS", 3),

		LLM: LLMConfig{
			SimpleModel:  getEnv("SIMPLE_MODEL", DefaultSimpleModel),
			ComplexModel: getEnv("COMPLEX_MODEL", DefaultComplexModel),
			MaxTokens:    getEnvInt("MAX_OUTPUT_TOKENS", 500),
		},
		Embeddings: EmbeddingsConfig{
			Model:     getEnv("EMBEDDING_MODEL", DefaultEmbeddingModel),
			Dimension: getEnvInt("EMBEDDING_DIMENSION", 1536),
		},
		Retrieval: RetrievalConfig{
			TopK:               getEnvInt("MAX_CHUNKS", 5),
			RelevanceThreshold: getEnvFloat("RELEVANCE_THRESHOLD", 0.3),
			DynamicKRatio:      getEnvFloat("DYNAMIC_K_RATIO", 0.8),
		},
		Chunking: ChunkingConfig{
			ChunkTokens:   getEnvInt("CHUNK_SIZE", 300),
			OverlapTokens: getEnvInt("CHUNK_OVERLAP", 50),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}
