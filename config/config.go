// Package config aggregates configuration for the whole application.
// Defaults come from the Default constructors; Load layers a .env file and
// environment variables on top.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"eduassist/chunking"
	"eduassist/embedding"
	"eduassist/vectorstore"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port      string
	StaticDir string
}

// Config holds all configuration for the application. The scalar fields are
// the process-wide defaults that pipeline.Build resolves overrides against.
type Config struct {
	// Language model settings
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int

	// Retrieval settings
	TopK           int     // Number of chunks to retrieve per query
	ScoreThreshold float32 // Minimum similarity score
	PromptStyle    string

	// Embeddings settings
	EmbeddingProvider string // "openai" or "ollama"
	EmbeddingModel    string
	OpenAIBaseURL     string

	VectorStore vectorstore.Config
	Chunking    chunking.Config
	Ollama      embedding.OllamaConfig
	Server      ServerConfig
}

// Default returns the built-in configuration defaults.
func Default() Config {
	return Config{
		Model:             "gpt-4o-mini",
		Temperature:       0.7,
		MaxTokens:         2000,
		TopK:              4,
		ScoreThreshold:    0.3,
		PromptStyle:       "education",
		EmbeddingProvider: "openai",
		VectorStore:       vectorstore.DefaultConfig(),
		Chunking:          chunking.DefaultConfig(),
		Ollama:            embedding.DefaultOllamaConfig(),
		Server: ServerConfig{
			Port:      "8080",
			StaticDir: "./static",
		},
	}
}

// Load builds the configuration from defaults, an optional .env file, and
// environment variables, in increasing order of precedence.
func Load() (Config, error) {
	// A missing .env file is not an error.
	_ = godotenv.Load()

	cfg := Default()

	cfg.APIKey = getEnv("OPENAI_API_KEY", cfg.APIKey)
	cfg.Model = getEnv("EDUASSIST_MODEL", cfg.Model)
	cfg.PromptStyle = getEnv("EDUASSIST_PROMPT_STYLE", cfg.PromptStyle)
	cfg.EmbeddingProvider = getEnv("EDUASSIST_EMBEDDING_PROVIDER", cfg.EmbeddingProvider)
	cfg.EmbeddingModel = getEnv("EDUASSIST_EMBEDDING_MODEL", cfg.EmbeddingModel)
	cfg.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", cfg.OpenAIBaseURL)

	var err error
	if cfg.Temperature, err = getEnvFloat("EDUASSIST_TEMPERATURE", cfg.Temperature); err != nil {
		return Config{}, err
	}
	if cfg.TopK, err = getEnvInt("EDUASSIST_TOP_K", cfg.TopK); err != nil {
		return Config{}, err
	}
	if cfg.MaxTokens, err = getEnvInt("EDUASSIST_MAX_TOKENS", cfg.MaxTokens); err != nil {
		return Config{}, err
	}

	cfg.VectorStore.Type = getEnv("EDUASSIST_STORE_TYPE", cfg.VectorStore.Type)
	cfg.VectorStore.CollectionName = getEnv("EDUASSIST_COLLECTION", cfg.VectorStore.CollectionName)
	cfg.VectorStore.Qdrant.Host = getEnv("QDRANT_HOST", cfg.VectorStore.Qdrant.Host)
	if cfg.VectorStore.Qdrant.Port, err = getEnvInt("QDRANT_PORT", cfg.VectorStore.Qdrant.Port); err != nil {
		return Config{}, err
	}
	cfg.VectorStore.Weaviate.Host = getEnv("WEAVIATE_HOST", cfg.VectorStore.Weaviate.Host)
	cfg.VectorStore.Weaviate.Scheme = getEnv("WEAVIATE_SCHEME", cfg.VectorStore.Weaviate.Scheme)
	cfg.VectorStore.Weaviate.APIKey = getEnv("WEAVIATE_API_KEY", cfg.VectorStore.Weaviate.APIKey)
	cfg.VectorStore.Postgres.DSN = getEnv("DATABASE_URL", cfg.VectorStore.Postgres.DSN)

	cfg.Ollama.BaseURL = getEnv("OLLAMA_URL", cfg.Ollama.BaseURL)

	cfg.Server.Port = getEnv("EDUASSIST_PORT", cfg.Server.Port)
	cfg.Server.StaticDir = getEnv("EDUASSIST_STATIC_DIR", cfg.Server.StaticDir)

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return f, nil
}
