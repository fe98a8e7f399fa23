// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.quarry/config.yaml or ./config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - Models: Ollama host, generation model, embedder model and dimension
//   - Ingestion: chunk size/overlap, embedding workers and batch size
//   - Retrieval: candidate count, re-rank count, generation bounds
//   - Storage: PostgreSQL connection (see storage.go)
//
// Validation is comprehensive and fail-fast: Load returns an error before any
// component is constructed if a value is out of range. Deep components never
// read configuration ambiently; values are passed into constructors.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrInvalidModelName indicates the generation model name is empty.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model name is empty.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidEmbedderDimension indicates the embedder dimension does not
	// match the vector schema.
	ErrInvalidEmbedderDimension = errors.New("invalid embedder dimension")

	// ErrInvalidOllamaHost indicates the Ollama host is empty or malformed.
	ErrInvalidOllamaHost = errors.New("invalid Ollama host")

	// ErrInvalidChunking indicates chunk size or overlap is out of range.
	ErrInvalidChunking = errors.New("invalid chunking configuration")

	// ErrInvalidEmbedding indicates worker or batch settings are out of range.
	ErrInvalidEmbedding = errors.New("invalid embedding configuration")

	// ErrInvalidRetrieval indicates top-k/top-n retrieval settings are invalid.
	ErrInvalidRetrieval = errors.New("invalid retrieval configuration")

	// ErrInvalidGeneration indicates generation bounds are out of range.
	ErrInvalidGeneration = errors.New("invalid generation configuration")

	// ErrInvalidPostgres indicates the PostgreSQL connection settings are invalid.
	ErrInvalidPostgres = errors.New("invalid PostgreSQL configuration")
)

const (
	// DefaultEmbedderModel is the default Ollama embedding model.
	// mxbai-embed-large produces 1024-dimension vectors; the chunks table
	// schema (db/migrations) is declared with the matching vector width.
	DefaultEmbedderModel = "mxbai-embed-large:335m"

	// DefaultModelName is the default Ollama generation model.
	DefaultModelName = "llama3.2:latest"

	// VectorDimension is the embedding width the schema is provisioned for.
	VectorDimension = 1024

	// MinChunkSize and MaxChunkSize bound the configurable chunk length.
	MinChunkSize = 512
	MaxChunkSize = 900
)

// Config stores application configuration. A single Config value is built at
// startup and handed to constructors; nothing below cmd/ calls viper.
type Config struct {
	// Model configuration (Ollama provider)
	OllamaHost    string `mapstructure:"ollama_host" json:"ollama_host"`
	ModelName     string `mapstructure:"model_name" json:"model_name"`
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`
	EmbedderDim   int    `mapstructure:"embedder_dim" json:"embedder_dim"`

	// Ingestion configuration
	ChunkSize      int `mapstructure:"chunk_size" json:"chunk_size"`
	ChunkOverlap   int `mapstructure:"chunk_overlap" json:"chunk_overlap"`
	EmbedWorkers   int `mapstructure:"embed_workers" json:"embed_workers"`
	EmbedBatchSize int `mapstructure:"embed_batch_size" json:"embed_batch_size"`

	// Retrieval configuration
	TopKRetrieve int `mapstructure:"top_k_retrieve" json:"top_k_retrieve"`
	TopNRank     int `mapstructure:"top_n_rank" json:"top_n_rank"`

	// Generation configuration
	Temperature     float64 `mapstructure:"temperature" json:"temperature"`
	ContextTokens   int     `mapstructure:"context_tokens" json:"context_tokens"`
	MaxOutputTokens int     `mapstructure:"max_output_tokens" json:"max_output_tokens"`
	MaxHistoryTurns int     `mapstructure:"max_history_turns" json:"max_history_turns"`

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"-"`
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// HomeDir is where quarry keeps its own state (chat transcripts).
	HomeDir string `mapstructure:"home_dir" json:"home_dir"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".quarry")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v, configDir)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is not an error; defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings when set.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper, configDir string) {
	// Model defaults
	v.SetDefault("ollama_host", "http://localhost:11434")
	v.SetDefault("model_name", DefaultModelName)
	v.SetDefault("embedder_model", DefaultEmbedderModel)
	v.SetDefault("embedder_dim", VectorDimension)

	// Ingestion defaults
	v.SetDefault("chunk_size", MaxChunkSize)
	v.SetDefault("chunk_overlap", 60)
	v.SetDefault("embed_workers", 4)
	v.SetDefault("embed_batch_size", 512)

	// Retrieval defaults
	v.SetDefault("top_k_retrieve", 20)
	v.SetDefault("top_n_rank", 5)

	// Generation defaults
	v.SetDefault("temperature", 0.6)
	v.SetDefault("context_tokens", 8000)
	v.SetDefault("max_output_tokens", 1024)
	v.SetDefault("max_history_turns", 8)

	// PostgreSQL defaults (matching docker-compose.yml)
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "quarry")
	v.SetDefault("postgres_password", "quarry_dev_password")
	v.SetDefault("postgres_db_name", "quarry")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("home_dir", configDir)
}

// bindEnvVariables binds environment overrides explicitly.
func bindEnvVariables(v *viper.Viper) {
	// Hardcoded keys cannot fail to bind; a panic here is a bug, not a
	// runtime condition.
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("ollama_host", "QUARRY_OLLAMA_HOST")
	mustBind("model_name", "QUARRY_MODEL_NAME")
	mustBind("embedder_model", "QUARRY_EMBEDDER_MODEL")
	mustBind("embed_batch_size", "EMBEDDING_API_BATCH_SIZE")
	mustBind("postgres_password", "QUARRY_POSTGRES_PASSWORD")

	// NOTE: DATABASE_URL is parsed separately in parseDatabaseURL because it
	// expands into several postgres_* fields.
}
