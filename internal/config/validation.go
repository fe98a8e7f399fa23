package config

import (
	"fmt"
	"net/url"
)

// Validate checks all configuration values and returns the first violation.
// Called by Load immediately after unmarshalling (fail-fast); a Config that
// reaches a constructor has already passed.
func (c *Config) Validate() error {
	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name must not be empty", ErrInvalidModelName)
	}
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model must not be empty", ErrInvalidEmbedderModel)
	}
	if c.EmbedderDim != VectorDimension {
		return fmt.Errorf("%w: embedder_dim %d does not match schema vector width %d",
			ErrInvalidEmbedderDimension, c.EmbedderDim, VectorDimension)
	}

	if err := validateOllamaHost(c.OllamaHost); err != nil {
		return err
	}

	if c.ChunkSize < MinChunkSize || c.ChunkSize > MaxChunkSize {
		return fmt.Errorf("%w: chunk_size %d outside [%d, %d]",
			ErrInvalidChunking, c.ChunkSize, MinChunkSize, MaxChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize/2 {
		return fmt.Errorf("%w: chunk_overlap %d must be in [0, chunk_size/2)",
			ErrInvalidChunking, c.ChunkOverlap)
	}

	if c.EmbedWorkers < 1 || c.EmbedWorkers > 64 {
		return fmt.Errorf("%w: embed_workers %d outside [1, 64]", ErrInvalidEmbedding, c.EmbedWorkers)
	}
	if c.EmbedBatchSize < 1 || c.EmbedBatchSize > 10000 {
		return fmt.Errorf("%w: embed_batch_size %d outside [1, 10000]", ErrInvalidEmbedding, c.EmbedBatchSize)
	}

	if c.TopKRetrieve < 1 {
		return fmt.Errorf("%w: top_k_retrieve must be >= 1", ErrInvalidRetrieval)
	}
	if c.TopNRank < 1 {
		return fmt.Errorf("%w: top_n_rank must be >= 1", ErrInvalidRetrieval)
	}
	// top_n_rank > top_k_retrieve is tolerated here; the engine clamps it at
	// the query boundary so runtime overrides behave the same way.

	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: temperature %.2f outside [0, 2]", ErrInvalidGeneration, c.Temperature)
	}
	if c.ContextTokens < 512 {
		return fmt.Errorf("%w: context_tokens must be >= 512", ErrInvalidGeneration)
	}
	if c.MaxOutputTokens < 1 {
		return fmt.Errorf("%w: max_output_tokens must be >= 1", ErrInvalidGeneration)
	}
	if c.MaxHistoryTurns < 0 {
		return fmt.Errorf("%w: max_history_turns must be >= 0", ErrInvalidGeneration)
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("%w: postgres_host must not be empty", ErrInvalidPostgres)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: postgres_port %d outside [1, 65535]", ErrInvalidPostgres, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: postgres_db_name must not be empty", ErrInvalidPostgres)
	}
	switch c.PostgresSSLMode {
	case "disable", "allow", "prefer", "require", "verify-ca", "verify-full":
	default:
		return fmt.Errorf("%w: postgres_ssl_mode %q not recognized", ErrInvalidPostgres, c.PostgresSSLMode)
	}

	return nil
}

func validateOllamaHost(host string) error {
	if host == "" {
		return fmt.Errorf("%w: ollama_host must not be empty", ErrInvalidOllamaHost)
	}
	u, err := url.Parse(host)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: ollama_host %q must be a full URL (e.g. http://localhost:11434)",
			ErrInvalidOllamaHost, host)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: ollama_host scheme %q must be http or https", ErrInvalidOllamaHost, u.Scheme)
	}
	return nil
}
