// Package store persists passage chunks and their embeddings in
// PostgreSQL with pgvector, and serves cosine-distance nearest-neighbor
// queries over them.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
)

// queryTimeout bounds a single vector search so a cold HNSW index cannot
// stall the caller indefinitely.
const queryTimeout = 10 * time.Second

// Chunk is one indexed passage. ID is the hex SHA-256 of Content, so the
// same text always maps to the same row regardless of which file it came
// from.
type Chunk struct {
	ID        string
	Content   string
	Embedding []float32
	Metadata  Metadata
}

// Result is a chunk returned from a vector query together with its cosine
// distance from the query embedding (smaller is closer).
type Result struct {
	Chunk
	Distance float64
}

// Filter restricts queries and deletions by JSONB containment on chunk
// metadata. Values must be JSON-representable; an empty Filter matches
// every chunk.
type Filter map[string]any

// DB is the subset of pgxpool.Pool the store needs. Defined here so tests
// can substitute a fake without a running PostgreSQL.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Store manages the chunks table. Safe for concurrent use.
type Store struct {
	db     DB
	logger *slog.Logger
}

// New creates a Store over db. A nil logger falls back to slog.Default.
func New(db DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// NewPool opens a pgx connection pool with pgvector types registered on
// every connection.
func NewPool(ctx context.Context, connURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connURL)
	if err != nil {
		return nil, fmt.Errorf("parsing pool config: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// Add upserts chunks in a single batch. An ID collision overwrites the
// prior row, so re-ingesting identical content converges instead of
// duplicating.
func (s *Store) Add(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		metaJSON, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling metadata for chunk %q: %w", c.ID, err)
		}
		batch.Queue(
			`INSERT INTO chunks (id, content, embedding, metadata)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (id) DO UPDATE
			 SET content = EXCLUDED.content,
			     embedding = EXCLUDED.embedding,
			     metadata = EXCLUDED.metadata`,
			c.ID, c.Content, pgvector.NewVector(c.Embedding), metaJSON,
		)
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	for i := range chunks {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upserting chunk %q: %w", chunks[i].ID, err)
		}
	}

	s.logger.Debug("added chunks", "count", len(chunks))
	return nil
}

// Get returns the chunks for the given IDs, without embeddings. Missing
// IDs are silently absent from the result.
func (s *Store) Get(ctx context.Context, ids []string) ([]Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.db.Query(ctx,
		`SELECT id, content, metadata FROM chunks WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("fetching chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		var metaJSON []byte
		if err := rows.Scan(&c.ID, &c.Content, &metaJSON); err != nil {
			return nil, fmt.Errorf("scanning chunk row: %w", err)
		}
		if err := json.Unmarshal(metaJSON, &c.Metadata); err != nil {
			s.logger.Warn("unparseable chunk metadata", "id", c.ID, "error", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// FindMeta returns the IDs and metadata of every chunk whose metadata
// contains filter. Content and embeddings are not fetched; the ingestion
// pipeline uses this for change detection.
func (s *Store) FindMeta(ctx context.Context, filter Filter) ([]Chunk, error) {
	filterJSON, err := json.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("marshaling filter: %w", err)
	}

	rows, err := s.db.Query(ctx,
		`SELECT id, metadata FROM chunks WHERE metadata @> $1`, filterJSON)
	if err != nil {
		return nil, fmt.Errorf("fetching chunk metadata: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		var metaJSON []byte
		if err := rows.Scan(&c.ID, &metaJSON); err != nil {
			return nil, fmt.Errorf("scanning metadata row: %w", err)
		}
		if err := json.Unmarshal(metaJSON, &c.Metadata); err != nil {
			s.logger.Warn("unparseable chunk metadata", "id", c.ID, "error", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// ExistingIDs reports which of the given IDs are already present.
func (s *Store) ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	if len(ids) == 0 {
		return map[string]bool{}, nil
	}

	rows, err := s.db.Query(ctx, `SELECT id FROM chunks WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("checking existing chunk ids: %w", err)
	}
	defer rows.Close()

	existing := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning chunk id: %w", err)
		}
		existing[id] = true
	}
	return existing, rows.Err()
}

// UpdateMetadata replaces the metadata of a single chunk. Used when a file
// moves or is touched without its content changing, so the embedding is
// never recomputed.
func (s *Store) UpdateMetadata(ctx context.Context, id string, meta Metadata) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshaling metadata for chunk %q: %w", id, err)
	}
	if _, err := s.db.Exec(ctx,
		`UPDATE chunks SET metadata = $2 WHERE id = $1`, id, metaJSON); err != nil {
		return fmt.Errorf("updating metadata for chunk %q: %w", id, err)
	}
	return nil
}

// Delete removes chunks by ID. Unknown IDs are ignored.
func (s *Store) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM chunks WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
	}
	s.logger.Debug("deleted chunks", "requested", len(ids), "removed", tag.RowsAffected())
	return nil
}

// DeleteWhere removes every chunk whose metadata contains filter. An empty
// filter wipes the whole index; callers gate that behind an explicit
// confirmation.
func (s *Store) DeleteWhere(ctx context.Context, filter Filter) (int64, error) {
	if len(filter) == 0 {
		tag, err := s.db.Exec(ctx, `DELETE FROM chunks`)
		if err != nil {
			return 0, fmt.Errorf("wiping chunks: %w", err)
		}
		return tag.RowsAffected(), nil
	}

	filterJSON, err := json.Marshal(filter)
	if err != nil {
		return 0, fmt.Errorf("marshaling filter: %w", err)
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM chunks WHERE metadata @> $1`, filterJSON)
	if err != nil {
		return 0, fmt.Errorf("deleting chunks by filter: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Query returns the topK chunks nearest to embedding by cosine distance,
// optionally restricted by a metadata filter. Results are ordered closest
// first.
func (s *Store) Query(ctx context.Context, embedding []float32, topK int, filter Filter) ([]Result, error) {
	if topK < 1 {
		return nil, fmt.Errorf("topK must be >= 1, got %d", topK)
	}

	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	vec := pgvector.NewVector(embedding)

	var (
		rows pgx.Rows
		err  error
	)
	if len(filter) > 0 {
		// filterJSON always comes from json.Marshal and the containment
		// operator is parameterized, so user filters cannot inject SQL.
		filterJSON, marshalErr := json.Marshal(filter)
		if marshalErr != nil {
			return nil, fmt.Errorf("marshaling filter: %w", marshalErr)
		}
		rows, err = s.db.Query(queryCtx,
			`SELECT id, content, metadata, embedding <=> $1 AS distance
			 FROM chunks
			 WHERE metadata @> $2
			 ORDER BY distance
			 LIMIT $3`,
			vec, filterJSON, topK)
	} else {
		rows, err = s.db.Query(queryCtx,
			`SELECT id, content, metadata, embedding <=> $1 AS distance
			 FROM chunks
			 ORDER BY distance
			 LIMIT $2`,
			vec, topK)
	}
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var metaJSON []byte
		if err := rows.Scan(&r.ID, &r.Content, &metaJSON, &r.Distance); err != nil {
			return nil, fmt.Errorf("scanning search row: %w", err)
		}
		if err := json.Unmarshal(metaJSON, &r.Metadata); err != nil {
			s.logger.Warn("unparseable chunk metadata", "id", r.ID, "error", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// Sources returns the distinct source paths present in the index.
func (s *Store) Sources(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT DISTINCT metadata->>'source' FROM chunks WHERE metadata ? 'source'`)
	if err != nil {
		return nil, fmt.Errorf("listing sources: %w", err)
	}
	defer rows.Close()

	var sources []string
	for rows.Next() {
		var src string
		if err := rows.Scan(&src); err != nil {
			return nil, fmt.Errorf("scanning source: %w", err)
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// Count returns the number of chunks matching filter (all chunks when the
// filter is empty).
func (s *Store) Count(ctx context.Context, filter Filter) (int64, error) {
	var count int64
	if len(filter) > 0 {
		filterJSON, err := json.Marshal(filter)
		if err != nil {
			return 0, fmt.Errorf("marshaling filter: %w", err)
		}
		err = s.db.QueryRow(ctx,
			`SELECT COUNT(*) FROM chunks WHERE metadata @> $1`, filterJSON).Scan(&count)
		if err != nil {
			return 0, fmt.Errorf("counting chunks: %w", err)
		}
		return count, nil
	}

	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return count, nil
}
