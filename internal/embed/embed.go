// Package embed turns text into vectors through a genkit embedder, batching
// and parallelizing requests while preserving input order.
package embed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"golang.org/x/sync/errgroup"
)

// Batcher fans batches of texts out to the embedding model with a bounded
// number of in-flight requests. Safe for concurrent use.
type Batcher struct {
	embedder  ai.Embedder
	dimension int
	batchSize int
	workers   int
	logger    *slog.Logger
}

// New creates a Batcher. dimension is the expected vector width; any
// response with a different width is rejected rather than silently stored.
func New(embedder ai.Embedder, dimension, batchSize, workers int, logger *slog.Logger) *Batcher {
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize < 1 {
		batchSize = 1
	}
	if workers < 1 {
		workers = 1
	}
	return &Batcher{
		embedder:  embedder,
		dimension: dimension,
		batchSize: batchSize,
		workers:   workers,
		logger:    logger,
	}
}

// Embed embeds a single text. Used for queries.
func (b *Batcher) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := b.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedAll embeds texts in API-sized batches running on up to workers
// goroutines. The result is index-aligned with texts. The first batch
// failure cancels the remaining work.
func (b *Batcher) EmbedAll(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)

	for start := 0; start < len(texts); start += b.batchSize {
		end := min(start+b.batchSize, len(texts))
		g.Go(func() error {
			vecs, err := b.embedBatch(gctx, texts[start:end])
			if err != nil {
				return err
			}
			// Each goroutine writes a disjoint slice range.
			copy(out[start:end], vecs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	b.logger.Debug("embedded texts", "count", len(texts))
	return out, nil
}

func (b *Batcher) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	docs := make([]*ai.Document, len(texts))
	for i, t := range texts {
		docs[i] = ai.DocumentFromText(t, nil)
	}

	resp, err := b.embedder.Embed(ctx, &ai.EmbedRequest{Input: docs})
	if err != nil {
		return nil, fmt.Errorf("embedding batch of %d: %w", len(texts), err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(resp.Embeddings), len(texts))
	}

	vecs := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		if len(e.Embedding) != b.dimension {
			return nil, fmt.Errorf("embedding %d has dimension %d, want %d", i, len(e.Embedding), b.dimension)
		}
		vecs[i] = e.Embedding
	}
	return vecs, nil
}
