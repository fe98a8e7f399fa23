// Package engine answers questions over the vector index: it embeds the
// query, retrieves candidate chunks, and feeds the best of them to the
// language model as grounding context.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/quarrydocs/quarry/internal/repair"
	"github.com/quarrydocs/quarry/internal/store"
)

// NoContextAnswer is returned verbatim when retrieval finds nothing; the
// model is never called in that case, so it cannot hallucinate sources.
const NoContextAnswer = "I could not find anything relevant in the indexed documents."

const contextSeparator = "\n\n---\n\n"

const systemPrompt = `You are a documentation assistant. Answer the question using ONLY the context passages below. If the context does not contain the answer, say so plainly instead of guessing. Be concise.

Context:
%s`

// hydePrompt asks the model for a hypothetical passage whose embedding
// tends to land closer to real answers than the raw question does.
const hydePrompt = `Write a short passage that would plausibly appear in documentation answering the following question. Write only the passage, no preamble.

Question: %s`

// Turn is one exchange in the conversation history.
type Turn struct {
	// Role is "user" or "model".
	Role string
	Text string
}

// Embedder turns one text into a query vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher serves nearest-neighbor lookups over the index.
type Searcher interface {
	Query(ctx context.Context, embedding []float32, topK int, filter store.Filter) ([]store.Result, error)
}

// Generator produces a model completion. Implementations live in
// genkit.go; tests substitute a stub.
type Generator interface {
	Generate(ctx context.Context, system string, history []Turn, prompt string) (string, error)
}

// Result is an answered query.
type Result struct {
	Answer string
	// Sources lists the distinct source paths of the context chunks, in
	// retrieval order.
	Sources []string
	// ContextChunks holds the repaired chunk texts handed to the model,
	// for caller-side citation display.
	ContextChunks []string
}

// Options tune a single query. Zero values fall back to the engine's
// configured defaults.
type Options struct {
	TopK    int
	TopN    int
	Filter  store.Filter
	HyDE    bool
	History []Turn
}

// Engine wires retrieval and generation together. Safe for concurrent use.
type Engine struct {
	embedder  Embedder
	searcher  Searcher
	generator Generator

	topK            int
	topN            int
	maxHistoryTurns int
	logger          *slog.Logger
}

// New creates an Engine with the given retrieval defaults.
func New(e Embedder, s Searcher, g Generator, topK, topN, maxHistoryTurns int, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		embedder:        e,
		searcher:        s,
		generator:       g,
		topK:            topK,
		topN:            topN,
		maxHistoryTurns: maxHistoryTurns,
		logger:          logger,
	}
}

// Query answers question from the index. Retrieval runs in two stages:
// topK candidates by cosine distance, then the closest topN are repaired,
// joined and handed to the model.
func (e *Engine) Query(ctx context.Context, question string, opts Options) (Result, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Result{}, fmt.Errorf("empty question")
	}

	topK := opts.TopK
	if topK < 1 {
		topK = e.topK
	}
	topN := opts.TopN
	if topN < 1 {
		topN = e.topN
	}
	// A rank cutoff beyond the candidate set is meaningless.
	if topN > topK {
		topN = topK
	}

	queryText := question
	if opts.HyDE {
		hypothetical, err := e.generator.Generate(ctx, "", nil, fmt.Sprintf(hydePrompt, question))
		if err != nil {
			return Result{}, fmt.Errorf("generating hypothetical passage: %w", err)
		}
		if strings.TrimSpace(hypothetical) != "" {
			queryText = hypothetical
		}
	}

	vec, err := e.embedder.Embed(ctx, queryText)
	if err != nil {
		return Result{}, fmt.Errorf("embedding query: %w", err)
	}

	candidates, err := e.searcher.Query(ctx, vec, topK, opts.Filter)
	if err != nil {
		return Result{}, fmt.Errorf("searching index: %w", err)
	}
	if len(candidates) == 0 {
		e.logger.Debug("no candidates retrieved", "question_length", len(question))
		return Result{Answer: NoContextAnswer}, nil
	}

	if len(candidates) > topN {
		candidates = candidates[:topN]
	}

	passages := make([]string, len(candidates))
	var sources []string
	seen := make(map[string]bool)
	for i, c := range candidates {
		passages[i] = repair.Text(c.Content)
		if src := c.Metadata.Source; src != "" && !seen[src] {
			seen[src] = true
			sources = append(sources, src)
		}
	}

	history := boundHistory(opts.History, e.maxHistoryTurns)
	system := fmt.Sprintf(systemPrompt, strings.Join(passages, contextSeparator))

	answer, err := e.generator.Generate(ctx, system, history, question)
	if err != nil {
		return Result{}, fmt.Errorf("generating answer: %w", err)
	}

	e.logger.Debug("answered query",
		"candidates", len(candidates),
		"sources", len(sources),
		"history_turns", len(history))

	return Result{
		Answer:        answer,
		Sources:       sources,
		ContextChunks: passages,
	}, nil
}

// boundHistory keeps the most recent maxTurns user/model pairs.
func boundHistory(history []Turn, maxTurns int) []Turn {
	if maxTurns <= 0 {
		return nil
	}
	limit := maxTurns * 2
	if len(history) <= limit {
		return history
	}
	return history[len(history)-limit:]
}
