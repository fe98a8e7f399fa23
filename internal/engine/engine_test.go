package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrydocs/quarry/internal/store"
)

type stubEmbedder struct {
	lastText string
	err      error
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	s.lastText = text
	if s.err != nil {
		return nil, s.err
	}
	return []float32{1, 2, 3}, nil
}

type stubSearcher struct {
	results  []store.Result
	lastTopK int
	lastFltr store.Filter
	err      error
}

func (s *stubSearcher) Query(_ context.Context, _ []float32, topK int, filter store.Filter) ([]store.Result, error) {
	s.lastTopK = topK
	s.lastFltr = filter
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}

type stubGenerator struct {
	calls      int
	lastSystem string
	lastHist   []Turn
	lastPrompt string
	answer     string
	err        error
}

func (s *stubGenerator) Generate(_ context.Context, system string, history []Turn, prompt string) (string, error) {
	s.calls++
	s.lastSystem = system
	s.lastHist = history
	s.lastPrompt = prompt
	if s.err != nil {
		return "", s.err
	}
	return s.answer, nil
}

func resultChunk(id, content, source string) store.Result {
	return store.Result{
		Chunk: store.Chunk{
			ID:       id,
			Content:  content,
			Metadata: store.Metadata{Source: source},
		},
	}
}

func newTestEngine(e *stubEmbedder, s *stubSearcher, g *stubGenerator) *Engine {
	return New(e, s, g, 20, 5, 8, nil)
}

func TestQuery_AnswersWithContext(t *testing.T) {
	se := &stubEmbedder{}
	ss := &stubSearcher{results: []store.Result{
		resultChunk("a", "Channels synchronize goroutines.", "/docs/concurrency.md"),
		resultChunk("b", "Select waits on multiple channels.", "/docs/select.md"),
	}}
	sg := &stubGenerator{answer: "Channels synchronize goroutines."}

	res, err := newTestEngine(se, ss, sg).Query(context.Background(), "How do channels work?", Options{})
	require.NoError(t, err)

	assert.Equal(t, "Channels synchronize goroutines.", res.Answer)
	assert.Equal(t, []string{"/docs/concurrency.md", "/docs/select.md"}, res.Sources)
	require.Len(t, res.ContextChunks, 2)
	assert.Equal(t, "Channels synchronize goroutines.", res.ContextChunks[0])
	assert.Equal(t, 20, ss.lastTopK)

	assert.Contains(t, sg.lastSystem, "Channels synchronize goroutines.")
	assert.Contains(t, sg.lastSystem, "\n\n---\n\n")
	assert.Equal(t, "How do channels work?", sg.lastPrompt)
}

func TestQuery_EmptyRetrievalShortCircuits(t *testing.T) {
	sg := &stubGenerator{answer: "should never appear"}
	e := newTestEngine(&stubEmbedder{}, &stubSearcher{}, sg)

	res, err := e.Query(context.Background(), "anything at all?", Options{})
	require.NoError(t, err)

	assert.Equal(t, NoContextAnswer, res.Answer)
	assert.Empty(t, res.Sources)
	assert.Empty(t, res.ContextChunks)
	assert.Zero(t, sg.calls, "model must not be called without context")
}

func TestQuery_TopNClampedToTopK(t *testing.T) {
	ss := &stubSearcher{results: []store.Result{
		resultChunk("a", "one", "/1.md"),
		resultChunk("b", "two", "/2.md"),
		resultChunk("c", "three", "/3.md"),
	}}
	sg := &stubGenerator{answer: "ok"}
	e := newTestEngine(&stubEmbedder{}, ss, sg)

	res, err := e.Query(context.Background(), "q?", Options{TopK: 3, TopN: 50})
	require.NoError(t, err)

	assert.Equal(t, 3, ss.lastTopK)
	assert.Len(t, res.ContextChunks, 3)
}

func TestQuery_TopNCutsCandidates(t *testing.T) {
	ss := &stubSearcher{results: []store.Result{
		resultChunk("a", "closest", "/1.md"),
		resultChunk("b", "second", "/2.md"),
		resultChunk("c", "third", "/3.md"),
	}}
	sg := &stubGenerator{answer: "ok"}
	e := newTestEngine(&stubEmbedder{}, ss, sg)

	res, err := e.Query(context.Background(), "q?", Options{TopN: 1})
	require.NoError(t, err)

	require.Len(t, res.ContextChunks, 1)
	assert.Contains(t, sg.lastSystem, "closest")
	assert.NotContains(t, sg.lastSystem, "second")
}

func TestQuery_RepairsGluedContext(t *testing.T) {
	ss := &stubSearcher{results: []store.Result{
		resultChunk("a", "glyphRuns lost.Their spaces", "/p.pdf"),
	}}
	sg := &stubGenerator{answer: "ok"}
	e := newTestEngine(&stubEmbedder{}, ss, sg)

	_, err := e.Query(context.Background(), "q?", Options{})
	require.NoError(t, err)

	assert.Contains(t, sg.lastSystem, "glyph Runs lost. Their spaces")
}

func TestQuery_HyDEEmbedsHypotheticalPassage(t *testing.T) {
	se := &stubEmbedder{}
	ss := &stubSearcher{results: []store.Result{resultChunk("a", "ctx", "/a.md")}}
	sg := &stubGenerator{answer: "a hypothetical passage"}
	e := newTestEngine(se, ss, sg)

	_, err := e.Query(context.Background(), "what is hyde?", Options{HyDE: true})
	require.NoError(t, err)

	assert.Equal(t, "a hypothetical passage", se.lastText)
	assert.Equal(t, 2, sg.calls, "one hypothetical generation plus one answer")
}

func TestQuery_HistoryBounded(t *testing.T) {
	ss := &stubSearcher{results: []store.Result{resultChunk("a", "ctx", "/a.md")}}
	sg := &stubGenerator{answer: "ok"}
	e := newTestEngine(&stubEmbedder{}, ss, sg)

	var history []Turn
	for i := 0; i < 30; i++ {
		history = append(history,
			Turn{Role: "user", Text: fmt.Sprintf("q%d", i)},
			Turn{Role: "model", Text: fmt.Sprintf("a%d", i)})
	}

	_, err := e.Query(context.Background(), "latest?", Options{History: history})
	require.NoError(t, err)

	require.Len(t, sg.lastHist, 16, "8 turns = 16 messages")
	assert.Equal(t, "q22", sg.lastHist[0].Text, "oldest turns must be dropped")
}

func TestQuery_FilterPassedThrough(t *testing.T) {
	ss := &stubSearcher{results: []store.Result{resultChunk("a", "ctx", "/a.md")}}
	e := newTestEngine(&stubEmbedder{}, ss, &stubGenerator{answer: "ok"})

	_, err := e.Query(context.Background(), "q?", Options{Filter: store.Filter{"source": "/a.md"}})
	require.NoError(t, err)
	assert.Equal(t, store.Filter{"source": "/a.md"}, ss.lastFltr)
}

func TestQuery_EmptyQuestion(t *testing.T) {
	e := newTestEngine(&stubEmbedder{}, &stubSearcher{}, &stubGenerator{})
	_, err := e.Query(context.Background(), "   ", Options{})
	require.Error(t, err)
}

func TestQuery_GenerationErrorPropagates(t *testing.T) {
	wantErr := errors.New("model down")
	ss := &stubSearcher{results: []store.Result{resultChunk("a", "ctx", "/a.md")}}
	e := newTestEngine(&stubEmbedder{}, ss, &stubGenerator{err: wantErr})

	_, err := e.Query(context.Background(), "q?", Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, wantErr)
}

func TestQuery_DuplicateSourcesDeduplicated(t *testing.T) {
	ss := &stubSearcher{results: []store.Result{
		resultChunk("a", "part one", "/same.md"),
		resultChunk("b", "part two", "/same.md"),
	}}
	e := newTestEngine(&stubEmbedder{}, ss, &stubGenerator{answer: "ok"})

	res, err := e.Query(context.Background(), "q?", Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"/same.md"}, res.Sources)
	assert.True(t, strings.Contains(res.Answer, "ok"))
}
