package ingest

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrydocs/quarry/internal/chunker"
	"github.com/quarrydocs/quarry/internal/store"
)

// fakeStore is an in-memory stand-in for the pgvector store.
type fakeStore struct {
	mu     sync.Mutex
	chunks map[string]store.Chunk
}

func newFakeStore() *fakeStore {
	return &fakeStore{chunks: make(map[string]store.Chunk)}
}

func (f *fakeStore) Add(_ context.Context, chunks []store.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range chunks {
		if prev, ok := f.chunks[c.ID]; ok {
			prev.Metadata = c.Metadata
			f.chunks[c.ID] = prev
			continue
		}
		f.chunks[c.ID] = c
	}
	return nil
}

func (f *fakeStore) Delete(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.chunks, id)
	}
	return nil
}

func (f *fakeStore) DeleteWhere(_ context.Context, filter store.Filter) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(filter) == 0 {
		n := int64(len(f.chunks))
		f.chunks = make(map[string]store.Chunk)
		return n, nil
	}
	src, _ := filter[store.KeySource].(string)
	var n int64
	for id, c := range f.chunks {
		if c.Metadata.Source == src {
			delete(f.chunks, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) ExistingIDs(_ context.Context, ids []string) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]bool)
	for _, id := range ids {
		if _, ok := f.chunks[id]; ok {
			out[id] = true
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateMetadata(_ context.Context, id string, meta store.Metadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.chunks[id]
	if !ok {
		return nil
	}
	c.Metadata = meta
	f.chunks[id] = c
	return nil
}

func (f *fakeStore) Sources(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, c := range f.chunks {
		if !seen[c.Metadata.Source] {
			seen[c.Metadata.Source] = true
			out = append(out, c.Metadata.Source)
		}
	}
	return out, nil
}

func (f *fakeStore) FindMeta(_ context.Context, filter store.Filter) ([]store.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	src, _ := filter[store.KeySource].(string)
	var out []store.Chunk
	for _, c := range f.chunks {
		if c.Metadata.Source == src {
			out = append(out, store.Chunk{ID: c.ID, Metadata: c.Metadata})
		}
	}
	return out, nil
}

func (f *fakeStore) bySource(src string) []store.Chunk {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Chunk
	for _, c := range f.chunks {
		if c.Metadata.Source == src {
			out = append(out, c)
		}
	}
	return out
}

// fakeEmbedder counts how many texts were embedded.
type fakeEmbedder struct {
	mu       sync.Mutex
	embedded int
}

func (f *fakeEmbedder) EmbedAll(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.embedded += len(texts)
	f.mu.Unlock()
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = []float32{float32(len(texts[i])), 0, 0}
	}
	return vecs, nil
}

func newTestPipeline(t *testing.T, s Store, e Embedder) *Pipeline {
	t.Helper()
	return New(s, e, chunker.New(900, 60), 512, filepath.Join(t.TempDir(), "index.lock"), nil)
}

func writeDoc(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestIndex_NewFile(t *testing.T) {
	dir := t.TempDir()
	path := writeDoc(t, dir, "note.md", "# Heading\n\nGo interfaces are satisfied implicitly.\n")

	fs, fe := newFakeStore(), &fakeEmbedder{}
	res, err := newTestPipeline(t, fs, fe).Index(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 1, res.FilesScanned)
	assert.Equal(t, 1, res.FilesIndexed)
	assert.Equal(t, 1, res.ChunksAdded)
	assert.Zero(t, res.FilesFailed)

	stored := fs.bySource(path)
	require.Len(t, stored, 1)
	assert.Equal(t, ChunkID(stored[0].Content), stored[0].ID)
	assert.NotEmpty(t, stored[0].Metadata.FileHash)
	assert.NotZero(t, stored[0].Metadata.FileMtime)
	assert.False(t, stored[0].Metadata.IndexedAt.IsZero())
}

func TestIndex_SecondRunSkipsUnchanged(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "note.md", "Stable content that does not change.\n")

	fs, fe := newFakeStore(), &fakeEmbedder{}
	p := newTestPipeline(t, fs, fe)

	_, err := p.Index(context.Background(), dir)
	require.NoError(t, err)
	firstEmbeds := fe.embedded

	res, err := p.Index(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 1, res.FilesSkipped)
	assert.Zero(t, res.FilesIndexed)
	assert.Equal(t, firstEmbeds, fe.embedded, "unchanged file must not be re-embedded")
}

func TestIndex_TouchedFileRefreshesMetadataWithoutEmbedding(t *testing.T) {
	dir := t.TempDir()
	path := writeDoc(t, dir, "note.md", "Same bytes, newer mtime.\n")

	fs, fe := newFakeStore(), &fakeEmbedder{}
	p := newTestPipeline(t, fs, fe)
	_, err := p.Index(context.Background(), dir)
	require.NoError(t, err)
	firstEmbeds := fe.embedded

	newTime := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, newTime, newTime))

	res, err := p.Index(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, firstEmbeds, fe.embedded)
	assert.Positive(t, res.ChunksRepinned)

	stored := fs.bySource(path)
	require.Len(t, stored, 1)
	assert.Equal(t, newTime.UnixNano(), stored[0].Metadata.FileMtime)
}

func TestIndex_MovedFileRepinsWithoutEmbedding(t *testing.T) {
	dir := t.TempDir()
	oldPath := writeDoc(t, dir, "old.md", "Content that moves between files.\n")

	fs, fe := newFakeStore(), &fakeEmbedder{}
	p := newTestPipeline(t, fs, fe)
	_, err := p.Index(context.Background(), dir)
	require.NoError(t, err)
	firstEmbeds := fe.embedded

	newPath := filepath.Join(dir, "renamed.md")
	require.NoError(t, os.Rename(oldPath, newPath))
	newTime := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(newPath, newTime, newTime))

	res, err := p.Index(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, firstEmbeds, fe.embedded, "moved content must not be re-embedded")
	assert.Positive(t, res.ChunksRepinned)
	assert.Zero(t, res.ChunksAdded)

	assert.Empty(t, fs.bySource(oldPath))
	assert.NotEmpty(t, fs.bySource(newPath))
}

func TestIndex_DeletedFileCleanedUp(t *testing.T) {
	dir := t.TempDir()
	keep := writeDoc(t, dir, "keep.md", "This file stays in place.\n")
	gone := writeDoc(t, dir, "gone.md", "This file will be removed.\n")

	fs, fe := newFakeStore(), &fakeEmbedder{}
	p := newTestPipeline(t, fs, fe)
	_, err := p.Index(context.Background(), dir)
	require.NoError(t, err)

	require.NoError(t, os.Remove(gone))

	res, err := p.Index(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 1, res.SourcesRemoved)
	assert.Positive(t, res.ChunksDeleted)
	assert.Empty(t, fs.bySource(gone))
	assert.NotEmpty(t, fs.bySource(keep))
}

func TestIndex_CleanupScopedToRoot(t *testing.T) {
	dirA, dirB := t.TempDir(), t.TempDir()
	writeDoc(t, dirA, "a.md", "Tree A content.\n")
	pathB := writeDoc(t, dirB, "b.md", "Tree B content.\n")

	fs, fe := newFakeStore(), &fakeEmbedder{}
	p := newTestPipeline(t, fs, fe)
	_, err := p.Index(context.Background(), dirA)
	require.NoError(t, err)
	_, err = p.Index(context.Background(), dirB)
	require.NoError(t, err)

	// Re-indexing tree A must not touch tree B's chunks.
	require.NoError(t, os.Remove(pathB))
	res, err := p.Index(context.Background(), dirA)
	require.NoError(t, err)

	assert.Zero(t, res.SourcesRemoved)
	assert.NotEmpty(t, fs.bySource(pathB))
}

func TestIndex_ModifiedFileDropsStaleChunks(t *testing.T) {
	dir := t.TempDir()
	path := writeDoc(t, dir, "note.md", "Original paragraph about channels.\n")

	fs, fe := newFakeStore(), &fakeEmbedder{}
	p := newTestPipeline(t, fs, fe)
	_, err := p.Index(context.Background(), dir)
	require.NoError(t, err)

	writeDoc(t, dir, "note.md", "Rewritten paragraph about goroutines.\n")
	newTime := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, newTime, newTime))

	res, err := p.Index(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 1, res.FilesIndexed)
	assert.Positive(t, res.ChunksAdded)
	assert.Positive(t, res.ChunksDeleted)

	stored := fs.bySource(path)
	require.Len(t, stored, 1)
	assert.Contains(t, stored[0].Content, "goroutines")
}

func TestIndex_SkipsDotDirsAndUnsupportedFiles(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "real.md", "Visible note.\n")
	writeDoc(t, dir, ".obsidian/config.md", "Editor internals.\n")
	writeDoc(t, dir, "image.png", "not text")
	writeDoc(t, dir, ".hidden.md", "Hidden note.\n")

	fs, fe := newFakeStore(), &fakeEmbedder{}
	res, err := newTestPipeline(t, fs, fe).Index(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 1, res.FilesScanned)
	sources, err := fs.Sources(context.Background())
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, filepath.Join(dir, "real.md"), sources[0])
}

func TestIndex_RewrittenFileWithRestoredMtimeReindexed(t *testing.T) {
	dir := t.TempDir()
	path := writeDoc(t, dir, "note.md", "Original paragraph about channels.\n")
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, past, past))

	fs, fe := newFakeStore(), &fakeEmbedder{}
	p := newTestPipeline(t, fs, fe)
	_, err := p.Index(context.Background(), dir)
	require.NoError(t, err)

	// New bytes, old mtime, as after restoring a backup with cp -p.
	writeDoc(t, dir, "note.md", "Rewritten paragraph about goroutines.\n")
	require.NoError(t, os.Chtimes(path, past, past))

	res, err := p.Index(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 1, res.FilesIndexed)
	assert.Zero(t, res.FilesSkipped)
	assert.Positive(t, res.ChunksAdded)
	assert.Positive(t, res.ChunksDeleted)

	stored := fs.bySource(path)
	require.Len(t, stored, 1)
	assert.Contains(t, stored[0].Content, "goroutines")
}

func TestIndex_SharedParagraphAcrossFilesEmbeddedOnce(t *testing.T) {
	dir := t.TempDir()
	const paragraph = "Channels synchronize goroutines by communicating.\n"
	writeDoc(t, dir, "a.md", paragraph)
	pathB := writeDoc(t, dir, "b.md", paragraph)

	fs, fe := newFakeStore(), &fakeEmbedder{}
	res, err := newTestPipeline(t, fs, fe).Index(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 2, res.FilesIndexed)
	assert.Equal(t, 1, res.ChunksAdded)
	assert.Equal(t, 1, res.ChunksRepinned)
	assert.Equal(t, 1, fe.embedded, "identical text must be embedded once")

	// One stored chunk, pinned to the last file that produced it.
	fs.mu.Lock()
	total := len(fs.chunks)
	fs.mu.Unlock()
	assert.Equal(t, 1, total)
	assert.NotEmpty(t, fs.bySource(pathB))
}

func TestIndex_RefusedWhileLockHeld(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "note.md", "Content behind the lock.\n")

	lockPath := filepath.Join(t.TempDir(), "index.lock")
	p := New(newFakeStore(), &fakeEmbedder{}, chunker.New(900, 60), 512, lockPath, nil)

	held := flock.New(lockPath)
	locked, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer held.Unlock()

	_, err = p.Index(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index lock")
}

func TestChunkID_Deterministic(t *testing.T) {
	assert.Equal(t, ChunkID("same text"), ChunkID("same text"))
	assert.NotEqual(t, ChunkID("same text"), ChunkID("other text"))
	assert.Len(t, ChunkID("x"), 64)
}
