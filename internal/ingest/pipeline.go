// Package ingest walks a document tree and keeps the vector index in sync
// with it: new and changed files are chunked and embedded, moved or
// touched files are re-pointed without re-embedding, and chunks from
// deleted files are removed.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/quarrydocs/quarry/internal/chunker"
	"github.com/quarrydocs/quarry/internal/loader"
	"github.com/quarrydocs/quarry/internal/store"
)

// mtimeTolerance absorbs filesystems that round modification times; a
// difference below it counts as unchanged.
const mtimeTolerance = time.Second

// Store is the index surface the pipeline writes to.
type Store interface {
	Add(ctx context.Context, chunks []store.Chunk) error
	Delete(ctx context.Context, ids []string) error
	DeleteWhere(ctx context.Context, filter store.Filter) (int64, error)
	ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error)
	UpdateMetadata(ctx context.Context, id string, meta store.Metadata) error
	Sources(ctx context.Context) ([]string, error)
	FindMeta(ctx context.Context, filter store.Filter) ([]store.Chunk, error)
}

// Embedder produces index-aligned vectors for a batch of texts.
type Embedder interface {
	EmbedAll(ctx context.Context, texts []string) ([][]float32, error)
}

// Result summarizes one Index run.
type Result struct {
	FilesScanned   int
	FilesIndexed   int
	FilesSkipped   int
	FilesFailed    int
	ChunksAdded    int
	ChunksRepinned int
	ChunksDeleted  int
	SourcesRemoved int
}

// Pipeline drives incremental ingestion. Safe for sequential use; one
// Index run at a time.
type Pipeline struct {
	store     Store
	embedder  Embedder
	chunker   *chunker.Chunker
	batchSize int
	lockPath  string
	logger    *slog.Logger

	// Swappable in tests.
	load      func(path string) ([]loader.Unit, error)
	supported func(path string) bool
}

// New creates a Pipeline. batchSize bounds how many chunks are embedded
// and committed together, so an interrupted run loses at most one batch.
// lockPath names the file used to serialize Index runs against one
// index; empty disables locking.
func New(s Store, e Embedder, c *chunker.Chunker, batchSize int, lockPath string, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize < 1 {
		batchSize = 1
	}
	return &Pipeline{
		store:     s,
		embedder:  e,
		chunker:   c,
		batchSize: batchSize,
		lockPath:  lockPath,
		logger:    logger,
		load:      loader.Load,
		supported: loader.Supported,
	}
}

// Index synchronizes the index with the document tree rooted at root.
// Files are processed before the cleanup pass so that chunks of a moved
// file are re-pointed to the new path instead of being deleted and
// re-embedded.
func (p *Pipeline) Index(ctx context.Context, root string) (Result, error) {
	var res Result

	root, err := filepath.Abs(root)
	if err != nil {
		return res, fmt.Errorf("resolving root: %w", err)
	}

	if p.lockPath != "" {
		if err := os.MkdirAll(filepath.Dir(p.lockPath), 0o750); err != nil {
			return res, fmt.Errorf("preparing index lock: %w", err)
		}
		lock := flock.New(p.lockPath)
		locked, err := lock.TryLock()
		if err != nil {
			return res, fmt.Errorf("acquiring index lock: %w", err)
		}
		if !locked {
			return res, fmt.Errorf("index lock %s is held by another run", p.lockPath)
		}
		defer lock.Unlock()
	}

	files, err := p.scan(root)
	if err != nil {
		return res, err
	}
	res.FilesScanned = len(files)

	seen := make(map[string]bool, len(files))
	for _, path := range files {
		seen[path] = true
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := p.indexFile(ctx, path, &res); err != nil {
			res.FilesFailed++
			p.logger.Warn("indexing file failed", "path", path, "error", err)
		}
	}

	if err := p.cleanup(ctx, root, seen, &res); err != nil {
		return res, err
	}

	p.logger.Info("index run complete",
		"scanned", res.FilesScanned,
		"indexed", res.FilesIndexed,
		"skipped", res.FilesSkipped,
		"failed", res.FilesFailed,
		"chunks_added", res.ChunksAdded,
		"chunks_repinned", res.ChunksRepinned,
		"chunks_deleted", res.ChunksDeleted,
		"sources_removed", res.SourcesRemoved)
	return res, nil
}

// scan collects supported files under root, skipping dot-directories
// (.git, .obsidian and friends) and dot-files.
func (p *Pipeline) scan(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != root && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		if p.supported(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", root, err)
	}
	return files, nil
}

func (p *Pipeline) indexFile(ctx context.Context, path string, res *Result) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat: %w", err)
	}
	mtime := info.ModTime().UnixNano()

	hash, err := hashFile(path)
	if err != nil {
		return fmt.Errorf("hashing: %w", err)
	}

	prior, err := p.store.FindMeta(ctx, store.Filter{store.KeySource: path})
	if err != nil {
		return fmt.Errorf("loading prior state: %w", err)
	}

	// Unchanged only when both the content hash and the mtime match; an
	// mtime restored over new bytes still forces a re-index.
	if len(prior) > 0 && prior[0].Metadata.FileHash == hash {
		delta := time.Duration(mtime - prior[0].Metadata.FileMtime)
		if delta < 0 {
			delta = -delta
		}
		if delta < mtimeTolerance {
			res.FilesSkipped++
			return nil
		}

		// Same bytes, new mtime: the file was touched. Refresh metadata only.
		now := time.Now()
		for _, c := range prior {
			meta := c.Metadata
			meta.FileMtime = mtime
			meta.IndexedAt = now
			if err := p.store.UpdateMetadata(ctx, c.ID, meta); err != nil {
				return fmt.Errorf("refreshing metadata: %w", err)
			}
			res.ChunksRepinned++
		}
		res.FilesSkipped++
		return nil
	}

	units, err := p.load(path)
	if err != nil {
		return fmt.Errorf("extracting text: %w", err)
	}

	chunks := p.chunkUnits(units, path, mtime, hash)
	if err := p.commit(ctx, chunks, res); err != nil {
		return err
	}

	// Drop chunks this file no longer produces.
	current := make(map[string]bool, len(chunks))
	for _, c := range chunks {
		current[c.ID] = true
	}
	var stale []string
	for _, c := range prior {
		if !current[c.ID] {
			stale = append(stale, c.ID)
		}
	}
	if len(stale) > 0 {
		if err := p.store.Delete(ctx, stale); err != nil {
			return fmt.Errorf("deleting stale chunks: %w", err)
		}
		res.ChunksDeleted += len(stale)
	}

	res.FilesIndexed++
	return nil
}

// chunkUnits splits extracted units and builds content-addressed chunks.
// Duplicate chunk text within one run keeps the first occurrence.
func (p *Pipeline) chunkUnits(units []loader.Unit, path string, mtime int64, hash string) []store.Chunk {
	now := time.Now()
	var chunks []store.Chunk
	seen := make(map[string]bool)
	for _, unit := range units {
		for _, text := range p.chunker.Split(unit.Text) {
			id := ChunkID(text)
			if seen[id] {
				continue
			}
			seen[id] = true
			chunks = append(chunks, store.Chunk{
				ID:      id,
				Content: text,
				Metadata: store.Metadata{
					Source:    path,
					FileMtime: mtime,
					FileHash:  hash,
					IndexedAt: now,
					Page:      unit.Page,
				},
			})
		}
	}
	return chunks
}

// commit writes chunks to the store. IDs that already exist anywhere in
// the index get their metadata re-pointed; only genuinely new content is
// embedded, one batch at a time.
func (p *Pipeline) commit(ctx context.Context, chunks []store.Chunk, res *Result) error {
	if len(chunks) == 0 {
		return nil
	}

	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	existing, err := p.store.ExistingIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("checking existing chunks: %w", err)
	}

	var fresh []store.Chunk
	for _, c := range chunks {
		if existing[c.ID] {
			if err := p.store.UpdateMetadata(ctx, c.ID, c.Metadata); err != nil {
				return fmt.Errorf("re-pointing chunk: %w", err)
			}
			res.ChunksRepinned++
			continue
		}
		fresh = append(fresh, c)
	}

	for start := 0; start < len(fresh); start += p.batchSize {
		end := min(start+p.batchSize, len(fresh))
		batch := fresh[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}
		vecs, err := p.embedder.EmbedAll(ctx, texts)
		if err != nil {
			return fmt.Errorf("embedding: %w", err)
		}
		for i := range batch {
			batch[i].Embedding = vecs[i]
		}
		if err := p.store.Add(ctx, batch); err != nil {
			return fmt.Errorf("storing chunks: %w", err)
		}
		res.ChunksAdded += len(batch)
	}
	return nil
}

// cleanup removes chunks whose source file under root no longer exists.
// Sources outside root are left alone so separate trees can share one
// index.
func (p *Pipeline) cleanup(ctx context.Context, root string, seen map[string]bool, res *Result) error {
	sources, err := p.store.Sources(ctx)
	if err != nil {
		return fmt.Errorf("listing indexed sources: %w", err)
	}

	prefix := root + string(filepath.Separator)
	for _, src := range sources {
		if src != root && !strings.HasPrefix(src, prefix) {
			continue
		}
		if seen[src] {
			continue
		}
		n, err := p.store.DeleteWhere(ctx, store.Filter{store.KeySource: src})
		if err != nil {
			return fmt.Errorf("removing chunks of %s: %w", src, err)
		}
		res.ChunksDeleted += int(n)
		res.SourcesRemoved++
		p.logger.Debug("removed deleted source", "source", src, "chunks", n)
	}
	return nil
}

// ChunkID derives the content-addressed ID for a chunk's text.
func ChunkID(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
