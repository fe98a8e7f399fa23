// Package chunker splits text into overlapping passages sized for the
// embedding model. Splitting prefers natural boundaries (paragraphs,
// lines, sentences, words) and only hard-cuts text that has none.
package chunker

import (
	"strings"
	"unicode/utf8"
)

// separators are tried in order; the empty string means hard rune cuts.
var separators = []string{"\n\n", "\n", ". ", " ", ""}

// Chunker produces chunks of at most Size runes where each chunk begins
// with the last Overlap runes of its predecessor.
type Chunker struct {
	size    int
	overlap int
}

// New creates a Chunker. overlap is clamped below size/2 so pieces always
// make forward progress.
func New(size, overlap int) *Chunker {
	if size < 1 {
		size = 1
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size/2 {
		overlap = size/2 - 1
		if overlap < 0 {
			overlap = 0
		}
	}
	return &Chunker{size: size, overlap: overlap}
}

// Split chunks text. Whitespace-only input yields no chunks. All rune
// counting is Unicode-aware; multi-byte runes are never cut in half.
func (c *Chunker) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	pieces := c.divide(text, separators)

	var chunks []string
	var buf []rune
	for _, piece := range pieces {
		runes := []rune(piece)
		if len(buf) > 0 && len(buf)+len(runes) > c.size {
			chunks = append(chunks, string(buf))
			// Seed the next chunk with the tail of this one.
			tail := buf[len(buf)-min(c.overlap, len(buf)):]
			buf = append([]rune(nil), tail...)
		}
		buf = append(buf, runes...)
	}
	if len(buf) > 0 && strings.TrimSpace(string(buf)) != "" {
		chunks = append(chunks, string(buf))
	}
	return chunks
}

// divide recursively splits text into pieces no longer than size-overlap
// runes, each ending with the separator that produced it.
func (c *Chunker) divide(text string, seps []string) []string {
	limit := c.size - c.overlap
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	if len(seps) == 0 || seps[0] == "" {
		return hardCut(text, limit)
	}

	parts := strings.SplitAfter(text, seps[0])
	if len(parts) == 1 {
		return c.divide(text, seps[1:])
	}

	var out []string
	for _, part := range parts {
		if part == "" {
			continue
		}
		if utf8.RuneCountInString(part) <= limit {
			out = append(out, part)
		} else {
			out = append(out, c.divide(part, seps[1:])...)
		}
	}
	return out
}

func hardCut(text string, limit int) []string {
	runes := []rune(text)
	out := make([]string, 0, (len(runes)+limit-1)/limit)
	for start := 0; start < len(runes); start += limit {
		end := min(start+limit, len(runes))
		out = append(out, string(runes[start:end]))
	}
	return out
}
