// Package loader extracts plain text from supported document formats.
// Each file yields one or more Units, the unit of text handed to the
// chunker (whole file for Markdown, one per page for PDF).
package loader

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Unit is a contiguous run of extracted text from one source file.
type Unit struct {
	// Text is the extracted plain text.
	Text string

	// Source is the absolute path of the originating file.
	Source string

	// Page is the 1-based page number for paginated formats, 0 otherwise.
	Page int
}

// Supported reports whether path has a file extension the loader handles.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown", ".pdf":
		return true
	default:
		return false
	}
}

// Load extracts text units from the file at path, dispatching on its
// extension.
func Load(path string) ([]Unit, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return loadMarkdown(path)
	case ".pdf":
		return loadPDF(path)
	default:
		return nil, fmt.Errorf("unsupported file type: %s", path)
	}
}
