package loader

import (
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// loadPDF extracts plain text from a PDF, one Unit per page so page
// numbers survive into chunk metadata. Pages whose text cannot be decoded
// are skipped rather than failing the whole file; a PDF where every page
// fails returns an error.
func loadPDF(path string) ([]Unit, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()

	total := r.NumPage()
	var units []Unit
	var failed int
	for i := 1; i <= total; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			failed++
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		units = append(units, Unit{Text: text, Source: path, Page: i})
	}

	if len(units) == 0 && failed > 0 {
		return nil, fmt.Errorf("no extractable text in %s (%d of %d pages failed)", path, failed, total)
	}
	return units, nil
}
