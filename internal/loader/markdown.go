package loader

import (
	"fmt"
	"os"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// loadMarkdown parses a Markdown file and extracts its prose and code as
// plain text, dropping formatting syntax. The whole file becomes one Unit
// so the chunker sees paragraph boundaries intact.
func loadMarkdown(path string) ([]Unit, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading markdown file: %w", err)
	}

	extracted := extractMarkdown(src)
	if strings.TrimSpace(extracted) == "" {
		return nil, nil
	}
	return []Unit{{Text: extracted, Source: path}}, nil
}

// extractMarkdown walks the goldmark AST collecting block-level text.
// Headings, paragraphs and list items contribute their inline text; code
// blocks contribute their raw lines.
func extractMarkdown(src []byte) string {
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading, *ast.Paragraph:
			writeBlock(&b, inlineText(n, src))
			return ast.WalkSkipChildren, nil
		case *ast.TextBlock:
			// Tight list items wrap their text in a TextBlock.
			writeBlock(&b, inlineText(n, src))
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock:
			writeBlock(&b, blockLines(node, src))
			return ast.WalkSkipChildren, nil
		case *ast.CodeBlock:
			writeBlock(&b, blockLines(node, src))
			return ast.WalkSkipChildren, nil
		case *ast.HTMLBlock:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}

func writeBlock(b *strings.Builder, s string) {
	s = strings.TrimRight(s, "\n")
	if strings.TrimSpace(s) == "" {
		return
	}
	if b.Len() > 0 {
		b.WriteString("\n\n")
	}
	b.WriteString(s)
}

// inlineText flattens the inline children of a block node.
func inlineText(n ast.Node, src []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(child ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := child.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteByte('\n')
			}
		case *ast.String:
			b.Write(t.Value)
		case *ast.AutoLink:
			b.Write(t.URL(src))
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

// blockLines returns the raw source lines of a code block node.
func blockLines(n ast.Node, src []byte) string {
	var b strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(src))
	}
	return b.String()
}
