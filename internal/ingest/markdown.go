package ingest

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/book-expert/audiobook-creator/internal/core"
)

// MarkdownSource parses markdown files. Level-one and level-two headings
// start chapters; a leading level-one heading doubles as the book title.
type MarkdownSource struct{}

// NewMarkdownSource creates a markdown parser.
func NewMarkdownSource() *MarkdownSource {
	return &MarkdownSource{}
}

// Parse reads the file and splits it on headings.
func (s *MarkdownSource) Parse(ctx context.Context, path string) (*core.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	title, chapters := splitMarkdown(string(data), titleFromPath(path))

	return buildDocument(title, "", chapters)
}

// splitMarkdown walks the document line by line. Fenced code blocks are
// opaque so a "# comment" inside one never starts a chapter.
func splitMarkdown(text, fallbackTitle string) (string, []core.Chapter) {
	var (
		chapters     []core.Chapter
		body         []string
		docTitle     = fallbackTitle
		chapterTitle = ""
		sawHeading   = false
		inFence      = false
	)

	flush := func() {
		raw := strings.Join(body, "\n")
		if strings.TrimSpace(raw) == "" {
			return
		}

		title := chapterTitle
		if title == "" {
			title = "Front Matter"
		}

		chapters = append(chapters, core.Chapter{
			Index:   len(chapters),
			Title:   title,
			RawText: raw,
		})
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			body = append(body, line)

			continue
		}

		level, heading := headingOf(trimmed)
		if inFence || level == 0 || level > 2 {
			body = append(body, line)

			continue
		}

		if level == 1 && !sawHeading && strings.TrimSpace(strings.Join(body, "")) == "" {
			// A document-leading H1 names the book, not a chapter.
			docTitle = heading
			sawHeading = true
			body = nil

			continue
		}

		flush()

		sawHeading = true
		chapterTitle = heading
		body = nil
	}

	flush()

	return docTitle, chapters
}

func headingOf(line string) (int, string) {
	level := 0
	for level < len(line) && line[level] == '#' {
		level++
	}

	if level == 0 || level >= len(line) || line[level] != ' ' {
		return 0, ""
	}

	return level, strings.TrimSpace(line[level:])
}

// PlainTextSource parses bare text files using chapter-opener heuristics.
type PlainTextSource struct{}

// NewPlainTextSource creates a plain text parser.
func NewPlainTextSource() *PlainTextSource {
	return &PlainTextSource{}
}

// Parse reads the file and splits it on conventional chapter openers.
func (s *PlainTextSource) Parse(ctx context.Context, path string) (*core.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	title := titleFromPath(path)

	return buildDocument(title, "", chaptersFromProse(string(data), title))
}
