// Package ingest parses source documents into ordered chapters. Markdown and
// plain text are handled natively; PDF and EPUB are converted through the
// pdftotext and pandoc binaries first.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/book-expert/logger"

	"github.com/book-expert/audiobook-creator/internal/core"
)

// Static errors for ingestion failures.
var (
	ErrUnsupportedFormat = errors.New("unsupported source format")
	ErrEmptyDocument     = errors.New("document contains no text")
)

// chapterHeadingPattern recognizes conventional chapter openers in plain
// prose extracted from PDFs or bare text files.
var chapterHeadingPattern = regexp.MustCompile(
	`(?i)^\s*(chapter|part|book|prologue|epilogue|introduction|preface|appendix)\b[^\n]*$`,
)

// ForFile selects a DocumentSource by file extension.
func ForFile(path string, log *logger.Logger) (core.DocumentSource, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return NewMarkdownSource(), nil
	case ".txt", ".text":
		return NewPlainTextSource(), nil
	case ".pdf":
		return NewPDFSource(log), nil
	case ".epub":
		return NewEPUBSource(log), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// AutoSource dispatches to the format-specific source per parsed file. The
// daemon uses it because consecutive jobs may carry different formats.
type AutoSource struct {
	log *logger.Logger
}

// NewAutoSource creates a dispatching source.
func NewAutoSource(log *logger.Logger) *AutoSource {
	return &AutoSource{log: log}
}

// Parse selects the source for path and parses it.
func (s *AutoSource) Parse(ctx context.Context, path string) (*core.Document, error) {
	source, err := ForFile(path, s.log)
	if err != nil {
		return nil, err
	}

	doc, err := source.Parse(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return doc, nil
}

// titleFromPath derives a human-readable title from the source file name.
func titleFromPath(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)

	return strings.TrimSpace(base)
}

// chaptersFromProse splits heading-free prose into chapters using the
// conventional chapter openers. Text with no recognizable headings becomes a
// single chapter carrying the document title.
func chaptersFromProse(text, fallbackTitle string) []core.Chapter {
	lines := strings.Split(text, "\n")

	var (
		chapters []core.Chapter
		title    = fallbackTitle
		body     []string
	)

	flush := func() {
		raw := strings.Join(body, "\n")
		if strings.TrimSpace(raw) == "" {
			return
		}

		chapters = append(chapters, core.Chapter{
			Index:   len(chapters),
			Title:   title,
			RawText: raw,
		})
	}

	for _, line := range lines {
		if chapterHeadingPattern.MatchString(line) && len(strings.Fields(line)) <= 6 {
			flush()

			title = strings.TrimSpace(line)
			body = nil

			continue
		}

		body = append(body, line)
	}

	flush()

	return chapters
}

func buildDocument(title, author string, chapters []core.Chapter) (*core.Document, error) {
	if len(chapters) == 0 {
		return nil, fmt.Errorf("%w", ErrEmptyDocument)
	}

	return &core.Document{
		Title:    title,
		Author:   author,
		Chapters: chapters,
	}, nil
}
