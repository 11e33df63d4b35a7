package ingest

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/book-expert/logger"

	"github.com/book-expert/audiobook-creator/internal/core"
)

// External converter binaries.
const (
	pdftotextBinary = "pdftotext"
	pandocBinary    = "pandoc"
)

// PDFSource extracts text with the pdftotext binary and applies the prose
// chapter heuristics to the result.
type PDFSource struct {
	log *logger.Logger
}

// NewPDFSource creates a PDF parser backed by pdftotext.
func NewPDFSource(log *logger.Logger) *PDFSource {
	return &PDFSource{log: log}
}

// Available reports whether pdftotext is installed.
func (s *PDFSource) Available() error {
	if _, err := exec.LookPath(pdftotextBinary); err != nil {
		return fmt.Errorf("%s not found in PATH: %w", pdftotextBinary, err)
	}

	return nil
}

// Parse converts the PDF to plain text and splits it into chapters.
func (s *PDFSource) Parse(ctx context.Context, path string) (*core.Document, error) {
	tempFile, err := os.CreateTemp("", "ingest-pdf-*.txt")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file for pdf text: %w", err)
	}

	defer s.removeTemp(tempFile.Name())

	if err := tempFile.Close(); err != nil {
		return nil, fmt.Errorf("failed to close temp file: %w", err)
	}

	args := []string{"-enc", "UTF-8", "-eol", "unix", "-nopgbrk", path, tempFile.Name()}

	// #nosec G204 -- path comes from the job request, arguments are fixed flags
	cmd := exec.CommandContext(ctx, pdftotextBinary, args...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf(
			"%s execution failed: %w - output: %s",
			pdftotextBinary, err, string(output),
		)
	}

	text, err := os.ReadFile(tempFile.Name())
	if err != nil {
		return nil, fmt.Errorf("failed to read extracted text: %w", err)
	}

	title := titleFromPath(path)

	return buildDocument(title, "", chaptersFromProse(string(text), title))
}

func (s *PDFSource) removeTemp(name string) {
	removeErr := os.Remove(name)
	if removeErr != nil {
		s.log.Warn("Failed to remove temp file '%s': %v", name, removeErr)
	}
}

// EPUBSource converts EPUB files to markdown with pandoc and reuses the
// markdown chapter splitter.
type EPUBSource struct {
	log *logger.Logger
}

// NewEPUBSource creates an EPUB parser backed by pandoc.
func NewEPUBSource(log *logger.Logger) *EPUBSource {
	return &EPUBSource{log: log}
}

// Available reports whether pandoc is installed.
func (s *EPUBSource) Available() error {
	if _, err := exec.LookPath(pandocBinary); err != nil {
		return fmt.Errorf("%s not found in PATH: %w", pandocBinary, err)
	}

	return nil
}

// Parse converts the EPUB to markdown and splits it on headings.
func (s *EPUBSource) Parse(ctx context.Context, path string) (*core.Document, error) {
	tempFile, err := os.CreateTemp("", "ingest-epub-*.md")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file for epub text: %w", err)
	}

	defer s.removeTemp(tempFile.Name())

	if err := tempFile.Close(); err != nil {
		return nil, fmt.Errorf("failed to close temp file: %w", err)
	}

	args := []string{
		"-f", "epub",
		"-t", "markdown_strict",
		"--wrap", "none",
		"-o", tempFile.Name(),
		path,
	}

	// #nosec G204 -- path comes from the job request, arguments are fixed flags
	cmd := exec.CommandContext(ctx, pandocBinary, args...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf(
			"%s execution failed: %w - output: %s",
			pandocBinary, err, string(output),
		)
	}

	markdown, err := os.ReadFile(tempFile.Name())
	if err != nil {
		return nil, fmt.Errorf("failed to read converted markdown: %w", err)
	}

	title, chapters := splitMarkdown(string(markdown), titleFromPath(path))

	return buildDocument(title, "", chapters)
}

func (s *EPUBSource) removeTemp(name string) {
	removeErr := os.Remove(name)
	if removeErr != nil {
		s.log.Warn("Failed to remove temp file '%s': %v", name, removeErr)
	}
}
