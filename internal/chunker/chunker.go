// Package chunker splits chapter text into bounded-length chunks at sentence
// boundaries, sized to the speech engine's input limit.
//
// Chunk boundaries never fall inside a sentence, so concatenating a chapter's
// chunks in order (separators included) reconstructs the chapter text exactly.
package chunker

import (
	"strings"
	"unicode"

	"github.com/book-expert/audiobook-creator/internal/core"
)

// CharsPerToken is the approximation used to estimate engine token counts
// from character length.
const CharsPerToken = 4

// DefaultMaxTokens bounds a chunk when the caller does not configure a limit.
const DefaultMaxTokens = 500

// EstimateTokens approximates the engine token count for text. The estimate
// rounds up so a chunk reported within budget is never undercounted.
func EstimateTokens(text string) int {
	return (len(text) + CharsPerToken - 1) / CharsPerToken
}

// Chunker performs punctuation- and quotation-aware sentence segmentation
// followed by greedy packing into token-bounded chunks.
type Chunker struct {
	abbreviations map[string]struct{}
}

// New creates a Chunker with the default abbreviation table.
func New() *Chunker {
	abbrevs := []string{
		"mr", "mrs", "ms", "dr", "prof", "sr", "jr", "st",
		"vs", "etc", "e.g", "i.e", "cf", "al",
		"inc", "ltd", "co", "corp",
		"no", "vol", "fig", "ch", "pp", "ed", "eds",
	}

	table := make(map[string]struct{}, len(abbrevs))
	for _, a := range abbrevs {
		table[a] = struct{}{}
	}

	return &Chunker{abbreviations: table}
}

// Split divides text into chunks whose estimated token count stays within
// maxTokens. A single sentence that alone exceeds the limit is emitted as its
// own oversized chunk rather than truncated; the engine decides what to do
// with it. Input with no speakable content yields zero chunks.
func (c *Chunker) Split(chapterIndex int, text string, maxTokens int) []core.TextChunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	sentences := c.sentences(text)
	chunks := make([]core.TextChunk, 0, len(sentences))

	var current strings.Builder

	flush := func() {
		if current.Len() == 0 {
			return
		}

		chunkText := current.String()
		chunks = append(chunks, core.TextChunk{
			ChapterIndex:    chapterIndex,
			ChunkIndex:      len(chunks),
			Text:            chunkText,
			EstimatedTokens: EstimateTokens(chunkText),
		})
		current.Reset()
	}

	for _, sentence := range sentences {
		if current.Len() > 0 && EstimateTokens(current.String())+EstimateTokens(sentence) > maxTokens {
			flush()
		}

		current.WriteString(sentence)

		// An oversized sentence occupies a chunk of its own.
		if EstimateTokens(current.String()) > maxTokens {
			flush()
		}
	}

	flush()

	return chunks
}

// sentences segments text into sentences, each carrying its trailing
// whitespace so that concatenation is lossless.
func (c *Chunker) sentences(text string) []string {
	runes := []rune(text)

	var out []string

	start := 0
	i := 0

	for i < len(runes) {
		r := runes[i]
		if r != '.' && r != '!' && r != '?' {
			i++

			continue
		}

		end, ok := c.boundaryEnd(runes, i)
		if !ok {
			i++

			continue
		}

		out = append(out, string(runes[start:end]))
		start = end
		i = end
	}

	if start < len(runes) {
		out = append(out, string(runes[start:]))
	}

	return out
}

// boundaryEnd decides whether the terminator at position i ends a sentence.
// On success it returns the index one past the terminator cluster, its
// closing quotes, and the following whitespace run.
func (c *Chunker) boundaryEnd(runes []rune, i int) (int, bool) {
	end := i

	// Absorb the full terminator cluster ("?!", "...", "!!").
	for end < len(runes) && isTerminator(runes[end]) {
		end++
	}

	// An ellipsis trails off rather than ending a sentence.
	if runes[i] == '.' && end-i >= 3 {
		return 0, false
	}

	// A terminator inside a quotation still closes the sentence.
	for end < len(runes) && isClosingMark(runes[end]) {
		end++
	}

	// Mid-word punctuation (decimals, URLs, "U.S.A.") has no space after it.
	if end < len(runes) && !unicode.IsSpace(runes[end]) {
		return 0, false
	}

	if runes[i] == '.' && !c.periodEndsSentence(runes, i, end) {
		return 0, false
	}

	for end < len(runes) && unicode.IsSpace(runes[end]) {
		end++
	}

	return end, true
}

// periodEndsSentence applies the abbreviation heuristics that only matter for
// periods; '!' and '?' are unambiguous.
func (c *Chunker) periodEndsSentence(runes []rune, i, end int) bool {
	word := wordBefore(runes, i)

	if _, known := c.abbreviations[strings.ToLower(strings.TrimSuffix(word, "."))]; known {
		return false
	}

	// Single-letter initials: "J. Smith".
	if len([]rune(word)) == 1 && unicode.IsUpper([]rune(word)[0]) {
		return false
	}

	// Multi-part abbreviations such as "Ph.D" keep their internal periods.
	if strings.Contains(word, ".") {
		return false
	}

	// An abbreviation followed by a lowercase continuation is not a boundary.
	next := end
	for next < len(runes) && unicode.IsSpace(runes[next]) {
		next++
	}

	if next < len(runes) && unicode.IsLower(runes[next]) {
		return false
	}

	return true
}

func wordBefore(runes []rune, i int) string {
	start := i - 1
	for start >= 0 && !unicode.IsSpace(runes[start]) {
		start--
	}

	return string(runes[start+1 : i])
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func isClosingMark(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '”', '’':
		return true
	default:
		return false
	}
}
