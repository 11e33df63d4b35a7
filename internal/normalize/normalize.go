// Package normalize cleans extracted book text for synthesis. It repairs
// artifacts of print extraction (line-break hyphenation, hard wraps, footnote
// markers) and rewrites typography the speech engine mispronounces.
package normalize

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Bounds for spelled-out numbers.
const (
	baseTen      = 10
	baseTwenty   = 20
	baseHundred  = 100
	baseThousand = 1000
	maxSpelled   = 999999
)

const (
	hyphenBreakPattern = `(\p{L})-[ \t]*\n[ \t]*(\p{L})`
	softWrapPattern    = `[ \t]*\n[ \t]*`
	footnotePattern    = `(?:\[\d+\]|[¹²³⁴⁵⁶⁷⁸⁹⁰]+)`
	citationPattern    = `\([^()]*\b(?:18|19|20)\d{2}\b[^()]*\)`
	pageNumberPattern  = `(?m)^\s*\d{1,4}\s*$`
	spacesPattern      = `[ \t]{2,}`
	integerPattern     = `\d+`
	urlPattern         = `https?://\S+`
	emailPattern       = `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`
)

const placeholderFormat = "\x00TOKEN%d\x00"

// Normalizer is a rule-based text cleaner. It satisfies the pipeline's
// normalizer contract without needing the inference device; model-backed
// cleaners slot in behind the same interface.
type Normalizer struct {
	hyphenBreak  *regexp.Regexp
	softWrap     *regexp.Regexp
	footnote     *regexp.Regexp
	citation     *regexp.Regexp
	pageNumber   *regexp.Regexp
	spaces       *regexp.Regexp
	integer      *regexp.Regexp
	url          *regexp.Regexp
	email        *regexp.Regexp
	typography   *strings.Replacer
	expandDigits bool
}

// Option adjusts Normalizer behavior.
type Option func(*Normalizer)

// WithDigitExpansion spells out integers up to six digits so the engine
// reads "1905" as words instead of digit soup.
func WithDigitExpansion() Option {
	return func(n *Normalizer) { n.expandDigits = true }
}

// New compiles the cleaning rules once; the Normalizer is safe for
// concurrent use.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		hyphenBreak: regexp.MustCompile(hyphenBreakPattern),
		softWrap:    regexp.MustCompile(softWrapPattern),
		footnote:    regexp.MustCompile(footnotePattern),
		citation:    regexp.MustCompile(citationPattern),
		pageNumber:  regexp.MustCompile(pageNumberPattern),
		spaces:      regexp.MustCompile(spacesPattern),
		integer:     regexp.MustCompile(integerPattern),
		url:         regexp.MustCompile(urlPattern),
		email:       regexp.MustCompile(emailPattern),
		typography: strings.NewReplacer(
			"“", `"`, "”", `"`,
			"‘", "'", "’", "'",
			"—", ", ", "–", "-", "‒", "-",
			"…", "...",
			" ", " ",
		),
	}

	for _, opt := range opts {
		opt(n)
	}

	return n
}

// Clean normalizes one chapter's text. Paragraph breaks survive; everything
// inside a paragraph is flattened onto one line.
func (n *Normalizer) Clean(ctx context.Context, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("cleaning: %w", err)
	}

	if strings.TrimSpace(text) == "" {
		return "", nil
	}

	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = n.pageNumber.ReplaceAllString(text, "")

	paragraphs := splitParagraphs(text)
	cleaned := make([]string, 0, len(paragraphs))

	for _, paragraph := range paragraphs {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("cleaning: %w", err)
		}

		result := n.cleanParagraph(paragraph)
		if result != "" {
			cleaned = append(cleaned, result)
		}
	}

	return strings.Join(cleaned, "\n\n"), nil
}

func (n *Normalizer) cleanParagraph(paragraph string) string {
	// Shield URLs and addresses from the rewriting passes.
	shielded, tokens := n.shieldTokens(paragraph)

	shielded = n.hyphenBreak.ReplaceAllString(shielded, "$1$2")
	shielded = n.softWrap.ReplaceAllString(shielded, " ")
	shielded = n.footnote.ReplaceAllString(shielded, "")
	shielded = n.citation.ReplaceAllString(shielded, "")
	shielded = n.typography.Replace(shielded)

	if n.expandDigits {
		shielded = n.integer.ReplaceAllStringFunc(shielded, spellInteger)
	}

	shielded = n.spaces.ReplaceAllString(shielded, " ")
	shielded = strings.TrimSpace(shielded)

	for placeholder, original := range tokens {
		shielded = strings.ReplaceAll(shielded, placeholder, original)
	}

	return ensureTerminated(shielded)
}

func (n *Normalizer) shieldTokens(text string) (string, map[string]string) {
	tokens := make(map[string]string)
	counter := 0

	shield := func(pattern *regexp.Regexp, input string) string {
		return pattern.ReplaceAllStringFunc(input, func(match string) string {
			placeholder := fmt.Sprintf(placeholderFormat, counter)
			tokens[placeholder] = match
			counter++

			return placeholder
		})
	}

	text = shield(n.url, text)
	text = shield(n.email, text)

	return text, tokens
}

func splitParagraphs(text string) []string {
	var (
		out     []string
		current []string
	)

	flush := func() {
		if len(current) > 0 {
			out = append(out, strings.Join(current, "\n"))
			current = nil
		}
	}

	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			flush()

			continue
		}

		current = append(current, line)
	}

	flush()

	return out
}

// ensureTerminated appends a period to a paragraph that trails off without
// punctuation, which otherwise makes the engine run sentences together.
func ensureTerminated(text string) string {
	if text == "" {
		return ""
	}

	last, _ := utf8.DecodeLastRuneInString(text)
	if unicode.IsPunct(last) || unicode.IsSymbol(last) {
		return text
	}

	return text + "."
}

// spellInteger writes a non-negative integer in English words. Values out of
// range keep their digits.
func spellInteger(digits string) string {
	value, err := strconv.Atoi(digits)
	if err != nil || value > maxSpelled {
		return digits
	}

	if value == 0 {
		return "zero"
	}

	var parts []string

	if thousands := value / baseThousand; thousands > 0 {
		parts = append(parts, spellUnderThousand(thousands)+" thousand")
		value %= baseThousand
	}

	if value > 0 {
		parts = append(parts, spellUnderThousand(value))
	}

	return strings.Join(parts, " ")
}

func spellUnderThousand(value int) string {
	var parts []string

	if hundreds := value / baseHundred; hundreds > 0 {
		parts = append(parts, ones[hundreds]+" hundred")
		value %= baseHundred
	}

	if value > 0 {
		parts = append(parts, spellUnderHundred(value))
	}

	return strings.Join(parts, " ")
}

func spellUnderHundred(value int) string {
	switch {
	case value < baseTen:
		return ones[value]
	case value < baseTwenty:
		return teens[value-baseTen]
	default:
		result := tens[value/baseTen]
		if value%baseTen > 0 {
			result += " " + ones[value%baseTen]
		}

		return result
	}
}

var (
	ones = []string{
		"", "one", "two", "three", "four", "five",
		"six", "seven", "eight", "nine",
	}
	teens = []string{
		"ten", "eleven", "twelve", "thirteen", "fourteen",
		"fifteen", "sixteen", "seventeen", "eighteen", "nineteen",
	}
	tens = []string{
		"", "", "twenty", "thirty", "forty", "fifty",
		"sixty", "seventy", "eighty", "ninety",
	}
)
