package chunker_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/audiobook-creator/internal/chunker"
)

func joinChunks(t *testing.T, text string, maxTokens int) string {
	t.Helper()

	var builder strings.Builder

	for _, chunk := range chunker.New().Split(0, text, maxTokens) {
		builder.WriteString(chunk.Text)
	}

	return builder.String()
}

func TestSplitRoundTrip(t *testing.T) {
	t.Parallel()

	texts := []string{
		"One sentence. Another sentence follows! Does a third? Yes.",
		"She said, \"Stop right there.\" He did not.\n\nA new paragraph began.",
		"Dr. Smith met Mr. Jones at 3.14 km. They talked for hours.",
		"Trailing whitespace matters.   Even runs of spaces.\t\tAnd tabs.",
		"No terminator at the end of this chapter",
	}

	for _, text := range texts {
		assert.Equal(t, text, joinChunks(t, text, 50))
		assert.Equal(t, text, joinChunks(t, text, 5))
	}
}

func TestSplitRespectsTokenBudget(t *testing.T) {
	t.Parallel()

	sentence := "This sentence is about sixty characters long, give or take. "
	text := strings.Repeat(sentence, 20)

	const maxTokens = 50

	chunks := chunker.New().Split(0, text, maxTokens)
	require.NotEmpty(t, chunks)

	for _, chunk := range chunks {
		assert.LessOrEqual(t, chunk.EstimatedTokens, maxTokens)
		assert.Equal(t, chunker.EstimateTokens(chunk.Text), chunk.EstimatedTokens)
	}
}

func TestSplitOversizedSentencePassesThrough(t *testing.T) {
	t.Parallel()

	long := "Endless " + strings.Repeat("word ", 100) + "stops."
	text := "Short opener. " + long

	chunks := chunker.New().Split(0, text, 20)
	require.Len(t, chunks, 2)

	assert.Equal(t, "Short opener. ", chunks[0].Text)
	assert.Equal(t, long, chunks[1].Text)
	assert.Greater(t, chunks[1].EstimatedTokens, 20)
}

func TestSplitEmptyInput(t *testing.T) {
	t.Parallel()

	splitter := chunker.New()

	assert.Empty(t, splitter.Split(0, "", 100))
	assert.Empty(t, splitter.Split(0, "   \n\t  ", 100))
}

func TestSplitAbbreviationsDoNotEndSentences(t *testing.T) {
	t.Parallel()

	text := "Dr. Watson arrived late. Mrs. Hudson had tea ready."

	chunks := chunker.New().Split(0, text, 8)
	require.Len(t, chunks, 2)

	assert.Equal(t, "Dr. Watson arrived late. ", chunks[0].Text)
	assert.Equal(t, "Mrs. Hudson had tea ready.", chunks[1].Text)
}

func TestSplitClosingQuoteIsBoundary(t *testing.T) {
	t.Parallel()

	text := "\"Leave now.\" She turned away."

	chunks := chunker.New().Split(0, text, 5)
	require.Len(t, chunks, 2)

	assert.Equal(t, "\"Leave now.\" ", chunks[0].Text)
	assert.Equal(t, "She turned away.", chunks[1].Text)
}

func TestSplitChunkIndicesAndChapter(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("A short sentence here. ", 10)

	chunks := chunker.New().Split(3, text, 10)
	require.NotEmpty(t, chunks)

	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.ChunkIndex)
		assert.Equal(t, 3, chunk.ChapterIndex)
	}
}

func TestSplitDeterministic(t *testing.T) {
	t.Parallel()

	text := "First sentence. Second sentence! Third sentence? Fourth."

	first := chunker.New().Split(0, text, 10)
	second := chunker.New().Split(0, text, 10)

	assert.Equal(t, first, second)
}

func TestEstimateTokensRoundsUp(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, chunker.EstimateTokens(""))
	assert.Equal(t, 1, chunker.EstimateTokens("a"))
	assert.Equal(t, 1, chunker.EstimateTokens("abcd"))
	assert.Equal(t, 2, chunker.EstimateTokens("abcde"))
}
