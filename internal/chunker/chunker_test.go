package chunker

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// sentenceOfLen returns a sentence of exactly n bytes (n >= 12) ending with a period.
func sentenceOfLen(id, n int) string {
	head := fmt.Sprintf("Sentence %02d", id)
	return head + strings.Repeat("x", n-len(head)-1) + "."
}

func reconstruct(chunks []Chunk) string {
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = c.NewText()
	}
	return strings.Join(parts, " ")
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"crlf", "a\r\nb", "a\nb"},
		{"lone cr", "a\rb", "a\nb"},
		{"collapse newlines", "a\n\n\n\n\nb", "a\n\nb"},
		{"keeps double newline", "a\n\nb", "a\n\nb"},
		{"trims", "  \n hello \n\n", "hello"},
		{"whitespace only", " \r\n\t ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"simple", "Hello world. This is a test.", []string{"Hello world.", "This is a test."}},
		{"mixed terminals", "Really?! Yes. No!", []string{"Really?!", "Yes.", "No!"}},
		{"no terminal punctuation", "just some words", []string{"just some words"}},
		{"trailing fragment kept", "One. two three", []string{"One.", "two three"}},
		{"decimal not split", "Pi is 3.14 today. Ok.", []string{"Pi is 3.14 today.", "Ok."}},
		{"newline boundary", "First.\n\nSecond.", []string{"First.", "Second."}},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitSentences(tt.in))
		})
	}
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("a"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
	assert.Equal(t, 30, EstimateTokens(strings.Repeat("x", 120)))
}

func TestNewOptions(t *testing.T) {
	c := New()
	assert.Equal(t, DefaultMaxTokens, c.MaxTokens())
	assert.Equal(t, DefaultOverlapTokens, c.OverlapTokens())

	c = New(WithMaxTokens(0), WithOverlapTokens(-5))
	assert.Equal(t, DefaultMaxTokens, c.MaxTokens())
	assert.Equal(t, 0, c.OverlapTokens())

	c = New(WithMaxTokens(50), WithOverlapTokens(80))
	assert.Equal(t, 50, c.MaxTokens())
	assert.Equal(t, 25, c.OverlapTokens())
}

func TestChunkSingleChunk(t *testing.T) {
	chunks := New().ChunkDocument("Hello world. This is a test.", 42)

	require.Len(t, chunks, 1)
	assert.Equal(t, "Hello world. This is a test.", chunks[0].Content)
	assert.Equal(t, 0, chunks[0].ChunkIndex)
	assert.Equal(t, uint(42), chunks[0].DocumentID)
	assert.Equal(t, 0, chunks[0].Overlap)
	assert.Nil(t, chunks[0].Embedding)
}

func TestChunkEmptyInputWarns(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	c := New(WithLogger(zap.New(core)))

	chunks := c.Chunk("")
	assert.NotNil(t, chunks)
	assert.Empty(t, chunks)

	assert.Empty(t, c.Chunk(" \n\r\n "))
	assert.Equal(t, 2, logs.FilterMessage("empty text provided for chunking").Len())
}

func TestChunkWithoutPunctuation(t *testing.T) {
	chunks := New().Chunk("  a line of text\r\nwithout any terminal punctuation  ")
	require.Len(t, chunks, 1)
	assert.Equal(t, "a line of text\nwithout any terminal punctuation", chunks[0].Content)
}

func TestChunkFiftySentences(t *testing.T) {
	sentences := make([]string, 50)
	for i := range sentences {
		sentences[i] = sentenceOfLen(i, 120) // 30 tokens
	}
	text := strings.Join(sentences, " ")

	chunks := New(WithMaxTokens(100), WithOverlapTokens(20)).Chunk(text)

	require.Len(t, chunks, 17)
	for i, c := range chunks[:len(chunks)-1] {
		assert.Equal(t, i, c.ChunkIndex)
		assert.Equal(t, 90, c.TokenCount)
		// a 30-token sentence never fits a 20-token overlap budget
		assert.Equal(t, 0, c.Overlap)
		assert.Equal(t, strings.Join(sentences[i*3:i*3+3], " "), c.Content)
	}
	assert.Equal(t, sentences[48]+" "+sentences[49], chunks[16].Content)
	assert.Equal(t, text, reconstruct(chunks))
}

func TestChunkOverlapCarriesTrailingSentences(t *testing.T) {
	long := func(id int) string { return sentenceOfLen(id, 160) } // 40 tokens
	short := func(id int) string { return sentenceOfLen(id, 32) }  // 8 tokens

	sentences := []string{long(1), short(2), short(3), long(4), long(5), short(6)}
	text := strings.Join(sentences, " ")

	chunks := New(WithMaxTokens(60), WithOverlapTokens(20)).Chunk(text)
	require.Len(t, chunks, 3)

	assert.Equal(t, strings.Join(sentences[0:3], " "), chunks[0].Content)
	assert.Equal(t, 56, chunks[0].TokenCount)

	// both short sentences fit the 20-token overlap budget
	overlap := short(2) + " " + short(3)
	assert.True(t, strings.HasPrefix(chunks[1].Content, overlap+" "))
	assert.Equal(t, len(overlap)+1, chunks[1].Overlap)
	assert.Equal(t, long(4), chunks[1].NewText())
	assert.Equal(t, 56, chunks[1].TokenCount)

	// the trailing 40-token sentence is over the overlap budget
	assert.Equal(t, 0, chunks[2].Overlap)
	assert.Equal(t, long(5)+" "+short(6), chunks[2].Content)

	assert.Equal(t, text, reconstruct(chunks))
}

func TestChunkOversizedSentence(t *testing.T) {
	big := sentenceOfLen(1, 400) // 100 tokens
	text := "Short one. " + big + " Tail."

	chunks := New(WithMaxTokens(50), WithOverlapTokens(10)).Chunk(text)
	require.Len(t, chunks, 3)

	assert.Equal(t, "Short one.", chunks[0].Content)
	assert.Equal(t, big, chunks[1].Content)
	assert.Equal(t, 100, chunks[1].TokenCount)
	assert.Equal(t, 0, chunks[1].Overlap)
	assert.Equal(t, "Tail.", chunks[2].NewText())
	assert.Equal(t, text, reconstruct(chunks))
}

func TestChunkProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 200; round++ {
		n := 1 + rng.Intn(60)
		sentences := make([]string, n)
		for i := range sentences {
			sentences[i] = sentenceOfLen(i, 12+rng.Intn(300))
		}
		text := strings.Join(sentences, " ")
		maxTokens := 5 + rng.Intn(150)
		overlapTokens := rng.Intn(maxTokens)

		c := New(WithMaxTokens(maxTokens), WithOverlapTokens(overlapTokens))
		chunks := c.Chunk(text)
		require.NotEmpty(t, chunks)

		assert.Equal(t, text, reconstruct(chunks), "coverage, round %d", round)

		for i, ch := range chunks {
			assert.Equal(t, i, ch.ChunkIndex)
			assert.NotEmpty(t, ch.Content)

			oversized := len(SplitSentences(ch.NewText())) == 1 && ch.Overlap == 0
			if i < len(chunks)-1 && !oversized {
				assert.LessOrEqual(t, ch.TokenCount, maxTokens, "budget, round %d chunk %d", round, i)
			}

			if ch.Overlap > 0 {
				prefix := ch.Content[:ch.Overlap-1]
				assert.True(t, strings.HasSuffix(chunks[i-1].Content, prefix))
				overlapEstimate := 0
				for _, s := range SplitSentences(prefix) {
					overlapEstimate += EstimateTokens(s)
				}
				assert.LessOrEqual(t, overlapEstimate, c.OverlapTokens(), "overlap bound, round %d chunk %d", round, i)
			}
		}

		assert.Equal(t, chunks, c.Chunk(text), "idempotence, round %d", round)
	}
}
