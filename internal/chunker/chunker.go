// Package chunker splits document text into token-budgeted, sentence-aligned chunks that
// overlap so context survives chunk boundaries.
package chunker

import (
	"strings"

	"go.uber.org/zap"
)

const (
	// DefaultMaxTokens is the default token budget per chunk.
	DefaultMaxTokens = 800
	// DefaultOverlapTokens is the default token budget carried into the next chunk.
	DefaultOverlapTokens = 100
)

// Chunk is a contiguous, possibly overlapping span of a document's normalized text.
type Chunk struct {
	DocumentID uint
	ChunkIndex int
	// Content includes the overlap carried from the previous chunk.
	Content    string
	TokenCount int
	// Overlap is the byte length of the overlap prefix of Content, separator included.
	// Content[Overlap:] is the text this chunk adds.
	Overlap   int
	Embedding []float32
}

// NewText returns the part of Content that is not carried over from the previous chunk.
func (c Chunk) NewText() string {
	if c.Overlap <= 0 || c.Overlap > len(c.Content) {
		return c.Content
	}
	return c.Content[c.Overlap:]
}

// Chunker is safe for concurrent use; it holds only immutable settings.
type Chunker struct {
	maxTokens     int
	overlapTokens int
	logger        *zap.Logger
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithMaxTokens sets the per-chunk token budget. Non-positive values keep the default.
func WithMaxTokens(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// WithOverlapTokens sets the overlap budget. Negative values disable overlap.
func WithOverlapTokens(n int) Option {
	return func(c *Chunker) {
		if n < 0 {
			n = 0
		}
		c.overlapTokens = n
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Chunker) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New builds a Chunker. An overlap budget that reaches the chunk budget is clamped to
// half of it, otherwise every chunk would be all overlap.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		maxTokens:     DefaultMaxTokens,
		overlapTokens: DefaultOverlapTokens,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlapTokens >= c.maxTokens {
		clamped := c.maxTokens / 2
		c.logger.Debug("overlap budget clamped",
			zap.Int("overlap_tokens", c.overlapTokens),
			zap.Int("max_tokens", c.maxTokens),
			zap.Int("clamped_to", clamped),
		)
		c.overlapTokens = clamped
	}
	return c
}

func (c *Chunker) MaxTokens() int     { return c.maxTokens }
func (c *Chunker) OverlapTokens() int { return c.overlapTokens }

// Chunk splits text into chunks with DocumentID left zero.
func (c *Chunker) Chunk(text string) []Chunk {
	return c.ChunkDocument(text, 0)
}

// ChunkDocument normalizes text, splits it into sentences and accumulates them greedily
// into chunks of at most maxTokens. A sentence larger than the budget is emitted whole.
// Empty input yields an empty slice and a warning, never an error.
func (c *Chunker) ChunkDocument(text string, documentID uint) []Chunk {
	cleaned := Normalize(text)
	if cleaned == "" {
		c.logger.Warn("empty text provided for chunking", zap.Uint("document_id", documentID))
		return []Chunk{}
	}

	sentences := SplitSentences(cleaned)
	tokens := make([]int, len(sentences))
	for i, s := range sentences {
		tokens[i] = EstimateTokens(s)
	}

	var (
		chunks        []Chunk
		current       strings.Builder
		currentTokens int
		overlapLen    int
	)
	seal := func() {
		chunks = append(chunks, Chunk{
			DocumentID: documentID,
			ChunkIndex: len(chunks),
			Content:    current.String(),
			TokenCount: currentTokens,
			Overlap:    overlapLen,
		})
	}

	for i, sentence := range sentences {
		sentenceTokens := tokens[i]
		if currentTokens+sentenceTokens > c.maxTokens && current.Len() > 0 {
			seal()

			seed, seedTokens := c.overlapSeed(sentences[:i], tokens[:i], sentenceTokens)
			current.Reset()
			current.WriteString(seed)
			currentTokens = seedTokens
			overlapLen = 0
			if seed != "" {
				overlapLen = len(seed) + 1
			}
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(sentence)
		currentTokens += sentenceTokens
	}
	if current.Len() > 0 {
		seal()
	}

	c.logger.Debug("document chunked",
		zap.Uint("document_id", documentID),
		zap.Int("sentence_count", len(sentences)),
		zap.Int("chunk_count", len(chunks)),
	)
	return chunks
}

// overlapSeed walks backward through the consumed sentences and returns the longest
// suffix whose estimate fits the overlap budget. The budget also leaves room for the
// incoming sentence so the seeded chunk itself stays within maxTokens.
func (c *Chunker) overlapSeed(consumed []string, tokens []int, nextTokens int) (string, int) {
	budget := c.overlapTokens
	if room := c.maxTokens - nextTokens; room < budget {
		budget = room
	}
	if budget <= 0 {
		return "", 0
	}

	start, total := len(consumed), 0
	for j := len(consumed) - 1; j >= 0; j-- {
		if total+tokens[j] > budget {
			break
		}
		total += tokens[j]
		start = j
	}
	if start == len(consumed) {
		return "", 0
	}
	return strings.Join(consumed[start:], " "), total
}
