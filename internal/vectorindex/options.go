package vectorindex

import "time"

const (
	DefaultTopK             = 5
	DefaultMinScore         = 0.7
	DefaultDimensions       = 1536
	DefaultNativeOverfetch  = 2
	DefaultFallbackPageSize = 500
	DefaultFallbackMaxRows  = 50000
)

type Config struct {
	// Dimensions is the one embedding size accepted system-wide.
	Dimensions int
	// NativeOverfetch multiplies TopK to get the match count asked of the database.
	NativeOverfetch  int
	FallbackPageSize int
	// FallbackMaxRows caps the fallback scan; 0 scans every candidate row.
	FallbackMaxRows int
	SearchTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Dimensions <= 0 {
		c.Dimensions = DefaultDimensions
	}
	if c.NativeOverfetch <= 0 {
		c.NativeOverfetch = DefaultNativeOverfetch
	}
	if c.FallbackPageSize <= 0 {
		c.FallbackPageSize = DefaultFallbackPageSize
	}
	if c.FallbackMaxRows < 0 {
		c.FallbackMaxRows = DefaultFallbackMaxRows
	}
	return c
}

// SearchOptions narrows a similarity search. A zero TopK or nil MinScore takes the default.
type SearchOptions struct {
	TopK        int
	MinScore    *float64
	DocumentIDs []uint
}

func (o SearchOptions) topK() int {
	if o.TopK <= 0 {
		return DefaultTopK
	}
	return o.TopK
}

func (o SearchOptions) minScore() float64 {
	if o.MinScore == nil {
		return DefaultMinScore
	}
	return *o.MinScore
}

// Score is a helper for building SearchOptions.MinScore.
func Score(v float64) *float64 { return &v }

type SearchResult struct {
	ChunkID    uint    `json:"chunk_id"`
	DocumentID uint    `json:"document_id"`
	Content    string  `json:"content"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
}

type Stats struct {
	TotalChunks    int64  `json:"total_chunks"`
	TotalDocuments int64  `json:"total_documents"`
	Dimensions     int    `json:"dimensions"`
	SearchMode     string `json:"search_mode"`
}
