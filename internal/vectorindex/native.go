package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

// SearchFunction is the server-side nearest-neighbour function called on postgres.
const SearchFunction = "search_brain_chunks"

// NativeMatch is one row returned by the database nearest-neighbour operator.
type NativeMatch struct {
	ID         uint
	DocumentID uint
	Content    string
	ChunkIndex int
	Distance   float64
}

// NativeSearcher runs nearest-neighbour search inside the database. Implementations return
// an error wrapping ErrNativeUnavailable when the operator does not exist.
type NativeSearcher interface {
	SearchNative(ctx context.Context, query []float32, matchCount int, documentIDs []uint) ([]NativeMatch, error)
}

// PostgresSearcher calls search_brain_chunks through pgvector's cosine distance.
type PostgresSearcher struct {
	db *gorm.DB
}

func NewPostgresSearcher(db *gorm.DB) *PostgresSearcher {
	return &PostgresSearcher{db: db}
}

// NativeSearcherFor returns the native searcher for db's dialect, or nil when the dialect
// has none.
func NativeSearcherFor(db *gorm.DB) NativeSearcher {
	if db != nil && db.Dialector.Name() == "postgres" {
		return NewPostgresSearcher(db)
	}
	return nil
}

func (s *PostgresSearcher) SearchNative(ctx context.Context, query []float32, matchCount int, documentIDs []uint) ([]NativeMatch, error) {
	var matches []NativeMatch
	err := searchStatement(s.db.WithContext(ctx), query, matchCount, documentIDs).Scan(&matches).Error
	if err != nil {
		if isUndefined(err) {
			return nil, fmt.Errorf("%w: %v", ErrNativeUnavailable, err)
		}
		return nil, fmt.Errorf("native vector search failed: %w", err)
	}
	return matches, nil
}

// searchStatement passes the document filter as one bigint[] literal; a slice argument
// would be expanded into a parenthesised list.
func searchStatement(db *gorm.DB, query []float32, matchCount int, documentIDs []uint) *gorm.DB {
	var filter any
	if len(documentIDs) > 0 {
		filter = bigintArray(documentIDs)
	}
	return db.Raw("SELECT id, document_id, content, chunk_index, distance FROM "+SearchFunction+"(?::vector, ?::int, ?::bigint[])",
		pgvector.NewVector(query), matchCount, filter)
}

func bigintArray(ids []uint) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(uint64(id), 10)
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// isUndefined reports SQLSTATE 42883 (undefined_function) and 42704 (undefined_object,
// e.g. the vector type when the extension is missing).
func isUndefined(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "42883" || pgErr.Code == "42704"
}
