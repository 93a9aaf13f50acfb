package vectorindex

import (
	"context"
	"errors"
	"fmt"
)

// ErrNativeUnavailable marks a primary-path failure that should route the query to the
// in-process fallback instead of failing it.
var ErrNativeUnavailable = errors.New("native vector search unavailable")

// StoreError reports a persistence failure with the document and row count involved.
type StoreError struct {
	Op         string
	DocumentID uint
	Rows       int
	Err        error
}

func (e *StoreError) Error() string {
	if e.Op == "search" {
		return fmt.Sprintf("vector %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("vector %s failed (document_id=%d, rows=%d): %v", e.Op, e.DocumentID, e.Rows, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}
