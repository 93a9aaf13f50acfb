package app

import (
	"context"
	"errors"
)

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrDocumentBusy  = errors.New("document is being ingested by another run")
	ErrAsyncDisabled = errors.New("asynchronous ingestion is not configured")
	ErrRunNotFound   = errors.New("ingestion run not found")
)

// IsRetryable reports whether err came from an expired deadline, either ours or the
// embedding provider's.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
