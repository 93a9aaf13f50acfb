package embedding

import (
	"context"
	"errors"
	"fmt"
)

// ErrEmptyText is wrapped by a GenerationError when an input text is blank.
var ErrEmptyText = errors.New("embedding input is empty")

// GenerationError reports a failed embedding request together with the size of the
// input that failed, so the failure can be diagnosed without replaying the request.
type GenerationError struct {
	Op         string
	Count      int
	TextLength int
	Err        error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("embedding %s failed (texts=%d, text_length=%d): %v", e.Op, e.Count, e.TextLength, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Timeout reports whether the request failed because a deadline expired. Such failures
// are worth retrying; the generator itself never retries.
func (e *GenerationError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(e.Err, &t) && t.Timeout()
}
