package crawl

import (
	"errors"
	"fmt"
)

// ErrRateLimited is returned when a caller's deadline elapses while waiting
// for an outbound-request token.
var ErrRateLimited = errors.New("rate limit exceeded")

// FetchError reports a failed page fetch after retries were exhausted (or the
// failure was not retryable).
type FetchError struct {
	URL        string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: status %d after %d attempt(s)", e.URL, e.StatusCode, e.Attempts)
	}
	return fmt.Sprintf("fetch %s: %v after %d attempt(s)", e.URL, e.Err, e.Attempts)
}

func (e *FetchError) Unwrap() error { return e.Err }

// NotFound reports whether the remote resource does not exist.
func (e *FetchError) NotFound() bool { return e.StatusCode == 404 }

// StructureMismatch reports that an expected landmark was absent from the
// page markup. It signals a remote layout change, not missing data, and its
// results must never be cached.
type StructureMismatch struct {
	Kind     PageKind
	Landmark string
}

func (e *StructureMismatch) Error() string {
	return fmt.Sprintf("%s page structure mismatch: landmark %q not found", e.Kind, e.Landmark)
}
