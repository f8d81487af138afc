package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidURL marks a URL that cannot be crawled.
	ErrInvalidURL = errors.New("invalid url")
	// ErrJobNotFound is returned by job stores for unknown IDs.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobExists is returned by job stores when a job ID is reused.
	ErrJobExists = errors.New("job already exists")
	// ErrQueueClosed is returned by job queues after shutdown.
	ErrQueueClosed = errors.New("queue closed")
	// ErrRendererDisabled is returned by renderers that were turned off.
	ErrRendererDisabled = errors.New("renderer disabled")
)

// FetchError reports a failed fetch. StatusCode is zero for transport errors.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// StatusCodeOf returns the HTTP status carried by a FetchError in err's chain.
func StatusCodeOf(err error) int {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.StatusCode
	}
	return 0
}
