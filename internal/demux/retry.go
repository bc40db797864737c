package demux

import (
	"time"

	"github.com/segin/psymp3-demux/pkg/httpclient"
)

// WithRetry retries fn with exponential backoff, reusing
// pkg/httpclient's DefaultRetryDelay/DefaultBackoffMultiplier constants
// rather than re-deriving new ones. Generalized to any transient
// ByteSource operation, not only the HTTP backend's own retry loop.
func WithRetry(attempts int, fn func() error) error {
	if attempts <= 0 {
		attempts = httpclient.DefaultRetryAttempts
	}

	delay := httpclient.DefaultRetryDelay
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := fn(); err != nil {
			lastErr = err
			if i < attempts-1 {
				time.Sleep(delay)
				delay = time.Duration(float64(delay) * httpclient.DefaultBackoffMultiplier)
				if delay > httpclient.DefaultRetryMaxDelay {
					delay = httpclient.DefaultRetryMaxDelay
				}
			}
			continue
		}
		return nil
	}
	return lastErr
}
