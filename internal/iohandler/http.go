package iohandler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segin/psymp3-demux/internal/media"
	"github.com/segin/psymp3-demux/pkg/httpclient"
)

// HTTPSource is the range-GET ByteSource backend, built on
// pkg/httpclient's resilient Client for retries,
// circuit breaking, and optional decompression. It performs an initial
// HEAD to establish size; servers that refuse HEAD fall back to a
// one-byte ranged GET (bytes=0-0). Decompression is disabled for range requests
// since a compressed range response cannot be spliced.
type HTTPSource struct {
	mu      sync.Mutex
	rawURL  string
	parsed  *url.URL
	client  *httpclient.Client
	pos     int64
	size    int64
	sizeOK  bool
	timeout time.Duration
	closed  atomic.Bool
	lastErr atomic.Pointer[media.Error]
}

// HTTPSourceOptions configures a new HTTPSource.
type HTTPSourceOptions struct {
	// Timeout is the per-request timeout; zero uses
	// httpclient.DefaultTimeout.
	Timeout time.Duration
	// Pool supplies the host-keyed client pool; nil uses
	// DefaultHostPool.
	Pool *HostPool
}

// OpenHTTP issues the initial probe request and returns a positioned
// ByteSource over rawURL.
func OpenHTTP(ctx context.Context, rawURL string, opts HTTPSourceOptions) (*HTTPSource, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, media.Wrap(media.KindValidation, "invalid URL", -1, media.RecoveryNone, err)
	}

	pool := opts.Pool
	if pool == nil {
		pool = DefaultHostPool
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = httpclient.DefaultTimeout
	}

	cfg := httpclient.DefaultConfig()
	cfg.Timeout = timeout
	cfg.EnableDecompression = false

	client := pool.ClientFor(u, cfg)

	s := &HTTPSource{rawURL: rawURL, parsed: u, client: client, timeout: timeout}
	size, ok, err := s.probeSize(ctx)
	if err != nil {
		return nil, err
	}
	s.size, s.sizeOK = size, ok
	return s, nil
}

func (s *HTTPSource) probeSize(ctx context.Context) (int64, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.rawURL, nil)
	if err != nil {
		return 0, false, media.Wrap(media.KindIO, "building HEAD request", -1, media.RecoveryNone, err)
	}

	resp, err := s.client.DoWithContext(ctx, req)
	if err == nil {
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusOK && resp.ContentLength >= 0 {
			return resp.ContentLength, true, nil
		}
	}

	// Server refused HEAD (405/501) or gave no length: fall back to a
	// one-byte ranged GET to read Content-Range and detect range
	// support via a 206 response.
	req, err = http.NewRequestWithContext(ctx, http.MethodGet, s.rawURL, nil)
	if err != nil {
		return 0, false, media.Wrap(media.KindIO, "building probe GET request", -1, media.RecoveryNone, err)
	}
	req.Header.Set("Range", "bytes=0-0")

	resp, err = s.client.DoWithContext(ctx, req)
	if err != nil {
		return 0, false, s.classify(err, 0)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusPartialContent {
		if total, ok := parseContentRangeTotal(resp.Header.Get("Content-Range")); ok {
			return total, true, nil
		}
	}
	// Unknown size: streaming source.
	return 0, false, nil
}

func parseContentRangeTotal(v string) (int64, bool) {
	if v == "" {
		return 0, false
	}
	var start, end, total int64
	n, err := fmt.Sscanf(v, "bytes %d-%d/%d", &start, &end, &total)
	if err != nil || n != 3 {
		return 0, false
	}
	return total, true
}

func (s *HTTPSource) classify(err error, offset int64) *media.Error {
	return media.Wrap(media.KindIO, "http request failed", offset, media.RecoverySkipSection, err)
}

func (s *HTTPSource) setErr(e *media.Error) *media.Error {
	s.lastErr.Store(e)
	return e
}

// Read issues a ranged GET for [pos, pos+len(p)) and copies the
// response body into p.
func (s *HTTPSource) Read(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, s.setErr(media.NewError(media.KindClosed, "read on closed http source"))
	}
	if len(p) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	pos := s.pos
	s.mu.Unlock()

	if s.sizeOK && pos >= s.size {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.rawURL, nil)
	if err != nil {
		return 0, s.setErr(media.Wrap(media.KindIO, "building GET request", pos, media.RecoveryNone, err))
	}
	end := pos + int64(len(p)) - 1
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", pos, end))

	resp, err := s.client.DoWithContext(ctx, req)
	if err != nil {
		return 0, s.setErr(s.classify(err, pos))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return 0, s.setErr(media.NewErrorAt(media.KindUnsupported,
				fmt.Sprintf("server returned %d for range request", resp.StatusCode), pos, media.RecoveryNone))
		}
		return 0, s.setErr(media.NewErrorAt(media.KindIO,
			fmt.Sprintf("unexpected status %d", resp.StatusCode), pos, media.RecoverySkipSection))
	}

	n, err := io.ReadFull(resp.Body, p)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return n, s.setErr(media.Wrap(media.KindIO, "reading response body", pos, media.RecoveryNone, err))
	}

	s.mu.Lock()
	s.pos += int64(n)
	s.mu.Unlock()
	return n, nil
}

// Seek implements ByteSource; it only adjusts the logical cursor, since
// positioning is realized by the next Read's Range header.
func (s *HTTPSource) Seek(offset int64, origin Origin) error {
	if s.closed.Load() {
		return s.setErr(media.NewError(media.KindClosed, "seek on closed http source"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var newPos int64
	switch origin {
	case OriginStart:
		newPos = offset
	case OriginCurrent:
		newPos = s.pos + offset
	case OriginEnd:
		if !s.sizeOK {
			return s.setErr(media.NewError(media.KindUnsupported, "seek from end on unknown-size http source"))
		}
		newPos = s.size + offset
	}
	if newPos < 0 {
		return s.setErr(media.NewError(media.KindValidation, "negative absolute seek offset"))
	}
	s.pos = newPos
	return nil
}

// Tell implements ByteSource.
func (s *HTTPSource) Tell() (int64, error) {
	if s.closed.Load() {
		return -1, s.setErr(media.NewError(media.KindClosed, "tell on closed http source"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos, nil
}

// Size implements ByteSource.
func (s *HTTPSource) Size() (int64, bool) {
	return s.size, s.sizeOK
}

// Close implements ByteSource. Idempotent; does not close the pooled
// client, which is shared across sources for the same host.
func (s *HTTPSource) Close() error {
	s.closed.Store(true)
	return nil
}

// LastError implements ByteSource.
func (s *HTTPSource) LastError() *media.Error {
	return s.lastErr.Load()
}
