package iohandler

import (
	"bytes"
	"io"
	"sync"
	"sync/atomic"

	"github.com/segin/psymp3-demux/internal/media"
)

// MemSource is an in-memory ByteSource, used by tests and by callers
// embedding already-fetched bytes (e.g. a small probe buffer).
type MemSource struct {
	mu      sync.Mutex
	r       *bytes.Reader
	closed  atomic.Bool
	lastErr atomic.Pointer[media.Error]
}

// NewMemSource wraps data for reading without copying it.
func NewMemSource(data []byte) *MemSource {
	return &MemSource{r: bytes.NewReader(data)}
}

func (m *MemSource) setErr(e *media.Error) *media.Error {
	m.lastErr.Store(e)
	return e
}

// Read implements ByteSource.
func (m *MemSource) Read(p []byte) (int, error) {
	if m.closed.Load() {
		return 0, m.setErr(media.NewError(media.KindClosed, "read on closed mem source"))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n, err := m.r.Read(p)
	if err != nil && err != io.EOF {
		return n, m.setErr(media.Wrap(media.KindIO, "mem read failed", -1, media.RecoveryNone, err))
	}
	return n, nil
}

// Seek implements ByteSource.
func (m *MemSource) Seek(offset int64, origin Origin) error {
	if m.closed.Load() {
		return m.setErr(media.NewError(media.KindClosed, "seek on closed mem source"))
	}
	var whence int
	switch origin {
	case OriginStart:
		whence = io.SeekStart
		if offset < 0 {
			return m.setErr(media.NewError(media.KindValidation, "negative absolute seek offset"))
		}
	case OriginCurrent:
		whence = io.SeekCurrent
	case OriginEnd:
		whence = io.SeekEnd
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if origin != OriginStart {
		base := m.r.Size()
		if origin == OriginCurrent {
			base, _ = m.r.Seek(0, io.SeekCurrent)
		}
		if base+offset < 0 {
			return m.setErr(media.NewError(media.KindValidation, "negative absolute seek offset"))
		}
	}
	if _, err := m.r.Seek(offset, whence); err != nil {
		return m.setErr(media.Wrap(media.KindIO, "mem seek failed", offset, media.RecoveryNone, err))
	}
	return nil
}

// Tell implements ByteSource.
func (m *MemSource) Tell() (int64, error) {
	if m.closed.Load() {
		return -1, m.setErr(media.NewError(media.KindClosed, "tell on closed mem source"))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.r.Seek(0, io.SeekCurrent)
}

// Size implements ByteSource.
func (m *MemSource) Size() (int64, bool) {
	return m.r.Size(), true
}

// Close implements ByteSource.
func (m *MemSource) Close() error {
	m.closed.Store(true)
	return nil
}

// LastError implements ByteSource.
func (m *MemSource) LastError() *media.Error {
	return m.lastErr.Load()
}
