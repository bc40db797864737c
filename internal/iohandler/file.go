package iohandler

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"sync"
	"sync/atomic"

	"github.com/segin/psymp3-demux/internal/media"
)

// FileSource is the local-file ByteSource backend. It supports 64-bit
// offsets and maps OS error classes into the media error taxonomy.
type FileSource struct {
	mu     sync.Mutex
	file   *os.File
	size   int64
	closed atomic.Bool
	lastErr atomic.Pointer[media.Error]
}

// OpenFile opens path for reading and establishes its size up front.
func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, classifyFileErr(err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, classifyFileErr(err)
	}
	return &FileSource{file: f, size: info.Size()}, nil
}

func classifyFileErr(err error) *media.Error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return media.Wrap(media.KindIO, "file not found", -1, media.RecoveryNone, err)
	case errors.Is(err, fs.ErrPermission):
		return media.Wrap(media.KindIO, "permission denied", -1, media.RecoveryNone, err)
	default:
		return media.Wrap(media.KindIO, "file i/o error", -1, media.RecoveryNone, err)
	}
}

func (f *FileSource) setErr(e *media.Error) *media.Error {
	f.lastErr.Store(e)
	return e
}

// Read implements ByteSource.
func (f *FileSource) Read(p []byte) (int, error) {
	if f.closed.Load() {
		return 0, f.setErr(media.NewError(media.KindClosed, "read on closed file source"))
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	n, err := f.file.Read(p)
	if err != nil && err != io.EOF {
		return n, f.setErr(media.Wrap(media.KindIO, "file read failed", -1, media.RecoveryNone, err))
	}
	return n, nil
}

// Seek implements ByteSource.
func (f *FileSource) Seek(offset int64, origin Origin) error {
	if f.closed.Load() {
		return f.setErr(media.NewError(media.KindClosed, "seek on closed file source"))
	}

	var whence int
	switch origin {
	case OriginStart:
		whence = io.SeekStart
		if offset < 0 {
			return f.setErr(media.NewError(media.KindValidation, "negative absolute seek offset"))
		}
	case OriginCurrent:
		whence = io.SeekCurrent
	case OriginEnd:
		whence = io.SeekEnd
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if origin != OriginStart {
		base := f.size
		if origin == OriginCurrent {
			cur, err := f.file.Seek(0, io.SeekCurrent)
			if err != nil {
				return f.setErr(media.Wrap(media.KindIO, "file tell failed", -1, media.RecoveryNone, err))
			}
			base = cur
		}
		if base+offset < 0 {
			return f.setErr(media.NewError(media.KindValidation, "negative absolute seek offset"))
		}
	}
	if _, err := f.file.Seek(offset, whence); err != nil {
		return f.setErr(media.Wrap(media.KindIO, "file seek failed", offset, media.RecoveryNone, err))
	}
	return nil
}

// Tell implements ByteSource.
func (f *FileSource) Tell() (int64, error) {
	if f.closed.Load() {
		return -1, f.setErr(media.NewError(media.KindClosed, "tell on closed file source"))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	pos, err := f.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return -1, f.setErr(media.Wrap(media.KindIO, "file tell failed", -1, media.RecoveryNone, err))
	}
	return pos, nil
}

// Size implements ByteSource.
func (f *FileSource) Size() (int64, bool) {
	return f.size, true
}

// Close implements ByteSource. Idempotent.
func (f *FileSource) Close() error {
	if f.closed.Swap(true) {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.file.Close(); err != nil {
		return f.setErr(media.Wrap(media.KindIO, "file close failed", -1, media.RecoveryNone, err))
	}
	return nil
}

// LastError implements ByteSource.
func (f *FileSource) LastError() *media.Error {
	return f.lastErr.Load()
}
