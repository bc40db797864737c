// Package iohandler implements the ByteSource abstraction: a seekable,
// readable byte channel with file, HTTP range-GET, and in-memory
// backends, shared by every demuxer.
package iohandler

import (
	"github.com/segin/psymp3-demux/internal/media"
)

// Origin names the reference point for Seek: the start/cur/end trio.
type Origin int

const (
	// OriginStart seeks relative to byte 0.
	OriginStart Origin = iota
	// OriginCurrent seeks relative to the current position.
	OriginCurrent
	// OriginEnd seeks relative to the end of the source.
	OriginEnd
)

// ByteSource abstracts a seekable or streaming source of bytes. Offsets
// are 64-bit signed. Positions are monotonic under Read; Seek beyond
// EOF is permitted, and a subsequent Read at that point returns zero
// bytes with no error.
//
// Implementations must be safe for sequential use by one caller at a
// time; concurrent calls on the same instance are not required to be
// safe.
type ByteSource interface {
	// Read behaves like io.Reader: it returns 0, nil at EOF, and
	// partial reads are permitted.
	Read(p []byte) (n int, err error)

	// Seek repositions the source. It fails with a *media.Error of
	// kind KindValidation on a negative absolute position.
	Seek(offset int64, origin Origin) error

	// Tell returns the current offset, or -1 if the source is closed.
	Tell() (int64, error)

	// Size returns the total byte length and whether it is known. HTTP
	// sources serving a streaming response without Content-Length may
	// report false.
	Size() (int64, bool)

	// Close is idempotent; operations after Close fail with
	// media.KindClosed.
	Close() error

	// LastError returns the most recent error recorded by this source,
	// or nil.
	LastError() *media.Error
}
