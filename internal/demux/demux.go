// Package demux defines the generic Demuxer interface, its shared
// reading primitives, the error/recovery dispatch base, and the
// format Registry. Concrete container families live in the chunk,
// ogg, and isobmff subpackages.
package demux

import (
	"github.com/segin/psymp3-demux/internal/media"
)

// Demuxer is the uniform operation surface every concrete container
// parser implements.
type Demuxer interface {
	// ParseContainer reads and validates structural headers and
	// enumerates streams. It is idempotent-error after the first call:
	// a second call returns a KindValidation error.
	ParseContainer() error

	// Streams returns the enumerated streams. Valid only after a
	// successful ParseContainer.
	Streams() []media.StreamInfo

	// StreamInfo looks up a single stream by id.
	StreamInfo(id uint32) (media.StreamInfo, bool)

	// ReadChunk returns the next chunk from any stream in
	// container-defined interleave order. An empty, non-nil chunk
	// signals EOF.
	ReadChunk() (*media.MediaChunk, error)

	// ReadChunkFrom returns the next chunk from a specific stream,
	// buffering chunks from other streams internally while searching.
	ReadChunkFrom(streamID uint32) (*media.MediaChunk, error)

	// SeekTo positions the demuxer so the next ReadChunk/ReadChunkFrom
	// yields the earliest chunk with timestamp >= ms, clamped to
	// duration.
	SeekTo(ms int64) error

	IsEOF() bool
	DurationMs() int64
	PositionMs() int64

	// Granule returns the stream's most recently observed granule
	// position (page-oriented containers only; 0 elsewhere).
	Granule(streamID uint32) uint64

	LastError() *media.Error

	// ErrorStats exposes the accumulated recovery-action counts by
	// category.
	ErrorStats() map[media.ErrorKind]int

	Close() error
}
