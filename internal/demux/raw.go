package demux

import (
	"github.com/segin/psymp3-demux/internal/iohandler"
	"github.com/segin/psymp3-demux/internal/media"
)

// rawReadSize is the read granularity for the generic fallback demuxer.
const rawReadSize = 64 * 1024

// rawStreamID is the single stream id every RawDemuxer exposes.
const rawStreamID = 1

// RawDemuxer is the Registry's final fallback (spec.md §4.D step 3):
// when neither signature probing nor an extension hint identifies a
// format, Create hands back one of these instead of failing. It
// exposes the whole source as a single untimed, unstructured stream,
// mirroring the original source's treatment of raw PCM payloads that
// carry no container framing of their own.
type RawDemuxer struct {
	Base

	src iohandler.ByteSource
	pos int64
}

// NewRaw constructs an unparsed RawDemuxer bound to src.
func NewRaw(src iohandler.ByteSource) Demuxer {
	return &RawDemuxer{Base: NewBase(), src: src}
}

// ParseContainer records the single opaque stream; there is no
// structure to validate.
func (d *RawDemuxer) ParseContainer() error {
	if d.IsParsed() {
		return media.NewError(media.KindValidation, "container already parsed")
	}
	d.SetStreams([]media.StreamInfo{{
		StreamID:  rawStreamID,
		CodecType: "audio",
		CodecName: "raw",
	}})
	d.SetParsed(true)
	return nil
}

// ReadChunk reads the next window of the single stream.
func (d *RawDemuxer) ReadChunk() (*media.MediaChunk, error) {
	return d.ReadChunkFrom(rawStreamID)
}

// ReadChunkFrom is identical to ReadChunk for rawStreamID; every
// other stream id fails validation.
func (d *RawDemuxer) ReadChunkFrom(streamID uint32) (*media.MediaChunk, error) {
	if !d.IsParsed() {
		return nil, media.NewError(media.KindValidation, "container not parsed")
	}
	if streamID != rawStreamID {
		return nil, media.NewError(media.KindValidation, "unknown stream id")
	}

	mc := media.NewMediaChunk(media.Pool, streamID, rawReadSize)
	mc.Data = mc.Data[:rawReadSize]
	n, err := d.src.Read(mc.Data)
	if err != nil {
		mc.Release()
		return nil, media.Wrap(media.KindIO, "raw read failed", d.pos, media.RecoveryNone, err)
	}
	if n == 0 {
		mc.Release()
		d.SetEOF(true)
		return media.NewMediaChunk(media.Pool, streamID, 0), nil
	}

	mc.Data = mc.Data[:n]
	mc.FileOffset = d.pos
	mc.IsKeyframe = true
	d.pos += int64(n)
	d.UpdateStreamPosition(streamID, 0)

	return mc, nil
}

// SeekTo only supports returning to the start: a raw stream carries no
// timing model to resolve an arbitrary millisecond target against.
func (d *RawDemuxer) SeekTo(ms int64) error {
	if ms != 0 {
		return media.NewError(media.KindUnsupported, "raw fallback stream has no timing model to seek against")
	}
	if err := d.src.Seek(0, iohandler.OriginStart); err != nil {
		return media.Wrap(media.KindIO, "seek failed", 0, media.RecoveryNone, err)
	}
	d.pos = 0
	d.SetEOF(false)
	d.UpdatePosition(0)
	return nil
}

// Granule is not meaningful for the raw fallback.
func (d *RawDemuxer) Granule(streamID uint32) uint64 { return 0 }

func (d *RawDemuxer) Close() error {
	return d.src.Close()
}
