package chunk

import (
	"github.com/segin/psymp3-demux/internal/iohandler"
	"github.com/segin/psymp3-demux/internal/media"
)

// targetChunkMs is the nominal MediaChunk duration: roughly 100 ms of
// audio per chunk.
const targetChunkMs = 100

func (d *Demuxer) chunkByteSize() int64 {
	if d.stream.bytesPerFrame == 0 || d.stream.sampleRate == 0 {
		return 4096
	}
	frames := int64(d.stream.sampleRate) * targetChunkMs / 1000
	size := frames * int64(d.stream.bytesPerFrame)
	if size <= 0 {
		size = int64(d.stream.bytesPerFrame)
	}
	return size
}

// ReadChunk yields the next window of the single audio stream; there
// is only ever one stream in a chunk-tagged container, so ReadChunk
// and ReadChunkFrom share the same underlying cursor.
func (d *Demuxer) ReadChunk() (*media.MediaChunk, error) {
	return d.ReadChunkFrom(d.stream.streamID)
}

func (d *Demuxer) ReadChunkFrom(streamID uint32) (*media.MediaChunk, error) {
	if !d.IsParsed() {
		return nil, media.NewError(media.KindValidation, "container not parsed")
	}
	if streamID != d.stream.streamID {
		return nil, media.NewError(media.KindValidation, "unknown stream id")
	}

	streamEnd := d.stream.dataOffset + d.stream.dataSize
	if d.stream.currentOffset >= streamEnd {
		d.SetEOF(true)
		return media.NewMediaChunk(media.Pool, streamID, 0), nil
	}

	want := d.chunkByteSize()
	remaining := streamEnd - d.stream.currentOffset
	if want > remaining {
		want = remaining
	}

	if err := d.r.Src.Seek(d.stream.currentOffset, iohandler.OriginStart); err != nil {
		return nil, media.Wrap(media.KindIO, "seek failed", d.stream.currentOffset, media.RecoveryNone, err)
	}

	mc := media.NewMediaChunk(media.Pool, streamID, int(want))
	mc.Data = mc.Data[:want]
	if err := d.r.ReadFull(mc.Data); err != nil {
		mc.Release()
		return nil, media.Wrap(media.KindIO, "chunk read failed", d.stream.currentOffset, media.RecoverySkipSection, err)
	}

	frameOffset := (d.stream.currentOffset - d.stream.dataOffset) / int64(d.stream.bytesPerFrame)
	mc.FileOffset = d.stream.currentOffset
	mc.TimestampSample = frameOffset
	if d.stream.sampleRate > 0 {
		mc.TimestampMs = frameOffset * 1000 / int64(d.stream.sampleRate)
	}
	mc.IsKeyframe = true

	d.stream.currentOffset += want
	d.UpdatePosition(mc.TimestampMs)
	d.UpdateStreamPosition(streamID, mc.TimestampMs)

	return mc, nil
}

// SeekTo is sample-accurate for uncompressed PCM: target_ms maps
// directly to a byte offset via the frame size. Every format tag uses
// this same block-aligned arithmetic; embedded compressed codecs
// (MP3-in-WAV) are not scanned for a codec frame boundary.
func (d *Demuxer) SeekTo(ms int64) error {
	if !d.IsParsed() {
		return media.NewError(media.KindValidation, "container not parsed")
	}
	if ms < 0 {
		ms = 0
	}
	if d.DurationMs() > 0 && ms > d.DurationMs() {
		ms = d.DurationMs()
	}

	if d.stream.sampleRate == 0 || d.stream.bytesPerFrame == 0 {
		return media.NewError(media.KindUnsupported, "stream has no frame geometry to seek against")
	}

	targetFrame := ms * int64(d.stream.sampleRate) / 1000
	targetByte := d.stream.dataOffset + targetFrame*int64(d.stream.bytesPerFrame)

	streamEnd := d.stream.dataOffset + d.stream.dataSize
	if targetByte > streamEnd {
		targetByte = streamEnd
	}
	if targetByte < d.stream.dataOffset {
		targetByte = d.stream.dataOffset
	}

	d.stream.currentOffset = targetByte
	d.SetEOF(targetByte >= streamEnd)
	d.UpdatePosition(ms)
	return nil
}
