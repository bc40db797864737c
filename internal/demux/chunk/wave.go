package chunk

import (
	"github.com/segin/psymp3-demux/internal/iohandler"
	"github.com/segin/psymp3-demux/internal/media"
)

// parseWaveFormat handles the WAV "fmt " chunk: format tag, channels,
// sample rate, byte rate, block align, bits per sample, and the
// optional extension bytes — including the WAVE_FORMAT_EXTENSIBLE
// sub-format GUID, a feature only implicitly named by the governing
// specification and implemented here in full.
func (d *Demuxer) parseWaveFormat(h header) {
	tag, err := d.r.ReadU16LE()
	if err != nil {
		return
	}
	channels, err := d.r.ReadU16LE()
	if err != nil {
		return
	}
	sampleRate, err := d.r.ReadU32LE()
	if err != nil {
		return
	}
	byteRate, err := d.r.ReadU32LE()
	if err != nil {
		return
	}
	blockAlign, err := d.r.ReadU16LE()
	if err != nil {
		return
	}
	bitsPerSample, err := d.r.ReadU16LE()
	if err != nil {
		return
	}

	d.stream.formatTag = tag
	d.stream.channels = channels
	d.stream.sampleRate = sampleRate
	d.stream.avgBytesPerSec = byteRate
	d.stream.blockAlign = blockAlign
	d.stream.bitsPerSample = bitsPerSample
	d.stream.bytesPerFrame = uint32(blockAlign)
	d.haveStream = true

	consumed := int64(16)
	if int64(h.Size) <= consumed {
		return
	}

	cbSize, err := d.r.ReadU16LE()
	if err != nil {
		return
	}
	consumed += 2
	if cbSize == 0 {
		return
	}

	extra := make([]byte, cbSize)
	if err := d.r.ReadFull(extra); err != nil {
		return
	}
	d.stream.extraData = extra

	if tag == waveFormatExtensible && len(extra) >= 22 {
		subFormatCode := uint16(extra[6]) | uint16(extra[7])<<8
		d.stream.formatTag = subFormatCode
	}
}

// parseWaveData records the audio payload window; the data chunk's
// header offset/size are authoritative regardless of earlier fmt
// parsing order. The declared size is clamped to the container's own
// declared end, same as clampChunkSize applies to leaf chunks in
// general: a data chunk claiming more bytes than the form payload
// actually holds is trailing junk beyond formEnd, not real audio.
func (d *Demuxer) parseWaveData(h header) {
	d.stream.dataOffset = h.DataOffset
	clamped := d.clampToFormEnd(h.DataOffset, int64(h.Size))
	if clamped < int64(h.Size) {
		d.ReportError(d, media.NewErrorAt(media.KindFormat, "data chunk size exceeds container payload, clamping", h.DataOffset, media.RecoveryNone))
	}
	d.stream.dataSize = clamped
	d.stream.currentOffset = h.DataOffset
	d.haveStream = true
}

// parseWaveFact records total sample frames; authoritative for
// non-PCM formats where block-align-based frame counts are wrong.
func (d *Demuxer) parseWaveFact(h header) {
	if h.Size < 4 {
		return
	}
	total, err := d.r.ReadU32LE()
	if err != nil {
		return
	}
	d.stream.totalSamples = total
	d.stream.hasFact = true
}

// parseList descends into a LIST chunk; only LIST-INFO is understood.
func (d *Demuxer) parseList(h header) {
	listTypeBytes, err := d.r.ReadFourCC()
	if err != nil {
		return
	}
	if fourcc(listTypeBytes) != infoFourCC {
		return
	}

	end := h.DataOffset + int64(h.Size)
	for {
		pos, err := d.r.Src.Tell()
		if err != nil || pos >= end {
			return
		}
		sub, err := readHeader(d.r, d.bigEndian)
		if err != nil {
			return
		}
		switch sub.FourCC {
		case inamFourCC:
			d.stream.title = d.readMetadataString(sub)
		case iartFourCC:
			d.stream.artist = d.readMetadataString(sub)
		case iprdFourCC:
			d.stream.album = d.readMetadataString(sub)
		}
		next := sub.DataOffset + int64(sub.Size)
		if sub.Size%2 == 1 {
			next++
		}
		if next <= pos || next > end {
			return
		}
		if err := d.r.Src.Seek(next, iohandler.OriginStart); err != nil {
			return
		}
	}
}

// formatTagToCodecName maps a WAVE format tag (or a WAVE_FORMAT_EXTENSIBLE
// resolved sub-format code) to a codec name.
func formatTagToCodecName(tag uint16, bitsPerSample uint16) string {
	switch tag {
	case waveFormatPCM:
		switch bitsPerSample {
		case 8:
			return "pcm_u8"
		case 24:
			return "pcm_s24le"
		case 32:
			return "pcm_s32le"
		default:
			return "pcm_s16le"
		}
	case waveFormatIEEEFloat:
		if bitsPerSample == 64 {
			return "pcm_f64le"
		}
		return "pcm_f32le"
	case waveFormatALaw:
		return "pcm_alaw"
	case waveFormatMULaw:
		return "pcm_mulaw"
	case waveFormatMPEGLayer3:
		return "mp3"
	default:
		return "unknown"
	}
}
