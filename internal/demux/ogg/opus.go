package ogg

import "github.com/segin/psymp3-demux/internal/media"

// opusPlaybackRate is RFC 7845 §2's fixed post-decode sample rate:
// Opus always plays back at 48 kHz regardless of the informational
// input sample rate carried in the identification header.
const opusPlaybackRate = 48000

// parseOpusIdentification parses the OpusHead packet (RFC 7845 §5.1):
// version, channel count, pre-skip, input sample rate (informational),
// output gain, channel mapping family.
func (s *logicalStream) parseOpusIdentification(data []byte) error {
	// "OpusHead"(8) + version(1) + channels(1) + preskip(2) + rate(4) +
	// gain(2) + mapping family(1) = 19
	if len(data) < 19 {
		return media.NewError(media.KindFormat, "opus identification header too short")
	}
	body := data[8:]
	version := body[0]
	if version&0xF0 != 0 {
		// RFC 7845: major version bump (upper nibble) is incompatible.
		return media.NewError(media.KindUnsupported, "unsupported opus header major version")
	}
	channels := body[1]
	preSkip := le16(body[2:4])
	inputRate := le32(body[4:8])
	gain := int16(le16(body[8:10]))
	mappingFamily := body[10]

	_ = inputRate // informational only; playback rate is fixed at 48kHz
	_ = mappingFamily

	s.params = codecParams{
		sampleRate: opusPlaybackRate,
		channels:   uint16(channels),
		preSkip:    preSkip,
		outputGain: gain,
	}
	return nil
}
