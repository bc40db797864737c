package ogg

import "github.com/segin/psymp3-demux/internal/media"

// parseVorbisIdentification parses the Vorbis I identification header
// packet (packet type 1), per Vorbis I spec §4.2.2: version, channels,
// sample rate, max/nominal/min bitrate, blocksize byte, framing bit.
func (s *logicalStream) parseVorbisIdentification(data []byte) error {
	// 1 (type) + 6 ("vorbis") + 4 (version) + 1 (channels) +
	// 4 (sample rate) + 4*3 (bitrates) + 1 (blocksize) + 1 (framing) = 30
	if len(data) < 30 {
		return media.NewError(media.KindFormat, "vorbis identification header too short")
	}
	body := data[7:]

	version := le32(body)
	if version != 0 {
		return media.NewError(media.KindUnsupported, "unsupported vorbis header version")
	}
	channels := body[4]
	sampleRate := le32(body[5:9])
	bitrateMax := int32(le32(body[9:13]))
	bitrateNom := int32(le32(body[13:17]))
	bitrateMin := int32(le32(body[17:21]))
	// body[21] is the packed blocksize_0/blocksize_1 byte, unused here.
	framing := body[22]
	if framing&0x01 == 0 {
		return media.NewError(media.KindFormat, "vorbis identification header missing framing bit")
	}

	s.params = codecParams{
		sampleRate: sampleRate,
		channels:   uint16(channels),
		bitrateMax: bitrateMax,
		bitrateNom: bitrateNom,
		bitrateMin: bitrateMin,
	}
	return nil
}
