package ogg

import (
	"bytes"

	"github.com/segin/psymp3-demux/internal/media"
)

var (
	vorbisMagic = []byte("vorbis")
	opusHead    = []byte("OpusHead")
	opusTags    = []byte("OpusTags")
	flacMagic   = []byte("FLAC")   // preceded by 0x7F
	flacNative  = []byte("fLaC")   // native FLAC signature inside the packet
)

// identifyCodec inspects a logical stream's first packet and returns
// one of "vorbis", "opus", "flac" by matching its identification
// prefix.
func identifyCodec(data []byte) (string, error) {
	if len(data) >= 7 && data[0] == 0x01 && bytes.Equal(data[1:7], vorbisMagic) {
		return "vorbis", nil
	}
	if len(data) >= 8 && bytes.Equal(data[:8], opusHead) {
		return "opus", nil
	}
	if len(data) >= 5 && data[0] == 0x7F && bytes.Equal(data[1:5], flacMagic) {
		return "flac", nil
	}
	return "", media.NewError(media.KindUnsupported, "unrecognised ogg codec identification packet")
}

// parseIdentification dispatches to the per-codec identification
// header parser selected by s.codec.
func (s *logicalStream) parseIdentification(data []byte) error {
	switch s.codec {
	case "vorbis":
		return s.parseVorbisIdentification(data)
	case "opus":
		return s.parseOpusIdentification(data)
	case "flac":
		return s.parseFLACIdentification(data)
	}
	return media.NewError(media.KindUnsupported, "no identification parser for codec")
}

// parseComments dispatches Vorbis- and Opus-style comment packets,
// which share the same wire layout (vendor string + count-prefixed
// "KEY=VALUE" pairs) differing only in their magic prefix. Ogg-FLAC
// has no second header packet in this module's scope (requiredHeaderPackets
// returns 1), so it never reaches this path.
func (s *logicalStream) parseComments(data []byte) error {
	switch s.codec {
	case "vorbis":
		if len(data) < 7 || data[0] != 0x03 || !bytes.Equal(data[1:7], vorbisMagic) {
			return media.NewError(media.KindFormat, "malformed vorbis comment header")
		}
		return s.parseCommentBody(data[7:])
	case "opus":
		if len(data) < 8 || !bytes.Equal(data[:8], opusTags) {
			return media.NewError(media.KindFormat, "malformed opus comment header")
		}
		return s.parseCommentBody(data[8:])
	}
	return nil
}

// parseCommentBody reads the vendor string and user-comment list
// shared by Vorbis comment headers and OpusTags, surfacing ARTIST,
// TITLE, and ALBUM.
func (s *logicalStream) parseCommentBody(body []byte) error {
	if len(body) < 4 {
		return media.NewError(media.KindFormat, "comment header truncated before vendor length")
	}
	vendorLen := le32(body)
	body = body[4:]
	if uint32(len(body)) < vendorLen {
		return media.NewError(media.KindFormat, "comment header truncated vendor string")
	}
	body = body[vendorLen:]

	if len(body) < 4 {
		return media.NewError(media.KindFormat, "comment header truncated before comment count")
	}
	count := le32(body)
	body = body[4:]

	for i := uint32(0); i < count; i++ {
		if len(body) < 4 {
			break
		}
		l := le32(body)
		body = body[4:]
		if uint32(len(body)) < l {
			break
		}
		entry := string(body[:l])
		body = body[l:]
		s.applyComment(entry)
	}
	return nil
}

func (s *logicalStream) applyComment(kv string) {
	eq := bytes.IndexByte([]byte(kv), '=')
	if eq < 0 {
		return
	}
	key, val := kv[:eq], kv[eq+1:]
	switch upperASCII(key) {
	case "ARTIST":
		s.artist = val
	case "TITLE":
		s.title = val
	case "ALBUM":
		s.album = val
	}
}

func upperASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func le16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}
